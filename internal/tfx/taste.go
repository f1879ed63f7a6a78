package tfx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/eugenenazirov/pipeline-recipes/internal/metadata"
	"github.com/eugenenazirov/pipeline-recipes/internal/shell"
)

var (
	// ErrMissingSetting is returned when a required metadata setting is absent or empty.
	ErrMissingSetting = errors.New("missing pipeline setting")
	// ErrUnsupportedPipelineType is returned for pipeline types that cannot be tasted.
	ErrUnsupportedPipelineType = errors.New("pipeline type not supported")
)

// Pipeline types accepted on the command line.
const (
	TypeTFX   = "tfx"
	TypeZenML = "zenml"
	TypeAuto  = "auto"
)

const requirementsFile = "requirements.txt"

// RunnerFactory returns a runner whose children see env.
type RunnerFactory func(env []string) shell.Runner

// Taster creates or updates a pipeline through the tfx CLI and starts a run.
type Taster struct {
	newRunner RunnerFactory
	resolver  *metadata.Resolver
	logger    *zap.Logger
	binary    string
	pip       string
}

// TasterOption configures a Taster.
type TasterOption func(*Taster)

// WithBinary overrides the tfx executable.
func WithBinary(path string) TasterOption {
	return func(t *Taster) {
		if path != "" {
			t.binary = path
		}
	}
}

// WithPip overrides the pip executable used to install requirements.
func WithPip(path string) TasterOption {
	return func(t *Taster) {
		if path != "" {
			t.pip = path
		}
	}
}

// WithResolver sets the resolver applied to the metadata before planning.
func WithResolver(r *metadata.Resolver) TasterOption {
	return func(t *Taster) {
		if r != nil {
			t.resolver = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) TasterOption {
	return func(t *Taster) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTaster constructs a Taster.
func NewTaster(newRunner RunnerFactory, opts ...TasterOption) *Taster {
	t := &Taster{
		newRunner: newRunner,
		resolver:  metadata.NewResolver(),
		logger:    zap.NewNop(),
		binary:    "tfx",
		pip:       "pip",
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TasteOptions selects what Taste does.
type TasteOptions struct {
	// Type is the pipeline flavour; empty means TypeTFX.
	Type string
	// Update updates an existing pipeline instead of creating it and skips
	// installing requirements.
	Update bool
	// Engine overrides DefaultEngine.
	Engine string
}

// Report describes a completed taste.
type Report struct {
	Plan     Plan
	Pipeline shell.Result
	Run      shell.Result
}

// Taste prepares the project next to metadataPath, then creates (or updates)
// the pipeline and starts a run on the configured endpoint.
func (t *Taster) Taste(ctx context.Context, metadataPath string, opts TasteOptions) (Report, error) {
	switch opts.Type {
	case "", TypeTFX:
	default:
		return Report{}, fmt.Errorf("%w: %s", ErrUnsupportedPipelineType, opts.Type)
	}

	projectDir, err := filepath.Abs(filepath.Dir(metadataPath))
	if err != nil {
		return Report{}, fmt.Errorf("resolve project directory: %w", err)
	}
	runner := t.newRunner(withPath(os.Environ(), filepath.Join(projectDir, "bin")))

	if !opts.Update {
		if err := t.installRequirements(ctx, runner, projectDir); err != nil {
			return Report{}, err
		}
	}

	doc, err := metadata.Load(metadataPath)
	if err != nil {
		return Report{}, err
	}
	resolved, err := t.resolver.Resolve(doc)
	if err != nil {
		return Report{}, err
	}
	plan, err := NewPlan(resolved, projectDir, opts.Engine)
	if err != nil {
		return Report{}, err
	}

	report := Report{Plan: plan}
	pipelineArgs := plan.CreatePipelineArgs()
	if opts.Update {
		pipelineArgs = plan.UpdatePipelineArgs()
	}

	t.logger.Info("submitting pipeline",
		zap.String("pipeline", plan.PipelineName),
		zap.String("endpoint", plan.Endpoint),
		zap.Bool("update", opts.Update),
	)
	report.Pipeline, err = runner.Run(ctx, t.binary, pipelineArgs...)
	if err != nil {
		return report, fmt.Errorf("submit pipeline %s: %w", plan.PipelineName, err)
	}

	report.Run, err = runner.Run(ctx, t.binary, plan.CreateRunArgs()...)
	if err != nil {
		return report, fmt.Errorf("start run of %s: %w", plan.PipelineName, err)
	}

	t.logger.Info("pipeline run started", zap.String("pipeline", plan.PipelineName))
	return report, nil
}

func (t *Taster) installRequirements(ctx context.Context, runner shell.Runner, projectDir string) error {
	requirements := filepath.Join(projectDir, requirementsFile)
	t.logger.Info("installing requirements", zap.String("file", requirements))

	if _, err := runner.Run(ctx, t.pip, "install", "--user", "-r", requirements); err != nil {
		return fmt.Errorf("install %s: %w", requirementsFile, err)
	}
	return nil
}

// withPath returns a copy of env whose PATH also contains dir.
func withPath(env []string, dir string) []string {
	out := slices.Clone(env)
	for i, kv := range out {
		value, ok := strings.CutPrefix(kv, "PATH=")
		if !ok {
			continue
		}
		if slices.Contains(filepath.SplitList(value), dir) {
			return out
		}
		if value == "" {
			out[i] = "PATH=" + dir
		} else {
			out[i] = "PATH=" + value + string(os.PathListSeparator) + dir
		}
		return out
	}
	return append(out, "PATH="+dir)
}
