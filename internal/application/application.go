package application

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/pipeline-recipes/internal/config"
	"github.com/eugenenazirov/pipeline-recipes/internal/fetch"
	"github.com/eugenenazirov/pipeline-recipes/internal/metadata"
	"github.com/eugenenazirov/pipeline-recipes/internal/query"
	"github.com/eugenenazirov/pipeline-recipes/internal/scaffold"
	"github.com/eugenenazirov/pipeline-recipes/internal/shell"
	"github.com/eugenenazirov/pipeline-recipes/internal/templating"
	"github.com/eugenenazirov/pipeline-recipes/internal/tfx"
)

// App encapsulates the application dependencies behind the CLI commands.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	resolver    *metadata.Resolver
	renderer    *templating.Renderer
	initializer *scaffold.Initializer
	taster      *tfx.Taster
}

// Option configures an App.
type Option func(*options)

type options struct {
	echo      io.Writer
	newRunner tfx.RunnerFactory
}

// WithToolOutput mirrors the output of external tools to w.
func WithToolOutput(w io.Writer) Option {
	return func(o *options) {
		o.echo = w
	}
}

// WithRunnerFactory replaces the process runner used for tfx and pip.
func WithRunnerFactory(f tfx.RunnerFactory) Option {
	return func(o *options) {
		if f != nil {
			o.newRunner = f
		}
	}
}

// New initializes the application with all dependencies from the provided configuration.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.newRunner == nil {
		base := shell.NewExecRunner(shell.WithLogger(logger), shell.WithEcho(o.echo))
		o.newRunner = func(env []string) shell.Runner {
			return base.With(shell.WithEnv(env))
		}
	}

	resolverOpts := []metadata.ResolverOption{
		metadata.WithMaxPasses(cfg.MaxRenderPasses),
		metadata.WithLogger(logger),
	}
	rendererOpts := []templating.Option{}
	if cfg.LenientReferences {
		resolverOpts = append(resolverOpts, metadata.WithLenientReferences())
		rendererOpts = append(rendererOpts, templating.Lenient())
	}
	resolver := metadata.NewResolver(resolverOpts...)

	downloader := fetch.New(
		fetch.WithTimeout(cfg.DownloadTimeout),
		fetch.WithLogger(logger),
	)

	return &App{
		cfg:      cfg,
		logger:   logger,
		resolver: resolver,
		renderer: templating.New(rendererOpts...),
		initializer: scaffold.New(cfg.TemplatesDir, downloader,
			scaffold.WithSkaffoldURL(cfg.SkaffoldURL),
			scaffold.WithLogger(logger),
		),
		taster: tfx.NewTaster(o.newRunner,
			tfx.WithBinary(cfg.TFXBinary),
			tfx.WithPip(cfg.PipBinary),
			tfx.WithResolver(resolver),
			tfx.WithLogger(logger),
		),
	}, nil
}

// Init creates a pipeline project from a template.
func (a *App) Init(ctx context.Context, opts scaffold.Options) (scaffold.Result, error) {
	return a.initializer.Init(ctx, opts)
}

// Taste submits the pipeline described by metadataPath and starts a run.
// An empty engine falls back to the configured one.
func (a *App) Taste(ctx context.Context, metadataPath string, opts tfx.TasteOptions) (tfx.Report, error) {
	if opts.Engine == "" {
		opts.Engine = a.cfg.Engine
	}
	return a.taster.Taste(ctx, metadataPath, opts)
}

// Load parses and resolves the metadata file at path.
func (a *App) Load(path string) (*metadata.Document, error) {
	doc, err := metadata.Load(path)
	if err != nil {
		return nil, err
	}
	return a.resolver.Resolve(doc)
}

// Resolve resolves the metadata file at path and writes it to out, or to w
// when out is empty.
func (a *App) Resolve(path, out string, w io.Writer) error {
	doc, err := a.Load(path)
	if err != nil {
		return err
	}
	if out == "" {
		return metadata.Dump(w, doc)
	}
	if err := metadata.Save(out, doc); err != nil {
		return err
	}
	a.logger.Info("resolved metadata written", zap.String("path", out))
	return nil
}

// Flatten writes the resolved key/value pairs of one section as YAML.
func (a *App) Flatten(path, section string, types []metadata.Type, w io.Writer) error {
	doc, err := a.Load(path)
	if err != nil {
		return err
	}
	fields, err := metadata.Flatten(doc, section, types...)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(fields); err != nil {
		return fmt.Errorf("encode %s: %w", section, err)
	}
	return enc.Close()
}

// Query renders queryFile, relative to the metadata file's directory, with
// the resolved fields of section.
func (a *App) Query(metadataPath, queryFile, section string) (string, error) {
	if section == "" {
		section = tfx.ModelSection
	}
	doc, err := a.Load(metadataPath)
	if err != nil {
		return "", err
	}
	fields, err := metadata.Flatten(doc, section)
	if err != nil {
		return "", err
	}
	return query.Load(filepath.Dir(metadataPath), queryFile, fields, a.renderer)
}
