// Package scaffold initializes a pipeline project from a template directory.
package scaffold

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/zap"
)

var (
	// ErrTemplateNotFound is returned when <templates>/<type>_template does not exist.
	ErrTemplateNotFound = errors.New("pipeline template not found")
	// ErrInvalidName is returned when a pipeline name is not a single word.
	ErrInvalidName = errors.New("pipeline name must contain only letters, digits and underscores")
)

const (
	// DefaultName is used when no pipeline name is given.
	DefaultName = "my_pipeline"
	// DefaultSkaffoldURL is where the skaffold binary is fetched from for TFX projects.
	DefaultSkaffoldURL = "https://storage.googleapis.com/skaffold/releases/latest/skaffold-linux-amd64"

	metadataFile = "metadata.yaml"
	typeTFX      = "tfx"
)

var (
	validName        = regexp.MustCompile(`^\w+$`)
	pipelineNameLine = regexp.MustCompile(`(?m)^(pipeline_name:[ \t]*)\w+`)
)

// Downloader fetches a remote file into dest.
type Downloader interface {
	Download(ctx context.Context, url, dest string, mode os.FileMode) error
}

// Options describes the project to create.
type Options struct {
	Name        string
	Destination string
	// Type selects <TemplatesDir>/<Type>_template, e.g. "tfx" or "zenml".
	Type string
}

// Result reports what Init did.
type Result struct {
	Dir        string
	Copied     bool
	Downloaded bool
}

// Initializer creates projects from templates found under a templates directory.
type Initializer struct {
	templatesDir string
	skaffoldURL  string
	downloader   Downloader
	logger       *zap.Logger
}

// Option configures an Initializer.
type Option func(*Initializer)

// WithSkaffoldURL overrides DefaultSkaffoldURL.
func WithSkaffoldURL(url string) Option {
	return func(i *Initializer) {
		if url != "" {
			i.skaffoldURL = url
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(i *Initializer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// New constructs an Initializer reading templates from templatesDir.
func New(templatesDir string, downloader Downloader, opts ...Option) *Initializer {
	i := &Initializer{
		templatesDir: templatesDir,
		skaffoldURL:  DefaultSkaffoldURL,
		downloader:   downloader,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Init copies the template into <Destination>/<Name> unless that directory
// already exists, sets pipeline_name in its metadata.yaml and, for TFX
// projects, makes sure bin/skaffold is present.
func (i *Initializer) Init(ctx context.Context, opts Options) (Result, error) {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Destination == "" {
		opts.Destination = "."
	}
	if opts.Type == "" {
		opts.Type = typeTFX
	}
	if !validName.MatchString(opts.Name) {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidName, opts.Name)
	}

	source := filepath.Join(i.templatesDir, opts.Type+"_template")
	if info, err := os.Stat(source); err != nil || !info.IsDir() {
		return Result{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, source)
	}

	target, err := filepath.Abs(filepath.Join(opts.Destination, opts.Name))
	if err != nil {
		return Result{}, fmt.Errorf("resolve target directory: %w", err)
	}
	result := Result{Dir: target}

	if _, err := os.Stat(target); err == nil {
		i.logger.Info("pipeline folder exists", zap.String("dir", target))
	} else if errors.Is(err, fs.ErrNotExist) {
		if err := copyTree(source, target); err != nil {
			return result, fmt.Errorf("copy template: %w", err)
		}
		result.Copied = true
	} else {
		return result, fmt.Errorf("stat %s: %w", target, err)
	}

	if err := renamePipeline(filepath.Join(target, metadataFile), opts.Name); err != nil {
		return result, err
	}

	if opts.Type == typeTFX {
		skaffold := filepath.Join(target, "bin", "skaffold")
		if _, err := os.Stat(skaffold); errors.Is(err, fs.ErrNotExist) {
			i.logger.Info("downloading skaffold", zap.String("url", i.skaffoldURL))
			if err := i.downloader.Download(ctx, i.skaffoldURL, skaffold, 0o755); err != nil {
				return result, fmt.Errorf("download skaffold: %w", err)
			}
			result.Downloaded = true
		}
	}

	i.logger.Info("pipeline recipe initialized",
		zap.String("type", opts.Type),
		zap.String("dir", target),
	)
	return result, nil
}

// renamePipeline rewrites the pipeline_name line of a metadata file in place.
func renamePipeline(path, name string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", metadataFile, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", metadataFile, err)
	}

	updated := pipelineNameLine.ReplaceAll(data, []byte("${1}"+name))
	if err := os.WriteFile(path, updated, info.Mode().Perm()); err != nil {
		return fmt.Errorf("write %s: %w", metadataFile, err)
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			// symlinks and special files are not part of templates
			return nil
		}
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
