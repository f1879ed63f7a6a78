package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/pipeline-recipes/internal/application"
	"github.com/eugenenazirov/pipeline-recipes/internal/config"
	"github.com/eugenenazirov/pipeline-recipes/internal/logging"
	"github.com/eugenenazirov/pipeline-recipes/internal/metadata"
	"github.com/eugenenazirov/pipeline-recipes/internal/scaffold"
	"github.com/eugenenazirov/pipeline-recipes/internal/tfx"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := 0
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "recipe: %v\n", err)
		code = 1
	}
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	kingpinApp := kingpin.New("recipe", "Pipeline recipes - scaffold, resolve and run ML pipeline metadata")
	kingpinApp.UsageWriter(stderr)
	kingpinApp.ErrorWriter(stderr)

	configFile := kingpinApp.Flag("config", "Path to YAML configuration file").String()
	logLevel := kingpinApp.Flag("log-level", "Log level (debug, info, warn, error)").String()
	logFormat := kingpinApp.Flag("log-format", "Log encoding").Enum("json", "console")
	templatesDir := kingpinApp.Flag("templates-dir", "Directory holding <type>_template project templates").String()
	maxPasses := kingpinApp.Flag("max-render-passes", "Render passes allowed per value (0 keeps the configured value)").Default("0").Int()
	lenient := kingpinApp.Flag("lenient-references", "Render undefined references as empty text").Bool()

	initCmd := kingpinApp.Command("init", "Create a pipeline project from a template")
	initName := initCmd.Flag("name", "Pipeline name").Short('n').Default(scaffold.DefaultName).String()
	initDest := initCmd.Flag("destination", "Directory the project folder is created in").Short('d').Default(".").String()
	initType := initCmd.Flag("type", "Pipeline type").Short('t').Default(tfx.TypeTFX).Enum(tfx.TypeTFX, tfx.TypeZenML)

	tasteCmd := kingpinApp.Command("taste", "Create or update the pipeline and start a run")
	tasteMeta := tasteCmd.Arg("metadata", "Path to metadata.yaml").Required().String()
	tasteType := tasteCmd.Flag("type", "Pipeline type").Short('t').Default(tfx.TypeTFX).Enum(tfx.TypeTFX, tfx.TypeZenML, tfx.TypeAuto)
	tasteUpdate := tasteCmd.Flag("update", "Update an existing pipeline instead of creating it").Bool()
	tasteEngine := tasteCmd.Flag("engine", "Orchestration engine passed to tfx").String()

	resolveCmd := kingpinApp.Command("resolve", "Resolve templates and print the metadata")
	resolveMeta := resolveCmd.Arg("metadata", "Path to metadata.yaml").Required().String()
	resolveOut := resolveCmd.Flag("output", "Write the resolved metadata to this file").Short('o').String()

	flattenCmd := kingpinApp.Command("flatten", "Print the resolved key/value pairs of one section")
	flattenMeta := flattenCmd.Arg("metadata", "Path to metadata.yaml").Required().String()
	flattenSection := flattenCmd.Flag("section", "Configuration section").Short('s').Default(tfx.ModelSection).String()
	flattenTypes := flattenCmd.Flag("type", "Only keep entries with this type tag, e.g. string, array, int (repeatable)").Strings()

	queryCmd := kingpinApp.Command("query", "Render a query file with a section's resolved values")
	queryMeta := queryCmd.Arg("metadata", "Path to metadata.yaml").Required().String()
	queryFile := queryCmd.Arg("query", "Query file, relative to the metadata directory").Required().String()
	querySection := queryCmd.Flag("section", "Configuration section").Short('s').Default(tfx.ModelSection).String()

	command, err := kingpinApp.Parse(args)
	if err != nil {
		return err
	}

	overrides := &config.CLIOverrides{
		ConfigFile: *configFile,
	}
	if *logLevel != "" {
		overrides.LogLevel = logLevel
	}
	if *logFormat != "" {
		overrides.LogFormat = logFormat
	}
	if *templatesDir != "" {
		overrides.TemplatesDir = templatesDir
	}
	if *maxPasses > 0 {
		overrides.MaxRenderPasses = maxPasses
	}
	if *lenient {
		overrides.LenientReferences = lenient
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger, application.WithToolOutput(stderr))
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	switch command {
	case initCmd.FullCommand():
		var res scaffold.Result
		res, err = app.Init(ctx, scaffold.Options{Name: *initName, Destination: *initDest, Type: *initType})
		if err == nil {
			_, err = fmt.Fprintln(stdout, res.Dir)
		}
	case tasteCmd.FullCommand():
		_, err = app.Taste(ctx, *tasteMeta, tfx.TasteOptions{Type: *tasteType, Update: *tasteUpdate, Engine: *tasteEngine})
	case resolveCmd.FullCommand():
		err = app.Resolve(*resolveMeta, *resolveOut, stdout)
	case flattenCmd.FullCommand():
		types := make([]metadata.Type, 0, len(*flattenTypes))
		for _, t := range *flattenTypes {
			types = append(types, metadata.Type(t))
		}
		err = app.Flatten(*flattenMeta, *flattenSection, types, stdout)
	case queryCmd.FullCommand():
		var text string
		text, err = app.Query(*queryMeta, *queryFile, *querySection)
		if err == nil {
			_, err = fmt.Fprintln(stdout, text)
		}
	}
	if err != nil {
		logger.Error("command failed", zap.String("command", command), zap.Error(err))
		return err
	}
	return nil
}
