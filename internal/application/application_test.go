package application

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/pipeline-recipes/internal/config"
	"github.com/eugenenazirov/pipeline-recipes/internal/metadata"
	"github.com/eugenenazirov/pipeline-recipes/internal/scaffold"
	"github.com/eugenenazirov/pipeline-recipes/internal/shell"
	"github.com/eugenenazirov/pipeline-recipes/internal/tfx"
)

const recipe = `pipeline_name: taxi
system_configurations:
  ENDPOINT:
    type: string
    value: https://kfp.example.com
  KUBEFLOW_RUNNER:
    type: str
    value: kubeflow_runner.py
  DATASET_PREFIX:
    type: string
    value: taxi
model_configurations:
  dataset:
    type: string
    value: "{{ DATASET_PREFIX }}_trips"
  epochs:
    type: string
    value: "10"
  layers:
    type: array
    value: [64, 32]
`

func baseTestConfig(templatesDir string) config.Config {
	return config.Config{
		TemplatesDir:    templatesDir,
		TFXBinary:       "tfx",
		PipBinary:       "pip",
		Engine:          "kubeflow",
		DownloadTimeout: 5 * time.Second,
		MaxRenderPasses: metadata.DefaultMaxPasses,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

func writeRecipe(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.yaml")
	if err := os.WriteFile(path, []byte(recipe), 0o644); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
	return path
}

type recordingRunner struct {
	calls [][]string
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) (shell.Result, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	return shell.Result{}, nil
}

func TestNewRequiresLogger(t *testing.T) {
	if _, err := New(baseTestConfig(""), nil); err == nil {
		t.Fatalf("expected error without logger")
	}
}

func TestResolve(t *testing.T) {
	app, err := New(baseTestConfig(""), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	path := writeRecipe(t)

	var buf bytes.Buffer
	if err := app.Resolve(path, "", &buf); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "value: taxi_trips") {
		t.Fatalf("expected resolved dataset in output:\n%s", buf.String())
	}
	if !strings.HasPrefix(buf.String(), "pipeline_name: taxi\n") {
		t.Fatalf("expected key order to be kept:\n%s", buf.String())
	}

	out := filepath.Join(t.TempDir(), "resolved.yaml")
	if err := app.Resolve(path, out, nil); err != nil {
		t.Fatalf("Resolve to file returned error: %v", err)
	}
	saved, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(saved) != buf.String() {
		t.Fatalf("file and stream output differ:\n%s\n---\n%s", saved, buf.String())
	}
}

func TestFlatten(t *testing.T) {
	app, err := New(baseTestConfig(""), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	path := writeRecipe(t)

	var buf bytes.Buffer
	if err := app.Flatten(path, tfx.ModelSection, []metadata.Type{metadata.TypeString}, &buf); err != nil {
		t.Fatalf("Flatten returned error: %v", err)
	}
	if want := "dataset: taxi_trips\nepochs: \"10\"\n"; buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}

	if err := app.Flatten(path, "missing", nil, &buf); !errors.Is(err, metadata.ErrSectionNotFound) {
		t.Fatalf("expected ErrSectionNotFound, got %v", err)
	}
}

func TestQuery(t *testing.T) {
	app, err := New(baseTestConfig(""), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	path := writeRecipe(t)
	queryText := "SELECT * FROM {{ dataset }} -- {{ layers }}"
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "train.sql"), []byte(queryText), 0o644); err != nil {
		t.Fatalf("write query: %v", err)
	}

	got, err := app.Query(path, "train.sql", "")
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if want := "SELECT * FROM taxi_trips -- [64,32]"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestTasteUsesConfiguredEngine(t *testing.T) {
	cfg := baseTestConfig("")
	cfg.Engine = "vertex"
	cfg.TFXBinary = "/opt/tfx"
	runner := &recordingRunner{}

	app, err := New(cfg, zaptest.NewLogger(t), WithRunnerFactory(func([]string) shell.Runner { return runner }))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	report, err := app.Taste(context.Background(), writeRecipe(t), tfx.TasteOptions{Update: true})
	if err != nil {
		t.Fatalf("Taste returned error: %v", err)
	}
	if report.Plan.Engine != "vertex" {
		t.Fatalf("expected configured engine, got %s", report.Plan.Engine)
	}
	if len(runner.calls) != 2 || runner.calls[0][0] != "/opt/tfx" {
		t.Fatalf("unexpected calls %v", runner.calls)
	}
}

func TestInitDownloadsSkaffold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("#!/bin/sh\n"))
	}))
	defer srv.Close()

	templates := t.TempDir()
	template := filepath.Join(templates, "tfx_template")
	if err := os.MkdirAll(template, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(template, "metadata.yaml"), []byte(recipe), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	cfg := baseTestConfig(templates)
	cfg.SkaffoldURL = srv.URL + "/skaffold"
	app, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	res, err := app.Init(context.Background(), scaffold.Options{Name: "fares", Destination: t.TempDir()})
	if err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	info, err := os.Stat(filepath.Join(res.Dir, "bin", "skaffold"))
	if err != nil {
		t.Fatalf("expected skaffold binary: %v", err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Fatalf("expected skaffold to be executable, mode %v", info.Mode())
	}

	doc, err := app.Load(filepath.Join(res.Dir, "metadata.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if doc.PipelineName() != "fares" {
		t.Fatalf("expected renamed pipeline, got %s", doc.PipelineName())
	}
}
