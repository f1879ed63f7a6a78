package tfx

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/pipeline-recipes/internal/metadata"
	"github.com/eugenenazirov/pipeline-recipes/internal/shell"
)

const pipelineMetadata = `
pipeline_name: taxi
pipeline_version: v2
system_configurations:
  GOOGLE_CLOUD_PROJECT:
    type: string
    value: my-project
  TFX_IMAGE_REPO_NAME:
    type: string
    value: "{{ GOOGLE_CLOUD_PROJECT }}-tfx"
  ENDPOINT:
    type: string
    value: https://kfp.example.com
  KUBEFLOW_RUNNER:
    type: string
    value: kubeflow_runner.py
`

func parseResolved(t *testing.T, text string) *metadata.Document {
	t.Helper()

	doc, err := metadata.Parse([]byte(text))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	resolved, err := metadata.Resolve(doc)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	return resolved
}

func TestNewPlan(t *testing.T) {
	t.Parallel()

	plan, err := NewPlan(parseResolved(t, pipelineMetadata), "/work/taxi", "")
	if err != nil {
		t.Fatalf("NewPlan returned error: %v", err)
	}

	want := Plan{
		PipelineName: "taxi_v2",
		PipelinePath: "/work/taxi/kubeflow_runner.py",
		Endpoint:     "https://kfp.example.com",
		Engine:       DefaultEngine,
		Image:        "gcr.io/my-project/my-project-tfx",
	}
	if diff := cmp.Diff(want, plan); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanArgs(t *testing.T) {
	t.Parallel()

	plan := Plan{
		PipelineName: "taxi_v2",
		PipelinePath: "/p/kubeflow_runner.py",
		Endpoint:     "https://kfp",
		Engine:       "kubeflow",
		Image:        "gcr.io/p/r",
	}

	tests := []struct {
		name string
		got  []string
		want []string
	}{
		{
			name: "create",
			got:  plan.CreatePipelineArgs(),
			want: []string{"pipeline", "create", "--pipeline-path=/p/kubeflow_runner.py", "--endpoint=https://kfp", "--engine=kubeflow", "--build-target-image=gcr.io/p/r"},
		},
		{
			name: "update",
			got:  plan.UpdatePipelineArgs(),
			want: []string{"pipeline", "update", "--pipeline-path=/p/kubeflow_runner.py", "--endpoint=https://kfp", "--engine=kubeflow", "--build-target-image=gcr.io/p/r"},
		},
		{
			name: "run",
			got:  plan.CreateRunArgs(),
			want: []string{"run", "create", "--pipeline-name=taxi_v2", "--endpoint=https://kfp", "--engine=kubeflow"},
		},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, tt.got); diff != "" {
			t.Fatalf("%s args mismatch (-want +got):\n%s", tt.name, diff)
		}
	}

	plan.Image = ""
	for _, args := range [][]string{plan.CreatePipelineArgs(), plan.UpdatePipelineArgs()} {
		for _, arg := range args {
			if strings.HasPrefix(arg, "--build-target-image") {
				t.Fatalf("expected no image flag without an image, got %v", args)
			}
		}
	}
}

func TestNewPlanMissingSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want error
	}{
		{
			name: "NoName",
			text: "system_configurations:\n  ENDPOINT:\n    type: string\n    value: e\n",
			want: ErrMissingSetting,
		},
		{
			name: "NoSystemSection",
			text: "pipeline_name: x\nmodel_configurations: {}\n",
			want: metadata.ErrSectionNotFound,
		},
		{
			name: "NoRunner",
			text: "pipeline_name: x\nsystem_configurations:\n  ENDPOINT:\n    type: string\n    value: e\n",
			want: ErrMissingSetting,
		},
		{
			name: "EmptyEndpoint",
			text: "pipeline_name: x\nsystem_configurations:\n  ENDPOINT:\n    type: string\n    value: ''\n  KUBEFLOW_RUNNER:\n    type: string\n    value: r.py\n",
			want: ErrMissingSetting,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewPlan(parseResolved(t, tt.text), "/p", "")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls  []call
	failOn string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (shell.Result, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	if f.failOn != "" && len(args) > 0 && args[0] == f.failOn {
		command := append([]string{name}, args...)
		return shell.Result{ExitCode: 1, Output: "boom"}, &shell.ExternalToolError{Command: command, ExitCode: 1, Output: "boom"}
	}
	return shell.Result{Output: "ok"}, nil
}

func writeProject(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.yaml")
	if err := os.WriteFile(path, []byte(pipelineMetadata), 0o644); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
	return path
}

func TestTasteCreate(t *testing.T) {
	t.Parallel()

	path := writeProject(t)
	fake := &fakeRunner{}
	var env []string
	taster := NewTaster(func(e []string) shell.Runner {
		env = e
		return fake
	}, WithLogger(zaptest.NewLogger(t)), WithBinary("/opt/tfx"))

	report, err := taster.Taste(context.Background(), path, TasteOptions{})
	if err != nil {
		t.Fatalf("Taste returned error: %v", err)
	}

	if len(fake.calls) != 3 {
		t.Fatalf("expected pip, pipeline create and run create, got %+v", fake.calls)
	}
	if fake.calls[0].name != "pip" || fake.calls[0].args[len(fake.calls[0].args)-1] != filepath.Join(filepath.Dir(path), "requirements.txt") {
		t.Fatalf("unexpected requirements install %+v", fake.calls[0])
	}
	if fake.calls[1].name != "/opt/tfx" || fake.calls[1].args[1] != "create" {
		t.Fatalf("unexpected pipeline call %+v", fake.calls[1])
	}
	if diff := cmp.Diff(report.Plan.CreateRunArgs(), fake.calls[2].args); diff != "" {
		t.Fatalf("run args mismatch (-want +got):\n%s", diff)
	}

	binDir := filepath.Join(filepath.Dir(path), "bin")
	foundPath := false
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") && strings.Contains(kv, binDir) {
			foundPath = true
		}
	}
	if !foundPath {
		t.Fatalf("expected %s on child PATH", binDir)
	}
}

func TestTasteUpdateSkipsRequirements(t *testing.T) {
	t.Parallel()

	path := writeProject(t)
	fake := &fakeRunner{}
	taster := NewTaster(func([]string) shell.Runner { return fake })

	if _, err := taster.Taste(context.Background(), path, TasteOptions{Update: true, Engine: "local"}); err != nil {
		t.Fatalf("Taste returned error: %v", err)
	}
	if len(fake.calls) != 2 {
		t.Fatalf("expected two tfx calls, got %+v", fake.calls)
	}
	if fake.calls[0].args[1] != "update" {
		t.Fatalf("expected pipeline update, got %v", fake.calls[0].args)
	}
	if !strings.HasSuffix(fake.calls[1].args[len(fake.calls[1].args)-1], "--engine=local") {
		t.Fatalf("expected engine override, got %v", fake.calls[1].args)
	}
}

func TestTasteFailures(t *testing.T) {
	t.Parallel()

	t.Run("pipeline create fails", func(t *testing.T) {
		path := writeProject(t)
		fake := &fakeRunner{failOn: "pipeline"}
		taster := NewTaster(func([]string) shell.Runner { return fake })

		_, err := taster.Taste(context.Background(), path, TasteOptions{})
		var toolErr *shell.ExternalToolError
		if !errors.As(err, &toolErr) || toolErr.Output != "boom" {
			t.Fatalf("expected ExternalToolError with output, got %v", err)
		}
		if len(fake.calls) != 2 {
			t.Fatalf("expected no run after failed submit, got %+v", fake.calls)
		}
	})

	t.Run("requirements fail", func(t *testing.T) {
		path := writeProject(t)
		fake := &fakeRunner{failOn: "install"}
		taster := NewTaster(func([]string) shell.Runner { return fake })

		if _, err := taster.Taste(context.Background(), path, TasteOptions{}); !errors.Is(err, shell.ErrExternalTool) {
			t.Fatalf("expected ErrExternalTool, got %v", err)
		}
		if len(fake.calls) != 1 {
			t.Fatalf("expected to stop after pip, got %+v", fake.calls)
		}
	})

	t.Run("unsupported type", func(t *testing.T) {
		taster := NewTaster(func([]string) shell.Runner { return &fakeRunner{} })
		for _, typ := range []string{TypeZenML, TypeAuto} {
			if _, err := taster.Taste(context.Background(), "metadata.yaml", TasteOptions{Type: typ}); !errors.Is(err, ErrUnsupportedPipelineType) {
				t.Fatalf("expected ErrUnsupportedPipelineType for %s, got %v", typ, err)
			}
		}
	})

	t.Run("missing metadata", func(t *testing.T) {
		taster := NewTaster(func([]string) shell.Runner { return &fakeRunner{} })
		path := filepath.Join(t.TempDir(), "metadata.yaml")
		if _, err := taster.Taste(context.Background(), path, TasteOptions{Update: true}); !errors.Is(err, metadata.ErrParse) {
			t.Fatalf("expected ErrParse, got %v", err)
		}
	})
}

func TestWithPath(t *testing.T) {
	t.Parallel()

	sep := string(os.PathListSeparator)
	tests := []struct {
		name string
		env  []string
		want []string
	}{
		{name: "Append", env: []string{"HOME=/h", "PATH=/usr/bin"}, want: []string{"HOME=/h", "PATH=/usr/bin" + sep + "/p/bin"}},
		{name: "AlreadyPresent", env: []string{"PATH=/p/bin" + sep + "/usr/bin"}, want: []string{"PATH=/p/bin" + sep + "/usr/bin"}},
		{name: "NoPath", env: []string{"HOME=/h"}, want: []string{"HOME=/h", "PATH=/p/bin"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, withPath(tt.env, "/p/bin")); diff != "" {
			t.Fatalf("%s mismatch (-want +got):\n%s", tt.name, diff)
		}
	}
}
