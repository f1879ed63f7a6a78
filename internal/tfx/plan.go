package tfx

import (
	"fmt"
	"path/filepath"

	"github.com/eugenenazirov/pipeline-recipes/internal/metadata"
)

const (
	// SystemSection holds the settings consumed when creating and running a pipeline.
	SystemSection = "system_configurations"
	// ModelSection holds model parameters forwarded to pipeline construction.
	ModelSection = "model_configurations"

	// DefaultEngine is the orchestrator targeted by the tfx CLI.
	DefaultEngine = "kubeflow"

	imageRegistry = "gcr.io"
)

// Setting names read from SystemSection.
const (
	settingEndpoint  = "ENDPOINT"
	settingRunner    = "KUBEFLOW_RUNNER"
	settingProject   = "GOOGLE_CLOUD_PROJECT"
	settingImageRepo = "TFX_IMAGE_REPO_NAME"
)

// Plan is everything the tfx CLI needs to create, update and run a pipeline.
type Plan struct {
	// PipelineName is the registered name: <pipeline_name>_<pipeline_version>,
	// or the bare name when no version is set.
	PipelineName string
	// PipelinePath is the runner file handed to --pipeline-path.
	PipelinePath string
	Endpoint     string
	Engine       string
	// Image is the target image for --build-target-image; empty omits the flag.
	Image string
}

// NewPlan derives a Plan from a resolved metadata document. Relative runner
// paths are taken relative to projectDir.
func NewPlan(doc *metadata.Document, projectDir, engine string) (Plan, error) {
	name := doc.PipelineName()
	if name == "" {
		return Plan{}, fmt.Errorf("%w: pipeline_name", ErrMissingSetting)
	}

	system, err := metadata.Flatten(doc, SystemSection)
	if err != nil {
		return Plan{}, err
	}

	endpoint, err := requireString(system, settingEndpoint)
	if err != nil {
		return Plan{}, err
	}
	runner, err := requireString(system, settingRunner)
	if err != nil {
		return Plan{}, err
	}
	if !filepath.IsAbs(runner) {
		runner = filepath.Join(projectDir, runner)
	}

	if engine == "" {
		engine = DefaultEngine
	}

	plan := Plan{
		PipelineName: name,
		PipelinePath: runner,
		Endpoint:     endpoint,
		Engine:       engine,
	}
	if version := doc.PipelineVersion(); version != "" {
		plan.PipelineName = name + "_" + version
	}

	project, _ := system[settingProject].(string)
	repo, _ := system[settingImageRepo].(string)
	if project != "" && repo != "" {
		plan.Image = imageRegistry + "/" + project + "/" + repo
	}
	return plan, nil
}

// CreatePipelineArgs returns the arguments of `tfx pipeline create`.
func (p Plan) CreatePipelineArgs() []string {
	args := []string{
		"pipeline", "create",
		"--pipeline-path=" + p.PipelinePath,
		"--endpoint=" + p.Endpoint,
		"--engine=" + p.Engine,
	}
	if p.Image != "" {
		args = append(args, "--build-target-image="+p.Image)
	}
	return args
}

// UpdatePipelineArgs returns the arguments of `tfx pipeline update`.
func (p Plan) UpdatePipelineArgs() []string {
	args := []string{
		"pipeline", "update",
		"--pipeline-path=" + p.PipelinePath,
		"--endpoint=" + p.Endpoint,
		"--engine=" + p.Engine,
	}
	if p.Image != "" {
		args = append(args, "--build-target-image="+p.Image)
	}
	return args
}

// CreateRunArgs returns the arguments of `tfx run create`.
func (p Plan) CreateRunArgs() []string {
	return []string{
		"run", "create",
		"--pipeline-name=" + p.PipelineName,
		"--endpoint=" + p.Endpoint,
		"--engine=" + p.Engine,
	}
}

func requireString(settings map[string]any, key string) (string, error) {
	v, ok := settings[key]
	if !ok {
		return "", fmt.Errorf("%w: %s.%s", ErrMissingSetting, SystemSection, key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s.%s must be a non-empty string", ErrMissingSetting, SystemSection, key)
	}
	return s, nil
}
