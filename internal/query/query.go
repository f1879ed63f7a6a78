// Package query loads SQL query files shipped with a pipeline project and
// fills their {{ field }} placeholders from flattened configuration.
package query

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/eugenenazirov/pipeline-recipes/internal/templating"
)

// Load reads relPath under projectDir. When fields is non-nil the text is
// rendered once against it; otherwise it is returned verbatim.
func Load(projectDir, relPath string, fields map[string]any, renderer *templating.Renderer) (string, error) {
	path := relPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(projectDir, relPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read query %s: %w", path, err)
	}
	if fields == nil {
		return string(data), nil
	}

	if renderer == nil {
		renderer = templating.New()
	}
	out, err := renderer.Render(string(data), fields)
	if err != nil {
		return "", fmt.Errorf("render query %s: %w", path, err)
	}
	return out, nil
}
