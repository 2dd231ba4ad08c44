package engine

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-osint/internal/models"
)

//go:embed workflows.yaml
var defaultWorkflows []byte

// Catalog holds the named workflows available to a run.
type Catalog struct {
	logger    *slog.Logger
	workflows map[string]models.Workflow
}

// WorkflowFile is the YAML root structure.
type WorkflowFile struct {
	Workflows []models.Workflow `yaml:"workflows"`
}

// LoadCatalog starts from the embedded workflows, overlays the ones in path
// (a missing file is not an error) and adds extra workflows, which may not
// replace an existing name.
func LoadCatalog(path string, extra []models.Workflow, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{logger: logger, workflows: make(map[string]models.Workflow)}

	builtin, err := parseWorkflows(defaultWorkflows, "embedded")
	if err != nil {
		return nil, err
	}
	for _, wf := range builtin {
		c.workflows[wf.Name] = wf
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Debug("workflow file not found, using defaults", slog.String("path", path))
		case err != nil:
			return nil, err
		default:
			fromFile, err := parseWorkflows(data, path)
			if err != nil {
				return nil, err
			}
			for _, wf := range fromFile {
				c.workflows[wf.Name] = wf
			}
		}
	}

	for _, wf := range extra {
		if _, exists := c.workflows[wf.Name]; exists {
			logger.Warn("plugin workflow ignored, name in use", slog.String("workflow", wf.Name), slog.String("source", wf.Source))
			continue
		}
		if err := validateWorkflow(wf); err != nil {
			logger.Warn("plugin workflow ignored", slog.String("workflow", wf.Name), slog.Any("error", err))
			continue
		}
		c.workflows[wf.Name] = wf
	}
	return c, nil
}

func parseWorkflows(data []byte, source string) ([]models.Workflow, error) {
	var file WorkflowFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse workflows %s: %w", source, err)
	}
	for i := range file.Workflows {
		file.Workflows[i].Source = source
		if err := validateWorkflow(file.Workflows[i]); err != nil {
			return nil, fmt.Errorf("workflows %s: %w", source, err)
		}
	}
	return file.Workflows, nil
}

func validateWorkflow(wf models.Workflow) error {
	if wf.Name == "" {
		return errors.New("workflow without a name")
	}
	if _, err := models.ParseTargetType(string(wf.Target)); err != nil {
		return fmt.Errorf("workflow %s: %w", wf.Name, err)
	}
	if len(wf.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", wf.Name)
	}
	for i, step := range wf.Steps {
		if len(step.Tools) == 0 {
			return fmt.Errorf("workflow %s step %d has no tools", wf.Name, i+1)
		}
		if i == 0 {
			if step.Feed != "" {
				return fmt.Errorf("workflow %s: the first step takes the run target, not a feed", wf.Name)
			}
			continue
		}
		if _, ok := step.Feed.TargetType(); !ok {
			return fmt.Errorf("workflow %s step %d: feed %q cannot be used as a target", wf.Name, i+1, step.Feed)
		}
	}
	return nil
}

// Get returns the named workflow.
func (c *Catalog) Get(name string) (models.Workflow, bool) {
	wf, ok := c.workflows[name]
	return wf, ok
}

// Names returns every workflow name, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.workflows))
	for name := range c.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForTarget returns the workflows that start from target type t, sorted by name.
func (c *Catalog) ForTarget(t models.TargetType) []models.Workflow {
	var out []models.Workflow
	for _, name := range c.Names() {
		if wf := c.workflows[name]; wf.Target == t {
			out = append(out, wf)
		}
	}
	return out
}
