package plugins

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-osint/internal/adapters"
	"github.com/miradorstack/mirador-osint/internal/metrics"
	"github.com/miradorstack/mirador-osint/internal/models"
	"github.com/miradorstack/mirador-osint/internal/utils"
)

// Options configures plugin discovery and admission.
type Options struct {
	Dirs                 []string
	AllowedRoot          string
	ReviewedFingerprints []string
	Images               adapters.ImageLookup
}

// Registry is the immutable table of admitted adapters. Built-ins come first,
// then plugins in discovery order.
type Registry struct {
	adapters  []adapters.ToolAdapter
	byID      map[string]adapters.ToolAdapter
	manifests []models.PluginManifest
	workflows []models.Workflow
	weights   map[string]float64
}

// NewRegistry scans every discovered plugin and admits the ones that pass.
// Rejections are logged, counted and kept for audit; they never fail the build.
func NewRegistry(logger *slog.Logger, builtins []adapters.ToolAdapter, opts Options) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{byID: make(map[string]adapters.ToolAdapter), weights: make(map[string]float64)}
	ids := make(map[string]struct{})
	for _, a := range builtins {
		id := a.Descriptor().ID
		if _, dup := ids[id]; dup {
			return nil, fmt.Errorf("duplicate builtin adapter %q", id)
		}
		ids[id] = struct{}{}
		r.byID[id] = a
		r.adapters = append(r.adapters, a)
	}

	sources, err := Discover(opts.Dirs)
	if err != nil {
		return nil, err
	}
	scanner := NewScanner(opts.AllowedRoot, opts.ReviewedFingerprints)
	for _, src := range sources {
		def, manifest := scanner.Scan(src)
		if def != nil {
			if _, taken := ids[manifest.ID]; taken {
				def = nil
				manifest.Verdict = models.Verdict{Violations: []models.Violation{{
					Rule:   RuleShadowing,
					Detail: fmt.Sprintf("plugin id %q is already registered", manifest.ID),
				}}}
			}
		}
		metrics.ObservePlugin(string(manifest.Tier), def != nil)
		r.manifests = append(r.manifests, manifest)

		if def == nil {
			logger.Warn("plugin rejected",
				slog.String("plugin", manifest.ID),
				slog.String("dir", manifest.Dir),
				slog.String("tier", string(manifest.Tier)),
				slog.Any("error", rejection(manifest)),
			)
			continue
		}
		ids[manifest.ID] = struct{}{}
		r.admit(def, opts)
		logger.Info("plugin admitted",
			slog.String("plugin", manifest.ID),
			slog.String("tier", string(manifest.Tier)),
			slog.String("fingerprint", manifest.Fingerprint),
		)
	}
	return r, nil
}

func (r *Registry) admit(def *Definition, opts Options) {
	if def.Tool != nil {
		a := newDeclarative(def, opts.Images, opts.AllowedRoot)
		r.byID[def.Manifest.ID] = a
		r.adapters = append(r.adapters, a)
	}
	if def.Manifest.Tier != models.TierCore {
		return
	}
	r.workflows = append(r.workflows, def.Workflows...)
	for tool, w := range def.Weights {
		r.weights[tool] = w
	}
}

func rejection(m models.PluginManifest) error {
	rules := make([]string, 0, len(m.Verdict.Violations))
	for _, v := range m.Verdict.Violations {
		rules = append(rules, fmt.Sprintf("%s (%s)", v.Rule, v.Detail))
	}
	return fmt.Errorf("%w: %s", utils.ErrPluginRejected, strings.Join(rules, "; "))
}

// Adapters returns the admitted adapters in registry order.
func (r *Registry) Adapters() []adapters.ToolAdapter {
	return append([]adapters.ToolAdapter(nil), r.adapters...)
}

// Lookup finds an admitted adapter by tool ID.
func (r *Registry) Lookup(id string) (adapters.ToolAdapter, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// Manifests returns every discovered plugin with its verdict.
func (r *Registry) Manifests() []models.PluginManifest {
	return append([]models.PluginManifest(nil), r.manifests...)
}

// Rejected returns the plugins that failed admission.
func (r *Registry) Rejected() []models.PluginManifest {
	var out []models.PluginManifest
	for _, m := range r.manifests {
		if !m.Verdict.Admitted {
			out = append(out, m)
		}
	}
	return out
}

// Workflows returns the workflows contributed by Core-tier plugins.
func (r *Registry) Workflows() []models.Workflow {
	return append([]models.Workflow(nil), r.workflows...)
}

// Weights returns the correlation weights contributed by Core-tier plugins.
func (r *Registry) Weights() map[string]float64 {
	out := make(map[string]float64, len(r.weights))
	for k, v := range r.weights {
		out[k] = v
	}
	return out
}

// Descriptors returns the descriptors of every admitted adapter, sorted by ID.
func (r *Registry) Descriptors() []models.ToolDescriptor {
	out := make([]models.ToolDescriptor, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
