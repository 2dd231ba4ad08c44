package engine

import (
	"fmt"
	"strings"

	"github.com/miradorstack/mirador-osint/internal/adapters"
	"github.com/miradorstack/mirador-osint/internal/models"
	"github.com/miradorstack/mirador-osint/internal/utils"
)

// Plan is what the scheduler executes for one run.
type Plan struct {
	Target     string
	TargetType models.TargetType
	Workflow   string
	Options    map[string]string
	Steps      []Step
}

// Step runs its tools in parallel. Steps after the first take their targets
// from the previous step's findings of kind Feed.
type Step struct {
	Tools []StepTool
	Feed  models.FindingKind
}

// StepTool is one tool slot. A non-empty SkipReason reports the tool as
// skipped without invoking it.
type StepTool struct {
	ID         string
	Adapter    adapters.ToolAdapter
	SkipReason string
}

// AdapterLookup resolves tool IDs; the plugin registry satisfies it.
type AdapterLookup interface {
	Lookup(id string) (adapters.ToolAdapter, bool)
}

// FanOut plans a single step with every adapter accepting the target type.
// avail holds pre-flight verdicts; tools missing from it count as available.
func FanOut(target string, t models.TargetType, all []adapters.ToolAdapter, avail map[string]models.Availability) (Plan, error) {
	step := Step{}
	runnable := 0
	var reasons []string
	for _, a := range all {
		desc := a.Descriptor()
		if !desc.Accepts(t) {
			continue
		}
		slot := StepTool{ID: desc.ID, Adapter: a, SkipReason: skipReason(desc.ID, avail)}
		if slot.SkipReason == "" {
			runnable++
		} else {
			reasons = append(reasons, desc.ID+": "+slot.SkipReason)
		}
		step.Tools = append(step.Tools, slot)
	}
	if runnable == 0 {
		msg := fmt.Sprintf("no available adapter accepts %s targets", t)
		if len(reasons) > 0 {
			msg += " (" + strings.Join(reasons, "; ") + ")"
		}
		return Plan{}, utils.NewAppError("plan", msg, utils.ErrNoAdapters)
	}
	return Plan{Target: target, TargetType: t, Steps: []Step{step}}, nil
}

// Single plans a run of one adapter, bypassing capability selection.
func Single(target string, t models.TargetType, a adapters.ToolAdapter, avail map[string]models.Availability) (Plan, error) {
	desc := a.Descriptor()
	if !desc.Accepts(t) {
		return Plan{}, utils.NewToolError("plan", desc.ID, fmt.Sprintf("does not accept %s targets", t), utils.ErrInvalidTarget)
	}
	if reason := skipReason(desc.ID, avail); reason != "" {
		return Plan{}, utils.NewToolError("plan", desc.ID, reason, utils.ErrToolNotAvailable)
	}
	return Plan{Target: target, TargetType: t, Steps: []Step{{Tools: []StepTool{{ID: desc.ID, Adapter: a}}}}}, nil
}

// Plan resolves the named workflow against the registered adapters. Tools that
// are unknown, unavailable or unable to take the step's target type are kept
// as skipped slots so the report shows them.
func (c *Catalog) Plan(name, target string, t models.TargetType, lookup AdapterLookup, avail map[string]models.Availability) (Plan, error) {
	wf, ok := c.Get(name)
	if !ok {
		return Plan{}, utils.NewAppError("plan", fmt.Sprintf("unknown workflow %q (have %s)", name, strings.Join(c.Names(), ", ")), utils.ErrNoAdapters)
	}
	if wf.Target != t {
		return Plan{}, utils.NewAppError("plan", fmt.Sprintf("workflow %s takes %s targets, not %s", name, wf.Target, t), utils.ErrInvalidTarget)
	}

	plan := Plan{Target: target, TargetType: t, Workflow: wf.Name}
	runnable := 0
	for i, ws := range wf.Steps {
		stepType := t
		if i > 0 {
			stepType, _ = ws.Feed.TargetType()
		}
		step := Step{Feed: ws.Feed}
		for _, id := range ws.Tools {
			slot := StepTool{ID: id}
			a, found := lookup.Lookup(id)
			switch {
			case !found:
				slot.SkipReason = "tool is not registered"
			case !a.Descriptor().Accepts(stepType):
				slot.SkipReason = fmt.Sprintf("does not accept %s targets", stepType)
			default:
				slot.Adapter = a
				slot.SkipReason = skipReason(id, avail)
			}
			if i == 0 && slot.SkipReason == "" {
				runnable++
			}
			step.Tools = append(step.Tools, slot)
		}
		plan.Steps = append(plan.Steps, step)
	}
	if runnable == 0 {
		return Plan{}, utils.NewAppError("plan", fmt.Sprintf("workflow %s has no available tool in its first step", name), utils.ErrNoAdapters)
	}
	return plan, nil
}

func skipReason(id string, avail map[string]models.Availability) string {
	a, ok := avail[id]
	if !ok || a.Available {
		return ""
	}
	if a.Reason == "" {
		return "not available"
	}
	return a.Reason
}
