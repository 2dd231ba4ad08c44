package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/miradorstack/mirador-osint/internal/models"
	"github.com/miradorstack/mirador-osint/internal/utils"
)

// Runner executes a prepared request. The execution strategy satisfies it.
type Runner interface {
	Run(ctx context.Context, desc models.ToolDescriptor, req models.ExecutionRequest) models.ExecutionResult
}

// ToolAdapter integrates one external tool.
type ToolAdapter interface {
	// Descriptor returns the immutable tool description.
	Descriptor() models.ToolDescriptor
	// Execute validates target, builds the argument vector and runs it through runner.
	Execute(ctx context.Context, runner Runner, target string, opts map[string]string) models.ExecutionResult
	// ParseResults converts raw output into findings. Malformed input yields the
	// findings recovered so far plus a *utils.ParseError.
	ParseResults(raw []byte) ([]models.Finding, error)
}

// Parse calls a.ParseResults and converts a panic into a ParseError.
func Parse(a ToolAdapter, raw []byte) (findings []models.Finding, err error) {
	id := a.Descriptor().ID
	defer func() {
		if r := recover(); r != nil {
			findings = nil
			err = &utils.ParseError{Tool: id, Reason: fmt.Sprintf("parser panic: %v", r)}
		}
	}()
	return a.ParseResults(raw)
}

type base struct {
	desc models.ToolDescriptor
}

func (b *base) Descriptor() models.ToolDescriptor {
	return b.desc.Clone()
}

// OptionTargetType names the option carrying the run's target type, for
// adapters that accept more than one.
const OptionTargetType = "target_type"

func (b *base) invoke(ctx context.Context, runner Runner, kind models.TargetType, target string, opts map[string]string, argv func(string) []string) models.ExecutionResult {
	return Invoke(ctx, runner, b.desc, kind, target, opts, func(clean string) ([]string, error) {
		return argv(clean), nil
	})
}

// Invoke validates target as kind, builds the argument vector from the
// canonical value and runs it. File targets are handed over as InputFile.
func Invoke(ctx context.Context, runner Runner, desc models.ToolDescriptor, kind models.TargetType, target string, opts map[string]string, argv func(string) ([]string, error)) models.ExecutionResult {
	clean, err := ValidateTarget(kind, target)
	if err != nil {
		return models.ExecutionResult{
			ToolID:     desc.ID,
			ExitStatus: -1,
			Err:        utils.NewToolError("execute", desc.ID, "invalid target", err),
		}
	}
	args, err := argv(clean)
	if err != nil {
		return models.ExecutionResult{
			ToolID:     desc.ID,
			ExitStatus: -1,
			Err:        utils.NewToolError("execute", desc.ID, "build arguments", err),
		}
	}
	req := models.ExecutionRequest{
		ToolID:  desc.ID,
		Target:  clean,
		Options: opts,
		Args:    args,
	}
	if kind == models.TargetFile {
		req.InputFile = &models.InputFile{HostPath: clean, Name: inputName(clean)}
	}
	return runner.Run(ctx, desc.Clone(), req)
}

func (b *base) finding(kind models.FindingKind, value string, confidence float64) models.Finding {
	return models.Finding{
		Kind:         kind,
		Value:        value,
		SourceTool:   b.desc.ID,
		Confidence:   confidence,
		DiscoveredAt: time.Now().UTC(),
	}
}

func (b *base) parseError(line int, reason string) *utils.ParseError {
	return &utils.ParseError{Tool: b.desc.ID, Line: line, Reason: reason}
}
