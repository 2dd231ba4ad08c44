package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-osint/internal/models"
	"github.com/miradorstack/mirador-osint/internal/services"
)

var (
	configPath string
	debugMode  bool
	opts       runOptions
)

type runOptions struct {
	targetType   string
	mode         string
	tool         string
	workflow     string
	workers      int
	pullImages   bool
	removeImages bool
	doctor       bool
	output       string
}

var rootCmd = &cobra.Command{
	Use:   "osint-engine [run] <target>",
	Short: "Orchestrate OSINT tools and correlate their findings",
	Long: `osint-engine runs OSINT tools against one target, inside hardened containers
or natively, and merges their findings into deduplicated, scored groups.`,
	Args:          cobra.MaximumNArgs(1),
	RunE:          runTarget,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run <target>",
	Short: "Run a workflow against a target",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTarget,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	addRunFlags(rootCmd)
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd, serveCmd)
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&opts.targetType, "type", "t", "", "Target type: username, email, phone, domain or file")
	f.StringVar(&opts.mode, "mode", "", "Execution mode: container, native or hybrid")
	f.StringVar(&opts.tool, "tool", "", "Run a single tool by id")
	f.StringVar(&opts.workflow, "workflow", "", "Run a named workflow")
	f.IntVar(&opts.workers, "workers", 0, "Concurrent tool invocations (default derived from host resources)")
	f.BoolVar(&opts.pullImages, "pull-images", false, "Pre-pull trusted images before running")
	f.BoolVar(&opts.removeImages, "remove-images", false, "Remove images after each container run")
	f.BoolVar(&opts.doctor, "doctor", false, "Report tool availability and exit")
	f.StringVarP(&opts.output, "output", "o", "", "Write the JSON report to a file instead of stdout")
}

func runTarget(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := bootstrap(ctx, configPath, debugMode)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.doctor {
		avail, err := a.service.Doctor(ctx, opts.mode, opts.pullImages)
		if err != nil {
			return err
		}
		return printAvailability(cmd.OutOrStdout(), avail)
	}

	if len(args) == 0 {
		return fmt.Errorf("a target is required")
	}
	if opts.targetType == "" {
		return fmt.Errorf("--type is required")
	}
	if opts.tool != "" && opts.workflow != "" {
		return fmt.Errorf("--tool and --workflow are mutually exclusive")
	}

	report, err := a.service.Run(ctx, services.RunRequest{
		Target:       args[0],
		TargetType:   opts.targetType,
		Workflow:     opts.workflow,
		Tool:         opts.tool,
		Mode:         opts.mode,
		Workers:      opts.workers,
		PullImages:   opts.pullImages || a.cfg.Execution.PullImages,
		RemoveImages: opts.removeImages || a.cfg.Execution.RemoveImages,
	})
	if err != nil {
		return err
	}
	return writeReport(cmd.OutOrStdout(), opts.output, report)
}

func writeReport(stdout io.Writer, path string, report *models.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')
	if path == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func printAvailability(w io.Writer, avail []models.Availability) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tSTATUS\tMODE\tDETAIL")
	for _, a := range avail {
		status, detail := "ok", ""
		if !a.Available {
			status, detail = "missing", a.Reason
			if a.Hint != "" {
				detail += " (" + a.Hint + ")"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.ToolID, status, a.PlannedMode, detail)
	}
	return tw.Flush()
}
