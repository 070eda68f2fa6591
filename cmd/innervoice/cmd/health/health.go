package health

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"innervoice/cmd/innervoice/cmd/cliconfig"
	"innervoice/internal/api/v1/handlers"
	"innervoice/internal/app"
)

var (
	timeout time.Duration
	gpu     bool
)

// Cmd represents the health command
var Cmd = &cobra.Command{
	Use:   "health",
	Short: "Query the configured backend's health endpoint",
	RunE:  run,
}

func init() {
	Cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	Cmd.Flags().BoolVar(&gpu, "gpu", false, "also run the accelerator diagnostic when the backend has one")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := cliconfig.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	p, cleanup, err := app.InitializePipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	status, err := p.Client.Health(ctx)
	if err != nil {
		return fmt.Errorf("%s backend unavailable: %w", p.Client.Backend(), err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "backend: %s\nstatus:  %s\n", p.Client.Backend(), status.Status)
	if status.Model != "" {
		fmt.Fprintf(out, "model:   %s\n", status.Model)
	}
	if status.HasVRAM() {
		fmt.Fprintf(out, "vram:    %.0f / %.0f MB\n", status.VRAMUsedMB, status.VRAMTotalMB)
	}

	if !gpu {
		return nil
	}
	checker, ok := p.Backend.(handlers.GPUChecker)
	if !ok {
		fmt.Fprintln(out, "gpu:     not supported by this backend")
		return nil
	}
	check, err := checker.GPUCheck(ctx)
	if err != nil {
		return fmt.Errorf("gpu check: %w", err)
	}
	data, err := json.MarshalIndent(check, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "gpu:\n%s\n", data)
	return nil
}
