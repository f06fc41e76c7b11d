// Package cli provides the planaudit command line interface.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/planaudit/internal/core/domain"
	"github.com/custodia-labs/planaudit/internal/core/ports/driving"
	"github.com/custodia-labs/planaudit/internal/logger"
)

// version reports the build; main passes the ldflags value to Execute.
var version = "dev"

var (
	verbose    bool
	configDir  string
	jsonOutput bool
)

// Services used by the commands. Built on first use so that settings
// commands work without a reachable provider; tests assign mocks directly.
var (
	settingsService driving.SettingsService
	planService     driving.PlanService
	auditService    driving.AuditService
	uploadTypes     []string
	closers         []func()
)

var rootCmd = &cobra.Command{
	Use:   "planaudit",
	Short: "Audit construction plans against a defect catalog",
	Long: `planaudit splits construction plan documents into chunks, embeds them,
and audits them against a catalog of known special construction plan defects.

Plans are content addressed: uploading the same document twice reuses the
cached embeddings without calling the embedding provider again.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		logger.SetVerbose(verbose)
		return ensureSettings()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print pipeline logs to stderr")
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "config directory (default ~/.planaudit)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
}

// Execute runs the root command and returns the process exit code.
func Execute(buildVersion string) int {
	if buildVersion != "" {
		version = buildVersion
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	defer closeServices()

	cmd, err := rootCmd.ExecuteContextC(ctx)
	if err != nil {
		printError(cmd.ErrOrStderr(), err)
		return 1
	}
	return 0
}

func ensureSettings() error {
	if settingsService != nil {
		return nil
	}
	svc, err := newSettingsService(configDir)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	settingsService = svc
	return nil
}

// ensureServices builds the plan and audit services for commands that need them.
func ensureServices(ctx context.Context) error {
	if planService != nil && auditService != nil {
		return nil
	}
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	set, err := newServices(ctx, settings, configDir)
	if err != nil {
		return err
	}
	planService = set.plans
	auditService = set.audit
	uploadTypes = set.types
	closers = append(closers, set.close)
	return nil
}

func closeServices() {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	closers = nil
}

// printError writes err as "Error: ..." or, with --json, as {"error":{"kind","message"}}.
func printError(w io.Writer, err error) {
	if jsonOutput {
		data, jerr := json.Marshal(map[string]domain.PublicError{"error": domain.Public(err)})
		if jerr == nil {
			fmt.Fprintln(w, string(data))
			return
		}
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

// printJSON writes v as indented JSON to stdout, so it can be piped.
func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
