package cmd

import (
	"fmt"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pagelens/pagelens-cli/api/schemas"
	"github.com/pagelens/pagelens-cli/internal/driver"
	"github.com/pagelens/pagelens-cli/internal/gather"
	"github.com/pagelens/pagelens-cli/internal/gatherers"
	"github.com/pagelens/pagelens-cli/internal/observability"
)

// newGatherCmd creates and configures the `gather` command.
func newGatherCmd() *cobra.Command {
	gatherCmd := &cobra.Command{
		Use:   "gather <url>",
		Short: "Runs the gather passes against a URL and writes the collected artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := appConfig

			requestedURL := args[0]
			if !strings.HasPrefix(requestedURL, "http://") && !strings.HasPrefix(requestedURL, "https://") {
				requestedURL = "https://" + requestedURL
			}

			formFactor, _ := cmd.Flags().GetString("form-factor")
			if formFactor != "" {
				cfg.Gather.Settings.FormFactor = formFactor
			}
			skipPerfPass, _ := cmd.Flags().GetBool("skip-perf-pass")
			if skipPerfPass {
				cfg.Gather.SkipPerfPass = true
			}

			drv := driver.New(cfg, logger)
			runner := gather.NewRunner(logger)
			passes := gatherers.DefaultPassConfigs(cfg.Gather.SkipPerfPass)

			logger.Info("Starting gather",
				zap.String("url", requestedURL),
				zap.Int("passes", len(passes)))

			artifacts, err := runner.Run(ctx, passes, schemas.RunOptions{
				RequestedURL: requestedURL,
				Driver:       drv,
				Settings:     cfg.Gather.Settings,
			})
			if err != nil {
				logger.Error("Gather run failed", zap.Error(err))
				return err
			}

			output, _ := cmd.Flags().GetString("output")
			if err := writeArtifacts(artifacts, output); err != nil {
				return err
			}

			if artifacts.Base.PageLoadError != nil {
				fmt.Printf("\nGather complete with page load error: %s\n", artifacts.Base.PageLoadError.Code)
			} else {
				fmt.Printf("\nGather complete. Collected %d gatherer artifacts.\n", len(artifacts.Gatherers))
			}
			return nil
		},
	}

	gatherCmd.Flags().StringP("output", "o", "", "Output file path for the artifact JSON. If unset, artifacts go to stdout.")
	gatherCmd.Flags().String("form-factor", "", "Emulated device class ('mobile' or 'desktop'). (Overrides config/env)")
	gatherCmd.Flags().Bool("skip-perf-pass", false, "Skip the traced, throttled performance pass.")

	return gatherCmd
}

// writeArtifacts serializes the artifact set to the output path, or stdout
// when no path is given.
func writeArtifacts(artifacts *schemas.FinalArtifacts, path string) error {
	json := jsoniter.ConfigCompatibleWithStandardLibrary
	data, err := json.MarshalIndent(artifacts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize artifacts: %w", err)
	}

	if path == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifacts to %s: %w", path, err)
	}
	return nil
}
