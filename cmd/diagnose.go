// File: cmd/diagnose.go
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rewind-cli/internal/actionability"
	"github.com/xkilldash9x/rewind-cli/internal/config"
	"github.com/xkilldash9x/rewind-cli/internal/engine"
	"github.com/xkilldash9x/rewind-cli/internal/observability"
	"github.com/xkilldash9x/rewind-cli/internal/protocol"
	"github.com/xkilldash9x/rewind-cli/internal/strategy"
	"github.com/xkilldash9x/rewind-cli/internal/vision"
)

// newDiagnoseCmd creates the `diagnose` command: runs every strategy of
// every step against the live page without clicking anything, to show why a
// recording stopped replaying.
func newDiagnoseCmd() *cobra.Command {
	diagnoseCmd := &cobra.Command{
		Use:   "diagnose <recording.json>",
		Short: "Evaluates a recording's locator strategies without acting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			var cfg config.Config
			if err := viper.Unmarshal(&cfg); err != nil {
				return fmt.Errorf("failed to unmarshal config: %w", err)
			}

			recording, err := loadRecording(args[0])
			if err != nil {
				return err
			}

			tabArg, _ := cmd.Flags().GetString("tab")
			tab, err := resolveTab(ctx, cfg.Protocol, tabArg, recording.URL)
			if err != nil {
				return err
			}

			client := protocol.NewClient(cfg.Protocol, logger)
			defer client.Cleanup(cmd.Context())

			recognizer := vision.NewScreenTextRecognizer(client, logger)
			registry := strategy.NewDefaultRegistry(client, recognizer, logger)
			waiter := actionability.NewWaiter(client, cfg.Waiter, logger)
			eng := engine.New(client, registry, waiter, cfg.Engine, logger)

			if err := client.Attach(ctx, tab.ID); err != nil {
				return fmt.Errorf("attaching to tab %s: %w", tab.ID, err)
			}

			for i, action := range recording.Actions {
				results := eng.EvaluateStrategies(ctx, tab.ID, action.Descriptor)
				cmd.Printf("step %d (%s):\n", i+1, action.Type)
				for _, r := range results {
					if r.Found {
						cmd.Printf("  %-18s found   conf=%.2f score=%.2f matches=%d (%s)\n",
							r.Tag, r.Confidence, r.Score, r.MatchCount, r.Duration.Round(time.Millisecond))
					} else {
						cmd.Printf("  %-18s missed  %s\n", r.Tag, r.Error)
					}
				}
				logger.Debug("step diagnosed", zap.Int("step", i+1), zap.Int("variants", len(results)))
			}
			return nil
		},
	}

	diagnoseCmd.Flags().String("tab", "", "target tab id or URL fragment")
	return diagnoseCmd
}
