// File: cmd/replay.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rewind-cli/api/schemas"
	"github.com/xkilldash9x/rewind-cli/internal/actionability"
	"github.com/xkilldash9x/rewind-cli/internal/config"
	"github.com/xkilldash9x/rewind-cli/internal/engine"
	"github.com/xkilldash9x/rewind-cli/internal/observability"
	"github.com/xkilldash9x/rewind-cli/internal/protocol"
	"github.com/xkilldash9x/rewind-cli/internal/strategy"
	"github.com/xkilldash9x/rewind-cli/internal/vision"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// newReplayCmd creates and configures the `replay` command.
func newReplayCmd() *cobra.Command {
	replayCmd := &cobra.Command{
		Use:   "replay <recording.json>",
		Short: "Replays a recorded flow against a live tab",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("replay.screenshot_dir", cmd.Flags().Lookup("screenshot-dir")); err != nil {
				return err
			}
			if err := viper.BindPFlag("replay.keep_going", cmd.Flags().Lookup("keep-going")); err != nil {
				return err
			}
			return nil
		},
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
			logger.Info("replaying against tab",
				zap.String("recording", recording.Name),
				zap.String("tab", tab.ID), zap.String("url", tab.URL))

			client := protocol.NewClient(cfg.Protocol, logger)
			defer client.Cleanup(context.Background())

			recognizer := vision.NewScreenTextRecognizer(client, logger)
			registry := strategy.NewDefaultRegistry(client, recognizer, logger)
			waiter := actionability.NewWaiter(client, cfg.Waiter, logger)
			eng := engine.New(client, registry, waiter, cfg.Engine, logger)

			if err := client.Attach(ctx, tab.ID); err != nil {
				return fmt.Errorf("attaching to tab %s: %w", tab.ID, err)
			}
			waiter.TrackTab(tab.ID)
			defer waiter.ReleaseTab(tab.ID)

			summary, err := runRecording(ctx, eng, client, cfg.Replay, tab.ID, recording, logger)
			printSummary(cmd, recording, summary)
			return err
		},
	}

	replayCmd.Flags().String("tab", "", "target tab id or URL fragment (default: the recording's URL, else the first page)")
	replayCmd.Flags().String("screenshot-dir", "", "directory receiving screenshots of failed steps")
	replayCmd.Flags().Bool("keep-going", false, "continue replaying after a failed step")
	return replayCmd
}

// stepOutcome pairs one recorded action with its execution result.
type stepOutcome struct {
	Index  int
	Action schemas.RecordedAction
	Result schemas.ActionExecutionResult
}

type replaySummary struct {
	Outcomes []stepOutcome
	Passed   int
	Failed   int
	Elapsed  time.Duration
}

// loadRecording parses and validates a recording file. Every descriptor is
// checked up front; a malformed step should fail the run before the browser
// is touched, not twelve actions in.
func loadRecording(path string) (*schemas.Recording, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading recording: %w", err)
	}
	var recording schemas.Recording
	if err := json.Unmarshal(data, &recording); err != nil {
		return nil, fmt.Errorf("parsing recording %s: %w", path, err)
	}
	if len(recording.Actions) == 0 {
		return nil, fmt.Errorf("recording %s contains no actions", path)
	}
	for i, action := range recording.Actions {
		if err := action.Descriptor.Validate(); err != nil {
			return nil, fmt.Errorf("recording %s, action %d: %w", path, i, err)
		}
	}
	if recording.Name == "" {
		recording.Name = filepath.Base(path)
	}
	return &recording, nil
}

// resolveTab picks the replay target: an explicit tab argument wins, then
// the recording's URL, then the first available page.
func resolveTab(ctx context.Context, cfg config.ProtocolConfig, tabArg, recordedURL string) (*protocol.TargetInfo, error) {
	dialer := protocol.NewDialer(cfg.Endpoint, cfg.DialTimeout)
	if tabArg != "" {
		return dialer.FindTarget(ctx, tabArg)
	}
	if recordedURL != "" {
		if target, err := dialer.FindTarget(ctx, recordedURL); err == nil {
			return target, nil
		}
	}
	targets, err := dialer.ListTargets(ctx)
	if err != nil {
		return nil, err
	}
	for i := range targets {
		if targets[i].Type == "page" {
			return &targets[i], nil
		}
	}
	return nil, fmt.Errorf("no debuggable page at %s", cfg.Endpoint)
}

func runRecording(ctx context.Context, eng *engine.Engine, client *protocol.Client, cfg config.ReplayConfig, tab string, recording *schemas.Recording, logger *zap.Logger) (*replaySummary, error) {
	summary := &replaySummary{}
	start := time.Now()
	defer func() { summary.Elapsed = time.Since(start) }()

	var firstErr error
	for i, action := range recording.Actions {
		result := eng.ExecuteAction(ctx, tab, schemas.ActionRequest{
			Type:       action.Type,
			Value:      action.Value,
			Descriptor: action.Descriptor,
		})
		summary.Outcomes = append(summary.Outcomes, stepOutcome{Index: i, Action: action, Result: result})

		if result.Success {
			summary.Passed++
			logger.Info("step replayed",
				zap.Int("step", i+1), zap.String("type", string(action.Type)),
				zap.String("variant", string(*result.UsedVariant)),
				zap.Duration("took", result.Total))
			continue
		}

		summary.Failed++
		logger.Error("step failed",
			zap.Int("step", i+1), zap.String("type", string(action.Type)),
			zap.String("kind", string(result.ErrorKind)), zap.String("error", result.Error))
		captureFailure(ctx, client, cfg, tab, i, logger)

		if firstErr == nil {
			firstErr = fmt.Errorf("step %d (%s) failed: %s", i+1, action.Type, result.Error)
		}
		if !cfg.KeepGoing {
			return summary, firstErr
		}
	}
	return summary, firstErr
}

// captureFailure grabs a best-effort screenshot of the failed step.
func captureFailure(ctx context.Context, client *protocol.Client, cfg config.ReplayConfig, tab string, step int, logger *zap.Logger) {
	if cfg.ScreenshotDir == "" {
		return
	}
	data, err := client.CaptureScreenshot(ctx, tab)
	if err != nil {
		logger.Warn("failure screenshot not captured", zap.Int("step", step+1), zap.Error(err))
		return
	}
	if err := os.MkdirAll(cfg.ScreenshotDir, 0o755); err != nil {
		logger.Warn("screenshot directory not writable", zap.Error(err))
		return
	}
	name := filepath.Join(cfg.ScreenshotDir, fmt.Sprintf("step-%03d-failure.png", step+1))
	if err := os.WriteFile(name, data, 0o644); err != nil {
		logger.Warn("screenshot not written", zap.String("path", name), zap.Error(err))
		return
	}
	logger.Info("failure screenshot written", zap.String("path", name))
}

func printSummary(cmd *cobra.Command, recording *schemas.Recording, summary *replaySummary) {
	if summary == nil {
		return
	}
	cmd.Printf("\n%s: %d/%d steps replayed in %s\n",
		recording.Name, summary.Passed, len(recording.Actions), summary.Elapsed.Round(time.Millisecond))
	for _, o := range summary.Outcomes {
		status := "ok"
		detail := ""
		if !o.Result.Success {
			status = "FAIL"
			detail = " " + o.Result.Error
		} else if o.Result.UsedVariant != nil {
			detail = " via " + string(*o.Result.UsedVariant)
		}
		cmd.Printf("  %3d %-6s %-4s%s\n", o.Index+1, o.Action.Type, status, detail)
	}
}
