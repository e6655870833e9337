// Luxmonitor - continuous wake-word detection for the Lux voice assistant
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/luxassist/platform/internal/audio"
	"github.com/luxassist/platform/internal/config"
	"github.com/luxassist/platform/internal/monitor"
	"github.com/luxassist/platform/internal/phonetic"
	"github.com/luxassist/platform/internal/server"
)

var (
	configPath string
	debug      bool
)

func main() {
	root := &cobra.Command{
		Use:   "luxmonitor",
		Short: "Wake-word detection pipeline for the Lux assistant",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(runCmd(), verifyCmd(), devicesCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// runCmd starts the full pipeline and HTTP server until interrupted.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the detection pipeline and control server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			slog.Info("configuration loaded", "config", cfg.String())

			mon, err := monitor.New(cfg, slog.Default())
			if err != nil {
				return err
			}

			srv := server.New(mon, slog.Default())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := mon.Start(ctx); err != nil {
				return err
			}

			go func() {
				if err := srv.ListenAndServe(ctx, cfg.HTTPAddr); err != nil {
					slog.Error("http server error", "error", err)
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			slog.Info("shutting down...")
			cancel()
			mon.Stop()
			slog.Info("shutdown complete")
			return nil
		},
	}
}

// verifyCmd scores one transcript offline, for tuning thresholds and the
// confusion table.
func verifyCmd() *cobra.Command {
	var noise float64
	var recognition float64

	cmd := &cobra.Command{
		Use:   "verify <text>",
		Short: "Score a transcript against the configured wake words",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			table := phonetic.DefaultConfusionTable()
			if cfg.ConfusionTablePath != "" {
				table, err = phonetic.LoadConfusionTable(cfg.ConfusionTablePath)
				if err != nil {
					return err
				}
			}

			verifier, err := phonetic.NewVerifier(cfg.WakeWords, cfg.BaseThreshold, table, slog.Default())
			if err != nil {
				return err
			}

			text := args[0]
			res := verifier.Verify(text, phonetic.Context{
				TextLength:            len([]rune(text)),
				NoiseLevel:            noise,
				RecognitionConfidence: recognition,
				Hour:                  12,
			})

			fmt.Printf("verified:   %v\n", res.Verified)
			fmt.Printf("confidence: %.3f\n", res.Confidence)
			fmt.Printf("threshold:  %.3f\n", res.Threshold)
			fmt.Printf("normalized: %s\n", res.Normalized)
			if res.Extracted != res.Normalized && res.Extracted != "" {
				fmt.Printf("extracted:  %s\n", res.Extracted)
			}
			fmt.Printf("latency:    %s\n", res.Latency)
			return nil
		},
	}
	cmd.Flags().Float64Var(&noise, "noise", 0.2, "simulated ambient noise level (0-1)")
	cmd.Flags().Float64Var(&recognition, "recognition", 0.9, "simulated recognizer confidence")
	return cmd
}

// devicesCmd lists audio input devices for the input_device config option.
func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available audio input devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := audio.ListInputDevices()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("no input devices found")
				return nil
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}
