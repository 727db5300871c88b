package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/internal/audioapi"
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/internal/capture"
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRecordCmd() *cobra.Command {
	var output string
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record until interrupted (or for --duration)",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputPath, err := filepath.Abs(output)
			if err != nil {
				return err
			}

			api, err := audioapi.NewMalgoAPI(uint32(viper.GetInt("capturebufferframes")))
			if err != nil {
				return err
			}
			defer api.Close()

			controller := capture.NewController(
				api,
				audioapi.AlwaysGrantedPermissions{},
				audioapi.DefaultOutputResolver{API: api},
				utils.CaptureConfigFromViper(),
				nil,
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := controller.Start(ctx, outputPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recording to %s, press Ctrl+C to stop\n", outputPath)

			var timeout <-chan time.Time
			if duration > 0 {
				timeout = time.After(duration)
			}
			select {
			case <-ctx.Done():
			case <-timeout:
			}

			result, err := controller.Stop(context.WithoutCancel(ctx))
			printResult(cmd, result)
			return err
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "recording.wav", "path of the recording")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this long (default: until interrupted)")
	return cmd
}

func printResult(cmd *cobra.Command, result capture.Result) {
	if result.SessionID == uuid.Nil {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session:        %s\n", result.SessionID)
	fmt.Fprintf(out, "status:         %s\n", result.Status)
	fmt.Fprintf(out, "output:         %s (%d channel(s), %d frames)\n", result.OutputPath, result.Channels, result.OutputFrames)
	fmt.Fprintf(out, "microphone:     %d frames\n", result.MicrophoneFrames)
	fmt.Fprintf(out, "system audio:   %d frames\n", result.SystemFrames)
	if result.QueueDrops > 0 || result.WriteFailures > 0 {
		fmt.Fprintf(out, "dropped:        %d buffers (queue full), %d buffers (write failed)\n", result.QueueDrops, result.WriteFailures)
	}
	if result.StopErr != nil {
		fmt.Fprintf(out, "stop error:     %v\n", result.StopErr)
	}
}
