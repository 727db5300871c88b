package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/internal/audioapi"
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/internal/capture"
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/internal/utils"
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/audiodevice/device"
	"github.com/spf13/cobra"
)

// Anything a simulated session can wait on until its file runs out
type finiteSource interface {
	audiodevice.CaptureSource
	WaitForEnd()
	MaxBuffers() int
}

func newSimulateCmd() *cobra.Command {
	var microphoneFile, systemFile, output string
	var bufferDuration time.Duration
	var realtime bool

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a capture session with WAV files standing in for the devices",
		Long: `simulate plays one WAV file as the microphone and another as the system audio
through the full capture pipeline: normalization, per-source stores and the final merge.
Leave --microphone empty to simulate a silent microphone.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if systemFile == "" {
				return errors.New("--system is required")
			}
			outputPath, err := filepath.Abs(output)
			if err != nil {
				return err
			}

			system, err := device.NewFileCaptureSource("system audio", systemFile, bufferDuration, realtime)
			if err != nil {
				return fmt.Errorf("system audio file: %w", err)
			}
			sources := []finiteSource{system}

			var microphone audiodevice.CaptureSource = device.NewDummyCaptureSource("microphone")
			if microphoneFile != "" {
				fileMicrophone, err := device.NewFileCaptureSource("microphone", microphoneFile, bufferDuration, realtime)
				if err != nil {
					return fmt.Errorf("microphone file: %w", err)
				}
				microphone = fileMicrophone
				sources = append(sources, fileMicrophone)
			}

			config := utils.CaptureConfigFromViper()
			if !realtime {
				// Unpaced files arrive all at once, so each queue must hold a whole file
				for _, source := range sources {
					config.QueueSize = max(config.QueueSize, source.MaxBuffers())
				}
			}

			api := audioapi.NewDummyAudioIODeviceAPI(microphone, system)
			controller := capture.NewController(
				api,
				audioapi.AlwaysGrantedPermissions{},
				audioapi.DefaultOutputResolver{API: api},
				config,
				nil,
			)

			ctx := cmd.Context()
			if err := controller.Start(ctx, outputPath); err != nil {
				return err
			}
			for _, source := range sources {
				source.WaitForEnd()
			}

			result, err := controller.Stop(ctx)
			printResult(cmd, result)
			return err
		},
	}

	cmd.Flags().StringVar(&microphoneFile, "microphone", "", "WAV file played as the microphone")
	cmd.Flags().StringVar(&systemFile, "system", "", "WAV file played as the system audio")
	cmd.Flags().StringVarP(&output, "output", "o", "simulated.wav", "path of the recording")
	cmd.Flags().DurationVar(&bufferDuration, "buffer", 20*time.Millisecond, "duration of each delivered buffer")
	cmd.Flags().BoolVar(&realtime, "realtime", false, "pace delivery in real time, as a device would")
	return cmd
}
