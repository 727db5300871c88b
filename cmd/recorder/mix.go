package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/internal/mixer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newMixCmd() *cobra.Command {
	var microphoneFile, systemFile, output string
	var removeMicrophone bool

	cmd := &cobra.Command{
		Use:   "mix",
		Short: "Merge a microphone store and a system-audio store into one stereo file",
		Long: `mix runs the merge step on its own. Both inputs must be 16 kHz mono float WAV
files, as written by a capture session. By default the system-audio file is replaced
by the stereo result; --output writes it elsewhere instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if microphoneFile == "" || systemFile == "" {
				return errors.New("--microphone and --system are required")
			}
			if output == "" {
				output = systemFile
			}

			m := mixer.NewMixer(viper.GetInt("mixchunkframes"), viper.GetString("mixsuffix"), slog.Default())
			stats, err := m.Merge(cmd.Context(), microphoneFile, systemFile, output)
			if err != nil {
				return err
			}
			if removeMicrophone {
				if err := os.Remove(microphoneFile); err != nil {
					slog.Warn("could not remove microphone store", "path", microphoneFile, "err", err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d frames (microphone %d, system audio %d)\n",
				output, stats.OutputFrames, stats.MicrophoneFrames, stats.SystemFrames)
			return nil
		},
	}

	cmd.Flags().StringVar(&microphoneFile, "microphone", "", "microphone store (channel 0)")
	cmd.Flags().StringVar(&systemFile, "system", "", "system-audio store (channel 1)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "merged output (default: replace the system-audio store)")
	cmd.Flags().BoolVar(&removeMicrophone, "remove-mic", false, "delete the microphone store after a successful merge")
	return cmd
}
