package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/cmd/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "recorder",
	Short: "Record the microphone and system audio into one file",
	Long: `recorder captures the default microphone and the audio the machine is playing,
and writes both into a single 16 kHz WAV file: channel 0 is the microphone,
channel 1 is the system audio. If the microphone records nothing the file is mono.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadConfig(cfgFile); err != nil {
			return err
		}
		closer, err := config.ConfigureLogger()
		if err != nil {
			return fmt.Errorf("configure logger: %w", err)
		}
		logCloser = closer
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	rootCmd.PersistentFlags().String("loglevel", "info", "one of none, error, warn, info, debug")
	rootCmd.PersistentFlags().String("logfile", "", "write JSON logs to this file instead of stdout")
	viper.BindPFlag("loglevel", rootCmd.PersistentFlags().Lookup("loglevel"))
	viper.BindPFlag("logfile", rootCmd.PersistentFlags().Lookup("logfile"))

	rootCmd.AddCommand(newRecordCmd())
	rootCmd.AddCommand(newSimulateCmd())
	rootCmd.AddCommand(newMixCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("recorder failed", "err", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
