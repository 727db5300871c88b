package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/internal/utils"
	"github.com/spf13/viper"
)

// Load the config file at configFilePath into viper, on top of the defaults.
// A missing file is not an error; the defaults are used.
func LoadConfig(configFilePath string) error {
	utils.SetViperDefaults()
	if configFilePath == "" {
		return nil
	}

	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			slog.Info("no config file found", "configFilePath", configFilePath)
			return nil
		}
		slog.Error("error during config read", "err", err)
		return fmt.Errorf("read config %s: %w", configFilePath, err)
	}
	return nil
}

// Configure the default logger from the loaded config.
// The returned closer (if any) should be closed on exit.
func ConfigureLogger() (io.Closer, error) {
	return utils.ConfigureDefaultLogger(
		viper.GetString("loglevel"),
		viper.GetString("logfile"),
		utils.LogRotationFromViper(),
		slog.HandlerOptions{},
	)
}
