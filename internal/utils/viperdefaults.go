package utils

import (
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/internal/capture"
	"github.com/spf13/viper"
)

// Set the viper defaults for the recorder.
// For use in cmd/recorder and its config loading.
func SetViperDefaults() {
	captureDefaults := capture.DefaultConfig()

	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")
	viper.SetDefault("logmaxsizemb", 10)
	viper.SetDefault("logmaxbackups", 3)
	viper.SetDefault("logmaxagedays", 28)
	viper.SetDefault("queuesize", captureDefaults.QueueSize)
	viper.SetDefault("mixchunkframes", captureDefaults.MixChunkFrames)
	viper.SetDefault("resamplequality", captureDefaults.ResampleQuality)
	viper.SetDefault("capturebufferframes", 1024)
	viper.SetDefault("microphonesuffix", captureDefaults.MicrophoneSuffix)
	viper.SetDefault("mixsuffix", captureDefaults.MixSuffix)
}

// The capture configuration currently held by viper
func CaptureConfigFromViper() capture.Config {
	return capture.Config{
		QueueSize:        viper.GetInt("queuesize"),
		ResampleQuality:  viper.GetInt("resamplequality"),
		MixChunkFrames:   viper.GetInt("mixchunkframes"),
		MicrophoneSuffix: viper.GetString("microphonesuffix"),
		MixSuffix:        viper.GetString("mixsuffix"),
	}
}

// The log rotation settings currently held by viper
func LogRotationFromViper() LogRotation {
	return LogRotation{
		MaxSizeMB:  viper.GetInt("logmaxsizemb"),
		MaxBackups: viper.GetInt("logmaxbackups"),
		MaxAgeDays: viper.GetInt("logmaxagedays"),
	}
}
