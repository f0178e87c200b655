package config

import (
	"testing"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
		enabled zapcore.Level
	}{
		{name: "defaults", level: "info", format: "json", enabled: zapcore.InfoLevel},
		{name: "debug json", level: "debug", format: "json", enabled: zapcore.DebugLevel},
		{name: "warn console", level: "warn", format: "console", enabled: zapcore.WarnLevel},
		{name: "empty format falls back to json", level: "error", format: "", enabled: zapcore.ErrorLevel},
		{name: "bad level", level: "verbose", format: "json", wantErr: true},
		{name: "bad format", level: "info", format: "xml", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := viper.New()
			v.Set("logging.level", tc.level)
			v.Set("logging.format", tc.format)

			logger, err := NewLogger(v)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("NewLogger(%q, %q) succeeded, want error", tc.level, tc.format)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLogger: %v", err)
			}
			if !logger.Core().Enabled(tc.enabled) {
				t.Errorf("level %v not enabled", tc.enabled)
			}
			if tc.enabled > zapcore.DebugLevel && logger.Core().Enabled(tc.enabled-1) {
				t.Errorf("level %v unexpectedly enabled", tc.enabled-1)
			}
		})
	}
}
