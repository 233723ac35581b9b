package cmd

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-stats-gateway/config"
)

func TestConfigureLogging(t *testing.T) {
	t.Cleanup(func() {
		logrus.SetLevel(logrus.InfoLevel)
		logrus.SetFormatter(&logrus.TextFormatter{})
	})

	if err := configureLogging(&config.Config{LogLevel: "debug", LogFormat: "JSON"}); err != nil {
		t.Fatalf("configure failed: %v", err)
	}
	if logrus.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %v", logrus.GetLevel())
	}
	if _, ok := logrus.StandardLogger().Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("expected json formatter")
	}

	if err := configureLogging(&config.Config{LogLevel: "info", LogFormat: "text"}); err != nil {
		t.Fatalf("configure failed: %v", err)
	}
	if _, ok := logrus.StandardLogger().Formatter.(*logrus.TextFormatter); !ok {
		t.Fatalf("expected text formatter")
	}
}

func TestConfigureLoggingRejectsInvalidValues(t *testing.T) {
	if err := configureLogging(&config.Config{LogLevel: "loud", LogFormat: "json"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if err := configureLogging(&config.Config{LogLevel: "info", LogFormat: "xml"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
