package logger

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		require.Equal(t, want, parseLevel(in), in)
	}
}

func TestBuildWritesAuditToSeparateFile(t *testing.T) {
	dir := t.TempDir()
	appLog := filepath.Join(dir, "app.log")
	auditLog := filepath.Join(dir, "audit", "verdicts.log")

	loggers, err := Build(Config{
		Level:       "info",
		OutputPaths: []string{appLog},
		Audit:       AuditConfig{Enabled: true, Path: auditLog},
	})
	require.NoError(t, err)

	loggers.Default.Info("started")
	loggers.Audit.Info("verdict", slog.Bool("admitted", true))
	require.NoError(t, loggers.Close())

	raw, err := os.ReadFile(auditLog)
	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &line))
	require.Equal(t, "verdict", line["msg"])
	require.Equal(t, true, line["admitted"])

	app, err := os.ReadFile(appLog)
	require.NoError(t, err)
	require.NotContains(t, string(app), "verdict")
}

func TestBuildRejectsAuditWithoutPath(t *testing.T) {
	_, err := Build(Config{Audit: AuditConfig{Enabled: true}})
	require.Error(t, err)
}

func TestAuditFallsBackToDefault(t *testing.T) {
	loggers, err := Build(Config{Format: "text"})
	require.NoError(t, err)
	require.Same(t, loggers.Default, loggers.Audit)
}
