package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"translate-hub/pkg/callhistory"
	"translate-hub/pkg/config"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func seedHistory(t *testing.T, path string, now time.Time) {
	t.Helper()
	ctx := context.Background()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store := callhistory.Open(ctx, callhistory.NewFileBackend(path), logger)
	for i := 0; i < 3; i++ {
		start := now.Add(-time.Duration(i+1) * time.Hour)
		require.NoError(t, store.AppendOpen(ctx, "sip:busy@example.com", start))
		_, err := store.CloseLast(ctx, "sip:busy@example.com", start.Add(time.Minute))
		require.NoError(t, err)
	}
	require.NoError(t, store.AppendOpen(ctx, "sip:quiet@example.com", now.Add(-time.Hour)))
	_, err := store.CloseLast(ctx, "sip:quiet@example.com", now.Add(-time.Hour).Add(30*time.Second))
	require.NoError(t, err)
}

func TestStatsCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "call_db.json")
	seedHistory(t, path, time.Now())

	t.Setenv("HUB_CALL_DB", path)
	t.Setenv("HUB_CALL_DB_BACKEND", "file")
	t.Setenv("HUB_LAST24_MAX_NUM_CALLS", "2")
	t.Setenv("LOG_LEVEL", "error")

	out, err := executeCommand(rootCmd, "stats")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "VERDICT")
	assert.Contains(t, lines[1], "sip:busy@example.com")
	assert.Contains(t, lines[1], "blacklisted")
	assert.Contains(t, lines[2], "sip:quiet@example.com")
	assert.True(t, strings.HasSuffix(lines[2], "ok"))
}

func TestPolicyFrom(t *testing.T) {
	cfg := config.Default()
	cfg.TranslateHub.Last24MaxNumCalls = 7
	cfg.TranslateHub.Last24MaxTotalTime = 20 * time.Minute
	cfg.TranslateHub.BlacklistFor = time.Hour

	p := policyFrom(cfg)
	assert.Equal(t, 7, p.MaxCalls24h)
	assert.Equal(t, 20*time.Minute, p.MaxTime24h)
	assert.Equal(t, time.Hour, p.BlacklistFor)
}

func TestOpenHistoryBackendDefaultsToFile(t *testing.T) {
	cfg := config.Default()
	cfg.TranslateHub.CallDBBackend = "file"
	cfg.TranslateHub.CallDB = filepath.Join(t.TempDir(), "calls.json")

	backend, closeFn, err := openHistoryBackend(cfg)
	require.NoError(t, err)
	defer closeFn()
	assert.Equal(t, "file", backend.Name())
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, 90*time.Second, seconds(90.4))
	assert.Equal(t, time.Duration(0), seconds(0))
}
