package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"translate-hub/pkg/errors"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func offlineStages(t *testing.T) {
	t.Setenv("ASR_PRIMARY", "mock")
	t.Setenv("MT_TYPE", "mock")
	t.Setenv("TTS_TYPE", "tone")
	t.Setenv("SRC_TTS_TYPE", "tone")
}

func TestDefaults(t *testing.T) {
	offlineStages(t)

	cfg, err := Load(newTestLogger(), LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, 10*time.Millisecond, cfg.Hub.MainLoopSleep)
	assert.Equal(t, 0, cfg.Hub.MaxCalls)
	assert.Equal(t, "call_db.json", cfg.TranslateHub.CallDB)
	assert.Equal(t, 5, cfg.TranslateHub.Last24MaxNumCalls)
	assert.Equal(t, 10*time.Minute, cfg.TranslateHub.Last24MaxTotalTime)
	assert.Equal(t, 2*time.Hour, cfg.TranslateHub.BlacklistFor)
	assert.Equal(t, 5*time.Second, cfg.TranslateHub.SourceQuietPeriod)
	assert.Equal(t, 600*time.Millisecond, cfg.TranslateHub.UserQuietPeriod)
	assert.NotEmpty(t, cfg.TranslateHub.Introduction)
	assert.Equal(t, 1, cfg.ASR.Recognizers())
}

func TestEnvironmentOverrides(t *testing.T) {
	offlineStages(t)
	t.Setenv("HUB_MAIN_LOOP_SLEEP", "20ms")
	t.Setenv("HUB_MAX_CALLS", "3")
	t.Setenv("HUB_LAST24_MAX_NUM_CALLS", "7")
	t.Setenv("HUB_MAX_CALL_LENGTH", "90")
	t.Setenv("HUB_INTRODUCTION", "Hello.| Speak now. |")
	t.Setenv("HUB_CALL_BACK_URI_SUBS", `[{pattern: "^sip:(.*)@old$", replacement: "sip:$1@new"}]`)
	t.Setenv("ASR_SECONDARY", "mock")
	t.Setenv("LOG_LEVEL", "verbose")

	cfg, err := Load(newTestLogger(), LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, 20*time.Millisecond, cfg.Hub.MainLoopSleep)
	assert.Equal(t, 3, cfg.Hub.MaxCalls)
	assert.Equal(t, 7, cfg.TranslateHub.Last24MaxNumCalls)
	assert.Equal(t, 90*time.Second, cfg.TranslateHub.MaxCallLength)
	assert.Equal(t, []string{"Hello.", "Speak now."}, cfg.TranslateHub.Introduction)
	require.Len(t, cfg.TranslateHub.CallBackURISubs, 1)
	assert.Equal(t, "sip:$1@new", cfg.TranslateHub.CallBackURISubs[0].Replacement)
	assert.Equal(t, 2, cfg.ASR.Recognizers())
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestYAMLFileWithEnvPrecedence(t *testing.T) {
	offlineStages(t)
	path := filepath.Join(t.TempDir(), "hub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
hub:
  max_calls: 10
translate_hub:
  closing: "Bye from YAML"
  introduction:
    - "First"
    - "Second"
    - "Third"
  blacklist_for: 30m
  call_back_uri: "sip:operator@example.com"
`), 0o644))
	t.Setenv("HUB_MAX_CALLS", "2")

	cfg, err := Load(newTestLogger(), LoadOptions{ConfigFile: path})
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Hub.MaxCalls)
	assert.Equal(t, "Bye from YAML", cfg.TranslateHub.Closing)
	assert.Equal(t, []string{"First", "Second", "Third"}, cfg.TranslateHub.Introduction)
	assert.Equal(t, 30*time.Minute, cfg.TranslateHub.BlacklistFor)
	assert.Equal(t, "sip:operator@example.com", cfg.TranslateHub.CallBackURI)
}

func TestValidationFailures(t *testing.T) {
	cases := map[string]map[string]string{
		"bad backend":      {"HUB_CALL_DB_BACKEND": "mysql"},
		"bad tick":         {"HUB_MAIN_LOOP_SLEEP": "0s"},
		"bad regexp":       {"HUB_CALL_BACK_URI_SUBS": `[{pattern: "(", replacement: "x"}]`},
		"rtp range":        {"RTP_PORT_MIN": "20000", "RTP_PORT_MAX": "10000"},
		"secondary only":   {"ASR_PRIMARY": "none", "ASR_SECONDARY": "mock"},
		"unknown mt":       {"MT_TYPE": "babelfish"},
		"gemini no key":    {"MT_TYPE": "gemini"},
		"cartesia no key":  {"TTS_TYPE": "cartesia", "CARTESIA_API_KEY": ""},
		"port conflict":    {"HTTP_PORT": "5060"},
		"negative calls":   {"HUB_MAX_CALLS": "-1"},
		"bad transport":    {"SIP_TRANSPORT": "sctp"},
		"unknown recogniz": {"ASR_PRIMARY": "whisper"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			offlineStages(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load(newTestLogger(), LoadOptions{})
			require.Error(t, err)
			assert.True(t, errors.IsErrorType(err, errors.ErrInvalidConfig), err.Error())
		})
	}
}

func TestHubOnlySkipsStageValidation(t *testing.T) {
	t.Setenv("TTS_TYPE", "cartesia")
	t.Setenv("CARTESIA_API_KEY", "")

	_, err := Load(newTestLogger(), LoadOptions{HubOnly: true})
	assert.NoError(t, err)
}

func TestApplyLogging(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "text"
	cfg.Logging.OutputFile = filepath.Join(t.TempDir(), "hub.log")

	logger := logrus.New()
	require.NoError(t, cfg.ApplyLogging(logger))
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	_, ok := logger.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)

	cfg.Logging.Level = "loud"
	assert.Error(t, cfg.ApplyLogging(logger))
}
