package config

import (
	"fmt"
	"os"
	"regexp"

	"translate-hub/pkg/errors"

	"github.com/sirupsen/logrus"
)

var (
	asrBackends = map[string]bool{"": true, "google": true, "amazon": true, "mock": true}
	mtBackends  = map[string]bool{"mtmonkey": true, "gemini": true, "mock": true}
	ttsBackends = map[string]bool{"cartesia": true, "tone": true}
)

func validateConfig(logger *logrus.Logger, config *Config, hubOnly bool) error {
	if config.Hub.MainLoopSleep <= 0 {
		return errors.NewInvalidConfig("HUB_MAIN_LOOP_SLEEP", "must be a positive duration")
	}
	if config.Hub.MaxCalls < 0 {
		return errors.NewInvalidConfig("HUB_MAX_CALLS", "must not be negative")
	}

	th := config.TranslateHub
	if th.CallDBBackend != "file" && th.CallDBBackend != "redis" {
		return errors.NewInvalidConfig("HUB_CALL_DB_BACKEND", fmt.Sprintf("unsupported backend %q", th.CallDBBackend))
	}
	if th.CallDBBackend == "file" && th.CallDB == "" {
		return errors.NewInvalidConfig("HUB_CALL_DB", "path is required for the file backend")
	}
	if th.Last24MaxNumCalls < 0 || th.Last24MaxTotalTime < 0 {
		return errors.NewInvalidConfig("HUB_LAST24_MAX", "thresholds must not be negative")
	}
	if th.MaxCallLength <= 0 {
		return errors.NewInvalidConfig("HUB_MAX_CALL_LENGTH", "must be a positive duration")
	}
	for _, sub := range th.CallBackURISubs {
		if _, err := regexp.Compile(sub.Pattern); err != nil {
			return errors.NewInvalidConfig("HUB_CALL_BACK_URI_SUBS", err.Error()).WithField("pattern", sub.Pattern)
		}
	}
	if len(th.Introduction) == 0 {
		logger.Warn("No introduction configured; translations start after the first call-connected tick")
	}

	if config.Logging.OutputFile != "" {
		f, err := os.OpenFile(config.Logging.OutputFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("cannot write to log file: %s", config.Logging.OutputFile))
		}
		f.Close()
	}

	if hubOnly {
		return nil
	}

	if config.HTTP.Enabled && config.HTTP.Port == config.SIP.Port {
		return errors.NewInvalidConfig("HTTP_PORT", fmt.Sprintf("port conflict with SIP port %d", config.SIP.Port))
	}
	if config.SIP.RTPPortMax <= config.SIP.RTPPortMin {
		return errors.NewInvalidConfig("RTP_PORT_MAX", "must be greater than RTP_PORT_MIN")
	}
	if config.SIP.Transport != "udp" && config.SIP.Transport != "tcp" {
		return errors.NewInvalidConfig("SIP_TRANSPORT", "must be udp or tcp")
	}

	if !asrBackends[config.ASR.Primary] || !asrBackends[config.ASR.Secondary] {
		return errors.NewInvalidConfig("ASR_PRIMARY/ASR_SECONDARY", "must be google, amazon, mock or empty")
	}
	if config.ASR.Primary == "" && config.ASR.Secondary != "" {
		return errors.NewInvalidConfig("ASR_SECONDARY", "requires ASR_PRIMARY")
	}
	if !mtBackends[config.MT.Type] {
		return errors.NewInvalidConfig("MT_TYPE", fmt.Sprintf("unsupported translator %q", config.MT.Type))
	}
	if config.MT.Type == "gemini" && config.MT.GeminiAPIKey == "" {
		return errors.NewInvalidConfig("MT_GEMINI_API_KEY", "required when MT_TYPE=gemini")
	}
	for name, tts := range map[string]TTSConfig{"TTS_TYPE": config.TTS, "SRC_TTS_TYPE": config.SourceTTS} {
		if !ttsBackends[tts.Type] {
			return errors.NewInvalidConfig(name, fmt.Sprintf("unsupported synthesizer %q", tts.Type))
		}
		if tts.Type == "cartesia" && tts.APIKey == "" {
			return errors.NewInvalidConfig("CARTESIA_API_KEY", "required for the cartesia synthesizer")
		}
	}

	return nil
}
