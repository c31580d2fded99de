package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"translate-hub/pkg/errors"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Hub          HubConfig          `yaml:"hub" json:"hub"`
	TranslateHub TranslateHubConfig `yaml:"translate_hub" json:"translate_hub"`
	Logging      LoggingConfig      `yaml:"logging" json:"logging"`
	HTTP         HTTPConfig         `yaml:"http" json:"http"`
	Messaging    MessagingConfig    `yaml:"messaging" json:"messaging"`
	Redis        RedisConfig        `yaml:"redis" json:"redis"`
	SIP          SIPConfig          `yaml:"sip" json:"sip"`
	VAD          VADConfig          `yaml:"vad" json:"vad"`
	ASR          ASRConfig          `yaml:"asr" json:"asr"`
	MT           MTConfig           `yaml:"mt" json:"mt"`
	TTS          TTSConfig          `yaml:"tts" json:"tts"`
	SourceTTS    TTSConfig          `yaml:"source_tts" json:"source_tts"`
}

// HubConfig holds the event loop settings
type HubConfig struct {
	MainLoopSleep time.Duration `yaml:"main_loop_sleep" json:"main_loop_sleep"`
	MaxCalls      int           `yaml:"max_calls" json:"max_calls"`
}

// CallbackSub is one regular expression substitution applied to the remote
// URI of a declined call to compute the call-back target
type CallbackSub struct {
	Pattern     string `yaml:"pattern" json:"pattern"`
	Replacement string `yaml:"replacement" json:"replacement"`
}

// TranslateHubConfig holds the call policy and the hub's spoken messages
type TranslateHubConfig struct {
	CallDB             string        `yaml:"call_db" json:"call_db"`
	CallDBBackend      string        `yaml:"call_db_backend" json:"call_db_backend"`
	Last24MaxNumCalls  int           `yaml:"last24_max_num_calls" json:"last24_max_num_calls"`
	Last24MaxTotalTime time.Duration `yaml:"last24_max_total_time" json:"last24_max_total_time"`
	BlacklistFor       time.Duration `yaml:"blacklist_for" json:"blacklist_for"`
	MaxCallLength      time.Duration `yaml:"max_call_length" json:"max_call_length"`

	Introduction    []string `yaml:"introduction" json:"introduction"`
	Closing         string   `yaml:"closing" json:"closing"`
	Rejected        string   `yaml:"rejected" json:"rejected"`
	IDontUnderstand string   `yaml:"i_dont_understand" json:"i_dont_understand"`
	ErrorMessage    string   `yaml:"error_message" json:"error_message"`

	WaitBeforeCallingBack time.Duration `yaml:"wait_before_calling_back" json:"wait_before_calling_back"`
	CallBackURI           string        `yaml:"call_back_uri" json:"call_back_uri"`
	CallBackURISubs       []CallbackSub `yaml:"call_back_uri_subs" json:"call_back_uri_subs"`

	SourceQuietPeriod time.Duration `yaml:"source_quiet_period" json:"source_quiet_period"`
	UserQuietPeriod   time.Duration `yaml:"user_quiet_period" json:"user_quiet_period"`
	PendingSegmentTTL time.Duration `yaml:"pending_segment_ttl" json:"pending_segment_ttl"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	OutputFile string `yaml:"output_file" json:"output_file"`
}

// HTTPConfig holds the monitoring server settings
type HTTPConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	Port          int           `yaml:"port" json:"port"`
	EnableMetrics bool          `yaml:"enable_metrics" json:"enable_metrics"`
	ReadTimeout   time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// MessagingConfig holds the AMQP session event settings
type MessagingConfig struct {
	AMQPUrl       string `yaml:"amqp_url" json:"amqp_url"`
	AMQPQueueName string `yaml:"amqp_queue_name" json:"amqp_queue_name"`
	AMQPExchange  string `yaml:"amqp_exchange" json:"amqp_exchange"`
}

// RedisConfig holds Redis settings for the call history backend
type RedisConfig struct {
	Address   string `yaml:"address" json:"address"`
	Password  string `yaml:"password" json:"-"`
	Database  int    `yaml:"database" json:"database"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// SIPConfig holds telephony settings
type SIPConfig struct {
	Host        string  `yaml:"host" json:"host"`
	Port        int     `yaml:"port" json:"port"`
	Transport   string  `yaml:"transport" json:"transport"`
	User        string  `yaml:"user" json:"user"`
	ExternalIP  string  `yaml:"external_ip" json:"external_ip"`
	RTPPortMin  int     `yaml:"rtp_port_min" json:"rtp_port_min"`
	RTPPortMax  int     `yaml:"rtp_port_max" json:"rtp_port_max"`
	InviteRPS   float64 `yaml:"invite_rps" json:"invite_rps"`
	InviteBurst int     `yaml:"invite_burst" json:"invite_burst"`
	// TrustedNetworks bypass the INVITE rate limit (IPs or CIDRs)
	TrustedNetworks []string `yaml:"trusted_networks" json:"trusted_networks"`
	// RejectCalls declines every incoming call so the hub calls back
	RejectCalls bool `yaml:"reject_calls" json:"reject_calls"`
}

// VADConfig holds voice activity detection settings
type VADConfig struct {
	Threshold     float64 `yaml:"threshold" json:"threshold"`
	HoldFrames    int     `yaml:"hold_frames" json:"hold_frames"`
	PrerollFrames int     `yaml:"preroll_frames" json:"preroll_frames"`
}

// ASRConfig selects and configures the recognizers
type ASRConfig struct {
	Primary   string          `yaml:"primary" json:"primary"`
	Secondary string          `yaml:"secondary" json:"secondary"`
	Language  string          `yaml:"language" json:"language"`
	Google    GoogleSTTConfig `yaml:"google" json:"google"`
	Amazon    AmazonSTTConfig `yaml:"amazon" json:"amazon"`
}

// GoogleSTTConfig holds Google Cloud Speech settings
type GoogleSTTConfig struct {
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
	APIKey          string `yaml:"api_key" json:"-"`
	Model           string `yaml:"model" json:"model"`
	MaxAlternatives int    `yaml:"max_alternatives" json:"max_alternatives"`
}

// AmazonSTTConfig holds Amazon Transcribe settings
type AmazonSTTConfig struct {
	AccessKeyID     string `yaml:"access_key_id" json:"-"`
	SecretAccessKey string `yaml:"secret_access_key" json:"-"`
	Region          string `yaml:"region" json:"region"`
	VocabularyName  string `yaml:"vocabulary_name" json:"vocabulary_name"`
}

// MTConfig configures the translator
type MTConfig struct {
	Type         string        `yaml:"type" json:"type"`
	MTMonkeyURL  string        `yaml:"mtmonkey_url" json:"mtmonkey_url"`
	SourceLang   string        `yaml:"source_lang" json:"source_lang"`
	TargetLang   string        `yaml:"target_lang" json:"target_lang"`
	GeminiAPIKey string        `yaml:"gemini_api_key" json:"-"`
	GeminiModel  string        `yaml:"gemini_model" json:"gemini_model"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
}

// TTSConfig configures one synthesizer
type TTSConfig struct {
	Type     string `yaml:"type" json:"type"`
	Voice    string `yaml:"voice" json:"voice"`
	Language string `yaml:"language" json:"language"`
	APIKey   string `yaml:"api_key" json:"-"`
}

// LoadOptions selects optional files read by Load
type LoadOptions struct {
	EnvFile    string
	ConfigFile string
	// HubOnly skips validation of stage backends, for offline tooling
	HubOnly bool
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Hub: HubConfig{
			MainLoopSleep: 10 * time.Millisecond,
		},
		TranslateHub: TranslateHubConfig{
			CallDB:             "call_db.json",
			CallDBBackend:      "file",
			Last24MaxNumCalls:  5,
			Last24MaxTotalTime: 10 * time.Minute,
			BlacklistFor:       2 * time.Hour,
			MaxCallLength:      5 * time.Minute,
			Introduction: []string{
				"Hello. You are talking to a speech translation service.",
				"Speak in short sentences and wait for the translation.",
			},
			Closing:               "The maximum length of the call was reached. Goodbye.",
			Rejected:              "You have reached the limit of calls for today. Please call later.",
			IDontUnderstand:       "Sorry, I did not understand. Please repeat.",
			ErrorMessage:          "Sorry, the translation service is not available right now.",
			WaitBeforeCallingBack: 10 * time.Second,
			SourceQuietPeriod:     5 * time.Second,
			UserQuietPeriod:       600 * time.Millisecond,
			PendingSegmentTTL:     10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		HTTP: HTTPConfig{
			Enabled:       true,
			Port:          8080,
			EnableMetrics: true,
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  30 * time.Second,
		},
		Messaging: MessagingConfig{
			AMQPQueueName: "translate_hub_sessions",
		},
		Redis: RedisConfig{
			Address:   "localhost:6379",
			KeyPrefix: "translate-hub:",
		},
		SIP: SIPConfig{
			Host:        "0.0.0.0",
			Port:        5060,
			Transport:   "udp",
			User:        "translate",
			RTPPortMin:  10000,
			RTPPortMax:  20000,
			InviteRPS:   1,
			InviteBurst: 5,
		},
		VAD: VADConfig{
			Threshold:     0.02,
			HoldFrames:    25,
			PrerollFrames: 10,
		},
		ASR: ASRConfig{
			Primary:  "google",
			Language: "en-US",
			Google: GoogleSTTConfig{
				Model:           "phone_call",
				MaxAlternatives: 5,
			},
			Amazon: AmazonSTTConfig{
				Region: "us-east-1",
			},
		},
		MT: MTConfig{
			Type:        "mtmonkey",
			MTMonkeyURL: "http://localhost:8080/translate",
			SourceLang:  "en",
			TargetLang:  "cs",
			GeminiModel: "gemini-2.5-flash",
			Timeout:     10 * time.Second,
		},
		TTS: TTSConfig{
			Type:     "cartesia",
			Language: "cs",
		},
		SourceTTS: TTSConfig{
			Type:     "cartesia",
			Language: "en",
		},
	}
}

// Load builds the configuration: defaults, then the optional YAML file, then
// environment variables (including those from .env files), then validation.
func Load(logger *logrus.Logger, opts LoadOptions) (*Config, error) {
	loadEnvFiles(logger, opts.EnvFile)

	config := Default()

	configFile := opts.ConfigFile
	if configFile == "" {
		configFile = os.Getenv("HUB_CONFIG_FILE")
	}
	if configFile != "" {
		if err := loadYAML(configFile, config); err != nil {
			return nil, err
		}
		logger.WithField("path", configFile).Info("Loaded configuration file")
	}

	if err := loadHubConfig(logger, config); err != nil {
		return nil, errors.Wrap(err, "failed to load hub configuration")
	}
	loadLoggingConfig(logger, &config.Logging)
	loadHTTPConfig(&config.HTTP)
	loadMessagingConfig(&config.Messaging)
	loadRedisConfig(&config.Redis)
	loadSIPConfig(&config.SIP)
	loadVADConfig(&config.VAD)
	loadASRConfig(logger, &config.ASR)
	loadMTConfig(&config.MT)
	loadTTSConfig(&config.TTS, "TTS")
	loadTTSConfig(&config.SourceTTS, "SRC_TTS")

	if err := validateConfig(logger, config, opts.HubOnly); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFiles(logger *logrus.Logger, explicit string) {
	if explicit != "" {
		if err := godotenv.Load(explicit); err != nil {
			logger.WithError(err).WithField("path", explicit).Warn("Failed to load env file")
		} else {
			logger.WithField("path", explicit).Info("Successfully loaded .env file")
		}
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "."
	}

	possibleEnvFiles := []string{
		".env",
		"../.env",
		filepath.Join(wd, ".env"),
	}

	for _, envFile := range possibleEnvFiles {
		if _, statErr := os.Stat(envFile); statErr != nil {
			continue
		}
		absPath, _ := filepath.Abs(envFile)
		if err := godotenv.Load(envFile); err == nil {
			logger.WithFields(logrus.Fields{
				"working_dir": wd,
				"path":        absPath,
			}).Info("Successfully loaded .env file")
			return
		}
	}

	logger.WithField("working_dir", wd).Debug("No .env file found, using environment variables only")
}

func loadYAML(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("failed to read config file: %s", path))
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return errors.NewInvalidConfig("config file", err.Error()).WithField("path", path)
	}
	return nil
}

func loadHubConfig(logger *logrus.Logger, config *Config) error {
	hub := &config.Hub
	hub.MainLoopSleep = getEnvDuration("HUB_MAIN_LOOP_SLEEP", hub.MainLoopSleep)
	hub.MaxCalls = getEnvInt("HUB_MAX_CALLS", hub.MaxCalls)

	th := &config.TranslateHub
	th.CallDB = getEnv("HUB_CALL_DB", th.CallDB)
	th.CallDBBackend = strings.ToLower(getEnv("HUB_CALL_DB_BACKEND", th.CallDBBackend))
	th.Last24MaxNumCalls = getEnvInt("HUB_LAST24_MAX_NUM_CALLS", th.Last24MaxNumCalls)
	th.Last24MaxTotalTime = getEnvDuration("HUB_LAST24_MAX_TOTAL_TIME", th.Last24MaxTotalTime)
	th.BlacklistFor = getEnvDuration("HUB_BLACKLIST_FOR", th.BlacklistFor)
	th.MaxCallLength = getEnvDuration("HUB_MAX_CALL_LENGTH", th.MaxCallLength)
	th.Introduction = getEnvList("HUB_INTRODUCTION", "|", th.Introduction)
	th.Closing = getEnv("HUB_CLOSING", th.Closing)
	th.Rejected = getEnv("HUB_REJECTED", th.Rejected)
	th.IDontUnderstand = getEnv("HUB_I_DONT_UNDERSTAND", th.IDontUnderstand)
	th.ErrorMessage = getEnv("HUB_ERROR_MESSAGE", th.ErrorMessage)
	th.WaitBeforeCallingBack = getEnvDuration("HUB_WAIT_BEFORE_CALLING_BACK", th.WaitBeforeCallingBack)
	th.CallBackURI = getEnv("HUB_CALL_BACK_URI", th.CallBackURI)
	th.SourceQuietPeriod = getEnvDuration("HUB_SOURCE_QUIET_PERIOD", th.SourceQuietPeriod)
	th.UserQuietPeriod = getEnvDuration("HUB_USER_QUIET_PERIOD", th.UserQuietPeriod)
	th.PendingSegmentTTL = getEnvDuration("HUB_PENDING_SEGMENT_TTL", th.PendingSegmentTTL)

	if raw := os.Getenv("HUB_CALL_BACK_URI_SUBS"); raw != "" {
		var subs []CallbackSub
		if err := yaml.Unmarshal([]byte(raw), &subs); err != nil {
			return errors.NewInvalidConfig("HUB_CALL_BACK_URI_SUBS", err.Error())
		}
		th.CallBackURISubs = subs
		logger.WithField("count", len(subs)).Debug("Loaded call-back URI substitutions")
	}

	return nil
}

func loadLoggingConfig(logger *logrus.Logger, config *LoggingConfig) {
	config.Level = getEnv("LOG_LEVEL", config.Level)
	if _, err := logrus.ParseLevel(config.Level); err != nil {
		logger.Warnf("Invalid LOG_LEVEL '%s', defaulting to 'info'", config.Level)
		config.Level = "info"
	}

	config.Format = getEnv("LOG_FORMAT", config.Format)
	if config.Format != "json" && config.Format != "text" {
		logger.Warn("Invalid LOG_FORMAT, must be 'json' or 'text', defaulting to 'json'")
		config.Format = "json"
	}

	config.OutputFile = getEnv("LOG_OUTPUT_FILE", config.OutputFile)
}

func loadHTTPConfig(config *HTTPConfig) {
	config.Enabled = getEnvBool("HTTP_ENABLED", config.Enabled)
	config.Port = getEnvInt("HTTP_PORT", config.Port)
	config.EnableMetrics = getEnvBool("HTTP_ENABLE_METRICS", config.EnableMetrics)
	config.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", config.ReadTimeout)
	config.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", config.WriteTimeout)
}

func loadMessagingConfig(config *MessagingConfig) {
	config.AMQPUrl = getEnv("AMQP_URL", config.AMQPUrl)
	config.AMQPQueueName = getEnv("AMQP_QUEUE_NAME", config.AMQPQueueName)
	config.AMQPExchange = getEnv("AMQP_EXCHANGE", config.AMQPExchange)
}

func loadRedisConfig(config *RedisConfig) {
	config.Address = getEnv("REDIS_ADDRESS", config.Address)
	config.Password = getEnv("REDIS_PASSWORD", config.Password)
	config.Database = getEnvInt("REDIS_DATABASE", config.Database)
	config.KeyPrefix = getEnv("REDIS_KEY_PREFIX", config.KeyPrefix)
}

func loadSIPConfig(config *SIPConfig) {
	config.Host = getEnv("SIP_HOST", config.Host)
	config.Port = getEnvInt("SIP_PORT", config.Port)
	config.Transport = strings.ToLower(getEnv("SIP_TRANSPORT", config.Transport))
	config.User = getEnv("SIP_USER", config.User)
	config.ExternalIP = getEnv("EXTERNAL_IP", config.ExternalIP)
	config.RTPPortMin = getEnvInt("RTP_PORT_MIN", config.RTPPortMin)
	config.RTPPortMax = getEnvInt("RTP_PORT_MAX", config.RTPPortMax)
	config.InviteRPS = getEnvFloat("SIP_INVITE_RPS", config.InviteRPS)
	config.InviteBurst = getEnvInt("SIP_INVITE_BURST", config.InviteBurst)
	config.TrustedNetworks = getEnvList("SIP_TRUSTED_NETWORKS", ",", config.TrustedNetworks)
	config.RejectCalls = getEnvBool("SIP_REJECT_CALLS", config.RejectCalls)
}

func loadVADConfig(config *VADConfig) {
	config.Threshold = getEnvFloat("VAD_THRESHOLD", config.Threshold)
	config.HoldFrames = getEnvInt("VAD_HOLD_FRAMES", config.HoldFrames)
	config.PrerollFrames = getEnvInt("VAD_PREROLL_FRAMES", config.PrerollFrames)
}

func loadASRConfig(logger *logrus.Logger, config *ASRConfig) {
	config.Primary = recognizerName(getEnv("ASR_PRIMARY", config.Primary))
	config.Secondary = recognizerName(getEnv("ASR_SECONDARY", config.Secondary))
	config.Language = getEnv("ASR_LANGUAGE", config.Language)

	g := &config.Google
	g.CredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", g.CredentialsFile)
	g.APIKey = getEnv("GOOGLE_STT_API_KEY", g.APIKey)
	g.Model = getEnv("GOOGLE_STT_MODEL", g.Model)
	g.MaxAlternatives = getEnvInt("GOOGLE_STT_MAX_ALTERNATIVES", g.MaxAlternatives)

	a := &config.Amazon
	a.AccessKeyID = getEnv("AWS_ACCESS_KEY_ID", a.AccessKeyID)
	a.SecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", a.SecretAccessKey)
	a.Region = getEnv("AWS_REGION", a.Region)
	a.VocabularyName = getEnv("AMAZON_STT_VOCABULARY", a.VocabularyName)

	if config.uses("google") && g.CredentialsFile == "" && g.APIKey == "" {
		logger.Warn("Google STT selected but neither GOOGLE_APPLICATION_CREDENTIALS nor GOOGLE_STT_API_KEY is set")
	}
	if config.uses("amazon") && (a.AccessKeyID == "" || a.SecretAccessKey == "") {
		logger.Warn("Amazon STT selected without static credentials, falling back to the default AWS chain")
	}
}

func loadMTConfig(config *MTConfig) {
	config.Type = strings.ToLower(getEnv("MT_TYPE", config.Type))
	config.MTMonkeyURL = getEnv("MT_MTMONKEY_URL", config.MTMonkeyURL)
	config.SourceLang = getEnv("MT_SOURCE_LANG", config.SourceLang)
	config.TargetLang = getEnv("MT_TARGET_LANG", config.TargetLang)
	config.GeminiAPIKey = getEnv("MT_GEMINI_API_KEY", config.GeminiAPIKey)
	config.GeminiModel = getEnv("MT_GEMINI_MODEL", config.GeminiModel)
	config.Timeout = getEnvDuration("MT_TIMEOUT", config.Timeout)
}

func loadTTSConfig(config *TTSConfig, prefix string) {
	config.Type = strings.ToLower(getEnv(prefix+"_TYPE", config.Type))
	config.Voice = getEnv(prefix+"_VOICE", config.Voice)
	config.Language = getEnv(prefix+"_LANGUAGE", config.Language)
	config.APIKey = getEnv("CARTESIA_API_KEY", config.APIKey)
}

// recognizerName normalizes a backend name; "none" disables the recognizer
func recognizerName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "none" {
		return ""
	}
	return name
}

// Recognizers returns the number of configured recognizers
func (a ASRConfig) Recognizers() int {
	n := 0
	if a.Primary != "" {
		n++
	}
	if a.Secondary != "" {
		n++
	}
	return n
}

func (a ASRConfig) uses(backend string) bool {
	return a.Primary == backend || a.Secondary == backend
}

// ApplyLogging configures logger from the logging section
func (c *Config) ApplyLogging(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("invalid log level: %s", c.Logging.Level))
	}
	logger.SetLevel(level)

	if c.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	}

	if c.Logging.OutputFile != "" {
		f, err := os.OpenFile(c.Logging.OutputFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("failed to open log file: %s", c.Logging.OutputFile))
		}
		logger.SetOutput(f)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return nil
}
