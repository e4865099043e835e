package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Credential environment variables. A non-blank value selects the cloud tier.
const (
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvGeminiKey    = "GEMINI_API_KEY"
	EnvMistralKey   = "MISTRAL_API_KEY"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Transcribe TranscribeConfig `yaml:"transcribe" mapstructure:"transcribe"`
	Analyze    AnalyzeConfig    `yaml:"analyze" mapstructure:"analyze"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run-history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// FetchConfig configures the acquisition stage.
type FetchConfig struct {
	AdaptersFile       string   `yaml:"adapters_file" mapstructure:"adapters_file"`
	YtDlpPath          string   `yaml:"ytdlp_path" mapstructure:"ytdlp_path"`
	Browsers           []string `yaml:"browsers" mapstructure:"browsers"`
	AdapterTimeoutSecs int      `yaml:"adapter_timeout_secs" mapstructure:"adapter_timeout_secs"`
	TailChars          int      `yaml:"tail_chars" mapstructure:"tail_chars"`
	UserAgent          string   `yaml:"user_agent" mapstructure:"user_agent"`
	ArticleRPS         float64  `yaml:"article_rps" mapstructure:"article_rps"`
	ArticleTimeoutSecs int      `yaml:"article_timeout_secs" mapstructure:"article_timeout_secs"`
}

// ExtractConfig configures the signal-extraction stage.
type ExtractConfig struct {
	FFmpegPath       string  `yaml:"ffmpeg_path" mapstructure:"ffmpeg_path"`
	FFprobePath      string  `yaml:"ffprobe_path" mapstructure:"ffprobe_path"`
	SceneThreshold   float64 `yaml:"scene_threshold" mapstructure:"scene_threshold"`
	MaxSceneFrames   int     `yaml:"max_scene_frames" mapstructure:"max_scene_frames"`
	MaxSampledFrames int     `yaml:"max_sampled_frames" mapstructure:"max_sampled_frames"`
	MaxImages        int     `yaml:"max_images" mapstructure:"max_images"`
	OCRWorkers       int     `yaml:"ocr_workers" mapstructure:"ocr_workers"`
	MediaTimeoutSecs int     `yaml:"media_timeout_secs" mapstructure:"media_timeout_secs"`
}

// OCRConfig configures the text recognizers.
type OCRConfig struct {
	RapidOCRURL    string `yaml:"rapidocr_url" mapstructure:"rapidocr_url"`
	TesseractPath  string `yaml:"tesseract_path" mapstructure:"tesseract_path"`
	TesseractLangs string `yaml:"tesseract_langs" mapstructure:"tesseract_langs"`
	MistralKey     string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel   string `yaml:"mistral_model" mapstructure:"mistral_model"`
	MistralBaseURL string `yaml:"mistral_base_url" mapstructure:"mistral_base_url"`
	CacheSize      int    `yaml:"cache_size" mapstructure:"cache_size"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// TranscribeConfig configures the speech-to-text engines.
type TranscribeConfig struct {
	OpenAIKey     string  `yaml:"openai_api_key" mapstructure:"openai_api_key"`
	OpenAIModel   string  `yaml:"openai_model" mapstructure:"openai_model"`
	OpenAIBaseURL string  `yaml:"openai_base_url" mapstructure:"openai_base_url"`
	GeminiKey     string  `yaml:"gemini_api_key" mapstructure:"gemini_api_key"`
	GeminiModel   string  `yaml:"gemini_model" mapstructure:"gemini_model"`
	WhisperPath   string  `yaml:"whisper_path" mapstructure:"whisper_path"`
	WhisperModel  string  `yaml:"whisper_model" mapstructure:"whisper_model"`
	VADModel      string  `yaml:"vad_model" mapstructure:"vad_model"`
	Language      string  `yaml:"language" mapstructure:"language"`
	BeamSize      int     `yaml:"beam_size" mapstructure:"beam_size"`
	RPS           float64 `yaml:"rps" mapstructure:"rps"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnalyzeConfig configures the analysis stage.
type AnalyzeConfig struct {
	AnthropicKey string `yaml:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	Model        string `yaml:"model" mapstructure:"model"`
	MaxTokens    int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PipelineConfig configures the end-to-end orchestrator.
type PipelineConfig struct {
	OutputRoot      string `yaml:"output_root" mapstructure:"output_root"`
	SaveArtifacts   string `yaml:"save_artifacts" mapstructure:"save_artifacts"`
	StepTimeoutSecs int    `yaml:"step_timeout_secs" mapstructure:"step_timeout_secs"`
	TailChars       int    `yaml:"tail_chars" mapstructure:"tail_chars"`
}

// ServerConfig configures the HTTP trigger API.
type ServerConfig struct {
	Port              int `yaml:"port" mapstructure:"port"`
	MaxConcurrentRuns int `yaml:"max_concurrent_runs" mapstructure:"max_concurrent_runs"`
}

// MonitoringConfig configures run-failure alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// HasCredential reports whether a resolved credential value is usable.
// Whitespace-only values count as unset.
func HasCredential(value string) bool {
	return strings.TrimSpace(value) != ""
}

// Load reads configuration from .env, the config file and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("breakdown")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.breakdown")

	// Environment
	v.SetEnvPrefix("BREAKDOWN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range map[string]string{
		"transcribe.openai_api_key": EnvOpenAIKey,
		"transcribe.gemini_api_key": EnvGeminiKey,
		"ocr.mistral_api_key":       EnvMistralKey,
		"analyze.anthropic_api_key": EnvAnthropicKey,
	} {
		if err := v.BindEnv(key, "BREAKDOWN_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", env)
		}
	}

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "breakdown.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_concurrent_runs", 2)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("fetch.ytdlp_path", "yt-dlp")
	v.SetDefault("fetch.browsers", []string{"chrome", "chromium", "firefox", "safari"})
	v.SetDefault("fetch.adapter_timeout_secs", 300)
	v.SetDefault("fetch.tail_chars", 2000)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("fetch.article_rps", 1.0)
	v.SetDefault("fetch.article_timeout_secs", 30)
	v.SetDefault("extract.ffmpeg_path", "ffmpeg")
	v.SetDefault("extract.ffprobe_path", "ffprobe")
	v.SetDefault("extract.scene_threshold", 0.35)
	v.SetDefault("extract.max_scene_frames", 8)
	v.SetDefault("extract.max_sampled_frames", 9)
	v.SetDefault("extract.max_images", 10)
	v.SetDefault("extract.ocr_workers", 4)
	v.SetDefault("extract.media_timeout_secs", 120)
	v.SetDefault("ocr.rapidocr_url", "http://127.0.0.1:9003/ocr")
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.tesseract_langs", "chi_sim+eng")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("ocr.mistral_base_url", "https://api.mistral.ai/v1")
	v.SetDefault("ocr.cache_size", 256)
	v.SetDefault("ocr.timeout_secs", 60)
	v.SetDefault("transcribe.openai_model", "gpt-4o-mini-transcribe")
	v.SetDefault("transcribe.openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("transcribe.gemini_model", "gemini-2.5-flash")
	v.SetDefault("transcribe.whisper_path", "whisper-cli")
	v.SetDefault("transcribe.whisper_model", "models/ggml-small.bin")
	v.SetDefault("transcribe.vad_model", "models/ggml-silero-v5.1.2.bin")
	v.SetDefault("transcribe.language", "zh")
	v.SetDefault("transcribe.beam_size", 5)
	v.SetDefault("transcribe.rps", 2.0)
	v.SetDefault("transcribe.timeout_secs", 600)
	v.SetDefault("analyze.model", "claude-haiku-4-5-20251001")
	v.SetDefault("analyze.max_tokens", 1024)
	v.SetDefault("pipeline.output_root", "outputs")
	v.SetDefault("pipeline.save_artifacts", "ask")
	v.SetDefault("pipeline.step_timeout_secs", 1800)
	v.SetDefault("pipeline.tail_chars", 2000)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger. Output goes to stderr so that
// stage commands keep stdout for their result path.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.OutputPaths = []string{"stderr"}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
