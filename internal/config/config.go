package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var ErrEmptyEnvironmentVariable = errors.New("empty environment variable")

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Providers  ProvidersConfig
	Call       CallConfig
	Knowledge  KnowledgeConfig
	Automation AutomationConfig
	Telephony  TelephonyConfig
	Email      EmailConfig
	Server     ServerConfig
	Logging    LoggingConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	Host            string
	Username        string
	Password        string
	Name            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// RedisConfig holds cache connection settings
type RedisConfig struct {
	Enabled       bool
	URL           string
	Host          string
	Port          int
	Password      string
	DB            int
	PoolSize      int
	SocketTimeout time.Duration
}

// AuthConfig holds authentication-related configuration
type AuthConfig struct {
	SecretKey        string
	Issuer           string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	MaxLoginAttempts int
	LockoutDuration  time.Duration
}

// VendorConfig describes one external AI vendor.
type VendorConfig struct {
	APIKey  string `yaml:"-"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Voice   string `yaml:"voice"`
}

// ProvidersConfig holds vendor credentials and the default chain order per capability.
type ProvidersConfig struct {
	OpenAI     VendorConfig
	Anthropic  VendorConfig
	Mistral    VendorConfig
	Gemini     VendorConfig
	Munsit     VendorConfig
	ElevenLabs VendorConfig

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	STTOrder       []string
	LLMOrder       []string
	TTSOrder       []string
	EmbeddingOrder []string
}

// CallConfig holds call and session limits
type CallConfig struct {
	DefaultLanguage    string
	MaxConcurrentCalls int
	CallTimeout        time.Duration
	TurnTimeout        time.Duration
	MaxSessionDuration time.Duration
	SilenceTimeout     time.Duration
	MaxSessionErrors   int
	ContextTurns       int
	SweepInterval      time.Duration
}

// KnowledgeConfig holds ingestion and retrieval settings
type KnowledgeConfig struct {
	ChunkSize         int
	ChunkOverlap      int
	MinChunkSize      int
	TopK              int
	MinScore          float64
	MaxFileSize       int64
	AllowedExtensions []string
	Workers           int
}

// AutomationConfig holds worker pool settings for action dispatch
type AutomationConfig struct {
	Workers        int
	QueueSize      int
	WebhookTimeout time.Duration
}

// TelephonyConfig holds Twilio settings
type TelephonyConfig struct {
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	PublicBaseURL    string
}

// EmailConfig holds transactional email settings
type EmailConfig struct {
	ResendAPIKey  string
	DefaultSender string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int
	Environment  string
	Title        string
	Version      string
	CORSOrigins  []string
	RateLimitRPM int
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level string
	JSON  bool
}

// IsProduction reports whether the service runs in production.
func (s ServerConfig) IsProduction() bool {
	return s.Environment == "production"
}

// Load reads all environment variables. Only SECRET_KEY is mandatory and only in production,
// everything else has a default so the process can start with nothing configured.
func Load() (*Config, error) {
	if os.Getenv("GO_ENV") != "production" {
		// env.local is optional for local runs
		_ = godotenv.Load("env.local")
	}

	cfg := &Config{}
	var err error

	cfg.Server.Environment = getEnvWithDefault("ENVIRONMENT", getEnvWithDefault("GO_ENV", "development"))
	cfg.Server.Title = getEnvWithDefault("APP_TITLE", "AI Hotline Backend")
	cfg.Server.Version = getEnvWithDefault("APP_VERSION", "1.0.0")
	cfg.Server.CORSOrigins = getList("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:8080"})
	if cfg.Server.Port, err = getInt("PORT", 8000); err != nil {
		return nil, err
	}
	if cfg.Server.RateLimitRPM, err = getInt("RATE_LIMIT_RPM", 120); err != nil {
		return nil, err
	}

	cfg.Logging.Level = getEnvWithDefault("LOG_LEVEL", "info")
	if cfg.Logging.JSON, err = getBool("LOG_JSON", true); err != nil {
		return nil, err
	}

	// Database
	cfg.Database.URL = os.Getenv("DATABASE_URL")
	cfg.Database.Host = os.Getenv("DB_HOST")
	cfg.Database.Username = os.Getenv("DB_USERNAME")
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	cfg.Database.Name = os.Getenv("DB_NAME")
	if cfg.Database.MaxOpenConns, err = getInt("DB_POOL_MAX_OPEN", 10); err != nil {
		return nil, err
	}
	if cfg.Database.MaxIdleConns, err = getInt("DB_POOL_MAX_IDLE", 5); err != nil {
		return nil, err
	}
	if cfg.Database.ConnMaxLifetime, err = getDuration("DB_POOL_RECYCLE", time.Hour); err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate, err = getBool("DB_AUTO_MIGRATE", false); err != nil {
		return nil, err
	}

	// Redis
	cfg.Redis.URL = os.Getenv("REDIS_URL")
	cfg.Redis.Host = os.Getenv("REDIS_HOST")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if cfg.Redis.Port, err = getInt("REDIS_PORT", 6379); err != nil {
		return nil, err
	}
	if cfg.Redis.DB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.Redis.PoolSize, err = getInt("REDIS_MAX_CONNECTIONS", 10); err != nil {
		return nil, err
	}
	if cfg.Redis.SocketTimeout, err = getDuration("REDIS_SOCKET_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.Redis.Enabled, err = getBool("REDIS_ENABLED", cfg.Redis.URL != "" || cfg.Redis.Host != ""); err != nil {
		return nil, err
	}

	// Auth
	if cfg.Server.IsProduction() {
		if cfg.Auth.SecretKey, err = requireEnv("SECRET_KEY"); err != nil {
			return nil, err
		}
	} else {
		cfg.Auth.SecretKey = getEnvWithDefault("SECRET_KEY", "dev-secret-key-change-me")
	}
	cfg.Auth.Issuer = getEnvWithDefault("JWT_ISSUER", "ai-hotline")
	if cfg.Auth.AccessTokenTTL, err = getDuration("ACCESS_TOKEN_TTL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Auth.RefreshTokenTTL, err = getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Auth.MaxLoginAttempts, err = getInt("MAX_LOGIN_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.Auth.LockoutDuration, err = getDuration("LOCKOUT_DURATION", 30*time.Minute); err != nil {
		return nil, err
	}

	// Providers
	p := &cfg.Providers
	p.OpenAI = vendor("OPENAI", "https://api.openai.com/v1", "gpt-4o-mini", "alloy")
	p.Anthropic = vendor("ANTHROPIC", "https://api.anthropic.com/v1", "claude-3-5-haiku-latest", "")
	p.Mistral = vendor("MISTRAL", "https://api.mistral.ai/v1", "mistral-small-latest", "")
	p.Gemini = vendor("GEMINI", "", "gemini-1.5-flash", "")
	if p.Gemini.APIKey == "" {
		p.Gemini.APIKey = os.Getenv("GOOGLE_AI_API_KEY")
	}
	p.Munsit = vendor("MUNSIT", "https://api.munsit.ai/v1", "munsit-egyptian", "")
	p.ElevenLabs = vendor("ELEVENLABS", "https://api.elevenlabs.io/v1", "eleven_multilingual_v2", "21m00Tcm4TlvDq8ikWAM")
	if p.Timeout, err = getDuration("API_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if p.MaxRetries, err = getInt("API_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if p.RetryDelay, err = getDuration("API_RETRY_DELAY", time.Second); err != nil {
		return nil, err
	}
	p.STTOrder = getList("STT_PROVIDERS", []string{"munsit", "openai"})
	p.LLMOrder = getList("LLM_PROVIDERS", []string{"openai", "anthropic", "gemini", "mistral"})
	p.TTSOrder = getList("TTS_PROVIDERS", []string{"elevenlabs", "openai"})
	p.EmbeddingOrder = getList("EMBEDDING_PROVIDERS", []string{"openai", "gemini", "mistral"})
	if path := os.Getenv("PROVIDERS_FILE"); path != "" {
		if err := p.applyFile(path); err != nil {
			return nil, err
		}
	}

	// Calls
	c := &cfg.Call
	c.DefaultLanguage = getEnvWithDefault("DEFAULT_LANGUAGE", "ar-EG")
	if c.MaxConcurrentCalls, err = getInt("MAX_CONCURRENT_CALLS", 100); err != nil {
		return nil, err
	}
	if c.CallTimeout, err = getDuration("CALL_TIMEOUT", 30*time.Minute); err != nil {
		return nil, err
	}
	if c.TurnTimeout, err = getDuration("TURN_TIMEOUT", 45*time.Second); err != nil {
		return nil, err
	}
	if c.MaxSessionDuration, err = getDuration("MAX_SESSION_DURATION", 30*time.Minute); err != nil {
		return nil, err
	}
	if c.SilenceTimeout, err = getDuration("SILENCE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if c.MaxSessionErrors, err = getInt("MAX_SESSION_ERRORS", 3); err != nil {
		return nil, err
	}
	if c.ContextTurns, err = getInt("CONTEXT_TURNS", 10); err != nil {
		return nil, err
	}
	if c.SweepInterval, err = getDuration("SESSION_SWEEP_INTERVAL", 15*time.Second); err != nil {
		return nil, err
	}

	// Knowledge
	k := &cfg.Knowledge
	if k.ChunkSize, err = getInt("CHUNK_SIZE", 512); err != nil {
		return nil, err
	}
	if k.ChunkOverlap, err = getInt("CHUNK_OVERLAP", 64); err != nil {
		return nil, err
	}
	if k.MinChunkSize, err = getInt("MIN_CHUNK_SIZE", 20); err != nil {
		return nil, err
	}
	if k.TopK, err = getInt("RETRIEVAL_TOP_K", 4); err != nil {
		return nil, err
	}
	if k.MinScore, err = getFloat("RETRIEVAL_MIN_SCORE", 0.2); err != nil {
		return nil, err
	}
	maxFile, err := getInt("MAX_FILE_SIZE", 50*1024*1024)
	if err != nil {
		return nil, err
	}
	k.MaxFileSize = int64(maxFile)
	k.AllowedExtensions = getList("ALLOWED_EXTENSIONS", []string{".pdf", ".docx", ".txt", ".md", ".wav", ".mp3", ".m4a"})
	if k.Workers, err = getInt("INGESTION_WORKERS", 2); err != nil {
		return nil, err
	}

	// Automation
	if cfg.Automation.Workers, err = getInt("AUTOMATION_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.Automation.QueueSize, err = getInt("AUTOMATION_QUEUE_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.Automation.WebhookTimeout, err = getDuration("AUTOMATION_WEBHOOK_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	// Telephony and email
	cfg.Telephony.TwilioAccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	cfg.Telephony.TwilioAuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	cfg.Telephony.TwilioFromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	cfg.Telephony.PublicBaseURL = strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/")
	cfg.Email.ResendAPIKey = os.Getenv("RESEND_API_KEY")
	cfg.Email.DefaultSender = getEnvWithDefault("DEFAULT_EMAIL_SENDER_ADDRESS", "hotline@localhost")

	return cfg, nil
}

// ConnectionString returns a PostgreSQL connection string, or "" when nothing is configured.
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	if c.Host == "" || c.Name == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s/%s",
		c.Username, c.Password, c.Host, c.Name)
}

// providersFile is the shape of PROVIDERS_FILE.
type providersFile struct {
	Order struct {
		STT       []string `yaml:"stt"`
		LLM       []string `yaml:"llm"`
		TTS       []string `yaml:"tts"`
		Embedding []string `yaml:"embedding"`
	} `yaml:"order"`
	Vendors map[string]VendorConfig `yaml:"vendors"`
}

func (p *ProvidersConfig) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read providers file: %w", err)
	}
	return p.applyYAML(raw)
}

func (p *ProvidersConfig) applyYAML(raw []byte) error {
	var f providersFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("failed to parse providers file: %w", err)
	}
	if len(f.Order.STT) > 0 {
		p.STTOrder = f.Order.STT
	}
	if len(f.Order.LLM) > 0 {
		p.LLMOrder = f.Order.LLM
	}
	if len(f.Order.TTS) > 0 {
		p.TTSOrder = f.Order.TTS
	}
	if len(f.Order.Embedding) > 0 {
		p.EmbeddingOrder = f.Order.Embedding
	}
	targets := map[string]*VendorConfig{
		"openai":     &p.OpenAI,
		"anthropic":  &p.Anthropic,
		"mistral":    &p.Mistral,
		"gemini":     &p.Gemini,
		"munsit":     &p.Munsit,
		"elevenlabs": &p.ElevenLabs,
	}
	for name, v := range f.Vendors {
		target, ok := targets[strings.ToLower(name)]
		if !ok {
			return fmt.Errorf("unknown vendor %q in providers file", name)
		}
		if v.BaseURL != "" {
			target.BaseURL = v.BaseURL
		}
		if v.Model != "" {
			target.Model = v.Model
		}
		if v.Voice != "" {
			target.Voice = v.Voice
		}
	}
	return nil
}

func vendor(prefix, baseURL, model, voice string) VendorConfig {
	return VendorConfig{
		APIKey:  os.Getenv(prefix + "_API_KEY"),
		BaseURL: strings.TrimRight(getEnvWithDefault(prefix+"_BASE_URL", baseURL), "/"),
		Model:   getEnvWithDefault(prefix+"_MODEL", model),
		Voice:   getEnvWithDefault(prefix+"_VOICE", voice),
	}
}

// requireEnv retrieves an environment variable or returns an error if empty
func requireEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s is not set: %w", key, ErrEmptyEnvironmentVariable)
	}
	return value, nil
}

// getEnvWithDefault retrieves an environment variable or returns a default value
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return v, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return v, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return v, nil
}

// getDuration accepts Go durations ("30s") or a bare number of seconds ("30").
func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return v, nil
}

func getList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
