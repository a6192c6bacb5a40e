package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Storage     StorageConfig
	Queue       QueueConfig
	Dedup       DedupConfig
	Classify    ClassifyConfig
	Providers   ProvidersConfig
	Pipeline    PipelineConfig
	Categories  CategoriesConfig
	Subscribers SubscribersConfig
	Telegram    TelegramConfig
	Delivery    DeliveryConfig
	Kafka       KafkaConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type LogConfig struct {
	Level  string
	Format string
}

type StorageConfig struct {
	DataDir string
}

type QueueConfig struct {
	Capacity        int
	CleanupInterval time.Duration
	RetentionDays   int
	StaleAfter      time.Duration
	ClearOnStart    bool
}

type DedupConfig struct {
	WindowSeconds int
	MaxSize       int
}

type ClassifyConfig struct {
	Timeout          time.Duration
	CacheTTL         time.Duration
	CacheSize        int
	RPS              float64
	DeliverThreshold float64
	DiscardThreshold float64
}

type ProviderConfig struct {
	Enabled bool
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// ProvidersConfig lists the classification chain in call order. DeepSeek,
// GLM and OSS are extra OpenRouter models and share its base URL and key.
type ProvidersConfig struct {
	OpenRouter ProviderConfig
	DeepSeek   ProviderConfig
	GLM        ProviderConfig
	OSS        ProviderConfig
	OpenAI     ProviderConfig
	Ollama     ProviderConfig
}

type PipelineConfig struct {
	Workers          int
	AllowedChats     string
	IgnoreBotSenders bool
}

type CategoriesConfig struct {
	Path           string
	ReloadInterval time.Duration
}

type SubscribersConfig struct {
	Backend     string
	Path        string
	PostgresDSN string
}

type TelegramConfig struct {
	APIURL        string
	ProxyURL      string
	BotToken      string
	ListenerToken string
	SelfUsername  string
	AdminID       int64
	TargetBotID   int64
	PollTimeout   int
}

type DeliveryConfig struct {
	SendNotifications bool
	NotifySendErrors  bool
	AdminReview       bool
}

type KafkaConfig struct {
	Brokers string
	Topic   string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: 4100},
		Log:    LogConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Queue: QueueConfig{
			Capacity:        10000,
			CleanupInterval: 24 * time.Hour,
			RetentionDays:   7,
			StaleAfter:      time.Hour,
		},
		Dedup: DedupConfig{WindowSeconds: 600, MaxSize: 20000},
		Classify: ClassifyConfig{
			Timeout:          60 * time.Second,
			CacheTTL:         12 * time.Hour,
			CacheSize:        5000,
			RPS:              3,
			DeliverThreshold: 0.79,
			DiscardThreshold: 0.70,
		},
		Providers: ProvidersConfig{
			OpenRouter: ProviderConfig{Enabled: true, BaseURL: "https://openrouter.ai/api/v1", Model: "x-ai/grok-4-fast:free"},
			DeepSeek:   ProviderConfig{Enabled: true, Model: "deepseek/deepseek-chat-v3.1:free"},
			GLM:        ProviderConfig{Enabled: true, Model: "z-ai/glm-4.5-air:free"},
			OSS:        ProviderConfig{Enabled: true, Model: "openai/gpt-oss-20b:free"},
			OpenAI:     ProviderConfig{Enabled: true, BaseURL: "https://api.openai.com/v1", Model: "gpt-5-nano"},
			Ollama:     ProviderConfig{BaseURL: "http://localhost:11434", Model: "qwen2.5:3b"},
		},
		Pipeline: PipelineConfig{Workers: 2, IgnoreBotSenders: true},
		Categories: CategoriesConfig{
			Path:           "categories.json",
			ReloadInterval: 5 * time.Second,
		},
		Subscribers: SubscribersConfig{Backend: "file", Path: "subscriptions.json"},
		Telegram: TelegramConfig{
			APIURL:      "https://api.telegram.org",
			PollTimeout: 30,
		},
		Delivery: DeliveryConfig{
			SendNotifications: true,
			NotifySendErrors:  true,
			AdminReview:       true,
		},
		Kafka: KafkaConfig{Topic: "leads"},
	}
}

// Load builds the configuration from defaults, the JSON config file, a .env
// file in the working directory, LEADBOT_* environment variables and, for
// secrets still unset, the secrets file. Variables already present in the
// environment win over .env.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), fileSecrets{path: secretsFilePath()}, ".env")
}

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(key string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretStore, envFiles ...string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	for _, f := range envFiles {
		// godotenv.Load never overrides variables that are already set.
		_ = godotenv.Load(f)
	}
	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := secrets.Get(s.key); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	return cfg, nil
}

// Validate checks what the server needs before it can start.
func (c Config) Validate() error {
	var errs []error
	if c.Telegram.BotToken == "" {
		errs = append(errs, fmt.Errorf("missing required config: Telegram bot token. Set it via environment variable LEADBOT_TELEGRAM_BOT_TOKEN or the secrets file %s", secretsFilePath()))
	}
	if len(c.EnabledProviders()) == 0 {
		errs = append(errs, errors.New("no classification provider configured: set LEADBOT_OPENROUTER_API_KEY, LEADBOT_OPENAI_API_KEY or enable providers.ollama"))
	}
	if c.Classify.DiscardThreshold > c.Classify.DeliverThreshold {
		errs = append(errs, fmt.Errorf("classify.discard_threshold %.2f exceeds classify.deliver_threshold %.2f", c.Classify.DiscardThreshold, c.Classify.DeliverThreshold))
	}
	if _, err := c.AllowedChatIDs(); err != nil {
		errs = append(errs, err)
	}
	switch c.Subscribers.Backend {
	case "file":
	case "postgres":
		if c.Subscribers.PostgresDSN == "" {
			errs = append(errs, errors.New("subscribers.backend is postgres but LEADBOT_POSTGRES_DSN is empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown subscribers.backend %q", c.Subscribers.Backend))
	}
	return errors.Join(errs...)
}

// EnabledProviders returns the names of providers that are switched on and
// have what they need to run, in chain order.
func (c Config) EnabledProviders() []string {
	var names []string
	p := c.Providers
	if p.OpenRouter.APIKey != "" {
		if p.OpenRouter.Enabled {
			names = append(names, "openrouter")
		}
		if p.DeepSeek.Enabled {
			names = append(names, "deepseek")
		}
		if p.GLM.Enabled {
			names = append(names, "glm")
		}
		if p.OSS.Enabled {
			names = append(names, "oss")
		}
	}
	if p.OpenAI.Enabled && p.OpenAI.APIKey != "" {
		names = append(names, "openai")
	}
	if p.Ollama.Enabled {
		names = append(names, "ollama")
	}
	return names
}

// ListenerToken returns the token the update listener polls with.
func (c Config) ListenerToken() string {
	if c.Telegram.ListenerToken != "" {
		return c.Telegram.ListenerToken
	}
	return c.Telegram.BotToken
}

// AllowedChatIDs parses pipeline.allowed_chats. An empty list allows every chat.
func (c Config) AllowedChatIDs() ([]int64, error) {
	var ids []int64
	for _, part := range splitList(c.Pipeline.AllowedChats) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat id %q in pipeline.allowed_chats: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// KafkaBrokers returns the broker list, or nil when export is off.
func (c Config) KafkaBrokers() []string {
	return splitList(c.Kafka.Brokers)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
