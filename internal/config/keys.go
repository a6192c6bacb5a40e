package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kInt64
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

// envName derives LEADBOT_QUEUE_STALE_AFTER from queue.stale_after.
func envName(key string) string {
	return "LEADBOT_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
}

func stringKey(key string, field func(*Config) *string) keySpec {
	return keySpec{
		key: key, typ: kString, env: envName(key),
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(string) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

func secretKey(key, env string, field func(*Config) *string) keySpec {
	s := stringKey(key, field)
	s.env = env
	s.secret = true
	return s
}

func intKey(key string, field func(*Config) *int) keySpec {
	return keySpec{
		key: key, typ: kInt, env: envName(key),
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(int) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

func int64Key(key string, field func(*Config) *int64) keySpec {
	return keySpec{
		key: key, typ: kInt64, env: envName(key),
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(int64) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

func boolKey(key string, field func(*Config) *bool) keySpec {
	return keySpec{
		key: key, typ: kBool, env: envName(key),
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(bool) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

func floatKey(key string, field func(*Config) *float64) keySpec {
	return keySpec{
		key: key, typ: kFloat, env: envName(key),
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(float64) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

func durationKey(key string, field func(*Config) *time.Duration) keySpec {
	return keySpec{
		key: key, typ: kDuration, env: envName(key),
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(time.Duration) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

var specs = []keySpec{
	intKey("server.port", func(c *Config) *int { return &c.Server.Port }),
	secretKey("server.api_token", "LEADBOT_API_TOKEN", func(c *Config) *string { return &c.Server.APIToken }),

	stringKey("log.level", func(c *Config) *string { return &c.Log.Level }),
	stringKey("log.format", func(c *Config) *string { return &c.Log.Format }),

	stringKey("storage.data_dir", func(c *Config) *string { return &c.Storage.DataDir }),

	intKey("queue.capacity", func(c *Config) *int { return &c.Queue.Capacity }),
	durationKey("queue.cleanup_interval", func(c *Config) *time.Duration { return &c.Queue.CleanupInterval }),
	intKey("queue.retention_days", func(c *Config) *int { return &c.Queue.RetentionDays }),
	durationKey("queue.stale_after", func(c *Config) *time.Duration { return &c.Queue.StaleAfter }),
	boolKey("queue.clear_on_start", func(c *Config) *bool { return &c.Queue.ClearOnStart }),

	intKey("dedup.window_seconds", func(c *Config) *int { return &c.Dedup.WindowSeconds }),
	intKey("dedup.max_size", func(c *Config) *int { return &c.Dedup.MaxSize }),

	durationKey("classify.timeout", func(c *Config) *time.Duration { return &c.Classify.Timeout }),
	durationKey("classify.cache_ttl", func(c *Config) *time.Duration { return &c.Classify.CacheTTL }),
	intKey("classify.cache_size", func(c *Config) *int { return &c.Classify.CacheSize }),
	floatKey("classify.rps", func(c *Config) *float64 { return &c.Classify.RPS }),
	floatKey("classify.deliver_threshold", func(c *Config) *float64 { return &c.Classify.DeliverThreshold }),
	floatKey("classify.discard_threshold", func(c *Config) *float64 { return &c.Classify.DiscardThreshold }),

	boolKey("providers.openrouter.enabled", func(c *Config) *bool { return &c.Providers.OpenRouter.Enabled }),
	stringKey("providers.openrouter.base_url", func(c *Config) *string { return &c.Providers.OpenRouter.BaseURL }),
	stringKey("providers.openrouter.model", func(c *Config) *string { return &c.Providers.OpenRouter.Model }),
	durationKey("providers.openrouter.timeout", func(c *Config) *time.Duration { return &c.Providers.OpenRouter.Timeout }),
	secretKey("providers.openrouter.api_key", "LEADBOT_OPENROUTER_API_KEY", func(c *Config) *string { return &c.Providers.OpenRouter.APIKey }),
	boolKey("providers.deepseek.enabled", func(c *Config) *bool { return &c.Providers.DeepSeek.Enabled }),
	stringKey("providers.deepseek.model", func(c *Config) *string { return &c.Providers.DeepSeek.Model }),
	boolKey("providers.glm.enabled", func(c *Config) *bool { return &c.Providers.GLM.Enabled }),
	stringKey("providers.glm.model", func(c *Config) *string { return &c.Providers.GLM.Model }),
	boolKey("providers.oss.enabled", func(c *Config) *bool { return &c.Providers.OSS.Enabled }),
	stringKey("providers.oss.model", func(c *Config) *string { return &c.Providers.OSS.Model }),
	boolKey("providers.openai.enabled", func(c *Config) *bool { return &c.Providers.OpenAI.Enabled }),
	stringKey("providers.openai.base_url", func(c *Config) *string { return &c.Providers.OpenAI.BaseURL }),
	stringKey("providers.openai.model", func(c *Config) *string { return &c.Providers.OpenAI.Model }),
	durationKey("providers.openai.timeout", func(c *Config) *time.Duration { return &c.Providers.OpenAI.Timeout }),
	secretKey("providers.openai.api_key", "LEADBOT_OPENAI_API_KEY", func(c *Config) *string { return &c.Providers.OpenAI.APIKey }),
	boolKey("providers.ollama.enabled", func(c *Config) *bool { return &c.Providers.Ollama.Enabled }),
	stringKey("providers.ollama.base_url", func(c *Config) *string { return &c.Providers.Ollama.BaseURL }),
	stringKey("providers.ollama.model", func(c *Config) *string { return &c.Providers.Ollama.Model }),

	intKey("pipeline.workers", func(c *Config) *int { return &c.Pipeline.Workers }),
	stringKey("pipeline.allowed_chats", func(c *Config) *string { return &c.Pipeline.AllowedChats }),
	boolKey("pipeline.ignore_bot_senders", func(c *Config) *bool { return &c.Pipeline.IgnoreBotSenders }),

	stringKey("categories.path", func(c *Config) *string { return &c.Categories.Path }),
	durationKey("categories.reload_interval", func(c *Config) *time.Duration { return &c.Categories.ReloadInterval }),

	stringKey("subscribers.backend", func(c *Config) *string { return &c.Subscribers.Backend }),
	stringKey("subscribers.path", func(c *Config) *string { return &c.Subscribers.Path }),
	secretKey("subscribers.postgres_dsn", "LEADBOT_POSTGRES_DSN", func(c *Config) *string { return &c.Subscribers.PostgresDSN }),

	stringKey("telegram.api_url", func(c *Config) *string { return &c.Telegram.APIURL }),
	stringKey("telegram.proxy_url", func(c *Config) *string { return &c.Telegram.ProxyURL }),
	stringKey("telegram.self_username", func(c *Config) *string { return &c.Telegram.SelfUsername }),
	int64Key("telegram.admin_id", func(c *Config) *int64 { return &c.Telegram.AdminID }),
	int64Key("telegram.target_bot_id", func(c *Config) *int64 { return &c.Telegram.TargetBotID }),
	intKey("telegram.poll_timeout", func(c *Config) *int { return &c.Telegram.PollTimeout }),
	secretKey("telegram.bot_token", "LEADBOT_TELEGRAM_BOT_TOKEN", func(c *Config) *string { return &c.Telegram.BotToken }),
	secretKey("telegram.listener_token", "LEADBOT_TELEGRAM_LISTENER_TOKEN", func(c *Config) *string { return &c.Telegram.ListenerToken }),

	boolKey("delivery.send_notifications", func(c *Config) *bool { return &c.Delivery.SendNotifications }),
	boolKey("delivery.notify_send_errors", func(c *Config) *bool { return &c.Delivery.NotifySendErrors }),
	boolKey("delivery.admin_review", func(c *Config) *bool { return &c.Delivery.AdminReview }),

	stringKey("kafka.brokers", func(c *Config) *string { return &c.Kafka.Brokers }),
	stringKey("kafka.topic", func(c *Config) *string { return &c.Kafka.Topic }),
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts raw into the Go type of s.
func parseValue(s keySpec, raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kInt64:
		return strconv.ParseInt(raw, 10, 64)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s, raw)
		if err != nil {
			slog.Warn("could not parse config key, using default value", "key", s.key, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s, raw)
		if err != nil {
			slog.Warn("could not parse env var, using default value", "env", s.env, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}
