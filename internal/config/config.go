package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env            string        `mapstructure:"ENV"`
	Port           string        `mapstructure:"PORT"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	AdminKey       string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed    string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`

	AIURL    string `mapstructure:"AI_URL"`
	AIModel  string `mapstructure:"AI_MODEL"`
	AIAPIKey string `mapstructure:"AI_API_KEY"`

	AMQPURL      string `mapstructure:"AMQP_URL"`
	AMQPExchange string `mapstructure:"AMQP_EXCHANGE"`

	MetaVerifyToken         string `mapstructure:"META_VERIFY_TOKEN"`
	GraphAPIURL             string `mapstructure:"GRAPH_API_URL"`
	EvolutionAPIURL         string `mapstructure:"EVOLUTION_API_URL"`
	EvolutionAPIKey         string `mapstructure:"EVOLUTION_API_KEY"`
	MarketplaceAPIURL       string `mapstructure:"MARKETPLACE_API_URL"`
	MarketplaceClientID     string `mapstructure:"MARKETPLACE_CLIENT_ID"`
	MarketplaceClientSecret string `mapstructure:"MARKETPLACE_CLIENT_SECRET"`
	WhatsmeowDBPath         string `mapstructure:"WHATSMEOW_DB_PATH"`
	SMTPHost                string `mapstructure:"SMTP_HOST"`
	SMTPPort                int    `mapstructure:"SMTP_PORT"`
	SMTPUsername            string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword            string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom                string `mapstructure:"SMTP_FROM"`

	SendTimeout       time.Duration `mapstructure:"SEND_TIMEOUT"`
	SendRatePerSecond float64       `mapstructure:"SEND_RATE_PER_SECOND"`
	SendBurst         int           `mapstructure:"SEND_BURST"`

	PresenceTimeout      time.Duration `mapstructure:"PRESENCE_TIMEOUT"`
	QueueBatchSize       int           `mapstructure:"QUEUE_BATCH_SIZE"`
	QueueProcessInterval time.Duration `mapstructure:"QUEUE_PROCESS_INTERVAL"`
	RoutingSerialize     bool          `mapstructure:"ROUTING_SERIALIZE"`

	JobsEnabled    bool `mapstructure:"JOBS_ENABLED"`
	JobsMaxWorkers int  `mapstructure:"JOBS_MAX_WORKERS"`

	WebhookRatePerSecond float64 `mapstructure:"WEBHOOK_RATE_PER_SECOND"`
	WebhookBurst         int     `mapstructure:"WEBHOOK_BURST"`
}

// Load reads .env when present, then the environment, which wins.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()
	// keys without a default are only seen by Unmarshal once bound
	for _, key := range []string{
		"DATABASE_URL", "ADMIN_KEY", "AI_URL", "AI_API_KEY", "AMQP_URL",
		"META_VERIFY_TOKEN", "GRAPH_API_URL", "EVOLUTION_API_URL", "EVOLUTION_API_KEY",
		"MARKETPLACE_API_URL", "MARKETPLACE_CLIENT_ID", "MARKETPLACE_CLIENT_SECRET",
		"SMTP_HOST", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM",
	} {
		_ = v.BindEnv(key)
	}

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("AI_MODEL", "gpt-4o-mini")
	v.SetDefault("AMQP_EXCHANGE", "omnidesk.events")
	v.SetDefault("WHATSMEOW_DB_PATH", "whatsmeow.db")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SEND_TIMEOUT", "15s")
	v.SetDefault("SEND_RATE_PER_SECOND", 20)
	v.SetDefault("SEND_BURST", 5)
	v.SetDefault("PRESENCE_TIMEOUT", "2s")
	v.SetDefault("QUEUE_BATCH_SIZE", 10)
	v.SetDefault("QUEUE_PROCESS_INTERVAL", "30s")
	v.SetDefault("ROUTING_SERIALIZE", false)
	v.SetDefault("JOBS_ENABLED", false)
	v.SetDefault("JOBS_MAX_WORKERS", 10)
	v.SetDefault("WEBHOOK_RATE_PER_SECOND", 50)
	v.SetDefault("WEBHOOK_BURST", 100)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
