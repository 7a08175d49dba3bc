package main

import "github.com/ilyakaznacheev/cleanenv"

type (
	ServiceConfig struct {
		Environment string `env:"HEAPFLAME_ENVIRONMENT" env-default:"development"`
		Port        string `env:"PORT" env-default:"8080"`
		LogLevel    string `env:"HEAPFLAME_LOG_LEVEL" env-default:"info"`

		SentryDSN string `env:"SENTRY_DSN"`

		BucketURL string `env:"HEAPFLAME_BUCKET_URL" env-default:"file:///var/lib/heapflame/profiles"`
		CacheSize int    `env:"HEAPFLAME_CACHE_SIZE" env-default:"256"`

		KafkaBrokers           []string `env:"HEAPFLAME_KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
		HeapProfilesKafkaTopic string   `env:"HEAPFLAME_KAFKA_TOPIC" env-default:"heap-profiles"`
	}
)

func loadConfig() (ServiceConfig, error) {
	var cfg ServiceConfig
	err := cleanenv.ReadEnv(&cfg)
	return cfg, err
}
