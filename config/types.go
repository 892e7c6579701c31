package config

import "time"

type AppConfig struct {
	DBDriver     string `yaml:"db_driver" env:"CHATLEDGER_DB_DRIVER" env-default:"sqlite"`
	DBURL        string `yaml:"db_url" env:"CHATLEDGER_DB_URL"`
	DBPath       string `yaml:"db_path" env:"CHATLEDGER_DB_PATH" env-default:"data/chatledger.db"`
	ListenAddr   string `yaml:"listen_addr" env:"CHATLEDGER_LISTEN_ADDR" env-default:"0.0.0.0:8080"`
	RosterPath   string `yaml:"roster_path" env:"CHATLEDGER_ROSTER_PATH" env-default:"config/roster.yaml"`
	RulesPath    string `yaml:"rules_path" env:"CHATLEDGER_RULES_PATH"`
	EntitiesPath string `yaml:"entities_path" env:"CHATLEDGER_ENTITIES_PATH"`

	Ingest  IngestConfig  `yaml:"ingest"`
	Sweeper SweeperConfig `yaml:"sweeper"`
}

type IngestConfig struct {
	StorageTimeoutSec int `yaml:"storage_timeout_sec" env:"CHATLEDGER_INGEST_STORAGE_TIMEOUT_SEC" env-default:"5"`
	MaxAttempts       int `yaml:"max_attempts" env:"CHATLEDGER_INGEST_MAX_ATTEMPTS" env-default:"3"`
	RetryBackoffMS    int `yaml:"retry_backoff_ms" env:"CHATLEDGER_INGEST_RETRY_BACKOFF_MS" env-default:"100"`
}

type SweeperConfig struct {
	Enabled   bool   `yaml:"enabled" env:"CHATLEDGER_SWEEPER_ENABLED" env-default:"false"`
	Schedule  string `yaml:"schedule" env:"CHATLEDGER_SWEEPER_SCHEDULE" env-default:"@every 1m"`
	BatchSize int    `yaml:"batch_size" env:"CHATLEDGER_SWEEPER_BATCH_SIZE" env-default:"200"`
}

func (c *IngestConfig) StorageTimeout() time.Duration {
	sec := c.StorageTimeoutSec
	if sec <= 0 {
		sec = 5
	}
	return time.Duration(sec) * time.Second
}

func (c *IngestConfig) RetryBackoff() time.Duration {
	ms := c.RetryBackoffMS
	if ms <= 0 {
		ms = 100
	}
	return time.Duration(ms) * time.Millisecond
}

func (c *IngestConfig) Attempts() int {
	if c.MaxAttempts <= 0 {
		return 3
	}
	return c.MaxAttempts
}

func (c *SweeperConfig) EffectiveBatchSize() int {
	if c.BatchSize <= 0 {
		return 200
	}
	return c.BatchSize
}
