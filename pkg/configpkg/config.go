// Package configpkg provides parsing functionality for environment variables.
package configpkg

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
//
// The values are read by viper from a config file or environment variables.
type Config struct {
	DBDriver          string `mapstructure:"DB_DRIVER"`
	DBSource          string `mapstructure:"DB_SOURCE"`
	ServerAddress     string `mapstructure:"SERVER_ADDRESS"`
	TokenSymmetricKey string `mapstructure:"TOKEN_SYMMETRIC_KEY"`
	TokenType         string `mapstructure:"TOKEN_TYPE"`
	Environment       string `mapstructure:"GO_ENV"`

	StorageBackend     string `mapstructure:"STORAGE_BACKEND"`
	IdempotencyBackend string `mapstructure:"IDEMPOTENCY_BACKEND"`
	LockBackend        string `mapstructure:"LOCK_BACKEND"`
	ProjectionBackend  string `mapstructure:"PROJECTION_BACKEND"`

	RedisAddress  string `mapstructure:"REDIS_ADDRESS"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	KafkaBrokers    string `mapstructure:"KAFKA_BROKERS"`
	KafkaAuditTopic string `mapstructure:"KAFKA_AUDIT_TOPIC"`
	KafkaReconTopic string `mapstructure:"KAFKA_RECON_TOPIC"`

	AuditEmitTimeout time.Duration `mapstructure:"AUDIT_EMIT_TIMEOUT"`

	IdempotencyTTL   time.Duration `mapstructure:"IDEMPOTENCY_TTL"`
	IdempotencyLease time.Duration `mapstructure:"IDEMPOTENCY_LEASE"`

	LockExpiry     time.Duration `mapstructure:"LOCK_EXPIRY"`
	LockTries      int           `mapstructure:"LOCK_TRIES"`
	LockRetryDelay time.Duration `mapstructure:"LOCK_RETRY_DELAY"`

	ReconInterval    time.Duration `mapstructure:"RECON_INTERVAL"`
	ReconShardIndex  int           `mapstructure:"RECON_SHARD_INDEX"`
	ReconShardCount  int           `mapstructure:"RECON_SHARD_COUNT"`
	ReconConcurrency int           `mapstructure:"RECON_CONCURRENCY"`

	SagaRecoveryAge time.Duration `mapstructure:"SAGA_RECOVERY_AGE"`
}

// Brokers returns the comma separated KAFKA_BROKERS as a slice.
func (c Config) Brokers() []string {
	if c.KafkaBrokers == "" {
		return nil
	}

	brokers := strings.Split(c.KafkaBrokers, ",")
	for i := range brokers {
		brokers[i] = strings.TrimSpace(brokers[i])
	}

	return brokers
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("TOKEN_TYPE", "paseto")
	v.SetDefault("STORAGE_BACKEND", "postgres")
	v.SetDefault("IDEMPOTENCY_BACKEND", "postgres")
	v.SetDefault("LOCK_BACKEND", "local")
	v.SetDefault("PROJECTION_BACKEND", "memory")
	v.SetDefault("KAFKA_AUDIT_TOPIC", "ledger_audit")
	v.SetDefault("KAFKA_RECON_TOPIC", "ledger_reconciliation")
	v.SetDefault("AUDIT_EMIT_TIMEOUT", 2*time.Second)
	v.SetDefault("IDEMPOTENCY_TTL", 24*time.Hour)
	v.SetDefault("IDEMPOTENCY_LEASE", 5*time.Minute)
	v.SetDefault("LOCK_EXPIRY", 10*time.Second)
	v.SetDefault("LOCK_TRIES", 32)
	v.SetDefault("LOCK_RETRY_DELAY", 50*time.Millisecond)
	v.SetDefault("RECON_INTERVAL", time.Minute)
	v.SetDefault("RECON_SHARD_INDEX", 0)
	v.SetDefault("RECON_SHARD_COUNT", 1)
	v.SetDefault("RECON_CONCURRENCY", 8)
	v.SetDefault("SAGA_RECOVERY_AGE", time.Minute)
}

// Load read configuration from file or environment variables.
func Load(path string) (Config, error) {
	var c Config

	v := viper.New()

	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("env")

	setDefaults(v)

	v.AutomaticEnv()

	err := v.ReadInConfig()
	if err != nil {
		return c, err
	}

	err = v.Unmarshal(&c)
	if err != nil {
		return c, err
	}

	return c, nil
}
