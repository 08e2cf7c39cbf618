package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type Config struct {
	Environment   string
	StorageDriver string
	DBDSN         string
	DBMaxConns    int32
	AutoMigrate   bool

	TelegramToken string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	ChargeLessonCredits bool
	ChargeGroupCredits  bool
	CreditsPerLesson    int
	RefundPolicy        string
	LowCreditsThreshold int

	NotifyQueueSize    int
	NotifyWorkers      int
	ReconcileInterval  time.Duration
	DefaultSlotMinutes int
}

func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if err := godotenv.Load(".env"); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	} else {
		log.Println("✅ Loaded configuration from .env file")
	}

	r := &reader{}
	cfg := &Config{
		Environment:   r.str("ENV", "development"),
		StorageDriver: r.str("STORAGE_DRIVER", StorageDriverPostgres),
		DBDSN:         os.Getenv("DB_DSN"),
		DBMaxConns:    int32(r.int("DB_MAX_CONNS", 10)),
		AutoMigrate:   r.bool("MIGRATIONS_AUTO", true),

		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       r.int("REDIS_DB", 0),
		RedisChannel:  r.str("REDIS_CHANNEL", "scheduler.events"),

		ChargeLessonCredits: r.bool("CHARGE_LESSON_CREDITS", true),
		ChargeGroupCredits:  r.bool("CHARGE_GROUP_CREDITS", true),
		CreditsPerLesson:    r.int("CREDITS_PER_LESSON", 1),
		RefundPolicy:        r.str("REFUND_POLICY", "staff_only"),
		LowCreditsThreshold: r.int("LOW_CREDITS_THRESHOLD", 1),

		NotifyQueueSize:    r.int("NOTIFY_QUEUE_SIZE", 256),
		NotifyWorkers:      r.int("NOTIFY_WORKERS", 2),
		ReconcileInterval:  r.duration("RECONCILE_INTERVAL", time.Hour),
		DefaultSlotMinutes: r.int("DEFAULT_SLOT_MINUTES", 60),
	}

	if r.err != nil {
		return nil, r.err
	}

	// Проверяем обязательные поля
	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		if cfg.DBDSN == "" {
			return nil, fmt.Errorf("DB_DSN is required but not set")
		}
	case StorageDriverMemory:
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	if cfg.CreditsPerLesson < 0 {
		return nil, fmt.Errorf("CREDITS_PER_LESSON must not be negative")
	}

	log.Printf("Config loaded\n")

	return cfg, nil
}

func (c *Config) GetDBDSN() string {
	return c.DBDSN
}

// reader читает переменные окружения и запоминает первую ошибку разбора
type reader struct {
	err error
}

func (r *reader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return n
}

func (r *reader) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return d
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("parse %s: %w", key, err)
	}
}
