package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Бэкенды удалённого хранилища.
const (
	BackendAppwrite = "appwrite"
	BackendPostgres = "postgres"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	PublicURL   string `envconfig:"PUBLIC_URL" default:"http://localhost:8080"`
	LogFile     string `envconfig:"LOG_FILE"`

	StoreBackend string `envconfig:"STORE_BACKEND" default:"appwrite"`

	// Идентификаторы поставщиков без значений по умолчанию: их отсутствие
	// проявляется ошибками шлюзов при вызове.
	Appwrite struct {
		Endpoint             string `envconfig:"APPWRITE_ENDPOINT"`
		ProjectID            string `envconfig:"APPWRITE_PROJECT_ID"`
		APIKey               string `envconfig:"APPWRITE_API_KEY"`
		DatabaseID           string `envconfig:"APPWRITE_DATABASE_ID"`
		CollectionArticles   string `envconfig:"APPWRITE_COLLECTION_ARTICLES"`
		CollectionProfiles   string `envconfig:"APPWRITE_COLLECTION_USERS"`
		CollectionWatchLists string `envconfig:"APPWRITE_COLLECTION_WATCHLIST"`
		BucketID             string `envconfig:"APPWRITE_BUCKET_ID"`
	} `envconfig:""`

	Market struct {
		AlphaVantageKey string        `envconfig:"ALPHA_VANTAGE_API_KEY"`
		AlphaVantageURL string        `envconfig:"ALPHA_VANTAGE_URL" default:"https://www.alphavantage.co/query"`
		BavestKey       string        `envconfig:"BAVEST_API_KEY"`
		HeadlinesURL    string        `envconfig:"HEADLINES_URL" default:"https://feeds.finance.yahoo.com/rss/2.0/headline"`
		CacheTTL        time.Duration `envconfig:"MARKET_CACHE_TTL" default:"5m"`
		Timeout         time.Duration `envconfig:"MARKET_TIMEOUT" default:"15s"`
	} `envconfig:""`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`
	AMQPURL   string `envconfig:"AMQP_URL"`
	EventBus  string `envconfig:"EVENT_BUS"`
	FilesDir  string `envconfig:"FILES_DIR" default:"./data/files"`

	Query struct {
		KeepUnused   time.Duration `envconfig:"QUERY_KEEP_UNUSED" default:"60s"`
		FetchTimeout time.Duration `envconfig:"QUERY_FETCH_TIMEOUT" default:"30s"`
	} `envconfig:""`

	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"720h"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
