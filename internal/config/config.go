package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database   *dbConfig
	Service    *svcConfig
	Generation *generationConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     uint   `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"draftforge"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

// DSN builds the keyword/value connection string for postgres.
func (c *dbConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s user=%s password=%s port=%d",
		c.Hostname, c.User, c.Password, c.Port)
	if c.Name != "" {
		dsn = fmt.Sprintf("%s dbname=%s", dsn, c.Name)
	}
	return dsn
}

type svcConfig struct {
	Address         string `envconfig:"DRAFTFORGE_ADDRESS" default:":3443"`
	MetricsAddress  string `envconfig:"DRAFTFORGE_METRICS_ADDRESS" default:":8080"`
	BaseUrl         string `envconfig:"DRAFTFORGE_BASE_URL" default:"https://localhost:3443"`
	LogLevel        string `envconfig:"DRAFTFORGE_LOG_LEVEL" default:"info"`
	MigrationFolder string `envconfig:"DRAFTFORGE_MIGRATIONS_FOLDER" default:""`
	InlineWorker    bool   `envconfig:"DRAFTFORGE_INLINE_WORKER" default:"false"`
}

type generationConfig struct {
	OpenAIKey               string `envconfig:"DRAFTFORGE_OPENAI_KEY" default:""`
	OpenAIBaseUrl           string `envconfig:"DRAFTFORGE_OPENAI_BASE_URL" default:""`
	Model                   string `envconfig:"DRAFTFORGE_MODEL" default:"gpt-4o-mini"`
	SectionTimeout          int    `envconfig:"DRAFTFORGE_SECTION_TIMEOUT_SECONDS" default:"20"`
	MaxTokensPerSection     int    `envconfig:"DRAFTFORGE_MAX_TOKENS_PER_SECTION" default:"2048"`
	MaxGenerationsPerWindow int64  `envconfig:"DRAFTFORGE_MAX_GENERATIONS_PER_WINDOW" default:"3"`
	RateWindowMinutes       int    `envconfig:"DRAFTFORGE_RATE_WINDOW_MINUTES" default:"60"`
	PollIntervalSeconds     int    `envconfig:"DRAFTFORGE_POLL_INTERVAL_SECONDS" default:"2"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault returns a config without reading the environment. Used by tests.
func NewDefault() *Config {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		panic(err)
	}
	return cfg
}
