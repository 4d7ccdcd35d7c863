package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`
	Admin    AdminConfig    `yaml:"admin"`
	Ledger   LedgerConfig   `yaml:"ledger"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	ShipmentUpdatedTopicName string `yaml:"shipment_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // console | json
	// Directory включает запись в ротируемый файл помимо stdout.
	Directory string `yaml:"directory"`
}

// AdminConfig holds the single static admin identity and the key that signs
// its session cookie. Secrets are usually supplied through the environment.
type AdminConfig struct {
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	SessionSecret string `yaml:"session_secret"`
	CookieSecure  bool   `yaml:"cookie_secure"`
}

type LedgerConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	WorkerHTTPAddr     string `yaml:"worker_http_addr"`
	BaseURL            string `yaml:"base_url"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	// nil: default TTL, 0: cache off. Read through LookupCacheTTL.
	LookupCacheTTLSeconds    *int `yaml:"lookup_cache_ttl_seconds"`
	LookupRateLimitPerMinute int  `yaml:"lookup_rate_limit_per_minute"`
}

const DefaultLookupCacheTTL = 10 * time.Minute

// LookupCacheTTL is the effective lookup view TTL; zero disables the cache.
func (l LedgerConfig) LookupCacheTTL() time.Duration {
	if l.LookupCacheTTLSeconds == nil {
		return DefaultLookupCacheTTL
	}
	if *l.LookupCacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(*l.LookupCacheTTLSeconds) * time.Second
}

func (l LedgerConfig) Validate() error {
	if l.LookupCacheTTLSeconds != nil && *l.LookupCacheTTLSeconds < 0 {
		return errors.New("ledger.lookup_cache_ttl_seconds must be >= 0 (0 disables the cache)")
	}
	if l.LookupRateLimitPerMinute < 0 {
		return errors.New("ledger.lookup_rate_limit_per_minute must be >= 0")
	}
	return nil
}

// envOverrides maps environment variables onto config fields. Non-empty
// values win over the YAML file.
var envOverrides = map[string]func(c *Config, v string){
	"ADMIN_USERNAME":    func(c *Config, v string) { c.Admin.Username = v },
	"ADMIN_PASSWORD":    func(c *Config, v string) { c.Admin.Password = v },
	"SESSION_SECRET":    func(c *Config, v string) { c.Admin.SessionSecret = v },
	"BASE_URL":          func(c *Config, v string) { c.Ledger.BaseURL = v },
	"DATABASE_PASSWORD": func(c *Config, v string) { c.Database.Password = v },
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	for name, apply := range envOverrides {
		if v := os.Getenv(name); v != "" {
			apply(&config, v)
		}
	}

	return &config, nil
}

// LoadDotEnv exports variables from .env files into the process environment
// without overriding ones already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.Wrapf(err, "load %s", f)
		}
	}
	return nil
}

// Validate checks what must be present before admin traffic is served.
func (c *Config) Validate() error {
	if c.Admin.SessionSecret == "" {
		return errors.New("admin.session_secret (SESSION_SECRET) is required")
	}
	if c.Admin.Username == "" {
		return errors.New("admin.username (ADMIN_USERNAME) is required")
	}
	if c.Admin.Password == "" {
		return errors.New("admin.password (ADMIN_PASSWORD) is required")
	}
	return c.Ledger.Validate()
}

func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

func (k KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
