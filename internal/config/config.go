package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Group   string   `yaml:"group"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
}

type CloudStackConfig struct {
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	VerifySSL bool   `yaml:"verify_ssl"`
}

type DNSConfig struct {
	RecordTTL       int    `yaml:"record_ttl"`
	CommonZone      string `yaml:"common_zone"`
	AddToCommonZone bool   `yaml:"add_to_common_zone"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Kafka      KafkaConfig      `yaml:"kafka"`
	Database   DatabaseConfig   `yaml:"database"`
	CloudStack CloudStackConfig `yaml:"cloudstack"`
	DNS        DNSConfig        `yaml:"dns"`
	Log        LogConfig        `yaml:"log"`

	// DeadlockInterval is how long the watchdog waits for an event.
	DeadlockInterval int `yaml:"deadlock_interval"`
	// RetryInterval is the pause before re-handling an event whose lookup failed.
	RetryInterval int    `yaml:"retry_interval"`
	StatusAddr    string `yaml:"status_addr"`
}

func (c *Config) WatchdogTimeout() time.Duration {
	return time.Duration(c.DeadlockInterval) * time.Second
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryInterval) * time.Second
}

// Load reads the optional YAML file at path, then .env and the process
// environment, which take precedence. Every missing or invalid setting is
// reported in the returned error.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Database:      DatabaseConfig{Driver: DriverMySQL},
		CloudStack:    CloudStackConfig{VerifySSL: true},
		Log:           LogConfig{Level: "info", Format: "text"},
		RetryInterval: 1,
	}

	// the file must state add_to_common_zone too, false is not a default
	var stated struct {
		DNS struct {
			AddToCommonZone *bool `yaml:"add_to_common_zone"`
		} `yaml:"dns"`
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &stated); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	var result *multierror.Error
	e := &envReader{}

	if v := e.str("KAFKA_BOOTSTRAP"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	e.setStr("KAFKA_TOPIC", &cfg.Kafka.Topic)
	e.setStr("KAFKA_GROUP", &cfg.Kafka.Group)

	e.setStr("PDNS_DB_DRIVER", &cfg.Database.Driver)
	e.setStr("PDNS_DB_NAME", &cfg.Database.Name)
	e.setStr("PDNS_DB_USER", &cfg.Database.User)
	e.setStr("PDNS_DB_PASSWORD", &cfg.Database.Password)
	e.setStr("PDNS_DB_HOST", &cfg.Database.Host)
	e.setInt("PDNS_DB_PORT", &cfg.Database.Port)

	e.setStr("CS_ENDPOINT", &cfg.CloudStack.Endpoint)
	e.setStr("CS_API_KEY", &cfg.CloudStack.APIKey)
	e.setStr("CS_SECRET_KEY", &cfg.CloudStack.SecretKey)
	e.setBool("CS_VERIFY_SSL", &cfg.CloudStack.VerifySSL)

	e.setInt("DNS_RECORD_TTL", &cfg.DNS.RecordTTL)
	e.setStr("DNS_COMMON_ZONE", &cfg.DNS.CommonZone)
	e.setBool("DNS_ADD_TO_COMMON_ZONE", &cfg.DNS.AddToCommonZone)

	e.setInt("DEADLOCK_INTERVAL", &cfg.DeadlockInterval)
	e.setInt("RETRY_INTERVAL", &cfg.RetryInterval)
	e.setStr("STATUS_ADDR", &cfg.StatusAddr)
	e.setStr("LOG_LEVEL", &cfg.Log.Level)
	e.setStr("LOG_FORMAT", &cfg.Log.Format)

	result = multierror.Append(result, e.errs...)

	if stated.DNS.AddToCommonZone == nil && !e.seen["DNS_ADD_TO_COMMON_ZONE"] {
		result = multierror.Append(result, errors.New("DNS_ADD_TO_COMMON_ZONE is required"))
	}

	required := []struct {
		key string
		ok  bool
	}{
		{"KAFKA_BOOTSTRAP", len(cfg.Kafka.Brokers) > 0},
		{"KAFKA_TOPIC", cfg.Kafka.Topic != ""},
		{"KAFKA_GROUP", cfg.Kafka.Group != ""},
		{"PDNS_DB_NAME", cfg.Database.Name != ""},
		{"PDNS_DB_USER", cfg.Database.User != ""},
		{"PDNS_DB_PASSWORD", cfg.Database.Password != ""},
		{"PDNS_DB_HOST", cfg.Database.Host != ""},
		{"PDNS_DB_PORT", cfg.Database.Port > 0},
		{"CS_ENDPOINT", cfg.CloudStack.Endpoint != ""},
		{"CS_API_KEY", cfg.CloudStack.APIKey != ""},
		{"CS_SECRET_KEY", cfg.CloudStack.SecretKey != ""},
		{"DNS_RECORD_TTL", cfg.DNS.RecordTTL > 0},
		{"DNS_COMMON_ZONE", cfg.DNS.CommonZone != ""},
		{"DEADLOCK_INTERVAL", cfg.DeadlockInterval > 0},
	}
	for _, r := range required {
		if !r.ok {
			result = multierror.Append(result, fmt.Errorf("%s is required", r.key))
		}
	}

	if cfg.RetryInterval <= 0 {
		result = multierror.Append(result, errors.New("RETRY_INTERVAL must be positive"))
	}
	switch cfg.Database.Driver {
	case DriverMySQL, DriverPostgres:
	default:
		result = multierror.Append(result, fmt.Errorf("PDNS_DB_DRIVER %q is not one of mysql, postgres", cfg.Database.Driver))
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	cfg.DNS.CommonZone = strings.ToLower(strings.TrimSuffix(cfg.DNS.CommonZone, "."))
	return cfg, nil
}

type envReader struct {
	errs []error
	seen map[string]bool
}

func (e *envReader) str(key string) string {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return ""
	}
	if e.seen == nil {
		e.seen = map[string]bool{}
	}
	e.seen[key] = true
	return v
}

func (e *envReader) setStr(key string, dst *string) {
	if v := e.str(key); v != "" {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	v := e.str(key)
	if v == "" {
		return
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return
	}
	*dst = i
}

func (e *envReader) setBool(key string, dst *bool) {
	v := e.str(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return
	}
	*dst = b
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
