package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Directory DirectoryConfig `yaml:"directory" json:"directory"`
	Sync      SyncConfig      `yaml:"sync" json:"sync"`
}

type ServerConfig struct {
	Address     string `yaml:"address" json:"address" envconfig:"ADDRESS"`
	HealthCheck bool   `yaml:"healthCheck" json:"healthCheck" envconfig:"HEALTH_CHECK"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" json:"format" envconfig:"LOG_FORMAT"`
	Output string `yaml:"output" json:"output" envconfig:"LOG_OUTPUT"`
}

type StorageConfig struct {
	Driver       string `yaml:"driver" json:"driver" envconfig:"STORAGE_DRIVER"`
	DSN          string `yaml:"dsn" json:"dsn" envconfig:"STORAGE_DSN"`
	MaxOpenConns int    `yaml:"maxOpenConns" json:"maxOpenConns" envconfig:"STORAGE_MAX_OPEN_CONNS"`
	MaxIdleConns int    `yaml:"maxIdleConns" json:"maxIdleConns" envconfig:"STORAGE_MAX_IDLE_CONNS"`
}

type DirectoryConfig struct {
	Driver string     `yaml:"driver" json:"driver" envconfig:"DIRECTORY_DRIVER"`
	SCIM   SCIMConfig `yaml:"scim" json:"scim"`
	LDAP   LDAPConfig `yaml:"ldap" json:"ldap"`
}

type SCIMConfig struct {
	BaseURL      string        `yaml:"baseURL" json:"baseURL" envconfig:"SCIM_BASE_URL"`
	TokenURL     string        `yaml:"tokenURL" json:"tokenURL" envconfig:"SCIM_TOKEN_URL"`
	ClientID     string        `yaml:"clientID" json:"clientID" envconfig:"SCIM_CLIENT_ID"`
	ClientSecret string        `yaml:"clientSecret" json:"clientSecret" envconfig:"SCIM_CLIENT_SECRET"`
	PageSize     int           `yaml:"pageSize" json:"pageSize" envconfig:"SCIM_PAGE_SIZE"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout" envconfig:"SCIM_TIMEOUT"`
}

type LDAPConfig struct {
	URL          string        `yaml:"url" json:"url" envconfig:"LDAP_URL"`
	BindDN       string        `yaml:"bindDN" json:"bindDN" envconfig:"LDAP_BIND_DN"`
	BindPassword string        `yaml:"bindPassword" json:"bindPassword" envconfig:"LDAP_BIND_PASSWORD"`
	UserBaseDN   string        `yaml:"userBaseDN" json:"userBaseDN" envconfig:"LDAP_USER_BASE_DN"`
	GroupBaseDN  string        `yaml:"groupBaseDN" json:"groupBaseDN" envconfig:"LDAP_GROUP_BASE_DN"`
	UserFilter   string        `yaml:"userFilter" json:"userFilter" envconfig:"LDAP_USER_FILTER"`
	GroupFilter  string        `yaml:"groupFilter" json:"groupFilter" envconfig:"LDAP_GROUP_FILTER"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout" envconfig:"LDAP_TIMEOUT"`
}

type SyncConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled" envconfig:"SYNC_ENABLED"`
	Interval time.Duration `yaml:"interval" json:"interval" envconfig:"SYNC_INTERVAL"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:     ":8080",
			HealthCheck: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Storage: StorageConfig{
			Driver:       "sqlite",
			DSN:          "file:dirmirror.db",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Directory: DirectoryConfig{
			Driver: "scim",
			SCIM: SCIMConfig{
				PageSize: 100,
				Timeout:  30 * time.Second,
			},
			LDAP: LDAPConfig{
				UserFilter:  "(objectClass=inetOrgPerson)",
				GroupFilter: "(objectClass=groupOfNames)",
				Timeout:     30 * time.Second,
			},
		},
		Sync: SyncConfig{
			Enabled:  true,
			Interval: 60 * time.Second,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "mysql", "sqlite", "sqlserver":
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}

	switch c.Directory.Driver {
	case "scim":
		if c.Directory.SCIM.BaseURL == "" {
			return fmt.Errorf("directory.scim.baseURL is required")
		}
	case "ldap":
		if c.Directory.LDAP.URL == "" {
			return fmt.Errorf("directory.ldap.url is required")
		}
	default:
		return fmt.Errorf("unsupported directory driver %q", c.Directory.Driver)
	}

	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}

	return nil
}
