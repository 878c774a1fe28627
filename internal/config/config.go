package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	Chain         ChainConfig         `json:"chain"`
	Oracle        OracleConfig        `json:"oracle"`
	Marketplace   MarketplaceConfig   `json:"marketplace"`
	Lending       LendingConfig       `json:"lending"`
	Revenue       RevenueConfig       `json:"revenue"`
	Notifications NotificationsConfig `json:"notifications"`
	Logging       LoggingConfig       `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
}

// ChainConfig configures the chain executor client
type ChainConfig struct {
	Endpoint       string        `json:"endpoint"`
	RequestTimeout time.Duration `json:"request_timeout"`
	MaxRetries     int           `json:"max_retries"`
	RetryInterval  time.Duration `json:"retry_interval"`
}

// OracleConfig configures the price oracle cache
type OracleConfig struct {
	Endpoint     string        `json:"endpoint"`
	CacheTTL     time.Duration `json:"cache_ttl"`
	MaxStaleness time.Duration `json:"max_staleness"`
}

// MarketplaceConfig configures listing defaults
type MarketplaceConfig struct {
	DefaultListingDuration time.Duration `json:"default_listing_duration"`
	SweepInterval          string        `json:"sweep_interval"`
}

// LendingConfig configures liquidation parameters
type LendingConfig struct {
	LiquidationBonus float64 `json:"liquidation_bonus"`
}

// RevenueConfig configures the revenue split
type RevenueConfig struct {
	ManagementFeeRate float64 `json:"management_fee_rate"`
	ReserveRate       float64 `json:"reserve_rate"`
}

// NotificationsConfig configures event redelivery
type NotificationsConfig struct {
	RedeliverInterval string `json:"redeliver_interval"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// Default config
	config := &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    os.Getenv("USER"),
			DBName:  "easyrent_defi",
			SSLMode: "disable",
		},
		Chain: ChainConfig{
			RequestTimeout: 10 * time.Second,
			MaxRetries:     3,
			RetryInterval:  2 * time.Second,
		},
		Oracle: OracleConfig{
			CacheTTL:     30 * time.Second,
			MaxStaleness: 2 * time.Minute,
		},
		Marketplace: MarketplaceConfig{
			DefaultListingDuration: 30 * 24 * time.Hour,
			SweepInterval:          "@every 5m",
		},
		Lending: LendingConfig{
			LiquidationBonus: 0.10,
		},
		Revenue: RevenueConfig{
			ManagementFeeRate: 0.02,
			ReserveRate:       0.05,
		},
		Notifications: NotificationsConfig{
			RedeliverInterval: "@every 1m",
		},
	}

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	overrideWithEnv(config)

	return config, nil
}

func overrideWithEnv(config *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		config.Database.User = dbUser
	}
	if dbPass := os.Getenv("DATABASE_PASSWORD"); dbPass != "" {
		config.Database.Password = dbPass
	}
	if dbName := os.Getenv("DATABASE_DBNAME"); dbName != "" {
		config.Database.DBName = dbName
	}
	if endpoint := os.Getenv("CHAIN_ENDPOINT"); endpoint != "" {
		config.Chain.Endpoint = endpoint
	}
	if endpoint := os.Getenv("ORACLE_ENDPOINT"); endpoint != "" {
		config.Oracle.Endpoint = endpoint
	}
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
