package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Crash    CrashConfig    `mapstructure:"crash"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Expire int    `mapstructure:"expire"` // hours
}

// CrashConfig drives the round scheduler and the provably-fair generator.
// Durations are parsed from Go duration strings ("5s", "100ms").
type CrashConfig struct {
	SeedSecret     string        `mapstructure:"seedSecret"` // deployment secret for server seed derivation
	ClientSeed     string        `mapstructure:"clientSeed"`
	Modes          []string      `mapstructure:"modes"` // schedulers to run: real, demo
	BettingWindow  time.Duration `mapstructure:"bettingWindow"`
	TickInterval   time.Duration `mapstructure:"tickInterval"`
	GrowthRate     float64       `mapstructure:"growthRate"` // exponent per second of flight
	Cooldown       time.Duration `mapstructure:"cooldown"`
	SettleBatch    int           `mapstructure:"settleBatch"`
	LeaseTTL       time.Duration `mapstructure:"leaseTTL"`
	LeaseHeartbeat time.Duration `mapstructure:"leaseHeartbeat"`
}

var GlobalConfig *Config

func LoadConfig(path string) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file, %s", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}
	applyCrashDefaults(&cfg.Crash)
	GlobalConfig = &cfg
}

func applyCrashDefaults(c *CrashConfig) {
	if c.ClientSeed == "" {
		c.ClientSeed = "global-client"
	}
	if len(c.Modes) == 0 {
		c.Modes = []string{"real", "demo"}
	}
	if c.BettingWindow <= 0 {
		c.BettingWindow = 5 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.GrowthRate <= 0 {
		c.GrowthRate = 0.06
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 3 * time.Second
	}
	if c.SettleBatch <= 0 {
		c.SettleBatch = 200
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 15 * time.Second
	}
	if c.LeaseHeartbeat <= 0 || c.LeaseHeartbeat >= c.LeaseTTL {
		c.LeaseHeartbeat = c.LeaseTTL / 3
	}
}
