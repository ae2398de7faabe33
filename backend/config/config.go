// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
)

// Config holds all configuration for the messaging server.
type Config struct {
	Port     string
	Env      string
	LogLevel string

	StoreBackend string
	DatabaseURL  string
	SQLitePath   string
	RedisURL     string

	JWTSecret string
	JWTIssuer string

	AllowedOrigins []string

	// Sends per second allowed for one caller, and the burst on top of it.
	SendRateLimit float64
	SendRateBurst int
}

type configFile struct {
	Server struct {
		Port           string   `yaml:"port"`
		Env            string   `yaml:"env"`
		LogLevel       string   `yaml:"log_level"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Store struct {
		Backend     string `yaml:"backend"`
		DatabaseURL string `yaml:"database_url"`
		SQLitePath  string `yaml:"sqlite_path"`
		RedisURL    string `yaml:"redis_url"`
	} `yaml:"store"`
	Auth struct {
		Issuer string `yaml:"issuer"`
	} `yaml:"auth"`
	RateLimit struct {
		Send  float64 `yaml:"send"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

func defaults() *Config {
	return &Config{
		Port:         "8081",
		Env:          "development",
		LogLevel:     "info",
		StoreBackend: BackendPostgres,
		SQLitePath:   "efmsg.db",
		JWTIssuer:    "efchat",
		AllowedOrigins: []string{
			"https://efchat.net",
			"https://app.efchat.net",
			"http://localhost:3000",
		},
		SendRateLimit: 2,
		SendRateBurst: 10,
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// EFMSG_CONFIG and finally the environment. A .env file is loaded first if
// present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("EFMSG_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&c.Port, f.Server.Port)
	setString(&c.Env, f.Server.Env)
	setString(&c.LogLevel, f.Server.LogLevel)
	if len(f.Server.AllowedOrigins) > 0 {
		c.AllowedOrigins = f.Server.AllowedOrigins
	}
	setString(&c.StoreBackend, f.Store.Backend)
	setString(&c.DatabaseURL, f.Store.DatabaseURL)
	setString(&c.SQLitePath, f.Store.SQLitePath)
	setString(&c.RedisURL, f.Store.RedisURL)
	setString(&c.JWTIssuer, f.Auth.Issuer)
	if f.RateLimit.Send > 0 {
		c.SendRateLimit = f.RateLimit.Send
	}
	if f.RateLimit.Burst > 0 {
		c.SendRateBurst = f.RateLimit.Burst
	}
	return nil
}

func (c *Config) loadEnv() error {
	setString(&c.Port, os.Getenv("PORT"))
	setString(&c.Env, os.Getenv("ENV"))
	setString(&c.LogLevel, os.Getenv("LOG_LEVEL"))
	setString(&c.StoreBackend, os.Getenv("STORE_BACKEND"))
	setString(&c.DatabaseURL, os.Getenv("DATABASE_URL"))
	setString(&c.SQLitePath, os.Getenv("SQLITE_PATH"))
	setString(&c.RedisURL, os.Getenv("REDIS_URL"))
	setString(&c.JWTSecret, os.Getenv("JWT_SECRET"))
	setString(&c.JWTIssuer, os.Getenv("JWT_ISSUER"))

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, o)
			}
		}
	}

	if raw := os.Getenv("SEND_RATE_LIMIT"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("SEND_RATE_LIMIT: %w", err)
		}
		c.SendRateLimit = v
	}
	if raw := os.Getenv("SEND_RATE_BURST"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("SEND_RATE_BURST: %w", err)
		}
		c.SendRateBurst = v
	}
	return nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite backend"))
		}
	case BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	if c.SendRateLimit <= 0 {
		errs = append(errs, errors.New("SEND_RATE_LIMIT must be positive"))
	}
	if c.SendRateBurst <= 0 {
		errs = append(errs, errors.New("SEND_RATE_BURST must be positive"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
