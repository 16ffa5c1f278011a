// Package config loads client and server settings from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var ErrMissingSecret = errors.New("JWT_SECRET is required")

type Client struct {
	APIURL         string        `mapstructure:"api_url"`
	WSURL          string        `mapstructure:"ws_url"`
	Token          string        `mapstructure:"token"`
	SaveAck        bool          `mapstructure:"save_ack"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Log            LogConfig     `mapstructure:"log"`
}

type Server struct {
	Port           int           `mapstructure:"port"`
	DatabaseURL    string        `mapstructure:"database_url"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	TicketTTL      time.Duration `mapstructure:"ticket_ttl"`
	CredentialTTL  time.Duration `mapstructure:"credential_ttl"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	DB             DBConfig      `mapstructure:"db"`
	Log            LogConfig     `mapstructure:"log"`
}

type DBConfig struct {
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// LoadClient reads BOARD_* variables. envFiles default to .env when empty.
func LoadClient(envFiles ...string) (*Client, error) {
	if err := loadDotenv(envFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetDefault("api_url", "http://localhost:8080")
	v.SetDefault("ws_url", "")
	v.SetDefault("token", "")
	v.SetDefault("save_ack", true)
	v.SetDefault("connect_timeout", "15s")
	v.SetDefault("log.level", "info")

	_ = v.BindEnv("api_url", "BOARD_API_URL")
	_ = v.BindEnv("ws_url", "BOARD_WS_URL")
	_ = v.BindEnv("token", "BOARD_TOKEN")
	_ = v.BindEnv("save_ack", "BOARD_SAVE_ACK")
	_ = v.BindEnv("connect_timeout", "BOARD_CONNECT_TIMEOUT")
	_ = v.BindEnv("log.level", "BOARD_LOG_LEVEL")

	var cfg Client
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.WSURL == "" {
		cfg.WSURL = WebsocketURL(cfg.APIURL)
	}
	return &cfg, nil
}

// LoadServer reads the server's variables. JWT_SECRET has no default.
func LoadServer(envFiles ...string) (*Server, error) {
	if err := loadDotenv(envFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetDefault("port", 8080)
	v.SetDefault("database_url", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("ticket_ttl", "60s")
	v.SetDefault("credential_ttl", "24h")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("log.level", "info")

	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("ticket_ttl", "TICKET_TTL")
	_ = v.BindEnv("credential_ttl", "CREDENTIAL_TTL")
	_ = v.BindEnv("allowed_origins", "ALLOWED_ORIGINS")
	_ = v.BindEnv("db.max_idle_conns", "DB_MAX_IDLE_CONNS")
	_ = v.BindEnv("db.max_open_conns", "DB_MAX_OPEN_CONNS")
	_ = v.BindEnv("db.conn_max_lifetime", "DB_CONN_MAX_LIFETIME")
	_ = v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.JWTSecret == "" {
		return nil, ErrMissingSecret
	}

	// ALLOWED_ORIGINS: comma-separated host patterns, e.g. "localhost:*,board.example.com"
	origins := cfg.AllowedOrigins[:0]
	for _, o := range cfg.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	cfg.AllowedOrigins = origins
	return &cfg, nil
}

// WebsocketURL swaps an http(s) base for its ws(s) counterpart.
func WebsocketURL(apiURL string) string {
	switch {
	case strings.HasPrefix(apiURL, "https://"):
		return "wss://" + strings.TrimPrefix(apiURL, "https://")
	case strings.HasPrefix(apiURL, "http://"):
		return "ws://" + strings.TrimPrefix(apiURL, "http://")
	}
	return apiURL
}

func loadDotenv(files []string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}
