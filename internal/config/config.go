// Package config loads server settings from .env, the environment and
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"whiteboard-backend/internal/middleware"
)

// Keys, as environment variable names
const (
	KeyPort              = "PORT"
	KeyDomains           = "DOMAINS"
	KeyLogLevel          = "LOG_LEVEL"
	KeyStoreDriver       = "STORE_DRIVER"
	KeyStorePath         = "STORE_PATH"
	KeyStorePoolSize     = "STORE_POOL_SIZE"
	KeySendBuffer        = "SEND_BUFFER"
	KeyMaxMessageSize    = "MAX_MESSAGE_SIZE"
	KeyMaxPoints         = "MAX_POINTS"
	KeyMaxRoomSize       = "MAX_ROOM_SIZE"
	KeyMaxRooms          = "MAX_ROOMS"
	KeyMessagesPerSecond = "MESSAGES_PER_SECOND"
	KeyBurstSize         = "BURST_SIZE"
	KeyRoomIdleTTL       = "ROOM_IDLE_TTL"
	KeyCleanupInterval   = "CLEANUP_INTERVAL"
	KeyAuthTimeout       = "AUTH_TIMEOUT"
)

const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

var ErrInvalidConfig = errors.New("invalid config")

type Store struct {
	Driver   string
	Path     string
	PoolSize int
}

type Config struct {
	Port            string
	Domains         []string
	LogLevel        string
	Store           Store
	SendBuffer      int
	Limits          *middleware.RateLimit
	RoomIdleTTL     time.Duration
	CleanupInterval time.Duration
	AuthTimeout     time.Duration
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	limits := middleware.DefaultRateLimit()

	v.SetDefault(KeyPort, "8080")
	v.SetDefault(KeyDomains, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyStoreDriver, DriverSQLite)
	v.SetDefault(KeyStorePath, "whiteboard.db")
	v.SetDefault(KeyStorePoolSize, 4)
	v.SetDefault(KeySendBuffer, 256)
	v.SetDefault(KeyMaxMessageSize, limits.MaxMessageSize)
	v.SetDefault(KeyMaxPoints, limits.MaxPoints)
	v.SetDefault(KeyMaxRoomSize, limits.MaxRoomSize)
	v.SetDefault(KeyMaxRooms, limits.MaxRooms)
	v.SetDefault(KeyMessagesPerSecond, limits.MessagesPerSecond)
	v.SetDefault(KeyBurstSize, limits.BurstSize)
	v.SetDefault(KeyRoomIdleTTL, time.Hour)
	v.SetDefault(KeyCleanupInterval, 15*time.Minute)
	v.SetDefault(KeyAuthTimeout, 5*time.Second)
}

// Load reads envFile into the process environment (a missing file is
// fine), then resolves every key from v: flags bound by the caller, the
// environment, defaults.
func Load(v *viper.Viper, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	SetDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Port:     v.GetString(KeyPort),
		Domains:  splitList(v.GetString(KeyDomains)),
		LogLevel: strings.ToLower(v.GetString(KeyLogLevel)),
		Store: Store{
			Driver:   strings.ToLower(v.GetString(KeyStoreDriver)),
			Path:     v.GetString(KeyStorePath),
			PoolSize: v.GetInt(KeyStorePoolSize),
		},
		SendBuffer: v.GetInt(KeySendBuffer),
		Limits: middleware.NewRateLimit(
			v.GetInt(KeyMaxRoomSize),
			v.GetInt(KeyMaxRooms),
			v.GetInt(KeyMaxMessageSize),
			v.GetInt(KeyMaxPoints),
			v.GetFloat64(KeyMessagesPerSecond),
			v.GetInt(KeyBurstSize),
		),
		RoomIdleTTL:     v.GetDuration(KeyRoomIdleTTL),
		CleanupInterval: v.GetDuration(KeyCleanupInterval),
		AuthTimeout:     v.GetDuration(KeyAuthTimeout),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Port == "":
		return fmt.Errorf("%w: %s is empty", ErrInvalidConfig, KeyPort)
	case c.Store.Driver != DriverSQLite && c.Store.Driver != DriverMemory:
		return fmt.Errorf("%w: %s must be %s or %s, got %q", ErrInvalidConfig, KeyStoreDriver, DriverSQLite, DriverMemory, c.Store.Driver)
	case c.Store.Driver == DriverSQLite && c.Store.Path == "":
		return fmt.Errorf("%w: %s is empty", ErrInvalidConfig, KeyStorePath)
	case c.Limits.MessagesPerSecond <= 0 || c.Limits.BurstSize <= 0:
		return fmt.Errorf("%w: %s and %s must be positive", ErrInvalidConfig, KeyMessagesPerSecond, KeyBurstSize)
	case c.CleanupInterval <= 0 || c.RoomIdleTTL <= 0 || c.AuthTimeout <= 0:
		return fmt.Errorf("%w: durations must be positive", ErrInvalidConfig)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
