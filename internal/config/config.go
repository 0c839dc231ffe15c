// Package config resolves the server configuration: defaults, then an
// optional YAML file, then .env and WHITEBOARD_* environment variables.
// Command-line flags are applied last by main.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"whiteboard/internal/board"
	"whiteboard/internal/middleware"
	"whiteboard/internal/presence"
	"whiteboard/internal/user"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
		CleanupInterval time.Duration `yaml:"cleanup_interval"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Storage struct {
		Enabled bool   `yaml:"enabled"`
		DataDir string `yaml:"data_dir"`
	} `yaml:"storage"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Limits struct {
		MaxRooms          int           `yaml:"max_rooms"`
		MaxRoomSize       int           `yaml:"max_room_size"`
		MaxObjects        int           `yaml:"max_objects"`
		MaxMessageSize    int           `yaml:"max_message_size"`
		MaxObjectDepth    int           `yaml:"max_object_depth"`
		MaxObjectElements int           `yaml:"max_object_elements"`
		MessagesPerSecond float64       `yaml:"messages_per_second"`
		MessageBurst      int           `yaml:"message_burst"`
		ObjectsPerSecond  float64       `yaml:"objects_per_second"`
		ObjectBurst       int           `yaml:"object_burst"`
		PresencePerSecond float64       `yaml:"presence_per_second"`
		PresenceBurst     int           `yaml:"presence_burst"`
		IPConnectEvery    time.Duration `yaml:"ip_connect_every"`
		IPConnectBurst    int           `yaml:"ip_connect_burst"`
		SessionIdle       time.Duration `yaml:"session_idle"`
	} `yaml:"limits"`
	Board struct {
		DecayInterval      time.Duration `yaml:"decay_interval"`
		BroadcastInterval  time.Duration `yaml:"broadcast_interval"`
		ReactionVisibility time.Duration `yaml:"reaction_visibility"`
		MaxChatLength      int           `yaml:"max_chat_length"`
		ToolRevertDelay    time.Duration `yaml:"tool_revert_delay"`
		HistoryDepth       int           `yaml:"history_depth"`
	} `yaml:"board"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Address = ":8080"
	cfg.Server.CleanupInterval = 15 * time.Minute
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Storage.DataDir = "./.whiteboard"
	cfg.Logging.Level = "info"

	rl := middleware.DefaultRateLimit()
	cfg.Limits.MaxRooms = rl.MaxRooms
	cfg.Limits.MaxRoomSize = rl.MaxRoomSize
	cfg.Limits.MaxObjects = rl.MaxObjects
	cfg.Limits.MaxMessageSize = rl.MaxMessageSize
	cfg.Limits.MaxObjectDepth = rl.MaxObjectDepth
	cfg.Limits.MaxObjectElements = rl.MaxObjectElements

	sl := user.DefaultSessionLimits()
	cfg.Limits.MessagesPerSecond = sl.MessagesPerSecond
	cfg.Limits.MessageBurst = sl.MessageBurst
	cfg.Limits.ObjectsPerSecond = sl.ObjectsPerSecond
	cfg.Limits.ObjectBurst = sl.ObjectBurst
	cfg.Limits.PresencePerSecond = sl.PresencePerSecond
	cfg.Limits.PresenceBurst = sl.PresenceBurst
	cfg.Limits.SessionIdle = sl.IdleTimeout
	// 10 connections per minute, burst of 5
	cfg.Limits.IPConnectEvery = 6 * time.Second
	cfg.Limits.IPConnectBurst = 5

	bc := board.DefaultConfig()
	cfg.Board.DecayInterval = bc.Presence.DecayInterval
	cfg.Board.BroadcastInterval = bc.Presence.BroadcastInterval
	cfg.Board.ReactionVisibility = bc.Presence.Visibility
	cfg.Board.MaxChatLength = bc.Presence.MaxChatLength
	cfg.Board.ToolRevertDelay = bc.RevertDelay
	cfg.Board.HistoryDepth = bc.HistoryDepth
	return cfg
}

// Load reads the YAML file at path over the defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadEffective: Load, then .env (missing is fine), then the environment.
func LoadEffective(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, false, err
	}
	_ = godotenv.Load(".env")
	envUsed, err := LoadEnvOverrides(cfg)
	if err != nil {
		return nil, false, err
	}
	return cfg, envUsed, nil
}

// LoadEnvOverrides applies WHITEBOARD_* variables onto cfg and reports
// whether any were set. DOMAINS is honored for allowed origins as well.
func LoadEnvOverrides(cfg *Config) (bool, error) {
	envUsed := false
	parseList := func(v string) []string {
		parts := []string{}
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			envUsed = true
			*dst = v
		}
	}
	var firstErr error
	integer := func(name string, dst *int) {
		v := os.Getenv(name)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", name, err)
			}
			return
		}
		envUsed = true
		*dst = n
	}

	str("WHITEBOARD_ADDR", &cfg.Server.Address)
	str("WHITEBOARD_DATA_DIR", &cfg.Storage.DataDir)
	str("WHITEBOARD_LOG_LEVEL", &cfg.Logging.Level)

	for _, name := range []string{"DOMAINS", "WHITEBOARD_ALLOWED_ORIGINS"} {
		if v := os.Getenv(name); v != "" {
			envUsed = true
			cfg.Server.AllowedOrigins = parseList(v)
		}
	}
	if v := os.Getenv("WHITEBOARD_STORAGE"); v != "" {
		envUsed = true
		vl := strings.ToLower(strings.TrimSpace(v))
		cfg.Storage.Enabled = vl == "1" || vl == "true" || vl == "yes"
	}

	integer("WHITEBOARD_MAX_ROOMS", &cfg.Limits.MaxRooms)
	integer("WHITEBOARD_MAX_ROOM_SIZE", &cfg.Limits.MaxRoomSize)
	integer("WHITEBOARD_MAX_OBJECTS", &cfg.Limits.MaxObjects)
	integer("WHITEBOARD_MAX_MESSAGE_SIZE", &cfg.Limits.MaxMessageSize)
	integer("WHITEBOARD_HISTORY_DEPTH", &cfg.Board.HistoryDepth)
	return envUsed, firstErr
}

// RateLimit: server-side caps for rooms and messages
func (c *Config) RateLimit() *middleware.RateLimit {
	return &middleware.RateLimit{
		MaxRoomSize:       c.Limits.MaxRoomSize,
		MaxObjects:        c.Limits.MaxObjects,
		MaxMessageSize:    c.Limits.MaxMessageSize,
		MaxRooms:          c.Limits.MaxRooms,
		MaxObjectDepth:    c.Limits.MaxObjectDepth,
		MaxObjectElements: c.Limits.MaxObjectElements,
	}
}

func (c *Config) SessionLimits() user.SessionLimits {
	return user.SessionLimits{
		MessagesPerSecond: c.Limits.MessagesPerSecond,
		MessageBurst:      c.Limits.MessageBurst,
		ObjectsPerSecond:  c.Limits.ObjectsPerSecond,
		ObjectBurst:       c.Limits.ObjectBurst,
		PresencePerSecond: c.Limits.PresencePerSecond,
		PresenceBurst:     c.Limits.PresenceBurst,
		IdleTimeout:       c.Limits.SessionIdle,
	}
}

// BoardConfig: client core settings
func (c *Config) BoardConfig() board.Config {
	bc := board.DefaultConfig()
	bc.Presence = presence.Config{
		DecayInterval:     c.Board.DecayInterval,
		BroadcastInterval: c.Board.BroadcastInterval,
		Visibility:        c.Board.ReactionVisibility,
		MaxChatLength:     c.Board.MaxChatLength,
	}
	bc.RevertDelay = c.Board.ToolRevertDelay
	bc.HistoryDepth = c.Board.HistoryDepth
	return bc
}
