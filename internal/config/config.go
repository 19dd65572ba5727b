// Package config resolves the participant and relay configuration.
//
// Every setting is resolved with the same priority:
//  1. CLI flags (passed via Options)
//  2. Environment variables
//  3. Defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/meshcall/internal/media"
	"github.com/1ureka/meshcall/internal/protocol"
	"github.com/1ureka/meshcall/internal/session"
)

const (
	DefaultTopic         = "session_channel"
	DefaultRedisAddr     = "localhost:6379"
	DefaultPort          = "8080"
	DefaultStatsInterval = 5 * time.Second
)

// TransportKind selects the broadcast transport.
type TransportKind string

const (
	TransportWS    TransportKind = "ws"
	TransportRedis TransportKind = "redis"
)

// ErrNoRelayURL is returned by Validate when the ws transport has no relay.
var ErrNoRelayURL = errors.New("relay URL is required for the ws transport")

// RedisConfig selects a redis server.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config is the resolved configuration of one participant.
type Config struct {
	ID        string
	RelayURL  string
	Topic     string
	Transport TransportKind
	Redis     RedisConfig

	JoinProtocol session.JoinProtocol
	Codec        string
	Legacy       bool

	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ICEURL     string

	Constraints media.Constraints
	VideoFile   string
	AudioFile   string
	ReceiveOnly bool

	StatsInterval time.Duration
}

// Options carries CLI flag values. Zero values fall through to the
// environment and then to defaults.
type Options struct {
	ID            string
	RelayURL      string
	Topic         string
	Transport     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JoinProtocol string
	Codec        string
	Legacy       bool

	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ICEURL     string

	Audio       bool
	Video       bool
	Width       int
	Height      int
	VideoFile   string
	AudioFile   string
	ReceiveOnly bool

	StatsInterval time.Duration
}

// Load resolves a participant configuration.
func Load(opts Options) (*Config, error) {
	proto, err := session.ParseJoinProtocol(opts.JoinProtocol)
	if err != nil {
		return nil, err
	}

	codec := strings.ToLower(opts.Codec)
	if codec == "" {
		codec = "json"
	}
	if _, ok := protocol.CodecByName(codec, opts.Legacy); !ok {
		return nil, fmt.Errorf("unknown codec %q", opts.Codec)
	}

	transport := TransportKind(strings.ToLower(resolve(opts.Transport, "MESHCALL_TRANSPORT", string(TransportWS))))
	if transport != TransportWS && transport != TransportRedis {
		return nil, fmt.Errorf("unknown transport %q", transport)
	}

	redisDB := opts.RedisDB
	if redisDB == 0 {
		if v := os.Getenv("REDIS_DB"); v != "" {
			if redisDB, err = strconv.Atoi(v); err != nil {
				return nil, fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
			}
		}
	}

	width, height := opts.Width, opts.Height
	if width == 0 && height == 0 {
		d := media.DefaultConstraints()
		width, height = d.Width, d.Height
	}

	interval := opts.StatsInterval
	if interval <= 0 {
		interval = DefaultStatsInterval
	}

	return &Config{
		ID:        resolve(opts.ID, "MESHCALL_ID", uuid.NewString()),
		RelayURL:  resolve(opts.RelayURL, "MESHCALL_RELAY_URL", ""),
		Topic:     resolve(opts.Topic, "MESHCALL_TOPIC", DefaultTopic),
		Transport: transport,
		Redis: RedisConfig{
			Addr:     resolve(opts.RedisAddr, "REDIS_ADDR", DefaultRedisAddr),
			Password: resolve(opts.RedisPassword, "REDIS_PASSWORD", ""),
			DB:       redisDB,
		},

		JoinProtocol: proto,
		Codec:        codec,
		Legacy:       opts.Legacy,

		STUNServer: resolve(opts.STUNServer, "STUN_SERVER", ""),
		TURNServer: resolve(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:   resolve(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:   resolve(opts.TURNPass, "TURN_PASSWORD", ""),
		ICEURL:     resolve(opts.ICEURL, "ICE_SERVERS_URL", ""),

		Constraints: media.Constraints{
			Audio:  opts.Audio,
			Video:  opts.Video,
			Width:  width,
			Height: height,
		},
		VideoFile:   opts.VideoFile,
		AudioFile:   opts.AudioFile,
		ReceiveOnly: opts.ReceiveOnly,

		StatsInterval: interval,
	}, nil
}

// Validate checks settings that may still be filled in after Load (the relay
// URL can come from an interactive prompt).
func (c *Config) Validate() error {
	if c.Transport == TransportWS && c.RelayURL == "" {
		return ErrNoRelayURL
	}
	if !c.ReceiveOnly && c.VideoFile == "" && c.AudioFile == "" {
		return errors.New("no media file configured (use --video-file / --audio-file or --receive-only)")
	}
	if c.Constraints.Video && c.VideoFile == "" && !c.ReceiveOnly {
		return errors.New("video requested but no --video-file given")
	}
	if c.Constraints.Audio && c.AudioFile == "" && !c.ReceiveOnly {
		return errors.New("audio requested but no --audio-file given")
	}
	return nil
}

// STUNServers returns the configured STUN servers, or nil for the engine
// defaults.
func (c *Config) STUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return splitList(c.STUNServer)
}

// ---------------------------------------------------------------------------
// Relay
// ---------------------------------------------------------------------------

// RelayConfig is the resolved configuration of the broadcast relay.
type RelayConfig struct {
	Addr           string
	AllowedOrigins []string
	UseRedis       bool
	Redis          RedisConfig
}

// RelayOptions carries relay CLI flag values.
type RelayOptions struct {
	Port           string
	AllowedOrigins string
	UseRedis       bool
	RedisAddr      string
	RedisPassword  string
}

// LoadRelay resolves the relay configuration.
func LoadRelay(opts RelayOptions) (*RelayConfig, error) {
	port := resolve(opts.Port, "PORT", DefaultPort)
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return nil, fmt.Errorf("invalid port %q", port)
	}

	return &RelayConfig{
		Addr:           ":" + port,
		AllowedOrigins: splitList(resolve(opts.AllowedOrigins, "ALLOWED_ORIGINS", "")),
		UseRedis:       opts.UseRedis,
		Redis: RedisConfig{
			Addr:     resolve(opts.RedisAddr, "REDIS_ADDR", DefaultRedisAddr),
			Password: resolve(opts.RedisPassword, "REDIS_PASSWORD", ""),
		},
	}, nil
}

// resolve returns flag, else the environment variable env, else def.
func resolve(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

// splitList splits a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
