package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/meshcall/internal/broadcast"
	"github.com/1ureka/meshcall/internal/config"
	"github.com/1ureka/meshcall/internal/media"
	"github.com/1ureka/meshcall/internal/protocol"
	"github.com/1ureka/meshcall/internal/session"
	"github.com/1ureka/meshcall/internal/util"
	"github.com/1ureka/meshcall/internal/webrtc"
)

const iceFetchTimeout = 10 * time.Second

func newJoinCmd() *cobra.Command {
	var opts config.Options

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join the call on a topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts)
			if err != nil {
				return err
			}

			// No relay given: interactive prompt.
			if cfg.Transport == config.TransportWS && cfg.RelayURL == "" {
				cfg.RelayURL = askURL()
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return runJoin(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.ID, "id", "", "Participant id (env MESHCALL_ID, default random uuid)")
	f.StringVar(&opts.RelayURL, "relay", "", "Relay base URL (env MESHCALL_RELAY_URL)")
	f.StringVar(&opts.Topic, "topic", "", "Broadcast topic (env MESHCALL_TOPIC, default session_channel)")
	f.StringVar(&opts.Transport, "transport", "", "Broadcast transport: ws or redis (env MESHCALL_TRANSPORT)")
	f.StringVar(&opts.RedisAddr, "redis-addr", "", "Redis address (env REDIS_ADDR)")
	f.StringVar(&opts.RedisPassword, "redis-password", "", "Redis password (env REDIS_PASSWORD)")
	f.IntVar(&opts.RedisDB, "redis-db", 0, "Redis database (env REDIS_DB)")

	f.StringVar(&opts.JoinProtocol, "join-protocol", "announce", "Join protocol: announce or rollcall")
	f.StringVar(&opts.Codec, "codec", "json", "Wire codec: json or msgpack")
	f.BoolVar(&opts.Legacy, "legacy", false, "Use the browser page tags (JOIN_ROOM, EXCHANGE, REMOVE_USER, usersInRoom)")

	f.StringVar(&opts.STUNServer, "stun", "", "Comma-separated STUN servers (env STUN_SERVER)")
	f.StringVar(&opts.TURNServer, "turn", "", "TURN server (env TURN_SERVER)")
	f.StringVar(&opts.TURNUser, "turn-user", "", "TURN username (env TURN_USERNAME)")
	f.StringVar(&opts.TURNPass, "turn-pass", "", "TURN password (env TURN_PASSWORD)")
	f.StringVar(&opts.ICEURL, "ice-url", "", "ICE provisioning endpoint, e.g. xirsys (env ICE_SERVERS_URL)")

	f.BoolVar(&opts.Video, "video", true, "Send video")
	f.BoolVar(&opts.Audio, "audio", false, "Send audio")
	f.IntVar(&opts.Width, "width", 0, "Video width (default 480)")
	f.IntVar(&opts.Height, "height", 0, "Video height (default 360)")
	f.StringVar(&opts.VideoFile, "video-file", "", "IVF (VP8) file used as the camera")
	f.StringVar(&opts.AudioFile, "audio-file", "", "Ogg (Opus) file used as the microphone")
	f.BoolVar(&opts.ReceiveOnly, "receive-only", false, "Join without sending media")
	f.DurationVar(&opts.StatsInterval, "stats-interval", 0, "Inbound media report interval (default 5s)")

	return cmd
}

// runJoin wires the collaborators and runs the session until Ctrl+C or the
// transport closes.
func runJoin(ctx context.Context, cfg *config.Config) error {
	transport, err := newTransport(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to broadcast transport: %w", err)
	}
	defer transport.Close()

	codec, _ := protocol.CodecByName(cfg.Codec, cfg.Legacy)

	iceOpts := webrtc.Options{
		STUNServers:  cfg.STUNServers(),
		TURNServer:   cfg.TURNServer,
		TURNUsername: cfg.TURNUser,
		TURNPassword: cfg.TURNPass,
	}
	if cfg.ICEURL != "" {
		fetchCtx, cancel := context.WithTimeout(ctx, iceFetchTimeout)
		servers, err := webrtc.FetchICEServers(fetchCtx, nil, cfg.ICEURL)
		cancel()
		if err != nil {
			util.LogWarning("using static ICE servers: %v", err)
		} else {
			util.LogInfo("provisioned %d ICE server(s)", len(servers))
			iceOpts.Provisioned = servers
		}
	}

	engine, err := webrtc.NewEngine(iceOpts)
	if err != nil {
		return err
	}

	var capture media.CaptureProvider
	if cfg.VideoFile != "" || cfg.AudioFile != "" {
		capture = &media.FileCapture{VideoPath: cfg.VideoFile, AudioPath: cfg.AudioFile}
	}

	stats := util.NewStatsTable()
	util.StartStatsReporter(ctx, stats, cfg.StatsInterval)

	orch, err := session.New(session.Config{
		LocalID:     protocol.ParticipantID(cfg.ID),
		Topic:       cfg.Topic,
		Protocol:    cfg.JoinProtocol,
		Constraints: cfg.Constraints,
		ReceiveOnly: cfg.ReceiveOnly,
		Transport:   transport,
		Codec:       codec,
		Capture:     capture,
		Engine:      engine,
		Sink:        media.NewStatsSink(stats),
	})
	if err != nil {
		return err
	}

	util.LogSuccess("joining %q as %s (%s, %s)", cfg.Topic, cfg.ID, cfg.JoinProtocol, cfg.Codec)

	if err := orch.Run(ctx); err != nil {
		return err
	}

	util.LogInfo("left the call")
	return nil
}

func newTransport(ctx context.Context, cfg *config.Config) (broadcast.Transport, error) {
	if cfg.Transport == config.TransportRedis {
		return broadcast.NewRedis(ctx, broadcast.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	return broadcast.NewWSClient(cfg.RelayURL)
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// normalizeRelayURL validates a raw relay URL and reduces it to scheme://host.
// A missing scheme defaults to https.
func normalizeRelayURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}

	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported relay URL scheme: %s", u.Scheme)
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}

// askURL prompts the user for a valid relay URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay URL (e.g. https://***.asse.devtunnels.ms)").
			Show()

		relayURL, err := normalizeRelayURL(raw)
		if err == nil {
			pterm.Println()
			return relayURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}
