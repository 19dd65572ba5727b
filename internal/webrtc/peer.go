// Package webrtc implements session.MediaEngine on top of pion PeerConnections.
package webrtc

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/meshcall/internal/media"
	"github.com/1ureka/meshcall/internal/session"
	"github.com/1ureka/meshcall/internal/util"
)

// DefaultSTUNServers are used when no ICE servers are configured.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Options configures ICE servers. An empty STUNServers list falls back to
// DefaultSTUNServers; TURN is only used when TURNServer is set.
type Options struct {
	STUNServers  []string
	TURNServer   string
	TURNUsername string
	TURNPassword string

	// Provisioned servers, typically from FetchICEServers. When present they
	// replace the DefaultSTUNServers fallback.
	Provisioned []webrtc.ICEServer

	// NoDefaultSTUN disables the fallback to DefaultSTUNServers, leaving
	// host candidates only.
	NoDefaultSTUN bool
}

// ICEServers builds the pion ICE server list for o.
func (o Options) ICEServers() []webrtc.ICEServer {
	stun := o.STUNServers
	if len(stun) == 0 && len(o.Provisioned) == 0 && !o.NoDefaultSTUN {
		stun = DefaultSTUNServers
	}

	var servers []webrtc.ICEServer
	if len(stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}
	if o.TURNServer != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{o.TURNServer},
			Username:   o.TURNUsername,
			Credential: o.TURNPassword,
		})
	}
	return append(servers, o.Provisioned...)
}

// Engine creates one PeerConnection per remote participant. All connections
// share a media engine with the default codecs and interceptors.
type Engine struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewEngine builds the pion API. pion's own logs go through util.
func NewEngine(opts Options) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	settings := webrtc.SettingEngine{LoggerFactory: util.PionLoggerFactory{}}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settings),
	)

	return &Engine{
		api:    api,
		config: webrtc.Configuration{ICEServers: opts.ICEServers()},
	}, nil
}

// NewLink creates a PeerConnection carrying local's tracks. Kinds without a
// local track get a receive-only transceiver so remote media of that kind is
// still negotiated.
func (e *Engine) NewLink(local *media.LocalStream) (session.MediaLink, error) {
	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	sending := map[webrtc.RTPCodecType]bool{}
	for _, track := range local.Tracks() {
		sender, err := pc.AddTrack(track)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		sending[track.Kind()] = true
		go drainRTCP(sender)
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if sending[kind] {
			continue
		}
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	return newLink(pc), nil
}

// drainRTCP reads RTCP for a sender so interceptors (NACK, reports) keep
// running. Returns when the connection is closed.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
