package session

import (
	"context"
	"testing"

	"github.com/1ureka/meshcall/internal/broadcast"
	"github.com/1ureka/meshcall/internal/protocol"
)

type participant struct {
	o      *Orchestrator
	engine *fakeEngine
	sink   *fakeSink
	errCh  chan error
	cancel context.CancelFunc
}

func startParticipant(t *testing.T, hub *broadcast.Hub, id protocol.ParticipantID, p JoinProtocol, codec protocol.Codec) *participant {
	t.Helper()

	pt := &participant{engine: &fakeEngine{auto: true}, sink: newFakeSink(), errCh: make(chan error, 1)}
	o, err := New(Config{
		LocalID:     id,
		Topic:       "session_channel",
		Protocol:    p,
		ReceiveOnly: true,
		Transport:   hub,
		Codec:       codec,
		Engine:      pt.engine,
		Sink:        pt.sink,
	})
	if err != nil {
		t.Fatalf("New(%s): %v", id, err)
	}
	pt.o = o

	ctx, cancel := context.WithCancel(context.Background())
	pt.cancel = cancel
	go func() { pt.errCh <- o.Run(ctx) }()
	t.Cleanup(cancel)
	return pt
}

func connectedTo(pt *participant, remote protocol.ParticipantID) bool {
	return pt.o.Peers()[remote] == StateConnected
}

func TestMeshAliceAndBob(t *testing.T) {
	testCases := []struct {
		name  string
		proto JoinProtocol
		codec protocol.Codec
	}{
		{"announce", Announce, protocol.JSONCodec{}},
		{"rollcall", RollCallJoin, protocol.JSONCodec{}},
		{"legacy dialect", Announce, protocol.JSONCodec{Legacy: true}},
		{"msgpack", RollCallJoin, protocol.MsgpackCodec{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			hub := broadcast.NewHub()
			defer hub.Close()

			bob := startParticipant(t, hub, "bob", tc.proto, tc.codec)
			waitUntil(t, "bob to subscribe", func() bool { return hub.Subscribers("session_channel") == 1 })
			alice := startParticipant(t, hub, "alice", tc.proto, tc.codec)

			waitUntil(t, "alice connected to bob", func() bool { return connectedTo(alice, "bob") })
			waitUntil(t, "bob connected to alice", func() bool { return connectedTo(bob, "alice") })

			// alice offered, bob answered: exactly one connection each side.
			if alice.engine.count() != 1 || bob.engine.count() != 1 {
				t.Fatalf("connections: alice=%d bob=%d", alice.engine.count(), bob.engine.count())
			}
			if _, early, _ := alice.engine.link(0).snapshot(); early != 0 {
				t.Fatalf("alice applied %d candidates early", early)
			}
			if _, early, _ := bob.engine.link(0).snapshot(); early != 0 {
				t.Fatalf("bob applied %d candidates early", early)
			}
			if attached, _ := alice.sink.counts("bob"); attached != 1 {
				t.Fatalf("alice attached bob %d times", attached)
			}

			bob.o.Leave()
			if err := <-bob.errCh; err != nil {
				t.Fatalf("bob Run = %v", err)
			}

			waitUntil(t, "alice to drop bob", func() bool {
				_, ok := alice.o.Peers()["bob"]
				return !ok
			})
			if _, detached := alice.sink.counts("bob"); detached != 1 {
				t.Fatalf("alice detached bob %d times, want 1", detached)
			}

			alice.cancel()
			if err := <-alice.errCh; err != nil {
				t.Fatalf("alice Run = %v", err)
			}
		})
	}
}

func TestMeshThreeParticipants(t *testing.T) {
	hub := broadcast.NewHub()
	defer hub.Close()

	carol := startParticipant(t, hub, "carol", Announce, protocol.JSONCodec{})
	waitUntil(t, "carol to subscribe", func() bool { return hub.Subscribers("session_channel") == 1 })
	alice := startParticipant(t, hub, "alice", Announce, protocol.JSONCodec{})
	waitUntil(t, "alice to subscribe", func() bool { return hub.Subscribers("session_channel") == 2 })
	bob := startParticipant(t, hub, "bob", RollCallJoin, protocol.JSONCodec{})

	all := []*participant{alice, bob, carol}
	ids := []protocol.ParticipantID{"alice", "bob", "carol"}
	for i, pt := range all {
		for j, remote := range ids {
			if i == j {
				continue
			}
			waitUntil(t, string(ids[i])+" connected to "+string(remote), func() bool { return connectedTo(pt, remote) })
		}
	}

	for i, pt := range all {
		if n := pt.engine.count(); n != 2 {
			t.Fatalf("%s created %d connections, want 2", ids[i], n)
		}
	}
}
