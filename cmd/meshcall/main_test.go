package main

import (
	"strings"
	"testing"
)

func TestNormalizeRelayURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://localhost:8080", "http://localhost:8080", false},
		{"  wss://relay.example/ws/x ", "wss://relay.example", false},
		{"relay.example", "https://relay.example", false},
		{"ftp://relay.example", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := normalizeRelayURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("normalizeRelayURL(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("normalizeRelayURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()

	for _, name := range []string{"join", "relay"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %q missing: %v", name, err)
		}
	}

	join, _, _ := root.Find([]string{"join"})
	for _, flag := range []string{"relay", "topic", "join-protocol", "codec", "video-file", "receive-only", "stun", "ice-url", "legacy"} {
		if join.Flags().Lookup(flag) == nil {
			t.Errorf("join is missing --%s", flag)
		}
	}

	if usage := join.Flags().Lookup("legacy").Usage; !strings.Contains(usage, "JOIN_ROOM") {
		t.Errorf("--legacy usage %q does not name the legacy tags", usage)
	}
}
