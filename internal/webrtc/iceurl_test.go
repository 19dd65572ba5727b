package webrtc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestFetchICEServers(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []webrtc.ICEServer
	}{
		{
			name: "xirsys envelope",
			body: `{"v":{"iceServers":{"username":"u","urls":["stun:x.example","turn:x.example:80?transport=udp"],"credential":"c"}},"s":"ok"}`,
			want: []webrtc.ICEServer{{URLs: []string{"stun:x.example", "turn:x.example:80?transport=udp"}, Username: "u", Credential: "c"}},
		},
		{
			name: "rtc configuration",
			body: `{"iceServers":[{"urls":"stun:a.example"},{"url":"turn:b.example","username":"u","credential":"c"}]}`,
			want: []webrtc.ICEServer{
				{URLs: []string{"stun:a.example"}},
				{URLs: []string{"turn:b.example"}, Username: "u", Credential: "c"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPut || r.Header.Get("Accept") != "application/json" {
					t.Errorf("request %s accept=%q", r.Method, r.Header.Get("Accept"))
				}
				w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			got, err := FetchICEServers(context.Background(), ts.Client(), ts.URL)
			if err != nil {
				t.Fatalf("FetchICEServers: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if !slices.Equal(got[i].URLs, tt.want[i].URLs) || got[i].Username != tt.want[i].Username || got[i].Credential != tt.want[i].Credential {
					t.Errorf("server %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFetchICEServersErrors(t *testing.T) {
	tests := map[string]struct {
		status int
		body   string
	}{
		"http error":     {http.StatusUnauthorized, `{}`},
		"not json":       {http.StatusOK, `<html>`},
		"provider error": {http.StatusOK, `{"v":"auth_failed","s":"error"}`},
		"no servers":     {http.StatusOK, `{"s":"ok"}`},
		"empty urls":     {http.StatusOK, `{"iceServers":[{"username":"u"}]}`},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			if _, err := FetchICEServers(context.Background(), ts.Client(), ts.URL); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
