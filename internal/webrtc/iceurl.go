package webrtc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/pion/webrtc/v4"
)

const maxICEResponse = 64 << 10

// FetchICEServers asks an ICE provisioning endpoint for servers. The request
// is a PUT with Accept: application/json, which is what xirsys expects;
// credentials may be given as URL userinfo.
//
// Two response shapes are understood:
//
//	{"iceServers": [...]}                      an RTCConfiguration
//	{"v": {"iceServers": {...}}, "s": "ok"}   the xirsys envelope
//
// In both, iceServers may be one object or a list, and each entry may carry
// "urls" (string or list) or the older "url".
func FetchICEServers(ctx context.Context, client *http.Client, url string) ([]webrtc.ICEServer, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ice url: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ice url: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxICEResponse))
	if err != nil {
		return nil, fmt.Errorf("ice url: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("ice url: unexpected status %s", resp.Status)
	}
	return parseICEServers(body)
}

type iceEnvelope struct {
	IceServers json.RawMessage `json:"iceServers"`
	V          json.RawMessage `json:"v"`
	S          string          `json:"s"`
}

type iceServerJSON struct {
	URLs       json.RawMessage `json:"urls"`
	URL        string          `json:"url"`
	Username   string          `json:"username"`
	Credential string          `json:"credential"`
}

func parseICEServers(body []byte) ([]webrtc.ICEServer, error) {
	var env iceEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("ice url: invalid response: %w", err)
	}

	raw := env.IceServers
	if raw == nil && env.V != nil {
		if env.S != "" && env.S != "ok" {
			return nil, fmt.Errorf("ice url: provider error: %s", bytes.Trim(env.V, `"`))
		}
		var inner iceEnvelope
		if err := json.Unmarshal(env.V, &inner); err != nil {
			return nil, fmt.Errorf("ice url: invalid response: %w", err)
		}
		raw = inner.IceServers
	}
	if raw == nil {
		return nil, errors.New("ice url: response has no iceServers")
	}

	var entries []iceServerJSON
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("ice url: invalid iceServers: %w", err)
		}
	} else {
		var one iceServerJSON
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("ice url: invalid iceServers: %w", err)
		}
		entries = []iceServerJSON{one}
	}

	var servers []webrtc.ICEServer
	for _, e := range entries {
		urls, err := e.urls()
		if err != nil {
			return nil, err
		}
		if len(urls) == 0 {
			continue
		}
		servers = append(servers, webrtc.ICEServer{URLs: urls, Username: e.Username, Credential: e.Credential})
	}
	if len(servers) == 0 {
		return nil, errors.New("ice url: response lists no server urls")
	}
	return servers, nil
}

func (e iceServerJSON) urls() ([]string, error) {
	if len(e.URLs) == 0 {
		if e.URL == "" {
			return nil, nil
		}
		return []string{e.URL}, nil
	}

	var list []string
	if err := json.Unmarshal(e.URLs, &list); err == nil {
		return list, nil
	}
	var one string
	if err := json.Unmarshal(e.URLs, &one); err != nil {
		return nil, fmt.Errorf("ice url: invalid urls: %s", e.URLs)
	}
	return []string{one}, nil
}
