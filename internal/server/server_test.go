package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/luxassist/platform/internal/gate"
	"github.com/luxassist/platform/internal/monitor"
)

// fakePipeline records control calls and lets tests fire detections.
type fakePipeline struct {
	callbacks    []monitor.Callback
	outputActive bool
	verification bool
	stats        monitor.Stats
}

func (f *fakePipeline) RegisterCallback(cb monitor.Callback) { f.callbacks = append(f.callbacks, cb) }
func (f *fakePipeline) SetAudioOutputActive(active bool)     { f.outputActive = active }
func (f *fakePipeline) SetVerificationEnabled(enabled bool)  { f.verification = enabled }
func (f *fakePipeline) VerificationEnabled() bool            { return f.verification }
func (f *fakePipeline) Statistics() monitor.Stats            { return f.stats }
func (f *fakePipeline) Gate() gate.Snapshot                  { return gate.Snapshot{} }
func (f *fakePipeline) BreakerState() string                 { return "closed" }

func (f *fakePipeline) fire(d monitor.Detection) {
	for _, cb := range f.callbacks {
		cb(d)
	}
}

func newTestServer(t *testing.T) (*fakePipeline, *httptest.Server) {
	t.Helper()
	pipe := &fakePipeline{verification: true}
	srv := httptest.NewServer(New(pipe, nil).Handler())
	t.Cleanup(srv.Close)
	return pipe, srv
}

func TestOutputStateEndpoint(t *testing.T) {
	pipe, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/output/active", "application/json",
		bytes.NewBufferString(`{"active": true}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !pipe.outputActive {
		t.Error("output active not propagated to pipeline")
	}

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "output_active" {
		t.Errorf("status field = %q", body["status"])
	}
}

func TestOutputStateBadBody(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/output/active", "application/json",
		strings.NewReader("not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestVerificationEndpoint(t *testing.T) {
	pipe, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/verification", "application/json",
		bytes.NewBufferString(`{"enabled": false}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()

	if pipe.verification {
		t.Error("verification toggle not propagated")
	}
}

func TestStatsEndpoint(t *testing.T) {
	pipe, srv := newTestServer(t)
	pipe.stats = monitor.Stats{Utterances: 7, Accepted: 2}

	resp, err := http.Get(srv.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Pipeline.Utterances != 7 || body.Pipeline.Accepted != 2 {
		t.Errorf("pipeline stats = %+v", body.Pipeline)
	}
	if !body.VerificationEnabled {
		t.Error("verification flag missing")
	}
	if body.TranscriberBreaker != "closed" {
		t.Errorf("transcriber breaker = %q", body.TranscriberBreaker)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	_, srv := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/stats", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if origin := resp.Header.Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("allow-origin = %q", origin)
	}
}

func TestWebSocketReceivesDetections(t *testing.T) {
	pipe, srv := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The connection registers asynchronously after the handshake, so keep
	// firing until the client sees a message.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(50 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				pipe.fire(monitor.Detection{UtteranceID: "u1", Transcript: "ルクス", Confidence: 1.0})
			}
		}
	}()

	var msg DetectionMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "detection" || msg.Detection.Transcript != "ルクス" {
		t.Errorf("message = %+v", msg)
	}
}
