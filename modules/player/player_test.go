package player

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zachfi/streamplay/pkg/progressive"
)

func testConfig() Config {
	return Config{
		Progressive:     true,
		Output:          "discard",
		ChunkSize:       1024,
		ConnectTimeout:  5 * time.Second,
		PushQueueLength: 4,
	}
}

func newTestPlayer(t *testing.T, cfg Config) (*Player, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	p, err := New(cfg, *testLogger(), reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.stopping(nil) })
	return p, reg
}

func newAPI(t *testing.T, p *Player) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	p.RegisterHandlers(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newAudioServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(bytes.Repeat([]byte("not really an mp3 "), 256))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func decodeStatus(t *testing.T, resp *http.Response) progressive.Status {
	t.Helper()
	defer resp.Body.Close()
	var st progressive.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return st
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestNew_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{name: "unknown output", modify: func(c *Config) { c.Output = "speakers" }},
		{name: "wav without path", modify: func(c *Config) { c.Output = "wav" }},
		{name: "bad base url", modify: func(c *Config) { c.BaseURL = "http://[::1" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.modify(&cfg)
			if _, err := New(cfg, *testLogger(), nil); err == nil {
				t.Error("New succeeded")
			}
		})
	}
}

func TestPlayer_Resolve(t *testing.T) {
	cfg := testConfig()
	cfg.BaseURL = "http://media.example/library/"
	p, _ := newTestPlayer(t, cfg)

	tests := []struct {
		in   string
		want string
	}{
		{in: "track.mp3", want: "http://media.example/library/track.mp3"},
		{in: "/top.mp3", want: "http://media.example/top.mp3"},
		{in: "http://other.example/a.mp3", want: "http://other.example/a.mp3"},
		{in: "", want: ""},
	}
	for _, tc := range tests {
		got, err := p.resolve(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("resolve(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}

	if _, err := p.resolve("%zz"); err == nil {
		t.Error("resolve accepted an invalid locator")
	}
}

func TestAPI_PlayStatusStop(t *testing.T) {
	audio := newAudioServer(t)
	p, reg := newTestPlayer(t, testConfig())
	api := newAPI(t, p)

	resp, err := http.Get(api.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("idle status = %d, want 204", resp.StatusCode)
	}

	resp, err = http.PostForm(api.URL+"/api/play", url.Values{"src": {audio.URL + "/song.mp3"}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("play = %d, want 202", resp.StatusCode)
	}
	st := decodeStatus(t, resp)
	if st.ID == "" || st.Locator != audio.URL+"/song.mp3" {
		t.Errorf("play status = %+v", st)
	}

	resp, err = http.Get(api.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	if got := decodeStatus(t, resp); got.ID != st.ID {
		t.Errorf("status id = %q, want %q", got.ID, st.ID)
	}

	req, _ := http.NewRequest(http.MethodDelete, api.URL+"/api/play", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("stop = %d, want 204", resp.StatusCode)
	}
	if p.Status() != nil {
		t.Error("session still current after stop")
	}

	if got := counterValue(t, reg, "streamplay_sessions_started_total"); got != 1 {
		t.Errorf("sessions_started_total = %v, want 1", got)
	}
	if got := counterValue(t, reg, "streamplay_teardowns_total"); got != 1 {
		t.Errorf("teardowns_total = %v, want 1", got)
	}
}

func TestAPI_PlayJSON(t *testing.T) {
	audio := newAudioServer(t)
	p, _ := newTestPlayer(t, testConfig())
	api := newAPI(t, p)

	body := strings.NewReader(`{"src":"` + audio.URL + `/a.mp3"}`)
	resp, err := http.Post(api.URL+"/api/play", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("play = %d, want 202", resp.StatusCode)
	}
	if st := decodeStatus(t, resp); st.Locator != audio.URL+"/a.mp3" {
		t.Errorf("locator = %q", st.Locator)
	}

	resp, err = http.Post(api.URL+"/api/play", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body = %d, want 400", resp.StatusCode)
	}
}

func TestAPI_PlayErrors(t *testing.T) {
	cfg := testConfig()
	cfg.BaseURL = "http://media.example/"
	p, _ := newTestPlayer(t, cfg)
	api := newAPI(t, p)

	tests := []struct {
		src  string
		want int
	}{
		{src: "", want: http.StatusUnprocessableEntity},
		{src: "%zz", want: http.StatusBadRequest},
	}
	for _, tc := range tests {
		resp, err := http.PostForm(api.URL+"/api/play", url.Values{"src": {tc.src}})
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("play %q = %d, want %d", tc.src, resp.StatusCode, tc.want)
		}
	}

	_ = p.stopping(nil)
	resp, err := http.PostForm(api.URL+"/api/play", url.Values{"src": {"a.mp3"}})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("play after stop = %d, want 503", resp.StatusCode)
	}
}

func TestAPI_PushStream(t *testing.T) {
	p, _ := newTestPlayer(t, testConfig())
	api := newAPI(t, p)

	payload := bytes.Repeat([]byte{0xAB}, 5000)
	req, _ := http.NewRequest(http.MethodPut, api.URL+"/api/stream", bytes.NewReader(payload))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("push = %d, want 200", resp.StatusCode)
	}
	st := decodeStatus(t, resp)
	if st.ID == "" || st.Locator != "" {
		t.Errorf("push status = %+v", st)
	}

	s := p.guard.Current()
	if s == nil || s.ID != st.ID {
		t.Fatal("pushed session is not current")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Garbage with no locator to fall back to is a total failure, unless the
	// decoder was still waiting for more data when the stream ended.
	if err := s.Wait(ctx); err != nil && !errors.Is(err, progressive.ErrTotalFailure) {
		t.Errorf("session error = %v", err)
	}
}

func TestChunkWriter(t *testing.T) {
	src := progressive.NewChannelSource(8)
	w := &chunkWriter{src: src, size: 4}

	n, err := w.Write([]byte("abcdefghij"))
	if n != 10 || err != nil {
		t.Fatalf("Write = %d, %v", n, err)
	}
	_ = src.CloseWrite()

	var sizes []int
	for {
		c, err := src.Read(context.Background())
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if len(c.Data) > 0 {
			sizes = append(sizes, len(c.Data))
		}
		if c.Done {
			break
		}
	}
	if len(sizes) != 3 || sizes[0] != 4 || sizes[1] != 4 || sizes[2] != 2 {
		t.Errorf("chunk sizes = %v, want [4 4 2]", sizes)
	}
}

func TestByteCountIEC(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{in: 0, want: "0 B"},
		{in: 1023, want: "1023 B"},
		{in: 1024, want: "1.0 KiB"},
		{in: 1536, want: "1.5 KiB"},
		{in: 5 * 1024 * 1024, want: "5.0 MiB"},
	}
	for _, tc := range tests {
		if got := ByteCountIEC(tc.in); got != tc.want {
			t.Errorf("ByteCountIEC(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
