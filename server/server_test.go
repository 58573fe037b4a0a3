package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"radiotiker/config"
	"radiotiker/core/audio"
	"radiotiker/core/events"
	"radiotiker/core/relay"
	"radiotiker/repository"
	"radiotiker/storage"

	"github.com/gorilla/websocket"
)

var audioBytes = bytes.Repeat([]byte("abcdefghij"), 50) // 500 bytes

// testOrigin honours ranges for .mp3, ignores them under /naive/ and labels
// .flac files as audio/flac.
func testOrigin() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ".flac"):
			w.Header().Set("Content-Type", "audio/flac")
			w.Header().Set("Content-Length", strconv.Itoa(len(audioBytes)))
			if r.Method != http.MethodHead {
				w.Write(audioBytes)
			}
		case strings.HasPrefix(r.URL.Path, "/naive/"):
			w.Header().Set("Content-Type", "audio/mpeg")
			w.Header().Set("Content-Length", strconv.Itoa(len(audioBytes)))
			if r.Method != http.MethodHead {
				w.Write(audioBytes)
			}
		default:
			w.Header().Set("Content-Type", "audio/mpeg")
			http.ServeContent(w, r, "track.mp3", time.Time{}, bytes.NewReader(audioBytes))
		}
	})
}

type testEnv struct {
	srv    *httptest.Server
	origin *httptest.Server
	marker string
}

func newTestEnv(t *testing.T, ffmpegPath string) *testEnv {
	t.Helper()
	return newTestEnvWithOrigin(t, ffmpegPath, testOrigin())
}

func newTestEnvWithOrigin(t *testing.T, ffmpegPath string, originHandler http.Handler) *testEnv {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	origin := httptest.NewServer(originHandler)
	t.Cleanup(origin.Close)

	catalog := repository.NewCatalogRepository(store, time.Now)
	agents := repository.NewAgentRegistry(store, 10*time.Minute, time.Now)
	engine := relay.NewEngine(catalog, agents, relay.Options{
		ProbeTimeout:   time.Second,
		ConnectTimeout: time.Second,
		ReadTimeout:    5 * time.Second,
		PlayableTypes:  config.DefaultPlayableTypes,
	})

	marker := filepath.Join(t.TempDir(), "spawned")
	if ffmpegPath == "" {
		ffmpegPath = filepath.Join(t.TempDir(), "ffmpeg")
		script := "#!/bin/sh\necho \"$@\" > " + marker + "\nprintf MP3DATA\n"
		if err := os.WriteFile(ffmpegPath, []byte(script), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	encoder := audio.NewLiveEncoder(audio.EncoderConfig{FFmpegPath: ffmpegPath})

	hub := events.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(NewHandler(Deps{Catalog: catalog, Agents: agents, Engine: engine, Encoder: encoder, Hub: hub}))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, origin: origin, marker: marker}
}

// noRedirect keeps 302s visible to the test.
var noRedirect = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
}

func (e *testEnv) post(t *testing.T, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(e.srv.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

func (e *testEnv) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

func (e *testEnv) do(t *testing.T, method, path string, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func decodeBody(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	out := map[string]any{}
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func track(id, relPath string) map[string]any {
	return map[string]any{"track_id": id, "rel_path": relPath, "title": "Song " + id}
}

func (e *testEnv) announce(t *testing.T, user string) {
	t.Helper()
	if status, body := e.post(t, "/agent/announce", map[string]any{"user_id": user, "base_url": e.origin.URL + "/"}); status != http.StatusOK {
		t.Fatalf("announce: %d %v", status, body)
	}
}

func TestSubmitScanRetryIsIdempotent(t *testing.T) {
	env := newTestEnv(t, "")
	scan := map[string]any{
		"user_id":         "alice",
		"library_version": 100,
		"replace":         true,
		"library":         []any{track("A", "a.mp3"), track("B", "b.mp3")},
	}
	for i := 0; i < 2; i++ {
		status, body := env.post(t, "/submit-scan", scan)
		if status != http.StatusOK || body["ok"] != true || body["count"] != float64(2) || body["version"] != float64(100) {
			t.Fatalf("submit %d: %d %v", i, status, body)
		}
		if preview := body["preview"].([]any); len(preview) != 2 {
			t.Fatalf("preview = %v", preview)
		}
	}

	status, lib := env.get(t, "/library/alice")
	if status != http.StatusOK || lib["count"] != float64(2) || len(lib["tracks"].([]any)) != 2 {
		t.Fatalf("library: %d %v", status, lib)
	}
}

func TestSubmitScanMergesAndNormalizes(t *testing.T) {
	env := newTestEnv(t, "")
	env.post(t, "/submit-scan", map[string]any{"user_id": "alice", "library": []any{map[string]any{"track_id": "A", "rel_path": "/Some Dir/01 A.mp3"}}})
	env.post(t, "/api/submit-scan", map[string]any{"user_id": "alice", "library": []any{track("B", "b.mp3")}})

	_, lib := env.get(t, "/library/alice")
	tracks := lib["tracks"].([]any)
	if len(tracks) != 2 {
		t.Fatalf("tracks = %v", tracks)
	}
	var a map[string]any
	for _, tr := range tracks {
		if m := tr.(map[string]any); m["track_id"] == "A" {
			a = m
		}
	}
	if a["rel_path"] != "Some%20Dir/01%20A.mp3" || a["title"] != "Unknown Title" || a["artist"] != "Unknown Artist" {
		t.Fatalf("track A = %v", a)
	}
}

func TestSubmitScanValidation(t *testing.T) {
	env := newTestEnv(t, "")
	cases := map[string]any{
		"bad json":     "{not json",
		"bad user":     map[string]any{"user_id": "../etc", "library": []any{}},
		"missing id":   map[string]any{"user_id": "alice", "library": []any{map[string]any{"rel_path": "a.mp3"}}},
		"zero version": map[string]any{"user_id": "alice", "library_version": -5, "library": []any{}},
	}
	for name, body := range cases {
		status, resp := env.post(t, "/submit-scan", body)
		if status != http.StatusBadRequest || resp["ok"] != false || resp["error"] == "" {
			t.Errorf("%s: %d %v", name, status, resp)
		}
	}
}

func TestAgentAnnounceAndStatus(t *testing.T) {
	env := newTestEnv(t, "")

	status, body := env.get(t, "/agent/alice/status")
	if status != http.StatusOK || body["online"] != false || body["last_seen"] != nil {
		t.Fatalf("before announce: %v", body)
	}

	status, body = env.post(t, "/agent/announce", map[string]any{"user_id": "alice", "base_url": "http://10.0.0.2:8765/"})
	if status != http.StatusOK || body["base_url"] != "http://10.0.0.2:8765" || body["persisted"] != true {
		t.Fatalf("announce: %d %v", status, body)
	}
	_, body = env.post(t, "/agent/announce", map[string]any{"user_id": "alice", "base_url": "http://10.0.0.2:8765"})
	if body["persisted"] != false {
		t.Fatalf("unchanged base url persisted again: %v", body)
	}

	_, body = env.get(t, "/agent/alice/status")
	if body["online"] != true || body["base_url"] != "http://10.0.0.2:8765" || body["last_seen"] == nil {
		t.Fatalf("after announce: %v", body)
	}

	status, _ = env.post(t, "/agent/announce", map[string]any{"user_id": "alice", "base_url": "ftp://x"})
	if status != http.StatusBadRequest {
		t.Fatalf("bad base url accepted: %d", status)
	}
}

func TestClearLibrary(t *testing.T) {
	env := newTestEnv(t, "")
	env.post(t, "/submit-scan", map[string]any{"user_id": "alice", "library_version": 100, "library": []any{track("A", "a.mp3")}})

	status, body := env.post(t, "/library/alice/clear", "")
	if status != http.StatusOK || body["cleared"] != true || body["version"].(float64) <= 100 {
		t.Fatalf("clear: %d %v", status, body)
	}
	_, lib := env.get(t, "/library/alice")
	if lib["count"] != float64(0) {
		t.Fatalf("library after clear: %v", lib)
	}
}

func TestRelayErrors(t *testing.T) {
	env := newTestEnv(t, "")
	env.post(t, "/submit-scan", map[string]any{"user_id": "alice", "library": []any{track("A", "a.mp3")}})

	resp, body := env.do(t, http.MethodGet, "/relay/alice/unknown", nil)
	if resp.StatusCode != http.StatusNotFound || !bytes.Contains(body, []byte(`"ok":false`)) {
		t.Fatalf("unknown track: %d %s", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodGet, "/relay/alice/A", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("no agent: %d", resp.StatusCode)
	}

	env.announce(t, "alice")
	resp, _ = env.do(t, http.MethodGet, "/relay/alice/A", map[string]string{"Range": "bytes=z-"})
	if resp.StatusCode != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("bad range: %d", resp.StatusCode)
	}
}

func TestRelayRangeCapableOrigin(t *testing.T) {
	env := newTestEnv(t, "")
	env.post(t, "/submit-scan", map[string]any{"user_id": "alice", "library": []any{track("A", "Artist/01 Song.mp3")}})
	env.announce(t, "alice")

	resp, body := env.do(t, http.MethodGet, "/relay/alice/A", nil)
	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Range"); got != "bytes 0-499/500" {
		t.Fatalf("Content-Range = %q", got)
	}
	if !bytes.Equal(body, audioBytes) {
		t.Fatalf("body: %d bytes", len(body))
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" || resp.Header.Get("Cache-Control") != "no-store" {
		t.Fatalf("headers: %v", resp.Header)
	}
	if resp.Header.Get("X-Request-ID") == "" || resp.Header.Get("Access-Control-Expose-Headers") == "" {
		t.Fatalf("middleware headers missing: %v", resp.Header)
	}

	// Without a cached probe result HEAD goes to the origin without a range.
	resp, body = env.do(t, http.MethodHead, "/relay/alice/A", nil)
	if resp.StatusCode != http.StatusOK || len(body) != 0 {
		t.Fatalf("HEAD: %d, %d body bytes", resp.StatusCode, len(body))
	}
}

func TestRelaySynthesizesPartialContent(t *testing.T) {
	env := newTestEnv(t, "")
	env.post(t, "/submit-scan", map[string]any{"user_id": "alice", "library": []any{track("N", "naive/song.mp3")}})
	env.announce(t, "alice")

	resp, body := env.do(t, http.MethodGet, "/relay/alice/N", map[string]string{"Range": "bytes=0-99"})
	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Range"); got != "bytes 0-499/500" {
		t.Fatalf("Content-Range = %q", got)
	}
	if len(body) != 500 {
		t.Fatalf("body length = %d", len(body))
	}
}

func TestRelayRedirectsToTranscoder(t *testing.T) {
	env := newTestEnv(t, "")
	env.post(t, "/submit-scan", map[string]any{"user_id": "alice", "library": []any{track("F", "lossless/song.flac")}})
	env.announce(t, "alice")

	resp, _ := env.do(t, http.MethodGet, "/relay/alice/F?token=abc", nil)
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/relay-transcode/alice/F?token=abc" {
		t.Fatalf("redirect: %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	resp, _ = env.do(t, http.MethodGet, "/api/relay/alice/F", nil)
	if resp.Header.Get("Location") != "/api/relay-transcode/alice/F" {
		t.Fatalf("api redirect: %q", resp.Header.Get("Location"))
	}
}

func TestTranscodeHeadDoesNotSpawn(t *testing.T) {
	env := newTestEnv(t, "")
	env.post(t, "/submit-scan", map[string]any{"user_id": "alice", "library": []any{track("F", "song.flac")}})
	env.announce(t, "alice")

	resp, body := env.do(t, http.MethodHead, "/relay-transcode/alice/F", nil)
	if resp.StatusCode != http.StatusOK || len(body) != 0 {
		t.Fatalf("HEAD: %d", resp.StatusCode)
	}
	if resp.Header.Get("Accept-Ranges") != "none" || resp.Header.Get("Content-Type") != "audio/mpeg" || resp.Header.Get("Content-Length") != "0" {
		t.Fatalf("headers: %v", resp.Header)
	}
	if _, err := os.Stat(env.marker); !os.IsNotExist(err) {
		t.Fatal("HEAD must not start the encoder")
	}
}

func TestTranscodeStreamsEncoderOutput(t *testing.T) {
	env := newTestEnv(t, "")
	env.post(t, "/submit-scan", map[string]any{"user_id": "alice", "library": []any{track("F", "Dir/song one.flac")}})
	env.announce(t, "alice")

	resp, body := env.do(t, http.MethodGet, "/relay-transcode/alice/F", map[string]string{"Range": "bytes=100-"})
	if resp.StatusCode != http.StatusOK || string(body) != "MP3DATA" {
		t.Fatalf("GET: %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get("Accept-Ranges") != "none" || resp.Header.Get("Content-Range") != "" {
		t.Fatalf("headers: %v", resp.Header)
	}

	args, err := os.ReadFile(env.marker)
	if err != nil {
		t.Fatalf("encoder was not started: %v", err)
	}
	if !strings.Contains(string(args), env.origin.URL+"/Dir/song%20one.flac") {
		t.Fatalf("encoder input = %s", args)
	}
}

func TestTranscodeSpawnFailure(t *testing.T) {
	env := newTestEnv(t, filepath.Join(t.TempDir(), "no-ffmpeg"))
	env.post(t, "/submit-scan", map[string]any{"user_id": "alice", "library": []any{track("F", "song.flac")}})
	env.announce(t, "alice")

	resp, body := env.do(t, http.MethodGet, "/relay-transcode/alice/F", nil)
	if resp.StatusCode != http.StatusInternalServerError || !bytes.Contains(body, []byte("transcode_unavailable")) {
		t.Fatalf("spawn failure: %d %s", resp.StatusCode, body)
	}
}

func TestHealthCORSAndMetrics(t *testing.T) {
	env := newTestEnv(t, "")

	for _, path := range []string{"/health", "/api/health"} {
		status, body := env.get(t, path)
		if status != http.StatusOK || body["ok"] != true {
			t.Fatalf("%s: %d %v", path, status, body)
		}
	}

	resp, _ := env.do(t, http.MethodOptions, "/relay/alice/A", nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight: %d %v", resp.StatusCode, resp.Header)
	}

	env.do(t, http.MethodGet, "/relay/alice/missing", nil)
	resp, body := env.do(t, http.MethodGet, "/metrics", nil)
	if resp.StatusCode != http.StatusOK || !bytes.Contains(body, []byte("radiotiker_relay_errors_total")) {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
}

func TestLibraryEventsWebsocket(t *testing.T) {
	env := newTestEnv(t, "")

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/library/alice/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration is asynchronous; keep submitting until an event arrives.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	got := make(chan events.LibraryEvent, 1)
	go func() {
		var ev events.LibraryEvent
		if err := conn.ReadJSON(&ev); err == nil {
			got <- ev
		}
		close(got)
	}()

	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case ev, ok := <-got:
			if !ok {
				t.Fatal("no event received")
			}
			if ev.Type != events.EventLibrary || ev.UserID != "alice" || ev.Version != 100 || ev.Count != 1 {
				t.Fatalf("event = %+v", ev)
			}
			return
		case <-tick.C:
			env.post(t, "/submit-scan", map[string]any{"user_id": "alice", "library_version": 100, "replace": true, "library": []any{track("A", "a.mp3")}})
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestRelayClientDisconnectReleasesUpstream(t *testing.T) {
	released := make(chan struct{})
	endless := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(released)
		w.Header().Set("Content-Type", "audio/mpeg")
		chunk := bytes.Repeat([]byte{0xff}, 4096)
		for {
			if _, err := w.Write(chunk); err != nil {
				<-r.Context().Done()
				return
			}
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(time.Millisecond):
			}
		}
	})
	env := newTestEnvWithOrigin(t, "", endless)
	env.post(t, "/submit-scan", map[string]any{"user_id": "alice", "library": []any{track("E", "live.mp3")}})
	env.announce(t, "alice")

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/relay/alice/E", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Range", "bytes=0-")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, err := io.ReadFull(resp.Body, make([]byte, 20000)); err != nil {
		t.Fatalf("read: %v", err)
	}
	resp.Body.Close()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("origin request still open after the client went away")
	}
}
