package audio

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"radiotiker/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestEncoderArgs(t *testing.T) {
	script := writeScript(t, "ffmpeg", `for a in "$@"; do echo "$a"; done`)
	cfg := EncoderConfig{FFmpegPath: script, Bitrate: "128k", SampleRate: 48000, Channels: 1}
	enc := NewLiveEncoder(cfg)

	s, err := enc.Start(context.Background(), "http://agent/a%20b.flac")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	var got []string
	sc := bufio.NewScanner(s)
	for sc.Scan() {
		got = append(got, sc.Text())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := cfg.Args("http://agent/a%20b.flac")
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("args:\n got %v\nwant %v", got, want)
	}
	for i, a := range want {
		if a == "-i" && want[i+1] != "http://agent/a%20b.flac" {
			t.Fatalf("input url not passed through: %v", want)
		}
	}
}

func TestSessionCloseKillsRunningEncoder(t *testing.T) {
	script := writeScript(t, "ffmpeg", "printf abc\nexec sleep 30")
	enc := NewLiveEncoder(EncoderConfig{FFmpegPath: script})
	before := testutil.ToFloat64(metrics.TranscodeSessions)

	s, err := enc.Start(context.Background(), "http://agent/x.flac")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := testutil.ToFloat64(metrics.TranscodeSessions); got != before+1 {
		t.Fatalf("active sessions = %v, want %v", got, before+1)
	}

	buf := make([]byte, 3)
	if _, err := io.ReadFull(s, buf); err != nil || string(buf) != "abc" {
		t.Fatalf("read %q, %v", buf, err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not terminate the encoder")
	}

	if s.cmd.ProcessState == nil {
		t.Fatalf("process not reaped: %v", s.cmd.ProcessState)
	}
	if got := testutil.ToFloat64(metrics.TranscodeSessions); got != before {
		t.Fatalf("active sessions = %v after close, want %v", got, before)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestSessionContextCancel(t *testing.T) {
	script := writeScript(t, "ffmpeg", "exec sleep 30")
	enc := NewLiveEncoder(EncoderConfig{FFmpegPath: script})

	ctx, cancel := context.WithCancel(context.Background())
	s, err := enc.Start(ctx, "http://agent/x.flac")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	if _, err := io.ReadAll(s); err != nil {
		t.Fatalf("read after cancel: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close after cancel: %v", err)
	}
}

func TestSessionReportsEncoderFailure(t *testing.T) {
	script := writeScript(t, "ffmpeg", "echo 'bad input' >&2\nexit 1")
	enc := NewLiveEncoder(EncoderConfig{FFmpegPath: script})

	s, err := enc.Start(context.Background(), "http://agent/x.flac")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	io.Copy(io.Discard, s)
	// Let the process exit on its own before Close.
	time.Sleep(100 * time.Millisecond)
	s.Close()
	if got := s.Stderr(); got != "bad input\n" {
		t.Fatalf("stderr = %q", got)
	}
}

func TestStartFailsForMissingBinary(t *testing.T) {
	enc := NewLiveEncoder(EncoderConfig{FFmpegPath: filepath.Join(t.TempDir(), "missing-ffmpeg")})
	if _, err := enc.Start(context.Background(), "http://agent/x.flac"); err == nil {
		t.Fatal("expected spawn failure")
	}
}

func TestBoundedBuffer(t *testing.T) {
	b := &boundedBuffer{limit: 4}
	b.Write([]byte("ab"))
	n, _ := b.Write([]byte("cdef"))
	if n != 4 || b.String() != "abcd" {
		t.Fatalf("n=%d buf=%q", n, b.String())
	}
}
