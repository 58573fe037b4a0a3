package agent

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSyncOnceUsesFreshVersions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.mp3", "aaaa", time.Unix(1700000000, 0))

	relay := &fakeRelay{}
	srv := httptest.NewServer(relay)
	defer srv.Close()

	a, err := New(Options{ServerURL: srv.URL, UserID: "alice", LibraryPath: root, Extensions: []string{".mp3"}, BatchSize: 10})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.now = func() time.Time { return time.Unix(5000, 0) }

	for i := 0; i < 2; i++ {
		resp, err := a.SyncOnce(context.Background())
		if err != nil {
			t.Fatalf("SyncOnce: %v", err)
		}
		if resp.Count != 1 {
			t.Fatalf("count = %d", resp.Count)
		}
	}

	if v0, v1 := *relay.scans[0].LibraryVersion, *relay.scans[1].LibraryVersion; v0 != 5000 || v1 != 5001 {
		t.Fatalf("versions = %d, %d", v0, v1)
	}
}

func TestNewRequiresIdentity(t *testing.T) {
	if _, err := New(Options{ServerURL: "http://relay"}); err == nil {
		t.Fatal("missing user id accepted")
	}
	if _, err := New(Options{UserID: "alice"}); err == nil {
		t.Fatal("missing server url accepted")
	}
}
