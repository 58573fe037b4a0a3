package repository

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestAgentStatusLifecycle(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	reg := NewAgentRegistry(newMemStore(), 600*time.Second, clock.Now)
	ctx := context.Background()

	st, err := reg.Status(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if st.Online || st.BaseURL != "" || st.LastSeenUnix() != 0 {
		t.Fatalf("expected offline before announce, got %+v", st)
	}

	if _, _, err := reg.Announce(ctx, "alice", "http://10.0.0.5:8765/"); err != nil {
		t.Fatal(err)
	}
	st, _ = reg.Status(ctx, "alice")
	if !st.Online || st.BaseURL != "http://10.0.0.5:8765" {
		t.Fatalf("expected online right after announce, got %+v", st)
	}
	if st.LastSeenUnix() != 1_700_000_000 {
		t.Fatalf("unexpected last_seen %d", st.LastSeenUnix())
	}

	clock.Advance(599 * time.Second)
	if st, _ = reg.Status(ctx, "alice"); !st.Online {
		t.Fatal("expected online inside the freshness window")
	}
	clock.Advance(2 * time.Second)
	if st, _ = reg.Status(ctx, "alice"); st.Online {
		t.Fatal("expected offline once the freshness window passed")
	}
	if st.BaseURL == "" {
		t.Fatal("base url must survive going stale")
	}
}

func TestAnnouncePersistsOnlyOnChange(t *testing.T) {
	store := newMemStore()
	reg := NewAgentRegistry(store, time.Minute, nil)
	ctx := context.Background()

	base, persisted, err := reg.Announce(ctx, "bob", "http://host:1/")
	if err != nil {
		t.Fatal(err)
	}
	if !persisted || base != "http://host:1" {
		t.Fatalf("first announce: base=%q persisted=%v", base, persisted)
	}
	if _, persisted, _ = reg.Announce(ctx, "bob", "http://host:1"); persisted {
		t.Fatal("unchanged base url must not be persisted")
	}
	if _, persisted, _ = reg.Announce(ctx, "bob", "http://host:2"); !persisted {
		t.Fatal("changed base url must be persisted")
	}
	if n := store.saveCount(AgentKey("bob")); n != 2 {
		t.Fatalf("expected 2 writes, got %d", n)
	}

	raw := string(store.docs[AgentKey("bob")])
	if strings.Contains(raw, "last_seen") {
		t.Fatalf("last_seen must not be persisted: %s", raw)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil || doc["base_url"] != "http://host:2" {
		t.Fatalf("unexpected document %s (err %v)", raw, err)
	}
}

func TestAgentRestartResetsLiveness(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	reg := NewAgentRegistry(store, time.Hour, nil)
	if _, _, err := reg.Announce(ctx, "carol", "http://agent:8765"); err != nil {
		t.Fatal(err)
	}

	restarted := NewAgentRegistry(store, time.Hour, nil)
	st, err := restarted.Status(ctx, "carol")
	if err != nil {
		t.Fatal(err)
	}
	if st.Online {
		t.Fatal("a fresh process must not report the agent online")
	}
	if st.BaseURL != "http://agent:8765" {
		t.Fatalf("base url not reloaded: %q", st.BaseURL)
	}
	if base, _ := restarted.BaseURL(ctx, "carol"); base != "http://agent:8765" {
		t.Fatalf("BaseURL = %q", base)
	}

	// Same URL after restart: nothing changed on disk, nothing written.
	if _, persisted, _ := restarted.Announce(ctx, "carol", "http://agent:8765"); persisted {
		t.Fatal("announce with the stored url must not rewrite the document")
	}
}

func TestCorruptAgentDocumentIsAbsent(t *testing.T) {
	store := newMemStore()
	store.docs[AgentKey("dave")] = []byte("garbage")
	reg := NewAgentRegistry(store, time.Hour, nil)

	base, err := reg.BaseURL(context.Background(), "dave")
	if err != nil {
		t.Fatalf("corrupt document should not surface an error: %v", err)
	}
	if base != "" {
		t.Fatalf("expected no base url, got %q", base)
	}
}

func TestAnnounceRecordsContactWhenSaveFails(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	store := newMemStore()
	store.saveErr = errBackend
	reg := NewAgentRegistry(store, time.Minute, clock.Now)
	ctx := context.Background()

	if _, _, err := reg.Announce(ctx, "alice", "http://10.0.0.5:8765"); err == nil {
		t.Fatal("expected save error")
	}
	st, err := reg.Status(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if st.LastSeenUnix() != 1_700_000_000 {
		t.Fatalf("last_seen = %d, want the announce time", st.LastSeenUnix())
	}
}

func TestAgentReadsForUnknownUsersAreNotRetained(t *testing.T) {
	reg := NewAgentRegistry(newMemStore(), time.Minute, nil).(*agentRegistry)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		user := "ghost" + strings.Repeat("x", i)
		if _, err := reg.Status(ctx, user); err != nil {
			t.Fatal(err)
		}
		if _, err := reg.BaseURL(ctx, user); err != nil {
			t.Fatal(err)
		}
	}
	if n := reg.slots.size(); n != 0 {
		t.Fatalf("slots = %d after reads of unknown users", n)
	}

	if _, _, err := reg.Announce(ctx, "alice", "http://10.0.0.5:8765"); err != nil {
		t.Fatal(err)
	}
	if n := reg.slots.size(); n != 1 {
		t.Fatalf("slots = %d, want the announced agent kept", n)
	}
}
