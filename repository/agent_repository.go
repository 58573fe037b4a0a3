package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"radiotiker/logger"
	"radiotiker/model"
	"radiotiker/storage"
)

// AgentRegistry tracks where each user's agent lives and when it last
// checked in. Only the base URL is durable; last contact lives in memory, so
// a relay restart reports every agent offline until it announces again.
type AgentRegistry interface {
	// Announce records contact from the agent and returns the normalized
	// base URL and whether it had to be written to storage.
	Announce(ctx context.Context, userID, baseURL string) (string, bool, error)
	Status(ctx context.Context, userID string) (model.AgentStatus, error)
	// BaseURL returns the last announced base URL, empty if never announced.
	BaseURL(ctx context.Context, userID string) (string, error)
}

type agentState struct {
	baseURL  string
	lastSeen time.Time
}

type agentRegistry struct {
	store     storage.DocumentStore
	slots     *slots[agentState]
	freshness time.Duration
	now       func() time.Time
}

// NewAgentRegistry creates a registry; an agent is online while its last
// contact is younger than freshness. now may be nil.
func NewAgentRegistry(store storage.DocumentStore, freshness time.Duration, now func() time.Time) AgentRegistry {
	if now == nil {
		now = time.Now
	}
	return &agentRegistry{store: store, slots: newSlots[agentState](), freshness: freshness, now: now}
}

// AgentKey is the document key of a user's agent record.
func AgentKey(userID string) string {
	return userID + ".agent.json"
}

// NormalizeBaseURL trims whitespace and trailing slashes.
func NormalizeBaseURL(baseURL string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/")
}

// load must be called with sl.mu held.
func (r *agentRegistry) load(ctx context.Context, userID string, sl *slot[agentState]) error {
	if sl.loaded {
		return nil
	}

	data, err := r.store.Load(ctx, AgentKey(userID))
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load agent for %s: %w", userID, err)
	default:
		var doc model.AgentDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			logger.Warn("corrupt agent document, treating as never announced",
				logger.String("userId", userID),
				logger.ErrorField(err))
		} else {
			sl.val.baseURL = NormalizeBaseURL(doc.BaseURL)
		}
		sl.keep = true
	}
	sl.loaded = true
	return nil
}

func (r *agentRegistry) Announce(ctx context.Context, userID, baseURL string) (string, bool, error) {
	baseURL = NormalizeBaseURL(baseURL)

	sl, unlock := r.slots.lock(userID)
	defer unlock()

	if err := r.load(ctx, userID, sl); err != nil {
		return "", false, err
	}

	// Contact is recorded even when persisting a new base URL fails.
	sl.val.lastSeen = r.now()
	sl.keep = true

	persisted := false
	if sl.val.baseURL != baseURL {
		data, err := json.MarshalIndent(model.AgentDocument{BaseURL: baseURL}, "", "  ")
		if err != nil {
			return "", false, fmt.Errorf("marshal agent document: %w", err)
		}
		if err := r.store.Save(ctx, AgentKey(userID), data); err != nil {
			return "", false, fmt.Errorf("save agent for %s: %w", userID, err)
		}
		logger.Info("agent base url changed",
			logger.String("userId", userID),
			logger.String("old", sl.val.baseURL),
			logger.String("new", baseURL))
		sl.val.baseURL = baseURL
		persisted = true
	}
	return baseURL, persisted, nil
}

func (r *agentRegistry) Status(ctx context.Context, userID string) (model.AgentStatus, error) {
	sl, unlock := r.slots.lock(userID)
	defer unlock()

	if err := r.load(ctx, userID, sl); err != nil {
		return model.AgentStatus{}, err
	}
	st := model.AgentStatus{BaseURL: sl.val.baseURL, LastSeen: sl.val.lastSeen}
	st.Online = st.BaseURL != "" && !st.LastSeen.IsZero() && r.now().Sub(st.LastSeen) < r.freshness
	return st, nil
}

func (r *agentRegistry) BaseURL(ctx context.Context, userID string) (string, error) {
	sl, unlock := r.slots.lock(userID)
	defer unlock()

	if err := r.load(ctx, userID, sl); err != nil {
		return "", err
	}
	return sl.val.baseURL, nil
}
