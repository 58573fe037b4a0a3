package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"radiotiker/logger"
	"radiotiker/model"
	"radiotiker/storage"
)

const previewSize = 3

// CatalogRepository is the per-user track catalog.
type CatalogRepository interface {
	// UpsertBatch applies one scan batch. With replace set, the catalog is
	// emptied the first time a given version is seen and never again for that
	// version, so retried or multi-batch uploads converge. A zero version
	// means "assign a fresh one".
	UpsertBatch(ctx context.Context, userID string, tracks []model.Track, version int64, replace bool) (*model.UpsertResult, error)
	Get(ctx context.Context, userID string) (*model.LibrarySnapshot, error)
	GetTrack(ctx context.Context, userID, trackID string) (model.Track, bool, error)
	// Clear wipes the catalog and returns the new version.
	Clear(ctx context.Context, userID string) (int64, error)
}

type catalogRepository struct {
	store storage.DocumentStore
	slots *slots[*model.Catalog]
	now   func() time.Time
}

// NewCatalogRepository creates a catalog backed by store. now may be nil.
func NewCatalogRepository(store storage.DocumentStore, now func() time.Time) CatalogRepository {
	if now == nil {
		now = time.Now
	}
	return &catalogRepository{store: store, slots: newSlots[*model.Catalog](), now: now}
}

// CatalogKey is the document key of a user's catalog.
func CatalogKey(userID string) string {
	return userID + ".json"
}

// load returns the user's catalog, reading it from the store on first use.
// Caller must hold sl.mu.
func (r *catalogRepository) load(ctx context.Context, userID string, sl *slot[*model.Catalog]) (*model.Catalog, error) {
	if sl.loaded {
		return sl.val, nil
	}

	cat, found, err := r.read(ctx, userID)
	if err != nil {
		return nil, err
	}
	sl.val = cat
	sl.loaded = true
	sl.keep = found
	return cat, nil
}

// read reports whether a document was stored for the user.
func (r *catalogRepository) read(ctx context.Context, userID string) (*model.Catalog, bool, error) {
	data, err := r.store.Load(ctx, CatalogKey(userID))
	if errors.Is(err, storage.ErrNotFound) {
		return model.NewCatalog(r.now().Unix()), false, nil
	}
	if err != nil {
		// Left unloaded so the next call retries the backend.
		return nil, false, fmt.Errorf("load catalog for %s: %w", userID, err)
	}

	var cat model.Catalog
	if err := json.Unmarshal(data, &cat); err != nil || cat.Tracks == nil {
		logger.Warn("corrupt catalog document, starting empty",
			logger.String("userId", userID),
			logger.ErrorField(err))
		return model.NewCatalog(r.now().Unix()), true, nil
	}
	return &cat, true, nil
}

func (r *catalogRepository) save(ctx context.Context, userID string, cat *model.Catalog) error {
	data, err := json.MarshalIndent(cat, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	if err := r.store.Save(ctx, CatalogKey(userID), data); err != nil {
		return fmt.Errorf("save catalog for %s: %w", userID, err)
	}
	return nil
}

func (r *catalogRepository) freshVersion(prev int64) int64 {
	v := r.now().Unix()
	if v <= prev {
		v = prev + 1
	}
	return v
}

func (r *catalogRepository) UpsertBatch(ctx context.Context, userID string, tracks []model.Track, version int64, replace bool) (*model.UpsertResult, error) {
	sl, unlock := r.slots.lock(userID)
	defer unlock()

	cur, err := r.load(ctx, userID, sl)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		version = r.freshVersion(cur.Version)
	}

	next := cur.Clone()
	cleared := false
	if replace && next.ClearedFor != version {
		next.Tracks = make(map[string]model.Track, len(tracks))
		next.ClearedFor = version
		cleared = true
	}
	for _, t := range tracks {
		next.Tracks[t.TrackID] = t
	}
	next.Version = version

	if err := r.save(ctx, userID, next); err != nil {
		return nil, err
	}
	sl.val = next
	sl.keep = true

	if cleared {
		logger.Info("catalog cleared for new scan session",
			logger.String("userId", userID),
			logger.Int64("version", version))
	}

	sorted := next.Sorted()
	if len(sorted) > previewSize {
		sorted = sorted[:previewSize]
	}
	return &model.UpsertResult{
		Count:   len(next.Tracks),
		Version: version,
		Cleared: cleared,
		Preview: sorted,
	}, nil
}

func (r *catalogRepository) Get(ctx context.Context, userID string) (*model.LibrarySnapshot, error) {
	sl, unlock := r.slots.lock(userID)
	defer unlock()

	cat, err := r.load(ctx, userID, sl)
	if err != nil {
		return nil, err
	}
	return &model.LibrarySnapshot{Version: cat.Version, Tracks: cat.Sorted()}, nil
}

func (r *catalogRepository) GetTrack(ctx context.Context, userID, trackID string) (model.Track, bool, error) {
	sl, unlock := r.slots.lock(userID)
	defer unlock()

	cat, err := r.load(ctx, userID, sl)
	if err != nil {
		return model.Track{}, false, err
	}
	t, ok := cat.Tracks[trackID]
	return t, ok, nil
}

func (r *catalogRepository) Clear(ctx context.Context, userID string) (int64, error) {
	sl, unlock := r.slots.lock(userID)
	defer unlock()

	cur, err := r.load(ctx, userID, sl)
	if err != nil {
		return 0, err
	}

	next := model.NewCatalog(r.freshVersion(cur.Version))
	if err := r.save(ctx, userID, next); err != nil {
		return 0, err
	}
	sl.val = next
	sl.keep = true

	logger.Info("catalog cleared by user",
		logger.String("userId", userID),
		logger.Int64("version", next.Version))
	return next.Version, nil
}
