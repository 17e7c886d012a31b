package evict

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cesargomez89/navicache/internal/constants"
	"github.com/cesargomez89/navicache/internal/logger"
	"github.com/cesargomez89/navicache/internal/storage"
	"github.com/cesargomez89/navicache/internal/store"
)

func setupTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	current := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time {
		now := current
		current = current.Add(time.Minute)
		return now
	})
	return db
}

// cacheSong records a finished song of size bytes and writes its file.
func cacheSong(t *testing.T, db *store.DB, cacheDir string, songID, size int64) string {
	t.Helper()
	rel := fmt.Sprintf("Artist %d/Album/%02d.mp3", songID, songID)
	if err := storage.WriteFile(storage.LocalPath(cacheDir, rel), make([]byte, size)); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := db.MarkCompleted(context.Background(), 1, songID, rel, size); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	return rel
}

func remaining(t *testing.T, db *store.DB) []int64 {
	t.Helper()
	files, err := db.CachedFiles(context.Background(), 100, 0)
	if err != nil {
		t.Fatalf("CachedFiles failed: %v", err)
	}
	ids := make([]int64, 0, len(files))
	for _, f := range files {
		ids = append(ids, f.SongID)
	}
	return ids
}

func TestReclaim_MaxCacheBytes(t *testing.T) {
	db := setupTestDB(t)
	cacheDir := t.TempDir()
	var paths []string
	for id := int64(1); id <= 4; id++ {
		paths = append(paths, cacheSong(t, db, cacheDir, id, 100))
	}
	if err := db.SetPinned(context.Background(), 1, 1, true); err != nil {
		t.Fatalf("SetPinned failed: %v", err)
	}

	r := NewReclaimer(db, cacheDir, Config{Policy: constants.EvictByCachedDate, MaxCacheBytes: 250}, logger.Discard())
	res, err := r.Reclaim(context.Background())
	if err != nil {
		t.Fatalf("Reclaim failed: %v", err)
	}

	if len(res.Evicted) != 2 || res.FreedBytes != 200 {
		t.Fatalf("Expected 2 songs and 200 bytes freed, got %d and %d", len(res.Evicted), res.FreedBytes)
	}
	if res.Evicted[0].SongID != 2 || res.Evicted[1].SongID != 3 {
		t.Errorf("Expected songs 2 and 3 evicted, got %d and %d", res.Evicted[0].SongID, res.Evicted[1].SongID)
	}
	if storage.Exists(storage.LocalPath(cacheDir, paths[1])) {
		t.Error("Expected evicted file removed")
	}
	if storage.Exists(filepath.Join(cacheDir, "Artist 2")) {
		t.Error("Expected empty artist folder pruned")
	}
	if !storage.Exists(storage.LocalPath(cacheDir, paths[0])) {
		t.Error("Expected pinned file kept")
	}
	if ids := remaining(t, db); len(ids) != 2 {
		t.Errorf("Expected 2 songs left, got %v", ids)
	}

	pcs, err := db.PathComponents(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("PathComponents failed: %v", err)
	}
	if len(pcs) != 0 {
		t.Errorf("Expected path rows deleted, got %d", len(pcs))
	}
}

func TestReclaim_MinFreeBytes(t *testing.T) {
	db := setupTestDB(t)
	cacheDir := t.TempDir()
	for id := int64(1); id <= 3; id++ {
		cacheSong(t, db, cacheDir, id, 100)
	}

	var free atomic.Int64
	free.Store(50)
	freeSpace := func(string) (int64, error) { return free.Load(), nil }

	// Each eviction frees its size on the fake filesystem.
	deleting := &countingStore{DB: db, onDelete: func() { free.Add(100) }}

	r := NewReclaimer(deleting, cacheDir, Config{MinFreeBytes: 200}, logger.Discard(), WithFreeSpace(freeSpace))
	res, err := r.Reclaim(context.Background())
	if err != nil {
		t.Fatalf("Reclaim failed: %v", err)
	}
	if len(res.Evicted) != 2 {
		t.Errorf("Expected 2 evictions to reach the floor, got %d", len(res.Evicted))
	}
	if ids := remaining(t, db); len(ids) != 1 || ids[0] != 3 {
		t.Errorf("Expected only song 3 left, got %v", ids)
	}
}

type countingStore struct {
	*store.DB
	onDelete func()
}

func (c *countingStore) DeleteCachedFile(ctx context.Context, serverID, songID int64) error {
	if err := c.DB.DeleteCachedFile(ctx, serverID, songID); err != nil {
		return err
	}
	c.onDelete()
	return nil
}

func TestReclaim_PlayedPolicy(t *testing.T) {
	db := setupTestDB(t)
	cacheDir := t.TempDir()
	for id := int64(1); id <= 3; id++ {
		cacheSong(t, db, cacheDir, id, 100)
	}
	ctx := context.Background()
	played := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	if err := db.SetPlayedDate(ctx, 1, 1, played.Add(time.Hour)); err != nil {
		t.Fatalf("SetPlayedDate failed: %v", err)
	}
	if err := db.SetPlayedDate(ctx, 1, 2, played); err != nil {
		t.Fatalf("SetPlayedDate failed: %v", err)
	}

	r := NewReclaimer(db, cacheDir, Config{Policy: constants.EvictByPlayedDate, MaxCacheBytes: 150}, logger.Discard())
	res, err := r.Reclaim(ctx)
	if err != nil {
		t.Fatalf("Reclaim failed: %v", err)
	}

	// Never played goes first, then the earliest played.
	if len(res.Evicted) != 2 || res.Evicted[0].SongID != 3 || res.Evicted[1].SongID != 2 {
		t.Errorf("Unexpected eviction order: %+v", res.Evicted)
	}
}

func TestReclaim_MaxPerPass(t *testing.T) {
	db := setupTestDB(t)
	cacheDir := t.TempDir()
	for id := int64(1); id <= 5; id++ {
		cacheSong(t, db, cacheDir, id, 100)
	}

	r := NewReclaimer(db, cacheDir, Config{MaxCacheBytes: 1, MaxPerPass: 2}, logger.Discard())
	res, err := r.Reclaim(context.Background())
	if err != nil {
		t.Fatalf("Reclaim failed: %v", err)
	}
	if len(res.Evicted) != 2 {
		t.Errorf("Expected the pass capped at 2, got %d", len(res.Evicted))
	}
}

func TestReclaim_NothingEvictable(t *testing.T) {
	db := setupTestDB(t)
	cacheDir := t.TempDir()
	cacheSong(t, db, cacheDir, 1, 100)
	if err := db.SetPinned(context.Background(), 1, 1, true); err != nil {
		t.Fatalf("SetPinned failed: %v", err)
	}

	r := NewReclaimer(db, cacheDir, Config{MaxCacheBytes: 10}, logger.Discard())
	res, err := r.Reclaim(context.Background())
	if err != nil {
		t.Fatalf("Reclaim failed: %v", err)
	}
	if len(res.Evicted) != 0 {
		t.Errorf("Expected nothing evicted, got %d", len(res.Evicted))
	}
}

func TestReclaim_WithinLimits(t *testing.T) {
	db := setupTestDB(t)
	cacheDir := t.TempDir()
	cacheSong(t, db, cacheDir, 1, 100)

	freeSpace := func(string) (int64, error) { return 1 << 30, nil }
	r := NewReclaimer(db, cacheDir, Config{MinFreeBytes: 1 << 20, MaxCacheBytes: 1 << 20}, logger.Discard(), WithFreeSpace(freeSpace))
	res, err := r.Reclaim(context.Background())
	if err != nil {
		t.Fatalf("Reclaim failed: %v", err)
	}
	if len(res.Evicted) != 0 {
		t.Errorf("Expected nothing evicted, got %d", len(res.Evicted))
	}
}

func TestReclaimer_RunOnTrigger(t *testing.T) {
	db := setupTestDB(t)
	cacheDir := t.TempDir()
	cacheSong(t, db, cacheDir, 1, 100)
	cacheSong(t, db, cacheDir, 2, 100)

	done := make(chan Result, 1)
	r := NewReclaimer(db, cacheDir, Config{MaxCacheBytes: 100}, logger.Discard(),
		OnReclaim(func(res Result) { done <- res }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.Trigger()
	select {
	case res := <-done:
		if res.FreedBytes != 100 {
			t.Errorf("Expected 100 bytes freed, got %d", res.FreedBytes)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for reclaim")
	}
}
