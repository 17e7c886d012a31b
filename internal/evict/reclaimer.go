// Package evict frees disk space by deleting the least valuable cached songs.
package evict

import (
	"context"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/cesargomez89/navicache/internal/constants"
	"github.com/cesargomez89/navicache/internal/domain"
	"github.com/cesargomez89/navicache/internal/logger"
	"github.com/cesargomez89/navicache/internal/storage"
)

type Store interface {
	OldestByCachedDate(ctx context.Context) (*domain.CachedFile, error)
	OldestByPlayedDate(ctx context.Context) (*domain.CachedFile, error)
	DeleteCachedFile(ctx context.Context, serverID, songID int64) error
	CachedBytes(ctx context.Context) (int64, error)
}

type Config struct {
	Policy        string // constants.EvictByCachedDate or constants.EvictByPlayedDate
	MinFreeBytes  int64
	MaxCacheBytes int64
	MaxPerPass    int
}

// Result describes one reclaim pass.
type Result struct {
	Evicted    []domain.CachedFile `json:"evicted"`
	FreedBytes int64               `json:"freed_bytes"`
}

type Reclaimer struct {
	store     Store
	cfg       Config
	cacheDir  string
	log       *logger.Logger
	freeSpace func(string) (int64, error)
	onReclaim func(Result)
	trigger   chan struct{}
	mu        sync.Mutex
}

type Option func(*Reclaimer)

// WithFreeSpace replaces the free space check.
func WithFreeSpace(fn func(string) (int64, error)) Option {
	return func(r *Reclaimer) { r.freeSpace = fn }
}

// OnReclaim registers fn to run after a triggered pass that freed space.
func OnReclaim(fn func(Result)) Option {
	return func(r *Reclaimer) { r.onReclaim = fn }
}

func NewReclaimer(store Store, cacheDir string, cfg Config, log *logger.Logger, opts ...Option) *Reclaimer {
	if log == nil {
		log = logger.Default()
	}
	if cfg.MaxPerPass <= 0 {
		cfg.MaxPerPass = constants.DefaultMaxEvictionsPass
	}
	r := &Reclaimer{
		store:     store,
		cfg:       cfg,
		cacheDir:  cacheDir,
		log:       log.WithComponent("evict"),
		freeSpace: storage.FreeSpace,
		trigger:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Trigger asks Run for a pass. Requests made while one is pending coalesce.
func (r *Reclaimer) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run performs a pass for every Trigger until ctx is cancelled.
func (r *Reclaimer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.trigger:
			res, err := r.Reclaim(ctx)
			if err != nil {
				r.log.Error("Reclaim pass failed", "error", err)
			}
			if res.FreedBytes > 0 && r.onReclaim != nil {
				r.onReclaim(res)
			}
		}
	}
}

// Reclaim deletes songs, oldest first by the configured policy, until free
// space is at least MinFreeBytes and the cache is no larger than
// MaxCacheBytes. Pinned songs are never deleted.
func (r *Reclaimer) Reclaim(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res Result
	cached, err := r.store.CachedBytes(ctx)
	if err != nil {
		return res, err
	}

	for len(res.Evicted) < r.cfg.MaxPerPass {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		need, err := r.needsSpace(cached)
		if err != nil {
			return res, err
		}
		if !need {
			break
		}

		cand, err := r.candidate(ctx)
		if err != nil {
			return res, err
		}
		if cand == nil {
			r.log.Warn("Cache is over its limits but nothing is evictable",
				"cached", humanize.IBytes(uint64(max(cached, 0))))
			break
		}

		if err := r.evict(ctx, cand); err != nil {
			return res, err
		}
		res.Evicted = append(res.Evicted, *cand)
		res.FreedBytes += cand.Size
		cached -= cand.Size
	}

	if len(res.Evicted) > 0 {
		r.log.Info("Reclaimed cache space",
			"songs", len(res.Evicted), "freed", humanize.IBytes(uint64(res.FreedBytes)))
	}
	return res, nil
}

func (r *Reclaimer) needsSpace(cached int64) (bool, error) {
	if r.cfg.MaxCacheBytes > 0 && cached > r.cfg.MaxCacheBytes {
		return true, nil
	}
	if r.cfg.MinFreeBytes <= 0 {
		return false, nil
	}
	free, err := r.freeSpace(r.cacheDir)
	if err != nil {
		return false, fmt.Errorf("failed to read free space: %w", err)
	}
	return free < r.cfg.MinFreeBytes, nil
}

func (r *Reclaimer) candidate(ctx context.Context) (*domain.CachedFile, error) {
	if r.cfg.Policy == constants.EvictByPlayedDate {
		return r.store.OldestByPlayedDate(ctx)
	}
	return r.store.OldestByCachedDate(ctx)
}

// evict removes the file before the rows. A row whose file is missing
// counts as not cached.
func (r *Reclaimer) evict(ctx context.Context, cf *domain.CachedFile) error {
	path := storage.LocalPath(r.cacheDir, cf.Path)
	if err := storage.RemoveFile(path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	if err := storage.PruneEmptyParents(r.cacheDir, path); err != nil {
		r.log.Warn("Failed to prune empty folders", "path", path, "error", err)
	}
	if err := r.store.DeleteCachedFile(ctx, cf.ServerID, cf.SongID); err != nil {
		return err
	}
	r.log.Debug("Evicted song", "server_id", cf.ServerID, "song_id", cf.SongID, "size", humanize.IBytes(uint64(cf.Size)))
	return nil
}
