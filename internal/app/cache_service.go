package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cesargomez89/navicache/internal/domain"
	"github.com/cesargomez89/navicache/internal/logger"
	"github.com/cesargomez89/navicache/internal/storage"
	"github.com/cesargomez89/navicache/internal/store"
)

// Starter kicks the download queue after new work arrives.
type Starter interface {
	Start(ctx context.Context) error
}

type CacheService struct {
	Repo     *store.DB
	Settings *store.SettingsRepo
	Queue    Starter
	CacheDir string
	Logger   *logger.Logger
}

func NewCacheService(repo *store.DB, settings *store.SettingsRepo, queue Starter, cacheDir string, log *logger.Logger) *CacheService {
	if log == nil {
		log = logger.Default()
	}
	return &CacheService{
		Repo:     repo,
		Settings: settings,
		Queue:    queue,
		CacheDir: cacheDir,
		Logger:   log.WithComponent("cache"),
	}
}

// QueueItem is a queue entry joined with its song metadata, when known.
type QueueItem struct {
	domain.QueueEntry
	Song *domain.Song `json:"song,omitempty"`
}

// CachedItem is a cached file joined with its song metadata, when known.
type CachedItem struct {
	domain.CachedFile
	Song *domain.Song `json:"song,omitempty"`
}

// EnqueueSongs saves the songs' metadata and appends them to the queue in
// order. Songs already queued or cached are left where they are.
func (s *CacheService) EnqueueSongs(ctx context.Context, songs []*domain.Song) error {
	keys := make([]domain.SongKey, 0, len(songs))
	for _, song := range songs {
		if err := s.Repo.UpsertSong(ctx, song); err != nil {
			return err
		}
		keys = append(keys, song.Key())
	}
	return s.Enqueue(ctx, keys)
}

// Enqueue appends songs whose metadata is already stored. A finished song
// whose file has gone from disk is forgotten first so it downloads again.
func (s *CacheService) Enqueue(ctx context.Context, keys []domain.SongKey) error {
	if len(keys) == 0 {
		return nil
	}
	for _, k := range keys {
		if err := s.dropMissing(ctx, k); err != nil {
			return err
		}
	}
	if err := s.Repo.EnqueueMany(ctx, keys); err != nil {
		return err
	}
	s.Logger.Info("Songs enqueued", "count", len(keys))
	s.kick(ctx)
	return nil
}

func (s *CacheService) dropMissing(ctx context.Context, k domain.SongKey) error {
	cf, err := s.Repo.CachedFile(ctx, k.ServerID, k.SongID)
	if err != nil || cf == nil || !cf.IsFinished {
		return err
	}
	if storage.Exists(storage.LocalPath(s.CacheDir, cf.Path)) {
		return nil
	}
	s.Logger.Warn("Cached file missing, downloading again", "server_id", k.ServerID, "song_id", k.SongID, "path", cf.Path)
	return s.Repo.DeleteCachedFile(ctx, k.ServerID, k.SongID)
}

func (s *CacheService) kick(ctx context.Context) {
	if s.Queue == nil {
		return
	}
	if err := s.Queue.Start(ctx); err != nil {
		s.Logger.Warn("Failed to start cache queue", "error", err)
	}
}

func (s *CacheService) QueueItems(ctx context.Context, limit, offset int) ([]QueueItem, int, error) {
	total, err := s.Repo.QueueCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	entries, err := s.Repo.QueueEntries(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	items := make([]QueueItem, 0, len(entries))
	for _, e := range entries {
		song, err := s.Repo.Song(ctx, e.ServerID, e.SongID)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, QueueItem{QueueEntry: e, Song: song})
	}
	return items, total, nil
}

func (s *CacheService) CachedSongs(ctx context.Context, limit, offset int) ([]CachedItem, int, error) {
	total, err := s.Repo.CachedFilesCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	files, err := s.Repo.CachedFiles(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	items := make([]CachedItem, 0, len(files))
	for _, f := range files {
		song, err := s.Repo.Song(ctx, f.ServerID, f.SongID)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, CachedItem{CachedFile: f, Song: song})
	}
	return items, total, nil
}

func (s *CacheService) SetPinned(ctx context.Context, serverID, songID int64, pinned bool) error {
	cf, err := s.Repo.CachedFile(ctx, serverID, songID)
	if err != nil {
		return err
	}
	if cf == nil {
		return domain.ErrSongNotFound
	}
	if err := s.Repo.SetPinned(ctx, serverID, songID, pinned); err != nil {
		return err
	}
	s.Logger.Info("Pin changed", "server_id", serverID, "song_id", songID, "pinned", pinned)
	return nil
}

// DeleteSong removes a cached song's file and rows.
func (s *CacheService) DeleteSong(ctx context.Context, serverID, songID int64) error {
	cf, err := s.Repo.CachedFile(ctx, serverID, songID)
	if err != nil {
		return err
	}
	if cf == nil {
		return domain.ErrSongNotFound
	}
	if err := s.removeFile(cf.Path); err != nil {
		return err
	}
	return s.Repo.DeleteCachedFile(ctx, serverID, songID)
}

// DeleteFolder removes every cached song under the folder name at level.
func (s *CacheService) DeleteFolder(ctx context.Context, serverID int64, level int, name string) ([]domain.CachedFile, error) {
	removed, err := s.Repo.DeleteFolder(ctx, serverID, level, name)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, f := range removed {
		if err := s.removeFile(f.Path); err != nil {
			errs = append(errs, err)
		}
	}
	s.Logger.Info("Folder deleted", "server_id", serverID, "level", level, "name", name, "songs", len(removed))
	return removed, errors.Join(errs...)
}

func (s *CacheService) removeFile(rel string) error {
	path := storage.LocalPath(s.CacheDir, rel)
	if err := storage.RemoveFile(path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	if err := storage.PruneEmptyParents(s.CacheDir, path); err != nil {
		s.Logger.Warn("Failed to prune empty folders", "path", path, "error", err)
	}
	return nil
}

// MarkPlayed stamps the song's played date when it is cached.
func (s *CacheService) MarkPlayed(ctx context.Context, serverID, songID int64) error {
	return s.Repo.SetPlayedDate(ctx, serverID, songID, time.Now())
}

// QueueSettings are the runtime toggles stored in the settings table.
type QueueSettings struct {
	OfflineMode            bool  `json:"offline_mode"`
	Metered                bool  `json:"metered"`
	ManualCachingOnMetered bool  `json:"manual_caching_on_metered"`
	MinFreeSpace           int64 `json:"min_free_space"`
}

// QueueSettingsUpdate changes only the fields that are set.
type QueueSettingsUpdate struct {
	OfflineMode            *bool  `json:"offline_mode,omitempty"`
	Metered                *bool  `json:"metered,omitempty"`
	ManualCachingOnMetered *bool  `json:"manual_caching_on_metered,omitempty"`
	MinFreeSpace           *int64 `json:"min_free_space,omitempty"`
}

func (s *CacheService) QueueSettings(ctx context.Context, defaults QueueSettings) (QueueSettings, error) {
	var (
		qs  QueueSettings
		err error
	)
	if qs.OfflineMode, err = s.Settings.GetBool(ctx, store.SettingOfflineMode, defaults.OfflineMode); err != nil {
		return qs, err
	}
	if qs.Metered, err = s.Settings.GetBool(ctx, store.SettingMetered, defaults.Metered); err != nil {
		return qs, err
	}
	if qs.ManualCachingOnMetered, err = s.Settings.GetBool(ctx, store.SettingManualCachingOnMetered, defaults.ManualCachingOnMetered); err != nil {
		return qs, err
	}
	if qs.MinFreeSpace, err = s.Settings.GetInt64(ctx, store.SettingMinFreeSpace, defaults.MinFreeSpace); err != nil {
		return qs, err
	}
	return qs, nil
}

// UpdateQueueSettings saves the set fields and restarts the queue, which
// picks up where it left off when caching is allowed again.
func (s *CacheService) UpdateQueueSettings(ctx context.Context, u QueueSettingsUpdate) error {
	if u.MinFreeSpace != nil && *u.MinFreeSpace < 0 {
		return fmt.Errorf("min_free_space cannot be negative, got: %d", *u.MinFreeSpace)
	}

	err := s.Repo.RunInTx(ctx, func(tx *store.DB) error {
		settings := store.NewSettingsRepo(tx)
		if u.OfflineMode != nil {
			if err := settings.SetBool(ctx, store.SettingOfflineMode, *u.OfflineMode); err != nil {
				return err
			}
		}
		if u.Metered != nil {
			if err := settings.SetBool(ctx, store.SettingMetered, *u.Metered); err != nil {
				return err
			}
		}
		if u.ManualCachingOnMetered != nil {
			if err := settings.SetBool(ctx, store.SettingManualCachingOnMetered, *u.ManualCachingOnMetered); err != nil {
				return err
			}
		}
		if u.MinFreeSpace != nil {
			if err := settings.SetInt64(ctx, store.SettingMinFreeSpace, *u.MinFreeSpace); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.kick(ctx)
	return nil
}
