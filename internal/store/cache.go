package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cesargomez89/navicache/internal/domain"
)

const cachedFileColumns = `server_id, song_id, path, is_finished, is_pinned, size, cached_date, played_date`

// MarkCompleted records a finished download. The cached file row, its path
// index rows and the queue removal commit together or not at all. Pin state
// and played date survive a re-download.
func (db *DB) MarkCompleted(ctx context.Context, serverID, songID int64, path string, size int64) error {
	err := db.RunInTx(ctx, func(tx *DB) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cached_files (server_id, song_id, path, is_finished, is_pinned, size, cached_date)
			VALUES (?, ?, ?, 1, 0, ?, ?)
			ON CONFLICT(server_id, song_id) DO UPDATE SET
				path = excluded.path,
				is_finished = 1,
				size = excluded.size,
				cached_date = excluded.cached_date
		`, serverID, songID, path, size, tx.now())
		if err != nil {
			return err
		}

		if err := tx.replacePathComponents(ctx, serverID, songID, path); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			"DELETE FROM download_queue WHERE server_id = ? AND song_id = ?", serverID, songID)
		return err
	})
	if err != nil {
		return persistErr("mark completed", err)
	}
	return nil
}

// DeleteCachedFile removes a song's cache row and path index rows together.
// The file on disk is the caller's concern.
func (db *DB) DeleteCachedFile(ctx context.Context, serverID, songID int64) error {
	err := db.RunInTx(ctx, func(tx *DB) error {
		return tx.deleteCachedFile(ctx, serverID, songID)
	})
	if err != nil {
		return persistErr("delete cached file", err)
	}
	return nil
}

func (db *DB) deleteCachedFile(ctx context.Context, serverID, songID int64) error {
	if _, err := db.ExecContext(ctx,
		"DELETE FROM cached_files WHERE server_id = ? AND song_id = ?", serverID, songID); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx,
		"DELETE FROM cached_path_components WHERE server_id = ? AND song_id = ?", serverID, songID)
	return err
}

// DeleteFolder removes every cached song whose path has name at level and
// returns the removed rows so the caller can delete their files.
func (db *DB) DeleteFolder(ctx context.Context, serverID int64, level int, name string) ([]domain.CachedFile, error) {
	var removed []domain.CachedFile
	err := db.RunInTx(ctx, func(tx *DB) error {
		files, err := tx.CachedFilesUnder(ctx, serverID, level, name)
		if err != nil {
			return err
		}
		for _, f := range files {
			if err := tx.deleteCachedFile(ctx, f.ServerID, f.SongID); err != nil {
				return err
			}
		}
		removed = files
		return nil
	})
	if err != nil {
		return nil, persistErr("delete folder", err)
	}
	return removed, nil
}

// SetPinned marks a cached song as exempt from (or eligible for) eviction.
func (db *DB) SetPinned(ctx context.Context, serverID, songID int64, pinned bool) error {
	_, err := db.ExecContext(ctx,
		"UPDATE cached_files SET is_pinned = ? WHERE server_id = ? AND song_id = ?", pinned, serverID, songID)
	if err != nil {
		return persistErr("set pinned", err)
	}
	return nil
}

func (db *DB) SetPlayedDate(ctx context.Context, serverID, songID int64, at time.Time) error {
	_, err := db.ExecContext(ctx,
		"UPDATE cached_files SET played_date = ? WHERE server_id = ? AND song_id = ?", at.UTC(), serverID, songID)
	if err != nil {
		return persistErr("set played date", err)
	}
	return nil
}

// IsDownloadFinished reports whether a finished cache row exists for the song.
func (db *DB) IsDownloadFinished(ctx context.Context, serverID, songID int64) (bool, error) {
	var n int
	err := db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM cached_files WHERE server_id = ? AND song_id = ? AND is_finished = 1", serverID, songID)
	if err != nil {
		return false, persistErr("check finished", err)
	}
	return n > 0, nil
}

// CachedFile returns the cache row for a song, or nil when there is none.
func (db *DB) CachedFile(ctx context.Context, serverID, songID int64) (*domain.CachedFile, error) {
	var f domain.CachedFile
	err := db.GetContext(ctx, &f,
		"SELECT "+cachedFileColumns+" FROM cached_files WHERE server_id = ? AND song_id = ?", serverID, songID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("get cached file", err)
	}
	return &f, nil
}

// CachedFiles lists finished songs, most recently cached first.
func (db *DB) CachedFiles(ctx context.Context, limit, offset int) ([]domain.CachedFile, error) {
	files := []domain.CachedFile{}
	err := db.SelectContext(ctx, &files, `
		SELECT `+cachedFileColumns+`
		FROM cached_files
		WHERE is_finished = 1
		ORDER BY cached_date DESC, rowid DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, persistErr("list cached files", err)
	}
	return files, nil
}

func (db *DB) CachedFilesCount(ctx context.Context) (int, error) {
	var n int
	if err := db.GetContext(ctx, &n, "SELECT COUNT(*) FROM cached_files WHERE is_finished = 1"); err != nil {
		return 0, persistErr("count cached files", err)
	}
	return n, nil
}

// CachedBytes is the total size of every finished song.
func (db *DB) CachedBytes(ctx context.Context) (int64, error) {
	var n int64
	if err := db.GetContext(ctx, &n, "SELECT COALESCE(SUM(size), 0) FROM cached_files WHERE is_finished = 1"); err != nil {
		return 0, persistErr("sum cached bytes", err)
	}
	return n, nil
}
