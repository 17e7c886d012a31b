package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/cesargomez89/navicache/internal/domain"
)

const enqueueSQL = `
	INSERT OR IGNORE INTO download_queue (server_id, song_id, queued_date)
	SELECT ?, ?, ?
	WHERE NOT EXISTS (
		SELECT 1 FROM cached_files
		WHERE server_id = ? AND song_id = ? AND is_finished = 1
	)`

// Enqueue appends a song to the back of the download queue. Songs that are
// already queued or have a finished cache row are left alone; a caller that
// finds the file gone deletes the row first.
func (db *DB) Enqueue(ctx context.Context, serverID, songID int64) error {
	_, err := db.ExecContext(ctx, enqueueSQL, serverID, songID, db.now(), serverID, songID)
	if err != nil {
		return persistErr("enqueue", err)
	}
	return nil
}

// EnqueueMany appends songs in order within a single transaction.
func (db *DB) EnqueueMany(ctx context.Context, keys []domain.SongKey) error {
	if len(keys) == 0 {
		return nil
	}
	return db.RunInTx(ctx, func(tx *DB) error {
		for _, k := range keys {
			if err := tx.Enqueue(ctx, k.ServerID, k.SongID); err != nil {
				return err
			}
		}
		return nil
	})
}

// PeekFront returns the oldest queue entry, or nil when the queue is empty.
func (db *DB) PeekFront(ctx context.Context) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	err := db.GetContext(ctx, &e, `
		SELECT seq, server_id, song_id, queued_date
		FROM download_queue
		ORDER BY seq ASC
		LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("peek queue", err)
	}
	return &e, nil
}

// DequeueFront removes and returns the oldest queue entry, or nil when the
// queue is empty.
func (db *DB) DequeueFront(ctx context.Context) (*domain.QueueEntry, error) {
	var front *domain.QueueEntry
	err := db.RunInTx(ctx, func(tx *DB) error {
		e, err := tx.PeekFront(ctx)
		if err != nil || e == nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM download_queue WHERE seq = ?", e.Seq); err != nil {
			return persistErr("dequeue", err)
		}
		front = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return front, nil
}

// RemoveFromQueue deletes the entry for a song, if any.
func (db *DB) RemoveFromQueue(ctx context.Context, serverID, songID int64) error {
	_, err := db.ExecContext(ctx,
		"DELETE FROM download_queue WHERE server_id = ? AND song_id = ?", serverID, songID)
	if err != nil {
		return persistErr("remove from queue", err)
	}
	return nil
}

func (db *DB) IsQueued(ctx context.Context, serverID, songID int64) (bool, error) {
	var n int
	err := db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM download_queue WHERE server_id = ? AND song_id = ?", serverID, songID)
	if err != nil {
		return false, persistErr("check queued", err)
	}
	return n > 0, nil
}

func (db *DB) QueueCount(ctx context.Context) (int, error) {
	var n int
	if err := db.GetContext(ctx, &n, "SELECT COUNT(*) FROM download_queue"); err != nil {
		return 0, persistErr("count queue", err)
	}
	return n, nil
}

// QueueEntries lists queued songs front first.
func (db *DB) QueueEntries(ctx context.Context, limit, offset int) ([]domain.QueueEntry, error) {
	entries := []domain.QueueEntry{}
	err := db.SelectContext(ctx, &entries, `
		SELECT seq, server_id, song_id, queued_date
		FROM download_queue
		ORDER BY seq ASC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, persistErr("list queue", err)
	}
	return entries, nil
}
