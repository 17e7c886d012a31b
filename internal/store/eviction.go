package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/cesargomez89/navicache/internal/domain"
)

// OldestByCachedDate returns the finished, unpinned song cached longest ago,
// or nil when nothing is evictable. Ties go to the earliest inserted row.
func (db *DB) OldestByCachedDate(ctx context.Context) (*domain.CachedFile, error) {
	return db.oldest(ctx, "cached_date ASC, rowid ASC")
}

// OldestByPlayedDate returns the finished, unpinned song played longest ago.
// Songs never played come first, oldest cached among them.
func (db *DB) OldestByPlayedDate(ctx context.Context) (*domain.CachedFile, error) {
	return db.oldest(ctx, "played_date IS NOT NULL, played_date ASC, cached_date ASC, rowid ASC")
}

func (db *DB) oldest(ctx context.Context, orderBy string) (*domain.CachedFile, error) {
	var f domain.CachedFile
	err := db.GetContext(ctx, &f, `
		SELECT `+cachedFileColumns+`
		FROM cached_files
		WHERE is_finished = 1 AND is_pinned = 0
		ORDER BY `+orderBy+`
		LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("find eviction candidate", err)
	}
	return &f, nil
}
