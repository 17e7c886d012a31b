package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/cesargomez89/navicache/internal/domain"
)

const songColumns = `server_id, id, title, artist, album, tag_artist_id, tag_album_id,
	cover_art_id, path, suffix, size, is_video`

// UpsertSong stores server metadata for a song, replacing what was there.
func (db *DB) UpsertSong(ctx context.Context, s *domain.Song) error {
	_, err := db.NamedExecContext(ctx, `
		INSERT INTO songs (`+songColumns+`)
		VALUES (:server_id, :id, :title, :artist, :album, :tag_artist_id, :tag_album_id,
			:cover_art_id, :path, :suffix, :size, :is_video)
		ON CONFLICT(server_id, id) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			album = excluded.album,
			tag_artist_id = excluded.tag_artist_id,
			tag_album_id = excluded.tag_album_id,
			cover_art_id = excluded.cover_art_id,
			path = excluded.path,
			suffix = excluded.suffix,
			size = excluded.size,
			is_video = excluded.is_video
	`, s)
	if err != nil {
		return persistErr("upsert song", err)
	}
	return nil
}

// Song returns stored metadata, or nil when the song is unknown.
func (db *DB) Song(ctx context.Context, serverID, songID int64) (*domain.Song, error) {
	var s domain.Song
	err := db.GetContext(ctx, &s,
		"SELECT "+songColumns+" FROM songs WHERE server_id = ? AND id = ?", serverID, songID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("get song", err)
	}
	return &s, nil
}

// FillSongTags sets title, artist and album from embedded file tags where
// the server left them blank.
func (db *DB) FillSongTags(ctx context.Context, serverID, songID int64, title, artist, album string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE songs SET
			title = CASE WHEN title = '' THEN ? ELSE title END,
			artist = CASE WHEN artist = '' THEN ? ELSE artist END,
			album = CASE WHEN album = '' THEN ? ELSE album END
		WHERE server_id = ? AND id = ?
	`, title, artist, album, serverID, songID)
	if err != nil {
		return persistErr("fill song tags", err)
	}
	return nil
}
