package store

import (
	"context"

	"github.com/cesargomez89/navicache/internal/domain"
)

func (db *DB) replacePathComponents(ctx context.Context, serverID, songID int64, path string) error {
	if _, err := db.ExecContext(ctx,
		"DELETE FROM cached_path_components WHERE server_id = ? AND song_id = ?", serverID, songID); err != nil {
		return err
	}

	for _, pc := range domain.PathComponents(serverID, songID, path) {
		_, err := db.NamedExecContext(ctx, `
			INSERT INTO cached_path_components
				(server_id, song_id, level, max_level, path_component, parent_path_component)
			VALUES
				(:server_id, :song_id, :level, :max_level, :path_component, :parent_path_component)
		`, pc)
		if err != nil {
			return err
		}
	}
	return nil
}

// PathComponents returns the index rows for one song, shallowest first.
func (db *DB) PathComponents(ctx context.Context, serverID, songID int64) ([]domain.PathComponent, error) {
	rows := []domain.PathComponent{}
	err := db.SelectContext(ctx, &rows, `
		SELECT server_id, song_id, level, max_level, path_component, parent_path_component
		FROM cached_path_components
		WHERE server_id = ? AND song_id = ?
		ORDER BY level ASC`, serverID, songID)
	if err != nil {
		return nil, persistErr("list path components", err)
	}
	return rows, nil
}

// FolderArtists lists the distinct top level folders that contain songs.
// Folder names differing only in case are one folder.
func (db *DB) FolderArtists(ctx context.Context, serverID int64) ([]domain.FolderArtist, error) {
	artists := []domain.FolderArtist{}
	err := db.SelectContext(ctx, &artists, `
		SELECT server_id, MIN(path_component) AS name
		FROM cached_path_components
		WHERE server_id = ? AND level = 0 AND max_level > 0
		GROUP BY path_component COLLATE NOCASE
		ORDER BY name COLLATE NOCASE ASC`, serverID)
	if err != nil {
		return nil, persistErr("list folder artists", err)
	}
	return artists, nil
}

// FolderAlbums lists the subfolders at level under parent. A folder's cover
// art comes from any song below it.
func (db *DB) FolderAlbums(ctx context.Context, serverID int64, level int, parent string) ([]domain.FolderAlbum, error) {
	albums := []domain.FolderAlbum{}
	err := db.SelectContext(ctx, &albums, `
		SELECT pc.server_id, pc.level, MIN(pc.path_component) AS name,
			MAX(NULLIF(s.cover_art_id, '')) AS cover_art_id
		FROM cached_path_components pc
		LEFT JOIN songs s ON s.server_id = pc.server_id AND s.id = pc.song_id
		WHERE pc.server_id = ? AND pc.level = ? AND pc.max_level != pc.level
			AND pc.parent_path_component = ? COLLATE NOCASE
		GROUP BY pc.path_component COLLATE NOCASE
		ORDER BY name COLLATE NOCASE ASC`, serverID, level, parent)
	if err != nil {
		return nil, persistErr("list folder albums", err)
	}
	return albums, nil
}

// FolderSongs lists the songs directly inside the folder parent at level-1.
// A nil parent selects songs at the root.
func (db *DB) FolderSongs(ctx context.Context, serverID int64, level int, parent *string) ([]domain.CachedFile, error) {
	files := []domain.CachedFile{}
	err := db.SelectContext(ctx, &files, `
		SELECT cf.server_id, cf.song_id, cf.path, cf.is_finished, cf.is_pinned, cf.size, cf.cached_date, cf.played_date
		FROM cached_files cf
		JOIN cached_path_components pc ON pc.server_id = cf.server_id AND pc.song_id = cf.song_id
		WHERE pc.server_id = ? AND pc.level = ? AND pc.max_level = pc.level
			AND pc.parent_path_component IS ? COLLATE NOCASE
		ORDER BY pc.path_component COLLATE NOCASE ASC`, serverID, level, parent)
	if err != nil {
		return nil, persistErr("list folder songs", err)
	}
	return files, nil
}

// CachedFilesUnder lists every cached song with name as its path segment at
// level, however deep below it the song lives.
func (db *DB) CachedFilesUnder(ctx context.Context, serverID int64, level int, name string) ([]domain.CachedFile, error) {
	files := []domain.CachedFile{}
	err := db.SelectContext(ctx, &files, `
		SELECT cf.server_id, cf.song_id, cf.path, cf.is_finished, cf.is_pinned, cf.size, cf.cached_date, cf.played_date
		FROM cached_files cf
		JOIN cached_path_components pc ON pc.server_id = cf.server_id AND pc.song_id = cf.song_id
		WHERE pc.server_id = ? AND pc.level = ? AND pc.path_component = ? COLLATE NOCASE
		ORDER BY cf.path COLLATE NOCASE ASC`, serverID, level, name)
	if err != nil {
		return nil, persistErr("list folder contents", err)
	}
	return files, nil
}

// TagArtists groups finished songs by artist tag.
func (db *DB) TagArtists(ctx context.Context, serverID int64) ([]domain.TagArtist, error) {
	artists := []domain.TagArtist{}
	err := db.SelectContext(ctx, &artists, `
		SELECT s.server_id, s.tag_artist_id AS id, s.artist AS name, COUNT(*) AS song_count
		FROM cached_files cf
		JOIN songs s ON s.server_id = cf.server_id AND s.id = cf.song_id
		WHERE cf.server_id = ? AND cf.is_finished = 1 AND s.tag_artist_id > 0
		GROUP BY s.tag_artist_id
		ORDER BY s.artist COLLATE NOCASE ASC`, serverID)
	if err != nil {
		return nil, persistErr("list tag artists", err)
	}
	return artists, nil
}

// TagAlbums groups finished songs by album tag, optionally limited to one
// artist tag when artistID is non-zero.
func (db *DB) TagAlbums(ctx context.Context, serverID, artistID int64) ([]domain.TagAlbum, error) {
	albums := []domain.TagAlbum{}
	err := db.SelectContext(ctx, &albums, `
		SELECT s.server_id, s.tag_album_id AS id, s.album AS name, s.artist, COUNT(*) AS song_count
		FROM cached_files cf
		JOIN songs s ON s.server_id = cf.server_id AND s.id = cf.song_id
		WHERE cf.server_id = ? AND cf.is_finished = 1 AND s.tag_album_id > 0
			AND (? = 0 OR s.tag_artist_id = ?)
		GROUP BY s.tag_album_id
		ORDER BY s.album COLLATE NOCASE ASC`, serverID, artistID, artistID)
	if err != nil {
		return nil, persistErr("list tag albums", err)
	}
	return albums, nil
}

// FolderNames lists every distinct folder (a non-leaf path segment) with its
// level, shallowest first.
func (db *DB) FolderNames(ctx context.Context, serverID int64) ([]domain.FolderAlbum, error) {
	folders := []domain.FolderAlbum{}
	err := db.SelectContext(ctx, &folders, `
		SELECT pc.server_id, pc.level, MIN(pc.path_component) AS name,
			MAX(NULLIF(s.cover_art_id, '')) AS cover_art_id
		FROM cached_path_components pc
		LEFT JOIN songs s ON s.server_id = pc.server_id AND s.id = pc.song_id
		WHERE pc.server_id = ? AND pc.max_level != pc.level
		GROUP BY pc.level, pc.path_component COLLATE NOCASE
		ORDER BY pc.level ASC, name COLLATE NOCASE ASC`, serverID)
	if err != nil {
		return nil, persistErr("list folder names", err)
	}
	return folders, nil
}
