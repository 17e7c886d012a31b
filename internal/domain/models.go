package domain

import (
	"fmt"
	"strings"
	"time"
)

// QueueEntry is a song waiting to be cached. Entries are served in
// insertion order; Seq is the insertion sequence, not a timestamp.
type QueueEntry struct {
	QueuedDate time.Time `json:"queued_date" db:"queued_date"`
	Seq        int64     `json:"seq" db:"seq"`
	ServerID   int64     `json:"server_id" db:"server_id"`
	SongID     int64     `json:"song_id" db:"song_id"`
}

func (e QueueEntry) String() string {
	return fmt.Sprintf("song %d (server %d)", e.SongID, e.ServerID)
}

// CachedFile is a song file stored in the local cache.
type CachedFile struct {
	CachedDate *time.Time `json:"cached_date,omitempty" db:"cached_date"`
	PlayedDate *time.Time `json:"played_date,omitempty" db:"played_date"`
	Path       string     `json:"path" db:"path"`
	ServerID   int64      `json:"server_id" db:"server_id"`
	SongID     int64      `json:"song_id" db:"song_id"`
	Size       int64      `json:"size" db:"size"`
	IsFinished bool       `json:"is_finished" db:"is_finished"`
	IsPinned   bool       `json:"is_pinned" db:"is_pinned"`
}

// PathComponent is one segment of a cached song's path. A song with an
// N segment path has N rows, levels 0..N-1, all sharing MaxLevel = N-1.
type PathComponent struct {
	ParentPathComponent *string `json:"parent_path_component,omitempty" db:"parent_path_component"`
	PathComponent       string  `json:"path_component" db:"path_component"`
	ServerID            int64   `json:"server_id" db:"server_id"`
	SongID              int64   `json:"song_id" db:"song_id"`
	Level               int     `json:"level" db:"level"`
	MaxLevel            int     `json:"max_level" db:"max_level"`
}

// SplitPath breaks a cache path into its ordered segments. Empty segments
// from leading, trailing or repeated separators are dropped.
func SplitPath(path string) []string {
	parts := strings.Split(strings.ReplaceAll(path, "\\", "/"), "/")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || p == "." {
			continue
		}
		segments = append(segments, p)
	}
	return segments
}

// PathComponents decomposes path into the index rows for one song.
func PathComponents(serverID, songID int64, path string) []PathComponent {
	segments := SplitPath(path)
	maxLevel := len(segments) - 1

	rows := make([]PathComponent, 0, len(segments))
	var parent *string
	for level, segment := range segments {
		rows = append(rows, PathComponent{
			ServerID:            serverID,
			SongID:              songID,
			Level:               level,
			MaxLevel:            maxLevel,
			PathComponent:       segment,
			ParentPathComponent: parent,
		})
		s := segment
		parent = &s
	}
	return rows
}

// Song is the server-side metadata needed to cache a song.
type Song struct { //nolint:govet // field ordering prioritizes readability over memory alignment
	ServerID    int64  `json:"server_id" db:"server_id"`
	ID          int64  `json:"id" db:"id"`
	Title       string `json:"title" db:"title"`
	Artist      string `json:"artist" db:"artist"`
	Album       string `json:"album" db:"album"`
	TagArtistID int64  `json:"tag_artist_id,omitempty" db:"tag_artist_id"`
	TagAlbumID  int64  `json:"tag_album_id,omitempty" db:"tag_album_id"`
	CoverArtID  string `json:"cover_art_id,omitempty" db:"cover_art_id"`
	Path        string `json:"path" db:"path"`
	Suffix      string `json:"suffix,omitempty" db:"suffix"`
	Size        int64  `json:"size,omitempty" db:"size"`
	IsVideo     bool   `json:"is_video" db:"is_video"`
}

func (s *Song) String() string {
	return fmt.Sprintf("song %d %q (server %d)", s.ID, s.Title, s.ServerID)
}

// Key identifies the song across servers.
func (s *Song) Key() SongKey {
	return SongKey{ServerID: s.ServerID, SongID: s.ID}
}

// SongKey is the (server, song) identity shared by every table.
type SongKey struct {
	ServerID int64 `json:"server_id"`
	SongID   int64 `json:"song_id"`
}

// FolderArtist is a top level folder in the cached path index.
type FolderArtist struct {
	Name     string `json:"name" db:"name"`
	ServerID int64  `json:"server_id" db:"server_id"`
}

// FolderAlbum is an intermediate folder below a FolderArtist.
type FolderAlbum struct {
	CoverArtID *string `json:"cover_art_id,omitempty" db:"cover_art_id"`
	Name       string  `json:"name" db:"name"`
	ServerID   int64   `json:"server_id" db:"server_id"`
	Level      int     `json:"level" db:"level"`
}

// TagArtist groups cached songs by their artist tag.
type TagArtist struct {
	Name      string `json:"name" db:"name"`
	ServerID  int64  `json:"server_id" db:"server_id"`
	ID        int64  `json:"id" db:"id"`
	SongCount int    `json:"song_count" db:"song_count"`
}

// TagAlbum groups cached songs by their album tag.
type TagAlbum struct {
	Name      string `json:"name" db:"name"`
	Artist    string `json:"artist" db:"artist"`
	ServerID  int64  `json:"server_id" db:"server_id"`
	ID        int64  `json:"id" db:"id"`
	SongCount int    `json:"song_count" db:"song_count"`
}
