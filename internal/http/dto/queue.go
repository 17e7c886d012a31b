package dto

import (
	"fmt"
	"path"
	"strings"

	"github.com/cesargomez89/navicache/internal/domain"
)

// SongRequest carries the metadata the cache needs for one song.
type SongRequest struct {
	ServerID    int64  `json:"server_id"`
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	TagArtistID int64  `json:"tag_artist_id"`
	TagAlbumID  int64  `json:"tag_album_id"`
	CoverArtID  string `json:"cover_art_id"`
	Path        string `json:"path"`
	Suffix      string `json:"suffix"`
	Size        int64  `json:"size"`
	IsVideo     bool   `json:"is_video"`
}

func (r SongRequest) ToDomain() *domain.Song {
	return &domain.Song{
		ServerID:    r.ServerID,
		ID:          r.ID,
		Title:       r.Title,
		Artist:      r.Artist,
		Album:       r.Album,
		TagArtistID: r.TagArtistID,
		TagAlbumID:  r.TagAlbumID,
		CoverArtID:  r.CoverArtID,
		Path:        r.Path,
		Suffix:      r.Suffix,
		Size:        r.Size,
		IsVideo:     r.IsVideo,
	}
}

// EnqueueRequest adds songs to the back of the download queue, either with
// full metadata or by key for songs the cache already knows.
type EnqueueRequest struct {
	Songs []SongRequest    `json:"songs"`
	Keys  []domain.SongKey `json:"keys"`
}

func (r *EnqueueRequest) Validate(knownServer func(id int64) bool) []ValidationError {
	var errs []ValidationError
	if len(r.Songs) == 0 && len(r.Keys) == 0 {
		errs = append(errs, ValidationError{Field: "songs", Message: "at least one song or key is required"})
	}
	for i, s := range r.Songs {
		field := fmt.Sprintf("songs[%d]", i)
		errs = append(errs, validateKey(field, s.ServerID, s.ID, knownServer)...)
		errs = append(errs, validateSongPath(field+".path", s.Path)...)
	}
	for i, k := range r.Keys {
		errs = append(errs, validateKey(fmt.Sprintf("keys[%d]", i), k.ServerID, k.SongID, knownServer)...)
	}
	return errs
}

// SettingsRequest changes only the fields present.
type SettingsRequest struct {
	OfflineMode            *bool  `json:"offline_mode"`
	Metered                *bool  `json:"metered"`
	ManualCachingOnMetered *bool  `json:"manual_caching_on_metered"`
	MinFreeSpace           *int64 `json:"min_free_space"`
}

func (r *SettingsRequest) Validate() []ValidationError {
	var errs []ValidationError
	if r.MinFreeSpace != nil && *r.MinFreeSpace < 0 {
		errs = append(errs, ValidationError{Field: "min_free_space", Message: "cannot be negative"})
	}
	return errs
}

func validateKey(field string, serverID, songID int64, knownServer func(id int64) bool) []ValidationError {
	var errs []ValidationError
	if serverID <= 0 {
		errs = append(errs, ValidationError{Field: field + ".server_id", Message: "must be positive"})
	} else if knownServer != nil && !knownServer(serverID) {
		errs = append(errs, ValidationError{Field: field + ".server_id", Message: "unknown server"})
	}
	if songID <= 0 {
		errs = append(errs, ValidationError{Field: field + ".id", Message: "must be positive"})
	}
	return errs
}

// validateSongPath rejects server paths that would escape the cache folder.
func validateSongPath(field, p string) []ValidationError {
	if p == "" {
		return nil
	}
	clean := path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	if clean == "/" || strings.Contains(p, "\x00") {
		return []ValidationError{{Field: field, Message: "invalid path"}}
	}
	for _, seg := range strings.Split(strings.ReplaceAll(p, "\\", "/"), "/") {
		if seg == ".." {
			return []ValidationError{{Field: field, Message: "must not contain '..'"}}
		}
	}
	return nil
}
