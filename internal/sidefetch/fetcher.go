// Package sidefetch downloads the extras that go with a cached song: lyrics,
// cover art and the tag artist and album records. Every fetch is best effort.
package sidefetch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cesargomez89/navicache/internal/constants"
	"github.com/cesargomez89/navicache/internal/domain"
	"github.com/cesargomez89/navicache/internal/logger"
	"github.com/cesargomez89/navicache/internal/metacache"
	"github.com/cesargomez89/navicache/internal/storage"
	"github.com/cesargomez89/navicache/internal/subsonic"
)

// Clients resolves the API client for a server.
type Clients interface {
	Client(serverID int64) (*subsonic.Client, bool)
}

type Fetcher struct {
	clients  Clients
	meta     *metacache.Store
	log      *logger.Logger
	coverDir string
	wg       sync.WaitGroup
}

func NewFetcher(clients Clients, meta *metacache.Store, cacheDir string, log *logger.Logger) *Fetcher {
	if log == nil {
		log = logger.Default()
	}
	return &Fetcher{
		clients:  clients,
		meta:     meta,
		log:      log.WithComponent("sidefetch"),
		coverDir: filepath.Join(cacheDir, constants.CoverArtDir),
	}
}

// CoverArtPath is where the cover art of the given size is stored.
func (f *Fetcher) CoverArtPath(coverArtID string, size int) string {
	return filepath.Join(f.coverDir, fmt.Sprintf("%s_%d%s", storage.Sanitize(coverArtID), size, constants.ExtJPG))
}

// Fetch starts the side fetches song still needs and returns at once.
func (f *Fetcher) Fetch(ctx context.Context, song *domain.Song) {
	client, ok := f.clients.Client(song.ServerID)
	if !ok {
		f.log.Warn("No server configured for side fetches", "server_id", song.ServerID)
		return
	}
	log := f.log.WithSong(song.ServerID, song.ID)

	if song.Artist != "" && song.Title != "" && !f.meta.HasLyrics(song.ServerID, song.Artist, song.Title) {
		f.spawn(log, "lyrics", func() error {
			body, err := client.Fetch(ctx, client.LyricsURL(song.Artist, song.Title))
			if err != nil {
				return err
			}
			return f.meta.PutLyrics(song.ServerID, song.Artist, song.Title, body)
		})
	}

	if song.CoverArtID != "" {
		for _, size := range []int{constants.CoverArtSizeLarge, constants.CoverArtSizeSmall} {
			size := size // per-iteration copy; go.mod targets Go 1.21 loop semantics
			path := f.CoverArtPath(song.CoverArtID, size)
			if storage.Exists(path) {
				continue
			}
			f.spawn(log, fmt.Sprintf("cover art %d", size), func() error {
				body, err := client.Fetch(ctx, client.CoverArtURL(song.CoverArtID, size))
				if err != nil {
					return err
				}
				if err := storage.EnsureParent(path); err != nil {
					return err
				}
				return storage.WriteFile(path, body)
			})
		}
	}

	if song.TagArtistID > 0 && !f.meta.HasArtist(song.ServerID, song.TagArtistID) {
		f.spawn(log, "artist", func() error {
			body, err := client.Fetch(ctx, client.ArtistURL(song.TagArtistID))
			if err != nil {
				return err
			}
			return f.meta.PutArtist(song.ServerID, song.TagArtistID, body)
		})
	}

	if song.TagAlbumID > 0 && !f.meta.HasAlbum(song.ServerID, song.TagAlbumID) {
		f.spawn(log, "album", func() error {
			body, err := client.Fetch(ctx, client.AlbumURL(song.TagAlbumID))
			if err != nil {
				return err
			}
			return f.meta.PutAlbum(song.ServerID, song.TagAlbumID, body)
		})
	}
}

// Wait blocks until every started fetch has returned.
func (f *Fetcher) Wait() {
	f.wg.Wait()
}

func (f *Fetcher) spawn(log *logger.Logger, what string, fn func() error) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error("Panic in side fetch", "fetch", what, "panic", r)
			}
		}()

		if err := fn(); err != nil {
			log.Warn("Side fetch failed", "fetch", what, "error", err)
			return
		}
		log.Debug("Side fetch stored", "fetch", what)
	}()
}
