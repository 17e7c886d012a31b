// Package metacache keeps the side-fetched lyrics, artist and album payloads
// for cached songs in a bbolt file.
package metacache

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cesargomez89/navicache/internal/constants"
	"github.com/cesargomez89/navicache/internal/storage"
)

var (
	bucketLyrics  = []byte("lyrics")
	bucketArtists = []byte("artists")
	bucketAlbums  = []byte("albums")
)

type entry struct {
	FetchedAt time.Time       `json:"fetched_at"`
	Payload   json.RawMessage `json:"payload"`
}

type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	if err := storage.EnsureParent(path); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, constants.FilePermissions, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketLyrics, bucketArtists, bucketAlbums} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func lyricsKey(serverID int64, artist, title string) string {
	return fmt.Sprintf("%d:%s|%s", serverID, strings.ToLower(artist), strings.ToLower(title))
}

func idKey(serverID, id int64) string {
	return fmt.Sprintf("%d:%d", serverID, id)
}

func (s *Store) HasLyrics(serverID int64, artist, title string) bool {
	return s.has(bucketLyrics, lyricsKey(serverID, artist, title))
}

func (s *Store) PutLyrics(serverID int64, artist, title string, payload []byte) error {
	return s.put(bucketLyrics, lyricsKey(serverID, artist, title), payload)
}

// Lyrics returns the stored payload, or nil when there is none.
func (s *Store) Lyrics(serverID int64, artist, title string) ([]byte, error) {
	return s.get(bucketLyrics, lyricsKey(serverID, artist, title))
}

func (s *Store) HasArtist(serverID, artistID int64) bool {
	return s.has(bucketArtists, idKey(serverID, artistID))
}

func (s *Store) PutArtist(serverID, artistID int64, payload []byte) error {
	return s.put(bucketArtists, idKey(serverID, artistID), payload)
}

func (s *Store) Artist(serverID, artistID int64) ([]byte, error) {
	return s.get(bucketArtists, idKey(serverID, artistID))
}

func (s *Store) HasAlbum(serverID, albumID int64) bool {
	return s.has(bucketAlbums, idKey(serverID, albumID))
}

func (s *Store) PutAlbum(serverID, albumID int64, payload []byte) error {
	return s.put(bucketAlbums, idKey(serverID, albumID), payload)
}

func (s *Store) Album(serverID, albumID int64) ([]byte, error) {
	return s.get(bucketAlbums, idKey(serverID, albumID))
}

func (s *Store) has(bucket []byte, key string) bool {
	found := false
	_ = s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucket).Get([]byte(key)) != nil
		return nil
	})
	return found
}

func (s *Store) put(bucket []byte, key string, payload []byte) error {
	if !json.Valid(payload) {
		return fmt.Errorf("payload for %s/%s is not JSON", bucket, key)
	}
	data, err := json.Marshal(entry{FetchedAt: time.Now().UTC(), Payload: payload})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (s *Store) get(bucket []byte, key string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucket).Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil || data == nil {
		return nil, err
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", bucket, key, err)
	}
	return e.Payload, nil
}
