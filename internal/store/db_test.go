package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cesargomez89/navicache/internal/domain"
)

func setupTestDB(t *testing.T) (*DB, func()) {
	tmpFile := filepath.Join(t.TempDir(), "test.db")
	db, err := NewSQLiteDB(tmpFile)
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	cleanup := func() {
		if cErr := db.Close(); cErr != nil {
			t.Logf("db.Close error: %v", cErr)
		}
	}
	return db, cleanup
}

// steppingClock returns a clock that advances by one second per call.
func steppingClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		now := current
		current = current.Add(time.Second)
		return now
	}
}

func TestDB_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	db, err := NewSQLiteDB(path)
	if err != nil {
		t.Fatalf("NewSQLiteDB failed: %v", err)
	}
	if err := db.Enqueue(ctx, 1, 10); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	db, err = NewSQLiteDB(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer db.Close()

	queued, err := db.IsQueued(ctx, 1, 10)
	if err != nil {
		t.Fatalf("IsQueued failed: %v", err)
	}
	if !queued {
		t.Error("Expected queue entry to survive reopen")
	}
}

func TestDB_EnqueueIsIdempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := db.Enqueue(ctx, 1, 42); err != nil {
			t.Fatalf("Enqueue #%d failed: %v", i, err)
		}
	}

	count, err := db.QueueCount(ctx)
	if err != nil {
		t.Fatalf("QueueCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 queue entry, got %d", count)
	}

	// Same song id on another server is a different entry.
	if err := db.Enqueue(ctx, 2, 42); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	count, _ = db.QueueCount(ctx)
	if count != 2 {
		t.Errorf("Expected 2 queue entries, got %d", count)
	}
}

func TestDB_QueueIsFIFO(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// Queued dates run backwards so ordering cannot come from them.
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	current := start
	db.SetClock(func() time.Time {
		current = current.Add(-time.Minute)
		return current
	})

	for _, id := range []int64{30, 10, 20} {
		if err := db.Enqueue(ctx, 1, id); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	front, err := db.PeekFront(ctx)
	if err != nil {
		t.Fatalf("PeekFront failed: %v", err)
	}
	if front == nil || front.SongID != 30 {
		t.Fatalf("Expected front song 30, got %v", front)
	}

	var got []int64
	for {
		e, err := db.DequeueFront(ctx)
		if err != nil {
			t.Fatalf("DequeueFront failed: %v", err)
		}
		if e == nil {
			break
		}
		got = append(got, e.SongID)
	}

	if diff := cmp.Diff([]int64{30, 10, 20}, got); diff != "" {
		t.Errorf("Dequeue order mismatch (-want +got):\n%s", diff)
	}

	front, err = db.PeekFront(ctx)
	if err != nil {
		t.Fatalf("PeekFront failed: %v", err)
	}
	if front != nil {
		t.Errorf("Expected empty queue, got %v", front)
	}
}

func TestDB_EnqueueMany(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	keys := []domain.SongKey{
		{ServerID: 1, SongID: 3},
		{ServerID: 1, SongID: 1},
		{ServerID: 1, SongID: 3},
		{ServerID: 1, SongID: 2},
	}
	if err := db.EnqueueMany(ctx, keys); err != nil {
		t.Fatalf("EnqueueMany failed: %v", err)
	}

	entries, err := db.QueueEntries(ctx, 10, 0)
	if err != nil {
		t.Fatalf("QueueEntries failed: %v", err)
	}
	var ids []int64
	for _, e := range entries {
		ids = append(ids, e.SongID)
	}
	if diff := cmp.Diff([]int64{3, 1, 2}, ids); diff != "" {
		t.Errorf("Queue mismatch (-want +got):\n%s", diff)
	}

	page, err := db.QueueEntries(ctx, 1, 1)
	if err != nil {
		t.Fatalf("QueueEntries failed: %v", err)
	}
	if len(page) != 1 || page[0].SongID != 1 {
		t.Errorf("Expected second page to hold song 1, got %v", page)
	}
}

func TestDB_RemoveFromQueue(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	_ = db.Enqueue(ctx, 1, 1)
	_ = db.Enqueue(ctx, 1, 2)

	if err := db.RemoveFromQueue(ctx, 1, 1); err != nil {
		t.Fatalf("RemoveFromQueue failed: %v", err)
	}
	// Removing an absent entry is not an error.
	if err := db.RemoveFromQueue(ctx, 1, 99); err != nil {
		t.Fatalf("RemoveFromQueue on missing entry failed: %v", err)
	}

	queued, _ := db.IsQueued(ctx, 1, 1)
	if queued {
		t.Error("Expected song 1 to be removed")
	}
	front, _ := db.PeekFront(ctx)
	if front == nil || front.SongID != 2 {
		t.Errorf("Expected front song 2, got %v", front)
	}
}

func TestDB_MarkCompleted(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := db.Enqueue(ctx, 1, 42); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := db.MarkCompleted(ctx, 1, 42, "a/b/c.mp3", 1234); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	queued, _ := db.IsQueued(ctx, 1, 42)
	if queued {
		t.Error("Expected queue entry to be removed")
	}

	finished, err := db.IsDownloadFinished(ctx, 1, 42)
	if err != nil {
		t.Fatalf("IsDownloadFinished failed: %v", err)
	}
	if !finished {
		t.Error("Expected song to be finished")
	}

	f, err := db.CachedFile(ctx, 1, 42)
	if err != nil {
		t.Fatalf("CachedFile failed: %v", err)
	}
	if f == nil {
		t.Fatal("Expected cached file row")
	}
	if f.Path != "a/b/c.mp3" || f.Size != 1234 || f.IsPinned {
		t.Errorf("Unexpected cached file %+v", f)
	}
	if f.CachedDate == nil {
		t.Error("Expected cached date to be set")
	}

	rows, err := db.PathComponents(ctx, 1, 42)
	if err != nil {
		t.Fatalf("PathComponents failed: %v", err)
	}
	if diff := cmp.Diff(domain.PathComponents(1, 42, "a/b/c.mp3"), rows); diff != "" {
		t.Errorf("Path components mismatch (-want +got):\n%s", diff)
	}

	// A finished song cannot be queued again.
	if err := db.Enqueue(ctx, 1, 42); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	queued, _ = db.IsQueued(ctx, 1, 42)
	if queued {
		t.Error("Expected enqueue of a finished song to be a no-op")
	}
}

func TestDB_MarkCompletedReplacesPathRows(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := db.MarkCompleted(ctx, 1, 7, "x/y/z.mp3", 10); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	if err := db.SetPinned(ctx, 1, 7, true); err != nil {
		t.Fatalf("SetPinned failed: %v", err)
	}
	if err := db.MarkCompleted(ctx, 1, 7, "x/z.mp3", 20); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	rows, _ := db.PathComponents(ctx, 1, 7)
	if len(rows) != 2 {
		t.Fatalf("Expected 2 path rows after re-download, got %d", len(rows))
	}
	if rows[1].MaxLevel != 1 {
		t.Errorf("Expected max level 1, got %d", rows[1].MaxLevel)
	}

	f, _ := db.CachedFile(ctx, 1, 7)
	if f.Size != 20 {
		t.Errorf("Expected size 20, got %d", f.Size)
	}
	if !f.IsPinned {
		t.Error("Expected pin to survive re-download")
	}
}

func TestDB_MarkCompletedIsAtomic(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	_ = db.Enqueue(ctx, 1, 5)

	if _, err := db.ExecContext(ctx, "DROP TABLE cached_path_components"); err != nil {
		t.Fatalf("DROP failed: %v", err)
	}

	err := db.MarkCompleted(ctx, 1, 5, "a/b.mp3", 1)
	if err == nil {
		t.Fatal("Expected MarkCompleted to fail")
	}
	if !errors.Is(err, domain.ErrPersistence) {
		t.Errorf("Expected ErrPersistence, got %v", err)
	}

	f, _ := db.CachedFile(ctx, 1, 5)
	if f != nil {
		t.Errorf("Expected no cached file row after rollback, got %+v", f)
	}
	queued, _ := db.IsQueued(ctx, 1, 5)
	if !queued {
		t.Error("Expected queue entry to survive rollback")
	}
}

func TestDB_DeleteCachedFile(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	_ = db.MarkCompleted(ctx, 1, 1, "a/b/one.mp3", 1)
	_ = db.MarkCompleted(ctx, 1, 2, "a/b/two.mp3", 1)

	if err := db.DeleteCachedFile(ctx, 1, 1); err != nil {
		t.Fatalf("DeleteCachedFile failed: %v", err)
	}

	f, _ := db.CachedFile(ctx, 1, 1)
	if f != nil {
		t.Error("Expected cached file to be deleted")
	}
	rows, _ := db.PathComponents(ctx, 1, 1)
	if len(rows) != 0 {
		t.Errorf("Expected path rows to be deleted, got %d", len(rows))
	}
	rows, _ = db.PathComponents(ctx, 1, 2)
	if len(rows) != 3 {
		t.Errorf("Expected other song's path rows to remain, got %d", len(rows))
	}
}

func TestDB_DeleteFolder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	_ = db.MarkCompleted(ctx, 1, 1, "Artist/Album/one.mp3", 1)
	_ = db.MarkCompleted(ctx, 1, 2, "Artist/Other/two.mp3", 1)
	_ = db.MarkCompleted(ctx, 1, 3, "Someone/Album/three.mp3", 1)

	removed, err := db.DeleteFolder(ctx, 1, 1, "Album")
	if err != nil {
		t.Fatalf("DeleteFolder failed: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("Expected 2 removed songs, got %d", len(removed))
	}

	count, _ := db.CachedFilesCount(ctx)
	if count != 1 {
		t.Errorf("Expected 1 cached song left, got %d", count)
	}
	left, _ := db.CachedFile(ctx, 1, 2)
	if left == nil {
		t.Error("Expected song outside the folder to remain")
	}
}

func TestDB_CachedBytesAndList(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	db.SetClock(steppingClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	_ = db.MarkCompleted(ctx, 1, 1, "a.mp3", 100)
	_ = db.MarkCompleted(ctx, 1, 2, "b.mp3", 250)

	total, err := db.CachedBytes(ctx)
	if err != nil {
		t.Fatalf("CachedBytes failed: %v", err)
	}
	if total != 350 {
		t.Errorf("Expected 350 bytes, got %d", total)
	}

	files, err := db.CachedFiles(ctx, 10, 0)
	if err != nil {
		t.Fatalf("CachedFiles failed: %v", err)
	}
	if len(files) != 2 || files[0].SongID != 2 {
		t.Errorf("Expected newest song first, got %+v", files)
	}
}

func TestDB_OldestByCachedDate(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	db.SetClock(steppingClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	empty, err := db.OldestByCachedDate(ctx)
	if err != nil {
		t.Fatalf("OldestByCachedDate failed: %v", err)
	}
	if empty != nil {
		t.Errorf("Expected no candidate in an empty cache, got %+v", empty)
	}

	_ = db.MarkCompleted(ctx, 1, 1, "one.mp3", 1)
	_ = db.MarkCompleted(ctx, 1, 2, "two.mp3", 1)
	_ = db.MarkCompleted(ctx, 1, 3, "three.mp3", 1)

	oldest, err := db.OldestByCachedDate(ctx)
	if err != nil {
		t.Fatalf("OldestByCachedDate failed: %v", err)
	}
	if oldest == nil || oldest.SongID != 1 {
		t.Fatalf("Expected song 1, got %+v", oldest)
	}

	if err := db.SetPinned(ctx, 1, 1, true); err != nil {
		t.Fatalf("SetPinned failed: %v", err)
	}
	oldest, _ = db.OldestByCachedDate(ctx)
	if oldest == nil || oldest.SongID != 2 {
		t.Errorf("Expected pinned song to be skipped, got %+v", oldest)
	}

	_ = db.SetPinned(ctx, 1, 2, true)
	_ = db.SetPinned(ctx, 1, 3, true)
	oldest, _ = db.OldestByCachedDate(ctx)
	if oldest != nil {
		t.Errorf("Expected no candidate when everything is pinned, got %+v", oldest)
	}
}

func TestDB_OldestByCachedDateTieBreak(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	same := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { return same })

	_ = db.MarkCompleted(ctx, 1, 9, "nine.mp3", 1)
	_ = db.MarkCompleted(ctx, 1, 4, "four.mp3", 1)

	oldest, _ := db.OldestByCachedDate(ctx)
	if oldest == nil || oldest.SongID != 9 {
		t.Errorf("Expected first inserted song 9, got %+v", oldest)
	}
}

func TestDB_OldestByPlayedDate(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	db.SetClock(steppingClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	_ = db.MarkCompleted(ctx, 1, 1, "one.mp3", 1)
	_ = db.MarkCompleted(ctx, 1, 2, "two.mp3", 1)
	_ = db.MarkCompleted(ctx, 1, 3, "three.mp3", 1)

	played := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	_ = db.SetPlayedDate(ctx, 1, 1, played.Add(time.Hour))
	_ = db.SetPlayedDate(ctx, 1, 2, played)

	// Song 3 was never played, so it goes first.
	oldest, err := db.OldestByPlayedDate(ctx)
	if err != nil {
		t.Fatalf("OldestByPlayedDate failed: %v", err)
	}
	if oldest == nil || oldest.SongID != 3 {
		t.Fatalf("Expected never played song 3, got %+v", oldest)
	}

	_ = db.SetPinned(ctx, 1, 3, true)
	oldest, _ = db.OldestByPlayedDate(ctx)
	if oldest == nil || oldest.SongID != 2 {
		t.Fatalf("Expected least recently played song 2, got %+v", oldest)
	}
	if oldest.PlayedDate == nil || !oldest.PlayedDate.Equal(played) {
		t.Errorf("Expected played date %s, got %v", played, oldest.PlayedDate)
	}
}

func TestDB_FolderBrowse(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	_ = db.UpsertSong(ctx, &domain.Song{ServerID: 1, ID: 1, CoverArtID: "al-1"})
	_ = db.MarkCompleted(ctx, 1, 1, "beta/First/01.mp3", 1)
	_ = db.MarkCompleted(ctx, 1, 2, "beta/First/02.mp3", 1)
	_ = db.MarkCompleted(ctx, 1, 3, "Alpha/second/03.mp3", 1)
	_ = db.MarkCompleted(ctx, 1, 4, "beta/loose.mp3", 1)
	_ = db.MarkCompleted(ctx, 1, 5, "root.mp3", 1)

	artists, err := db.FolderArtists(ctx, 1)
	if err != nil {
		t.Fatalf("FolderArtists failed: %v", err)
	}
	want := []domain.FolderArtist{{Name: "Alpha", ServerID: 1}, {Name: "beta", ServerID: 1}}
	if diff := cmp.Diff(want, artists); diff != "" {
		t.Errorf("FolderArtists mismatch (-want +got):\n%s", diff)
	}

	albums, err := db.FolderAlbums(ctx, 1, 1, "beta")
	if err != nil {
		t.Fatalf("FolderAlbums failed: %v", err)
	}
	if len(albums) != 1 || albums[0].Name != "First" {
		t.Fatalf("Expected album First, got %+v", albums)
	}
	if albums[0].CoverArtID == nil || *albums[0].CoverArtID != "al-1" {
		t.Errorf("Expected cover art al-1, got %v", albums[0].CoverArtID)
	}

	parent := "First"
	songs, err := db.FolderSongs(ctx, 1, 2, &parent)
	if err != nil {
		t.Fatalf("FolderSongs failed: %v", err)
	}
	if len(songs) != 2 || songs[0].SongID != 1 {
		t.Errorf("Expected songs 1 and 2, got %+v", songs)
	}

	loose := "beta"
	songs, _ = db.FolderSongs(ctx, 1, 1, &loose)
	if len(songs) != 1 || songs[0].SongID != 4 {
		t.Errorf("Expected loose song 4, got %+v", songs)
	}

	songs, _ = db.FolderSongs(ctx, 1, 0, nil)
	if len(songs) != 1 || songs[0].SongID != 5 {
		t.Errorf("Expected root song 5, got %+v", songs)
	}

	under, err := db.CachedFilesUnder(ctx, 1, 0, "beta")
	if err != nil {
		t.Fatalf("CachedFilesUnder failed: %v", err)
	}
	if len(under) != 3 {
		t.Errorf("Expected 3 songs under beta, got %d", len(under))
	}

	folders, err := db.FolderNames(ctx, 1)
	if err != nil {
		t.Fatalf("FolderNames failed: %v", err)
	}
	var names []string
	for _, f := range folders {
		names = append(names, fmt.Sprintf("%d:%s", f.Level, f.Name))
	}
	if diff := cmp.Diff([]string{"0:Alpha", "0:beta", "1:First", "1:second"}, names); diff != "" {
		t.Errorf("FolderNames mismatch (-want +got):\n%s", diff)
	}
}

func TestDB_FolderBrowseIgnoresCase(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	_ = db.MarkCompleted(ctx, 1, 1, "Beatles/Help/01.mp3", 1)
	_ = db.MarkCompleted(ctx, 1, 2, "beatles/help/02.mp3", 1)
	_ = db.MarkCompleted(ctx, 1, 3, "beatles/Abbey Road/03.mp3", 1)

	artists, err := db.FolderArtists(ctx, 1)
	if err != nil {
		t.Fatalf("FolderArtists failed: %v", err)
	}
	if len(artists) != 1 || artists[0].Name != "Beatles" {
		t.Fatalf("Expected one Beatles folder, got %+v", artists)
	}

	albums, err := db.FolderAlbums(ctx, 1, 1, "BEATLES")
	if err != nil {
		t.Fatalf("FolderAlbums failed: %v", err)
	}
	var names []string
	for _, a := range albums {
		names = append(names, a.Name)
	}
	if diff := cmp.Diff([]string{"Abbey Road", "Help"}, names); diff != "" {
		t.Errorf("FolderAlbums mismatch (-want +got):\n%s", diff)
	}

	parent := "HELP"
	songs, err := db.FolderSongs(ctx, 1, 2, &parent)
	if err != nil {
		t.Fatalf("FolderSongs failed: %v", err)
	}
	if len(songs) != 2 {
		t.Errorf("Expected both Help songs, got %+v", songs)
	}

	under, _ := db.CachedFilesUnder(ctx, 1, 0, "beatles")
	if len(under) != 3 {
		t.Errorf("Expected 3 songs under beatles, got %d", len(under))
	}

	folders, _ := db.FolderNames(ctx, 1)
	if len(folders) != 3 {
		t.Errorf("Expected Beatles, Abbey Road and Help, got %+v", folders)
	}
}

func TestDB_TagBrowse(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	songs := []domain.Song{
		{ServerID: 1, ID: 1, Artist: "b-side", Album: "One", TagArtistID: 20, TagAlbumID: 200},
		{ServerID: 1, ID: 2, Artist: "b-side", Album: "One", TagArtistID: 20, TagAlbumID: 200},
		{ServerID: 1, ID: 3, Artist: "A Band", Album: "Two", TagArtistID: 10, TagAlbumID: 100},
		{ServerID: 1, ID: 4, Artist: "Queued", Album: "Three", TagArtistID: 30, TagAlbumID: 300},
	}
	for i := range songs {
		if err := db.UpsertSong(ctx, &songs[i]); err != nil {
			t.Fatalf("UpsertSong failed: %v", err)
		}
	}
	_ = db.MarkCompleted(ctx, 1, 1, "1.mp3", 1)
	_ = db.MarkCompleted(ctx, 1, 2, "2.mp3", 1)
	_ = db.MarkCompleted(ctx, 1, 3, "3.mp3", 1)
	_ = db.Enqueue(ctx, 1, 4)

	artists, err := db.TagArtists(ctx, 1)
	if err != nil {
		t.Fatalf("TagArtists failed: %v", err)
	}
	want := []domain.TagArtist{
		{Name: "A Band", ServerID: 1, ID: 10, SongCount: 1},
		{Name: "b-side", ServerID: 1, ID: 20, SongCount: 2},
	}
	if diff := cmp.Diff(want, artists); diff != "" {
		t.Errorf("TagArtists mismatch (-want +got):\n%s", diff)
	}

	albums, err := db.TagAlbums(ctx, 1, 20)
	if err != nil {
		t.Fatalf("TagAlbums failed: %v", err)
	}
	if len(albums) != 1 || albums[0].Name != "One" || albums[0].SongCount != 2 {
		t.Errorf("Expected album One with 2 songs, got %+v", albums)
	}

	all, _ := db.TagAlbums(ctx, 1, 0)
	if len(all) != 2 {
		t.Errorf("Expected 2 albums, got %d", len(all))
	}
}

func TestDB_Songs(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	missing, err := db.Song(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Song failed: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for unknown song, got %+v", missing)
	}

	s := &domain.Song{ServerID: 1, ID: 1, Title: "Intro", Path: "a/intro.flac", Suffix: "flac", Size: 99}
	if err := db.UpsertSong(ctx, s); err != nil {
		t.Fatalf("UpsertSong failed: %v", err)
	}

	if err := db.FillSongTags(ctx, 1, 1, "Ignored", "Tagged Artist", "Tagged Album"); err != nil {
		t.Fatalf("FillSongTags failed: %v", err)
	}

	got, err := db.Song(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Song failed: %v", err)
	}
	want := domain.Song{
		ServerID: 1, ID: 1, Title: "Intro", Artist: "Tagged Artist", Album: "Tagged Album",
		Path: "a/intro.flac", Suffix: "flac", Size: 99,
	}
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("Song mismatch (-want +got):\n%s", diff)
	}
}

func TestSettingsRepo(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	repo := NewSettingsRepo(db)

	v, err := repo.GetBool(ctx, SettingOfflineMode, true)
	if err != nil {
		t.Fatalf("GetBool failed: %v", err)
	}
	if !v {
		t.Error("Expected fallback value for unset key")
	}

	if err := repo.SetBool(ctx, SettingOfflineMode, false); err != nil {
		t.Fatalf("SetBool failed: %v", err)
	}
	v, _ = repo.GetBool(ctx, SettingOfflineMode, true)
	if v {
		t.Error("Expected stored false to override fallback")
	}

	if err := repo.SetInt64(ctx, SettingMinFreeSpace, 1024); err != nil {
		t.Fatalf("SetInt64 failed: %v", err)
	}
	n, _ := repo.GetInt64(ctx, SettingMinFreeSpace, 0)
	if n != 1024 {
		t.Errorf("Expected 1024, got %d", n)
	}

	if err := repo.Delete(ctx, SettingMinFreeSpace); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	n, _ = repo.GetInt64(ctx, SettingMinFreeSpace, 7)
	if n != 7 {
		t.Errorf("Expected fallback 7 after delete, got %d", n)
	}
}
