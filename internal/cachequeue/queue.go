// Package cachequeue downloads queued songs into the offline cache, one at a
// time, in queue order.
package cachequeue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cesargomez89/navicache/internal/constants"
	"github.com/cesargomez89/navicache/internal/domain"
	"github.com/cesargomez89/navicache/internal/events"
	"github.com/cesargomez89/navicache/internal/logger"
	"github.com/cesargomez89/navicache/internal/storage"
	"github.com/cesargomez89/navicache/internal/subsonic"
	"github.com/cesargomez89/navicache/internal/tagging"
	"github.com/cesargomez89/navicache/internal/transfer"
)

// ErrNotRunning is returned by calls made after Run has returned.
var ErrNotRunning = errors.New("cache queue is not running")

type State int

const (
	Idle State = iota
	Starting
	Downloading
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Downloading:
		return "downloading"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText lets State render by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Store is the queue and cache persistence the orchestrator needs.
type Store interface {
	PeekFront(ctx context.Context) (*domain.QueueEntry, error)
	RemoveFromQueue(ctx context.Context, serverID, songID int64) error
	MarkCompleted(ctx context.Context, serverID, songID int64, path string, size int64) error
	CachedFile(ctx context.Context, serverID, songID int64) (*domain.CachedFile, error)
	Song(ctx context.Context, serverID, songID int64) (*domain.Song, error)
	FillSongTags(ctx context.Context, serverID, songID int64, title, artist, album string) error
}

// Streamer is the live playback side that may already be transferring the
// song the queue wants next. It also tracks the queue's own transfer so
// playback never starts a second one for the same song.
type Streamer interface {
	HandlerFor(song *domain.Song) transfer.Handler
	StealForCacheQueue(h transfer.Handler)
	ClaimForCacheQueue(h transfer.Handler) transfer.Handler
	ReleaseFromCacheQueue(h transfer.Handler)
	NotifyStartedPlayback(h transfer.Handler)
}

// Publisher receives queue events.
type Publisher interface {
	Publish(e events.Event)
}

// SideFetcher starts the best-effort metadata fetches for a song. It must
// not block.
type SideFetcher interface {
	Fetch(ctx context.Context, song *domain.Song)
}

// Status is a snapshot of the orchestrator.
type Status struct {
	State            State              `json:"state"`
	Current          *domain.QueueEntry `json:"current,omitempty"`
	Song             *domain.Song       `json:"song,omitempty"`
	BytesTransferred int64              `json:"bytes_transferred"`
	Reconnects       int                `json:"reconnects"`
}

type Options struct {
	Store     Store
	Factory   transfer.Factory
	Streamer  Streamer
	Notifier  Notifier
	Events    Publisher
	SideFetch SideFetcher
	Policy    PolicySource
	CacheDir  string
	Log       *logger.Logger

	// FreeSpace and ReadTags default to the storage and tagging packages.
	FreeSpace func(path string) (int64, error)
	ReadTags  func(path string) (*tagging.Tags, error)
}

type command func(ctx context.Context)

// Queue is the download orchestrator. All of its state is owned by the Run
// goroutine; every other method posts a command to it.
type Queue struct {
	store     Store
	factory   transfer.Factory
	streamer  Streamer
	notifier  Notifier
	events    Publisher
	sideFetch SideFetcher
	policy    PolicySource
	cacheDir  string
	log       *logger.Logger
	freeSpace func(string) (int64, error)
	readTags  func(string) (*tagging.Tags, error)

	mu      sync.Mutex
	mailbox []command
	signal  chan struct{}
	done    chan struct{}

	// owned by Run
	state   State
	handler transfer.Handler
	current *domain.QueueEntry
	song    *domain.Song
}

func New(opts Options) *Queue {
	q := &Queue{
		store:     opts.Store,
		factory:   opts.Factory,
		streamer:  opts.Streamer,
		notifier:  opts.Notifier,
		events:    opts.Events,
		sideFetch: opts.SideFetch,
		policy:    opts.Policy,
		cacheDir:  opts.CacheDir,
		log:       opts.Log,
		freeSpace: opts.FreeSpace,
		readTags:  opts.ReadTags,
		signal:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if q.log == nil {
		q.log = logger.Default()
	}
	q.log = q.log.WithComponent("cachequeue")
	if q.notifier == nil {
		q.notifier = NewLogNotifier(q.log, 0)
	}
	if q.policy == nil {
		q.policy = StaticPolicy{
			MinFreeSpace: constants.DefaultMinFreeSpace,
			MaxRetries:   constants.DefaultMaxRetries,
			RetryDelay:   constants.DefaultRetryDelay,
		}
	}
	if q.freeSpace == nil {
		q.freeSpace = storage.FreeSpace
	}
	if q.readTags == nil {
		q.readTags = tagging.ReadFile
	}
	return q
}

// Run processes commands until ctx is cancelled. A transfer still running
// at that point is cancelled and its queue entry kept for next time.
func (q *Queue) Run(ctx context.Context) error {
	defer close(q.done)

	if err := storage.EnsureDir(q.cacheDir); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			if q.handler != nil {
				q.detach()
			}
			q.log.Info("Cache queue shut down")
			return nil
		case <-q.signal:
			q.drain(ctx)
		}
	}
}

func (q *Queue) drain(ctx context.Context) {
	for {
		q.mu.Lock()
		batch := q.mailbox
		q.mailbox = nil
		q.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, cmd := range batch {
			q.exec(ctx, cmd)
		}
	}
}

func (q *Queue) exec(ctx context.Context, cmd command) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("Cache queue command panicked", "panic", r)
		}
	}()
	cmd(ctx)
}

func (q *Queue) post(cmd command) {
	q.mu.Lock()
	q.mailbox = append(q.mailbox, cmd)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// call posts cmd and waits until Run has executed it.
func (q *Queue) call(ctx context.Context, cmd command) error {
	finished := make(chan struct{})
	q.post(func(ctx context.Context) {
		defer close(finished)
		cmd(ctx)
	})

	select {
	case <-finished:
		return nil
	case <-q.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start begins downloading the front of the queue unless a download is
// already running.
func (q *Queue) Start(ctx context.Context) error {
	return q.call(ctx, q.start)
}

// Stop cancels the running download. Its entry stays at the front of the
// queue.
func (q *Queue) Stop(ctx context.Context) error {
	return q.call(ctx, func(context.Context) { q.stop() })
}

// Resume restarts the current transfer from the bytes already on disk.
func (q *Queue) Resume(ctx context.Context) error {
	return q.call(ctx, q.resume)
}

// RemoveCurrentSong drops the song being downloaded from the queue and moves
// on to the next one.
func (q *Queue) RemoveCurrentSong(ctx context.Context) error {
	return q.call(ctx, func(ctx context.Context) {
		q.stop()
		if q.current != nil {
			entry := q.current
			if err := q.store.RemoveFromQueue(ctx, entry.ServerID, entry.SongID); err != nil {
				q.notifier.Alert(err)
				return
			}
			q.log.Info("Removed current song from queue", "server_id", entry.ServerID, "song_id", entry.SongID)
			q.current = nil
			q.song = nil
		}
		q.start(ctx)
	})
}

func (q *Queue) Status(ctx context.Context) (Status, error) {
	var st Status
	err := q.call(ctx, func(context.Context) {
		st.State = q.state
		if q.current != nil {
			entry := *q.current
			st.Current = &entry
		}
		if q.song != nil {
			song := *q.song
			st.Song = &song
		}
		if q.handler != nil {
			st.BytesTransferred = q.handler.TotalBytesTransferred()
			st.Reconnects = q.handler.NumberOfReconnects()
		}
	})
	return st, err
}

// Delegate callbacks. They never wait, so a handler may call them from
// inside Start.

func (q *Queue) HandlerStarted(h transfer.Handler) {
	q.post(func(context.Context) {
		if h != q.handler {
			return
		}
		q.log.Debug("Transfer started", "song", h.Song().String())
	})
}

func (q *Queue) HandlerStartedPlayback(h transfer.Handler) {
	if q.streamer != nil {
		q.streamer.NotifyStartedPlayback(h)
	}
}

func (q *Queue) HandlerFinished(h transfer.Handler) {
	q.post(func(ctx context.Context) { q.finished(ctx, h) })
}

func (q *Queue) HandlerFailed(h transfer.Handler, err error) {
	q.post(func(ctx context.Context) { q.failed(ctx, h, err) })
}

func (q *Queue) start(ctx context.Context) {
	if q.state == Downloading {
		return
	}
	q.state = Starting

	for skips := 0; skips < constants.MaxSkipsPerStart; skips++ {
		next, ok := q.next(ctx)
		if !ok {
			q.state = Idle
			return
		}
		if next {
			continue
		}
		return
	}

	q.log.Warn("Too many queue entries skipped, waiting for the next start", "skips", constants.MaxSkipsPerStart)
	q.state = Idle
}

// next looks at the front of the queue. It returns next=true when the entry
// was skipped and the caller should look again, and ok=false when the queue
// cannot make progress right now.
func (q *Queue) next(ctx context.Context) (next, ok bool) {
	entry, err := q.store.PeekFront(ctx)
	if err != nil {
		q.notifier.Alert(err)
		return false, false
	}
	if entry == nil {
		q.log.Debug("Cache queue is empty")
		return false, false
	}

	pol := q.policy.Policy(ctx)
	if !pol.AllowsCaching() {
		q.log.Debug("Caching not allowed on current network", "offline", pol.Offline, "metered", pol.Metered)
		return false, false
	}

	free, err := q.freeSpace(q.cacheDir)
	if err != nil {
		q.log.Warn("Failed to read free space", "error", err)
	} else if free <= pol.MinFreeSpace {
		q.log.Warn("Not enough free space to cache",
			"free", humanize.IBytes(uint64(max(free, 0))),
			"min_free", humanize.IBytes(uint64(pol.MinFreeSpace)))
		q.publish(events.Event{Kind: events.CapacityWarning, FreeBytes: free})
		q.notifier.Alert(fmt.Errorf("%w: %s free", domain.ErrStorageExhausted, humanize.IBytes(uint64(max(free, 0)))))
		return false, false
	}

	log := q.log.WithSong(entry.ServerID, entry.SongID)

	song, err := q.store.Song(ctx, entry.ServerID, entry.SongID)
	if err != nil {
		q.notifier.Alert(err)
		return false, false
	}
	if song == nil {
		log.Warn("No metadata for queued song, skipping")
		if !q.skip(ctx, entry) {
			return false, false
		}
		q.publish(songEvent(events.SongDownloadFailed, entry))
		return true, true
	}

	if song.IsVideo {
		log.Debug("Skipping video")
		return q.skip(ctx, entry), true
	}

	cached, err := q.fullyCached(ctx, entry)
	if err != nil {
		q.notifier.Alert(err)
		return false, false
	}
	if cached {
		log.Debug("Song already cached, skipping")
		if !q.skip(ctx, entry) {
			return false, false
		}
		q.publish(songEvent(events.SongDownloaded, entry))
		return true, true
	}

	if err := q.download(ctx, entry, song); err != nil {
		log.Error("Failed to create transfer", "error", err)
		if !q.skip(ctx, entry) {
			return false, false
		}
		q.publish(songEvent(events.SongDownloadFailed, entry))
		return true, true
	}
	return false, true
}

// skip removes entry from the queue. It reports false when the removal
// failed and the loop must stop rather than see the same entry again.
func (q *Queue) skip(ctx context.Context, entry *domain.QueueEntry) bool {
	if err := q.store.RemoveFromQueue(ctx, entry.ServerID, entry.SongID); err != nil {
		q.notifier.Alert(err)
		return false
	}
	return true
}

func (q *Queue) fullyCached(ctx context.Context, entry *domain.QueueEntry) (bool, error) {
	cf, err := q.store.CachedFile(ctx, entry.ServerID, entry.SongID)
	if err != nil || cf == nil || !cf.IsFinished {
		return false, err
	}
	return storage.Exists(storage.LocalPath(q.cacheDir, cf.Path)), nil
}

func (q *Queue) download(ctx context.Context, entry *domain.QueueEntry, song *domain.Song) error {
	log := q.log.WithSong(song.ServerID, song.ID)

	var h transfer.Handler
	if q.streamer != nil {
		h = q.streamer.HandlerFor(song)
	}
	stolen := h != nil
	if !stolen {
		fresh, err := q.factory.NewHandler(song)
		if err != nil {
			return err
		}
		h = fresh
		if q.streamer != nil {
			h = q.streamer.ClaimForCacheQueue(fresh)
			stolen = h != fresh
		}
	}

	if q.sideFetch != nil {
		q.sideFetch.Fetch(ctx, song)
	}

	h.SetNumberOfReconnects(0)
	h.SetDelegate(q)
	q.handler = h
	q.current = entry
	q.song = song
	q.state = Downloading
	q.publish(events.Event{Kind: events.QueueStarted, ServerID: song.ServerID, SongID: song.ID})

	if stolen {
		q.streamer.StealForCacheQueue(h)
		log.Info("Caching song from playback transfer", "title", song.Title)
		if !h.IsDownloading() {
			h.Start(true)
		}
		return nil
	}

	log.Info("Caching song", "title", song.Title)
	h.Start(false)
	return nil
}

func (q *Queue) resume(ctx context.Context) {
	if q.state != Downloading || q.handler == nil {
		return
	}
	if q.policy.Policy(ctx).Offline {
		return
	}
	q.handler.Start(true)
}

func (q *Queue) stop() {
	if q.state != Downloading {
		return
	}
	q.detach()
	q.state = Stopped
	q.publish(events.Event{Kind: events.QueueStopped})
	q.log.Info("Cache queue stopped")
}

// detach cancels the handler after unhooking it, so nothing it reports
// later reaches the queue.
func (q *Queue) detach() {
	h := q.handler
	q.release()
	h.SetDelegate(nil)
	h.Cancel()
}

// release drops the current handler and its registration with the streamer.
func (q *Queue) release() {
	if q.handler != nil && q.streamer != nil {
		q.streamer.ReleaseFromCacheQueue(q.handler)
	}
	q.handler = nil
}

func (q *Queue) finished(ctx context.Context, h transfer.Handler) {
	if h != q.handler {
		return
	}
	song := h.Song()
	log := q.log.WithSong(song.ServerID, song.ID)
	total := h.TotalBytesTransferred()

	if total == 0 {
		q.discard(h.FilePath())
		q.notifier.Alert(domain.ErrEmptyResponse)
		q.stop()
		return
	}

	if total < constants.ErrorEnvelopeMaxBytes {
		data, err := os.ReadFile(h.FilePath())
		if err != nil {
			log.Warn("Failed to read short download", "error", err)
		} else if subsonic.IsTrialExpired(data) {
			q.discard(h.FilePath())
			q.notifier.Alert(domain.ErrLicenseTrialExpired)
			q.stop()
			return
		}
	}

	rel, err := filepath.Rel(q.cacheDir, h.FilePath())
	if err != nil {
		rel = h.FilePath()
	}
	rel = filepath.ToSlash(rel)

	if err := q.store.MarkCompleted(ctx, song.ServerID, song.ID, rel, total); err != nil {
		q.notifier.Alert(err)
		q.stop()
		return
	}
	log.Info("Song cached", "path", rel, "size", humanize.IBytes(uint64(total)))

	q.enrichTags(ctx, song, h.FilePath())

	q.publish(songEvent(events.SongDownloaded, &domain.QueueEntry{ServerID: song.ServerID, SongID: song.ID}))
	q.clear()
	q.start(ctx)
}

// enrichTags fills blank song metadata from the file's own tags.
func (q *Queue) enrichTags(ctx context.Context, song *domain.Song, path string) {
	tags, err := q.readTags(path)
	if err != nil {
		if !errors.Is(err, tagging.ErrUnsupportedFormat) {
			q.log.Debug("Failed to read tags", "path", path, "error", err)
		}
		return
	}
	if tags.Empty() {
		return
	}
	if err := q.store.FillSongTags(ctx, song.ServerID, song.ID, tags.Title, tags.Artist, tags.Album); err != nil {
		q.log.Warn("Failed to save tags", "error", err)
	}
}

func (q *Queue) failed(ctx context.Context, h transfer.Handler, err error) {
	if h != q.handler {
		return
	}
	song := h.Song()
	log := q.log.WithSong(song.ServerID, song.ID)
	pol := q.policy.Policy(ctx)

	if attempt := h.NumberOfReconnects(); attempt < pol.MaxRetries {
		h.SetNumberOfReconnects(attempt + 1)
		log.Warn("Transfer failed, retrying",
			"attempt", attempt+1, "max_retries", pol.MaxRetries, "delay", pol.RetryDelay, "error", err)
		time.AfterFunc(pol.RetryDelay, func() {
			q.post(func(ctx context.Context) {
				if h != q.handler {
					return
				}
				q.resume(ctx)
			})
		})
		return
	}

	log.Error("Song failed to download", "error", err)
	q.notifier.Notice("Song failed to download")
	q.publish(events.Event{Kind: events.SongDownloadFailed, ServerID: song.ServerID, SongID: song.ID})
	h.SetDelegate(nil)
	q.clear()
	if rmErr := q.store.RemoveFromQueue(ctx, song.ServerID, song.ID); rmErr != nil {
		q.notifier.Alert(rmErr)
		return
	}
	q.start(ctx)
}

func (q *Queue) clear() {
	q.release()
	q.current = nil
	q.song = nil
	q.state = Idle
}

func (q *Queue) discard(path string) {
	if err := storage.RemoveFile(path); err != nil {
		q.log.Warn("Failed to remove partial download", "path", path, "error", err)
	}
}

func (q *Queue) publish(e events.Event) {
	if q.events != nil {
		q.events.Publish(e)
	}
}

func songEvent(kind events.Kind, entry *domain.QueueEntry) events.Event {
	return events.Event{Kind: kind, ServerID: entry.ServerID, SongID: entry.SongID}
}
