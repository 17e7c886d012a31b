// Package stream tracks the transfers started for live playback so the cache
// queue can take one over instead of downloading the same song twice. It
// also knows the transfer the cache queue owns, so playback of that song
// shares it rather than starting a second one.
package stream

import (
	"sync"

	"github.com/cesargomez89/navicache/internal/domain"
	"github.com/cesargomez89/navicache/internal/logger"
	"github.com/cesargomez89/navicache/internal/transfer"
)

type Manager struct {
	factory    transfer.Factory
	log        *logger.Logger
	handlers   map[domain.SongKey]transfer.Handler
	cached     map[domain.SongKey]transfer.Handler
	onPlayback func(song *domain.Song)
	mu         sync.Mutex
}

func NewManager(factory transfer.Factory, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		factory:  factory,
		log:      log.WithComponent("stream"),
		handlers: make(map[domain.SongKey]transfer.Handler),
		cached:   make(map[domain.SongKey]transfer.Handler),
	}
}

// OnPlayback registers fn to run when any song has buffered enough to play.
func (m *Manager) OnPlayback(fn func(song *domain.Song)) {
	m.mu.Lock()
	m.onPlayback = fn
	m.mu.Unlock()
}

// Stream starts (or returns the running) playback transfer for song. A song
// the cache queue is downloading gets the queue's transfer.
func (m *Manager) Stream(song *domain.Song) (transfer.Handler, error) {
	m.mu.Lock()
	if h, ok := m.handlers[song.Key()]; ok {
		m.mu.Unlock()
		return h, nil
	}
	if h, ok := m.cached[song.Key()]; ok {
		m.mu.Unlock()
		m.log.Debug("Streaming from cache queue transfer", "server_id", song.ServerID, "song_id", song.ID)
		return h, nil
	}
	h, err := m.factory.NewHandler(song)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.handlers[song.Key()] = h
	m.mu.Unlock()

	h.SetDelegate(m)
	h.Start(false)
	m.log.Info("Streaming song", "server_id", song.ServerID, "song_id", song.ID)
	return h, nil
}

// HandlerFor returns the playback transfer for song, or nil.
func (m *Manager) HandlerFor(song *domain.Song) transfer.Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers[song.Key()]
}

// StealForCacheQueue gives up ownership of h. The caller installs its own
// delegate and h is tracked as the cache queue's transfer.
func (m *Manager) StealForCacheQueue(h transfer.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := h.Song().Key()
	if m.handlers[key] == h {
		delete(m.handlers, key)
		m.log.Debug("Handler taken over by cache queue", "server_id", key.ServerID, "song_id", key.SongID)
	}
	m.cached[key] = h
}

// ClaimForCacheQueue registers h, not yet started, as the cache queue's
// transfer for its song. If playback started a transfer of the same song in
// the meantime, that one is handed over instead and h must be dropped.
func (m *Manager) ClaimForCacheQueue(h transfer.Handler) transfer.Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := h.Song().Key()
	if running, ok := m.handlers[key]; ok {
		delete(m.handlers, key)
		h = running
		m.log.Debug("Handler taken over by cache queue", "server_id", key.ServerID, "song_id", key.SongID)
	}
	m.cached[key] = h
	return h
}

// ReleaseFromCacheQueue forgets h once the cache queue is done with it.
func (m *Manager) ReleaseFromCacheQueue(h transfer.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := h.Song().Key()
	if m.cached[key] == h {
		delete(m.cached, key)
	}
}

// NotifyStartedPlayback tells playback that h has buffered enough to play.
func (m *Manager) NotifyStartedPlayback(h transfer.Handler) {
	m.mu.Lock()
	fn := m.onPlayback
	m.mu.Unlock()

	song := h.Song()
	m.log.Debug("Playback ready", "server_id", song.ServerID, "song_id", song.ID)
	if fn != nil {
		fn(song)
	}
}

// Active lists the songs currently streaming.
func (m *Manager) Active() []domain.SongKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]domain.SongKey, 0, len(m.handlers))
	for k := range m.handlers {
		keys = append(keys, k)
	}
	return keys
}

// CancelAll stops every playback transfer.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	handlers := m.handlers
	m.handlers = make(map[domain.SongKey]transfer.Handler)
	m.mu.Unlock()

	for _, h := range handlers {
		h.SetDelegate(nil)
		h.Cancel()
	}
}

func (m *Manager) HandlerStarted(h transfer.Handler) {}

func (m *Manager) HandlerStartedPlayback(h transfer.Handler) {
	m.NotifyStartedPlayback(h)
}

func (m *Manager) HandlerFinished(h transfer.Handler) {
	m.forget(h)
}

func (m *Manager) HandlerFailed(h transfer.Handler, err error) {
	song := h.Song()
	m.log.Warn("Stream failed", "server_id", song.ServerID, "song_id", song.ID, "error", err)
	m.forget(h)
}

func (m *Manager) forget(h transfer.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := h.Song().Key()
	if m.handlers[key] == h {
		delete(m.handlers, key)
	}
}
