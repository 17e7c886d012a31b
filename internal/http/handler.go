package httpapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cesargomez89/navicache/internal/app"
	"github.com/cesargomez89/navicache/internal/cachequeue"
	"github.com/cesargomez89/navicache/internal/domain"
	"github.com/cesargomez89/navicache/internal/evict"
	"github.com/cesargomez89/navicache/internal/logger"
	"github.com/cesargomez89/navicache/internal/metrics"
	"github.com/cesargomez89/navicache/internal/transfer"
)

// QueueControl drives the download orchestrator.
type QueueControl interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Resume(ctx context.Context) error
	RemoveCurrentSong(ctx context.Context) error
	Status(ctx context.Context) (cachequeue.Status, error)
}

type Reclaimer interface {
	Reclaim(ctx context.Context) (evict.Result, error)
}

type Alerts interface {
	Recent() []cachequeue.Notification
}

// Streams starts playback transfers.
type Streams interface {
	Stream(song *domain.Song) (transfer.Handler, error)
	Active() []domain.SongKey
}

type CoverArt interface {
	CoverArtPath(coverArtID string, size int) string
}

type Handler struct {
	Cache         *app.CacheService
	Browse        *app.BrowseService
	Queue         QueueControl
	Reclaimer     Reclaimer
	Alerts        Alerts
	Streams       Streams
	Covers        CoverArt
	Metrics       *metrics.Metrics
	QueueDefaults app.QueueSettings
	KnownServer   func(id int64) bool
	Logger        *logger.Logger
}

func NewHandler(cache *app.CacheService, browse *app.BrowseService, queue QueueControl, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{
		Cache:  cache,
		Browse: browse,
		Queue:  queue,
		Logger: log.WithComponent("http"),
	}
}

// Router builds the full route tree with the standard middleware stack.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if h.Metrics != nil {
		r.Use(h.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())
	}
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/queue", h.ListQueue)
		r.Post("/queue", h.Enqueue)
		r.Get("/queue/status", h.QueueStatus)
		r.Post("/queue/start", h.QueueAction(QueueControl.Start))
		r.Post("/queue/stop", h.QueueAction(QueueControl.Stop))
		r.Post("/queue/resume", h.QueueAction(QueueControl.Resume))
		r.Delete("/queue/current", h.QueueAction(QueueControl.RemoveCurrentSong))

		r.Get("/cache", h.ListCached)
		r.Delete("/cache/{serverID}/{songID}", h.DeleteSong)
		r.Put("/cache/{serverID}/{songID}/pin", h.SetPinned(true))
		r.Delete("/cache/{serverID}/{songID}/pin", h.SetPinned(false))
		r.Delete("/folders/{serverID}", h.DeleteFolder)

		r.Route("/browse/{serverID}", func(r chi.Router) {
			r.Get("/folders", h.FolderArtists)
			r.Get("/folders/{level}", h.FolderAlbums)
			r.Get("/folders/{level}/songs", h.FolderSongs)
			r.Get("/tags/artists", h.TagArtists)
			r.Get("/tags/albums", h.TagAlbums)
			r.Get("/search", h.SearchFolders)
		})

		r.Get("/settings", h.GetSettings)
		r.Patch("/settings", h.UpdateSettings)

		r.Post("/evict", h.Evict)
		r.Get("/alerts", h.ListAlerts)

		r.Post("/stream/{serverID}/{songID}", h.StartStream)
		r.Get("/stream", h.ListStreams)
	})

	r.Get("/covers/{id}", h.Cover)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSongNotFound):
		return http.StatusNotFound
	case errors.Is(err, cachequeue.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func intQuery(r *http.Request, name string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return fallback
	}
	return v
}
