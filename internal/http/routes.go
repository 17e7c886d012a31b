package httpapp

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cesargomez89/navicache/internal/app"
	"github.com/cesargomez89/navicache/internal/constants"
	"github.com/cesargomez89/navicache/internal/domain"
	"github.com/cesargomez89/navicache/internal/http/dto"
	"github.com/cesargomez89/navicache/internal/storage"
)

func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	page := intQuery(r, "page", 1)
	size := intQuery(r, "limit", constants.MaxQueueListItems)

	// Count first so an out of range page clamps to the last one.
	_, total, err := h.Cache.QueueItems(r.Context(), 0, 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p := dto.NewPagination(page, size, total)
	items, _, err := h.Cache.QueueItems(r.Context(), p.PageSize, p.Offset())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.Page[app.QueueItem]{Items: items, Pagination: p})
}

func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req dto.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if errs := req.Validate(h.KnownServer); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: dto.ToResponse(errs), Fields: dto.ToMap(errs)})
		return
	}

	songs := make([]*domain.Song, 0, len(req.Songs))
	for _, s := range req.Songs {
		songs = append(songs, s.ToDomain())
	}
	if err := h.Cache.EnqueueSongs(r.Context(), songs); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Cache.Enqueue(r.Context(), req.Keys); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"enqueued": len(songs) + len(req.Keys)})
}

func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.Queue.Status(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// QueueAction runs one orchestrator call and answers with the new status.
func (h *Handler) QueueAction(action func(QueueControl, context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := action(h.Queue, r.Context()); err != nil {
			h.writeError(w, r, err)
			return
		}
		h.QueueStatus(w, r)
	}
}

func (h *Handler) ListCached(w http.ResponseWriter, r *http.Request) {
	page := intQuery(r, "page", 1)
	size := intQuery(r, "limit", constants.MaxQueueListItems)

	_, total, err := h.Cache.CachedSongs(r.Context(), 0, 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p := dto.NewPagination(page, size, total)
	items, _, err := h.Cache.CachedSongs(r.Context(), p.PageSize, p.Offset())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.Page[app.CachedItem]{Items: items, Pagination: p})
}

func (h *Handler) DeleteSong(w http.ResponseWriter, r *http.Request) {
	serverID, ok1 := idParam(r, "serverID")
	songID, ok2 := idParam(r, "songID")
	if !ok1 || !ok2 {
		badRequest(w, "invalid song key")
		return
	}
	if err := h.Cache.DeleteSong(r.Context(), serverID, songID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetPinned(pinned bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serverID, ok1 := idParam(r, "serverID")
		songID, ok2 := idParam(r, "songID")
		if !ok1 || !ok2 {
			badRequest(w, "invalid song key")
			return
		}
		if err := h.Cache.SetPinned(r.Context(), serverID, songID, pinned); err != nil {
			h.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	serverID, ok := idParam(r, "serverID")
	if !ok {
		badRequest(w, "invalid server id")
		return
	}
	name := r.URL.Query().Get("name")
	level, err := strconv.Atoi(r.URL.Query().Get("level"))
	if err != nil || level < 0 || name == "" {
		badRequest(w, "level and name are required")
		return
	}

	removed, err := h.Cache.DeleteFolder(r.Context(), serverID, level, name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": removed})
}

func (h *Handler) FolderArtists(w http.ResponseWriter, r *http.Request) {
	serverID, ok := idParam(r, "serverID")
	if !ok {
		badRequest(w, "invalid server id")
		return
	}
	artists, err := h.Browse.FolderArtists(r.Context(), serverID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, artists)
}

func (h *Handler) FolderAlbums(w http.ResponseWriter, r *http.Request) {
	serverID, ok := idParam(r, "serverID")
	level, err := strconv.Atoi(chi.URLParam(r, "level"))
	if !ok || err != nil || level < 1 {
		badRequest(w, "invalid server id or level")
		return
	}
	albums, err := h.Browse.FolderAlbums(r.Context(), serverID, level, r.URL.Query().Get("parent"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, albums)
}

func (h *Handler) FolderSongs(w http.ResponseWriter, r *http.Request) {
	serverID, ok := idParam(r, "serverID")
	level, err := strconv.Atoi(chi.URLParam(r, "level"))
	if !ok || err != nil || level < 0 {
		badRequest(w, "invalid server id or level")
		return
	}
	songs, err := h.Browse.FolderSongs(r.Context(), serverID, level, r.URL.Query().Get("parent"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, songs)
}

func (h *Handler) TagArtists(w http.ResponseWriter, r *http.Request) {
	serverID, ok := idParam(r, "serverID")
	if !ok {
		badRequest(w, "invalid server id")
		return
	}
	artists, err := h.Browse.TagArtists(r.Context(), serverID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, artists)
}

func (h *Handler) TagAlbums(w http.ResponseWriter, r *http.Request) {
	serverID, ok := idParam(r, "serverID")
	if !ok {
		badRequest(w, "invalid server id")
		return
	}
	artistID, _ := strconv.ParseInt(r.URL.Query().Get("artist_id"), 10, 64)
	albums, err := h.Browse.TagAlbums(r.Context(), serverID, artistID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, albums)
}

func (h *Handler) SearchFolders(w http.ResponseWriter, r *http.Request) {
	serverID, ok := idParam(r, "serverID")
	if !ok {
		badRequest(w, "invalid server id")
		return
	}
	results, err := h.Browse.SearchFolders(r.Context(), serverID, r.URL.Query().Get("q"), intQuery(r, "limit", 0))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	qs, err := h.Cache.QueueSettings(r.Context(), h.QueueDefaults)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req dto.SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: dto.ToResponse(errs), Fields: dto.ToMap(errs)})
		return
	}

	update := app.QueueSettingsUpdate{
		OfflineMode:            req.OfflineMode,
		Metered:                req.Metered,
		ManualCachingOnMetered: req.ManualCachingOnMetered,
		MinFreeSpace:           req.MinFreeSpace,
	}
	if err := h.Cache.UpdateQueueSettings(r.Context(), update); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.GetSettings(w, r)
}

func (h *Handler) Evict(w http.ResponseWriter, r *http.Request) {
	if h.Reclaimer == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "eviction is not configured"})
		return
	}
	res, err := h.Reclaimer.Reclaim(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.Metrics != nil {
		h.Metrics.ObserveEviction(len(res.Evicted), res.FreedBytes)
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	if h.Alerts == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, h.Alerts.Recent())
}

func (h *Handler) StartStream(w http.ResponseWriter, r *http.Request) {
	serverID, ok1 := idParam(r, "serverID")
	songID, ok2 := idParam(r, "songID")
	if !ok1 || !ok2 {
		badRequest(w, "invalid song key")
		return
	}
	if h.Streams == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "streaming is not configured"})
		return
	}

	song, err := h.Cache.Repo.Song(r.Context(), serverID, songID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if song == nil {
		h.writeError(w, r, domain.ErrSongNotFound)
		return
	}
	handler, err := h.Streams.Stream(song)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"song":              song,
		"bytes_transferred": handler.TotalBytesTransferred(),
	})
}

func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	if h.Streams == nil {
		writeJSON(w, http.StatusOK, []domain.SongKey{})
		return
	}
	writeJSON(w, http.StatusOK, h.Streams.Active())
}

func (h *Handler) Cover(w http.ResponseWriter, r *http.Request) {
	if h.Covers == nil {
		http.NotFound(w, r)
		return
	}
	size := intQuery(r, "size", constants.CoverArtSizeLarge)
	if size != constants.CoverArtSizeLarge && size != constants.CoverArtSizeSmall {
		badRequest(w, "unsupported size")
		return
	}
	path := h.Covers.CoverArtPath(chi.URLParam(r, "id"), size)
	if !storage.Exists(path) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, path)
}
