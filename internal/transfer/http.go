package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/cesargomez89/navicache/internal/constants"
	"github.com/cesargomez89/navicache/internal/domain"
	"github.com/cesargomez89/navicache/internal/httpclient"
	"github.com/cesargomez89/navicache/internal/logger"
	"github.com/cesargomez89/navicache/internal/storage"
)

// HTTPHandler streams a song URL into a .part file next to its final path
// and renames it once the body is complete.
type HTTPHandler struct {
	client   *httpclient.Client
	log      *logger.Logger
	song     *domain.Song
	delegate Delegate
	cancel   context.CancelFunc
	done     chan struct{}
	url      string
	path     string

	threshold   int64
	total       int64
	reconnects  int
	downloading bool
	playbackHit bool
	mu          sync.Mutex
}

// NewHTTPHandler returns an idle handler for song. Nothing touches the
// network or disk until Start.
func NewHTTPHandler(client *httpclient.Client, song *domain.Song, url, path string, threshold int64, log *logger.Logger) *HTTPHandler {
	if log == nil {
		log = logger.Default()
	}
	id := uuid.NewString()
	songLog := log.WithComponent("transfer").WithSong(song.ServerID, song.ID)
	return &HTTPHandler{
		client:    client,
		song:      song,
		url:       url,
		path:      path,
		threshold: threshold,
		log:       &logger.Logger{Logger: songLog.With("handler_id", id)},
	}
}

func (h *HTTPHandler) Song() *domain.Song { return h.song }

func (h *HTTPHandler) FilePath() string { return h.path }

func (h *HTTPHandler) partPath() string { return h.path + constants.ExtPart }

func (h *HTTPHandler) SetDelegate(d Delegate) {
	h.mu.Lock()
	h.delegate = d
	h.mu.Unlock()
}

func (h *HTTPHandler) TotalBytesTransferred() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

func (h *HTTPHandler) NumberOfReconnects() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reconnects
}

func (h *HTTPHandler) SetNumberOfReconnects(n int) {
	h.mu.Lock()
	h.reconnects = n
	h.mu.Unlock()
}

func (h *HTTPHandler) IsDownloading() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.downloading
}

// Start begins the transfer in the background. It is a no-op while a
// transfer is already running.
func (h *HTTPHandler) Start(resume bool) {
	h.mu.Lock()
	if h.downloading {
		h.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.downloading = true
	prev := h.done
	done := make(chan struct{})
	h.done = done
	h.mu.Unlock()

	go func() {
		defer close(done)
		// A cancelled run may still be unwinding; let it release the file.
		if prev != nil {
			<-prev
		}
		h.run(ctx, resume)
	}()
}

// Cancel stops a running transfer. No callback follows a cancel.
func (h *HTTPHandler) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.downloading = false
}

func (h *HTTPHandler) run(ctx context.Context, resume bool) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("Panic in transfer", "panic", r)
			h.finish(ctx, fmt.Errorf("%w: panic: %v", domain.ErrTransientTransfer, r))
		}
	}()

	err := h.transfer(ctx, resume)
	if ctx.Err() != nil {
		return
	}
	h.finish(ctx, err)
}

func (h *HTTPHandler) transfer(ctx context.Context, resume bool) error {
	if err := storage.EnsureParent(h.path); err != nil {
		return fmt.Errorf("%w: create folder: %v", domain.ErrTransientTransfer, err)
	}

	var offset int64
	if resume {
		size, err := storage.FileSize(h.partPath())
		if err != nil {
			return fmt.Errorf("%w: stat partial file: %v", domain.ErrTransientTransfer, err)
		}
		offset = size
	}

	header := http.Header{}
	if offset > 0 {
		header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := h.client.Get(ctx, h.url, header)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientTransfer, err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		flags |= os.O_APPEND
	case resp.StatusCode == http.StatusOK:
		// The server ignored the range, so start over.
		offset = 0
		flags |= os.O_TRUNC
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		// Everything was already on disk.
		h.setTotal(offset)
		h.started()
		return h.complete()
	default:
		return fmt.Errorf("%w: unexpected status %d", domain.ErrTransientTransfer, resp.StatusCode)
	}

	f, err := os.OpenFile(h.partPath(), flags, constants.FilePermissions)
	if err != nil {
		return fmt.Errorf("%w: open partial file: %v", domain.ErrTransientTransfer, err)
	}

	h.setTotal(offset)
	h.started()
	h.log.Debug("Transfer started", "offset", offset, "status", resp.StatusCode)

	copyErr := h.copy(ctx, f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		return copyErr
	}
	if closeErr != nil {
		return fmt.Errorf("%w: close partial file: %v", domain.ErrTransientTransfer, closeErr)
	}

	return h.complete()
}

func (h *HTTPHandler) copy(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("%w: write: %v", domain.ErrTransientTransfer, err)
			}
			h.addBytes(int64(n))
		}
		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("%w: read: %v", domain.ErrTransientTransfer, readErr)
		}
	}
}

func (h *HTTPHandler) complete() error {
	if err := storage.MoveFile(h.partPath(), h.path); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientTransfer, err)
	}
	return nil
}

func (h *HTTPHandler) setTotal(n int64) {
	h.mu.Lock()
	h.total = n
	h.mu.Unlock()
}

func (h *HTTPHandler) addBytes(n int64) {
	h.mu.Lock()
	h.total += n
	notify := !h.playbackHit && h.threshold > 0 && h.total >= h.threshold
	if notify {
		h.playbackHit = true
	}
	d := h.delegate
	h.mu.Unlock()

	if notify && d != nil {
		d.HandlerStartedPlayback(h)
	}
}

func (h *HTTPHandler) started() {
	if d := h.currentDelegate(); d != nil {
		d.HandlerStarted(h)
	}
}

func (h *HTTPHandler) currentDelegate() Delegate {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.delegate
}

// finish clears the running state before the terminal callback so the
// delegate may restart the handler from inside it.
func (h *HTTPHandler) finish(ctx context.Context, err error) {
	h.mu.Lock()
	if ctx.Err() != nil {
		h.mu.Unlock()
		return
	}
	h.downloading = false
	h.cancel = nil
	d := h.delegate
	h.mu.Unlock()

	if err != nil {
		h.log.Warn("Transfer failed", "error", err)
	} else {
		h.log.Debug("Transfer finished", "bytes", h.TotalBytesTransferred())
	}

	if d == nil {
		return
	}
	if err != nil {
		d.HandlerFailed(h, err)
		return
	}
	d.HandlerFinished(h)
}

// HTTPFactory builds HTTPHandlers for songs of the configured servers.
type HTTPFactory struct {
	urls         StreamURLs
	client       *httpclient.Client
	log          *logger.Logger
	cacheDir     string
	pathTemplate string
	threshold    int64
}

// StreamURLs resolves the stream URL for a song.
type StreamURLs interface {
	StreamURL(serverID, songID int64) (string, error)
}

func NewHTTPFactory(urls StreamURLs, client *httpclient.Client, cacheDir, pathTemplate string, threshold int64, log *logger.Logger) *HTTPFactory {
	return &HTTPFactory{
		urls:         urls,
		client:       client,
		log:          log,
		cacheDir:     cacheDir,
		pathTemplate: pathTemplate,
		threshold:    threshold,
	}
}

// NewHandler returns an idle handler writing song under the cache directory.
func (f *HTTPFactory) NewHandler(song *domain.Song) (Handler, error) {
	rel, err := storage.SongPath(f.pathTemplate, song)
	if err != nil {
		return nil, fmt.Errorf("build path for %s: %w", song, err)
	}
	url, err := f.urls.StreamURL(song.ServerID, song.ID)
	if err != nil {
		return nil, err
	}
	path := storage.LocalPath(f.cacheDir, rel)
	return NewHTTPHandler(f.client, song, url, filepath.Clean(path), f.threshold, f.log), nil
}
