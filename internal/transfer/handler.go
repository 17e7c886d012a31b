// Package transfer moves one song from the server to disk.
package transfer

import "github.com/cesargomez89/navicache/internal/domain"

// Handler is a single song transfer. Start may be called again with resume
// set to continue from the bytes already on disk.
type Handler interface {
	Start(resume bool)
	Cancel()
	TotalBytesTransferred() int64
	FilePath() string
	NumberOfReconnects() int
	SetNumberOfReconnects(n int)
	IsDownloading() bool
	Song() *domain.Song
	SetDelegate(d Delegate)
}

// Delegate receives a handler's lifecycle callbacks. Callbacks may arrive on
// any goroutine, including synchronously from Start.
type Delegate interface {
	HandlerStarted(h Handler)
	HandlerStartedPlayback(h Handler)
	HandlerFinished(h Handler)
	HandlerFailed(h Handler, err error)
}

// Factory creates cache mode handlers.
type Factory interface {
	NewHandler(song *domain.Song) (Handler, error)
}
