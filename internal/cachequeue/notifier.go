package cachequeue

import (
	"sync"
	"time"

	"github.com/cesargomez89/navicache/internal/logger"
)

// Notifier surfaces problems to the user.
type Notifier interface {
	Alert(err error)
	Notice(msg string)
}

// Notification is one recorded alert or notice.
type Notification struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// LogNotifier logs notifications and keeps the most recent ones for the API.
type LogNotifier struct {
	log    *logger.Logger
	recent []Notification
	limit  int
	mu     sync.Mutex
}

func NewLogNotifier(log *logger.Logger, limit int) *LogNotifier {
	if log == nil {
		log = logger.Default()
	}
	return &LogNotifier{log: log.WithComponent("notifier"), limit: limit}
}

func (n *LogNotifier) Alert(err error) {
	n.log.Error("Cache queue alert", "error", err)
	n.record("alert", err.Error())
}

func (n *LogNotifier) Notice(msg string) {
	n.log.Warn(msg)
	n.record("notice", msg)
}

// Recent returns recorded notifications, newest last.
func (n *LogNotifier) Recent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.recent))
	copy(out, n.recent)
	return out
}

func (n *LogNotifier) record(level, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recent = append(n.recent, Notification{Time: time.Now().UTC(), Level: level, Message: msg})
	if n.limit > 0 && len(n.recent) > n.limit {
		n.recent = n.recent[len(n.recent)-n.limit:]
	}
}
