// Package engine implements the migration core: mapping resolution,
// record transforms, reference resolution, operation filtering and queue
// construction.
package engine

import "github.com/recmig/recmig/pkg/logger"

// UpdateKind distinguishes progress messages emitted during a run.
type UpdateKind string

const (
	UpdateLog      UpdateKind = "log"
	UpdateWarn     UpdateKind = "warn"
	UpdateStatus   UpdateKind = "status"
	UpdateProgress UpdateKind = "progress"
)

// Update is one progress message from a running transform or execution.
type Update struct {
	Kind    UpdateKind
	Message string
	Current int
	Total   int
}

// Reporter delivers progress updates without ever blocking the sender. A
// nil Reporter discards everything; a full channel drops the update.
type Reporter struct {
	ch chan<- Update
}

// NewReporter wraps a channel. The caller owns the channel and drains it.
func NewReporter(ch chan<- Update) *Reporter {
	return &Reporter{ch: ch}
}

func (r *Reporter) send(u Update) {
	if r == nil || r.ch == nil {
		return
	}
	select {
	case r.ch <- u:
	default:
	}
}

func (r *Reporter) Log(msg string)    { r.send(Update{Kind: UpdateLog, Message: msg}) }
func (r *Reporter) Warn(msg string)   { r.send(Update{Kind: UpdateWarn, Message: msg}) }
func (r *Reporter) Status(msg string) { r.send(Update{Kind: UpdateStatus, Message: msg}) }

func (r *Reporter) Progress(current, total int) {
	r.send(Update{Kind: UpdateProgress, Current: current, Total: total})
}

// Drain consumes updates from a channel and forwards them to the logger.
// Run in its own goroutine; returns when the channel closes.
func Drain(ch <-chan Update) {
	for u := range ch {
		switch u.Kind {
		case UpdateWarn:
			logger.Warn("%s", u.Message)
		case UpdateProgress:
			logger.Info("progress %d/%d", u.Current, u.Total)
		default:
			logger.Info("%s", u.Message)
		}
	}
}
