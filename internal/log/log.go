// Package log keeps recent log records in memory for the monitor and forwards
// them to a running tea.Program.
package log

import (
	"context"
	"log/slog"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// DefaultCapacity is the number of records kept by Init.
const DefaultCapacity = 50

// RecordMsg is a tea.Msg carrying a log record.
type RecordMsg slog.Record

// recorder is the state shared by a Handler and its derived handlers.
type recorder struct {
	mu       sync.Mutex
	capacity int
	records  []slog.Record
	ch       chan<- tea.Msg
}

func (r *recorder) add(rec slog.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, rec)
	if len(r.records) > r.capacity {
		r.records = r.records[len(r.records)-r.capacity:]
	}
	if r.ch != nil {
		// Drop the message rather than stall the caller on a slow UI.
		select {
		case r.ch <- RecordMsg(rec):
		default:
		}
	}
}

// Handler is a slog.Handler that remembers the last records it handled
// before passing them to the wrapped handler.
type Handler struct {
	slog.Handler
	rec *recorder
}

// NewHandler wraps handler and keeps up to capacity records.
func NewHandler(handler slog.Handler, capacity int) *Handler {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Handler{
		Handler: handler,
		rec:     &recorder{capacity: capacity},
	}
}

// Handle records r and passes it on.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	h.rec.add(r.Clone())
	return h.Handler.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{Handler: h.Handler.WithAttrs(attrs), rec: h.rec}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{Handler: h.Handler.WithGroup(name), rec: h.rec}
}

// Records returns a copy of the stored records, oldest first.
func (h *Handler) Records() []slog.Record {
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	return append([]slog.Record(nil), h.rec.records...)
}

// SetOutput sets the channel new records are sent to. A nil channel stops
// forwarding.
func (h *Handler) SetOutput(ch chan<- tea.Msg) {
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	h.rec.ch = ch
}

var defaultHandler *Handler

// Init installs a recording handler over handler as the slog default.
func Init(handler slog.Handler) *Handler {
	defaultHandler = NewHandler(handler, DefaultCapacity)
	slog.SetDefault(slog.New(defaultHandler))
	return defaultHandler
}

// SetOutput sets the output channel for the default handler.
func SetOutput(ch chan<- tea.Msg) {
	if defaultHandler != nil {
		defaultHandler.SetOutput(ch)
	}
}

// Records returns the records kept by the default handler.
func Records() []slog.Record {
	if defaultHandler == nil {
		return nil
	}
	return defaultHandler.Records()
}
