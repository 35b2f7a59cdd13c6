package telemetry

import (
	"context"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
)

// DBHandler is a slog.Handler that writes records to the logs table. Records
// are queued and written by a single goroutine; when the queue is full the
// record is dropped and counted. Handle never blocks and never fails.
type DBHandler struct {
	sink   *dbSink
	level  slog.Leveler
	name   string
	prefix string
	attrs  []slog.Attr
}

type dbSink struct {
	repo  store.LogRepository
	queue chan store.LogEntry
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped atomic.Int64
	failed  atomic.Int64
}

// NewDBHandler starts the writer goroutine. name is stored as the logger
// name of every record; buffer bounds the queue.
func NewDBHandler(repo store.LogRepository, name string, level slog.Leveler, buffer int) *DBHandler {
	if buffer <= 0 {
		buffer = 1
	}
	s := &dbSink{
		repo:  repo,
		queue: make(chan store.LogEntry, buffer),
		done:  make(chan struct{}),
	}
	go s.run()
	return &DBHandler{sink: s, level: level, name: name}
}

func (s *dbSink) run() {
	defer close(s.done)
	for e := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.repo.Write(ctx, &e); err != nil {
			// Logging here would feed the failure back into this sink.
			s.failed.Add(1)
		}
		cancel()
	}
}

func (h *DBHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *DBHandler) Handle(_ context.Context, r slog.Record) error {
	e := store.LogEntry{
		Timestamp:  r.Time.UTC().Truncate(time.Microsecond),
		Level:      r.Level.String(),
		LoggerName: h.name,
		Message:    h.message(r),
	}
	if r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := frames.Next()
		if f.Function != "" {
			module, fn := splitFunction(f.Function)
			e.Module, e.Function = &module, &fn
			line := f.Line
			e.LineNumber = &line
		}
	}

	s := h.sink
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return nil
	}
	select {
	case s.queue <- e:
	default:
		s.dropped.Add(1)
	}
	return nil
}

func (h *DBHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	c.attrs = append(c.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		c.attrs = append(c.attrs, a)
	}
	return &c
}

func (h *DBHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}

// Dropped returns how many records were discarded because the queue was
// full or the handler closed.
func (h *DBHandler) Dropped() int64 { return h.sink.dropped.Load() }

// Failed returns how many queued records could not be written.
func (h *DBHandler) Failed() int64 { return h.sink.failed.Load() }

// Observe exports the dropped and failed counts on mp.
func (h *DBHandler) Observe(mp metric.MeterProvider) error {
	meter := mp.Meter("github.com/jensholdgaard/discord-scrim-bot/internal/telemetry")
	dropped, err := meter.Int64ObservableCounter("scrimbot.logs.dropped",
		metric.WithDescription("Log records discarded by the database sink"),
	)
	if err != nil {
		return err
	}
	failed, err := meter.Int64ObservableCounter("scrimbot.logs.failed",
		metric.WithDescription("Log records the database sink failed to write"),
	)
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(dropped, h.Dropped())
		o.ObserveInt64(failed, h.Failed())
		return nil
	}, dropped, failed)
	return err
}

// Close stops accepting records and waits for queued ones to be written or
// for ctx to end.
func (h *DBHandler) Close(ctx context.Context) error {
	s := h.sink
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *DBHandler) message(r slog.Record) string {
	var b strings.Builder
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		appendAttr(&b, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, h.prefix, a)
		return true
	})
	return b.String()
}

func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, g := range a.Value.Group() {
			appendAttr(b, p, g)
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(prefix)
	b.WriteString(a.Key)
	b.WriteByte('=')
	v := a.Value.String()
	if strings.ContainsAny(v, " \t\n\"=") {
		v = `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	b.WriteString(v)
}

// splitFunction turns "example.com/pkg/sub.(*T).Method" into
// ("example.com/pkg/sub", "(*T).Method").
func splitFunction(full string) (string, string) {
	slash := strings.LastIndex(full, "/")
	dot := strings.Index(full[slash+1:], ".")
	if dot < 0 {
		return full, ""
	}
	i := slash + 1 + dot
	return full[:i], full[i+1:]
}
