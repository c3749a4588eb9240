package log

import (
	"context"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

const redacted = "[REDACTED]"

// sink is shared by a logger and all loggers derived from it.
type sink struct {
	level     atomic.Int32
	formatter Formatter
	redact    map[string]bool
	sample    *sampler

	mu      sync.Mutex
	outputs []Output
}

func newSink(o options) *sink {
	s := &sink{formatter: o.formatter, outputs: o.outputs}
	s.level.Store(int32(o.level))
	if len(o.redact) > 0 {
		s.redact = make(map[string]bool, len(o.redact))
		for _, k := range o.redact {
			s.redact[k] = true
		}
	}
	if o.thereafter > 0 {
		s.sample = newSampler(o.initial, o.thereafter)
	}
	return s
}

func (s *sink) write(e *Entry) error {
	b, err := s.formatter.Format(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, out := range s.outputs {
		_ = out.Write(e, b)
	}
	return nil
}

func (s *sink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, out := range s.outputs {
		_ = out.Close()
	}
}

// handler is the slog.Handler behind every Logger. Libraries that take a
// *slog.Logger get Logger.Slog() and share the same outputs.
type handler struct {
	sink   *sink
	attrs  []slog.Attr
	prefix string
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return levelOf(level) >= Level(h.sink.level.Load())
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	if h.sink.sample != nil && !h.sink.sample.keep(r.Level, r.Message) {
		return nil
	}
	e := &Entry{
		Level:     levelOf(r.Level),
		Message:   r.Message,
		Fields:    make(Fields, len(h.attrs)+r.NumAttrs()),
		Timestamp: r.Time,
	}
	for _, a := range h.attrs {
		h.put(e, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.put(e, h.prefix, a)
		return true
	})
	if r.PC != 0 {
		f, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if f.File != "" {
			e.Caller = f.File + ":" + strconv.Itoa(f.Line)
		}
	}
	return h.sink.write(e)
}

func (h *handler) put(e *Entry, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := prefix + a.Key
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			h.put(e, key+".", ga)
		}
		return
	}
	if h.sink.redact[a.Key] {
		e.Fields[key] = redacted
		return
	}
	v := a.Value.Any()
	if err, ok := v.(error); ok {
		if a.Key == errorKey {
			e.Error = err
		}
		v = err.Error()
	}
	e.Fields[key] = v
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	nh := *h
	nh.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	nh.attrs = append(nh.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		nh.attrs = append(nh.attrs, a)
	}
	return &nh
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.prefix = h.prefix + name + "."
	return &nh
}

// sampler counts entries per level and message.
type sampler struct {
	initial    uint64
	thereafter uint64

	mu   sync.Mutex
	seen map[sampleKey]uint64
}

type sampleKey struct {
	level slog.Level
	msg   string
}

func newSampler(initial, thereafter int) *sampler {
	return &sampler{
		initial:    uint64(max(initial, 0)),
		thereafter: uint64(thereafter),
		seen:       make(map[sampleKey]uint64),
	}
}

func (s *sampler) keep(level slog.Level, msg string) bool {
	k := sampleKey{level, msg}
	s.mu.Lock()
	n := s.seen[k]
	s.seen[k] = n + 1
	s.mu.Unlock()
	return n < s.initial || (n-s.initial)%s.thereafter == 0
}
