package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// prettyHandler is the console slog handler: one key=value line per record,
// colored and wrapped when writing to a terminal.
type prettyHandler struct {
	w      io.Writer
	opts   slog.HandlerOptions
	attrs  []slog.Attr
	groups []string
	color  bool
	mu     *sync.Mutex
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{w: w, color: color, mu: &sync.Mutex{}}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.opts.Level == nil {
		return level >= slog.LevelInfo
	}
	return level >= h.opts.Level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	segs := make([]string, 0, 4+len(h.attrs)+r.NumAttrs())
	segs = append(segs,
		paint(ts.Format("15:04:05.000"), ansiDim, h.color),
		h.levelTag(r.Level),
		paint(r.Message, ansiBright, h.color),
	)
	for _, a := range h.attrs {
		segs = h.appendAttr(segs, a, "")
	}
	r.Attrs(func(a slog.Attr) bool {
		segs = h.appendAttr(segs, a, "")
		return true
	})
	if src := h.source(r.PC); src != "" {
		segs = append(segs, paint("src="+src, ansiDim, h.color))
	}

	line := strings.Join(segs, " ")
	if h.color {
		line = strings.Join(wrapSegments(segs, " ", h.terminalWidth(), "    "), "\n")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line+"\n")
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if strings.TrimSpace(name) == "" {
		return h
	}
	cp := *h
	cp.groups = append(append([]string{}, h.groups...), name)
	return &cp
}

func (h *prettyHandler) source(pc uintptr) string {
	if !h.opts.AddSource || pc == 0 {
		return ""
	}
	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	if frame.File == "" {
		return ""
	}
	return filepath.Base(frame.File) + ":" + strconv.Itoa(frame.Line)
}

func (h *prettyHandler) appendAttr(segs []string, a slog.Attr, parent string) []string {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)

	if a.Value.Kind() == slog.KindGroup {
		prefix := parent
		if key != "" {
			prefix = joinKey(parent, key)
		}
		for _, ga := range a.Value.Group() {
			segs = h.appendAttr(segs, ga, prefix)
		}
		return segs
	}
	if key == "" {
		return segs
	}

	full := joinKey(parent, key)
	if len(h.groups) > 0 {
		full = strings.Join(h.groups, ".") + "." + full
	}
	return append(segs, shortKey(full)+"="+h.prettyValue(full, a.Value))
}

func joinKey(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

// prettyValue colors the keys the gateway and HTTP middleware log most.
func (h *prettyHandler) prettyValue(key string, v slog.Value) string {
	switch key {
	case "method":
		return colorizeHTTPMethod(strings.ToUpper(strings.TrimSpace(v.String())), h.color)
	case "path", "endpoint":
		return paint(strings.TrimSpace(v.String()), ansiCyan, h.color)
	case "status":
		if n, ok := valueToInt64(v); ok {
			return colorizeStatusCode(int(n), h.color)
		}
	case "status_class":
		return colorizeStatusClass(strings.TrimSpace(v.String()), h.color)
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, h.color)
		}
	case "result":
		return colorizeResult(strings.ToLower(strings.TrimSpace(v.String())), h.color)
	case "namespace":
		return paint(v.String(), ansiMagenta, h.color)
	case "code":
		return paint(quoteIfNeeded(v.String()), ansiYellow, h.color)
	case "err":
		return paint(quoteIfNeeded(valueToString(v)), ansiRed, h.color)
	case "session_id":
		return paint(v.String(), ansiDim, h.color)
	}
	return quoteIfNeeded(valueToString(v))
}

func shortKey(k string) string {
	switch k {
	case "status_class":
		return "class"
	case "duration_ms":
		return "duration"
	case "session_id":
		return "sid"
	default:
		return k
	}
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		// Int64, Uint64, Float64, Bool and Duration format themselves.
		return v.String()
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

var levelColors = map[slog.Level]string{
	slog.LevelDebug: ansiMagenta,
	slog.LevelInfo:  ansiBlue,
	slog.LevelWarn:  ansiYellow,
	slog.LevelError: ansiRed,
}

func (h *prettyHandler) levelTag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		level = slog.LevelError
	case level >= slog.LevelWarn:
		level = slog.LevelWarn
	case level >= slog.LevelInfo:
		level = slog.LevelInfo
	default:
		level = slog.LevelDebug
	}
	return paint(fmt.Sprintf("%-5s", level.String()), levelColors[level], h.color)
}
