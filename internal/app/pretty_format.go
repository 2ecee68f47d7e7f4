package app

import (
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

const (
	defaultLogWidth = 100
	minLogWidth     = 40
	ellipsis        = "…"
)

var ansiRE = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string { return ansiRE.ReplaceAllString(s, "") }

// visualLen counts printable runes.
func visualLen(s string) int { return utf8.RuneCountInString(stripANSI(s)) }

// terminalWidth prefers BKRT_LOG_WIDTH, then COLUMNS. Values below minLogWidth
// are ignored.
func (h *prettyHandler) terminalWidth() int {
	for _, key := range []string{"BKRT_LOG_WIDTH", "COLUMNS"} {
		if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil && n >= minLogWidth {
			return n
		}
	}
	return defaultLogWidth
}

// wrapSegments packs segments into lines of at most width visible runes.
// Continuation lines start with indent; a segment wider than a line is cut.
func wrapSegments(segs []string, sep string, width int, indent string) []string {
	var lines []string
	var cur strings.Builder
	curLen := 0

	for _, seg := range segs {
		prefixLen := 0
		if len(lines) > 0 || cur.Len() > 0 {
			prefixLen = visualLen(indent)
		}
		if limit := width - prefixLen; visualLen(seg) > limit {
			seg = truncateVisual(seg, limit)
		}

		segLen := visualLen(seg)
		switch {
		case cur.Len() == 0:
			if len(lines) > 0 {
				cur.WriteString(indent)
				curLen = visualLen(indent)
			}
		case curLen+visualLen(sep)+segLen <= width:
			cur.WriteString(sep)
			curLen += visualLen(sep)
		default:
			lines = append(lines, cur.String())
			cur.Reset()
			cur.WriteString(indent)
			curLen = visualLen(indent)
		}
		cur.WriteString(seg)
		curLen += segLen
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}

func truncateVisual(s string, limit int) string {
	plain := []rune(stripANSI(s))
	if len(plain) <= limit {
		return s
	}
	if limit <= 1 {
		return ellipsis
	}
	return string(plain[:limit-1]) + ellipsis
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func paint(s, color string, on bool) string {
	if !on || color == "" {
		return s
	}
	return color + s + ansiReset
}

func colorizeHTTPMethod(m string, on bool) string {
	switch m {
	case "GET":
		return paint(m, ansiGreen, on)
	case "POST":
		return paint(m, ansiYellow, on)
	case "DELETE":
		return paint(m, ansiRed, on)
	default:
		return paint(m, ansiCyan, on)
	}
}

func colorizeStatusCode(code int, on bool) string {
	return paint(strconv.Itoa(code), statusColor(code), on)
}

func colorizeStatusClass(class string, on bool) string {
	if len(class) == 0 {
		return class
	}
	return paint(class, statusColor(int(class[0]-'0')*100), on)
}

func statusColor(code int) string {
	switch {
	case code >= 500:
		return ansiRed
	case code >= 400:
		return ansiYellow
	case code >= 300:
		return ansiCyan
	default:
		return ansiGreen
	}
}

func colorizeDurationMS(ms int64, on bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return paint(s, ansiRed, on)
	case ms >= 250:
		return paint(s, ansiYellow, on)
	default:
		return paint(s, ansiDim, on)
	}
}

func colorizeResult(result string, on bool) string {
	switch result {
	case "success":
		return paint(result, ansiGreen, on)
	case "redirect":
		return paint(result, ansiCyan, on)
	case "client_error":
		return paint(result, ansiYellow, on)
	case "server_error":
		return paint(result, ansiRed, on)
	default:
		return result
	}
}
