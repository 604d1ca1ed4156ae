package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"
)

const (
	defaultLogWidth = 100
	minLogWidth     = 40

	prettySeparator = " "
	prettyIndent    = "    "
	ellipsis        = "…"
)

// prettyHandler renders records as key=value lines for local development.
// Long records wrap onto indented continuation lines sized to the terminal.
type prettyHandler struct {
	w      io.Writer
	opts   slog.HandlerOptions
	attrs  []slog.Attr
	groups []string
	color  bool
	mu     *sync.Mutex
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, useColor bool) slog.Handler {
	h := &prettyHandler{
		w:     w,
		color: useColor,
		mu:    &sync.Mutex{},
	}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	segs := []string{
		paint(ts.Format("15:04:05.000"), h.color, color.Faint),
		levelTag(r.Level, h.color),
		paint(r.Message, h.color, color.Bold),
	}

	if h.opts.AddSource && r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		frame, _ := frames.Next()
		if frame.File != "" {
			segs = append(segs, paint(fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line), h.color, color.Faint))
		}
	}

	for _, a := range h.attrs {
		segs = h.appendAttr(segs, a, "")
	}
	prefix := strings.Join(h.groups, ".")
	r.Attrs(func(a slog.Attr) bool {
		segs = h.appendAttr(segs, a, prefix)
		return true
	})

	lines := wrapSegments(segs, prettySeparator, h.terminalWidth(), prettyIndent)
	out := strings.Join(lines, "\n") + "\n"

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, out)
	return err
}

// WithAttrs nests attrs under the groups open at this point, so later
// WithGroup calls do not rename them.
func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	for i := len(h.groups) - 1; i >= 0; i-- {
		attrs = []slog.Attr{{Key: h.groups[i], Value: slog.GroupValue(attrs...)}}
	}
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

func (h *prettyHandler) appendAttr(segs []string, a slog.Attr, parent string) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return segs
	}

	key := strings.TrimSpace(a.Key)
	if key == "" {
		return segs
	}

	if a.Value.Kind() == slog.KindGroup {
		next := key
		if parent != "" {
			next = parent + "." + key
		}
		for _, ga := range a.Value.Group() {
			segs = h.appendAttr(segs, ga, next)
		}
		return segs
	}

	fullKey := remapPrettyKey(key)
	if parent != "" {
		fullKey = parent + "." + fullKey
	}
	return append(segs, fullKey+"="+h.prettyValue(key, a.Value))
}

func (h *prettyHandler) prettyValue(key string, v slog.Value) string {
	switch key {
	case "method":
		return colorizeHTTPMethod(strings.ToUpper(strings.TrimSpace(v.String())), h.color)
	case "path", "route":
		return paint(strings.TrimSpace(v.String()), h.color, color.FgCyan)
	case "status":
		if n, ok := valueToInt64(v); ok {
			return colorizeStatusCode(int(n), h.color)
		}
	case "status_class", "class":
		return colorizeStatusClass(strings.TrimSpace(v.String()), h.color)
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, h.color)
		}
	case "result":
		return colorizeResult(strings.ToLower(strings.TrimSpace(v.String())), h.color)
	case "err":
		return paint(quoteIfNeeded(valueToString(v)), h.color, color.FgRed)
	}

	return quoteIfNeeded(valueToString(v))
}

// terminalWidth resolves the wrap width: INBOX_LOG_WIDTH, then COLUMNS, then a default.
// Values narrower than minLogWidth are ignored.
func (h *prettyHandler) terminalWidth() int {
	for _, key := range []string{"INBOX_LOG_WIDTH", "COLUMNS"} {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < minLogWidth {
			continue
		}
		return n
	}
	return defaultLogWidth
}

func remapPrettyKey(k string) string {
	switch k {
	case "status_class":
		return "class"
	case "duration_ms":
		return "duration"
	default:
		return k
	}
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		return fmt.Sprint(v.Any())
	}
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

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

// paint applies color attributes regardless of whether stdout is a TTY;
// the caller decides via enabled.
func paint(s string, enabled bool, attrs ...color.Attribute) string {
	if !enabled || len(attrs) == 0 {
		return s
	}
	c := color.New(attrs...)
	c.EnableColor()
	return c.Sprint(s)
}

func levelTag(level slog.Level, enabled bool) string {
	switch {
	case level >= slog.LevelError:
		return paint("[ERROR]", enabled, color.FgRed, color.Bold)
	case level >= slog.LevelWarn:
		return paint("[WARN]", enabled, color.FgYellow)
	case level < slog.LevelInfo:
		return paint("[DEBUG]", enabled, color.FgMagenta)
	default:
		return paint("[INFO]", enabled, color.FgBlue)
	}
}

func colorizeHTTPMethod(method string, enabled bool) string {
	switch method {
	case "GET":
		return paint(method, enabled, color.FgGreen)
	case "POST":
		return paint(method, enabled, color.FgBlue)
	case "DELETE":
		return paint(method, enabled, color.FgRed)
	case "PUT", "PATCH":
		return paint(method, enabled, color.FgYellow)
	default:
		return paint(method, enabled, color.FgWhite)
	}
}

func colorizeStatusCode(code int, enabled bool) string {
	return colorizeStatusClass(statusClass(code), enabled, strconv.Itoa(code))
}

// colorizeStatusClass colors text (or the class itself) by HTTP status class.
func colorizeStatusClass(class string, enabled bool, text ...string) string {
	s := class
	if len(text) > 0 {
		s = text[0]
	}
	switch class {
	case "2xx":
		return paint(s, enabled, color.FgGreen)
	case "3xx":
		return paint(s, enabled, color.FgCyan)
	case "4xx":
		return paint(s, enabled, color.FgYellow)
	case "5xx":
		return paint(s, enabled, color.FgRed, color.Bold)
	default:
		return s
	}
}

func colorizeDurationMS(ms int64, enabled bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return paint(s, enabled, color.FgRed)
	case ms >= 250:
		return paint(s, enabled, color.FgYellow)
	default:
		return paint(s, enabled, color.Faint)
	}
}

func colorizeResult(result string, enabled bool) string {
	switch result {
	case "success":
		return paint(result, enabled, color.FgGreen)
	case "redirect":
		return paint(result, enabled, color.FgCyan)
	case "client_error":
		return paint(result, enabled, color.FgYellow)
	case "server_error":
		return paint(result, enabled, color.FgRed)
	default:
		return result
	}
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// visualLen is the printed width of s in runes, ignoring color escapes.
func visualLen(s string) int {
	return utf8.RuneCountInString(stripANSI(s))
}

// wrapSegments joins segments with sep, starting a new line prefixed by indent
// whenever the next segment would exceed width. A segment that cannot fit on a
// line by itself is truncated with an ellipsis (losing its color).
func wrapSegments(segs []string, sep string, width int, indent string) []string {
	var (
		lines []string
		cur   strings.Builder
		curW  int
	)

	flush := func() {
		if curW > 0 {
			lines = append(lines, cur.String())
		}
		cur.Reset()
		curW = 0
	}

	for _, seg := range segs {
		segW := visualLen(seg)

		if curW > 0 && curW+visualLen(sep)+segW <= width {
			cur.WriteString(sep)
			cur.WriteString(seg)
			curW += visualLen(sep) + segW
			continue
		}

		flush()

		prefix := ""
		if len(lines) > 0 {
			prefix = indent
		}
		room := width - visualLen(prefix)
		if segW > room {
			seg = truncateVisual(seg, room)
			segW = visualLen(seg)
		}
		cur.WriteString(prefix)
		cur.WriteString(seg)
		curW = visualLen(prefix) + segW
	}
	flush()
	return lines
}

func truncateVisual(s string, width int) string {
	plain := []rune(stripANSI(s))
	if width <= 0 {
		return ""
	}
	if len(plain) <= width {
		return string(plain)
	}
	return string(plain[:width-1]) + ellipsis
}
