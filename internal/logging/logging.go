// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package logging builds the slog logger used across iwantit. Logs always
// go to stderr so stdout carries only the pipeline document.
package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/pdiddy/iwantit/pkg/types"
)

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	Writer io.Writer

	// Color renders console level labels in color.
	Color bool
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	w := opts.Writer
	if w == nil {
		w = io.Discard
	}
	addSource := level <= slog.LevelDebug

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "json":
		return slog.New(newJSONHandler(w, level, addSource)), nil
	case "console", "":
		return slog.New(&consoleHandler{
			mu:        &sync.Mutex{},
			writer:    w,
			level:     level,
			addSource: addSource,
			color:     opts.Color,
		}), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

// NewFromConfig creates a logger from the logging section. A non-empty
// level overrides the configured one.
func NewFromConfig(cfg types.LoggingConfig, w io.Writer, level string, useColor bool) (*slog.Logger, error) {
	if level == "" {
		level = cfg.Level
	}
	return New(Options{Level: level, Format: cfg.Format, Writer: w, Color: useColor})
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log level: unsupported value %q", level)
	}
}

func newJSONHandler(w io.Writer, level slog.Level, addSource bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: addSource,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				attr.Key = "ts"
				if attr.Value.Kind() == slog.KindTime {
					attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339))
				}
			case slog.LevelKey:
				attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
			case slog.SourceKey:
				if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
					attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
				}
			}
			return attr
		},
	})
}

// consoleHandler writes one line per record:
//
//	2026-01-02T15:04:05Z INFO step: running step kind=builtin
//
// A "step" attribute is lifted in front of the message.
type consoleHandler struct {
	mu        *sync.Mutex
	writer    io.Writer
	level     slog.Level
	attrs     []slog.Attr
	groups    []string
	addSource bool
	color     bool
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var kvs []kv
	for _, a := range h.attrs {
		flatten(&kvs, h.groups, a)
	}
	record.Attrs(func(a slog.Attr) bool {
		flatten(&kvs, h.groups, a)
		return true
	})

	var step string
	rest := kvs[:0]
	for _, p := range kvs {
		if p.key == "step" && step == "" {
			step = p.value.String()
			continue
		}
		rest = append(rest, p)
	}

	var buf bytes.Buffer
	buf.WriteString(ts.UTC().Format(time.RFC3339))
	buf.WriteByte(' ')
	buf.WriteString(h.label(record.Level))
	buf.WriteByte(' ')
	if step != "" {
		buf.WriteString(step)
		buf.WriteString(": ")
	}
	buf.WriteString(strings.TrimSpace(record.Message))
	if h.addSource {
		if src := record.Source(); src != nil {
			fmt.Fprintf(&buf, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	for _, p := range rest {
		buf.WriteByte(' ')
		buf.WriteString(p.key)
		buf.WriteByte('=')
		buf.WriteString(formatValue(p.value))
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write(buf.Bytes())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &c
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.groups = append(append([]string(nil), h.groups...), name)
	return &c
}

var levelColors = map[string]*color.Color{
	"DEBUG": color.New(color.FgHiBlack),
	"INFO":  color.New(color.FgCyan),
	"WARN":  color.New(color.FgYellow),
	"ERROR": color.New(color.FgRed, color.Bold),
}

func (h *consoleHandler) label(level slog.Level) string {
	var s string
	switch {
	case level >= slog.LevelError:
		s = "ERROR"
	case level >= slog.LevelWarn:
		s = "WARN"
	case level >= slog.LevelInfo:
		s = "INFO"
	default:
		s = "DEBUG"
	}
	if !h.color {
		return s
	}
	c := *levelColors[s]
	c.EnableColor()
	return c.Sprint(s)
}

type kv struct {
	key   string
	value slog.Value
}

func flatten(dst *[]kv, prefix []string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		next := prefix
		if a.Key != "" {
			next = append(append([]string(nil), prefix...), a.Key)
		}
		for _, g := range a.Value.Group() {
			flatten(dst, next, g)
		}
		return
	}
	key := a.Key
	if len(prefix) > 0 {
		key = strings.Join(append(append([]string(nil), prefix...), key), ".")
	}
	*dst = append(*dst, kv{key: key, value: a.Value})
}

func formatValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindString:
		s = v.String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			s = err.Error()
		} else {
			s = fmt.Sprint(v.Any())
		}
	default:
		s = v.String()
	}
	if needsQuotes(s) {
		return strconv.Quote(s)
	}
	return s
}

func needsQuotes(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		if r <= ' ' || r == '=' || r == '"' {
			return true
		}
	}
	return false
}
