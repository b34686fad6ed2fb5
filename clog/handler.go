package clog

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ceyewan/fnportal/xerrors"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// handler 在 slog 的 JSON/Text handler 外加上可调级别和文件句柄
type handler struct {
	slog.Handler
	level *slog.LevelVar
	file  *os.File
}

func newHandler(cfg *Config, o *options) (*handler, error) {
	var buf io.Writer
	if o.buffer != nil {
		buf = o.buffer
	}
	w, file, err := openOutput(cfg.Output, buf)
	if err != nil {
		return nil, err
	}

	lvl, _ := ParseLevel(cfg.Level)
	h := &handler{level: new(slog.LevelVar), file: file}
	h.level.Set(slog.Level(lvl))

	ho := &slog.HandlerOptions{
		AddSource: cfg.AddSource,
		Level:     h.level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			return rewriteAttr(a, cfg.SourceRoot)
		},
	}
	if strings.EqualFold(cfg.Format, "json") {
		h.Handler = slog.NewJSONHandler(w, ho)
	} else {
		h.Handler = slog.NewTextHandler(w, ho)
	}
	return h, nil
}

// openOutput "buffer" 仅供测试，需要同时提供 buf
func openOutput(output string, buf io.Writer) (io.Writer, *os.File, error) {
	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	case "buffer":
		if buf == nil {
			return nil, nil, xerrors.Invalidf("log output buffer without a buffer")
		}
		return buf, nil, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, xerrors.Wrapf(err, "open log file %s", output)
	}
	return f, f, nil
}

// rewriteAttr 级别输出为大写名，时间精确到毫秒，source 改写为 caller=file:line
func rewriteAttr(a slog.Attr, sourceRoot string) slog.Attr {
	switch a.Key {
	case slog.LevelKey:
		if l, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(label(l))
		}
	case slog.TimeKey:
		if a.Value.Kind() == slog.KindTime {
			a.Value = slog.StringValue(a.Value.Time().Format(timeFormat))
		}
	case slog.SourceKey:
		if src, ok := a.Value.Any().(*slog.Source); ok {
			return slog.String("caller", trimSourcePath(src.File, sourceRoot)+":"+strconv.Itoa(src.Line))
		}
	}
	return a
}

func trimSourcePath(file, root string) string {
	if root != "" {
		if rel, err := filepath.Rel(root, file); err == nil && !strings.HasPrefix(rel, "..") {
			return rel
		}
	}
	if i := strings.Index(file, "fnportal"); i >= 0 {
		return file[i:]
	}
	return file
}
