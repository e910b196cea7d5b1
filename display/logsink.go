package display

import (
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/zsiec/framecast/media"
)

// LogSink presents frames by logging them. It stands in for a window on
// headless hosts.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a LogSink. If log is nil, slog.Default() is used.
func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log.With("component", "log-sink")}
}

func (s *LogSink) Present(f *media.Frame) error {
	s.log.Info("frame",
		"source", f.Source,
		"seq", f.Seq,
		"width", f.Width,
		"height", f.Height,
		"raw", humanize.Bytes(uint64(len(f.Pix))))
	return nil
}

func (s *LogSink) Close() error {
	return nil
}
