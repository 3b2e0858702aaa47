package kfmt

import (
	"bytes"
	"io"
)

// PrefixWriter wraps an io.Writer and emits Prefix at the start of every
// line. A nil Sink selects the early ring buffer.
type PrefixWriter struct {
	Sink   io.Writer
	Prefix []byte

	midLine bool
}

// Write forwards p to the sink, inserting the prefix in front of each line.
// The prefix is emitted lazily so a trailing newline does not leave a
// dangling prefix behind. The returned count excludes prefix bytes.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var (
		sink    = w.sink()
		written int
	)

	for len(p) > 0 {
		if !w.midLine {
			if _, err := sink.Write(w.Prefix); err != nil {
				return written, err
			}
			w.midLine = true
		}

		end := len(p)
		if nl := bytes.IndexByte(p, '\n'); nl != -1 {
			end = nl + 1
		}

		n, err := sink.Write(p[:end])
		written += n
		if err != nil {
			return written, err
		}

		if p[end-1] == '\n' {
			w.midLine = false
		}
		p = p[end:]
	}

	return written, nil
}

func (w *PrefixWriter) sink() io.Writer {
	if w.Sink == nil {
		return &earlyPrintBuffer
	}
	return w.Sink
}
