package supervisor

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// ProgressLogName is the raw output log inside a result directory.
const ProgressLogName = "progress.log"

// progressTracker keeps percentages within one run non-decreasing.
type progressTracker struct {
	last float64
}

func newProgressTracker(start float64) *progressTracker {
	return &progressTracker{last: start}
}

// observe rounds p to one decimal, clamps it to [0,100] and reports
// whether it advances the run.
func (t *progressTracker) observe(p float64) (float64, bool) {
	p = math.Round(p*10) / 10
	p = math.Max(0, math.Min(100, p))
	if p <= t.last {
		return t.last, false
	}
	t.last = p
	return p, true
}

// lineSplitter reassembles lines from chunks that may split them.
// Both \n and \r end a line, since engines redraw progress with \r.
type lineSplitter struct {
	partial []byte
}

func (s *lineSplitter) feed(data []byte) []string {
	var lines []string
	for len(data) > 0 {
		i := bytes.IndexAny(data, "\r\n")
		if i < 0 {
			s.partial = append(s.partial, data...)
			break
		}
		line := append(s.partial, data[:i]...)
		s.partial = nil
		if len(line) > 0 {
			lines = append(lines, string(line))
		}
		data = data[i+1:]
	}
	return lines
}

func (s *lineSplitter) flush() []string {
	if len(s.partial) == 0 {
		return nil
	}
	line := string(s.partial)
	s.partial = nil
	return []string{line}
}

// progressLog appends raw engine output and syncs after every chunk.
type progressLog struct {
	f *os.File
}

func openProgressLog(dir string) (*progressLog, error) {
	f, err := os.OpenFile(filepath.Join(dir, ProgressLogName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &progressLog{f: f}, nil
}

func (l *progressLog) write(data []byte) error {
	if _, err := l.f.Write(data); err != nil {
		return fmt.Errorf("append %s: %w", ProgressLogName, err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", ProgressLogName, err)
	}
	return nil
}

func (l *progressLog) Close() error {
	return l.f.Close()
}
