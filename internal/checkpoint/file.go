// Package checkpoint provides durable stores for the set of completed crawl segments.
package checkpoint

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-warehouse/internal/crawler"
)

// FileLog is an append-only text log with one completed segment per line.
// Each append is fsynced before MarkComplete returns.
type FileLog struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewFileLog returns a log stored at path. The file is created on first append.
func NewFileLog(path string, logger *zap.Logger) (*FileLog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("checkpoint path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileLog{path: path, logger: logger}, nil
}

// Path returns the location of the log file.
func (l *FileLog) Path() string {
	return l.path
}

// Completed reads the whole log. A missing file is an empty set. Blank lines
// and an unterminated trailing line are ignored.
func (l *FileLog) Completed(ctx context.Context) (crawler.SegmentSet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	set := crawler.SegmentSet{}
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return set, nil
		}
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			l.logger.Warn("close checkpoint", zap.Error(cerr))
		}
	}()

	reader := bufio.NewReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			if strings.TrimSpace(line) != "" {
				l.logger.Warn("ignoring partial checkpoint line", zap.String("line", line))
			}
			return set, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read checkpoint: %w", err)
		}
		if id := strings.TrimSpace(line); id != "" {
			set.Add(crawler.Segment(id))
		}
	}
}

// MarkComplete appends segment and fsyncs the file. If the file ends in a
// partial line, a newline is written first so the new entry stays intact.
func (l *FileLog) MarkComplete(_ context.Context, segment crawler.Segment) error {
	id := strings.TrimSpace(string(segment))
	if id == "" || strings.ContainsAny(id, "\r\n") {
		return fmt.Errorf("invalid segment id %q", segment)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("open checkpoint: %w", err)
	}

	entry := id + "\n"
	partial, err := endsWithPartialLine(f)
	if err != nil {
		_ = f.Close()
		return err
	}
	if partial {
		entry = "\n" + entry
	}
	if _, err := f.WriteString(entry); err != nil {
		_ = f.Close()
		return fmt.Errorf("append checkpoint: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	return nil
}

func endsWithPartialLine(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat checkpoint: %w", err)
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, fmt.Errorf("read checkpoint tail: %w", err)
	}
	return last[0] != '\n', nil
}
