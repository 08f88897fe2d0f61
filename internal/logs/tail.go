package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// PollInterval is how often Follow checks the file for new lines.
const PollInterval = 250 * time.Millisecond

const maxLineBytes = 1024 * 1024

// Filter selects log lines. The zero value matches everything.
type Filter struct {
	// RunID matches a full run id or any prefix of one.
	RunID string
}

// Match reports whether line belongs to the filtered run.
func (f Filter) Match(line string) bool {
	id := strings.TrimSpace(f.RunID)
	if id == "" {
		return true
	}
	if strings.Contains(line, `"run_id":"`+id) {
		return true
	}
	// Console lines carry an 8 character "[run xxxxxxxx]" tag.
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return strings.Contains(line, "[run "+short)
}

// TailOptions controls Tail.
type TailOptions struct {
	Limit  int
	Filter Filter
}

// TailResult holds matching lines and the file offset after the last byte read.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail returns the last opts.Limit lines of path accepted by opts.Filter.
// A missing file yields an empty result.
func Tail(path string, opts TailOptions) (TailResult, error) {
	file, err := open(path)
	if err != nil || file == nil {
		return TailResult{}, err
	}
	defer file.Close()

	limit := opts.Limit
	if limit <= 0 {
		offset, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return TailResult{}, fmt.Errorf("seek log file: %w", err)
		}
		return TailResult{Offset: offset}, nil
	}

	ring := make([]string, limit)
	count, next := 0, 0
	offset, err := scan(file, func(line string) {
		if !opts.Filter.Match(line) {
			return
		}
		ring[next] = line
		next = (next + 1) % limit
		if count < limit {
			count++
		}
	})
	if err != nil {
		return TailResult{}, err
	}

	lines := make([]string, count)
	if count == limit {
		for i := range count {
			lines[i] = ring[(next+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return TailResult{Lines: lines, Offset: offset}, nil
}

// Follow emits lines appended to path after offset until ctx ends. A file
// truncated below offset is read again from the start.
func Follow(ctx context.Context, path string, offset int64, filter Filter, emit func(string)) error {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		next, err := readFrom(path, offset, func(line string) {
			if filter.Match(line) {
				emit(line)
			}
		})
		if err != nil {
			return err
		}
		offset = next

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func readFrom(path string, offset int64, fn func(string)) (int64, error) {
	file, err := open(path)
	if err != nil || file == nil {
		return 0, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, fmt.Errorf("stat log file: %w", err)
	}
	if offset < 0 || offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}
	return scan(file, fn)
}

// scan feeds complete lines to fn and returns the offset just past the last
// newline, so a partially written line is read again on the next poll.
func scan(file *os.File, fn func(string)) (int64, error) {
	start, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("determine log offset: %w", err)
	}
	reader := bufio.NewReaderSize(file, 64*1024)
	consumed := start
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			return consumed, nil
		}
		if err != nil {
			return consumed, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(line))
		if len(line) > maxLineBytes {
			line = line[:maxLineBytes]
		}
		fn(strings.TrimRight(line, "\r\n"))
	}
}

func open(path string) (*os.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("log path %q is a directory", path)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}
