package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// TailOptions controls how much of the log file Tail returns. A negative
// Offset means "the last Limit lines"; otherwise reading starts at Offset.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
}

// TailResult carries the returned lines and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

const (
	scanBufferSize = 1024 * 1024
	pollInterval   = 250 * time.Millisecond
)

// Tail reads lines from the daemon log at path. With Follow set and no new
// lines available it polls until Wait elapses or ctx is canceled. A missing
// file is not an error; the result resets the offset to zero.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	result := TailResult{Offset: opts.Offset}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.Offset = 0
			return result, nil
		}
		return result, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return result, fmt.Errorf("log path %q is a directory", path)
	}
	if opts.Wait < 0 {
		opts.Wait = 0
	}

	if opts.Offset < 0 {
		result.Lines, result.Offset, err = lastLines(path, opts.Limit)
		if err != nil {
			return result, err
		}
	} else {
		start := opts.Offset
		if start > info.Size() {
			start = info.Size()
		}
		result.Lines, result.Offset, err = linesFrom(path, start)
		if err != nil {
			return result, err
		}
	}

	if opts.Follow && opts.Wait > 0 && len(result.Lines) == 0 {
		return pollForLines(ctx, path, result.Offset, opts.Wait)
	}
	return result, nil
}

// lastLines returns up to limit trailing lines and the end-of-file offset.
func lastLines(path string, limit int) ([]string, int64, error) {
	if limit <= 0 {
		end, err := fileSize(path)
		return nil, end, err
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	ring := make([]string, limit)
	count, next := 0, 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), scanBufferSize)
	for scanner.Scan() {
		ring[next] = scanner.Text()
		next = (next + 1) % limit
		if count < limit {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}

	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("determine log offset: %w", err)
	}

	lines := make([]string, count)
	if count == limit {
		for i := range lines {
			lines[i] = ring[(next+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, end, nil
}

// linesFrom returns every complete line starting at offset plus the offset
// just past the last line consumed.
func linesFrom(path string, offset int64) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), scanBufferSize)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}

	end, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, fmt.Errorf("determine log offset: %w", err)
	}
	return lines, end, nil
}

func pollForLines(ctx context.Context, path string, offset int64, wait time.Duration) (TailResult, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	result := TailResult{Offset: offset}
	for {
		lines, end, err := linesFrom(path, result.Offset)
		if err != nil {
			return result, err
		}
		if len(lines) > 0 {
			result.Lines = lines
			result.Offset = end
			return result, nil
		}
		result.Offset = end

		if !time.Now().Before(deadline) {
			return result, nil
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}
	}
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("stat log file: %w", err)
	}
	return info.Size(), nil
}
