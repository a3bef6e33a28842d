// Package output captures and bounds per-task stdout/stderr produced by
// worker subprocesses, and serves tail-bounded reads back to callers.
package output

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/dean0x/claudine-sub000/internal/errs"
	"github.com/dean0x/claudine-sub000/internal/metrics"
	"github.com/dean0x/claudine-sub000/internal/task"
)

// Stream identifies which subprocess descriptor a chunk came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

const (
	defaultMaxOutputBuffer         int64 = 10 * 1024 * 1024
	defaultFileStorageThresholdBytes int64 = 100 * 1024
)

type line struct {
	stream  Stream
	content string
	dropped int // >0 marks this line as a drop marker summarizing `dropped` evicted lines
}

func (l line) size() int64 {
	return int64(len(l.content))
}

func dropMarkerLine(stream Stream, n int) line {
	return line{stream: stream, content: fmt.Sprintf("... %d lines dropped", n), dropped: n}
}

// Snapshot is the point-in-time view returned by GetOutput.
type Snapshot struct {
	Stdout    []string
	Stderr    []string
	TotalSize int64
}

// taskBuffer holds the bounded, ordered view of one task's captured output.
type taskBuffer struct {
	mu sync.Mutex

	lines     []line // combined FIFO order across both streams
	totalSize int64

	pendingStdout strings.Builder // bytes not yet terminated by a newline
	pendingStderr strings.Builder

	spillFile afero.File // lazily opened once totalSize crosses the threshold
}

// Capture is the per-task ring buffer store backing stream capture.
type Capture struct {
	mu      sync.Mutex
	buffers map[task.ID]*taskBuffer

	maxOutputBuffer           int64
	fileStorageThresholdBytes int64
	fs                        afero.Fs
	spillDir                  string
}

// Option configures a Capture at construction time.
type Option func(*Capture)

// WithMaxOutputBuffer overrides the default 10 MiB per-task cap.
func WithMaxOutputBuffer(n int64) Option {
	return func(c *Capture) { c.maxOutputBuffer = n }
}

// WithFileStorageThreshold overrides the default 100 KiB spillover threshold.
func WithFileStorageThreshold(n int64) Option {
	return func(c *Capture) { c.fileStorageThresholdBytes = n }
}

// WithFilesystem injects the afero.Fs used for spillover (an in-memory fs
// in tests, the OS filesystem in production).
func WithFilesystem(fs afero.Fs, spillDir string) Option {
	return func(c *Capture) {
		c.fs = fs
		c.spillDir = spillDir
	}
}

// New creates an output capture store.
func New(opts ...Option) *Capture {
	c := &Capture{
		buffers:                   make(map[task.ID]*taskBuffer),
		maxOutputBuffer:           defaultMaxOutputBuffer,
		fileStorageThresholdBytes: defaultFileStorageThresholdBytes,
		fs:                        afero.NewMemMapFs(),
		spillDir:                  "/supervisor-output",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Capture) bufferFor(id task.ID) *taskBuffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buffers[id]
	if !ok {
		b = &taskBuffer{}
		c.buffers[id] = b
	}
	return b
}

// Capture appends a chunk of subprocess output. Chunks are split at newline
// boundaries; a trailing partial line is buffered until a future chunk
// completes it, or until Flush is called at process termination.
func (c *Capture) Capture(id task.ID, stream Stream, chunk []byte) error {
	if stream != Stdout && stream != Stderr {
		return errs.New(errs.InvalidInput, "unknown output stream").WithContext(map[string]any{"stream": string(stream)})
	}
	if len(chunk) == 0 {
		return nil
	}

	b := c.bufferFor(id)
	b.mu.Lock()
	defer b.mu.Unlock()

	pending := b.pendingFor(stream)
	pending.Write(chunk)

	full := pending.String()
	parts := strings.Split(full, "\n")
	// Every element but the last is a completed line; the last is the new
	// (possibly empty) trailing partial.
	for i := 0; i < len(parts)-1; i++ {
		c.appendLineLocked(id, b, line{stream: stream, content: parts[i]})
	}
	pending.Reset()
	pending.WriteString(parts[len(parts)-1])

	return nil
}

// Flush forces any trailing partial line (with no terminating newline) to
// be appended, e.g. when the subprocess has exited.
func (c *Capture) Flush(id task.ID) {
	b := c.bufferFor(id)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pendingStdout.Len() > 0 {
		content := b.pendingStdout.String()
		b.pendingStdout.Reset()
		c.appendLineLocked(id, b, line{stream: Stdout, content: content})
	}
	if b.pendingStderr.Len() > 0 {
		content := b.pendingStderr.String()
		b.pendingStderr.Reset()
		c.appendLineLocked(id, b, line{stream: Stderr, content: content})
	}
}

func (b *taskBuffer) pendingFor(stream Stream) *strings.Builder {
	if stream == Stdout {
		return &b.pendingStdout
	}
	return &b.pendingStderr
}

// appendLineLocked appends one completed line, dropping the oldest lines
// FIFO if needed to respect maxOutputBuffer, and spills to the afero
// filesystem once the retained buffer crosses fileStorageThresholdBytes.
//
// The eviction loop reserves room for both l and the drop marker it may
// need to write, so totalSize never exceeds maxOutputBuffer once l (and
// the marker) are appended. If the line evicted to make room is itself a
// previous drop marker, its count is folded into this call's count
// instead of being treated as one more dropped line — that merge is what
// keeps a contiguous run of drops down to exactly one marker even when
// the run spans multiple Capture calls: the marker ages through the FIFO
// like any other line, and re-summarizes itself if it gets evicted before
// a real line manages to survive past it.
func (c *Capture) appendLineLocked(id task.ID, b *taskBuffer, l line) {
	dropped := 0

	for {
		markerSize := int64(0)
		if dropped > 0 {
			markerSize = dropMarkerLine(l.stream, dropped).size()
		}
		if b.totalSize+l.size()+markerSize <= c.maxOutputBuffer || len(b.lines) == 0 {
			break
		}

		victim := b.lines[0]
		b.lines = b.lines[1:]
		b.totalSize -= victim.size()
		if victim.dropped > 0 {
			dropped += victim.dropped
		} else {
			dropped++
		}
	}

	if dropped > 0 {
		marker := dropMarkerLine(l.stream, dropped)
		b.lines = append(b.lines, marker)
		b.totalSize += marker.size()
		metrics.RecordOutputDropMarker()
	}

	b.lines = append(b.lines, l)
	b.totalSize += l.size()

	if b.totalSize > c.fileStorageThresholdBytes {
		c.spillLocked(id, b, l)
	}
}

// spillLocked writes the line to a per-task audit file once the retained
// buffer crosses fileStorageThresholdBytes. Reads are unaffected: GetOutput
// always serves from the in-memory bounded view.
func (c *Capture) spillLocked(id task.ID, b *taskBuffer, l line) {
	if b.spillFile == nil {
		_ = c.fs.MkdirAll(c.spillDir, 0o755)
		f, err := c.fs.OpenFile(fmt.Sprintf("%s/%s.log", c.spillDir, id), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return
		}
		b.spillFile = f
	}
	_, _ = b.spillFile.Write([]byte(fmt.Sprintf("[%s] %s\n", l.stream, l.content)))
}

// GetOutput returns a snapshot of both streams. If tail > 0, each stream is
// truncated to its last tail lines; the underlying buffer is unmutated.
func (c *Capture) GetOutput(id task.ID, tail int) (Snapshot, error) {
	b := c.bufferFor(id)
	b.mu.Lock()
	defer b.mu.Unlock()

	var stdout, stderr []string
	for _, l := range b.lines {
		if l.stream == Stdout {
			stdout = append(stdout, l.content)
		} else {
			stderr = append(stderr, l.content)
		}
	}

	if tail > 0 {
		stdout = tailOf(stdout, tail)
		stderr = tailOf(stderr, tail)
	}

	return Snapshot{Stdout: stdout, Stderr: stderr, TotalSize: b.totalSize}, nil
}

func tailOf(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

// Clear discards all captured output for one task.
func (c *Capture) Clear(id task.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.buffers[id]; ok {
		b.mu.Lock()
		if b.spillFile != nil {
			_ = b.spillFile.Close()
		}
		b.mu.Unlock()
	}
	delete(c.buffers, id)
	return nil
}

// Cleanup discards captured output for every task.
func (c *Capture) Cleanup() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, b := range c.buffers {
		b.mu.Lock()
		if b.spillFile != nil {
			_ = b.spillFile.Close()
		}
		b.mu.Unlock()
	}
	c.buffers = make(map[task.ID]*taskBuffer)
	return nil
}
