package output

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dean0x/claudine-sub000/internal/task"
)

func TestCapture_SplitsOnNewlines(t *testing.T) {
	c := New()
	id := task.NewID()

	require.NoError(t, c.Capture(id, Stdout, []byte("line one\nline two\n")))

	snap, err := c.GetOutput(id, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"line one", "line two"}, snap.Stdout)
}

func TestCapture_BuffersTrailingPartialLine(t *testing.T) {
	c := New()
	id := task.NewID()

	require.NoError(t, c.Capture(id, Stdout, []byte("partial")))
	snap, err := c.GetOutput(id, 0)
	require.NoError(t, err)
	assert.Empty(t, snap.Stdout)

	require.NoError(t, c.Capture(id, Stdout, []byte(" line\n")))
	snap, err = c.GetOutput(id, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"partial line"}, snap.Stdout)
}

func TestFlush_EmitsTrailingPartialLine(t *testing.T) {
	c := New()
	id := task.NewID()

	require.NoError(t, c.Capture(id, Stderr, []byte("no newline yet")))
	c.Flush(id)

	snap, err := c.GetOutput(id, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"no newline yet"}, snap.Stderr)
}

func TestCapture_RejectsUnknownStream(t *testing.T) {
	c := New()
	err := c.Capture(task.NewID(), Stream("bogus"), []byte("x\n"))
	require.Error(t, err)
}

func TestGetOutput_Tail(t *testing.T) {
	c := New()
	id := task.NewID()

	var buf strings.Builder
	for i := 0; i < 10; i++ {
		buf.WriteString("line\n")
	}
	require.NoError(t, c.Capture(id, Stdout, []byte(buf.String())))

	snap, err := c.GetOutput(id, 3)
	require.NoError(t, err)
	assert.Len(t, snap.Stdout, 3)
}

func TestGetOutput_TailDoesNotMutateBuffer(t *testing.T) {
	c := New()
	id := task.NewID()
	require.NoError(t, c.Capture(id, Stdout, []byte("a\nb\nc\n")))

	_, err := c.GetOutput(id, 1)
	require.NoError(t, err)

	full, err := c.GetOutput(id, 0)
	require.NoError(t, err)
	assert.Len(t, full.Stdout, 3)
}

func TestCapture_DropsOldestLinesWhenOverBudget(t *testing.T) {
	c := New(WithMaxOutputBuffer(10))
	id := task.NewID()

	require.NoError(t, c.Capture(id, Stdout, []byte("aaaaa\n")))
	require.NoError(t, c.Capture(id, Stdout, []byte("bbbbb\n")))
	require.NoError(t, c.Capture(id, Stdout, []byte("ccccc\n")))

	snap, err := c.GetOutput(id, 0)
	require.NoError(t, err)
	assert.LessOrEqual(t, snap.TotalSize, int64(10))

	joined := strings.Join(snap.Stdout, "|")
	assert.Contains(t, joined, "dropped")
	assert.Contains(t, joined, "ccccc")
}

func TestCapture_DropMarkerReportsTrueEvictedCount(t *testing.T) {
	c := New(WithMaxOutputBuffer(50))
	id := task.NewID()

	// Five 10-byte lines exactly fill the 50-byte budget.
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Capture(id, Stdout, []byte("0123456789\n")))
	}
	// A sixth must evict more than one line to make room for itself plus
	// the marker it will need to write.
	require.NoError(t, c.Capture(id, Stdout, []byte("0123456789\n")))

	snap, err := c.GetOutput(id, 0)
	require.NoError(t, err)
	assert.LessOrEqual(t, snap.TotalSize, int64(50))

	joined := strings.Join(snap.Stdout, "|")
	assert.Contains(t, joined, "... 3 lines dropped")
}

func TestCapture_ContiguousDropRunAcrossCallsCoalescesIntoOneMarker(t *testing.T) {
	c := New(WithMaxOutputBuffer(50))
	id := task.NewID()

	for i := 0; i < 6; i++ {
		require.NoError(t, c.Capture(id, Stdout, []byte("0123456789\n")))
	}
	// One more append: the marker from the previous eviction ages out of
	// the FIFO itself and must be absorbed into this call's marker rather
	// than leaving two "dropped" lines behind.
	require.NoError(t, c.Capture(id, Stdout, []byte("0123456789\n")))

	snap, err := c.GetOutput(id, 0)
	require.NoError(t, err)
	assert.LessOrEqual(t, snap.TotalSize, int64(50))

	markerCount := 0
	for _, line := range snap.Stdout {
		if strings.Contains(line, "dropped") {
			markerCount++
		}
	}
	assert.Equal(t, 1, markerCount, "a contiguous drop run spanning multiple Capture calls must coalesce into exactly one marker")
	joined := strings.Join(snap.Stdout, "|")
	assert.Contains(t, joined, "... 5 lines dropped")
}

func TestCapture_TotalSizeNeverExceedsMaxOutputBuffer(t *testing.T) {
	c := New(WithMaxOutputBuffer(50))
	id := task.NewID()

	for i := 0; i < 100; i++ {
		require.NoError(t, c.Capture(id, Stdout, []byte("some output line\n")))
	}

	snap, err := c.GetOutput(id, 0)
	require.NoError(t, err)
	assert.LessOrEqual(t, snap.TotalSize, int64(50))
}

func TestCapture_SpillsToFilesystemAboveThreshold(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := New(WithMaxOutputBuffer(1<<20), WithFileStorageThreshold(10), WithFilesystem(fs, "/spill"))
	id := task.NewID()

	require.NoError(t, c.Capture(id, Stdout, []byte("this line is long enough to spill\n")))

	exists, err := afero.DirExists(fs, "/spill")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestClear_RemovesTaskBuffer(t *testing.T) {
	c := New()
	id := task.NewID()
	require.NoError(t, c.Capture(id, Stdout, []byte("x\n")))

	require.NoError(t, c.Clear(id))

	snap, err := c.GetOutput(id, 0)
	require.NoError(t, err)
	assert.Empty(t, snap.Stdout)
	assert.Equal(t, int64(0), snap.TotalSize)
}

func TestCleanup_ClearsEveryTask(t *testing.T) {
	c := New()
	a, b := task.NewID(), task.NewID()
	require.NoError(t, c.Capture(a, Stdout, []byte("x\n")))
	require.NoError(t, c.Capture(b, Stdout, []byte("y\n")))

	require.NoError(t, c.Cleanup())

	snapA, _ := c.GetOutput(a, 0)
	snapB, _ := c.GetOutput(b, 0)
	assert.Empty(t, snapA.Stdout)
	assert.Empty(t, snapB.Stdout)
}
