package eventlog

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func shanghai(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	return loc
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestRecord_WritesTimestampedLines(t *testing.T) {
	dir := t.TempDir()
	loc := shanghai(t)
	clock := &fakeClock{now: time.Date(2024, 3, 1, 10, 30, 0, 0, loc)}

	l, err := New(Options{Dir: dir, Location: loc, Now: clock.Now})
	require.NoError(t, err)

	l.Record("service started")
	l.Record("listening on port 9000")
	require.NoError(t, l.Close())

	lines := readLines(t, filepath.Join(dir, "deploy_2024-03-01.log"))
	assert.Equal(t, []string{
		"[2024-03-01 10:30:00] service started",
		"[2024-03-01 10:30:00] listening on port 9000",
	}, lines)
}

func TestRecord_UsesConfiguredZone(t *testing.T) {
	dir := t.TempDir()
	loc := shanghai(t)
	// 20:00 UTC on the 1st is 04:00 on the 2nd in Shanghai.
	clock := &fakeClock{now: time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)}

	l, err := New(Options{Dir: dir, Location: loc, Now: clock.Now})
	require.NoError(t, err)
	l.Record("late")
	require.NoError(t, l.Close())

	lines := readLines(t, filepath.Join(dir, "deploy_2024-03-02.log"))
	assert.Equal(t, []string{"[2024-03-02 04:00:00] late"}, lines)
}

func TestRecord_RotatesOnDayChange(t *testing.T) {
	dir := t.TempDir()
	loc := shanghai(t)
	clock := &fakeClock{now: time.Date(2024, 3, 1, 23, 59, 59, 0, loc)}

	l, err := New(Options{Dir: dir, Location: loc, Now: clock.Now})
	require.NoError(t, err)

	l.Record("before midnight")
	clock.Set(time.Date(2024, 3, 2, 0, 0, 1, 0, loc))
	l.Record("after midnight")
	require.NoError(t, l.Close())

	assert.Equal(t, []string{"[2024-03-01 23:59:59] before midnight"}, readLines(t, filepath.Join(dir, "deploy_2024-03-01.log")))
	assert.Equal(t, []string{"[2024-03-02 00:00:01] after midnight"}, readLines(t, filepath.Join(dir, "deploy_2024-03-02.log")))
}

func TestRecord_AppendsToExistingFile(t *testing.T) {
	dir := t.TempDir()
	loc := shanghai(t)
	clock := &fakeClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, loc)}

	for _, msg := range []string{"first run", "second run"} {
		l, err := New(Options{Dir: dir, Location: loc, Now: clock.Now})
		require.NoError(t, err)
		l.Record(msg)
		require.NoError(t, l.Close())
	}

	lines := readLines(t, filepath.Join(dir, "deploy_2024-03-01.log"))
	assert.Len(t, lines, 2)
}

func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")

	l, err := New(Options{Dir: dir})
	require.NoError(t, err)
	defer l.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNew_RequiresDir(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestRecord_WriteFailureGoesToDiagnostic(t *testing.T) {
	dir := t.TempDir()
	// A directory named like the day's log file makes the open fail.
	loc := time.UTC
	clock := &fakeClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, loc)}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "deploy_2024-03-01.log"), 0750))

	var diag bytes.Buffer
	l, err := New(Options{
		Dir:        dir,
		Location:   loc,
		Now:        clock.Now,
		Diagnostic: slog.New(slog.NewTextHandler(&diag, nil)),
	})
	require.NoError(t, err)

	l.Record("lost line")
	require.NoError(t, l.Close())

	assert.Contains(t, diag.String(), "failed to open event log file")
	assert.Contains(t, diag.String(), "lost line")
}

func TestRecord_AfterCloseIsDropped(t *testing.T) {
	var diag bytes.Buffer
	l, err := New(Options{Dir: t.TempDir(), Diagnostic: slog.New(slog.NewTextHandler(&diag, nil))})
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.NotPanics(t, func() { l.Record("too late") })
	assert.Contains(t, diag.String(), "event log closed")
}

func TestRecord_ConcurrentWriters(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	l, err := New(Options{Dir: dir, Location: time.UTC, Now: clock.Now, QueueSize: 1000})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Record("line")
			}
		}()
	}
	wg.Wait()
	require.NoError(t, l.Close())

	lines := readLines(t, filepath.Join(dir, "deploy_2024-03-01.log"))
	assert.Equal(t, int64(500), int64(len(lines))+l.Dropped())
	for _, line := range lines {
		assert.Equal(t, "[2024-03-01 08:00:00] line", line)
	}
}

func TestCurrentFile(t *testing.T) {
	dir := t.TempDir()
	loc := shanghai(t)
	clock := &fakeClock{now: time.Date(2024, 12, 31, 12, 0, 0, 0, loc)}

	l, err := New(Options{Dir: dir, Location: loc, Now: clock.Now})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, filepath.Join(dir, "deploy_2024-12-31.log"), l.CurrentFile())
	assert.Equal(t, loc, l.Location())
}
