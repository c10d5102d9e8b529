package ingest

import (
	"errors"
	"testing"
	"time"

	"dropwatch/internal/logging"

	"github.com/go-git/go-billy/v5"
	"github.com/stretchr/testify/assert"
)

func TestRelocator_MovesFile(t *testing.T) {
	fs := newRoot(t)
	writeFile(t, fs, "img1.jpg", "bytes")

	r := NewRelocator(fs, 3, time.Second, logging.Discard())
	r.Sleep = func(time.Duration) { t.Fatal("unexpected retry") }

	assert.True(t, r.Relocate("img1.jpg", "done/img1.jpg"))
	assert.False(t, exists(fs, "img1.jpg"))
	assert.True(t, exists(fs, "done/img1.jpg"))
}

type failingRenameFS struct {
	billy.Filesystem
	calls int
}

func (f *failingRenameFS) Rename(from, to string) error {
	f.calls++
	return errors.New("no such file or directory")
}

func TestRelocator_RenameErrorGivesUpImmediately(t *testing.T) {
	base := newRoot(t)
	writeFile(t, base, "img1.jpg", "bytes")
	fs := &failingRenameFS{Filesystem: base}

	r := NewRelocator(fs, 3, time.Second, logging.Discard())
	r.Sleep = func(time.Duration) { t.Fatal("rename errors must not be retried") }

	assert.False(t, r.Relocate("img1.jpg", "done/img1.jpg"))
	assert.Equal(t, 1, fs.calls)
	assert.True(t, exists(base, "img1.jpg"))
}

// flakyFS 的前 n 次 Rename 只复制不删除。
type flakyFS struct {
	*stickyFS
	remaining int
}

func (f *flakyFS) Rename(from, to string) error {
	if f.remaining > 0 {
		f.remaining--
		return f.stickyFS.Rename(from, to)
	}
	f.stickyFS.renames[from]++
	return f.stickyFS.Filesystem.Rename(from, to)
}

func TestRelocator_RecoversWithinRetryBudget(t *testing.T) {
	base := newRoot(t)
	writeFile(t, base, "img1.jpg", "bytes")
	fs := &flakyFS{stickyFS: newStickyFS(base, "img1.jpg"), remaining: 2}

	var sleeps int
	r := NewRelocator(fs, 3, 5*time.Millisecond, logging.Discard())
	r.Sleep = func(time.Duration) { sleeps++ }

	assert.True(t, r.Relocate("img1.jpg", "done/img1.jpg"))
	assert.Equal(t, 3, fs.renames["img1.jpg"])
	assert.Equal(t, 2, sleeps)
	assert.False(t, exists(base, "img1.jpg"))
}

func TestNewRelocator_Defaults(t *testing.T) {
	r := NewRelocator(newRoot(t), -1, 0, logging.Discard())
	assert.Equal(t, defaultRelocateRetries, r.Retries)
	assert.Equal(t, defaultRelocateDelay, r.Delay)
}

func TestRelocator_ZeroRetriesGivesUpAfterFirstAttempt(t *testing.T) {
	base := newRoot(t)
	writeFile(t, base, "img1.jpg", "jpeg")
	fs := newStickyFS(base, "img1.jpg")

	r := NewRelocator(fs, 0, time.Second, logging.Discard())
	sleeps := 0
	r.Sleep = func(time.Duration) { sleeps++ }

	assert.False(t, r.Relocate("img1.jpg", "done/img1.jpg"))
	assert.Equal(t, 1, fs.renames["img1.jpg"])
	assert.Zero(t, sleeps)
}
