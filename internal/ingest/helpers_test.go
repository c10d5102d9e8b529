package ingest

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"dropwatch/internal/logging"
	"dropwatch/internal/storage"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/require"
)

// fakeStore 是内存中的 storage.Storage。
type fakeStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	opts     map[string]storage.WriteOptions
	existErr error
	writeErr error
	// blockWrite 为 true 时 Write 阻塞到 ctx 结束。
	blockWrite bool
	// beforeWrite 在写入前执行，用于模拟检查与写入之间的竞争。
	beforeWrite func(key string)

	existsCalls int
	writeCalls  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects: make(map[string][]byte),
		opts:    make(map[string]storage.WriteOptions),
	}
}

func (f *fakeStore) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existsCalls++
	if f.existErr != nil {
		return false, f.existErr
	}
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeStore) Write(ctx context.Context, key string, r io.Reader, opts storage.WriteOptions) (storage.Location, error) {
	f.mu.Lock()
	f.writeCalls++
	block, hook, writeErr := f.blockWrite, f.beforeWrite, f.writeErr
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return storage.Location{}, ctx.Err()
	}
	if hook != nil {
		hook(key)
	}
	if writeErr != nil {
		return storage.Location{}, writeErr
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return storage.Location{}, err
	}
	opts.Progress.Add(int64(len(data)))

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[key]; ok && opts.IfAbsent {
		return storage.Location{}, storage.ErrAlreadyExists
	}
	f.objects[key] = data
	f.opts[key] = opts
	return storage.Location{Path: key}, nil
}

func (f *fakeStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeStore) put(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
}

func (f *fakeStore) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeCalls
}

func (f *fakeStore) factory() StoreFactory {
	return func(ctx context.Context) (storage.Storage, error) {
		return f, nil
	}
}

// stickyFS 的 Rename 对指定文件只复制不删除，模拟“报告成功但源文件仍在”的挂载点。
type stickyFS struct {
	billy.Filesystem
	sticky  map[string]bool
	renames map[string]int
}

func newStickyFS(base billy.Filesystem, names ...string) *stickyFS {
	s := &stickyFS{Filesystem: base, sticky: map[string]bool{}, renames: map[string]int{}}
	for _, n := range names {
		s.sticky[n] = true
	}
	return s
}

func (s *stickyFS) Rename(from, to string) error {
	s.renames[from]++
	if !s.sticky[from] {
		return s.Filesystem.Rename(from, to)
	}
	data, err := util.ReadFile(s.Filesystem, from)
	if err != nil {
		return err
	}
	return util.WriteFile(s.Filesystem, to, data, 0o644)
}

// brokenDirFS 的 ReadDir 总是失败。
type brokenDirFS struct {
	billy.Filesystem
}

func (brokenDirFS) ReadDir(string) ([]os.FileInfo, error) {
	return nil, errors.New("input/output error")
}

func newRoot(t *testing.T) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	require.NoError(t, fs.MkdirAll(".", 0o755))
	return fs
}

func writeFile(t *testing.T, fs billy.Filesystem, name, content string) {
	t.Helper()
	require.NoError(t, util.WriteFile(fs, name, []byte(content), 0o644))
}

func exists(fs billy.Filesystem, name string) bool {
	_, err := fs.Stat(name)
	return err == nil
}

func noSleep(time.Duration) {}

type cycleOpt func(*Options)

func newTestCycle(fs billy.Filesystem, store *fakeStore, opts ...cycleOpt) *Cycle {
	o := Options{
		Extension:       "json",
		ACL:             "public-read",
		Metadata:        map[string]string{"title": "title"},
		ConditionalPut:  true,
		RelocateRetries: 3,
	}
	for _, fn := range opts {
		fn(&o)
	}
	c := NewCycle(fs, store.factory(), o, logging.Discard())
	c.Relocator.Sleep = noSleep
	c.Shuffle = func([]string) {}
	return c
}

type recordingJournal struct {
	outcomes []Outcome
	err      error
}

func (j *recordingJournal) Record(ctx context.Context, o Outcome) error {
	j.outcomes = append(j.outcomes, o)
	return j.err
}

type countingObserver struct {
	pairs       map[string]int
	bytes       int64
	relocations int
	cycles      map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{pairs: map[string]int{}, cycles: map[string]int{}}
}

func (o *countingObserver) PairProcessed(status, reason string) { o.pairs[status+"/"+reason]++ }
func (o *countingObserver) BytesUploaded(n int64)               { o.bytes += n }
func (o *countingObserver) RelocationFailed()                   { o.relocations++ }
func (o *countingObserver) CycleCompleted(result string, _ time.Duration) {
	o.cycles[result]++
}
