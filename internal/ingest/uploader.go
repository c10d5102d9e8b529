package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"dropwatch/internal/storage"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-billy/v5"
)

// ErrDuplicate 表示条件写入被存储拒绝：key 在检查之后、写入之前被创建。
var ErrDuplicate = errors.New("upload key already exists")

// UploadErrorKind 区分上传失败的来源。
type UploadErrorKind int

const (
	// TransportOrStore 是网络或存储侧失败（非 2xx、超时等）。
	TransportOrStore UploadErrorKind = iota + 1
	// LocalUpload 是本地文件不可读等本地失败。
	LocalUpload
)

func (k UploadErrorKind) String() string {
	switch k {
	case TransportOrStore:
		return "transport"
	case LocalUpload:
		return "local"
	default:
		return "unknown"
	}
}

type UploadError struct {
	Kind UploadErrorKind
	Key  string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s (%s): %v", e.Key, e.Kind, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Uploader 把媒体文件流式上传到远端存储。
type Uploader struct {
	fs       billy.Filesystem
	store    storage.Writer
	logger   *slog.Logger
	ifAbsent bool
	timeout  time.Duration
}

func NewUploader(fs billy.Filesystem, store storage.Writer, ifAbsent bool, timeout time.Duration, logger *slog.Logger) *Uploader {
	return &Uploader{
		fs:       fs,
		store:    store,
		logger:   logger,
		ifAbsent: ifAbsent,
		timeout:  timeout,
	}
}

// Upload 上传 mediaName 到 key，返回上传的字节数。
// 失败时返回 *UploadError；条件写入被拒绝时返回包装 ErrDuplicate 的错误。
func (u *Uploader) Upload(ctx context.Context, mediaName, key string, metadata map[string]string, acl string) (int64, error) {
	info, err := u.fs.Stat(mediaName)
	if err != nil {
		return 0, &UploadError{Kind: LocalUpload, Key: key, Err: fmt.Errorf("stat media: %w", err)}
	}
	size := info.Size()

	f, err := u.fs.Open(mediaName)
	if err != nil {
		return 0, &UploadError{Kind: LocalUpload, Key: key, Err: fmt.Errorf("open media: %w", err)}
	}
	defer f.Close()

	contentType, err := detectContentType(f)
	if err != nil {
		return 0, &UploadError{Kind: LocalUpload, Key: key, Err: err}
	}

	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	body := &trackingReader{r: f}
	progress := storage.NewProgressCounter(size, progressLogger(u.logger, key))

	start := time.Now()
	_, err = u.store.Write(ctx, key, body, storage.WriteOptions{
		Size:        size,
		ContentType: contentType,
		Metadata:    metadata,
		ACL:         acl,
		IfAbsent:    u.ifAbsent,
		Progress:    progress,
	})
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return 0, fmt.Errorf("upload %s: %w", key, ErrDuplicate)
		}
		if readErr := body.Err(); readErr != nil {
			return 0, &UploadError{Kind: LocalUpload, Key: key, Err: errors.Join(readErr, err)}
		}
		return 0, &UploadError{Kind: TransportOrStore, Key: key, Err: err}
	}

	u.logger.Info("上传完成",
		"key", key,
		"bytes", size,
		"content_type", contentType,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return size, nil
}

func detectContentType(f billy.File) (string, error) {
	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return "", fmt.Errorf("detect content type: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind media: %w", err)
	}
	return mtype.String(), nil
}

// progressLogger 按 25% 的步长记录上传进度。回调在计数器的互斥区内执行。
func progressLogger(logger *slog.Logger, key string) storage.ProgressFunc {
	lastStep := int64(0)
	return func(transferred, total int64) {
		if total <= 0 {
			return
		}
		step := transferred * 4 / total
		if step <= lastStep {
			return
		}
		lastStep = step
		logger.Debug("上传进度", "key", key, "transferred", transferred, "total", total, "percent", min(step*25, 100))
	}
}

// trackingReader 记录本地读取错误，用于区分本地失败与传输失败。
// 保留 Seek，aws-sdk-go-v2 签名与重试时需要回绕 body。
type trackingReader struct {
	r   io.ReadSeeker
	mu  sync.Mutex
	err error
}

func (t *trackingReader) Read(b []byte) (int, error) {
	n, err := t.r.Read(b)
	if err != nil && !errors.Is(err, io.EOF) {
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
	}
	return n, err
}

func (t *trackingReader) Seek(offset int64, whence int) (int64, error) {
	return t.r.Seek(offset, whence)
}

func (t *trackingReader) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
