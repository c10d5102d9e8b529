package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"dropwatch/internal/storage"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Config 包含 Google Cloud Storage 驱动所需的配置。
type Config struct {
	Bucket          string
	CredentialsFile string // 为空时使用 Application Default Credentials
}

// Storage 基于 cloud.google.com/go/storage 实现 storage.Storage。
type Storage struct {
	client *gcstorage.Client
	bucket string
}

// New 创建 GCS 客户端。
func New(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	return &Storage{client: client, bucket: cfg.Bucket}, nil
}

// Close 释放底层连接。
func (s *Storage) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Exists 读取对象属性判断是否存在。
func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("gcs storage uninitialized")
	}

	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gcstorage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("object attrs: %w", err)
}

// Write 流式写入 GCS。Writer 在 Close 成功之前对象不可见，
// 失败时通过取消 context 放弃本次上传。
func (s *Storage) Write(ctx context.Context, key string, r io.Reader, opts storage.WriteOptions) (storage.Location, error) {
	if s == nil || s.client == nil {
		return storage.Location{}, fmt.Errorf("gcs storage uninitialized")
	}

	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	obj := s.client.Bucket(s.bucket).Object(key)
	if opts.IfAbsent {
		obj = obj.If(gcstorage.Conditions{DoesNotExist: true})
	}

	w := obj.NewWriter(writeCtx)
	w.ContentType = opts.ContentType
	w.Metadata = opts.Metadata
	if opts.ACL != "" {
		w.PredefinedACL = opts.ACL
	}
	if opts.Progress != nil {
		w.ProgressFunc = opts.Progress.Set
	}

	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return storage.Location{}, fmt.Errorf("write object: %w", err)
	}

	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return storage.Location{}, fmt.Errorf("write object %s: %w", key, storage.ErrAlreadyExists)
		}
		return storage.Location{}, fmt.Errorf("finalize object: %w", err)
	}

	return storage.Location{
		Path: key,
		URL:  fmt.Sprintf("gs://%s/%s", s.bucket, key),
	}, nil
}

// Delete 删除对象。
func (s *Storage) Delete(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("gcs storage uninitialized")
	}

	if err := s.client.Bucket(s.bucket).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
