package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"dropwatch/internal/storage"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config 包含 S3/MinIO 存储所需的配置。
type Config struct {
	Endpoint  string // 不含协议，如 "localhost:9000" 或 "s3.amazonaws.com"
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool // 是否使用 HTTPS
	PathStyle bool // 是否使用路径风格访问（MinIO 需要 true）
	// Timeout 作用于底层 HTTP 连接的响应头等待，避免单次传输无限挂起。
	Timeout time.Duration
}

// Storage 实现了 storage.Storage 接口，使用 S3 兼容存储。
type Storage struct {
	client *minio.Client
	bucket string
	region string
}

// New 创建新的 S3 存储实例，不会自动创建 bucket：
// 目标 bucket 由运维预先配置，凭据是否可用交给启动时的探测判断。
func New(cfg Config) (*Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	lookup := minio.BucketLookupAuto
	if cfg.PathStyle {
		lookup = minio.BucketLookupPath
	}

	transport, err := minio.DefaultTransport(cfg.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}
	if cfg.Timeout > 0 {
		transport.ResponseHeaderTimeout = cfg.Timeout
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: lookup,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Storage{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
	}, nil
}

// Exists 通过只读元数据的 HEAD 请求探测对象。
func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("s3 storage uninitialized")
	}

	_, err := s.client.StatObject(ctx, s.bucket, cleanKey(key), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat object: %w", err)
}

// Write 将文件写入 S3 存储。
func (s *Storage) Write(ctx context.Context, key string, r io.Reader, opts storage.WriteOptions) (storage.Location, error) {
	if s == nil || s.client == nil {
		return storage.Location{}, fmt.Errorf("s3 storage uninitialized")
	}

	objectKey := cleanKey(key)

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	putOpts := minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: userMetadata(opts),
	}
	if opts.Progress != nil {
		putOpts.Progress = opts.Progress
	}
	if opts.IfAbsent {
		putOpts.SetMatchETagExcept("*")
	}

	size := opts.Size
	if size == 0 {
		size = -1
	}

	info, err := s.client.PutObject(ctx, s.bucket, objectKey, r, size, putOpts)
	if err != nil {
		// 分片上传失败时清理未完成的 upload，保证中途失败的对象对 StatObject 不可见
		if rmErr := s.client.RemoveIncompleteUpload(context.WithoutCancel(ctx), s.bucket, objectKey); rmErr != nil {
			err = errors.Join(err, fmt.Errorf("remove incomplete upload: %w", rmErr))
		}
		if isPreconditionFailed(err) {
			return storage.Location{}, fmt.Errorf("put object %s: %w", objectKey, storage.ErrAlreadyExists)
		}
		return storage.Location{}, fmt.Errorf("put object: %w", err)
	}

	return storage.Location{
		Path: objectKey,
		URL:  fmt.Sprintf("s3://%s/%s", s.bucket, info.Key),
	}, nil
}

// Delete 从 S3 存储删除文件。
func (s *Storage) Delete(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("s3 storage uninitialized")
	}

	return s.client.RemoveObject(ctx, s.bucket, cleanKey(key), minio.RemoveObjectOptions{})
}

func cleanKey(key string) string {
	// S3 key 使用正斜杠，保留调用方给出的前缀结构
	cleaned := path.Clean("/" + key)
	return cleaned[1:]
}

func userMetadata(opts storage.WriteOptions) map[string]string {
	meta := make(map[string]string, len(opts.Metadata)+1)
	for k, v := range opts.Metadata {
		meta[k] = v
	}
	if opts.ACL != "" {
		// minio-go 将 x-amz-acl 原样作为请求头发送，而不是加 x-amz-meta- 前缀
		meta["x-amz-acl"] = opts.ACL
	}
	return meta
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		return true
	case "NoSuchBucket":
		// bucket 不存在是配置错误，不能当作对象缺失
		return false
	}
	return resp.Code == "" && resp.StatusCode == http.StatusNotFound
}

func isPreconditionFailed(err error) bool {
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		return false
	}
	return resp.Code == "PreconditionFailed" || resp.StatusCode == http.StatusPreconditionFailed
}
