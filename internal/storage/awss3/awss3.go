package awss3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"dropwatch/internal/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Config 包含 AWS SDK 驱动所需的配置。
type Config struct {
	Region    string
	AccessKey string // 为空时使用 SDK 默认凭据链
	SecretKey string
	Bucket    string
	Endpoint  string // S3 兼容服务的完整 URL，为空时使用 AWS 官方端点
	PathStyle bool
	// Timeout 限制建连与等待响应头的时间，整次上传的期限由调用方的 ctx 控制。
	Timeout time.Duration
}

// Storage 基于 aws-sdk-go-v2 实现 storage.Storage。
type Storage struct {
	client *s3.Client
	bucket string
}

// New 构造 S3 客户端，不发起任何网络请求。
func New(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	loadOpts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	if cfg.Timeout > 0 {
		// 只限制建连与等待响应头，不限制请求体传输
		loadOpts = append(loadOpts, config.WithHTTPClient(
			awshttp.NewBuildableClient().
				WithDialerOptions(func(d *net.Dialer) {
					d.Timeout = cfg.Timeout
				}).
				WithTransportOptions(func(tr *http.Transport) {
					tr.TLSHandshakeTimeout = cfg.Timeout
					tr.ResponseHeaderTimeout = cfg.Timeout
				}),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &Storage{client: client, bucket: cfg.Bucket}, nil
}

// Exists 使用 HeadObject 探测对象。
func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("aws storage uninitialized")
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head object: %w", err)
}

// Write 以单次 PutObject 上传；S3 的单次 PUT 是原子的，失败不会留下可见对象。
func (s *Storage) Write(ctx context.Context, key string, r io.Reader, opts storage.WriteOptions) (storage.Location, error) {
	if s == nil || s.client == nil {
		return storage.Location{}, fmt.Errorf("aws storage uninitialized")
	}

	input := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		Body:     withProgress(r, opts.Progress),
		Metadata: opts.Metadata,
	}
	if opts.Size > 0 {
		input.ContentLength = aws.Int64(opts.Size)
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.ACL != "" {
		input.ACL = types.ObjectCannedACL(opts.ACL)
	}
	if opts.IfAbsent {
		input.IfNoneMatch = aws.String("*")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		if isPreconditionFailed(err) {
			return storage.Location{}, fmt.Errorf("put object %s: %w", key, storage.ErrAlreadyExists)
		}
		return storage.Location{}, fmt.Errorf("put object: %w", err)
	}

	return storage.Location{
		Path: key,
		URL:  fmt.Sprintf("s3://%s/%s", s.bucket, key),
	}, nil
}

// Delete 删除对象。
func (s *Storage) Delete(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("aws storage uninitialized")
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		case "NoSuchBucket":
			return false
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
		return true
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == http.StatusPreconditionFailed
	}
	return false
}

// progressReader 把读取量汇报给计数器；源可寻址时保留 Seek，SDK 需要它来计算签名和重试。
type progressReader struct {
	r       io.Reader
	counter *storage.ProgressCounter
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.counter.Add(int64(n))
	return n, err
}

type progressReadSeeker struct {
	progressReader
	s io.Seeker
}

func (p *progressReadSeeker) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.s.Seek(offset, whence)
	if err == nil && pos == 0 {
		p.counter.Reset()
	}
	return pos, err
}

func withProgress(r io.Reader, counter *storage.ProgressCounter) io.Reader {
	if counter == nil {
		return r
	}
	if rs, ok := r.(io.ReadSeeker); ok {
		return &progressReadSeeker{progressReader: progressReader{r: rs, counter: counter}, s: rs}
	}
	return &progressReader{r: r, counter: counter}
}
