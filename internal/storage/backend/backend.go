package backend

import (
	"context"
	"fmt"
	"io"
	"time"

	"dropwatch/internal/config"
	"dropwatch/internal/storage"
	"dropwatch/internal/storage/awss3"
	"dropwatch/internal/storage/gcs"
	"dropwatch/internal/storage/local"
	"dropwatch/internal/storage/s3"
)

// defaultTransportTimeout 限制单次请求等待响应头的时间，避免卡死的连接阻塞整个循环。
const defaultTransportTimeout = 60 * time.Second

// Open 按配置的 store-driver 构造存储驱动。
func Open(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	timeout := defaultTransportTimeout
	if cfg.UploadTimeout > 0 {
		timeout = cfg.UploadTimeout
	}

	switch cfg.StoreDriver {
	case config.DriverS3:
		return s3.New(s3.Config{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			UseSSL:    cfg.UseSSL,
			PathStyle: cfg.PathStyle,
			Timeout:   timeout,
		})
	case config.DriverAWS:
		endpoint := cfg.Endpoint
		if endpoint == "s3.amazonaws.com" {
			endpoint = ""
		}
		return awss3.New(ctx, awss3.Config{
			Region:    cfg.Region,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			Endpoint:  endpoint,
			PathStyle: cfg.PathStyle,
			Timeout:   timeout,
		})
	case config.DriverGCS:
		return gcs.New(ctx, gcs.Config{
			Bucket:          cfg.Bucket,
			CredentialsFile: cfg.GCSCredentialsFile,
		})
	case config.DriverLocal:
		return local.NewStore(cfg.LocalStoreDir, ""), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Close 释放持有连接的驱动，其余驱动直接返回。
func Close(s storage.Storage) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
