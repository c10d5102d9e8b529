package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProbeKey 生成一次性探测对象的 key。
func ProbeKey(prefix string) string {
	return prefix + ".dropwatch-probe-" + uuid.NewString()
}

// Probe 写入并删除一个临时对象，用于启动时一次性校验凭据与写权限。
func Probe(ctx context.Context, s Storage, prefix string) error {
	if s == nil {
		return fmt.Errorf("storage uninitialized")
	}

	key := ProbeKey(prefix)
	body := fmt.Sprintf("dropwatch credential probe %s", time.Now().UTC().Format(time.RFC3339))

	if _, err := s.Write(ctx, key, strings.NewReader(body), WriteOptions{
		Size:        int64(len(body)),
		ContentType: "text/plain",
	}); err != nil {
		return fmt.Errorf("write probe object: %w", err)
	}

	if err := s.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete probe object %s: %w", key, err)
	}
	return nil
}
