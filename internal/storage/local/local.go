package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"dropwatch/internal/storage"
)

// metaSuffix 是与对象同目录保存元数据的 sidecar 后缀。
const metaSuffix = ".meta.json"

// Store 将对象写入本地目录，主要用于开发环境和测试。
type Store struct {
	BaseDir string
	BaseURL string
}

func NewStore(baseDir, baseURL string) *Store {
	return &Store{BaseDir: baseDir, BaseURL: baseURL}
}

type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	ACL         string            `json:"acl,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Exists 判断对象文件是否存在。
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("local store uninitialized")
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	targetPath, err := s.resolve(key)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(targetPath)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat object: %w", err)
	}
}

func (s *Store) Write(ctx context.Context, key string, r io.Reader, opts storage.WriteOptions) (storage.Location, error) {
	if s == nil {
		return storage.Location{}, fmt.Errorf("local store uninitialized")
	}

	select {
	case <-ctx.Done():
		return storage.Location{}, ctx.Err()
	default:
	}

	targetPath, err := s.resolve(key)
	if err != nil {
		return storage.Location{}, err
	}
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return storage.Location{}, fmt.Errorf("ensure dir: %w", err)
	}

	file, err := os.CreateTemp(filepath.Dir(targetPath), "."+filepath.Base(targetPath)+".*.tmp")
	if err != nil {
		return storage.Location{}, fmt.Errorf("create temp file: %w", err)
	}
	tempPath := file.Name()
	defer os.Remove(tempPath)
	defer file.Close()

	var src io.Reader = r
	if opts.Progress != nil {
		src = io.TeeReader(r, progressWriter{opts.Progress})
	}

	if _, err := io.Copy(file, src); err != nil {
		return storage.Location{}, fmt.Errorf("write file: %w", err)
	}

	if err := file.Sync(); err != nil {
		return storage.Location{}, fmt.Errorf("sync file: %w", err)
	}

	if err := file.Close(); err != nil {
		return storage.Location{}, fmt.Errorf("close file: %w", err)
	}

	if opts.IfAbsent {
		// link 在目标已存在时失败，等价于“不存在才创建”
		if err := os.Link(tempPath, targetPath); err != nil {
			if errors.Is(err, os.ErrExist) {
				return storage.Location{}, fmt.Errorf("link %s: %w", key, storage.ErrAlreadyExists)
			}
			return storage.Location{}, fmt.Errorf("link temp file: %w", err)
		}
	} else if err := os.Rename(tempPath, targetPath); err != nil {
		return storage.Location{}, fmt.Errorf("rename temp file: %w", err)
	}

	if err := writeSidecar(targetPath, opts); err != nil {
		// 元数据写失败时撤回对象，失败的写入不能让 key 变为可见
		if rmErr := os.Remove(targetPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return storage.Location{}, fmt.Errorf("%w (remove object: %v)", err, rmErr)
		}
		return storage.Location{}, err
	}

	loc := storage.Location{Path: targetPath}
	if s.BaseURL != "" {
		u, err := url.JoinPath(s.BaseURL, filepath.ToSlash(key))
		if err == nil {
			loc.URL = u
		}
	}

	return loc, nil
}

// Delete 删除对象及其元数据 sidecar，对象不存在时视为成功。
func (s *Store) Delete(ctx context.Context, key string) error {
	if s == nil {
		return fmt.Errorf("local store uninitialized")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	targetPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(targetPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove file: %w", err)
	}
	if err := os.Remove(targetPath + metaSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove metadata: %w", err)
	}
	return nil
}

// Metadata 读取对象的元数据 sidecar。
func (s *Store) Metadata(key string) (map[string]string, string, error) {
	targetPath, err := s.resolve(key)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(targetPath + metaSuffix)
	if err != nil {
		return nil, "", fmt.Errorf("read metadata: %w", err)
	}
	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, "", fmt.Errorf("decode metadata: %w", err)
	}
	return sc.Metadata, sc.ACL, nil
}

func (s *Store) resolve(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash("/" + key))
	if cleaned == string(filepath.Separator) || strings.HasSuffix(cleaned, metaSuffix) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.BaseDir, cleaned), nil
}

func writeSidecar(targetPath string, opts storage.WriteOptions) error {
	data, err := json.Marshal(sidecar{
		ContentType: opts.ContentType,
		ACL:         opts.ACL,
		Metadata:    opts.Metadata,
	})
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(targetPath+metaSuffix, data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

type progressWriter struct {
	counter *storage.ProgressCounter
}

func (w progressWriter) Write(b []byte) (int, error) {
	w.counter.Add(int64(len(b)))
	return len(b), nil
}
