package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/go-git/go-billy/v5"
)

// ErrMalformedDescriptor 表示描述文件无法解析或缺少必填字段。
var ErrMalformedDescriptor = errors.New("malformed descriptor")

// 描述文件中的必填字段。
const (
	FieldFilename  = "filename"
	FieldExtension = "extension"
)

// Descriptor 是描述文件的内容：两个必填字段加任意附加字段。
type Descriptor map[string]any

// Filename 返回 filename 字段，调用前需经过 Resolve 校验。
func (d Descriptor) Filename() string {
	s, _ := d[FieldFilename].(string)
	return s
}

func (d Descriptor) Extension() string {
	s, _ := d[FieldExtension].(string)
	return s
}

// Pair 是一次处理的工作单元。路径均相对于被监控目录。
type Pair struct {
	DescriptorName string
	MediaName      string
}

// Resolver 读取描述文件并推导媒体文件名。
type Resolver struct {
	fs billy.Filesystem
}

func NewResolver(fs billy.Filesystem) *Resolver {
	return &Resolver{fs: fs}
}

// Resolve 解析描述文件 name。返回的错误都包装了 ErrMalformedDescriptor。
func (r *Resolver) Resolve(name string) (Pair, Descriptor, error) {
	pair := Pair{DescriptorName: name}

	f, err := r.fs.Open(name)
	if err != nil {
		return pair, nil, fmt.Errorf("open descriptor %s: %w: %w", name, ErrMalformedDescriptor, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return pair, nil, fmt.Errorf("read descriptor %s: %w: %w", name, ErrMalformedDescriptor, err)
	}

	desc, err := decodeDescriptor(data)
	if err != nil {
		return pair, nil, fmt.Errorf("decode descriptor %s: %w: %w", name, ErrMalformedDescriptor, err)
	}

	filename, err := requiredString(desc, FieldFilename)
	if err != nil {
		return pair, desc, fmt.Errorf("descriptor %s: %w: %w", name, ErrMalformedDescriptor, err)
	}
	extension, err := requiredString(desc, FieldExtension)
	if err != nil {
		return pair, desc, fmt.Errorf("descriptor %s: %w: %w", name, ErrMalformedDescriptor, err)
	}

	media := filename + extension
	// 媒体文件必须与描述文件同在根目录
	if strings.ContainsAny(media, `/\`) || media == "." || media == ".." {
		return pair, desc, fmt.Errorf("descriptor %s: %w: media name %q is not a plain file name", name, ErrMalformedDescriptor, media)
	}

	if media == name {
		return pair, desc, fmt.Errorf("descriptor %s: %w: media name equals the descriptor itself", name, ErrMalformedDescriptor)
	}

	pair.MediaName = media
	return pair, desc, nil
}

func decodeDescriptor(data []byte) (Descriptor, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var desc Descriptor
	if err := dec.Decode(&desc); err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, errors.New("descriptor is not an object")
	}
	return desc, nil
}

func requiredString(desc Descriptor, field string) (string, error) {
	raw, ok := desc[field]
	if !ok {
		return "", fmt.Errorf("missing field %q", field)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("field %q is %T, want string", field, raw)
	}
	if s == "" {
		return "", fmt.Errorf("field %q is empty", field)
	}
	return s, nil
}

// ExtractMetadata 按 mapping（上传元数据 key → 描述文件字段名）提取元数据。
// 字段缺失或为假值时跳过；单个字段编码失败只记录日志，不影响其余字段。
func ExtractMetadata(desc Descriptor, mapping map[string]string, logger *slog.Logger) map[string]string {
	out := make(map[string]string, len(mapping))

	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, metaKey := range keys {
		field := mapping[metaKey]
		value, ok := desc[field]
		if !ok || isFalsy(value) {
			continue
		}

		s, err := formatValue(value)
		if err != nil {
			logger.Warn("提取元数据字段失败", "key", metaKey, "field", field, "error", err)
			continue
		}
		out[metaKey] = s
	}
	return out
}

func isFalsy(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case bool:
		return !val
	case string:
		return val == ""
	case json.Number:
		f, err := val.Float64()
		return err == nil && f == 0
	case float64:
		return val == 0
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

func formatValue(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case bool:
		return strconv.FormatBool(val), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("encode %T: %w", val, err)
		}
		return string(data), nil
	}
}

// UploadKey 拼接上传 key；prefix 非 nil 时无条件作为前缀。
func UploadKey(prefix *string, mediaName string) string {
	if prefix == nil {
		return mediaName
	}
	return *prefix + mediaName
}
