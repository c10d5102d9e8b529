package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ConfigFolder 与 ConfigFilename 相对于被监控目录。
	ConfigFolder   = "config"
	ConfigFilename = "config.json"
	// ConfigFilenameYAML 在 JSON 文件不存在时使用。
	ConfigFilenameYAML = "config.yaml"

	DoneFolder  = "done"
	ErrorFolder = "error"
	LogsFolder  = "logs"

	DefaultMonitoringDelay = 5 * time.Second
	DefaultRelocateRetries = 3
	DefaultRelocateDelay   = time.Second
	DefaultJournalSize     = 1000

	DriverS3    = "s3"
	DriverAWS   = "aws"
	DriverGCS   = "gcs"
	DriverLocal = "local"
)

// LogConfig 描述日志子系统的配置。
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // text 或 json
	File   string `json:"file" yaml:"file"`     // 相对被监控目录，空表示 logs/dropwatch.log
}

// fileConfig 与磁盘上的配置文件一一对应，时间单位为秒。
type fileConfig struct {
	Region             string            `json:"region" yaml:"region"`
	AWSKey             string            `json:"aws_key" yaml:"aws_key"`
	AWSSecret          string            `json:"aws_secret" yaml:"aws_secret"`
	Bucket             string            `json:"bucket" yaml:"bucket"`
	BucketPath         *string           `json:"bucket-path" yaml:"bucket-path"`
	ACL                string            `json:"s3-acl" yaml:"s3-acl"`
	Metadata           map[string]string `json:"metadata" yaml:"metadata"`
	WatchExtension     string            `json:"watch-extension" yaml:"watch-extension"`
	MonitoringDelay    float64           `json:"monitoring-delay" yaml:"monitoring-delay"`
	LogConfig          LogConfig         `json:"log-config" yaml:"log-config"`
	StoreDriver        string            `json:"store-driver" yaml:"store-driver"`
	Endpoint           string            `json:"endpoint" yaml:"endpoint"`
	UseSSL             *bool             `json:"use-ssl" yaml:"use-ssl"`
	PathStyle          bool              `json:"path-style" yaml:"path-style"`
	LocalStoreDir      string            `json:"local-store-dir" yaml:"local-store-dir"`
	ConditionalPut     *bool             `json:"conditional-put" yaml:"conditional-put"`
	UploadTimeout      float64           `json:"upload-timeout" yaml:"upload-timeout"`
	RelocateRetries    *int              `json:"relocate-retries" yaml:"relocate-retries"`
	RelocateDelay      float64           `json:"relocate-delay" yaml:"relocate-delay"`
	MediaGracePeriod   float64           `json:"media-grace-period" yaml:"media-grace-period"`
	WatchNotify        bool              `json:"watch-notify" yaml:"watch-notify"`
	DatabaseURL        string            `json:"database-url" yaml:"database-url"`
	JournalSize        int               `json:"journal-size" yaml:"journal-size"`
	HTTPAddr           string            `json:"http-addr" yaml:"http-addr"`
	APIKeys            []string          `json:"api-keys" yaml:"api-keys"`
	RateLimitRequests  int               `json:"rate-limit-requests" yaml:"rate-limit-requests"`
	RateLimitWindow    float64           `json:"rate-limit-window" yaml:"rate-limit-window"`
	GCSCredentialsFile string            `json:"gcs-credentials-file" yaml:"gcs-credentials-file"`
}

// Config 聚合进程生命周期内只读的全部配置。
type Config struct {
	Root string

	// 远端存储
	StoreDriver        string
	Region             string
	AccessKey          string
	SecretKey          string
	Bucket             string
	BucketPath         *string // nil 表示不加前缀
	ACL                string
	Endpoint           string
	UseSSL             bool
	PathStyle          bool
	LocalStoreDir      string
	GCSCredentialsFile string
	ConditionalPut     bool
	UploadTimeout      time.Duration

	// 处理流程
	Metadata         map[string]string
	WatchExtension   string
	MonitoringDelay  time.Duration
	RelocateRetries  int
	RelocateDelay    time.Duration
	MediaGracePeriod time.Duration
	WatchNotify      bool

	Log LogConfig

	// 上传日志与状态接口
	DatabaseURL       string
	JournalSize       int
	HTTPAddr          string
	APIKeys           []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Load 读取 <root>/config/config.json（不存在时尝试 config.yaml），
// 再叠加环境变量覆盖并补齐默认值。
func Load(root string) (*Config, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("被监控目录为空")
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("解析被监控目录失败: %w", err)
	}

	raw, err := readFile(absRoot)
	if err != nil {
		return nil, err
	}

	cfg, err := resolve(absRoot, raw)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(root string) (*fileConfig, error) {
	dir := filepath.Join(root, ConfigFolder)

	jsonPath := filepath.Join(dir, ConfigFilename)
	data, err := os.ReadFile(jsonPath)
	if err == nil {
		var raw fileConfig
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("解析配置文件 %s 失败: %w", jsonPath, err)
		}
		return &raw, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", jsonPath, err)
	}

	yamlPath := filepath.Join(dir, ConfigFilenameYAML)
	data, err = os.ReadFile(yamlPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", jsonPath, err)
	}
	var raw fileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", yamlPath, err)
	}
	return &raw, nil
}

func resolve(root string, raw *fileConfig) (*Config, error) {
	rateLimitRequests, err := parseIntEnv("DROPWATCH_RATE_LIMIT_REQUESTS", positiveOr(raw.RateLimitRequests, 60))
	if err != nil {
		return nil, err
	}

	rateLimitWindow, err := parseDurationEnv("DROPWATCH_RATE_LIMIT_WINDOW", seconds(raw.RateLimitWindow, time.Minute))
	if err != nil {
		return nil, err
	}

	monitoringDelay, err := parseDurationEnv("DROPWATCH_MONITORING_DELAY", seconds(raw.MonitoringDelay, DefaultMonitoringDelay))
	if err != nil {
		return nil, err
	}

	// 0 表示 rename 后源文件仍在时不再重试；未配置或为负数时使用默认值
	relocateRetries := DefaultRelocateRetries
	if raw.RelocateRetries != nil && *raw.RelocateRetries >= 0 {
		relocateRetries = *raw.RelocateRetries
	}

	driver := strings.ToLower(envOrDefault("DROPWATCH_STORE_DRIVER", raw.StoreDriver))
	if driver == "" {
		driver = DriverS3
	}

	endpoint := envOrDefault("DROPWATCH_ENDPOINT", raw.Endpoint)
	if endpoint == "" && driver == DriverS3 {
		endpoint = "s3.amazonaws.com"
	}

	useSSL := true
	if raw.UseSSL != nil {
		useSSL = *raw.UseSSL
	}

	conditionalPut := true
	if raw.ConditionalPut != nil {
		conditionalPut = *raw.ConditionalPut
	}

	apiKeys := parseList(os.Getenv("DROPWATCH_API_KEYS"))
	if len(apiKeys) == 0 {
		apiKeys = trimList(raw.APIKeys)
	}

	localStoreDir := raw.LocalStoreDir
	if localStoreDir != "" && !filepath.IsAbs(localStoreDir) {
		localStoreDir = filepath.Join(root, localStoreDir)
	}

	logCfg := raw.LogConfig
	if logCfg.File == "" {
		logCfg.File = filepath.Join(LogsFolder, "dropwatch.log")
	}
	if logCfg.Level == "" {
		logCfg.Level = "info"
	}

	return &Config{
		Root:               root,
		StoreDriver:        driver,
		Region:             envOrDefault("DROPWATCH_REGION", raw.Region),
		AccessKey:          envOrDefault("DROPWATCH_AWS_KEY", raw.AWSKey),
		SecretKey:          envOrDefault("DROPWATCH_AWS_SECRET", raw.AWSSecret),
		Bucket:             envOrDefault("DROPWATCH_BUCKET", raw.Bucket),
		BucketPath:         raw.BucketPath,
		ACL:                raw.ACL,
		Endpoint:           endpoint,
		UseSSL:             parseBoolEnv("DROPWATCH_USE_SSL", useSSL),
		PathStyle:          parseBoolEnv("DROPWATCH_PATH_STYLE", raw.PathStyle),
		LocalStoreDir:      localStoreDir,
		GCSCredentialsFile: raw.GCSCredentialsFile,
		ConditionalPut:     parseBoolEnv("DROPWATCH_CONDITIONAL_PUT", conditionalPut),
		UploadTimeout:      seconds(raw.UploadTimeout, 0),
		Metadata:           normalizeMetadata(raw.Metadata),
		WatchExtension:     strings.TrimPrefix(strings.TrimSpace(raw.WatchExtension), "."),
		MonitoringDelay:    monitoringDelay,
		RelocateRetries:    relocateRetries,
		RelocateDelay:      seconds(raw.RelocateDelay, DefaultRelocateDelay),
		MediaGracePeriod:   seconds(raw.MediaGracePeriod, 0),
		WatchNotify:        parseBoolEnv("DROPWATCH_WATCH_NOTIFY", raw.WatchNotify),
		Log:                logCfg,
		DatabaseURL:        envOrDefault("DATABASE_URL", raw.DatabaseURL),
		JournalSize:        positiveOr(raw.JournalSize, DefaultJournalSize),
		HTTPAddr:           envOrDefault("DROPWATCH_HTTP_ADDR", raw.HTTPAddr),
		APIKeys:            apiKeys,
		RateLimitRequests:  rateLimitRequests,
		RateLimitWindow:    rateLimitWindow,
	}, nil
}

// Validate 检查必填项与驱动组合是否合法。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}
	if c.WatchExtension == "" {
		return errors.New("watch-extension 不能为空")
	}
	switch c.StoreDriver {
	case DriverS3, DriverAWS, DriverGCS:
		if c.Bucket == "" {
			return fmt.Errorf("存储驱动 %s 需要配置 bucket", c.StoreDriver)
		}
	case DriverLocal:
		if c.LocalStoreDir == "" {
			return errors.New("存储驱动 local 需要配置 local-store-dir")
		}
	default:
		return fmt.Errorf("未知的存储驱动 %q", c.StoreDriver)
	}
	return nil
}

// Prefix 返回上传 key 的前缀，未配置时为空串。
func (c *Config) Prefix() string {
	if c == nil || c.BucketPath == nil {
		return ""
	}
	return *c.BucketPath
}

// DoneDir 等目录路径均为绝对路径。
func (c *Config) DoneDir() string  { return filepath.Join(c.Root, DoneFolder) }
func (c *Config) ErrorDir() string { return filepath.Join(c.Root, ErrorFolder) }

// LogFile 返回日志文件的绝对路径。
func (c *Config) LogFile() string {
	if filepath.IsAbs(c.Log.File) {
		return c.Log.File
	}
	return filepath.Join(c.Root, c.Log.File)
}

// EnsureLayout 创建 done/、error/、logs/ 目录。
func (c *Config) EnsureLayout() error {
	for _, dir := range []string{c.DoneDir(), c.ErrorDir(), filepath.Dir(c.LogFile())} {
		if err := ensureDir(dir); err != nil {
			return fmt.Errorf("确保目录失败: %w", err)
		}
	}
	return nil
}

func ensureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("路径 %s 已存在但不是目录", path)
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(path, 0o755)
	}

	return err
}

func normalizeMetadata(meta map[string]string) map[string]string {
	if meta == nil {
		return map[string]string{}
	}
	return meta
}

func seconds(value float64, defaultValue time.Duration) time.Duration {
	if value <= 0 || math.IsNaN(value) {
		return defaultValue
	}
	return time.Duration(value * float64(time.Second))
}

func positiveOr(value, defaultValue int) int {
	if value <= 0 {
		return defaultValue
	}
	return value
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	return trimList(strings.Split(raw, ","))
}

func trimList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseBoolEnv(key string, defaultValue bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	lower := strings.ToLower(raw)
	return lower == "true" || lower == "1" || lower == "yes"
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
