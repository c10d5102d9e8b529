package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"dropwatch/internal/config"
	"dropwatch/internal/database"
	"dropwatch/internal/ingest"
	"dropwatch/internal/logging"
	"dropwatch/internal/migrations"
	"dropwatch/internal/repository/memory"
	"dropwatch/internal/repository/postgres"
	"dropwatch/internal/service"
	"dropwatch/internal/storage"
	"dropwatch/internal/storage/backend"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
)

// Version 在构建时通过 -ldflags 注入。
var Version = "dev"

var rootDir string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dropwatch",
		Short:   "Watch a folder and upload descriptor/media pairs to object storage",
		Version: Version,
		Long: `dropwatch watches a folder for descriptor files, pairs each one with its media
file, uploads the media to the configured object store and moves both files
to done/ or error/.

The watched folder is taken from --root or the MONITORED_FOLDER environment variable.
Configuration is read from <root>/config/config.json (or config.yaml).`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&rootDir, "root", "r", os.Getenv("MONITORED_FOLDER"), "Watched folder (or set MONITORED_FOLDER env var)")

	cmd.AddCommand(newRunCmd(), newOnceCmd(), newProbeCmd(), newMigrateCmd())
	return cmd
}

// app 汇总各子命令共享的启动结果。
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer
}

// setup 加载配置、创建目录结构并初始化日志。任何一步失败都终止进程。
func setup() (*app, error) {
	if strings.TrimSpace(rootDir) == "" {
		return nil, errors.New("未指定被监控目录，请设置 MONITORED_FOLDER 或使用 --root")
	}

	cfg, err := config.Load(rootDir)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureLayout(); err != nil {
		return nil, err
	}

	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.LogFile(),
	})
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	logger.Info("配置加载完成", "root", cfg.Root, "driver", cfg.StoreDriver, "extension", cfg.WatchExtension)
	return &app{cfg: cfg, logger: logger, closer: closer}, nil
}

func (a *app) Close() {
	_ = a.closer.Close()
}

// probe 对远端存储执行一次写入加删除，校验凭据与写权限。
func (a *app) probe(ctx context.Context) error {
	store, err := backend.Open(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer backend.Close(store)

	if err := storage.Probe(ctx, store, a.cfg.Prefix()); err != nil {
		return fmt.Errorf("credential probe: %w", err)
	}
	a.logger.Info("存储凭据校验通过", "bucket", a.cfg.Bucket)
	return nil
}

// openJournal 配置了 database-url 时使用 Postgres，否则使用内存上传日志。
// 返回的 cleanup 负责关闭数据库连接。
func (a *app) openJournal(ctx context.Context) (*service.IngestService, func(), error) {
	if a.cfg.DatabaseURL == "" {
		a.logger.Info("未配置 database-url，上传日志保存在内存中", "capacity", a.cfg.JournalSize)
		return service.NewIngestService(memory.NewIngestRepository(a.cfg.JournalSize)), func() {}, nil
	}

	db, err := database.Connect(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	applied, err := migrations.Apply(ctx, db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}
	if len(applied) > 0 {
		a.logger.Info("已执行数据库迁移", "migrations", applied)
	}

	return service.NewIngestService(postgres.NewIngestRepository(db)), func() { closeDB(db, a.logger) }, nil
}

// newCycle 以 osfs 打开被监控目录并按配置组装一轮处理。
func (a *app) newCycle(journal ingest.Journal, observer ingest.Observer) *ingest.Cycle {
	cfg := a.cfg
	factory := func(ctx context.Context) (storage.Storage, error) {
		return backend.Open(ctx, cfg)
	}

	cycle := ingest.NewCycle(osfs.New(cfg.Root), factory, ingest.Options{
		Extension:        cfg.WatchExtension,
		Prefix:           cfg.BucketPath,
		ACL:              cfg.ACL,
		Metadata:         cfg.Metadata,
		ConditionalPut:   cfg.ConditionalPut,
		UploadTimeout:    cfg.UploadTimeout,
		MediaGracePeriod: cfg.MediaGracePeriod,
		RelocateRetries:  cfg.RelocateRetries,
		RelocateDelay:    cfg.RelocateDelay,
	}, a.logger)
	cycle.Journal = journal
	if observer != nil {
		cycle.Observer = observer
	}
	return cycle
}

func closeDB(db *sql.DB, logger *slog.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("关闭数据库连接失败", "error", err)
	}
}
