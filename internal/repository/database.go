package repository

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite" // 纯 Go SQLite 驱动
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database 数据库管理器
type Database struct {
	DB             *gorm.DB
	SafeMode       bool
	SchemaVersion  int
	MigrationError string
	LastMigration  *MigrationResult

	Blobs   *BlobRepository
	Backups *BackupManager
}

// DatabaseOptions 数据库选项
type DatabaseOptions struct {
	// RollbackOnFailure 迁移失败时自动从迁移前备份恢复
	RollbackOnFailure bool
}

// NewDatabase 创建数据库连接并迁移到最新版本
func NewDatabase(dbPath string, opts DatabaseOptions) (*Database, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn(dbPath)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if err := configureDB(db); err != nil {
		return nil, fmt.Errorf("配置数据库失败: %w", err)
	}

	d := FromDB(db)
	migrator := NewMigrator(db, d.Backups, opts.RollbackOnFailure)
	result := migrator.Migrate(context.Background(), LatestSchemaVersion)
	d.LastMigration = &result
	d.SchemaVersion = result.ToVersion
	if !result.Success {
		// 迁移失败进入“安全模式”，允许只读查看并导出备份。
		d.SafeMode = true
		if result.Err != nil {
			d.MigrationError = result.Err.Error()
		}
		slog.Error("数据库迁移失败，进入安全模式", "error", result.Err, "backup_id", result.BackupID, "rolled_back", result.RolledBack)
	}

	slog.Info("数据库初始化成功", "path", dbPath, "schema_version", d.SchemaVersion)

	return d, nil
}

// FromDB 包装已打开的连接（测试与工具使用，不做迁移）
func FromDB(db *gorm.DB) *Database {
	blobs := NewBlobRepository(db)
	return &Database{
		DB:      db,
		Blobs:   blobs,
		Backups: NewBackupManager(db, blobs),
	}
}

// dsn 为连接附加 pragma。pragma 按连接生效，放在 DSN 中保证连接池里每个连接一致
func dsn(dbPath string) string {
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
	}
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + strings.Join(pragmas, "&")
}

// configureDB 配置 SQLite 性能参数
func configureDB(db *gorm.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",   // 启用 WAL 模式，支持并发读写
		"PRAGMA synchronous=NORMAL", // 平衡性能与安全
		"PRAGMA temp_store=MEMORY",  // 临时表使用内存
	}

	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return fmt.Errorf("执行 %s 失败: %w", pragma, err)
		}
	}

	// 单写者模型：一个连接即可，避免 SQLITE_BUSY
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(1)

	return nil
}

// Close 关闭数据库连接
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
