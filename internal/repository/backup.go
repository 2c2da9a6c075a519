package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yuqie6/DungeonMirror/internal/schema"
	"gorm.io/gorm"
)

const backupPrefix = "backup/"

// BackupManifest 备份清单
type BackupManifest struct {
	ID            string `json:"id"`
	CreatedAt     int64  `json:"created_at"`
	SchemaVersion int    `json:"schema_version"`
	Characters    int    `json:"characters"`
	Dungeons      int    `json:"dungeons"`
	Records       int    `json:"records"`
}

// BackupManager 将全部表导出为 JSON 数据块，并可整体恢复
type BackupManager struct {
	db    *gorm.DB
	blobs *BlobRepository
}

// NewBackupManager 创建备份管理器
func NewBackupManager(db *gorm.DB, blobs *BlobRepository) *BackupManager {
	return &BackupManager{db: db, blobs: blobs}
}

func backupKey(id, name string) string {
	return backupPrefix + id + "/" + name
}

// CreateBackup 创建一份完整备份，返回备份 ID
func (m *BackupManager) CreateBackup(ctx context.Context) (string, error) {
	id := time.Now().Format("20060102-150405") + "-" + uuid.NewString()[:8]

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chars []schema.Character
		if err := tx.Order("created_at ASC").Find(&chars).Error; err != nil {
			return fmt.Errorf("读取角色失败: %w", err)
		}
		var dungeons []schema.Dungeon
		if err := tx.Order("created_at ASC").Find(&dungeons).Error; err != nil {
			return fmt.Errorf("读取副本失败: %w", err)
		}
		var stats []schema.DungeonStat
		if err := tx.Find(&stats).Error; err != nil {
			return fmt.Errorf("读取统计失败: %w", err)
		}
		var records []schema.CompletionRecord
		if err := tx.Preload("Drops").Order("id ASC").Find(&records).Error; err != nil {
			return fmt.Errorf("读取记录失败: %w", err)
		}

		var meta schema.SchemaMeta
		if err := tx.First(&meta, 1).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("读取 schema_meta 失败: %w", err)
		}

		manifest := BackupManifest{
			ID:            id,
			CreatedAt:     time.Now().UnixMilli(),
			SchemaVersion: meta.SchemaVersion,
			Characters:    len(chars),
			Dungeons:      len(dungeons),
			Records:       len(records),
		}

		payloads := map[string]any{
			KeyCharacters:        chars,
			KeyDungeons:          dungeons,
			KeyDungeonStats:      stats,
			KeyCompletionRecords: records,
			KeyManifest:          manifest,
		}
		for name, v := range payloads {
			b, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("序列化 %s 失败: %w", name, err)
			}
			if err := m.blobs.save(tx, backupKey(id, name), b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("创建备份失败: %w", err)
	}

	slog.Info("备份已创建", "backup_id", id)
	return id, nil
}

// ErrBackupCorrupt 备份数据块缺失、无法解码或与清单计数不符
var ErrBackupCorrupt = errors.New("backup corrupt")

// loadBackupBlob 严格读取备份数据块，缺失或解码失败都返回错误
func loadBackupBlob[T any](ctx context.Context, blobs *BlobRepository, backupID, name string, out *T) error {
	raw, ok := blobs.Load(ctx, backupKey(backupID, name))
	if !ok {
		return fmt.Errorf("%w: %s 缺少 %s", ErrBackupCorrupt, backupID, name)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s 解码 %s 失败: %v", ErrBackupCorrupt, backupID, name, err)
	}
	return nil
}

// Restore 用备份整体替换当前数据。备份不存在返回 false；
// 数据块损坏时返回 ErrBackupCorrupt，当前数据保持不变。调用方需随后重算统计
func (m *BackupManager) Restore(ctx context.Context, backupID string) (bool, error) {
	if _, ok := m.blobs.Load(ctx, backupKey(backupID, KeyManifest)); !ok {
		return false, nil
	}

	var (
		manifest BackupManifest
		chars    []schema.Character
		dungeons []schema.Dungeon
		stats    []schema.DungeonStat
		records  []schema.CompletionRecord
	)
	if err := loadBackupBlob(ctx, m.blobs, backupID, KeyManifest, &manifest); err != nil {
		return false, err
	}
	if err := loadBackupBlob(ctx, m.blobs, backupID, KeyCharacters, &chars); err != nil {
		return false, err
	}
	if err := loadBackupBlob(ctx, m.blobs, backupID, KeyDungeons, &dungeons); err != nil {
		return false, err
	}
	if err := loadBackupBlob(ctx, m.blobs, backupID, KeyDungeonStats, &stats); err != nil {
		return false, err
	}
	if err := loadBackupBlob(ctx, m.blobs, backupID, KeyCompletionRecords, &records); err != nil {
		return false, err
	}
	if len(chars) != manifest.Characters || len(dungeons) != manifest.Dungeons || len(records) != manifest.Records {
		return false, fmt.Errorf("%w: %s 清单计数 角色 %d/副本 %d/记录 %d，实际 %d/%d/%d", ErrBackupCorrupt, backupID,
			manifest.Characters, manifest.Dungeons, manifest.Records, len(chars), len(dungeons), len(records))
	}

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&schema.DropItem{}, &schema.CompletionRecord{}, &schema.DungeonStat{}, &schema.Dungeon{}, &schema.Character{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return fmt.Errorf("清空 %T 失败: %w", model, err)
			}
		}
		if len(chars) > 0 {
			if err := tx.CreateInBatches(chars, 100).Error; err != nil {
				return fmt.Errorf("恢复角色失败: %w", err)
			}
		}
		if len(dungeons) > 0 {
			if err := tx.CreateInBatches(dungeons, 100).Error; err != nil {
				return fmt.Errorf("恢复副本失败: %w", err)
			}
		}
		if len(stats) > 0 {
			if err := tx.CreateInBatches(stats, 100).Error; err != nil {
				return fmt.Errorf("恢复统计失败: %w", err)
			}
		}
		// 记录连同掉落物一起写回，保留原 ID 以维持插入顺序
		if len(records) > 0 {
			if err := tx.CreateInBatches(records, 100).Error; err != nil {
				return fmt.Errorf("恢复记录失败: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	slog.Info("备份已恢复", "backup_id", backupID, "characters", len(chars), "dungeons", len(dungeons), "records", len(records))
	return true, nil
}

// ListBackups 按创建时间倒序列出备份
func (m *BackupManager) ListBackups(ctx context.Context) ([]BackupManifest, error) {
	keys, err := m.blobs.ListKeys(ctx, backupPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]BackupManifest, 0)
	for _, k := range keys {
		if !strings.HasSuffix(k, "/"+KeyManifest) {
			continue
		}
		raw, ok := m.blobs.Load(ctx, k)
		if !ok {
			continue
		}
		var mf BackupManifest
		if err := json.Unmarshal(raw, &mf); err != nil {
			slog.Warn("备份清单损坏", "key", k, "error", err)
			continue
		}
		out = append(out, mf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

// DeleteBackup 删除备份，备份不存在返回 false
func (m *BackupManager) DeleteBackup(ctx context.Context, backupID string) (bool, error) {
	n, err := m.blobs.DeletePrefix(ctx, backupPrefix+backupID+"/")
	if err != nil {
		return false, err
	}
	if n > 0 {
		slog.Info("备份已删除", "backup_id", backupID)
	}
	return n > 0, nil
}
