package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yuqie6/DungeonMirror/internal/schema"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 持久化键
const (
	KeyCharacters        = "Characters"
	KeyDungeons          = "Dungeons"
	KeyDungeonStats      = "DungeonStats"
	KeyCompletionRecords = "CompletionRecords"
	KeyManifest          = "Manifest"
)

// BlobRepository 以字符串键存取 JSON 数据块
type BlobRepository struct {
	db *gorm.DB
}

// NewBlobRepository 创建仓储
func NewBlobRepository(db *gorm.DB) *BlobRepository {
	return &BlobRepository{db: db}
}

// Load 读取数据块，不存在或读取失败时返回 false
func (r *BlobRepository) Load(ctx context.Context, key string) ([]byte, bool) {
	var b schema.Blob
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&b).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			slog.Warn("读取数据块失败", "key", key, "error", err)
		}
		return nil, false
	}
	return b.Value, true
}

// Save 写入数据块（覆盖）
func (r *BlobRepository) Save(ctx context.Context, key string, blob []byte) error {
	return r.save(r.db.WithContext(ctx), key, blob)
}

func (r *BlobRepository) save(tx *gorm.DB, key string, blob []byte) error {
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&schema.Blob{Key: key, Value: blob}).Error
	if err != nil {
		return fmt.Errorf("写入数据块失败: %w", err)
	}
	return nil
}

// ListKeys 列出指定前缀的键
func (r *BlobRepository) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := r.db.WithContext(ctx).Model(&schema.Blob{}).
		Where("substr(key, 1, ?) = ?", len(prefix), prefix).
		Order("key ASC").
		Pluck("key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("列出数据块失败: %w", err)
	}
	return keys, nil
}

// DeletePrefix 删除指定前缀的全部数据块
func (r *BlobRepository) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	res := r.db.WithContext(ctx).Where("substr(key, 1, ?) = ?", len(prefix), prefix).Delete(&schema.Blob{})
	if res.Error != nil {
		return 0, fmt.Errorf("删除数据块失败: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Loader 只读持久化接口
type Loader interface {
	Load(ctx context.Context, key string) ([]byte, bool)
}

// LoadList 读取并解码 JSON 列表；缺失或解码失败都视为“没有数据”
func LoadList[T any](ctx context.Context, p Loader, key string) []T {
	raw, ok := p.Load(ctx, key)
	if !ok || len(raw) == 0 {
		return []T{}
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		slog.Warn("解码数据块失败，按空数据处理", "key", key, "error", err)
		return []T{}
	}
	if out == nil {
		return []T{}
	}
	return out
}
