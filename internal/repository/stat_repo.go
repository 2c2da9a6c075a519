package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/yuqie6/DungeonMirror/internal/schema"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StatRepository 派生统计仓储
type StatRepository struct {
	db *gorm.DB
}

// NewStatRepository 创建仓储
func NewStatRepository(db *gorm.DB) *StatRepository {
	return &StatRepository{db: db}
}

// Get 获取单个 (副本, 角色) 统计，不存在返回 nil
func (r *StatRepository) Get(ctx context.Context, dungeonID, characterID string) (*schema.DungeonStat, error) {
	var st schema.DungeonStat
	err := r.db.WithContext(ctx).
		Where("dungeon_id = ? AND character_id = ?", dungeonID, characterID).
		First(&st).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询统计失败: %w", err)
	}
	return &st, nil
}

// GetAll 获取全部统计
func (r *StatRepository) GetAll(ctx context.Context) ([]schema.DungeonStat, error) {
	var stats []schema.DungeonStat
	err := r.db.WithContext(ctx).Order("dungeon_id ASC, character_id ASC").Find(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("查询统计失败: %w", err)
	}
	return stats, nil
}

// ListInProgress 获取进行中的副本
func (r *StatRepository) ListInProgress(ctx context.Context) ([]schema.DungeonStat, error) {
	var stats []schema.DungeonStat
	err := r.db.WithContext(ctx).Where("in_progress = ?", true).Order("start_time ASC").Find(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("查询进行中副本失败: %w", err)
	}
	return stats, nil
}

// Upsert 插入或更新单个统计
func (r *StatRepository) Upsert(ctx context.Context, st *schema.DungeonStat) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dungeon_id"}, {Name: "character_id"}},
		UpdateAll: true,
	}).Create(st).Error
	if err != nil {
		return fmt.Errorf("写入统计失败: %w", err)
	}
	return nil
}

// ReplaceAll 在事务中整体替换全部统计（全量重算后使用）
func (r *StatRepository) ReplaceAll(ctx context.Context, stats []schema.DungeonStat) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&schema.DungeonStat{}).Error; err != nil {
			return fmt.Errorf("清空统计失败: %w", err)
		}
		if len(stats) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(stats, 100).Error; err != nil {
			return fmt.Errorf("写入统计失败: %w", err)
		}
		return nil
	})
}
