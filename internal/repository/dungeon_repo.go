package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/yuqie6/DungeonMirror/internal/schema"
	"gorm.io/gorm"
)

// DungeonRepository 副本仓储
type DungeonRepository struct {
	db *gorm.DB
}

// NewDungeonRepository 创建仓储
func NewDungeonRepository(db *gorm.DB) *DungeonRepository {
	return &DungeonRepository{db: db}
}

// Create 创建副本
func (r *DungeonRepository) Create(ctx context.Context, d *schema.Dungeon) error {
	if d == nil || d.ID == "" || d.Name == "" {
		return fmt.Errorf("副本 ID/名称不能为空")
	}
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("创建副本失败: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取副本
func (r *DungeonRepository) GetByID(ctx context.Context, id string) (*schema.Dungeon, error) {
	return r.first(ctx, "id = ?", id)
}

// GetByName 根据名称获取副本
func (r *DungeonRepository) GetByName(ctx context.Context, name string) (*schema.Dungeon, error) {
	return r.first(ctx, "name = ?", name)
}

func (r *DungeonRepository) first(ctx context.Context, query string, arg any) (*schema.Dungeon, error) {
	var d schema.Dungeon
	err := r.db.WithContext(ctx).Where(query, arg).First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询副本失败: %w", err)
	}
	return &d, nil
}

// GetAll 获取所有副本
func (r *DungeonRepository) GetAll(ctx context.Context) ([]schema.Dungeon, error) {
	var dungeons []schema.Dungeon
	if err := r.db.WithContext(ctx).Order("category_id ASC, name ASC").Find(&dungeons).Error; err != nil {
		return nil, fmt.Errorf("查询副本失败: %w", err)
	}
	return dungeons, nil
}
