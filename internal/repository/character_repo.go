package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/yuqie6/DungeonMirror/internal/schema"
	"gorm.io/gorm"
)

// CharacterRepository 角色仓储
type CharacterRepository struct {
	db *gorm.DB
}

// NewCharacterRepository 创建仓储
func NewCharacterRepository(db *gorm.DB) *CharacterRepository {
	return &CharacterRepository{db: db}
}

// Create 创建角色
func (r *CharacterRepository) Create(ctx context.Context, c *schema.Character) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("角色 ID 不能为空")
	}
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("创建角色失败: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取角色
func (r *CharacterRepository) GetByID(ctx context.Context, id string) (*schema.Character, error) {
	var c schema.Character
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询角色失败: %w", err)
	}
	return &c, nil
}

// GetAll 获取所有角色（按创建顺序）
func (r *CharacterRepository) GetAll(ctx context.Context) ([]schema.Character, error) {
	var chars []schema.Character
	if err := r.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&chars).Error; err != nil {
		return nil, fmt.Errorf("查询角色失败: %w", err)
	}
	return chars, nil
}

// FindByIdentity 按 服务器/角色名/门派 查找（可能多条）
func (r *CharacterRepository) FindByIdentity(ctx context.Context, server, name, school string) ([]schema.Character, error) {
	var chars []schema.Character
	err := r.db.WithContext(ctx).
		Where("server = ? AND name = ? AND school = ?", server, name, school).
		Order("created_at ASC").
		Find(&chars).Error
	if err != nil {
		return nil, fmt.Errorf("查询角色失败: %w", err)
	}
	return chars, nil
}

// Update 更新角色展示字段（ID 不变）
func (r *CharacterRepository) Update(ctx context.Context, c *schema.Character) error {
	res := r.db.WithContext(ctx).Model(&schema.Character{}).Where("id = ?", c.ID).Updates(map[string]any{
		"server":    c.Server,
		"name":      c.Name,
		"school":    c.School,
		"body_type": c.BodyType,
	})
	if res.Error != nil {
		return fmt.Errorf("更新角色失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
