package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yuqie6/DungeonMirror/internal/schema"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordRepository 完成记录仓储。纯日志：不持有任何统计
type RecordRepository struct {
	db *gorm.DB
}

// NewRecordRepository 创建仓储
func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// RecordPair 受影响的 (角色, 副本) 组合
type RecordPair struct {
	CharacterID string
	DungeonName string
}

// RecordChange 一次删除/修改前后的记录，删除时 After 为 nil
type RecordChange struct {
	Before *schema.CompletionRecord
	After  *schema.CompletionRecord
}

// AffectsAggregates 是否改动了参与统计的字段（角色、副本、时间、时长）
func (c RecordChange) AffectsAggregates() bool {
	if c.Before == nil || c.After == nil {
		return c.Before != nil || c.After != nil
	}
	b, a := c.Before, c.After
	return b.CharacterID != a.CharacterID ||
		b.Character.IdentityKey() != a.Character.IdentityKey() ||
		b.DungeonName != a.DungeonName ||
		b.CompletedAt != a.CompletedAt ||
		b.Duration != a.Duration
}

// AffectedPairs 返回统计失效的组合
func (c RecordChange) AffectedPairs() []RecordPair {
	if !c.AffectsAggregates() {
		return nil
	}
	out := make([]RecordPair, 0, 2)
	if c.Before != nil {
		out = append(out, RecordPair{CharacterID: c.Before.CharacterID, DungeonName: c.Before.DungeonName})
	}
	if c.After != nil {
		p := RecordPair{CharacterID: c.After.CharacterID, DungeonName: c.After.DungeonName}
		if len(out) == 0 || out[0] != p {
			out = append(out, p)
		}
	}
	return out
}

// Append 追加记录（含掉落物）
func (r *RecordRepository) Append(ctx context.Context, rec *schema.CompletionRecord) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	if rec.DungeonName == "" || rec.CompletedAt <= 0 {
		return fmt.Errorf("invalid record: dungeon=%q completed_at=%d", rec.DungeonName, rec.CompletedAt)
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("写入记录失败: %w", err)
	}
	return nil
}

// GetByID 获取记录（含掉落物），不存在返回 nil
func (r *RecordRepository) GetByID(ctx context.Context, id int64) (*schema.CompletionRecord, error) {
	return r.getByID(r.db.WithContext(ctx), id)
}

func (r *RecordRepository) getByID(tx *gorm.DB, id int64) (*schema.CompletionRecord, error) {
	var rec schema.CompletionRecord
	err := tx.Preload("Drops", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询记录失败: %w", err)
	}
	return &rec, nil
}

// All 按插入顺序返回全部记录
func (r *RecordRepository) All(ctx context.Context) ([]schema.CompletionRecord, error) {
	var records []schema.CompletionRecord
	err := r.db.WithContext(ctx).
		Preload("Drops", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("查询记录失败: %w", err)
	}
	return records, nil
}

// GetByTimeRange 按完成时间闭区间查询
func (r *RecordRepository) GetByTimeRange(ctx context.Context, startTime, endTime int64) ([]schema.CompletionRecord, error) {
	var records []schema.CompletionRecord
	err := r.db.WithContext(ctx).
		Preload("Drops").
		Where("completed_at >= ? AND completed_at <= ?", startTime, endTime).
		Order("completed_at ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("查询记录失败: %w", err)
	}
	return records, nil
}

// Count 统计记录总数
func (r *RecordRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&schema.CompletionRecord{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("统计记录失败: %w", err)
	}
	return count, nil
}

// Delete 删除记录及其掉落物，记录不存在时 Before 为 nil
func (r *RecordRepository) Delete(ctx context.Context, id int64) (RecordChange, error) {
	var change RecordChange
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		before, err := r.getByID(tx, id)
		if err != nil || before == nil {
			return err
		}
		// 不依赖外键级联，显式删除掉落物
		if err := tx.Where("record_id = ?", id).Delete(&schema.DropItem{}).Error; err != nil {
			return fmt.Errorf("删除掉落物失败: %w", err)
		}
		if err := tx.Delete(&schema.CompletionRecord{}, id).Error; err != nil {
			return fmt.Errorf("删除记录失败: %w", err)
		}
		change.Before = before
		return nil
	})
	if err != nil {
		return RecordChange{}, err
	}
	if change.Before != nil {
		slog.Info("删除完成记录", "record_id", id, "dungeon", change.Before.DungeonName, "character_id", change.Before.CharacterID)
	}
	return change, nil
}

// Update 在事务中读取记录、应用 mutate 并写回，Revision 自增。
// mutate 可改角色快照、时间、时长、掉落物（ID 为 0 的掉落物视为新增，缺失的视为删除）
func (r *RecordRepository) Update(ctx context.Context, id int64, mutate func(rec *schema.CompletionRecord) error) (RecordChange, error) {
	var change RecordChange
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		before, err := r.getByID(tx, id)
		if err != nil {
			return err
		}
		if before == nil {
			return gorm.ErrRecordNotFound
		}

		after := *before
		after.Drops = append([]schema.DropItem(nil), before.Drops...)
		if err := mutate(&after); err != nil {
			return err
		}
		after.ID = before.ID
		after.Revision = before.Revision + 1
		after.UpdatedAt = time.Now()

		if err := tx.Omit(clause.Associations).Save(&after).Error; err != nil {
			return fmt.Errorf("更新记录失败: %w", err)
		}

		keep := make([]int64, 0, len(after.Drops))
		for i := range after.Drops {
			d := &after.Drops[i]
			if d.ID != 0 {
				keep = append(keep, d.ID)
				continue
			}
			d.RecordID = after.ID
			if err := tx.Create(d).Error; err != nil {
				return fmt.Errorf("写入掉落物失败: %w", err)
			}
			keep = append(keep, d.ID)
		}
		del := tx.Where("record_id = ?", after.ID)
		if len(keep) > 0 {
			del = del.Where("id NOT IN ?", keep)
		}
		if err := del.Delete(&schema.DropItem{}).Error; err != nil {
			return fmt.Errorf("删除掉落物失败: %w", err)
		}

		change.Before = before
		change.After = &after
		return nil
	})
	if err != nil {
		return RecordChange{}, err
	}
	return change, nil
}
