package schema

import (
	"time"
)

// 记录来源
const (
	RecordSourceRun    = "run"    // 计时完成
	RecordSourceManual = "manual" // 手动补录
)

// CompletionRecord 副本完成记录，统计的唯一事实来源
// 数据量级：万级/年
type CompletionRecord struct {
	ID          int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	DungeonName string            `gorm:"size:100;index" json:"dungeon_name"`
	CharacterID string            `gorm:"size:36;index" json:"character_id"` // 创建时的规范角色 ID
	Character   CharacterSnapshot `gorm:"embedded;embeddedPrefix:char_" json:"character"`
	CompletedAt int64             `gorm:"index" json:"completed_at"` // Unix 毫秒
	WeekNumber  int               `gorm:"default:0" json:"week_number"`
	Year        int               `gorm:"default:0" json:"year"`
	Duration    int64             `gorm:"default:0" json:"duration"` // 秒
	Source      string            `gorm:"size:16;default:run" json:"source"`
	Revision    int               `gorm:"default:1" json:"revision"` // 每次修改 +1，用于丢弃过期的异步结果
	Drops       []DropItem        `gorm:"foreignKey:RecordID;constraint:OnDelete:CASCADE" json:"drops"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (CompletionRecord) TableName() string {
	return "completion_records"
}

// CompletedTime 完成时间
func (r CompletionRecord) CompletedTime() time.Time {
	return time.UnixMilli(r.CompletedAt)
}

// DropItem 掉落物，随所属记录级联删除
type DropItem struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RecordID  int64     `gorm:"index;not null" json:"record_id"`
	Name      string    `gorm:"size:100" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 指定表名
func (DropItem) TableName() string {
	return "drop_items"
}
