package schema

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Dungeon 副本
type Dungeon struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Name       string    `gorm:"size:100;uniqueIndex" json:"name"`
	CategoryID string    `gorm:"size:36;index" json:"category_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (Dungeon) TableName() string {
	return "dungeons"
}

// NewDungeon 创建副本
func NewDungeon(name, categoryID string) *Dungeon {
	return &Dungeon{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(name),
		CategoryID: strings.TrimSpace(categoryID),
	}
}

// RunState 单个 (角色, 副本) 的进行状态
type RunState string

const (
	RunStateNotStarted RunState = "not_started"
	RunStateInProgress RunState = "in_progress"
)

// DungeonStat 每个 (副本, 角色) 的派生统计，是完成记录的物化视图
// 除 InProgress/StartTime 外均可由完成记录完整重算
type DungeonStat struct {
	DungeonID     string    `gorm:"primaryKey;size:36" json:"dungeon_id"`
	CharacterID   string    `gorm:"primaryKey;size:36;index" json:"character_id"`
	CurrentCount  int       `gorm:"default:0" json:"current_count"`  // 展示用，恒等于 TotalCount
	WeeklyCount   int       `gorm:"default:0" json:"weekly_count"`   // 本游戏周次数
	TotalCount    int       `gorm:"default:0" json:"total_count"`    // 累计次数
	LastCompleted int64     `gorm:"default:0" json:"last_completed"` // Unix 毫秒，0 表示从未完成
	InProgress    bool      `gorm:"default:false" json:"in_progress"`
	StartTime     int64     `gorm:"default:0" json:"start_time"`     // Unix 毫秒，仅进行中时非 0
	TotalDuration int64     `gorm:"default:0" json:"total_duration"` // 累计时长（秒）
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (DungeonStat) TableName() string {
	return "dungeon_stats"
}

// State 当前状态
func (s DungeonStat) State() RunState {
	if s.InProgress {
		return RunStateInProgress
	}
	return RunStateNotStarted
}

// ResetCounters 清零所有可由记录重算的字段，保留进行中状态
func (s *DungeonStat) ResetCounters() {
	s.CurrentCount = 0
	s.WeeklyCount = 0
	s.TotalCount = 0
	s.LastCompleted = 0
	s.TotalDuration = 0
}

// HasCounters 是否存在任何计数
func (s DungeonStat) HasCounters() bool {
	return s.TotalCount > 0 || s.WeeklyCount > 0 || s.LastCompleted > 0 || s.TotalDuration > 0
}

// StatKey (副本, 角色) 键
type StatKey struct {
	DungeonID   string
	CharacterID string
}

// Key 返回统计行的键
func (s DungeonStat) Key() StatKey {
	return StatKey{DungeonID: s.DungeonID, CharacterID: s.CharacterID}
}
