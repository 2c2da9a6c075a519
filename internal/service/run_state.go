package service

import (
	"fmt"
	"time"

	"github.com/yuqie6/DungeonMirror/internal/calendar"
	"github.com/yuqie6/DungeonMirror/internal/schema"
)

// 状态迁移动作
const (
	ActionStart    = "start"
	ActionComplete = "complete"
	ActionCancel   = "cancel"
)

func invalidTransition(action string, s *schema.DungeonStat) error {
	return fmt.Errorf("%w: %s 不允许在 %s 状态下执行 (dungeon=%s character=%s)",
		ErrInvalidTransition, action, s.State(), s.DungeonID, s.CharacterID)
}

// StartRun NotStarted → InProgress。失败时不修改 s
func StartRun(s *schema.DungeonStat, now time.Time) error {
	if s.InProgress {
		return invalidTransition(ActionStart, s)
	}
	s.InProgress = true
	s.StartTime = now.UnixMilli()
	return nil
}

// CancelRun InProgress → NotStarted，不产生记录也不改计数
func CancelRun(s *schema.DungeonStat) error {
	if !s.InProgress {
		return invalidTransition(ActionCancel, s)
	}
	s.InProgress = false
	s.StartTime = 0
	return nil
}

// CompleteRun InProgress → NotStarted，返回待追加的完成记录并在 s 上做增量统计。
// 增量结果只是快速路径，任何日志外部修改之后以全量重算为准
func CompleteRun(s *schema.DungeonStat, char schema.Character, dungeon schema.Dungeon, now time.Time, cal calendar.Calendar) (*schema.CompletionRecord, error) {
	if !s.InProgress {
		return nil, invalidTransition(ActionComplete, s)
	}

	duration := (now.UnixMilli() - s.StartTime) / 1000
	if duration < 0 {
		duration = 0
	}
	rec := NewRecord(char, dungeon.Name, now, duration, cal)

	s.InProgress = false
	s.StartTime = 0
	ApplyIncremental(s, *rec, now, cal)
	return rec, nil
}

// NewRecord 构造一条完成记录（角色快照为值拷贝）
func NewRecord(char schema.Character, dungeonName string, completedAt time.Time, duration int64, cal calendar.Calendar) *schema.CompletionRecord {
	return &schema.CompletionRecord{
		DungeonName: dungeonName,
		CharacterID: char.ID,
		Character:   char.Snapshot(),
		CompletedAt: completedAt.UnixMilli(),
		WeekNumber:  cal.WeekNumber(completedAt),
		Year:        cal.WeekYear(completedAt),
		Duration:    duration,
		Source:      schema.RecordSourceRun,
		Revision:    1,
		Drops:       []schema.DropItem{},
	}
}

// ApplyIncremental 追加一条记录后的增量统计。
// 上次完成早于本游戏周开始时，本周计数已过期，先归零
func ApplyIncremental(s *schema.DungeonStat, rec schema.CompletionRecord, now time.Time, cal calendar.Calendar) {
	if s.LastCompleted > 0 && s.LastCompleted < cal.WeekStart(now).UnixMilli() {
		s.WeeklyCount = 0
	}
	applyRecord(s, rec, now, cal)
}
