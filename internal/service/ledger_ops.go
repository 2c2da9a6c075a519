package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yuqie6/DungeonMirror/internal/calendar"
	"github.com/yuqie6/DungeonMirror/internal/eventbus"
	"github.com/yuqie6/DungeonMirror/internal/observability"
	"github.com/yuqie6/DungeonMirror/internal/repository"
	"github.com/yuqie6/DungeonMirror/internal/schema"
	"gorm.io/gorm"
)

// ===== 角色 / 副本登记 =====

// CharacterInput 角色字段
type CharacterInput struct {
	Server   string `json:"server"`
	Name     string `json:"name"`
	School   string `json:"school"`
	BodyType string `json:"body_type"`
}

func (in CharacterInput) validate() error {
	if strings.TrimSpace(in.Server) == "" || strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.School) == "" {
		return fmt.Errorf("%w: 服务器、角色名、门派不能为空", ErrInvalidInput)
	}
	return nil
}

// AddCharacter 登记角色
func (l *Ledger) AddCharacter(ctx context.Context, in CharacterInput) (*schema.Character, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	return mutate(ctx, l, "add_character", func(ctx context.Context) (*schema.Character, error) {
		c := schema.NewCharacter(in.Server, in.Name, in.School, in.BodyType)
		dups, err := l.chars.FindByIdentity(ctx, c.Server, c.Name, c.School)
		if err != nil {
			return nil, err
		}
		if len(dups) > 0 {
			// 允许同名登记，但缺少角色 ID 的旧记录将无法兜底匹配
			slog.Warn("存在相同 服务器/角色名/门派 的角色", "character", c.Snapshot().Label(), "existing", len(dups))
		}
		if err := l.chars.Create(ctx, c); err != nil {
			return nil, err
		}
		slog.Info("角色已登记", "character_id", c.ID, "character", c.Snapshot().Label())
		return c, nil
	})
}

// UpdateCharacter 修改角色展示字段，ID 不变。
// 旧记录的快照保持原值；兜底匹配结果可能变化，因此随后重算
func (l *Ledger) UpdateCharacter(ctx context.Context, id string, in CharacterInput) (*schema.Character, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	return mutate(ctx, l, "update_character", func(ctx context.Context) (*schema.Character, error) {
		c, err := l.chars.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, fmt.Errorf("%w: %s", ErrCharacterNotFound, id)
		}
		updated := schema.NewCharacter(in.Server, in.Name, in.School, in.BodyType)
		updated.ID = c.ID
		updated.CreatedAt = c.CreatedAt
		if err := l.chars.Update(ctx, updated); err != nil {
			return nil, err
		}
		if _, err := l.resync(ctx); err != nil {
			return nil, err
		}
		return updated, nil
	})
}

// ListCharacters 列出角色
func (l *Ledger) ListCharacters(ctx context.Context) ([]schema.Character, error) {
	return submit(ctx, l, "list_characters", func(ctx context.Context) ([]schema.Character, error) {
		return l.chars.GetAll(ctx)
	})
}

// AddDungeon 登记副本，名称唯一
func (l *Ledger) AddDungeon(ctx context.Context, name, categoryID string) (*schema.Dungeon, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: 副本名不能为空", ErrInvalidInput)
	}
	return mutate(ctx, l, "add_dungeon", func(ctx context.Context) (*schema.Dungeon, error) {
		d := schema.NewDungeon(name, categoryID)
		existing, err := l.dungeons.GetByName(ctx, d.Name)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, fmt.Errorf("%w: 副本已存在 %s", ErrInvalidInput, d.Name)
		}
		if err := l.dungeons.Create(ctx, d); err != nil {
			return nil, err
		}
		// 之前因副本未登记而跳过的记录可能可以计入了
		if _, err := l.resync(ctx); err != nil {
			return nil, err
		}
		return d, nil
	})
}

// ListDungeons 列出副本
func (l *Ledger) ListDungeons(ctx context.Context) ([]schema.Dungeon, error) {
	return submit(ctx, l, "list_dungeons", func(ctx context.Context) ([]schema.Dungeon, error) {
		return l.dungeons.GetAll(ctx)
	})
}

// ===== 计时状态机 =====

type runTarget struct {
	char    *schema.Character
	dungeon *schema.Dungeon
	stat    *schema.DungeonStat
}

func (l *Ledger) loadTarget(ctx context.Context, characterID, dungeonID string) (*runTarget, error) {
	char, err := l.chars.GetByID(ctx, characterID)
	if err != nil {
		return nil, err
	}
	if char == nil {
		return nil, fmt.Errorf("%w: %s", ErrCharacterNotFound, characterID)
	}
	dungeon, err := l.dungeons.GetByID(ctx, dungeonID)
	if err != nil {
		return nil, err
	}
	if dungeon == nil {
		return nil, fmt.Errorf("%w: %s", ErrDungeonNotFound, dungeonID)
	}
	stat, err := l.stats.Get(ctx, dungeonID, characterID)
	if err != nil {
		return nil, err
	}
	if stat == nil {
		stat = &schema.DungeonStat{DungeonID: dungeonID, CharacterID: characterID}
	}
	return &runTarget{char: char, dungeon: dungeon, stat: stat}, nil
}

func (l *Ledger) rejected(action string, err error) error {
	if errors.Is(err, ErrInvalidTransition) {
		observability.RecordRejected(action)
		slog.Warn("状态迁移被拒绝", "action", action, "error", err)
	}
	return err
}

// StartRun 开始计时
func (l *Ledger) StartRun(ctx context.Context, characterID, dungeonID string) (*schema.DungeonStat, error) {
	return mutate(ctx, l, ActionStart, func(ctx context.Context) (*schema.DungeonStat, error) {
		t, err := l.loadTarget(ctx, characterID, dungeonID)
		if err != nil {
			return nil, err
		}
		if err := StartRun(t.stat, l.now()); err != nil {
			return nil, l.rejected(ActionStart, err)
		}
		if err := l.stats.Upsert(ctx, t.stat); err != nil {
			return nil, err
		}

		observability.RecordTransition(ActionStart)
		l.hub.Emit(eventbus.TypeRunStarted, map[string]any{
			"character_id": characterID,
			"dungeon_id":   dungeonID,
			"dungeon":      t.dungeon.Name,
			"start_time":   t.stat.StartTime,
		})
		slog.Info("开始计时", "character", t.char.Snapshot().Label(), "dungeon", t.dungeon.Name)
		return t.stat, nil
	})
}

// CompleteRun 完成计时：追加记录并增量更新统计
func (l *Ledger) CompleteRun(ctx context.Context, characterID, dungeonID string) (*schema.CompletionRecord, error) {
	return mutate(ctx, l, ActionComplete, func(ctx context.Context) (*schema.CompletionRecord, error) {
		t, err := l.loadTarget(ctx, characterID, dungeonID)
		if err != nil {
			return nil, err
		}
		now := l.now()
		rec, err := CompleteRun(t.stat, *t.char, *t.dungeon, now, l.Calendar())
		if err != nil {
			return nil, l.rejected(ActionComplete, err)
		}
		if err := l.records.Append(ctx, rec); err != nil {
			return nil, err
		}
		if err := l.stats.Upsert(ctx, t.stat); err != nil {
			// 记录已落库，统计以重算为准
			slog.Error("写入统计失败，执行全量重算", "error", err)
			if _, rerr := l.resync(ctx); rerr != nil {
				return nil, errors.Join(err, rerr)
			}
		}

		observability.RecordTransition(ActionComplete)
		observability.RecordCompletion(now)
		l.hub.Emit(eventbus.TypeRunCompleted, map[string]any{
			"record_id":    rec.ID,
			"character_id": characterID,
			"dungeon_id":   dungeonID,
			"dungeon":      rec.DungeonName,
			"duration":     rec.Duration,
		})
		slog.Info("完成副本", "character", rec.Character.Label(), "dungeon", rec.DungeonName, "duration", rec.Duration, "record_id", rec.ID)
		return rec, nil
	})
}

// CancelRun 取消计时，不产生记录
func (l *Ledger) CancelRun(ctx context.Context, characterID, dungeonID string) error {
	_, err := mutate(ctx, l, ActionCancel, func(ctx context.Context) (struct{}, error) {
		t, err := l.loadTarget(ctx, characterID, dungeonID)
		if err != nil {
			return struct{}{}, err
		}
		if err := CancelRun(t.stat); err != nil {
			return struct{}{}, l.rejected(ActionCancel, err)
		}
		if err := l.stats.Upsert(ctx, t.stat); err != nil {
			return struct{}{}, err
		}

		observability.RecordTransition(ActionCancel)
		l.hub.Emit(eventbus.TypeRunCancelled, map[string]any{
			"character_id": characterID,
			"dungeon_id":   dungeonID,
		})
		slog.Info("取消计时", "character", t.char.Snapshot().Label(), "dungeon", t.dungeon.Name)
		return struct{}{}, nil
	})
	return err
}

// ===== 记录维护 =====

// ManualRecordInput 手动补录
type ManualRecordInput struct {
	CharacterID string    `json:"character_id"`
	DungeonName string    `json:"dungeon_name"`
	CompletedAt time.Time `json:"completed_at"`
	Duration    int64     `json:"duration"`
	Drops       []string  `json:"drops"`
}

// AddManualRecord 补录一条记录并全量重算
func (l *Ledger) AddManualRecord(ctx context.Context, in ManualRecordInput) (*schema.CompletionRecord, error) {
	if in.CompletedAt.IsZero() {
		return nil, fmt.Errorf("%w: 完成时间不能为空", ErrInvalidInput)
	}
	if in.CompletedAt.After(l.Now()) {
		return nil, fmt.Errorf("%w: 完成时间不能晚于当前时间", ErrInvalidInput)
	}
	if in.Duration < 0 {
		return nil, fmt.Errorf("%w: 时长不能为负数", ErrInvalidInput)
	}
	return mutate(ctx, l, "add_manual_record", func(ctx context.Context) (*schema.CompletionRecord, error) {
		char, err := l.chars.GetByID(ctx, in.CharacterID)
		if err != nil {
			return nil, err
		}
		if char == nil {
			return nil, fmt.Errorf("%w: %s", ErrCharacterNotFound, in.CharacterID)
		}
		dungeon, err := l.dungeons.GetByName(ctx, strings.TrimSpace(in.DungeonName))
		if err != nil {
			return nil, err
		}
		if dungeon == nil {
			return nil, fmt.Errorf("%w: %s", ErrDungeonNotFound, in.DungeonName)
		}

		rec := NewRecord(*char, dungeon.Name, in.CompletedAt, in.Duration, l.Calendar())
		rec.Source = schema.RecordSourceManual
		rec.Drops = newDrops(in.Drops)
		if err := l.records.Append(ctx, rec); err != nil {
			return nil, err
		}
		if _, err := l.resync(ctx); err != nil {
			return nil, err
		}

		l.hub.Emit(eventbus.TypeRecordAdded, map[string]any{
			"record_id":    rec.ID,
			"character_id": rec.CharacterID,
			"dungeon":      rec.DungeonName,
		})
		return rec, nil
	})
}

func newDrops(names []string) []schema.DropItem {
	out := make([]schema.DropItem, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		out = append(out, schema.DropItem{Name: n})
	}
	return out
}

// DeleteRecord 删除记录（掉落物随之删除）并全量重算
func (l *Ledger) DeleteRecord(ctx context.Context, id int64) error {
	_, err := mutate(ctx, l, "delete_record", func(ctx context.Context) (struct{}, error) {
		change, err := l.records.Delete(ctx, id)
		if err != nil {
			return struct{}{}, err
		}
		if change.Before == nil {
			return struct{}{}, fmt.Errorf("%w: %d", ErrRecordNotFound, id)
		}
		if _, err := l.resync(ctx); err != nil {
			return struct{}{}, err
		}
		l.hub.Emit(eventbus.TypeRecordDeleted, map[string]any{
			"record_id": id,
			"pairs":     change.AffectedPairs(),
		})
		return struct{}{}, nil
	})
	return err
}

// ReassignRecord 把记录改挂到另一个角色，快照按登记表重写
func (l *Ledger) ReassignRecord(ctx context.Context, recordID int64, characterID string) (*schema.CompletionRecord, error) {
	return mutate(ctx, l, "reassign_record", func(ctx context.Context) (*schema.CompletionRecord, error) {
		char, err := l.chars.GetByID(ctx, characterID)
		if err != nil {
			return nil, err
		}
		if char == nil {
			return nil, fmt.Errorf("%w: %s", ErrCharacterNotFound, characterID)
		}
		return l.updateRecord(ctx, recordID, func(rec *schema.CompletionRecord) error {
			rec.CharacterID = char.ID
			rec.Character = char.Snapshot()
			return nil
		})
	})
}

// RecordEdit 记录可编辑字段，nil 表示不改
type RecordEdit struct {
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    *int64     `json:"duration,omitempty"`
}

// EditRecord 修改完成时间或时长，周数/年份随之重算
func (l *Ledger) EditRecord(ctx context.Context, recordID int64, edit RecordEdit) (*schema.CompletionRecord, error) {
	if edit.Duration != nil && *edit.Duration < 0 {
		return nil, fmt.Errorf("%w: 时长不能为负数", ErrInvalidInput)
	}
	if edit.CompletedAt != nil && edit.CompletedAt.IsZero() {
		return nil, fmt.Errorf("%w: 完成时间不能为空", ErrInvalidInput)
	}
	if edit.CompletedAt != nil && edit.CompletedAt.After(l.Now()) {
		return nil, fmt.Errorf("%w: 完成时间不能晚于当前时间", ErrInvalidInput)
	}
	return mutate(ctx, l, "edit_record", func(ctx context.Context) (*schema.CompletionRecord, error) {
		cal := l.Calendar()
		return l.updateRecord(ctx, recordID, func(rec *schema.CompletionRecord) error {
			if edit.CompletedAt != nil {
				rec.CompletedAt = edit.CompletedAt.UnixMilli()
				rec.WeekNumber = cal.WeekNumber(*edit.CompletedAt)
				rec.Year = cal.WeekYear(*edit.CompletedAt)
			}
			if edit.Duration != nil {
				rec.Duration = *edit.Duration
			}
			return nil
		})
	})
}

// updateRecord 在 owner 协程内修改记录；影响统计字段时全量重算
func (l *Ledger) updateRecord(ctx context.Context, recordID int64, fn func(rec *schema.CompletionRecord) error) (*schema.CompletionRecord, error) {
	change, err := l.records.Update(ctx, recordID, fn)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrRecordNotFound, recordID)
		}
		return nil, err
	}
	if change.AffectsAggregates() {
		if _, err := l.resync(ctx); err != nil {
			return nil, err
		}
	}
	l.hub.Emit(eventbus.TypeRecordUpdated, map[string]any{
		"record_id": recordID,
		"revision":  change.After.Revision,
		"pairs":     change.AffectedPairs(),
	})
	return change.After, nil
}

// AttachDrops 异步识别出的掉落物回填。seenRevision 与当前版本不一致时丢弃
func (l *Ledger) AttachDrops(ctx context.Context, recordID int64, seenRevision int, names []string) (*schema.CompletionRecord, error) {
	drops := newDrops(names)
	if len(drops) == 0 {
		return nil, fmt.Errorf("%w: 掉落物为空", ErrInvalidInput)
	}
	return mutate(ctx, l, "attach_drops", func(ctx context.Context) (*schema.CompletionRecord, error) {
		return l.updateRecord(ctx, recordID, func(rec *schema.CompletionRecord) error {
			if rec.Revision != seenRevision {
				slog.Info("丢弃过期的掉落物结果", "record_id", recordID, "seen", seenRevision, "current", rec.Revision)
				return fmt.Errorf("%w: record_id=%d seen=%d current=%d", ErrStaleRevision, recordID, seenRevision, rec.Revision)
			}
			rec.Drops = append(rec.Drops, drops...)
			return nil
		})
	})
}

// ===== 重算 / 快照 =====

// Resync 全量重算统计
func (l *Ledger) Resync(ctx context.Context) (*ResyncResult, error) {
	return mutate(ctx, l, "resync", l.resync)
}

func (l *Ledger) resync(ctx context.Context) (*ResyncResult, error) {
	started := time.Now()

	chars, err := l.chars.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	dungeons, err := l.dungeons.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	records, err := l.records.All(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := l.stats.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	res := Resync(ResyncInput{
		Dungeons:   dungeons,
		Characters: chars,
		Records:    records,
		Stats:      stats,
	}, l.now(), l.Calendar())

	if err := l.stats.ReplaceAll(ctx, res.Stats); err != nil {
		return nil, fmt.Errorf("写入重算结果失败: %w", err)
	}

	elapsed := time.Since(started)
	observability.RecordResync(elapsed, len(records), len(res.Unresolved))
	if !res.Consistent() {
		slog.Warn("重算存在无法解析的记录", "unresolved", len(res.Unresolved), "records", len(records))
		for _, u := range res.Unresolved {
			slog.Debug("未解析记录", "record_id", u.RecordID, "reason", u.Reason, "character", u.Character.Label(), "dungeon", u.DungeonName)
		}
	}
	slog.Info("统计重算完成", "records", len(records), "applied", res.Applied, "stats", len(res.Stats), "cost", elapsed)

	l.lastResync = &res
	l.hub.Emit(eventbus.TypeStatsResynced, map[string]any{
		"records":    len(records),
		"applied":    res.Applied,
		"unresolved": len(res.Unresolved),
	})
	return &res, nil
}

// StatView 统计行附带名称
type StatView struct {
	schema.DungeonStat
	DungeonName string                   `json:"dungeon_name"`
	Character   schema.CharacterSnapshot `json:"character"`
	State       schema.RunState          `json:"state"`
}

// Snapshot 发布给 UI 的统计快照
type Snapshot struct {
	Calendar   string             `json:"calendar"`
	WeekStart  time.Time          `json:"week_start"`
	Characters []schema.Character `json:"characters"`
	Dungeons   []schema.Dungeon   `json:"dungeons"`
	Stats      []StatView         `json:"stats"`
	Unresolved []UnresolvedRecord `json:"unresolved"`
}

// Snapshot 读取当前统计快照
func (l *Ledger) Snapshot(ctx context.Context) (*Snapshot, error) {
	return submit(ctx, l, "snapshot", func(ctx context.Context) (*Snapshot, error) {
		chars, err := l.chars.GetAll(ctx)
		if err != nil {
			return nil, err
		}
		dungeons, err := l.dungeons.GetAll(ctx)
		if err != nil {
			return nil, err
		}
		stats, err := l.stats.GetAll(ctx)
		if err != nil {
			return nil, err
		}

		charByID := make(map[string]schema.Character, len(chars))
		for _, c := range chars {
			charByID[c.ID] = c
		}
		dungeonByID := make(map[string]schema.Dungeon, len(dungeons))
		for _, d := range dungeons {
			dungeonByID[d.ID] = d
		}

		cal := l.Calendar()
		snap := &Snapshot{
			Calendar:   cal.String(),
			WeekStart:  cal.WeekStart(l.now()),
			Characters: chars,
			Dungeons:   dungeons,
			Stats:      make([]StatView, 0, len(stats)),
			Unresolved: make([]UnresolvedRecord, 0),
		}
		for _, s := range stats {
			snap.Stats = append(snap.Stats, StatView{
				DungeonStat: s,
				DungeonName: dungeonByID[s.DungeonID].Name,
				Character:   charByID[s.CharacterID].Snapshot(),
				State:       s.State(),
			})
		}
		if l.lastResync != nil {
			snap.Unresolved = append(snap.Unresolved, l.lastResync.Unresolved...)
		}
		return snap, nil
	})
}

// RecordRow 记录列表行
type RecordRow struct {
	schema.CompletionRecord
	RunNumbers
}

// ListRecordRows 按插入顺序列出记录及场次号
func (l *Ledger) ListRecordRows(ctx context.Context) ([]RecordRow, error) {
	return submit(ctx, l, "list_records", func(ctx context.Context) ([]RecordRow, error) {
		records, err := l.records.All(ctx)
		if err != nil {
			return nil, err
		}
		chars, err := l.chars.GetAll(ctx)
		if err != nil {
			return nil, err
		}
		idx := BuildRunNumberIndex(records, NewCharacterResolver(chars))

		rows := make([]RecordRow, 0, len(records))
		for _, r := range records {
			n, err := idx.Lookup(r.ID)
			if err != nil {
				return nil, err
			}
			rows = append(rows, RecordRow{CompletionRecord: r, RunNumbers: n})
		}
		return rows, nil
	})
}

// GetRecord 读取单条记录
func (l *Ledger) GetRecord(ctx context.Context, id int64) (*schema.CompletionRecord, error) {
	return submit(ctx, l, "get_record", func(ctx context.Context) (*schema.CompletionRecord, error) {
		rec, err := l.records.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("%w: %d", ErrRecordNotFound, id)
		}
		return rec, nil
	})
}

// ===== 日历 / 备份 =====

// SetCalendar 热更新游戏周日历并重算
func (l *Ledger) SetCalendar(ctx context.Context, cal calendar.Calendar) error {
	_, err := mutate(ctx, l, "set_calendar", func(ctx context.Context) (*ResyncResult, error) {
		l.cal.Store(&cal)
		l.calendarChanged = true
		slog.Info("游戏周日历已更新", "calendar", cal.String())
		return l.resync(ctx)
	})
	return err
}

// CreateBackup 创建备份
func (l *Ledger) CreateBackup(ctx context.Context) (string, error) {
	return submit(ctx, l, "create_backup", func(ctx context.Context) (string, error) {
		return l.backups.CreateBackup(ctx)
	})
}

// ListBackups 列出备份
func (l *Ledger) ListBackups(ctx context.Context) ([]repository.BackupManifest, error) {
	return submit(ctx, l, "list_backups", func(ctx context.Context) ([]repository.BackupManifest, error) {
		return l.backups.ListBackups(ctx)
	})
}

// DeleteBackup 删除备份
func (l *Ledger) DeleteBackup(ctx context.Context, backupID string) error {
	_, err := mutate(ctx, l, "delete_backup", func(ctx context.Context) (struct{}, error) {
		ok, err := l.backups.DeleteBackup(ctx, backupID)
		if err != nil {
			return struct{}{}, err
		}
		if !ok {
			return struct{}{}, fmt.Errorf("%w: %s", ErrBackupNotFound, backupID)
		}
		return struct{}{}, nil
	})
	return err
}

// RestoreBackup 恢复备份后全量重算
func (l *Ledger) RestoreBackup(ctx context.Context, backupID string) (*ResyncResult, error) {
	return mutate(ctx, l, "restore_backup", func(ctx context.Context) (*ResyncResult, error) {
		ok, err := l.backups.Restore(ctx, backupID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, backupID)
		}
		return l.resync(ctx)
	})
}
