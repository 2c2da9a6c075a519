package service

import (
	"sort"
	"time"

	"github.com/yuqie6/DungeonMirror/internal/calendar"
	"github.com/yuqie6/DungeonMirror/internal/schema"
)

// ResolveMethod 角色解析方式
type ResolveMethod string

const (
	ResolvedByID       ResolveMethod = "id"
	ResolvedByIdentity ResolveMethod = "identity"
	ResolveAmbiguous   ResolveMethod = "ambiguous"
	ResolveMissing     ResolveMethod = "missing"
)

// CharacterResolver 把记录解析到登记表中的规范角色：
// 先按记录携带的角色 ID，缺失时按 (服务器, 角色名, 门派) 唯一匹配
type CharacterResolver struct {
	byID       map[string]schema.Character
	byIdentity map[string][]string
}

// NewCharacterResolver 基于角色登记表构建解析器
func NewCharacterResolver(chars []schema.Character) *CharacterResolver {
	r := &CharacterResolver{
		byID:       make(map[string]schema.Character, len(chars)),
		byIdentity: make(map[string][]string, len(chars)),
	}
	for _, c := range chars {
		r.byID[c.ID] = c
		k := c.Snapshot().IdentityKey()
		r.byIdentity[k] = append(r.byIdentity[k], c.ID)
	}
	return r
}

// Resolve 返回规范角色 ID；无法解析时 ID 为空
func (r *CharacterResolver) Resolve(rec schema.CompletionRecord) (string, ResolveMethod) {
	if rec.CharacterID != "" {
		if _, ok := r.byID[rec.CharacterID]; ok {
			return rec.CharacterID, ResolvedByID
		}
	}
	ids := r.byIdentity[rec.Character.IdentityKey()]
	switch len(ids) {
	case 0:
		return "", ResolveMissing
	case 1:
		return ids[0], ResolvedByIdentity
	default:
		return "", ResolveAmbiguous
	}
}

// Character 返回登记表中的角色
func (r *CharacterResolver) Character(id string) (schema.Character, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// groupKey 用于按角色分组：已解析的记录用规范 ID，未解析的用快照字段组合，避免互相混入
func (r *CharacterResolver) groupKey(rec schema.CompletionRecord) string {
	if id, _ := r.Resolve(rec); id != "" {
		return id
	}
	return "?" + rec.Character.IdentityKey()
}

// 未解析原因
const (
	UnresolvedAmbiguousCharacter = "ambiguous_character"
	UnresolvedUnknownCharacter   = "unknown_character"
	UnresolvedUnknownDungeon     = "unknown_dungeon"
)

// UnresolvedRecord 重算时被跳过的记录
type UnresolvedRecord struct {
	RecordID    int64                    `json:"record_id"`
	DungeonName string                   `json:"dungeon_name"`
	CharacterID string                   `json:"character_id"`
	Character   schema.CharacterSnapshot `json:"character"`
	Reason      string                   `json:"reason"`
}

// ResyncInput 重算的全部输入
type ResyncInput struct {
	Dungeons   []schema.Dungeon
	Characters []schema.Character
	Records    []schema.CompletionRecord
	// Stats 现有统计行，仅用于保留进行中状态
	Stats []schema.DungeonStat
}

// ResyncResult 重算结果
type ResyncResult struct {
	Stats      []schema.DungeonStat `json:"stats"`
	Applied    int                  `json:"applied"`
	Unresolved []UnresolvedRecord   `json:"unresolved"`
}

// Consistent 是否每条记录都计入了统计
func (r ResyncResult) Consistent() bool {
	return len(r.Unresolved) == 0
}

// Resync 从完成记录全量重算统计（纯函数，幂等，O(R)）。
// 所有计数字段先清零；进行中状态不可由记录推导，原样保留
func Resync(in ResyncInput, now time.Time, cal calendar.Calendar) ResyncResult {
	dungeonIDs := make(map[string]string, len(in.Dungeons))
	for _, d := range in.Dungeons {
		dungeonIDs[d.Name] = d.ID
	}
	resolver := NewCharacterResolver(in.Characters)

	stats := make(map[schema.StatKey]*schema.DungeonStat, len(in.Stats))
	for _, s := range in.Stats {
		s := s
		s.ResetCounters()
		stats[s.Key()] = &s
	}

	res := ResyncResult{Unresolved: make([]UnresolvedRecord, 0)}
	for _, rec := range in.Records {
		charID, method := resolver.Resolve(rec)
		dungeonID, known := dungeonIDs[rec.DungeonName]

		reason := ""
		switch {
		case method == ResolveAmbiguous:
			reason = UnresolvedAmbiguousCharacter
		case charID == "":
			reason = UnresolvedUnknownCharacter
		case !known:
			reason = UnresolvedUnknownDungeon
		}
		if reason != "" {
			res.Unresolved = append(res.Unresolved, UnresolvedRecord{
				RecordID:    rec.ID,
				DungeonName: rec.DungeonName,
				CharacterID: rec.CharacterID,
				Character:   rec.Character,
				Reason:      reason,
			})
			continue
		}

		key := schema.StatKey{DungeonID: dungeonID, CharacterID: charID}
		s, ok := stats[key]
		if !ok {
			s = &schema.DungeonStat{DungeonID: dungeonID, CharacterID: charID}
			stats[key] = s
		}
		applyRecord(s, rec, now, cal)
		res.Applied++
	}

	res.Stats = make([]schema.DungeonStat, 0, len(stats))
	for _, s := range stats {
		res.Stats = append(res.Stats, *s)
	}
	sortStats(res.Stats)
	return res
}

// applyRecord 把一条记录计入统计
func applyRecord(s *schema.DungeonStat, rec schema.CompletionRecord, now time.Time, cal calendar.Calendar) {
	s.TotalCount++
	s.TotalDuration += rec.Duration
	if rec.CompletedAt > s.LastCompleted {
		s.LastCompleted = rec.CompletedAt
	}
	if cal.SameWeek(now, rec.CompletedTime()) {
		s.WeeklyCount++
	}
	s.CurrentCount = s.TotalCount
}

func sortStats(stats []schema.DungeonStat) {
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].DungeonID != stats[j].DungeonID {
			return stats[i].DungeonID < stats[j].DungeonID
		}
		return stats[i].CharacterID < stats[j].CharacterID
	})
}
