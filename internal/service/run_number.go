package service

import (
	"fmt"
	"sort"

	"github.com/yuqie6/DungeonMirror/internal/schema"
)

// sortByCompletion 按完成时间升序，同一时刻按记录 ID
func sortByCompletion(records []schema.CompletionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CompletedAt != records[j].CompletedAt {
			return records[i].CompletedAt < records[j].CompletedAt
		}
		return records[i].ID < records[j].ID
	})
}

func positionOf(sorted []schema.CompletionRecord, id int64) (int, error) {
	for i, r := range sorted {
		if r.ID == id {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: record_id=%d", ErrRunNumberNotFound, id)
}

// CharacterRunNumber 记录在“同一角色 + 同一副本”子集中的第几次（从 1 开始）。
// dungeonOverride 非空时按该副本名过滤
func CharacterRunNumber(log []schema.CompletionRecord, resolver *CharacterResolver, rec schema.CompletionRecord, dungeonOverride string) (int, error) {
	dungeon := rec.DungeonName
	if dungeonOverride != "" {
		dungeon = dungeonOverride
	}
	who := resolver.groupKey(rec)

	subset := make([]schema.CompletionRecord, 0)
	for _, r := range log {
		if r.DungeonName == dungeon && resolver.groupKey(r) == who {
			subset = append(subset, r)
		}
	}
	sortByCompletion(subset)
	return positionOf(subset, rec.ID)
}

// TotalRunNumber 记录在全部日志中的第几次
func TotalRunNumber(log []schema.CompletionRecord, rec schema.CompletionRecord) (int, error) {
	all := append([]schema.CompletionRecord(nil), log...)
	sortByCompletion(all)
	return positionOf(all, rec.ID)
}

// RunNumbers 单条记录的两个场次号
type RunNumbers struct {
	CharacterRun int `json:"character_run_number"`
	TotalRun     int `json:"total_run_number"`
}

// RunNumberIndex 一次排序算出整份日志的场次号，O(R log R)
type RunNumberIndex struct {
	numbers map[int64]RunNumbers
}

// BuildRunNumberIndex 构建索引
func BuildRunNumberIndex(log []schema.CompletionRecord, resolver *CharacterResolver) *RunNumberIndex {
	sorted := append([]schema.CompletionRecord(nil), log...)
	sortByCompletion(sorted)

	type groupKey struct {
		who     string
		dungeon string
	}
	seen := make(map[groupKey]int)
	idx := &RunNumberIndex{numbers: make(map[int64]RunNumbers, len(sorted))}
	for i, r := range sorted {
		k := groupKey{who: resolver.groupKey(r), dungeon: r.DungeonName}
		seen[k]++
		idx.numbers[r.ID] = RunNumbers{CharacterRun: seen[k], TotalRun: i + 1}
	}
	return idx
}

// Lookup 查询记录的场次号
func (i *RunNumberIndex) Lookup(recordID int64) (RunNumbers, error) {
	n, ok := i.numbers[recordID]
	if !ok {
		return RunNumbers{}, fmt.Errorf("%w: record_id=%d", ErrRunNumberNotFound, recordID)
	}
	return n, nil
}

// Len 已索引的记录数
func (i *RunNumberIndex) Len() int {
	return len(i.numbers)
}
