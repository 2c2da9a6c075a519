package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/yuqie6/DungeonMirror/internal/calendar"
	"github.com/yuqie6/DungeonMirror/internal/schema"
)

// WindowKind 报表窗口类型
type WindowKind string

const (
	WindowWeek WindowKind = "week"
	WindowYear WindowKind = "year"
)

// ReportWindow 报表窗口（闭区间），按需生成，不落库
type ReportWindow struct {
	ID    string     `json:"id"`
	Kind  WindowKind `json:"kind"`
	Start time.Time  `json:"start"`
	End   time.Time  `json:"end"`
}

// Contains 是否落在窗口内（含两端）
func (w ReportWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Label 展示用名称
func (w ReportWindow) Label() string {
	if w.Kind == WindowYear {
		return fmt.Sprintf("%d", w.Start.Year())
	}
	return w.Start.Format("2006-01-02") + " ~ " + w.End.Format("2006-01-02")
}

// windowNamespace 窗口 ID 的命名空间，同一窗口多次生成得到相同 ID
var windowNamespace = uuid.MustParse("6f1c2d0e-8a7b-4c39-9e51-2b7d4f0a9c13")

func newWindow(kind WindowKind, start, end time.Time) ReportWindow {
	name := string(kind) + "/" + start.UTC().Format(time.RFC3339)
	return ReportWindow{
		ID:    uuid.NewSHA1(windowNamespace, []byte(name)).String(),
		Kind:  kind,
		Start: start,
		End:   end,
	}
}

// WeeklyWindows 从最早记录所在游戏周到当前游戏周的全部周窗口，最近的在前
func WeeklyWindows(records []schema.CompletionRecord, now time.Time, cal calendar.Calendar) []ReportWindow {
	out := make([]ReportWindow, 0)
	if len(records) == 0 {
		return out
	}
	earliest := records[0].CompletedAt
	for _, r := range records[1:] {
		if r.CompletedAt < earliest {
			earliest = r.CompletedAt
		}
	}

	last := cal.WeekStart(now)
	for start := cal.WeekStart(time.UnixMilli(earliest)); !start.After(last); {
		next := cal.NextWeekStart(start)
		out = append(out, newWindow(WindowWeek, start, next.Add(-time.Millisecond)))
		start = next
	}
	reverseWindows(out)
	return out
}

// YearlyWindows 日志中出现过的每个自然年一个窗口，最近的在前
func YearlyWindows(records []schema.CompletionRecord, loc *time.Location) []ReportWindow {
	if loc == nil {
		loc = time.Local
	}
	years := make(map[int]struct{})
	for _, r := range records {
		years[r.CompletedTime().In(loc).Year()] = struct{}{}
	}
	sorted := make([]int, 0, len(years))
	for y := range years {
		sorted = append(sorted, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	out := make([]ReportWindow, 0, len(sorted))
	for _, y := range sorted {
		start := time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		end := time.Date(y+1, time.January, 1, 0, 0, 0, 0, loc).Add(-time.Millisecond)
		out = append(out, newWindow(WindowYear, start, end))
	}
	return out
}

func reverseWindows(ws []ReportWindow) {
	for i, j := 0, len(ws)-1; i < j; i, j = i+1, j-1 {
		ws[i], ws[j] = ws[j], ws[i]
	}
}

// DungeonCount 副本次数
type DungeonCount struct {
	DungeonName string `json:"dungeon_name"`
	Count       int    `json:"count"`
	Duration    int64  `json:"duration"`
}

// CharacterTally 窗口内单个角色的汇总
type CharacterTally struct {
	CharacterID string                   `json:"character_id"` // 未解析的角色为空
	Character   schema.CharacterSnapshot `json:"character"`
	Total       int                      `json:"total"`
	Duration    int64                    `json:"duration"`
	Dungeons    []DungeonCount           `json:"dungeons"`

	key string
}

// WindowReport 单个窗口的报表
type WindowReport struct {
	Window              ReportWindow     `json:"window"`
	TotalRuns           int              `json:"total_runs"`
	TotalDuration       int64            `json:"total_duration"`
	Characters          []CharacterTally `json:"characters"`
	Dungeons            []DungeonCount   `json:"dungeons"`
	MostActiveCharacter *CharacterTally  `json:"most_active_character,omitempty"`
	MostRunDungeon      *DungeonCount    `json:"most_run_dungeon,omitempty"`
}

// SummarizeWindow 汇总窗口内的记录：按解析后的角色分组，再按副本名计数。
// 并列时：角色取 ID 较小者，副本取名称字典序较小者
func SummarizeWindow(w ReportWindow, records []schema.CompletionRecord, resolver *CharacterResolver) WindowReport {
	rep := WindowReport{
		Window:     w,
		Characters: make([]CharacterTally, 0),
		Dungeons:   make([]DungeonCount, 0),
	}

	tallies := make(map[string]*CharacterTally)
	perChar := make(map[string]map[string]*DungeonCount)
	overall := make(map[string]*DungeonCount)

	for _, r := range records {
		if !w.Contains(r.CompletedTime()) {
			continue
		}
		rep.TotalRuns++
		rep.TotalDuration += r.Duration

		key := resolver.groupKey(r)
		t, ok := tallies[key]
		if !ok {
			t = &CharacterTally{Character: r.Character, key: key}
			if id, _ := resolver.Resolve(r); id != "" {
				t.CharacterID = id
				if c, ok := resolver.Character(id); ok {
					t.Character = c.Snapshot()
				}
			}
			tallies[key] = t
			perChar[key] = make(map[string]*DungeonCount)
		}
		t.Total++
		t.Duration += r.Duration
		bump(perChar[key], r)
		bump(overall, r)
	}

	for key, t := range tallies {
		t.Dungeons = sortedCounts(perChar[key])
		rep.Characters = append(rep.Characters, *t)
	}
	sort.Slice(rep.Characters, func(i, j int) bool {
		a, b := rep.Characters[i], rep.Characters[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		return a.key < b.key
	})
	rep.Dungeons = sortedCounts(overall)

	if len(rep.Characters) > 0 {
		top := rep.Characters[0]
		rep.MostActiveCharacter = &top
	}
	if len(rep.Dungeons) > 0 {
		top := rep.Dungeons[0]
		rep.MostRunDungeon = &top
	}
	return rep
}

func bump(m map[string]*DungeonCount, r schema.CompletionRecord) {
	c, ok := m[r.DungeonName]
	if !ok {
		c = &DungeonCount{DungeonName: r.DungeonName}
		m[r.DungeonName] = c
	}
	c.Count++
	c.Duration += r.Duration
}

// sortedCounts 次数降序，并列按名称升序
func sortedCounts(m map[string]*DungeonCount) []DungeonCount {
	out := make([]DungeonCount, 0, len(m))
	for _, c := range m {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].DungeonName < out[j].DungeonName
	})
	return out
}

// ReportService 周报/年报，只读访问完成记录
type ReportService struct {
	records RecordReader
	chars   CharacterReader
	cal     func() calendar.Calendar
	now     func() time.Time
}

// NewReportService 创建报表服务。cal 每次调用时读取，以便日历热更新
func NewReportService(records RecordReader, chars CharacterReader, cal func() calendar.Calendar, now func() time.Time) *ReportService {
	if now == nil {
		now = time.Now
	}
	if cal == nil {
		cal = calendar.Default
	}
	return &ReportService{records: records, chars: chars, cal: cal, now: now}
}

// WeeklyReports 全部周报，最近的在前；limit<=0 表示不限
func (s *ReportService) WeeklyReports(ctx context.Context, limit int) ([]WindowReport, error) {
	records, resolver, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	windows := WeeklyWindows(records, s.now(), s.cal())
	return summarizeAll(windows, records, resolver, limit), nil
}

// YearlyReports 全部年报，最近的在前
func (s *ReportService) YearlyReports(ctx context.Context) ([]WindowReport, error) {
	records, resolver, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	windows := YearlyWindows(records, s.cal().Location())
	return summarizeAll(windows, records, resolver, 0), nil
}

// CurrentWeek 当前游戏周的报表（无记录时为空报表）
func (s *ReportService) CurrentWeek(ctx context.Context) (*WindowReport, error) {
	records, resolver, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	cal := s.cal()
	start := cal.WeekStart(s.now())
	w := newWindow(WindowWeek, start, cal.NextWeekStart(start).Add(-time.Millisecond))
	rep := SummarizeWindow(w, records, resolver)
	return &rep, nil
}

func (s *ReportService) load(ctx context.Context) ([]schema.CompletionRecord, *CharacterResolver, error) {
	records, err := s.records.All(ctx)
	if err != nil {
		return nil, nil, err
	}
	chars, err := s.chars.GetAll(ctx)
	if err != nil {
		return nil, nil, err
	}
	return records, NewCharacterResolver(chars), nil
}

func summarizeAll(windows []ReportWindow, records []schema.CompletionRecord, resolver *CharacterResolver, limit int) []WindowReport {
	if limit > 0 && len(windows) > limit {
		windows = windows[:limit]
	}
	out := make([]WindowReport, 0, len(windows))
	for _, w := range windows {
		out = append(out, SummarizeWindow(w, records, resolver))
	}
	return out
}
