package service

import (
	"errors"
	"testing"
	"time"

	"github.com/yuqie6/DungeonMirror/internal/schema"
)

func TestCompleteRun_RecordsDuration(t *testing.T) {
	cal := testCalendar()
	char := testChar("c-alice", "梦江南", "阿离", "七秀")
	dungeon := schema.Dungeon{ID: "d-1", Name: "英雄河阳之战"}
	t0 := at(2026, 3, 10, 20, 0)

	s := &schema.DungeonStat{DungeonID: dungeon.ID, CharacterID: char.ID}
	if err := StartRun(s, t0); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if s.State() != schema.RunStateInProgress || s.StartTime != t0.UnixMilli() {
		t.Fatalf("state=%s start=%d", s.State(), s.StartTime)
	}

	rec, err := CompleteRun(s, char, dungeon, t0.Add(2700*time.Second), cal)
	if err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	if rec.Duration != 2700 {
		t.Fatalf("duration=%d, want 2700", rec.Duration)
	}
	if rec.CharacterID != char.ID || rec.Character != char.Snapshot() || rec.DungeonName != dungeon.Name {
		t.Fatalf("record=%+v", rec)
	}
	if len(rec.Drops) != 0 || rec.Source != schema.RecordSourceRun {
		t.Fatalf("drops=%v source=%s", rec.Drops, rec.Source)
	}
	if rec.WeekNumber != 11 || rec.Year != 2026 {
		t.Fatalf("week=%d year=%d", rec.WeekNumber, rec.Year)
	}
	if s.InProgress || s.StartTime != 0 {
		t.Fatalf("run not cleared: %+v", s)
	}
	if s.TotalCount != 1 || s.WeeklyCount != 1 || s.CurrentCount != 1 || s.TotalDuration != 2700 {
		t.Fatalf("aggregates=%+v", s)
	}
}

func TestCompleteRun_OutsideCurrentWeek(t *testing.T) {
	cal := testCalendar()
	char := testChar("c-alice", "梦江南", "阿离", "七秀")
	dungeon := schema.Dungeon{ID: "d-1", Name: "英雄河阳之战"}

	// 上周完成过一次，本周再完成：本周计数从 0 开始
	s := &schema.DungeonStat{
		DungeonID: dungeon.ID, CharacterID: char.ID,
		TotalCount: 1, CurrentCount: 1, WeeklyCount: 1,
		LastCompleted: at(2026, 3, 3, 20, 0).UnixMilli(),
	}
	t0 := at(2026, 3, 10, 20, 0)
	if err := StartRun(s, t0); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if _, err := CompleteRun(s, char, dungeon, t0.Add(time.Hour), cal); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	if s.TotalCount != 2 || s.WeeklyCount != 1 {
		t.Fatalf("total=%d weekly=%d, want 2/1", s.TotalCount, s.WeeklyCount)
	}
}

func TestRunTransitions_RejectedWithoutMutation(t *testing.T) {
	cal := testCalendar()
	char := testChar("c-alice", "梦江南", "阿离", "七秀")
	dungeon := schema.Dungeon{ID: "d-1", Name: "英雄河阳之战"}
	now := at(2026, 3, 10, 20, 0)

	idle := schema.DungeonStat{DungeonID: dungeon.ID, CharacterID: char.ID, TotalCount: 3, WeeklyCount: 1, CurrentCount: 3}

	s := idle
	rec, err := CompleteRun(&s, char, dungeon, now, cal)
	if !errors.Is(err, ErrInvalidTransition) || rec != nil {
		t.Fatalf("complete on idle: rec=%v err=%v", rec, err)
	}
	if s != idle {
		t.Fatalf("complete mutated state: %+v", s)
	}

	if err := CancelRun(&s); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel on idle: %v", err)
	}
	if s != idle {
		t.Fatalf("cancel mutated state: %+v", s)
	}

	if err := StartRun(&s, now); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	running := s
	if err := StartRun(&s, now.Add(time.Minute)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double start: %v", err)
	}
	if s != running {
		t.Fatalf("double start mutated state: %+v", s)
	}
}

func TestCancelRun_KeepsAggregates(t *testing.T) {
	s := &schema.DungeonStat{DungeonID: "d-1", CharacterID: "c-1", TotalCount: 4, WeeklyCount: 2, CurrentCount: 4, TotalDuration: 100}
	if err := StartRun(s, at(2026, 3, 10, 20, 0)); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := CancelRun(s); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}
	if s.InProgress || s.StartTime != 0 {
		t.Fatalf("not cleared: %+v", s)
	}
	if s.TotalCount != 4 || s.WeeklyCount != 2 || s.TotalDuration != 100 {
		t.Fatalf("aggregates touched: %+v", s)
	}
}

func TestApplyIncremental_MatchesResyncWithLaterRecord(t *testing.T) {
	cal := testCalendar()
	alice := testChar("c-alice", "梦江南", "阿离", "七秀")
	in := ResyncInput{
		Dungeons:   []schema.Dungeon{{ID: "d-1", Name: "英雄河阳之战"}},
		Characters: []schema.Character{alice},
		Records: []schema.CompletionRecord{
			testRecord(1, alice, "英雄河阳之战", at(2026, 3, 10, 9, 0), 600),
			// 下一游戏周的记录（时钟回拨或导入数据）
			testRecord(2, alice, "英雄河阳之战", at(2026, 3, 17, 9, 0), 600),
		},
	}
	now := at(2026, 3, 10, 20, 0)
	before := Resync(in, now, cal)
	s := findStat(before.Stats, "d-1", alice.ID)
	if s == nil || s.WeeklyCount != 1 {
		t.Fatalf("initial stat=%+v", s)
	}

	rec := testRecord(3, alice, "英雄河阳之战", now, 900)
	ApplyIncremental(s, rec, now, cal)

	in.Records = append(in.Records, rec)
	want := findStat(Resync(in, now, cal).Stats, "d-1", alice.ID)
	if s.WeeklyCount != want.WeeklyCount || s.TotalCount != want.TotalCount {
		t.Fatalf("incremental weekly=%d total=%d, resync weekly=%d total=%d",
			s.WeeklyCount, s.TotalCount, want.WeeklyCount, want.TotalCount)
	}
}
