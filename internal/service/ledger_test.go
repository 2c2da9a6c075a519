package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yuqie6/DungeonMirror/internal/eventbus"
	"github.com/yuqie6/DungeonMirror/internal/schema"
)

type ledgerFixture struct {
	ledger  *Ledger
	store   *memStore
	clock   *fakeClock
	hub     *eventbus.Hub
	alice   *schema.Character
	dungeon *schema.Dungeon
}

func newLedgerFixture(t *testing.T, readOnly bool) *ledgerFixture {
	t.Helper()
	store := newMemStore()
	clock := &fakeClock{now: at(2026, 3, 10, 20, 0)}
	hub := eventbus.NewHub()

	l := NewLedger(LedgerDeps{
		Characters: memChars{store},
		Dungeons:   memDungeons{store},
		Stats:      memStats{store},
		Records:    memRecords{store},
		Backups:    memBackups{store},
		Hub:        hub,
		Calendar:   testCalendar(),
		Now:        clock.Now,
		ReadOnly:   readOnly,
	})
	ctx := context.Background()
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(l.Stop)

	f := &ledgerFixture{ledger: l, store: store, clock: clock, hub: hub}
	if readOnly {
		return f
	}
	alice, err := l.AddCharacter(ctx, CharacterInput{Server: "梦江南", Name: "阿离", School: "七秀", BodyType: "成女"})
	if err != nil {
		t.Fatalf("AddCharacter: %v", err)
	}
	dungeon, err := l.AddDungeon(ctx, "英雄河阳之战", "")
	if err != nil {
		t.Fatalf("AddDungeon: %v", err)
	}
	f.alice, f.dungeon = alice, dungeon
	return f
}

func (f *ledgerFixture) stat(t *testing.T) *schema.DungeonStat {
	t.Helper()
	s, err := memStats{f.store}.Get(context.Background(), f.dungeon.ID, f.alice.ID)
	if err != nil {
		t.Fatalf("get stat: %v", err)
	}
	if s == nil {
		t.Fatalf("stat missing")
	}
	return s
}

func TestLedger_StartCompleteScenario(t *testing.T) {
	f := newLedgerFixture(t, false)
	ctx := context.Background()

	if _, err := f.ledger.StartRun(ctx, f.alice.ID, f.dungeon.ID); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if s := f.stat(t); !s.InProgress || s.StartTime == 0 {
		t.Fatalf("not in progress: %+v", s)
	}

	f.clock.Advance(2700 * time.Second)
	rec, err := f.ledger.CompleteRun(ctx, f.alice.ID, f.dungeon.ID)
	if err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	if rec.ID == 0 || rec.Duration != 2700 {
		t.Fatalf("record=%+v", rec)
	}

	s := f.stat(t)
	if s.TotalCount != 1 || s.WeeklyCount != 1 || s.InProgress {
		t.Fatalf("stat=%+v", s)
	}

	// 增量结果与全量重算一致
	res, err := f.ledger.Resync(ctx)
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if got := findStat(res.Stats, f.dungeon.ID, f.alice.ID); got.TotalCount != 1 || got.WeeklyCount != 1 || got.TotalDuration != 2700 {
		t.Fatalf("resync stat=%+v", got)
	}
}

func TestLedger_RejectsInvalidTransitions(t *testing.T) {
	f := newLedgerFixture(t, false)
	ctx := context.Background()

	if _, err := f.ledger.CompleteRun(ctx, f.alice.ID, f.dungeon.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("complete on idle: %v", err)
	}
	if err := f.ledger.CancelRun(ctx, f.alice.ID, f.dungeon.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel on idle: %v", err)
	}
	records, _ := memRecords{f.store}.All(ctx)
	if len(records) != 0 {
		t.Fatalf("records=%d", len(records))
	}

	if _, err := f.ledger.StartRun(ctx, f.alice.ID, f.dungeon.ID); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if _, err := f.ledger.StartRun(ctx, f.alice.ID, f.dungeon.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double start: %v", err)
	}
	if err := f.ledger.CancelRun(ctx, f.alice.ID, f.dungeon.ID); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}
	if s := f.stat(t); s.InProgress || s.TotalCount != 0 {
		t.Fatalf("stat=%+v", s)
	}

	if _, err := f.ledger.StartRun(ctx, "nobody", f.dungeon.ID); !errors.Is(err, ErrCharacterNotFound) {
		t.Fatalf("unknown character: %v", err)
	}
	if _, err := f.ledger.StartRun(ctx, f.alice.ID, "nowhere"); !errors.Is(err, ErrDungeonNotFound) {
		t.Fatalf("unknown dungeon: %v", err)
	}
}

func TestLedger_DeleteThenResync(t *testing.T) {
	f := newLedgerFixture(t, false)
	ctx := context.Background()

	first, err := f.ledger.AddManualRecord(ctx, ManualRecordInput{
		CharacterID: f.alice.ID, DungeonName: f.dungeon.Name,
		CompletedAt: at(2026, 3, 9, 21, 0), Duration: 1800,
	})
	if err != nil {
		t.Fatalf("AddManualRecord: %v", err)
	}
	second, err := f.ledger.AddManualRecord(ctx, ManualRecordInput{
		CharacterID: f.alice.ID, DungeonName: f.dungeon.Name,
		CompletedAt: at(2026, 3, 3, 21, 0), Duration: 1200, Drops: []string{"玄晶"},
	})
	if err != nil {
		t.Fatalf("AddManualRecord: %v", err)
	}
	if second.Source != schema.RecordSourceManual || len(second.Drops) != 1 {
		t.Fatalf("second=%+v", second)
	}
	if s := f.stat(t); s.TotalCount != 2 || s.WeeklyCount != 1 {
		t.Fatalf("after backfill stat=%+v", s)
	}

	if err := f.ledger.DeleteRecord(ctx, first.ID); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	s := f.stat(t)
	if s.TotalCount != 1 || s.LastCompleted != second.CompletedAt || s.WeeklyCount != 0 {
		t.Fatalf("after delete stat=%+v", s)
	}

	if err := f.ledger.DeleteRecord(ctx, first.ID); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestLedger_ReassignRecord(t *testing.T) {
	f := newLedgerFixture(t, false)
	ctx := context.Background()

	bob, err := f.ledger.AddCharacter(ctx, CharacterInput{Server: "梦江南", Name: "阿宝", School: "纯阳"})
	if err != nil {
		t.Fatalf("AddCharacter: %v", err)
	}
	rec, err := f.ledger.AddManualRecord(ctx, ManualRecordInput{
		CharacterID: f.alice.ID, DungeonName: f.dungeon.Name, CompletedAt: at(2026, 3, 10, 9, 0),
	})
	if err != nil {
		t.Fatalf("AddManualRecord: %v", err)
	}

	moved, err := f.ledger.ReassignRecord(ctx, rec.ID, bob.ID)
	if err != nil {
		t.Fatalf("ReassignRecord: %v", err)
	}
	if moved.CharacterID != bob.ID || moved.Character.Name != "阿宝" || moved.Revision != rec.Revision+1 {
		t.Fatalf("moved=%+v", moved)
	}
	if s := f.stat(t); s.TotalCount != 0 {
		t.Fatalf("alice stat=%+v", s)
	}
	bobStat, _ := memStats{f.store}.Get(ctx, f.dungeon.ID, bob.ID)
	if bobStat == nil || bobStat.TotalCount != 1 {
		t.Fatalf("bob stat=%+v", bobStat)
	}

	if _, err := f.ledger.ReassignRecord(ctx, 404, bob.ID); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("missing record: %v", err)
	}
}

func TestLedger_AttachDropsRevision(t *testing.T) {
	f := newLedgerFixture(t, false)
	ctx := context.Background()

	rec, err := f.ledger.AddManualRecord(ctx, ManualRecordInput{
		CharacterID: f.alice.ID, DungeonName: f.dungeon.Name, CompletedAt: at(2026, 3, 10, 9, 0),
	})
	if err != nil {
		t.Fatalf("AddManualRecord: %v", err)
	}

	updated, err := f.ledger.AttachDrops(ctx, rec.ID, rec.Revision, []string{"五行石", " "})
	if err != nil {
		t.Fatalf("AttachDrops: %v", err)
	}
	if len(updated.Drops) != 1 || updated.Drops[0].Name != "五行石" {
		t.Fatalf("drops=%+v", updated.Drops)
	}

	// 基于旧版本的结果被丢弃
	if _, err := f.ledger.AttachDrops(ctx, rec.ID, rec.Revision, []string{"玄晶"}); !errors.Is(err, ErrStaleRevision) {
		t.Fatalf("stale attach: %v", err)
	}
	got, _ := f.ledger.GetRecord(ctx, rec.ID)
	if len(got.Drops) != 1 {
		t.Fatalf("stale result merged: %+v", got.Drops)
	}
}

func TestLedger_RejectsFutureCompletion(t *testing.T) {
	f := newLedgerFixture(t, false)
	ctx := context.Background()
	future := f.clock.Now().Add(24 * time.Hour)

	_, err := f.ledger.AddManualRecord(ctx, ManualRecordInput{
		CharacterID: f.alice.ID, DungeonName: f.dungeon.Name, CompletedAt: future,
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("future add: %v, want ErrInvalidInput", err)
	}

	rec, err := f.ledger.AddManualRecord(ctx, ManualRecordInput{
		CharacterID: f.alice.ID, DungeonName: f.dungeon.Name, CompletedAt: at(2026, 3, 10, 9, 0),
	})
	if err != nil {
		t.Fatalf("AddManualRecord: %v", err)
	}
	if _, err := f.ledger.EditRecord(ctx, rec.ID, RecordEdit{CompletedAt: &future}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("future edit: %v, want ErrInvalidInput", err)
	}
	if got, _ := f.ledger.GetRecord(ctx, rec.ID); got.CompletedAt != rec.CompletedAt {
		t.Fatalf("record changed by rejected edit: %+v", got)
	}
}

func TestLedger_WeekRolloverResetsWeeklyCount(t *testing.T) {
	store := newMemStore()
	// 距周一 07:00 刷新还有 1 秒
	clock := &fakeClock{now: at(2026, 3, 16, 6, 59).Add(59 * time.Second)}
	alice := testChar("c-alice", "梦江南", "阿离", "七秀")
	store.chars[alice.ID] = alice
	store.dungeons["d-1"] = schema.Dungeon{ID: "d-1", Name: "英雄河阳之战"}
	rec := testRecord(0, alice, "英雄河阳之战", at(2026, 3, 15, 21, 0), 1800)
	if err := (memRecords{store}).Append(context.Background(), &rec); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	l := NewLedger(LedgerDeps{
		Characters: memChars{store},
		Dungeons:   memDungeons{store},
		Stats:      memStats{store},
		Records:    memRecords{store},
		Backups:    memBackups{store},
		Hub:        eventbus.NewHub(),
		Calendar:   testCalendar(),
		Now:        clock.Now,
	})
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(l.Stop)

	weekly := func() int {
		s, _ := memStats{store}.Get(context.Background(), "d-1", alice.ID)
		if s == nil {
			return -1
		}
		return s.WeeklyCount
	}
	if got := weekly(); got != 1 {
		t.Fatalf("weekly before rollover=%d, want 1", got)
	}

	clock.Advance(2 * time.Second)
	deadline := time.Now().Add(5 * time.Second)
	for weekly() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("weekly=%d, not reset after rollover", weekly())
		}
		time.Sleep(20 * time.Millisecond)
	}
	s, _ := memStats{store}.Get(context.Background(), "d-1", alice.ID)
	if s.TotalCount != 1 {
		t.Fatalf("total=%d, want 1 after rollover", s.TotalCount)
	}
}

func TestLedger_ListRecordRows(t *testing.T) {
	f := newLedgerFixture(t, false)
	ctx := context.Background()

	for _, ts := range []time.Time{at(2026, 3, 10, 9, 0), at(2026, 3, 2, 9, 0), at(2026, 3, 5, 9, 0)} {
		if _, err := f.ledger.AddManualRecord(ctx, ManualRecordInput{
			CharacterID: f.alice.ID, DungeonName: f.dungeon.Name, CompletedAt: ts,
		}); err != nil {
			t.Fatalf("AddManualRecord: %v", err)
		}
	}
	rows, err := f.ledger.ListRecordRows(ctx)
	if err != nil {
		t.Fatalf("ListRecordRows: %v", err)
	}
	want := []int{3, 1, 2}
	for i, r := range rows {
		if r.CharacterRun != want[i] || r.TotalRun != want[i] {
			t.Fatalf("row %d numbers=%+v, want %d", i, r.RunNumbers, want[i])
		}
	}
}

func TestLedger_SnapshotAndUnresolved(t *testing.T) {
	f := newLedgerFixture(t, false)
	ctx := context.Background()

	// 直接写入一条找不到角色的旧记录
	ghost := testRecord(0, testChar("", "破阵子", "无名", "少林"), f.dungeon.Name, at(2026, 3, 10, 9, 0), 60)
	if err := (memRecords{f.store}).Append(ctx, &ghost); err != nil {
		t.Fatalf("append: %v", err)
	}
	res, err := f.ledger.Resync(ctx)
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if res.Consistent() || len(res.Unresolved) != 1 {
		t.Fatalf("unresolved=%v", res.Unresolved)
	}

	if _, err := f.ledger.StartRun(ctx, f.alice.ID, f.dungeon.ID); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	snap, err := f.ledger.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Unresolved) != 1 || len(snap.Characters) != 1 || len(snap.Dungeons) != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}
	if len(snap.Stats) != 1 || snap.Stats[0].State != schema.RunStateInProgress || snap.Stats[0].DungeonName != f.dungeon.Name {
		t.Fatalf("stats=%+v", snap.Stats)
	}
	if !snap.WeekStart.Equal(at(2026, 3, 9, 7, 0)) {
		t.Fatalf("week start=%v", snap.WeekStart)
	}
}

func TestLedger_SetCalendarResyncs(t *testing.T) {
	f := newLedgerFixture(t, false)
	ctx := context.Background()

	// 周一 06:00 完成；按周一 07:00 刷新属于上周，改为周一 05:00 刷新后属于本周
	if _, err := f.ledger.AddManualRecord(ctx, ManualRecordInput{
		CharacterID: f.alice.ID, DungeonName: f.dungeon.Name, CompletedAt: at(2026, 3, 9, 6, 0),
	}); err != nil {
		t.Fatalf("AddManualRecord: %v", err)
	}
	if s := f.stat(t); s.WeeklyCount != 0 {
		t.Fatalf("weekly=%d, want 0", s.WeeklyCount)
	}

	early, err := calendarAt(1, 5)
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	if err := f.ledger.SetCalendar(ctx, early); err != nil {
		t.Fatalf("SetCalendar: %v", err)
	}
	if s := f.stat(t); s.WeeklyCount != 1 {
		t.Fatalf("weekly=%d, want 1", s.WeeklyCount)
	}
	if f.ledger.Calendar().AnchorHour() != 5 {
		t.Fatalf("calendar not swapped")
	}
}

func TestLedger_RestoreBackup(t *testing.T) {
	f := newLedgerFixture(t, false)
	ctx := context.Background()

	if _, err := f.ledger.AddManualRecord(ctx, ManualRecordInput{
		CharacterID: f.alice.ID, DungeonName: f.dungeon.Name, CompletedAt: at(2026, 3, 10, 9, 0),
	}); err != nil {
		t.Fatalf("AddManualRecord: %v", err)
	}
	id, err := f.ledger.CreateBackup(ctx)
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}
	rows, _ := f.ledger.ListRecordRows(ctx)
	if err := f.ledger.DeleteRecord(ctx, rows[0].ID); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if s := f.stat(t); s.TotalCount != 0 {
		t.Fatalf("after delete stat=%+v", s)
	}

	if _, err := f.ledger.RestoreBackup(ctx, id); err != nil {
		t.Fatalf("RestoreBackup: %v", err)
	}
	if s := f.stat(t); s.TotalCount != 1 {
		t.Fatalf("after restore stat=%+v", s)
	}
	if _, err := f.ledger.RestoreBackup(ctx, "missing"); !errors.Is(err, ErrBackupNotFound) {
		t.Fatalf("missing backup: %v", err)
	}

	if err := f.ledger.DeleteBackup(ctx, id); err != nil {
		t.Fatalf("DeleteBackup: %v", err)
	}
	if err := f.ledger.DeleteBackup(ctx, id); !errors.Is(err, ErrBackupNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestLedger_PublishesEvents(t *testing.T) {
	f := newLedgerFixture(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := f.hub.Subscribe(ctx, 16)

	if _, err := f.ledger.StartRun(ctx, f.alice.ID, f.dungeon.ID); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	f.clock.Advance(time.Minute)
	if _, err := f.ledger.CompleteRun(ctx, f.alice.ID, f.dungeon.ID); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	want := []string{eventbus.TypeRunStarted, eventbus.TypeRunCompleted}
	for _, w := range want {
		select {
		case evt := <-events:
			if evt.Type != w {
				t.Fatalf("event=%s, want %s", evt.Type, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %s", w)
		}
	}
}

func TestLedger_ConcurrentCommandsAreSerialized(t *testing.T) {
	f := newLedgerFixture(t, false)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.ledger.AddManualRecord(ctx, ManualRecordInput{
				CharacterID: f.alice.ID, DungeonName: f.dungeon.Name,
				CompletedAt: at(2026, 3, 10, 9, 0).Add(time.Duration(i) * time.Minute),
			})
		}(i)
	}
	wg.Wait()

	if s := f.stat(t); s.TotalCount != 20 || s.WeeklyCount != 20 {
		t.Fatalf("stat=%+v", s)
	}
}

func TestLedger_SafeModeRejectsWrites(t *testing.T) {
	f := newLedgerFixture(t, true)
	ctx := context.Background()

	if _, err := f.ledger.AddCharacter(ctx, CharacterInput{Server: "a", Name: "b", School: "c"}); !errors.Is(err, ErrSafeMode) {
		t.Fatalf("write in safe mode: %v", err)
	}
	if _, err := f.ledger.ListCharacters(ctx); err != nil {
		t.Fatalf("read in safe mode: %v", err)
	}
}

func TestLedger_StoppedRejectsCommands(t *testing.T) {
	f := newLedgerFixture(t, false)
	f.ledger.Stop()
	if _, err := f.ledger.ListCharacters(context.Background()); !errors.Is(err, ErrLedgerStopped) {
		t.Fatalf("err=%v, want ErrLedgerStopped", err)
	}
}
