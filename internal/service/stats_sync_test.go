package service

import (
	"reflect"
	"testing"

	"github.com/yuqie6/DungeonMirror/internal/schema"
)

func syncFixture() ResyncInput {
	alice := testChar("c-alice", "梦江南", "阿离", "七秀")
	bob := testChar("c-bob", "梦江南", "阿宝", "纯阳")
	return ResyncInput{
		Dungeons: []schema.Dungeon{
			{ID: "d-1", Name: "英雄河阳之战"},
			{ID: "d-2", Name: "白帝江关"},
		},
		Characters: []schema.Character{alice, bob},
		Records: []schema.CompletionRecord{
			testRecord(1, alice, "英雄河阳之战", at(2026, 3, 2, 8, 0), 1800),   // 上周
			testRecord(2, alice, "英雄河阳之战", at(2026, 3, 10, 21, 0), 2400), // 本周
			testRecord(3, bob, "白帝江关", at(2026, 3, 11, 20, 0), 1200),
			testRecord(4, alice, "白帝江关", at(2026, 3, 12, 20, 0), 900),
		},
	}
}

func TestResync_CountsMatchRecords(t *testing.T) {
	in := syncFixture()
	now := at(2026, 3, 12, 22, 0)
	res := Resync(in, now, testCalendar())

	if !res.Consistent() || res.Applied != len(in.Records) {
		t.Fatalf("applied=%d unresolved=%v", res.Applied, res.Unresolved)
	}

	want := map[schema.StatKey]int{}
	for _, r := range in.Records {
		for _, d := range in.Dungeons {
			if d.Name == r.DungeonName {
				want[schema.StatKey{DungeonID: d.ID, CharacterID: r.CharacterID}]++
			}
		}
	}
	if len(res.Stats) != len(want) {
		t.Fatalf("stats=%d, want %d", len(res.Stats), len(want))
	}
	for _, s := range res.Stats {
		if s.TotalCount != want[s.Key()] {
			t.Fatalf("%v total=%d, want %d", s.Key(), s.TotalCount, want[s.Key()])
		}
		if s.CurrentCount != s.TotalCount {
			t.Fatalf("current=%d total=%d", s.CurrentCount, s.TotalCount)
		}
		if s.TotalCount < s.WeeklyCount {
			t.Fatalf("total < weekly: %+v", s)
		}
	}
}

func TestResync_PriorAndCurrentWeek(t *testing.T) {
	in := syncFixture()
	res := Resync(in, at(2026, 3, 12, 22, 0), testCalendar())

	s := findStat(res.Stats, "d-1", "c-alice")
	if s == nil {
		t.Fatalf("missing stat")
	}
	if s.TotalCount != 2 || s.WeeklyCount != 1 {
		t.Fatalf("total=%d weekly=%d, want 2/1", s.TotalCount, s.WeeklyCount)
	}
	if s.TotalDuration != 4200 {
		t.Fatalf("duration=%d", s.TotalDuration)
	}
	if s.LastCompleted != at(2026, 3, 10, 21, 0).UnixMilli() {
		t.Fatalf("last=%d", s.LastCompleted)
	}
}

func TestResync_Idempotent(t *testing.T) {
	in := syncFixture()
	now := at(2026, 3, 12, 22, 0)
	cal := testCalendar()

	first := Resync(in, now, cal)
	in.Stats = first.Stats
	second := Resync(in, now, cal)

	if !reflect.DeepEqual(first.Stats, second.Stats) {
		t.Fatalf("resync not idempotent:\n%+v\n%+v", first.Stats, second.Stats)
	}
}

func TestResync_PreservesInProgress(t *testing.T) {
	in := syncFixture()
	start := at(2026, 3, 12, 21, 30).UnixMilli()
	in.Stats = []schema.DungeonStat{
		{DungeonID: "d-2", CharacterID: "c-bob", TotalCount: 99, WeeklyCount: 99, InProgress: true, StartTime: start},
		{DungeonID: "d-1", CharacterID: "c-bob", TotalCount: 5, LastCompleted: 1},
	}
	res := Resync(in, at(2026, 3, 12, 22, 0), testCalendar())

	s := findStat(res.Stats, "d-2", "c-bob")
	if !s.InProgress || s.StartTime != start {
		t.Fatalf("in-progress state lost: %+v", s)
	}
	if s.TotalCount != 1 || s.WeeklyCount != 1 {
		t.Fatalf("stale counters kept: %+v", s)
	}
	stale := findStat(res.Stats, "d-1", "c-bob")
	if stale == nil || stale.HasCounters() {
		t.Fatalf("stat without records should be zeroed: %+v", stale)
	}
}

func TestResync_FallbackIdentityMatch(t *testing.T) {
	in := syncFixture()
	alice := in.Characters[0]
	legacy := testRecord(10, alice, "白帝江关", at(2026, 3, 12, 9, 0), 600)
	legacy.CharacterID = ""
	in.Records = append(in.Records, legacy)

	res := Resync(in, at(2026, 3, 12, 22, 0), testCalendar())
	if !res.Consistent() {
		t.Fatalf("unexpected unresolved: %v", res.Unresolved)
	}
	if s := findStat(res.Stats, "d-2", "c-alice"); s.TotalCount != 2 {
		t.Fatalf("total=%d, want 2", s.TotalCount)
	}
}

func TestResync_ReportsUnresolved(t *testing.T) {
	in := syncFixture()
	alice := in.Characters[0]
	twin := alice
	twin.ID = "c-twin"
	in.Characters = append(in.Characters, twin)

	ambiguous := testRecord(20, alice, "白帝江关", at(2026, 3, 12, 9, 0), 600)
	ambiguous.CharacterID = ""
	ghost := testRecord(21, testChar("", "破阵子", "无名", "少林"), "白帝江关", at(2026, 3, 12, 9, 0), 600)
	unknownDungeon := testRecord(22, alice, "不存在的副本", at(2026, 3, 12, 9, 0), 600)
	in.Records = append(in.Records, ambiguous, ghost, unknownDungeon)

	res := Resync(in, at(2026, 3, 12, 22, 0), testCalendar())
	if res.Applied != 4 {
		t.Fatalf("applied=%d, want 4", res.Applied)
	}
	reasons := map[int64]string{}
	for _, u := range res.Unresolved {
		reasons[u.RecordID] = u.Reason
	}
	want := map[int64]string{
		20: UnresolvedAmbiguousCharacter,
		21: UnresolvedUnknownCharacter,
		22: UnresolvedUnknownDungeon,
	}
	if !reflect.DeepEqual(reasons, want) {
		t.Fatalf("reasons=%v, want %v", reasons, want)
	}
}

func TestResync_CharacterIDWinsOverFields(t *testing.T) {
	in := syncFixture()
	alice := in.Characters[0]
	// 角色改名后，旧记录快照仍是旧名字，但携带的 ID 不变
	in.Characters[0].Name = "阿离改"
	res := Resync(in, at(2026, 3, 12, 22, 0), testCalendar())
	if !res.Consistent() {
		t.Fatalf("unresolved after rename: %v", res.Unresolved)
	}
	if s := findStat(res.Stats, "d-1", alice.ID); s.TotalCount != 2 {
		t.Fatalf("total=%d", s.TotalCount)
	}
}

func TestResync_WeekBoundary(t *testing.T) {
	alice := testChar("c-alice", "梦江南", "阿离", "七秀")
	in := ResyncInput{
		Dungeons:   []schema.Dungeon{{ID: "d-1", Name: "英雄河阳之战"}},
		Characters: []schema.Character{alice},
		Records: []schema.CompletionRecord{
			testRecord(1, alice, "英雄河阳之战", at(2026, 3, 9, 6, 59), 60),
			testRecord(2, alice, "英雄河阳之战", at(2026, 3, 9, 7, 1), 60),
		},
	}
	res := Resync(in, at(2026, 3, 9, 12, 0), testCalendar())
	if s := findStat(res.Stats, "d-1", alice.ID); s.WeeklyCount != 1 || s.TotalCount != 2 {
		t.Fatalf("weekly=%d total=%d", s.WeeklyCount, s.TotalCount)
	}

	res = Resync(in, at(2026, 3, 9, 6, 30), testCalendar())
	if s := findStat(res.Stats, "d-1", alice.ID); s.WeeklyCount != 1 {
		t.Fatalf("before refresh weekly=%d, want 1", s.WeeklyCount)
	}
}
