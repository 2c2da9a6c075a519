package service

import (
	"errors"
	"sort"
	"testing"

	"github.com/yuqie6/DungeonMirror/internal/schema"
)

func runNumberFixture() ([]schema.CompletionRecord, *CharacterResolver) {
	alice := testChar("c-alice", "梦江南", "阿离", "七秀")
	bob := testChar("c-bob", "梦江南", "阿宝", "纯阳")
	// 插入顺序与完成时间顺序不同（补录）
	log := []schema.CompletionRecord{
		testRecord(1, alice, "英雄河阳之战", at(2026, 3, 10, 20, 0), 60),
		testRecord(2, bob, "英雄河阳之战", at(2026, 3, 9, 20, 0), 60),
		testRecord(3, alice, "英雄河阳之战", at(2026, 3, 2, 20, 0), 60),
		testRecord(4, alice, "白帝江关", at(2026, 3, 11, 20, 0), 60),
		testRecord(5, alice, "英雄河阳之战", at(2026, 3, 10, 20, 0), 60), // 与 1 同一时刻
		testRecord(6, alice, "英雄河阳之战", at(2026, 3, 12, 20, 0), 60),
	}
	return log, NewCharacterResolver([]schema.Character{alice, bob})
}

func TestCharacterRunNumber_Gapless(t *testing.T) {
	log, resolver := runNumberFixture()

	got := make([]int, 0)
	for _, r := range log {
		if r.CharacterID != "c-alice" || r.DungeonName != "英雄河阳之战" {
			continue
		}
		n, err := CharacterRunNumber(log, resolver, r, "")
		if err != nil {
			t.Fatalf("record %d: %v", r.ID, err)
		}
		got = append(got, n)
	}
	sort.Ints(got)
	for i, n := range got {
		if n != i+1 {
			t.Fatalf("run numbers=%v, want 1..%d", got, len(got))
		}
	}
}

func TestCharacterRunNumber_Ordering(t *testing.T) {
	log, resolver := runNumberFixture()
	want := map[int64]int{3: 1, 1: 2, 5: 3, 6: 4}
	for id, w := range want {
		n, err := CharacterRunNumber(log, resolver, log[id-1], "")
		if err != nil {
			t.Fatalf("record %d: %v", id, err)
		}
		if n != w {
			t.Fatalf("record %d run=%d, want %d", id, n, w)
		}
	}
}

func TestCharacterRunNumber_Override(t *testing.T) {
	log, resolver := runNumberFixture()
	// 记录 4 在自己的副本里是第 1 次；换成别的副本名则找不到自己
	n, err := CharacterRunNumber(log, resolver, log[3], "")
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if _, err := CharacterRunNumber(log, resolver, log[3], "英雄河阳之战"); !errors.Is(err, ErrRunNumberNotFound) {
		t.Fatalf("err=%v, want ErrRunNumberNotFound", err)
	}
}

func TestTotalRunNumber(t *testing.T) {
	log, _ := runNumberFixture()
	want := map[int64]int{3: 1, 2: 2, 1: 3, 5: 4, 4: 5, 6: 6}
	for id, w := range want {
		n, err := TotalRunNumber(log, log[id-1])
		if err != nil {
			t.Fatalf("record %d: %v", id, err)
		}
		if n != w {
			t.Fatalf("record %d total=%d, want %d", id, n, w)
		}
	}

	deleted := testRecord(99, testChar("c-alice", "梦江南", "阿离", "七秀"), "英雄河阳之战", at(2026, 3, 1, 0, 0), 0)
	if _, err := TotalRunNumber(log, deleted); !errors.Is(err, ErrRunNumberNotFound) {
		t.Fatalf("err=%v, want ErrRunNumberNotFound", err)
	}
}

func TestRunNumberIndex_MatchesDirectLookup(t *testing.T) {
	log, resolver := runNumberFixture()
	idx := BuildRunNumberIndex(log, resolver)
	if idx.Len() != len(log) {
		t.Fatalf("len=%d", idx.Len())
	}
	for _, r := range log {
		n, err := idx.Lookup(r.ID)
		if err != nil {
			t.Fatalf("lookup %d: %v", r.ID, err)
		}
		c, _ := CharacterRunNumber(log, resolver, r, "")
		tot, _ := TotalRunNumber(log, r)
		if n.CharacterRun != c || n.TotalRun != tot {
			t.Fatalf("record %d index=%+v direct=(%d,%d)", r.ID, n, c, tot)
		}
	}
	if _, err := idx.Lookup(404); !errors.Is(err, ErrRunNumberNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestRunNumber_UnresolvedCharactersKeptApart(t *testing.T) {
	ghostA := testChar("", "破阵子", "无名", "少林")
	ghostB := testChar("", "破阵子", "有名", "少林")
	log := []schema.CompletionRecord{
		testRecord(1, ghostA, "白帝江关", at(2026, 3, 9, 20, 0), 60),
		testRecord(2, ghostB, "白帝江关", at(2026, 3, 10, 20, 0), 60),
	}
	resolver := NewCharacterResolver(nil)
	n, err := CharacterRunNumber(log, resolver, log[1], "")
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v, want 1", n, err)
	}
}
