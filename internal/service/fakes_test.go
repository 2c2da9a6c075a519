package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yuqie6/DungeonMirror/internal/calendar"
	"github.com/yuqie6/DungeonMirror/internal/repository"
	"github.com/yuqie6/DungeonMirror/internal/schema"
	"gorm.io/gorm"
)

// ===== Mock Implementations =====

// memStore 内存版仓储，同时实现角色/副本/统计/记录/备份接口
type memStore struct {
	mu       sync.Mutex
	chars    map[string]schema.Character
	dungeons map[string]schema.Dungeon
	stats    map[schema.StatKey]schema.DungeonStat
	records  []schema.CompletionRecord
	nextID   int64
	nextDrop int64
	backups  map[string]memBackup
}

type memBackup struct {
	chars    map[string]schema.Character
	dungeons map[string]schema.Dungeon
	records  []schema.CompletionRecord
}

func newMemStore() *memStore {
	return &memStore{
		chars:    make(map[string]schema.Character),
		dungeons: make(map[string]schema.Dungeon),
		stats:    make(map[schema.StatKey]schema.DungeonStat),
		backups:  make(map[string]memBackup),
	}
}

type memChars struct{ *memStore }
type memDungeons struct{ *memStore }
type memStats struct{ *memStore }
type memRecords struct{ *memStore }
type memBackups struct{ *memStore }

func (m memChars) Create(ctx context.Context, c *schema.Character) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chars[c.ID] = *c
	return nil
}
func (m memChars) GetByID(ctx context.Context, id string) (*schema.Character, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chars[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}
func (m memChars) GetAll(ctx context.Context) ([]schema.Character, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schema.Character, 0, len(m.chars))
	for _, c := range m.chars {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
func (m memChars) FindByIdentity(ctx context.Context, server, name, school string) ([]schema.Character, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schema.Character
	for _, c := range m.chars {
		if c.Server == server && c.Name == name && c.School == school {
			out = append(out, c)
		}
	}
	return out, nil
}
func (m memChars) Update(ctx context.Context, c *schema.Character) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chars[c.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	m.chars[c.ID] = *c
	return nil
}

func (m memDungeons) Create(ctx context.Context, d *schema.Dungeon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dungeons[d.ID] = *d
	return nil
}
func (m memDungeons) GetByID(ctx context.Context, id string) (*schema.Dungeon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dungeons[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}
func (m memDungeons) GetByName(ctx context.Context, name string) (*schema.Dungeon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.dungeons {
		if d.Name == name {
			d := d
			return &d, nil
		}
	}
	return nil, nil
}
func (m memDungeons) GetAll(ctx context.Context) ([]schema.Dungeon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schema.Dungeon, 0, len(m.dungeons))
	for _, d := range m.dungeons {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m memStats) Get(ctx context.Context, dungeonID, characterID string) (*schema.DungeonStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[schema.StatKey{DungeonID: dungeonID, CharacterID: characterID}]
	if !ok {
		return nil, nil
	}
	return &s, nil
}
func (m memStats) GetAll(ctx context.Context) ([]schema.DungeonStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schema.DungeonStat, 0, len(m.stats))
	for _, s := range m.stats {
		out = append(out, s)
	}
	sortStats(out)
	return out, nil
}
func (m memStats) Upsert(ctx context.Context, s *schema.DungeonStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[s.Key()] = *s
	return nil
}
func (m memStats) ReplaceAll(ctx context.Context, stats []schema.DungeonStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = make(map[schema.StatKey]schema.DungeonStat, len(stats))
	for _, s := range stats {
		m.stats[s.Key()] = s
	}
	return nil
}

func copyRecord(r schema.CompletionRecord) schema.CompletionRecord {
	r.Drops = append([]schema.DropItem(nil), r.Drops...)
	return r
}

func (m memRecords) Append(ctx context.Context, rec *schema.CompletionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	if rec.Revision == 0 {
		rec.Revision = 1
	}
	for i := range rec.Drops {
		m.nextDrop++
		rec.Drops[i].ID = m.nextDrop
		rec.Drops[i].RecordID = rec.ID
	}
	m.records = append(m.records, copyRecord(*rec))
	return nil
}
func (m memRecords) GetByID(ctx context.Context, id int64) (*schema.CompletionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			r = copyRecord(r)
			return &r, nil
		}
	}
	return nil, nil
}
func (m memRecords) All(ctx context.Context) ([]schema.CompletionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schema.CompletionRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, copyRecord(r))
	}
	return out, nil
}
func (m memRecords) Delete(ctx context.Context, id int64) (repository.RecordChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.records {
		if r.ID == id {
			m.records = append(m.records[:i], m.records[i+1:]...)
			before := r
			return repository.RecordChange{Before: &before}, nil
		}
	}
	return repository.RecordChange{}, nil
}
func (m memRecords) Update(ctx context.Context, id int64, fn func(rec *schema.CompletionRecord) error) (repository.RecordChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.records {
		if r.ID != id {
			continue
		}
		before := copyRecord(r)
		after := copyRecord(r)
		if err := fn(&after); err != nil {
			return repository.RecordChange{}, err
		}
		after.ID = id
		after.Revision = before.Revision + 1
		for j := range after.Drops {
			if after.Drops[j].ID == 0 {
				m.nextDrop++
				after.Drops[j].ID = m.nextDrop
				after.Drops[j].RecordID = id
			}
		}
		m.records[i] = copyRecord(after)
		return repository.RecordChange{Before: &before, After: &after}, nil
	}
	return repository.RecordChange{}, gorm.ErrRecordNotFound
}

func (m memBackups) CreateBackup(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := time.Now().Format("150405.000000000")
	b := memBackup{
		chars:    make(map[string]schema.Character),
		dungeons: make(map[string]schema.Dungeon),
	}
	for k, v := range m.chars {
		b.chars[k] = v
	}
	for k, v := range m.dungeons {
		b.dungeons[k] = v
	}
	for _, r := range m.records {
		b.records = append(b.records, copyRecord(r))
	}
	m.backups[id] = b
	return id, nil
}
func (m memBackups) Restore(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.backups[id]
	if !ok {
		return false, nil
	}
	m.chars = b.chars
	m.dungeons = b.dungeons
	m.records = append([]schema.CompletionRecord(nil), b.records...)
	return true, nil
}
func (m memBackups) ListBackups(ctx context.Context) ([]repository.BackupManifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]repository.BackupManifest, 0, len(m.backups))
	for id := range m.backups {
		out = append(out, repository.BackupManifest{ID: id})
	}
	return out, nil
}

func (m memBackups) DeleteBackup(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.backups[id]; !ok {
		return false, nil
	}
	delete(m.backups, id)
	return true, nil
}

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ===== Helpers =====

// 周一 07:00 刷新，UTC
func testCalendar() calendar.Calendar {
	cal, err := calendar.New(1, 7, time.UTC)
	if err != nil {
		panic(err)
	}
	return cal
}

func at(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func testChar(id, server, name, school string) schema.Character {
	return schema.Character{ID: id, Server: server, Name: name, School: school}
}

func testRecord(id int64, char schema.Character, dungeon string, t time.Time, duration int64) schema.CompletionRecord {
	return schema.CompletionRecord{
		ID:          id,
		DungeonName: dungeon,
		CharacterID: char.ID,
		Character:   char.Snapshot(),
		CompletedAt: t.UnixMilli(),
		Duration:    duration,
		Revision:    1,
	}
}

func findStat(stats []schema.DungeonStat, dungeonID, characterID string) *schema.DungeonStat {
	for i := range stats {
		if stats[i].DungeonID == dungeonID && stats[i].CharacterID == characterID {
			return &stats[i]
		}
	}
	return nil
}

func calendarAt(anchorWeekday, anchorHour int) (calendar.Calendar, error) {
	return calendar.New(anchorWeekday, anchorHour, time.UTC)
}
