package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/yuqie6/DungeonMirror/internal/schema"
	"gorm.io/gorm"
)

// LatestSchemaVersion 当前程序支持的 schema 版本
const LatestSchemaVersion = 2

// MigrationStep 版本图上的一条边：From → To 的纯变换
type MigrationStep struct {
	From  int
	To    int
	Name  string
	Apply func(tx *gorm.DB) error
}

// MigrationResult 迁移结果，失败时携带备份 ID 以便人工回滚
type MigrationResult struct {
	Success     bool     `json:"success"`
	Log         []string `json:"log"`
	Err         error    `json:"-"`
	BackupID    string   `json:"backup_id,omitempty"`
	FromVersion int      `json:"from_version"`
	ToVersion   int      `json:"to_version"`
	RolledBack  bool     `json:"rolled_back"`
}

func (r *MigrationResult) logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.Log = append(r.Log, msg)
	slog.Info("迁移", "step", msg)
}

// Migrator 基于版本图的迁移器：迁移前自动备份，迁移后校验，失败默认回滚
type Migrator struct {
	db                *gorm.DB
	backups           *BackupManager
	edges             map[int][]MigrationStep
	verify            func(db *gorm.DB) error
	rollbackOnFailure bool
}

// NewMigrator 创建迁移器并注册内置迁移
func NewMigrator(db *gorm.DB, backups *BackupManager, rollbackOnFailure bool) *Migrator {
	m := &Migrator{
		db:                db,
		backups:           backups,
		edges:             make(map[int][]MigrationStep),
		verify:            verifySchema,
		rollbackOnFailure: rollbackOnFailure,
	}
	for _, step := range builtinSteps() {
		_ = m.Register(step)
	}
	return m
}

// Register 注册一条迁移边
func (m *Migrator) Register(step MigrationStep) error {
	if step.Apply == nil {
		return fmt.Errorf("迁移 %d→%d 缺少 Apply", step.From, step.To)
	}
	if step.To <= step.From {
		return fmt.Errorf("迁移 %d→%d 必须升级版本", step.From, step.To)
	}
	for _, e := range m.edges[step.From] {
		if e.To == step.To {
			return fmt.Errorf("迁移 %d→%d 重复注册", step.From, step.To)
		}
	}
	m.edges[step.From] = append(m.edges[step.From], step)
	return nil
}

// SetVerifier 替换迁移后校验
func (m *Migrator) SetVerifier(fn func(db *gorm.DB) error) {
	if fn != nil {
		m.verify = fn
	}
}

// Path 在版本图上求 from → to 的最短迁移路径
func (m *Migrator) Path(from, to int) ([]MigrationStep, error) {
	if from == to {
		return nil, nil
	}
	type node struct {
		version int
		path    []MigrationStep
	}
	visited := map[int]bool{from: true}
	queue := []node{{version: from}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		edges := append([]MigrationStep(nil), m.edges[cur.version]...)
		sort.Slice(edges, func(i, j int) bool { return edges[i].To < edges[j].To })
		for _, e := range edges {
			if visited[e.To] || e.To > to {
				continue
			}
			path := append(append([]MigrationStep(nil), cur.path...), e)
			if e.To == to {
				return path, nil
			}
			visited[e.To] = true
			queue = append(queue, node{version: e.To, path: path})
		}
	}
	return nil, fmt.Errorf("不存在从 v%d 到 v%d 的迁移路径", from, to)
}

// CurrentVersion 读取 schema_meta 中的版本，不存在时初始化为 0
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	db := m.db.WithContext(ctx)
	if err := db.AutoMigrate(&schema.SchemaMeta{}); err != nil {
		return 0, fmt.Errorf("创建 schema_meta 失败: %w", err)
	}

	var meta schema.SchemaMeta
	err := db.First(&meta, 1).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			meta = schema.SchemaMeta{ID: 1, SchemaVersion: 0}
			if err := db.Create(&meta).Error; err != nil {
				return 0, fmt.Errorf("初始化 schema_meta 失败: %w", err)
			}
			return 0, nil
		}
		return 0, fmt.Errorf("读取 schema_meta 失败: %w", err)
	}
	return meta.SchemaVersion, nil
}

// Migrate 迁移到目标版本
func (m *Migrator) Migrate(ctx context.Context, target int) MigrationResult {
	res := MigrationResult{}

	cur, err := m.CurrentVersion(ctx)
	if err != nil {
		res.Err = err
		return res
	}
	res.FromVersion = cur
	res.ToVersion = cur

	if cur > target {
		res.Err = fmt.Errorf("数据库 schema_version=%d 高于当前程序支持的版本=%d", cur, target)
		return res
	}
	if cur == target {
		res.Success = true
		return res
	}

	path, err := m.Path(cur, target)
	if err != nil {
		res.Err = err
		return res
	}

	// 全新库没有可备份的数据
	if cur > 0 && m.backups != nil {
		id, err := m.backups.CreateBackup(ctx)
		if err != nil {
			res.Err = fmt.Errorf("迁移前备份失败: %w", err)
			return res
		}
		res.BackupID = id
		res.logf("迁移前备份 %s", id)
	}

	for _, step := range path {
		res.logf("执行 v%d→v%d %s", step.From, step.To, step.Name)
		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := step.Apply(tx); err != nil {
				return err
			}
			return tx.Model(&schema.SchemaMeta{}).Where("id = ?", 1).Updates(map[string]any{
				"schema_version":   step.To,
				"last_backup_id":   res.BackupID,
				"last_migrated_at": time.Now().UnixMilli(),
			}).Error
		})
		if err != nil {
			res.Err = fmt.Errorf("迁移 v%d→v%d 失败: %w", step.From, step.To, err)
			m.rollback(ctx, &res)
			return res
		}
		res.ToVersion = step.To
	}

	if m.verify != nil {
		if err := m.verify(m.db.WithContext(ctx)); err != nil {
			res.Err = fmt.Errorf("迁移后校验失败: %w", err)
			m.rollback(ctx, &res)
			return res
		}
		res.logf("校验通过")
	}

	res.Success = true
	return res
}

func (m *Migrator) rollback(ctx context.Context, res *MigrationResult) {
	res.logf("失败: %v", res.Err)
	if !m.rollbackOnFailure {
		res.logf("未启用自动回滚，保持 v%d", res.ToVersion)
		return
	}
	if res.BackupID == "" || m.backups == nil {
		res.logf("无可用备份，跳过回滚")
		return
	}

	ok, err := m.backups.Restore(ctx, res.BackupID)
	if err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("备份 %s 不完整", res.BackupID)
		}
		res.Err = errors.Join(res.Err, fmt.Errorf("回滚失败: %w", err))
		res.logf("回滚失败: %v", err)
		return
	}
	if err := m.db.WithContext(ctx).Model(&schema.SchemaMeta{}).Where("id = ?", 1).
		Update("schema_version", res.FromVersion).Error; err != nil {
		res.Err = errors.Join(res.Err, fmt.Errorf("回滚版本号失败: %w", err))
		res.logf("回滚版本号失败: %v", err)
		return
	}
	res.RolledBack = true
	res.ToVersion = res.FromVersion
	res.logf("已回滚到 v%d（备份 %s）", res.FromVersion, res.BackupID)
}

func builtinSteps() []MigrationStep {
	return []MigrationStep{
		{
			From: 0, To: 1, Name: "create_tables",
			Apply: func(tx *gorm.DB) error {
				return tx.AutoMigrate(
					&schema.Character{},
					&schema.Dungeon{},
					&schema.DungeonStat{},
					&schema.CompletionRecord{},
					&schema.DropItem{},
					&schema.Blob{},
				)
			},
		},
		{
			From: 1, To: 2, Name: "record_character_handle",
			Apply: migrateRecordCharacterHandle,
		},
	}
}

// migrateRecordCharacterHandle 为缺少角色 ID 的旧记录补齐规范 ID（仅在字段组合唯一匹配时）
func migrateRecordCharacterHandle(tx *gorm.DB) error {
	if err := tx.AutoMigrate(&schema.CompletionRecord{}); err != nil {
		return err
	}
	if err := tx.Exec("CREATE INDEX IF NOT EXISTS idx_records_character_dungeon ON completion_records(character_id, dungeon_name)").Error; err != nil {
		return err
	}

	var chars []schema.Character
	if err := tx.Find(&chars).Error; err != nil {
		return err
	}
	byIdentity := make(map[string][]string)
	for _, c := range chars {
		k := c.Snapshot().IdentityKey()
		byIdentity[k] = append(byIdentity[k], c.ID)
	}

	var orphans []schema.CompletionRecord
	if err := tx.Where("character_id = '' OR character_id IS NULL").Find(&orphans).Error; err != nil {
		return err
	}
	for _, r := range orphans {
		ids := byIdentity[r.Character.IdentityKey()]
		if len(ids) != 1 {
			slog.Warn("旧记录无法唯一匹配角色，保留空角色 ID", "record_id", r.ID, "character", r.Character.Label(), "candidates", len(ids))
			continue
		}
		if err := tx.Model(&schema.CompletionRecord{}).Where("id = ?", r.ID).Update("character_id", ids[0]).Error; err != nil {
			return err
		}
	}
	return nil
}

// verifySchema 迁移后校验：表齐全且没有孤儿掉落物
func verifySchema(db *gorm.DB) error {
	for _, model := range []any{
		&schema.Character{}, &schema.Dungeon{}, &schema.DungeonStat{},
		&schema.CompletionRecord{}, &schema.DropItem{}, &schema.Blob{},
	} {
		if !db.Migrator().HasTable(model) {
			return fmt.Errorf("缺少表 %T", model)
		}
	}

	var orphans int64
	err := db.Model(&schema.DropItem{}).
		Where("record_id NOT IN (SELECT id FROM completion_records)").
		Count(&orphans).Error
	if err != nil {
		return fmt.Errorf("检查掉落物失败: %w", err)
	}
	if orphans > 0 {
		return fmt.Errorf("存在 %d 条孤儿掉落物", orphans)
	}
	return nil
}
