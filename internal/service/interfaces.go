package service

import (
	"context"

	"github.com/yuqie6/DungeonMirror/internal/repository"
	"github.com/yuqie6/DungeonMirror/internal/schema"
)

// 仓储/外部依赖的最小接口集合（ISP）

type CharacterRepository interface {
	Create(ctx context.Context, c *schema.Character) error
	GetByID(ctx context.Context, id string) (*schema.Character, error)
	GetAll(ctx context.Context) ([]schema.Character, error)
	FindByIdentity(ctx context.Context, server, name, school string) ([]schema.Character, error)
	Update(ctx context.Context, c *schema.Character) error
}

type DungeonRepository interface {
	Create(ctx context.Context, d *schema.Dungeon) error
	GetByID(ctx context.Context, id string) (*schema.Dungeon, error)
	GetByName(ctx context.Context, name string) (*schema.Dungeon, error)
	GetAll(ctx context.Context) ([]schema.Dungeon, error)
}

type StatRepository interface {
	Get(ctx context.Context, dungeonID, characterID string) (*schema.DungeonStat, error)
	GetAll(ctx context.Context) ([]schema.DungeonStat, error)
	Upsert(ctx context.Context, stat *schema.DungeonStat) error
	ReplaceAll(ctx context.Context, stats []schema.DungeonStat) error
}

type RecordRepository interface {
	Append(ctx context.Context, rec *schema.CompletionRecord) error
	GetByID(ctx context.Context, id int64) (*schema.CompletionRecord, error)
	All(ctx context.Context) ([]schema.CompletionRecord, error)
	Delete(ctx context.Context, id int64) (repository.RecordChange, error)
	Update(ctx context.Context, id int64, mutate func(rec *schema.CompletionRecord) error) (repository.RecordChange, error)
}

type BackupStore interface {
	CreateBackup(ctx context.Context) (string, error)
	Restore(ctx context.Context, backupID string) (bool, error)
	ListBackups(ctx context.Context) ([]repository.BackupManifest, error)
	DeleteBackup(ctx context.Context, backupID string) (bool, error)
}

// RecordReader 报表/场次号只读访问
type RecordReader interface {
	All(ctx context.Context) ([]schema.CompletionRecord, error)
}

// CharacterReader 角色只读访问
type CharacterReader interface {
	GetAll(ctx context.Context) ([]schema.Character, error)
}
