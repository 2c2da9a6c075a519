package schema

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Character 角色登记表。ID 一经生成不再变化，所有统计都以 ID 为键
// 数据量级：十级
type Character struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Server    string    `gorm:"size:64;index:idx_character_identity" json:"server"`
	Name      string    `gorm:"size:64;index:idx_character_identity" json:"name"`
	School    string    `gorm:"size:32;index:idx_character_identity" json:"school"` // 门派
	BodyType  string    `gorm:"size:32" json:"body_type"`                           // 体型
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (Character) TableName() string {
	return "characters"
}

// NewCharacter 创建角色并分配稳定 ID
func NewCharacter(server, name, school, bodyType string) *Character {
	return &Character{
		ID:       uuid.NewString(),
		Server:   strings.TrimSpace(server),
		Name:     strings.TrimSpace(name),
		School:   strings.TrimSpace(school),
		BodyType: strings.TrimSpace(bodyType),
	}
}

// Snapshot 返回角色当前展示字段的值拷贝
func (c Character) Snapshot() CharacterSnapshot {
	return CharacterSnapshot{
		Server:   c.Server,
		Name:     c.Name,
		School:   c.School,
		BodyType: c.BodyType,
	}
}

// CharacterSnapshot 记录创建时的角色快照（值拷贝，不随角色改名而变化）
type CharacterSnapshot struct {
	Server   string `gorm:"size:64" json:"server"`
	Name     string `gorm:"size:64" json:"name"`
	School   string `gorm:"size:32" json:"school"`
	BodyType string `gorm:"size:32" json:"body_type"`
}

// IdentityKey 兜底匹配用的字段组合（服务器/角色名/门派）
func (s CharacterSnapshot) IdentityKey() string {
	return s.Server + "\x00" + s.Name + "\x00" + s.School
}

// Label 用于日志与展示
func (s CharacterSnapshot) Label() string {
	return s.Name + "@" + s.Server
}
