package schema

import "time"

// Blob 以稳定字符串键保存的 JSON 数据块（备份、导出快照）
type Blob struct {
	Key       string    `gorm:"primaryKey;size:255"`
	Value     []byte    `gorm:"type:blob"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Blob) TableName() string {
	return "blobs"
}
