package service

import "errors"

var (
	// ErrInvalidTransition 当前状态不允许该操作（已在进行中再开始、未开始就完成/取消）
	ErrInvalidTransition = errors.New("invalid run transition")
	ErrCharacterNotFound = errors.New("character not found")
	ErrDungeonNotFound   = errors.New("dungeon not found")
	ErrRecordNotFound    = errors.New("record not found")
	// ErrStaleRevision 异步结果基于旧版本记录，已被丢弃
	ErrStaleRevision = errors.New("stale record revision")
	// ErrRunNumberNotFound 记录不在其自身所属的子集中（记录已删除或角色无法解析）
	ErrRunNumberNotFound = errors.New("run number not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrBackupNotFound    = errors.New("backup not found")
	ErrLedgerStopped     = errors.New("ledger stopped")
	ErrSafeMode          = errors.New("database in safe mode")
)
