package dto

type StatusDTO struct {
	App          AppStatusDTO      `json:"app"`
	Storage      StorageStatusDTO  `json:"storage"`
	Ledger       LedgerStatusDTO   `json:"ledger"`
	Pipeline     PipelineStatusDTO `json:"pipeline"`
	RecentErrors []RecentErrorDTO  `json:"recent_errors"`
}

type AppStatusDTO struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	Commit     string `json:"commit,omitempty"`
	StartedAt  string `json:"started_at"`
	UptimeSec  int64  `json:"uptime_sec"`
	SafeMode   bool   `json:"safe_mode"`
	ConfigPath string `json:"config_path,omitempty"`
}

type StorageStatusDTO struct {
	DBPath         string `json:"db_path"`
	SchemaVersion  int    `json:"schema_version"`
	SafeModeReason string `json:"safe_mode_reason,omitempty"`
	BackupCount    int    `json:"backup_count"`
	LastBackupAt   int64  `json:"last_backup_at,omitempty"`
}

type LedgerStatusDTO struct {
	Calendar      string `json:"calendar"`
	WeekStart     string `json:"week_start"`
	WeekNumber    int    `json:"week_number"`
	Characters    int    `json:"characters"`
	Dungeons      int    `json:"dungeons"`
	Stats         int    `json:"stats"`
	Records       int64  `json:"records"`
	InProgress    int    `json:"in_progress"`
	Unresolved    int    `json:"unresolved"`
	MetricsOnHTTP bool   `json:"metrics_on_http"`
}

type PipelineStatusDTO struct {
	LastResyncAt     int64  `json:"last_resync_at"`
	LastResyncCostMs int64  `json:"last_resync_cost_ms"`
	LastRecords      int64  `json:"last_records"`
	LastUnresolved   int64  `json:"last_unresolved"`
	LastCompletionAt int64  `json:"last_completion_at"`
	Resyncs          int64  `json:"resyncs"`
	EventSubscribers int    `json:"event_subscribers"`
	EventsDropped    uint64 `json:"events_dropped"`
}

type RecentErrorDTO struct {
	Time    string `json:"time,omitempty"`
	Level   string `json:"level,omitempty"`
	Message string `json:"message"`
	Raw     string `json:"raw,omitempty"`
}
