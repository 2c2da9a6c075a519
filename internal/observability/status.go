package observability

import (
	"errors"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/yuqie6/DungeonMirror/internal/dto"
	"github.com/yuqie6/DungeonMirror/internal/pkg/buildinfo"
	"github.com/yuqie6/DungeonMirror/internal/pkg/config"
	"github.com/yuqie6/DungeonMirror/internal/repository"
)

var ErrNotReady = errors.New("rt not ready")

// StatusInput 构建状态所需的运行时信息；账本相关计数由调用方读取后传入
type StatusInput struct {
	Cfg       *config.Config
	CfgPath   string
	DB        *repository.Database
	StartedAt time.Time
	Ledger    dto.LedgerStatusDTO
	Backups   []repository.BackupManifest

	// 事件总线
	Subscribers   int
	EventsDropped uint64
}

// BuildStatus 汇总运行状态
func BuildStatus(in StatusInput) (*dto.StatusDTO, error) {
	if in.Cfg == nil || in.DB == nil {
		return nil, ErrNotReady
	}
	cfg := in.Cfg
	now := time.Now()

	storage := dto.StorageStatusDTO{
		DBPath:         cfg.Storage.DBPath,
		SchemaVersion:  in.DB.SchemaVersion,
		SafeModeReason: strings.TrimSpace(in.DB.MigrationError),
		BackupCount:    len(in.Backups),
	}
	for _, b := range in.Backups {
		if b.CreatedAt > storage.LastBackupAt {
			storage.LastBackupAt = b.CreatedAt
		}
	}

	ledger := in.Ledger
	ledger.MetricsOnHTTP = cfg.Metrics.Enabled

	return &dto.StatusDTO{
		App: dto.AppStatusDTO{
			Name:       cfg.App.Name,
			Version:    buildinfo.Version,
			Commit:     buildinfo.Commit,
			StartedAt:  in.StartedAt.Format(time.RFC3339),
			UptimeSec:  int64(now.Sub(in.StartedAt).Seconds()),
			SafeMode:   in.DB.SafeMode,
			ConfigPath: in.CfgPath,
		},
		Storage:      storage,
		Ledger:       ledger,
		Pipeline:     pipelineWithEvents(in),
		RecentErrors: ReadRecentErrors(cfg.App.LogPath, 20),
	}, nil
}

func pipelineWithEvents(in StatusInput) dto.PipelineStatusDTO {
	p := PipelineStatus()
	p.EventSubscribers = in.Subscribers
	p.EventsDropped = in.EventsDropped
	return p
}

// PipelineStatus 最近一次重算与完成的快照
func PipelineStatus() dto.PipelineStatusDTO {
	return dto.PipelineStatusDTO{
		LastResyncAt:     pipeline.lastResyncAt.Load(),
		LastResyncCostMs: pipeline.lastResyncCostMs.Load(),
		LastRecords:      pipeline.lastRecords.Load(),
		LastUnresolved:   pipeline.lastUnresolved.Load(),
		LastCompletionAt: pipeline.lastCompletionAt.Load(),
		Resyncs:          pipeline.resyncs.Load(),
	}
}

// ReadRecentErrors 从日志尾部倒序提取 WARN/ERROR 行
func ReadRecentErrors(logPath string, limit int) []dto.RecentErrorDTO {
	path := strings.TrimSpace(logPath)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	lines, err := tailLines(path, 256*1024)
	if err != nil {
		return []dto.RecentErrorDTO{{Message: "读取日志失败: " + err.Error()}}
	}

	if limit <= 0 {
		limit = 20
	}

	out := make([]dto.RecentErrorDTO, 0, limit)
	for i := len(lines) - 1; i >= 0 && len(out) < limit; i-- {
		raw := strings.TrimSpace(lines[i])
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "level=ERROR") && !strings.Contains(raw, "level=WARN") {
			continue
		}
		out = append(out, parseLogLine(raw))
	}
	return out
}

var (
	reLogTime  = regexp.MustCompile(`\btime=([^ ]+)`)
	reLogLevel = regexp.MustCompile(`\blevel=([^ ]+)`)
	reLogMsg   = regexp.MustCompile(`\bmsg=("(?:[^"\\]|\\.)*"|[^ ]+)`)
)

func parseLogLine(line string) dto.RecentErrorDTO {
	e := dto.RecentErrorDTO{Raw: line, Message: line}
	if m := reLogTime.FindStringSubmatch(line); len(m) == 2 {
		e.Time = m[1]
	}
	if m := reLogLevel.FindStringSubmatch(line); len(m) == 2 {
		e.Level = strings.Trim(m[1], "\"")
	}
	if m := reLogMsg.FindStringSubmatch(line); len(m) == 2 {
		msg := strings.TrimSpace(m[1])
		msg = strings.TrimPrefix(msg, "\"")
		msg = strings.TrimSuffix(msg, "\"")
		e.Message = msg
	}
	return e
}
