package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/yuqie6/DungeonMirror/internal/calendar"
	"github.com/yuqie6/DungeonMirror/internal/eventbus"
	"github.com/yuqie6/DungeonMirror/internal/pkg/config"
	"github.com/yuqie6/DungeonMirror/internal/repository"
	"github.com/yuqie6/DungeonMirror/internal/service"
)

// Core 持有跨二进制共享的核心依赖。
// Cfg 仅在启动阶段直接读取；运行期读写经 Config / ApplyCalendar
type Core struct {
	cfgMu     sync.RWMutex
	Cfg       *config.Config
	CfgPath   string
	DB        *repository.Database
	Hub       *eventbus.Hub
	LogCloser io.Closer

	Repos struct {
		Characters *repository.CharacterRepository
		Dungeons   *repository.DungeonRepository
		Stats      *repository.StatRepository
		Records    *repository.RecordRepository
	}

	Services struct {
		Ledger  *service.Ledger
		Reports *service.ReportService
	}
}

// NewCore 加载配置与日志并构建核心依赖（不启动账本）
func NewCore(cfgPath string) (*Core, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logCloser, _ := config.SetupLogger(config.LoggerOptions{
		Level:     cfg.App.LogLevel,
		Path:      cfg.App.LogPath,
		Component: filepath.Base(os.Args[0]),
	})

	c, err := NewCoreFromConfig(cfg)
	if err != nil {
		if logCloser != nil {
			_ = logCloser.Close()
		}
		return nil, err
	}
	c.LogCloser = logCloser
	c.CfgPath = cfgPath
	if c.CfgPath == "" {
		c.CfgPath, _ = config.DefaultConfigPath()
	}
	return c, nil
}

// NewCoreFromConfig 基于已加载的配置构建核心依赖
func NewCoreFromConfig(cfg *config.Config) (*Core, error) {
	cal, err := calendar.FromConfig(cfg.Calendar.AnchorWeekday, cfg.Calendar.AnchorHour, cfg.Calendar.Timezone)
	if err != nil {
		return nil, err
	}

	db, err := repository.NewDatabase(cfg.Storage.DBPath, repository.DatabaseOptions{
		RollbackOnFailure: cfg.Migration.RollbackOnFailure,
	})
	if err != nil {
		return nil, err
	}

	c := &Core{Cfg: cfg, DB: db, Hub: eventbus.NewHub()}

	// Repos
	c.Repos.Characters = repository.NewCharacterRepository(db.DB)
	c.Repos.Dungeons = repository.NewDungeonRepository(db.DB)
	c.Repos.Stats = repository.NewStatRepository(db.DB)
	c.Repos.Records = repository.NewRecordRepository(db.DB)

	// Services
	c.Services.Ledger = service.NewLedger(service.LedgerDeps{
		Characters: c.Repos.Characters,
		Dungeons:   c.Repos.Dungeons,
		Stats:      c.Repos.Stats,
		Records:    c.Repos.Records,
		Backups:    db.Backups,
		Hub:        c.Hub,
		Calendar:   cal,
		// 安全模式：允许查看与导出备份，但不启动任何写库链路
		ReadOnly: db.SafeMode,
	})
	c.Services.Reports = service.NewReportService(
		c.Repos.Records,
		c.Repos.Characters,
		c.Services.Ledger.Calendar,
		c.Services.Ledger.Now,
	)

	return c, nil
}

// Config 返回配置快照，可在任意协程调用
func (c *Core) Config() config.Config {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return *c.Cfg
}

// ApplyCalendar 更新游戏周日历：账本重算、配置同步，persist 时写回配置文件。
// 写回失败只记日志，新日历已生效
func (c *Core) ApplyCalendar(ctx context.Context, cc config.CalendarConfig, persist bool) error {
	cal, err := calendar.FromConfig(cc.AnchorWeekday, cc.AnchorHour, cc.Timezone)
	if err != nil {
		return fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
	}

	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()

	if c.Services.Ledger.Calendar().String() != cal.String() {
		if err := c.Services.Ledger.SetCalendar(ctx, cal); err != nil {
			return err
		}
	}
	c.Cfg.Calendar = cc

	if persist && c.CfgPath != "" {
		if err := config.WriteFile(c.CfgPath, c.Cfg); err != nil {
			slog.Warn("写回配置文件失败", "path", c.CfgPath, "error", err)
		}
	}
	return nil
}

// Start 启动账本（owner 协程 + 启动重算）
func (c *Core) Start(ctx context.Context) error {
	return c.Services.Ledger.Start(ctx)
}

// Close 关闭核心依赖资源
func (c *Core) Close() error {
	if c == nil {
		return nil
	}
	if c.Services.Ledger != nil {
		c.Services.Ledger.Stop()
	}
	var dbErr error
	if c.DB != nil {
		dbErr = c.DB.Close()
	}
	if c.LogCloser != nil {
		_ = c.LogCloser.Close()
	}
	return dbErr
}
