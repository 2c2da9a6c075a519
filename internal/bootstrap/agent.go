package bootstrap

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/yuqie6/DungeonMirror/internal/pkg/config"
)

// AgentRuntime Agent 二进制的运行时：核心依赖 + 配置热加载
type AgentRuntime struct {
	*Core
	StartedAt time.Time
}

// NewAgentRuntime 构建 Agent 运行时并启动账本
func NewAgentRuntime(ctx context.Context, cfgPath string) (*AgentRuntime, error) {
	core, err := NewCore(cfgPath)
	if err != nil {
		return nil, err
	}
	rt := &AgentRuntime{Core: core, StartedAt: time.Now()}

	if err := core.Start(ctx); err != nil {
		_ = core.Close()
		return nil, err
	}

	if running, err := core.Repos.Stats.ListInProgress(ctx); err == nil && len(running) > 0 {
		slog.Info("恢复进行中的副本", "count", len(running))
	}

	if core.DB.SafeMode {
		// 安全模式不热加载：日历变更会触发重算写库
		slog.Warn("数据库处于安全模式，只读运行", "reason", core.DB.MigrationError)
		return rt, nil
	}

	if _, err := os.Stat(core.CfgPath); err == nil {
		if err := config.Watch(ctx, core.CfgPath, rt.applyConfig); err != nil {
			slog.Warn("配置热加载启用失败", "error", err)
		}
	}
	return rt, nil
}

// applyConfig 配置变更后只热更新日历；存储/监听地址等需重启生效
func (rt *AgentRuntime) applyConfig(cfg *config.Config) {
	if err := rt.ApplyCalendar(context.Background(), cfg.Calendar, false); err != nil {
		slog.Warn("更新游戏周日历失败，保持原配置", "error", err)
	}
}

// Uptime 运行时长
func (rt *AgentRuntime) Uptime() time.Duration {
	return time.Since(rt.StartedAt)
}
