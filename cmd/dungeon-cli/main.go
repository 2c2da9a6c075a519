package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/yuqie6/DungeonMirror/internal/bootstrap"
	"github.com/yuqie6/DungeonMirror/internal/pkg/buildinfo"
	"github.com/yuqie6/DungeonMirror/internal/repository"
)

var (
	cfgFile string
	core    *bootstrap.Core
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "dungeon",
		Short:   "DungeonMirror - 副本计时与周报",
		Long:    `DungeonMirror 记录每个角色的副本完成情况，按游戏周统计次数并生成周报/年报。`,
		Version: buildinfo.String(),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			var err error
			core, err = bootstrap.NewCore(cfgFile)
			if err != nil {
				slog.Error("初始化失败", "error", err)
				os.Exit(1)
			}
			if err := core.Start(context.Background()); err != nil {
				slog.Error("启动账本失败", "error", err)
				os.Exit(1)
			}
			if core.DB.SafeMode {
				fmt.Printf("⚠️  数据库处于安全模式（%s），写操作已禁用\n\n", core.DB.MigrationError)
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if core != nil {
				_ = core.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径")

	rootCmd.AddCommand(characterCmd())
	rootCmd.AddCommand(dungeonCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(backupCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func ctxTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// fail 打印错误并退出（PostRun 不会执行，先关闭核心依赖）
func fail(format string, args ...any) {
	fmt.Printf("❌ "+format+"\n", args...)
	if core != nil {
		_ = core.Close()
	}
	os.Exit(1)
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		fail("记录 ID 无效: %s", s)
	}
	return id
}

// parseLocalTime 按游戏日历所在时区解析时间
func parseLocalTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return repository.ParseDateTime(s, core.Services.Ledger.Calendar().Location())
}

func formatMs(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	loc := core.Services.Ledger.Calendar().Location()
	return time.UnixMilli(ms).In(loc).Format("2006-01-02 15:04")
}

func formatDuration(sec int64) string {
	if sec <= 0 {
		return "0m"
	}
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}
