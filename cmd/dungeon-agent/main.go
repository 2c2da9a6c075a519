package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/yuqie6/DungeonMirror/internal/bootstrap"
	"github.com/yuqie6/DungeonMirror/internal/pkg/buildinfo"
	"github.com/yuqie6/DungeonMirror/internal/pkg/config"
	"github.com/yuqie6/DungeonMirror/internal/server"
)

func main() {
	var cfgPath string
	var listen string

	rootCmd := &cobra.Command{
		Use:     "dungeon-agent",
		Short:   "DungeonMirror 本地服务：账本 + HTTP API + 周刷新",
		Version: buildinfo.String(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath, listen)
		},
		SilenceUsage: true,
	}
	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "", "配置文件路径（默认 exeDir/config/config.yaml）")
	rootCmd.Flags().StringVar(&listen, "listen", "", "监听地址，覆盖 server.listen_addr")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfgPath, listen string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfgPath == "" {
		p, err := config.DefaultConfigPath()
		if err == nil {
			cfgPath = p
		}
	}
	if cfgPath != "" {
		// 首次启动写出默认配置，方便用户修改
		if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
			_ = config.WriteFile(cfgPath, config.Default())
		}
	}

	rt, err := bootstrap.NewAgentRuntime(ctx, cfgPath)
	if err != nil {
		slog.Error("启动 Agent 失败", "error", err)
		return err
	}
	defer rt.Close()

	slog.Info("DungeonMirror Agent 启动中...", "name", rt.Config().App.Name, "version", buildinfo.Version, "commit", buildinfo.Commit)

	addr := rt.Config().Server.ListenAddr
	if listen != "" {
		addr = listen
	}
	srv, err := server.Start(ctx, rt, server.Options{ListenAddr: addr, WriteBaseURL: true})
	if err != nil {
		slog.Error("启动本地 API 失败", "error", err)
		return err
	}
	slog.Info("DungeonMirror Agent 已启动", "base_url", srv.BaseURL(), "safe_mode", rt.DB.SafeMode)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	slog.Info("收到系统退出信号，正在关闭...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = srv.Shutdown(shutdownCtx)
	shutdownCancel()

	slog.Info("DungeonMirror Agent 已退出", "uptime", rt.Uptime().Round(time.Second))
	return nil
}
