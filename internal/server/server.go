package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yuqie6/DungeonMirror/internal/bootstrap"
	"github.com/yuqie6/DungeonMirror/internal/eventbus"
	"github.com/yuqie6/DungeonMirror/internal/handler"
)

// LocalServer 本地 HTTP 服务器
type LocalServer struct {
	rt      *bootstrap.AgentRuntime
	hub     *eventbus.Hub
	ln      net.Listener
	srv     *http.Server
	baseURL string
}

// Options 服务器启动配置
type Options struct {
	ListenAddr string // e.g. "127.0.0.1:0"
	// WriteBaseURL 把实际地址写到 exeDir/data/http_base_url.txt 供 CLI 发现
	WriteBaseURL bool
}

// Start 启动本地 HTTP 服务器
func Start(ctx context.Context, rt *bootstrap.AgentRuntime, opts Options) (*LocalServer, error) {
	if rt == nil {
		return nil, fmt.Errorf("rt 不能为空")
	}
	if strings.TrimSpace(opts.ListenAddr) == "" {
		opts.ListenAddr = "127.0.0.1:0"
	}

	ln, err := net.Listen("tcp", opts.ListenAddr)
	if err != nil {
		return nil, err
	}

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	baseURL := "http://127.0.0.1:" + portStr

	hub := rt.Hub
	if hub == nil {
		hub = eventbus.NewHub()
	}

	srv := &http.Server{
		Handler:           NewMux(rt, hub),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ls := &LocalServer{
		rt:      rt,
		hub:     hub,
		ln:      ln,
		srv:     srv,
		baseURL: baseURL,
	}

	go func() {
		<-ctx.Done()
		_ = ls.Shutdown(context.Background())
	}()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server 异常退出", "error", err)
		}
	}()

	if opts.WriteBaseURL {
		writeBaseURLFile(baseURL)
	}
	slog.Info("本地 HTTP 已启动", "base_url", baseURL)
	return ls, nil
}

// NewMux 构建路由
func NewMux(rt *bootstrap.AgentRuntime, hub *eventbus.Hub) *http.ServeMux {
	api := handler.NewAPI(rt, hub)
	mux := http.NewServeMux()
	registerRoutes(mux, api)
	if rt.Cfg != nil && rt.Config().Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return mux
}

// registerRoutes 注册所有 API 路由
func registerRoutes(mux *http.ServeMux, api *handler.API) {
	mux.HandleFunc("/health", api.HandleHealth)
	mux.HandleFunc("/api/events", api.HandleSSE)
	mux.HandleFunc("/api/status", requireMethod(http.MethodGet, api.HandleStatus))
	mux.HandleFunc("/api/diagnostics/export", requireMethod(http.MethodGet, api.HandleDiagnosticsExport))
	mux.HandleFunc("/api/settings", api.HandleSettings)

	mux.HandleFunc("/api/characters", api.HandleCharacters)
	mux.HandleFunc("/api/characters/update", requireMethod(http.MethodPost, api.HandleCharacterUpdate))
	mux.HandleFunc("/api/dungeons", api.HandleDungeons)

	mux.HandleFunc("/api/runs/start", requireMethod(http.MethodPost, api.HandleRunStart))
	mux.HandleFunc("/api/runs/complete", requireMethod(http.MethodPost, api.HandleRunComplete))
	mux.HandleFunc("/api/runs/cancel", requireMethod(http.MethodPost, api.HandleRunCancel))

	mux.HandleFunc("/api/records", api.HandleRecords)
	mux.HandleFunc("/api/records/detail", requireMethod(http.MethodGet, api.HandleRecordDetail))
	mux.HandleFunc("/api/records/delete", requireMethod(http.MethodPost, api.HandleRecordDelete))
	mux.HandleFunc("/api/records/reassign", requireMethod(http.MethodPost, api.HandleRecordReassign))
	mux.HandleFunc("/api/records/edit", requireMethod(http.MethodPost, api.HandleRecordEdit))
	mux.HandleFunc("/api/records/drops", requireMethod(http.MethodPost, api.HandleRecordDrops))

	mux.HandleFunc("/api/stats/snapshot", requireMethod(http.MethodGet, api.HandleSnapshot))
	mux.HandleFunc("/api/stats/resync", requireMethod(http.MethodPost, api.HandleResync))

	mux.HandleFunc("/api/reports/week", requireMethod(http.MethodGet, api.HandleWeeklyReports))
	mux.HandleFunc("/api/reports/year", requireMethod(http.MethodGet, api.HandleYearlyReports))
	mux.HandleFunc("/api/reports/current", requireMethod(http.MethodGet, api.HandleCurrentWeek))

	mux.HandleFunc("/api/maintenance/backups", api.HandleBackups)
	mux.HandleFunc("/api/maintenance/backups/restore", requireMethod(http.MethodPost, api.HandleBackupRestore))
	mux.HandleFunc("/api/maintenance/backups/delete", requireMethod(http.MethodPost, api.HandleBackupDelete))
}

// requireMethod 创建要求特定 HTTP 方法的中间件
func requireMethod(method string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			handler.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		fn(w, r)
	}
}

// BaseURL 返回服务器的基础 URL
func (s *LocalServer) BaseURL() string {
	if s == nil {
		return ""
	}
	return s.baseURL
}

// Shutdown 优雅关闭服务器
func (s *LocalServer) Shutdown(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// BaseURLFile http_base_url.txt 的位置
func BaseURLFile() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(exe), "data", "http_base_url.txt"), nil
}

// writeBaseURLFile 将服务地址写入文件供外部读取
func writeBaseURLFile(baseURL string) {
	path, err := BaseURLFile()
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	_ = os.WriteFile(path, []byte(baseURL), 0o644)
}
