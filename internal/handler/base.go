package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yuqie6/DungeonMirror/internal/bootstrap"
	"github.com/yuqie6/DungeonMirror/internal/eventbus"
	"github.com/yuqie6/DungeonMirror/internal/pkg/buildinfo"
	"github.com/yuqie6/DungeonMirror/internal/service"
)

// 单次请求等待账本的上限
const requestTimeout = 10 * time.Second

// API HTTP 处理器
type API struct {
	rt        *bootstrap.AgentRuntime
	hub       *eventbus.Hub
	startTime time.Time
}

// NewAPI 创建 API 处理器
func NewAPI(rt *bootstrap.AgentRuntime, hub *eventbus.Hub) *API {
	return &API{
		rt:        rt,
		hub:       hub,
		startTime: time.Now(),
	}
}

func (a *API) ready(w http.ResponseWriter) bool {
	if a == nil || a.rt == nil || a.rt.Core == nil || a.rt.Services.Ledger == nil {
		WriteAPIError(w, http.StatusServiceUnavailable, APIError{
			Error: "rt 未初始化",
			Code:  "rt_not_ready",
			Hint:  "请稍后重试；若持续失败，请查看日志或重新启动 Agent",
		})
		return false
	}
	return true
}

func (a *API) ledger() *service.Ledger {
	return a.rt.Services.Ledger
}

func withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), requestTimeout)
}

// HandleHealth 健康检查接口
func (a *API) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if a == nil || a.rt == nil || a.rt.Cfg == nil {
		WriteError(w, http.StatusServiceUnavailable, "rt 未初始化")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"name":       a.rt.Config().App.Name,
		"version":    buildinfo.Version,
		"safe_mode":  a.rt.DB != nil && a.rt.DB.SafeMode,
		"started_at": a.startTime.Format(time.RFC3339),
	})
}

// HandleSSE Server-Sent Events 接口
func (a *API) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "stream not supported")
		return
	}
	if a == nil || a.hub == nil {
		WriteError(w, http.StatusServiceUnavailable, "hub 未初始化")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	sub := a.hub.Subscribe(ctx, 32)

	_, _ = io.WriteString(w, "event: ready\n")
	_, _ = io.WriteString(w, "data: {}\n\n")
	flusher.Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = io.WriteString(w, "event: ping\n")
			_, _ = io.WriteString(w, "data: {}\n\n")
			flusher.Flush()
		case evt, ok := <-sub:
			if !ok {
				return
			}
			b, _ := json.Marshal(evt)
			_, _ = io.WriteString(w, "id: "+strconv.FormatUint(evt.Seq, 10)+"\n")
			_, _ = io.WriteString(w, "event: "+sanitizeSSEName(evt.Type)+"\n")
			_, _ = io.WriteString(w, "data: ")
			_, _ = w.Write(b)
			_, _ = io.WriteString(w, "\n\n")
			flusher.Flush()
		}
	}
}

// sanitizeSSEName 清理 SSE 事件名称
func sanitizeSSEName(name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return "message"
	}
	n = strings.ReplaceAll(n, "\n", "")
	n = strings.ReplaceAll(n, "\r", "")
	return n
}
