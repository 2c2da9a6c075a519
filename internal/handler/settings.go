package handler

import (
	"net/http"

	"github.com/yuqie6/DungeonMirror/internal/pkg/config"
)

type calendarSettings struct {
	AnchorWeekday int    `json:"anchor_weekday"`
	AnchorHour    int    `json:"anchor_hour"`
	Timezone      string `json:"timezone"`
}

type settingsResponse struct {
	Calendar       calendarSettings `json:"calendar"`
	Effective      string           `json:"effective"`
	MetricsEnabled bool             `json:"metrics_enabled"`
	ListenAddr     string           `json:"listen_addr"`
	ConfigPath     string           `json:"config_path,omitempty"`
}

// HandleSettings GET 读取设置；POST 修改游戏周日历（立即生效并写回配置文件）
func (a *API) HandleSettings(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		WriteJSON(w, http.StatusOK, a.settings())
	case http.MethodPost:
		var req calendarSettings
		if !decodeBody(w, r, &req) {
			return
		}
		ctx, cancel := withTimeout(r)
		defer cancel()

		err := a.rt.ApplyCalendar(ctx, config.CalendarConfig{
			AnchorWeekday: req.AnchorWeekday,
			AnchorHour:    req.AnchorHour,
			Timezone:      req.Timezone,
		}, true)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, a.settings())
	default:
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *API) settings() settingsResponse {
	cfg := a.rt.Config()
	return settingsResponse{
		Calendar: calendarSettings{
			AnchorWeekday: cfg.Calendar.AnchorWeekday,
			AnchorHour:    cfg.Calendar.AnchorHour,
			Timezone:      cfg.Calendar.Timezone,
		},
		Effective:      a.ledger().Calendar().String(),
		MetricsEnabled: cfg.Metrics.Enabled,
		ListenAddr:     cfg.Server.ListenAddr,
		ConfigPath:     a.rt.CfgPath,
	}
}
