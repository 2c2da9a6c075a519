package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/yuqie6/DungeonMirror/internal/dto"
	"github.com/yuqie6/DungeonMirror/internal/observability"
)

func (a *API) buildStatus(ctx context.Context) (*dto.StatusDTO, error) {
	snap, err := a.ledger().Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	backups, err := a.ledger().ListBackups(ctx)
	if err != nil {
		return nil, err
	}

	ledger := dto.LedgerStatusDTO{
		Calendar:   snap.Calendar,
		WeekStart:  snap.WeekStart.Format(time.RFC3339),
		WeekNumber: a.ledger().Calendar().WeekNumber(snap.WeekStart),
		Characters: len(snap.Characters),
		Dungeons:   len(snap.Dungeons),
		Stats:      len(snap.Stats),
		Unresolved: len(snap.Unresolved),
	}
	for _, s := range snap.Stats {
		if s.InProgress {
			ledger.InProgress++
		}
	}
	if n, err := a.rt.Repos.Records.Count(ctx); err == nil {
		ledger.Records = n
	}

	cfg := a.rt.Config()
	return observability.BuildStatus(observability.StatusInput{
		Cfg:       &cfg,
		CfgPath:   a.rt.CfgPath,
		DB:        a.rt.DB,
		StartedAt: a.startTime,
		Ledger:    ledger,
		Backups:   backups,

		Subscribers:   a.hub.Subscribers(),
		EventsDropped: a.hub.Dropped(),
	})
}

// HandleStatus 运行状态
func (a *API) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	st, err := a.buildStatus(ctx)
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, APIError{
			Error: err.Error(),
			Code:  "status_build_failed",
			Hint:  "请查看 /api/diagnostics/export 导出的诊断包（或检查日志）",
		})
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

// HandleDiagnosticsExport 导出诊断包 zip
func (a *API) HandleDiagnosticsExport(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	st, err := a.buildStatus(ctx)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	name := fmt.Sprintf("dungeon-mirror-diagnostics-%s.zip", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	cfg := a.rt.Config()
	_ = observability.WriteDiagnosticsZip(w, &cfg, a.rt.CfgPath, st)
}
