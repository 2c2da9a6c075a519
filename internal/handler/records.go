package handler

import (
	"net/http"
	"time"

	"github.com/yuqie6/DungeonMirror/internal/service"
)

type recordIDRequest struct {
	ID int64 `json:"id"`
}

type reassignRequest struct {
	ID          int64  `json:"id"`
	CharacterID string `json:"character_id"`
}

type editRequest struct {
	ID          int64      `json:"id"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    *int64     `json:"duration,omitempty"`
}

type dropsRequest struct {
	ID       int64    `json:"id"`
	Revision int      `json:"revision"`
	Drops    []string `json:"drops"`
}

// HandleRecords GET 列出记录（附场次号）；POST 手动补录
func (a *API) HandleRecords(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	switch r.Method {
	case http.MethodGet:
		rows, err := a.ledger().ListRecordRows(ctx)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, rows)
	case http.MethodPost:
		var req service.ManualRecordInput
		if !decodeBody(w, r, &req) {
			return
		}
		rec, err := a.ledger().AddManualRecord(ctx, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, rec)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// HandleRecordDetail GET /api/records/detail?id=
func (a *API) HandleRecordDetail(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}
	id, err := parseInt64Param(r.URL.Query().Get("id"))
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, APIError{Error: "id 参数无效", Code: "invalid_input"})
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	rec, err := a.ledger().GetRecord(ctx, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// HandleRecordDelete 删除记录
func (a *API) HandleRecordDelete(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}
	var req recordIDRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	if err := a.ledger().DeleteRecord(ctx, req.ID); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "id": req.ID})
}

// HandleRecordReassign 记录改挂角色
func (a *API) HandleRecordReassign(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}
	var req reassignRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	rec, err := a.ledger().ReassignRecord(ctx, req.ID, req.CharacterID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// HandleRecordEdit 修改完成时间/时长
func (a *API) HandleRecordEdit(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}
	var req editRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	rec, err := a.ledger().EditRecord(ctx, req.ID, service.RecordEdit{
		CompletedAt: req.CompletedAt,
		Duration:    req.Duration,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// HandleRecordDrops 回填掉落物；revision 过期返回 409
func (a *API) HandleRecordDrops(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}
	var req dropsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	rec, err := a.ledger().AttachDrops(ctx, req.ID, req.Revision, req.Drops)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}
