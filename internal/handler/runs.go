package handler

import (
	"net/http"

	"github.com/yuqie6/DungeonMirror/internal/service"
)

type runRequest struct {
	CharacterID string `json:"character_id"`
	DungeonID   string `json:"dungeon_id"`
}

func (a *API) decodeRun(w http.ResponseWriter, r *http.Request) (runRequest, bool) {
	var req runRequest
	if !a.ready(w) || !decodeBody(w, r, &req) {
		return req, false
	}
	if req.CharacterID == "" || req.DungeonID == "" {
		WriteAPIError(w, http.StatusBadRequest, APIError{Error: "character_id 与 dungeon_id 不能为空", Code: "invalid_input"})
		return req, false
	}
	return req, true
}

// HandleRunStart 开始计时
func (a *API) HandleRunStart(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeRun(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	stat, err := a.ledger().StartRun(ctx, req.CharacterID, req.DungeonID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stat)
}

// HandleRunComplete 完成计时，返回新记录
func (a *API) HandleRunComplete(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeRun(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	rec, err := a.ledger().CompleteRun(ctx, req.CharacterID, req.DungeonID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// HandleRunCancel 取消计时
func (a *API) HandleRunCancel(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeRun(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	if err := a.ledger().CancelRun(ctx, req.CharacterID, req.DungeonID); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "state": service.ActionCancel})
}
