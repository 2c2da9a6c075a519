package handler

import (
	"net/http"
	"strings"
)

type backupIDRequest struct {
	ID string `json:"id"`
}

// HandleResync 手动触发全量重算
func (a *API) HandleResync(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	res, err := a.ledger().Resync(ctx)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// HandleSnapshot 当前统计快照
func (a *API) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	snap, err := a.ledger().Snapshot(ctx)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, snap)
}

// HandleBackups GET 列出备份；POST 创建备份
func (a *API) HandleBackups(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	switch r.Method {
	case http.MethodGet:
		list, err := a.ledger().ListBackups(ctx)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, list)
	case http.MethodPost:
		id, err := a.ledger().CreateBackup(ctx)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, map[string]any{"id": id})
	default:
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// HandleBackupRestore 从备份恢复并重算
func (a *API) HandleBackupRestore(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}
	var req backupIDRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		WriteAPIError(w, http.StatusBadRequest, APIError{Error: "id 不能为空", Code: "invalid_input"})
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	res, err := a.ledger().RestoreBackup(ctx, req.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// HandleBackupDelete 删除备份
func (a *API) HandleBackupDelete(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}
	var req backupIDRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		WriteAPIError(w, http.StatusBadRequest, APIError{Error: "id 不能为空", Code: "invalid_input"})
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	if err := a.ledger().DeleteBackup(ctx, req.ID); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"deleted": req.ID})
}
