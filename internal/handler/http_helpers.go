package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/yuqie6/DungeonMirror/internal/repository"
	"github.com/yuqie6/DungeonMirror/internal/service"
)

type APIError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

// WriteJSON 将数据序列化为 JSON 并写入响应
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteAPIError(w http.ResponseWriter, status int, e APIError) {
	if strings.TrimSpace(e.Error) == "" {
		e.Error = http.StatusText(status)
	}
	WriteJSON(w, status, e)
}

// WriteError 写入错误响应
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteAPIError(w, status, APIError{Error: msg})
}

// writeServiceError 把账本错误映射为 HTTP 状态码
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrSafeMode):
		WriteAPIError(w, http.StatusServiceUnavailable, APIError{
			Error: "数据库处于安全模式，已禁用写入操作",
			Code:  "db_safe_mode",
			Hint:  "请先在 Status 页查看原因并导出诊断包；修复后重启 Agent",
		})
	case errors.Is(err, service.ErrLedgerStopped):
		WriteAPIError(w, http.StatusServiceUnavailable, APIError{Error: err.Error(), Code: "ledger_stopped"})
	case errors.Is(err, service.ErrCharacterNotFound),
		errors.Is(err, service.ErrDungeonNotFound),
		errors.Is(err, service.ErrRecordNotFound),
		errors.Is(err, service.ErrBackupNotFound),
		errors.Is(err, service.ErrRunNumberNotFound):
		WriteAPIError(w, http.StatusNotFound, APIError{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, service.ErrInvalidTransition):
		WriteAPIError(w, http.StatusConflict, APIError{
			Error: err.Error(),
			Code:  "invalid_transition",
			Hint:  "请刷新状态后重试",
		})
	case errors.Is(err, service.ErrStaleRevision):
		WriteAPIError(w, http.StatusConflict, APIError{Error: err.Error(), Code: "stale_revision"})
	case errors.Is(err, repository.ErrBackupCorrupt):
		WriteAPIError(w, http.StatusUnprocessableEntity, APIError{
			Error: err.Error(),
			Code:  "backup_corrupt",
			Hint:  "当前数据未改动，请改用其他备份",
		})
	case errors.Is(err, service.ErrInvalidInput):
		WriteAPIError(w, http.StatusBadRequest, APIError{Error: err.Error(), Code: "invalid_input"})
	case errors.Is(err, context.DeadlineExceeded):
		WriteAPIError(w, http.StatusGatewayTimeout, APIError{Error: "请求超时", Code: "timeout"})
	default:
		WriteAPIError(w, http.StatusInternalServerError, APIError{Error: err.Error(), Code: "internal"})
	}
}

// readJSON 从请求体读取并解析 JSON
func readJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// decodeBody 解析请求体，失败时直接写 400
func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := readJSON(r, out); err != nil {
		WriteAPIError(w, http.StatusBadRequest, APIError{Error: "请求体无效: " + err.Error(), Code: "invalid_body"})
		return false
	}
	return true
}

// parseInt64Param 解析字符串为 int64 参数
func parseInt64Param(value string) (int64, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, fmt.Errorf("参数为空")
	}
	return strconv.ParseInt(v, 10, 64)
}

// strconvAtoiSafe 安全地将字符串转换为整数
func strconvAtoiSafe(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty")
	}
	return strconv.Atoi(s)
}
