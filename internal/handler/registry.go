package handler

import (
	"net/http"
	"strings"

	"github.com/yuqie6/DungeonMirror/internal/service"
)

type characterUpdateRequest struct {
	ID string `json:"id"`
	service.CharacterInput
}

type dungeonRequest struct {
	Name       string `json:"name"`
	CategoryID string `json:"category_id"`
}

// HandleCharacters GET 列出角色；POST 登记角色
func (a *API) HandleCharacters(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	switch r.Method {
	case http.MethodGet:
		chars, err := a.ledger().ListCharacters(ctx)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, chars)
	case http.MethodPost:
		var req service.CharacterInput
		if !decodeBody(w, r, &req) {
			return
		}
		c, err := a.ledger().AddCharacter(ctx, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, c)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// HandleCharacterUpdate 修改角色字段（ID 不变）
func (a *API) HandleCharacterUpdate(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}
	var req characterUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		WriteAPIError(w, http.StatusBadRequest, APIError{Error: "id 不能为空", Code: "invalid_input"})
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	c, err := a.ledger().UpdateCharacter(ctx, req.ID, req.CharacterInput)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, c)
}

// HandleDungeons GET 列出副本；POST 登记副本
func (a *API) HandleDungeons(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	switch r.Method {
	case http.MethodGet:
		ds, err := a.ledger().ListDungeons(ctx)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, ds)
	case http.MethodPost:
		var req dungeonRequest
		if !decodeBody(w, r, &req) {
			return
		}
		d, err := a.ledger().AddDungeon(ctx, req.Name, req.CategoryID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, d)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
