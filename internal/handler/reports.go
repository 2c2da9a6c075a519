package handler

import (
	"net/http"
	"strings"
)

// HandleWeeklyReports GET /api/reports/week?limit=
func (a *API) HandleWeeklyReports(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}
	limit := 0
	if s := strings.TrimSpace(r.URL.Query().Get("limit")); s != "" {
		n, err := strconvAtoiSafe(s)
		if err != nil || n < 0 {
			WriteAPIError(w, http.StatusBadRequest, APIError{Error: "limit 参数无效", Code: "invalid_input"})
			return
		}
		limit = n
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	reps, err := a.rt.Services.Reports.WeeklyReports(ctx, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, reps)
}

// HandleYearlyReports GET /api/reports/year
func (a *API) HandleYearlyReports(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	reps, err := a.rt.Services.Reports.YearlyReports(ctx)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, reps)
}

// HandleCurrentWeek GET /api/reports/current
func (a *API) HandleCurrentWeek(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	rep, err := a.rt.Services.Reports.CurrentWeek(ctx)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rep)
}
