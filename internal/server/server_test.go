package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yuqie6/DungeonMirror/internal/bootstrap"
	"github.com/yuqie6/DungeonMirror/internal/pkg/config"
	"github.com/yuqie6/DungeonMirror/internal/schema"
	"github.com/yuqie6/DungeonMirror/internal/service"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "dungeon.db")
	cfg.Metrics.Enabled = true

	core, err := bootstrap.NewCoreFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewCoreFromConfig: %v", err)
	}
	if err := core.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rt := &bootstrap.AgentRuntime{Core: core}

	ts := httptest.NewServer(NewMux(rt, core.Hub))
	t.Cleanup(func() {
		ts.Close()
		_ = core.Close()
	})
	return ts
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

type apiErr struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	var char schema.Character
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/characters", map[string]string{
		"server": "梦江南", "name": "阿离", "school": "七秀",
	}, &char); code != http.StatusCreated {
		t.Fatalf("add character status=%d", code)
	}
	var dungeon schema.Dungeon
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/dungeons", map[string]string{"name": "白帝江关"}, &dungeon); code != http.StatusCreated {
		t.Fatalf("add dungeon status=%d", code)
	}
	run := map[string]string{"character_id": char.ID, "dungeon_id": dungeon.ID}

	var e apiErr
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/runs/complete", run, &e); code != http.StatusConflict || e.Code != "invalid_transition" {
		t.Fatalf("complete before start: status=%d err=%+v", code, e)
	}
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/runs/start", run, nil); code != http.StatusOK {
		t.Fatalf("start status=%d", code)
	}
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/runs/start", run, &e); code != http.StatusConflict {
		t.Fatalf("double start status=%d", code)
	}
	var rec schema.CompletionRecord
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/runs/complete", run, &rec); code != http.StatusOK {
		t.Fatalf("complete status=%d", code)
	}
	if rec.ID == 0 || rec.CharacterID != char.ID || rec.DungeonName != "白帝江关" {
		t.Fatalf("record=%+v", rec)
	}

	var rows []service.RecordRow
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/records", nil, &rows); code != http.StatusOK {
		t.Fatalf("list records status=%d", code)
	}
	if len(rows) != 1 || rows[0].CharacterRun != 1 || rows[0].TotalRun != 1 {
		t.Fatalf("rows=%+v", rows)
	}

	e = apiErr{}
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/records/drops", map[string]any{
		"id": rec.ID, "revision": rec.Revision + 5, "drops": []string{"玄晶"},
	}, &e); code != http.StatusConflict || e.Code != "stale_revision" {
		t.Fatalf("stale drops: status=%d err=%+v", code, e)
	}

	var snap service.Snapshot
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/stats/snapshot", nil, &snap); code != http.StatusOK {
		t.Fatalf("snapshot status=%d", code)
	}
	if len(snap.Stats) != 1 || snap.Stats[0].TotalCount != 1 || snap.Stats[0].InProgress {
		t.Fatalf("snapshot stats=%+v", snap.Stats)
	}
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)

	var e apiErr
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/records/detail?id=999", nil, &e); code != http.StatusNotFound || e.Code != "not_found" {
		t.Fatalf("missing record: status=%d err=%+v", code, e)
	}
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/runs/start", nil, nil); code != http.StatusMethodNotAllowed {
		t.Fatalf("GET on POST route status=%d", code)
	}
	e = apiErr{}
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/characters", map[string]string{"nickname": "x"}, &e); code != http.StatusBadRequest || e.Code != "invalid_body" {
		t.Fatalf("unknown field: status=%d err=%+v", code, e)
	}
	e = apiErr{}
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/characters", map[string]string{"server": "梦江南"}, &e); code != http.StatusBadRequest || e.Code != "invalid_input" {
		t.Fatalf("invalid character: status=%d err=%+v", code, e)
	}
	e = apiErr{}
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/runs/start", map[string]string{
		"character_id": "nope", "dungeon_id": "nope",
	}, &e); code != http.StatusNotFound {
		t.Fatalf("unknown character: status=%d err=%+v", code, e)
	}
}

func TestStatusAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	var st struct {
		App struct {
			SafeMode bool `json:"safe_mode"`
		} `json:"app"`
		Ledger struct {
			Characters int    `json:"characters"`
			Calendar   string `json:"calendar"`
		} `json:"ledger"`
	}
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/status", nil, &st); code != http.StatusOK {
		t.Fatalf("status code=%d", code)
	}
	if st.App.SafeMode || st.Ledger.Calendar == "" {
		t.Fatalf("status=%+v", st)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "dungeon_mirror_stats_resyncs_total") {
		t.Fatalf("metrics status=%d body missing resync counter", resp.StatusCode)
	}
}

func TestBackupsOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	var created struct {
		ID string `json:"id"`
	}
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/maintenance/backups", nil, &created); code != http.StatusCreated || created.ID == "" {
		t.Fatalf("create backup status=%d id=%q", code, created.ID)
	}
	var list []map[string]any
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/maintenance/backups", nil, &list); code != http.StatusOK || len(list) != 1 {
		t.Fatalf("list backups status=%d len=%d", code, len(list))
	}
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/maintenance/backups/restore", map[string]string{"id": created.ID}, nil); code != http.StatusOK {
		t.Fatalf("restore status=%d", code)
	}
	var e apiErr
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/maintenance/backups/restore", map[string]string{"id": "missing"}, &e); code != http.StatusNotFound {
		t.Fatalf("restore missing status=%d err=%+v", code, e)
	}
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/maintenance/backups/delete", map[string]string{"id": created.ID}, nil); code != http.StatusOK {
		t.Fatalf("delete status=%d", code)
	}
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/maintenance/backups/delete", map[string]string{"id": created.ID}, nil); code != http.StatusNotFound {
		t.Fatalf("second delete status=%d", code)
	}
}

func TestSettingsUpdatesCalendar(t *testing.T) {
	ts := newTestServer(t)

	var got struct {
		Calendar struct {
			AnchorWeekday int `json:"anchor_weekday"`
			AnchorHour    int `json:"anchor_hour"`
		} `json:"calendar"`
	}
	body := map[string]any{"anchor_weekday": 3, "anchor_hour": 6, "timezone": "UTC"}
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/settings", body, &got); code != http.StatusOK {
		t.Fatalf("settings status=%d", code)
	}
	if got.Calendar.AnchorWeekday != 3 || got.Calendar.AnchorHour != 6 {
		t.Fatalf("calendar=%+v", got.Calendar)
	}

	var e apiErr
	bad := map[string]any{"anchor_weekday": 8, "anchor_hour": 6, "timezone": "UTC"}
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/settings", bad, &e); code != http.StatusBadRequest || e.Code != "invalid_input" {
		t.Fatalf("invalid settings status=%d err=%+v", code, e)
	}
}
