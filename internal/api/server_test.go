package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/tilecity/internal/city"
	"github.com/talgya/tilecity/internal/engine"
	"github.com/talgya/tilecity/internal/grid"
	"github.com/talgya/tilecity/internal/pathfind"
	"github.com/talgya/tilecity/internal/persistence"
)

const testKey = "secret"

func newTestServer(t *testing.T, s *Server) *httptest.Server {
	t.Helper()
	cfg := city.DefaultConfig()
	cfg.Size = 6
	cfg.Seed = 5
	cfg.Forest.Threshold = 0
	c, err := city.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	s.Eng = engine.New(c)
	if s.AdminKey == "" {
		s.AdminKey = testKey
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, ts *httptest.Server, path, key string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, ts *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := ts.Client().Get(ts.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t, &Server{})
	var status map[string]any
	if code := get(t, ts, "/api/v1/status", &status); code != http.StatusOK {
		t.Fatalf("status code %d", code)
	}
	if status["size"] != float64(6) || status["sim_time"] != "Year 1 Month 1, tick 0" {
		t.Fatalf("status = %v", status)
	}
}

func TestBuildAuth(t *testing.T) {
	ts := newTestServer(t, &Server{})
	body := buildRequest{I: 1, J: 1, Type: grid.Road}
	if resp := post(t, ts, "/api/v1/build", "", body); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: %d", resp.StatusCode)
	}
	if resp := post(t, ts, "/api/v1/build", "wrong", body); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token: %d", resp.StatusCode)
	}
	if resp := post(t, ts, "/api/v1/build", testKey, body); resp.StatusCode != http.StatusOK {
		t.Errorf("good token: %d", resp.StatusCode)
	}
	if resp := post(t, ts, "/api/v1/build", testKey, body); resp.StatusCode != http.StatusConflict {
		t.Errorf("building twice: %d", resp.StatusCode)
	}
}

func TestAdminDisabledWithoutKey(t *testing.T) {
	s := &Server{}
	ts := newTestServer(t, s)
	s.AdminKey = ""
	resp := post(t, ts, "/api/v1/speed", "", map[string]float64{"speed": 1})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("code %d, want 403", resp.StatusCode)
	}
}

func TestBuildCellPathMap(t *testing.T) {
	s := &Server{}
	ts := newTestServer(t, s)
	for j := 0; j < 6; j++ {
		resp := post(t, ts, "/api/v1/build", testKey, buildRequest{I: 2, J: j, Type: grid.Road})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("build road at 2,%d: %d", j, resp.StatusCode)
		}
	}
	if resp := post(t, ts, "/api/v1/build", testKey, map[string]any{"i": 0, "j": 0, "type": "castle"}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown type: %d", resp.StatusCode)
	}

	var cell cellResponse
	if code := get(t, ts, "/api/v1/cell?i=2&j=3", &cell); code != http.StatusOK {
		t.Fatalf("cell code %d", code)
	}
	if cell.Cell.Type != grid.Road {
		t.Errorf("cell type %s", cell.Cell.Type)
	}
	if code := get(t, ts, "/api/v1/cell?i=9&j=0", nil); code != http.StatusNotFound {
		t.Errorf("off-grid cell: %d", code)
	}
	if code := get(t, ts, "/api/v1/cell?i=x", nil); code != http.StatusBadRequest {
		t.Errorf("bad cell query: %d", code)
	}

	var route pathfind.Route
	if code := get(t, ts, "/api/v1/path?from=2,0&to=2,5", &route); code != http.StatusOK {
		t.Fatalf("path code %d", code)
	}
	if route.Len() != 6 {
		t.Errorf("route length %d, want 6", route.Len())
	}
	if code := get(t, ts, "/api/v1/path?from=2,0&to=20,5", nil); code != http.StatusNotFound {
		t.Errorf("off-grid path: %d", code)
	}
	if code := get(t, ts, "/api/v1/path?from=a&to=2,5", nil); code != http.StatusBadRequest {
		t.Errorf("bad path query: %d", code)
	}

	var m struct {
		Size int      `json:"size"`
		Rows []string `json:"rows"`
	}
	if code := get(t, ts, "/api/v1/map", &m); code != http.StatusOK {
		t.Fatalf("map code %d", code)
	}
	if m.Size != 6 || len(m.Rows) != 6 || m.Rows[2] != "######" || m.Rows[0] != "......" {
		t.Fatalf("map = %+v", m)
	}

	if resp := post(t, ts, "/api/v1/destroy", testKey, map[string]int{"i": 2, "j": 3}); resp.StatusCode != http.StatusOK {
		t.Fatalf("destroy: %d", resp.StatusCode)
	}
	if resp := post(t, ts, "/api/v1/destroy", testKey, map[string]int{"i": 2, "j": 3}); resp.StatusCode != http.StatusConflict {
		t.Fatalf("destroy grass: %d", resp.StatusCode)
	}
}

func TestSpeed(t *testing.T) {
	s := &Server{}
	ts := newTestServer(t, s)
	resp := post(t, ts, "/api/v1/speed", testKey, map[string]float64{"speed": 25})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("code %d", resp.StatusCode)
	}
	if s.Eng.Speed() != 25 {
		t.Fatalf("speed %v", s.Eng.Speed())
	}
	if resp := post(t, ts, "/api/v1/speed", testKey, map[string]float64{"speed": -1}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("negative speed: %d", resp.StatusCode)
	}
	var got map[string]float64
	get(t, ts, "/api/v1/speed", &got)
	if got["speed"] != 25 {
		t.Fatalf("GET speed = %v", got)
	}
}

func TestMutationsRateLimited(t *testing.T) {
	ts := newTestServer(t, &Server{Limiter: NewRateLimiter(2, time.Hour)})
	for n := 0; n < 2; n++ {
		if resp := post(t, ts, "/api/v1/speed", testKey, map[string]float64{"speed": 1}); resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: %d", n, resp.StatusCode)
		}
	}
	resp := post(t, ts, "/api/v1/speed", testKey, map[string]float64{"speed": 1})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("third request: %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	// Reads are never limited.
	if code := get(t, ts, "/api/v1/stats", nil); code != http.StatusOK {
		t.Fatalf("stats: %d", code)
	}
}

func TestSnapshot(t *testing.T) {
	dir := t.TempDir()
	db, err := persistence.Open(filepath.Join(dir, "city.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	s := &Server{DB: db, SnapshotDir: filepath.Join(dir, "snapshots")}
	ts := newTestServer(t, s)
	s.Eng.Step(3)

	resp := post(t, ts, "/api/v1/snapshot", testKey, struct{}{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("code %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	file, _ := out["file"].(string)
	if !strings.HasSuffix(file, persistence.SnapshotExt) {
		t.Fatalf("file = %q", file)
	}
	if _, err := persistence.ReadSnapshotFile(file); err != nil {
		t.Fatal(err)
	}
	if !db.HasCityState() {
		t.Fatal("snapshot not saved to db")
	}
}

func TestStream(t *testing.T) {
	ts := newTestServer(t, &Server{StreamInterval: 10 * time.Millisecond})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	for n := 0; n < 2; n++ {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var st city.Stats
		if err := conn.ReadJSON(&st); err != nil {
			t.Fatalf("read %d: %v", n, err)
		}
		if st.Cash != city.DefaultConfig().StartingCash {
			t.Fatalf("cash %d", st.Cash)
		}
	}
}
