package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/abelbrown/spoilerguard/internal/otel"
	"github.com/abelbrown/spoilerguard/internal/registry"
	"github.com/abelbrown/spoilerguard/internal/stats"
)

const spoilerPage = `<html><body><article><p>Inception was a mind-bending heist film that ended with Cobb spinning a top.</p><p>Tickets are available at the box office this weekend.</p></article></body></html>`

type testEnv struct {
	srv   *httptest.Server
	reg   *registry.Registry
	store *stats.Store
	rec   *stats.Recorder
	ring  *otel.RingBuffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	reg, err := registry.New([]registry.TrackedTitle{
		{Name: "Inception", Enabled: true},
		{Name: "Dune", Enabled: false},
	}, registry.DefaultSettings())
	if err != nil {
		t.Fatal(err)
	}
	store, err := stats.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	rec := stats.NewRecorder(store)
	ring := otel.NewRingBuffer(64)
	events := otel.NewNullLogger()
	events.SetRingBuffer(ring)

	s := New(Deps{Registry: reg, Events: events, Ring: ring, Stats: store, Recorder: rec})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		rec.Close()
		store.Close()
		events.Close()
	})
	return &testEnv{srv: srv, reg: reg, store: store, rec: rec, ring: ring}
}

func (e *testEnv) do(t *testing.T, method, path, contentType, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeJSONBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return string(data)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/healthz", "", "")
	var body map[string]string
	decodeJSONBody(t, resp, &body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz = %d %v", resp.StatusCode, body)
	}
}

func TestMaskJSON(t *testing.T) {
	env := newTestEnv(t)
	payload, _ := json.Marshal(maskRequest{HTML: spoilerPage, Name: "review"})
	resp := env.do(t, http.MethodPost, "/api/v1/mask", "application/json", string(payload))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, readBody(t, resp))
	}
	var out maskResponse
	decodeJSONBody(t, resp, &out)
	if out.Masks != 1 || len(out.Events) != 1 || out.Events[0].TitleID != "inception" {
		t.Fatalf("response = %+v", out)
	}
	if !strings.Contains(out.HTML, `class="spoiler-blur"`) || !strings.Contains(out.HTML, "Tickets are available") {
		t.Errorf("html = %s", out.HTML)
	}

	env.rec.Close()
	if total, _ := env.store.Total(time.Now()); total != 1 {
		t.Errorf("stats total = %d", total)
	}
}

func TestMaskRawHTML(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/v1/mask?name=page", "text/html", spoilerPage)
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("X-Spoiler-Masks") != "1" {
		t.Fatalf("status = %d masks = %q", resp.StatusCode, resp.Header.Get("X-Spoiler-Masks"))
	}
	if resp.Header.Get("X-Request-Id") != "page" {
		t.Errorf("request id = %q", resp.Header.Get("X-Request-Id"))
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") || !strings.Contains(body, "data-spoiler-titles=\"inception\"") {
		t.Errorf("body = %s", body)
	}
}

func TestMaskRejectsEmptyAndBadBodies(t *testing.T) {
	env := newTestEnv(t)
	for _, tc := range []struct {
		name, contentType, body string
	}{
		{"empty html", "text/html", "   "},
		{"bad json", "application/json", "{"},
		{"json without html", "application/json", `{"name":"x"}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/v1/mask", tc.contentType, tc.body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d", resp.StatusCode)
			}
		})
	}
}

func TestTitlesRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	var list titlesResponse
	decodeJSONBody(t, env.do(t, http.MethodGet, "/api/v1/titles", "", ""), &list)
	if len(list.Titles) != 2 || list.Version != 1 {
		t.Fatalf("titles = %+v", list)
	}

	doc := "titles:\n  - name: Severance\n    enabled: true\n    keywords: [Lumon]\n"
	resp := env.do(t, http.MethodPut, "/api/v1/titles", "application/yaml", doc)
	decodeJSONBody(t, resp, &list)
	if resp.StatusCode != http.StatusOK || len(list.Titles) != 1 || list.Titles[0].ID != "severance" {
		t.Fatalf("after put = %d %+v", resp.StatusCode, list)
	}
	if list.Settings.Sensitivity != registry.DefaultSettings().Sensitivity {
		t.Errorf("settings changed without a settings block: %+v", list.Settings)
	}

	resp = env.do(t, http.MethodPut, "/api/v1/titles", "application/json", `{"settings":{"enabled":true,"blackout":true,"sensitivity":0.9},"titles":[{"name":"Dune","enabled":true}]}`)
	decodeJSONBody(t, resp, &list)
	if !list.Settings.Blackout || list.Titles[0].ID != "dune" {
		t.Errorf("json put = %+v", list)
	}

	resp = env.do(t, http.MethodPut, "/api/v1/titles", "application/yaml", "titles: [")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed put status = %d", resp.StatusCode)
	}
}

func TestPatchTitle(t *testing.T) {
	env := newTestEnv(t)

	var tv titleView
	resp := env.do(t, http.MethodPatch, "/api/v1/titles/dune", "application/json", `{"enabled":true}`)
	decodeJSONBody(t, resp, &tv)
	if resp.StatusCode != http.StatusOK || !tv.Enabled || tv.ID != "dune" {
		t.Fatalf("patch = %d %+v", resp.StatusCode, tv)
	}
	if ti, _ := env.reg.Snapshot().Title("dune"); !ti.Enabled {
		t.Error("registry not updated")
	}

	resp = env.do(t, http.MethodPatch, "/api/v1/titles/unknown", "application/json", `{"enabled":true}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown title status = %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPatch, "/api/v1/titles/dune", "application/json", `{}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing enabled status = %d", resp.StatusCode)
	}
}

func TestSettings(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPut, "/api/v1/settings", "application/json", `{"enabled":false,"sensitivity":0.2}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || env.reg.Snapshot().Settings.Enabled {
		t.Fatalf("status = %d settings = %+v", resp.StatusCode, env.reg.Snapshot().Settings)
	}

	// Protection off: pages pass through untouched.
	resp = env.do(t, http.MethodPost, "/api/v1/mask", "text/html", spoilerPage)
	body := readBody(t, resp)
	if strings.Contains(body, "spoiler-blur") {
		t.Errorf("masked with protection off: %s", body)
	}

	// A partial body keeps protection on.
	var got registry.Settings
	resp = env.do(t, http.MethodPut, "/api/v1/settings", "application/json", `{"blackout":true}`)
	decodeJSONBody(t, resp, &got)
	if want := (registry.Settings{Enabled: true, Blackout: true, Sensitivity: 0.4}); got != want {
		t.Errorf("partial settings = %+v, want %+v", got, want)
	}

	resp = env.do(t, http.MethodPut, "/api/v1/settings", "application/json", `{"enabled":true,"sensitivity":3}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("out of range status = %d", resp.StatusCode)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	env.store.Add(now, "inception", 3)
	env.store.Add(now.AddDate(0, 0, -3), "dune", 2)
	env.store.Add(now.AddDate(0, 0, -30), "dune", 9)

	var out statsResponse
	decodeJSONBody(t, env.do(t, http.MethodGet, "/api/v1/stats", "", ""), &out)
	if out.Today != 3 || len(out.Counts) != 2 {
		t.Errorf("stats = %+v", out)
	}

	decodeJSONBody(t, env.do(t, http.MethodGet, "/api/v1/stats?days=1", "", ""), &out)
	if len(out.Counts) != 1 {
		t.Errorf("days=1 counts = %+v", out.Counts)
	}

	resp := env.do(t, http.MethodGet, "/api/v1/stats?days=zero", "", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad days status = %d", resp.StatusCode)
	}
}

func TestEvents(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/mask", "text/html", spoilerPage).Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	var events []otel.Event
	for time.Now().Before(deadline) {
		decodeJSONBody(t, env.do(t, http.MethodGet, "/api/v1/events?kind=mask.", "", ""), &events)
		if len(events) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(events) != 1 || events[0].Kind != otel.KindMaskApplied || events[0].TitleID != "inception" {
		t.Fatalf("events = %+v", events)
	}

	decodeJSONBody(t, env.do(t, http.MethodGet, "/api/v1/events?n=1", "", ""), &events)
	if len(events) != 1 {
		t.Errorf("n=1 returned %d events", len(events))
	}
}
