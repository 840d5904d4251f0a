package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/abelbrown/spoilerguard/internal/dom"
	"github.com/abelbrown/spoilerguard/internal/logging"
	"github.com/abelbrown/spoilerguard/internal/otel"
	"github.com/abelbrown/spoilerguard/internal/registry"
	"github.com/abelbrown/spoilerguard/internal/session"
	"github.com/abelbrown/spoilerguard/internal/stats"
)

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("server: encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func isJSON(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/json"
}

type maskRequest struct {
	HTML string `json:"html"`
	Name string `json:"name,omitempty"`
}

type maskEventView struct {
	TitleID    string    `json:"title_id"`
	Confidence float64   `json:"confidence"`
	Time       time.Time `json:"time"`
}

type maskResponse struct {
	HTML      string          `json:"html"`
	Masks     int             `json:"masks"`
	Units     int             `json:"units"`
	Sentences int             `json:"sentences"`
	Semantic  bool            `json:"semantic"`
	DurMs     int64           `json:"dur_ms"`
	Events    []maskEventView `json:"events"`
}

// maskHandler masks one page. JSON requests get a JSON report; any other
// content type is treated as raw HTML and answered with HTML.
func (s *Server) maskHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	asJSON := isJSON(r)
	var req maskRequest
	if asJSON {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	} else {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}
		req.HTML = string(data)
		req.Name = r.URL.Query().Get("name")
	}
	if strings.TrimSpace(req.HTML) == "" {
		writeError(w, http.StatusBadRequest, "html is required")
		return
	}
	// Events and logs are keyed by document; anonymous requests get an id.
	if req.Name == "" {
		req.Name = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", req.Name)

	resp, err := s.mask(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if asJSON {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Spoiler-Masks", strconv.Itoa(resp.Masks))
	io.WriteString(w, resp.HTML)
}

// mask runs one synchronous session over the request document.
func (s *Server) mask(ctx context.Context, req maskRequest) (maskResponse, error) {
	doc, err := dom.ParseString(req.HTML)
	if err != nil {
		return maskResponse{}, err
	}
	resp := maskResponse{Events: []maskEventView{}}
	sess := session.New(doc, s.deps.Registry, session.Options{
		Config:   s.deps.Config,
		Embedder: s.deps.Embedder,
		Events:   s.deps.Events,
		Name:     req.Name,
		Notify: func(e session.MaskEvent) {
			resp.Events = append(resp.Events, maskEventView(e))
			if s.deps.Recorder != nil {
				s.deps.Recorder.Record(stats.Hit{TitleID: e.TitleID, Time: e.Time})
			}
		},
	})
	rep := sess.ScanOnce(ctx)

	var buf bytes.Buffer
	if err := doc.Render(&buf); err != nil {
		return maskResponse{}, err
	}
	resp.HTML = buf.String()
	resp.Masks = rep.Masks
	resp.Units = rep.Units
	resp.Sentences = rep.Sentences
	resp.Semantic = rep.Semantic
	resp.DurMs = rep.Dur.Milliseconds()
	return resp, nil
}

type titleView struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Enabled    bool     `json:"enabled"`
	Keywords   []string `json:"keywords,omitempty"`
	References int      `json:"references"`
	Embedded   bool     `json:"embedded"`
}

type titlesResponse struct {
	Version  uint64            `json:"version"`
	Settings registry.Settings `json:"settings"`
	Titles   []titleView       `json:"titles"`
}

func viewSnapshot(snap registry.Snapshot) titlesResponse {
	out := titlesResponse{Version: snap.Version, Settings: snap.Settings, Titles: make([]titleView, 0, len(snap.Titles))}
	for _, t := range snap.Titles {
		out.Titles = append(out.Titles, titleView{
			ID:         t.ID,
			Name:       t.Name,
			Enabled:    t.Enabled,
			Keywords:   t.Keywords,
			References: len(t.References),
			Embedded:   t.HasEmbeddings(),
		})
	}
	return out
}

func (s *Server) listTitlesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewSnapshot(s.deps.Registry.Snapshot()))
}

// replaceTitlesHandler accepts a titles document (YAML or JSON). Settings
// in the document replace the current ones only when present.
func (s *Server) replaceTitlesHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	titles, settings, err := registry.Decode(bytes.NewReader(data))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Registry.Replace(titles); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if hasSettings(data) {
		s.deps.Registry.SetSettings(settings)
	}
	snap := s.deps.Registry.Snapshot()
	s.deps.Events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindRegistryUpdate, Comp: "server", Version: snap.Version, Count: len(snap.Titles)})
	writeJSON(w, http.StatusOK, viewSnapshot(snap))
}

func hasSettings(data []byte) bool {
	var probe struct {
		Settings *registry.Settings `yaml:"settings"`
	}
	return yaml.Unmarshal(data, &probe) == nil && probe.Settings != nil
}

type patchTitleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) patchTitleHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req patchTitleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	if !s.deps.Registry.SetEnabled(id, *req.Enabled) {
		writeError(w, http.StatusNotFound, "unknown title")
		return
	}
	t, _ := s.deps.Registry.Snapshot().Title(id)
	writeJSON(w, http.StatusOK, viewSnapshot(registry.Snapshot{Titles: []registry.TrackedTitle{t}}).Titles[0])
}

func (s *Server) settingsHandler(w http.ResponseWriter, r *http.Request) {
	// Omitted fields keep their defaults rather than switching protection off.
	settings := registry.DefaultSettings()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if settings.Sensitivity < 0 || settings.Sensitivity > 1 {
		writeError(w, http.StatusBadRequest, "sensitivity must be within [0, 1]")
		return
	}
	s.deps.Registry.SetSettings(settings)
	writeJSON(w, http.StatusOK, s.deps.Registry.Snapshot().Settings)
}

type statsResponse struct {
	Today  int           `json:"today"`
	Counts []stats.Count `json:"counts"`
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stats == nil {
		writeError(w, http.StatusServiceUnavailable, "stats disabled")
		return
	}
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}
	now := time.Now()
	today, err := s.deps.Stats.Total(now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	counts, err := s.deps.Stats.Since(now.AddDate(0, 0, 1-days))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if counts == nil {
		counts = []stats.Count{}
	}
	writeJSON(w, http.StatusOK, statsResponse{Today: today, Counts: counts})
}

// eventsHandler returns the most recent events from the ring buffer,
// optionally filtered by kind prefix.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	n := 100
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = parsed
	}
	out := []otel.Event{}
	if s.deps.Ring != nil {
		kind := r.URL.Query().Get("kind")
		for _, e := range s.deps.Ring.Last(s.deps.Ring.Len()) {
			if kind == "" || strings.HasPrefix(string(e.Kind), kind) {
				out = append(out, e)
			}
		}
		if len(out) > n {
			out = out[len(out)-n:]
		}
	}
	writeJSON(w, http.StatusOK, out)
}
