// Package httpapi is the JSON control surface: a gorilla/mux router
// translating the routes spec.md §6 lists onto a Facade.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	taskmaster "github.com/AnthonyRzTech/Taskmaster"
)

const mimeJSON = "application/json; charset=UTF-8"

var errNoReloadHook = errors.New("reload not configured")

// Handler wraps a Facade, adding http.Handler functionality. Grounded
// on this codebase's REST adapter: a struct holding the thing being
// controlled plus a *mux.Router, with one small method per route.
type Handler struct {
	f      taskmaster.Facade
	r      *mux.Router
	reload func() ([]*taskmaster.ProgramSpec, error)
}

// statusEntry is the wire shape for GET /api/status, per spec.md §6.
type statusEntry struct {
	ProgramName   string    `json:"programName"`
	ProcessNumber int       `json:"processNumber"`
	ProcessID     int       `json:"processId"`
	State         string    `json:"state"`
	StartTime     time.Time `json:"startTime"`
	RestartCount  int       `json:"restartCount"`
}

func toEntries(st []taskmaster.WorkerStatus) []statusEntry {
	out := make([]statusEntry, 0, len(st))
	for _, s := range st {
		out = append(out, statusEntry{
			ProgramName:   s.Program,
			ProcessNumber: s.Index,
			ProcessID:     s.Pid,
			State:         s.State.String(),
			StartTime:     s.StartedAt,
			RestartCount:  s.RestartCount,
		})
	}
	return out
}

func (h *Handler) writeJSON(w http.ResponseWriter, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", mimeJSON)
	w.Write(b)
}

func (h *Handler) writeResult(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", mimeJSON)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		h.writeJSON(w, "error")
		return
	}
	h.writeJSON(w, "ok")
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	serial := h.f.Serial()
	if waitStr := q.Get("wait"); waitStr != "" {
		last, _ := strconv.ParseInt(waitStr, 10, 64)
		timeout := 25 * time.Second
		if ms, err := strconv.Atoi(q.Get("timeoutMs")); err == nil && ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}
		serial = h.f.WatchSerial(last, timeout)
	}
	all := h.f.StatusAll()
	entries := make([]statusEntry, 0)
	for _, name := range h.f.ProgramNames() {
		entries = append(entries, toEntries(all[name])...)
	}
	w.Header().Set("X-Status-Serial", strconv.FormatInt(serial, 10))
	h.writeJSON(w, entries)
}

func (h *Handler) startProgram(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	h.writeResult(w, h.f.Start(name))
}

func (h *Handler) stopProgram(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	h.writeResult(w, h.f.Stop(name, false))
}

func (h *Handler) restartProgram(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	h.writeResult(w, h.f.Restart(name))
}

func (h *Handler) reloadRoute(w http.ResponseWriter, r *http.Request) {
	if h.reload == nil {
		h.writeResult(w, errNoReloadHook)
		return
	}
	catalog, err := h.reload()
	if err != nil {
		h.writeResult(w, err)
		return
	}
	_, err = h.f.Reload(catalog)
	h.writeResult(w, err)
}

func (h *Handler) shutdown(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", mimeJSON)
	h.writeJSON(w, "shutting down")
	go h.f.Shutdown(false)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.r.ServeHTTP(w, r)
}

// NewHandler wires every route spec.md §6 lists, plus the long-poll
// status supplement, onto facade.
func NewHandler(facade taskmaster.Facade, reload func() ([]*taskmaster.ProgramSpec, error)) *Handler {
	r := mux.NewRouter()
	h := &Handler{f: facade, r: r, reload: reload}
	r.HandleFunc("/api/status", h.getStatus).Methods("GET")
	r.HandleFunc("/api/programs/{name}/start", h.startProgram).Methods("POST")
	r.HandleFunc("/api/programs/{name}/stop", h.stopProgram).Methods("POST")
	r.HandleFunc("/api/programs/{name}/restart", h.restartProgram).Methods("POST")
	r.HandleFunc("/api/reload", h.reloadRoute).Methods("POST")
	r.HandleFunc("/api/shutdown", h.shutdown).Methods("POST")
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	return h
}
