// Package introspect exposes a read-mostly HTTP debug surface over a
// running tracker session: status, per-variant listing and snapshot dump,
// and operator-triggered refresh/exclude, the way the teacher exposes its
// own admin routes over gorilla/mux.
package introspect

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/a13labs/hlstracker/pkg/auth"
	"github.com/a13labs/hlstracker/pkg/logger"
	"github.com/a13labs/hlstracker/pkg/tracker"
)

var log = logger.Component("introspect")

// Server serves the debug HTTP surface for one tracker session. Every
// tracker method it calls is marshaled onto the tracker's driver goroutine.
type Server struct {
	drv   *tracker.Driver
	tr    *tracker.Tracker
	guard *auth.Guard
}

// New returns a Server for tr, driven by drv. guard may be nil, in which
// case the surface is unguarded.
func New(drv *tracker.Driver, tr *tracker.Tracker, guard *auth.Guard) *Server {
	return &Server{drv: drv, tr: tr, guard: guard}
}

// Router builds the mux.Router for this server, wrapped in the auth guard
// when one was configured.
func (s *Server) Router() http.Handler {
	// Match on the encoded path so a percent-encoded variant URL stays one
	// {url} segment; decodeURLParam decodes it.
	r := mux.NewRouter().UseEncodedPath()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/variants", s.handleVariants).Methods(http.MethodGet)
	r.HandleFunc("/variants/{url}", s.handleVariant).Methods(http.MethodGet)
	r.HandleFunc("/variants/{url}/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/variants/{url}/exclude", s.handleExclude).Methods(http.MethodPost)

	if s.guard == nil {
		return r
	}
	return s.guard.Middleware(r)
}

// onDriver runs fn on the tracker's driver goroutine and blocks until it
// completes, since every Tracker method assumes that serialization.
func (s *Server) onDriver(fn func()) {
	done := make(chan struct{})
	s.drv.Post(func() {
		fn()
		close(done)
	})
	<-done
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var status tracker.Status
	s.onDriver(func() { status = s.tr.Status() })
	writeJSON(w, status)
}

func (s *Server) handleVariants(w http.ResponseWriter, r *http.Request) {
	var variants []tracker.VariantStatus
	s.onDriver(func() { variants = s.tr.Variants() })
	writeJSON(w, variants)
}

func (s *Server) handleVariant(w http.ResponseWriter, r *http.Request) {
	variantURL, err := decodeURLParam(mux.Vars(r)["url"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var snap any
	var ok bool
	s.onDriver(func() { snap, ok = s.tr.SnapshotFor(variantURL) })
	if !ok {
		http.Error(w, "unknown variant", http.StatusNotFound)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	variantURL, err := decodeURLParam(mux.Vars(r)["url"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.onDriver(func() { s.tr.RefreshPlaylist(variantURL) })
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleExclude(w http.ResponseWriter, r *http.Request) {
	variantURL, err := decodeURLParam(mux.Vars(r)["url"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	durMs := int64(30_000)
	if raw := r.URL.Query().Get("ms"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid ms parameter", http.StatusBadRequest)
			return
		}
		durMs = parsed
	}

	var excluded bool
	s.onDriver(func() { excluded = s.tr.ExcludeMediaPlaylist(variantURL, durMs) })
	writeJSON(w, map[string]bool{"excluded": excluded})
}

func decodeURLParam(raw string) (string, error) {
	return url.QueryUnescape(raw)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("failed writing introspection response: %v", err)
	}
}
