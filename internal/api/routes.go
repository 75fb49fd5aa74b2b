// Package api provides HTTP handlers for the store server.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/celldive/zarrpipe/internal/ledger"
	"github.com/celldive/zarrpipe/internal/service"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Catalog     *service.Catalog
	CORSOrigins []string
	Metrics     *Metrics
	Gatherer    prometheus.Gatherer
	Logger      zerolog.Logger
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(middleware.Compress(5, "application/json", "application/xml"))

	// CORS
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "HEAD", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Range"},
		ExposedHeaders: []string{"Content-Length"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/stores", storesHandler(cfg.Catalog))
		r.Get("/stores/{store}", storeHandler(cfg.Catalog))
		r.Get("/stores/{store}/preview.png", previewHandler(cfg.Catalog))
		r.Get("/runs", runsHandler(cfg.Catalog))
		r.Get("/runs/{run_id}", runHandler(cfg.Catalog))
	})

	// Raw store files, laid out as on disk so Zarr clients can read them.
	r.Get("/zarr/{store}/*", storeFileHandler(cfg.Catalog, cfg.Metrics))

	return r
}

func storesHandler(catalog *service.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := catalog.StoresJSON()
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

func storeHandler(catalog *service.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := catalog.StoreJSON(chi.URLParam(r, "store"))
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

func previewHandler(catalog *service.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := catalog.Preview(chi.URLParam(r, "store"))
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Write(data)
	}
}

func runsHandler(catalog *service.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		runs, err := catalog.Runs(limit)
		if err != nil {
			writeError(w, err)
			return
		}
		if runs == nil {
			runs = []*ledger.Run{}
		}
		writeJSON(w, map[string]any{"runs": runs})
	}
}

func runHandler(catalog *service.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "run_id")
		run, regions, err := catalog.Run(id)
		if err != nil {
			writeError(w, err)
			return
		}
		if run == nil {
			http.Error(w, "run not found: "+id, http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"run": run, "regions": regions})
	}
}

func storeFileHandler(catalog *service.Catalog, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rel := chi.URLParam(r, "*")
		data, err := catalog.File(chi.URLParam(r, "store"), rel)
		if err != nil {
			writeError(w, err)
			return
		}
		if metrics != nil {
			metrics.ServedBytes.Add(float64(len(data)))
		}
		w.Header().Set("Content-Type", contentType(rel))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Write(data)
	}
}

func contentType(rel string) string {
	base := path.Base(rel)
	switch {
	case strings.HasSuffix(base, ".xml"):
		return "application/xml"
	case strings.HasSuffix(base, ".png"):
		return "image/png"
	case strings.HasPrefix(base, ".z"), strings.HasSuffix(base, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidPath):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrStoreNotFound), errors.Is(err, service.ErrFileNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ledger.ErrNoLedger):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
