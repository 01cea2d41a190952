package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/chrisvdg/metacache/cache"
	"github.com/chrisvdg/metacache/extract"
)

// New creates a new server instance
func New(c *Config) (*Server, error) {
	if c == nil {
		return nil, errors.New("no config provided")
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}

	var store cache.Store
	var err error
	switch c.Backend {
	case "", "memory":
		store, err = cache.NewMemStore(c.SnapshotFile)
	case "duckdb":
		store, err = cache.NewDuckStore(c.DatabasePath)
	default:
		return nil, errors.Errorf("unknown backend %q", c.Backend)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to open cache store")
	}

	ca, err := cache.New(store, cache.Options{
		Extractor:        extract.NewHTML(c.ExtractTimeout.Std()),
		DefaultTTL:       c.DefaultTTL.Std(),
		PremiumTTL:       c.PremiumTTL.Std(),
		RatchetWindow:    c.RatchetWindow.Std(),
		PopularThreshold: c.PopularThreshold,
		SizeCap:          c.SizeCap,
		WarmConcurrency:  c.WarmConcurrency,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Server{
		c:     c,
		store: store,
		cache: ca,
	}, nil
}

// Server represents a server instance
type Server struct {
	c     *Config
	store cache.Store
	cache *cache.Cache
}

// ListenAndServe listens for new requests and serves them
func (s *Server) ListenAndServe() {
	r := newRouter(newHandlers(s.cache))

	quit := make(chan struct{})
	go s.cache.Sweep(s.c.CleanupInterval.Std(), quit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tlsEnabled := s.c.TLS != nil && s.c.TLS.CertFile != "" && s.c.TLS.KeyFile != ""
	if !s.c.TLSOnly {
		go listenAndServe(ctx, cancel, s.c.ListenAddr, r)
	}

	if tlsEnabled {
		go listenAndServeTLS(ctx, cancel, s.c.TLSListenAddr, s.c.TLS, r)
	}

	<-ctx.Done()
	close(quit)
	if err := s.store.Close(); err != nil {
		log.Errorf("failed to close cache store: %s", err)
	}
}

// newRouter wires the admin surface onto a mux router
func newRouter(h *handlers) *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/metadata", h.Metadata).Methods("GET")
	api.HandleFunc("/entries", h.ListEntries).Methods("GET")
	api.HandleFunc("/entries", h.ClearEntries).Methods("DELETE")
	api.HandleFunc("/entries/{hash}", h.GetEntry).Methods("GET")
	api.HandleFunc("/entries/{hash}", h.DeleteEntry).Methods("DELETE")
	api.HandleFunc("/entries/{hash}/refresh", h.RefreshEntry).Methods("POST")
	api.HandleFunc("/cleanup", h.Cleanup).Methods("POST")
	api.HandleFunc("/warm", h.Warm).Methods("POST")
	api.HandleFunc("/statistics", h.Statistics).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}

// listenAndServe serves a plain http webserver
func listenAndServe(ctx context.Context, cancel func(), addr string, handler http.Handler) {
	defer cancel()
	addrStr := getAddrString(addr)
	log.Infof("http server listening on: http://%s\n", addrStr)
	log.Error(http.ListenAndServe(addr, handler))
}

// listenAndServeTLS serves a tls webserver
func listenAndServeTLS(ctx context.Context, cancel func(), addr string, tls *TLSConfig, handler http.Handler) {
	defer cancel()
	addrStr := getAddrString(addr)
	log.Infof("https server listening on: https://%s\n", addrStr)
	log.Error(http.ListenAndServeTLS(addr, tls.CertFile, tls.KeyFile, handler))
}

func getAddrString(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = fmt.Sprintf("0.0.0.0%s", addr)
	}
	return addr
}
