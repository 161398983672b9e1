// Command decay-serve runs an HTTP front end over a TimedStore: CRUD
// under /keys, expiration event streams on /watch (SSE) and /ws
// (WebSocket), Prometheus metrics on /metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-decay/v1/metrics"
	"github.com/mirkobrombin/go-decay/v1/notify"
	"github.com/mirkobrombin/go-decay/v1/store"
)

var (
	listen   = flag.String("listen", ":8080", "HTTP listen address")
	ttl      = flag.Duration("ttl", time.Minute, "Entry lifetime applied on PUT")
	interval = flag.Duration("sweep-interval", time.Second, "Sweeper sleep between passes")
)

type server struct {
	store *store.TimedStore[string, string]
}

func main() {
	flag.Parse()

	reg := metrics.NewRegistry()
	metrics.RegisterCoreMetrics(reg)

	bus := notify.NewInMemoryBus[string, string]()
	s, err := store.New[string, string](*ttl,
		store.WithSweepInterval[string, string](*interval),
		store.WithCallback[string, string](notify.Publisher[string, string](bus)),
		store.WithMetrics[string, string](reg),
	)
	if err != nil {
		slog.Error("decay: store init failed", "error", err)
		os.Exit(1)
	}
	defer s.Close()

	srv := &server{store: s}

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /keys/{key}", srv.put)
	mux.HandleFunc("GET /keys/{key}", srv.get)
	mux.HandleFunc("DELETE /keys/{key}", srv.del)
	mux.HandleFunc("POST /keys/{key}/expire", srv.expire)
	mux.HandleFunc("GET /keys", srv.keys)
	mux.HandleFunc("GET /stats", srv.stats)
	mux.Handle("GET /watch", notify.SSEHandler[string](bus))
	mux.Handle("GET /ws", notify.WebSocketHandler[string](bus))
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{Addr: *listen, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("decay: serving", "addr", *listen, "ttl", *ttl)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		slog.Error("decay: server error", "error", err)
		os.Exit(1)
	}
}

func (s *server) put(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.store.Set(key, string(body))
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) get(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	val, ok := s.store.Get(key)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	_, _ = io.WriteString(w, val)
}

func (s *server) del(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	val, ok := s.store.Delete(key)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	_, _ = io.WriteString(w, val)
}

type expireRequest struct {
	ExtendMS      int64 `json:"extend_ms"`
	TTLMS         int64 `json:"ttl_ms"`
	IgnoreMissing bool  `json:"ignore_missing"`
}

func (s *server) expire(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var req expireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	upd := store.ExpirationUpdate{
		IgnoreMissing: req.IgnoreMissing,
		Extend:        time.Duration(req.ExtendMS) * time.Millisecond,
		TTL:           time.Duration(req.TTLMS) * time.Millisecond,
	}
	switch err := s.store.SetExpiration(key, upd); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, store.ErrKeyNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrConflictingExpiration):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func (s *server) keys(w http.ResponseWriter, r *http.Request) {
	keys := make([]string, 0, s.store.Len())
	for k := range s.store.Keys() {
		keys = append(keys, k)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(keys)
}

func (s *server) stats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.store.Metrics())
}
