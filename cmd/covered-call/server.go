package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/contactkeval/covered-call/internal/analysis"
	"github.com/contactkeval/covered-call/internal/config"
	"github.com/contactkeval/covered-call/internal/data"
	"github.com/contactkeval/covered-call/internal/logger"
	"github.com/contactkeval/covered-call/internal/metrics"
	"github.com/contactkeval/covered-call/internal/storage"
)

// server exposes the analyzer over HTTP. store may be nil.
type server struct {
	analyzer *analysis.Analyzer
	metrics  *metrics.Recorder
	store    *storage.Store
}

func newServer(cfg *config.Config, prov data.Provider, rec *metrics.Recorder, store *storage.Store) http.Handler {
	s := &server{analyzer: analysis.New(cfg, prov, rec), metrics: rec, store: store}

	mux := http.NewServeMux()
	mux.HandleFunc("/recommend", s.recommend)
	mux.HandleFunc("/history", s.history)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", rec.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *server) recommend(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(r.URL.Query().Get("ticker"))
	if ticker == "" {
		writeError(w, http.StatusBadRequest, errors.New("ticker is required"))
		return
	}
	asOf, err := parseAsOf(r.URL.Query().Get("as_of"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	logger.Infof("event=http_recommend ticker=%s", ticker)
	start := time.Now()
	res, err := s.analyzer.Run(r.Context(), ticker, asOf)
	s.metrics.RecordLatency("http_recommend", time.Since(start).Seconds())
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, analysis.ErrInsufficientHistory) || errors.Is(err, data.ErrNoData) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err)
		return
	}

	if s.store != nil {
		if err := s.store.SaveRecommendations(res.RunID, ticker, time.Now().UTC(), res.Recommendations); err != nil {
			logger.Errorf("event=store_failed run_id=%s err=%v", res.RunID, err)
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) history(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, errors.New("history is disabled, set output.db"))
		return
	}
	ticker := strings.ToUpper(r.URL.Query().Get("ticker"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := s.store.List(ticker, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// serve runs handler on addr until ctx is done.
func serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("event=server_start addr=%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Infof("event=server_stop addr=%s", addr)
		return srv.Shutdown(shutdownCtx)
	}
}
