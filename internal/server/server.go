// Package server exposes merging, side-channel decoding and ranking over
// HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/tnglemongrass/deltamerge/internal/config"
	"github.com/tnglemongrass/deltamerge/internal/judgment"
	"github.com/tnglemongrass/deltamerge/internal/llm"
	"github.com/tnglemongrass/deltamerge/internal/merge"
	"github.com/tnglemongrass/deltamerge/internal/rank"
	"github.com/tnglemongrass/deltamerge/internal/reasoning"
	"github.com/tnglemongrass/deltamerge/internal/stream"
)

const (
	maxBodySize     = 32 << 20
	shutdownTimeout = 10 * time.Second
)

// Server handles HTTP requests for the merge API.
type Server struct {
	cfg    *config.Config
	router chi.Router
}

// New creates a Server with all routes registered.
func New(cfg *config.Config) *Server {
	s := &Server{cfg: cfg}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Use(limitBody)
		r.Post("/merge", s.handleMerge)
		r.Post("/reasoning", s.handleReasoning)
		r.Post("/rank", s.handleRank)
	})
	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on cfg.Listen until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", s.cfg.Listen).Info("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
		logrus.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "model": s.cfg.Model})
}

// handleMerge reads recorded chunks and streams back one snapshot per chunk.
// mode=forward yields normalized chunks instead of cumulative state;
// final=true responds with the collected state only.
func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("mode")
	if mode != "" && mode != "accumulate" && mode != "forward" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown mode %q", mode))
		return
	}
	final := false
	if v := q.Get("final"); v != "" {
		var err error
		if final, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("parse final: %w", err))
			return
		}
	}

	src := llm.NewReader(r.Body)
	if final {
		state, err := stream.Collect(r.Context(), src)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, state)
		return
	}

	var seq iter.Seq2[*llm.Chunk, error]
	if mode == "forward" {
		seq = stream.Forward(r.Context(), src)
	} else {
		seq = stream.Accumulate(r.Context(), src)
	}
	out := newNDJSON(w, r)
	for c, err := range seq {
		if err != nil {
			out.fail(err)
			return
		}
		if !out.write(c) {
			return
		}
	}
}

// handleReasoning reads recorded chunks and streams back the decoded
// side-channel records.
func (s *Server) handleReasoning(w http.ResponseWriter, r *http.Request) {
	out := newNDJSON(w, r)
	for rec, err := range reasoning.Decode(r.Context(), llm.NewReader(r.Body)) {
		if err != nil {
			out.fail(err)
			return
		}
		if !out.write(rec) {
			return
		}
	}
}

// handleRank aggregates newline-delimited judgment records into a summary.
func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	var agg rank.Aggregator
	for rec, err := range judgment.DecodeAll(r.Body) {
		if err != nil {
			Logger(r.Context()).WithError(err).Debug("rank rejected")
			writeError(w, statusFor(err), err)
			return
		}
		agg.Add(rec.Fragment())
	}
	writeJSON(w, http.StatusOK, agg.Summary())
}

// errorBody mirrors the in-band error record of a chunk stream, so an NDJSON
// response can be read back with llm.NewReader.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

func errorFor(err error) errorBody {
	var (
		te *llm.TransportError
		de *llm.DecodeError
		ie *merge.InvariantError
	)
	switch {
	case errors.As(err, &te):
		typ := te.Type
		if typ == "" {
			typ = "transport_error"
		}
		return errorBody{errorDetail{Message: te.Message, Type: typ, Code: te.Code}}
	case errors.As(err, &de):
		return errorBody{errorDetail{Message: err.Error(), Type: "decode_error", Code: string(de.Kind)}}
	case errors.As(err, &ie):
		return errorBody{errorDetail{Message: err.Error(), Type: "invariant_error"}}
	}
	return errorBody{errorDetail{Message: err.Error(), Type: "invalid_request"}}
}

func statusFor(err error) int {
	var (
		te *llm.TransportError
		ie *merge.InvariantError
		mb *http.MaxBytesError
	)
	switch {
	case errors.As(err, &te):
		return http.StatusBadGateway
	case errors.As(err, &ie):
		return http.StatusUnprocessableEntity
	case errors.As(err, &mb):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Debug("write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorFor(err))
}

// ndjson writes one JSON value per line, flushing after each. Until the
// first value is written a failure is reported with an error status.
type ndjson struct {
	w       http.ResponseWriter
	enc     *json.Encoder
	flusher http.Flusher
	log     *logrus.Entry
	started bool
	records int
}

func newNDJSON(w http.ResponseWriter, r *http.Request) *ndjson {
	f, _ := w.(http.Flusher)
	return &ndjson{w: w, enc: json.NewEncoder(w), flusher: f, log: Logger(r.Context())}
}

func (n *ndjson) write(v any) bool {
	if !n.started {
		n.w.Header().Set("Content-Type", "application/x-ndjson")
		n.w.WriteHeader(http.StatusOK)
		n.started = true
	}
	if err := n.enc.Encode(v); err != nil {
		n.log.WithError(err).Debug("write record")
		return false
	}
	n.records++
	if n.flusher != nil {
		n.flusher.Flush()
	}
	return true
}

func (n *ndjson) fail(err error) {
	n.log.WithError(err).WithField("records", n.records).Debug("stream failed")
	if !n.started {
		writeError(n.w, statusFor(err), err)
		return
	}
	n.write(errorFor(err))
}
