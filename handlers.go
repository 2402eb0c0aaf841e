package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/kwv/loransac/ransac"
)

// maxProblemBytes bounds the body of POST /estimate
const maxProblemBytes = 16 << 20

// solveFunc solves and records a problem
type solveFunc func(ctx context.Context, p *ransac.Problem) (*ransac.Solution, error)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(store *ransac.ResultStore, solve solveFunc, render ransac.RenderConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Solutions int       `json:"solutions"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Solutions: store.Len(),
		}
		writeJSONResponse(w, http.StatusOK, status)
	})

	mux.HandleFunc("POST /estimate", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxProblemBytes))
		if err != nil {
			status := http.StatusBadRequest
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			http.Error(w, fmt.Sprintf("reading body: %v", err), status)
			return
		}
		p, err := ransac.ParseProblem(body)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		log.Printf("[HTTP] /estimate %s (%s, %d correspondences) from %s", p.ID, p.Kind, p.Count(), r.RemoteAddr)
		sol, err := solve(r.Context(), p)
		if err != nil {
			log.Printf("[HTTP] /estimate %s failed: %v", p.ID, err)
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		writeJSONResponse(w, http.StatusOK, sol)
	})

	mux.HandleFunc("GET /solutions", func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusOK, store.List())
	})

	mux.HandleFunc("GET /solutions/{id}", func(w http.ResponseWriter, r *http.Request) {
		entry, ok := lookup(w, r, store)
		if !ok {
			return
		}
		writeJSONResponse(w, http.StatusOK, entry.Solution)
	})

	mux.HandleFunc("GET /solutions/{id}/svg", func(w http.ResponseWriter, r *http.Request) {
		entry, ok := lookup(w, r, store)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := ransac.NewVectorRenderer(entry.Problem, entry.Solution, render).RenderToSVG(w); err != nil {
			log.Printf("[HTTP] error rendering SVG for %s: %v", entry.Solution.ID, err)
		}
	})

	// ?style=overlay selects the raster overlay with legend
	mux.HandleFunc("GET /solutions/{id}/png", func(w http.ResponseWriter, r *http.Request) {
		entry, ok := lookup(w, r, store)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")

		if r.URL.Query().Get("style") == "overlay" {
			img, err := ransac.NewOverlayRenderer(entry.Problem, entry.Solution).Render()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if err := png.Encode(w, img); err != nil {
				log.Printf("[HTTP] error encoding overlay for %s: %v", entry.Solution.ID, err)
			}
			return
		}
		if err := ransac.NewVectorRenderer(entry.Problem, entry.Solution, render).RenderToPNG(w); err != nil {
			log.Printf("[HTTP] error rendering PNG for %s: %v", entry.Solution.ID, err)
		}
	})

	return mux
}

func lookup(w http.ResponseWriter, r *http.Request, store *ransac.ResultStore) (*ransac.Entry, bool) {
	id := r.PathValue("id")
	entry, ok := store.Get(id)
	if !ok {
		http.Error(w, fmt.Sprintf("solution %q not found", id), http.StatusNotFound)
		return nil, false
	}
	return entry, true
}

// statusFor maps solver errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ransac.ErrInvalidProblem), errors.Is(err, ransac.ErrUnknownModelKind):
		return http.StatusBadRequest
	case errors.Is(err, ransac.ErrInsufficientData), errors.Is(err, ransac.ErrNoModel):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSONResponse(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] error encoding response: %v", err)
	}
}
