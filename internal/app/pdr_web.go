// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/indoor_pdr/internal/calibration"
	"github.com/relabs-tech/indoor_pdr/internal/pdr"
	"github.com/relabs-tech/indoor_pdr/internal/position"
	"github.com/relabs-tech/indoor_pdr/internal/render"
	"github.com/relabs-tech/indoor_pdr/internal/tracklog"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

var errUnknownAction = errors.New("unknown action")

// WebSocket message types
type WSMessage struct {
	Action string  `json:"action"` // start, tap, step, reset
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
}

type WSResponse struct {
	Type     string        `json:"type"` // snapshot, error
	Snapshot *pdr.Snapshot `json:"snapshot,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// trackResponse is the body of /api/pdr/tracks/{id}.
type trackResponse struct {
	Calibration *tracklog.Calibration `json:"calibration,omitempty"`
	Points      []tracklog.Point      `json:"points"`
}

// pdrServer is the HTTP and WebSocket surface of a session.
type pdrServer struct {
	session   *pdr.Session
	renderer  *render.Renderer
	store     *tracklog.Store // nil when the track log is disabled
	staticDir string
}

func (s *pdrServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/pdr", s.handleSnapshot)
	mux.HandleFunc("POST /api/pdr", s.handleAction)
	mux.HandleFunc("GET /api/pdr/map.png", s.handleMap)
	mux.HandleFunc("GET /api/pdr/tracks", s.handleSessions)
	mux.HandleFunc("GET /api/pdr/tracks/{id}", s.handleTrack)
	mux.HandleFunc("/ws/pdr", s.handleWS)
	if s.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	}
	return mux
}

// apply runs one user action against the session.
func (s *pdrServer) apply(msg WSMessage) error {
	switch msg.Action {
	case "start":
		return s.session.StartCalibration()
	case "tap":
		return s.session.Tap(position.Point{X: msg.X, Y: msg.Y})
	case "step":
		return s.session.SimulateStep()
	case "reset":
		return s.session.Reset()
	default:
		return fmt.Errorf("%w %q", errUnknownAction, msg.Action)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("pdr: json encode error: %v", err)
	}
}

func (s *pdrServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *pdrServer) handleAction(w http.ResponseWriter, r *http.Request) {
	var msg WSMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := s.apply(msg)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.session.Snapshot())
	case errors.Is(err, errUnknownAction), errors.Is(err, calibration.ErrInvalidTap):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, calibration.ErrDegenerateCalibration):
		writeJSON(w, http.StatusConflict, WSResponse{Type: "error", Message: err.Error()})
	case errors.Is(err, pdr.ErrClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		log.Printf("pdr: action %q: %v", msg.Action, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *pdrServer) handleMap(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := s.renderer.WritePNG(w, s.session.Snapshot()); err != nil {
		log.Printf("pdr: map render error: %v", err)
	}
}

func (s *pdrServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "track log disabled", http.StatusNotFound)
		return
	}
	ids, err := s.store.Sessions(r.Context())
	if err != nil {
		log.Printf("pdr: list sessions: %v", err)
		http.Error(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *pdrServer) handleTrack(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "track log disabled", http.StatusNotFound)
		return
	}
	id := r.PathValue("id")

	var resp trackResponse
	cal, err := s.store.LatestCalibration(r.Context(), id)
	switch {
	case err == nil:
		resp.Calibration = &cal
	case !errors.Is(err, tracklog.ErrNotFound):
		log.Printf("pdr: calibration for %s: %v", id, err)
		http.Error(w, "failed to read track", http.StatusInternalServerError)
		return
	}

	resp.Points, err = s.store.Track(r.Context(), id)
	if err != nil {
		log.Printf("pdr: track for %s: %v", id, err)
		http.Error(w, "failed to read track", http.StatusInternalServerError)
		return
	}
	if resp.Calibration == nil && len(resp.Points) == 0 {
		http.Error(w, "no such session", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWS streams snapshots to the client and applies the actions it sends.
func (s *pdrServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("pdr: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(resp WSResponse) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(resp)
	}

	id, updates := s.session.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for snap := range updates {
			snap := snap
			if err := send(WSResponse{Type: "snapshot", Snapshot: &snap}); err != nil {
				log.Printf("pdr: websocket write error: %v", err)
				return
			}
		}
	}()

	// Main message loop
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("pdr: websocket read error: %v", err)
			}
			break
		}
		if err := s.apply(msg); err != nil {
			send(WSResponse{Type: "error", Message: err.Error()})
		}
	}

	s.session.Unsubscribe(id)
	<-done
}
