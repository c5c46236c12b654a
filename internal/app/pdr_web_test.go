package app

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/indoor_pdr/internal/calibration"
	"github.com/relabs-tech/indoor_pdr/internal/monitoring"
	"github.com/relabs-tech/indoor_pdr/internal/pdr"
	"github.com/relabs-tech/indoor_pdr/internal/position"
	"github.com/relabs-tech/indoor_pdr/internal/render"
	"github.com/relabs-tech/indoor_pdr/internal/tracklog"
)

type testServer struct {
	*httptest.Server
	session *pdr.Session
	store   *tracklog.Store
}

func newTestServer(t *testing.T, withStore bool) *testServer {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })

	session := pdr.NewSession(&stepSensors{}, pdr.Options{})
	t.Cleanup(func() { session.Close() })

	renderer, err := render.NewRenderer(nil, 120, 90)
	require.NoError(t, err)

	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<h1>pdr</h1>"), 0o644))

	srv := &pdrServer{session: session, renderer: renderer, staticDir: static}
	if withStore {
		srv.store, err = tracklog.Open(filepath.Join(t.TempDir(), "track.db"))
		require.NoError(t, err)
		t.Cleanup(func() { srv.store.Close() })
	}

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, session: session, store: srv.store}
}

func (ts *testServer) post(t *testing.T, msg WSMessage) *http.Response {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/api/pdr", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeSnapshot(t *testing.T, resp *http.Response) pdr.Snapshot {
	t.Helper()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap pdr.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	return snap
}

func TestSnapshotEndpoint(t *testing.T) {
	ts := newTestServer(t, false)
	resp, err := http.Get(ts.URL + "/api/pdr")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	snap := decodeSnapshot(t, resp)
	assert.Equal(t, calibration.Idle, snap.State)
	assert.Equal(t, ts.session.ID(), snap.SessionID)
}

func TestActionsCalibrateOverHTTP(t *testing.T) {
	ts := newTestServer(t, false)

	assert.Equal(t, calibration.SelectingStart, decodeSnapshot(t, ts.post(t, WSMessage{Action: "start"})).State)
	assert.Equal(t, calibration.Walking, decodeSnapshot(t, ts.post(t, WSMessage{Action: "tap", X: 0, Y: 0})).State)
	for i := 0; i < 5; i++ {
		ts.post(t, WSMessage{Action: "step"})
	}
	snap := decodeSnapshot(t, ts.post(t, WSMessage{Action: "tap", X: 0, Y: 50}))
	assert.Equal(t, calibration.Tracking, snap.State)
	assert.InDelta(t, 10, snap.Stride, 1e-12)

	snap = decodeSnapshot(t, ts.post(t, WSMessage{Action: "step"}))
	assert.Equal(t, position.Point{X: 0, Y: 40}, snap.Current)

	snap = decodeSnapshot(t, ts.post(t, WSMessage{Action: "reset"}))
	assert.Equal(t, calibration.Idle, snap.State)
}

func TestActionErrors(t *testing.T) {
	ts := newTestServer(t, false)

	resp := ts.post(t, WSMessage{Action: "fly"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	bad, err := http.Post(ts.URL+"/api/pdr", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	require.NoError(t, ts.session.Close())
	resp = ts.post(t, WSMessage{Action: "start"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMapEndpoint(t *testing.T) {
	ts := newTestServer(t, false)
	resp, err := http.Get(ts.URL + "/api/pdr/map.png")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 120, img.Bounds().Dx())
	assert.Equal(t, 90, img.Bounds().Dy())
}

func TestStaticFiles(t *testing.T) {
	ts := newTestServer(t, false)
	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTrackEndpoints(t *testing.T) {
	ts := newTestServer(t, true)
	ctx := context.Background()

	snap := pdr.Snapshot{
		SessionID:   "walk-1",
		State:       calibration.Tracking,
		StepsTaken:  5,
		TargetSteps: 5,
		End:         position.Point{Y: 50},
		Current:     position.Point{Y: 50},
		Stride:      10,
		UpdatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, ts.store.RecordCalibration(ctx, snap))
	require.NoError(t, ts.store.RecordPoint(ctx, snap))

	resp, err := http.Get(ts.URL + "/api/pdr/tracks/walk-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body trackResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body.Calibration)
	assert.InDelta(t, 10, body.Calibration.Stride, 1e-12)
	require.Len(t, body.Points, 1)
	assert.Equal(t, position.Point{Y: 50}, body.Points[0].Position)

	list, err := http.Get(ts.URL + "/api/pdr/tracks")
	require.NoError(t, err)
	defer list.Body.Close()
	var ids []string
	require.NoError(t, json.NewDecoder(list.Body).Decode(&ids))
	assert.Equal(t, []string{"walk-1"}, ids)

	missing, err := http.Get(ts.URL + "/api/pdr/tracks/nobody")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestTrackEndpointsDisabled(t *testing.T) {
	ts := newTestServer(t, false)
	for _, path := range []string{"/api/pdr/tracks", "/api/pdr/tracks/x"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

// readUntil reads responses until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(WSResponse) bool) WSResponse {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var resp WSResponse
		require.NoError(t, conn.ReadJSON(&resp))
		if match(resp) {
			return resp
		}
	}
}

func inState(s calibration.State) func(WSResponse) bool {
	return func(r WSResponse) bool {
		return r.Type == "snapshot" && r.Snapshot != nil && r.Snapshot.State == s
	}
}

func TestWebSocketSession(t *testing.T) {
	ts := newTestServer(t, false)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/pdr"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readUntil(t, conn, func(WSResponse) bool { return true })
	assert.Equal(t, "snapshot", first.Type)
	assert.Equal(t, calibration.Idle, first.Snapshot.State)

	require.NoError(t, conn.WriteJSON(WSMessage{Action: "start"}))
	readUntil(t, conn, inState(calibration.SelectingStart))

	require.NoError(t, conn.WriteJSON(WSMessage{Action: "tap", X: 30, Y: 40}))
	walking := readUntil(t, conn, inState(calibration.Walking))
	assert.Equal(t, position.Point{X: 30, Y: 40}, walking.Snapshot.Start)

	require.NoError(t, conn.WriteJSON(WSMessage{Action: "step"}))
	readUntil(t, conn, func(r WSResponse) bool {
		return r.Type == "snapshot" && r.Snapshot.StepsTaken == 1
	})

	require.NoError(t, conn.WriteJSON(WSMessage{Action: "jump"}))
	errResp := readUntil(t, conn, func(r WSResponse) bool { return r.Type == "error" })
	assert.Contains(t, errResp.Message, "jump")

	// HTTP actions reach WebSocket subscribers too
	ts.post(t, WSMessage{Action: "reset"})
	readUntil(t, conn, inState(calibration.Idle))
}
