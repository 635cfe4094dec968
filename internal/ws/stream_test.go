package ws

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ducktracker/ducktracker/internal/auth"
	"github.com/ducktracker/ducktracker/internal/engine"
	"github.com/ducktracker/ducktracker/internal/metrics"
	"github.com/ducktracker/ducktracker/internal/model"
	"github.com/ducktracker/ducktracker/internal/tagspec"
)

func newTestStack(t *testing.T) (*engine.Hub, *auth.Gate, *httptest.Server) {
	t.Helper()

	passwd := filepath.Join(t.TempDir(), "passwd")
	if err := os.WriteFile(passwd, []byte("alice:hunter2\n"), 0600); err != nil {
		t.Fatal(err)
	}
	logger := zap.NewNop()
	gate, err := auth.NewGate(passwd, time.Minute, logger)
	if err != nil {
		t.Fatal(err)
	}
	hub := engine.NewHub(engine.DefaultConfig(), engine.SystemClock{}, logger)
	collector := metrics.NewCollector(hub, time.Now())
	handler := NewHandler(hub, gate, collector, 25*time.Second, logger)

	r := chi.NewRouter()
	handler.Mount(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return hub, gate, ts
}

func wsURL(ts *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream/ws?" + query
}

func TestHandleStream_RejectsBadToken(t *testing.T) {
	_, _, ts := newTestStack(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "token=bogus"), nil)
	if err == nil {
		t.Fatal("dial with bad token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %+v, want 401", resp)
	}
}

func TestHandleStream_DeliversSnapshotAndDeltas(t *testing.T) {
	hub, gate, ts := newTestStack(t)

	res := hub.Create("alice", tagspec.Parsed{Tags: []tagspec.TagSpec{
		{Visibility: model.Public, Tag: "race"},
	}}, 0, "")
	if err := hub.Append(res.SID, []model.Location{{Lat: 1, Lon: 2, Time: 10}}); err != nil {
		t.Fatal(err)
	}

	token, err := gate.IssueToken("alice", "hunter2")
	if err != nil {
		t.Fatal(err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "token="+token+"&tags=race"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snapshot model.Update
	if err := readUpdate(conn, &snapshot); err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}
	if len(snapshot.Changes) != 3 || !snapshot.Changes[0].Reset {
		t.Fatalf("first message should be the snapshot, got %+v", snapshot.Changes)
	}

	if err := hub.Append(res.SID, []model.Location{{Lat: 3, Lon: 4, Time: 20}}); err != nil {
		t.Fatal(err)
	}

	var delta model.Update
	if err := readUpdate(conn, &delta); err != nil {
		t.Fatalf("reading delta: %v", err)
	}
	if len(delta.Changes) != 1 || delta.Changes[0].AddPoints == nil {
		t.Fatalf("delta = %+v", delta.Changes)
	}
	pts := delta.Changes[0].AddPoints.Points[res.Fetches[0].ID]
	if len(pts) != 1 || pts[0].Time != 20 {
		t.Errorf("delta points = %v", pts)
	}
}

func readUpdate(conn *websocket.Conn, out *model.Update) error {
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	if msgType != websocket.TextMessage {
		return fmt.Errorf("message type = %d, want text", msgType)
	}
	return json.Unmarshal(data, out)
}
