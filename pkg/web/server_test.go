package web

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/ritzau/graph-layout/pkg/layout"
	"github.com/ritzau/graph-layout/pkg/layout/memstore"
	"github.com/ritzau/graph-layout/pkg/logging"
	"github.com/ritzau/graph-layout/pkg/pubsub"
	"github.com/ritzau/graph-layout/pkg/store"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	st := store.New(memstore.New(), store.Options{Debounce: -1})
	s := NewServer(st, "server")
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = s.Shutdown(context.Background())
		st.Close()
	})
	return s, ts
}

func do(t *testing.T, ts *httptest.Server, method, path, actor, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	if actor != "" {
		req.Header.Set(logging.ActorHeader, actor)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return v
}

func TestServer_NodeLifecycle(t *testing.T) {
	_, ts := newTestServer(t)

	resp := do(t, ts, "POST", "/api/layout/nodes", "dom", `{"id":"n1","x":0,"y":0,"width":100,"height":50}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}
	_ = do(t, ts, "POST", "/api/layout/nodes", "", `{"id":"n2","x":500,"y":500,"width":100,"height":50}`)

	ids := decode[[]string](t, do(t, ts, "GET", "/api/layout/viewport?x=0&y=0&w=200&h=200", "", ""))
	if !slices.Equal(ids, []string{"n1"}) {
		t.Errorf("Expected [n1], got %v", ids)
	}

	resp = do(t, ts, "PUT", "/api/layout/nodes/n1/position", "dom", `{"x":10,"y":10}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	n := decode[layout.NodeLayout](t, resp)
	if n.Position != (layout.Point{X: 10, Y: 10}) || n.Bounds.X != 10 {
		t.Errorf("Expected node at (10,10), got %+v", n)
	}

	resp = do(t, ts, "PUT", "/api/layout/nodes/n1/size", "dom", `{"width":-1,"height":5}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for negative size, got %d", resp.StatusCode)
	}

	ops := decode[[]layout.Operation](t, do(t, ts, "GET", "/api/layout/operations?actor=dom", "", ""))
	if len(ops) != 2 || ops[1].Type != layout.OpMoveNode {
		t.Errorf("Expected create and move by dom, got %+v", ops)
	}
	ops = decode[[]layout.Operation](t, do(t, ts, "GET", "/api/layout/operations?actor=server", "", ""))
	if len(ops) != 1 || ops[0].NodeID != "n2" {
		t.Errorf("Expected n2 created by default actor, got %+v", ops)
	}

	if resp := do(t, ts, "DELETE", "/api/layout/nodes/n1", "", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}
	if resp := do(t, ts, "GET", "/api/layout/nodes/n1", "", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", resp.StatusCode)
	}
	if resp := do(t, ts, "PUT", "/api/layout/nodes/ghost/position", "", `{"x":1,"y":1}`); resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown node, got %d", resp.StatusCode)
	}
}

func TestServer_BadQueries(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		method, path, body string
	}{
		{"GET", "/api/layout/viewport?x=0&y=0&w=abc&h=1", ""},
		{"GET", "/api/layout/nearby?x=1&y=1", ""},
		{"GET", "/api/layout/operations?since=yesterday", ""},
		{"POST", "/api/layout/nodes", `{"x":1}`},
		{"POST", "/api/layout/nodes", `not json`},
	}
	for _, tt := range tests {
		if resp := do(t, ts, tt.method, tt.path, "", tt.body); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s %s: expected 400, got %d", tt.method, tt.path, resp.StatusCode)
		}
	}
}

func TestServer_NearbyAndMetrics(t *testing.T) {
	s, ts := newTestServer(t)
	m := s.store.Mutator()
	_ = m.CreateNode("a", layout.Point{X: 0, Y: 0}, layout.Size{Width: 10, Height: 10})
	_ = m.CreateReroute(3, layout.Point{X: 12, Y: 0}, nil, nil)

	got := decode[struct {
		Nodes    []string `json:"nodes"`
		Reroutes []int    `json:"reroutes"`
	}](t, do(t, ts, "GET", "/api/layout/nearby?x=12&y=0&r=1", "", ""))
	if len(got.Nodes) != 0 || !slices.Equal(got.Reroutes, []int{3}) {
		t.Errorf("Expected reroute 3 nearby, got %v", got)
	}

	metrics := decode[IndexMetrics](t, do(t, ts, "GET", "/api/index/metrics", "", ""))
	if metrics.Store.Nodes != 1 || metrics.Store.Reroutes != 1 || metrics.Store.NodeIndex.TotalNodes != 1 {
		t.Errorf("Expected 1 node and 1 reroute, got %+v", metrics.Store)
	}
	if metrics.Subscribers != 0 || metrics.Dropped != 0 {
		t.Errorf("Expected no streams and no drops, got %+v", metrics)
	}

	resp := do(t, ts, "GET", "/metrics", "", "")
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "graph_layout_index_entries") {
		t.Error("Expected index gauges in Prometheus output")
	}
}

func TestServer_SubscribeStreamsChanges(t *testing.T) {
	s, ts := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/subscribe/layout", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	if !lines.Scan() || lines.Text() != ": connected" {
		t.Fatalf("Expected connection comment, got %q", lines.Text())
	}

	deadline := time.Now().Add(time.Second)
	for s.publisher.Subscribers(pubsub.TopicLayoutChanges) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	_ = s.store.Mutator().WithSource("rendererB").CreateNode("n9", layout.Point{}, layout.Size{Width: 1, Height: 1})

	for lines.Scan() {
		line := lines.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event pubsub.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatal(err)
		}
		var c layout.Change
		_ = json.Unmarshal(event.Data, &c)
		if event.Type != "set" || c.Actor != "rendererB" || !slices.Equal(c.NodeIDs, []string{"n9"}) {
			t.Errorf("Expected set of n9 by rendererB, got %s %+v", event.Type, c)
		}
		return
	}
	t.Fatalf("Stream ended without a change: %v", lines.Err())
}
