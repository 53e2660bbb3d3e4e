package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shaunagostinho/agdash/internal/frame"
	"github.com/shaunagostinho/agdash/internal/j1939"
)

type fakeGateway struct {
	mu   sync.Mutex
	recs []frame.Record
}

func (g *fakeGateway) add(rec frame.Record) {
	g.mu.Lock()
	g.recs = append(g.recs, rec)
	g.mu.Unlock()
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/status":
		w.Write([]byte(`{"ok":true}`))
	case "/data":
		g.mu.Lock()
		body := dataResponse{History: append([]frame.Record{}, g.recs...)}
		if n := len(g.recs); n > 0 {
			cur := g.recs[n-1]
			body.Current = &cur
		}
		g.mu.Unlock()
		json.NewEncoder(w).Encode(body)
	default:
		http.NotFound(w, r)
	}
}

func TestRemoteForwardsNewFrames(t *testing.T) {
	gw := &fakeGateway{}
	gw.add(frame.Record{PGN: "0xFEF1", Data: frame.Payload{0x10, 0, 50}, Timestamp: 10, Priority: 3})
	gw.add(frame.Record{PGN: "0xF004", Data: frame.Payload{0xE8, 0x03}, Timestamp: 20, Source: 0x80, Priority: 6})
	srv := httptest.NewServer(gw)
	defer srv.Close()

	r := NewRemote(RemoteConfig{URL: srv.URL + "/", Interval: 5 * time.Millisecond})
	if err := r.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer r.Close()

	f := pollUntil(t, r, time.Second)
	if h := f.Header(); h.PGN != 0xFEF1 || h.Priority != 3 {
		t.Fatalf("first frame header = %+v", h)
	}
	f = pollUntil(t, r, time.Second)
	if h := f.Header(); h.PGN != 0xF004 || h.Source != 0x80 {
		t.Fatalf("second frame header = %+v", h)
	}

	gw.add(frame.Record{PGN: "0xFEE8", Data: frame.Payload{125, 130, 75}, Timestamp: 30, Priority: 6})
	f = pollUntil(t, r, time.Second)
	if h := f.Header(); h.PGN != 0xFEE8 {
		t.Fatalf("third frame PGN = %s", j1939.FormatPGN(h.PGN))
	}

	// Nothing new: no duplicates over several poll intervals.
	time.Sleep(30 * time.Millisecond)
	if f, ok, err := r.Poll(); ok || err != nil {
		t.Fatalf("unexpected poll result %v %v %v", f, ok, err)
	}
}

func TestRemoteConnectFails(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	r := NewRemote(RemoteConfig{URL: srv.URL})
	if err := r.Connect(context.Background()); err == nil {
		t.Fatal("connect succeeded against a server without /status")
	}
	if r.IsConnected() {
		t.Fatal("connected after failed connect")
	}
	if err := NewRemote(RemoteConfig{}).Connect(context.Background()); err == nil {
		t.Fatal("connect succeeded without url")
	}
}

func TestRemoteSameMillisecond(t *testing.T) {
	gw := &fakeGateway{}
	gw.add(frame.Record{PGN: "0xFEF1", Data: frame.Payload{1}, Timestamp: 1000, Priority: 3})
	gw.add(frame.Record{PGN: "0xFEE8", Data: frame.Payload{2}, Timestamp: 1000, Priority: 6})
	srv := httptest.NewServer(gw)
	defer srv.Close()

	r := NewRemote(RemoteConfig{URL: srv.URL, Interval: 5 * time.Millisecond})
	if err := r.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer r.Close()

	if f := pollUntil(t, r, time.Second); f.Header().PGN != 0xFEF1 {
		t.Fatalf("first PGN = %s", j1939.FormatPGN(f.Header().PGN))
	}
	if f := pollUntil(t, r, time.Second); f.Header().PGN != 0xFEE8 {
		t.Fatalf("second PGN = %s", j1939.FormatPGN(f.Header().PGN))
	}

	// A third frame in the same millisecond is new; the first two are not.
	gw.add(frame.Record{PGN: "0xF004", Data: frame.Payload{3}, Timestamp: 1000, Source: 0x80, Priority: 6})
	if f := pollUntil(t, r, time.Second); f.Header().PGN != 0xF004 {
		t.Fatalf("third PGN = %s", j1939.FormatPGN(f.Header().PGN))
	}
	time.Sleep(30 * time.Millisecond)
	if f, ok, err := r.Poll(); ok || err != nil {
		t.Fatalf("duplicate forwarded: %v %v %v", f, ok, err)
	}
}
