package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shaunagostinho/agdash/internal/frame"
)

// RemoteConfig holds configuration for polling a networked gateway.
type RemoteConfig struct {
	URL      string        `yaml:"url" json:"url"` // e.g. http://192.168.4.1
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// dataResponse is the gateway's GET /data body.
type dataResponse struct {
	Current *frame.Record  `json:"current"`
	History []frame.Record `json:"history"`
}

// Remote polls another dashboard or the ESP32 firmware over HTTP and
// replays the frames it has not seen yet.
type Remote struct {
	base     string
	interval time.Duration
	client   *http.Client

	mu        sync.Mutex
	connected bool
	q         queue
	cancel    context.CancelFunc
	done      chan struct{}
	last      int64 // newest timestamp forwarded
	atLast    int   // records forwarded with timestamp == last
	fails     int
}

// remoteMaxFails is how many consecutive failed polls mark the source
// disconnected.
const remoteMaxFails = 5

// NewRemote creates a remote source.
func NewRemote(cfg RemoteConfig) *Remote {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Remote{
		base:     strings.TrimRight(cfg.URL, "/"),
		interval: cfg.Interval,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (r *Remote) Name() string { return "Remote (" + r.base + ")" }

func (r *Remote) Connect(ctx context.Context) error {
	if r.base == "" {
		return fmt.Errorf("remote: no url configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+"/status", nil)
	if err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s unreachable: %w", r.base, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remote: %s/status returned %s", r.base, resp.Status)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.q = make(queue, queueLen)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.connected = true
	r.last, r.atLast = -1, 0
	r.fails = 0
	q, done := r.q, r.done
	r.mu.Unlock()

	log.Printf("[source] polling %s every %v", r.base, r.interval)
	go r.loop(pollCtx, q, done)
	return nil
}

func (r *Remote) loop(ctx context.Context, q queue, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		r.pollOnce(ctx, q)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (r *Remote) pollOnce(ctx context.Context, q queue) {
	body, err := r.fetch(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.fails++
		if r.fails == remoteMaxFails {
			log.Printf("[source] remote %s: %v", r.base, err)
			r.connected = false
		}
		return
	}
	if r.fails >= remoteMaxFails {
		log.Printf("[source] remote %s reachable again", r.base)
	}
	r.fails = 0
	r.connected = true

	recs := body.History
	if body.Current != nil && (len(recs) == 0 || !sameRecord(recs[len(recs)-1], *body.Current)) {
		recs = append(recs, *body.Current)
	}
	// A gateway reboot restarts its clock.
	if n := len(recs); n > 0 && recs[n-1].Timestamp < r.last {
		r.last, r.atLast = -1, 0
	}
	// Several frames can share a millisecond; the history is in arrival
	// order, so the first atLast records stamped r.last were sent before.
	seen := 0
	for _, rec := range recs {
		switch {
		case rec.Timestamp < r.last:
			continue
		case rec.Timestamp == r.last:
			seen++
			if seen <= r.atLast {
				continue
			}
			r.atLast++
		default:
			r.last, r.atLast, seen = rec.Timestamp, 1, 1
		}
		f, err := rec.Raw()
		if err != nil {
			continue
		}
		f.Time = time.Now()
		q.push(f)
	}
}

func sameRecord(a, b frame.Record) bool {
	return a.Timestamp == b.Timestamp && a.PGN == b.PGN && a.Source == b.Source &&
		a.Priority == b.Priority && bytes.Equal(a.Data, b.Data)
}

func (r *Remote) fetch(ctx context.Context) (*dataResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+"/data", nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET /data: %s", resp.Status)
	}
	var body dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("GET /data: %w", err)
	}
	return &body, nil
}

func (r *Remote) Close() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.connected = false
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (r *Remote) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *Remote) Poll() (frame.Raw, bool, error) {
	r.mu.Lock()
	q, connected := r.q, r.connected
	r.mu.Unlock()
	if q == nil {
		return frame.Raw{}, false, ErrNotConnected
	}
	if f, ok := q.pop(); ok {
		return f, true, nil
	}
	if !connected {
		return frame.Raw{}, false, ErrNotConnected
	}
	return frame.Raw{}, false, nil
}
