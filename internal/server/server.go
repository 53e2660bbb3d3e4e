package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shaunagostinho/agdash/internal/frame"
	"github.com/shaunagostinho/agdash/internal/history"
	"github.com/shaunagostinho/agdash/internal/j1939"
	"github.com/shaunagostinho/agdash/internal/logger"
	"github.com/shaunagostinho/agdash/internal/source"
)

// maxFramesPerTick bounds how many frames one poll tick drains so a busy bus
// cannot starve the broadcast path.
const maxFramesPerTick = 64

// Server polls the frame source, decodes frames and broadcasts them to
// WebSocket clients.
type Server struct {
	cfg    *Config
	src    source.Provider
	webFS  fs.FS
	logger *logger.Logger
	hist   *history.Buffer
	store  *history.Store // nil unless history persistence is enabled

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	statsMu sync.Mutex
	stats   Stats
	started time.Time
	warned  map[string]bool // PGN/param pairs already reported as truncated
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Push is the JSON structure sent to WebSocket clients.
type Push struct {
	Frame   *frame.Record  `json:"frame,omitempty"`
	History []frame.Record `json:"history,omitempty"`
	Status  *Status        `json:"status,omitempty"`
	Stamp   int64          `json:"stamp"` // Unix ms
}

// Stats counts what the poll loop has seen.
type Stats struct {
	Frames    uint64 `json:"frames"`
	Decoded   uint64 `json:"decoded"`
	Unknown   uint64 `json:"unknown"`   // frames without a decoder
	Truncated uint64 `json:"truncated"` // parameters skipped for short payloads
	LastFrame int64  `json:"lastFrame"` // Unix ms, 0 if none yet
}

// Status is served by GET /status.
type Status struct {
	Source     string `json:"source"`
	Connected  bool   `json:"connected"`
	Uptime     int64  `json:"uptime"` // seconds
	HistoryLen int    `json:"historyLen"`
	Clients    int    `json:"clients"`
	Stats
}

// DataResponse is served by GET /data.
type DataResponse struct {
	Current *frame.Record  `json:"current"`
	History []frame.Record `json:"history"`
}

type decodeRequest struct {
	PGN  string        `json:"pgn"`
	Data frame.Payload `json:"data"`
}

type decodeResponse struct {
	*j1939.Message
	Skipped []string `json:"skipped,omitempty"`
}

// New creates a new Server.
func New(cfg *Config, src source.Provider, webFS fs.FS) *Server {
	return &Server{
		cfg:   cfg,
		src:   src,
		webFS: webFS,
		logger: logger.New(logger.Config{
			Enabled:    cfg.Logging.Enabled,
			Path:       cfg.Logging.Path,
			IntervalMs: cfg.Logging.Interval,
		}),
		hist:    history.New(cfg.History.Capacity),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		started: time.Now(),
		warned:  make(map[string]bool),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Serve embedded web files
	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}

	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/data", s.handleData)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/api/pgns", s.handlePGNs)
	mux.HandleFunc("/api/decode", s.handleDecode)
	mux.HandleFunc("/api/config", s.handleConfig)
	return mux
}

// OpenHistory enables the on-disk history mirror and restores saved frames.
func (s *Server) OpenHistory(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	st, err := history.Open(path, s.hist.Cap())
	if err != nil {
		return err
	}
	n, err := st.Restore(s.hist)
	if err != nil {
		log.Printf("[history] restore failed: %v", err)
	} else {
		log.Printf("[history] restored %d frames", n)
	}
	s.store = st
	return nil
}

// Run starts the HTTP server and the source polling loop.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.History.Persist {
		if err := s.OpenHistory(s.cfg.History.Path); err != nil {
			log.Printf("[history] persistence disabled: %v", err)
		}
	}

	go s.pollLoop(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	// Initial snapshot so the gauges fill before the next frame arrives
	st := s.status()
	hello := Push{History: s.hist.Snapshot(), Status: &st, Stamp: time.Now().UnixMilli()}
	if data, err := json.Marshal(hello); err == nil {
		client.send <- data
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", n)

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive, detects close)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			close(client.send)
			s.clientsMu.Unlock()
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := DataResponse{History: s.hist.Snapshot()}
	if n := len(resp.History); n > 0 {
		cur := resp.History[n-1]
		resp.Current = &cur
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handlePGNs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, j1939.Definitions())
}

func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req decodeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Data) > frame.MaxLen {
		http.Error(w, frame.ErrInvalidLen.Error(), http.StatusBadRequest)
		return
	}
	msg, ok, err := j1939.DecodeHex(req.PGN, req.Data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !ok {
		http.Error(w, "no decoder for "+req.PGN, http.StatusNotFound)
		return
	}
	resp := decodeResponse{Message: msg}
	for _, e := range msg.Skipped {
		resp.Skipped = append(resp.Skipped, e.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		s.cfg.mu.RLock()
		logOn := s.cfg.Logging.Enabled
		s.cfg.mu.RUnlock()
		s.logger.SetEnabled(logOn)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

// pollLoop drains the source at the configured rate and hands every frame
// to ingest.
func (s *Server) pollLoop(ctx context.Context) {
	hz := s.cfg.CAN.PollHz
	if hz <= 0 {
		hz = 100
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	var lastErr error
	for {
		select {
		case <-ctx.Done():
			s.logger.Close()
			if s.store != nil {
				s.store.Close()
			}
			return
		case <-ticker.C:
			if err := s.drain(); err != nil {
				if lastErr == nil || err.Error() != lastErr.Error() {
					if !errors.Is(err, source.ErrNotConnected) {
						log.Printf("[server] poll %s: %v", s.src.Name(), err)
					}
				}
				lastErr = err
			} else {
				lastErr = nil
			}
		}
	}
}

// drain reads up to maxFramesPerTick pending frames.
func (s *Server) drain() error {
	if s.src == nil {
		return nil
	}
	for i := 0; i < maxFramesPerTick; i++ {
		f, ok, err := s.src.Poll()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		s.ingest(f)
	}
	return nil
}

// ingest decodes f, records it and broadcasts it. Frames without a decoder
// are kept in history with their raw bytes only.
func (s *Server) ingest(f frame.Raw) {
	rec := frame.NewRecord(f)
	h := f.Header()
	msg, ok := j1939.Decode(h.PGN, f.Payload())

	s.statsMu.Lock()
	s.stats.Frames++
	s.stats.LastFrame = rec.Timestamp
	if ok {
		s.stats.Decoded++
		s.stats.Truncated += uint64(len(msg.Skipped))
		for _, e := range msg.Skipped {
			key := rec.PGN + "/" + e.Param
			if !s.warned[key] {
				s.warned[key] = true
				log.Printf("[server] %v", e)
			}
		}
	} else {
		s.stats.Unknown++
	}
	s.statsMu.Unlock()

	if ok {
		rec.Decoded = msg
	}

	s.hist.Append(rec)
	if s.store != nil {
		if err := s.store.Append(rec); err != nil {
			log.Printf("[history] append failed: %v", err)
		}
	}
	s.logger.Record(rec)
	s.broadcast(Push{Frame: &rec, Stamp: time.Now().UnixMilli()})
}

func (s *Server) status() Status {
	s.statsMu.Lock()
	st := Status{Stats: s.stats}
	s.statsMu.Unlock()

	if s.src != nil {
		st.Source = s.src.Name()
		st.Connected = s.src.IsConnected()
	}
	st.Uptime = int64(time.Since(s.started) / time.Second)
	st.HistoryLen = s.hist.Len()
	s.clientsMu.RLock()
	st.Clients = len(s.clients)
	s.clientsMu.RUnlock()
	return st
}

func (s *Server) broadcast(p Push) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] encode response: %v", err)
	}
}
