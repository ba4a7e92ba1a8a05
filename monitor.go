package basicpaxos

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// snapshot is the read-only view of the quorum pushed to every
// connected monitor client (SPEC_FULL §6 supplement).
type snapshot struct {
	Self      Endpoint       `json:"self"`
	Leader    Endpoint       `json:"leader"`
	HasQuorum bool           `json:"has_quorum"`
	Peers     []peerSnapshot `json:"peers"`
}

type peerSnapshot struct {
	Endpoint Endpoint `json:"endpoint"`
	Liveness string   `json:"liveness"`
}

var upgrader = &websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}

// wsClient is one subscriber's outbound queue, grounded on the
// teacher's connection/hub pattern (jeffchan-pushydb demoapp/conn.go
// and hub.go): a buffered send channel drained by a dedicated writer
// goroutine, registered/unregistered through the monitor's hub
// channels rather than a locked map touched directly by readers.
type wsClient struct {
	ws   *websocket.Conn
	send chan []byte
}

func (c *wsClient) writer() {
	for msg := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
	c.ws.Close()
}

// monitor is a read-only websocket status feed: it never accepts
// writes from a subscriber, it only pushes quorum snapshots (spec §6
// supplement, not part of the core Paxos wire protocol).
type monitor struct {
	server *Server
	http   *http.Server
	ln     net.Listener

	mu      sync.Mutex
	clients map[*wsClient]bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func newMonitor(addr string, s *Server) (*monitor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	m := &monitor{
		server:  s,
		ln:      ln,
		clients: make(map[*wsClient]bool),
		stopCh:  make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", m.handleWS)
	m.http = &http.Server{Handler: mux}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_ = m.http.Serve(ln)
	}()

	m.wg.Add(1)
	go m.pushLoop()

	return m, nil
}

func (m *monitor) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logf("monitor", m.server.self, "upgrade failed: %v", err)
		return
	}
	c := &wsClient{ws: ws, send: make(chan []byte, 16)}

	m.mu.Lock()
	m.clients[c] = true
	m.mu.Unlock()

	c.send <- m.encode()

	go c.writer()
	m.drainReads(c)
}

// drainReads discards anything a subscriber sends; the feed is
// read-only, but the websocket protocol still requires someone to read
// control frames (ping/close) off the wire.
func (m *monitor) drainReads(c *wsClient) {
	defer func() {
		m.mu.Lock()
		delete(m.clients, c)
		m.mu.Unlock()
		close(c.send)
	}()
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (m *monitor) pushLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.server.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.broadcast(m.encode())
		case <-m.stopCh:
			return
		}
	}
}

func (m *monitor) broadcast(msg []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for c := range m.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

func (m *monitor) encode() []byte {
	s := m.server
	leader, _ := s.quorum.WhoIsOurLeader()
	snap := snapshot{
		Self:      s.self,
		Leader:    leader,
		HasQuorum: s.quorum.IsReady(),
	}
	for _, peer := range s.quorum.Members() {
		snap.Peers = append(snap.Peers, peerSnapshot{
			Endpoint: peer,
			Liveness: s.quorum.View(peer).Liveness.String(),
		})
	}
	body, _ := json.Marshal(snap)
	return body
}

func (m *monitor) close() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		_ = m.http.Shutdown(context.Background())
		m.mu.Lock()
		for c := range m.clients {
			close(c.send)
			delete(m.clients, c)
		}
		m.mu.Unlock()
	})
	m.wg.Wait()
}
