package transport

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	applog "micscope/internal/log"

	"github.com/gorilla/websocket"
)

const (
	// SpectrumPath is where clients connect.
	SpectrumPath = "/spectrum"

	broadcastQueue = 256
	writeWait      = 250 * time.Millisecond
)

// WebSocketTransport serves JSON frames to every connected WebSocket
// client. Frames are queued and written by a single broadcaster goroutine;
// when the queue is full new frames are dropped.
type WebSocketTransport struct {
	addr      string
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan *Frame
	done      chan struct{}
	closeOnce sync.Once
	server    *http.Server
	listener  net.Listener
	dropped   atomic.Uint64
}

// NewWebSocketTransport creates a transport and starts its broadcaster.
// Call Start to listen on addr, or mount it as an http.Handler.
func NewWebSocketTransport(addr string) *WebSocketTransport {
	wst := &WebSocketTransport{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // Renderers are served from anywhere on the LAN.
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan *Frame, broadcastQueue),
		done:      make(chan struct{}),
	}

	go wst.handleBroadcasts()
	return wst
}

// Start listens on the configured address and serves SpectrumPath. The
// listen error, if any, is returned immediately.
func (wst *WebSocketTransport) Start() error {
	ln, err := net.Listen("tcp", wst.addr)
	if err != nil {
		return err
	}
	wst.listener = ln

	mux := http.NewServeMux()
	mux.Handle(SpectrumPath, wst)

	wst.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		applog.Infof("WebSocketTransport: Serving ws://%s%s", ln.Addr(), SpectrumPath)
		if err := wst.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			applog.Errorf("WebSocketTransport: Server error: %v", err)
		}
	}()

	return nil
}

// Addr returns the listening address once started.
func (wst *WebSocketTransport) Addr() net.Addr {
	if wst.listener == nil {
		return nil
	}
	return wst.listener.Addr()
}

// ServeHTTP upgrades the request and registers the client.
func (wst *WebSocketTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warnf("WebSocketTransport: Upgrade error: %v", err)
		return
	}

	select {
	case <-wst.done:
		conn.Close()
		return
	default:
	}

	wst.clientsMu.Lock()
	wst.clients[conn] = true
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	applog.Infof("WebSocketTransport: Client connected from %s, total: %d", r.RemoteAddr, total)

	// Clients only listen; a read error means they went away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				wst.removeClient(conn)
				return
			}
		}
	}()
}

func (wst *WebSocketTransport) removeClient(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	_, ok := wst.clients[conn]
	delete(wst.clients, conn)
	total := len(wst.clients)
	wst.clientsMu.Unlock()

	conn.Close()
	if ok {
		applog.Infof("WebSocketTransport: Client disconnected, total: %d", total)
	}
}

// handleBroadcasts sends queued frames to all connected clients. Writes
// happen outside clientsMu so a slow client never blocks Send or new
// connections.
func (wst *WebSocketTransport) handleBroadcasts() {
	var clients []*websocket.Conn
	for {
		select {
		case frame := <-wst.broadcast:
			clients = wst.snapshotClients(clients[:0])
			for _, client := range clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteJSON(frame); err != nil {
					applog.Warnf("WebSocketTransport: Error sending to client: %v", err)
					wst.removeClient(client)
				}
			}
		case <-wst.done:
			return
		}
	}
}

// snapshotClients appends the connected clients to dst.
func (wst *WebSocketTransport) snapshotClients(dst []*websocket.Conn) []*websocket.Conn {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	for client := range wst.clients {
		dst = append(dst, client)
	}
	return dst
}

// Send queues frame for broadcast. It never blocks; a full queue drops
// the frame.
func (wst *WebSocketTransport) Send(frame *Frame) error {
	select {
	case <-wst.done:
		return ErrClosed
	default:
	}

	select {
	case wst.broadcast <- frame:
	default:
		wst.dropped.Add(1)
	}
	return nil
}

// Clients returns the number of connected clients.
func (wst *WebSocketTransport) Clients() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

// Dropped returns the number of frames dropped on a full queue.
func (wst *WebSocketTransport) Dropped() uint64 {
	return wst.dropped.Load()
}

// Close disconnects every client and shuts the server down.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		applog.Infof("WebSocketTransport: Closing server")
		close(wst.done)

		wst.clientsMu.Lock()
		for client := range wst.clients {
			client.Close()
		}
		wst.clients = make(map[*websocket.Conn]bool)
		wst.clientsMu.Unlock()

		if wst.server != nil {
			err = wst.server.Close()
		}
	})
	return err
}

// Ensure WebSocketTransport satisfies the interface
var _ Transport = (*WebSocketTransport)(nil)
