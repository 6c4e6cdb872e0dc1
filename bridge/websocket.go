package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazyhaar/treewatch/wire"
)

// WebSocketConfig tunes a WebSocket bridge.
type WebSocketConfig struct {
	Codec        wire.Codec
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingInterval time.Duration
	SendBuffer   int
	Logger       *slog.Logger
	// OnOpen runs before the pumps start, so listeners it registers see
	// the first inbound frame.
	OnOpen func(*WebSocket)
}

func (c *WebSocketConfig) defaults() {
	if c.Codec == nil {
		c.Codec = wire.JSON
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 15 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * c.PingInterval
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// WebSocket carries messages over a gorilla websocket connection. A write
// pump owns all writes and sends an empty frame as keepalive when idle; a
// read pump dispatches inbound frames.
type WebSocket struct {
	cfg  WebSocketConfig
	conn *websocket.Conn
	send chan []byte
	ls   listeners

	ctx       context.Context
	cancel    context.CancelFunc
	writeDone chan struct{} // closed when the write pump has returned
	wg        sync.WaitGroup
	once      sync.Once
}

// NewWebSocket starts the pumps on an established connection.
func NewWebSocket(conn *websocket.Conn, cfg WebSocketConfig) *WebSocket {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	ws := &WebSocket{
		cfg:    cfg,
		conn:   conn,
		send:   make(chan []byte, cfg.SendBuffer),
		ctx:       ctx,
		cancel:    cancel,
		writeDone: make(chan struct{}),
	}
	if cfg.OnOpen != nil {
		cfg.OnOpen(ws)
	}
	ws.wg.Add(2)
	go ws.writePump()
	go ws.readPump()
	return ws
}

// Dial connects to a treewatch websocket endpoint.
func Dial(ctx context.Context, url string, cfg WebSocketConfig) (*WebSocket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: dial %s: %w", url, err)
	}
	return NewWebSocket(conn, cfg), nil
}

// Done is closed when the connection is gone.
func (ws *WebSocket) Done() <-chan struct{} { return ws.ctx.Done() }

func (ws *WebSocket) Send(ctx context.Context, msg wire.Message) error {
	data, err := ws.cfg.Codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bridge: websocket marshal: %w", err)
	}
	select {
	case <-ws.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case ws.send <- data:
		return nil
	case <-ws.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ws *WebSocket) Listen(h Handler) func() { return ws.ls.add(h) }

// Close sends a close frame, then closes the connection and waits for the
// pumps. The close frame write is bounded by WriteTimeout.
func (ws *WebSocket) Close() error {
	var err error
	ws.once.Do(func() {
		ws.cancel()
		<-ws.writeDone
		err = ws.conn.Close()
		ws.wg.Wait()
	})
	return err
}

func (ws *WebSocket) frameType() int {
	if ws.cfg.Codec.Name() == "json" {
		return websocket.TextMessage
	}
	return websocket.BinaryMessage
}

func (ws *WebSocket) writePump() {
	defer ws.wg.Done()
	defer close(ws.writeDone)
	defer ws.cancel()

	ping := time.NewTicker(ws.cfg.PingInterval)
	defer ping.Stop()
	typ := ws.frameType()

	for {
		select {
		case <-ws.ctx.Done():
			ws.conn.SetWriteDeadline(time.Now().Add(ws.cfg.WriteTimeout))
			ws.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-ws.send:
			ws.conn.SetWriteDeadline(time.Now().Add(ws.cfg.WriteTimeout))
			if err := ws.conn.WriteMessage(typ, data); err != nil {
				// a websocket write deadline cannot be recovered
				ws.cfg.Logger.Info("bridge: websocket write failed", "error", err)
				return
			}
		case <-ping.C:
			ws.conn.SetWriteDeadline(time.Now().Add(ws.cfg.WriteTimeout))
			if err := ws.conn.WriteMessage(websocket.BinaryMessage, []byte{}); err != nil {
				return
			}
		}
	}
}

func (ws *WebSocket) readPump() {
	defer ws.wg.Done()
	defer ws.cancel()

	for {
		ws.conn.SetReadDeadline(time.Now().Add(ws.cfg.ReadTimeout))
		typ, data, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ws.cfg.Logger.Info("bridge: websocket read failed", "error", err)
			}
			return
		}
		if len(data) == 0 {
			// keepalive
			continue
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		msg, err := ws.cfg.Codec.Unmarshal(data)
		if err != nil {
			ws.cfg.Logger.Warn("bridge: websocket decode failed", "error", err)
			continue
		}
		ws.ls.dispatch(ws.ctx, msg)
	}
}
