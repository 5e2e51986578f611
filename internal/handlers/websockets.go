package handlers

import (
	"context"
	"sync"
	"time"

	"machine_control/internal/logger"
	"machine_control/internal/messages"
	"machine_control/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const closeWait = time.Second

// wsConnection adapts a gorilla connection to service.Connection.
// gorilla allows one concurrent writer, so data frames go through writeMu.
type wsConnection struct {
	id        string
	conn      *websocket.Conn
	writeWait time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

var _ service.Connection = (*wsConnection)(nil)

func newWSConnection(conn *websocket.Conn, writeWait time.Duration) *wsConnection {
	return &wsConnection{
		id:        uuid.NewString(),
		conn:      conn,
		writeWait: writeWait,
	}
}

func (c *wsConnection) ID() string { return c.id }

// Send writes one text frame, bounded by writeWait or ctx's deadline, whichever is sooner.
func (c *wsConnection) Send(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(c.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// ping is safe alongside Send: WriteControl may be called concurrently.
func (c *wsConnection) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

// Close sends a going-away close frame and closes the socket. Only the first call has effect.
func (c *wsConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
		err = c.conn.Close()
	})
	return err
}

// @Summary      State sync websocket
// @Description  Upgrades to a websocket. The server sends the current state first, then every change.
// @Description  Clients send {"type":"update","data":{"original_state":{...},"new_state":{...}}}.
// @Tags         machine
// @Success      101
// @Failure      403  {string}  string  "origin not allowed"
// @Router       /ws [get]
func (h *Handler) wsConnect(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrader already answered with an HTTP error
		h.log.Infow("ws_upgrade_failed", "err", err, "origin", c.GetHeader("Origin"))
		return
	}

	wc := newWSConnection(conn, h.opts.WriteWait)
	log := h.log.With("conn_id", wc.ID())

	conn.SetReadLimit(h.opts.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	if err := h.services.Register(ctx, wc); err != nil {
		log.Infow("ws_register_failed", "err", err)
		_ = wc.Close()
		return
	}
	defer func() {
		h.services.Unregister(wc)
		_ = wc.Close()
	}()
	log.Infow("ws_connected", "remote_addr", c.ClientIP())

	go h.keepAlive(ctx, wc, log)
	h.readLoop(ctx, wc, log)
	log.Infow("ws_disconnected")
}

// readLoop applies inbound frames until the connection fails or is closed.
func (h *Handler) readLoop(ctx context.Context, wc *wsConnection, log *logger.Logger) {
	limiter := rate.NewLimiter(rate.Limit(h.opts.UpdatesPerSecond), h.opts.UpdateBurst)

	for {
		_, data, err := wc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Infow("ws_read_failed", "err", err)
			}
			return
		}

		var msg messages.ClientMessage
		if limiter.Allow() {
			msg = messages.Decode(data)
		} else {
			msg = messages.DecodeFailure{Err: service.ErrRateLimited}
		}

		if err := h.services.ApplyClientUpdate(ctx, wc, msg); err != nil {
			log.Debugw("ws_update_rejected", "err", err)
		}
	}
}

// keepAlive pings on PingPeriod; a failed ping closes the socket, which ends readLoop.
func (h *Handler) keepAlive(ctx context.Context, wc *wsConnection, log *logger.Logger) {
	t := time.NewTicker(h.opts.PingPeriod)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := wc.ping(); err != nil {
				log.Infow("ws_ping_failed", "err", err)
				_ = wc.Close()
				return
			}
		}
	}
}
