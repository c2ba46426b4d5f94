// Package gateway serves the persistent draw connections.
//
// Each connection runs an independent read loop plus a buffered write
// pump and never blocks the process on I/O. The only cross-process
// mutual exclusion in the whole draw path is the ledger debit.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bitwise74/canvas-api/internal/bus"
	"bitwise74/canvas-api/internal/ledger"
	"bitwise74/canvas-api/internal/model"
	"bitwise74/canvas-api/internal/service"
	"bitwise74/canvas-api/internal/session"
	"bitwise74/canvas-api/validators"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

const (
	writeTimeout      = 5 * time.Second
	heartbeatInterval = 30 * time.Second
)

type Gateway struct {
	Hub      *Hub
	Bus      *bus.Bus
	Presence *bus.Presence
	Ledger   *ledger.Ledger
	Sessions *session.Directory
	Writer   *service.Writer

	Width  int
	Height int

	// FailOpen admits draws when the ledger store itself is
	// unreachable. Off by default: an unreachable ledger rejects,
	// preserving the rate-limit invariant.
	FailOpen bool

	// AllowedOrigins feeds the websocket origin check
	AllowedOrigins []string

	// Now is swappable for tests
	Now func() time.Time
}

// HandleWS upgrades the connection and serves it until disconnect.
func (g *Gateway) HandleWS(c *gin.Context) {
	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: g.AllowedOrigins,
	})
	if err != nil {
		zap.L().Debug("Websocket upgrade rejected", zap.Error(err))
		return
	}
	defer ws.Close(websocket.StatusInternalError, "closed")

	ctx := c.Request.Context()

	// Auth failure keeps the connection open as a read-only viewer
	identity, err := g.Sessions.Resolve(ctx, c.Query("token"))
	if err != nil && !errors.Is(err, session.ErrUnknownToken) {
		zap.L().Error("Session resolution failed on connect", zap.Error(err))
	}

	conn := newConn(gonanoid.Must(16), identity)
	g.Hub.add(conn)

	zap.L().Debug("Client connected",
		zap.String("conn_id", conn.ID),
		zap.Bool("authenticated", identity != ""))

	g.join(ctx, conn)
	defer g.leave(conn)

	writeDone := make(chan struct{})
	go g.writePump(ctx, ws, conn, writeDone)

	conn.push(g.authFrame(ctx, identity))

	g.readLoop(ctx, ws, conn)

	conn.close()
	<-writeDone
	ws.Close(websocket.StatusNormalClosure, "")
}

// join registers presence and announces the new viewer count to every
// instance.
func (g *Gateway) join(ctx context.Context, conn *Conn) {
	if err := g.Presence.Touch(ctx, conn.ID); err != nil {
		zap.L().Warn("Presence registration failed", zap.Error(err))
	}
	g.publishOnline(ctx)
}

func (g *Gateway) leave(conn *Conn) {
	g.Hub.remove(conn)

	// The request context is gone by now
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := g.Presence.Remove(ctx, conn.ID); err != nil {
		zap.L().Warn("Presence removal failed", zap.Error(err))
	}
	g.publishOnline(ctx)

	zap.L().Debug("Client disconnected", zap.String("conn_id", conn.ID))
}

func (g *Gateway) publishOnline(ctx context.Context) {
	count, err := g.Presence.Count(ctx)
	if err != nil {
		// Registry down: report what this instance can see
		count = g.Hub.LocalCount()
	}

	g.Bus.Publish(ctx, bus.Event{
		Type: bus.TypeOnline,
		Data: OnlinePayload{Count: count},
	})
}

func (g *Gateway) authFrame(ctx context.Context, identity string) Frame {
	if identity == "" {
		return Frame{Event: EventAuthenticated, Data: AuthPayload{
			Success: false,
			Message: "Invalid or missing draw token",
		}}
	}

	payload := AuthPayload{Success: true}

	// Send the balance with the handshake so the client renders the
	// right state without racing its first draw
	snap, err := g.Ledger.Peek(ctx, identity)
	if err != nil {
		zap.L().Warn("Ledger peek failed on connect", zap.Error(err))
	} else {
		payload.PointsLeft = &snap.PointsLeft
		payload.LastUpdate = &snap.LastUpdate
	}

	return Frame{Event: EventAuthenticated, Data: payload}
}

func (g *Gateway) writePump(ctx context.Context, ws *websocket.Conn, conn *Conn, done chan<- struct{}) {
	defer close(done)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.done:
			return
		case <-heartbeat.C:
			if err := g.Presence.Touch(ctx, conn.ID); err != nil {
				zap.L().Debug("Presence heartbeat failed", zap.Error(err))
			}
		case f := <-conn.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, ws, f)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (g *Gateway) readLoop(ctx context.Context, ws *websocket.Conn, conn *Conn) {
	for {
		var frame clientFrame
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			return
		}

		switch frame.Event {
		case EventDraw:
			res := g.handleDraw(ctx, conn, frame.Data)
			conn.push(Frame{Event: EventAck, Seq: frame.Seq, Data: res})
		default:
			conn.push(Frame{Event: EventAck, Seq: frame.Seq, Data: Result{
				Code:    CodeInvalidRequest,
				Message: "Unknown event",
			}})
		}
	}
}

// handleDraw runs the full draw pipeline. Checks short-circuit in
// order: structure, token, bounds, budget. Only then does state change.
func (g *Gateway) handleDraw(ctx context.Context, conn *Conn, raw json.RawMessage) Result {
	var req DrawRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return Result{Code: CodeInvalidRequest, Message: "Malformed draw request"}
	}

	in := validators.DrawInput{
		X: req.Data.X,
		Y: req.Data.Y,
		W: req.Data.W,
		H: req.Data.H,
		C: req.Data.C,
	}
	if err := validators.DrawValidator(&in); err != nil {
		return Result{Code: CodeInvalidRequest, Message: err.Error()}
	}

	identity, err := g.Sessions.Resolve(ctx, req.Token)
	if err != nil {
		if errors.Is(err, session.ErrUnknownToken) {
			return Result{Code: CodeInvalidToken, Message: "Invalid token"}
		}

		zap.L().Error("Session resolution failed", zap.Error(err))
		return Result{Code: CodeUnknownError, Message: "Unknown error"}
	}

	if !validators.InBounds(&in, g.Width, g.Height) {
		return Result{Code: CodeInvalidPosition, Message: "Position outside canvas"}
	}

	snap, err := g.Ledger.Debit(ctx, identity)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrInsufficient):
		return Result{
			Code:       CodeInsufficientPoints,
			Message:    "Insufficient points",
			PointsLeft: &snap.PointsLeft,
			LastUpdate: &snap.LastUpdate,
		}
	default:
		zap.L().Error("Ledger debit failed", zap.Error(err))

		if !g.FailOpen {
			// Fail closed: an unreachable ledger must not grant
			// unlimited drawing
			return Result{
				Code:       CodeInsufficientPoints,
				Message:    "Insufficient points",
				PointsLeft: &snap.PointsLeft,
				LastUpdate: &snap.LastUpdate,
			}
		}

		if peeked, perr := g.Ledger.Peek(ctx, identity); perr == nil {
			snap = peeked
		}
	}

	now := g.Now().UnixMilli()

	// Persistence is best-effort and off the hot path. A dropped write
	// never rolls back the debit or the broadcast.
	g.Writer.Enqueue(service.WriteJob{
		Cell: model.Cell{
			X:          in.X,
			Y:          in.Y,
			Color:      in.C,
			LastWriter: identity,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		Action: model.Action{
			X:         in.X,
			Y:         in.Y,
			Color:     in.C,
			Identity:  identity,
			CreatedAt: now,
		},
	})

	g.Bus.Publish(ctx, bus.Event{
		Type:   bus.TypeDraw,
		Origin: conn.ID,
		Data:   BroadcastCell{X: in.X, Y: in.Y, C: in.C},
	})

	g.Bus.Publish(ctx, bus.Event{
		Type:     bus.TypeSync,
		Identity: identity,
		Data:     ledger.Snapshot{PointsLeft: snap.PointsLeft, LastUpdate: snap.LastUpdate},
	})

	return Result{
		Code:       CodeSuccess,
		Message:    "Draw successful",
		PointsLeft: &snap.PointsLeft,
		LastUpdate: &snap.LastUpdate,
	}
}
