package gateway

import "encoding/json"

// Result codes sent in draw acks. Values are part of the wire contract.
const (
	CodeSuccess            = 0
	CodeInvalidToken       = -1
	CodeUnknownError       = -2
	CodeInvalidRequest     = -3
	CodeInsufficientPoints = -4
	CodeInvalidPosition    = -5
)

// Frame is the envelope for every message on the socket, both
// directions. Seq correlates a client request with its ack.
type Frame struct {
	Event string `json:"event"`
	Seq   int64  `json:"seq,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// clientFrame defers payload decoding until the event is known
type clientFrame struct {
	Event string          `json:"event"`
	Seq   int64           `json:"seq,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const (
	EventAuthenticated = "authenticated"
	EventDraw          = "draw"
	EventSync          = "sync"
	EventOnline        = "onlineClientsUpdated"
	EventAck           = "ack"
)

// Result is the discriminated draw outcome. PointsLeft and LastUpdate
// ride along on success and on InsufficientPoints so the client can
// compute its own countdown.
type Result struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	PointsLeft *int   `json:"pointsLeft,omitempty"`
	LastUpdate *int64 `json:"lastUpdate,omitempty"`
}

// AuthPayload answers the implicit connect. A failed auth keeps the
// connection open but every draw will be rejected.
type AuthPayload struct {
	Success    bool   `json:"success"`
	PointsLeft *int   `json:"pointsLeft,omitempty"`
	LastUpdate *int64 `json:"lastUpdate,omitempty"`
	Message    string `json:"message,omitempty"`
}

// DrawData is one cell mutation. Width and height are locked to 1, the
// fields exist for wire compatibility.
type DrawData struct {
	X int    `json:"x"`
	Y int    `json:"y"`
	W int    `json:"w"`
	H int    `json:"h"`
	C string `json:"c"`
}

type DrawRequest struct {
	Token string   `json:"token"`
	Data  DrawData `json:"data"`
}

// BroadcastCell is what other viewers receive for an accepted draw
type BroadcastCell struct {
	X int    `json:"x"`
	Y int    `json:"y"`
	C string `json:"c"`
}

type OnlinePayload struct {
	Count int `json:"count"`
}
