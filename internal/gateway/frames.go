// ABOUTME: Wire frame types for the framed JSON message protocol
// ABOUTME: Requests, responses, push events, and the error taxonomy

package gateway

import "encoding/json"

// Frame types.
const (
	frameReq   = "req"
	frameRes   = "res"
	frameEvent = "event"
)

// Error codes.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeUnavailable    = "UNAVAILABLE"
)

// RequestFrame is an incoming request.
type RequestFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// ResponseFrame answers one request. Payload may accompany an error: an
// executor failure responds UNAVAILABLE while still carrying the terminal
// payload shape.
type ResponseFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	OK      bool   `json:"ok"`
	Payload any    `json:"payload,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// EventFrame is a server push to observers.
type EventFrame struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Error is the wire error shape.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func invalidRequest(message string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: message}
}

func unavailable(message string) *Error {
	return &Error{Code: CodeUnavailable, Message: message}
}
