package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

// Wire packet type tags. Every packet carries exactly one tag which
// selects the decoder.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
)

// Request actions.
const (
	ActionPresence   = "presence"
	ActionAuth       = "auth"
	ActionMessage    = "msg"
	ActionQuit       = "quit"
	ActionCommand    = "command"
	ActionStartChat  = "start_chat"
	ActionAcceptChat = "accept_chat"
	ActionImage      = "image"
	ActionEndImage   = "end_image"
	ActionGetImage   = "get_image"
)

var errBodyEmpty = errors.New("request body empty")

// Packet is the unit moved by the wire codec, either a Request or a Response.
type Packet interface {
	packetType() string
}

// Request is a client-originated packet. Body is action-dependent:
// a username, an encrypted credential blob, free text, or a Msg.
type Request struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Body   any    `json:"body"`
	Time   int64  `json:"time"`
}

// NewRequest builds a request stamped with the current unix time.
func NewRequest(action string, body any) Request {
	return Request{
		Type:   TypeRequest,
		Action: action,
		Body:   body,
		Time:   time.Now().Unix(),
	}
}

func (Request) packetType() string { return TypeRequest }

// BodyText returns the body as free text.
func (r Request) BodyText() string {
	s, _ := r.Body.(string)
	return s
}

// BodyMsg decodes the body into a Msg. A decoded request carries the body
// as a generic map, so it is re-marshalled into the typed struct.
func (r Request) BodyMsg() (Msg, error) {
	var msg Msg
	if r.Body == nil {
		return msg, errBodyEmpty
	}
	if m, ok := r.Body.(Msg); ok {
		return m, nil
	}
	data, err := json.Marshal(r.Body)
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// Response is a server-originated packet. Message holds either the code's
// default text or an override payload: user lists, chat history lines,
// key material, file chunks.
type Response struct {
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Time    int64  `json:"time"`
}

// NewResponse builds a response carrying the code's default text.
func NewResponse(code Code) Response {
	return NewResponseText(code, code.Message)
}

// NewResponseText builds a response with an override payload.
func NewResponseText(code Code, message string) Response {
	return Response{
		Type:    TypeResponse,
		Code:    code.Code,
		Message: message,
		Time:    time.Now().Unix(),
	}
}

func (Response) packetType() string { return TypeResponse }

// Is reports whether the response carries the given catalogue code.
func (r Response) Is(code Code) bool {
	return code.Is(r.Code)
}
