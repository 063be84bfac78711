package protocol

import "fmt"

// Code pairs a numeric protocol status with its default text.
// Catalogue values below are immutable; 1xx are informational answers,
// 2xx success and state-change notifications, 4xx client errors, 5xx
// server errors.
type Code struct {
	Code    int
	Message string
}

// Is reports loose equality against a bare numeric code.
func (c Code) Is(code int) bool {
	return c.Code == code
}

func (c Code) String() string {
	return fmt.Sprintf("%d - %s", c.Code, c.Message)
}

// 1xx
var (
	Basic      = Code{100, "Basic message"}
	Answer     = Code{101, ""}
	Auth       = Code{110, "pub key"}
	FileAnswer = Code{111, ""}
)

// 2xx
var (
	OK           = Code{200, "OK"}
	Connected    = Code{201, "User connected"}
	Disconnected = Code{202, "User disconnected"}
	Letter       = Code{203, ""}
	StartChat    = Code{204, ""}
	AcceptChat   = Code{205, ""}
)

// 4xx
var (
	IncorrectRequest = Code{400, "Incorrect request / json"}
	Unauthorized     = Code{401, "Unauthorized"}
	Forbidden        = Code{403, "Forbidden"}
	Conflict         = Code{409, "User already connected"}
)

// 5xx
var (
	ServerError        = Code{500, "Server error"}
	ServiceUnavailable = Code{503, "Service Unavailable"}
)
