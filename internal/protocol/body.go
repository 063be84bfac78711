package protocol

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// BroadcastTarget is the sentinel recipient addressing every other
// connected user. The comparison is case-insensitive.
const BroadcastTarget = "ALL"

var (
	formattedPattern = regexp.MustCompile(`(?s)^(\w*) to @([@\w]*): (.*)$`)
	targetPattern    = regexp.MustCompile(`(?s)^@(\w*)(.*)`)

	errNotFormatted = errors.New("not a formatted message")
)

// Msg is the body of msg, start_chat and accept_chat requests.
type Msg struct {
	Text   string `json:"text"`
	Sender string `json:"sender"`
	To     string `json:"to"`
}

// NewMsg builds a broadcast message from sender.
func NewMsg(text, sender string) Msg {
	return Msg{Text: text, Sender: sender, To: BroadcastTarget}
}

// ParseFormatted restores a Msg from its formatted wire string,
// the inverse of String.
func ParseFormatted(formatted string) (Msg, error) {
	match := formattedPattern.FindStringSubmatch(formatted)
	if match == nil {
		return Msg{}, errNotFormatted
	}
	return Msg{Sender: match[1], To: match[2], Text: match[3]}, nil
}

// ParseStored restores a message from the "<sender>__<unix>__<text>__<recipient>"
// persisted history form. The text may itself contain the separator, so the
// recipient is split off the tail.
func ParseStored(line string) (Msg, int64, error) {
	parts := strings.SplitN(line, "__", 3)
	if len(parts) != 3 {
		return Msg{}, 0, errNotFormatted
	}
	at, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Msg{}, 0, errNotFormatted
	}
	cut := strings.LastIndex(parts[2], "__")
	if cut < 0 {
		return Msg{}, 0, errNotFormatted
	}
	msg := Msg{
		Sender: parts[0],
		Text:   parts[2][:cut],
		To:     parts[2][cut+2:],
	}
	return msg, at, nil
}

// ParseTarget splits a leading "@user" directive out of the message text
// and stores it as the recipient. Text without a directive stays addressed
// to the broadcast target.
func (m *Msg) ParseTarget() {
	m.To = BroadcastTarget
	if !strings.Contains(m.Text, "@") {
		return
	}
	match := targetPattern.FindStringSubmatch(m.Text)
	if match == nil {
		return
	}
	m.To = match[1]
	m.Text = strings.TrimSpace(match[2])
}

// Broadcast reports whether the message is addressed to every other user.
func (m Msg) Broadcast() bool {
	return strings.EqualFold(m.To, BroadcastTarget)
}

func (m Msg) String() string {
	return fmt.Sprintf("%s to @%s: %s", m.Sender, m.To, m.Text)
}

// User carries credentials presented during the handshake.
// Equality is by username only.
type User struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

// Equal compares users by username.
func (u User) Equal(other User) bool {
	return u.Username == other.Username
}

func (u User) String() string {
	return u.Username
}
