package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
	// SenderTyping marks the transient typing placeholder. It only lives in
	// local state and is never written to a store.
	SenderTyping Sender = "typing"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	switch s {
	case SenderUser, SenderAgent, SenderTyping:
		return true
	}
	return false
}

// TimeLayout is the display format of Message.Time.
const TimeLayout = "15:04"

// MessageID is unique within one user's message list. Stored histories carry
// integer ids while typing placeholders use "typing-<millis>", so both JSON
// numbers and strings are accepted.
type MessageID string

// IntID converts a numeric id.
func IntID(n int64) MessageID {
	return MessageID(strconv.FormatInt(n, 10))
}

// Int returns the numeric value of the id, if it has one.
func (id MessageID) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

// MarshalJSON writes canonical integers ("7", "-3") as numbers and
// everything else, "007" included, as a string, so a decoded id always
// compares equal to the one encoded.
func (id MessageID) MarshalJSON() ([]byte, error) {
	if n, ok := id.Int(); ok && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id *MessageID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = MessageID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	if bytes.ContainsAny(data, ".eE") {
		return fmt.Errorf("message id %s: numeric ids must be integers", data)
	}
	*id = MessageID(n.String())
	return nil
}

// Message is one entry of a user's support conversation.
type Message struct {
	ID        MessageID `json:"id"`
	Sender    Sender    `json:"sender"`
	Name      string    `json:"name,omitempty"`
	Text      string    `json:"text"`
	Time      string    `json:"time"`
	Timestamp int64     `json:"timestamp,omitempty"`
	IsRead    bool      `json:"isRead,omitempty"`
}

// New builds a message stamped with now.
func New(id MessageID, sender Sender, name, text string, now time.Time) Message {
	return Message{
		ID:        id,
		Sender:    sender,
		Name:      name,
		Text:      text,
		Time:      now.Format(TimeLayout),
		Timestamp: now.UnixMilli(),
	}
}

// Equal reports full structural equality of two ordered lists.
func Equal(a, b []Message) bool {
	return slices.Equal(a, b)
}

// Persistable drops typing placeholders.
func Persistable(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Sender != SenderTyping {
			out = append(out, m)
		}
	}
	return out
}

// IndexOf returns the position of the message with id, or -1.
func IndexOf(msgs []Message, id MessageID) int {
	return slices.IndexFunc(msgs, func(m Message) bool { return m.ID == id })
}

// NextID returns max(numeric ids)+1, or 1 for an empty list.
func NextID(msgs []Message) MessageID {
	var max int64
	for _, m := range msgs {
		if n, ok := m.ID.Int(); ok && n > max {
			max = n
		}
	}
	return IntID(max + 1)
}

// Last returns the most recent message from sender.
func Last(msgs []Message, sender Sender) (Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == sender {
			return msgs[i], true
		}
	}
	return Message{}, false
}
