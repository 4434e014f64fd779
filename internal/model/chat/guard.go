package chat

import (
	"errors"
	"fmt"
)

// ErrAgentMessage rejects a customer write that adds or rewrites agent
// messages.
var ErrAgentMessage = errors.New("customers cannot add or change agent messages")

// CheckCustomerEdit compares a customer's replacement list with the stored
// one. Agent messages carried over unchanged are fine, and so are new or
// edited messages signed autoReplyName, which the customer's client writes
// for the automatic acknowledgement. Everything else agent-authored fails
// with ErrAgentMessage. Read flags may change freely.
func CheckCustomerEdit(before, after []Message, autoReplyName string) error {
	for _, m := range after {
		if m.Sender != SenderAgent {
			continue
		}
		if i := IndexOf(before, m.ID); i >= 0 {
			prev := before[i]
			if sameContent(prev, m) {
				continue
			}
			if prev.Sender == SenderAgent && prev.Name != autoReplyName {
				return fmt.Errorf("%w: message %s was changed", ErrAgentMessage, m.ID)
			}
		}
		if m.Name != autoReplyName {
			return fmt.Errorf("%w: message %s is signed %q", ErrAgentMessage, m.ID, m.Name)
		}
	}
	return nil
}

func sameContent(a, b Message) bool {
	a.IsRead, b.IsRead = false, false
	return a == b
}
