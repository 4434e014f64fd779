package chat

// Conversation summarizes one customer's thread for the agent inbox.
type Conversation struct {
	Key         string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Avatar      string `json:"avatar"`
	LastMessage string `json:"lastMessage"`
	Time        string `json:"time"`
	Unread      int    `json:"unread"`
}

// UnreadCount is 1 when the customer's latest message has no agent reply
// after it, otherwise 0.
func UnreadCount(msgs []Message) int {
	lastUser := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == SenderUser {
			lastUser = i
			break
		}
	}
	if lastUser < 0 {
		return 0
	}
	for _, m := range msgs[lastUser+1:] {
		if m.Sender == SenderAgent {
			return 0
		}
	}
	return 1
}

// Summarize builds an inbox row.
func Summarize(key, name, avatar, status string, msgs []Message) Conversation {
	if name == "" {
		name = "Unknown User"
	}
	if status == "" {
		status = "active"
	}
	if avatar == "" {
		avatar = "??"
		if r := []rune(name); len(r) >= 2 {
			avatar = string(r[:2])
		}
	}
	c := Conversation{
		Key:         key,
		Name:        name,
		Status:      status,
		Avatar:      avatar,
		LastMessage: "No messages yet",
		Time:        "N/A",
		Unread:      UnreadCount(msgs),
	}
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		c.LastMessage = last.Text
		c.Time = last.Time
	}
	return c
}
