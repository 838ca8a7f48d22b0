package models

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TimestampLayout is the display format of Message.Timestamp.
const TimestampLayout = "03:04 PM · 02 Jan 2006"

// Valid reports whether r is a role a session may store.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one turn of a conversation stored in a session.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Timestamp string `json:"timestamp"`
	Content   string `json:"content"`
}
