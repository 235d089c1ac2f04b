package hangout

import "time"

// MessageKind tells who produced a transcript entry.
type MessageKind string

const (
	KindUser   MessageKind = "user"
	KindAgent  MessageKind = "agent"
	KindSystem MessageKind = "system"
)

// AgentSender is the sender name used for agent acknowledgements.
const AgentSender = "Hangout AI"

// Message is one immutable transcript entry.
type Message struct {
	ID        string      `json:"id"`
	Sender    string      `json:"sender"`
	Kind      MessageKind `json:"kind"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"createdAt"`
}
