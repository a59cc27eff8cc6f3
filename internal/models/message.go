package models

// Role is who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status tags optimistic messages so failed sends stay distinguishable.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// VoicePlaceholder is shown for a recorded message until its transcript arrives.
const VoicePlaceholder = "[Voice message]"

// Message is a single entry of a conversation as displayed by the client.
type Message struct {
	Role      Role   `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	AudioKey  string `json:"audioTimestamp,omitempty"`
	Audio     string `json:"audio,omitempty"`
	Status    Status `json:"status,omitempty"`
}

// HistoryMessage is the wire form returned by the backend.
type HistoryMessage struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// ToMessage maps a backend message into the display shape.
func (h HistoryMessage) ToMessage() Message {
	return Message{
		Role:      h.Role,
		Text:      h.Content,
		Timestamp: h.Timestamp,
		Status:    StatusConfirmed,
	}
}
