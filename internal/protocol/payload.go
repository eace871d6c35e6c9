package protocol

// Dispatch event type strings carried in the envelope "t" field.
const (
	EventReady         = "READY"
	EventResumed       = "RESUMED"
	EventMessageCreate = "MESSAGE_CREATE"
	EventTypingStart   = "TYPING_START"
)

// DispatchPayload is the typed body of a dispatch event.
type DispatchPayload interface {
	EventType() string
}

type Ready struct {
	User      User   `json:"user"`
	SessionID string `json:"session_id"`
}

func (*Ready) EventType() string { return EventReady }

// Resumed confirms a Resume; its body carries nothing the client needs.
type Resumed struct{}

func (*Resumed) EventType() string { return EventResumed }

type MessageCreate struct {
	Message
}

func (*MessageCreate) EventType() string { return EventMessageCreate }

type TypingStart struct {
	ChannelID Snowflake  `json:"channel_id"`
	GuildID   *Snowflake `json:"guild_id,omitempty"`
	UserID    Snowflake  `json:"user_id"`
	Timestamp int64      `json:"timestamp"`
	Member    *Member    `json:"member,omitempty"`
}

func (*TypingStart) EventType() string { return EventTypingStart }
