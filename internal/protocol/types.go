package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Snowflake is a 64-bit id carried on the wire as a decimal string.
type Snowflake uint64

func ParseSnowflake(s string) (Snowflake, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid snowflake %q: %w", s, err)
	}
	return Snowflake(v), nil
}

func (id Snowflake) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

func (id Snowflake) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *Snowflake) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("snowflake must be a string: %w", err)
	}
	v, err := ParseSnowflake(s)
	if err != nil {
		return err
	}
	*id = v
	return nil
}

type User struct {
	ID            Snowflake `json:"id"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator"`
	Bot           bool      `json:"bot,omitempty"`
}

type Member struct {
	User *User  `json:"user,omitempty"`
	Nick string `json:"nick,omitempty"`
}

type Message struct {
	ID        Snowflake  `json:"id"`
	ChannelID Snowflake  `json:"channel_id"`
	GuildID   *Snowflake `json:"guild_id,omitempty"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	Author    User       `json:"author"`
	Mentions  []User     `json:"mentions"`
}

type Status string

const (
	StatusOnline    Status = "online"
	StatusDND       Status = "dnd"
	StatusIdle      Status = "idle"
	StatusInvisible Status = "invisible"
	StatusOffline   Status = "offline"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusDND, StatusIdle, StatusInvisible, StatusOffline:
		return true
	}
	return false
}

// Intents is the capability bitmask sent in Identify.
type Intents uint32

const (
	IntentGuilds Intents = 1 << iota
	IntentGuildMembers
	IntentGuildBans
	IntentGuildEmojis
	IntentGuildIntegrations
	IntentGuildWebhooks
	IntentGuildInvites
	IntentGuildVoiceStates
	IntentGuildPresences
	IntentGuildMessages
	IntentGuildMessageReactions
	IntentGuildMessageTyping
	IntentDirectMessages
	IntentDirectMessageReactions
	IntentDirectMessageTyping
)

var intentNames = map[string]Intents{
	"GUILDS":                   IntentGuilds,
	"GUILD_MEMBERS":            IntentGuildMembers,
	"GUILD_BANS":               IntentGuildBans,
	"GUILD_EMOJIS":             IntentGuildEmojis,
	"GUILD_INTEGRATIONS":       IntentGuildIntegrations,
	"GUILD_WEBHOOKS":           IntentGuildWebhooks,
	"GUILD_INVITES":            IntentGuildInvites,
	"GUILD_VOICE_STATES":       IntentGuildVoiceStates,
	"GUILD_PRESENCES":          IntentGuildPresences,
	"GUILD_MESSAGES":           IntentGuildMessages,
	"GUILD_MESSAGE_REACTIONS":  IntentGuildMessageReactions,
	"GUILD_MESSAGE_TYPING":     IntentGuildMessageTyping,
	"DIRECT_MESSAGES":          IntentDirectMessages,
	"DIRECT_MESSAGE_REACTIONS": IntentDirectMessageReactions,
	"DIRECT_MESSAGE_TYPING":    IntentDirectMessageTyping,
}

// ParseIntents folds intent names (case-insensitive) into a bitmask.
func ParseIntents(names []string) (Intents, error) {
	var out Intents
	for _, n := range names {
		v, ok := intentNames[strings.ToUpper(strings.TrimSpace(n))]
		if !ok {
			return 0, fmt.Errorf("unknown intent %q", n)
		}
		out |= v
	}
	return out, nil
}

func (i Intents) Has(flag Intents) bool {
	return i&flag == flag
}
