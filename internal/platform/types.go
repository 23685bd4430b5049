// Package platform implements the Discord side of the bot: a gateway
// connection for inbound events, a REST client for outbound actions, a
// registry of known channels, and a bounded cache of recent messages so
// that edit/delete events can be resolved to their pre-event content.
package platform

import (
	"encoding/json"
	"strings"
	"time"
)

// Annotation markers the bot attaches to game moves. The accept marker is
// the only durable record of an accepted move; history recovery and the
// integrity monitor both read it back.
const (
	MarkerAccept = "✅"
	MarkerReject = "❌"
)

// Discord channel types (subset).
const (
	ChannelTypeGuildText     = 0
	ChannelTypeGuildCategory = 4
)

// User is a Discord user or bot account.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot"`
}

// DisplayName returns the best human-readable name available.
func (u User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return u.ID
}

// Reaction is a reaction summary on a message as returned by the REST API.
type Reaction struct {
	Emoji Emoji `json:"emoji"`
	Count int   `json:"count"`
	Me    bool  `json:"me"`
}

// Emoji identifies a reaction emoji. Unicode emoji carry only Name.
type Emoji struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is an inbound or fetched Discord message.
type Message struct {
	ID        string     `json:"id"`
	ChannelID string     `json:"channel_id"`
	GuildID   string     `json:"guild_id,omitempty"`
	Author    User       `json:"author"`
	Content   string     `json:"content"`
	Reactions []Reaction `json:"reactions,omitempty"`
	Timestamp Timestamp  `json:"timestamp,omitempty"`
}

// Word returns the message content trimmed the way the game engine and
// history recovery interpret a move.
func (m Message) Word() string {
	return strings.TrimSpace(m.Content)
}

// HasOwnReaction reports whether the bot itself reacted with the emoji.
func (m Message) HasOwnReaction(name string) bool {
	for _, r := range m.Reactions {
		if r.Me && r.Emoji.Name == name {
			return true
		}
	}
	return false
}

// Timestamp wraps time.Time for Discord's ISO8601 message timestamps.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.Format(time.RFC3339))
}

// Channel is a guild channel as seen in GUILD_CREATE payloads and REST
// responses. Topic carries the mode labels the dispatcher reconciles with.
type Channel struct {
	ID       string `json:"id"`
	GuildID  string `json:"guild_id,omitempty"`
	Name     string `json:"name"`
	Topic    string `json:"topic,omitempty"`
	Type     int    `json:"type"`
	ParentID string `json:"parent_id,omitempty"`
}

// Guild is the subset of a GUILD_CREATE payload the bot cares about.
type Guild struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Channels []Channel `json:"channels"`
}

// PermissionOverwrite grants or denies channel permissions for a user or role.
type PermissionOverwrite struct {
	ID    string `json:"id"`
	Type  int    `json:"type"` // 0 = role, 1 = member
	Allow string `json:"allow"`
	Deny  string `json:"deny"`
}

// Permission bits used by the ticket workflow.
const (
	PermViewChannel  = 1 << 10
	PermSendMessages = 1 << 11
)

// Overwrite types.
const (
	OverwriteRole   = 0
	OverwriteMember = 1
)

// Embed is a Discord rich embed (story posts, ticket panels).
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// EmbedField is a titled section inside an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter is the small footer line of an embed.
type EmbedFooter struct {
	Text string `json:"text"`
}
