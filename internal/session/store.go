// Package session holds the per-channel mutable state: the active mode
// and the word-chain progress. Sessions live for the process lifetime and
// are the only shared mutable state in the bot; all mutation is channel
// scoped and serialized through the session lock.
package session

import "sync"

// Mode selects which engine handles a channel's messages.
type Mode int

const (
	ModeIdle Mode = iota
	ModeGame
	ModeAI
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeGame:
		return "game"
	case ModeAI:
		return "ai"
	default:
		return "unknown"
	}
}

// Channel topic labels. Topics are the externally visible mode hints the
// dispatcher reconciles against, and they survive a restart.
const (
	TopicGame        = "【接龍模式】"
	TopicAI          = "【AI聊天模式】"
	TopicStory       = "【故事專用】每天早上8點，擷取過去24小時內接龍頻道的所有詞彙，編成一個故事。"
	TopicStoryTest   = "【故事測試】"
	TopicTicketPanel = "【請勿濫用客服單】"
)

// ModeForTopic maps a channel topic label to a mode hint.
func ModeForTopic(topic string) (Mode, bool) {
	switch topic {
	case TopicGame:
		return ModeGame, true
	case TopicAI:
		return ModeAI, true
	default:
		return ModeIdle, false
	}
}

// Session is the per-channel record. Callers must hold the session lock
// while reading or writing fields; the word-chain engine additionally
// holds it across the full move evaluation, which is what serializes
// concurrent submissions in one channel.
type Session struct {
	mu sync.Mutex

	ChannelID string
	Mode      Mode

	// Word-chain progress. LastPlayerID is set iff LastWord is non-empty.
	LastWord     string
	LastPlayerID string

	// Ticket workflow bookkeeping.
	TicketOwnerID string
	TempMessageID string
}

// Lock acquires the session for exclusive use.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session.
func (s *Session) Unlock() { s.mu.Unlock() }

// ResetChain clears the word-chain progress. Callers must hold the lock.
// Used when a channel enters game mode fresh; restart recovery instead
// repopulates the fields from history.
func (s *Session) ResetChain() {
	s.LastWord = ""
	s.LastPlayerID = ""
}

// SetLastMove records an accepted move. Callers must hold the lock.
func (s *Session) SetLastMove(word, playerID string) {
	s.LastWord = word
	s.LastPlayerID = playerID
}

// Store maps channel IDs to sessions. Creation is lazy and idempotent;
// there is no deletion.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the channel's session, materializing defaults on
// first access.
func (st *Store) GetOrCreate(channelID string) *Session {
	st.mu.RLock()
	s, ok := st.sessions[channelID]
	st.mu.RUnlock()
	if ok {
		return s
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[channelID]; ok {
		return s
	}
	s = &Session{ChannelID: channelID, Mode: ModeIdle}
	st.sessions[channelID] = s
	return s
}

// Len reports how many sessions have been materialized.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
