package game

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"chainbot/internal/platform"
	"chainbot/internal/session"
)

// Monitor reacts to edits and deletes of historical messages and calls out
// tampering with the chain head. It never accepts or rejects moves and
// never rolls session state back: the canonical chain lives in the
// session, not in the message's continued existence.
type Monitor struct {
	sessions *session.Store
	notify   Notifier
	log      *zap.Logger
}

// NewMonitor creates a monitor over the shared session store.
func NewMonitor(sessions *session.Store, notify Notifier, log *zap.Logger) *Monitor {
	return &Monitor{sessions: sessions, notify: notify, log: log}
}

// HandleDelete checks a deleted message against the current chain head and
// emits a public call-out when an accepted move was retroactively removed.
// Returns true when a violation was reported.
func (m *Monitor) HandleDelete(ctx context.Context, before platform.CachedMessage) bool {
	return m.check(ctx, before, func(name, next string) string {
		return fmt.Sprintf("😡 **%s** 太壞了，偷偷刪掉已經通過的留言，滾出去！\n👉 下一個字還是要接「**%s**」喔！", name, next)
	})
}

// HandleEdit is the symmetric check using the pre-edit text.
func (m *Monitor) HandleEdit(ctx context.Context, before platform.CachedMessage) bool {
	return m.check(ctx, before, func(name, next string) string {
		return fmt.Sprintf("👀 **%s** 別以為我沒看到！想偷改已經通過的答案？不可饒恕！\n👉 下一個字還是要接「**%s**」喔！", name, next)
	})
}

func (m *Monitor) check(ctx context.Context, before platform.CachedMessage, callout func(name, next string) string) bool {
	if before.Author.Bot || !before.Accepted {
		return false
	}

	s := m.sessions.GetOrCreate(before.ChannelID)
	s.Lock()
	defer s.Unlock()

	if s.Mode != session.ModeGame || s.LastWord == "" {
		return false
	}
	// Only tampering with the live chain head matters; superseded moves
	// no longer affect the game.
	if before.Word() != s.LastWord {
		return false
	}

	runes := []rune(s.LastWord)
	next := string(runes[len(runes)-1])
	msg := callout(before.Author.DisplayName(), next)
	if _, err := m.notify.SendMessage(ctx, before.ChannelID, msg); err != nil {
		m.log.Warn("call-out failed", zap.String("channel", before.ChannelID), zap.Error(err))
	}
	m.log.Info("integrity violation",
		zap.String("channel", before.ChannelID),
		zap.String("player", before.Author.ID),
		zap.String("word", s.LastWord))
	return true
}
