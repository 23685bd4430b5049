package session

import (
	"context"
	"fmt"

	"chainbot/internal/platform"
)

// DefaultLookback bounds the recovery scan so startup cost stays flat
// regardless of channel size.
const DefaultLookback = 10

// Historian reads recent channel history, newest first. The Discord REST
// client satisfies it; tests use scripted fixtures.
type Historian interface {
	RecentMessages(ctx context.Context, channelID string, limit int) ([]platform.Message, error)
}

// RecoveredMove is the chain state reconstructed from history.
type RecoveredMove struct {
	Word     string
	PlayerID string
}

// Recover scans the channel's recent history for the newest message that
// carries the bot's accept marker and returns its trimmed text and author.
// Bot-authored messages are skipped. ok is false when no qualifying move
// exists within the lookback window; the chain then starts empty, which
// is not an error.
func Recover(ctx context.Context, hist Historian, channelID string, lookback int) (RecoveredMove, bool, error) {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	msgs, err := hist.RecentMessages(ctx, channelID, lookback)
	if err != nil {
		return RecoveredMove{}, false, fmt.Errorf("recover %s: %w", channelID, err)
	}
	for _, msg := range msgs {
		if msg.Author.Bot {
			continue
		}
		if msg.HasOwnReaction(platform.MarkerAccept) {
			return RecoveredMove{Word: msg.Word(), PlayerID: msg.Author.ID}, true, nil
		}
	}
	return RecoveredMove{}, false, nil
}

// RecoverInto runs Recover and, on success, installs the result into the
// channel's session under its lock. The session is flipped to game mode
// first so a concurrent move cannot race ahead of recovery: the lock is
// held for the whole scan.
func RecoverInto(ctx context.Context, hist Historian, st *Store, channelID string, lookback int) (RecoveredMove, bool, error) {
	s := st.GetOrCreate(channelID)
	s.Lock()
	defer s.Unlock()

	s.Mode = ModeGame
	move, ok, err := Recover(ctx, hist, channelID, lookback)
	if err != nil {
		return RecoveredMove{}, false, err
	}
	if ok {
		s.SetLastMove(move.Word, move.PlayerID)
	}
	return move, ok, nil
}
