package session

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"chainbot/internal/platform"
)

// fixtureHistorian serves a scripted history, newest first, like the REST
// client does.
type fixtureHistorian struct {
	msgs  []platform.Message
	err   error
	calls int
}

func (f *fixtureHistorian) RecentMessages(ctx context.Context, channelID string, limit int) ([]platform.Message, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.msgs) {
		return f.msgs[:limit], nil
	}
	return f.msgs, nil
}

func accepted(id, author, content string) platform.Message {
	return platform.Message{
		ID:      id,
		Author:  platform.User{ID: author, Username: author},
		Content: content,
		Reactions: []platform.Reaction{
			{Emoji: platform.Emoji{Name: platform.MarkerAccept}, Count: 1, Me: true},
		},
	}
}

func plain(id, author, content string) platform.Message {
	return platform.Message{
		ID:      id,
		Author:  platform.User{ID: author, Username: author},
		Content: content,
	}
}

func TestRecover_NewestAcceptedWins(t *testing.T) {
	hist := &fixtureHistorian{msgs: []platform.Message{
		plain("m5", "carol", "未審核的發言"),
		accepted("m4", "bob", " 戲劇效果 "),
		accepted("m3", "alice", "接龍遊戲"),
	}}

	move, ok, err := Recover(context.Background(), hist, "c1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a recovered move")
	}
	want := RecoveredMove{Word: "戲劇效果", PlayerID: "bob"}
	if diff := cmp.Diff(want, move); diff != "" {
		t.Fatalf("recovered move mismatch (-want +got):\n%s", diff)
	}
}

func TestRecover_SkipsBotMessages(t *testing.T) {
	botMsg := accepted("m2", "chainbot", "裁判：太短了！")
	botMsg.Author.Bot = true
	hist := &fixtureHistorian{msgs: []platform.Message{
		botMsg,
		accepted("m1", "alice", "接龍遊戲"),
	}}

	move, ok, err := Recover(context.Background(), hist, "c1", 10)
	if err != nil || !ok {
		t.Fatalf("recover failed: ok=%v err=%v", ok, err)
	}
	if move.PlayerID != "alice" {
		t.Fatalf("bot message must be skipped, recovered from %q", move.PlayerID)
	}
}

func TestRecover_EmptyWindowIsNotAnError(t *testing.T) {
	hist := &fixtureHistorian{msgs: []platform.Message{
		plain("m2", "bob", "隨便聊聊"),
		plain("m1", "alice", "哈囉"),
	}}

	_, ok, err := Recover(context.Background(), hist, "c1", 10)
	if err != nil {
		t.Fatalf("no qualifying move is not an error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a window with no accepted moves")
	}
}

func TestRecover_HistoryErrorPropagates(t *testing.T) {
	wantErr := errors.New("rate limited")
	hist := &fixtureHistorian{err: wantErr}

	_, _, err := Recover(context.Background(), hist, "c1", 10)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped history error, got %v", err)
	}
}

func TestRecover_DefaultsLookback(t *testing.T) {
	hist := &fixtureHistorian{}
	if _, _, err := Recover(context.Background(), hist, "c1", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hist.calls != 1 {
		t.Fatalf("expected one history call, got %d", hist.calls)
	}
}

func TestRecoverInto_InstallsState(t *testing.T) {
	st := NewStore()
	hist := &fixtureHistorian{msgs: []platform.Message{accepted("m1", "alice", "接龍遊戲")}}

	move, ok, err := RecoverInto(context.Background(), hist, st, "c1", 10)
	if err != nil || !ok {
		t.Fatalf("recover failed: ok=%v err=%v", ok, err)
	}
	if move.Word != "接龍遊戲" {
		t.Fatalf("unexpected word %q", move.Word)
	}

	s := st.GetOrCreate("c1")
	s.Lock()
	defer s.Unlock()
	if s.Mode != ModeGame {
		t.Fatal("recovered channel must be in game mode")
	}
	if s.LastWord != "接龍遊戲" || s.LastPlayerID != "alice" {
		t.Fatalf("state not installed: word=%q player=%q", s.LastWord, s.LastPlayerID)
	}
}

func TestRecoverInto_EmptyHistoryStillFlipsMode(t *testing.T) {
	st := NewStore()
	hist := &fixtureHistorian{}

	_, ok, err := RecoverInto(context.Background(), hist, st, "c1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected no recovered move")
	}

	s := st.GetOrCreate("c1")
	s.Lock()
	defer s.Unlock()
	if s.Mode != ModeGame {
		t.Fatal("a labeled game channel enters game mode even with no history")
	}
	if s.LastWord != "" {
		t.Fatal("chain must start empty")
	}
}

// Running recovery twice over the same history is a no-op the second time.
func TestRecoverInto_Idempotent(t *testing.T) {
	st := NewStore()
	hist := &fixtureHistorian{msgs: []platform.Message{accepted("m1", "alice", "接龍遊戲")}}

	first, _, _ := RecoverInto(context.Background(), hist, st, "c1", 10)
	second, _, _ := RecoverInto(context.Background(), hist, st, "c1", 10)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("recovery not idempotent (-first +second):\n%s", diff)
	}
}
