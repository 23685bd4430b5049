package game

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"chainbot/internal/judge"
	"chainbot/internal/platform"
	"chainbot/internal/session"
)

func cached(channelID, author, content string, accepted bool) platform.CachedMessage {
	return platform.CachedMessage{
		Message: platform.Message{
			ID:        "m1",
			ChannelID: channelID,
			Author:    platform.User{ID: author, Username: author},
			Content:   content,
		},
		Accepted: accepted,
	}
}

func TestMonitor_DeleteOfChainHeadCalledOut(t *testing.T) {
	store := session.NewStore()
	gw := &mockGateway{}
	mon := NewMonitor(store, gw, zap.NewNop())
	s := gameSession(store, "c1", "接龍遊戲", "alice")

	if !mon.HandleDelete(context.Background(), cached("c1", "alice", "接龍遊戲", true)) {
		t.Fatal("expected a delete call-out")
	}
	got := gw.lastMessage()
	if !strings.Contains(got, "alice") || !strings.Contains(got, "「**戲**」") {
		t.Fatalf("call-out missing culprit or next character: %q", got)
	}

	// The chain head is authoritative state, not the message's existence.
	s.Lock()
	defer s.Unlock()
	if s.LastWord != "接龍遊戲" {
		t.Fatal("deletion must not roll the chain back")
	}
}

func TestMonitor_EditOfChainHeadCalledOut(t *testing.T) {
	store := session.NewStore()
	gw := &mockGateway{}
	mon := NewMonitor(store, gw, zap.NewNop())
	gameSession(store, "c1", "接龍遊戲", "alice")

	if !mon.HandleEdit(context.Background(), cached("c1", "alice", "接龍遊戲", true)) {
		t.Fatal("expected an edit call-out")
	}
	if !strings.Contains(gw.lastMessage(), "偷改") {
		t.Fatalf("unexpected call-out text: %q", gw.lastMessage())
	}
}

func TestMonitor_IgnoresStaleAndForeignEvents(t *testing.T) {
	tests := []struct {
		name   string
		before platform.CachedMessage
		setup  func(*session.Store)
	}{
		{
			name:   "superseded move",
			before: cached("c1", "alice", "接龍", true),
			setup:  func(st *session.Store) { gameSession(st, "c1", "龍飛鳳舞", "bob") },
		},
		{
			name:   "never accepted",
			before: cached("c1", "alice", "接龍遊戲", false),
			setup:  func(st *session.Store) { gameSession(st, "c1", "接龍遊戲", "alice") },
		},
		{
			name: "bot author",
			before: func() platform.CachedMessage {
				c := cached("c1", "botty", "接龍遊戲", true)
				c.Author.Bot = true
				return c
			}(),
			setup: func(st *session.Store) { gameSession(st, "c1", "接龍遊戲", "alice") },
		},
		{
			name:   "channel not in game mode",
			before: cached("c1", "alice", "接龍遊戲", true),
			setup:  func(st *session.Store) {},
		},
		{
			name:   "no chain yet",
			before: cached("c1", "alice", "接龍遊戲", true),
			setup:  func(st *session.Store) { gameSession(st, "c1", "", "") },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := session.NewStore()
			gw := &mockGateway{}
			mon := NewMonitor(store, gw, zap.NewNop())
			tt.setup(store)

			if mon.HandleDelete(context.Background(), tt.before) {
				t.Fatal("unexpected call-out")
			}
			if gw.lastMessage() != "" {
				t.Fatalf("unexpected message sent: %q", gw.lastMessage())
			}
		})
	}
}

// After a tamper call-out the game continues against the unchanged head.
func TestMonitor_GameContinuesAfterViolation(t *testing.T) {
	store := session.NewStore()
	gw := &mockGateway{}
	mon := NewMonitor(store, gw, zap.NewNop())
	j := &mockJudge{verdict: judge.Verdict{Accepted: true}}
	engine := NewEngine(store, j, gw, gw, Options{}, zap.NewNop())
	gameSession(store, "c1", "接龍遊戲", "alice")

	mon.HandleDelete(context.Background(), cached("c1", "alice", "接龍遊戲", true))

	out := engine.HandleMove(context.Background(), move("c1", "m9", "bob", "戲劇效果"))
	if out.Code != CodeAccepted {
		t.Fatalf("follow-up against the surviving head should pass, got %v", out.Code)
	}
}
