// Package game implements the word-chain engine and the integrity monitor
// that polices retroactive tampering with accepted moves.
package game

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"chainbot/internal/judge"
	"chainbot/internal/platform"
	"chainbot/internal/session"
)

// Notifier posts channel messages.
type Notifier interface {
	SendMessage(ctx context.Context, channelID, content string) (string, error)
}

// Annotator attaches the ✅/❌ markers to messages.
type Annotator interface {
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
}

// Judge is the external semantic oracle. Implemented by judge.Referee;
// tests inject stubs so the deterministic rules run without network access.
type Judge interface {
	Judge(ctx context.Context, candidate, previous string) (judge.Verdict, error)
}

// Options are the runtime-tunable game rules.
type Options struct {
	// AllowSelfFollow permits a player to extend their own move. Off by
	// default: consecutive self-play is rejected before the judge runs.
	AllowSelfFollow bool
}

// Code classifies the outcome of a move evaluation.
type Code int

const (
	CodeIgnored Code = iota // not in game mode, or empty submission
	CodeAccepted
	CodeValidationRejected // structural rule failed, no judge call
	CodeJudgeRejected
	CodeJudgeUnavailable
)

// Outcome reports what the engine did with a move. Side effects
// (annotation, reply) have already been emitted by the time it returns.
type Outcome struct {
	Code   Code
	Reason string // user-visible rejection reason or critique
}

// Engine is the per-channel word-chain state machine. The full evaluation
// of a move, including the judge call, runs under the channel's session
// lock: at most one evaluation per channel is ever in flight.
type Engine struct {
	sessions *session.Store
	judge    Judge
	notify   Notifier
	annotate Annotator
	log      *zap.Logger

	mu   sync.RWMutex
	opts Options
}

// NewEngine creates an engine over the shared session store.
func NewEngine(sessions *session.Store, j Judge, notify Notifier, annotate Annotator, opts Options, log *zap.Logger) *Engine {
	return &Engine{
		sessions: sessions,
		judge:    j,
		notify:   notify,
		annotate: annotate,
		opts:     opts,
		log:      log,
	}
}

// SetOptions swaps the rule options (config hot-reload).
func (e *Engine) SetOptions(opts Options) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts = opts
}

func (e *Engine) options() Options {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opts
}

// HandleMove evaluates a candidate move. Structural rules run in a fixed
// order and short-circuit before any network call; only then is the judge
// consulted. Session state advances only on acceptance.
func (e *Engine) HandleMove(ctx context.Context, msg platform.Message) Outcome {
	s := e.sessions.GetOrCreate(msg.ChannelID)
	s.Lock()
	defer s.Unlock()

	if s.Mode != session.ModeGame {
		return Outcome{Code: CodeIgnored}
	}
	word := msg.Word()
	if word == "" {
		return Outcome{Code: CodeIgnored}
	}

	if s.LastWord == "" {
		return e.evaluateFirstMove(ctx, s, msg, word)
	}
	return e.evaluateFollowUp(ctx, s, msg, word)
}

// evaluateFirstMove starts a fresh chain: only the minimum-length rule
// applies before the judge.
func (e *Engine) evaluateFirstMove(ctx context.Context, s *session.Session, msg platform.Message, word string) Outcome {
	if len([]rune(word)) < 2 {
		return e.reject(ctx, msg, "裁判：起頭至少要兩個字啦！")
	}
	return e.consultJudge(ctx, s, msg, word)
}

// evaluateFollowUp applies the structural rules in their fixed order. The
// first failing rule wins so rejection reasons stay deterministic.
func (e *Engine) evaluateFollowUp(ctx context.Context, s *session.Session, msg platform.Message, word string) Outcome {
	runes := []rune(word)

	// 1. Minimum length.
	if len(runes) < 2 {
		return e.reject(ctx, msg, "裁判：太短了！請至少輸入兩個字。")
	}

	// 2. Identical first and last character would allow a trivial
	// self-loop forever.
	if runes[0] == runes[len(runes)-1] {
		return e.reject(ctx, msg,
			fmt.Sprintf("裁判：又來了！「%s」首尾字相同，禁止無限迴圈！", word))
	}

	// 3. Chain continuity against the previous word.
	prev := []rune(s.LastWord)
	prevLast := prev[len(prev)-1]
	if runes[0] != prevLast {
		return e.reject(ctx, msg,
			fmt.Sprintf("裁判：眼睛還好嗎？上一句結尾是「**%s**」，你接「**%s**」是想去哪？",
				string(prevLast), string(runes[0])))
	}

	// 4. Turn alternation.
	if !e.options().AllowSelfFollow && msg.Author.ID == s.LastPlayerID {
		return e.reject(ctx, msg, "不能自己接自己的龍！給別人一點機會！")
	}

	return e.consultJudge(ctx, s, msg, word)
}

// consultJudge is the only suspension point in the evaluation. The judge
// failing is surfaced as its own outcome and never mutates the session.
func (e *Engine) consultJudge(ctx context.Context, s *session.Session, msg platform.Message, word string) Outcome {
	verdict, err := e.judge.Judge(ctx, word, s.LastWord)
	if err != nil {
		if !errors.Is(err, judge.ErrUnavailable) {
			e.log.Error("judge returned unexpected error", zap.Error(err))
		}
		e.send(ctx, msg.ChannelID, "裁判恍神了，請稍後再試一次。")
		return Outcome{Code: CodeJudgeUnavailable}
	}

	if !verdict.Accepted {
		critique := verdict.Critique
		if critique == "" {
			critique = "裁判搖了搖頭，沒有多說什麼。"
		}
		e.mark(ctx, msg, platform.MarkerReject)
		e.send(ctx, msg.ChannelID, critique)
		return Outcome{Code: CodeJudgeRejected, Reason: critique}
	}

	s.SetLastMove(word, msg.Author.ID)
	e.mark(ctx, msg, platform.MarkerAccept)
	e.log.Info("move accepted",
		zap.String("channel", msg.ChannelID),
		zap.String("word", word),
		zap.String("player", msg.Author.ID))
	return Outcome{Code: CodeAccepted}
}

func (e *Engine) reject(ctx context.Context, msg platform.Message, reason string) Outcome {
	e.mark(ctx, msg, platform.MarkerReject)
	e.send(ctx, msg.ChannelID, reason)
	return Outcome{Code: CodeValidationRejected, Reason: reason}
}

// mark and send are best effort: annotation delivery rides on the
// platform's own guarantees, and a failed reaction must not fail the move.
func (e *Engine) mark(ctx context.Context, msg platform.Message, marker string) {
	if err := e.annotate.AddReaction(ctx, msg.ChannelID, msg.ID, marker); err != nil {
		e.log.Warn("annotation failed",
			zap.String("message", msg.ID), zap.String("marker", marker), zap.Error(err))
	}
}

func (e *Engine) send(ctx context.Context, channelID, content string) {
	if _, err := e.notify.SendMessage(ctx, channelID, content); err != nil {
		e.log.Warn("reply failed", zap.String("channel", channelID), zap.Error(err))
	}
}
