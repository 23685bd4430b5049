// Package dispatch routes inbound gateway events to the right engine for
// the channel's mode, handles administrative commands, and runs the AI
// chat relay.
package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chainbot/internal/game"
	"chainbot/internal/judge"
	"chainbot/internal/platform"
	"chainbot/internal/session"
	"chainbot/internal/story"
	"chainbot/internal/ticket"
)

// commandPrefix marks administrative and workflow commands; prefixed
// messages never reach the game or relay engines.
const commandPrefix = "!"

// relayTimeout bounds a single AI-relay completion.
const relayTimeout = 60 * time.Second

// Platform is the slice of the Discord client the dispatcher uses.
type Platform interface {
	SendMessage(ctx context.Context, channelID, content string) (string, error)
	SendEmbed(ctx context.Context, channelID, content string, embed platform.Embed) (string, error)
	TriggerTyping(ctx context.Context, channelID string)
	EditChannelTopic(ctx context.Context, channelID, topic string) error
	ChannelInfo(ctx context.Context, channelID string) (platform.Channel, error)
	RecentMessages(ctx context.Context, channelID string, limit int) ([]platform.Message, error)
}

// Dispatcher implements platform.EventHandler and is the single entry
// point for all gateway events.
type Dispatcher struct {
	pf       Platform
	sessions *session.Store
	engine   *game.Engine
	monitor  *game.Monitor
	llm      judge.LLMClient
	tickets  *ticket.Manager
	stories  *story.Generator
	admins   map[string]struct{}
	lookback int
	log      *zap.Logger

	selfMu sync.RWMutex
	self   platform.User
}

// Config wires the dispatcher's collaborators.
type Config struct {
	Platform         Platform
	Sessions         *session.Store
	Engine           *game.Engine
	Monitor          *game.Monitor
	LLM              judge.LLMClient
	Tickets          *ticket.Manager
	Stories          *story.Generator
	AdminUserIDs     []string
	RecoveryLookback int
}

// New creates a dispatcher.
func New(cfg Config, log *zap.Logger) *Dispatcher {
	admins := make(map[string]struct{}, len(cfg.AdminUserIDs))
	for _, id := range cfg.AdminUserIDs {
		admins[id] = struct{}{}
	}
	return &Dispatcher{
		pf:       cfg.Platform,
		sessions: cfg.Sessions,
		engine:   cfg.Engine,
		monitor:  cfg.Monitor,
		llm:      cfg.LLM,
		tickets:  cfg.Tickets,
		stories:  cfg.Stories,
		admins:   admins,
		lookback: cfg.RecoveryLookback,
		log:      log,
	}
}

// Attach wires the collaborators that themselves depend on the
// dispatcher's permission predicate.
func (d *Dispatcher) Attach(tickets *ticket.Manager, stories *story.Generator) {
	d.tickets = tickets
	d.stories = stories
}

// IsAdmin is the permission predicate for administrative actions.
func (d *Dispatcher) IsAdmin(userID string) bool {
	_, ok := d.admins[userID]
	return ok
}

func (d *Dispatcher) selfID() string {
	d.selfMu.RLock()
	defer d.selfMu.RUnlock()
	return d.self.ID
}

// Ready records the bot's identity.
func (d *Dispatcher) Ready(ctx context.Context, self platform.User) {
	d.selfMu.Lock()
	d.self = self
	d.selfMu.Unlock()
	if d.tickets != nil {
		d.tickets.SetSelfID(self.ID)
	}
}

// GuildCreate restores game sessions for channels labeled as game mode,
// recovering the chain head from history before any new move can race in.
// Channels recover concurrently with each other; each channel's session
// stays locked for the duration of its own scan.
func (d *Dispatcher) GuildCreate(ctx context.Context, g platform.Guild) {
	hist, ok := d.pf.(session.Historian)
	if !ok {
		return
	}

	var eg errgroup.Group
	for _, ch := range g.Channels {
		if ch.Type != platform.ChannelTypeGuildText || ch.Topic != session.TopicGame {
			continue
		}
		ch := ch
		eg.Go(func() error {
			move, found, err := session.RecoverInto(ctx, hist, d.sessions, ch.ID, d.lookback)
			if err != nil {
				d.log.Warn("history recovery failed",
					zap.String("channel", ch.ID), zap.Error(err))
				return nil // a failed scan leaves the chain empty, not the bot down
			}
			if found {
				d.log.Info("chain recovered",
					zap.String("channel", ch.ID),
					zap.String("word", move.Word),
					zap.String("player", move.PlayerID))
			} else {
				d.log.Info("no chain to recover", zap.String("channel", ch.ID))
			}
			return nil
		})
	}
	_ = eg.Wait()
}

// MessageCreate routes one inbound message.
func (d *Dispatcher) MessageCreate(ctx context.Context, msg platform.Message) {
	if msg.Author.ID == d.selfID() {
		return
	}

	if isCommand(msg.Content) {
		d.handleCommand(ctx, msg)
		return
	}

	ch, err := d.pf.ChannelInfo(ctx, msg.ChannelID)
	if err != nil {
		d.log.Warn("channel lookup failed",
			zap.String("channel", msg.ChannelID), zap.Error(err))
	}

	// The story channel is output only.
	if ch.Topic == session.TopicStory {
		return
	}

	if d.tickets != nil {
		d.tickets.OnMessage(ctx, msg)
	}

	s := d.sessions.GetOrCreate(msg.ChannelID)
	s.Lock()
	// The topic label is the durable mode hint; reconcile so a restart
	// or an out-of-band topic edit cannot leave the session stale.
	if mode, ok := session.ModeForTopic(ch.Topic); ok {
		s.Mode = mode
	}
	mode := s.Mode
	s.Unlock()

	switch mode {
	case session.ModeIdle:
	case session.ModeGame:
		d.engine.HandleMove(ctx, msg)
	case session.ModeAI:
		d.handleRelay(ctx, msg)
	}
}

// MessageUpdate feeds the pre-edit snapshot to the integrity monitor.
func (d *Dispatcher) MessageUpdate(ctx context.Context, before platform.CachedMessage, hadBefore bool, after platform.Message) {
	if !hadBefore || before.Author.ID == d.selfID() {
		return
	}
	d.monitor.HandleEdit(ctx, before)
}

// MessageDelete feeds the deleted snapshot to the integrity monitor.
func (d *Dispatcher) MessageDelete(ctx context.Context, before platform.CachedMessage, hadBefore bool) {
	if !hadBefore || before.Author.ID == d.selfID() {
		return
	}
	d.monitor.HandleDelete(ctx, before)
}

// handleRelay forwards the raw message to the model and relays the answer
// verbatim.
func (d *Dispatcher) handleRelay(ctx context.Context, msg platform.Message) {
	d.pf.TriggerTyping(ctx, msg.ChannelID)

	cctx, cancel := context.WithTimeout(ctx, relayTimeout)
	defer cancel()
	reply, err := d.llm.Complete(cctx, msg.Content)
	if err != nil {
		d.log.Warn("relay completion failed", zap.Error(err))
		if _, err := d.pf.SendMessage(ctx, msg.ChannelID, "AI 錯誤：回應失敗，請稍後再試。"); err != nil {
			d.log.Warn("relay error notice failed", zap.Error(err))
		}
		return
	}
	if _, err := d.pf.SendMessage(ctx, msg.ChannelID, reply); err != nil {
		d.log.Warn("relay reply failed", zap.Error(err))
	}
}

func isCommand(content string) bool {
	return len(content) > 0 && content[:1] == commandPrefix
}
