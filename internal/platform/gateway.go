package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

const (
	gatewayURL    = "wss://gateway.discord.gg/?v=10&encoding=json"
	gatewayOrigin = "https://discord.com"

	// Gateway opcodes.
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11

	// Gateway intents.
	intentGuilds         = 1 << 0
	intentGuildMessages  = 1 << 9
	intentGuildReactions = 1 << 10
	intentDirectMessages = 1 << 12
	intentMessageContent = 1 << 15
)

// EventHandler receives decoded gateway events. Edit and delete events are
// pre-resolved against the message cache so handlers see the message as it
// was before the event.
type EventHandler interface {
	Ready(ctx context.Context, self User)
	GuildCreate(ctx context.Context, g Guild)
	MessageCreate(ctx context.Context, m Message)
	MessageUpdate(ctx context.Context, before CachedMessage, hadBefore bool, after Message)
	MessageDelete(ctx context.Context, before CachedMessage, hadBefore bool)
}

type gatewayPayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int            `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type helloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

type identifyData struct {
	Token      string            `json:"token"`
	Intents    int               `json:"intents"`
	Properties map[string]string `json:"properties"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int    `json:"seq"`
}

type readyData struct {
	SessionID string `json:"session_id"`
	User      User   `json:"user"`
}

type messageDeleteData struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id,omitempty"`
}

// Gateway maintains the websocket connection to Discord and feeds events
// to the handler. Reconnects with resume on transient failures.
type Gateway struct {
	token   string
	client  *Client
	handler EventHandler
	log     *zap.Logger

	selfMu    sync.Mutex
	selfID    string
	sessionID string

	// seq is read by the heartbeat goroutine while the read loop
	// advances it.
	seq atomic.Int64
}

// NewGateway wires a gateway to the REST client's cache and registry.
func NewGateway(token string, client *Client, handler EventHandler, log *zap.Logger) *Gateway {
	return &Gateway{token: token, client: client, handler: handler, log: log}
}

// SelfID returns the bot's own user ID once READY has arrived.
func (g *Gateway) SelfID() string {
	g.selfMu.Lock()
	defer g.selfMu.Unlock()
	return g.selfID
}

// Run connects and processes events until the context is canceled,
// reconnecting after transient failures.
func (g *Gateway) Run(ctx context.Context) error {
	for {
		if err := g.connectAndRun(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.log.Warn("gateway disconnected", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			g.log.Info("gateway reconnecting")
		}
	}
}

func (g *Gateway) connectAndRun(ctx context.Context) error {
	ws, err := websocket.Dial(gatewayURL, "", gatewayOrigin)
	if err != nil {
		return fmt.Errorf("gateway dial: %w", err)
	}
	defer ws.Close()

	// Close the socket when the context ends so the blocking Receive
	// below unblocks.
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		ws.Close()
	}()

	var hello gatewayPayload
	if err := websocket.JSON.Receive(ws, &hello); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("expected hello op %d, got %d", opHello, hello.Op)
	}
	var hd helloData
	if err := json.Unmarshal(hello.D, &hd); err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}

	var writeMu sync.Mutex
	send := func(p gatewayPayload) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return websocket.JSON.Send(ws, p)
	}

	go g.heartbeatLoop(connCtx, send, time.Duration(hd.HeartbeatInterval)*time.Millisecond)

	if g.sessionID != "" {
		if err := g.sendResume(send); err != nil {
			return err
		}
	} else if err := g.sendIdentify(send); err != nil {
		return err
	}

	for {
		var payload gatewayPayload
		if err := websocket.JSON.Receive(ws, &payload); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("gateway read: %w", err)
		}
		if payload.S != nil {
			g.seq.Store(int64(*payload.S))
		}

		switch payload.Op {
		case opDispatch:
			g.dispatch(ctx, payload)
		case opHeartbeat:
			_ = send(g.heartbeatPayload())
		case opReconnect:
			g.log.Info("gateway reconnect requested")
			return nil
		case opInvalidSession:
			g.log.Warn("gateway session invalidated")
			g.sessionID = ""
			return nil
		case opHeartbeatAck:
		}
	}
}

func (g *Gateway) sendIdentify(send func(gatewayPayload) error) error {
	intents := intentGuilds | intentGuildMessages | intentMessageContent |
		intentGuildReactions | intentDirectMessages
	d, err := json.Marshal(identifyData{
		Token:   g.token,
		Intents: intents,
		Properties: map[string]string{
			"os": "linux", "browser": "chainbot", "device": "chainbot",
		},
	})
	if err != nil {
		return err
	}
	return send(gatewayPayload{Op: opIdentify, D: d})
}

func (g *Gateway) sendResume(send func(gatewayPayload) error) error {
	d, err := json.Marshal(resumeData{Token: g.token, SessionID: g.sessionID, Seq: int(g.seq.Load())})
	if err != nil {
		return err
	}
	return send(gatewayPayload{Op: opResume, D: d})
}

func (g *Gateway) heartbeatPayload() gatewayPayload {
	d, _ := json.Marshal(g.seq.Load())
	return gatewayPayload{Op: opHeartbeat, D: d}
}

func (g *Gateway) heartbeatLoop(ctx context.Context, send func(gatewayPayload) error, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := send(g.heartbeatPayload()); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, payload gatewayPayload) {
	switch payload.T {
	case "READY":
		var ready readyData
		if err := json.Unmarshal(payload.D, &ready); err != nil {
			g.log.Warn("decode READY failed", zap.Error(err))
			return
		}
		g.selfMu.Lock()
		g.selfID = ready.User.ID
		g.sessionID = ready.SessionID
		g.selfMu.Unlock()
		g.log.Info("gateway connected",
			zap.String("user", ready.User.Username), zap.String("id", ready.User.ID))
		g.handleAsync(ctx, func() { g.handler.Ready(ctx, ready.User) })

	case "GUILD_CREATE":
		var guild Guild
		if err := json.Unmarshal(payload.D, &guild); err != nil {
			g.log.Warn("decode GUILD_CREATE failed", zap.Error(err))
			return
		}
		for i := range guild.Channels {
			guild.Channels[i].GuildID = guild.ID
			g.client.reg.put(guild.Channels[i])
		}
		g.handleAsync(ctx, func() { g.handler.GuildCreate(ctx, guild) })

	case "CHANNEL_CREATE", "CHANNEL_UPDATE":
		var ch Channel
		if err := json.Unmarshal(payload.D, &ch); err == nil {
			g.client.reg.put(ch)
		}

	case "CHANNEL_DELETE":
		var ch Channel
		if err := json.Unmarshal(payload.D, &ch); err == nil {
			g.client.reg.remove(ch.ID)
		}

	case "MESSAGE_CREATE":
		var msg Message
		if err := json.Unmarshal(payload.D, &msg); err != nil {
			g.log.Warn("decode MESSAGE_CREATE failed", zap.Error(err))
			return
		}
		if msg.Author.ID != g.SelfID() {
			g.client.cache.Put(msg)
		}
		g.handleAsync(ctx, func() { g.handler.MessageCreate(ctx, msg) })

	case "MESSAGE_UPDATE":
		var msg Message
		if err := json.Unmarshal(payload.D, &msg); err != nil {
			return
		}
		if msg.ID == "" || msg.Author.ID == g.SelfID() {
			return
		}
		before, ok := g.client.cache.UpdateContent(msg.ID, msg.Content)
		g.handleAsync(ctx, func() { g.handler.MessageUpdate(ctx, before, ok, msg) })

	case "MESSAGE_DELETE":
		var del messageDeleteData
		if err := json.Unmarshal(payload.D, &del); err != nil {
			return
		}
		before, ok := g.client.cache.Remove(del.ID)
		g.handleAsync(ctx, func() { g.handler.MessageDelete(ctx, before, ok) })
	}
}

// handleAsync runs a handler in its own goroutine with a panic guard so a
// fault in one channel's processing cannot take down the event loop.
func (g *Gateway) handleAsync(ctx context.Context, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				g.log.Error("event handler panicked", zap.Any("panic", r))
			}
		}()
		select {
		case <-ctx.Done():
			return
		default:
		}
		fn()
	}()
}
