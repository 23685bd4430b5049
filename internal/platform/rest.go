package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const defaultAPIBase = "https://discord.com/api/v10"

// maximum length Discord accepts for a message body, in characters.
const maxMessageLen = 2000

// Client is the Discord REST client. It also owns the message cache and
// the channel registry so that REST-side effects (annotations, topic
// edits) stay consistent with what the gateway has seen.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
	cache   *MessageCache
	reg     *channelRegistry
	log     *zap.Logger
}

// NewClient creates a REST client for a bot token. cacheSize bounds the
// edit/delete resolution cache; zero or negative selects the default.
func NewClient(token string, cacheSize int, log *zap.Logger) *Client {
	return &Client{
		token:   token,
		baseURL: defaultAPIBase,
		http:    &http.Client{Timeout: 15 * time.Second},
		cache:   NewMessageCache(cacheSize),
		reg:     newChannelRegistry(),
		log:     log,
	}
}

// Cache exposes the message cache (the gateway feeds it).
func (c *Client) Cache() *MessageCache { return c.cache }

func (c *Client) request(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("discord api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("discord api %s %s: %d %s", method, path, resp.StatusCode, string(respBody))
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("discord api %s %s: decode: %w", method, path, err)
		}
	}
	return nil
}

// SendMessage posts plain text to a channel and returns the message ID.
// Discord's limit counts characters, so truncation works on runes.
func (c *Client) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	if runes := []rune(content); len(runes) > maxMessageLen {
		content = string(runes[:maxMessageLen-3]) + "..."
	}
	var msg Message
	err := c.request(ctx, http.MethodPost,
		fmt.Sprintf("/channels/%s/messages", channelID),
		map[string]string{"content": content}, &msg)
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

// SendEmbed posts a rich embed, optionally with leading text content.
func (c *Client) SendEmbed(ctx context.Context, channelID, content string, embed Embed) (string, error) {
	payload := map[string]any{"embeds": []Embed{embed}}
	if content != "" {
		payload["content"] = content
	}
	var msg Message
	err := c.request(ctx, http.MethodPost,
		fmt.Sprintf("/channels/%s/messages", channelID), payload, &msg)
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

// AddReaction attaches an emoji annotation to a message. Accept markers
// are mirrored into the cache so later edit/delete events can see them.
func (c *Client) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	err := c.request(ctx, http.MethodPut,
		fmt.Sprintf("/channels/%s/messages/%s/reactions/%s/@me",
			channelID, messageID, url.PathEscape(emoji)), nil, nil)
	if err != nil {
		return err
	}
	if emoji == MarkerAccept {
		c.cache.MarkAccepted(messageID)
	}
	return nil
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return c.request(ctx, http.MethodDelete,
		fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID), nil, nil)
}

// TriggerTyping shows the typing indicator while a slow reply is prepared.
func (c *Client) TriggerTyping(ctx context.Context, channelID string) {
	err := c.request(ctx, http.MethodPost,
		fmt.Sprintf("/channels/%s/typing", channelID), nil, nil)
	if err != nil {
		c.log.Debug("typing indicator failed", zap.String("channel", channelID), zap.Error(err))
	}
}

// RecentMessages fetches up to limit messages, newest first.
func (c *Client) RecentMessages(ctx context.Context, channelID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var msgs []Message
	err := c.request(ctx, http.MethodGet,
		fmt.Sprintf("/channels/%s/messages?limit=%s", channelID, strconv.Itoa(limit)), nil, &msgs)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// MessagesBefore fetches the page of messages older than beforeID, newest
// first. Used by the daily story scan to page back through a day.
func (c *Client) MessagesBefore(ctx context.Context, channelID, beforeID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var msgs []Message
	err := c.request(ctx, http.MethodGet,
		fmt.Sprintf("/channels/%s/messages?limit=%s&before=%s",
			channelID, strconv.Itoa(limit), beforeID), nil, &msgs)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// EditChannelTopic rewrites a channel topic (the mode label).
func (c *Client) EditChannelTopic(ctx context.Context, channelID, topic string) error {
	var ch Channel
	err := c.request(ctx, http.MethodPatch,
		fmt.Sprintf("/channels/%s", channelID), map[string]string{"topic": topic}, &ch)
	if err != nil {
		return err
	}
	c.reg.put(ch)
	return nil
}

// ChannelInfo resolves a channel from the registry, falling back to REST.
func (c *Client) ChannelInfo(ctx context.Context, channelID string) (Channel, error) {
	if ch, ok := c.reg.get(channelID); ok {
		return ch, nil
	}
	var ch Channel
	err := c.request(ctx, http.MethodGet, fmt.Sprintf("/channels/%s", channelID), nil, &ch)
	if err != nil {
		return Channel{}, err
	}
	c.reg.put(ch)
	return ch, nil
}

// ChannelsByTopic lists known text channels whose topic matches exactly.
func (c *Client) ChannelsByTopic(topic string) []Channel {
	return c.reg.byTopic(topic)
}

// FindGuildChannelByName returns a known channel of the guild by name.
func (c *Client) FindGuildChannelByName(guildID, name string) (Channel, bool) {
	return c.reg.byName(guildID, name)
}

// CreateChannelParams describes a guild channel to create.
type CreateChannelParams struct {
	Name                 string                `json:"name"`
	Type                 int                   `json:"type"`
	Topic                string                `json:"topic,omitempty"`
	ParentID             string                `json:"parent_id,omitempty"`
	PermissionOverwrites []PermissionOverwrite `json:"permission_overwrites,omitempty"`
}

// CreateGuildChannel creates a guild channel (ticket rooms).
func (c *Client) CreateGuildChannel(ctx context.Context, guildID string, params CreateChannelParams) (Channel, error) {
	var ch Channel
	err := c.request(ctx, http.MethodPost,
		fmt.Sprintf("/guilds/%s/channels", guildID), params, &ch)
	if err != nil {
		return Channel{}, err
	}
	if ch.GuildID == "" {
		ch.GuildID = guildID
	}
	c.reg.put(ch)
	return ch, nil
}

// DeleteChannel removes a channel (closing a ticket).
func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	err := c.request(ctx, http.MethodDelete, fmt.Sprintf("/channels/%s", channelID), nil, nil)
	if err != nil {
		return err
	}
	c.reg.remove(channelID)
	return nil
}

// EditChannelPermissions writes a permission overwrite for a member or role.
func (c *Client) EditChannelPermissions(ctx context.Context, channelID string, ow PermissionOverwrite) error {
	return c.request(ctx, http.MethodPut,
		fmt.Sprintf("/channels/%s/permissions/%s", channelID, ow.ID),
		map[string]any{"type": ow.Type, "allow": ow.Allow, "deny": ow.Deny}, nil)
}
