// Package ticket implements the support-ticket workflow: private ticket
// channels with permission overwrites, owner bookkeeping, and scheduled
// cleanup of transient notices.
package ticket

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"chainbot/internal/platform"
	"chainbot/internal/session"
)

// Platform is the slice of the Discord client the ticket workflow uses.
type Platform interface {
	SendMessage(ctx context.Context, channelID, content string) (string, error)
	SendEmbed(ctx context.Context, channelID, content string, embed platform.Embed) (string, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	CreateGuildChannel(ctx context.Context, guildID string, params platform.CreateChannelParams) (platform.Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
	EditChannelPermissions(ctx context.Context, channelID string, ow platform.PermissionOverwrite) error
	FindGuildChannelByName(guildID, name string) (platform.Channel, bool)
	ChannelInfo(ctx context.Context, channelID string) (platform.Channel, error)
}

const channelNamePrefix = "客服單："

// Manager drives the ticket lifecycle. Scheduled deletions are owned
// tasks: they are created under the serve context and cancel with it, so
// a delayed delete can never fire against a torn-down bot.
type Manager struct {
	pf      Platform
	store   *session.Store
	isAdmin func(userID string) bool
	log     *zap.Logger

	selfMu sync.RWMutex
	selfID string

	// Tunable in tests.
	hintTTL    time.Duration
	closeDelay time.Duration

	pending sync.WaitGroup
}

// NewManager creates the ticket manager. isAdmin is the administrative
// permission predicate.
func NewManager(pf Platform, store *session.Store, isAdmin func(string) bool, log *zap.Logger) *Manager {
	return &Manager{
		pf:         pf,
		store:      store,
		isAdmin:    isAdmin,
		log:        log,
		hintTTL:    time.Minute,
		closeDelay: 2 * time.Second,
	}
}

// SetSelfID records the bot's own user ID (needed for overwrites).
func (m *Manager) SetSelfID(id string) {
	m.selfMu.Lock()
	defer m.selfMu.Unlock()
	m.selfID = id
}

func (m *Manager) self() string {
	m.selfMu.RLock()
	defer m.selfMu.RUnlock()
	return m.selfID
}

// Wait blocks until pending scheduled tasks finish. Test hook.
func (m *Manager) Wait() { m.pending.Wait() }

// Open creates a ticket channel for the message author. Called for
// `!ticket` in the panel channel. One ticket per user: duplicates get a
// self-deleting hint pointing at the existing channel.
func (m *Manager) Open(ctx context.Context, msg platform.Message) error {
	name := channelName(msg.Author)

	if existing, ok := m.pf.FindGuildChannelByName(msg.GuildID, name); ok {
		hint := fmt.Sprintf("❌ 您已經有一個客服單囉：<#%s>\n(此訊息將在 1 分鐘後自動刪除)", existing.ID)
		hintID, err := m.pf.SendMessage(ctx, msg.ChannelID, hint)
		if err != nil {
			return err
		}
		m.scheduleMessageDelete(ctx, msg.ChannelID, hintID, m.hintTTL)
		return nil
	}

	panel, err := m.pf.ChannelInfo(ctx, msg.ChannelID)
	if err != nil {
		return fmt.Errorf("resolve panel channel: %w", err)
	}

	viewSend := strconv.Itoa(platform.PermViewChannel | platform.PermSendMessages)
	params := platform.CreateChannelParams{
		Name:     name,
		Type:     platform.ChannelTypeGuildText,
		ParentID: panel.ParentID,
		PermissionOverwrites: []platform.PermissionOverwrite{
			// @everyone role shares the guild ID; hide the channel.
			{ID: msg.GuildID, Type: platform.OverwriteRole, Deny: strconv.Itoa(platform.PermViewChannel)},
			{ID: msg.Author.ID, Type: platform.OverwriteMember, Allow: viewSend},
			{ID: m.self(), Type: platform.OverwriteMember, Allow: viewSend},
		},
	}
	ch, err := m.pf.CreateGuildChannel(ctx, msg.GuildID, params)
	if err != nil {
		return fmt.Errorf("create ticket channel: %w", err)
	}

	s := m.store.GetOrCreate(ch.ID)
	s.Lock()
	s.TicketOwnerID = msg.Author.ID
	s.Unlock()

	now := time.Now().Format("2006-01-02 15:04:05")
	info := platform.Embed{
		Title:       "新的客服單已開啟",
		Description: "請稍候，管理員將會盡快為您服務。",
		Color:       0xdc8f65,
		Fields: []platform.EmbedField{{
			Name:  "🥜 詳細資料",
			Value: fmt.Sprintf("╰ 開啟者: %s\n╰ 開啟時間: %s", msg.Author.DisplayName(), now),
		}},
	}
	if _, err := m.pf.SendEmbed(ctx, ch.ID, "", info); err != nil {
		m.log.Warn("ticket info panel failed", zap.Error(err))
	}

	admin := platform.Embed{
		Title:       "🔒 管理員控制台",
		Description: "問題解決後，管理員請輸入 `!close` 關閉此頻道。",
		Color:       0xdc8f65,
	}
	if _, err := m.pf.SendEmbed(ctx, ch.ID, "", admin); err != nil {
		m.log.Warn("ticket admin panel failed", zap.Error(err))
	}

	leave := platform.Embed{
		Description: "如果您不需要協助了，可以輸入 `!leave` 直接**退出**此頻道。\n(頻道不會被刪除，管理員仍可看到內容)",
		Color:       0x3498db,
	}
	if _, err := m.pf.SendEmbed(ctx, ch.ID, mention(msg.Author.ID), leave); err != nil {
		m.log.Warn("ticket leave panel failed", zap.Error(err))
	}

	temp := platform.Embed{
		Description: fmt.Sprintf("🛑 **%s 專用選項**\n在您**開始對話前**，若發現誤觸，可輸入 `!close` 直接關閉房間。\n(此提示將在您發言後自動消失)", mention(msg.Author.ID)),
		Color:       0xff0000,
	}
	tempID, err := m.pf.SendEmbed(ctx, ch.ID, mention(msg.Author.ID), temp)
	if err != nil {
		m.log.Warn("ticket temp notice failed", zap.Error(err))
	} else {
		s.Lock()
		s.TempMessageID = tempID
		s.Unlock()
	}

	confirmID, err := m.pf.SendMessage(ctx, msg.ChannelID,
		"✅ 客服單已建立。\n(此訊息將在 1 分鐘後自動刪除)")
	if err == nil {
		m.scheduleMessageDelete(ctx, msg.ChannelID, confirmID, m.hintTTL)
	}
	m.log.Info("ticket opened",
		zap.String("channel", ch.ID), zap.String("owner", msg.Author.ID))
	return nil
}

// OnMessage removes the temporary close notice once the ticket owner has
// actually started talking.
func (m *Manager) OnMessage(ctx context.Context, msg platform.Message) {
	s := m.store.GetOrCreate(msg.ChannelID)
	s.Lock()
	owner, tempID := s.TicketOwnerID, s.TempMessageID
	if owner == "" || owner != msg.Author.ID || tempID == "" {
		s.Unlock()
		return
	}
	s.TempMessageID = ""
	s.Unlock()

	if err := m.pf.DeleteMessage(ctx, msg.ChannelID, tempID); err != nil {
		m.log.Debug("temp notice already gone", zap.Error(err))
	}
}

// Close tears down a ticket channel. Admins and the ticket owner may
// close; anyone else is refused.
func (m *Manager) Close(ctx context.Context, msg platform.Message) {
	s := m.store.GetOrCreate(msg.ChannelID)
	s.Lock()
	owner := s.TicketOwnerID
	s.Unlock()
	if owner == "" {
		return // not a ticket channel
	}
	if !m.isAdmin(msg.Author.ID) && msg.Author.ID != owner {
		_, _ = m.pf.SendMessage(ctx, msg.ChannelID, "❌ 只有管理員或開單者可以關閉客服單！")
		return
	}

	_, _ = m.pf.SendMessage(ctx, msg.ChannelID, "🔒 客服單關閉中...")
	m.scheduleChannelDelete(ctx, msg.ChannelID, m.closeDelay)
}

// Leave hides the ticket channel from a non-admin participant. The
// channel itself survives for the audit trail.
func (m *Manager) Leave(ctx context.Context, msg platform.Message) {
	s := m.store.GetOrCreate(msg.ChannelID)
	s.Lock()
	owner := s.TicketOwnerID
	s.Unlock()
	if owner == "" {
		return
	}
	if m.isAdmin(msg.Author.ID) {
		_, _ = m.pf.SendMessage(ctx, msg.ChannelID, "❌ 您是管理員，無法退出頻道 (權限最高級)。")
		return
	}

	notice := platform.Embed{
		Description: fmt.Sprintf("👋 **%s** 已自行退出此客服單。", mention(msg.Author.ID)),
		Color:       0x99aab5,
	}
	if _, err := m.pf.SendEmbed(ctx, msg.ChannelID, "", notice); err != nil {
		m.log.Warn("leave notice failed", zap.Error(err))
	}
	ow := platform.PermissionOverwrite{
		ID:   msg.Author.ID,
		Type: platform.OverwriteMember,
		Deny: strconv.Itoa(platform.PermViewChannel),
	}
	if err := m.pf.EditChannelPermissions(ctx, msg.ChannelID, ow); err != nil {
		m.log.Warn("leave overwrite failed", zap.Error(err))
	}
}

// IsTicketChannel reports whether the channel has a recorded ticket owner.
func (m *Manager) IsTicketChannel(channelID string) bool {
	s := m.store.GetOrCreate(channelID)
	s.Lock()
	defer s.Unlock()
	return s.TicketOwnerID != ""
}

func (m *Manager) scheduleMessageDelete(ctx context.Context, channelID, messageID string, delay time.Duration) {
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			if err := m.pf.DeleteMessage(ctx, channelID, messageID); err != nil {
				m.log.Debug("scheduled delete failed", zap.Error(err))
			}
		}
	}()
}

func (m *Manager) scheduleChannelDelete(ctx context.Context, channelID string, delay time.Duration) {
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			if err := m.pf.DeleteChannel(ctx, channelID); err != nil {
				m.log.Warn("ticket channel delete failed", zap.Error(err))
			}
		}
	}()
}

func channelName(u platform.User) string {
	return channelNamePrefix + strings.ToLower(u.DisplayName())
}

func mention(userID string) string {
	return "<@" + userID + ">"
}
