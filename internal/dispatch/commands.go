package dispatch

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"chainbot/internal/platform"
	"chainbot/internal/session"
)

// knownTopics are the labels the bot itself writes; switching a channel
// to idle clears them but leaves operator-written topics alone.
var knownTopics = []string{
	session.TopicGame,
	session.TopicAI,
	session.TopicStoryTest,
	session.TopicTicketPanel,
}

const menuText = `🔧 **管理員控制台**
` + "`!mode idle`" + ` 💤 關閉功能 (掛機)
` + "`!mode game`" + ` 🎮 接龍遊戲
` + "`!mode ai`" + ` 🤖 AI 聊天
` + "`!panel`" + ` 📢 發送客服面板
` + "`!storychannel`" + ` 📜 設定此頻道為故事館
` + "`!storytest`" + ` 🧪 測試故事功能 (抓最新詞彙)`

func (d *Dispatcher) handleCommand(ctx context.Context, msg platform.Message) {
	fields := strings.Fields(msg.Content)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "!menu":
		d.adminOnly(ctx, msg, func() {
			d.reply(ctx, msg.ChannelID, menuText)
		})
	case "!mode":
		d.adminOnly(ctx, msg, func() {
			arg := ""
			if len(fields) > 1 {
				arg = fields[1]
			}
			d.switchMode(ctx, msg.ChannelID, arg)
		})
	case "!panel":
		d.adminOnly(ctx, msg, func() {
			d.setupPanel(ctx, msg.ChannelID)
		})
	case "!storychannel":
		d.adminOnly(ctx, msg, func() {
			d.setupStoryChannel(ctx, msg.ChannelID)
		})
	case "!storytest":
		d.adminOnly(ctx, msg, func() {
			d.runStoryTest(ctx, msg)
		})
	case "!ticket":
		d.openTicket(ctx, msg)
	case "!close":
		if d.tickets != nil {
			d.tickets.Close(ctx, msg)
		}
	case "!leave":
		if d.tickets != nil {
			d.tickets.Leave(ctx, msg)
		}
	}
}

func (d *Dispatcher) adminOnly(ctx context.Context, msg platform.Message, fn func()) {
	if !d.IsAdmin(msg.Author.ID) {
		d.reply(ctx, msg.ChannelID, "❌ 只有管理員可以使用此指令！")
		return
	}
	fn()
}

// switchMode is the administrative mode selection. Entering game mode
// always starts a fresh chain; restart recovery is the only path that
// repopulates it instead.
func (d *Dispatcher) switchMode(ctx context.Context, channelID, arg string) {
	s := d.sessions.GetOrCreate(channelID)

	switch arg {
	case "game":
		s.Lock()
		s.Mode = session.ModeGame
		s.ResetChain()
		s.Unlock()
		d.ensureTopic(ctx, channelID, session.TopicGame)
		d.reply(ctx, channelID, "✅ 已切換為：**接龍遊戲模式**")

	case "ai":
		s.Lock()
		s.Mode = session.ModeAI
		s.ResetChain()
		s.Unlock()
		d.ensureTopic(ctx, channelID, session.TopicAI)
		d.reply(ctx, channelID, "✅ 已切換為：**AI 聊天模式**")

	case "idle":
		s.Lock()
		s.Mode = session.ModeIdle
		s.ResetChain()
		s.Unlock()
		d.clearKnownTopic(ctx, channelID)
		d.reply(ctx, channelID, "💤 功能已關閉。")

	default:
		d.reply(ctx, channelID, "用法：`!mode <idle|game|ai>`")
	}
}

func (d *Dispatcher) setupPanel(ctx context.Context, channelID string) {
	d.ensureTopic(ctx, channelID, session.TopicTicketPanel)

	s := d.sessions.GetOrCreate(channelID)
	s.Lock()
	s.Mode = session.ModeIdle
	s.ResetChain()
	s.Unlock()

	embed := platform.Embed{
		Title:       "如果您需要幫助或有任何問題，請輸入 `!ticket` 開啟客服單。",
		Description: "Type `!ticket` to open a ticket.",
		Color:       0x2b2d31,
	}
	if _, err := d.pf.SendEmbed(ctx, channelID, "", embed); err != nil {
		d.log.Warn("panel post failed", zap.Error(err))
		return
	}
	d.reply(ctx, channelID, "✅ 已發送客服面板！")
}

func (d *Dispatcher) setupStoryChannel(ctx context.Context, channelID string) {
	if err := d.pf.EditChannelTopic(ctx, channelID, session.TopicStory); err != nil {
		d.log.Warn("story channel setup failed", zap.Error(err))
		d.reply(ctx, channelID, "❌ 設定失敗")
		return
	}
	d.reply(ctx, channelID, "✅ 設定成功！")
}

func (d *Dispatcher) runStoryTest(ctx context.Context, msg platform.Message) {
	if d.stories == nil {
		return
	}
	d.ensureTopic(ctx, msg.ChannelID, session.TopicStoryTest)
	d.reply(ctx, msg.ChannelID, "✅ 抓取中，正在生成...")

	text, count, err := d.stories.TestStory(ctx, msg.GuildID)
	if err != nil {
		d.log.Warn("story test failed", zap.Error(err))
		d.reply(ctx, msg.ChannelID, fmt.Sprintf("❌ 故事生成失敗：%v", err))
		return
	}
	embed := platform.Embed{
		Title:       "🧪 故事測試",
		Description: text,
		Color:       0x00FFFF,
		Footer:      &platform.EmbedFooter{Text: fmt.Sprintf("共 %d 個詞", count)},
	}
	if _, err := d.pf.SendEmbed(ctx, msg.ChannelID, "", embed); err != nil {
		d.log.Warn("story test post failed", zap.Error(err))
	}
}

// openTicket accepts `!ticket` only in a panel channel.
func (d *Dispatcher) openTicket(ctx context.Context, msg platform.Message) {
	if d.tickets == nil {
		return
	}
	ch, err := d.pf.ChannelInfo(ctx, msg.ChannelID)
	if err != nil || ch.Topic != session.TopicTicketPanel {
		return
	}
	if err := d.tickets.Open(ctx, msg); err != nil {
		d.log.Warn("ticket open failed", zap.Error(err))
		d.reply(ctx, msg.ChannelID, fmt.Sprintf("❌ 建立失敗：%v", err))
	}
}

// ensureTopic writes the label only when it differs, to avoid burning
// channel-edit rate limits.
func (d *Dispatcher) ensureTopic(ctx context.Context, channelID, topic string) {
	ch, err := d.pf.ChannelInfo(ctx, channelID)
	if err == nil && ch.Topic == topic {
		return
	}
	if err := d.pf.EditChannelTopic(ctx, channelID, topic); err != nil {
		d.log.Warn("topic edit failed", zap.String("channel", channelID), zap.Error(err))
	}
}

func (d *Dispatcher) clearKnownTopic(ctx context.Context, channelID string) {
	ch, err := d.pf.ChannelInfo(ctx, channelID)
	if err != nil {
		return
	}
	for _, topic := range knownTopics {
		if ch.Topic == topic {
			if err := d.pf.EditChannelTopic(ctx, channelID, ""); err != nil {
				d.log.Warn("topic clear failed", zap.String("channel", channelID), zap.Error(err))
			}
			return
		}
	}
}

func (d *Dispatcher) reply(ctx context.Context, channelID, content string) {
	if _, err := d.pf.SendMessage(ctx, channelID, content); err != nil {
		d.log.Warn("reply failed", zap.String("channel", channelID), zap.Error(err))
	}
}
