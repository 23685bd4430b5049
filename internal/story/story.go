// Package story turns the accepted words of the word-chain channels into
// a daily absurdist short story and posts it to each guild's story channel.
package story

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"chainbot/internal/judge"
	"chainbot/internal/platform"
	"chainbot/internal/session"
)

// Platform is the slice of the Discord client the generator uses.
type Platform interface {
	ChannelsByTopic(topic string) []platform.Channel
	RecentMessages(ctx context.Context, channelID string, limit int) ([]platform.Message, error)
	MessagesBefore(ctx context.Context, channelID, beforeID string, limit int) ([]platform.Message, error)
	SendEmbed(ctx context.Context, channelID, content string, embed platform.Embed) (string, error)
}

// Story length bounds: 50 characters per collected word, clamped.
const (
	charsPerWord   = 50
	minStoryLength = 200
	maxStoryLength = 2000
)

// maxScanPages bounds the 24h history walk per channel.
const maxScanPages = 20

const dailyPromptTemplate = `【角色設定】：你是一位擅長一本正經胡說八道的說書人。

【任務】：請將以下「指定詞彙」串連起來，編寫一個短篇故事。

【指定詞彙】：%s

【寫作規則】：
1. **風格要求**：故事必須充滿「荒謬的邏輯性」，用非常嚴肅、理所當然的語氣把離譜的劇情講得頭頭是道。
2. **禁止事項**：**絕對不要**提到「說書人」、「作者」或「接龍」等詞彙，不要打破第四面牆。
3. **詞彙運用**：必須包含所有指定詞彙，自然融入，不要像在列清單。
4. **字數限制**：大約 %d 字。
5. **幽默感**：加入諷刺或意想不到的反轉。
6. **結尾**：故事結束了就結束了，不要加入結語。
現在，請直接開始講故事：`

const testPromptTemplate = `請根據以下詞彙寫一個超現實短篇故事：%s`

// Generator collects accepted words and produces stories.
type Generator struct {
	pf  Platform
	llm judge.LLMClient
	log *zap.Logger

	hour          int
	minute        int
	loc           *time.Location
	testWordLimit int
}

// Config carries the schedule settings.
type Config struct {
	Hour          int
	Minute        int
	Location      *time.Location
	TestWordLimit int
}

// NewGenerator creates a story generator.
func NewGenerator(pf Platform, llm judge.LLMClient, cfg Config, log *zap.Logger) *Generator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.TestWordLimit <= 0 {
		cfg.TestWordLimit = 10
	}
	return &Generator{
		pf:            pf,
		llm:           llm,
		log:           log,
		hour:          cfg.Hour,
		minute:        cfg.Minute,
		loc:           cfg.Location,
		testWordLimit: cfg.TestWordLimit,
	}
}

// Run fires GenerateDaily at the configured local time every day until
// the context is canceled.
func (g *Generator) Run(ctx context.Context) error {
	for {
		next := nextRun(time.Now().In(g.loc), g.hour, g.minute)
		g.log.Info("next story scheduled", zap.Time("at", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		g.GenerateDaily(ctx)
	}
}

// nextRun returns the next occurrence of hh:mm after now, in now's
// location.
func nextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// GenerateDaily collects the past 24 hours of accepted words from every
// game channel and posts a story to the matching guild's story channel.
func (g *Generator) GenerateDaily(ctx context.Context) {
	storyByGuild := make(map[string]platform.Channel)
	for _, ch := range g.pf.ChannelsByTopic(session.TopicStory) {
		if _, ok := storyByGuild[ch.GuildID]; !ok {
			storyByGuild[ch.GuildID] = ch
		}
	}
	if len(storyByGuild) == 0 {
		g.log.Info("no story channels, skipping daily story")
		return
	}

	gameChannels := g.pf.ChannelsByTopic(session.TopicGame)
	if len(gameChannels) == 0 {
		g.log.Info("no game channels, skipping daily story")
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	for _, src := range gameChannels {
		out, ok := storyByGuild[src.GuildID]
		if !ok {
			continue
		}

		words, err := g.collectWordsSince(ctx, src.ID, since)
		if err != nil {
			g.log.Warn("history scan failed",
				zap.String("channel", src.ID), zap.Error(err))
			continue
		}
		if len(words) == 0 {
			continue
		}

		story, err := g.compose(ctx, words)
		if err != nil {
			g.log.Warn("story generation failed",
				zap.String("channel", src.ID), zap.Error(err))
			continue
		}

		yesterday := time.Now().In(g.loc).AddDate(0, 0, -1)
		embed := platform.Embed{
			Title:       fmt.Sprintf("📜 %s 的宇宙故事", yesterday.Format("01/02")),
			Description: story,
			Color:       0xFFD700,
			Footer: &platform.EmbedFooter{
				Text: fmt.Sprintf("擷取自 #%s • 共 %d 個詞", src.Name, len(words)),
			},
		}
		if _, err := g.pf.SendEmbed(ctx, out.ID, "", embed); err != nil {
			g.log.Warn("story post failed", zap.String("channel", out.ID), zap.Error(err))
		}
	}
}

// TestStory collects the latest accepted words across the guild's game
// and story-test channels and returns a one-off story.
func (g *Generator) TestStory(ctx context.Context, guildID string) (string, int, error) {
	var channels []platform.Channel
	for _, topic := range []string{session.TopicGame, session.TopicStoryTest} {
		for _, ch := range g.pf.ChannelsByTopic(topic) {
			if ch.GuildID == guildID {
				channels = append(channels, ch)
			}
		}
	}
	if len(channels) == 0 {
		return "", 0, fmt.Errorf("no game channels in guild %s", guildID)
	}

	var words []string
	for _, ch := range channels {
		if len(words) >= g.testWordLimit {
			break
		}
		msgs, err := g.pf.RecentMessages(ctx, ch.ID, 100)
		if err != nil {
			g.log.Warn("test scan failed", zap.String("channel", ch.ID), zap.Error(err))
			continue
		}
		for _, msg := range msgs {
			if len(words) >= g.testWordLimit {
				break
			}
			if acceptedWord(msg) {
				words = append(words, msg.Word())
			}
		}
	}
	if len(words) == 0 {
		return "", 0, fmt.Errorf("no accepted words found")
	}

	reply, err := g.llm.Complete(ctx, fmt.Sprintf(testPromptTemplate, strings.Join(words, "、")))
	if err != nil {
		return "", 0, fmt.Errorf("story generation: %w", err)
	}
	return reply, len(words), nil
}

// collectWordsSince pages backwards through a channel until messages are
// older than since, gathering accepted words newest first.
func (g *Generator) collectWordsSince(ctx context.Context, channelID string, since time.Time) ([]string, error) {
	var words []string
	var beforeID string

	for page := 0; page < maxScanPages; page++ {
		var msgs []platform.Message
		var err error
		if beforeID == "" {
			msgs, err = g.pf.RecentMessages(ctx, channelID, 100)
		} else {
			msgs, err = g.pf.MessagesBefore(ctx, channelID, beforeID, 100)
		}
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			return words, nil
		}

		for _, msg := range msgs {
			if !msg.Timestamp.IsZero() && msg.Timestamp.Before(since) {
				return words, nil
			}
			if acceptedWord(msg) {
				words = append(words, msg.Word())
			}
		}
		beforeID = msgs[len(msgs)-1].ID
	}
	return words, nil
}

func acceptedWord(msg platform.Message) bool {
	return !msg.Author.Bot && msg.HasOwnReaction(platform.MarkerAccept)
}

// compose builds the daily prompt and asks the model for the story.
func (g *Generator) compose(ctx context.Context, words []string) (string, error) {
	target := len(words) * charsPerWord
	if target < minStoryLength {
		target = minStoryLength
	}
	if target > maxStoryLength {
		target = maxStoryLength
	}
	prompt := fmt.Sprintf(dailyPromptTemplate, strings.Join(words, "、"), target)
	return g.llm.Complete(ctx, prompt)
}
