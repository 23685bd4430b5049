package story

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"chainbot/internal/platform"
	"chainbot/internal/session"
)

// fakePlatform serves scripted channels and paged history.
type fakePlatform struct {
	channels []platform.Channel
	// pages maps channelID -> pages of messages, newest page first.
	pages  map[string][][]platform.Message
	embeds map[string][]platform.Embed
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		pages:  make(map[string][][]platform.Message),
		embeds: make(map[string][]platform.Embed),
	}
}

func (f *fakePlatform) ChannelsByTopic(topic string) []platform.Channel {
	var out []platform.Channel
	for _, ch := range f.channels {
		if ch.Topic == topic {
			out = append(out, ch)
		}
	}
	return out
}

func (f *fakePlatform) RecentMessages(ctx context.Context, channelID string, limit int) ([]platform.Message, error) {
	pages := f.pages[channelID]
	if len(pages) == 0 {
		return nil, nil
	}
	return pages[0], nil
}

func (f *fakePlatform) MessagesBefore(ctx context.Context, channelID, beforeID string, limit int) ([]platform.Message, error) {
	pages := f.pages[channelID]
	for i, page := range pages {
		if len(page) > 0 && page[len(page)-1].ID == beforeID && i+1 < len(pages) {
			return pages[i+1], nil
		}
	}
	return nil, nil
}

func (f *fakePlatform) SendEmbed(ctx context.Context, channelID, content string, embed platform.Embed) (string, error) {
	f.embeds[channelID] = append(f.embeds[channelID], embed)
	return "embed-id", nil
}

type scriptedLLM struct {
	reply      string
	lastPrompt string
	calls      int
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	s.calls++
	s.lastPrompt = prompt
	return s.reply, nil
}

func (s *scriptedLLM) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return s.Complete(ctx, userPrompt)
}

func acceptedAt(id, word string, ts time.Time) platform.Message {
	return platform.Message{
		ID:        id,
		Author:    platform.User{ID: "alice", Username: "alice"},
		Content:   word,
		Timestamp: platform.Timestamp{Time: ts},
		Reactions: []platform.Reaction{
			{Emoji: platform.Emoji{Name: platform.MarkerAccept}, Me: true},
		},
	}
}

func plainAt(id, content string, ts time.Time) platform.Message {
	return platform.Message{
		ID:        id,
		Author:    platform.User{ID: "bob", Username: "bob"},
		Content:   content,
		Timestamp: platform.Timestamp{Time: ts},
	}
}

func TestNextRun(t *testing.T) {
	loc := time.FixedZone("test", 8*3600)
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			"before today's slot",
			time.Date(2026, 3, 1, 6, 30, 0, 0, loc),
			time.Date(2026, 3, 1, 8, 0, 0, 0, loc),
		},
		{
			"after today's slot",
			time.Date(2026, 3, 1, 9, 0, 0, 0, loc),
			time.Date(2026, 3, 2, 8, 0, 0, 0, loc),
		},
		{
			"exactly at the slot rolls to tomorrow",
			time.Date(2026, 3, 1, 8, 0, 0, 0, loc),
			time.Date(2026, 3, 2, 8, 0, 0, 0, loc),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextRun(tt.now, 8, 0); !got.Equal(tt.want) {
				t.Fatalf("nextRun = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateDaily_PostsPerGuild(t *testing.T) {
	now := time.Now()
	pf := newFakePlatform()
	pf.channels = []platform.Channel{
		{ID: "game1", GuildID: "g1", Name: "接龍", Topic: session.TopicGame},
		{ID: "story1", GuildID: "g1", Name: "故事館", Topic: session.TopicStory},
	}
	pf.pages["game1"] = [][]platform.Message{{
		acceptedAt("m3", "戲劇效果", now.Add(-1*time.Hour)),
		plainAt("m2", "沒被接受的", now.Add(-2*time.Hour)),
		acceptedAt("m1", "接龍遊戲", now.Add(-3*time.Hour)),
	}}
	llm := &scriptedLLM{reply: "從前有一條龍。"}

	g := NewGenerator(pf, llm, Config{Hour: 8}, zap.NewNop())
	g.GenerateDaily(context.Background())

	posts := pf.embeds["story1"]
	if len(posts) != 1 {
		t.Fatalf("expected one story post, got %d", len(posts))
	}
	if posts[0].Description != "從前有一條龍。" {
		t.Fatalf("story body mangled: %q", posts[0].Description)
	}
	if !strings.Contains(posts[0].Footer.Text, "共 2 個詞") {
		t.Fatalf("footer word count wrong: %q", posts[0].Footer.Text)
	}
	if !strings.Contains(llm.lastPrompt, "戲劇效果、接龍遊戲") {
		t.Fatalf("words not joined into the prompt: %q", llm.lastPrompt)
	}
}

func TestGenerateDaily_SkipsWithoutStoryChannel(t *testing.T) {
	pf := newFakePlatform()
	pf.channels = []platform.Channel{
		{ID: "game1", GuildID: "g1", Topic: session.TopicGame},
	}
	llm := &scriptedLLM{reply: "story"}

	g := NewGenerator(pf, llm, Config{}, zap.NewNop())
	g.GenerateDaily(context.Background())

	if llm.calls != 0 {
		t.Fatal("no story channel means no generation")
	}
}

func TestGenerateDaily_SkipsEmptyDay(t *testing.T) {
	pf := newFakePlatform()
	pf.channels = []platform.Channel{
		{ID: "game1", GuildID: "g1", Topic: session.TopicGame},
		{ID: "story1", GuildID: "g1", Topic: session.TopicStory},
	}
	pf.pages["game1"] = [][]platform.Message{{
		acceptedAt("m1", "舊詞", time.Now().Add(-48*time.Hour)),
	}}
	llm := &scriptedLLM{reply: "story"}

	g := NewGenerator(pf, llm, Config{}, zap.NewNop())
	g.GenerateDaily(context.Background())

	if llm.calls != 0 || len(pf.embeds["story1"]) != 0 {
		t.Fatal("a day with no accepted words must not post")
	}
}

func TestCollectWordsSince_PagesUntilCutoff(t *testing.T) {
	now := time.Now()
	pf := newFakePlatform()
	pf.pages["game1"] = [][]platform.Message{
		{
			acceptedAt("m4", "第四", now.Add(-1*time.Hour)),
			acceptedAt("m3", "第三", now.Add(-2*time.Hour)),
		},
		{
			acceptedAt("m2", "第二", now.Add(-3*time.Hour)),
			acceptedAt("m1", "太舊", now.Add(-30*time.Hour)),
		},
	}
	g := NewGenerator(pf, &scriptedLLM{}, Config{}, zap.NewNop())

	words, err := g.collectWordsSince(context.Background(), "game1", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"第四", "第三", "第二"}
	if len(words) != len(want) {
		t.Fatalf("got %v, want %v", words, want)
	}
	for i := range want {
		if words[i] != want[i] {
			t.Fatalf("got %v, want %v", words, want)
		}
	}
}

func TestCompose_ClampsLength(t *testing.T) {
	tests := []struct {
		words int
		want  int
	}{
		{1, minStoryLength},
		{10, 500},
		{100, maxStoryLength},
	}
	for _, tt := range tests {
		llm := &scriptedLLM{reply: "story"}
		g := NewGenerator(newFakePlatform(), llm, Config{}, zap.NewNop())

		words := make([]string, tt.words)
		for i := range words {
			words[i] = fmt.Sprintf("詞%d", i)
		}
		if _, err := g.compose(context.Background(), words); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(llm.lastPrompt, fmt.Sprintf("大約 %d 字", tt.want)) {
			t.Fatalf("%d words: prompt missing target %d: %q", tt.words, tt.want, llm.lastPrompt)
		}
	}
}

func TestTestStory_HonorsWordLimit(t *testing.T) {
	now := time.Now()
	pf := newFakePlatform()
	pf.channels = []platform.Channel{
		{ID: "game1", GuildID: "g1", Topic: session.TopicGame},
	}
	var page []platform.Message
	for i := 0; i < 20; i++ {
		page = append(page, acceptedAt(fmt.Sprintf("m%d", 20-i), fmt.Sprintf("詞%d", i), now))
	}
	pf.pages["game1"] = [][]platform.Message{page}
	llm := &scriptedLLM{reply: "測試故事"}

	g := NewGenerator(pf, llm, Config{TestWordLimit: 5}, zap.NewNop())
	text, count, err := g.TestStory(context.Background(), "g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "測試故事" || count != 5 {
		t.Fatalf("got text=%q count=%d", text, count)
	}
}

func TestTestStory_NoChannels(t *testing.T) {
	g := NewGenerator(newFakePlatform(), &scriptedLLM{}, Config{}, zap.NewNop())
	if _, _, err := g.TestStory(context.Background(), "g1"); err == nil {
		t.Fatal("expected error for a guild with no game channels")
	}
}

func TestTestStory_NoAcceptedWords(t *testing.T) {
	pf := newFakePlatform()
	pf.channels = []platform.Channel{
		{ID: "game1", GuildID: "g1", Topic: session.TopicGame},
	}
	pf.pages["game1"] = [][]platform.Message{{
		plainAt("m1", "沒有反應的訊息", time.Now()),
	}}
	g := NewGenerator(pf, &scriptedLLM{}, Config{}, zap.NewNop())
	if _, _, err := g.TestStory(context.Background(), "g1"); err == nil {
		t.Fatal("expected error when no accepted words exist")
	}
}
