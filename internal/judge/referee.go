package judge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrUnavailable reports that the judge call failed, timed out, or
// returned something unparseable. Callers must not treat it as either an
// acceptance or a rejection: session state stays untouched and the same
// move may be resubmitted.
var ErrUnavailable = errors.New("judge unavailable")

// Verdict is the referee's ruling on a candidate move.
type Verdict struct {
	Accepted bool
	Critique string // set on rejection, relayed to the player verbatim
}

// refereePrompt instructs the model to act as a strict grammar checker:
// accept any string made of real lexemes in a well-formed arrangement, no
// matter how absurd, and reject only nonsense, with a short taunt.
const refereePrompt = `你現在不是人類導師，而是一個【嚴格的中文語法結構檢測機】。

使用者輸入：「%s」

你的任務是判斷：**這串文字的「詞彙」是否存在？且「排列結構」是否符合中文語法？**

【最高指導原則 - 絕對不要做的事】：
1. ❌ **絕對不要** 檢查現實邏輯！不要管龍是否真的存在，不要管混凝土能不能吃。
2. ❌ **絕對不要** 因為「不夠真實」或「像是科幻情節」而拒絕。
3. ❌ **絕對不要** 當科普老師。

【審核標準】：
1. ✅ **通過 (YES)**：只要詞彙真實存在，且排列符合中文文法，**即使邏輯荒謬也要通過**。
   範例通過：「龍棲息在地上」、「義大利麵拌42號混凝土」、「我把太陽一口吞了」
2. ❌ **不通過 (NO)**：只有在「詞彙根本不存在（亂打）」或「文法完全破碎」時才拒絕。
   範例拒絕：「能季去次」、「大大大吃吃吃」、「森林跑去兔子」、「上米」、「什好」
3. 注意：如「游泳」、「喜歡」可以是名詞也能是動詞，詞性請根據上下文判斷。

【回應格式】：
1. 通過 -> 只回傳 "YES"。
2. 不通過 -> 回傳 "NO" 並且「狠狠地酸他一句」(酸他的"詞彙貧乏"或"亂打字"，字數限制20~35字)。`

// Referee validates candidate moves through an LLM. Stateless: every call
// is independent and carries its own timeout.
type Referee struct {
	llm     LLMClient
	timeout time.Duration
	log     *zap.Logger
}

// NewReferee wraps an LLM client. timeout bounds each Judge call so a
// stalled provider cannot hold a channel's serialization forever.
func NewReferee(llm LLMClient, timeout time.Duration, log *zap.Logger) *Referee {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Referee{llm: llm, timeout: timeout, log: log}
}

// Judge asks the model whether candidate is a real, well-formed string.
// previous is informational only; the structural chain rules have already
// run by the time the referee is consulted.
func (r *Referee) Judge(ctx context.Context, candidate, previous string) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	reply, err := r.llm.Complete(ctx, fmt.Sprintf(refereePrompt, candidate))
	if err != nil {
		r.log.Warn("judge call failed",
			zap.String("candidate", candidate), zap.Error(err))
		return Verdict{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return parseVerdict(reply)
}

// parseVerdict interprets the YES/NO head of the model reply. Anything
// else counts as unavailable, never as a ruling.
func parseVerdict(reply string) (Verdict, error) {
	trimmed := strings.TrimSpace(reply)
	switch {
	case strings.HasPrefix(trimmed, "YES"):
		return Verdict{Accepted: true}, nil
	case strings.HasPrefix(trimmed, "NO"):
		critique := strings.TrimPrefix(trimmed, "NO")
		critique = strings.TrimLeft(critique, ",，:： \t\n")
		return Verdict{Accepted: false, Critique: strings.TrimSpace(critique)}, nil
	default:
		return Verdict{}, fmt.Errorf("%w: unparseable reply %q", ErrUnavailable, truncate(trimmed, 80))
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
