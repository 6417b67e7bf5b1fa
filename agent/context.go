// Context assembly, token accounting and history compaction
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/gliderlab/coagent/pkg/llm"
	"github.com/gliderlab/coagent/storage"
)

// tokenCounter is a package-level tiktoken instance for accurate counting
var (
	tokenCounter     *tiktoken.Tiktoken
	tokenCounterOnce sync.Once
)

func initTokenCounter() {
	tokenCounterOnce.Do(func() {
		// cl100k_base covers the GPT-4 family; close enough for budgeting
		// on other models
		tk, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Printf("[WARN] token estimation will use fallback method: %v", err)
			return
		}
		tokenCounter = tk
	})
}

// countTokens estimates tokens in a string, BPE when available
func countTokens(s string) int {
	initTokenCounter()
	if tokenCounter != nil {
		return len(tokenCounter.Encode(s, nil, nil))
	}

	// Fallback: ASCII ~4 chars/token, non-ASCII (e.g. CJK) ~2 tokens/char
	ascii, nonASCII := 0, 0
	for _, r := range s {
		if r <= 127 {
			ascii++
		} else {
			nonASCII++
		}
	}
	return ascii/4 + nonASCII*2 + 4
}

func estimateStoredTokens(messages []storage.Message) int {
	total := 0
	for _, m := range messages {
		total += countTokens(m.Content)
	}
	return total
}

// assembleContext builds the provider message list: system prompt,
// recalled memories, then persisted history (which already includes the
// just-stored user message).
func (a *Agent) assembleContext(ctx context.Context, input string) []llm.Message {
	var messages []llm.Message

	if a.cfg.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: a.cfg.SystemPrompt})
	}

	if a.memory != nil {
		if recalled := a.recallMemories(ctx, input); recalled != "" {
			messages = append(messages, llm.Message{Role: "system", Content: recalled})
		}
	}

	// Compaction summary precedes the surviving verbatim history
	if a.store != nil {
		if summary, err := a.store.GetConfig("session:"+a.cfg.SessionKey, "summary"); err == nil && summary != "" {
			messages = append(messages, llm.Message{Role: "system", Content: summary})
		}
	}

	if a.store != nil {
		stored, err := a.store.GetMessages(a.cfg.SessionKey, 200)
		if err != nil {
			log.Printf("[WARN] failed to load history: %v", err)
		}
		messages = append(messages, replayHistory(stored)...)
	}

	if len(messages) == 0 || a.store == nil {
		messages = append(messages, llm.Message{Role: "user", Content: input})
	}
	return messages
}

// replayHistory converts stored messages to provider messages. Providers
// require every tool response to follow an assistant message listing its
// call id, and every listed call to have a response. Fragments that lost
// their counterpart (a compaction cut or a cancelled turn) are replayed
// as content only, or dropped.
func replayHistory(stored []storage.Message) []llm.Message {
	var out []llm.Message
	for i := 0; i < len(stored); {
		m := stored[i]

		if m.Role == "tool" {
			// Response with no surviving requesting message
			i++
			continue
		}
		if m.Role != "assistant" || m.ToolCalls == "" {
			out = append(out, llm.Message{Role: m.Role, Content: m.Content})
			i++
			continue
		}

		var calls []llm.ToolCall
		if err := json.Unmarshal([]byte(m.ToolCalls), &calls); err != nil || len(calls) == 0 {
			if m.Content != "" {
				out = append(out, llm.Message{Role: "assistant", Content: m.Content})
			}
			i++
			continue
		}

		// Collect the contiguous run of tool responses that follows
		responses := make(map[string]storage.Message, len(calls))
		j := i + 1
		for j < len(stored) && stored[j].Role == "tool" {
			responses[stored[j].ToolCallID] = stored[j]
			j++
		}
		complete := true
		for _, c := range calls {
			if _, ok := responses[c.ID]; !ok {
				complete = false
				break
			}
		}
		if complete {
			out = append(out, llm.Message{Role: "assistant", Content: m.Content, ToolCalls: calls})
			for _, c := range calls {
				r := responses[c.ID]
				out = append(out, llm.Message{Role: "tool", Content: r.Content, ToolCallID: c.ID})
			}
		} else if m.Content != "" {
			out = append(out, llm.Message{Role: "assistant", Content: m.Content})
		}
		i = j
	}
	return out
}

// recallMemories formats relevant memories as a system note
func (a *Agent) recallMemories(ctx context.Context, input string) string {
	limit := a.cfg.RecallLimit
	if limit <= 0 {
		limit = 3
	}
	results, err := a.memory.Search(ctx, input, limit, float32(a.cfg.RecallMinScore))
	if err != nil {
		log.Printf("[WARN] memory recall failed: %v", err)
		return ""
	}
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Relevant memories:\n")
	for _, r := range results {
		fmt.Fprintf(&sb, "- [%s] %s\n", r.Entry.Category, r.Entry.Text)
	}
	log.Printf("[KV] recall injected %d memories", len(results))
	return sb.String()
}

// maybeCompact folds old history into a summary message when the stored
// conversation exceeds the threshold fraction of the context budget. The
// most recent KeepMessages messages survive verbatim.
func (a *Agent) maybeCompact(ctx context.Context) {
	if a.store == nil {
		return
	}

	stored, err := a.store.GetMessages(a.cfg.SessionKey, 500)
	if err != nil || len(stored) <= a.cfg.KeepMessages {
		return
	}

	budget := a.cfg.ContextTokens - a.cfg.ReserveTokens
	used := estimateStoredTokens(stored)
	if float64(used) < a.cfg.CompactionThreshold*float64(budget) {
		return
	}

	cut := len(stored) - a.cfg.KeepMessages
	old := stored[:cut]
	lastOldID := old[len(old)-1].ID

	log.Printf("[CLEAN] compacting %d of %d messages (%d tokens over %.0f%% of %d)",
		cut, len(stored), used, a.cfg.CompactionThreshold*100, budget)

	// History rewrite: keep backups out of the window
	if a.cfg.Backups != nil {
		if err := a.cfg.Backups.Pause(ctx); err != nil {
			log.Printf("[WARN] backup pause failed, compacting anyway: %v", err)
		} else {
			defer a.cfg.Backups.Resume()
		}
	}

	// The summary rides in the config table so assembly can place it
	// before the surviving messages; folding an older summary in keeps
	// repeated compactions lossless-ish.
	summary := summarizeMessages(old)
	if prev, err := a.store.GetConfig("session:"+a.cfg.SessionKey, "summary"); err == nil && prev != "" {
		summary = prev + "\n" + strings.TrimPrefix(summary, "Summary of earlier conversation:")
	}
	if err := a.store.DeleteMessagesBefore(a.cfg.SessionKey, lastOldID); err != nil {
		log.Printf("[WARN] compaction delete failed: %v", err)
		return
	}
	if err := a.store.SetConfig("session:"+a.cfg.SessionKey, "summary", summary); err != nil {
		log.Printf("[WARN] compaction summary write failed: %v", err)
	}
	log.Printf("[OK] compaction done, kept %d messages", a.cfg.KeepMessages)
}

// summarizeMessages builds a plain-text digest of dropped history
func summarizeMessages(msgs []storage.Message) string {
	lines := make([]string, 0, len(msgs)+1)
	lines = append(lines, "Summary of earlier conversation:")
	for _, m := range msgs {
		content := m.Content
		if len(content) > 200 {
			content = content[:200] + "..."
		}
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, content))
	}
	return strings.Join(lines, "\n")
}
