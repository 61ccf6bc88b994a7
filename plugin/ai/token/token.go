// Package token estimates LLM token usage for mixed Chinese/English text.
package token

import "github.com/hrygo/groupmind/store"

// MessageOverhead is the fixed framing cost of one chat message (role markers, separators).
const MessageOverhead = 4

// Estimate returns an approximate token count for text.
// Heuristic: CJK and other non-ASCII runes ~2 tokens each, ASCII ~0.25 tokens per byte.
// Non-empty text never counts as zero.
func Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}

	wide, ascii := 0, 0
	for _, r := range text {
		if r < 128 {
			ascii++
		} else {
			wide++
		}
	}

	tokens := wide*2 + ascii/4
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// EstimateMessage returns the token cost of one message including framing.
// A sender name is rendered into the prompt and is charged its own overhead.
func EstimateMessage(content, senderName string) int {
	n := Estimate(content) + MessageOverhead
	if senderName != "" {
		n += Estimate(senderName) + MessageOverhead
	}
	return n
}

// EstimateMessages sums EstimateMessage over a conversation.
func EstimateMessages(msgs []*store.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessage(m.Content, m.SenderName)
	}
	return total
}
