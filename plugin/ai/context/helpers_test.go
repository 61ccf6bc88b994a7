package context

import (
	"fmt"
	"strings"
	"time"

	"github.com/hrygo/groupmind/store"
)

var testBase = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

// newMsg builds a message whose content costs exactly 10 tokens (14 with framing).
func newMsg(i int, role store.Role) *store.Message {
	return &store.Message{
		ID:        fmt.Sprintf("m%03d", i),
		GroupID:   "g1",
		Role:      role,
		Mode:      "chat",
		Content:   fmt.Sprintf("%03d", i) + strings.Repeat("x", 37),
		CreatedAt: testBase.Add(time.Duration(i) * time.Minute),
	}
}

func scored(m *store.Message, score float64) *store.Message {
	m.ValueScore = &score
	return m
}

func ids(msgs []*store.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
