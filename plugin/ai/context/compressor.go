package context

import (
	"context"
	"log/slog"
	"sort"

	"github.com/hrygo/groupmind/store"
)

const (
	// DefaultKeepRecent is the number of trailing messages never compressed.
	DefaultKeepRecent = 5
	// DefaultMaxSummaryBatch caps the messages folded into one summary.
	DefaultMaxSummaryBatch = 50

	summarySenderName = "history summary"
	summaryIDPrefix   = "summary_"
)

// Compressor triages scored messages into keep, summarize and drop groups.
type Compressor struct {
	summarizer *Summarizer

	KeepRecent      int
	HighThreshold   float64
	MediumThreshold float64
	MaxSummaryBatch int
}

// NewCompressor creates a compressor with the default thresholds.
func NewCompressor(summarizer *Summarizer) *Compressor {
	return &Compressor{
		summarizer:      summarizer,
		KeepRecent:      DefaultKeepRecent,
		HighThreshold:   HighValueThreshold,
		MediumThreshold: MediumValueThreshold,
		MaxSummaryBatch: DefaultMaxSummaryBatch,
	}
}

// Compress returns a list no longer than msgs. The trailing KeepRecent
// messages are kept as they are. Messages without a score count as zero.
func (c *Compressor) Compress(ctx context.Context, msgs []*store.Message) []*store.Message {
	keepRecent := c.KeepRecent
	if keepRecent < 0 {
		keepRecent = 0
	}
	if len(msgs) <= keepRecent {
		return msgs
	}

	split := len(msgs) - keepRecent
	older, recent := msgs[:split], msgs[split:]

	var kept, medium []*store.Message
	dropped := 0
	for _, m := range older {
		score := valueOf(m)
		switch {
		case score >= c.HighThreshold:
			kept = append(kept, m)
		case score >= c.MediumThreshold:
			medium = append(medium, m)
		default:
			dropped++
		}
	}

	summaries := 0
	for _, chunk := range chunkMessages(medium, c.maxBatch()) {
		summary, ok := c.summarize(ctx, chunk)
		if !ok {
			kept = append(kept, chunk...)
			continue
		}
		kept = append(kept, summary)
		summaries++
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].CreatedAt.Before(kept[j].CreatedAt)
	})

	out := make([]*store.Message, 0, len(kept)+len(recent))
	out = append(out, kept...)
	out = append(out, recent...)

	slog.Info("context compressed",
		"input", len(msgs),
		"output", len(out),
		"dropped", dropped,
		"summarized", len(medium),
		"summaries", summaries,
	)
	return out
}

func (c *Compressor) maxBatch() int {
	if c.MaxSummaryBatch <= 0 {
		return DefaultMaxSummaryBatch
	}
	return c.MaxSummaryBatch
}

func (c *Compressor) summarize(ctx context.Context, chunk []*store.Message) (*store.Message, bool) {
	if c.summarizer == nil {
		return nil, false
	}
	text, source, err := c.summarizer.Summarize(ctx, chunk)
	if err != nil {
		slog.Warn("summary failed, keeping messages verbatim",
			"messages", len(chunk),
			"error", err,
		)
		return nil, false
	}

	first := chunk[0]
	score := c.HighThreshold
	return &store.Message{
		ID:              summaryIDPrefix + first.ID,
		GroupID:         first.GroupID,
		Role:            first.Role,
		SenderName:      summarySenderName,
		Mode:            first.Mode,
		Content:         text,
		CreatedAt:       first.CreatedAt,
		Type:            store.MessageTypeStatus,
		Compressed:      true,
		OriginalContent: source,
		ValueScore:      &score,
	}, true
}

func valueOf(m *store.Message) float64 {
	if m.ValueScore == nil {
		return 0
	}
	return *m.ValueScore
}

func chunkMessages(msgs []*store.Message, size int) [][]*store.Message {
	var chunks [][]*store.Message
	for start := 0; start < len(msgs); start += size {
		end := min(start+size, len(msgs))
		chunks = append(chunks, msgs[start:end])
	}
	return chunks
}
