package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hrygo/groupmind/store"
)

// Mirror receives a copy of every stored memory. Errors are logged only.
type Mirror interface {
	Add(ctx context.Context, record *store.LongTermMemory) error
}

// HTTPMirror writes memories to a Mem0-compatible REST endpoint.
type HTTPMirror struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPMirror creates a mirror for baseURL. It returns nil when baseURL is empty.
func NewHTTPMirror(baseURL, apiKey string) *HTTPMirror {
	if baseURL == "" {
		return nil
	}
	return &HTTPMirror{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{},
	}
}

type mirrorMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type mirrorRequest struct {
	Messages []mirrorMessage `json:"messages"`
	UserID   string          `json:"user_id"`
	Metadata map[string]any  `json:"metadata"`
}

// Add implements Mirror.
func (m *HTTPMirror) Add(ctx context.Context, record *store.LongTermMemory) error {
	body, err := json.Marshal(mirrorRequest{
		Messages: []mirrorMessage{{Role: "system", Content: record.Content}},
		UserID:   record.UserID,
		Metadata: map[string]any{
			"memory_id":       record.ID,
			"scope":           string(record.Scope),
			"group_id":        record.GroupID,
			"member_id":       record.MemberID,
			"persona_version": record.PersonaVersion,
			"confidence":      record.Confidence,
			"memory_type":     record.MemoryType,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal mirror request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v1/memories/", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create mirror request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Token "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mirror request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mirror returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
