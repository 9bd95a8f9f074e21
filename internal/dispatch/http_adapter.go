package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

// HTTPAdapter posts replies to a forum-style API that exposes /internal/thread/reply
type HTTPAdapter struct {
	BaseURL string
	Token   string
	Client  *http.Client
	Limiter *rate.Limiter
}

type threadReplyPayload struct {
	ChannelTargetID  string                 `json:"channel_target_id,omitempty"`
	ReplyText        string                 `json:"reply_text"`
	ReplyToMessageID string                 `json:"reply_to_message_id,omitempty"`
	Metadata         map[string]interface{} `json:"metadata"`
}

func (a *HTTPAdapter) SendReply(ctx context.Context, in SendReplyInput) error {
	var missing []string
	if a.BaseURL == "" {
		missing = append(missing, "base URL")
	}
	if a.Token == "" {
		missing = append(missing, "token")
	}
	if len(missing) > 0 {
		return &ConfigError{Adapter: "http", Missing: missing}
	}

	metadata := in.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	body, err := json.Marshal(threadReplyPayload{
		ChannelTargetID:  in.ChannelTargetID,
		ReplyText:        in.ReplyText,
		ReplyToMessageID: in.ReplyToMessageID,
		Metadata:         metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to encode reply: %w", err)
	}

	url := strings.TrimRight(a.BaseURL, "/") + "/internal/thread/reply"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build reply request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.Token)

	if err := wait(ctx, a.Limiter); err != nil {
		return err
	}

	client := a.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("thread reply request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &PhaseError{Phase: "thread reply", StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}
