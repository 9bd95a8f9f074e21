package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hardian-n/otomatisin/db"
)

const (
	defaultThreadsGraphURL     = "https://graph.threads.net/v1.0"
	defaultThreadsRefreshURL   = "https://graph.threads.net/refresh_access_token"
	defaultThreadsPollInterval = 1500 * time.Millisecond
	defaultThreadsPollAttempts = 6
)

// Container statuses reported by the Threads Graph API
const (
	containerFinished  = "FINISHED"
	containerPublished = "PUBLISHED"
	containerError     = "ERROR"
	containerExpired   = "EXPIRED"
)

// ThreadsAdapter replies through the create, wait, publish container flow
type ThreadsAdapter struct {
	GraphURL     string
	RefreshURL   string
	Integrations IntegrationLookup
	Client       *http.Client
	Limiter      *rate.Limiter
	PollInterval time.Duration
	PollAttempts int
}

type threadsAccount struct {
	id    string
	token string
}

func (a *ThreadsAdapter) SendReply(ctx context.Context, in SendReplyInput) error {
	account, err := a.resolveAccount(ctx, in.IntegrationID)
	if err != nil {
		return err
	}

	replyTo := in.ReplyToMessageID
	if replyTo == "" {
		replyTo = in.ChannelTargetID
	}

	creationID, err := a.createContainer(ctx, account, in.ReplyText, replyTo)
	if err != nil {
		return err
	}
	if err := a.waitForContainer(ctx, account, creationID); err != nil {
		return err
	}
	_, err = a.publish(ctx, account, creationID)
	return err
}

func (a *ThreadsAdapter) resolveAccount(ctx context.Context, integrationID string) (threadsAccount, error) {
	if integrationID == "" {
		return threadsAccount{}, &ConfigError{Adapter: "threads", Missing: []string{"integration id"}}
	}
	if a.Integrations == nil {
		return threadsAccount{}, &ConfigError{Adapter: "threads", Missing: []string{"integration store"}}
	}

	integration, err := a.Integrations.FindByProviderAndID(ctx, db.ProviderThreads, integrationID)
	if err != nil {
		return threadsAccount{}, fmt.Errorf("lookup threads integration: %w", err)
	}
	if integration == nil {
		return threadsAccount{}, &ConfigError{Adapter: "threads", Missing: []string{"integration " + integrationID}}
	}

	var missing []string
	if integration.InternalID == "" {
		missing = append(missing, "account id")
	}
	if integration.Token == "" {
		missing = append(missing, "access token")
	}
	if len(missing) > 0 {
		return threadsAccount{}, &ConfigError{Adapter: "threads", Missing: missing}
	}
	return threadsAccount{id: integration.InternalID, token: integration.Token}, nil
}

func (a *ThreadsAdapter) baseURL() string {
	if a.GraphURL == "" {
		return defaultThreadsGraphURL
	}
	return strings.TrimRight(a.GraphURL, "/")
}

func (a *ThreadsAdapter) createContainer(ctx context.Context, account threadsAccount, text, replyTo string) (string, error) {
	fields := map[string]string{
		"media_type":   "TEXT",
		"text":         text,
		"access_token": account.token,
	}
	if replyTo != "" {
		fields["reply_to_id"] = replyTo
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := a.postForm(ctx, "create container", a.baseURL()+"/"+account.id+"/threads", fields, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("create container: response carried no creation id")
	}
	return out.ID, nil
}

type containerStatus struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

func (a *ThreadsAdapter) waitForContainer(ctx context.Context, account threadsAccount, creationID string) error {
	attempts := a.PollAttempts
	if attempts <= 0 {
		attempts = defaultThreadsPollAttempts
	}
	interval := a.PollInterval
	if interval <= 0 {
		interval = defaultThreadsPollInterval
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		status, err := a.containerStatus(ctx, account, creationID)
		if err != nil {
			return err
		}

		switch strings.ToUpper(status.Status) {
		case containerFinished, containerPublished:
			return nil
		case containerError, containerExpired:
			return &ContainerError{CreationID: creationID, Status: status.Status, Message: status.ErrorMessage}
		}

		if attempt == attempts {
			break
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w: creation id %s after %d checks", ErrContainerTimeout, creationID, attempts)
}

func (a *ThreadsAdapter) containerStatus(ctx context.Context, account threadsAccount, creationID string) (containerStatus, error) {
	query := url.Values{}
	query.Set("fields", "status,error_message")
	query.Set("access_token", account.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL()+"/"+creationID+"?"+query.Encode(), nil)
	if err != nil {
		return containerStatus{}, fmt.Errorf("build status request: %w", err)
	}

	var status containerStatus
	if err := a.do(ctx, "container status", req, &status); err != nil {
		return containerStatus{}, err
	}
	return status, nil
}

func (a *ThreadsAdapter) publish(ctx context.Context, account threadsAccount, creationID string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := a.postForm(ctx, "publish", a.baseURL()+"/"+account.id+"/threads_publish", map[string]string{
		"creation_id":  creationID,
		"access_token": account.token,
	}, &out)
	return out.ID, err
}

func (a *ThreadsAdapter) postForm(ctx context.Context, phase, endpoint string, fields map[string]string, out interface{}) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return fmt.Errorf("%s: encode form: %w", phase, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("%s: encode form: %w", phase, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", phase, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return a.do(ctx, phase, req, out)
}

func (a *ThreadsAdapter) do(ctx context.Context, phase string, req *http.Request, out interface{}) error {
	if err := wait(ctx, a.Limiter); err != nil {
		return err
	}

	client := a.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", phase, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", phase, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &PhaseError{Phase: phase, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", phase, err)
	}
	return nil
}
