package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hardian-n/otomatisin/db"
)

const replyFields = "id,text,username,timestamp,permalink"

// RefreshedToken is a long-lived Threads token returned by the th_refresh_token grant
type RefreshedToken struct {
	AccessToken string
	ExpiresAt   time.Time
}

// FetchReplies lists the replies under a published thread
func (a *ThreadsAdapter) FetchReplies(ctx context.Context, threadID, accessToken string, limit int) ([]db.InboxMessage, error) {
	query := url.Values{}
	query.Set("fields", replyFields)
	query.Set("limit", strconv.Itoa(limit))
	query.Set("access_token", accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL()+"/"+threadID+"/replies?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build replies request: %w", err)
	}

	var out struct {
		Data []db.InboxMessage `json:"data"`
	}
	if err := a.do(ctx, "fetch replies", req, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return []db.InboxMessage{}, nil
	}
	return out.Data, nil
}

// RefreshToken exchanges a still-valid long-lived token for a fresh one
func (a *ThreadsAdapter) RefreshToken(ctx context.Context, accessToken string) (*RefreshedToken, error) {
	endpoint := a.RefreshURL
	if endpoint == "" {
		endpoint = defaultThreadsRefreshURL
	}

	query := url.Values{}
	query.Set("grant_type", "th_refresh_token")
	query.Set("access_token", accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build refresh request: %w", err)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := a.do(ctx, "refresh token", req, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("refresh token: response carried no access token")
	}

	return &RefreshedToken{
		AccessToken: out.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(out.ExpiresIn) * time.Second),
	}, nil
}
