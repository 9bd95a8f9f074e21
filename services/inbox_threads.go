package services

import (
	"context"
	"errors"
	"time"

	"github.com/hardian-n/otomatisin/db"
	"github.com/hardian-n/otomatisin/internal/dispatch"
	"github.com/hardian-n/otomatisin/internal/logger"
)

const (
	defaultThreadsPostLimit  = 10
	defaultThreadsReplyLimit = 20

	// Reported in place of posts when the access token could not be refreshed
	ThreadsRefreshNeeded = "refresh_needed"
)

var ErrNotThreads = errors.New("Integration is not Threads")

// ThreadsGraph reads replies and refreshes tokens on the Threads Graph API
type ThreadsGraph interface {
	FetchReplies(ctx context.Context, threadID, accessToken string, limit int) ([]db.InboxMessage, error)
	RefreshToken(ctx context.Context, accessToken string) (*dispatch.RefreshedToken, error)
}

// ThreadsInboxService collects replies under an integration's published posts and feeds
// them to the autoreply engine
type ThreadsInboxService struct {
	Integrations IntegrationRepository
	Posts        PostRepository
	Graph        ThreadsGraph
	Autoreply    Evaluator
	Now          func() time.Time
}

func NewThreadsInboxService(integrations IntegrationRepository, posts PostRepository, graph ThreadsGraph, autoreply Evaluator) *ThreadsInboxService {
	return &ThreadsInboxService{
		Integrations: integrations,
		Posts:        posts,
		Graph:        graph,
		Autoreply:    autoreply,
		Now:          time.Now,
	}
}

func (s *ThreadsInboxService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *ThreadsInboxService) ListChannels(ctx context.Context, orgID string) ([]db.Integration, error) {
	return s.Integrations.ListByOrgAndProvider(ctx, orgID, db.ProviderThreads)
}

// GetReplies returns up to postLimit (1..25) recent published posts with up to replyLimit
// (1..50) replies each. An expired token is refreshed first; when that fails the result
// carries Error = "refresh_needed" and no posts.
func (s *ThreadsInboxService) GetReplies(ctx context.Context, orgID, integrationID string, postLimit, replyLimit int) (*db.ThreadsInboxResult, error) {
	integration, err := s.Integrations.GetByOrgAndID(ctx, orgID, integrationID)
	if err != nil {
		return nil, err
	}
	if integration == nil {
		return nil, ErrIntegrationNotFound
	}
	if integration.ProviderIdentifier != db.ProviderThreads {
		return nil, ErrNotThreads
	}

	accessToken := integration.Token
	if integration.TokenExpired(s.now()) {
		refreshed, ok := s.refresh(ctx, integration)
		if !ok {
			return &db.ThreadsInboxResult{
				Integration: integration.Summary(),
				Posts:       []db.ThreadsPostReplies{},
				LastSync:    s.now(),
				Error:       ThreadsRefreshNeeded,
			}, nil
		}
		accessToken = refreshed
	}

	posts, err := s.Posts.ListPublishedByIntegration(ctx, orgID, integrationID, ClampLimit(postLimit, 1, 25, defaultThreadsPostLimit))
	if err != nil {
		return nil, err
	}
	replyLimit = ClampLimit(replyLimit, 1, 50, defaultThreadsReplyLimit)

	result := make([]db.ThreadsPostReplies, 0, len(posts))
	for _, post := range posts {
		if post.ReleaseID == "" {
			continue
		}

		replies, err := s.Graph.FetchReplies(ctx, post.ReleaseID, accessToken, replyLimit)
		if err != nil {
			logger.Debugf("Threads replies unavailable for %s: %v", post.ReleaseID, err)
			replies = []db.InboxMessage{}
		}

		s.processAutoreplies(ctx, integration, post.ReleaseID, replies)

		result = append(result, db.ThreadsPostReplies{
			ID:          post.ID,
			Content:     post.Content,
			PublishDate: post.PublishDate,
			ReleaseID:   post.ReleaseID,
			ReleaseURL:  post.ReleaseURL,
			Image:       post.Image,
			Replies:     replies,
		})
	}

	return &db.ThreadsInboxResult{
		Integration: integration.Summary(),
		Posts:       result,
		LastSync:    s.now(),
	}, nil
}

// refresh swaps an expired token for a new one and stores it. On failure the integration
// is flagged so the poller leaves it alone until it is reconnected.
func (s *ThreadsInboxService) refresh(ctx context.Context, integration *db.Integration) (string, bool) {
	refreshed, err := s.Graph.RefreshToken(ctx, integration.Token)
	if err != nil {
		logger.Warnf("Threads token refresh failed for %s: %v", integration.ID, err)
		if markErr := s.Integrations.MarkRefreshNeeded(ctx, integration.ID); markErr != nil {
			logger.Errorf("Failed to flag integration %s for refresh: %v", integration.ID, markErr)
		}
		return "", false
	}

	expiresAt := refreshed.ExpiresAt
	if err := s.Integrations.UpdateTokens(ctx, integration.ID, refreshed.AccessToken, "", &expiresAt); err != nil {
		logger.Errorf("Failed to store refreshed token for %s: %v", integration.ID, err)
	}
	return refreshed.AccessToken, true
}

// processAutoreplies evaluates each reply against the threads rules bound to the post.
// The account's own replies are skipped so the engine never answers itself.
func (s *ThreadsInboxService) processAutoreplies(ctx context.Context, integration *db.Integration, releaseID string, replies []db.InboxMessage) {
	if s.Autoreply == nil {
		return
	}

	for _, reply := range replies {
		if reply.Text == "" {
			continue
		}
		if integration.Profile != "" && reply.Username == integration.Profile {
			continue
		}

		_, err := s.Autoreply.Evaluate(ctx, db.EvaluateInput{
			OrgID:           integration.OrganizationID,
			Channel:         db.ProviderThreads,
			IntegrationID:   integration.ID,
			ChannelTargetID: releaseID,
			Text:            reply.Text,
			AuthorID:        reply.Username,
			MessageID:       reply.ID,
			MultiReply:      false,
		})
		if err != nil {
			logger.Warnf("Threads autoreply failed for reply %s on %s: %v", reply.ID, releaseID, err)
		}
	}
}
