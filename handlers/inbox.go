package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hardian-n/otomatisin/authz"
	"github.com/hardian-n/otomatisin/services"
)

// InboxHandler runs a poll on demand for one of the caller's integrations
type InboxHandler struct {
	threadsInbox  *services.ThreadsInboxService
	telegramInbox *services.TelegramInboxService
}

func NewInboxHandler(threadsInbox *services.ThreadsInboxService, telegramInbox *services.TelegramInboxService) *InboxHandler {
	return &InboxHandler{threadsInbox: threadsInbox, telegramInbox: telegramInbox}
}

// queryInt returns 0 when the parameter is missing or not a number; the services apply defaults
func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}

func requireIntegrationID(c *gin.Context) (string, bool) {
	integrationID := c.Query("integrationId")
	if integrationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "integrationId is required"})
		return "", false
	}
	return integrationID, true
}

// ListThreadsChannels handles GET /v1/inbox/threads/channels
func (h *InboxHandler) ListThreadsChannels(c *gin.Context) {
	channels, err := h.threadsInbox.ListChannels(c.Request.Context(), authz.OrgID(c))
	if err != nil {
		respondError(c, "list threads channels", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

// ThreadsReplies handles GET /v1/inbox/threads/replies?integrationId=&postLimit=&replyLimit=
func (h *InboxHandler) ThreadsReplies(c *gin.Context) {
	integrationID, ok := requireIntegrationID(c)
	if !ok {
		return
	}

	result, err := h.threadsInbox.GetReplies(c.Request.Context(), authz.OrgID(c), integrationID,
		queryInt(c, "postLimit"), queryInt(c, "replyLimit"))
	if err != nil {
		respondError(c, "fetch threads replies", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListTelegramChannels handles GET /v1/inbox/telegram/channels
func (h *InboxHandler) ListTelegramChannels(c *gin.Context) {
	channels, err := h.telegramInbox.ListChannels(c.Request.Context(), authz.OrgID(c))
	if err != nil {
		respondError(c, "list telegram channels", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

// TelegramMessages handles GET /v1/inbox/telegram/messages?integrationId=&limit=
func (h *InboxHandler) TelegramMessages(c *gin.Context) {
	integrationID, ok := requireIntegrationID(c)
	if !ok {
		return
	}

	result, err := h.telegramInbox.GetMessages(c.Request.Context(), authz.OrgID(c), integrationID, queryInt(c, "limit"))
	if err != nil {
		respondError(c, "fetch telegram messages", err)
		return
	}
	c.JSON(http.StatusOK, result)
}
