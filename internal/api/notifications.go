package api

import (
	"io"
	"net/http"
	"time"

	"rental-marketplace/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type listNotificationsQuery struct {
	Unread bool `form:"unread"`
	Limit  int  `form:"limit" binding:"gte=0,lte=100"`
}

func (h *Handler) listNotifications(c *gin.Context) {
	var q listNotificationsQuery
	if !bindQuery(c, &q) {
		return
	}

	list, err := h.svc.Notifications.List(c.Request.Context(), currentUser(c), q.Unread, q.Limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (h *Handler) unreadCount(c *gin.Context) {
	n, err := h.svc.Notifications.UnreadCount(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

func (h *Handler) markNotificationRead(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.svc.Notifications.MarkRead(c.Request.Context(), currentUser(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) markAllNotificationsRead(c *gin.Context) {
	n, err := h.svc.Notifications.MarkAllRead(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// streamNotifications pushes the caller's new notifications as server-sent
// events until the client goes away.
func (h *Handler) streamNotifications(c *gin.Context) {
	userID := currentUser(c)
	ch, cancel := h.hub.Subscribe(userID)
	defer cancel()

	logger := util.GetLogger().With(zap.Int64("user_id", userID))
	logger.Debug("Notification stream opened")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"user_id": userID})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			logger.Debug("Notification stream closed")
			return false
		case n, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("notification", n)
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
}

func (h *Handler) ownerDashboard(c *gin.Context) {
	d, err := h.svc.Dashboard.Owner(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) renterDashboard(c *gin.Context) {
	d, err := h.svc.Dashboard.Renter(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}
