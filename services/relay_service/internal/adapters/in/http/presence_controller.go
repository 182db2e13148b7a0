package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/EthanQC/chat-relay/pkg/zlog"
	"github.com/EthanQC/chat-relay/services/relay_service/internal/domain/entity"
	"github.com/EthanQC/chat-relay/services/relay_service/internal/ports/in"
)

// presenceResponse 从未见过的用户不返回 last_seen_at
type presenceResponse struct {
	UserID     entity.UserID         `json:"user_id"`
	Online     bool                  `json:"online"`
	Status     entity.PresenceStatus `json:"status"`
	NodeID     string                `json:"node_id,omitempty"`
	LastSeenAt *time.Time            `json:"last_seen_at,omitempty"`
}

func toPresenceResponse(p *entity.UserPresence) presenceResponse {
	resp := presenceResponse{
		UserID: p.UserID,
		Online: p.Online,
		Status: p.Status,
		NodeID: p.NodeID,
	}
	if !p.LastSeenAt.IsZero() {
		at := p.LastSeenAt.UTC()
		resp.LastSeenAt = &at
	}
	return resp
}

// PresenceController 只读的在线状态查询
type PresenceController struct {
	query in.PresenceQueryUseCase
}

func NewPresenceController(query in.PresenceQueryUseCase) *PresenceController {
	return &PresenceController{query: query}
}

func (c *PresenceController) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/stats", c.Stats)
	r.GET("/presence/:userId", c.GetPresence)
}

// Stats GET /stats
func (c *PresenceController) Stats(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.query.Stats())
}

// GetPresence GET /presence/:userId
func (c *PresenceController) GetPresence(ctx *gin.Context) {
	userID := entity.UserID(ctx.Param("userId"))
	if userID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}

	p, err := c.query.GetPresence(ctx.Request.Context(), userID)
	if err != nil {
		zlog.C(ctx.Request.Context()).Warn("presence query failed",
			zap.String("user_id", string(userID)), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "presence unavailable"})
		return
	}
	ctx.JSON(http.StatusOK, toPresenceResponse(p))
}
