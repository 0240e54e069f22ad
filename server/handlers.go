package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/Chative-Scheduling-Assistant/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/contract"
	statex "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/state"
)

type turnJSON struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Message      string     `json:"message"`
	PriorTurns   []turnJSON `json:"prior_turns"`
	DefaultEmail string     `json:"default_email"`
	UserName     string     `json:"user_name"`
	TimeZone     string     `json:"timezone"`
	SessionID    string     `json:"session_id"`
}

type chatResponse struct {
	Reply        string     `json:"reply"`
	UpdatedTurns []turnJSON `json:"updated_turns"`
	SessionID    string     `json:"session_id"`
}

type resetRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":      "chative-scheduling-assistant",
		"endpoints": []string{"POST /chat", "POST /reset", "GET /health"},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": s.now().UTC()})
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	// Without a session id the orchestrator keys the session by the
	// transcript the client echoes back in prior_turns.
	sessionID := strings.TrimSpace(req.SessionID)

	ctx := c.Request.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	res, err := s.chat.HandleMessage(ctx, orchestrator.MessageRequest{
		SessionID:  sessionID,
		Text:       req.Message,
		Email:      req.DefaultEmail,
		Name:       req.UserName,
		TimeZone:   req.TimeZone,
		PriorTurns: toTurns(req.PriorTurns),
	})
	if err != nil {
		s.writeError(c, sessionID, err)
		return
	}

	c.JSON(http.StatusOK, chatResponse{
		Reply:        res.Reply,
		UpdatedTurns: fromTurns(res.State),
		SessionID:    res.SessionID,
	})
}

func (s *Server) handleReset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}
	if err := s.chat.Reset(c.Request.Context(), req.SessionID); err != nil {
		s.writeError(c, req.SessionID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset", "session_id": req.SessionID})
}

func (s *Server) writeError(c *gin.Context, sessionID string, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidMessage),
		errors.Is(err, orchestrator.ErrInvalidSession),
		errors.Is(err, contractx.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn().Err(err).Str("session_id", sessionID).Msg("chat turn timed out")
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "the request took too long, please try again"})
	case errors.Is(err, context.Canceled):
		c.Status(499)
	default:
		log.Error().Err(err).Str("session_id", sessionID).Msg("chat turn failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func toTurns(in []turnJSON) []statex.Turn {
	turns := make([]statex.Turn, 0, len(in))
	for _, t := range in {
		role := statex.Role(strings.ToLower(strings.TrimSpace(t.Role)))
		if role != statex.RoleUser && role != statex.RoleAssistant {
			continue
		}
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		turns = append(turns, statex.Turn{Role: role, Content: t.Content})
	}
	return turns
}

func fromTurns(st *statex.ConversationState) []turnJSON {
	if st == nil {
		return []turnJSON{}
	}
	out := make([]turnJSON, 0, len(st.Turns))
	for _, t := range st.Turns {
		out = append(out, turnJSON{Role: string(t.Role), Content: t.Content})
	}
	return out
}
