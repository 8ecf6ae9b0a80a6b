package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agenthands/correlator/internal/core"
	"github.com/agenthands/correlator/internal/core/model"
)

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Discover(c *gin.Context) {
	action, ok := core.ParseAction(c.Query("action"))
	if !ok {
		writeError(c, model.InvalidRequest("action must be check or sync"))
		return
	}

	res, err := s.Engine.Discover(c.Request.Context(), core.DiscoverRequest{
		Owner:              owner(c),
		Identifier:         c.Param("identifier"),
		Action:             action,
		CredentialOverride: c.GetHeader(HeaderProductDataKey),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type feedbackView struct {
	SearchID string                    `json:"search_id"`
	Feedback []model.CorrelationRecord `json:"feedback"`
	Count    int                       `json:"count"`
}

func (s *Server) GetFeedback(c *gin.Context) {
	rows, err := s.Engine.GetFeedback(c.Request.Context(), owner(c), c.Param("searchId"))
	if err != nil {
		writeError(c, err)
		return
	}
	if rows == nil {
		rows = []model.CorrelationRecord{}
	}
	c.JSON(http.StatusOK, feedbackView{SearchID: c.Param("searchId"), Feedback: rows, Count: len(rows)})
}

type PostFeedbackRequest struct {
	CandidateID string `json:"candidate_id"`
	Action      string `json:"action"`
	Decision    string `json:"decision,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Marketplace string `json:"marketplace,omitempty"`
}

func (s *Server) PostFeedback(c *gin.Context) {
	var req PostFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, model.InvalidRequest("invalid request body"))
		return
	}

	row, err := s.Engine.PostFeedback(c.Request.Context(), core.FeedbackRequest{
		Owner:              owner(c),
		SearchID:           c.Param("searchId"),
		CandidateID:        req.CandidateID,
		Action:             core.FeedbackAction(req.Action),
		Decision:           req.Decision,
		Reason:             req.Reason,
		Marketplace:        req.Marketplace,
		CredentialOverride: c.GetHeader(HeaderProductDataKey),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "correlation": row})
}

func (s *Server) RegeneratePrompt(c *gin.Context) {
	res, err := s.Engine.RegeneratePrompt(c.Request.Context(), owner(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) GetPrompt(c *gin.Context) {
	p, err := s.Engine.Profile(c.Request.Context(), owner(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type SetPromptEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) SetPromptEnabled(c *gin.Context) {
	var req SetPromptEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		writeError(c, model.InvalidRequest("body must be {\"enabled\": true|false}"))
		return
	}

	p, err := s.Engine.SetProfileEnabled(c.Request.Context(), owner(c), *req.Enabled)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
