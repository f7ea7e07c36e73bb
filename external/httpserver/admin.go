package httpserver

import (
	"net/http"
	"time"

	"github.com/broadcomms/brainstormx-transcribe/external/transport/ws"
	"github.com/broadcomms/brainstormx-transcribe/internal/repository"
	"github.com/broadcomms/brainstormx-transcribe/internal/room"
	"github.com/gin-gonic/gin"
)

type adminHandler struct {
	sessions    SessionLister
	tokens      *ws.Tokens
	rooms       room.Controller
	transcripts repository.TranscriptReader
}

func (h *adminHandler) listSessions(c *gin.Context) {
	if h.sessions == nil {
		unavailable(c, "sessions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": h.sessions.Snapshot()})
}

type issueTokenRequest struct {
	Participant string `json:"participant" binding:"required"`
	Room        string `json:"room"`
}

func (h *adminHandler) issueToken(c *gin.Context) {
	if h.tokens == nil {
		unavailable(c, "tokens")
		return
	}
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, err := h.tokens.Issue(ws.Identity{Participant: req.Participant, Room: req.Room})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token})
}

type narrationRequest struct {
	Active     bool `json:"active"`
	TTLSeconds int  `json:"ttlSeconds"`
}

func (h *adminHandler) setNarration(c *gin.Context) {
	if h.rooms == nil {
		unavailable(c, "room state")
		return
	}
	var req narrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TTLSeconds < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ttlSeconds must not be negative"})
		return
	}
	roomID := c.Param("room")
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if err := h.rooms.SetNarration(c.Request.Context(), roomID, req.Active, ttl); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": roomID, "active": req.Active})
}

func (h *adminHandler) addParticipant(c *gin.Context) {
	if h.rooms == nil {
		unavailable(c, "room state")
		return
	}
	if err := h.rooms.AddParticipant(c.Request.Context(), c.Param("room"), c.Param("participant")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *adminHandler) removeParticipant(c *gin.Context) {
	if h.rooms == nil {
		unavailable(c, "room state")
		return
	}
	if err := h.rooms.RemoveParticipant(c.Request.Context(), c.Param("room"), c.Param("participant")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type utteranceView struct {
	ID          string            `json:"id"`
	Participant string            `json:"participant"`
	Provider    string            `json:"provider"`
	Text        string            `json:"text"`
	Status      string            `json:"status"`
	StartTime   *float64          `json:"startTime,omitempty"`
	EndTime     *float64          `json:"endTime,omitempty"`
	Words       []repository.Word `json:"words,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

func (h *adminHandler) listUtterances(c *gin.Context) {
	if h.transcripts == nil {
		unavailable(c, "transcripts")
		return
	}
	roomID := c.Param("room")
	utterances, err := h.transcripts.ListUtterancesByRoom(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]utteranceView, 0, len(utterances))
	for _, u := range utterances {
		views = append(views, utteranceView{
			ID:          u.ID,
			Participant: u.Participant,
			Provider:    u.Provider,
			Text:        u.Text,
			Status:      string(u.Status),
			StartTime:   secondsOf(u.StartTime),
			EndTime:     secondsOf(u.EndTime),
			Words:       u.Words,
			CreatedAt:   u.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"room": roomID, "utterances": views})
}

func secondsOf(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	s := d.Seconds()
	return &s
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " not configured"})
}
