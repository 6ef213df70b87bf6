package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kouzoh/oncall-support-bot/internal/config"
	"github.com/kouzoh/oncall-support-bot/internal/services"
	"github.com/kouzoh/oncall-support-bot/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

// Handler handles HTTP requests
type Handler struct {
	support         *services.SupportService
	troubleshooting *services.TroubleshootingService
	slack           *services.SlackService
	config          *config.Config
}

// New creates a new handler instance
func New(support *services.SupportService, troubleshooting *services.TroubleshootingService, slack *services.SlackService, cfg *config.Config) *Handler {
	return &Handler{
		support:         support,
		troubleshooting: troubleshooting,
		slack:           slack,
		config:          cfg,
	}
}

// Register mounts every API route on group
func (h *Handler) Register(api *gin.RouterGroup) {
	api.POST("/messages", h.HandleMessage)

	api.GET("/oncall", h.HandleOnCall)
	api.GET("/oncall/backup/:level", h.HandleBackup)

	api.GET("/cases/:id", h.HandleGetCase)
	api.GET("/cases/:id/status", h.HandleCaseStatus)
	api.POST("/cases/:id/status", h.HandleUpdateStatus)
	api.GET("/cases/:id/escalation", h.HandleCaseEscalation)
	api.POST("/cases/:id/escalate", h.HandleEscalate)
	api.POST("/cases/:id/responses", h.HandleResponderReply)

	api.POST("/auto-responses/:id/feedback", h.HandleFeedback)
	api.GET("/conversations/stats", h.HandleConversationStats)

	api.POST("/troubleshooting", h.HandleStartTroubleshooting)
	api.POST("/troubleshooting/:token/answers", h.HandleTroubleshootingAnswer)

	api.POST("/slack/events", h.HandleSlackEvents)
	api.POST("/slack/slash", h.HandleSlashCommands)
}

// HandleMessage accepts an inbound message from any intake
func (h *Handler) HandleMessage(c *gin.Context) {
	var msg services.InboundMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}

	result, err := h.support.CreateOrAppendMessage(c.Request.Context(), msg)
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusOK
	if result.Mode == services.ModeNewCase {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

// HandleOnCall returns the primary responder and case counters
func (h *Handler) HandleOnCall(c *gin.Context) {
	overview, err := h.support.OnCallOverview(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

// HandleBackup returns the backup responder for an escalation level
func (h *Handler) HandleBackup(c *gin.Context) {
	level, err := strconv.Atoi(c.Param("level"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid level"})
		return
	}

	backup, err := h.support.CurrentBackup(c.Request.Context(), level)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if backup == nil {
		h.writeError(c, services.ErrNoBackupAvailable)
		return
	}
	c.JSON(http.StatusOK, backup)
}

// HandleGetCase returns a case with its responses
func (h *Handler) HandleGetCase(c *gin.Context) {
	id, ok := caseID(c)
	if !ok {
		return
	}

	found, err := h.support.GetCase(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

// HandleCaseStatus returns the status of a case
func (h *Handler) HandleCaseStatus(c *gin.Context) {
	id, ok := caseID(c)
	if !ok {
		return
	}

	status, err := h.support.CaseStatus(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"case_id": id, "status": status})
}

// HandleUpdateStatus moves a case to a new status
func (h *Handler) HandleUpdateStatus(c *gin.Context) {
	id, ok := caseID(c)
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}

	updated, err := h.support.UpdateStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// HandleCaseEscalation returns the escalation timer of a case
func (h *Handler) HandleCaseEscalation(c *gin.Context) {
	id, ok := caseID(c)
	if !ok {
		return
	}

	pending, err := h.support.PendingEscalation(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if pending == nil {
		c.JSON(http.StatusOK, gin.H{"case_id": id, "tracked": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"case_id":      id,
		"tracked":      true,
		"level":        pending.Level,
		"next_fire_at": pending.NextFireAt,
	})
}

// HandleEscalate escalates a case to a backup responder
func (h *Handler) HandleEscalate(c *gin.Context) {
	id, ok := caseID(c)
	if !ok {
		return
	}

	var req struct {
		EscalationLevel int `json:"escalation_level"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}
	if req.EscalationLevel == 0 {
		req.EscalationLevel = 2
	}

	if err := h.support.Escalate(c.Request.Context(), id, req.EscalationLevel); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"case_id": id, "escalation_level": req.EscalationLevel})
}

// HandleResponderReply records a responder's answer and forwards it
func (h *Handler) HandleResponderReply(c *gin.Context) {
	id, ok := caseID(c)
	if !ok {
		return
	}

	var req struct {
		ResponderID *uint  `json:"responder_id"`
		Text        string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	response, err := h.support.RecordResponderReply(c.Request.Context(), id, req.ResponderID, req.Text)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response)
}

// HandleFeedback records whether an automated answer helped
func (h *Handler) HandleFeedback(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var req struct {
		Helpful *bool `json:"helpful" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "helpful is required"})
		return
	}

	if err := h.support.RecordFeedback(c.Request.Context(), uint(id), *req.Helpful); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleConversationStats returns conversation counters
func (h *Handler) HandleConversationStats(c *gin.Context) {
	stats, err := h.support.ConversationStats(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// HandleStartTroubleshooting opens a troubleshooting session
func (h *Handler) HandleStartTroubleshooting(c *gin.Context) {
	var req struct {
		RequesterID      string `json:"requester_id" binding:"required"`
		KnowledgeEntryID uint   `json:"knowledge_entry_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "requester_id and knowledge_entry_id are required"})
		return
	}

	step, err := h.troubleshooting.Start(c.Request.Context(), req.RequesterID, req.KnowledgeEntryID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, step)
}

// HandleTroubleshootingAnswer answers the current step of a session
func (h *Handler) HandleTroubleshootingAnswer(c *gin.Context) {
	var req struct {
		Answer string `json:"answer"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}

	step, err := h.troubleshooting.Advance(c.Request.Context(), c.Param("token"), req.Answer)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, step)
}

// HandleSlackEvents handles Slack Events API webhooks
func (h *Handler) HandleSlackEvents(c *gin.Context) {
	body, ok := h.verifySlackRequest(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		logrus.WithError(err).Error("Failed to parse Slack event")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid challenge"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"challenge": challenge.Challenge})
		return
	case slackevents.CallbackEvent:
		if msg, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			// Slack expects an answer within three seconds
			go h.processSlackMessage(context.Background(), msg)
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) processSlackMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	msg, ok := slackMessageToInbound(ev, h.config.SupportTrigger)
	if !ok {
		return
	}
	if h.slack != nil {
		msg.RequesterName = h.slack.UserName(ctx, msg.RequesterID)
	}

	if _, err := h.support.CreateOrAppendMessage(ctx, msg); err != nil && !errors.Is(err, services.ErrEmptyMessage) {
		logrus.WithError(err).WithFields(logrus.Fields{
			"user":    ev.User,
			"channel": ev.Channel,
		}).Error("Failed to process Slack message")
	}
}

// slackMessageToInbound converts a user message event. Bot messages and
// edits are skipped.
func slackMessageToInbound(ev *slackevents.MessageEvent, trigger string) (services.InboundMessage, bool) {
	if ev == nil || ev.User == "" || ev.BotID != "" || ev.SubType != "" {
		return services.InboundMessage{}, false
	}

	text, explicit := stripTrigger(ev.Text, trigger)
	msg := services.InboundMessage{
		RequesterID: ev.User,
		Platform:    storage.PlatformSlack,
		ChannelRef:  ev.Channel,
		Text:        text,
		Explicit:    explicit,
		Direct:      ev.ChannelType == "im",
	}
	if !msg.Direct {
		msg.ThreadRef = ev.ThreadTimeStamp
		if msg.ThreadRef == "" {
			msg.ThreadRef = ev.TimeStamp
		}
	}
	return msg, true
}

// HandleSlashCommands handles Slack slash commands
func (h *Handler) HandleSlashCommands(c *gin.Context) {
	if _, ok := h.verifySlackRequest(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	cmd, err := slack.SlashCommandParse(c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	logrus.WithFields(logrus.Fields{
		"command":    cmd.Command,
		"user_id":    cmd.UserID,
		"channel_id": cmd.ChannelID,
	}).Info("Received slash command")

	var text string
	switch cmd.Command {
	case "/oncall-help":
		text = h.generateHelpResponse()
	case "/oncall":
		text = h.generateStatusResponse(c.Request.Context())
	default:
		text = "Unknown command. Use `/oncall-help` for help."
	}

	c.JSON(http.StatusOK, gin.H{
		"response_type": "ephemeral",
		"text":          text,
	})
}

// verifySlackRequest checks the Slack signature and returns the raw body
func (h *Handler) verifySlackRequest(c *gin.Context) ([]byte, bool) {
	if h.config.SlackSigningSecret == "" {
		logrus.Error("Slack signing secret not configured - signature verification required for security")
		return nil, false
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		logrus.WithError(err).Error("Failed to read request body")
		return nil, false
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	verifier, err := slack.NewSecretsVerifier(c.Request.Header, h.config.SlackSigningSecret)
	if err != nil {
		logrus.WithError(err).Warn("Invalid Slack signature headers")
		return nil, false
	}
	if _, err := verifier.Write(body); err != nil {
		return nil, false
	}
	if err := verifier.Ensure(); err != nil {
		logrus.WithError(err).Warn("Invalid Slack signature")
		return nil, false
	}

	return body, true
}

func (h *Handler) generateHelpResponse() string {
	return "*On-call Support Bot Help*\n\n" +
		"Start a message with `" + h.config.SupportTrigger + "` to open a support case.\n" +
		"The bot tries to answer from the knowledge base first and pages the on-call responder otherwise.\n" +
		"Reply with 👍 or 👎 to rate an automated answer.\n\n" +
		"*Commands:*\n" +
		"• `/oncall-help` - Show this help message\n" +
		"• `/oncall` - Show who is on call and open cases"
}

func (h *Handler) generateStatusResponse(ctx context.Context) string {
	overview, err := h.support.OnCallOverview(ctx)
	if err != nil {
		return "❌ Error retrieving status information"
	}
	return FormatOverview(overview)
}

// FormatOverview renders on-call status for chat replies
func FormatOverview(overview *services.OnCallOverview) string {
	var b strings.Builder
	b.WriteString("*On-call Support Status*\n\n")
	if overview.Primary != nil {
		fmt.Fprintf(&b, "👤 On call: %s (%s)\n", overview.Primary.Name, overview.Primary.Platform)
	} else {
		b.WriteString("👤 Nobody is scheduled right now\n")
	}
	fmt.Fprintf(&b, "📬 Open cases: %d\n", overview.OpenCases)
	fmt.Fprintf(&b, "⏳ In progress: %d\n", overview.InProgressCases)
	fmt.Fprintf(&b, "✅ Resolved today: %d\n", overview.ResolvedToday)
	fmt.Fprintf(&b, "💬 Active conversations: %d", overview.Conversations.Active)
	return b.String()
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrEmptyMessage):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrCaseNotFound),
		errors.Is(err, services.ErrResponderNotFound),
		errors.Is(err, services.ErrAutoResponseNotFound),
		errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, services.ErrNoTroubleshooting),
		errors.Is(err, services.ErrNoBackupAvailable):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrRequesterIsTarget):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrSessionClosed):
		status = http.StatusConflict
	case errors.Is(err, services.ErrDeliveryFailed),
		errors.Is(err, services.ErrNoDispatcher):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func caseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid case id"})
		return 0, false
	}
	return uint(id), true
}

// stripTrigger reports whether text starts with the trigger word and
// returns the text without it.
func stripTrigger(text, trigger string) (string, bool) {
	text = strings.TrimSpace(text)
	if trigger == "" || len(text) < len(trigger) || !strings.EqualFold(text[:len(trigger)], trigger) {
		return text, false
	}
	return strings.TrimSpace(text[len(trigger):]), true
}
