package storage

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Case statuses
const (
	StatusOpen            = "open"
	StatusInProgress      = "in_progress"
	StatusPendingResponse = "pending_response"
	StatusResolved        = "resolved"
	StatusEscalated       = "escalated"
	StatusArchived        = "archived"
)

// Case priorities
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Chat platforms
const (
	PlatformTelegram = "telegram"
	PlatformSlack    = "slack"
)

var transitions = map[string][]string{
	StatusOpen:            {StatusInProgress, StatusPendingResponse, StatusEscalated, StatusResolved, StatusArchived},
	StatusInProgress:      {StatusPendingResponse, StatusEscalated, StatusResolved, StatusArchived},
	StatusPendingResponse: {StatusInProgress, StatusEscalated, StatusResolved, StatusArchived},
	StatusEscalated:       {StatusInProgress, StatusPendingResponse, StatusResolved, StatusArchived},
	StatusResolved:        {StatusArchived},
	StatusArchived:        {},
}

// CanTransition reports whether a case may move from one status to another.
// Staying in the same status is always allowed.
func CanTransition(from, to string) bool {
	if from == to {
		_, known := transitions[to]
		return known
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further work is expected on a case.
func IsTerminal(status string) bool {
	return status == StatusResolved || status == StatusArchived
}

// Case represents a support request raised by an end user
type Case struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	// Requester details
	RequesterID   string `gorm:"index;not null" json:"requester_id"`
	RequesterName string `json:"requester_name"`
	Platform      string `json:"platform"`

	// Where the request came from and where the conversation continues
	ChannelRef        string `json:"channel_ref"`
	PrivateChannelRef string `json:"private_channel_ref,omitempty"`
	ThreadRef         string `json:"thread_ref,omitempty"` // origin thread ts on Slack

	Body     string `json:"body"`
	Status   string `gorm:"index" json:"status"`
	Priority string `json:"priority"`

	AssignedResponderID *uint      `json:"assigned_responder_id,omitempty"`
	AssignedResponder   *Responder `json:"assigned_responder,omitempty"`
	ResolvedAt          *time.Time `json:"resolved_at,omitempty"`

	Responses []Response `gorm:"foreignKey:CaseID;constraint:OnDelete:CASCADE" json:"responses,omitempty"`
}

// Response is a single message attached to a case
type Response struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	CaseID      uint  `gorm:"not null;index" json:"case_id"`
	ResponderID *uint `json:"responder_id,omitempty"`

	Body             string `json:"body"`
	IsRequesterReply bool   `json:"is_requester_reply"`
	Automated        bool   `json:"automated"`
	Delivered        bool   `json:"delivered"`
}

// Responder is a human who can be put on call
type Responder struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name     string `json:"name"`
	Platform string `json:"platform"`
	ChatID   string `gorm:"index" json:"chat_id"`
	Active   bool   `json:"active"`
}

// ScheduleSlot is a recurring weekly on-call window.
// DayOfWeek runs from 0 (Monday) to 6 (Sunday); times are "HH:MM".
type ScheduleSlot struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ResponderID uint      `gorm:"not null;index" json:"responder_id"`
	Responder   Responder `json:"responder"`

	DayOfWeek int    `gorm:"index" json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	IsPrimary bool   `json:"is_primary"`
	Active    bool   `json:"active"`
}

// KnowledgeEntry is a reusable canned answer
type KnowledgeEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Title                string  `json:"title"`
	QuestionPattern      string  `json:"question_pattern"`
	SolutionText         string  `json:"solution_text"`
	Category             string  `gorm:"index" json:"category"`
	Keywords             string  `json:"keywords"`              // comma separated
	TroubleshootingSteps string  `json:"troubleshooting_steps"` // JSON array of strings
	ConfidenceThreshold  float64 `json:"confidence_threshold"`
	UsageCount           int     `json:"usage_count"`
	SuccessRate          float64 `json:"success_rate"`
	Active               bool    `gorm:"index" json:"active"`
}

// Analysis is the immutable result of analyzing one inbound message
type Analysis struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	CaseID     uint  `gorm:"not null;index" json:"case_id"`
	ResponseID *uint `json:"response_id,omitempty"`

	ProcessedText   string  `json:"processed_text"`
	Keywords        string  `json:"keywords"`
	Category        string  `json:"category"`
	Sentiment       string  `json:"sentiment"`
	UrgencyScore    float64 `json:"urgency_score"`
	MatchedEntryID  *uint   `json:"matched_entry_id,omitempty"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// AutoResponse records an automated answer that was sent
type AutoResponse struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CaseID           uint `gorm:"not null;index" json:"case_id"`
	KnowledgeEntryID uint `gorm:"not null;index" json:"knowledge_entry_id"`

	ResponseText    string  `json:"response_text"`
	ConfidenceScore float64 `json:"confidence_score"`
	WasHelpful      *bool   `json:"was_helpful,omitempty"`
}

// ConversationPhase is the reply-correlation state of one requester
type ConversationPhase string

const (
	PhaseNone             ConversationPhase = "none"
	PhaseAwaitingReply    ConversationPhase = "awaiting_reply"
	PhaseAwaitingResponse ConversationPhase = "awaiting_response"
)

// ConversationState tracks whether the next message of a requester is a reply
type ConversationState struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	RequesterID   string            `gorm:"uniqueIndex;not null" json:"requester_id"`
	RequesterName string            `json:"requester_name"`
	Phase         ConversationPhase `gorm:"index;not null" json:"phase"`

	LastCaseID     *uint             `json:"last_case_id,omitempty"`
	LastResponseID *uint             `json:"last_response_id,omitempty"`
	Topic          string            `json:"topic"`
	Context        datatypes.JSONMap `json:"context"`

	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `gorm:"index" json:"expires_at"`
}

// Active reports whether the conversation is in one of the live phases
func (c *ConversationState) Active() bool {
	return c.Phase == PhaseAwaitingReply || c.Phase == PhaseAwaitingResponse
}

// PendingEscalation is a persisted escalation timer for one open case
type PendingEscalation struct {
	CaseID    uint      `gorm:"primaryKey;autoIncrement:false" json:"case_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	RequesterID string    `json:"requester_id"`
	Priority    string    `json:"priority"`
	Level       int       `json:"level"`
	NextFireAt  time.Time `gorm:"index" json:"next_fire_at"`
}

// Notification records a responder being paged about a case
type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	CaseID          uint   `gorm:"not null;index" json:"case_id"`
	ResponderID     uint   `gorm:"not null;index" json:"responder_id"`
	Platform        string `json:"platform"`
	EscalationLevel int    `json:"escalation_level"`
	Delivered       bool   `json:"delivered"`
}

// EscalationRule overrides the escalation timer for one priority.
// MaxLevel of zero means no limit.
type EscalationRule struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Priority       string `gorm:"uniqueIndex;not null" json:"priority"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	MaxLevel       int    `json:"max_level"`
	Active         bool   `json:"active"`
}

// Troubleshooting session statuses
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionError     = "error"
)

// TroubleshootingSession walks a requester through the steps of an entry
type TroubleshootingSession struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	RequesterID      string `gorm:"index;not null" json:"requester_id"`
	KnowledgeEntryID uint   `gorm:"not null" json:"knowledge_entry_id"`
	Token            string `gorm:"uniqueIndex;not null" json:"token"`

	CurrentStep int            `json:"current_step"`
	TotalSteps  int            `json:"total_steps"`
	Status      string         `json:"status"`
	Answers     datatypes.JSON `json:"answers"`

	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	LastActivity time.Time  `json:"last_activity"`
}
