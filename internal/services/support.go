package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kouzoh/oncall-support-bot/internal/config"
	"github.com/kouzoh/oncall-support-bot/internal/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Message handling modes
const (
	ModeNewCase       = "new_case"
	ModeReplyRecorded = "reply_recorded"
	ModeIgnored       = "ignored"
)

const (
	contextLastAckAt = "last_ack_at"
	maxTopicLength   = 80
)

// InboundMessage is one message from a requester, as seen by an intake
type InboundMessage struct {
	RequesterID       string `json:"requester_id"`
	RequesterName     string `json:"requester_name"`
	Platform          string `json:"platform"`
	ChannelRef        string `json:"channel_ref"`
	PrivateChannelRef string `json:"private_channel_ref"`
	ThreadRef         string `json:"thread_ref"`
	Text              string `json:"text"`
	Priority          string `json:"priority"`

	// Explicit is set when the requester asked for support, e.g. with the
	// trigger word. Only explicit messages open new cases.
	Explicit bool `json:"explicit"`
	// Direct is set for messages sent in a private chat with the bot
	Direct bool `json:"direct"`
}

// MessageResult tells the intake what happened to a message
type MessageResult struct {
	CaseID         uint   `json:"case_id,omitempty"`
	ResponseID     *uint  `json:"response_id,omitempty"`
	Mode           string `json:"mode"`
	AutoResponseID *uint  `json:"auto_response_id,omitempty"`
}

// OnCallOverview is the current duty roster plus case counters
type OnCallOverview struct {
	Primary         *storage.Responder `json:"primary"`
	TotalCases      int64              `json:"total_cases"`
	OpenCases       int64              `json:"open_cases"`
	InProgressCases int64              `json:"in_progress_cases"`
	ResolvedToday   int64              `json:"resolved_today"`
	Conversations   ConversationStats  `json:"conversations"`
}

// SupportDependencies groups the collaborators of SupportService
type SupportDependencies struct {
	DB            *gorm.DB
	Config        *config.Config
	Responder     *AutoResponder
	OnCall        *OnCallResolver
	Conversations *ConversationTracker
	Registry      *EscalationRegistry
	Dispatcher    Dispatcher
}

// SupportService orchestrates case intake, automated answers, responder
// notification and escalation. All work for one requester is serialized.
type SupportService struct {
	db            *gorm.DB
	config        *config.Config
	responder     *AutoResponder
	oncall        *OnCallResolver
	conversations *ConversationTracker
	registry      *EscalationRegistry
	dispatcher    Dispatcher
	locks         *KeyedMutex
	nowFn         func() time.Time
}

// NewSupportService creates a new support service instance
func NewSupportService(deps SupportDependencies) *SupportService {
	return &SupportService{
		db:            deps.DB,
		config:        deps.Config,
		responder:     deps.Responder,
		oncall:        deps.OnCall,
		conversations: deps.Conversations,
		registry:      deps.Registry,
		dispatcher:    deps.Dispatcher,
		locks:         NewKeyedMutex(),
		nowFn:         time.Now,
	}
}

// CreateOrAppendMessage records an inbound message either as a reply to the
// requester's open conversation or as a new case.
func (s *SupportService) CreateOrAppendMessage(ctx context.Context, msg InboundMessage) (*MessageResult, error) {
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.RequesterID == "" || msg.Text == "" {
		return nil, ErrEmptyMessage
	}
	if msg.Platform == "" {
		msg.Platform = storage.PlatformTelegram
	}

	unlock := s.locks.Lock(msg.RequesterID)
	defer unlock()

	result, err := s.handleMessage(ctx, msg)
	if err != nil {
		return nil, err
	}

	messagesHandled.WithLabelValues(result.Mode).Inc()
	logrus.WithFields(logrus.Fields{
		"requester_id": msg.RequesterID,
		"platform":     msg.Platform,
		"case_id":      result.CaseID,
		"mode":         result.Mode,
	}).Info("Inbound message handled")

	return result, nil
}

func (s *SupportService) handleMessage(ctx context.Context, msg InboundMessage) (*MessageResult, error) {
	isReply, state, err := s.conversations.ClassifyInbound(ctx, msg.RequesterID)
	if err != nil {
		return nil, err
	}

	if isReply {
		c, err := s.loadCase(ctx, *state.LastCaseID)
		switch {
		case err == nil && storage.IsTerminal(c.Status):
			logrus.WithFields(logrus.Fields{"case_id": c.ID, "status": c.Status}).Debug("Conversation points at a settled case")
			if err := s.conversations.End(ctx, msg.RequesterID); err != nil {
				logrus.WithError(err).WithField("case_id", c.ID).Warn("Failed to end conversation")
			}
		case err == nil:
			return s.appendReply(ctx, c, msg)
		case errors.Is(err, ErrCaseNotFound):
			logrus.WithField("case_id", *state.LastCaseID).Warn("Conversation points at a missing case")
		default:
			return nil, err
		}
	}

	// A private chat message without the trigger continues the latest open case
	if msg.Direct && !msg.Explicit {
		c, err := s.latestOpenCase(ctx, msg.RequesterID)
		if err != nil {
			return nil, err
		}
		if c != nil {
			if _, err := s.conversations.RecordInbound(ctx, msg.RequesterID, msg.RequesterName, c.ID, ""); err != nil {
				return nil, err
			}
			return s.appendReply(ctx, c, msg)
		}
	}

	if !msg.Explicit {
		return &MessageResult{Mode: ModeIgnored}, nil
	}

	return s.createCase(ctx, msg)
}

func (s *SupportService) createCase(ctx context.Context, msg InboundMessage) (*MessageResult, error) {
	c := &storage.Case{
		RequesterID:       msg.RequesterID,
		RequesterName:     msg.RequesterName,
		Platform:          msg.Platform,
		ChannelRef:        msg.ChannelRef,
		PrivateChannelRef: msg.PrivateChannelRef,
		ThreadRef:         msg.ThreadRef,
		Body:              msg.Text,
		Status:            storage.StatusOpen,
		Priority:          normalizePriority(msg.Priority),
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, fmt.Errorf("failed to create case: %w", err)
	}

	if _, err := s.conversations.RecordInbound(ctx, c.RequesterID, c.RequesterName, c.ID, topicOf(c.Body)); err != nil {
		return nil, err
	}

	s.deliverToRequester(ctx, c, s.confirmationText(c))

	result := &MessageResult{CaseID: c.ID, Mode: ModeNewCase}
	result.AutoResponseID = s.answerOrNotify(ctx, c, nil, msg.Text)

	if err := s.registry.Track(ctx, c); err != nil {
		logrus.WithError(err).WithField("case_id", c.ID).Error("Failed to start escalation tracking")
	}

	return result, nil
}

func (s *SupportService) appendReply(ctx context.Context, c *storage.Case, msg InboundMessage) (*MessageResult, error) {
	reply := &storage.Response{
		CaseID:           c.ID,
		Body:             msg.Text,
		IsRequesterReply: true,
		Delivered:        true,
	}
	helpful, isFeedback := parseFeedback(msg.Text)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(reply).Error; err != nil {
			return err
		}
		if !isFeedback && c.Status != storage.StatusPendingResponse && storage.CanTransition(c.Status, storage.StatusPendingResponse) {
			if err := tx.Model(c).Update("status", storage.StatusPendingResponse).Error; err != nil {
				return err
			}
			c.Status = storage.StatusPendingResponse
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record reply: %w", err)
	}

	result := &MessageResult{CaseID: c.ID, ResponseID: &reply.ID, Mode: ModeReplyRecorded}

	if isFeedback {
		s.applyFeedback(ctx, c.ID, helpful)
		return result, nil
	}

	result.AutoResponseID = s.answerOrNotify(ctx, c, &reply.ID, msg.Text)

	if Actionable(c.Status) {
		if err := s.registry.Track(ctx, c); err != nil {
			logrus.WithError(err).WithField("case_id", c.ID).Error("Failed to start escalation tracking")
		}
	}

	return result, nil
}

// answerOrNotify tries an automated answer first. Without one it sends a
// rate limited acknowledgement and pages the on-call responder.
func (s *SupportService) answerOrNotify(ctx context.Context, c *storage.Case, responseID *uint, text string) *uint {
	analysis, err := s.responder.Analyze(ctx, c.ID, responseID, text)
	if err != nil {
		logrus.WithError(err).WithField("case_id", c.ID).Error("Message analysis failed")
	} else {
		auto, err := s.responder.Respond(ctx, c, analysis)
		if err != nil {
			logrus.WithError(err).WithField("case_id", c.ID).Error("Automated answer failed")
		} else if auto != nil {
			s.sendAutoResponse(ctx, c, auto)
			return &auto.ID
		}
	}

	s.acknowledge(ctx, c)
	s.notifyOnCall(ctx, c)
	return nil
}

func (s *SupportService) sendAutoResponse(ctx context.Context, c *storage.Case, auto *storage.AutoResponse) {
	log := logrus.WithFields(logrus.Fields{
		"case_id":          c.ID,
		"auto_response_id": auto.ID,
		"confidence":       auto.ConfidenceScore,
	})

	response := &storage.Response{CaseID: c.ID, Body: auto.ResponseText, Automated: true}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(response).Error; err != nil {
			return err
		}
		if c.Status != storage.StatusInProgress && storage.CanTransition(c.Status, storage.StatusInProgress) {
			if err := tx.Model(c).Update("status", storage.StatusInProgress).Error; err != nil {
				return err
			}
			c.Status = storage.StatusInProgress
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Error("Failed to record automated answer")
		return
	}

	if _, err := s.conversations.RecordResponse(ctx, c.RequesterID, c.ID, response.ID); err != nil {
		log.WithError(err).Error("Failed to update conversation after automated answer")
	}

	if s.deliverToRequester(ctx, c, auto.ResponseText) {
		s.markDelivered(ctx, response)
	}

	autoResponsesSent.Inc()
	log.Info("Automated answer sent")
}

func (s *SupportService) acknowledge(ctx context.Context, c *storage.Case) {
	if !s.config.AckEnabled || s.config.AckText == "" {
		return
	}

	now := s.nowFn()
	if s.config.AckInterval > 0 && s.ackedSince(ctx, c.RequesterID, now.Add(-s.config.AckInterval)) {
		logrus.WithField("case_id", c.ID).Debug("Skipping acknowledgement inside rate limit window")
		return
	}

	response := &storage.Response{CaseID: c.ID, Body: s.config.AckText, Automated: true}
	if err := s.db.WithContext(ctx).Create(response).Error; err != nil {
		logrus.WithError(err).WithField("case_id", c.ID).Error("Failed to record acknowledgement")
		return
	}
	if s.deliverToRequester(ctx, c, s.config.AckText) {
		s.markDelivered(ctx, response)
	}

	if err := s.conversations.SetContextValue(ctx, c.RequesterID, contextLastAckAt, now.UTC().Format(time.RFC3339Nano)); err != nil {
		logrus.WithError(err).WithField("case_id", c.ID).Warn("Failed to store acknowledgement time")
	}
}

func (s *SupportService) ackedSince(ctx context.Context, requesterID string, since time.Time) bool {
	value, ok, err := s.conversations.ContextValue(ctx, requesterID, contextLastAckAt)
	if err != nil || !ok {
		return false
	}
	raw, isString := value.(string)
	if !isString {
		return false
	}
	last, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false
	}
	return last.After(since)
}

// notifyOnCall pages the primary responder, or the first backup when the
// primary is the requester.
func (s *SupportService) notifyOnCall(ctx context.Context, c *storage.Case) {
	log := logrus.WithField("case_id", c.ID)
	now := s.nowFn()

	target, err := s.oncall.Primary(ctx, now)
	if err != nil {
		log.WithError(err).Error("Failed to resolve on-call responder")
		return
	}
	if target == nil {
		log.Info("No on-call responder scheduled, case stays open")
		return
	}

	if isRequester(target, c) {
		backup, err := s.oncall.Backup(ctx, now, 2)
		if err != nil {
			log.WithError(err).Error("Failed to resolve backup responder")
			return
		}
		if backup == nil || isRequester(backup, c) {
			log.Info("No on-call responder other than the requester, skipping notification")
			return
		}
		target = backup
	}

	if err := s.notify(ctx, c, target, 1, s.newCaseText(c)); err != nil {
		log.WithError(err).WithField("responder_id", target.ID).Warn("Failed to notify on-call responder")
	}
}

// notify records a Notification row and delivers text to the responder
func (s *SupportService) notify(ctx context.Context, c *storage.Case, r *storage.Responder, level int, text string) error {
	notification := &storage.Notification{
		CaseID:          c.ID,
		ResponderID:     r.ID,
		Platform:        r.Platform,
		EscalationLevel: level,
	}
	if err := s.db.WithContext(ctx).Create(notification).Error; err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}

	if err := deliverWithTimeout(ctx, s.dispatcher, ResponderDestination(r), text, s.config.DeliveryTimeout); err != nil {
		notificationsSent.WithLabelValues(levelLabel(level), "error").Inc()
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	notificationsSent.WithLabelValues(levelLabel(level), "ok").Inc()

	if err := s.db.WithContext(ctx).Model(notification).Update("delivered", true).Error; err != nil {
		logrus.WithError(err).WithField("notification_id", notification.ID).Warn("Failed to mark notification delivered")
	}

	logrus.WithFields(logrus.Fields{
		"case_id":          c.ID,
		"responder_id":     r.ID,
		"escalation_level": level,
	}).Info("Responder notified")
	return nil
}

// CurrentPrimary returns the primary responder on duty now, or nil
func (s *SupportService) CurrentPrimary(ctx context.Context) (*storage.Responder, error) {
	return s.oncall.Primary(ctx, s.nowFn())
}

// CurrentBackup returns the backup responder for an escalation level, or nil
func (s *SupportService) CurrentBackup(ctx context.Context, level int) (*storage.Responder, error) {
	return s.oncall.Backup(ctx, s.nowFn(), level)
}

// CaseStatus returns the status of a case
func (s *SupportService) CaseStatus(ctx context.Context, caseID uint) (string, error) {
	var c storage.Case
	err := s.db.WithContext(ctx).Select("id", "status").First(&c, caseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrCaseNotFound
	}
	if err != nil {
		return "", err
	}
	return c.Status, nil
}

// GetCase returns a case with its responses
func (s *SupportService) GetCase(ctx context.Context, caseID uint) (*storage.Case, error) {
	var c storage.Case
	err := s.db.WithContext(ctx).
		Preload("Responses", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&c, caseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCaseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Escalate notifies the backup responder for level about a case. It never
// notifies the requester of the case.
func (s *SupportService) Escalate(ctx context.Context, caseID uint, level int) error {
	c, err := s.loadCase(ctx, caseID)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(c.RequesterID)
	defer unlock()

	if c, err = s.loadCase(ctx, caseID); err != nil {
		return err
	}

	backup, err := s.oncall.Backup(ctx, s.nowFn(), level)
	if err != nil {
		return err
	}
	if backup == nil {
		return ErrNoBackupAvailable
	}
	if isRequester(backup, c) {
		return ErrRequesterIsTarget
	}

	if c.Status != storage.StatusEscalated && storage.CanTransition(c.Status, storage.StatusEscalated) {
		if err := s.db.WithContext(ctx).Model(c).Update("status", storage.StatusEscalated).Error; err != nil {
			return fmt.Errorf("failed to mark case escalated: %w", err)
		}
		c.Status = storage.StatusEscalated
	}

	return s.notify(ctx, c, backup, level, s.escalationText(c, level))
}

// RecordResponderReply stores a responder's answer on a case and forwards
// it to the requester. A failed delivery leaves the response undelivered.
func (s *SupportService) RecordResponderReply(ctx context.Context, caseID uint, responderID *uint, text string) (*storage.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	c, err := s.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(c.RequesterID)
	defer unlock()

	if c, err = s.loadCase(ctx, caseID); err != nil {
		return nil, err
	}

	author := "Support"
	if responderID != nil {
		var r storage.Responder
		if err := s.db.WithContext(ctx).First(&r, *responderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrResponderNotFound
			}
			return nil, err
		}
		author = r.Name
	}

	response := &storage.Response{CaseID: c.ID, ResponderID: responderID, Body: text}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(response).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if c.AssignedResponderID == nil && responderID != nil {
			updates["assigned_responder_id"] = *responderID
		}
		if c.Status != storage.StatusInProgress && storage.CanTransition(c.Status, storage.StatusInProgress) {
			updates["status"] = storage.StatusInProgress
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(c).Updates(updates).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record response: %w", err)
	}

	// a note on a settled case does not reopen the conversation
	if !storage.IsTerminal(c.Status) {
		if _, err := s.conversations.RecordResponse(ctx, c.RequesterID, c.ID, response.ID); err != nil {
			logrus.WithError(err).WithField("case_id", c.ID).Error("Failed to update conversation after response")
		}
	}

	if s.deliverToRequester(ctx, c, fmt.Sprintf("💬 %s:\n\n%s", author, text)) {
		s.markDelivered(ctx, response)
	}

	return response, nil
}

// UpdateStatus moves a case to a new status. Settling a case ends the
// requester's conversation about it and stops its escalation.
func (s *SupportService) UpdateStatus(ctx context.Context, caseID uint, status string) (*storage.Case, error) {
	c, err := s.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(c.RequesterID)
	defer unlock()

	if c, err = s.loadCase(ctx, caseID); err != nil {
		return nil, err
	}
	if !storage.CanTransition(c.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, status)
	}

	updates := map[string]interface{}{"status": status}
	if status == storage.StatusResolved {
		updates["resolved_at"] = s.nowFn()
	}
	if err := s.db.WithContext(ctx).Model(c).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update case status: %w", err)
	}

	if storage.IsTerminal(status) {
		s.settle(ctx, c)
	}

	return s.loadCase(ctx, caseID)
}

func (s *SupportService) settle(ctx context.Context, c *storage.Case) {
	log := logrus.WithField("case_id", c.ID)

	if err := s.registry.Remove(ctx, c.ID); err != nil {
		log.WithError(err).Warn("Failed to stop escalation tracking")
	}

	state, err := s.conversations.State(ctx, c.RequesterID)
	if err != nil {
		log.WithError(err).Warn("Failed to load conversation")
		return
	}
	if state != nil && state.LastCaseID != nil && *state.LastCaseID == c.ID {
		if err := s.conversations.End(ctx, c.RequesterID); err != nil {
			log.WithError(err).Warn("Failed to end conversation")
		}
	}
}

// PendingEscalation returns the escalation timer of a case, or nil when
// the case is not being escalated.
func (s *SupportService) PendingEscalation(ctx context.Context, caseID uint) (*storage.PendingEscalation, error) {
	if _, err := s.loadCase(ctx, caseID); err != nil {
		return nil, err
	}
	return s.registry.Get(ctx, caseID)
}

// RecordFeedback stores requester feedback on an automated answer
func (s *SupportService) RecordFeedback(ctx context.Context, autoResponseID uint, helpful bool) error {
	return s.responder.RecordFeedback(ctx, autoResponseID, helpful)
}

// ConversationStats counts tracked conversations
func (s *SupportService) ConversationStats(ctx context.Context) (ConversationStats, error) {
	return s.conversations.Stats(ctx)
}

// OnCallOverview returns who is on duty and how many cases are in flight
func (s *SupportService) OnCallOverview(ctx context.Context) (*OnCallOverview, error) {
	primary, err := s.CurrentPrimary(ctx)
	if err != nil {
		return nil, err
	}

	overview := &OnCallOverview{Primary: primary}
	db := s.db.WithContext(ctx).Model(&storage.Case{})

	if err := db.Session(&gorm.Session{}).Count(&overview.TotalCases).Error; err != nil {
		return nil, err
	}
	if err := db.Session(&gorm.Session{}).Where("status = ?", storage.StatusOpen).Count(&overview.OpenCases).Error; err != nil {
		return nil, err
	}
	if err := db.Session(&gorm.Session{}).Where("status = ?", storage.StatusInProgress).Count(&overview.InProgressCases).Error; err != nil {
		return nil, err
	}

	now := s.nowFn().In(s.config.Location())
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if err := db.Session(&gorm.Session{}).
		Where("status = ? AND resolved_at >= ?", storage.StatusResolved, startOfDay).
		Count(&overview.ResolvedToday).Error; err != nil {
		return nil, err
	}

	if overview.Conversations, err = s.conversations.Stats(ctx); err != nil {
		return nil, err
	}
	return overview, nil
}

func (s *SupportService) applyFeedback(ctx context.Context, caseID uint, helpful bool) {
	log := logrus.WithFields(logrus.Fields{"case_id": caseID, "helpful": helpful})

	auto, err := s.responder.LatestUnrated(ctx, caseID)
	if err != nil {
		log.WithError(err).Error("Failed to find automated answer for feedback")
		return
	}
	if auto == nil {
		log.Debug("Feedback without an unrated automated answer")
		return
	}
	if err := s.responder.RecordFeedback(ctx, auto.ID, helpful); err != nil {
		log.WithError(err).Error("Failed to record feedback")
		return
	}
	log.WithField("auto_response_id", auto.ID).Info("Feedback recorded")
}

// deliverToRequester reports whether any requester destination accepted text
func (s *SupportService) deliverToRequester(ctx context.Context, c *storage.Case, text string) bool {
	dest, err := DeliverFirst(ctx, s.dispatcher, RequesterDestinations(c), text, s.config.DeliveryTimeout)
	if err != nil {
		logrus.WithError(err).WithField("case_id", c.ID).Warn("Could not reach requester")
		return false
	}
	logrus.WithFields(logrus.Fields{"case_id": c.ID, "destination": dest.Label}).Debug("Message delivered to requester")
	return true
}

func (s *SupportService) markDelivered(ctx context.Context, r *storage.Response) {
	if err := s.db.WithContext(ctx).Model(r).Update("delivered", true).Error; err != nil {
		logrus.WithError(err).WithField("response_id", r.ID).Warn("Failed to mark response delivered")
	}
}

func (s *SupportService) loadCase(ctx context.Context, caseID uint) (*storage.Case, error) {
	var c storage.Case
	err := s.db.WithContext(ctx).First(&c, caseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCaseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SupportService) latestOpenCase(ctx context.Context, requesterID string) (*storage.Case, error) {
	var c storage.Case
	err := s.db.WithContext(ctx).
		Where("requester_id = ? AND status IN ?", requesterID, []string{
			storage.StatusOpen, storage.StatusInProgress, storage.StatusPendingResponse, storage.StatusEscalated,
		}).
		Order("id DESC").
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SupportService) caseURL(c *storage.Case) string {
	return fmt.Sprintf("%s/cases/%d", s.config.DashboardURL, c.ID)
}

func (s *SupportService) confirmationText(c *storage.Case) string {
	name := c.RequesterName
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("🎯 Support request created - case #%d\n\n"+
		"👋 Hi %s! Your request has been received and our support team has been notified.\n\n"+
		"💬 Your request:\n%s\n\n"+
		"You can send additional details here at any time.\n"+
		"💻 Track online: %s", c.ID, name, c.Body, s.caseURL(c))
}

func (s *SupportService) newCaseText(c *storage.Case) string {
	return fmt.Sprintf("🆘 New support request #%d\n\n"+
		"👤 From: %s (%s)\n"+
		"⚡ Priority: %s\n\n"+
		"💬 %s\n\n"+
		"🌐 %s", c.ID, displayName(c), c.Platform, c.Priority, c.Body, s.caseURL(c))
}

func (s *SupportService) escalationText(c *storage.Case, level int) string {
	return fmt.Sprintf("🚨 ESCALATION - support request #%d\n\n"+
		"⏰ Escalation level: %d\n"+
		"👤 From: %s\n\n"+
		"💬 %s\n\n"+
		"Nobody has picked this up yet. 🌐 %s", c.ID, level, displayName(c), c.Body, s.caseURL(c))
}

func displayName(c *storage.Case) string {
	if c.RequesterName != "" {
		return c.RequesterName
	}
	return c.RequesterID
}

func isRequester(r *storage.Responder, c *storage.Case) bool {
	return r.Platform == c.Platform && r.ChatID == c.RequesterID
}

func normalizePriority(p string) string {
	switch p = strings.ToLower(strings.TrimSpace(p)); p {
	case storage.PriorityLow, storage.PriorityNormal, storage.PriorityHigh, storage.PriorityUrgent:
		return p
	default:
		return storage.PriorityNormal
	}
}

// parseFeedback recognizes a reply that is only a thumbs up or down
func parseFeedback(text string) (helpful bool, ok bool) {
	switch strings.TrimSpace(text) {
	case "👍", "👍🏻", "👍🏼", "👍🏽", "👍🏾", "👍🏿", "+1":
		return true, true
	case "👎", "👎🏻", "👎🏼", "👎🏽", "👎🏾", "👎🏿", "-1":
		return false, true
	}
	return false, false
}

func topicOf(body string) string {
	if utf8.RuneCountInString(body) <= maxTopicLength {
		return body
	}
	return string([]rune(body)[:maxTopicLength])
}
