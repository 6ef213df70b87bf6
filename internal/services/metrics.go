package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics
var (
	messagesHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oncall_support_messages_total",
			Help: "Total number of inbound messages by outcome",
		},
		[]string{"mode"},
	)

	autoResponsesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oncall_support_auto_responses_total",
			Help: "Total number of automated answers sent",
		},
	)

	notificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oncall_support_notifications_total",
			Help: "Total number of responder notifications by escalation level and result",
		},
		[]string{"level", "result"},
	)

	escalationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oncall_support_escalations_dropped_total",
			Help: "Total number of cases removed from escalation tracking",
		},
		[]string{"reason"},
	)

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oncall_support_deliveries_total",
			Help: "Total number of outbound delivery attempts",
		},
		[]string{"platform", "result"},
	)

	pendingEscalations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "oncall_support_pending_escalations",
			Help: "Number of due escalations seen on the last scheduler tick",
		},
	)
)
