package services

import "errors"

var (
	ErrCaseNotFound         = errors.New("case not found")
	ErrResponderNotFound    = errors.New("responder not found")
	ErrNoBackupAvailable    = errors.New("no backup on-call responder available")
	ErrRequesterIsTarget    = errors.New("on-call responder is the requester")
	ErrInvalidTransition    = errors.New("invalid case status transition")
	ErrAutoResponseNotFound = errors.New("auto response not found")
	ErrSessionNotFound      = errors.New("troubleshooting session not found")
	ErrSessionClosed        = errors.New("troubleshooting session is not active")
	ErrNoTroubleshooting    = errors.New("knowledge entry has no troubleshooting steps")
	ErrDeliveryFailed       = errors.New("all delivery destinations failed")
	ErrNoDispatcher         = errors.New("no dispatcher for platform")
	ErrEmptyMessage         = errors.New("message has no requester or text")
)
