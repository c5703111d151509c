// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrNotEditable         = errors.New("campaign can only be changed while in draft")
	ErrPersistenceConflict = errors.New("campaign was modified concurrently")
	ErrNoRecipients        = errors.New("email list has no subscribed subscribers")
	ErrStartInProgress     = errors.New("campaign start already in progress")
	ErrLogsUnavailable     = errors.New("campaign logs are available once the campaign has finished")
	ErrBatchNotFound       = errors.New("batch not found")
	ErrInvalidInput        = errors.New("invalid input")
)

// ErrCampaignNotFound is returned when no campaign row matches.
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrSubscriberNotFound is returned when a task references a missing subscriber.
type ErrSubscriberNotFound struct {
	SubscriberID int
}

func (e *ErrSubscriberNotFound) Error() string {
	return fmt.Sprintf("subscriber with ID %d not found", e.SubscriberID)
}

func NewSubscriberNotFound(id int) error {
	return &ErrSubscriberNotFound{SubscriberID: id}
}

// SetupError means dispatch failed before any task was scheduled. The
// campaign keeps its previous status.
type SetupError struct {
	CampaignID int
	Stage      string
	Err        error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("campaign %d: %s: %v", e.CampaignID, e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

func NewSetupError(campaignID int, stage string, err error) error {
	return &SetupError{CampaignID: campaignID, Stage: stage, Err: err}
}

// BatchError is an executor infrastructure failure (tracker or transport
// unreachable). It is handled like a SetupError.
type BatchError struct {
	BatchID string
	Op      string
	Err     error
}

func (e *BatchError) Error() string {
	if e.BatchID == "" {
		return fmt.Sprintf("batch %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("batch %s %s: %v", e.BatchID, e.Op, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

func NewBatchError(batchID, op string, err error) error {
	return &BatchError{BatchID: batchID, Op: op, Err: err}
}

// TaskError is a single send failure. It is aggregated into the batch
// result and never returned to the caller that started the campaign.
type TaskError struct {
	SubscriberID int
	Err          error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("send to subscriber %d: %v", e.SubscriberID, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

func NewTaskError(subscriberID int, err error) error {
	return &TaskError{SubscriberID: subscriberID, Err: err}
}

// IsNotFound reports whether err denotes a missing campaign or subscriber.
func IsNotFound(err error) bool {
	var c *ErrCampaignNotFound
	var s *ErrSubscriberNotFound
	return errors.As(err, &c) || errors.As(err, &s) || errors.Is(err, ErrBatchNotFound)
}

// IsSetup reports whether err should be surfaced as a dispatch setup failure.
func IsSetup(err error) bool {
	var s *SetupError
	var b *BatchError
	return errors.As(err, &s) || errors.As(err, &b)
}
