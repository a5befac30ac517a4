package notify

import (
	"context"
	"time"

	"github.com/ZanzyTHEbar/disposal-triage/internal/analysis"
)

// PendingReview is what reviewers are told about a freshly analyzed submission
type PendingReview struct {
	SubmissionID   string
	FormTitle      string
	Recommendation analysis.Category
	Confidence     float64
	Reasoning      string
	Scores         analysis.ScoreVector
	SubmittedAt    time.Time
}

// Notifier announces recommendations that wait for a human decision
type Notifier interface {
	NotifyPending(ctx context.Context, review PendingReview) error
}

// Noop drops every notification. Used when no channel is configured.
type Noop struct{}

func (Noop) NotifyPending(context.Context, PendingReview) error { return nil }
