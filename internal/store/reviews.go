package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/disposal-triage/internal/analysis"
	"github.com/jmoiron/sqlx"
)

// GetRecommendation returns the recommendation stored for a submission
func (r *Repository) GetRecommendation(ctx context.Context, submissionID string) (*Recommendation, error) {
	var rec Recommendation
	err := r.db.GetContext(ctx, &rec, r.db.Rebind(`SELECT `+recommendationColumns+`
		FROM ai_recommendations WHERE submission_id = ?`), submissionID)
	if err != nil {
		return nil, notFound(err, "recommendation for submission "+submissionID)
	}
	return &rec, nil
}

// resolveDecision derives the stored status and final category of a review.
// An empty decision, or one equal to the engine's, approves; anything else overrides.
func resolveDecision(aiDecision analysis.Category, d ReviewDecision) (ReviewStatus, analysis.Category, error) {
	switch d.Status {
	case "", StatusApproved, StatusOverridden:
	default:
		return "", "", fmt.Errorf("cannot move review to %q: %w", d.Status, ErrInvalidTransition)
	}

	if d.Decision == "" {
		if d.Status == StatusOverridden {
			return "", "", ErrDecisionRequired
		}
		return StatusApproved, aiDecision, nil
	}

	final, err := analysis.ParseCategory(string(d.Decision))
	if err != nil {
		return "", "", err
	}
	if final == aiDecision {
		return StatusApproved, final, nil
	}
	return StatusOverridden, final, nil
}

// DecideReview records an administrator's verdict. Only pending recommendations
// can be decided; a second decision returns ErrInvalidTransition.
func (r *Repository) DecideReview(ctx context.Context, submissionID string, d ReviewDecision) (*Recommendation, error) {
	var rec Recommendation
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &rec, tx.Rebind(`SELECT `+recommendationColumns+`
			FROM ai_recommendations WHERE submission_id = ?`), submissionID)
		if err != nil {
			return notFound(err, "recommendation for submission "+submissionID)
		}
		if rec.Status != StatusPendingReview {
			return fmt.Errorf("recommendation %s is %s: %w", rec.ID, rec.Status, ErrInvalidTransition)
		}

		status, final, err := resolveDecision(rec.AIDecision, d)
		if err != nil {
			return err
		}

		agreed := final == rec.AIDecision
		now := time.Now().UTC()
		var notes *string
		if d.Notes != "" {
			notes = &d.Notes
		}
		reviewer := d.Reviewer
		if reviewer == "" {
			reviewer = "admin"
		}

		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE ai_recommendations
			SET admin_decision = ?, admin_notes = ?, admin_agreed = ?, status = ?, reviewed_by = ?, reviewed_at = ?
			WHERE id = ? AND status = ?
		`), final, notes, agreed, status, reviewer, now, rec.ID, StatusPendingReview)
		if err != nil {
			return fmt.Errorf("failed to record review: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("recommendation %s: %w", rec.ID, ErrInvalidTransition)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE submissions SET status = ? WHERE id = ?`),
			SubmissionReviewed, submissionID); err != nil {
			return fmt.Errorf("failed to update submission status: %w", err)
		}

		rec.Status = status
		rec.AdminDecision = &final
		rec.AdminNotes = notes
		rec.AdminAgreed = &agreed
		rec.ReviewedBy = &reviewer
		rec.ReviewedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// Stats counts forms, submissions and review outcomes
func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByRecommendation: map[analysis.Category]int{},
		ByFinalDecision:  map[analysis.Category]int{},
	}

	if err := r.db.GetContext(ctx, &stats.TotalForms, `SELECT COUNT(*) FROM forms`); err != nil {
		return nil, fmt.Errorf("failed to count forms: %w", err)
	}
	if err := r.db.GetContext(ctx, &stats.TotalSubmissions, `SELECT COUNT(*) FROM submissions`); err != nil {
		return nil, fmt.Errorf("failed to count submissions: %w", err)
	}

	var rows []struct {
		AIDecision    analysis.Category  `db:"ai_decision"`
		AdminDecision *analysis.Category `db:"admin_decision"`
		Status        ReviewStatus       `db:"status"`
		Count         int                `db:"n"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT ai_decision, admin_decision, status, COUNT(*) AS n
		FROM ai_recommendations
		GROUP BY ai_decision, admin_decision, status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate recommendations: %w", err)
	}

	agreed := 0
	for _, row := range rows {
		stats.ByRecommendation[row.AIDecision] += row.Count
		final := row.AIDecision
		if row.AdminDecision != nil && *row.AdminDecision != "" {
			final = *row.AdminDecision
		}
		stats.ByFinalDecision[final] += row.Count

		switch row.Status {
		case StatusPendingReview:
			stats.PendingReviews += row.Count
		case StatusApproved:
			stats.Approved += row.Count
			agreed += row.Count
		case StatusOverridden:
			stats.Overridden += row.Count
		}
	}

	if reviewed := stats.Approved + stats.Overridden; reviewed > 0 {
		stats.AgreementRate = float64(agreed) / float64(reviewed)
	}

	return stats, nil
}

// ListReviewRows returns every recommendation joined with its submission, newest first
func (r *Repository) ListReviewRows(ctx context.Context) ([]ReviewRow, error) {
	rows := []ReviewRow{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT s.id AS submission_id, s.form_title, s.submitted_at,
			a.ai_decision, a.ai_confidence, a.ai_reasoning, a.status,
			a.admin_decision, a.admin_notes, a.reviewed_by, a.reviewed_at
		FROM ai_recommendations a
		JOIN submissions s ON s.id = a.submission_id
		ORDER BY s.submitted_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list review rows: %w", err)
	}
	return rows, nil
}
