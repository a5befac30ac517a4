package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/disposal-triage/internal/analysis"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const recommendationColumns = `id, submission_id, ai_decision, ai_confidence, ai_reasoning, ai_analysis,
	scores, status, admin_decision, admin_notes, admin_agreed, reviewed_by, reviewed_at, created_at`

// CreateSubmission stores the answers and the engine recommendation in one
// transaction. The recommendation starts in pending_review.
func (r *Repository) CreateSubmission(ctx context.Context, in NewSubmission, result analysis.AnalysisResult) (*Submission, error) {
	sub := &Submission{
		ID:          uuid.New().String(),
		FormID:      in.FormID,
		FormTitle:   in.FormTitle,
		ImageRef:    in.ImageRef,
		Status:      SubmissionPending,
		SubmittedAt: time.Now().UTC(),
		Data:        make(map[string]string, len(in.Values)),
	}
	rec := NewRecommendation(sub.ID, result)

	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO submissions (id, form_id, form_title, image_ref, status, submitted_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`), sub.ID, sub.FormID, sub.FormTitle, sub.ImageRef, sub.Status, sub.SubmittedAt)
		if err != nil {
			return fmt.Errorf("failed to create submission: %w", err)
		}

		dataQuery := tx.Rebind(`
			INSERT INTO submission_data (submission_id, field_id, field_label, field_value)
			VALUES (?, ?, ?, ?)
		`)
		for _, v := range in.Values {
			if _, err := tx.ExecContext(ctx, dataQuery, sub.ID, v.FieldID, v.Label, v.Value); err != nil {
				return fmt.Errorf("failed to store field %q: %w", v.Label, err)
			}
			sub.Data[v.Label] = v.Value
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO ai_recommendations (id, submission_id, ai_decision, ai_confidence, ai_reasoning,
				ai_analysis, scores, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), rec.ID, rec.SubmissionID, rec.AIDecision, rec.Confidence, rec.Reasoning,
			rec.Analysis, rec.Scores, rec.Status, rec.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to store recommendation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sub.Recommendation = rec
	return sub, nil
}

// GetSubmission returns one submission with its answers and recommendation
func (r *Repository) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	var sub Submission
	err := r.db.GetContext(ctx, &sub, r.db.Rebind(`
		SELECT id, form_id, form_title, image_ref, status, submitted_at
		FROM submissions WHERE id = ?
	`), id)
	if err != nil {
		return nil, notFound(err, "submission "+id)
	}

	subs := []Submission{sub}
	if err := r.hydrate(ctx, subs); err != nil {
		return nil, err
	}
	return &subs[0], nil
}

// ListSubmissions returns submissions newest first. limit <= 0 means all.
func (r *Repository) ListSubmissions(ctx context.Context, limit int) ([]Submission, error) {
	query := `
		SELECT id, form_id, form_title, image_ref, status, submitted_at
		FROM submissions ORDER BY submitted_at DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	subs := []Submission{}
	if err := r.db.SelectContext(ctx, &subs, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	if err := r.hydrate(ctx, subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// ListPendingReviews returns submissions whose recommendation awaits review, oldest first
func (r *Repository) ListPendingReviews(ctx context.Context) ([]Submission, error) {
	subs := []Submission{}
	err := r.db.SelectContext(ctx, &subs, r.db.Rebind(`
		SELECT s.id, s.form_id, s.form_title, s.image_ref, s.status, s.submitted_at
		FROM submissions s
		JOIN ai_recommendations a ON a.submission_id = s.id
		WHERE a.status = ?
		ORDER BY s.submitted_at ASC
	`), StatusPendingReview)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reviews: %w", err)
	}
	if err := r.hydrate(ctx, subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// UpdateSubmissionStatus sets the free-form workflow status of a submission
func (r *Repository) UpdateSubmissionStatus(ctx context.Context, id, status string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE submissions SET status = ? WHERE id = ?`), status, id)
	if err != nil {
		return fmt.Errorf("failed to update submission status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteSubmission erases a submission with its answers and recommendation.
// It returns the image ref so the caller can remove the stored photo.
func (r *Repository) DeleteSubmission(ctx context.Context, id string) (string, error) {
	var imageRef string
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &imageRef, tx.Rebind(`SELECT image_ref FROM submissions WHERE id = ?`), id)
		if err != nil {
			return notFound(err, "submission "+id)
		}
		return deleteSubmissions(ctx, tx, []string{id})
	})
	return imageRef, err
}

// DeleteSubmissionsBefore erases every submission older than cutoff and
// returns the image refs that were attached to them
func (r *Repository) DeleteSubmissionsBefore(ctx context.Context, cutoff time.Time) (int, []string, error) {
	var rows []struct {
		ID       string `db:"id"`
		ImageRef string `db:"image_ref"`
	}
	var refs []string
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.SelectContext(ctx, &rows, tx.Rebind(`
			SELECT id, image_ref FROM submissions WHERE submitted_at < ?
		`), cutoff.UTC())
		if err != nil {
			return fmt.Errorf("failed to select expired submissions: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]string, len(rows))
		for i, row := range rows {
			ids[i] = row.ID
			if row.ImageRef != "" {
				refs = append(refs, row.ImageRef)
			}
		}
		return deleteSubmissions(ctx, tx, ids)
	})
	if err != nil {
		return 0, nil, err
	}
	return len(rows), refs, nil
}

// deleteSubmissions removes child rows explicitly; SQLite only cascades with
// foreign_keys enabled
func deleteSubmissions(ctx context.Context, tx *sqlx.Tx, ids []string) error {
	for _, table := range []string{"submission_data", "ai_recommendations"} {
		query, args, err := sqlx.In(`DELETE FROM `+table+` WHERE submission_id IN (?)`, ids)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}

	query, args, err := sqlx.In(`DELETE FROM submissions WHERE id IN (?)`, ids)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to delete submissions: %w", err)
	}
	return nil
}

// hydrate loads answers and recommendations for subs with two batched queries
func (r *Repository) hydrate(ctx context.Context, subs []Submission) error {
	if len(subs) == 0 {
		return nil
	}

	ids := make([]string, len(subs))
	index := make(map[string]int, len(subs))
	for i := range subs {
		ids[i] = subs[i].ID
		index[subs[i].ID] = i
		subs[i].Data = map[string]string{}
	}

	query, args, err := sqlx.In(`
		SELECT submission_id, field_label, field_value
		FROM submission_data WHERE submission_id IN (?)
	`, ids)
	if err != nil {
		return err
	}
	var rows []struct {
		SubmissionID string `db:"submission_id"`
		Label        string `db:"field_label"`
		Value        string `db:"field_value"`
	}
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to load submission data: %w", err)
	}
	for _, row := range rows {
		subs[index[row.SubmissionID]].Data[row.Label] = row.Value
	}

	query, args, err = sqlx.In(`SELECT `+recommendationColumns+`
		FROM ai_recommendations WHERE submission_id IN (?)`, ids)
	if err != nil {
		return err
	}
	var recs []Recommendation
	if err := r.db.SelectContext(ctx, &recs, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to load recommendations: %w", err)
	}
	for i := range recs {
		subs[index[recs[i].SubmissionID]].Recommendation = &recs[i]
	}

	return nil
}
