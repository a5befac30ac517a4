package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/disposal-triage/internal/analysis"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a row addressed by id does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a review is decided twice
	ErrInvalidTransition = errors.New("review is not pending")
	// ErrDecisionRequired is returned when an override carries no decision
	ErrDecisionRequired = errors.New("override requires a final decision")
)

// ReviewStatus is the lifecycle state of a recommendation
type ReviewStatus string

const (
	StatusPendingReview ReviewStatus = "pending_review"
	StatusApproved      ReviewStatus = "approved"
	StatusOverridden    ReviewStatus = "overridden"
)

// Submission statuses. Reviewing a recommendation moves its submission to reviewed.
const (
	SubmissionPending  = "pending"
	SubmissionReviewed = "reviewed"
)

// StringList is a JSON-encoded list column
type StringList []string

// Value implements driver.Valuer
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (s *StringList) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		return json.Unmarshal(v, (*[]string)(s))
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(s))
	default:
		return fmt.Errorf("cannot scan %T into StringList", value)
	}
}

// Scores is a ScoreVector persisted as JSON text
type Scores analysis.ScoreVector

// Value implements driver.Valuer
func (s Scores) Value() (driver.Value, error) {
	b, err := json.Marshal(analysis.ScoreVector(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (s *Scores) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*s = Scores{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Scores", value)
	}
	var vec analysis.ScoreVector
	if err := json.Unmarshal(raw, &vec); err != nil {
		return err
	}
	*s = Scores(vec)
	return nil
}

// Form is an admin-defined questionnaire
type Form struct {
	ID          string      `json:"id" db:"id"`
	Title       string      `json:"title" db:"title"`
	Description string      `json:"description" db:"description"`
	Published   bool        `json:"published" db:"published"`
	CreatedAt   time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time   `json:"updatedAt" db:"updated_at"`
	Fields      []FormField `json:"fields" db:"-"`
}

// FormField is one question on a form. Submissions keyed by field id resolve
// to Label before analysis.
type FormField struct {
	ID       string     `json:"id" db:"id"`
	FormID   string     `json:"-" db:"form_id"`
	Label    string     `json:"label" db:"label"`
	Type     string     `json:"type" db:"type"`
	Group    string     `json:"group,omitempty" db:"field_group"`
	Required bool       `json:"required" db:"required"`
	Options  StringList `json:"options,omitempty" db:"options"`
	Accept   string     `json:"accept,omitempty" db:"accept"`
	Order    int        `json:"order" db:"field_order"`
}

// FormInput creates or replaces a form
type FormInput struct {
	Title       string      `json:"title" binding:"required"`
	Description string      `json:"description"`
	Fields      []FormField `json:"fields"`
}

// FieldValue is one answered question
type FieldValue struct {
	FieldID string `json:"fieldId" db:"field_id"`
	Label   string `json:"label" db:"field_label"`
	Value   string `json:"value" db:"field_value"`
}

// Submission is a stored questionnaire answer set with its recommendation
type Submission struct {
	ID             string            `json:"id" db:"id"`
	FormID         string            `json:"formId" db:"form_id"`
	FormTitle      string            `json:"formTitle" db:"form_title"`
	ImageRef       string            `json:"imageRef,omitempty" db:"image_ref"`
	Status         string            `json:"status" db:"status"`
	SubmittedAt    time.Time         `json:"submittedAt" db:"submitted_at"`
	Data           map[string]string `json:"data" db:"-"`
	Recommendation *Recommendation   `json:"aiRecommendation,omitempty" db:"-"`
}

// NewSubmission is the input of CreateSubmission
type NewSubmission struct {
	FormID    string
	FormTitle string
	ImageRef  string
	Values    []FieldValue
}

// Recommendation is the engine verdict for a submission plus its review state
type Recommendation struct {
	ID            string             `json:"id" db:"id"`
	SubmissionID  string             `json:"submissionId" db:"submission_id"`
	AIDecision    analysis.Category  `json:"recommendation" db:"ai_decision"`
	Confidence    float64            `json:"confidence" db:"ai_confidence"`
	Reasoning     string             `json:"reasoning" db:"ai_reasoning"`
	Analysis      string             `json:"analysis" db:"ai_analysis"`
	Scores        Scores             `json:"scores" db:"scores"`
	Status        ReviewStatus       `json:"status" db:"status"`
	AdminDecision *analysis.Category `json:"adminDecision,omitempty" db:"admin_decision"`
	AdminNotes    *string            `json:"adminNotes,omitempty" db:"admin_notes"`
	AdminAgreed   *bool              `json:"adminAgreed,omitempty" db:"admin_agreed"`
	ReviewedBy    *string            `json:"reviewedBy,omitempty" db:"reviewed_by"`
	ReviewedAt    *time.Time         `json:"reviewedAt,omitempty" db:"reviewed_at"`
	CreatedAt     time.Time          `json:"createdAt" db:"created_at"`
}

// FinalDecision is the admin decision when present, otherwise the engine's
func (r *Recommendation) FinalDecision() analysis.Category {
	if r.AdminDecision != nil && *r.AdminDecision != "" {
		return *r.AdminDecision
	}
	return r.AIDecision
}

// Reviewed reports whether an admin has acted on the recommendation
func (r *Recommendation) Reviewed() bool {
	return r.Status != StatusPendingReview
}

// NewRecommendation builds a pending recommendation from an engine result
func NewRecommendation(submissionID string, result analysis.AnalysisResult) *Recommendation {
	return &Recommendation{
		ID:           uuid.New().String(),
		SubmissionID: submissionID,
		AIDecision:   result.Recommendation,
		Confidence:   result.Confidence,
		Reasoning:    result.Reasoning,
		Analysis:     result.Analysis,
		Scores:       Scores(result.Scores),
		Status:       StatusPendingReview,
		CreatedAt:    time.Now().UTC(),
	}
}

// ReviewDecision is an administrator's verdict on a pending recommendation.
// An empty Decision approves the engine's recommendation.
type ReviewDecision struct {
	Decision analysis.Category
	Status   ReviewStatus
	Notes    string
	Reviewer string
}

// ReviewRow is a flattened submission and recommendation for exports
type ReviewRow struct {
	SubmissionID  string             `db:"submission_id"`
	FormTitle     string             `db:"form_title"`
	SubmittedAt   time.Time          `db:"submitted_at"`
	AIDecision    analysis.Category  `db:"ai_decision"`
	Confidence    float64            `db:"ai_confidence"`
	Reasoning     string             `db:"ai_reasoning"`
	Status        ReviewStatus       `db:"status"`
	AdminDecision *analysis.Category `db:"admin_decision"`
	AdminNotes    *string            `db:"admin_notes"`
	ReviewedBy    *string            `db:"reviewed_by"`
	ReviewedAt    *time.Time         `db:"reviewed_at"`
}

// FinalDecision mirrors Recommendation.FinalDecision
func (r ReviewRow) FinalDecision() analysis.Category {
	if r.AdminDecision != nil && *r.AdminDecision != "" {
		return *r.AdminDecision
	}
	return r.AIDecision
}

// Stats summarizes forms, submissions and review outcomes
type Stats struct {
	TotalForms       int                       `json:"totalForms"`
	TotalSubmissions int                       `json:"totalSubmissions"`
	PendingReviews   int                       `json:"pendingReviews"`
	Approved         int                       `json:"approved"`
	Overridden       int                       `json:"overridden"`
	AgreementRate    float64                   `json:"agreementRate"`
	ByRecommendation map[analysis.Category]int `json:"byRecommendation"`
	ByFinalDecision  map[analysis.Category]int `json:"byFinalDecision"`
}
