package server

import (
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/disposal-triage/internal/analysis"
	"github.com/ZanzyTHEbar/disposal-triage/internal/auth"
	"github.com/ZanzyTHEbar/disposal-triage/internal/notify"
	"github.com/ZanzyTHEbar/disposal-triage/internal/privacy"
	"github.com/ZanzyTHEbar/disposal-triage/internal/store"
	"github.com/gin-gonic/gin"
)

const (
	imageField = "productImage"
	imageLabel = "Product Image"
)

var statusPattern = regexp.MustCompile(`^[a-z][a-z_]{0,31}$`)

// submissionRequest is a questionnaire answer set keyed by field id or label
type submissionRequest struct {
	FormID    string                 `json:"formId"`
	FormTitle string                 `json:"formTitle"`
	Data      map[string]interface{} `json:"data"`

	image *multipart.FileHeader
}

// readSubmission accepts multipart (data as a JSON string plus an optional
// productImage file) or a plain JSON body
func readSubmission(c *gin.Context) (*submissionRequest, string) {
	req := &submissionRequest{}

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		req.FormID = c.PostForm("formId")
		req.FormTitle = c.PostForm("formTitle")

		if raw := c.PostForm("data"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &req.Data); err != nil {
				return nil, "Invalid form data format"
			}
		}

		file, err := c.FormFile(imageField)
		switch {
		case err == nil:
			req.image = file
		case errors.Is(err, http.ErrMissingFile):
		default:
			return nil, "Invalid product image upload"
		}
		return req, ""
	}

	if err := c.ShouldBindJSON(req); err != nil {
		return nil, "Invalid form data format"
	}
	return req, ""
}

// resolveValues maps field ids to labels (unknown keys are used as labels) and
// renders every value as a string. Keys are visited in sorted order.
func resolveValues(form *store.Form, data map[string]interface{}) []store.FieldValue {
	labels := map[string]string{}
	if form != nil {
		for _, f := range form.Fields {
			labels[f.ID] = f.Label
		}
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]store.FieldValue, 0, len(keys))
	for _, k := range keys {
		label, ok := labels[k]
		if !ok {
			label = k
		}
		values = append(values, store.FieldValue{FieldID: k, Label: label, Value: stringValue(data[k])})
	}
	return values
}

// missingRequired lists required fields of the form left empty
func missingRequired(form *store.Form, answers map[string]string, hasImage bool) map[string]string {
	missing := map[string]string{}
	if form == nil {
		return missing
	}
	for _, f := range form.Fields {
		if !f.Required {
			continue
		}
		if f.Type == "file" {
			if !hasImage && strings.TrimSpace(answers[f.Label]) == "" {
				missing[f.Label] = "is required"
			}
			continue
		}
		if strings.TrimSpace(answers[f.Label]) == "" {
			missing[f.Label] = "is required"
		}
	}
	return missing
}

// handleCreateSubmission stores a questionnaire, runs the analysis and
// notifies reviewers
func (s *Server) handleCreateSubmission(c *gin.Context) {
	ctx := c.Request.Context()

	req, problem := readSubmission(c)
	if problem != "" {
		s.invalid(c, problem)
		return
	}
	if len(req.Data) == 0 && req.image == nil {
		s.invalid(c, "data is required")
		return
	}

	var form *store.Form
	if req.FormID != "" {
		f, err := s.repo.GetForm(ctx, req.FormID)
		switch {
		case err == nil:
			form = f
		case !errors.Is(err, store.ErrNotFound):
			s.fail(c, err, "Form", req.FormID)
			return
		}
	}
	if req.FormTitle == "" && form != nil {
		req.FormTitle = form.Title
	}

	values := resolveValues(form, req.Data)
	answers := make(map[string]string, len(values))
	for _, v := range values {
		answers[v.Label] = v.Value
	}

	clean, fieldErrors := s.security.SanitizeSubmission(answers)
	if len(fieldErrors) > 0 {
		s.invalidFields(c, fieldErrors)
		return
	}
	if missing := missingRequired(form, clean, req.image != nil); len(missing) > 0 {
		s.invalidFields(c, missing)
		return
	}

	subject := make(analysis.Submission, len(clean)+1)
	for i := range values {
		values[i].Value = clean[values[i].Label]
		subject[values[i].Label] = values[i].Value
	}

	var imageRef string
	if req.image != nil {
		ref, err := s.saveImage(ctx, req.image)
		if err != nil {
			s.fail(c, err, "Upload", req.image.Filename)
			return
		}
		imageRef = ref
		subject[imageLabel] = imageRef
	}

	stored := false
	defer func() {
		if imageRef != "" && !stored {
			s.discardImage(ctx, imageRef)
		}
	}()

	start := time.Now()
	result, err := s.analyzer.Analyze(ctx, subject)
	if err != nil {
		s.fail(c, err, "Submission", "")
		return
	}

	sub, err := s.repo.CreateSubmission(ctx, store.NewSubmission{
		FormID:    req.FormID,
		FormTitle: req.FormTitle,
		ImageRef:  imageRef,
		Values:    values,
	}, result)
	if err != nil {
		s.fail(c, err, "Submission", "")
		return
	}
	stored = true

	s.logger.AnalysisLogger(sub.ID, string(result.Recommendation), result.Confidence,
		result.Decision.Margin, time.Since(start), imageRef != "")
	s.notifyPending(sub, result)

	c.JSON(http.StatusCreated, gin.H{
		"id":         sub.ID,
		"message":    "Submission created and analyzed successfully",
		"aiAnalysis": result,
	})
}

func (s *Server) saveImage(ctx context.Context, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	ref, size, mimeType, err := s.uploads.Save(ctx, fh.Filename, f)
	if err != nil {
		return "", err
	}
	s.logger.SystemLogger("image_uploaded", ref+" "+mimeType+" "+strconv.FormatInt(size, 10)+" bytes")
	return ref, nil
}

// discardImage removes a photo that no stored submission references. It runs
// after the request may have been cancelled, so it uses its own deadline.
func (s *Server) discardImage(ctx context.Context, ref string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardTimeout)
	defer cancel()

	if err := s.uploads.Delete(ctx, ref); err != nil {
		s.logger.Error("Failed to remove orphaned upload", "ref", ref, "error", err)
		return
	}
	s.logger.SystemLogger("image_discarded", ref)
}

// notifyPending tells reviewers about the new recommendation without holding
// up the response
func (s *Server) notifyPending(sub *store.Submission, result analysis.AnalysisResult) {
	review := notify.PendingReview{
		SubmissionID:   sub.ID,
		FormTitle:      sub.FormTitle,
		Recommendation: result.Recommendation,
		Confidence:     result.Confidence,
		Reasoning:      result.Reasoning,
		Scores:         result.Scores,
		SubmittedAt:    sub.SubmittedAt,
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		start := time.Now()
		err := s.notifier.NotifyPending(ctx, review)
		s.logger.ExternalAPILogger("notifier", "notify_pending", time.Since(start), err)
	}()
}

// handleAnalyze runs the text and field analyzers on a label to value map
// without storing anything
func (s *Server) handleAnalyze(c *gin.Context) {
	var raw map[string]interface{}
	if err := c.ShouldBindJSON(&raw); err != nil || len(raw) == 0 {
		s.invalid(c, "a JSON object of field labels to values is required")
		return
	}

	answers := make(map[string]string, len(raw))
	for k, v := range raw {
		answers[k] = stringValue(v)
	}

	clean, fieldErrors := s.security.SanitizeSubmission(answers)
	if len(fieldErrors) > 0 {
		s.invalidFields(c, fieldErrors)
		return
	}

	// Photos are only classified for submissions that upload them.
	subject := make(analysis.Submission, len(clean))
	for k, v := range clean {
		if slices.Contains(analysis.LabelsImage, k) {
			continue
		}
		subject[k] = v
	}

	result, err := s.analyzer.Analyze(c.Request.Context(), subject)
	if err != nil {
		s.fail(c, err, "Analysis", "")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListSubmissions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		s.invalid(c, "limit must be a non-negative integer")
		return
	}

	subs, err := s.repo.ListSubmissions(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err, "Submissions", "")
		return
	}
	c.JSON(http.StatusOK, subs)
}

func (s *Server) handleGetSubmission(c *gin.Context) {
	id := c.Param("id")
	sub, err := s.repo.GetSubmission(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err, "Submission", id)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// handleDeleteSubmission erases a submission and its photo on the customer's request
func (s *Server) handleDeleteSubmission(c *gin.Context) {
	id := c.Param("id")
	err := s.privacy.EraseSubmission(c.Request.Context(), id)
	switch {
	case errors.Is(err, privacy.ErrPhotoRemains):
		s.logger.SystemLogger("photo_delete_failed", err.Error())
	case err != nil:
		s.fail(c, err, "Submission", id)
		return
	}

	s.logger.SystemLogger("submission_erased", id+" by "+auth.Reviewer(c))
	c.JSON(http.StatusOK, gin.H{
		"message":      "Submission deleted successfully",
		"submissionId": id,
	})
}

type updateSubmissionRequest struct {
	Status           string `json:"status"`
	AIRecommendation *struct {
		FinalDecision string `json:"finalDecision"`
		AdminNotes    string `json:"adminNotes"`
	} `json:"aiRecommendation"`
}

// handleUpdateSubmission sets the workflow status and, when aiRecommendation
// is present, records the review decision
func (s *Server) handleUpdateSubmission(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	var req updateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.Status == "" && req.AIRecommendation == nil) {
		s.invalid(c, "status or aiRecommendation is required")
		return
	}
	if req.Status != "" && !statusPattern.MatchString(req.Status) {
		s.invalid(c, "status must be a lowercase identifier")
		return
	}

	if req.AIRecommendation != nil {
		decision, ok := s.parseDecision(c, req.AIRecommendation.FinalDecision)
		if !ok {
			return
		}
		rec, err := s.repo.DecideReview(ctx, id, store.ReviewDecision{
			Decision: decision,
			Notes:    req.AIRecommendation.AdminNotes,
			Reviewer: auth.Reviewer(c),
		})
		if err != nil {
			s.fail(c, err, "Submission", id)
			return
		}
		s.recordReview(id, rec)
	}

	if req.Status != "" {
		if err := s.repo.UpdateSubmissionStatus(ctx, id, req.Status); err != nil {
			s.fail(c, err, "Submission", id)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "Submission updated successfully",
		"submissionId": id,
	})
}
