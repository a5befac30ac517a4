package server

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/disposal-triage/internal/analysis"
	"github.com/ZanzyTHEbar/disposal-triage/internal/security"
	"github.com/ZanzyTHEbar/disposal-triage/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// customerResult is what the person who submitted a product may see
type customerResult struct {
	SubmissionID   string            `json:"submissionId"`
	FormTitle      string            `json:"formTitle"`
	SubmittedAt    time.Time         `json:"submittedAt"`
	Status         string            `json:"status"`
	Reviewed       bool              `json:"reviewed"`
	Recommendation analysis.Category `json:"recommendation"`
	Confidence     float64           `json:"confidence"`
	Reasoning      string            `json:"reasoning"`
	Notes          string            `json:"notes,omitempty"`
	Summary        template.HTML     `json:"summaryHtml"`
}

var resultPage = template.Must(template.New("result").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Result.Recommendation.Label}} | {{.Result.FormTitle}}</title>
<style nonce="{{.Nonce}}">
body { font-family: sans-serif; max-width: 42rem; margin: 2rem auto; color: #222; }
.badge { display: inline-block; padding: .25rem .75rem; border-radius: .25rem; color: #fff; background: {{.Color}}; }
</style>
</head>
<body>
<p><span class="badge">{{.Result.Recommendation.Label}}</span></p>
{{.Result.Summary}}
<p><small>Submitted {{.Result.SubmittedAt.Format "2006-01-02 15:04"}} UTC</small></p>
</body>
</html>
`))

var resultColors = map[analysis.Category]template.CSS{
	analysis.Recycle: "#2e7d32",
	analysis.Repair:  "#ef6c00",
	analysis.Reuse:   "#1565c0",
	analysis.Retain:  "#6a1b9a",
}

// renderMarkdown converts reasoning markdown to HTML. Raw HTML in the source is dropped.
func renderMarkdown(md string) template.HTML {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.SkipHTML})
	return template.HTML(markdown.ToHTML([]byte(md), p, renderer))
}

// resultMarkdown lays out the decision, the reasoning and reviewer notes
func resultMarkdown(r customerResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Recommendation: %s\n\n", r.Recommendation.Label())
	if r.Reviewed {
		b.WriteString("Confirmed by our team.\n\n")
	} else {
		fmt.Fprintf(&b, "Preliminary result (%.0f%% confidence), awaiting review.\n\n", r.Confidence*100)
	}
	if r.Reasoning != "" {
		b.WriteString(r.Reasoning)
		b.WriteString("\n\n")
	}
	if r.Notes != "" {
		b.WriteString("### Reviewer notes\n\n")
		b.WriteString(r.Notes)
		b.WriteString("\n")
	}
	return b.String()
}

func newCustomerResult(sub *store.Submission) customerResult {
	r := customerResult{
		SubmissionID: sub.ID,
		FormTitle:    sub.FormTitle,
		SubmittedAt:  sub.SubmittedAt.UTC(),
		Status:       sub.Status,
	}
	if rec := sub.Recommendation; rec != nil {
		r.Reviewed = rec.Reviewed()
		r.Recommendation = rec.FinalDecision()
		r.Confidence = rec.Confidence
		r.Reasoning = rec.Reasoning
		if rec.AdminNotes != nil {
			r.Notes = *rec.AdminNotes
		}
	}
	r.Summary = renderMarkdown(resultMarkdown(r))
	return r
}

func wantsHTML(c *gin.Context) bool {
	if c.Query("format") == "html" {
		return true
	}
	return c.NegotiateFormat(gin.MIMEJSON, gin.MIMEHTML) == gin.MIMEHTML
}

// handleCustomerResult shows the final decision once reviewed, otherwise the
// engine's preliminary one. JSON by default, HTML on request.
func (s *Server) handleCustomerResult(c *gin.Context) {
	id := c.Param("submissionId")
	sub, err := s.repo.GetSubmission(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err, "Result", id)
		return
	}

	result := newCustomerResult(sub)
	if !wantsHTML(c) {
		c.JSON(http.StatusOK, result)
		return
	}

	var buf bytes.Buffer
	err = resultPage.Execute(&buf, map[string]interface{}{
		"Result": result,
		"Nonce":  security.Nonce(c),
		"Color":  resultColors[result.Recommendation],
	})
	if err != nil {
		s.fail(c, err, "Result", id)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}
