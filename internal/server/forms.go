package server

import (
	"net/http"

	"github.com/ZanzyTHEbar/disposal-triage/internal/store"
	"github.com/gin-gonic/gin"
)

var fieldTypes = map[string]bool{
	"text": true, "textarea": true, "select": true, "radio": true, "checkbox": true,
	"number": true, "date": true, "file": true, "email": true, "tel": true,
}

// handleListForms lists forms; ?published=true hides drafts
func (s *Server) handleListForms(c *gin.Context) {
	forms, err := s.repo.ListForms(c.Request.Context(), c.Query("published") == "true")
	if err != nil {
		s.fail(c, err, "Forms", "")
		return
	}
	c.JSON(http.StatusOK, forms)
}

func (s *Server) handleGetForm(c *gin.Context) {
	id := c.Param("id")
	form, err := s.repo.GetForm(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err, "Form", id)
		return
	}
	c.JSON(http.StatusOK, form)
}

// bindForm decodes and validates a form definition
func (s *Server) bindForm(c *gin.Context) (store.FormInput, bool) {
	var input store.FormInput
	if err := c.ShouldBindJSON(&input); err != nil {
		s.invalid(c, "title is required")
		return input, false
	}

	fieldErrors := map[string]string{}
	seen := map[string]bool{}
	for i, f := range input.Fields {
		if err := s.security.ValidateLabel(f.Label); err != nil {
			fieldErrors[f.Label] = err.Error()
			continue
		}
		if f.Type == "" {
			input.Fields[i].Type = "text"
		} else if !fieldTypes[f.Type] {
			fieldErrors[f.Label] = "unsupported field type " + f.Type
		}
		if f.ID != "" {
			if seen[f.ID] {
				fieldErrors[f.Label] = "duplicate field id " + f.ID
			}
			seen[f.ID] = true
		}
	}
	if len(fieldErrors) > 0 {
		s.invalidFields(c, fieldErrors)
		return input, false
	}
	return input, true
}

func (s *Server) handleCreateForm(c *gin.Context) {
	input, ok := s.bindForm(c)
	if !ok {
		return
	}

	form, err := s.repo.CreateForm(c.Request.Context(), input)
	if err != nil {
		s.fail(c, err, "Form", "")
		return
	}
	c.JSON(http.StatusCreated, form)
}

// handleUpdateForm replaces the title, description and the full field list
func (s *Server) handleUpdateForm(c *gin.Context) {
	id := c.Param("id")
	input, ok := s.bindForm(c)
	if !ok {
		return
	}

	form, err := s.repo.UpdateForm(c.Request.Context(), id, input)
	if err != nil {
		s.fail(c, err, "Form", id)
		return
	}
	c.JSON(http.StatusOK, form)
}

func (s *Server) handlePublishForm(c *gin.Context) {
	id := c.Param("id")
	var body struct {
		Published *bool `json:"published"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Published == nil {
		s.invalid(c, "published is required")
		return
	}

	if err := s.repo.SetFormPublished(c.Request.Context(), id, *body.Published); err != nil {
		s.fail(c, err, "Form", id)
		return
	}

	message := "Form unpublished successfully"
	if *body.Published {
		message = "Form published successfully"
	}
	c.JSON(http.StatusOK, gin.H{"message": message, "published": *body.Published})
}

func (s *Server) handleDeleteForm(c *gin.Context) {
	id := c.Param("id")
	if err := s.repo.DeleteForm(c.Request.Context(), id); err != nil {
		s.fail(c, err, "Form", id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Form deleted successfully"})
}
