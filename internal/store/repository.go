package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository handles database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// inTx runs fn in a transaction, committing only when fn succeeds
func (r *Repository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// CreateForm stores a form and its fields
func (r *Repository) CreateForm(ctx context.Context, input FormInput) (*Form, error) {
	now := time.Now().UTC()
	form := &Form{
		ID:          uuid.New().String(),
		Title:       input.Title,
		Description: input.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO forms (id, title, description, published, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`), form.ID, form.Title, form.Description, form.Published, form.CreatedAt, form.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create form: %w", err)
		}

		fields, err := insertFields(ctx, tx, form.ID, input.Fields)
		form.Fields = fields
		return err
	})
	if err != nil {
		return nil, err
	}

	return form, nil
}

// insertFields numbers fields by position and assigns ids to new ones
func insertFields(ctx context.Context, tx *sqlx.Tx, formID string, fields []FormField) ([]FormField, error) {
	stored := make([]FormField, 0, len(fields))
	query := tx.Rebind(`
		INSERT INTO form_fields (id, form_id, label, type, field_group, required, options, accept, field_order)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	for i, field := range fields {
		if field.ID == "" {
			field.ID = uuid.New().String()
		}
		field.FormID = formID
		field.Order = i

		_, err := tx.ExecContext(ctx, query,
			field.ID, field.FormID, field.Label, field.Type, field.Group,
			field.Required, field.Options, field.Accept, field.Order)
		if err != nil {
			return nil, fmt.Errorf("failed to insert form field %q: %w", field.Label, err)
		}
		stored = append(stored, field)
	}

	return stored, nil
}

// ListForms returns forms newest first, each with its fields
func (r *Repository) ListForms(ctx context.Context, publishedOnly bool) ([]Form, error) {
	query := `SELECT id, title, description, published, created_at, updated_at FROM forms`
	if publishedOnly {
		query += ` WHERE published = ?`
	}
	query += ` ORDER BY created_at DESC`

	var args []interface{}
	if publishedOnly {
		args = append(args, true)
	}

	forms := []Form{}
	if err := r.db.SelectContext(ctx, &forms, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list forms: %w", err)
	}
	if len(forms) == 0 {
		return forms, nil
	}

	ids := make([]string, len(forms))
	for i := range forms {
		ids[i] = forms[i].ID
	}
	byForm, err := r.fieldsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range forms {
		forms[i].Fields = byForm[forms[i].ID]
		if forms[i].Fields == nil {
			forms[i].Fields = []FormField{}
		}
	}

	return forms, nil
}

func (r *Repository) fieldsFor(ctx context.Context, formIDs []string) (map[string][]FormField, error) {
	query, args, err := sqlx.In(`
		SELECT id, form_id, label, type, field_group, required, options, accept, field_order
		FROM form_fields
		WHERE form_id IN (?)
		ORDER BY form_id, field_order
	`, formIDs)
	if err != nil {
		return nil, err
	}

	var fields []FormField
	if err := r.db.SelectContext(ctx, &fields, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load form fields: %w", err)
	}

	byForm := make(map[string][]FormField, len(formIDs))
	for _, f := range fields {
		byForm[f.FormID] = append(byForm[f.FormID], f)
	}
	return byForm, nil
}

// GetForm returns one form with its fields
func (r *Repository) GetForm(ctx context.Context, id string) (*Form, error) {
	var form Form
	err := r.db.GetContext(ctx, &form, r.db.Rebind(`
		SELECT id, title, description, published, created_at, updated_at
		FROM forms WHERE id = ?
	`), id)
	if err != nil {
		return nil, notFound(err, "form "+id)
	}

	byForm, err := r.fieldsFor(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	form.Fields = byForm[id]
	if form.Fields == nil {
		form.Fields = []FormField{}
	}

	return &form, nil
}

// UpdateForm replaces a form's title, description and fields
func (r *Repository) UpdateForm(ctx context.Context, id string, input FormInput) (*Form, error) {
	var form *Form
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE forms SET title = ?, description = ?, updated_at = ? WHERE id = ?
		`), input.Title, input.Description, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to update form: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("form %s: %w", id, ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM form_fields WHERE form_id = ?`), id); err != nil {
			return fmt.Errorf("failed to clear form fields: %w", err)
		}

		fields, err := insertFields(ctx, tx, id, input.Fields)
		if err != nil {
			return err
		}
		form = &Form{ID: id, Title: input.Title, Description: input.Description, Fields: fields}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return form, nil
}

// SetFormPublished publishes or unpublishes a form
func (r *Repository) SetFormPublished(ctx context.Context, id string, published bool) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE forms SET published = ?, updated_at = ? WHERE id = ?
	`), published, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update form publish status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("form %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteForm removes a form and its fields. Submissions keep their copy of the title.
func (r *Repository) DeleteForm(ctx context.Context, id string) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM form_fields WHERE form_id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete form fields: %w", err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM forms WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("failed to delete form: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("form %s: %w", id, ErrNotFound)
		}
		return nil
	})
}
