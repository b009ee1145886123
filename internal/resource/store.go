package resource

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/edgelearn/lti-tutor/internal/db"
	"github.com/edgelearn/lti-tutor/internal/quiz"
)

// Modes a resource link can run in.
const (
	ModeTutor = "tutor"
	ModeQuiz  = "quiz"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
)

// Config is the per-resource-link behavior set by the instructor. A link
// with no saved row behaves as an open tutor.
type Config struct {
	ResourceID  string          `json:"resource_id"`
	Mode        string          `json:"mode"`
	TutorPrompt string          `json:"tutor_prompt"`
	Quiz        []quiz.Question `json:"quiz"`
	UpdatedAt   time.Time       `json:"updated_at,omitempty"`
}

// Template is a named config snapshot instructors reuse across links.
type Template struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	ContextID   string          `json:"context_id,omitempty"`
	Mode        string          `json:"mode"`
	TutorPrompt string          `json:"tutor_prompt"`
	Quiz        []quiz.Question `json:"quiz"`
	CreatedAt   time.Time       `json:"created_at"`
}

func defaultConfig(resourceID string) Config {
	return Config{ResourceID: resourceID, Mode: ModeTutor, Quiz: []quiz.Question{}}
}

func validMode(mode string) bool {
	return mode == ModeTutor || mode == ModeQuiz
}

// Store persists resource configs and templates.
type Store struct {
	DB  *db.DB
	Now func() time.Time
}

func NewStore(d *db.DB) *Store { return &Store{DB: d} }

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Get returns the config for a resource link, falling back to the default
// tutor config when none has been saved.
func (s *Store) Get(ctx context.Context, resourceID string) (Config, error) {
	row := s.DB.QueryRowContext(ctx, s.DB.Rebind(
		`SELECT mode, tutor_prompt, quiz_json, updated_at FROM resource_configs WHERE resource_id = ?`),
		resourceID)

	var (
		mode, prompt, quizJSON string
		updatedAt              int64
	)
	err := row.Scan(&mode, &prompt, &quizJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return defaultConfig(resourceID), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("resource config get: %w", err)
	}
	qs, err := quiz.ParseQuiz([]byte(quizJSON))
	if err != nil {
		// stored rows are validated on save, so this means manual edits
		return Config{}, fmt.Errorf("resource config %s corrupt: %w", resourceID, err)
	}
	if qs == nil {
		qs = []quiz.Question{}
	}
	return Config{
		ResourceID:  resourceID,
		Mode:        mode,
		TutorPrompt: prompt,
		Quiz:        qs,
		UpdatedAt:   time.Unix(updatedAt, 0).UTC(),
	}, nil
}

// Save validates and upserts a config. Concurrent saves are last write wins.
func (s *Store) Save(ctx context.Context, c Config) (Config, error) {
	if c.ResourceID == "" {
		return Config{}, errors.New("resource_id required")
	}
	if c.Mode == "" {
		c.Mode = ModeTutor
	}
	if !validMode(c.Mode) {
		return Config{}, fmt.Errorf("unknown mode %q", c.Mode)
	}
	// quiz mode with zero questions is legal, just useless until edited
	qs, err := quiz.ValidateAll(c.Quiz)
	if err != nil {
		return Config{}, err
	}
	c.Quiz = qs

	quizJSON, err := json.Marshal(qs)
	if err != nil {
		return Config{}, err
	}
	c.UpdatedAt = s.now().UTC()

	_, err = s.DB.ExecContext(ctx, s.DB.Rebind(`
INSERT INTO resource_configs (resource_id, mode, tutor_prompt, quiz_json, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (resource_id) DO UPDATE SET
  mode = excluded.mode,
  tutor_prompt = excluded.tutor_prompt,
  quiz_json = excluded.quiz_json,
  updated_at = excluded.updated_at`),
		c.ResourceID, c.Mode, c.TutorPrompt, string(quizJSON), c.UpdatedAt.Unix())
	if err != nil {
		return Config{}, fmt.Errorf("resource config save: %w", err)
	}
	return c, nil
}

// CreateTemplate stores a named snapshot. contextID scopes the template to
// a course; empty means shared across courses.
func (s *Store) CreateTemplate(ctx context.Context, t Template) (Template, error) {
	if t.Name == "" {
		return Template{}, errors.New("template name required")
	}
	if t.Mode == "" {
		t.Mode = ModeTutor
	}
	if !validMode(t.Mode) {
		return Template{}, fmt.Errorf("unknown mode %q", t.Mode)
	}
	qs, err := quiz.ValidateAll(t.Quiz)
	if err != nil {
		return Template{}, err
	}
	t.Quiz = qs
	t.ID = ulid.Make().String()
	t.CreatedAt = s.now().UTC()

	quizJSON, err := json.Marshal(qs)
	if err != nil {
		return Template{}, err
	}
	_, err = s.DB.ExecContext(ctx, s.DB.Rebind(`
INSERT INTO config_templates (id, name, context_id, mode, tutor_prompt, quiz_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.Name, t.ContextID, t.Mode, t.TutorPrompt, string(quizJSON), t.CreatedAt.Unix())
	if err != nil {
		return Template{}, fmt.Errorf("template create: %w", err)
	}
	return t, nil
}

// ListTemplates returns shared templates plus the ones scoped to contextID,
// newest first.
func (s *Store) ListTemplates(ctx context.Context, contextID string) ([]Template, error) {
	rows, err := s.DB.QueryContext(ctx, s.DB.Rebind(`
SELECT id, name, context_id, mode, tutor_prompt, quiz_json, created_at
FROM config_templates
WHERE context_id = ? OR context_id = '' OR context_id IS NULL
ORDER BY created_at DESC`), contextID)
	if err != nil {
		return nil, fmt.Errorf("template list: %w", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var (
			t         Template
			ctxID     sql.NullString
			quizJSON  string
			createdAt int64
		)
		if err := rows.Scan(&t.ID, &t.Name, &ctxID, &t.Mode, &t.TutorPrompt, &quizJSON, &createdAt); err != nil {
			return nil, err
		}
		t.ContextID = ctxID.String
		t.CreatedAt = time.Unix(createdAt, 0).UTC()
		if t.Quiz, err = quiz.ParseQuiz([]byte(quizJSON)); err != nil {
			return nil, fmt.Errorf("template %s corrupt: %w", t.ID, err)
		}
		if t.Quiz == nil {
			t.Quiz = []quiz.Question{}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) getTemplate(ctx context.Context, id string) (Template, error) {
	row := s.DB.QueryRowContext(ctx, s.DB.Rebind(`
SELECT id, name, context_id, mode, tutor_prompt, quiz_json, created_at
FROM config_templates WHERE id = ?`), id)

	var (
		t         Template
		ctxID     sql.NullString
		quizJSON  string
		createdAt int64
	)
	err := row.Scan(&t.ID, &t.Name, &ctxID, &t.Mode, &t.TutorPrompt, &quizJSON, &createdAt)
	if err == sql.ErrNoRows {
		return Template{}, ErrTemplateNotFound
	}
	if err != nil {
		return Template{}, err
	}
	t.ContextID = ctxID.String
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	if t.Quiz, err = quiz.ParseQuiz([]byte(quizJSON)); err != nil {
		return Template{}, fmt.Errorf("template %s corrupt: %w", t.ID, err)
	}
	return t, nil
}

// DeleteTemplate removes a template. Unknown ids return ErrTemplateNotFound.
func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, s.DB.Rebind(`DELETE FROM config_templates WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("template delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// ApplyTemplate copies a template's snapshot onto a resource link.
func (s *Store) ApplyTemplate(ctx context.Context, templateID, resourceID string) (Config, error) {
	t, err := s.getTemplate(ctx, templateID)
	if err != nil {
		return Config{}, err
	}
	return s.Save(ctx, Config{
		ResourceID:  resourceID,
		Mode:        t.Mode,
		TutorPrompt: t.TutorPrompt,
		Quiz:        t.Quiz,
	})
}
