package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/edgelearn/lti-tutor/internal/db"
)

// Row is one learner's running stats for a topic within a course.
type Row struct {
	UserID             string    `json:"user_id"`
	ContextID          string    `json:"context_id"`
	Topic              string    `json:"topic"`
	TotalAttempts      int       `json:"total_attempts"`
	CorrectAttempts    int       `json:"correct_attempts"`
	AverageScore       float64   `json:"average_score"`
	Predicted          float64   `json:"predicted_performance"`
	DifficultyLevel    string    `json:"difficulty_level"`
	NeedsIntervention  bool      `json:"needs_intervention"`
	InterventionReason string    `json:"intervention_reason,omitempty"`
	LastActivity       time.Time `json:"last_activity"`
}

// Store persists learning analytics rows.
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

// Get returns the row for (user, context, topic); found is false for new
// learners.
func (s *Store) Get(ctx context.Context, userID, contextID, topic string) (Row, bool, error) {
	row := s.DB.QueryRowContext(ctx, s.DB.Rebind(`
SELECT total_attempts, correct_attempts, average_score, predicted_performance,
       difficulty_level, needs_intervention, intervention_reason, last_activity
FROM learning_analytics WHERE user_id = ? AND context_id = ? AND topic = ?`),
		userID, contextID, topic)

	r := Row{UserID: userID, ContextID: contextID, Topic: topic}
	var (
		predicted    sql.NullFloat64
		reason       sql.NullString
		needs        int
		lastActivity int64
	)
	err := row.Scan(&r.TotalAttempts, &r.CorrectAttempts, &r.AverageScore, &predicted,
		&r.DifficultyLevel, &needs, &reason, &lastActivity)
	if err == sql.ErrNoRows {
		return r, false, nil
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("analytics get: %w", err)
	}
	r.Predicted = predicted.Float64
	r.InterventionReason = reason.String
	r.NeedsIntervention = needs != 0
	r.LastActivity = time.Unix(lastActivity, 0).UTC()
	return r, true, nil
}

func (s *Store) put(ctx context.Context, r Row) error {
	needs := 0
	if r.NeedsIntervention {
		needs = 1
	}
	_, err := s.DB.ExecContext(ctx, s.DB.Rebind(`
INSERT INTO learning_analytics
  (user_id, context_id, topic, total_attempts, correct_attempts, average_score,
   predicted_performance, difficulty_level, needs_intervention, intervention_reason, last_activity)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, context_id, topic) DO UPDATE SET
  total_attempts = excluded.total_attempts,
  correct_attempts = excluded.correct_attempts,
  average_score = excluded.average_score,
  predicted_performance = excluded.predicted_performance,
  difficulty_level = excluded.difficulty_level,
  needs_intervention = excluded.needs_intervention,
  intervention_reason = excluded.intervention_reason,
  last_activity = excluded.last_activity`),
		r.UserID, r.ContextID, r.Topic, r.TotalAttempts, r.CorrectAttempts, r.AverageScore,
		r.Predicted, r.DifficultyLevel, needs, r.InterventionReason, s.now().Unix())
	if err != nil {
		return fmt.Errorf("analytics put: %w", err)
	}
	return nil
}

// ListByUser returns a learner's rows in a course, most recent first.
func (s *Store) ListByUser(ctx context.Context, userID, contextID string) ([]Row, error) {
	return s.list(ctx, `
SELECT user_id, context_id, topic, total_attempts, correct_attempts, average_score,
       predicted_performance, difficulty_level, needs_intervention, intervention_reason, last_activity
FROM learning_analytics WHERE user_id = ? AND context_id = ?
ORDER BY last_activity DESC`, userID, contextID)
}

// ListByContext returns every learner's rows in a course.
func (s *Store) ListByContext(ctx context.Context, contextID string) ([]Row, error) {
	return s.list(ctx, `
SELECT user_id, context_id, topic, total_attempts, correct_attempts, average_score,
       predicted_performance, difficulty_level, needs_intervention, intervention_reason, last_activity
FROM learning_analytics WHERE context_id = ?
ORDER BY user_id, last_activity DESC`, contextID)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.DB.QueryContext(ctx, s.DB.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("analytics list: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r            Row
			predicted    sql.NullFloat64
			reason       sql.NullString
			needs        int
			lastActivity int64
		)
		if err := rows.Scan(&r.UserID, &r.ContextID, &r.Topic, &r.TotalAttempts, &r.CorrectAttempts,
			&r.AverageScore, &predicted, &r.DifficultyLevel, &needs, &reason, &lastActivity); err != nil {
			return nil, err
		}
		r.Predicted = predicted.Float64
		r.InterventionReason = reason.String
		r.NeedsIntervention = needs != 0
		r.LastActivity = time.Unix(lastActivity, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// QuestionStat is one cell of the class error-rate heatmap.
type QuestionStat struct {
	QuestionID   string  `json:"question_id"`
	QuestionText string  `json:"question_text,omitempty"`
	Attempts     int     `json:"attempts"`
	Wrong        int     `json:"wrong"`
	ErrorRate    float64 `json:"error_rate"`
}

// QuestionStats aggregates quiz responses per question for a resource.
func (s *Store) QuestionStats(ctx context.Context, resourceID string) ([]QuestionStat, error) {
	rows, err := s.DB.QueryContext(ctx, s.DB.Rebind(`
SELECT question_id, MAX(question_text),
       COUNT(*), SUM(CASE WHEN is_correct = 0 THEN 1 ELSE 0 END)
FROM quiz_responses WHERE resource_id = ?
GROUP BY question_id ORDER BY question_id`), resourceID)
	if err != nil {
		return nil, fmt.Errorf("question stats: %w", err)
	}
	defer rows.Close()

	var out []QuestionStat
	for rows.Next() {
		var (
			q    QuestionStat
			text sql.NullString
		)
		if err := rows.Scan(&q.QuestionID, &text, &q.Attempts, &q.Wrong); err != nil {
			return nil, err
		}
		q.QuestionText = text.String
		if q.Attempts > 0 {
			q.ErrorRate = float64(q.Wrong) / float64(q.Attempts)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
