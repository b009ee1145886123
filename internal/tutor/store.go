package tutor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/edgelearn/lti-tutor/internal/db"
)

// ErrSessionNotFound is returned for unknown tutor session ids.
var ErrSessionNotFound = errors.New("tutor session not found")

// Session is one tutoring conversation. Distinct from the launch session;
// a user may open several of these per launch.
type Session struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	ContextID  string     `json:"context_id,omitempty"`
	ResourceID string     `json:"resource_id,omitempty"`
	Topic      string     `json:"topic,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// Message kinds. Quiz feedback is kept apart from free chat so transcripts
// can filter it.
const (
	MessageChat     = "chat"
	MessageQuiz     = "quiz"
	MessageWelcome  = "welcome"
	MessageHint     = "hint"
	MessageFallback = "fallback"
)

type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// QuizResponse is one recorded answer with its grading outcome.
type QuizResponse struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	ContextID     string    `json:"context_id,omitempty"`
	ResourceID    string    `json:"resource_id,omitempty"`
	QuestionID    string    `json:"question_id"`
	QuestionText  string    `json:"question_text,omitempty"`
	StudentAnswer string    `json:"student_answer"`
	CorrectAnswer string    `json:"correct_answer,omitempty"`
	IsCorrect     bool      `json:"is_correct"`
	AIFeedback    string    `json:"ai_feedback,omitempty"`
	Score         float64   `json:"score"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store persists tutoring sessions, transcripts and quiz responses.
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

func (s *Store) StartSession(ctx context.Context, userID, contextID, resourceID, topic string) (Session, error) {
	sess := Session{
		ID:         ulid.Make().String(),
		UserID:     userID,
		ContextID:  contextID,
		ResourceID: resourceID,
		Topic:      topic,
		StartedAt:  s.now().UTC(),
	}
	_, err := s.DB.ExecContext(ctx, s.DB.Rebind(`
INSERT INTO tutor_sessions (id, user_id, context_id, resource_id, topic, started_at)
VALUES (?, ?, ?, ?, ?, ?)`),
		sess.ID, sess.UserID, sess.ContextID, sess.ResourceID, sess.Topic, sess.StartedAt.Unix())
	if err != nil {
		return Session{}, fmt.Errorf("start session: %w", err)
	}
	return sess, nil
}

func (s *Store) EndSession(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, s.DB.Rebind(
		`UPDATE tutor_sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`),
		s.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.DB.QueryRowContext(ctx, s.DB.Rebind(`
SELECT id, user_id, context_id, resource_id, topic, started_at, ended_at
FROM tutor_sessions WHERE id = ?`), id)
	return scanSession(row)
}

// ListSessions returns a user's sessions in a course, newest first.
func (s *Store) ListSessions(ctx context.Context, userID, contextID string) ([]Session, error) {
	rows, err := s.DB.QueryContext(ctx, s.DB.Rebind(`
SELECT id, user_id, context_id, resource_id, topic, started_at, ended_at
FROM tutor_sessions
WHERE user_id = ? AND context_id = ?
ORDER BY started_at DESC`), userID, contextID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		sess                         Session
		contextID, resourceID, topic sql.NullString
		startedAt                    int64
		endedAt                      sql.NullInt64
	)
	err := row.Scan(&sess.ID, &sess.UserID, &contextID, &resourceID, &topic, &startedAt, &endedAt)
	if err == sql.ErrNoRows {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	sess.ContextID = contextID.String
	sess.ResourceID = resourceID.String
	sess.Topic = topic.String
	sess.StartedAt = time.Unix(startedAt, 0).UTC()
	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0).UTC()
		sess.EndedAt = &t
	}
	return sess, nil
}

func (s *Store) AppendMessage(ctx context.Context, sessionID, role, content, msgType string) (Message, error) {
	if msgType == "" {
		msgType = MessageChat
	}
	m := Message{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Type:      msgType,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.DB.ExecContext(ctx, s.DB.Rebind(`
INSERT INTO messages (id, session_id, role, content, message_type, created_at)
VALUES (?, ?, ?, ?, ?, ?)`),
		m.ID, m.SessionID, m.Role, m.Content, m.Type, m.CreatedAt.Unix())
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

// RecentMessages returns the last limit messages in chronological order.
// ULIDs sort lexicographically by time, so id ordering is creation order
// even within one second.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.DB.QueryContext(ctx, s.DB.Rebind(`
SELECT id, session_id, role, content, message_type, created_at
FROM messages WHERE session_id = ?
ORDER BY id DESC LIMIT ?`), sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m         Message
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Type, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SessionMessages returns a full transcript in chronological order.
func (s *Store) SessionMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.DB.QueryContext(ctx, s.DB.Rebind(`
SELECT id, session_id, role, content, message_type, created_at
FROM messages WHERE session_id = ? ORDER BY id ASC`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("session messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m         Message
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Type, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) RecordQuizResponse(ctx context.Context, r QuizResponse) (QuizResponse, error) {
	r.ID = ulid.Make().String()
	r.CreatedAt = s.now().UTC()
	isCorrect := 0
	if r.IsCorrect {
		isCorrect = 1
	}
	_, err := s.DB.ExecContext(ctx, s.DB.Rebind(`
INSERT INTO quiz_responses
  (id, user_id, context_id, resource_id, question_id, question_text,
   student_answer, correct_answer, is_correct, ai_feedback, score, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.UserID, r.ContextID, r.ResourceID, r.QuestionID, r.QuestionText,
		r.StudentAnswer, r.CorrectAnswer, isCorrect, r.AIFeedback, r.Score, r.CreatedAt.Unix())
	if err != nil {
		return QuizResponse{}, fmt.Errorf("record quiz response: %w", err)
	}
	return r, nil
}

// QuizResponses returns a user's answers for a resource, oldest first.
func (s *Store) QuizResponses(ctx context.Context, userID, resourceID string) ([]QuizResponse, error) {
	rows, err := s.DB.QueryContext(ctx, s.DB.Rebind(`
SELECT id, user_id, context_id, resource_id, question_id, question_text,
       student_answer, correct_answer, is_correct, ai_feedback, score, created_at
FROM quiz_responses WHERE user_id = ? AND resource_id = ? ORDER BY id ASC`),
		userID, resourceID)
	if err != nil {
		return nil, fmt.Errorf("quiz responses: %w", err)
	}
	defer rows.Close()

	var out []QuizResponse
	for rows.Next() {
		var (
			r                         QuizResponse
			contextID, resID, qText   sql.NullString
			correctAnswer, aiFeedback sql.NullString
			isCorrect                 int
			createdAt                 int64
		)
		if err := rows.Scan(&r.ID, &r.UserID, &contextID, &resID, &r.QuestionID, &qText,
			&r.StudentAnswer, &correctAnswer, &isCorrect, &aiFeedback, &r.Score, &createdAt); err != nil {
			return nil, err
		}
		r.ContextID = contextID.String
		r.ResourceID = resID.String
		r.QuestionText = qText.String
		r.CorrectAnswer = correctAnswer.String
		r.AIFeedback = aiFeedback.String
		r.IsCorrect = isCorrect != 0
		r.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
