package tutor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/edgelearn/lti-tutor/internal/db"
)

/*
Adaptive memory.

One row per (user, resource) carrying what the tutor should remember across
sessions: a compressed summary of past conversations, recent topics, weak
and strong areas, and an EMA of quiz scores. Injected into the system
prompt of later chats.
*/

// Memory is the persistent learner profile for one resource link.
type Memory struct {
	UserID        string    `json:"user_id"`
	ResourceID    string    `json:"resource_id"`
	Summary       string    `json:"summary"`
	LastTopics    []string  `json:"last_topics"`
	WeakAreas     []string  `json:"weak_areas"`
	StrongAreas   []string  `json:"strong_areas"`
	SessionCount  int       `json:"session_count"`
	TotalMessages int       `json:"total_messages"`
	AvgQuizScore  *float64  `json:"average_quiz_score,omitempty"`
	LastSeen      time.Time `json:"last_seen,omitempty"`
}

// MemoryStore persists adaptive memory rows.
type MemoryStore struct {
	DB  *db.DB
	Now func() time.Time
}

func NewMemoryStore(d *db.DB) *MemoryStore { return &MemoryStore{DB: d} }

func (s *MemoryStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Get returns the memory row, or an empty Memory when the learner is new.
func (s *MemoryStore) Get(ctx context.Context, userID, resourceID string) (Memory, error) {
	row := s.DB.QueryRowContext(ctx, s.DB.Rebind(`
SELECT summary, last_topics, weak_areas, strong_areas,
       session_count, total_messages, average_quiz_score, last_seen
FROM adaptive_memory WHERE user_id = ? AND resource_id = ?`), userID, resourceID)

	m := Memory{UserID: userID, ResourceID: resourceID}
	var (
		topics, weak, strong string
		avg                  sql.NullFloat64
		lastSeen             sql.NullInt64
	)
	err := row.Scan(&m.Summary, &topics, &weak, &strong,
		&m.SessionCount, &m.TotalMessages, &avg, &lastSeen)
	if err == sql.ErrNoRows {
		return m, nil
	}
	if err != nil {
		return Memory{}, fmt.Errorf("memory get: %w", err)
	}
	_ = json.Unmarshal([]byte(topics), &m.LastTopics)
	_ = json.Unmarshal([]byte(weak), &m.WeakAreas)
	_ = json.Unmarshal([]byte(strong), &m.StrongAreas)
	if avg.Valid {
		m.AvgQuizScore = &avg.Float64
	}
	if lastSeen.Valid {
		m.LastSeen = time.Unix(lastSeen.Int64, 0).UTC()
	}
	return m, nil
}

func (s *MemoryStore) put(ctx context.Context, m Memory) error {
	topics, _ := json.Marshal(emptyIfNil(m.LastTopics))
	weak, _ := json.Marshal(emptyIfNil(m.WeakAreas))
	strong, _ := json.Marshal(emptyIfNil(m.StrongAreas))

	var avg any
	if m.AvgQuizScore != nil {
		avg = *m.AvgQuizScore
	}
	_, err := s.DB.ExecContext(ctx, s.DB.Rebind(`
INSERT INTO adaptive_memory
  (user_id, resource_id, summary, last_topics, weak_areas, strong_areas,
   session_count, total_messages, average_quiz_score, last_seen)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, resource_id) DO UPDATE SET
  summary = excluded.summary,
  last_topics = excluded.last_topics,
  weak_areas = excluded.weak_areas,
  strong_areas = excluded.strong_areas,
  session_count = excluded.session_count,
  total_messages = excluded.total_messages,
  average_quiz_score = excluded.average_quiz_score,
  last_seen = excluded.last_seen`),
		m.UserID, m.ResourceID, m.Summary, string(topics), string(weak), string(strong),
		m.SessionCount, m.TotalMessages, avg, s.now().Unix())
	if err != nil {
		return fmt.Errorf("memory put: %w", err)
	}
	return nil
}

// RecordQuizScore folds a new quiz score into the running EMA. The first
// score seeds the average directly.
func (s *MemoryStore) RecordQuizScore(ctx context.Context, userID, resourceID string, score float64) (Memory, error) {
	m, err := s.Get(ctx, userID, resourceID)
	if err != nil {
		return Memory{}, err
	}
	if m.AvgQuizScore == nil {
		m.AvgQuizScore = &score
	} else {
		v := 0.7**m.AvgQuizScore + 0.3*score
		m.AvgQuizScore = &v
	}
	if err := s.put(ctx, m); err != nil {
		return Memory{}, err
	}
	return m, nil
}

// memoryCompressor asks the model to distill a transcript into the fields
// the memory row carries.
const compressPrompt = `Summarize this tutoring conversation for future sessions.
Reply with JSON only: {"summary": "...", "topics": ["..."], "weak_areas": ["..."], "strong_areas": ["..."]}.
Keep the summary under 3 sentences.`

// CompressSession folds a finished session's transcript into the memory
// row. Best effort: a provider failure leaves the counters updated and the
// summary untouched.
func (s *MemoryStore) CompressSession(ctx context.Context, p Provider, userID, resourceID string, transcript []Message) (Memory, error) {
	m, err := s.Get(ctx, userID, resourceID)
	if err != nil {
		return Memory{}, err
	}
	m.SessionCount++
	m.TotalMessages += len(transcript)

	if p != nil && len(transcript) > 0 {
		var b strings.Builder
		if m.Summary != "" {
			b.WriteString("Previous summary: ")
			b.WriteString(m.Summary)
			b.WriteString("\n\n")
		}
		for _, msg := range transcript {
			b.WriteString(msg.Role)
			b.WriteString(": ")
			b.WriteString(msg.Content)
			b.WriteString("\n")
		}
		reply, err := p.Complete(ctx, []Turn{
			{Role: RoleSystem, Content: compressPrompt},
			{Role: RoleUser, Content: b.String()},
		})
		if err == nil {
			var parsed struct {
				Summary     string   `json:"summary"`
				Topics      []string `json:"topics"`
				WeakAreas   []string `json:"weak_areas"`
				StrongAreas []string `json:"strong_areas"`
			}
			if jsonErr := json.Unmarshal([]byte(extractJSON(reply)), &parsed); jsonErr == nil && parsed.Summary != "" {
				m.Summary = parsed.Summary
				m.LastTopics = capList(parsed.Topics, 5)
				m.WeakAreas = capList(parsed.WeakAreas, 5)
				m.StrongAreas = capList(parsed.StrongAreas, 5)
			}
		}
	}

	if err := s.put(ctx, m); err != nil {
		return Memory{}, err
	}
	return m, nil
}

// PromptContext renders the memory as system-prompt lines. Empty memory
// renders nothing.
func (m Memory) PromptContext() string {
	if m.SessionCount == 0 && m.Summary == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("What you know about this student from earlier sessions:\n")
	if m.Summary != "" {
		b.WriteString("- " + m.Summary + "\n")
	}
	if len(m.LastTopics) > 0 {
		b.WriteString("- Recent topics: " + strings.Join(m.LastTopics, ", ") + "\n")
	}
	if len(m.WeakAreas) > 0 {
		b.WriteString("- Struggles with: " + strings.Join(m.WeakAreas, ", ") + "\n")
	}
	if len(m.StrongAreas) > 0 {
		b.WriteString("- Strong in: " + strings.Join(m.StrongAreas, ", ") + "\n")
	}
	if m.AvgQuizScore != nil {
		b.WriteString(fmt.Sprintf("- Average quiz score: %.0f%%\n", *m.AvgQuizScore))
	}
	return b.String()
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func capList(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
