package analytics

import (
	"context"
	"sort"
	"time"
)

// Performance bands.
const (
	strongCutoff   = 80.0
	weakCutoff     = 60.0
	masteredCutoff = 90.0
)

// maxWeakTopics caps the weak-areas list at the topics most in need.
const maxWeakTopics = 5

// Service updates learner stats and answers instructor dashboard queries.
type Service struct {
	Store *Store

	// MasteryThreshold separates at-risk students in class views.
	MasteryThreshold float64
}

func NewService(store *Store, masteryThreshold float64) *Service {
	if masteryThreshold <= 0 {
		masteryThreshold = weakCutoff
	}
	return &Service{Store: store, MasteryThreshold: masteryThreshold}
}

// RecordAttempt folds one graded attempt into the learner's topic row.
// The average is an EMA (0.7 old, 0.3 new); the first attempt seeds it.
func (s *Service) RecordAttempt(ctx context.Context, userID, contextID, topic string, score float64, correct bool) error {
	r, found, err := s.Store.Get(ctx, userID, contextID, topic)
	if err != nil {
		return err
	}

	r.TotalAttempts++
	if correct {
		r.CorrectAttempts++
	}
	if !found || r.TotalAttempts == 1 {
		r.AverageScore = score
	} else {
		r.AverageScore = 0.7*r.AverageScore + 0.3*score
	}

	ratio := float64(r.CorrectAttempts) / float64(r.TotalAttempts)
	trend := 1.0
	switch {
	case ratio > 0.6:
		trend = 1.05
	case ratio < 0.4:
		trend = 0.95
	}
	r.Predicted = clamp((r.AverageScore*0.7+50*0.3)*trend, 0, 100)

	switch {
	case r.AverageScore >= 85:
		r.DifficultyLevel = "hard"
	case r.AverageScore >= 60:
		r.DifficultyLevel = "medium"
	default:
		r.DifficultyLevel = "easy"
	}

	r.NeedsIntervention = false
	r.InterventionReason = ""
	switch {
	case r.AverageScore < 50:
		r.NeedsIntervention = true
		r.InterventionReason = "average score below 50"
	case r.Predicted < r.AverageScore-10:
		r.NeedsIntervention = true
		r.InterventionReason = "performance trending down"
	}

	r.LastActivity = time.Now().UTC()
	return s.Store.put(ctx, r)
}

// StudentSummary is the per-learner dashboard view.
type StudentSummary struct {
	UserID         string   `json:"user_id"`
	Topics         []Row    `json:"topics"`
	StrongTopics   []string `json:"strong_topics"`
	WeakTopics     []string `json:"weak_topics"`
	MasteredTopics []string `json:"mastered_topics"`
	NeedsHelp      bool     `json:"needs_intervention"`
}

// Student builds a learner's summary across topics in a course.
func (s *Service) Student(ctx context.Context, userID, contextID string) (StudentSummary, error) {
	rows, err := s.Store.ListByUser(ctx, userID, contextID)
	if err != nil {
		return StudentSummary{}, err
	}
	out := StudentSummary{UserID: userID, Topics: rows}
	var weak []Row
	for _, r := range rows {
		if r.AverageScore >= masteredCutoff {
			out.MasteredTopics = append(out.MasteredTopics, r.Topic)
		}
		if r.AverageScore >= strongCutoff {
			out.StrongTopics = append(out.StrongTopics, r.Topic)
		} else if r.AverageScore < weakCutoff {
			weak = append(weak, r)
		}
		if r.NeedsIntervention {
			out.NeedsHelp = true
		}
	}
	// lowest scores first so the list leads with what to work on next
	sort.SliceStable(weak, func(i, j int) bool { return weak[i].AverageScore < weak[j].AverageScore })
	if len(weak) > maxWeakTopics {
		weak = weak[:maxWeakTopics]
	}
	for _, r := range weak {
		out.WeakTopics = append(out.WeakTopics, r.Topic)
	}
	return out, nil
}

// ClassStudent is one learner's aggregate line in the class view.
type ClassStudent struct {
	UserID             string  `json:"user_id"`
	TotalAttempts      int     `json:"total_attempts"`
	AverageScore       float64 `json:"average_score"`
	NeedsIntervention  bool    `json:"needs_intervention"`
	InterventionReason string  `json:"intervention_reason,omitempty"`
	BelowMastery       bool    `json:"below_mastery"`
}

// ClassOverview is the instructor's course dashboard.
type ClassOverview struct {
	ContextID     string         `json:"context_id"`
	Students      []ClassStudent `json:"students"`
	QuestionStats []QuestionStat `json:"question_stats,omitempty"`
	AtRiskCount   int            `json:"at_risk_count"`
}

// Class aggregates every learner in a course, optionally joined with the
// per-question error heatmap for one resource link.
func (s *Service) Class(ctx context.Context, contextID, resourceID string) (ClassOverview, error) {
	rows, err := s.Store.ListByContext(ctx, contextID)
	if err != nil {
		return ClassOverview{}, err
	}

	type agg struct {
		attempts int
		sum      float64
		topics   int
		needs    bool
		reason   string
	}
	perUser := map[string]*agg{}
	var order []string
	for _, r := range rows {
		a, ok := perUser[r.UserID]
		if !ok {
			a = &agg{}
			perUser[r.UserID] = a
			order = append(order, r.UserID)
		}
		a.attempts += r.TotalAttempts
		a.sum += r.AverageScore
		a.topics++
		if r.NeedsIntervention && !a.needs {
			a.needs = true
			a.reason = r.InterventionReason
		}
	}

	out := ClassOverview{ContextID: contextID}
	for _, userID := range order {
		a := perUser[userID]
		avg := 0.0
		if a.topics > 0 {
			avg = a.sum / float64(a.topics)
		}
		st := ClassStudent{
			UserID:             userID,
			TotalAttempts:      a.attempts,
			AverageScore:       avg,
			NeedsIntervention:  a.needs,
			InterventionReason: a.reason,
			BelowMastery:       avg < s.MasteryThreshold,
		}
		if st.NeedsIntervention || st.BelowMastery {
			out.AtRiskCount++
		}
		out.Students = append(out.Students, st)
	}

	if resourceID != "" {
		stats, err := s.Store.QuestionStats(ctx, resourceID)
		if err != nil {
			return ClassOverview{}, err
		}
		out.QuestionStats = stats
	}
	return out, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
