package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexGoal indexes a goal (fire-and-forget to Meilisearch).
func (s *Service) IndexGoal(g GoalRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexGoal(g); err != nil {
			log.Printf("search: index goal %s: %v", g.ID, err)
		}
	}()
}

// IndexReview indexes a submitted weekly review (fire-and-forget to Meilisearch).
func (s *Service) IndexReview(r ReviewRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexReview(r); err != nil {
			log.Printf("search: index review %s: %v", r.ID, err)
		}
	}()
}

// DeleteGoal removes a goal from the search index (fire-and-forget).
func (s *Service) DeleteGoal(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteGoal(id); err != nil {
			log.Printf("search: delete goal %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	goals, reviews, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if len(goals) > 0 {
		if err := s.meili.IndexGoals(goals); err != nil {
			log.Printf("search: reindex goals: %v", err)
		}
	}
	if len(reviews) > 0 {
		if err := s.meili.IndexReviews(reviews); err != nil {
			log.Printf("search: reindex reviews: %v", err)
		}
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
