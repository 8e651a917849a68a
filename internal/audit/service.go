package audit

import (
	"context"
	"fmt"
	"time"
)

// TimelineFilters holds the filters accepted by the timeline endpoint.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	UserID   string
	Tool     string
	Status   string
	Page     int
	PageSize int
}

// PagingInfo carries simple pagination metadata.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// Result wraps timeline rows with paging information.
type Result struct {
	Rows   []Entry
	Paging PagingInfo
}

// Querier is the read surface the timeline service needs.
type Querier interface {
	Query(ctx context.Context, f QueryFilters) ([]Entry, error)
}

// Service coordinates audit timeline reads.
type Service struct {
	repo Querier
}

// NewService builds a timeline service.
func NewService(repo Querier) *Service {
	return &Service{repo: repo}
}

// Timeline fetches one page of entries. Page sizes are clamped to keep
// the endpoint cheap.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}

	rows, err := s.repo.Query(ctx, QueryFilters{
		From:   filters.From,
		To:     filters.To,
		UserID: filters.UserID,
		Tool:   filters.Tool,
		Status: filters.Status,
		Limit:  pageSize + 1,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		return Result{}, err
	}

	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}
