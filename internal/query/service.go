// Package query lists, searches and paginates stored articles.
package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-refresher/internal/article"
)

// DefaultLimit is the page size used when none or an invalid one is given.
const DefaultLimit = 9

// Fixed result sizes for the non-paginated listings.
const (
	FeaturedSize = 3
	RecentSize   = 4
	RelatedSize  = 3
)

// Mode selects the listing a request resolves to.
type Mode string

// Listing modes in dispatch priority order.
const (
	ModeFeatured Mode = "featured"
	ModeRecent   Mode = "recent"
	ModeByID     Mode = "by_id"
	ModeRelated  Mode = "related"
	ModeSearch   Mode = "search"
	ModeAll      Mode = "all"
)

// Params are the listing inputs.
type Params struct {
	Featured bool
	Recent   bool
	ID       string
	Related  string
	Search   string
	Page     int
	Limit    int
}

// Mode reports which listing p resolves to.
func (p Params) Mode() Mode {
	switch {
	case p.Featured:
		return ModeFeatured
	case p.Recent:
		return ModeRecent
	case p.ID != "":
		return ModeByID
	case p.Related != "":
		return ModeRelated
	case p.Search != "":
		return ModeSearch
	default:
		return ModeAll
	}
}

// ParamsFromQuery reads listing parameters from URL query values. Missing or
// invalid page and limit values fall back to 0 and DefaultLimit.
func ParamsFromQuery(values url.Values) Params {
	return Params{
		Featured: values.Get("featured") == "true",
		Recent:   values.Get("recent") == "true",
		ID:       values.Get("_id"),
		Related:  values.Get("related"),
		Search:   values.Get("search"),
		Page:     leadingInt(values.Get("page")),
		Limit:    leadingInt(values.Get("limit")),
	}
}

// leadingInt parses the leading integer of s, returning 0 when there is none.
func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) {
		c := s[end]
		if (c == '-' || c == '+') && end == 0 {
			end++
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// Pagination describes where a page sits in the full result.
type Pagination struct {
	CurrentPage int   `json:"currentPage"`
	TotalPages  int   `json:"totalPages"`
	TotalCount  int64 `json:"totalCount"`
	Limit       int   `json:"limit"`
	HasNextPage bool  `json:"hasNextPage"`
	HasPrevPage bool  `json:"hasPrevPage"`
	NextPage    *int  `json:"nextPage"`
	PrevPage    *int  `json:"prevPage"`
}

// NewPagination computes the metadata for page of size limit over total records.
func NewPagination(page, limit int, total int64) Pagination {
	if page < 0 {
		page = 0
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	totalPages := 0
	if total > 0 {
		totalPages = int((total-1)/int64(limit) + 1)
	}
	p := Pagination{
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalCount:  total,
		Limit:       limit,
		HasNextPage: page < totalPages-1,
		HasPrevPage: page > 0,
	}
	if p.HasNextPage {
		next := page + 1
		p.NextPage = &next
	}
	if p.HasPrevPage {
		prev := page - 1
		p.PrevPage = &prev
	}
	return p
}

// Page is one listing result.
type Page struct {
	Posts      []article.Record `json:"posts"`
	Pagination Pagination       `json:"pagination"`
}

// Service answers listing requests from a store.
type Service struct {
	store  article.Store
	logger *zap.Logger
}

// New returns a Service. A nil logger disables logging.
func New(store article.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger.Named("query")}
}

// pageOffset returns page*limit, saturating at math.MaxInt64 so a huge page
// lands past the end of the result instead of wrapping negative.
func pageOffset(page, limit int) int64 {
	if page <= 0 || limit <= 0 {
		return 0
	}
	if int64(page) > math.MaxInt64/int64(limit) {
		return math.MaxInt64
	}
	return int64(page) * int64(limit)
}

// List resolves p to a listing and returns the matching page. Malformed ids
// produce an empty result rather than an error.
func (s *Service) List(ctx context.Context, p Params) (Page, error) {
	if p.Page < 0 {
		p.Page = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	skip := pageOffset(p.Page, p.Limit)
	mode := p.Mode()

	var (
		filter article.Filter
		opts   article.FindOptions
		total  int64
		fixed  bool
	)
	switch mode {
	case ModeFeatured:
		opts = article.FindOptions{Sort: article.SortPublishedAsc, Limit: FeaturedSize}
		total, fixed = FeaturedSize, true
	case ModeRecent:
		opts = article.FindOptions{Sort: article.SortPublishedDesc, Limit: RecentSize}
		total, fixed = RecentSize, true
	case ModeByID:
		filter = article.Filter{ID: p.ID}
	case ModeRelated:
		filter = article.Filter{ExcludeID: p.Related}
		opts = article.FindOptions{Limit: RelatedSize}
		total, fixed = RelatedSize, true
	case ModeSearch:
		filter = article.Filter{Search: p.Search}
		opts = article.FindOptions{Sort: article.SortPublishedDesc, Skip: skip, Limit: int64(p.Limit)}
	default:
		opts = article.FindOptions{Sort: article.SortPublishedDesc, Skip: skip, Limit: int64(p.Limit)}
	}

	if mode == ModeSearch || mode == ModeAll {
		n, err := s.store.Count(ctx, filter)
		if err != nil {
			return Page{}, s.fail(mode, err)
		}
		total = n
	}

	posts, err := s.store.Find(ctx, filter, opts)
	switch {
	case errors.Is(err, article.ErrInvalidID):
		s.logger.Debug("malformed id, returning empty listing", zap.String("mode", string(mode)))
		posts = []article.Record{}
		if !fixed {
			total = 0
		}
	case err != nil:
		return Page{}, s.fail(mode, err)
	}
	if posts == nil {
		posts = []article.Record{}
	}
	if mode == ModeByID {
		total = int64(len(posts))
	}
	return Page{Posts: posts, Pagination: NewPagination(p.Page, p.Limit, total)}, nil
}

func (s *Service) fail(mode Mode, err error) error {
	s.logger.Error("listing posts failed", zap.String("mode", string(mode)), zap.Error(err))
	return fmt.Errorf("list %s posts: %w", mode, err)
}
