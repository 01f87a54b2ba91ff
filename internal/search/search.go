// Package search dispatches keyword, semantic, and hybrid queries, wiring
// together store.SanitizeFTSQuery, store.LexicalSearch, store.SemanticSearch,
// store.HybridFusion, and an optional expand.Expander.
package search

import (
	"fmt"

	"github.com/pyrite-go/kbsearch/internal/embedding"
	"github.com/pyrite-go/kbsearch/internal/expand"
	"github.com/pyrite-go/kbsearch/internal/store"
)

// Mode selects a search strategy.
type Mode string

const (
	ModeKeyword  Mode = "keyword"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

// allKBsSentinel is the presentation-layer null for "no KB filter".
const allKBsSentinel = "All KBs"

// Default RRF parameters, exposed as configuration.
const (
	DefaultRRFK         = 60
	DefaultRRFOverfetch = 2
)

// Default semantic-leg distance cutoffs.
const (
	DefaultSemanticMaxDistance = 1.1
	DefaultHybridMaxDistance   = 1.3
)

// Request is the external search call surface.
type Request struct {
	Query     string
	KBName    string
	EntryType string
	Tags      []string
	DateFrom  string
	DateTo    string
	Limit     int
	Offset    int
	Mode      Mode
	Expand    bool
}

// Engine ties the store, an optional embedding provider, and an optional
// query expander together to answer Request values.
type Engine struct {
	db           *store.DB
	provider     embedding.Provider
	expander     expand.Expander
	rrfK         int
	rrfOverfetch int
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithRRFParams overrides the default RRF constants.
func WithRRFParams(k, overfetch int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.rrfK = k
		}
		if overfetch > 0 {
			e.rrfOverfetch = overfetch
		}
	}
}

// New builds an Engine. provider and expander may be nil, degrading
// semantic/expansion support silently.
func New(db *store.DB, provider embedding.Provider, expander expand.Expander, opts ...Option) *Engine {
	e := &Engine{db: db, provider: provider, expander: expander, rrfK: DefaultRRFK, rrfOverfetch: DefaultRRFOverfetch}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// normalizeKBName converts the "All KBs" presentation sentinel to absence
// of filter, a service-boundary concern.
func normalizeKBName(kbName string) string {
	if kbName == allKBsSentinel {
		return ""
	}
	return kbName
}

// Search dispatches req to the keyword, semantic, or hybrid strategy.
func (e *Engine) Search(req Request) ([]store.Hit, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	kbName := normalizeKBName(req.KBName)
	filters := store.SearchFilters{
		KBName:    kbName,
		EntryType: req.EntryType,
		Tags:      req.Tags,
		DateFrom:  req.DateFrom,
		DateTo:    req.DateTo,
	}

	switch req.Mode {
	case ModeSemantic:
		return e.searchSemantic(req.Query, kbName, limit, DefaultSemanticMaxDistance)
	case ModeHybrid:
		return e.searchHybrid(req, filters, kbName, limit)
	case ModeKeyword, "":
		return e.searchKeyword(req, filters, limit, req.Offset)
	default:
		return nil, fmt.Errorf("unknown search mode %q", req.Mode)
	}
}

func (e *Engine) searchKeyword(req Request, filters store.SearchFilters, limit, offset int) ([]store.Hit, error) {
	query := req.Query
	if req.Expand && e.expander != nil {
		query = expand.ExpandQuery(e.expander, req.Query)
	}
	sanitized := store.SanitizeFTSQuery(query)
	return e.db.LexicalSearch(sanitized, filters, limit, offset)
}

func (e *Engine) searchSemantic(query, kbName string, limit int, maxDistance float64) ([]store.Hit, error) {
	if e.provider == nil {
		return nil, nil
	}
	hits, err := e.db.SearchSimilar(e.provider, query, kbName, limit, maxDistance)
	if err != nil {
		return nil, err
	}
	return hits, nil
}

func (e *Engine) searchHybrid(req Request, filters store.SearchFilters, kbName string, limit int) ([]store.Hit, error) {
	lexicalQuery := req.Query
	if req.Expand && e.expander != nil {
		lexicalQuery = expand.ExpandQuery(e.expander, req.Query)
	}
	sanitized := store.SanitizeFTSQuery(lexicalQuery)
	overfetch := limit * e.rrfOverfetch

	lexical, err := e.db.LexicalSearch(sanitized, filters, overfetch, 0)
	if err != nil {
		return nil, err
	}

	var semantic []store.Hit
	if e.provider != nil {
		// The semantic leg always uses the original, unexpanded query.
		semantic, err = e.db.SearchSimilar(e.provider, req.Query, kbName, overfetch, DefaultHybridMaxDistance)
		if err != nil {
			return nil, err
		}
	}

	return store.HybridFusion(lexical, semantic, e.rrfK, req.Offset, limit), nil
}
