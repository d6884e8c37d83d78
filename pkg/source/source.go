package source

import (
	"context"
	"fmt"
)

// Sort selects the ordering of reviews returned by a source.
type Sort string

const (
	SortNewest    Sort = "newest"
	SortRelevance Sort = "relevance"
)

// Kind identifies a source implementation.
type Kind string

const (
	KindHTTP     Kind = "http"
	KindAppStore Kind = "appstore"
)

// BatchRequest asks a source for one page of reviews.
type BatchRequest struct {
	AppID    string
	Language string
	Country  string
	Sort     Sort
	Count    int
	// Token is the continuation cursor from the previous batch; empty for the
	// first batch.
	Token string
}

// Batch is one page of raw records. An empty NextToken means the source is
// exhausted.
type Batch struct {
	Records   []RawRecord
	NextToken string
}

// Source is the interface every review source must implement.
type Source interface {
	Name() Kind
	FetchBatch(ctx context.Context, req BatchRequest) (*Batch, error)
}

// Config selects and configures a source.
type Config struct {
	Kind     Kind
	Endpoint string
	APIKey   string
}

// New builds the source named by cfg.Kind.
func New(cfg Config) (Source, error) {
	switch cfg.Kind {
	case KindHTTP, "":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("http source requires an endpoint")
		}
		return NewHTTP(cfg.Endpoint, cfg.APIKey), nil
	case KindAppStore:
		return NewAppStore(cfg.Endpoint), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}
