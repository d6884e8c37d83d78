package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/saodatJustdice/review-analyzer/pkg/review"
)

// HTTP fetches reviews from a JSON endpoint that speaks the continuation
// token protocol:
//
//	GET {endpoint}/apps/{app_id}/reviews?lang=&country=&sort=&count=&token=
//	{"reviews": [...], "next_token": "..."}
type HTTP struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

// NewHTTP creates a new JSON review source.
func NewHTTP(endpoint, apiKey string) *HTTP {
	return &HTTP{
		client:   &http.Client{Timeout: 30 * time.Second},
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
	}
}

func (h *HTTP) Name() Kind { return KindHTTP }

type httpBatch struct {
	Reviews   []RawRecord `json:"reviews"`
	NextToken string      `json:"next_token"`
}

func (h *HTTP) FetchBatch(ctx context.Context, req BatchRequest) (*Batch, error) {
	q := url.Values{}
	q.Set("lang", req.Language)
	q.Set("country", req.Country)
	q.Set("sort", string(req.Sort))
	q.Set("count", strconv.Itoa(req.Count))
	if req.Token != "" {
		q.Set("token", req.Token)
	}
	u := fmt.Sprintf("%s/apps/%s/reviews?%s", h.endpoint, url.PathEscape(req.AppID), q.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, review.TransportError("create reviews request", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "review-analyzer/1.0")
	if h.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, review.TransportError("fetch reviews", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, review.TransportError("fetch reviews",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var out httpBatch
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, review.TransportError("decode reviews", err)
	}
	return &Batch{Records: out.Reviews, NextToken: out.NextToken}, nil
}
