package source

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"github.com/saodatJustdice/review-analyzer/pkg/review"
)

const (
	appStoreBaseURL = "https://itunes.apple.com"
	// Apple serves at most ten pages of customer reviews per app.
	appStoreMaxPages = 10
)

// AppStore reads the Apple customer-reviews Atom feed. The continuation token
// is the next page number.
type AppStore struct {
	client  *http.Client
	parser  *gofeed.Parser
	baseURL string
}

// NewAppStore creates an App Store source. An empty baseURL selects Apple's.
func NewAppStore(baseURL string) *AppStore {
	if baseURL == "" {
		baseURL = appStoreBaseURL
	}
	return &AppStore{
		client:  &http.Client{Timeout: 30 * time.Second},
		parser:  gofeed.NewParser(),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (a *AppStore) Name() Kind { return KindAppStore }

func (a *AppStore) FetchBatch(ctx context.Context, req BatchRequest) (*Batch, error) {
	page := 1
	if req.Token != "" {
		n, err := strconv.Atoi(req.Token)
		if err != nil || n < 1 {
			return nil, review.ValidationError("fetch app store reviews", "bad page token %q", req.Token)
		}
		page = n
	}
	country := req.Country
	if country == "" {
		country = "us"
	}
	sortBy := "mostrecent"
	if req.Sort == SortRelevance {
		sortBy = "mosthelpful"
	}

	u := fmt.Sprintf("%s/%s/rss/customerreviews/page=%d/id=%s/sortby=%s/xml",
		a.baseURL, country, page, req.AppID, sortBy)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, review.TransportError("create app store request", err)
	}
	httpReq.Header.Set("User-Agent", "review-analyzer/1.0")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, review.TransportError("fetch app store page "+strconv.Itoa(page), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, review.TransportError("fetch app store page "+strconv.Itoa(page),
			fmt.Errorf("status %d", resp.StatusCode))
	}

	feed, err := a.parser.Parse(resp.Body)
	if err != nil {
		return nil, review.TransportError("parse app store feed", err)
	}

	batch := &Batch{}
	for _, entry := range feed.Items {
		rating := extValue(entry.Extensions, "im", "rating")
		// The first entry of older feeds describes the app itself.
		if rating == "" {
			continue
		}
		batch.Records = append(batch.Records, entryRecord(entry, rating))
	}
	if len(batch.Records) > 0 && page < appStoreMaxPages {
		batch.NextToken = strconv.Itoa(page + 1)
	}
	return batch, nil
}

func entryRecord(entry *gofeed.Item, rating string) RawRecord {
	text := entry.Content
	if text == "" {
		text = entry.Description
	}
	author := ""
	if entry.Author != nil {
		author = entry.Author.Name
	}
	at := Field{}
	switch {
	case entry.UpdatedParsed != nil:
		at = Scalar(entry.UpdatedParsed.UTC().Format(time.RFC3339))
	case entry.PublishedParsed != nil:
		at = Scalar(entry.PublishedParsed.UTC().Format(time.RFC3339))
	}

	rec := RawRecord{
		ReviewID: Scalar(entry.GUID),
		UserName: Scalar(author),
		Score:    Scalar(rating),
		Content:  Scalar(strings.TrimSpace(text)),
		At:       at,
	}
	if v := extValue(entry.Extensions, "im", "version"); v != "" {
		rec.AppVersion = Scalar(v)
	}
	return rec
}

func extValue(exts ext.Extensions, prefix, name string) string {
	if exts == nil {
		return ""
	}
	values := exts[prefix][name]
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0].Value)
}
