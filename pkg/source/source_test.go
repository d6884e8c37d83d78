package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/saodatJustdice/review-analyzer/pkg/review"
)

func TestFieldUnmarshal(t *testing.T) {
	cases := map[string]struct {
		in   string
		kind FieldKind
		want string
	}{
		"string":         {`"abc"`, FieldScalar, "abc"},
		"number":         {`42`, FieldScalar, "42"},
		"null":           {`null`, FieldAbsent, ""},
		"wrapped":        {`{"value": "abc"}`, FieldWrapped, "abc"},
		"wrapped number": {`{"value": 5}`, FieldWrapped, "5"},
		"wrapped null":   {`{"value": null}`, FieldAbsent, ""},
		"object":         {`{"other": 1}`, FieldInvalid, ""},
		"array":          {`[1, 2]`, FieldInvalid, ""},
		"nested wrapper": {`{"value": {"value": 1}}`, FieldInvalid, ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var f Field
			if err := json.Unmarshal([]byte(tc.in), &f); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if f.Kind != tc.kind {
				t.Fatalf("kind = %d, want %d", f.Kind, tc.kind)
			}
			s, err := f.String()
			if tc.kind == FieldInvalid {
				if err == nil {
					t.Fatal("expected error for invalid field")
				}
				return
			}
			if err != nil || s != tc.want {
				t.Fatalf("String() = %q, %v; want %q", s, err, tc.want)
			}
		})
	}
}

func TestFieldCoercion(t *testing.T) {
	var rec RawRecord
	raw := `{"reviewId": {"value": "r1"}, "score": "4", "at": "2025-03-01T10:00:00", "content": null}`
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		t.Fatal(err)
	}

	if id, _ := rec.ReviewID.String(); id != "r1" {
		t.Fatalf("review id = %q", id)
	}
	if n, err := rec.Score.Int(); err != nil || n != 4 {
		t.Fatalf("score = %d, %v", n, err)
	}
	if n, err := rec.UserName.Int(); err != nil || n != 0 {
		t.Fatalf("absent int = %d, %v", n, err)
	}
	at, err := rec.At.Time()
	if err != nil || !at.Equal(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("at = %v, %v", at, err)
	}
	if s, err := rec.Content.String(); err != nil || s != "" {
		t.Fatalf("content = %q, %v", s, err)
	}

	if _, err := Scalar("five").Int(); err == nil {
		t.Fatal("expected error for non-numeric score")
	}
	if ts, err := Scalar(json.Number("1700000000")).Time(); err != nil || ts.Unix() != 1700000000 {
		t.Fatalf("unix time = %v, %v", ts, err)
	}
}

func TestHTTPFetchBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/apps/com.example/reviews" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("sort") != "newest" || q.Get("count") != "2" || q.Get("lang") != "en" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if q.Get("token") == "" {
			fmt.Fprint(w, `{"reviews": [{"reviewId": "a", "score": 5}, {"reviewId": "b", "score": {"value": 1}}], "next_token": "p2"}`)
			return
		}
		fmt.Fprint(w, `{"reviews": []}`)
	}))
	defer srv.Close()

	src := NewHTTP(srv.URL+"/", "secret")
	req := BatchRequest{AppID: "com.example", Language: "en", Country: "us", Sort: SortNewest, Count: 2}

	b, err := src.FetchBatch(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Records) != 2 || b.NextToken != "p2" {
		t.Fatalf("batch = %+v", b)
	}
	if n, _ := b.Records[1].Score.Int(); n != 1 {
		t.Fatalf("wrapped score = %d", n)
	}

	req.Token = b.NextToken
	b, err = src.FetchBatch(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Records) != 0 || b.NextToken != "" {
		t.Fatalf("expected exhausted batch, got %+v", b)
	}
}

func TestHTTPStatusIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.URL, "").FetchBatch(context.Background(), BatchRequest{AppID: "x"})
	if !review.IsKind(err, review.KindTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

const appStoreFeed = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns:im="http://itunes.apple.com/rss" xmlns="http://www.w3.org/2005/Atom" xml:lang="en">
  <id>https://itunes.apple.com/us/rss/customerreviews/page=1/id=123/sortby=mostrecent/xml</id>
  <title>iTunes Store: Customer Reviews</title>
  <updated>2025-03-02T10:00:00-07:00</updated>
  <entry>
    <updated>2025-03-01T09:00:00-07:00</updated>
    <id>11111</id>
    <title>Great</title>
    <content type="text">Love it, works great</content>
    <im:rating>5</im:rating>
    <im:version>2.1</im:version>
    <author><name>ann</name></author>
  </entry>
  <entry>
    <updated>2025-02-28T09:00:00-07:00</updated>
    <id>22222</id>
    <title>Crashes</title>
    <content type="text">Keeps crashing</content>
    <im:rating>1</im:rating>
    <author><name>bob</name></author>
  </entry>
</feed>`

func TestAppStoreFetchBatch(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/atom+xml")
		fmt.Fprint(w, appStoreFeed)
	}))
	defer srv.Close()

	src := NewAppStore(srv.URL)
	b, err := src.FetchBatch(context.Background(), BatchRequest{AppID: "123", Country: "gb", Token: "3"})
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/gb/rss/customerreviews/page=3/id=123/sortby=mostrecent/xml" {
		t.Fatalf("path = %s", gotPath)
	}
	if len(b.Records) != 2 || b.NextToken != "4" {
		t.Fatalf("batch = %d records, token %q", len(b.Records), b.NextToken)
	}

	first := b.Records[0]
	id, _ := first.ReviewID.String()
	user, _ := first.UserName.String()
	score, _ := first.Score.Int()
	version, _ := first.AppVersion.String()
	if id != "11111" || user != "ann" || score != 5 || version != "2.1" {
		t.Fatalf("record = %q %q %d %q", id, user, score, version)
	}
	at, err := first.At.Time()
	if err != nil || !at.Equal(time.Date(2025, 3, 1, 16, 0, 0, 0, time.UTC)) {
		t.Fatalf("at = %v, %v", at, err)
	}
}

func TestAppStoreLastPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, appStoreFeed)
	}))
	defer srv.Close()

	b, err := NewAppStore(srv.URL).FetchBatch(context.Background(), BatchRequest{AppID: "123", Token: "10"})
	if err != nil {
		t.Fatal(err)
	}
	if b.NextToken != "" {
		t.Fatalf("expected no token after the last page, got %q", b.NextToken)
	}

	if _, err := NewAppStore(srv.URL).FetchBatch(context.Background(), BatchRequest{AppID: "123", Token: "x"}); err == nil {
		t.Fatal("expected error for a bad token")
	}
}

func TestNewSource(t *testing.T) {
	if _, err := New(Config{Kind: KindHTTP}); err == nil {
		t.Fatal("http source without endpoint should fail")
	}
	if s, err := New(Config{Kind: KindAppStore}); err != nil || s.Name() != KindAppStore {
		t.Fatalf("appstore source = %v, %v", s, err)
	}
	if _, err := New(Config{Kind: "ftp"}); err == nil {
		t.Fatal("unknown kind should fail")
	}
}
