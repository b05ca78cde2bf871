package kra

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/racewise/backend/internal/config"
)

func newTestClient(url string) *Client {
	c := NewClient(&config.Config{KRA: config.KRAConfig{BaseURL: url, APIKey: "key", RequestsPerSec: 100}})
	c.MaxElapsed = 5 * time.Second
	return c
}

func TestEntriesDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/entryInfo" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("serviceKey") != "key" || q.Get("rcDate") != "20241103" || q.Get("rcNo") != "5" || q.Get("meet") != "1" {
			t.Errorf("unexpected query %v", q)
		}
		_, _ = w.Write([]byte(`{"response":{"header":{"resultCode":"00","resultMsg":"OK"},"body":{"items":{"item":[
			{"hrNo":"3","hrName":"번개","hrRegNo":"0041234","age":"4","rating":75,"wgHr":"470","wgBudam":55.5,"jkNo":"080123","trNo":"070011","ordNo":3,"odds":"4.2"},
			{"hrNo":"7","hrName":"천둥","age":5,"ordNo":"","odds":""}
		]},"totalCount":2}}}`))
	}))
	defer srv.Close()

	date, _ := ParseDate("20241103")
	entries, err := newTestClient(srv.URL).Entries(context.Background(), date, 5, "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries[0]
	if first.Age != 4 || first.WgHr != 470 || first.Odds != 4.2 || first.RegistrationNumber() != "0041234" {
		t.Fatalf("unexpected first entry: %+v", first)
	}
	second := entries[1]
	if second.Gate() != 7 || second.RegistrationNumber() != "7" || second.Odds != 0 {
		t.Fatalf("unexpected second entry: %+v", second)
	}
}

func TestSingleItemAndEmptyBodies(t *testing.T) {
	body := `{"response":{"header":{"resultCode":"00"},"body":{"items":{"item":{"jkNo":"080123","jkName":"김기수","totRcCnt":"120","win1Rate":"12.5"}}}}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("jkNo") == "none" {
			_, _ = w.Write([]byte(`{"response":{"header":{"resultCode":"00"},"body":{"items":""}}}`))
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	j, err := c.Jockey(context.Background(), "080123")
	if err != nil || j == nil {
		t.Fatalf("expected jockey, got %v / %v", j, err)
	}
	if j.JkName != "김기수" || j.TotRcCnt != 120 || j.Win1Rate != 12.5 {
		t.Fatalf("unexpected jockey %+v", j)
	}

	missing, err := c.Jockey(context.Background(), "none")
	if err != nil || missing != nil {
		t.Fatalf("expected nil jockey without error, got %v / %v", missing, err)
	}
}

func TestResultCodeIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"response":{"header":{"resultCode":"30","resultMsg":"SERVICE KEY IS NOT REGISTERED"}}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).RacesByDate(context.Background(), time.Now(), "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.ResultCode != "30" {
		t.Fatalf("expected result code error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("result code errors must not be retried, got %d calls", calls)
	}
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"response":{"header":{"resultCode":"00"},"body":{"items":{"item":[{"rcNo":1,"meet":"1","rcDist":"1200"}]}}}}`))
	}))
	defer srv.Close()

	races, err := newTestClient(srv.URL).RacesByDate(context.Background(), time.Now(), "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(races) != 1 || races[0].RcDist != 1200 {
		t.Fatalf("unexpected races %+v", races)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).RacesByDate(context.Background(), time.Now(), "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 api error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestHelpers(t *testing.T) {
	d, err := ParseDate("2024-11-03")
	if err != nil || FormatDate(d) != "20241103" {
		t.Fatalf("date round trip failed: %v %v", d, err)
	}
	if TrackName("2") != "부산경남" || TrackName("9") != "알 수 없음" {
		t.Fatal("unexpected track names")
	}
	if s, ok := ParseFinishTime("1:12.5"); !ok || s != 72.5 {
		t.Fatalf("ParseFinishTime = %v %v", s, ok)
	}
	if _, ok := ParseFinishTime(""); ok {
		t.Fatal("empty finish time should not parse")
	}
}

func TestMissingKey(t *testing.T) {
	c := NewClient(&config.Config{})
	if _, err := c.RacesByDate(context.Background(), time.Now(), ""); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}
