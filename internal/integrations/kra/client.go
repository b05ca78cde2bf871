/**
 * @description
 * HTTP client for the KRA (Korea Racing Authority) public data API.
 * Fetches race cards, entries, horse/jockey/trainer records and results.
 *
 * @dependencies
 * - github.com/cenkalti/backoff/v4: retries on 5xx and timeouts
 * - golang.org/x/time/rate: client-side request pacing
 * - backend/internal/config
 *
 * @notes
 * - Every response is wrapped in {response:{header,body}}; any resultCode
 *   other than "00" is a permanent failure.
 */

package kra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/racewise/backend/internal/config"
	"github.com/racewise/backend/internal/logger"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL  = "https://apis.data.go.kr/B551015"
	DefaultTimeout  = 15 * time.Second
	defaultRows     = 100
	maxRetryElapsed = 30 * time.Second
	resultOK        = "00"
	dateLayout      = "20060102"
)

const (
	endpointRaceInfo    = "/api/raceInfo"
	endpointEntryInfo   = "/api/entryInfo"
	endpointHorseInfo   = "/api/horseInfo"
	endpointJockeyInfo  = "/api/jockeyInfo"
	endpointTrainerInfo = "/api/trainerInfo"
	endpointRaceResult  = "/api/raceResult"
)

var ErrMissingAPIKey = errors.New("kra api key is not configured")

// APIError is a non-success HTTP status or result code from the API.
type APIError struct {
	StatusCode int
	ResultCode string
	Message    string
}

func (e *APIError) Error() string {
	if e.ResultCode != "" {
		return fmt.Sprintf("kra api error: result code %s: %s", e.ResultCode, e.Message)
	}
	return fmt.Sprintf("kra api error: status %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	// MaxElapsed bounds the retry loop for one call.
	MaxElapsed time.Duration
}

func NewClient(cfg *config.Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.KRA.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.KRA.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rps := cfg.KRA.RequestsPerSec
	if rps <= 0 {
		rps = 10
	}

	return &Client{
		BaseURL:    baseURL,
		APIKey:     cfg.KRA.APIKey,
		HTTPClient: &http.Client{Timeout: timeout},
		Limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		MaxElapsed: maxRetryElapsed,
	}
}

// RacesByDate lists the race card for a day, optionally for one track.
func (c *Client) RacesByDate(ctx context.Context, date time.Time, meet string) ([]RaceInfo, error) {
	q := url.Values{}
	q.Set("rcDate", FormatDate(date))
	if meet != "" {
		q.Set("meet", meet)
	}
	q.Set("numOfRows", "1000")
	return fetch[RaceInfo](ctx, c, endpointRaceInfo, q)
}

// Entries lists the runners of one race.
func (c *Client) Entries(ctx context.Context, date time.Time, raceNo int, meet string) ([]HorseEntry, error) {
	q := raceQuery(date, raceNo, meet)
	return fetch[HorseEntry](ctx, c, endpointEntryInfo, q)
}

// Results lists finishing positions of one race.
func (c *Client) Results(ctx context.Context, date time.Time, raceNo int, meet string) ([]RaceResult, error) {
	q := raceQuery(date, raceNo, meet)
	return fetch[RaceResult](ctx, c, endpointRaceResult, q)
}

// Horse returns a horse's record, or nil when the API has none.
func (c *Client) Horse(ctx context.Context, hrNo string) (*HorseDetail, error) {
	return fetchOne[HorseDetail](ctx, c, endpointHorseInfo, url.Values{"hrNo": {hrNo}})
}

// Jockey returns a jockey's record, or nil when the API has none.
func (c *Client) Jockey(ctx context.Context, jkNo string) (*JockeyInfo, error) {
	return fetchOne[JockeyInfo](ctx, c, endpointJockeyInfo, url.Values{"jkNo": {jkNo}})
}

// Trainer returns a trainer's record, or nil when the API has none.
func (c *Client) Trainer(ctx context.Context, trNo string) (*TrainerInfo, error) {
	return fetchOne[TrainerInfo](ctx, c, endpointTrainerInfo, url.Values{"trNo": {trNo}})
}

func raceQuery(date time.Time, raceNo int, meet string) url.Values {
	q := url.Values{}
	q.Set("rcDate", FormatDate(date))
	q.Set("rcNo", strconv.Itoa(raceNo))
	q.Set("meet", meet)
	return q
}

func fetchOne[T any](ctx context.Context, c *Client, endpoint string, q url.Values) (*T, error) {
	items, err := fetch[T](ctx, c, endpoint, q)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func fetch[T any](ctx context.Context, c *Client, endpoint string, q url.Values) ([]T, error) {
	if c.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if q.Get("numOfRows") == "" {
		q.Set("numOfRows", strconv.Itoa(defaultRows))
	}
	q.Set("serviceKey", c.APIKey)
	q.Set("_type", "json")
	u := c.BaseURL + endpoint + "?" + q.Encode()

	var env envelope[T]
	operation := func() error {
		if err := c.Limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			apiErr := &APIError{StatusCode: resp.StatusCode, Message: logger.Truncate(string(body), 200)}
			if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		env = envelope[T]{}
		if err := json.Unmarshal(body, &env); err != nil {
			return backoff.Permanent(fmt.Errorf("decode kra %s response: %w", endpoint, err))
		}
		if code := env.Response.Header.ResultCode; code != resultOK {
			return backoff.Permanent(&APIError{StatusCode: resp.StatusCode, ResultCode: code, Message: env.Response.Header.ResultMsg})
		}
		return nil
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.MaxElapsedTime = c.MaxElapsed
	notify := func(err error, wait time.Duration) {
		logger.Warn("KRA %s request failed, retrying in %s: %v", endpoint, wait, err)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(strategy, ctx), notify); err != nil {
		return nil, err
	}

	return env.Response.Body.Items.Item, nil
}

var trackNames = map[string]string{
	"1": "서울",
	"2": "부산경남",
	"3": "제주",
}

// TrackCodes lists the meet codes in display order.
func TrackCodes() []string {
	return []string{"1", "2", "3"}
}

// TrackName maps a meet code to its Korean name.
func TrackName(code string) string {
	if name, ok := trackNames[code]; ok {
		return name
	}
	return "알 수 없음"
}

// FormatDate renders YYYYMMDD in KST.
func FormatDate(t time.Time) string {
	return t.In(KST).Format(dateLayout)
}

// ParseDate reads YYYYMMDD (or YYYY-MM-DD) as a KST calendar date.
func ParseDate(s string) (time.Time, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "-", "")
	return time.ParseInLocation(dateLayout, s, KST)
}

// ParseFinishTime reads "1:12.3" or "72.3" as seconds.
func ParseFinishTime(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	var minutes float64
	if i := strings.Index(s, ":"); i >= 0 {
		m, err := strconv.ParseFloat(s[:i], 64)
		if err != nil {
			return 0, false
		}
		minutes = m
		s = s[i+1:]
	}
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return minutes*60 + sec, true
}

// KST is the timezone race dates are expressed in.
var KST = time.FixedZone("KST", 9*60*60)
