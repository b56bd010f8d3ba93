// Package holiday answers "is this date a statutory holiday or a workday"
// using a public holiday API with a local JSON cache.
//
// The calendar degrades instead of failing: when the API is unreachable or
// returns garbage the explicit day table is simply empty and classification
// falls back to plain weekday/weekend logic.
package holiday

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "remindbot/pkg/logx"
)

const (
	// DefaultBaseURL is the timor.tech holiday API root.
	DefaultBaseURL = "http://timor.tech/api"

	// DefaultTTL is how long fetched year data stays fresh.
	DefaultTTL = 30 * 24 * time.Hour

	dayKeyLayout = "01-02"
)

// Config for the calendar. Zero values fall back to the defaults above.
type Config struct {
	BaseURL   string
	CachePath string
	TTL       time.Duration
	Client    *http.Client
}

// Calendar classifies dates. Safe for concurrent use.
type Calendar struct {
	baseURL   string
	cachePath string
	ttl       time.Duration
	client    *http.Client
	limiter   *rate.Limiter
	log       logx.Logger

	mu    sync.Mutex
	years map[int]cachedYear
}

// cachedYear is the per-year day table plus its fetch time, both in memory
// and in the cache file.
type cachedYear struct {
	LastUpdate time.Time       `json:"last_update"`
	Days       map[string]bool `json:"days"` // "MM-DD" -> true=holiday, false=compensatory workday
}

type cacheFile struct {
	Years map[string]cachedYear `json:"years"`
}

func New(cfg Config, log logx.Logger) *Calendar {
	c := &Calendar{
		baseURL:   cfg.BaseURL,
		cachePath: cfg.CachePath,
		ttl:       cfg.TTL,
		client:    cfg.Client,
		// The public API is rate limited server-side; one request per
		// few seconds with a small burst is plenty for prefetch + lookups.
		limiter: rate.NewLimiter(rate.Every(5*time.Second), 3),
		log:     log,
		years:   make(map[int]cachedYear),
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: 10 * time.Second}
	}
	c.loadCacheFile()
	return c
}

// IsHoliday reports whether t falls on a rest day. An explicit API entry is
// authoritative; otherwise weekends count as holidays.
func (c *Calendar) IsHoliday(t time.Time) bool {
	if hol, ok := c.dayInfo(t); ok {
		return hol
	}
	return isWeekend(t)
}

// IsWorkday reports whether t falls on a working day, including weekend
// days the calendar marks as compensatory workdays. Never true together
// with IsHoliday for the same date.
func (c *Calendar) IsWorkday(t time.Time) bool {
	if hol, ok := c.dayInfo(t); ok {
		return !hol
	}
	return !isWeekend(t)
}

// FetchYear returns the explicit day table for a year, fetching it when
// missing or stale. Failures yield an empty map, never an error.
func (c *Calendar) FetchYear(ctx context.Context, year int) map[string]bool {
	c.mu.Lock()
	cy, ok := c.years[year]
	fresh := ok && time.Since(cy.LastUpdate) < c.ttl
	c.mu.Unlock()
	if fresh {
		return cy.Days
	}

	days := c.fetch(ctx, year)
	if days == nil {
		// Stale data beats no data.
		if ok {
			return cy.Days
		}
		return map[string]bool{}
	}

	c.mu.Lock()
	c.years[year] = cachedYear{LastUpdate: time.Now(), Days: days}
	c.mu.Unlock()
	c.saveCacheFile()
	return days
}

// Prefetch warms the cache, typically from a maintenance cron.
func (c *Calendar) Prefetch(ctx context.Context, years ...int) {
	for _, y := range years {
		c.FetchYear(ctx, y)
	}
}

func (c *Calendar) dayInfo(t time.Time) (holiday, explicit bool) {
	days := c.FetchYear(context.Background(), t.Year())
	hol, ok := days[t.Format(dayKeyLayout)]
	return hol, ok
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// apiResponse mirrors the timor.tech year endpoint. Only the holiday flag
// per day matters; names and wage multipliers are ignored.
type apiResponse struct {
	Code    int `json:"code"`
	Holiday map[string]struct {
		Holiday bool `json:"holiday"`
	} `json:"holiday"`
}

// fetch performs one API call. Returns nil on any failure.
func (c *Calendar) fetch(ctx context.Context, year int) map[string]bool {
	if !c.limiter.Allow() {
		c.log.Debug("holiday fetch suppressed by rate limit", logx.Int("year", year))
		return nil
	}

	url := fmt.Sprintf("%s/holiday/year/%d", c.baseURL, year)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.log.Warn("holiday request build failed", logx.Err(err))
		return nil
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Warn("holiday fetch failed", logx.Int("year", year), logx.Err(err))
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.log.Warn("holiday fetch bad status", logx.Int("year", year), logx.Int("status", resp.StatusCode))
		return nil
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.log.Warn("holiday response decode failed", logx.Int("year", year), logx.Err(err))
		return nil
	}
	if body.Code != 0 {
		c.log.Warn("holiday API returned error code", logx.Int("year", year), logx.Int("code", body.Code))
		return nil
	}

	days := make(map[string]bool, len(body.Holiday))
	for k, v := range body.Holiday {
		days[k] = v.Holiday
	}
	c.log.Info("holiday data fetched", logx.Int("year", year), logx.Int("days", len(days)))
	return days
}

func (c *Calendar) loadCacheFile() {
	if c.cachePath == "" {
		return
	}
	b, err := os.ReadFile(c.cachePath)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn("holiday cache read failed", logx.Err(err))
		}
		return
	}
	var f cacheFile
	if err := json.Unmarshal(b, &f); err != nil {
		c.log.Warn("holiday cache corrupt, ignoring", logx.Err(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for ys, cy := range f.Years {
		var year int
		if _, err := fmt.Sscanf(ys, "%d", &year); err != nil || year == 0 {
			continue
		}
		c.years[year] = cy
	}
}

func (c *Calendar) saveCacheFile() {
	if c.cachePath == "" {
		return
	}
	c.mu.Lock()
	f := cacheFile{Years: make(map[string]cachedYear, len(c.years))}
	for y, cy := range c.years {
		f.Years[fmt.Sprintf("%d", y)] = cy
	}
	c.mu.Unlock()

	b, err := json.MarshalIndent(&f, "", "  ")
	if err != nil {
		c.log.Warn("holiday cache marshal failed", logx.Err(err))
		return
	}
	if dir := filepath.Dir(c.cachePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			c.log.Warn("holiday cache dir create failed", logx.Err(err))
			return
		}
	}
	if err := os.WriteFile(c.cachePath, b, 0o644); err != nil {
		c.log.Warn("holiday cache write failed", logx.Err(err))
	}
}
