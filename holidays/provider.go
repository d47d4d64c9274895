/*
Package holidays fetches public holidays from an external HTTP provider.

PURPOSE:
  Implements generic.HolidayProvider over a JSON API keyed by year. The
  provider is unreliable by assumption: callers (generic.CachedCalendar)
  treat every error here as "degrade to cached or empty set".

WIRE FORMAT:
  GET https://api.boostr.cl/holidays/{year}.json

  {
    "status": "success",
    "data": [
      {"date": "2025-01-01", "title": "Año Nuevo", "type": "Civil", "inalienable": true},
      ...
    ]
  }

  Only "date" is consumed. Entries with a missing or unparsable date are
  skipped; a non-"success" status or a body that is not JSON is an error.

SEE ALSO:
  - generic/calendar.go: caching + fail-open on top of this provider
  - store/sqlite/sqlite.go: local holiday table used when no URL is configured
*/
package holidays

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/warp/practicas-engine/generic"
)

// DefaultURLTemplate is the public Chilean holiday API.
const DefaultURLTemplate = "https://api.boostr.cl/holidays/{year}.json"

// maxBody caps how much of a provider response we read.
const maxBody = 1 << 20

// HTTPProvider fetches holidays for one year per request.
type HTTPProvider struct {
	// URLTemplate must contain "{year}".
	URLTemplate string
	Client      *http.Client
}

// NewHTTPProvider creates a provider with the default fetch timeout.
func NewHTTPProvider(urlTemplate string) *HTTPProvider {
	if urlTemplate == "" {
		urlTemplate = DefaultURLTemplate
	}
	return &HTTPProvider{
		URLTemplate: urlTemplate,
		Client:      &http.Client{Timeout: generic.DefaultFetchTimeout},
	}
}

type response struct {
	Status string  `json:"status"`
	Data   []entry `json:"data"`
}

type entry struct {
	Date string `json:"date"`
}

// FetchHolidays implements generic.HolidayProvider.
func (p *HTTPProvider) FetchHolidays(ctx context.Context, year int) ([]generic.TimePoint, error) {
	url := strings.ReplaceAll(p.URLTemplate, "{year}", strconv.Itoa(year))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("holiday request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: generic.DefaultFetchTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("holiday fetch %d: %w", year, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("holiday fetch %d: unexpected status %d", year, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("holiday fetch %d: %w", year, err)
	}
	return Parse(body)
}

// Parse decodes a provider payload into holiday dates.
func Parse(body []byte) ([]generic.TimePoint, error) {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("malformed holiday payload: %w", err)
	}
	if r.Status != "success" {
		return nil, fmt.Errorf("holiday provider status %q", r.Status)
	}

	dates := make([]generic.TimePoint, 0, len(r.Data))
	for _, e := range r.Data {
		d, err := generic.ParseDate(e.Date)
		if err != nil {
			continue
		}
		dates = append(dates, d)
	}
	return dates, nil
}

var _ generic.HolidayProvider = (*HTTPProvider)(nil)
