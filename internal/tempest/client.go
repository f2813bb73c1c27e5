// Package tempest fetches device observations from the WeatherFlow Tempest REST API.
package tempest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tempest-sync/internal/models"
	"tempest-sync/internal/schema"
)

// DefaultBaseURL is the Tempest REST API root.
const DefaultBaseURL = "https://swd.weatherflow.com/swd/rest"

// maxErrorBody bounds how much of a failed response is kept in a StatusError.
const maxErrorBody = 512

// Client is an HTTP client for the Tempest observations endpoint.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a new Tempest API client. A zero timeout means none.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tempest api returned status %d: %s", e.StatusCode, e.Body)
}

// IsTransient returns false; nothing in this tool retries.
func (e *StatusError) IsTransient() bool {
	return false
}

// ObservationsURL builds the CSV observations request for one device and time range.
func (c *Client) ObservationsURL(deviceID, start, end int64) (string, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}

	u := base.JoinPath("observations", "device", strconv.FormatInt(deviceID, 10))
	u.RawQuery = url.Values{
		"time_start": {strconv.FormatInt(start, 10)},
		"time_end":   {strconv.FormatInt(end, 10)},
		"format":     {"csv"},
		"token":      {c.Token},
	}.Encode()

	return u.String(), nil
}

// FetchObservations fetches one page of observations for deviceID between start
// and end (epoch seconds). An empty slice means the API has no data for the window.
func (c *Client) FetchObservations(ctx context.Context, deviceID, start, end int64) ([]*models.Observation, error) {
	reqURL, err := c.ObservationsURL(deviceID, start, end)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch request: %w", err)
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch request failed: %w", c.redact(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	observations, err := DecodeObservations(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode observations for device %d: %w", deviceID, err)
	}

	return observations, nil
}

// redact removes the API token from transport errors, which quote the request URL.
func (c *Client) redact(err error) error {
	var uerr *url.Error
	if c.Token == "" || !errors.As(err, &uerr) {
		return err
	}
	redacted := *uerr
	redacted.URL = strings.ReplaceAll(uerr.URL, url.QueryEscape(c.Token), "REDACTED")
	return &redacted
}

// DecodeObservations parses a Tempest CSV body. The header row must name every
// weather column; data rows are matched to it by name, not position.
func DecodeObservations(r io.Reader) ([]*models.Observation, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return []*models.Observation{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	for i, name := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
	}
	if err := checkHeader(header); err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}

	observations := []*models.Observation{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}

		raw := make(models.RawObservation, len(header))
		for i, name := range header {
			raw[name] = record[i]
		}

		line, _ := reader.FieldPos(0)
		obs, err := raw.ToObservation()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		observations = append(observations, obs)
	}

	return observations, nil
}

func checkHeader(header []string) error {
	present := make(map[string]bool, len(header))
	for _, name := range header {
		present[name] = true
	}
	for _, name := range schema.ColumnNames() {
		if !present[name] {
			return &models.MissingColumnError{Column: name}
		}
	}
	return nil
}
