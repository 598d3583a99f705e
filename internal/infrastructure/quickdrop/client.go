// Package quickdrop is a small client for the public QuickDrop REST API.
package quickdrop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/example/quickdrop-slots/internal/domain/availability"
	"github.com/example/quickdrop-slots/internal/domain/order"
	"github.com/example/quickdrop-slots/internal/internaltypes"
)

type Client struct {
	hc      *http.Client
	baseURL string
	creds   Credentials
}

// Credentials identify this service to the backend. Both are optional for the
// public endpoints.
type Credentials struct {
	ClientKey string // X-Internal-Client
	Token     string // Bearer
}

func New(baseURL string, creds Credentials, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		hc:      &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
	}
}

// APIError is a non-2xx reply. Detail carries the backend's "detail" field.
type APIError struct {
	Status int
	Detail string
	err    error
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("quickdrop: %s (status=%d)", e.Detail, e.Status)
	}
	return fmt.Sprintf("quickdrop: status=%d", e.Status)
}

func (e *APIError) Unwrap() error { return e.err }

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	return err
}

type hoursResponse struct {
	Interval int                     `json:"appointment_interval"`
	Hours    []availability.DayHours `json:"hours"`
}

// BusinessHours returns the published week and slot spacing of a business.
// Unset fields fall back to the storefront defaults. Backends without an
// hours route answer 404 there; the business itself is then looked up and,
// when it exists, the defaults are returned.
func (c *Client) BusinessHours(ctx context.Context, slug string) (availability.Schedule, error) {
	body, err := c.do(ctx, http.MethodGet, "/business/public/"+url.PathEscape(slug)+"/hours", nil, nil)
	if errors.Is(err, internaltypes.ErrNotFound) {
		if err := c.businessExists(ctx, slug); err != nil {
			return availability.Schedule{}, err
		}
		return availability.Schedule{}.Normalize(), nil
	}
	if err != nil {
		return availability.Schedule{}, err
	}
	var res hoursResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return availability.Schedule{}, fmt.Errorf("decode hours: %w", err)
	}
	week, err := availability.NewWeeklyHours(res.Hours)
	if err != nil {
		return availability.Schedule{}, fmt.Errorf("hours for %s: %w", slug, err)
	}
	return availability.Schedule{
		Step:  availability.Granularity(res.Interval),
		Hours: week,
	}.Normalize(), nil
}

func (c *Client) businessExists(ctx context.Context, slug string) error {
	q := map[string]string{"limit": "1"}
	_, err := c.do(ctx, http.MethodGet, "/business/public/"+url.PathEscape(slug), q, nil)
	return err
}

// BusyTimes returns the raw booked times of a business on date. Values are
// passed through untouched; the domain normalizes them.
func (c *Client) BusyTimes(ctx context.Context, slug string, date time.Time) ([]string, error) {
	q := map[string]string{"date": date.Format(availability.DateLayout)}
	body, err := c.do(ctx, http.MethodGet, "/business/public/availability/"+url.PathEscape(slug), q, nil)
	if err != nil {
		return nil, err
	}
	var res struct {
		BusyTimes []string `json:"busy_times"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode busy times: %w", err)
	}
	return res.BusyTimes, nil
}

// PlaceOrder submits a public order for slug.
func (c *Client) PlaceOrder(ctx context.Context, slug string, req order.Request) (order.Receipt, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return order.Receipt{}, err
	}
	body, err := c.do(ctx, http.MethodPost, "/orders/public/place-order/"+url.PathEscape(slug), nil, payload)
	if err != nil {
		return order.Receipt{}, err
	}
	var r order.Receipt
	if err := json.Unmarshal(body, &r); err != nil {
		return order.Receipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	return r, nil
}

func (c *Client) do(ctx context.Context, method, path string, query map[string]string, payload []byte) ([]byte, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.creds.ClientKey != "" {
		req.Header.Set("X-Internal-Client", c.creds.ClientKey)
	}
	if c.creds.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.creds.Token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, newAPIError(resp.StatusCode, body)
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	// FastAPI puts a string in "detail" for HTTPException and a list for
	// validation errors.
	var r struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &r) == nil && len(r.Detail) > 0 {
		var s string
		if json.Unmarshal(r.Detail, &s) == nil {
			e.Detail = s
		} else {
			e.Detail = string(r.Detail)
		}
	}
	switch status {
	case http.StatusNotFound:
		e.err = internaltypes.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		e.err = internaltypes.ErrUnauthorized
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		e.err = internaltypes.ErrInvalidInput
	}
	return e
}
