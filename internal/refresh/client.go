// Package refresh queries the image service for the most recent images.
package refresh

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

	"github.com/lsst-camera-dev/recent-images/internal/models"
)

const (
	// DefaultTimeout bounds one fetch when the context has no deadline.
	DefaultTimeout = 30 * time.Second

	// SortNewestFirst orders images by observation date, newest first.
	SortNewestFirst = `[{"selector":"obsDate","desc":true}]`

	defaultUserAgent = "recent-images"

	// maxBodyBytes caps the response size read from the service.
	maxBodyBytes = 32 << 20
)

// ErrMissingData is returned when the response has no data field.
var ErrMissingData = errors.New("response has no data field")

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("images query failed: %s", e.Status)
}

// Config configures a Client.
type Config struct {
	// RestURL is the service's REST root; images are queried at RestURL + "images".
	RestURL *url.URL
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Timeout applies when the request context has no deadline.
	Timeout   time.Duration
	UserAgent string
}

// Client fetches the image list. It is safe for concurrent use.
type Client struct {
	imagesURL *url.URL
	http      *http.Client
	timeout   time.Duration
	userAgent string
}

// NewClient creates a client for the images endpoint under cfg.RestURL.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RestURL == nil {
		return nil, errors.New("rest URL is required")
	}
	imagesURL := cfg.RestURL.ResolveReference(&url.URL{Path: "images"})

	c := &Client{
		imagesURL: imagesURL,
		http:      cfg.HTTPClient,
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	return c, nil
}

// BuildURL returns the query URL for rows images matching filter. Parameters
// are written in the order take, filter, sort; filter is left out when empty.
func (c *Client) BuildURL(rows int, filter string) string {
	params := []string{"take=" + strconv.Itoa(rows)}
	if filter != "" {
		params = append(params, "filter="+url.QueryEscape(filter))
	}
	params = append(params, "sort="+url.QueryEscape(SortNewestFirst))

	u := *c.imagesURL
	u.RawQuery = strings.Join(params, "&")
	return u.String()
}

// Fetch queries the service and returns the complete row collection in
// server order. Any transport, status or decoding failure is returned as an
// error and no partial result is produced.
func (c *Client) Fetch(ctx context.Context, rows int, filter string) ([]models.ImageRecord, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BuildURL(rows, filter), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating images request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying images: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var body models.ImagesResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding images response: %w", err)
	}
	if body.Data == nil {
		return nil, ErrMissingData
	}
	return *body.Data, nil
}
