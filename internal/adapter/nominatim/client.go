package nominatim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/trackside-presence/internal/domain"
	"github.com/couchcryptid/trackside-presence/internal/fetch"
	"github.com/couchcryptid/trackside-presence/internal/observability"
)

const (
	methodReverse = "reverse"
	methodPostal  = "postal"
)

// Client implements domain.Geocoder against a Nominatim-compatible API.
type Client struct {
	fetcher      *fetch.Client
	baseURL      string
	countryCodes string
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// NewClient creates a Nominatim geocoding client. Requests go through fetcher,
// which carries the retry policy and the required User-Agent.
func NewClient(baseURL, countryCodes string, fetcher *fetch.Client, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		fetcher:      fetcher,
		baseURL:      strings.TrimRight(baseURL, "/"),
		countryCodes: countryCodes,
		metrics:      metrics,
		logger:       logger,
	}
}

// ReverseGeocode converts coordinates to place details.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.Place, error) {
	params := url.Values{
		"format":         {"jsonv2"},
		"lat":            {strconv.FormatFloat(lat, 'f', 6, 64)},
		"lon":            {strconv.FormatFloat(lon, 'f', 6, 64)},
		"addressdetails": {"1"},
	}

	var res result
	if err := c.get(ctx, methodReverse, "/reverse?"+params.Encode(), &res); err != nil {
		return domain.Place{}, err
	}
	if res.Error != "" {
		c.observe(methodReverse, "not_found")
		return domain.Place{}, &domain.GeocodingError{Op: methodReverse, Reason: domain.GeocodeNotFound, Err: errors.New(res.Error)}
	}

	place, err := res.place()
	if err != nil {
		c.observe(methodReverse, "error")
		return domain.Place{}, &domain.GeocodingError{Op: methodReverse, Reason: domain.GeocodeMalformed, Err: err}
	}
	// Reverse results keep the requested coordinates rather than the matched feature's centroid.
	place.Lat, place.Lon = lat, lon
	c.observe(methodReverse, "success")
	return place, nil
}

// GeocodePostalCode resolves a ZIP or postal code to coordinates.
func (c *Client) GeocodePostalCode(ctx context.Context, code string) (domain.Place, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Place{}, &domain.GeocodingError{Op: methodPostal, Reason: domain.GeocodeNotFound, Err: errors.New("empty postal code")}
	}

	params := url.Values{
		"format":         {"jsonv2"},
		"postalcode":     {code},
		"limit":          {"1"},
		"addressdetails": {"1"},
	}
	if c.countryCodes != "" {
		params.Set("countrycodes", c.countryCodes)
	}

	var results []result
	if err := c.get(ctx, methodPostal, "/search?"+params.Encode(), &results); err != nil {
		return domain.Place{}, err
	}
	if len(results) == 0 {
		c.observe(methodPostal, "not_found")
		return domain.Place{}, &domain.GeocodingError{Op: methodPostal, Reason: domain.GeocodeNotFound, Err: fmt.Errorf("no match for %q", code)}
	}

	place, err := results[0].place()
	if err != nil {
		c.observe(methodPostal, "error")
		return domain.Place{}, &domain.GeocodingError{Op: methodPostal, Reason: domain.GeocodeMalformed, Err: err}
	}
	if place.PostalCode == "" {
		place.PostalCode = code
	}
	c.observe(methodPostal, "success")
	return place, nil
}

func (c *Client) get(ctx context.Context, method, path string, out any) error {
	start := time.Now()
	err := c.fetcher.GetJSON(ctx, c.baseURL+path, nil, out)
	if c.metrics != nil {
		c.metrics.GeocodeAPIDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}
	if err == nil {
		return nil
	}

	c.observe(method, "error")
	c.logger.Warn("geocode request failed", "method", method, "error", err)
	return &domain.GeocodingError{Op: method, Reason: classify(err), Err: err}
}

func (c *Client) observe(method, outcome string) {
	if c.metrics == nil {
		return
	}
	c.metrics.GeocodeRequests.WithLabelValues(method, outcome).Inc()
}

func classify(err error) string {
	var statusErr *fetch.StatusError
	switch {
	case errors.Is(err, fetch.ErrMalformed):
		return domain.GeocodeMalformed
	case errors.Is(err, context.DeadlineExceeded):
		return domain.GeocodeTimeout
	case errors.As(err, &statusErr) && statusErr.StatusCode == 404:
		return domain.GeocodeNotFound
	default:
		return domain.GeocodeNetwork
	}
}

// Nominatim API response types.

type result struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Address     address `json:"address"`
	Error       string  `json:"error"`
}

type address struct {
	City     string `json:"city"`
	Town     string `json:"town"`
	Village  string `json:"village"`
	Hamlet   string `json:"hamlet"`
	State    string `json:"state"`
	Country  string `json:"country"`
	Postcode string `json:"postcode"`
}

func (r result) place() (domain.Place, error) {
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return domain.Place{}, fmt.Errorf("parse lat %q: %w", r.Lat, err)
	}
	lon, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return domain.Place{}, fmt.Errorf("parse lon %q: %w", r.Lon, err)
	}
	return domain.Place{
		Lat:         lat,
		Lon:         lon,
		DisplayName: r.DisplayName,
		City:        r.Address.city(),
		Region:      r.Address.State,
		Country:     r.Address.Country,
		PostalCode:  r.Address.Postcode,
	}, nil
}

func (a address) city() string {
	for _, s := range []string{a.City, a.Town, a.Village, a.Hamlet} {
		if s != "" {
			return s
		}
	}
	return ""
}
