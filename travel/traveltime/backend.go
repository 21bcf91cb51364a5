package traveltime

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
)

// Backend is the external routing engine: pairwise durations and batch
// tables, in seconds at a nominal profile.
type Backend interface {
	RouteDuration(ctx context.Context, origin, dest travel.GeoPoint) (float64, error)
	Table(ctx context.Context, points []travel.GeoPoint) ([][]float64, error)
}

// OSRMBackend talks to an OSRM-compatible HTTP routing service.
type OSRMBackend struct {
	baseURL string
	profile string
	client  *http.Client
	limiter *rate.Limiter
}

// NewOSRMBackend builds a routing client. rps caps outbound request
// rate client-side; the server may throttle further.
func NewOSRMBackend(baseURL, profile string, timeout time.Duration, rps int) *OSRMBackend {
	if profile == "" {
		profile = "driving"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if rps <= 0 {
		rps = 10
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &OSRMBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		profile: profile,
		client:  &http.Client{Timeout: timeout, Transport: transport},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

type osrmRouteResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Duration float64 `json:"duration"`
	} `json:"routes"`
}

type osrmTableResponse struct {
	Code      string      `json:"code"`
	Durations [][]float64 `json:"durations"`
}

// RouteDuration returns driving seconds between two points.
func (b *OSRMBackend) RouteDuration(ctx context.Context, origin, dest travel.GeoPoint) (float64, error) {
	url := fmt.Sprintf("%s/route/v1/%s/%s?overview=false", b.baseURL, b.profile, coordPath([]travel.GeoPoint{origin, dest}))

	var resp osrmRouteResponse
	if err := b.getJSON(ctx, url, &resp); err != nil {
		return 0, err
	}
	if resp.Code != "Ok" || len(resp.Routes) == 0 {
		return 0, fmt.Errorf("routing backend returned code %q", resp.Code)
	}
	return resp.Routes[0].Duration, nil
}

// Table returns the full NxN duration matrix over the given points.
func (b *OSRMBackend) Table(ctx context.Context, points []travel.GeoPoint) ([][]float64, error) {
	if len(points) == 0 {
		return nil, nil
	}
	url := fmt.Sprintf("%s/table/v1/%s/%s?annotations=duration", b.baseURL, b.profile, coordPath(points))

	var resp osrmTableResponse
	if err := b.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	if resp.Code != "Ok" || len(resp.Durations) != len(points) {
		return nil, fmt.Errorf("routing backend returned code %q with %d rows", resp.Code, len(resp.Durations))
	}
	return resp.Durations, nil
}

func (b *OSRMBackend) getJSON(ctx context.Context, url string, out any) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("routing request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("routing backend status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode routing response: %w", err)
	}
	return nil
}

// coordPath renders points as OSRM lng,lat pairs joined by semicolons.
func coordPath(points []travel.GeoPoint) string {
	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = fmt.Sprintf("%f,%f", p.Lng, p.Lat)
	}
	return strings.Join(parts, ";")
}
