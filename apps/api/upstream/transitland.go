// Package upstream implements the departure sources behind the cache
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wayline/wayline/apps/api/departures"
	"github.com/wayline/wayline/apps/api/models"
)

// DefaultTransitlandURL is the base of the Transitland REST API
const DefaultTransitlandURL = "https://transit.land/api/v2/rest"

// Transitland fetches scheduled and estimated departures from the Transitland REST API
type Transitland struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewTransitland creates a Transitland client. An empty baseURL uses the public API.
func NewTransitland(baseURL, apiKey string, client *http.Client) *Transitland {
	if baseURL == "" {
		baseURL = DefaultTransitlandURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Transitland{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

type transitlandResponse struct {
	Stops []struct {
		StopName   string                 `json:"stop_name"`
		Departures []transitlandDeparture `json:"departures"`
	} `json:"stops"`
}

type transitlandDeparture struct {
	DepartureTime        string `json:"departure_time"`
	ArrivalTime          string `json:"arrival_time"`
	ServiceDate          string `json:"service_date"`
	StopSequence         int    `json:"stop_sequence"`
	ScheduleRelationship string `json:"schedule_relationship"`
	Trip                 struct {
		TripID       string `json:"trip_id"`
		TripHeadsign string `json:"trip_headsign"`
		Route        struct {
			RouteID        string `json:"route_id"`
			RouteShortName string `json:"route_short_name"`
			RouteLongName  string `json:"route_long_name"`
			RouteColor     string `json:"route_color"`
			RouteType      int    `json:"route_type"`
		} `json:"route"`
	} `json:"trip"`
	Departure *stopTimeEstimate `json:"departure"`
	Arrival   *stopTimeEstimate `json:"arrival"`
}

type stopTimeEstimate struct {
	Estimated *string `json:"estimated"`
}

func (e *stopTimeEstimate) has() bool {
	return e != nil && e.Estimated != nil && *e.Estimated != ""
}

// Fetch implements departures.Fetcher
func (t *Transitland) Fetch(ctx context.Context, req departures.FetchRequest) ([]departures.RawDeparture, error) {
	endpoint := fmt.Sprintf("%s/stops/%s/departures?limit=%s",
		t.baseURL,
		url.PathEscape(req.FeedID+":"+req.StopID),
		strconv.Itoa(req.Limit),
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if t.apiKey != "" {
		httpReq.Header.Set("apikey", t.apiKey)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch departures: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("transitland returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload transitlandResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode departures: %w", err)
	}

	var out []departures.RawDeparture
	for _, stop := range payload.Stops {
		for _, d := range stop.Departures {
			out = append(out, departures.RawDeparture{
				DepartureTime: d.DepartureTime,
				ArrivalTime:   d.ArrivalTime,
				ServiceDate:   d.ServiceDate,
				TripID:        d.Trip.TripID,
				Headsign:      d.Trip.TripHeadsign,
				Route: models.RouteRef{
					ShortName:  d.Trip.Route.RouteShortName,
					Color:      d.Trip.Route.RouteColor,
					Type:       d.Trip.Route.RouteType,
					ProviderID: req.FeedID,
				},
				RouteID:              d.Trip.Route.RouteID,
				RouteLongName:        d.Trip.Route.RouteLongName,
				StopSequence:         d.StopSequence,
				Realtime:             d.Departure.has() || d.Arrival.has(),
				ScheduleRelationship: d.ScheduleRelationship,
			})
		}
	}
	return out, nil
}
