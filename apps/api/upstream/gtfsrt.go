package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/wayline/wayline/apps/api/departures"
	"github.com/wayline/wayline/apps/api/models"
)

// pastWindow is how far back predictions are kept. Feeds that retain stops
// already served would otherwise fill the requested window with them.
const pastWindow = 30 * time.Minute

// GTFSRT reads departures for a stop out of a provider's GTFS-Realtime trip updates feed
type GTFSRT struct {
	feedID  string
	url     string
	headers map[string]string
	client  *http.Client
	loc     *time.Location
	now     func() time.Time
}

// NewGTFSRT creates a trip updates client for one provider
func NewGTFSRT(feedID, feedURL string, headers map[string]string, client *http.Client, loc *time.Location) *GTFSRT {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &GTFSRT{
		feedID:  feedID,
		url:     feedURL,
		headers: headers,
		client:  client,
		loc:     loc,
		now:     time.Now,
	}
}

// Fetch implements departures.Fetcher. It returns the Limit earliest
// predictions for the stop that are not older than pastWindow.
func (g *GTFSRT) Fetch(ctx context.Context, req departures.FetchRequest) ([]departures.RawDeparture, error) {
	feed, err := g.fetchFeed(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := g.now().Add(-pastWindow)

	var out []departures.RawDeparture
	for _, entity := range feed.GetEntity() {
		tripUpdate := entity.GetTripUpdate()
		if tripUpdate == nil {
			continue
		}
		trip := tripUpdate.GetTrip()

		for _, stu := range tripUpdate.GetStopTimeUpdate() {
			if stu.GetStopId() != req.StopID {
				continue
			}
			if stu.GetScheduleRelationship() == gtfs.TripUpdate_StopTimeUpdate_SKIPPED {
				continue
			}

			ts := stu.GetDeparture().GetTime()
			if ts == 0 {
				ts = stu.GetArrival().GetTime()
			}
			if ts == 0 {
				continue
			}
			at := time.Unix(ts, 0)
			if at.Before(cutoff) {
				continue
			}

			out = append(out, departures.RawDeparture{
				DepartureTime: at.In(g.loc).Format("15:04:05"),
				At:            at,
				ServiceDate:   trip.GetStartDate(),
				TripID:        trip.GetTripId(),
				Route: models.RouteRef{
					ShortName:  trip.GetRouteId(),
					ProviderID: g.feedID,
				},
				RouteID:              trip.GetRouteId(),
				StopSequence:         int(stu.GetStopSequence()),
				Realtime:             true,
				ScheduleRelationship: stu.GetScheduleRelationship().String(),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].At.Before(out[j].At)
	})
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

func (g *GTFSRT) fetchFeed(ctx context.Context) (*gtfs.FeedMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range g.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	feed := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("failed to parse protobuf: %w", err)
	}
	return feed, nil
}
