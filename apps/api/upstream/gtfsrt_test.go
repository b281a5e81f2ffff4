package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/wayline/wayline/apps/api/departures"
	"github.com/wayline/wayline/apps/api/providers"
)

var base = time.Date(2024, time.May, 10, 8, 0, 0, 0, time.UTC)

func stopTimeUpdate(stopID string, seq uint32, dep, arr time.Time) *gtfs.TripUpdate_StopTimeUpdate {
	stu := &gtfs.TripUpdate_StopTimeUpdate{
		StopId:       proto.String(stopID),
		StopSequence: proto.Uint32(seq),
	}
	if !dep.IsZero() {
		stu.Departure = &gtfs.TripUpdate_StopTimeEvent{Time: proto.Int64(dep.Unix())}
	}
	if !arr.IsZero() {
		stu.Arrival = &gtfs.TripUpdate_StopTimeEvent{Time: proto.Int64(arr.Unix())}
	}
	return stu
}

func tripUpdate(id, tripID, routeID string, updates ...*gtfs.TripUpdate_StopTimeUpdate) *gtfs.FeedEntity {
	return &gtfs.FeedEntity{
		Id: proto.String(id),
		TripUpdate: &gtfs.TripUpdate{
			Trip: &gtfs.TripDescriptor{
				TripId:    proto.String(tripID),
				RouteId:   proto.String(routeID),
				StartDate: proto.String("20240510"),
			},
			StopTimeUpdate: updates,
		},
	}
}

func feedServer(t *testing.T, entities ...*gtfs.FeedEntity) *httptest.Server {
	t.Helper()
	feed := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(uint64(base.Unix())),
		},
		Entity: entities,
	}
	body, err := proto.Marshal(feed)
	require.NoError(t, err)

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.Write(body)
	}))
}

func TestGTFSRTFetch(t *testing.T) {
	skipped := stopTimeUpdate("117", 4, base.Add(2*time.Minute), time.Time{})
	skipped.ScheduleRelationship = gtfs.TripUpdate_StopTimeUpdate_SKIPPED.Enum()

	srv := feedServer(t,
		tripUpdate("1", "trip-b", "L5", stopTimeUpdate("117", 5, base.Add(9*time.Minute), time.Time{})),
		tripUpdate("2", "trip-a", "L3",
			stopTimeUpdate("116", 3, base.Add(1*time.Minute), time.Time{}),
			stopTimeUpdate("117", 4, time.Time{}, base.Add(4*time.Minute)),
		),
		tripUpdate("3", "trip-c", "L3", skipped),
		tripUpdate("4", "trip-d", "L1", stopTimeUpdate("117", 2, time.Time{}, time.Time{})),
		tripUpdate("5", "trip-e", "L9", stopTimeUpdate("117", 6, base.Add(20*time.Minute), time.Time{})),
	)
	defer srv.Close()

	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)

	client := NewGTFSRT("f-metrovalencia", srv.URL, map[string]string{"Authorization": "Bearer token"}, srv.Client(), madrid)
	client.now = func() time.Time { return base }
	deps, err := client.Fetch(context.Background(), departures.FetchRequest{FeedID: "f-metrovalencia", StopID: "117", Limit: 2})
	require.NoError(t, err)

	require.Len(t, deps, 2)
	assert.Equal(t, "trip-a", deps[0].TripID)
	assert.True(t, deps[0].At.Equal(base.Add(4*time.Minute)))
	assert.Equal(t, "10:04:00", deps[0].DepartureTime)
	assert.Equal(t, "L3", deps[0].Route.ShortName)
	assert.Equal(t, "f-metrovalencia", deps[0].Route.ProviderID)
	assert.Equal(t, "20240510", deps[0].ServiceDate)
	assert.Equal(t, 4, deps[0].StopSequence)
	assert.True(t, deps[0].Realtime)
	assert.Equal(t, "SCHEDULED", deps[0].ScheduleRelationship)

	assert.Equal(t, "trip-b", deps[1].TripID)
}

func TestGTFSRTDropsLongPastPredictions(t *testing.T) {
	srv := feedServer(t,
		tripUpdate("1", "trip-old", "L3", stopTimeUpdate("117", 1, base.Add(-3*time.Hour), time.Time{})),
		tripUpdate("2", "trip-older", "L3", stopTimeUpdate("117", 1, base.Add(-45*time.Minute), time.Time{})),
		tripUpdate("3", "trip-recent", "L3", stopTimeUpdate("117", 1, base.Add(-10*time.Minute), time.Time{})),
		tripUpdate("4", "trip-next", "L3", stopTimeUpdate("117", 1, base.Add(5*time.Minute), time.Time{})),
		tripUpdate("5", "trip-later", "L3", stopTimeUpdate("117", 1, base.Add(15*time.Minute), time.Time{})),
	)
	defer srv.Close()

	client := NewGTFSRT("f-metrovalencia", srv.URL, map[string]string{"Authorization": "Bearer token"}, srv.Client(), time.UTC)
	client.now = func() time.Time { return base }

	deps, err := client.Fetch(context.Background(), departures.FetchRequest{StopID: "117", Limit: 2})
	require.NoError(t, err)

	require.Len(t, deps, 2)
	assert.Equal(t, "trip-recent", deps[0].TripID)
	assert.Equal(t, "trip-next", deps[1].TripID)
}

func TestGTFSRTErrors(t *testing.T) {
	srv := feedServer(t)
	defer srv.Close()

	// no auth header
	_, err := NewGTFSRT("f", srv.URL, nil, nil, nil).Fetch(context.Background(), departures.FetchRequest{StopID: "1", Limit: 30})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a protobuf"))
	}))
	defer garbage.Close()
	_, err = NewGTFSRT("f", garbage.URL, nil, nil, nil).Fetch(context.Background(), departures.FetchRequest{StopID: "1", Limit: 30})
	require.Error(t, err)
}

func TestRouterFor(t *testing.T) {
	tl := NewTransitland("http://transitland.invalid", "k", nil)
	router := NewRouter(tl, nil, time.UTC)

	withRT := providers.Provider{
		OnestopID: "f-a",
		Realtime:  providers.Realtime{TripUpdatesURL: "https://example.com/tu.pb"},
	}
	plain := providers.Provider{OnestopID: "f-b"}

	first := router.For(withRT)
	_, isGTFSRT := first.(*GTFSRT)
	assert.True(t, isGTFSRT)
	assert.Same(t, first, router.For(withRT))

	assert.Same(t, tl, router.For(plain))
}

func TestRouterWithoutTransitland(t *testing.T) {
	router := NewRouter(nil, nil, time.UTC)
	_, err := router.For(providers.Provider{OnestopID: "f-b"}).Fetch(context.Background(), departures.FetchRequest{StopID: "1"})
	assert.ErrorIs(t, err, ErrNoSource)
}
