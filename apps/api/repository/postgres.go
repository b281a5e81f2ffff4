package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wayline/wayline/apps/api/geo"
	"github.com/wayline/wayline/apps/api/models"
)

// PostgresStopRepository serves stop queries from Postgres
type PostgresStopRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresStopRepository connects to databaseURL
func NewPostgresStopRepository(ctx context.Context, databaseURL string) (*PostgresStopRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStopRepository{pool: pool}, nil
}

// Close closes the pool
func (r *PostgresStopRepository) Close() {
	r.pool.Close()
}

// Ping checks database connectivity
func (r *PostgresStopRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// EnsureSchema creates tables if they don't exist
func (r *PostgresStopRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// UpsertFeeds records feed display names
func (r *PostgresStopRepository) UpsertFeeds(ctx context.Context, feeds map[string]string) error {
	batch := &pgx.Batch{}
	for id, name := range feeds {
		batch.Queue(`
			INSERT INTO feeds (onestop_id, name) VALUES ($1, $2)
			ON CONFLICT (onestop_id) DO UPDATE SET name = excluded.name
		`, id, name)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert feeds: %w", err)
	}
	return nil
}

// FindStopsNear returns the stops within the query radius, nearest first,
// with their route associations
func (r *PostgresStopRepository) FindStopsNear(ctx context.Context, q models.NearbyQuery) ([]models.RawStop, error) {
	box := geo.BoundsAround(geo.Point{Lat: q.Lat, Lon: q.Lon}, q.RadiusMeters)

	query := `
		SELECT
			s.stop_id,
			s.stop_name,
			s.stop_lat,
			s.stop_lon,
			s.feed_onestop_id,
			COALESCE(f.name, ''),
			s.location_type,
			s.is_bike_station <> 0,
			s.bike_capacity,
			s.provider_type,
			s.provider_id
		FROM stops s
		LEFT JOIN feeds f ON f.onestop_id = s.feed_onestop_id
		WHERE s.stop_lat BETWEEN $1 AND $2
		  AND s.stop_lon BETWEEN $3 AND $4
		  AND (s.location_type = 1 OR s.parent_station IS NULL OR s.parent_station = '')
		  AND ($5 = false OR s.is_bike_station <> 0)
	`

	rows, err := r.pool.Query(ctx, query, box.MinLat, box.MaxLat, box.MinLon, box.MaxLon, q.BikeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to query stops: %w", err)
	}
	defer rows.Close()

	var candidates []models.RawStop
	for rows.Next() {
		var s models.RawStop
		err := rows.Scan(
			&s.ID,
			&s.Name,
			&s.Lat,
			&s.Lon,
			&s.ProviderID,
			&s.FeedName,
			&s.LocationType,
			&s.IsBikeStation,
			&s.BikeCapacity,
			&s.ProviderType,
			&s.BikeProviderID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stop row: %w", err)
		}
		candidates = append(candidates, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stop rows: %w", err)
	}

	return attachRoutes(ctx, nearest(q, candidates), r.routesForStops), nil
}

func (r *PostgresStopRepository) routesForStops(ctx context.Context, feedID string, stopIDs []string) (map[string][]models.RouteRef, error) {
	query := `
		SELECT
			rs.stop_id,
			COALESCE(r.route_short_name, ''),
			COALESCE(r.route_color, ''),
			COALESCE(r.route_type, 0),
			r.feed_onestop_id
		FROM route_stops rs
		JOIN routes r ON r.feed_onestop_id = rs.feed_onestop_id AND r.route_id = rs.route_id
		WHERE rs.feed_onestop_id = $1 AND rs.stop_id = ANY($2)
		ORDER BY rs.stop_id, r.route_short_name
	`

	rows, err := r.pool.Query(ctx, query, feedID, stopIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query routes: %w", err)
	}
	defer rows.Close()

	routes := make(map[string][]models.RouteRef)
	for rows.Next() {
		var stopID string
		var ref models.RouteRef
		if err := rows.Scan(&stopID, &ref.ShortName, &ref.Color, &ref.Type, &ref.ProviderID); err != nil {
			return nil, fmt.Errorf("failed to scan route row: %w", err)
		}
		routes[stopID] = append(routes[stopID], ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating route rows: %w", err)
	}
	return routes, nil
}

// GetStop returns a single stop by feed and stop id
func (r *PostgresStopRepository) GetStop(ctx context.Context, feedID, stopID string) (*models.Stop, error) {
	if feedID == "" || stopID == "" {
		return nil, errors.New("feed_onestop_id and stop_id cannot be empty")
	}

	query := `
		SELECT
			s.stop_id,
			s.stop_name,
			s.stop_lat,
			s.stop_lon,
			s.feed_onestop_id,
			COALESCE(f.name, ''),
			s.is_bike_station <> 0,
			s.stop_code,
			s.wheelchair_boarding
		FROM stops s
		LEFT JOIN feeds f ON f.onestop_id = s.feed_onestop_id
		WHERE s.feed_onestop_id = $1 AND s.stop_id = $2
	`

	var s models.Stop
	err := r.pool.QueryRow(ctx, query, feedID, stopID).Scan(
		&s.ID,
		&s.Name,
		&s.Lat,
		&s.Lon,
		&s.FeedID,
		&s.FeedName,
		&s.IsBike,
		&s.StopCode,
		&s.Wheelchair,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("stop %s:%s: %w", feedID, stopID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query stop: %w", err)
	}
	return &s, nil
}

// GetRouteShapes returns the route lines of the given feeds that have a geometry
func (r *PostgresStopRepository) GetRouteShapes(ctx context.Context, feedIDs []string) ([]models.RouteShape, error) {
	if len(feedIDs) == 0 {
		return []models.RouteShape{}, nil
	}
	query := `
		SELECT
			COALESCE(r.route_short_name, ''),
			COALESCE(r.route_long_name, ''),
			COALESCE(r.route_color, ''),
			COALESCE(r.route_type, 0),
			r.feed_onestop_id,
			COALESCE(f.name, ''),
			r.geometry
		FROM routes r
		LEFT JOIN feeds f ON f.onestop_id = r.feed_onestop_id
		WHERE r.geometry IS NOT NULL AND r.geometry <> ''
		  AND r.feed_onestop_id = ANY($1)
		ORDER BY r.feed_onestop_id, r.route_short_name
	`

	rows, err := r.pool.Query(ctx, query, feedIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query route shapes: %w", err)
	}
	defer rows.Close()

	shapes := []models.RouteShape{}
	for rows.Next() {
		var s models.RouteShape
		var geometry string
		if err := rows.Scan(&s.ShortName, &s.LongName, &s.Color, &s.Type, &s.FeedID, &s.FeedName, &geometry); err != nil {
			return nil, fmt.Errorf("failed to scan route shape row: %w", err)
		}
		s.Geometry = []byte(geometry)
		shapes = append(shapes, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating route shape rows: %w", err)
	}
	return shapes, nil
}
