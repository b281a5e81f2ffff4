package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/wayline/wayline/apps/api/geo"
	"github.com/wayline/wayline/apps/api/models"

	_ "modernc.org/sqlite"
)

// schemaSQL is embedded at compile time from schema.sql
//
//go:embed schema.sql
var schemaSQL string

// SQLiteDB wraps a SQL database connection for SQLite
type SQLiteDB struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writes, SQLite allows a single writer
}

// NewSQLiteDB opens a SQLite database with WAL mode enabled
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal=WAL&_fk=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 10000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			log.Printf("Warning: failed to set %s: %v", pragma, err)
		}
	}

	return &SQLiteDB{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *SQLiteDB) GetDB() *sql.DB {
	return s.db
}

// EnsureSchema creates tables if they don't exist
func (s *SQLiteDB) EnsureSchema(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	log.Println("Database schema ensured (from embedded schema.sql)")
	return nil
}

// UpsertFeeds records feed display names
func (s *SQLiteDB) UpsertFeeds(ctx context.Context, feeds map[string]string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for id, name := range feeds {
		if _, err := tx.ExecContext(ctx, upsertFeedSQLite, id, name); err != nil {
			return fmt.Errorf("failed to upsert feed %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit feeds: %w", err)
	}
	return nil
}

const upsertFeedSQLite = `
	INSERT INTO feeds (onestop_id, name) VALUES (?, ?)
	ON CONFLICT (onestop_id) DO UPDATE SET name = excluded.name
`

// SQLiteStopRepository serves stop queries from SQLite
type SQLiteStopRepository struct {
	db *sql.DB
}

// NewSQLiteStopRepository creates a new SQLiteStopRepository
func NewSQLiteStopRepository(db *sql.DB) *SQLiteStopRepository {
	return &SQLiteStopRepository{db: db}
}

// Ping checks database connectivity
func (r *SQLiteStopRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// FindStopsNear returns the stops within the query radius, nearest first,
// with their route associations
func (r *SQLiteStopRepository) FindStopsNear(ctx context.Context, q models.NearbyQuery) ([]models.RawStop, error) {
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
		WHERE s.stop_lat BETWEEN ? AND ?
		  AND s.stop_lon BETWEEN ? AND ?
		  AND (s.location_type = 1 OR s.parent_station IS NULL OR s.parent_station = '')
	`
	args := []interface{}{box.MinLat, box.MaxLat, box.MinLon, box.MaxLon}
	if q.BikeOnly {
		query += " AND s.is_bike_station <> 0"
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stops: %w", err)
	}
	defer rows.Close()

	var candidates []models.RawStop
	for rows.Next() {
		var s models.RawStop
		var capacity sql.NullInt64
		var providerType, providerID sql.NullString
		err := rows.Scan(
			&s.ID,
			&s.Name,
			&s.Lat,
			&s.Lon,
			&s.ProviderID,
			&s.FeedName,
			&s.LocationType,
			&s.IsBikeStation,
			&capacity,
			&providerType,
			&providerID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stop row: %w", err)
		}
		if capacity.Valid {
			c := int(capacity.Int64)
			s.BikeCapacity = &c
		}
		if providerType.Valid {
			s.ProviderType = &providerType.String
		}
		if providerID.Valid {
			s.BikeProviderID = &providerID.String
		}
		candidates = append(candidates, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stop rows: %w", err)
	}

	return attachRoutes(ctx, nearest(q, candidates), r.routesForStops), nil
}

func (r *SQLiteStopRepository) routesForStops(ctx context.Context, feedID string, stopIDs []string) (map[string][]models.RouteRef, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(stopIDs)), ",")
	query := `
		SELECT
			rs.stop_id,
			COALESCE(r.route_short_name, ''),
			COALESCE(r.route_color, ''),
			COALESCE(r.route_type, 0),
			r.feed_onestop_id
		FROM route_stops rs
		JOIN routes r ON r.feed_onestop_id = rs.feed_onestop_id AND r.route_id = rs.route_id
		WHERE rs.feed_onestop_id = ? AND rs.stop_id IN (` + placeholders + `)
		ORDER BY rs.stop_id, r.route_short_name
	`
	args := make([]interface{}, 0, len(stopIDs)+1)
	args = append(args, feedID)
	for _, id := range stopIDs {
		args = append(args, id)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
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
func (r *SQLiteStopRepository) GetStop(ctx context.Context, feedID, stopID string) (*models.Stop, error) {
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
		WHERE s.feed_onestop_id = ? AND s.stop_id = ?
	`

	var s models.Stop
	var code sql.NullString
	var wheelchair sql.NullInt64
	err := r.db.QueryRowContext(ctx, query, feedID, stopID).Scan(
		&s.ID,
		&s.Name,
		&s.Lat,
		&s.Lon,
		&s.FeedID,
		&s.FeedName,
		&s.IsBike,
		&code,
		&wheelchair,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("stop %s:%s: %w", feedID, stopID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query stop: %w", err)
	}
	if code.Valid {
		s.StopCode = &code.String
	}
	if wheelchair.Valid {
		w := int(wheelchair.Int64)
		s.Wheelchair = &w
	}
	return &s, nil
}

// GetRouteShapes returns the route lines of the given feeds that have a geometry
func (r *SQLiteStopRepository) GetRouteShapes(ctx context.Context, feedIDs []string) ([]models.RouteShape, error) {
	if len(feedIDs) == 0 {
		return []models.RouteShape{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(feedIDs)), ",")
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
		  AND r.feed_onestop_id IN (` + placeholders + `)
		ORDER BY r.feed_onestop_id, r.route_short_name
	`
	args := make([]interface{}, 0, len(feedIDs))
	for _, id := range feedIDs {
		args = append(args, id)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
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
