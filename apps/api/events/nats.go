// Package events publishes departure refreshes to NATS
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/wayline/wayline/apps/api/departures"
)

// SubjectPrefix is the first token of every departure subject
const SubjectPrefix = "departures"

// PublisherMetrics receives publish outcomes
type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	NATSSetConnected(connected bool)
}

type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

// NATSPublisher publishes a message for every upstream departure refresh
type NATSPublisher struct {
	nc      conn
	metrics PublisherMetrics
}

// NewNATSPublisher connects to url. Reconnects are handled by the client.
func NewNATSPublisher(url string, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("wayline-api"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("Events: nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("Events: nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("Events: nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return newPublisher(nc, m), nil
}

func newPublisher(nc conn, m PublisherMetrics) *NATSPublisher {
	return &NATSPublisher{nc: nc, metrics: m}
}

// Close drains pending messages and closes the connection
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			log.Printf("Events: nats drain failed: %v", err)
		}
		p.nc.Close()
	}
}

// RefreshMessage is the payload published after a refresh
type RefreshMessage struct {
	FetchID   string                 `json:"fetchId"`
	FeedID    string                 `json:"feedId"`
	StopID    string                 `json:"stopId"`
	FetchedAt time.Time              `json:"fetchedAt"`
	Past      []departures.Departure `json:"past"`
	Upcoming  []departures.Departure `json:"upcoming"`
	Later     []departures.Departure `json:"later"`
}

// Subject returns the subject a stop's refreshes are published on
func Subject(key departures.Key) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, subjectToken(key.FeedID), subjectToken(key.StopID))
}

// DeparturesRefreshed implements departures.Notifier. Failures are logged, never returned.
func (p *NATSPublisher) DeparturesRefreshed(key departures.Key, res departures.Result) {
	msg := RefreshMessage{
		FetchID:   uuid.NewString(),
		FeedID:    key.FeedID,
		StopID:    key.StopID,
		FetchedAt: res.FetchedAt.UTC(),
		Past:      res.Past,
		Upcoming:  res.Upcoming,
		Later:     res.Later,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Events: failed to marshal refresh for %s: %v", key, err)
		return
	}

	err = p.nc.Publish(Subject(key), b)
	if p.metrics != nil {
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		log.Printf("Events: failed to publish refresh for %s: %v", key, err)
	}
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS tokens cannot contain spaces, '>', '*' or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
