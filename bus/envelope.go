package bus

import (
	"time"

	"github.com/google/uuid"
)

// Envelope is the unit of traffic carried by the bus. Publishers set
// Topic, Data, and optionally Retain/ReplyTo/CorrelationID/Headers; the
// router assigns ID and Timestamp on ingress if they are left empty.
type Envelope struct {
	ID            string
	Topic         string
	Data          any
	Timestamp     time.Time
	Retain        bool
	ReplyTo       string
	CorrelationID string
	Headers       map[string]string
}

// NewEnvelope creates an Envelope with an auto-generated ID and the
// current timestamp, mirroring the enrichment the router performs on
// ingress so callers can build a fully-formed Envelope up front.
func NewEnvelope(topic string, data any) Envelope {
	return Envelope{
		ID:        uuid.New().String(),
		Topic:     topic,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// WithHeader returns a copy of the envelope with the key-value pair
// added to its headers.
func (e Envelope) WithHeader(key, value string) Envelope {
	if e.Headers == nil {
		e.Headers = make(map[string]string)
	}
	e.Headers[key] = value
	return e
}

// enrich assigns ID and Timestamp if the caller left them unset. Called
// once by the router on every publish/request/reply ingress.
func (e Envelope) enrich() Envelope {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return e
}
