// Package activitymap turns auth activity into flat audit records and
// writes them to a zerolog logger.
package activitymap

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	auth "github.com/service-laboratory/lab-auth"
)

const (
	MetadataKeyActorType = "actor_type"
	MetadataKeyEmail     = "email"
)

const (
	defaultChannel = "auth"
	defaultObject  = "user"
	defaultActorID = "system"
)

// Record is the audit shape of an auth.ActivityEvent
type Record struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Option func(*options)

type options struct {
	channel       string
	objectType    string
	actorFallback string
	now           func() time.Time
}

func WithChannel(channel string) Option {
	return func(o *options) { o.channel = strings.TrimSpace(channel) }
}

func WithObjectType(objectType string) Option {
	return func(o *options) { o.objectType = strings.TrimSpace(objectType) }
}

// WithActorFallback names the actor of events nobody triggered directly
func WithActorFallback(actorID string) Option {
	return func(o *options) { o.actorFallback = strings.TrimSpace(actorID) }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Normalize maps event to a Record. The actor falls back to the user
// and then to "system"; the user is the object.
func Normalize(event auth.ActivityEvent, opts ...Option) Record {
	o := options{
		channel:       defaultChannel,
		objectType:    defaultObject,
		actorFallback: defaultActorID,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = o.now().UTC()
	}

	return Record{
		ActorID: firstNonEmpty(
			strings.TrimSpace(event.Actor.ID),
			strings.TrimSpace(event.UserID),
			o.actorFallback,
		),
		Verb:       string(event.EventType),
		ObjectType: o.objectType,
		ObjectID:   strings.TrimSpace(event.UserID),
		Channel:    o.channel,
		Metadata:   metadata(event),
		OccurredAt: occurredAt,
	}
}

func metadata(event auth.ActivityEvent) map[string]any {
	var out map[string]any
	set := func(k string, v any) {
		if out == nil {
			out = make(map[string]any, len(event.Metadata)+2)
		}
		out[k] = v
	}

	for k, v := range event.Metadata {
		set(k, v)
	}

	if actorType := strings.TrimSpace(event.Actor.Type); actorType != "" {
		if _, ok := out[MetadataKeyActorType]; !ok {
			set(MetadataKeyActorType, actorType)
		}
	}

	if event.Email != "" {
		set(MetadataKeyEmail, event.Email)
	}

	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// LogSink writes one info line per activity event
type LogSink struct {
	log  zerolog.Logger
	opts []Option
}

var _ auth.ActivitySink = (*LogSink)(nil)

func NewLogSink(log zerolog.Logger, opts ...Option) *LogSink {
	return &LogSink{log: log.With().Str("stream", "audit").Logger(), opts: opts}
}

// Record implements auth.ActivitySink
func (s *LogSink) Record(_ context.Context, event auth.ActivityEvent) error {
	r := Normalize(event, s.opts...)

	e := s.log.Info().
		Str("actor_id", r.ActorID).
		Str("verb", r.Verb).
		Str("object_type", r.ObjectType).
		Time("occurred_at", r.OccurredAt)
	if r.ObjectID != "" {
		e = e.Str("object_id", r.ObjectID)
	}
	if r.Channel != "" {
		e = e.Str("channel", r.Channel)
	}
	if len(r.Metadata) > 0 {
		e = e.Fields(r.Metadata)
	}
	e.Msg("activity")
	return nil
}
