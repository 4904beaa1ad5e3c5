// Package notify publishes label commit events to NATS so gateways can wake
// tote displays instead of waiting for their next poll.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"totelabel/pkg/artifact"
)

const DefaultSubject = "labels.updated"

// Event is the JSON body of a commit notification.
type Event struct {
	ToteID      string         `json:"tote_id"`
	Artifacts   []EventProfile `json:"artifacts"`
	CommittedAt time.Time      `json:"committed_at"`
}

type EventProfile struct {
	Profile string `json:"profile"`
	Version string `json:"version"`
}

// Recorder receives the outcome of every publish.
type Recorder interface {
	Published(err error)
}

// Publisher implements label.CommitListener.
type Publisher struct {
	conn     *nats.Conn
	subject  string
	publish  func(subject string, data []byte) error
	recorder Recorder
	now      func() time.Time
}

// Connect dials url and returns a publisher for subject.
func Connect(url, subject string, rec Recorder, opts ...nats.Option) (*Publisher, error) {
	opts = append([]nats.Option{nats.Name("totelabel"), nats.MaxReconnects(-1), nats.RetryOnFailedConnect(true)}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	p := newPublisher(nc.Publish, subject, rec)
	p.conn = nc
	return p, nil
}

func newPublisher(publish func(string, []byte) error, subject string, rec Recorder) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{subject: subject, publish: publish, recorder: rec, now: time.Now}
}

// NewEvent summarizes a committed set. The preview is left out since
// displays never fetch it.
func NewEvent(toteID string, arts []artifact.Artifact, at time.Time) Event {
	ev := Event{ToteID: toteID, CommittedAt: at.UTC()}
	for _, a := range arts {
		if a.Profile == artifact.PreviewProfile {
			continue
		}
		ev.Artifacts = append(ev.Artifacts, EventProfile{Profile: a.Profile, Version: a.Version.String()})
	}
	return ev
}

// LabelCommitted publishes the event. Failures are logged and never reach
// the uploader; the commit already happened.
func (p *Publisher) LabelCommitted(ctx context.Context, toteID string, arts []artifact.Artifact) {
	data, err := json.Marshal(NewEvent(toteID, arts, p.now()))
	if err == nil {
		err = p.publish(p.subject, data)
	}
	if p.recorder != nil {
		p.recorder.Published(err)
	}
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("tote_id", toteID).Str("subject", p.subject).Msg("commit event not published")
	}
}

func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// Subscribe delivers decoded events on subject until ctx ends or the
// returned closer is closed.
func Subscribe(ctx context.Context, nc *nats.Conn, subject string, fn func(Event)) (io.Closer, error) {
	if fn == nil {
		return nil, errors.New("nil handler")
	}
	if subject == "" {
		subject = DefaultSubject
	}
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed commit event")
			return
		}
		fn(ev)
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return closerFunc(sub.Unsubscribe), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
