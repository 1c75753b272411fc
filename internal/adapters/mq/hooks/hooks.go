// Package hooks carries catalog and user change notifications over NATS so
// a CMS or another replica can trigger cache invalidation without calling
// the HTTP API.
//
// Subjects are {prefix}.destination.changed, {prefix}.category.changed and
// {prefix}.user.signal. Every replica subscribes without a queue group since
// each one owns a local cache that has to be invalidated.
package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/okian/voyage/pkg/logger"
)

const defaultPrefix = "voyage.hooks"

// Handler reacts to change notifications.
type Handler interface {
	OnDestinationChanged(ctx context.Context) error
	OnCategoryChanged(ctx context.Context) error
	OnUserSignal(ctx context.Context, userID string) error
}

// Subjects names the three hook subjects.
type Subjects struct {
	DestinationChanged string
	CategoryChanged    string
	UserSignal         string
}

// SubjectsFor derives the subjects under prefix.
func SubjectsFor(prefix string) Subjects {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return Subjects{
		DestinationChanged: prefix + ".destination.changed",
		CategoryChanged:    prefix + ".category.changed",
		UserSignal:         prefix + ".user.signal",
	}
}

// Message is the hook payload. Only user signals need a body.
type Message struct {
	ID     string `json:"id,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// Subscriber dispatches hook messages to a Handler.
type Subscriber struct {
	nc       *nats.Conn
	handler  Handler
	subjects Subjects
	log      logger.Logger

	mu    sync.Mutex
	subs  []*nats.Subscription
	ready chan struct{}
	once  sync.Once
}

// NewSubscriber creates a Subscriber on nc. The caller owns nc.
func NewSubscriber(nc *nats.Conn, h Handler, opts ...Option) *Subscriber {
	s := &Subscriber{
		nc:       nc,
		handler:  h,
		subjects: SubjectsFor(""),
		log:      logger.Nop(),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve subscribes to every subject and blocks until ctx ends.
func (s *Subscriber) Serve(ctx context.Context) error {
	routes := map[string]func(context.Context, Message) error{
		s.subjects.DestinationChanged: func(ctx context.Context, _ Message) error {
			return s.handler.OnDestinationChanged(ctx)
		},
		s.subjects.CategoryChanged: func(ctx context.Context, _ Message) error {
			return s.handler.OnCategoryChanged(ctx)
		},
		s.subjects.UserSignal: func(ctx context.Context, m Message) error {
			return s.handler.OnUserSignal(ctx, m.UserID)
		},
	}

	for subject, fn := range routes {
		sub, err := s.nc.Subscribe(subject, s.dispatch(ctx, fn))
		if err != nil {
			s.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.mu.Lock()
		s.subs = append(s.subs, sub)
		s.mu.Unlock()
	}
	if err := s.nc.Flush(); err != nil {
		s.unsubscribe()
		return fmt.Errorf("flush subscriptions: %w", err)
	}
	s.once.Do(func() { close(s.ready) })
	s.log.Info(ctx, "hook subscriber ready", logger.String("destination", s.subjects.DestinationChanged))

	<-ctx.Done()
	s.unsubscribe()
	return ctx.Err()
}

// Ready is closed once the server has acknowledged every subscription.
func (s *Subscriber) Ready() <-chan struct{} { return s.ready }

func (s *Subscriber) dispatch(ctx context.Context, fn func(context.Context, Message) error) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var m Message
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &m); err != nil {
				s.log.Warn(ctx, "malformed hook message", logger.String("subject", msg.Subject), logger.Error(err))
				return
			}
		}
		if err := fn(ctx, m); err != nil {
			s.log.Error(ctx, "hook failed", logger.String("subject", msg.Subject), logger.Error(err))
			return
		}
		s.log.Debug(ctx, "hook handled", logger.String("subject", msg.Subject))
	}
}

func (s *Subscriber) unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *Subscriber) String() string { return "hook-subscriber" }

// Publisher emits hook messages.
type Publisher struct {
	nc       *nats.Conn
	subjects Subjects
}

// NewPublisher creates a Publisher for the subjects under prefix.
func NewPublisher(nc *nats.Conn, prefix string) *Publisher {
	return &Publisher{nc: nc, subjects: SubjectsFor(prefix)}
}

// DestinationChanged announces a destination create, update or delete.
func (p *Publisher) DestinationChanged(id string) error {
	return p.publish(p.subjects.DestinationChanged, Message{ID: id})
}

// CategoryChanged announces a category create, update or delete.
func (p *Publisher) CategoryChanged(slug string) error {
	return p.publish(p.subjects.CategoryChanged, Message{ID: slug})
}

// UserSignal announces a rating or dwell by userID.
func (p *Publisher) UserSignal(userID string) error {
	if userID == "" {
		return ErrMissingUser
	}
	return p.publish(p.subjects.UserSignal, Message{UserID: userID})
}

func (p *Publisher) publish(subject string, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode hook: %w", err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return p.nc.Flush()
}
