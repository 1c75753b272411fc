package hooks

import "github.com/okian/voyage/pkg/logger"

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithPrefix sets the subject prefix.
func WithPrefix(prefix string) Option {
	return func(s *Subscriber) {
		s.subjects = SubjectsFor(prefix)
	}
}

// WithLogger sets the subscriber logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Subscriber) {
		if l != nil {
			s.log = l
		}
	}
}
