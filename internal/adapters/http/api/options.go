package api

import "github.com/okian/voyage/pkg/logger"

// Option configures a Server.
type Option func(*Server)

// WithCORSOrigins sets the browser origins allowed to call the API.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.corsOrigins = origins
		}
	}
}

// WithTrackRate limits tracking and rating calls per client address per minute.
func WithTrackRate(perMinute int) Option {
	return func(s *Server) {
		if perMinute > 0 {
			s.trackRate = perMinute
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}
