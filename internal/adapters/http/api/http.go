// Package api exposes the recommendation service over HTTP.
//
// Routes live on a chi router. Read endpoints and listings sit under /api,
// so listing cache keys match the paths the precompute jobs write.
// Tracking and rating calls are rate limited per client address. Hooks and
// admin calls are meant for internal callers only.
package api

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"

	"github.com/okian/voyage/internal/adapters/http/swagger"
	"github.com/okian/voyage/internal/domain/model"
	"github.com/okian/voyage/pkg/logger"
)

// Identity headers set by the auth layer in front of the service.
const (
	HeaderUserID    = "X-User-ID"
	HeaderSessionID = "X-Session-ID"
)

// Dependencies required by HTTP handlers. Each handler depends on the
// smaller interface it needs.
type Dependencies interface {
	RecommendationDependencies
	TrendingDependencies
	TrackingDependencies
	RatingDependencies
	ListingDependencies
	HookDependencies
	AdminDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler          *HealthHandler
	statsHandler           *StatsHandler
	recommendationsHandler *RecommendationsHandler
	trendingHandler        *TrendingHandler
	eventsHandler          *EventsHandler
	ratingsHandler         *RatingsHandler
	listingsHandler        *ListingsHandler
	hooksHandler           *HooksHandler
	adminHandler           *AdminHandler

	corsOrigins []string
	trackRate   int
	log         logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		corsOrigins: []string{"*"},
		trackRate:   600,
		log:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(statsProvider)
	s.recommendationsHandler = NewRecommendationsHandler(deps)
	s.trendingHandler = NewTrendingHandler(deps)
	s.eventsHandler = NewEventsHandler(deps, s.log)
	s.ratingsHandler = NewRatingsHandler(deps)
	s.listingsHandler = NewListingsHandler(deps)
	s.hooksHandler = NewHooksHandler(deps)
	s.adminHandler = NewAdminHandler(deps)
	return s
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", HeaderUserID, HeaderSessionID},
		ExposedHeaders:   []string{HeaderSessionID},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(MetricsMiddleware)

	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Get("/stats", s.statsHandler.HandleStats)
	swagger.Mount(r)

	r.Route("/api", func(r chi.Router) {
		r.Get("/recommendations/{kind}", s.recommendationsHandler.HandleGetRecommendations)
		r.Get("/trending", s.trendingHandler.HandleGetTrending)
		r.Get("/destinations/", s.listingsHandler.HandleDestinations)
		r.Get("/categories/type/{slug}/", s.listingsHandler.HandleCategory)

		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(s.trackRate, time.Minute))
			r.Post("/destinations/{id}/{action}", s.eventsHandler.HandlePostEvent)
			r.Post("/ratings", s.ratingsHandler.HandlePostRating)
		})
	})

	r.Route("/hooks", func(r chi.Router) {
		r.Post("/destination-changed", s.hooksHandler.HandleDestinationChanged)
		r.Post("/category-changed", s.hooksHandler.HandleCategoryChanged)
		r.Post("/user-signal/{userID}", s.hooksHandler.HandleUserSignal)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/cache/flush", s.adminHandler.HandleFlush)
		r.Post("/jobs/{name}", s.adminHandler.HandleRunJob)
	})
	return r
}

// Register mounts the router on mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.Handle("/", s.Router())
}

// actorFrom reads the caller identity set by the auth layer.
func actorFrom(r *http.Request) model.Actor {
	return model.Actor{
		UserID:    r.Header.Get(HeaderUserID),
		SessionID: r.Header.Get(HeaderSessionID),
	}.Normalize()
}

// clientAddr strips the port RealIP may leave on RemoteAddr.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// decodeBody reads a JSON body into dst. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError picks the status from err.
func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := http.StatusText(status)
	if err != nil && status < http.StatusInternalServerError {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
