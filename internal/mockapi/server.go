// Package mockapi serves the health dashboard's REST API from memory so the
// sync layer can run and be tested without a real backend.
package mockapi

import (
	"errors"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

type Options struct {
	// Latency delays every response.
	Latency time.Duration

	// FailureRate is the probability in [0,1] that a GET answers 503.
	FailureRate float64

	// RateLimit caps requests per minute per client IP. Zero disables it.
	RateLimit int

	CORSOrigins []string

	// Rand drives the generated payloads and failure injection. Defaults
	// to a time-seeded source.
	Rand *rand.Rand

	Clock  clockwork.Clock
	Logger zerolog.Logger
}

type Server struct {
	opts     Options
	storage  *Storage
	rng      random
	clock    clockwork.Clock
	validate *validator.Validate
	logger   zerolog.Logger
}

func New(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Rand == nil {
		seed := uint64(time.Now().UnixNano())
		opts.Rand = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return &Server{
		opts:     opts,
		storage:  NewStorage(opts.Clock.Now),
		rng:      &lockedRand{r: opts.Rand},
		clock:    opts.Clock,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   opts.Logger,
	}
}

// Storage exposes the dataset, mainly for tests.
func (s *Server) Storage() *Storage {
	return s.storage
}

// Router returns the API routes rooted at /, meant to be mounted at /api.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         300,
		}))
	}
	if s.opts.RateLimit > 0 {
		r.Use(httprate.LimitByIP(s.opts.RateLimit, time.Minute))
	}
	r.Use(s.injectLatency, s.injectFailures)

	r.Get("/hospitals", s.listHospitals)
	r.Get("/hospitals/{id}", s.getHospital)
	r.Post("/hospitals", s.createHospital)
	r.Put("/hospitals/{id}", s.updateHospital)

	r.Get("/surge-data", s.listSurgeData)
	r.Get("/surge-data/{hospitalId}", s.listSurgeData)
	r.Post("/surge-data", s.createSurgeData)

	r.Get("/health-advisories", s.listAdvisories)
	r.Post("/health-advisories", s.createAdvisory)

	r.Get("/ai-predictions", s.listPredictions)
	r.Post("/ai-predictions", s.createPrediction)

	r.Get("/dashboard-stats", s.dashboardStats)
	r.Get("/surge-forecast", s.generated(func() any { return surgeForecast(s.rng, s.clock.Now()) }))
	r.Get("/hospital-leaderboard", s.generated(func() any { return hospitalLeaderboard(s.rng, s.storage.Hospitals()) }))
	r.Get("/resource-optimization", s.generated(func() any { return resourceOptimization() }))
	r.Get("/emergency-alerts", s.generated(func() any { return emergencyAlerts(s.clock.Now()) }))
	r.Get("/map-heatmap", s.generated(func() any { return mapHeatmap() }))
	r.Get("/surge-zones", s.generated(func() any { return surgeZones() }))
	r.Get("/hospital-flows", s.generated(func() any { return hospitalFlows() }))
	r.Get("/ambulance-tracking", s.generated(func() any { return ambulanceTracking(s.rng) }))
	r.Get("/hospital-simulation/{id}", s.hospitalSimulation)
	r.Post("/simulate-scenario", s.simulateScenario)

	return r
}

func (s *Server) injectLatency(next http.Handler) http.Handler {
	if s.opts.Latency <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-s.clock.After(s.opts.Latency):
			next.ServeHTTP(w, r)
		case <-r.Context().Done():
		}
	})
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	if s.opts.FailureRate <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && s.rng.Float64() < s.opts.FailureRate {
			s.logger.Debug().Str("path", r.URL.Path).Msg("injected failure")
			writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) generated(gen func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, gen())
	}
}

func (s *Server) listHospitals(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.storage.Hospitals())
}

func (s *Server) getHospital(w http.ResponseWriter, r *http.Request) {
	h, ok := s.storage.Hospital(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Hospital not found")
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) createHospital(w http.ResponseWriter, r *http.Request) {
	var in hospitalInput
	if !s.decode(w, r, &in, "Invalid hospital data") {
		return
	}
	writeJSON(w, http.StatusCreated, s.storage.CreateHospital(in))
}

func (s *Server) updateHospital(w http.ResponseWriter, r *http.Request) {
	var p hospitalPatch
	if !s.decode(w, r, &p, "Invalid update data") {
		return
	}
	h, ok := s.storage.UpdateHospital(chi.URLParam(r, "id"), p)
	if !ok {
		writeError(w, http.StatusNotFound, "Hospital not found")
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) listSurgeData(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.storage.SurgeData(chi.URLParam(r, "hospitalId")))
}

func (s *Server) createSurgeData(w http.ResponseWriter, r *http.Request) {
	var in surgeDataInput
	if !s.decode(w, r, &in, "Invalid surge data") {
		return
	}
	writeJSON(w, http.StatusCreated, s.storage.CreateSurgeData(in))
}

func (s *Server) listAdvisories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.storage.ActiveAdvisories())
}

func (s *Server) createAdvisory(w http.ResponseWriter, r *http.Request) {
	var in advisoryInput
	if !s.decode(w, r, &in, "Invalid advisory data") {
		return
	}
	writeJSON(w, http.StatusCreated, s.storage.CreateAdvisory(in))
}

func (s *Server) listPredictions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.storage.Predictions())
}

func (s *Server) createPrediction(w http.ResponseWriter, r *http.Request) {
	var in predictionInput
	if !s.decode(w, r, &in, "Invalid prediction data") {
		return
	}
	writeJSON(w, http.StatusCreated, s.storage.CreatePrediction(in))
}

func (s *Server) dashboardStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, dashboardStats(s.storage.Hospitals()))
}

func (s *Server) hospitalSimulation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, hospitalSimulation(s.rng, chi.URLParam(r, "id")))
}

func (s *Server) simulateScenario(w http.ResponseWriter, r *http.Request) {
	var in scenarioInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid scenario")
		return
	}
	res, ok := scenarios[in.Scenario]
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid scenario")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// decode reads and validates a request body, answering 400 with msg on
// failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any, msg string) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		err = s.validate.Struct(dst)
	}
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			s.logger.Debug().Str("path", r.URL.Path).Str("field", verrs[0].Field()).
				Str("tag", verrs[0].Tag()).Msg("rejected request body")
		}
		writeError(w, http.StatusBadRequest, msg)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, _ := json.Marshal(map[string]string{"error": msg})
	_, _ = w.Write(data)
}
