// Package api serves the parking core over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"parkly/internal/access"
	"parkly/internal/billing"
	"parkly/internal/ledger"
	"parkly/internal/metrics"
	"parkly/internal/rates"
	"parkly/internal/report"
	"parkly/internal/session"
	"parkly/internal/spots"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// TickRunner forces a charge tick.
type TickRunner interface {
	RunNow(ctx context.Context) (billing.Summary, error)
}

// StatementExporter pushes a statement to an external sheet.
type StatementExporter interface {
	Export(ctx context.Context, rows []report.Row) error
}

// Deps are the services behind the routes. Sheets may be nil.
type Deps struct {
	Sessions *session.Service
	Ledger   *ledger.Ledger
	Catalog  *rates.Catalog
	Spots    *spots.Registry
	Reports  *report.Service
	Sheets   StatementExporter
	Ticks    TickRunner
}

type Server struct {
	Deps
	jwtSecret string
	logger    zerolog.Logger
}

func NewServer(deps Deps, jwtSecret string, logger zerolog.Logger) *Server {
	return &Server{
		Deps:      deps,
		jwtSecret: jwtSecret,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Router builds the /api/v1 routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.With(require(access.OpCheckIn)).Post("/check-in", s.checkIn)
		r.With(require(access.OpCheckOut)).Post("/check-out", s.checkOut)

		r.Route("/reservations", func(r chi.Router) {
			r.With(require(access.OpReadOccupation)).Get("/", s.listOpenReservations)
			r.Route("/{id}", func(r chi.Router) {
				r.With(require(access.OpReadBalance)).Get("/", s.getReservation)
				r.With(require(access.OpReadBalance)).Get("/balance", s.getBalance)
				r.With(require(access.OpReadBalance)).Get("/transactions", s.listTransactions)
				r.With(require(access.OpReadBalance)).Get("/events", s.listEvents)
				r.With(require(access.OpPostPayment)).Post("/payments", s.postPayment)
				r.With(require(access.OpReconcile)).Post("/reconcile", s.reconcile)
			})
		})

		r.With(require(access.OpRunChargeTick)).Post("/charge-ticks", s.runChargeTick)

		r.Route("/spots", func(r chi.Router) {
			r.With(require(access.OpReadOccupation)).Get("/", s.listSpots)
			r.With(require(access.OpReadOccupation)).Get("/occupied", s.listOccupiedSpots)
			r.Group(func(r chi.Router) {
				r.Use(require(access.OpManageSpots))
				r.Post("/", s.createSpot)
				r.Put("/{id}", s.updateSpotInfo)
				r.Put("/{id}/availability", s.setSpotAvailability)
				r.Put("/{id}/service", s.setSpotService)
				r.Delete("/{id}", s.deleteSpot)
			})
		})

		r.Route("/rates", func(r chi.Router) {
			r.With(require(access.OpReadCatalog)).Get("/", s.listRates)
			r.With(require(access.OpReadCatalog)).Get("/{id}", s.getRate)
			r.Group(func(r chi.Router) {
				r.Use(require(access.OpManageRates))
				r.Post("/", s.createRate)
				r.Put("/{id}", s.updateRate)
				r.Delete("/{id}", s.deleteRate)
				r.Post("/{id}/details", s.addRateDetail)
				r.Put("/{id}/details/{detailID}", s.updateRateDetail)
				r.Delete("/{id}/details/{detailID}", s.deleteRateDetail)
			})
		})

		r.Route("/cars/{plate}", func(r chi.Router) {
			r.Use(require(access.OpManageCars))
			r.Post("/block", s.blockCar)
			r.Post("/unblock", s.unblockCar)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Use(require(access.OpReadReports))
			r.Get("/reservations.xlsx", s.reservationsExcel)
			r.Post("/reservations/sheets", s.reservationsSheets)
		})
	})

	return r
}

// accessLog logs every request and counts it by route pattern.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.IncHTTPRequest(route, strconv.Itoa(status))

		s.logger.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
