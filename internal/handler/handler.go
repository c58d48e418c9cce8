package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tablestakes/platform/internal/auth"
	"github.com/tablestakes/platform/internal/domain"
	"github.com/tablestakes/platform/internal/guard"
	"github.com/tablestakes/platform/internal/metrics"
	"github.com/tablestakes/platform/internal/modes"
	"github.com/tablestakes/platform/internal/repository"
	"github.com/tablestakes/platform/internal/service"
)

// GameLister is the slice of the live data store the bootstrap endpoint
// reads.
type GameLister interface {
	ListGames(league string) ([]*domain.RefinedGameDoc, error)
}

// Handler bundles the dependencies of every HTTP endpoint.
type Handler struct {
	pool           *pgxpool.Pool
	rdb            *redis.Client
	db             repository.DBTX
	sessions       *service.SessionService
	proposals      *service.ProposalService
	participations repository.ParticipationRepository
	tables         repository.TableRepository
	registry       *modes.Registry
	games          GameLister
	limiter        *guard.RateLimiter
	idem           *guard.IdempotencyGuard
	jwt            *auth.JWTManager
	corsOrigins    string
	logger         *slog.Logger
}

// New wires the handler. pool may be nil in tests; only the health endpoint
// touches it.
func New(
	pool *pgxpool.Pool,
	rdb *redis.Client,
	db repository.DBTX,
	sessions *service.SessionService,
	proposals *service.ProposalService,
	participations repository.ParticipationRepository,
	tables repository.TableRepository,
	registry *modes.Registry,
	games GameLister,
	limiter *guard.RateLimiter,
	idem *guard.IdempotencyGuard,
	jwt *auth.JWTManager,
	corsOrigins string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		pool:           pool,
		rdb:            rdb,
		db:             db,
		sessions:       sessions,
		proposals:      proposals,
		participations: participations,
		tables:         tables,
		registry:       registry,
		games:          games,
		limiter:        limiter,
		idem:           idem,
		jwt:            jwt,
		corsOrigins:    corsOrigins,
		logger:         logger,
	}
}

// Router builds the full HTTP surface. Every route is mounted under both
// /api and /api/v1.
func (h *Handler) Router() http.Handler {
	api := chi.NewRouter()

	api.Get("/health", h.Health)
	api.Method(http.MethodGet, "/metrics", metrics.Handler())

	api.Group(func(r chi.Router) {
		r.Use(auth.Authenticate(h.jwt))

		r.Get("/bet-proposals/bootstrap/league/{league}", h.Bootstrap)

		r.Post("/bet-proposals/sessions", h.CreateSession)
		r.Get("/bet-proposals/sessions/{sessionID}", h.GetSession)
		r.Post("/bet-proposals/sessions/{sessionID}/choices", h.ApplyChoice)
		r.Post("/bet-proposals/sessions/{sessionID}/general", h.SetGeneral)
		r.Post("/bet-proposals/sessions/{sessionID}/stage", h.OverrideStage)

		r.Post("/tables/{tableID}/bets", h.CreateBet)
		r.Post("/bets/{betID}/poke", h.PokeBet)
		r.Post("/bets/{betID}/validate", h.ValidateBet)
		r.Post("/bets/{betID}/accept", h.AcceptBet)
		r.Put("/bets/{betID}/guess", h.UpdateGuess)
		r.Get("/bets/{betID}/live-info", h.LiveInfo)

		r.Get("/tickets", h.ListTickets)
		r.Get("/tables", h.ListTables)
	})

	root := chi.NewRouter()
	root.Use(Recovery(h.logger))
	root.Use(RequestID)
	root.Use(RequestLogger(h.logger))
	root.Use(Metrics)
	root.Use(CORS(h.corsOrigins))
	root.Use(JSONContentType)
	root.Mount("/api", api)
	root.Mount("/api/v1", api)
	return root
}
