// Package httpserver manages server creation and api routing.
package httpserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/go-petr/pet-ledger/internal/accountdelivery"
	"github.com/go-petr/pet-ledger/internal/accountrepo"
	"github.com/go-petr/pet-ledger/internal/auditrepo"
	"github.com/go-petr/pet-ledger/internal/auditservice"
	"github.com/go-petr/pet-ledger/internal/eventrepo"
	"github.com/go-petr/pet-ledger/internal/idempotencyrepo"
	"github.com/go-petr/pet-ledger/internal/idempotencyservice"
	"github.com/go-petr/pet-ledger/internal/ledgerservice"
	"github.com/go-petr/pet-ledger/internal/lockservice"
	"github.com/go-petr/pet-ledger/internal/memrepo"
	"github.com/go-petr/pet-ledger/internal/metrics"
	"github.com/go-petr/pet-ledger/internal/middleware"
	"github.com/go-petr/pet-ledger/internal/projection"
	"github.com/go-petr/pet-ledger/internal/reconciliationservice"
	"github.com/go-petr/pet-ledger/internal/reportsink"
	"github.com/go-petr/pet-ledger/internal/transactiondelivery"
	"github.com/go-petr/pet-ledger/internal/transactionservice"
	"github.com/go-petr/pet-ledger/internal/transferdelivery"
	"github.com/go-petr/pet-ledger/internal/transferservice"
	"github.com/go-petr/pet-ledger/pkg/clockpkg"
	"github.com/go-petr/pet-ledger/pkg/configpkg"
	"github.com/go-petr/pet-ledger/pkg/currencypkg"
	"github.com/go-petr/pet-ledger/pkg/tokenpkg"
)

// Names accepted by the *_BACKEND and TOKEN_TYPE settings.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendLocal    = "local"

	TokenPaseto = "paseto"
	TokenJWT    = "jwt"
)

// Backend setting errors.
var (
	ErrUnknownBackend       = errors.New("unknown backend")
	ErrIncompatibleBackends = errors.New("incompatible backends")
)

// Server holds db connection, handlers router and configuration.
type Server struct {
	DB         *sql.DB
	Engine     *gin.Engine
	Config     configpkg.Config
	Registry   *prometheus.Registry
	Reconciler *reconciliationservice.Engine
	Transfers  *transferservice.Service
	Guard      *idempotencyservice.Service

	closers []io.Closer
}

// ServeHTTP implements the http.Handler interface for the Server type.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Engine.ServeHTTP(w, r)
}

// Background runs the reconciliation loop together with saga recovery
// and idempotency sweeping until ctx is done.
func (s *Server) Background(ctx context.Context) error {
	recoverSagas := func(ctx context.Context) error {
		n, err := s.Transfers.Recover(ctx)
		if n > 0 {
			zerolog.Ctx(ctx).Info().Msgf("recovered %d transfer sagas", n)
		}

		return err
	}

	sweepKeys := func(ctx context.Context) error {
		_, err := s.Guard.Sweep(ctx)
		return err
	}

	return s.Reconciler.Run(ctx, recoverSagas, sweepKeys)
}

// Close releases external clients opened by New.
func (s *Server) Close() error {
	var errs []error

	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}

	return errors.Join(errs...)
}

type repos struct {
	accounts    ledgerservice.AccountRepo
	events      ledgerservice.EventRepo
	audit       auditservice.Repo
	idempotency idempotencyservice.Repo
}

func newRepos(conn *sql.DB, rdb redis.UniversalClient, clock clockpkg.Clock, config configpkg.Config) (repos, error) {
	var r repos

	switch config.StorageBackend {
	case BackendPostgres:
		if conn == nil {
			return r, fmt.Errorf("%s storage needs a database connection", BackendPostgres)
		}

		r.accounts = accountrepo.NewRepoPGS(conn)
		r.events = eventrepo.NewRepoPGS(conn)
		r.audit = auditrepo.NewRepoPGS(conn)
	case BackendMemory:
		ledger := memrepo.NewLedger()
		r.accounts = ledger
		r.events = ledger
		r.audit = memrepo.NewAudit()
	default:
		return r, fmt.Errorf("%w: STORAGE_BACKEND=%q", ErrUnknownBackend, config.StorageBackend)
	}

	switch config.IdempotencyBackend {
	case BackendPostgres:
		if conn == nil {
			return r, fmt.Errorf("%s idempotency needs a database connection", BackendPostgres)
		}

		r.idempotency = idempotencyrepo.NewRepoPGS(conn)
	case BackendRedis:
		r.idempotency = idempotencyrepo.NewRepoRedis(rdb, clock)
	case BackendMemory:
		r.idempotency = memrepo.NewIdempotency()
	default:
		return r, fmt.Errorf("%w: IDEMPOTENCY_BACKEND=%q", ErrUnknownBackend, config.IdempotencyBackend)
	}

	return r, nil
}

func newTokenMaker(config configpkg.Config) (tokenpkg.Maker, error) {
	var (
		maker tokenpkg.Maker
		err   error
	)

	switch config.TokenType {
	case "", TokenPaseto:
		maker, err = tokenpkg.NewPasetoMaker(config.TokenSymmetricKey)
	case TokenJWT:
		maker, err = tokenpkg.NewJWTMaker(config.TokenSymmetricKey)
	default:
		return nil, fmt.Errorf("%w: TOKEN_TYPE=%q", ErrUnknownBackend, config.TokenType)
	}

	if err != nil {
		return nil, fmt.Errorf("cannot create token maker: %w", err)
	}

	return maker, nil
}

// NeedsDB reports whether the configured backends keep data in the database.
func NeedsDB(config configpkg.Config) bool {
	return config.StorageBackend == BackendPostgres || config.IdempotencyBackend == BackendPostgres
}

func needsRedis(config configpkg.Config) bool {
	return config.IdempotencyBackend == BackendRedis ||
		config.LockBackend == BackendRedis ||
		config.ProjectionBackend == BackendRedis
}

// checkBackends rejects settings where instances sharing a redis lock
// would keep state the other instances cannot see.
func checkBackends(config configpkg.Config) error {
	if config.LockBackend != BackendRedis {
		return nil
	}

	if config.StorageBackend == BackendMemory {
		return fmt.Errorf("%w: LOCK_BACKEND=%s with STORAGE_BACKEND=%s", ErrIncompatibleBackends, BackendRedis, BackendMemory)
	}

	if config.ProjectionBackend == BackendMemory {
		return fmt.Errorf("%w: LOCK_BACKEND=%s with PROJECTION_BACKEND=%s", ErrIncompatibleBackends, BackendRedis, BackendMemory)
	}

	return nil
}

// New creates Server type with instantiated domains and routes.
func New(conn *sql.DB, logger zerolog.Logger, config configpkg.Config) (*Server, error) {
	if err := checkBackends(config); err != nil {
		return nil, err
	}

	server := &Server{
		DB:     conn,
		Config: config,
	}

	var rdb redis.UniversalClient
	if needsRedis(config) {
		client := redis.NewClient(&redis.Options{
			Addr:     config.RedisAddress,
			Password: config.RedisPassword,
			DB:       config.RedisDB,
		})
		server.closers = append(server.closers, client)
		rdb = client
	}

	clock := clockpkg.NewMonotonic(clockpkg.SystemClock{})

	r, err := newRepos(conn, rdb, clock, config)
	if err != nil {
		return nil, err
	}

	var locker lockservice.Locker

	switch config.LockBackend {
	case BackendLocal:
		locker = lockservice.NewLocal()
	case BackendRedis:
		locker = lockservice.NewRedis(rdb, lockservice.RedisOptions{
			Expiry:     config.LockExpiry,
			Tries:      config.LockTries,
			RetryDelay: config.LockRetryDelay,
		})
	default:
		return nil, fmt.Errorf("%w: LOCK_BACKEND=%q", ErrUnknownBackend, config.LockBackend)
	}

	var proj interface {
		reportsink.Sink
		reconciliationservice.Projection
	}

	switch config.ProjectionBackend {
	case BackendMemory:
		proj = projection.NewMemory()
	case BackendRedis:
		proj = projection.NewRedis(rdb)
	default:
		return nil, fmt.Errorf("%w: PROJECTION_BACKEND=%q", ErrUnknownBackend, config.ProjectionBackend)
	}

	sink := reportsink.Multi{reportsink.Log{}, proj}

	if brokers := config.Brokers(); len(brokers) > 0 {
		kafkaSink := reportsink.NewKafka(brokers, config.KafkaAuditTopic, config.KafkaReconTopic)
		server.closers = append(server.closers, kafkaSink)
		sink = append(sink, kafkaSink)
	}

	server.Registry = prometheus.NewRegistry()
	server.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(server.Registry)

	tokenMaker, err := newTokenMaker(config)
	if err != nil {
		return nil, err
	}

	ledgerService := ledgerservice.New(r.accounts, r.events, clock)
	auditService := auditservice.New(r.audit, sink, ledgerService, clock, auditservice.WithEmitTimeout(config.AuditEmitTimeout))
	lockService := lockservice.New(locker)
	server.Guard = idempotencyservice.New(r.idempotency, clock, config.IdempotencyTTL, config.IdempotencyLease)
	transactionService := transactionservice.New(ledgerService, server.Guard, lockService, auditService, m)
	server.Transfers = transferservice.New(ledgerService, server.Guard, lockService, auditService, m, clock, config.SagaRecoveryAge)
	server.Reconciler = reconciliationservice.New(ledgerService, proj, sink, m, clock, reconciliationservice.Config{
		Interval:    config.ReconInterval,
		ShardIndex:  config.ReconShardIndex,
		ShardCount:  config.ReconShardCount,
		Concurrency: config.ReconConcurrency,
	})

	accountHandler := accountdelivery.NewHandler(ledgerService, auditService)
	transactionHandler := transactiondelivery.NewHandler(transactionService)
	transferHandler := transferdelivery.NewHandler(server.Transfers)

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		err := v.RegisterValidation("currency", currencypkg.ValidCurrency)
		if err != nil {
			return nil, errors.New("cannot register currency validator")
		}
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(middleware.RequestLogger(logger))
	engine.Use(gin.Recovery())

	engine.GET("/health", func(gctx *gin.Context) {
		gctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(server.Registry, promhttp.HandlerOpts{})))

	authRoutes := engine.Group("/").Use(middleware.AuthMiddleware(tokenMaker))

	authRoutes.POST("/accounts", accountHandler.Create)
	authRoutes.GET("/accounts/:id", accountHandler.Get)
	authRoutes.PATCH("/accounts/:id/status", accountHandler.SetStatus)
	authRoutes.GET("/accounts/:id/balance", accountHandler.Balance)
	authRoutes.GET("/accounts/:id/history", accountHandler.History)
	authRoutes.GET("/accounts/:id/audit", accountHandler.Audit)
	authRoutes.POST("/accounts/:id/deposits", transactionHandler.Deposit)
	authRoutes.POST("/accounts/:id/withdrawals", transactionHandler.Withdraw)

	authRoutes.POST("/transfers", transferHandler.Create)

	server.Engine = engine

	return server, nil
}
