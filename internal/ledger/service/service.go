package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	ledgermetrics "tokenbank/internal/ledger/metrics"
	"tokenbank/internal/ledger/models"
	"tokenbank/internal/storage"
	"tokenbank/pkg/domain"
	dErrors "tokenbank/pkg/domain-errors"
	"tokenbank/pkg/platform/sentinel"
	"tokenbank/pkg/requestcontext"
)

// Transition kinds used for metrics, spans and journal entries.
const (
	kindInitializeRegistry = "initialize_registry"
	kindInitializeAccount  = "initialize_account"
	kindAddToken           = "add_token"
	kindDeposit            = "deposit"
	kindWithdraw           = "withdraw"
)

// Processor validates and applies ledger transitions. Each transition runs in
// one storage transaction: either every effect (ledger balance, vault
// holding, journal event) commits or none does.
type Processor struct {
	tx          storage.Tx
	transferer  Transferer
	logger      *slog.Logger
	metrics     *ledgermetrics.Metrics
	tracer      trace.Tracer
	seedTokens  []domain.TokenType
	eventsLimit int
}

type Option func(*Processor)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

func WithMetrics(m *ledgermetrics.Metrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Processor) {
		p.tracer = t
	}
}

// WithSeedTokens whitelists tokens on every registry at creation.
func WithSeedTokens(tokens ...domain.TokenType) Option {
	return func(p *Processor) {
		p.seedTokens = append(p.seedTokens, tokens...)
	}
}

// WithEventsLimit caps ListAccountEvents when the caller passes no limit.
func WithEventsLimit(n int) Option {
	return func(p *Processor) {
		p.eventsLimit = n
	}
}

func New(tx storage.Tx, transferer Transferer, opts ...Option) (*Processor, error) {
	if tx == nil {
		return nil, errors.New("storage tx is required")
	}
	if transferer == nil {
		return nil, errors.New("transferer is required")
	}
	p := &Processor{
		tx:          tx,
		transferer:  transferer,
		logger:      slog.Default(),
		tracer:      otel.Tracer("tokenbank/ledger"),
		eventsLimit: 100,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// begin opens a span and returns a finisher that records the outcome.
func (p *Processor) begin(ctx context.Context, kind string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "ledger."+kind, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		outcome := ledgermetrics.OutcomeSuccess
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, dErrors.MessageOf(err))
			outcome = ledgermetrics.OutcomeRejected
			if dErrors.CodeOf(err) == dErrors.CodeInternal {
				outcome = ledgermetrics.OutcomeError
			}
		}
		span.End()
		if p.metrics != nil {
			p.metrics.ObserveTransition(kind, outcome, start)
		}
	}
}

func (p *Processor) appendEvent(ctx context.Context, stores storage.Stores, event *models.Event) error {
	event.ID = domain.NewEventID()
	event.RequestID = requestcontext.RequestID(ctx)
	event.OccurredAt = requestcontext.Now(ctx)
	if err := stores.Events().Append(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record ledger event")
	}
	return nil
}

func (p *Processor) logFailure(ctx context.Context, kind string, err error, args ...any) {
	level := slog.LevelWarn
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		level = slog.LevelError
	}
	args = append([]any{
		"request_id", requestcontext.RequestID(ctx),
		"kind", kind,
		"code", dErrors.CodeOf(err),
		"error", err,
	}, args...)
	p.logger.Log(ctx, level, "ledger transition rejected", args...)
}

func loadRegistry(ctx context.Context, stores storage.Stores, registryID domain.RegistryID) (*models.Registry, error) {
	r, err := stores.Registries().FindByID(ctx, registryID)
	if err != nil {
		return nil, wrapNotFound(err, "registry not found", "failed to load registry")
	}
	return r, nil
}

// wrapNotFound translates store failures into coded errors. Coded errors
// (timeouts from lock waits) pass through unchanged.
func wrapNotFound(err error, notFoundMsg, internalMsg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, internalMsg)
}

func requireRegistryID(registryID domain.RegistryID) error {
	if registryID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "registry id required")
	}
	return nil
}

func requireAccountID(accountID domain.AccountID) error {
	if accountID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "account id required")
	}
	return nil
}

func requireSigner(identity domain.Identity) error {
	if identity.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "signer required")
	}
	return nil
}
