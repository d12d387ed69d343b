package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hospital/patients/pkg/failure"
)

type contextKey string

const DBTxKey contextKey = "db_tx"

const rollbackTimeout = 5 * time.Second

// WithTx binds tx to ctx for the downstream handler.
func WithTx(ctx context.Context, tx Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, DBTxKey, tx)
}

// TxFromContext retrieves the request transaction, or nil outside the pipeline.
func TxFromContext(ctx context.Context) Tx {
	tx, _ := ctx.Value(DBTxKey).(Tx)
	return tx
}

type TxOptions struct {
	Logger  zerolog.Logger
	Metrics *TxMetrics
	Tracer  trace.Tracer
}

// TxMiddleware gives every request exactly one connection holding exactly one
// transaction. The handler's response is buffered and only reaches the client
// after a successful commit. Any non-success outcome (returned error, status
// >= 400, panic) rolls back. The connection is released once on every path.
func TxMiddleware(source ConnSource, opts TxOptions) echo.MiddlewareFunc {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/hospital/patients/internal/platform/db")
	}
	p := &pipeline{
		source:  source,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  tracer,
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return p.run(c, next)
		}
	}
}

type pipeline struct {
	source  ConnSource
	logger  zerolog.Logger
	metrics *TxMetrics
	tracer  trace.Tracer
}

func (p *pipeline) run(c echo.Context, next echo.HandlerFunc) error {
	req := c.Request()
	ctx, span := p.tracer.Start(req.Context(), "db.request_transaction")
	defer span.End()

	rid, _ := c.Get("request_id").(string)
	log := p.logger.With().Str("request_id", rid).Logger()

	conn, err := p.source.Acquire(ctx)
	if err != nil {
		p.finish(span, OutcomeAcquireFailed, time.Time{}, err)
		log.Error().Err(err).Msg("acquire connection failed")
		return failure.Wrap(err, failure.KindFatal, "database unavailable")
	}
	defer conn.Release()

	started := time.Now()
	tx, err := conn.Begin(ctx)
	if err != nil {
		p.finish(span, OutcomeBeginFailed, started, err)
		log.Error().Err(err).Msg("begin transaction failed")
		return failure.Wrap(err, failure.KindFatal, "begin transaction failed")
	}

	c.SetRequest(req.WithContext(WithTx(ctx, tx)))
	defer c.SetRequest(req)

	res := c.Response()
	orig := res.Writer
	buf := newBufferedResponseWriter()
	res.Writer = buf

	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Errorf("panic: %v", r)
			p.rollback(ctx, tx, log, cause)
			discardResponse(res, orig)
			p.finish(span, OutcomeRolledBack, started, cause)
			panic(r)
		}
	}()

	herr := next(c)
	res.Writer = orig

	if herr != nil || buf.status >= http.StatusBadRequest {
		cause := herr
		if cause == nil {
			cause = fmt.Errorf("handler responded with status %d", buf.status)
		}
		rbErr := p.rollback(ctx, tx, log, cause)
		p.finish(span, OutcomeRolledBack, started, cause)

		if herr != nil {
			discardResponse(res, orig)
			if rbErr != nil {
				return errors.Join(herr, rbErr)
			}
			return herr
		}
		if rbErr != nil {
			discardResponse(res, orig)
			return rbErr
		}
		return buf.flushTo(orig)
	}

	if err := tx.Commit(ctx); err != nil {
		// A failed commit already ends the transaction in pgx; the rollback
		// only matters for sources that leave it open.
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.Error().Err(rbErr).AnErr("cause", err).Msg("rollback after failed commit failed")
		}
		discardResponse(res, orig)
		p.finish(span, OutcomeCommitFailed, started, err)
		log.Error().Err(err).Msg("commit failed")
		return failure.Wrap(err, failure.KindFatal, "commit failed")
	}

	p.finish(span, OutcomeCommitted, started, nil)
	return buf.flushTo(orig)
}

// rollback undoes the request's work. It runs detached from the request
// context so a disconnected client cannot leave the transaction open.
func (p *pipeline) rollback(ctx context.Context, tx Tx, log zerolog.Logger, cause error) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	if err := tx.Rollback(rctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		log.Error().Err(err).AnErr("cause", cause).Msg("rollback failed")
		return failure.Wrap(err, failure.KindFatal, "rollback failed")
	}
	evt := log.Warn()
	if failure.IsClientError(cause) {
		evt = log.Debug()
	}
	evt.AnErr("cause", cause).Msg("transaction rolled back")
	return nil
}

func (p *pipeline) finish(span trace.Span, outcome string, started time.Time, err error) {
	p.metrics.observe(outcome, started)
	span.SetAttributes(attribute.String("db.tx.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
}

// discardResponse drops whatever the handler buffered so the error handler can
// write a fresh response.
func discardResponse(res *echo.Response, orig http.ResponseWriter) {
	res.Writer = orig
	res.Committed = false
	res.Status = http.StatusOK
	res.Size = 0
}

// bufferedResponseWriter holds the handler's response until the transaction
// outcome is known.
type bufferedResponseWriter struct {
	header http.Header
	buf    bytes.Buffer
	status int
	wrote  bool
}

func newBufferedResponseWriter() *bufferedResponseWriter {
	return &bufferedResponseWriter{header: make(http.Header)}
}

func (w *bufferedResponseWriter) Header() http.Header {
	return w.header
}

func (w *bufferedResponseWriter) WriteHeader(code int) {
	if w.wrote {
		return
	}
	w.status = code
	w.wrote = true
}

func (w *bufferedResponseWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.buf.Write(b)
}

// Flush implements http.Flusher; buffered output is sent by flushTo.
func (w *bufferedResponseWriter) Flush() {}

func (w *bufferedResponseWriter) flushTo(dst http.ResponseWriter) error {
	if !w.wrote {
		return nil
	}
	h := dst.Header()
	for k, v := range w.header {
		h[k] = v
	}
	dst.WriteHeader(w.status)
	if w.buf.Len() > 0 {
		_, err := dst.Write(w.buf.Bytes())
		return err
	}
	return nil
}
