package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/courier/internal/message"
)

//go:generate mockgen -destination=mocks/mock_inserter.go -package=mocks github.com/mattjoyce/courier/internal/webhook MessageInserter

// MessageInserter is the slice of the store the ingestor needs.
type MessageInserter interface {
	Insert(ctx context.Context, m message.Message) (message.InsertResult, error)
}

// Recorder counts webhook outcomes. metrics.Registry satisfies it.
type Recorder interface {
	WebhookResult(outcome string)
}

var (
	ErrSignatureInvalid   = errors.New("webhook signature invalid")
	ErrStorageUnavailable = errors.New("message storage unavailable")
)

// Outcome is the webhook_requests_total result label.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeInvalidSignature Outcome = "invalid_signature"
	OutcomeValidationError  Outcome = "validation_error"
	OutcomePayloadTooLarge  Outcome = "payload_too_large"
	OutcomeError            Outcome = "error"
)

// Result describes a processed delivery.
type Result struct {
	Outcome    Outcome
	MessageID  string
	ReceivedAt time.Time
	// Conflict is set for a duplicate whose body differs from the stored one.
	Conflict bool
}

// DefaultInsertTimeout bounds a store insert once it has started.
const DefaultInsertTimeout = 5 * time.Second

// IngestorConfig holds the ingestor's settings.
type IngestorConfig struct {
	Secret        []byte
	InsertTimeout time.Duration
}

// Ingestor runs one delivery through verify, validate and store.
type Ingestor struct {
	store         MessageInserter
	secret        []byte
	insertTimeout time.Duration
	metrics       Recorder
	logger        *slog.Logger
}

// NewIngestor builds an Ingestor. metrics may be nil.
func NewIngestor(config IngestorConfig, store MessageInserter, metrics Recorder, logger *slog.Logger) *Ingestor {
	if config.InsertTimeout <= 0 {
		config.InsertTimeout = DefaultInsertTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Ingestor{
		store:         store,
		secret:        config.Secret,
		insertTimeout: config.InsertTimeout,
		metrics:       metrics,
		logger:        logger,
	}
}

// Ingest processes one delivery. body must be the exact bytes received.
//
// Errors:
//   - ErrSignatureInvalid: nothing was parsed or stored
//   - *message.ValidationError: nothing was stored
//   - ErrStorageUnavailable (wrapped): the store failed
//
// A duplicate is not an error; it is reported as OutcomeDuplicate.
func (i *Ingestor) Ingest(ctx context.Context, body []byte, signature string) (Result, error) {
	if !Verify(body, signature, i.secret) {
		return i.finish(Result{Outcome: OutcomeInvalidSignature}), ErrSignatureInvalid
	}

	msg, err := Validate(body)
	if err != nil {
		var verr *message.ValidationError
		if !errors.As(err, &verr) {
			return i.finish(Result{Outcome: OutcomeError}), err
		}
		return i.finish(Result{Outcome: OutcomeValidationError}), err
	}
	msg.Fingerprint = Fingerprint(body)

	// The write must not be abandoned halfway because the client went away.
	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.insertTimeout)
	defer cancel()

	res, err := i.store.Insert(insertCtx, msg)
	if err != nil {
		i.logger.Error("store insert failed", "message_id", msg.ID, "error", err)
		return i.finish(Result{Outcome: OutcomeError, MessageID: msg.ID}), fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	result := Result{MessageID: msg.ID, ReceivedAt: res.ReceivedAt}
	switch res.Outcome {
	case message.Created:
		result.Outcome = OutcomeSuccess
	case message.AlreadyExists:
		result.Outcome = OutcomeDuplicate
		result.Conflict = res.FingerprintMismatch
		if res.FingerprintMismatch {
			i.logger.Warn("duplicate message_id with different payload", "message_id", msg.ID)
		}
	default:
		return i.finish(Result{Outcome: OutcomeError, MessageID: msg.ID}),
			fmt.Errorf("%w: unknown insert outcome %q", ErrStorageUnavailable, res.Outcome)
	}
	return i.finish(result), nil
}

// Reject records a delivery the HTTP layer refused before Ingest could run,
// such as a body over the size limit.
func (i *Ingestor) Reject(outcome Outcome) Result {
	return i.finish(Result{Outcome: outcome})
}

func (i *Ingestor) finish(r Result) Result {
	if i.metrics != nil {
		i.metrics.WebhookResult(string(r.Outcome))
	}
	return r
}
