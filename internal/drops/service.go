package drops

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/deaddrop/internal/keys"
	"github.com/MarcoPoloResearchLab/deaddrop/internal/metrics"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ExpiryWindow is the age at which an unclaimed drop is consumed without being delivered.
const ExpiryWindow = 24 * time.Hour

var (
	// ErrStorageUnavailable marks failures of the backing store, including timeouts.
	ErrStorageUnavailable = errors.New("drops: storage unavailable")

	errMissingDatabase  = errors.New("database handle is required")
	errMissingKeyIssuer = errors.New("key issuer is required")
	noOpLogger          = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew   = "drops.service.new"
	opCreate       = "drops.create"
	opPickup       = "drops.pickup"
	opIssueFormKey = "drops.issue_form_key"

	reasonMissingDatabase     = "missing_database"
	reasonMissingKeyIssuer    = "missing_key_issuer"
	reasonKeyIssueFailed      = "key_issue_failed"
	reasonDropInsertFailed    = "drop_insert_failed"
	reasonTrackInsertFailed   = "track_insert_failed"
	reasonDropDeleteFailed    = "drop_delete_failed"
	reasonTrackUpdateFailed   = "track_update_failed"
	reasonFormKeyInsertFailed = "form_key_insert_failed"
	reasonTransactionFailed   = "transaction_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func storageFault(cause error) error {
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, cause)
}

// PickupStatus describes how a pickup attempt ended. Only PickupDelivered
// carries a payload; callers are expected to treat the others alike.
type PickupStatus string

const (
	PickupDelivered PickupStatus = "delivered"
	PickupNotFound  PickupStatus = "not_found"
	PickupExpired   PickupStatus = "expired"
	PickupUndated   PickupStatus = "undated"
)

// PickupResult is the outcome of a pickup attempt.
type PickupResult struct {
	Payload string
	Status  PickupStatus
}

// Delivered reports whether the payload was handed out.
func (r PickupResult) Delivered() bool {
	return r.Status == PickupDelivered
}

type ServiceConfig struct {
	Database         *gorm.DB
	Clock            func() time.Time
	KeyIssuer        keys.Issuer
	Logger           *zap.Logger
	OperationTimeout time.Duration
}

// Service owns the drop lifecycle: creation, one-time pickup and form key issuance.
type Service struct {
	db        *gorm.DB
	clock     func() time.Time
	keyIssuer keys.Issuer
	ledger    Ledger
	logger    *zap.Logger
	timeout   time.Duration
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.KeyIssuer == nil {
		return nil, newServiceError(opServiceNew, reasonMissingKeyIssuer, errMissingKeyIssuer)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:        cfg.Database,
		clock:     clock,
		keyIssuer: cfg.KeyIssuer,
		logger:    logger,
		timeout:   cfg.OperationTimeout,
	}, nil
}

// Create persists data under a freshly issued key together with its open
// track record and returns the key.
func (s *Service) Create(ctx context.Context, data, userHash string) (string, error) {
	if s.db == nil {
		s.logError(opCreate, reasonMissingDatabase, errMissingDatabase)
		return "", newServiceError(opCreate, reasonMissingDatabase, errMissingDatabase)
	}

	key, err := s.keyIssuer.Issue()
	if err != nil {
		s.logError(opCreate, reasonKeyIssueFailed, err)
		return "", newServiceError(opCreate, reasonKeyIssueFailed, err)
	}

	ctx, cancel := s.operationContext(ctx)
	defer cancel()

	createdAt := s.clock().UTC()
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		drop := Drop{Key: key, Data: data, CreatedDate: &createdAt}
		if err := tx.Create(&drop).Error; err != nil {
			s.logError(opCreate, reasonDropInsertFailed, err)
			return newServiceError(opCreate, reasonDropInsertFailed, storageFault(err))
		}
		if err := s.ledger.RecordCreation(tx, key, userHash, createdAt); err != nil {
			s.logError(opCreate, reasonTrackInsertFailed, err)
			return newServiceError(opCreate, reasonTrackInsertFailed, storageFault(err))
		}
		return nil
	})
	if txErr != nil {
		recordStorageError(ctx)
		return "", s.asStorageError(opCreate, txErr)
	}

	stats.Record(ctx, metrics.DropsCreated.M(1))
	return key, nil
}

// Pickup consumes the drop stored under key. The drop is removed and its track
// record closed in one transaction whose delete is the single arbiter between
// concurrent callers: at most one of them ever observes the drop. Expired and
// undated drops are consumed without delivering their payload.
func (s *Service) Pickup(ctx context.Context, key string) (PickupResult, error) {
	if s.db == nil {
		s.logError(opPickup, reasonMissingDatabase, errMissingDatabase)
		return PickupResult{}, newServiceError(opPickup, reasonMissingDatabase, errMissingDatabase)
	}

	start := time.Now()
	if strings.TrimSpace(key) == "" {
		result := PickupResult{Status: PickupNotFound}
		s.recordPickup(ctx, result.Status, start)
		return result, nil
	}

	ctx, cancel := s.operationContext(ctx)
	defer cancel()

	now := s.clock().UTC()
	var removed []Drop
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Returning{}).Where(queryDropKey, key).Delete(&removed).Error; err != nil {
			s.logError(opPickup, reasonDropDeleteFailed, err)
			return newServiceError(opPickup, reasonDropDeleteFailed, storageFault(err))
		}
		if len(removed) == 0 {
			return nil
		}
		if _, err := s.ledger.RecordPickup(tx, key, now); err != nil {
			s.logError(opPickup, reasonTrackUpdateFailed, err)
			return newServiceError(opPickup, reasonTrackUpdateFailed, storageFault(err))
		}
		return nil
	})
	if txErr != nil {
		recordStorageError(ctx)
		return PickupResult{}, s.asStorageError(opPickup, txErr)
	}

	result := classifyPickup(removed, now)
	s.recordPickup(ctx, result.Status, start)
	return result, nil
}

// IssueFormKey stores and returns a new form key.
func (s *Service) IssueFormKey(ctx context.Context) (string, error) {
	if s.db == nil {
		s.logError(opIssueFormKey, reasonMissingDatabase, errMissingDatabase)
		return "", newServiceError(opIssueFormKey, reasonMissingDatabase, errMissingDatabase)
	}

	key, err := s.keyIssuer.Issue()
	if err != nil {
		s.logError(opIssueFormKey, reasonKeyIssueFailed, err)
		return "", newServiceError(opIssueFormKey, reasonKeyIssueFailed, err)
	}

	ctx, cancel := s.operationContext(ctx)
	defer cancel()

	formKey := FormKey{Key: key, Created: s.clock().UTC()}
	if err := s.db.WithContext(ctx).Create(&formKey).Error; err != nil {
		s.logError(opIssueFormKey, reasonFormKeyInsertFailed, err)
		recordStorageError(ctx)
		return "", newServiceError(opIssueFormKey, reasonFormKeyInsertFailed, storageFault(err))
	}

	stats.Record(ctx, metrics.FormKeys.M(1))
	return key, nil
}

func classifyPickup(removed []Drop, now time.Time) PickupResult {
	if len(removed) == 0 {
		return PickupResult{Status: PickupNotFound}
	}
	drop := removed[0]
	if drop.CreatedDate == nil || drop.CreatedDate.IsZero() {
		return PickupResult{Status: PickupUndated}
	}
	if now.Sub(*drop.CreatedDate) >= ExpiryWindow {
		return PickupResult{Status: PickupExpired}
	}
	return PickupResult{Payload: drop.Data, Status: PickupDelivered}
}

// asStorageError normalises transaction errors. Errors raised inside the
// transaction are already coded; begin and commit failures are coded here.
func (s *Service) asStorageError(operation string, err error) error {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return err
	}
	s.logError(operation, reasonTransactionFailed, err)
	return newServiceError(operation, reasonTransactionFailed, storageFault(err))
}

func (s *Service) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) recordPickup(ctx context.Context, status PickupStatus, start time.Time) {
	_ = stats.RecordWithOptions(ctx,
		stats.WithTags(tag.Upsert(metrics.Outcome, string(status))),
		stats.WithMeasurements(metrics.Pickups.M(1), metrics.PickupLatency.M(metrics.MsecSince(start))))
	s.loggerOrDefault().Debug("pickup attempted", zap.String("outcome", string(status)))
}

func recordStorageError(ctx context.Context) {
	stats.Record(ctx, metrics.StorageErrors.M(1))
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("drops service error", attrs...)
}
