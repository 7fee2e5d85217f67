package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/deaddrop/internal/drops"
	"github.com/MarcoPoloResearchLab/deaddrop/internal/metrics"
	ocstats "go.opencensus.io/stats"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrStorageUnavailable marks failures of the backing store, including timeouts.
	ErrStorageUnavailable = errors.New("stats: storage unavailable")

	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew       = "stats.service.new"
	opDailySeries      = "stats.daily_series"
	reasonMissingDB    = "missing_database"
	reasonQueryFailed  = "query_failed"
	reasonScanFailed   = "scan_failed"
	selectTrackSamples = "created_date, user_hash"
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

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

type ServiceConfig struct {
	Database         *gorm.DB
	Location         *time.Location
	Logger           *zap.Logger
	OperationTimeout time.Duration
}

// Service reduces the track ledger into daily drop volume series. It only reads.
type Service struct {
	db       *gorm.DB
	location *time.Location
	logger   *zap.Logger
	timeout  time.Duration
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDB, errMissingDatabase)
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:       cfg.Database,
		location: location,
		logger:   logger,
		timeout:  cfg.OperationTimeout,
	}, nil
}

// DailySeries streams every track record through the two-stage reduction.
func (s *Service) DailySeries(ctx context.Context) (DailySeries, error) {
	if s.db == nil {
		s.logError(reasonMissingDB, errMissingDatabase)
		return DailySeries{}, newServiceError(opDailySeries, reasonMissingDB, errMissingDatabase)
	}

	start := time.Now()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	rows, err := s.db.WithContext(ctx).
		Model(&drops.TrackRecord{}).
		Select(selectTrackSamples).
		Rows()
	if err != nil {
		s.logError(reasonQueryFailed, err)
		return DailySeries{}, newServiceError(opDailySeries, reasonQueryFailed, fmt.Errorf("%w: %w", ErrStorageUnavailable, err))
	}
	defer rows.Close()

	reduction := newReducer(s.location)
	for rows.Next() {
		var sample Sample
		if err := s.db.ScanRows(rows, &sample); err != nil {
			s.logError(reasonScanFailed, err)
			return DailySeries{}, newServiceError(opDailySeries, reasonScanFailed, fmt.Errorf("%w: %w", ErrStorageUnavailable, err))
		}
		reduction.add(sample)
	}
	if err := rows.Err(); err != nil {
		s.logError(reasonQueryFailed, err)
		return DailySeries{}, newServiceError(opDailySeries, reasonQueryFailed, fmt.Errorf("%w: %w", ErrStorageUnavailable, err))
	}

	series := reduction.series()
	ocstats.Record(ctx, metrics.StatsLatency.M(metrics.MsecSince(start)))
	return series, nil
}

func (s *Service) logError(reason string, err error) {
	logger := noOpLogger
	if s != nil && s.logger != nil {
		logger = s.logger
	}
	logger.Error("stats service error",
		zap.String("operation", opDailySeries),
		zap.String("reason", reason),
		zap.Error(err))
}
