// Package trust implements the trust score ledger: an append-only log of
// scored actions plus the derived per-(user, community) running totals.
package trust

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingCatalog    = errors.New("action catalog is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingUserID     = errors.New("user identifier is required")
	noOpLogger           = zap.NewNop()
)

// writeRetryBudget bounds how often a ledger write is retried when the
// driver reports transient contention before the call fails with
// ErrConcurrentWriteConflict.
const writeRetryBudget = 3

// ServiceError carries a machine-readable operation.reason code alongside the
// wrapped cause.
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
	opServiceNew    = "trust.service.new"
	opRecordAction  = "trust.record_action"
	opRecordInverse = "trust.record_inverse"
	opCurrentScore  = "trust.current_score"
	opListScores    = "trust.list_scores"
	opListLogs      = "trust.list_logs"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// PointsCatalog resolves action types to point values.
type PointsCatalog interface {
	PointsFor(actionType string) (int64, bool)
}

// IDProvider issues ledger entry identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider returns the default IDProvider. UUIDv7 identifiers sort by
// creation time, which keeps entry ids usable as an ordering tiebreak.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// ServiceConfig wires the ledger service dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Catalog    PointsCatalog
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service is the trust score ledger engine. All writes are serialized per
// (user, community) pair; reads observe committed state only.
type Service struct {
	db         *gorm.DB
	catalog    PointsCatalog
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	locks      *pairLocks
}

// NewService validates the configuration and constructs the ledger service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Catalog == nil {
		return nil, newServiceError(opServiceNew, "missing_catalog", errMissingCatalog)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
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
		db:         cfg.Database,
		catalog:    cfg.Catalog,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		locks:      newPairLocks(),
	}, nil
}

// RecordAction resolves the action's point value in the catalog and appends
// one immutable ledger entry for the pair, updating the running score in the
// same transaction. Unknown action types fail closed with
// ErrUnknownActionType and write nothing.
func (s *Service) RecordAction(ctx context.Context, request ActionRequest) (ScoreLogEntry, error) {
	points, found := s.catalog.PointsFor(request.ActionType.String())
	if !found {
		err := fmt.Errorf("%w: %s", ErrUnknownActionType, request.ActionType)
		s.logError(opRecordAction, "unknown_action_type", err,
			zap.String("user_id", request.UserID.String()),
			zap.String("community_id", request.CommunityID.String()))
		return ScoreLogEntry{}, newServiceError(opRecordAction, "unknown_action_type", err)
	}

	return s.appendEntry(ctx, opRecordAction, request, points, false)
}

// RecordInverse writes a compensating entry that reverses a prior award for
// the same action type. The point value is the catalog's current value,
// negated; the engine does not read back the original entry, so a catalog
// change between award and reversal leaves a non-zero residue.
func (s *Service) RecordInverse(ctx context.Context, request ActionRequest) (ScoreLogEntry, error) {
	points, found := s.catalog.PointsFor(request.ActionType.String())
	if !found {
		err := fmt.Errorf("%w: %s", ErrUnknownActionType, request.ActionType)
		s.logError(opRecordInverse, "unknown_action_type", err,
			zap.String("user_id", request.UserID.String()),
			zap.String("community_id", request.CommunityID.String()))
		return ScoreLogEntry{}, newServiceError(opRecordInverse, "unknown_action_type", err)
	}

	return s.appendEntry(ctx, opRecordInverse, request, -points, true)
}

func (s *Service) appendEntry(ctx context.Context, operation string, request ActionRequest, pointsChange int64, inversed bool) (ScoreLogEntry, error) {
	release := s.locks.acquire(pairKey(request.UserID, request.CommunityID))
	defer release()

	var lastErr error
	for attempt := 0; attempt < writeRetryBudget; attempt++ {
		entry, err := s.writeEntry(ctx, request, pointsChange, inversed)
		if err == nil {
			s.logger.Debug("ledger entry recorded",
				zap.String("operation", operation),
				zap.String("entry_id", entry.EntryID),
				zap.String("user_id", entry.UserID),
				zap.String("community_id", entry.CommunityID),
				zap.String("action_type", entry.ActionType),
				zap.Int64("points_change", entry.PointsChange),
				zap.Int64("score_after", entry.ScoreAfter))
			return entry, nil
		}
		if !isBusyError(err) {
			s.logError(operation, "write_failed", err,
				zap.String("user_id", request.UserID.String()),
				zap.String("community_id", request.CommunityID.String()))
			return ScoreLogEntry{}, newServiceError(operation, "write_failed", err)
		}
		lastErr = err
	}

	conflict := fmt.Errorf("%w: %v", ErrConcurrentWriteConflict, lastErr)
	s.logError(operation, "write_conflict", conflict,
		zap.String("user_id", request.UserID.String()),
		zap.String("community_id", request.CommunityID.String()))
	return ScoreLogEntry{}, newServiceError(operation, "write_conflict", conflict)
}

// writeEntry performs the single atomic unit: read the pair's current score,
// append the ledger entry, persist the updated total. Either both rows commit
// or neither does.
func (s *Service) writeEntry(ctx context.Context, request ActionRequest, pointsChange int64, inversed bool) (ScoreLogEntry, error) {
	var entry ScoreLogEntry

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current CommunityScore
		scoreBefore := int64(0)
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND community_id = ?", request.UserID.String(), request.CommunityID.String()).
			Take(&current).Error
		if err == nil {
			scoreBefore = current.Score
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("score select failed: %w", err)
		}

		entryID, err := s.idProvider.NewID()
		if err != nil {
			return fmt.Errorf("id generation failed: %w", err)
		}

		recordedAt := s.clock().UTC()
		entry = ScoreLogEntry{
			EntryID:          entryID,
			UserID:           request.UserID.String(),
			CommunityID:      request.CommunityID.String(),
			ActionType:       request.ActionType.String(),
			PointsChange:     pointsChange,
			IsInversed:       inversed,
			ScoreBefore:      scoreBefore,
			ScoreAfter:       scoreBefore + pointsChange,
			CreatedAtSeconds: recordedAt.Unix(),
		}

		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("ledger insert failed: %w", err)
		}

		updated := CommunityScore{
			UserID:           request.UserID.String(),
			CommunityID:      request.CommunityID.String(),
			Score:            entry.ScoreAfter,
			UpdatedAtSeconds: recordedAt.Unix(),
		}
		if err := tx.Save(&updated).Error; err != nil {
			return fmt.Errorf("score save failed: %w", err)
		}

		return nil
	})

	if txErr != nil {
		return ScoreLogEntry{}, txErr
	}

	return entry, nil
}

// CurrentScore returns the pair's running total. A pair with no ledger
// entries scores zero; that is a valid state, not an error.
func (s *Service) CurrentScore(ctx context.Context, userID, communityID string) (int64, error) {
	if userID == "" || communityID == "" {
		err := fmt.Errorf("user and community identifiers are required")
		s.logError(opCurrentScore, "missing_key", err)
		return 0, newServiceError(opCurrentScore, "missing_key", err)
	}

	var score CommunityScore
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND community_id = ?", userID, communityID).
		Take(&score).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		s.logError(opCurrentScore, "query_failed", err,
			zap.String("user_id", userID),
			zap.String("community_id", communityID))
		return 0, newServiceError(opCurrentScore, "query_failed", err)
	}

	return score.Score, nil
}

// ListScores returns every community score the user holds, ordered by
// community identifier. A brand-new user yields an empty slice.
func (s *Service) ListScores(ctx context.Context, userID string) ([]CommunityScore, error) {
	if userID == "" {
		s.logError(opListScores, "missing_user_id", errMissingUserID)
		return nil, newServiceError(opListScores, "missing_user_id", errMissingUserID)
	}

	scores := make([]CommunityScore, 0)
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("community_id ASC").
		Find(&scores).Error; err != nil {
		s.logError(opListScores, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opListScores, "query_failed", err)
	}

	return scores, nil
}

// ListLogs returns ledger entries matching the filter, newest first. Every
// populated filter field is an exact-match conjunct.
func (s *Service) ListLogs(ctx context.Context, filter LogFilter) ([]ScoreLogEntry, error) {
	query := s.db.WithContext(ctx).Model(&ScoreLogEntry{})
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.CommunityID != "" {
		query = query.Where("community_id = ?", filter.CommunityID)
	}
	if filter.ActionType != "" {
		query = query.Where("action_type = ?", filter.ActionType)
	}
	if filter.PointsChange != nil {
		query = query.Where("points_change = ?", *filter.PointsChange)
	}

	entries := make([]ScoreLogEntry, 0)
	if err := query.Order("created_at_s DESC, entry_id DESC").Find(&entries).Error; err != nil {
		s.logError(opListLogs, "query_failed", err)
		return nil, newServiceError(opListLogs, "query_failed", err)
	}

	return entries, nil
}

// isBusyError reports whether the driver signalled transient lock contention.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "database is locked") || strings.Contains(message, "database table is locked") || strings.Contains(message, "busy")
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
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
	s.loggerOrDefault().Error("trust service error", attrs...)
}
