package trust

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("trust: invalid user id")
	// ErrInvalidCommunityID indicates that a community identifier is empty or exceeds storage bounds.
	ErrInvalidCommunityID = errors.New("trust: invalid community id")
	// ErrInvalidActionType indicates that an action type identifier is empty or exceeds storage bounds.
	ErrInvalidActionType = errors.New("trust: invalid action type")
	// ErrUnknownActionType indicates that the catalog has no point value for the action type.
	ErrUnknownActionType = errors.New("trust: unknown action type")
	// ErrConcurrentWriteConflict indicates that a ledger write kept losing to
	// concurrent writers past the retry budget. The call made no partial write
	// and may be retried by the caller.
	ErrConcurrentWriteConflict = errors.New("trust: concurrent write conflict")
)

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// CommunityID represents a validated community identifier.
type CommunityID string

// NewCommunityID validates raw input and returns a CommunityID.
func NewCommunityID(rawInput string) (CommunityID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCommunityID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCommunityID, maxIdentifierLength)
	}
	return CommunityID(trimmed), nil
}

// String returns the underlying string identifier.
func (id CommunityID) String() string {
	return string(id)
}

// ActionType represents a validated scorable action identifier. The value is
// opaque to the engine; only the catalog knows what it is worth.
type ActionType string

// NewActionType validates raw input and returns an ActionType.
func NewActionType(rawInput string) (ActionType, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidActionType)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidActionType, maxIdentifierLength)
	}
	return ActionType(trimmed), nil
}

// String returns the underlying string identifier.
func (a ActionType) String() string {
	return string(a)
}

// ScoreLogEntry is one immutable row of the trust ledger. Entries are written
// exactly once by the ledger writer and never updated or deleted; a reversal
// is a second entry with IsInversed set and a negated PointsChange.
type ScoreLogEntry struct {
	EntryID          string `gorm:"column:entry_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;size:190;not null;index:idx_score_log_pair_time,priority:1"`
	CommunityID      string `gorm:"column:community_id;size:190;not null;index:idx_score_log_pair_time,priority:2"`
	ActionType       string `gorm:"column:action_type;size:190;not null;index"`
	PointsChange     int64  `gorm:"column:points_change;not null"`
	IsInversed       bool   `gorm:"column:is_inversed;not null;default:false"`
	ScoreBefore      int64  `gorm:"column:score_before;not null"`
	ScoreAfter       int64  `gorm:"column:score_after;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_score_log_pair_time,priority:3"`
}

// TableName provides the explicit table binding for GORM.
func (ScoreLogEntry) TableName() string {
	return "score_log"
}

// CommunityScore is the derived running total for one (user, community) pair.
// It always equals the sum of PointsChange across the pair's ledger entries
// and is mutated only inside the ledger writer's transaction.
type CommunityScore struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	CommunityID      string `gorm:"column:community_id;primaryKey;size:190;not null"`
	Score            int64  `gorm:"column:score;not null;default:0"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CommunityScore) TableName() string {
	return "community_score"
}

// ActionRequest identifies the pair and action for a record or reverse call.
type ActionRequest struct {
	UserID      UserID
	CommunityID CommunityID
	ActionType  ActionType
}

// LogFilter narrows ListLogs output. Nil/zero fields match everything;
// populated fields are exact-match conjuncts.
type LogFilter struct {
	UserID       string
	CommunityID  string
	ActionType   string
	PointsChange *int64
}
