// Package catalog holds the action-point catalog: the single source of truth
// for how many points a scorable action awards. The catalog is immutable once
// built; changing a point value is a configuration change and a restart, never
// a runtime mutation.
package catalog

import (
	"fmt"
	"sort"

	"github.com/spf13/viper"
)

// Action type identifiers scored by the trust engine. Collaborator services
// reference these when recording actions; the strings are stable API surface.
const (
	ActionCommunityCreated      = "community.created"
	ActionMemberJoined          = "member.joined"
	ActionResourceOfferCreated  = "resource.offer.created"
	ActionClaimRequestCreated   = "claim.request.created"
	ActionClaimRequestApproved  = "claim.request.approved"
	ActionClaimRequestCompleted = "claim.request.completed"
	ActionShoutoutSent          = "shoutout.sent"
	ActionShoutoutReceived      = "shoutout.received"
	ActionEventClaimCreated     = "event.claim.created"
	ActionEventGoing            = "event.going"
	ActionEventAttended         = "event.attended"
)

// defaultPoints is the compiled-in product catalog. "event.flaked" is absent
// on purpose: flaking awards nothing and must not resolve.
var defaultPoints = map[string]int64{
	ActionCommunityCreated:      1000,
	ActionMemberJoined:          50,
	ActionResourceOfferCreated:  15,
	ActionClaimRequestCreated:   5,
	ActionClaimRequestApproved:  10,
	ActionClaimRequestCompleted: 25,
	ActionShoutoutSent:          5,
	ActionShoutoutReceived:      10,
	ActionEventClaimCreated:     5,
	ActionEventGoing:            25,
	ActionEventAttended:         50,
}

// Catalog answers point lookups for action types.
type Catalog struct {
	points map[string]int64
}

// New builds a catalog from the compiled-in defaults merged with the supplied
// overrides. Overrides may introduce new action types as well as repoint
// existing ones.
func New(overrides map[string]int64) *Catalog {
	points := make(map[string]int64, len(defaultPoints)+len(overrides))
	for actionType, value := range defaultPoints {
		points[actionType] = value
	}
	for actionType, value := range overrides {
		points[actionType] = value
	}
	return &Catalog{points: points}
}

// LoadOverrides reads a catalog override file (any format viper understands,
// keyed action type -> points) and returns the override map. An empty path
// yields no overrides.
func LoadOverrides(path string) (map[string]int64, error) {
	if path == "" {
		return nil, nil
	}

	// Action types contain dots, so the default viper key delimiter would
	// split them into nested keys.
	catalogViper := viper.NewWithOptions(viper.KeyDelimiter("::"))
	catalogViper.SetConfigFile(path)
	if err := catalogViper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("catalog: read overrides: %w", err)
	}

	overrides := make(map[string]int64)
	for _, key := range catalogViper.AllKeys() {
		overrides[key] = catalogViper.GetInt64(key)
	}
	return overrides, nil
}

// PointsFor resolves the point value for an action type. The second return is
// false when the action type is not in the catalog; callers must fail closed
// rather than award zero.
func (c *Catalog) PointsFor(actionType string) (int64, bool) {
	points, found := c.points[actionType]
	return points, found
}

// ActionTypes returns every known action type in sorted order.
func (c *Catalog) ActionTypes() []string {
	types := make([]string, 0, len(c.points))
	for actionType := range c.points {
		types = append(types, actionType)
	}
	sort.Strings(types)
	return types
}
