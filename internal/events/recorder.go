// Package events maps the product's domain events onto trust ledger
// operations. Collaborator services publish one event per committed domain
// mutation; the recorder decides whether it awards, reverses, or ignores.
package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/gatherly-app/gatherly/backend/internal/catalog"
	"github.com/gatherly-app/gatherly/backend/internal/trust"
	"go.uber.org/zap"
)

// Domain event names emitted by collaborator services. The three join
// variants all award the same member.joined action type.
const (
	EventCommunityCreated          = "community.created"
	EventMemberJoined              = "community.member_joined"
	EventMemberJoinedViaInvitation = "community.member_joined_via_invitation"
	EventMemberJoinedViaConnection = "community.member_joined_via_connection"
	EventMemberLeft                = "community.member_left"
	EventResourceOfferCreated      = "resource.offer_created"
	EventClaimRequestCreated       = "resource.claim_created"
	EventClaimRequestApproved      = "resource.claim_approved"
	EventClaimRequestCompleted     = "resource.claim_completed"
	EventShoutoutSent              = "shoutout.sent"
	EventShoutoutReceived          = "shoutout.received"
	EventClaimCreated              = "event.claim_created"
	EventGoing                     = "event.going"
	EventAttended                  = "event.attended"
	EventFlaked                    = "event.flaked"
)

// ErrUnknownEvent indicates a domain event name the recorder has no mapping for.
var ErrUnknownEvent = errors.New("events: unknown event name")

// DomainEvent names one committed domain mutation for one (user, community) pair.
type DomainEvent struct {
	Name        string
	UserID      string
	CommunityID string
}

// Outcome reports what the recorder did with an event. Recorded is false for
// events that intentionally score nothing (flaking on an event).
type Outcome struct {
	Recorded bool
	Inversed bool
	Entry    trust.ScoreLogEntry
}

// Ledger is the slice of the trust service the recorder drives.
type Ledger interface {
	RecordAction(ctx context.Context, request trust.ActionRequest) (trust.ScoreLogEntry, error)
	RecordInverse(ctx context.Context, request trust.ActionRequest) (trust.ScoreLogEntry, error)
}

type mapping struct {
	actionType string
	inverse    bool
}

// eventActions binds event names to catalog action types. member_left reverses
// the join award rather than introducing a distinct undo type, so ledger
// queries by action type still find the matched pair.
var eventActions = map[string]mapping{
	EventCommunityCreated:          {actionType: catalog.ActionCommunityCreated},
	EventMemberJoined:              {actionType: catalog.ActionMemberJoined},
	EventMemberJoinedViaInvitation: {actionType: catalog.ActionMemberJoined},
	EventMemberJoinedViaConnection: {actionType: catalog.ActionMemberJoined},
	EventMemberLeft:                {actionType: catalog.ActionMemberJoined, inverse: true},
	EventResourceOfferCreated:      {actionType: catalog.ActionResourceOfferCreated},
	EventClaimRequestCreated:       {actionType: catalog.ActionClaimRequestCreated},
	EventClaimRequestApproved:      {actionType: catalog.ActionClaimRequestApproved},
	EventClaimRequestCompleted:     {actionType: catalog.ActionClaimRequestCompleted},
	EventShoutoutSent:              {actionType: catalog.ActionShoutoutSent},
	EventShoutoutReceived:          {actionType: catalog.ActionShoutoutReceived},
	EventClaimCreated:              {actionType: catalog.ActionEventClaimCreated},
	EventGoing:                     {actionType: catalog.ActionEventGoing},
	EventAttended:                  {actionType: catalog.ActionEventAttended},
}

// Recorder consumes domain events and records the corresponding ledger entries.
type Recorder struct {
	ledger Ledger
	logger *zap.Logger
}

// NewRecorder constructs a Recorder over the provided ledger.
func NewRecorder(ledger Ledger, logger *zap.Logger) (*Recorder, error) {
	if ledger == nil {
		return nil, errors.New("events: ledger is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{ledger: ledger, logger: logger}, nil
}

// HandleEvent records the ledger entry the event maps to. Events that score
// nothing return an Outcome with Recorded=false and no error; unknown event
// names fail with ErrUnknownEvent.
func (r *Recorder) HandleEvent(ctx context.Context, event DomainEvent) (Outcome, error) {
	if event.Name == EventFlaked {
		r.logger.Debug("domain event scores nothing",
			zap.String("event", event.Name),
			zap.String("user_id", event.UserID),
			zap.String("community_id", event.CommunityID))
		return Outcome{}, nil
	}

	bound, found := eventActions[event.Name]
	if !found {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownEvent, event.Name)
	}

	request, err := buildRequest(event, bound.actionType)
	if err != nil {
		return Outcome{}, err
	}

	var entry trust.ScoreLogEntry
	if bound.inverse {
		entry, err = r.ledger.RecordInverse(ctx, request)
	} else {
		entry, err = r.ledger.RecordAction(ctx, request)
	}
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{Recorded: true, Inversed: bound.inverse, Entry: entry}, nil
}

func buildRequest(event DomainEvent, actionType string) (trust.ActionRequest, error) {
	userID, err := trust.NewUserID(event.UserID)
	if err != nil {
		return trust.ActionRequest{}, err
	}
	communityID, err := trust.NewCommunityID(event.CommunityID)
	if err != nil {
		return trust.ActionRequest{}, err
	}
	parsed, err := trust.NewActionType(actionType)
	if err != nil {
		return trust.ActionRequest{}, err
	}
	return trust.ActionRequest{UserID: userID, CommunityID: communityID, ActionType: parsed}, nil
}
