package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gatherly-app/gatherly/backend/internal/events"
	"github.com/gatherly-app/gatherly/backend/internal/trust"
	"github.com/gin-gonic/gin"
)

type fakeTokens struct {
	validSubject string
}

func (f *fakeTokens) IssueServiceToken(_ context.Context, serviceName, provisioningKey string) (string, int64, error) {
	if provisioningKey != "good-key" {
		return "", 0, errInvalidAuthorization
	}
	return "token-" + serviceName, 900, nil
}

func (f *fakeTokens) ValidateToken(token string) (string, error) {
	if token == "valid-token" {
		return f.validSubject, nil
	}
	return "", errInvalidAuthorization
}

type fakeTrustService struct {
	recordErr  error
	lastAction trust.ActionRequest
	score      int64
	logs       []trust.ScoreLogEntry
}

func (f *fakeTrustService) RecordAction(_ context.Context, request trust.ActionRequest) (trust.ScoreLogEntry, error) {
	f.lastAction = request
	if f.recordErr != nil {
		return trust.ScoreLogEntry{}, f.recordErr
	}
	return trust.ScoreLogEntry{
		EntryID:      "entry-1",
		UserID:       request.UserID.String(),
		CommunityID:  request.CommunityID.String(),
		ActionType:   request.ActionType.String(),
		PointsChange: 50,
		ScoreAfter:   50,
	}, nil
}

func (f *fakeTrustService) RecordInverse(_ context.Context, request trust.ActionRequest) (trust.ScoreLogEntry, error) {
	f.lastAction = request
	if f.recordErr != nil {
		return trust.ScoreLogEntry{}, f.recordErr
	}
	return trust.ScoreLogEntry{
		EntryID:      "entry-2",
		UserID:       request.UserID.String(),
		CommunityID:  request.CommunityID.String(),
		ActionType:   request.ActionType.String(),
		PointsChange: -50,
		IsInversed:   true,
	}, nil
}

func (f *fakeTrustService) CurrentScore(_ context.Context, _, _ string) (int64, error) {
	return f.score, nil
}

func (f *fakeTrustService) ListScores(_ context.Context, userID string) ([]trust.CommunityScore, error) {
	return []trust.CommunityScore{{UserID: userID, CommunityID: "community-1", Score: f.score}}, nil
}

func (f *fakeTrustService) ListLogs(_ context.Context, _ trust.LogFilter) ([]trust.ScoreLogEntry, error) {
	return f.logs, nil
}

type fakeRecorder struct {
	outcome events.Outcome
	err     error
}

func (f *fakeRecorder) HandleEvent(_ context.Context, _ events.DomainEvent) (events.Outcome, error) {
	return f.outcome, f.err
}

func newTestHandler(t *testing.T, service *fakeTrustService, recorder EventRecorder) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if recorder == nil {
		recorder = &fakeRecorder{}
	}
	handler, err := NewHTTPHandler(HandlerConfig{
		TokenManager: &fakeTokens{validSubject: "community-service"},
		TrustService: service,
		Recorder:     recorder,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler
}

func doRequest(handler http.Handler, method, target, body string, authorized bool) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, target, reader)
	request.Header.Set("Content-Type", "application/json")
	if authorized {
		request.Header.Set("Authorization", "Bearer valid-token")
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestIssueTokenRejectsBadKey(t *testing.T) {
	handler := newTestHandler(t, &fakeTrustService{}, nil)

	recorder := doRequest(handler, http.MethodPost, "/auth/token", `{"service":"community-service","provisioning_key":"bad"}`, false)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestIssueTokenReturnsBearer(t *testing.T) {
	handler := newTestHandler(t, &fakeTrustService{}, nil)

	recorder := doRequest(handler, http.MethodPost, "/auth/token", `{"service":"community-service","provisioning_key":"good-key"}`, false)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var response tokenResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.AccessToken != "token-community-service" || response.TokenType != "Bearer" {
		t.Fatalf("unexpected token response %#v", response)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	handler := newTestHandler(t, &fakeTrustService{}, nil)

	recorder := doRequest(handler, http.MethodPost, "/trust/actions", `{"user_id":"user-1","community_id":"community-1","action_type":"member.joined"}`, false)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer token, got %d", recorder.Code)
	}
}

func TestRecordActionReturnsEntry(t *testing.T) {
	service := &fakeTrustService{}
	handler := newTestHandler(t, service, nil)

	recorder := doRequest(handler, http.MethodPost, "/trust/actions", `{"user_id":"user-1","community_id":"community-1","action_type":"member.joined"}`, true)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var response entryResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.EntryID != "entry-1" || response.ScoreAfter != 50 {
		t.Fatalf("unexpected entry response %#v", response)
	}
	if service.lastAction.ActionType.String() != "member.joined" {
		t.Fatalf("service received wrong action type %s", service.lastAction.ActionType.String())
	}
}

func TestRecordActionValidation(t *testing.T) {
	handler := newTestHandler(t, &fakeTrustService{}, nil)

	recorder := doRequest(handler, http.MethodPost, "/trust/actions", `{"user_id":"","community_id":"community-1","action_type":"member.joined"}`, true)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	expected := `{"error":"invalid_user_id"}`
	if recorder.Body.String() != expected {
		t.Fatalf("unexpected response body: %s", recorder.Body.String())
	}
}

func TestRecordActionUnknownTypeMapsTo422(t *testing.T) {
	service := &fakeTrustService{recordErr: trust.ErrUnknownActionType}
	handler := newTestHandler(t, service, nil)

	recorder := doRequest(handler, http.MethodPost, "/trust/actions", `{"user_id":"user-1","community_id":"community-1","action_type":"bogus.type"}`, true)
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", recorder.Code)
	}
}

func TestRecordActionConflictMapsTo409(t *testing.T) {
	service := &fakeTrustService{recordErr: trust.ErrConcurrentWriteConflict}
	handler := newTestHandler(t, service, nil)

	recorder := doRequest(handler, http.MethodPost, "/trust/actions", `{"user_id":"user-1","community_id":"community-1","action_type":"member.joined"}`, true)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
}

func TestRecordInverseMarksEntry(t *testing.T) {
	handler := newTestHandler(t, &fakeTrustService{}, nil)

	recorder := doRequest(handler, http.MethodPost, "/trust/reversals", `{"user_id":"user-1","community_id":"community-1","action_type":"member.joined"}`, true)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", recorder.Code)
	}

	var response entryResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !response.IsInversed || response.PointsChange != -50 {
		t.Fatalf("unexpected reversal response %#v", response)
	}
}

func TestDomainEventFlakedRecordsNothing(t *testing.T) {
	handler := newTestHandler(t, &fakeTrustService{}, &fakeRecorder{outcome: events.Outcome{Recorded: false}})

	recorder := doRequest(handler, http.MethodPost, "/trust/events", `{"event":"event.flaked","user_id":"user-1","community_id":"community-1"}`, true)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	var response domainEventResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Recorded || response.Entry != nil {
		t.Fatalf("expected no entry for flaked event, got %#v", response)
	}
}

func TestDomainEventUnknownNameMapsTo400(t *testing.T) {
	handler := newTestHandler(t, &fakeTrustService{}, &fakeRecorder{err: events.ErrUnknownEvent})

	recorder := doRequest(handler, http.MethodPost, "/trust/events", `{"event":"community.renamed","user_id":"user-1","community_id":"community-1"}`, true)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestListLogsRejectsBadPointsFilter(t *testing.T) {
	handler := newTestHandler(t, &fakeTrustService{}, nil)

	recorder := doRequest(handler, http.MethodGet, "/trust/log?points_change=abc", "", true)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestCurrentScoreResponds(t *testing.T) {
	handler := newTestHandler(t, &fakeTrustService{score: 1050}, nil)

	recorder := doRequest(handler, http.MethodGet, "/trust/scores/user-1/community-1", "", true)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	var response scoreResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Score != 1050 {
		t.Fatalf("expected score 1050, got %d", response.Score)
	}
}
