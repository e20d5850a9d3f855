package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gatherly-app/gatherly/backend/internal/events"
	"github.com/gatherly-app/gatherly/backend/internal/trust"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceNameContextKey = "gatherly_service_name"

const streamHeartbeatInterval = 25 * time.Second

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingTrustService  = errors.New("trust service dependency required")
	errMissingRecorder      = errors.New("event recorder dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// ServiceTokenManager authenticates collaborator services.
type ServiceTokenManager interface {
	IssueServiceToken(ctx context.Context, serviceName, provisioningKey string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// TrustService is the ledger surface exposed over HTTP.
type TrustService interface {
	RecordAction(ctx context.Context, request trust.ActionRequest) (trust.ScoreLogEntry, error)
	RecordInverse(ctx context.Context, request trust.ActionRequest) (trust.ScoreLogEntry, error)
	CurrentScore(ctx context.Context, userID, communityID string) (int64, error)
	ListScores(ctx context.Context, userID string) ([]trust.CommunityScore, error)
	ListLogs(ctx context.Context, filter trust.LogFilter) ([]trust.ScoreLogEntry, error)
}

// EventRecorder consumes domain events on behalf of collaborators.
type EventRecorder interface {
	HandleEvent(ctx context.Context, event events.DomainEvent) (events.Outcome, error)
}

// HandlerConfig wires the HTTP layer.
type HandlerConfig struct {
	TokenManager ServiceTokenManager
	TrustService TrustService
	Recorder     EventRecorder
	Realtime     *RealtimeDispatcher
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router for the trust API.
func NewHTTPHandler(cfg HandlerConfig) (http.Handler, error) {
	if cfg.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if cfg.TrustService == nil {
		return nil, errMissingTrustService
	}
	if cfg.Recorder == nil {
		return nil, errMissingRecorder
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := cfg.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:   cfg.TokenManager,
		trust:    cfg.TrustService,
		recorder: cfg.Recorder,
		realtime: realtime,
		logger:   logger,
	}

	router.POST("/auth/token", handler.handleIssueToken)

	protected := router.Group("/trust")
	protected.Use(handler.authorizeRequest)
	protected.POST("/actions", handler.handleRecordAction)
	protected.POST("/reversals", handler.handleRecordInverse)
	protected.POST("/events", handler.handleDomainEvent)
	protected.GET("/scores/:user_id", handler.handleListScores)
	protected.GET("/scores/:user_id/:community_id", handler.handleCurrentScore)
	protected.GET("/log", handler.handleListLogs)
	protected.GET("/stream", handler.handleScoreStream)

	return router, nil
}

type httpHandler struct {
	tokens   ServiceTokenManager
	trust    TrustService
	recorder EventRecorder
	realtime *RealtimeDispatcher
	logger   *zap.Logger
}

type tokenRequestPayload struct {
	Service         string `json:"service"`
	ProvisioningKey string `json:"provisioning_key"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Service) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.tokens.IssueServiceToken(c.Request.Context(), request.Service, request.ProvisioningKey)
	if err != nil {
		h.logger.Warn("service token issue refused", zap.String("service", request.Service), zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type actionRequestPayload struct {
	UserID      string `json:"user_id"`
	CommunityID string `json:"community_id"`
	ActionType  string `json:"action_type"`
}

type entryResponsePayload struct {
	EntryID          string `json:"entry_id"`
	UserID           string `json:"user_id"`
	CommunityID      string `json:"community_id"`
	ActionType       string `json:"action_type"`
	PointsChange     int64  `json:"points_change"`
	IsInversed       bool   `json:"is_inversed"`
	ScoreBefore      int64  `json:"score_before"`
	ScoreAfter       int64  `json:"score_after"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

func entryResponse(entry trust.ScoreLogEntry) entryResponsePayload {
	return entryResponsePayload{
		EntryID:          entry.EntryID,
		UserID:           entry.UserID,
		CommunityID:      entry.CommunityID,
		ActionType:       entry.ActionType,
		PointsChange:     entry.PointsChange,
		IsInversed:       entry.IsInversed,
		ScoreBefore:      entry.ScoreBefore,
		ScoreAfter:       entry.ScoreAfter,
		CreatedAtSeconds: entry.CreatedAtSeconds,
	}
}

func (h *httpHandler) handleRecordAction(c *gin.Context) {
	h.handleRecord(c, false)
}

func (h *httpHandler) handleRecordInverse(c *gin.Context) {
	h.handleRecord(c, true)
}

func (h *httpHandler) handleRecord(c *gin.Context, inverse bool) {
	var payload actionRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	request, err := parseActionRequest(payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErrorCode(err)})
		return
	}

	var entry trust.ScoreLogEntry
	if inverse {
		entry, err = h.trust.RecordInverse(c.Request.Context(), request)
	} else {
		entry, err = h.trust.RecordAction(c.Request.Context(), request)
	}
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.publishScoreChange(entry)
	c.JSON(http.StatusCreated, entryResponse(entry))
}

type domainEventPayload struct {
	Event       string `json:"event"`
	UserID      string `json:"user_id"`
	CommunityID string `json:"community_id"`
}

type domainEventResponsePayload struct {
	Recorded bool                  `json:"recorded"`
	Inversed bool                  `json:"inversed"`
	Entry    *entryResponsePayload `json:"entry,omitempty"`
}

func (h *httpHandler) handleDomainEvent(c *gin.Context) {
	var payload domainEventPayload
	if err := c.ShouldBindJSON(&payload); err != nil || strings.TrimSpace(payload.Event) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	outcome, err := h.recorder.HandleEvent(c.Request.Context(), events.DomainEvent{
		Name:        payload.Event,
		UserID:      payload.UserID,
		CommunityID: payload.CommunityID,
	})
	if err != nil {
		if errors.Is(err, events.ErrUnknownEvent) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_event"})
			return
		}
		h.respondServiceError(c, err)
		return
	}

	response := domainEventResponsePayload{Recorded: outcome.Recorded, Inversed: outcome.Inversed}
	if outcome.Recorded {
		entry := entryResponse(outcome.Entry)
		response.Entry = &entry
		h.publishScoreChange(outcome.Entry)
	}
	c.JSON(http.StatusOK, response)
}

type scoreResponsePayload struct {
	UserID      string `json:"user_id"`
	CommunityID string `json:"community_id"`
	Score       int64  `json:"score"`
}

func (h *httpHandler) handleCurrentScore(c *gin.Context) {
	userID := c.Param("user_id")
	communityID := c.Param("community_id")

	score, err := h.trust.CurrentScore(c.Request.Context(), userID, communityID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, scoreResponsePayload{
		UserID:      userID,
		CommunityID: communityID,
		Score:       score,
	})
}

type scoreListResponsePayload struct {
	Scores []scoreResponsePayload `json:"scores"`
}

func (h *httpHandler) handleListScores(c *gin.Context) {
	userID := c.Param("user_id")

	scores, err := h.trust.ListScores(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	response := scoreListResponsePayload{Scores: make([]scoreResponsePayload, 0, len(scores))}
	for _, score := range scores {
		response.Scores = append(response.Scores, scoreResponsePayload{
			UserID:      score.UserID,
			CommunityID: score.CommunityID,
			Score:       score.Score,
		})
	}
	c.JSON(http.StatusOK, response)
}

type logListResponsePayload struct {
	Entries []entryResponsePayload `json:"entries"`
}

func (h *httpHandler) handleListLogs(c *gin.Context) {
	filter := trust.LogFilter{
		UserID:      c.Query("user_id"),
		CommunityID: c.Query("community_id"),
		ActionType:  c.Query("action_type"),
	}
	if raw := c.Query("points_change"); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_points_change"})
			return
		}
		filter.PointsChange = &value
	}

	entries, err := h.trust.ListLogs(c.Request.Context(), filter)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	response := logListResponsePayload{Entries: make([]entryResponsePayload, 0, len(entries))}
	for _, entry := range entries {
		response.Entries = append(response.Entries, entryResponse(entry))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleScoreStream(c *gin.Context) {
	userID := c.Query("user_id")
	if strings.TrimSpace(userID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_user_id"})
		return
	}

	stream, cleanup := h.realtime.Subscribe(c.Request.Context(), userID)
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case update, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(RealtimeEventScoreChanged, gin.H{
				"source":       realtimeSourceBackend,
				"user_id":      update.UserID,
				"community_id": update.CommunityID,
				"action_type":  update.ActionType,
				"entry_id":     update.EntryID,
				"score":        update.Score,
				"is_inversed":  update.Inversed,
				"timestamp_s":  update.Timestamp.Unix(),
			})
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"source": realtimeSourceBackend})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *httpHandler) publishScoreChange(entry trust.ScoreLogEntry) {
	h.realtime.Publish(ScoreUpdate{
		UserID:      entry.UserID,
		CommunityID: entry.CommunityID,
		ActionType:  entry.ActionType,
		EntryID:     entry.EntryID,
		Score:       entry.ScoreAfter,
		Inversed:    entry.IsInversed,
		Timestamp:   time.Unix(entry.CreatedAtSeconds, 0).UTC(),
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	serviceName, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("service token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(serviceNameContextKey, serviceName)
	c.Next()
}

func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	switch {
	case errors.Is(err, trust.ErrUnknownActionType):
		status = http.StatusUnprocessableEntity
		code = "unknown_action_type"
	case errors.Is(err, trust.ErrConcurrentWriteConflict):
		status = http.StatusConflict
		code = "concurrent_write_conflict"
	case errors.Is(err, trust.ErrInvalidUserID),
		errors.Is(err, trust.ErrInvalidCommunityID),
		errors.Is(err, trust.ErrInvalidActionType):
		status = http.StatusBadRequest
		code = validationErrorCode(err)
	default:
		var serviceErr *trust.ServiceError
		if errors.As(err, &serviceErr) {
			code = serviceErr.Code()
		}
		h.logger.Error("trust request failed", zap.Error(err))
	}

	c.JSON(status, gin.H{"error": code})
}

func parseActionRequest(payload actionRequestPayload) (trust.ActionRequest, error) {
	userID, err := trust.NewUserID(payload.UserID)
	if err != nil {
		return trust.ActionRequest{}, err
	}
	communityID, err := trust.NewCommunityID(payload.CommunityID)
	if err != nil {
		return trust.ActionRequest{}, err
	}
	actionType, err := trust.NewActionType(payload.ActionType)
	if err != nil {
		return trust.ActionRequest{}, err
	}
	return trust.ActionRequest{UserID: userID, CommunityID: communityID, ActionType: actionType}, nil
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, trust.ErrInvalidUserID):
		return "invalid_user_id"
	case errors.Is(err, trust.ErrInvalidCommunityID):
		return "invalid_community_id"
	case errors.Is(err, trust.ErrInvalidActionType):
		return "invalid_action_type"
	default:
		return "invalid_request"
	}
}
