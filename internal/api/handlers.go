package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/semreview/internal/feedback"
	"github.com/semreview/internal/ledger"
	"github.com/semreview/internal/logging"
	"github.com/semreview/internal/pipeline"
	"github.com/semreview/internal/reviewerr"
	"github.com/semreview/internal/store"
	"github.com/semreview/pkg/models"
)

var log = logging.Component("api")

// processTimeout bounds one background pipeline run end to end.
const processTimeout = 2 * time.Minute

// FeedbackEnqueuer hands accept/reject signals to a durable queue.
type FeedbackEnqueuer interface {
	QueueFeedbackApply(ctx context.Context, messageID uuid.UUID, accepted bool) error
}

// Handlers carries the dependencies the review endpoints need.
type Handlers struct {
	pipeline *pipeline.Pipeline
	store    store.Store
	learner  *feedback.Learner
	ledger   ledger.Ledger
	queue    FeedbackEnqueuer

	wg sync.WaitGroup
}

func NewHandlers(p *pipeline.Pipeline, st store.Store, learner *feedback.Learner, led ledger.Ledger) *Handlers {
	return &Handlers{pipeline: p, store: st, learner: learner, ledger: led}
}

// Wait blocks until all in-flight background reviews finish. Used by tests
// and graceful shutdown.
func (h *Handlers) Wait() { h.wg.Wait() }

type submitReviewRequest struct {
	ProjectID   string `json:"project_id"`
	ProfileID   string `json:"profile_id"`
	DiffContent string `json:"diff_content"`
	FilePath    string `json:"file_path"`
	Language    string `json:"language"`
	Priority    int    `json:"priority"`
}

type submitReviewResponse struct {
	ReviewRequestID string `json:"review_request_id"`
	Status          string `json:"status"`
}

// SubmitReview accepts a review request and processes it in the background.
// The caller polls GetReview for the outcome.
func (h *Handlers) SubmitReview(c echo.Context) error {
	var body submitReviewRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.DiffContent == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "diff_content is required")
	}
	if body.ProjectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project_id is required")
	}

	req := &models.ReviewRequest{
		ID:          uuid.New(),
		OrgID:       orgID(c),
		ProjectID:   body.ProjectID,
		ProfileID:   body.ProfileID,
		DiffContent: body.DiffContent,
		FilePath:    body.FilePath,
		Language:    body.Language,
		Status:      models.StatusPending,
		Priority:    body.Priority,
	}
	if err := h.store.CreateRequest(c.Request().Context(), req); err != nil {
		return httpError(err)
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		if _, err := h.pipeline.Process(ctx, req); err != nil {
			log.Warn().Err(err).Str("request_id", req.ID.String()).Msg("review processing failed")
		}
	}()

	return c.JSON(http.StatusAccepted, submitReviewResponse{
		ReviewRequestID: req.ID.String(),
		Status:          string(models.StatusPending),
	})
}

type reviewResponse struct {
	ReviewRequestID string                  `json:"review_request_id"`
	Status          string                  `json:"status"`
	CacheHit        bool                    `json:"cache_hit"`
	MessageID       string                  `json:"message_id,omitempty"`
	Content         string                  `json:"content,omitempty"`
	Model           string                  `json:"model,omitempty"`
	TokensUsed      int                     `json:"tokens_used,omitempty"`
	ConfidenceScore float64                 `json:"confidence_score,omitempty"`
	SimilarityScore float64                 `json:"similarity_score,omitempty"`
	Messages        []*models.ReviewMessage `json:"messages"`
}

// GetReview returns a review request with the latest reviewer message
// flattened into the top-level response.
func (h *Handlers) GetReview(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid review request id")
	}

	req, err := h.store.GetRequest(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if req.OrgID != orgID(c) {
		return echo.NewHTTPError(http.StatusNotFound, "review request not found")
	}

	messages, err := h.store.ListMessages(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}

	resp := reviewResponse{
		ReviewRequestID: req.ID.String(),
		Status:          string(req.Status),
		CacheHit:        req.CacheHit,
		SimilarityScore: req.SimilarityScore,
		Messages:        messages,
	}
	msg := latestAIMessage(messages)
	if msg == nil && req.ServedMessageID != nil {
		// Cache hits reuse a message owned by an earlier request
		msg, err = h.store.GetMessage(c.Request().Context(), *req.ServedMessageID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return httpError(err)
		}
	}
	if msg != nil {
		resp.MessageID = msg.ID.String()
		resp.Content = msg.Content
		resp.Model = msg.Model
		resp.TokensUsed = msg.Metrics.TokenCount
		resp.ConfidenceScore = msg.Metrics.Confidence
	}
	return c.JSON(http.StatusOK, resp)
}

// latestAIMessage picks the newest generated message; messages arrive in
// creation order.
func latestAIMessage(messages []*models.ReviewMessage) *models.ReviewMessage {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Type == models.MessageTypeAI {
			return messages[i]
		}
	}
	return nil
}

type feedbackRequest struct {
	MessageID string `json:"message_id"`
	Accepted  bool   `json:"accepted"`
	Helpful   bool   `json:"helpful"`
	Comment   string `json:"comment"`
}

// SubmitFeedback records accept/reject feedback on a generated message and
// schedules the trust adjustment.
func (h *Handlers) SubmitFeedback(c echo.Context) error {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid review request id")
	}

	var body feedbackRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	req, err := h.store.GetRequest(c.Request().Context(), requestID)
	if err != nil {
		return httpError(err)
	}
	if req.OrgID != orgID(c) {
		return echo.NewHTTPError(http.StatusNotFound, "review request not found")
	}

	messageID, err := h.resolveFeedbackTarget(c.Request().Context(), req, body.MessageID)
	if err != nil {
		return err
	}

	fb := &models.MessageFeedback{
		Accepted: body.Accepted,
		Helpful:  body.Helpful,
		Comment:  body.Comment,
	}
	if err := h.store.SetFeedback(c.Request().Context(), messageID, fb); err != nil {
		return httpError(err)
	}

	if h.queue != nil {
		err := h.queue.QueueFeedbackApply(c.Request().Context(), messageID, body.Accepted)
		if err == nil {
			return c.NoContent(http.StatusNoContent)
		}
		log.Warn().Err(err).Str("message_id", messageID.String()).
			Msg("durable feedback enqueue failed, applying in process")
	}
	h.learner.Enqueue(feedback.Event{MessageID: messageID, Accepted: body.Accepted})

	return c.NoContent(http.StatusNoContent)
}

// resolveFeedbackTarget picks the message a feedback body refers to. An
// explicit message_id must belong to the request or be the message a cache
// hit served; without one the latest reviewer message wins, falling back
// to the served message for cache hits.
func (h *Handlers) resolveFeedbackTarget(ctx context.Context, req *models.ReviewRequest, raw string) (uuid.UUID, error) {
	if raw != "" {
		messageID, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid message id")
		}
		msg, err := h.store.GetMessage(ctx, messageID)
		if err != nil {
			return uuid.Nil, httpError(err)
		}
		if msg.RequestID != req.ID && (req.ServedMessageID == nil || *req.ServedMessageID != msg.ID) {
			return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "message does not belong to this review request")
		}
		return messageID, nil
	}

	messages, err := h.store.ListMessages(ctx, req.ID)
	if err != nil {
		return uuid.Nil, httpError(err)
	}
	if msg := latestAIMessage(messages); msg != nil {
		return msg.ID, nil
	}
	if req.ServedMessageID != nil {
		return *req.ServedMessageID, nil
	}
	return uuid.Nil, echo.NewHTTPError(http.StatusNotFound, "review has no message to rate")
}

// GetUsage reports the caller organization's spend counters.
func (h *Handlers) GetUsage(c echo.Context) error {
	usage, err := h.ledger.Usage(c.Request().Context(), orgID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, usage)
}

// httpError maps taxonomy errors onto HTTP status codes.
func httpError(err error) error {
	var verr *reviewerr.ValidationError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
	case errors.Is(err, reviewerr.ErrThrottled):
		return echo.NewHTTPError(http.StatusTooManyRequests, "review capacity exhausted, retry later")
	case errors.Is(err, reviewerr.ErrBudgetExceeded):
		return echo.NewHTTPError(http.StatusPaymentRequired, "organization budget exhausted")
	case errors.Is(err, reviewerr.ErrTimeout):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "review timed out")
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	default:
		var gf *reviewerr.GenerationFailed
		if errors.As(err, &gf) {
			return echo.NewHTTPError(http.StatusBadGateway, gf.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
