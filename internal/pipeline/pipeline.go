// Package pipeline orchestrates one review request end to end: embed the
// diff, search the cache, serve a hit or generate a fresh review, then
// persist the result for future hits. Each request runs the stages
// Pending, Embedding, Searching, CacheHit or Generating, Storing,
// Completed; any stage can divert to Failed.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/semreview/internal/decision"
	"github.com/semreview/internal/embedding"
	"github.com/semreview/internal/generation"
	"github.com/semreview/internal/ledger"
	"github.com/semreview/internal/logging"
	"github.com/semreview/internal/prompts"
	"github.com/semreview/internal/retry"
	"github.com/semreview/internal/reviewerr"
	"github.com/semreview/internal/store"
	"github.com/semreview/internal/vectorstore"
	"github.com/semreview/pkg/models"
)

var log = logging.Component("pipeline")

// retrievalMargin widens the vector query below the hit threshold so that
// near misses are still retrieved as generation context.
const retrievalMargin = 0.25

// Generator abstracts the model failover router.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (*generation.Result, error)
}

// EmbeddingEnqueuer hands an embedding to a durable queue after the
// in-process store retries are exhausted.
type EmbeddingEnqueuer interface {
	QueueEmbeddingStore(ctx context.Context, emb *models.Embedding) error
}

// Options tune one pipeline instance.
type Options struct {
	SimilarityThreshold float64
	CoalesceWaitTimeout time.Duration
	QueryLimit          int
}

func (o *Options) applyDefaults() {
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = 0.85
	}
	if o.CoalesceWaitTimeout <= 0 {
		o.CoalesceWaitTimeout = 10 * time.Second
	}
	if o.QueryLimit <= 0 {
		o.QueryLimit = 5
	}
}

// Result is the outcome of one processed request.
type Result struct {
	Message  *models.ReviewMessage
	CacheHit bool
	// Coalesced marks results served from a concurrent identical request
	// rather than the cache or a model call.
	Coalesced bool
	// Score is the cosine similarity of the served candidate on a hit.
	Score float64
}

type inflight struct {
	done   chan struct{}
	result *Result
	err    error
}

// Pipeline wires the stages together. Safe for concurrent use; one
// Pipeline serves all requests.
type Pipeline struct {
	store    store.Store
	vectors  vectorstore.Store
	embedder embedding.Provider
	engine   *decision.Engine
	router   Generator
	ledger   ledger.Ledger
	prompts  *prompts.Builder
	opts     Options
	durable  EmbeddingEnqueuer

	coalesce *coalescer
}

func New(st store.Store, vs vectorstore.Store, emb embedding.Provider, router Generator, led ledger.Ledger, opts Options) *Pipeline {
	opts.applyDefaults()
	return &Pipeline{
		store:    st,
		vectors:  vs,
		embedder: emb,
		engine:   decision.NewEngine(),
		router:   router,
		ledger:   led,
		prompts:  prompts.NewBuilder(),
		opts:     opts,
		coalesce: newCoalescer(),
	}
}

// SetDurableQueue installs a fallback for embedding persistence. Without
// one, exhausted store retries drop the cache entry.
func (p *Pipeline) SetDurableQueue(q EmbeddingEnqueuer) { p.durable = q }

// Process runs one review request to completion. The request must already
// be persisted in Pending state. Errors are from the reviewerr taxonomy.
func (p *Pipeline) Process(ctx context.Context, req *models.ReviewRequest) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, p.fail(ctx, req, err)
	}
	if err := p.store.UpdateRequestStatus(ctx, req.ID, models.StatusInProgress); err != nil {
		return nil, p.fail(ctx, req, err)
	}

	contentHash := embedding.ContentHash(req.DiffContent, req.Language)
	key := req.ProjectID + "\x00" + contentHash

	entry, leader := p.coalesce.join(key)
	if !leader {
		if res, err, served := p.awaitLeader(ctx, entry); served {
			if err != nil {
				return nil, p.fail(ctx, req, err)
			}
			return p.serveCoalesced(ctx, req, res)
		}
		// Leader timed out or failed: run the full path ourselves
		return p.run(ctx, req, contentHash)
	}

	res, err := p.run(ctx, req, contentHash)
	p.coalesce.settle(key, entry, res, err)
	return res, err
}

func (p *Pipeline) run(ctx context.Context, req *models.ReviewRequest, contentHash string) (*Result, error) {
	res, err := p.execute(ctx, req, contentHash)
	if err != nil {
		return nil, p.fail(ctx, req, err)
	}
	if uerr := p.store.UpdateRequestStatus(ctx, req.ID, models.StatusCompleted); uerr != nil {
		log.Error().Err(uerr).Str("request_id", req.ID.String()).Msg("completed review left in stale status")
	}
	return res, nil
}

func (p *Pipeline) execute(ctx context.Context, req *models.ReviewRequest, contentHash string) (*Result, error) {
	// Exact-duplicate check first: a known content hash needs no
	// embedding call at all
	var vector []float32
	if cached, ok, err := p.vectors.FindByHash(ctx, req.ProjectID, contentHash); err == nil && ok {
		// Exact match scores 1.0, so the weighted score is the trust score
		if cached.TrustScore >= p.opts.SimilarityThreshold {
			if res, serr := p.serveHit(ctx, req, cached, 1.0); serr == nil {
				return res, nil
			}
			log.Warn().Str("request_id", req.ID.String()).Msg("stale cache candidate, regenerating")
		}
		// Distrusted or unreadable entry; its vector is still this diff's
		vector = cached.Vector
	} else if err != nil && !errors.Is(err, reviewerr.ErrUnavailable) {
		return nil, err
	}

	if vector == nil {
		var err error
		vector, err = p.embed(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	candidates, err := p.search(ctx, req, vector)
	if err != nil {
		return nil, err
	}

	dec := p.engine.Decide(candidates, decision.Policy{
		Threshold: p.opts.SimilarityThreshold,
		Language:  req.Language,
	})
	if dec.Hit {
		if res, serr := p.serveHit(ctx, req, dec.Candidate.Embedding, dec.Score); serr == nil {
			return res, nil
		}
		// Cached message unreadable; regenerate rather than fail the request
		log.Warn().Str("request_id", req.ID.String()).Msg("stale cache candidate, regenerating")
	}

	return p.generateAndStore(ctx, req, contentHash, vector, candidates)
}

func (p *Pipeline) embed(ctx context.Context, req *models.ReviewRequest) ([]float32, error) {
	text := embedding.NormalizeText(req.DiffContent)
	var vector []float32
	result := retry.RetryWithBackoff(ctx, retry.EmbeddingRetryConfig(), "embed_diff", func() error {
		var err error
		vector, err = p.embedder.Embed(ctx, text)
		return err
	})
	if !result.Success {
		return nil, mapDeadline(ctx, result.LastError)
	}
	return vector, nil
}

// search degrades to a cache miss when the vector store is unreachable:
// losing the cache must not lose the review.
func (p *Pipeline) search(ctx context.Context, req *models.ReviewRequest, vector []float32) ([]vectorstore.Candidate, error) {
	floor := p.opts.SimilarityThreshold - retrievalMargin
	candidates, err := p.vectors.Query(ctx, vector, vectorstore.Filter{
		ProjectID: req.ProjectID,
		Language:  req.Language,
	}, floor, p.opts.QueryLimit)
	if errors.Is(err, reviewerr.ErrUnavailable) {
		log.Warn().Str("request_id", req.ID.String()).Msg("vector store unavailable, treating as cache miss")
		return nil, nil
	}
	if err != nil {
		return nil, mapDeadline(ctx, err)
	}
	return candidates, nil
}

func (p *Pipeline) serveHit(ctx context.Context, req *models.ReviewRequest, emb *models.Embedding, score float64) (*Result, error) {
	msg, err := p.store.GetMessage(ctx, emb.MessageID)
	if err != nil {
		return nil, err
	}
	if err := p.vectors.Touch(ctx, emb.ID); err != nil {
		log.Warn().Err(err).Int64("embedding_id", emb.ID).Msg("usage touch failed")
	}
	if err := p.store.MarkCacheHit(ctx, req.ID, msg.ID, score); err != nil {
		log.Warn().Err(err).Str("request_id", req.ID.String()).Msg("cache hit flag not recorded")
	}
	req.CacheHit = true
	req.SimilarityScore = score
	log.Info().Str("request_id", req.ID.String()).Float64("score", score).
		Str("project_id", req.ProjectID).Msg("cache hit served")
	return &Result{Message: msg, CacheHit: true, Score: score}, nil
}

func (p *Pipeline) generateAndStore(ctx context.Context, req *models.ReviewRequest, contentHash string, vector []float32, retrieved []vectorstore.Candidate) (*Result, error) {
	prompt := p.prompts.BuildReviewPrompt(req.DiffContent, req.FilePath, req.Language, retrieved)

	genResult, err := p.router.Generate(ctx, generation.Request{OrgID: req.OrgID, Prompt: prompt})
	if err != nil {
		var gf *reviewerr.GenerationFailed
		if errors.As(err, &gf) {
			log.Error().Str("request_id", req.ID.String()).Str("project_id", req.ProjectID).
				Int("models_tried", len(gf.Failures)).Msg("cache miss with all models failed")
		}
		return nil, mapDeadline(ctx, err)
	}

	msg := &models.ReviewMessage{
		ID:        uuid.New(),
		RequestID: req.ID,
		Content:   genResult.Content,
		Type:      models.MessageTypeAI,
		Model:     genResult.Model,
		Context: models.MessageContext{
			FilePath: req.FilePath,
			Language: req.Language,
		},
		Metrics: models.GenerationMetrics{
			TokenCount: genResult.TokenCount,
			LatencyMs:  genResult.LatencyMs,
			Confidence: genResult.Confidence,
		},
	}
	if err := p.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	if err := p.ledger.Increment(ctx, req.OrgID, int64(genResult.TokenCount), genResult.CostUSD); err != nil {
		// Billing is advisory here; the review still ships
		log.Error().Err(err).Int64("org_id", req.OrgID).Msg("usage ledger increment failed")
	}

	p.storeEmbedding(ctx, req, msg.ID, contentHash, vector)

	return &Result{Message: msg, CacheHit: false}, nil
}

// storeEmbedding persists the new vector with bounded retries, falling
// back to the durable queue when one is configured. Without a queue the
// failure is logged and dropped: the review was already delivered, the
// cache just misses one entry.
func (p *Pipeline) storeEmbedding(ctx context.Context, req *models.ReviewRequest, messageID uuid.UUID, contentHash string, vector []float32) {
	emb := &models.Embedding{
		MessageID:   messageID,
		ProjectID:   req.ProjectID,
		Vector:      vector,
		ContentHash: contentHash,
		Metadata: models.EmbeddingMetadata{
			FilePath: req.FilePath,
			Language: req.Language,
		},
		SimilarityThreshold: p.opts.SimilarityThreshold,
		UsageCount:          1,
		TrustScore:          models.DefaultTrustScore,
	}
	result := retry.RetryWithBackoff(ctx, retry.StoreRetryConfig(), "store_embedding", func() error {
		_, err := p.vectors.Upsert(ctx, emb)
		return err
	})
	if result.Success {
		return
	}
	if p.durable != nil {
		qerr := p.durable.QueueEmbeddingStore(ctx, emb)
		if qerr == nil {
			log.Warn().Str("request_id", req.ID.String()).Int("attempts", result.Attempts).
				Msg("embedding store deferred to durable queue")
			return
		}
		log.Error().Err(qerr).Str("request_id", req.ID.String()).Msg("durable enqueue failed")
	}
	log.Error().Err(result.LastError).Str("request_id", req.ID.String()).
		Int("attempts", result.Attempts).Msg("embedding store failed, dropping cache entry")
}

func (p *Pipeline) awaitLeader(ctx context.Context, entry *inflight) (*Result, error, bool) {
	timer := time.NewTimer(p.opts.CoalesceWaitTimeout)
	defer timer.Stop()
	select {
	case <-entry.done:
		if entry.err != nil || entry.result == nil {
			// Leader failed; each follower retries independently
			return nil, nil, false
		}
		return entry.result, nil, true
	case <-timer.C:
		return nil, nil, false
	case <-ctx.Done():
		return nil, mapDeadline(ctx, ctx.Err()), true
	}
}

func (p *Pipeline) serveCoalesced(ctx context.Context, req *models.ReviewRequest, shared *Result) (*Result, error) {
	req.CacheHit = true
	req.SimilarityScore = shared.Score
	if err := p.store.MarkCacheHit(ctx, req.ID, shared.Message.ID, shared.Score); err != nil {
		log.Warn().Err(err).Str("request_id", req.ID.String()).Msg("cache hit flag not recorded")
	}
	if err := p.store.UpdateRequestStatus(ctx, req.ID, models.StatusCompleted); err != nil {
		log.Error().Err(err).Str("request_id", req.ID.String()).Msg("coalesced review left in stale status")
	}
	log.Info().Str("request_id", req.ID.String()).Msg("served from coalesced in-flight request")
	return &Result{Message: shared.Message, CacheHit: true, Coalesced: true, Score: shared.Score}, nil
}

func (p *Pipeline) fail(ctx context.Context, req *models.ReviewRequest, err error) error {
	if uerr := p.store.UpdateRequestStatus(ctx, req.ID, models.StatusFailed); uerr != nil && !errors.Is(uerr, store.ErrNotFound) {
		log.Error().Err(uerr).Str("request_id", req.ID.String()).Msg("failed review left in stale status")
	}
	return err
}

func validate(req *models.ReviewRequest) error {
	if req.DiffContent == "" {
		return &reviewerr.ValidationError{Field: "diff_content", Reason: "must not be empty"}
	}
	if req.ProjectID == "" {
		return &reviewerr.ValidationError{Field: "project_id", Reason: "must not be empty"}
	}
	return nil
}

func mapDeadline(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return reviewerr.ErrTimeout
	}
	return err
}
