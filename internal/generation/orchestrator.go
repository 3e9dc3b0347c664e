// Package generation drives batches of image generation requests against
// the external boundary and keeps the local and remote quota in step.
package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"stickerstudio/internal/client"
	"stickerstudio/internal/logger"
	"stickerstudio/internal/metrics"
	"stickerstudio/internal/models"
	"stickerstudio/internal/store"

	"go.uber.org/atomic"
	"golang.org/x/time/rate"
)

// AttemptsConsumeQuota charges every dispatched request against the quota,
// whether or not it produced an image. When false only successes count.
const AttemptsConsumeQuota = true

// syncTimeout bounds remote reconciliation, which outlives Batch.Cancel.
const syncTimeout = 30 * time.Second

var (
	ErrBusy          = store.ErrBusy
	ErrQuotaExceeded = store.ErrQuotaExceeded
	ErrSlotNotFound  = store.ErrSlotNotFound
	ErrEmptyPrompt   = errors.New("prompt is empty")
)

// Backend is the external boundary. *client.Client implements it.
type Backend interface {
	Generate(ctx context.Context, req models.GenerateRequest) (string, error)
	Optimize(ctx context.Context, req models.OptimizeRequest) (string, error)
	FetchUser(ctx context.Context) (*models.RemoteUser, error)
	ConsumeQuota(ctx context.Context, count int) (models.Quota, error)
}

type Options struct {
	// RequestsPerSecond throttles outbound generation requests. Zero
	// disables throttling.
	RequestsPerSecond float64
	Burst             int
}

type Orchestrator struct {
	store   *store.Store
	backend Backend
	limiter *rate.Limiter

	inFlight atomic.Int32
	batches  atomic.Uint64
}

func New(st *store.Store, backend Backend, opts Options) *Orchestrator {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Orchestrator{
		store:   st,
		backend: backend,
		limiter: limiter,
	}
}

// InFlight reports generation requests awaiting a response.
func (o *Orchestrator) InFlight() int {
	return int(o.inFlight.Load())
}

type SlotResult struct {
	SlotID string            `json:"slotId"`
	Status models.SlotStatus `json:"status"`
	URL    string            `json:"url,omitempty"`
	Err    error             `json:"-"`
}

type BatchResult struct {
	Slots     []SlotResult `json:"slots"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Consumed  int          `json:"consumed"`
	// SyncErr is set when remote reconciliation was rejected for quota.
	// Other reconciliation failures are logged and dropped.
	SyncErr error `json:"-"`
}

// Batch is a running group of requests. Its slots are already published
// to the store when the Batch is returned.
type Batch struct {
	Slots []models.GenerationSlot

	done   chan struct{}
	result BatchResult
	cancel context.CancelFunc
}

func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until every request has settled and quota bookkeeping is done.
func (b *Batch) Wait() BatchResult {
	<-b.done
	return b.result
}

// Cancel aborts outstanding requests; their slots settle as failed.
func (b *Batch) Cancel() {
	b.cancel()
}

func newBatch(ctx context.Context, slots []models.GenerationSlot) (*Batch, context.Context) {
	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Batch{
		Slots:  slots,
		done:   make(chan struct{}),
		cancel: cancel,
	}, bctx
}

func requestFor(form models.GenerateFormState) models.GenerateRequest {
	w, h := form.Size()
	return models.GenerateRequest{
		Prompt:        form.EffectivePrompt(),
		Style:         form.Style,
		Model:         form.AIModel,
		Width:         w,
		Height:        h,
		IsTransparent: form.IsTransparent,
	}
}

// GenerateBatch starts n concurrent requests. It fails with ErrBusy or
// ErrQuotaExceeded, without touching any state, when a batch is already
// running or fewer than n generations remain. The returned context only
// seeds values; the batch outlives it and is stopped with Batch.Cancel.
func (o *Orchestrator) GenerateBatch(ctx context.Context, n int) (*Batch, error) {
	slots, form, err := o.store.BeginBatch(n)
	if err != nil {
		switch {
		case errors.Is(err, ErrBusy):
			metrics.RecordBatch("busy")
		case errors.Is(err, ErrQuotaExceeded):
			metrics.RecordBatch("quota")
		default:
			metrics.RecordBatch("invalid")
		}
		return nil, err
	}
	metrics.RecordBatch("accepted")

	id := o.batches.Inc()
	logger.Info("Generation batch started", "batch", id, "count", n, "model", form.AIModel, "prompt", form.EffectivePrompt())

	batch, bctx := newBatch(ctx, slots)
	go o.runBatch(bctx, id, batch, requestFor(form))
	return batch, nil
}

func (o *Orchestrator) runBatch(ctx context.Context, id uint64, batch *Batch, req models.GenerateRequest) {
	defer close(batch.done)
	defer batch.cancel()

	results := make([]SlotResult, len(batch.Slots))
	var wg sync.WaitGroup
	for i, slot := range batch.Slots {
		wg.Add(1)
		go func(i int, slot models.GenerationSlot) {
			defer wg.Done()
			results[i] = o.dispatch(ctx, slot, req)
		}(i, slot)
	}
	wg.Wait()

	res := BatchResult{Slots: results}
	for _, r := range results {
		if r.Status == models.SlotDone {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}

	res.Consumed = len(results)
	if !AttemptsConsumeQuota {
		res.Consumed = res.Succeeded
	}
	o.store.IncrementGenerations(res.Consumed)

	if user := o.store.Snapshot().User; !user.IsGuest && res.Consumed > 0 {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), syncTimeout)
		res.SyncErr = o.syncQuota(sctx, res.Consumed)
		cancel()
	}
	o.store.SetGenerating(false)

	logger.Info("Generation batch settled",
		"batch", id,
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"consumed", res.Consumed)
	batch.result = res
}

// syncQuota pushes consumed attempts to the remote counter. The local
// increment stays in place whatever the outcome.
func (o *Orchestrator) syncQuota(ctx context.Context, consumed int) error {
	q, err := o.backend.ConsumeQuota(ctx, consumed)
	switch {
	case err == nil:
		metrics.RecordQuotaSync("ok")
		o.store.ApplyQuota(q)
		return nil
	case errors.Is(err, client.ErrQuotaExceeded):
		metrics.RecordQuotaSync("quota_exceeded")
		logger.Warn("Remote quota rejected batch", "consumed", consumed)
		return ErrQuotaExceeded
	default:
		metrics.RecordQuotaSync("error")
		logger.Warn("Quota sync failed", "error", err)
		return nil
	}
}

// dispatch issues one request and settles the slot it was issued for. A
// settlement for a slot that has since been re-dispatched is dropped.
func (o *Orchestrator) dispatch(ctx context.Context, slot models.GenerationSlot, req models.GenerateRequest) SlotResult {
	result := SlotResult{SlotID: slot.ID, Status: models.SlotFailed}

	if err := o.limiter.Wait(ctx); err != nil {
		result.Err = err
	} else {
		o.inFlight.Inc()
		metrics.GenerationMetrics.InFlight.Inc()
		start := time.Now()

		url, err := o.backend.Generate(ctx, req)

		o.inFlight.Dec()
		metrics.GenerationMetrics.InFlight.Dec()
		if err != nil {
			result.Err = err
		} else {
			result.Status = models.SlotDone
			result.URL = url
		}
		metrics.RecordGeneration(req.Model, string(result.Status), time.Since(start))
	}

	errMsg := ""
	if result.Err != nil {
		errMsg = result.Err.Error()
		logger.Warn("Generation request failed", "slot", slot.ID, "error", result.Err)
	}
	if !o.store.SettleResult(slot.ID, slot.Token, result.Status, result.URL, errMsg) {
		logger.Debug("Dropped stale generation result", "slot", slot.ID)
	}
	return result
}

// RegenerateSingle resets one slot to pending and reissues its request.
// Quota and other slots are untouched.
func (o *Orchestrator) RegenerateSingle(ctx context.Context, slotID string) (*Batch, error) {
	token, form, err := o.store.ResetResult(slotID)
	if err != nil {
		return nil, err
	}

	slot := models.GenerationSlot{ID: slotID, Token: token, Status: models.SlotPending}
	batch, bctx := newBatch(ctx, []models.GenerationSlot{slot})
	req := requestFor(form)

	go func() {
		defer close(batch.done)
		defer batch.cancel()

		r := o.dispatch(bctx, slot, req)
		res := BatchResult{Slots: []SlotResult{r}}
		if r.Status == models.SlotDone {
			res.Succeeded = 1
		} else {
			res.Failed = 1
		}
		batch.result = res
	}()
	return batch, nil
}

// OptimizePrompt rewrites the current prompt through the prompt boundary
// and stores the result as the optimized prompt.
func (o *Orchestrator) OptimizePrompt(ctx context.Context) (string, error) {
	form := o.store.Snapshot().Form
	if strings.TrimSpace(form.Prompt) == "" {
		return "", ErrEmptyPrompt
	}

	result, err := o.backend.Optimize(ctx, models.OptimizeRequest{
		Prompt: form.Prompt,
		Style:  form.Style,
		Model:  form.PromptAI,
	})
	if err != nil {
		logger.Warn("Prompt optimization failed", "error", err)
		return "", err
	}
	if result == "" {
		return "", errors.New("prompt optimization returned nothing")
	}

	o.store.SetForm(models.FormPatch{OptimizedPrompt: &result})
	return result, nil
}

// RefreshQuota pulls the authenticated profile. A guest session leaves the
// local profile alone.
func (o *Orchestrator) RefreshQuota(ctx context.Context) (models.UserProfile, error) {
	remote, err := o.backend.FetchUser(ctx)
	if err != nil {
		return o.store.Snapshot().User, err
	}
	if remote != nil {
		o.store.SignIn(*remote)
	}
	return o.store.Snapshot().User, nil
}
