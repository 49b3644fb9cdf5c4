package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/google/uuid"
)

const (
	maxLoggedResponse = 4096
	maxLoggedError    = 1024
	persistTimeout    = 5 * time.Second
)

// WorkerConfig contains worker configuration.
type WorkerConfig struct {
	BatchSize        int
	PollInterval     time.Duration
	MaxAttempts      int
	BackoffBase      float64
	BackoffCap       time.Duration
	TransportTimeout time.Duration
	StallThreshold   time.Duration
	ReapInterval     time.Duration
	NumWorkers       int
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:        50,
		PollInterval:     1 * time.Second,
		MaxAttempts:      5,
		BackoffBase:      2.0,
		BackoffCap:       1 * time.Hour,
		TransportTimeout: 10 * time.Second,
		StallThreshold:   50 * time.Second,
		ReapInterval:     30 * time.Second,
		NumWorkers:       4,
	}
}

// withDefaults fills zero fields. A zero stall threshold becomes five transport timeouts.
func (c WorkerConfig) withDefaults() WorkerConfig {
	d := DefaultWorkerConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = d.BackoffCap
	}
	if c.TransportTimeout <= 0 {
		c.TransportTimeout = d.TransportTimeout
	}
	if c.StallThreshold <= 0 {
		c.StallThreshold = 5 * c.TransportTimeout
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = d.ReapInterval
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = d.NumWorkers
	}
	return c
}

// EventPublisher receives lifecycle events. Publish must not block on delivery.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event)
}

// Wakeup delivers hints that new work may be due.
type Wakeup interface {
	Wakeups() <-chan struct{}
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(p EventPublisher) WorkerOption {
	return func(w *Worker) { w.publisher = p }
}

// WithWakeup makes idle workers poll as soon as a hint arrives.
func WithWakeup(wk Wakeup) WorkerOption {
	return func(w *Worker) { w.wakeup = wk }
}

// Worker claims due notifications and drives them through delivery attempts.
type Worker struct {
	config    WorkerConfig
	repo      Repository
	registry  *Registry
	publisher EventPublisher
	wakeup    Wakeup
	now       func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a new notification worker.
func NewWorker(config WorkerConfig, repo Repository, registry *Registry, opts ...WorkerOption) *Worker {
	w := &Worker{
		config:   config.withDefaults(),
		repo:     repo,
		registry: registry,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Config returns the effective configuration.
func (w *Worker) Config() WorkerConfig {
	return w.config
}

// Start launches worker goroutines and the reaper.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting notification worker",
		"workers", w.config.NumWorkers,
		"batch_size", w.config.BatchSize,
		"poll_interval", w.config.PollInterval,
		"stall_threshold", w.config.StallThreshold,
	)

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}

	w.wg.Add(1)
	go w.reapLoop(ctx)
}

// Stop gracefully stops all workers. In-progress attempts finish first.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	slog.Info("notification worker stopped")
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	var wake <-chan struct{}
	if w.wakeup != nil {
		wake = w.wakeup.Wakeups()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.processBatch(ctx, workerID)
		case <-wake:
			w.processBatch(ctx, workerID)
		}
	}
}

func (w *Worker) reapLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if _, err := w.ReapOnce(ctx); err != nil {
				slog.Error("failed to reap stalled notifications", "error", err)
			}
		}
	}
}

// RunOnce runs a single dispatch cycle and returns the number of attempts made.
func (w *Worker) RunOnce(ctx context.Context) int {
	return w.processBatch(ctx, 0)
}

// ReapOnce returns in_flight notifications claimed longer than the stall threshold ago to pending.
func (w *Worker) ReapOnce(ctx context.Context) (int, error) {
	now := w.now()
	n, err := w.repo.ReapStalled(ctx, now.Add(-w.config.StallThreshold), now, w.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("reap stalled: %w", err)
	}
	if n > 0 {
		slog.Warn("reaped stalled notifications", "count", n)
		recordReaped(n)
	}
	return n, nil
}

func (w *Worker) processBatch(ctx context.Context, workerID int) int {
	ids, err := w.repo.FetchDue(ctx, w.now(), w.config.BatchSize)
	if err != nil {
		slog.Error("failed to fetch due notifications", "worker", workerID, "error", err)
		return 0
	}

	if len(ids) == 0 {
		return 0
	}

	slog.Debug("processing notifications", "worker", workerID, "count", len(ids))
	recordQueueFetched(len(ids))

	processed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}

		n, err := w.repo.Claim(ctx, id, uuid.NewString(), w.now())
		if err != nil {
			if errors.Is(err, ErrNotClaimed) {
				recordClaim("lost")
				continue
			}
			recordClaim("error")
			slog.Error("failed to claim notification", "worker", workerID, "notification_id", id, "error", err)
			continue
		}
		recordClaim("won")

		w.processNotification(ctx, n)
		processed++
	}

	return processed
}

func (w *Worker) processNotification(ctx context.Context, n *domain.Notification) {
	start := time.Now()

	var (
		result Result
		err    error
	)

	rendered, err := w.render(ctx, n)
	if err == nil {
		result, err = w.send(ctx, Message{
			NotificationID: n.ID,
			Recipient:      n.Recipient,
			Channel:        n.Channel,
			Subject:        rendered.Subject,
			Body:           rendered.Body,
			Metadata:       n.Payload,
		})
	}

	duration := time.Since(start)
	outcome := Classify(err)
	completion := w.transition(n, outcome, err)
	completion.Log = domain.DeliveryLogEntry{
		ID:             uuid.NewString(),
		NotificationID: n.ID,
		Channel:        n.Channel,
		Attempt:        completion.Attempts,
		Outcome:        outcome,
		StatusCode:     result.StatusCode,
		Response:       storable(result.Response, maxLoggedResponse),
		DurationMs:     duration.Milliseconds(),
		CreatedAt:      w.now(),
	}
	if err != nil {
		completion.Log.Error = storable(err.Error(), maxLoggedError)
	}

	// The attempt only counts once it is persisted; a failed write leaves the
	// record in_flight for the reaper.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if cErr := w.repo.CompleteAttempt(persistCtx, completion); cErr != nil {
		recordAbandoned()
		slog.Error("failed to record attempt",
			"notification_id", n.ID,
			"attempt", completion.Attempts,
			"outcome", outcome,
			"error", cErr,
		)
		return
	}

	recordAttempt(n.Channel, outcome, duration)
	w.logAttempt(n, completion, outcome, err, duration)
	w.publishAttempt(ctx, n, completion, outcome)
}

// send bounds the transport call by the transport timeout even if the transport ignores its context.
func (w *Worker) send(ctx context.Context, msg Message) (Result, error) {
	sendCtx, cancel := context.WithTimeout(ctx, w.config.TransportTimeout)
	defer cancel()

	type reply struct {
		result Result
		err    error
	}
	ch := make(chan reply, 1)
	go func() {
		res, err := w.registry.Send(sendCtx, msg)
		ch <- reply{result: res, err: err}
	}()

	select {
	case r := <-ch:
		return r.result, r.err
	case <-sendCtx.Done():
		return Result{}, NewRetryableError(fmt.Errorf("transport timeout after %s: %w", w.config.TransportTimeout, sendCtx.Err()))
	}
}

// transition computes the state change for an attempt with the given outcome.
func (w *Worker) transition(n *domain.Notification, outcome domain.Outcome, sendErr error) Completion {
	now := w.now()
	c := Completion{
		NotificationID: n.ID,
		ClaimToken:     n.ClaimToken,
		Attempts:       n.Attempts + 1,
		NextAttemptAt:  n.NextAttemptAt,
	}
	if sendErr != nil {
		c.LastError = storable(sendErr.Error(), maxLoggedError)
	}

	switch outcome {
	case domain.OutcomeSuccess:
		c.Status = domain.StatusSent
		c.SentAt = &now
	case domain.OutcomeRetryableFailure:
		if c.Attempts >= w.config.MaxAttempts {
			c.Status = domain.StatusDead
			break
		}
		c.Status = domain.StatusPending
		c.NextAttemptAt = now.Add(Backoff(c.Attempts, w.config.BackoffBase, w.config.BackoffCap))
	default:
		c.Status = domain.StatusDead
	}

	return c
}

func (w *Worker) render(ctx context.Context, n *domain.Notification) (Rendered, error) {
	if n.TemplateName == "" {
		return RenderLiteral(n.Payload), nil
	}

	tmpl, err := w.repo.GetTemplate(ctx, n.TemplateName, n.Channel)
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			slog.Warn("template not found, using payload content",
				"notification_id", n.ID,
				"template", n.TemplateName,
				"channel", n.Channel,
			)
			return RenderLiteral(n.Payload), nil
		}
		return Rendered{}, NewRetryableError(fmt.Errorf("load template: %w", err))
	}

	return Render(*tmpl, n.Payload), nil
}

func (w *Worker) logAttempt(n *domain.Notification, c Completion, outcome domain.Outcome, err error, duration time.Duration) {
	switch c.Status {
	case domain.StatusSent:
		slog.Debug("notification sent",
			"notification_id", n.ID,
			"channel", n.Channel,
			"attempt", c.Attempts,
			"duration", duration,
		)
	case domain.StatusPending:
		slog.Info("notification scheduled for retry",
			"notification_id", n.ID,
			"attempt", c.Attempts,
			"max_attempts", w.config.MaxAttempts,
			"next_attempt", c.NextAttemptAt,
			"error", err,
		)
	case domain.StatusDead:
		slog.Warn("notification dead",
			"notification_id", n.ID,
			"channel", n.Channel,
			"attempt", c.Attempts,
			"outcome", outcome,
			"error", err,
		)
	}
}

func (w *Worker) publishAttempt(ctx context.Context, n *domain.Notification, c Completion, outcome domain.Outcome) {
	if w.publisher == nil {
		return
	}

	snapshot := *n
	snapshot.Status = c.Status
	snapshot.Attempts = c.Attempts
	snapshot.NextAttemptAt = c.NextAttemptAt
	snapshot.LastError = c.LastError
	snapshot.SentAt = c.SentAt

	if outcome != domain.OutcomeSuccess {
		w.publisher.Publish(ctx, NewEvent(domain.EventNotificationFailed, &snapshot, w.now()))
	}

	switch c.Status {
	case domain.StatusSent:
		w.publisher.Publish(ctx, NewEvent(domain.EventNotificationSent, &snapshot, w.now()))
	case domain.StatusPending:
		w.publisher.Publish(ctx, NewEvent(domain.EventNotificationRetrying, &snapshot, w.now()))
	case domain.StatusDead:
		w.publisher.Publish(ctx, NewEvent(domain.EventNotificationDead, &snapshot, w.now()))
	}
}

// NewEvent builds a lifecycle event describing n.
func NewEvent(t domain.EventType, n *domain.Notification, at time.Time) domain.Event {
	data := map[string]any{
		"recipient": n.Recipient,
		"channel":   n.Channel,
		"status":    n.Status,
		"attempts":  n.Attempts,
	}
	if n.TemplateName != "" {
		data["template_name"] = n.TemplateName
	}
	if n.LastError != "" {
		data["last_error"] = n.LastError
	}
	if n.Status == domain.StatusPending && n.Attempts > 0 {
		data["next_attempt_at"] = n.NextAttemptAt
	}

	return domain.Event{
		ID:             uuid.NewString(),
		Type:           t,
		NotificationID: n.ID,
		Timestamp:      at,
		Data:           data,
	}
}

// storable makes transport text safe for a Postgres TEXT column: valid
// UTF-8, no NUL bytes, at most limit bytes, cut on a rune boundary.
func storable(s string, limit int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
