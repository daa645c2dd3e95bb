package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"studyroom/internal/models"
	"studyroom/internal/observability"
	"studyroom/internal/repository"

	"github.com/google/uuid"
)

const (
	defaultPageSize     = 50
	defaultOpenTimeout  = 10 * time.Second
	defaultPollInterval = 3 * time.Second

	defaultReconnectAttempts = 5
	defaultReconnectBase     = 500 * time.Millisecond
	defaultReconnectCap      = 30 * time.Second
)

// Options tune the session client. Zero values pick the defaults above.
type Options struct {
	PageSize          int
	OpenTimeout       time.Duration
	PollInterval      time.Duration
	ReconnectAttempts int
	ReconnectBase     time.Duration
	ReconnectCap      time.Duration
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = defaultPageSize
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = defaultOpenTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = defaultReconnectAttempts
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = defaultReconnectBase
	}
	if o.ReconnectCap <= 0 {
		o.ReconnectCap = defaultReconnectCap
	}
	return o
}

// Client opens chat session handles. It is cheap and safe to share.
type Client struct {
	directory Directory
	log       Log
	channel   *Channel
	opts      Options

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient returns a session client over the given collaborators.
func NewClient(directory Directory, log Log, channel *Channel, opts Options) *Client {
	return &Client{
		directory: directory,
		log:       log,
		channel:   channel,
		opts:      opts.withDefaults(),
		sleep:     sleepCtx,
	}
}

// Handle is one open chat session: a room, its merged message view, and a
// live (or degraded) realtime subscription. All view mutations run on a
// single dispatch goroutine.
type Handle struct {
	client *Client
	room   *models.Room
	userID uint
	cb     Callbacks

	tasks chan func()
	done  chan struct{}

	mu     sync.Mutex
	closed bool
	epoch  uint64
	sub    *Subscription
	poller *Poller

	view *view
}

// Open resolves the room, joins it, loads the latest history page and
// subscribes to the realtime stream. Resolve and join run under a bounded
// timeout so a stuck backend fails fast with a retryable error instead of
// hanging the caller.
func (c *Client) Open(ctx context.Context, logicalKey string, kind models.RoomKind, userID uint, cb Callbacks) (*Handle, error) {
	openCtx, cancel := context.WithTimeout(ctx, c.opts.OpenTimeout)
	defer cancel()

	room, err := c.directory.Resolve(openCtx, logicalKey, kind, userID)
	if err != nil {
		return nil, openError(err)
	}
	if err := c.directory.Join(openCtx, room.ID, userID); err != nil {
		return nil, openError(err)
	}

	h := &Handle{
		client: c,
		room:   room,
		userID: userID,
		cb:     cb,
		tasks:  make(chan func(), 64),
		done:   make(chan struct{}),
		view:   newView(),
	}
	go h.dispatchLoop()

	page, err := c.log.Page(openCtx, room.ID, userID, nil, c.opts.PageSize)
	if err != nil {
		h.Close()
		return nil, openError(err)
	}
	h.run(func() { h.view.insertAll(page) })

	h.subscribe(ctx)
	return h, nil
}

// openError keeps NotFound and Validation intact and converts everything
// else (timeouts, dead backends) into a retryable Transient.
func openError(err error) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case models.CodeNotFound, models.CodeValidation, models.CodeForbidden, models.CodeConflict:
			return err
		}
	}
	return models.NewTransientError("session open failed", err)
}

func (h *Handle) dispatchLoop() {
	for {
		select {
		case <-h.done:
			return
		case task := <-h.tasks:
			task()
		}
	}
}

// run schedules a view mutation on the dispatch goroutine. Mutations after
// close are dropped.
func (h *Handle) run(task func()) {
	select {
	case <-h.done:
	case h.tasks <- task:
	}
}

// runWait schedules a task and waits for it, for read paths that need the
// result.
func (h *Handle) runWait(task func()) {
	doneCh := make(chan struct{})
	h.run(func() {
		task()
		close(doneCh)
	})
	select {
	case <-h.done:
	case <-doneCh:
	}
}

// currentEpoch snapshots the close epoch before a long-running operation.
func (h *Handle) currentEpoch() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.epoch
}

// stale reports whether the handle was closed or reopened since the epoch
// was taken; results from such operations are discarded.
func (h *Handle) stale(epoch uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed || h.epoch != epoch
}

// Room returns the resolved room.
func (h *Handle) Room() *models.Room {
	return h.room
}

// State returns the realtime subscription state, or StateClosed after Close.
func (h *Handle) State() ConnectionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return StateClosed
	}
	if h.sub == nil {
		return StateIdle
	}
	return h.sub.State()
}

// View returns the current merged, ordered conversation snapshot:
// persisted messages by (created_at, id) followed by pending placeholders.
func (h *Handle) View() []*models.Message {
	var snap []*models.Message
	h.runWait(func() { snap = h.view.snapshot() })
	return snap
}

// Send posts a text message with an optimistic placeholder. The placeholder
// is visible in View until the append settles; on success the authoritative
// copy replaces it, on failure it is removed and the error returned, so a
// message is never silently lost or duplicated.
func (h *Handle) Send(ctx context.Context, content string) (*models.Message, error) {
	return h.send(ctx, AppendInput{
		RoomID:  h.room.ID,
		UserID:  h.userID,
		Type:    models.MessageTypeText,
		Content: content,
	})
}

// SendCode posts a code snippet message.
func (h *Handle) SendCode(ctx context.Context, content, language string) (*models.Message, error) {
	return h.send(ctx, AppendInput{
		RoomID:       h.room.ID,
		UserID:       h.userID,
		Type:         models.MessageTypeCode,
		Content:      content,
		CodeLanguage: language,
	})
}

// SendFile posts a file-backed message referencing already-uploaded bytes.
func (h *Handle) SendFile(ctx context.Context, kind models.MessageType, name string, size int64, url string) (*models.Message, error) {
	return h.send(ctx, AppendInput{
		RoomID:   h.room.ID,
		UserID:   h.userID,
		Type:     kind,
		FileName: name,
		FileSize: size,
		FileURL:  url,
	})
}

func (h *Handle) send(ctx context.Context, in AppendInput) (*models.Message, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, models.NewConflictError("session is closed")
	}
	h.mu.Unlock()

	epoch := h.currentEpoch()
	localID := uuid.NewString()
	placeholder := &models.Message{
		RoomID:    in.RoomID,
		SenderID:  in.UserID,
		Type:      in.Type,
		Content:   in.Content,
		FileName:  in.FileName,
		FileURL:   in.FileURL,
		CreatedAt: time.Now().UTC(),
		Sender:    models.PlaceholderProfile(in.UserID),
	}
	h.run(func() { h.view.addPlaceholder(localID, placeholder) })

	msg, err := h.client.log.Append(ctx, in)

	if h.stale(epoch) {
		// Closed (or reopened) while the append was in flight; the result
		// no longer belongs to any live view.
		return msg, err
	}

	if err != nil {
		h.run(func() { h.view.removePlaceholder(localID) })
		return nil, sendError(err)
	}

	h.run(func() {
		h.view.removePlaceholder(localID)
		h.view.insert(msg)
	})
	return msg, nil
}

// sendError keeps typed errors and wraps the rest as retryable.
func sendError(err error) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return models.NewTransientError("send failed", err)
}

// LoadOlder fetches the page preceding the oldest message in view and merges
// it. Returns the number of new messages.
func (h *Handle) LoadOlder(ctx context.Context) (int, error) {
	var before *repository.PageCursor
	h.runWait(func() {
		if oldest := h.view.oldest(); oldest != nil {
			before = &repository.PageCursor{CreatedAt: oldest.CreatedAt, ID: oldest.ID}
		}
	})

	epoch := h.currentEpoch()
	page, err := h.client.log.Page(ctx, h.room.ID, h.userID, before, h.client.opts.PageSize)
	if err != nil {
		return 0, sendError(err)
	}
	if h.stale(epoch) {
		return 0, nil
	}

	added := 0
	h.runWait(func() { added = h.view.insertAll(page) })
	return added, nil
}

// Close tears the session down: the subscription (or poller) stops and any
// operation still in flight has its result discarded. Idempotent.
func (h *Handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.epoch++
	sub := h.sub
	h.sub = nil
	poller := h.poller
	h.poller = nil
	h.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if poller != nil {
		poller.Stop()
	}
	close(h.done)

	if h.cb.OnState != nil {
		h.cb.OnState(StateClosed)
	}
}

// subscribe establishes the realtime subscription, falling back to polling
// when the transport is unavailable.
func (h *Handle) subscribe(ctx context.Context) {
	sub, err := h.client.channel.Subscribe(ctx, h.room.ID, Callbacks{
		OnMessage:     h.onLiveMessage,
		OnPresence:    h.cb.OnPresence,
		OnParticipant: h.cb.OnParticipant,
		OnState:       h.onSubscriptionState,
		OnError:       h.cb.OnError,
	})
	if err != nil {
		h.startPolling()
		return
	}

	h.mu.Lock()
	old := h.sub
	h.sub = sub
	h.mu.Unlock()
	if old != nil {
		old.Unsubscribe()
	}
}

// onLiveMessage merges an authoritative message from the stream. The view's
// id set drops duplicates from at-least-once delivery and history overlap.
func (h *Handle) onLiveMessage(msg *models.Message) {
	h.run(func() {
		if h.view.insert(msg) && h.cb.OnMessage != nil {
			h.cb.OnMessage(msg)
		}
	})
}

func (h *Handle) onSubscriptionState(state ConnectionState) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		// Close reports the final Closed state itself; the torn-down
		// subscription's callbacks stay quiet.
		return
	}
	if h.cb.OnState != nil {
		h.cb.OnState(state)
	}
	if state == StateErrored {
		go h.reconnect()
	}
}

// reconnect retries the subscription with exponential backoff. Attempts are
// bounded; when they are exhausted the handle degrades to polling so the
// conversation keeps moving.
func (h *Handle) reconnect() {
	epoch := h.currentEpoch()
	opts := h.client.opts
	backoff := opts.ReconnectBase

	for attempt := 1; attempt <= opts.ReconnectAttempts; attempt++ {
		ctx, cancel := context.WithCancel(context.Background())
		err := h.client.sleep(ctx, backoff)
		cancel()
		if err != nil || h.stale(epoch) {
			return
		}

		sub, subErr := h.client.channel.Subscribe(context.Background(), h.room.ID, Callbacks{
			OnMessage:     h.onLiveMessage,
			OnPresence:    h.cb.OnPresence,
			OnParticipant: h.cb.OnParticipant,
			OnState:       h.onSubscriptionState,
			OnError:       h.cb.OnError,
		})
		if subErr == nil {
			if h.stale(epoch) {
				sub.Unsubscribe()
				return
			}
			h.mu.Lock()
			old := h.sub
			h.sub = sub
			h.mu.Unlock()
			if old != nil {
				old.Unsubscribe()
			}
			observability.SessionReconnects.WithLabelValues("success").Inc()

			// Refill anything missed while disconnected.
			_, _ = h.RefreshLatest()
			return
		}

		observability.SessionReconnects.WithLabelValues("failure").Inc()
		backoff *= 2
		if backoff > opts.ReconnectCap {
			backoff = opts.ReconnectCap
		}
	}

	observability.SessionReconnects.WithLabelValues("exhausted").Inc()
	if h.stale(epoch) {
		return
	}
	h.startPolling()
}

// RefreshLatest refetches the latest page and merges it, closing any gap
// left by a disconnect. Duplicates are dropped by the view.
func (h *Handle) RefreshLatest() (int, error) {
	epoch := h.currentEpoch()
	page, err := h.client.log.Page(context.Background(), h.room.ID, h.userID, nil, h.client.opts.PageSize)
	if err != nil {
		return 0, sendError(err)
	}
	if h.stale(epoch) {
		return 0, nil
	}
	added := 0
	h.runWait(func() { added = h.view.insertAll(page) })
	return added, nil
}

// startPolling switches the handle into degraded mode: no realtime
// transport, bounded-interval history polls instead.
func (h *Handle) startPolling() {
	h.mu.Lock()
	if h.closed || h.poller != nil {
		h.mu.Unlock()
		return
	}
	poller := NewPoller(h.client.log, h.room.ID, h.userID, h.client.opts.PollInterval, h.onLiveMessage)
	h.poller = poller
	h.mu.Unlock()

	poller.Start()
	if h.cb.OnError != nil {
		h.cb.OnError(models.NewTransientError("realtime unavailable, polling", nil))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
