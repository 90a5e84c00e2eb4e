package forwarder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/comerc/tgrelay/telemetry"
	"github.com/comerc/tgrelay/utils"
	"github.com/rs/zerolog/log"
)

const (
	previewLength = 80
	// maxTextLength is the platform limit in UTF-16 code units.
	maxTextLength = 4096
)

// Forwarder owns one Client session and at most one forwarding task.
type Forwarder struct {
	client   Client
	settings func() Settings
	recorder Recorder
	baseCtx  context.Context

	connMu    sync.Mutex
	connected bool

	// ctrlMu serializes StartForwarding and StopForwarding.
	ctrlMu sync.Mutex

	mu            sync.Mutex
	shouldForward bool
	cancel        context.CancelFunc
	done          chan struct{}
	status        Status
}

// New returns a Forwarder whose tasks live until ctx is done. settings is
// called on every polling round, so it may return fresh values.
func New(ctx context.Context, client Client, settings func() Settings, recorder Recorder) *Forwarder {
	if settings == nil {
		settings = DefaultSettings
	}
	return &Forwarder{
		client:   client,
		settings: settings,
		recorder: recorder,
		baseCtx:  ctx,
	}
}

func (f *Forwarder) Connect(ctx context.Context) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.connected {
		return nil
	}
	if err := f.client.Connect(ctx); err != nil {
		return err
	}
	f.connected = true
	return nil
}

func (f *Forwarder) Disconnect() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if !f.connected {
		return nil
	}
	f.connected = false
	return f.client.Disconnect()
}

// ListChats returns the conversations visible to the account and releases
// the session afterwards.
func (f *Forwarder) ListChats(ctx context.Context, limit int) ([]Chat, error) {
	if err := f.Connect(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Disconnect(); err != nil {
			log.Error().Err(err).Msg("Disconnect()")
		}
	}()
	return f.client.GetChats(ctx, limit)
}

// StartForwarding primes the cursor with the newest message of the source
// chat and launches the polling task. It does not wait for the task.
func (f *Forwarder) StartForwarding(ctx context.Context, req Request) error {
	f.ctrlMu.Lock()
	defer f.ctrlMu.Unlock()

	if f.IsForwarding() {
		return ErrAlreadyRunning
	}

	if err := f.Connect(ctx); err != nil {
		return err
	}
	last, err := f.client.GetLastMessage(ctx, req.SourceChatId)
	if err != nil {
		if err := f.Disconnect(); err != nil {
			log.Error().Err(err).Msg("Disconnect()")
		}
		return fmt.Errorf("source chat %d: %w", req.SourceChatId, err)
	}

	taskCtx, cancel := context.WithCancel(f.baseCtx)
	done := make(chan struct{})
	startedAt := time.Now().UTC()

	f.mu.Lock()
	f.shouldForward = true
	f.cancel = cancel
	f.done = done
	f.status = Status{
		Forwarding:        true,
		SourceChatId:      req.SourceChatId,
		DestinationChatId: req.DestinationChatId,
		Keywords:          req.Keywords,
		Cursor:            last.Id,
		StartedAt:         &startedAt,
	}
	f.mu.Unlock()

	telemetry.SetForwarding(true)
	log.Info().
		Int64("from", req.SourceChatId).
		Int64("to", req.DestinationChatId).
		Strs("keywords", req.Keywords).
		Int64("cursor", last.Id).
		Msg("Message forwarding started")

	go f.run(taskCtx, req, last.Id, done)
	return nil
}

// StopForwarding cancels the running task, if any, and waits until it has
// released the session or ctx is done.
func (f *Forwarder) StopForwarding(ctx context.Context) error {
	f.ctrlMu.Lock()
	defer f.ctrlMu.Unlock()

	f.mu.Lock()
	f.shouldForward = false
	cancel, done := f.cancel, f.done
	f.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Forwarder) IsForwarding() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done != nil
}

func (f *Forwarder) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.status
	status.Keywords = append([]string(nil), f.status.Keywords...)
	return status
}

func (f *Forwarder) keepForwarding() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shouldForward
}

func (f *Forwarder) run(ctx context.Context, req Request, cursor int64, done chan struct{}) {
	defer func() {
		if err := f.Disconnect(); err != nil {
			log.Error().Err(err).Msg("Disconnect()")
		}
		f.mu.Lock()
		f.shouldForward = false
		f.status.Forwarding = false
		f.cancel = nil
		f.done = nil
		f.mu.Unlock()
		telemetry.SetForwarding(false)
		close(done)
		log.Info().Int64("from", req.SourceChatId).Int64("cursor", cursor).Msg("Message forwarding stopped")
	}()

	var retry *backoff.ExponentialBackOff
	for f.keepForwarding() {
		settings := f.settings()

		messages, err := f.client.GetMessagesAfter(ctx, req.SourceChatId, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			telemetry.IncFetchError()
			if !settings.Backoff {
				f.fail(fmt.Errorf("fetch messages: %w", err))
				return
			}
			if retry == nil {
				retry = newBackoff(settings)
			}
			wait := retry.NextBackOff()
			log.Warn().Err(err).Int64("from", req.SourceChatId).Dur("wait", wait).Msg("GetMessagesAfter()")
			if !sleep(ctx, wait) {
				return
			}
			continue
		}
		retry = nil

		cursor, err = f.forwardBatch(ctx, req, cursor, messages, settings)
		if err != nil {
			if ctx.Err() == nil {
				f.fail(err)
			}
			return
		}

		if !sleep(ctx, settings.PollInterval) {
			return
		}
	}
}

// forwardBatch relays messages (newest first, as fetched) oldest first and
// returns the advanced cursor.
func (f *Forwarder) forwardBatch(ctx context.Context, req Request, cursor int64, messages []*Message, settings Settings) (int64, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return cursor, err
		}
		src := messages[i]
		telemetry.IncViewed()
		if f.recorder != nil {
			f.recorder.Viewed(req.DestinationChatId)
		}

		if shouldForward(src, req.Keywords) {
			if n := utils.StrLen(src.Text); n > maxTextLength {
				log.Warn().Int64("from", req.SourceChatId).Int64("id", src.Id).Int("len", n).Msg("Message text exceeds the platform limit")
			}
			dstId, err := f.client.SendText(ctx, req.DestinationChatId, src.Text)
			if err != nil {
				if ctx.Err() != nil {
					return cursor, ctx.Err()
				}
				telemetry.IncSendError()
				f.count(func(s *Status) { s.Failed++; s.LastError = err.Error() })
				if settings.AbortOnSendError {
					return cursor, fmt.Errorf("send message %d: %w", src.Id, err)
				}
				log.Error().Err(err).Int64("to", req.DestinationChatId).Int64("id", src.Id).Msg("SendText()")
			} else {
				telemetry.IncForwarded()
				f.count(func(s *Status) { s.Forwarded++ })
				if f.recorder != nil {
					f.recorder.Forwarded(req.SourceChatId, src.Id, req.DestinationChatId, dstId)
				}
				log.Debug().Int64("from", req.SourceChatId).Int64("id", src.Id).Int64("to", req.DestinationChatId).
					Str("text", utils.Truncate(src.Text, previewLength)).Msg("Message forwarded")
			}
		} else {
			f.count(func(s *Status) { s.Skipped++ })
			if src.Text == "" {
				log.Debug().Int64("from", req.SourceChatId).Int64("id", src.Id).Msg("Message without text skipped")
			}
		}

		if src.Id > cursor {
			cursor = src.Id
		}
		f.count(func(s *Status) { s.Cursor = cursor })
	}
	return cursor, nil
}

func (f *Forwarder) count(fn func(s *Status)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.status)
}

func (f *Forwarder) fail(err error) {
	log.Error().Err(err).Msg("Message forwarding failed")
	f.count(func(s *Status) { s.LastError = err.Error() })
}

// shouldForward: messages without text never; with no keywords always;
// otherwise when some keyword occurs in the text, ignoring case.
func shouldForward(message *Message, keywords []string) bool {
	if message.Text == "" {
		return false
	}
	if len(keywords) == 0 {
		return true
	}
	return utils.ContainsAnyFold(message.Text, keywords)
}

func newBackoff(settings Settings) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = settings.BackoffInitial
	b.MaxInterval = settings.BackoffMax
	b.Reset()
	return b
}

// sleep waits for d and reports false when ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
