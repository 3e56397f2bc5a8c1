package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"market-push-bot/internal/notify"
	"market-push-bot/internal/storage"
)

// Renderer produces the message body for one subscriber. Returning an empty
// string skips that subscriber silently for this cycle.
type Renderer func(sub storage.Subscription) string

// Result summarises one broadcast batch.
type Result struct {
	BatchID   string
	Total     int
	Delivered int
	Failed    int
}

// Options tune dispatch pacing and formatting.
type Options struct {
	SendDelay time.Duration
	ParseMode string
}

// Dispatcher fans one rendered message out to every active subscriber of a
// category, recording a PushRecord per recipient. Sends are sequential with a
// fixed pacing delay so the outbound channel's own throttling is not tripped.
type Dispatcher struct {
	opts    Options
	subs    storage.SubscriptionStore
	pushes  storage.PushStore
	channel notify.Channel
	logger  zerolog.Logger
}

// New constructs a Dispatcher.
func New(opts Options, subs storage.SubscriptionStore, pushes storage.PushStore, channel notify.Channel, logger zerolog.Logger) *Dispatcher {
	if opts.SendDelay <= 0 {
		opts.SendDelay = 100 * time.Millisecond
	}
	return &Dispatcher{
		opts:    opts,
		subs:    subs,
		pushes:  pushes,
		channel: channel,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Broadcast delivers render's output to every active subscriber of category.
// Individual delivery failures are recorded and do not abort the batch; the
// batch itself only fails when the subscriber list cannot be loaded.
func (d *Dispatcher) Broadcast(ctx context.Context, category storage.Category, render Renderer) (Result, error) {
	subs, err := d.subs.GetActiveSubscriptions(ctx, category)
	if err != nil {
		return Result{}, err
	}

	res := Result{BatchID: uuid.NewString(), Total: len(subs)}
	for i, sub := range subs {
		if i > 0 {
			if err := sleep(ctx, d.opts.SendDelay); err != nil {
				return res, err
			}
		}

		text := render(sub)
		if text == "" {
			res.Total--
			continue
		}

		sendErr := d.channel.Send(ctx, sub.ChatID, text, d.opts.ParseMode)
		d.record(ctx, res.BatchID, sub.UserID, sub.ChatID, category, text, sendErr)
		if sendErr != nil {
			res.Failed++
			d.logger.Warn().Err(sendErr).Int64("chat_id", sub.ChatID).Str("category", string(category)).Msg("delivery failed")
			continue
		}
		res.Delivered++
	}

	d.logger.Info().
		Str("batch_id", res.BatchID).
		Str("category", string(category)).
		Int("total", res.Total).
		Int("delivered", res.Delivered).
		Int("failed", res.Failed).
		Msg("broadcast completed")
	return res, nil
}

// SendDirect delivers a one-off message to a single recipient and records the
// outcome, outside of any subscription batch.
func (d *Dispatcher) SendDirect(ctx context.Context, userID, chatID int64, category storage.Category, text string) error {
	sendErr := d.channel.Send(ctx, chatID, text, d.opts.ParseMode)
	d.record(ctx, uuid.NewString(), userID, chatID, category, text, sendErr)
	return sendErr
}

func (d *Dispatcher) record(ctx context.Context, batchID string, userID, chatID int64, category storage.Category, content string, sendErr error) {
	rec := storage.PushRecord{
		BatchID:  batchID,
		UserID:   userID,
		ChatID:   chatID,
		Category: category,
		Content:  content,
		Success:  sendErr == nil,
	}
	if sendErr != nil {
		msg := sendErr.Error()
		rec.ErrorMessage = &msg
	}

	if _, err := d.pushes.AddPushRecord(ctx, rec); err != nil {
		d.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to persist push record")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
