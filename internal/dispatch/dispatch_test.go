package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-push-bot/internal/storage"
)

type fakeSubs struct {
	subs []storage.Subscription
	err  error
}

func (f *fakeSubs) AddSubscription(ctx context.Context, sub storage.Subscription) (storage.Subscription, error) {
	return sub, nil
}
func (f *fakeSubs) UpdateSubscription(ctx context.Context, sub storage.Subscription) error { return nil }
func (f *fakeSubs) RemoveSubscription(ctx context.Context, userID int64, category storage.Category) error {
	return nil
}
func (f *fakeSubs) GetActiveSubscriptions(ctx context.Context, category storage.Category) ([]storage.Subscription, error) {
	return f.subs, f.err
}
func (f *fakeSubs) GetUserSubscriptions(ctx context.Context, userID int64) ([]storage.Subscription, error) {
	return f.subs, f.err
}

type fakePushes struct {
	records []storage.PushRecord
}

func (f *fakePushes) AddPushRecord(ctx context.Context, rec storage.PushRecord) (int64, error) {
	f.records = append(f.records, rec)
	return int64(len(f.records)), nil
}
func (f *fakePushes) CleanOldRecords(ctx context.Context, days int) (int64, error) { return 0, nil }
func (f *fakePushes) ListRecentRecords(ctx context.Context, limit int) ([]storage.PushRecord, error) {
	return f.records, nil
}

type fakeChannel struct {
	sent    []int64
	failFor map[int64]error
}

func (f *fakeChannel) Send(ctx context.Context, chatID int64, text, parseMode string) error {
	if err, ok := f.failFor[chatID]; ok {
		return err
	}
	f.sent = append(f.sent, chatID)
	return nil
}
func (f *fakeChannel) AnswerCallback(ctx context.Context, callbackID, text string) error { return nil }

func threeSubs() []storage.Subscription {
	return []storage.Subscription{
		{ID: 1, UserID: 10, ChatID: 10, Category: storage.CategoryPrices},
		{ID: 2, UserID: 20, ChatID: 20, Category: storage.CategoryPrices},
		{ID: 3, UserID: 30, ChatID: 30, Category: storage.CategoryPrices},
	}
}

func TestBroadcastContinuesPastFailure(t *testing.T) {
	pushes := &fakePushes{}
	channel := &fakeChannel{failFor: map[int64]error{20: errors.New("blocked by user")}}
	d := New(Options{SendDelay: time.Millisecond}, &fakeSubs{subs: threeSubs()}, pushes, channel, zerolog.Nop())

	res, err := d.Broadcast(context.Background(), storage.CategoryPrices, func(sub storage.Subscription) string {
		return "update"
	})
	if err != nil {
		t.Fatalf("单个失败不应令批次报错: %v", err)
	}
	if res.Delivered != 2 || res.Failed != 1 {
		t.Fatalf("expected 2 delivered / 1 failed, got %+v", res)
	}

	if len(pushes.records) != 3 {
		t.Fatalf("expected 3 push records, got %d", len(pushes.records))
	}
	wantSuccess := []bool{true, false, true}
	for i, rec := range pushes.records {
		if rec.Success != wantSuccess[i] {
			t.Fatalf("record %d: success=%v, want %v", i, rec.Success, wantSuccess[i])
		}
		if rec.BatchID != res.BatchID {
			t.Fatalf("record %d 应带 batch id %s", i, res.BatchID)
		}
	}
	if pushes.records[1].ErrorMessage == nil || *pushes.records[1].ErrorMessage != "blocked by user" {
		t.Fatalf("失败记录应包含错误文本: %+v", pushes.records[1])
	}

	// Third subscriber still reached after the second failed.
	if len(channel.sent) != 2 || channel.sent[1] != 30 {
		t.Fatalf("unexpected send order: %v", channel.sent)
	}
}

func TestBroadcastEmptyRenderSkipsSilently(t *testing.T) {
	pushes := &fakePushes{}
	channel := &fakeChannel{}
	d := New(Options{SendDelay: time.Millisecond}, &fakeSubs{subs: threeSubs()}, pushes, channel, zerolog.Nop())

	res, err := d.Broadcast(context.Background(), storage.CategoryPrices, func(sub storage.Subscription) string {
		if sub.ChatID == 20 {
			return ""
		}
		return "update"
	})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if res.Total != 2 || res.Delivered != 2 {
		t.Fatalf("空渲染应静默跳过: %+v", res)
	}
	if len(pushes.records) != 2 {
		t.Fatalf("跳过的订阅者不应产生记录, got %d", len(pushes.records))
	}
}

func TestBroadcastStoreLoadFailure(t *testing.T) {
	d := New(Options{SendDelay: time.Millisecond}, &fakeSubs{err: errors.New("db down")}, &fakePushes{}, &fakeChannel{}, zerolog.Nop())

	if _, err := d.Broadcast(context.Background(), storage.CategoryPrices, func(storage.Subscription) string { return "x" }); err == nil {
		t.Fatal("订阅列表加载失败应向上返回错误")
	}
}

func TestSendDirectRecordsOutcome(t *testing.T) {
	pushes := &fakePushes{}
	channel := &fakeChannel{}
	d := New(Options{SendDelay: time.Millisecond}, &fakeSubs{}, pushes, channel, zerolog.Nop())

	if err := d.SendDirect(context.Background(), 7, 7, storage.CategoryAlerts, "alert fired"); err != nil {
		t.Fatalf("SendDirect: %v", err)
	}
	if len(pushes.records) != 1 || !pushes.records[0].Success {
		t.Fatalf("unexpected records: %+v", pushes.records)
	}
	if pushes.records[0].Category != storage.CategoryAlerts {
		t.Fatalf("unexpected category %s", pushes.records[0].Category)
	}
}
