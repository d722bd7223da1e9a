package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/clinicalops/trialrisk/internal/bus"
	"github.com/clinicalops/trialrisk/internal/domain"
)

func subscribe(t *testing.T, b domain.EventBus) <-chan domain.RunRequest {
	t.Helper()
	got := make(chan domain.RunRequest, 4)
	_, err := b.Subscribe(context.Background(), domain.TopicRunRequested, func(ctx context.Context, msg *domain.Message) error {
		var req domain.RunRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return err
		}
		got <- req
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	return got
}

func TestNew(t *testing.T) {
	b := bus.NewChannelBus(10)
	defer b.Close()

	for _, spec := range []string{"0 0 2 * * *", "@every 1h", "@daily"} {
		if _, err := New(spec, b); err != nil {
			t.Errorf("%q: unexpected error: %v", spec, err)
		}
	}

	for _, spec := range []string{"", "not a schedule", "61 * * * * *"} {
		if _, err := New(spec, b); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("%q: expected invalid input, got %v", spec, err)
		}
	}

	if _, err := New("@every 1h", nil); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected error without a bus, got %v", err)
	}
}

func TestTrigger(t *testing.T) {
	b := bus.NewChannelBus(10)
	defer b.Close()
	got := subscribe(t, b)

	s, err := New("@every 1h", b)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	req, err := s.Trigger(context.Background())
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}

	select {
	case recv := <-got:
		if recv.RunID != req.RunID || recv.RunID == "" {
			t.Errorf("expected run id %s, got %s", req.RunID, recv.RunID)
		}
		if recv.Trigger != TriggerSchedule {
			t.Errorf("expected schedule trigger, got %s", recv.Trigger)
		}
		if !recv.RequestedAt.Equal(s.now()) {
			t.Errorf("unexpected request time %v", recv.RequestedAt)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for run request")
	}
}

func TestStartFires(t *testing.T) {
	b := bus.NewChannelBus(10)
	defer b.Close()
	got := subscribe(t, b)

	s, err := New("@every 1s", b)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	s.Start()
	defer s.Stop()

	select {
	case recv := <-got:
		if recv.Trigger != TriggerSchedule {
			t.Errorf("expected schedule trigger, got %s", recv.Trigger)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler never fired")
	}
}

func TestTriggerClosedBus(t *testing.T) {
	b := bus.NewChannelBus(10)
	s, err := New("@every 1h", b)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	_ = b.Close()

	if _, err := s.Trigger(context.Background()); !errors.Is(err, bus.ErrClosed) {
		t.Errorf("expected closed bus error, got %v", err)
	}
}
