package chanmux

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MikeHennessy/suntrack/internal/adapters/clock"
	"github.com/MikeHennessy/suntrack/internal/adapters/sim"
	"github.com/MikeHennessy/suntrack/internal/bus"
	"github.com/MikeHennessy/suntrack/internal/domain"
)

func newTestMux(t *testing.T, opts ...Option) (*Mux, *bus.Handle, *sim.Controller, *clock.Fake) {
	t.Helper()
	rig := sim.New(sim.Config{ControllerChannel: 7, Peripherals: map[int][]uint16{6: {0x40}}}, nil)
	h := bus.New(rig)
	fc := clock.NewFake(time.Unix(0, 0))
	m := New(h, append([]Option{WithClock(fc)}, opts...)...)
	return m, h, rig, fc
}

func TestSelectWritesChannelBitAndSettles(t *testing.T) {
	m, h, rig, fc := newTestMux(t, WithSettleDelay(5*time.Millisecond))
	if err := h.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	for ch := 0; ch < Channels; ch++ {
		if err := m.Select(ch); err != nil {
			t.Fatalf("Select(%d): %v", ch, err)
		}
		if got, want := rig.Selected(), byte(1)<<uint(ch); got != want {
			t.Fatalf("control byte = %08b, want %08b", got, want)
		}
		if cur, ok := m.Current(); !ok || cur != ch {
			t.Fatalf("Current() = %d, %v, want %d, true", cur, ok, ch)
		}
	}
	slept, n := fc.Slept()
	if n != Channels || slept != Channels*5*time.Millisecond {
		t.Fatalf("settle sleeps = %d totalling %v", n, slept)
	}
}

func TestSelectRejectsInvalidChannel(t *testing.T) {
	m, h, rig, _ := newTestMux(t)
	if err := h.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	for _, ch := range []int{-1, 8, 255} {
		if err := m.Select(ch); !errors.Is(err, domain.ErrInvalidChannel) {
			t.Fatalf("Select(%d) = %v, want ErrInvalidChannel", ch, err)
		}
	}
	if rig.Transactions() != 0 {
		t.Fatalf("invalid channel reached the bus")
	}
}

func TestSelectFailureIsReported(t *testing.T) {
	m, h, rig, _ := newTestMux(t)
	if err := h.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	if err := m.Select(7); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("remote I/O error")
	rig.FailMux(boom)
	err := m.Select(3)
	if !errors.Is(err, domain.ErrMuxFailure) || !errors.Is(err, boom) {
		t.Fatalf("Select = %v, want ErrMuxFailure wrapping cause", err)
	}
	if _, ok := m.Current(); ok {
		t.Fatal("selection should be unknown after a failed write")
	}
}

func TestSelectWithoutOwnershipFails(t *testing.T) {
	m, _, _, _ := newTestMux(t)
	if err := m.Select(1); !errors.Is(err, domain.ErrBusNotHeld) {
		t.Fatalf("Select without Acquire = %v, want ErrBusNotHeld", err)
	}
}

func TestSettleDelayLowerBound(t *testing.T) {
	m, _, _, _ := newTestMux(t, WithSettleDelay(10*time.Microsecond))
	if got := m.SettleDelay(); got != MinSettleDelay {
		t.Fatalf("SettleDelay() = %v, want %v", got, MinSettleDelay)
	}
	m.SetSettleDelay(0)
	if got := m.SettleDelay(); got != MinSettleDelay {
		t.Fatalf("SettleDelay() = %v after SetSettleDelay(0)", got)
	}
	m.SetSettleDelay(3 * time.Millisecond)
	if got := m.SettleDelay(); got != 3*time.Millisecond {
		t.Fatalf("SettleDelay() = %v, want 3ms", got)
	}
}

func TestDisable(t *testing.T) {
	m, h, rig, _ := newTestMux(t)
	if err := h.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer h.Release()
	if err := m.Select(2); err != nil {
		t.Fatal(err)
	}
	if err := m.Disable(); err != nil {
		t.Fatal(err)
	}
	if rig.Selected() != 0 {
		t.Fatalf("control byte = %08b after Disable", rig.Selected())
	}
	if _, ok := m.Current(); ok {
		t.Fatal("no channel should be selected after Disable")
	}
}

func TestScan(t *testing.T) {
	m, h, _, _ := newTestMux(t)

	got, err := m.Scan(context.Background(), 7)
	if err != nil {
		t.Fatalf("Scan(7): %v", err)
	}
	if diff := cmp.Diff([]uint16{0x08}, got); diff != "" {
		t.Fatalf("channel 7 devices (-want +got):\n%s", diff)
	}
	got, err = m.Scan(context.Background(), 6)
	if err != nil {
		t.Fatalf("Scan(6): %v", err)
	}
	if diff := cmp.Diff([]uint16{0x40}, got); diff != "" {
		t.Fatalf("channel 6 devices (-want +got):\n%s", diff)
	}
	got, err = m.Scan(context.Background(), 0)
	if err != nil || len(got) != 0 {
		t.Fatalf("Scan(0) = %v, %v, want empty", got, err)
	}
	if h.Held() {
		t.Fatal("Scan left the bus held")
	}
}
