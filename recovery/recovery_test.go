package recovery

import (
	"testing"
	"time"

	"github.com/y3i12/master-of-muppets/i2cx"
)

func TestSeverityTable(t *testing.T) {
	p := New(2, Config{})
	cases := []struct {
		kind  i2cx.ErrorKind
		retry int
		want  Severity
	}{
		{i2cx.Uninitialized, 0, Fatal},
		{i2cx.InvalidArg, 0, Fatal},
		{i2cx.BusError, 0, Error},
		{i2cx.BusError, 2, Critical},
		{i2cx.Timeout, 0, Warning},
		{i2cx.Timeout, 3, Error},
		{i2cx.Nak, 2, Warning},
		{i2cx.Nak, 3, Error},
		{i2cx.Arbitration, 5, Warning},
		{i2cx.Busy, 5, Warning},
	}
	for _, c := range cases {
		sev, _ := p.HandleError(c.kind, 0, c.retry)
		if sev != c.want {
			t.Errorf("severity(%v, retry=%d) = %v, want %v", c.kind, c.retry, sev, c.want)
		}
	}
}

func TestActionTable(t *testing.T) {
	cases := []struct {
		kind  i2cx.ErrorKind
		retry int
		want  Action
	}{
		{i2cx.Busy, 0, RetryWithBackoff},
		{i2cx.Busy, 1, RetryWithBackoff},
		{i2cx.Busy, 2, FallbackSync},
		{i2cx.Timeout, 2, RetryWithBackoff},
		{i2cx.Timeout, 3, FallbackSync},
		{i2cx.Nak, 0, RetryNow},
		{i2cx.Nak, 2, RetryNow},
		{i2cx.Nak, 3, FallbackSync},
		{i2cx.Arbitration, 9, RetryWithBackoff},
		{i2cx.BusError, 0, RetryNow},
		{i2cx.Uninitialized, 0, Escalate},
		{i2cx.InvalidArg, 1, Escalate},
	}
	for _, c := range cases {
		p := New(1, Config{})
		_, act := p.HandleError(c.kind, 0, c.retry)
		if act != c.want {
			t.Errorf("action(%v, retry=%d) = %v, want %v", c.kind, c.retry, act, c.want)
		}
	}
}

func TestBusErrorEscalatesToReset(t *testing.T) {
	p := New(1, Config{})
	// Build up a run of consecutive errors, then a non-first retry must
	// ask for a peripheral reset.
	for i := 0; i < 6; i++ {
		p.HandleError(i2cx.BusError, 0, 0)
	}
	_, act := p.HandleError(i2cx.BusError, 0, 1)
	if act != ResetPeripheral {
		t.Fatalf("action = %v, want ResetPeripheral", act)
	}
	// Below the consecutive threshold it falls back instead.
	p2 := New(1, Config{})
	p2.HandleError(i2cx.BusError, 0, 0)
	_, act = p2.HandleError(i2cx.BusError, 0, 1)
	if act != FallbackSync {
		t.Fatalf("action = %v, want FallbackSync", act)
	}
}

func TestConsecutiveCountedOncePerFailure(t *testing.T) {
	p := New(1, Config{})
	p.HandleError(i2cx.Nak, 0, 0)
	p.HandleError(i2cx.Nak, 0, 1)
	if got := p.ConsecutiveErrors(0); got != 2 {
		t.Fatalf("ConsecutiveErrors = %d, want 2", got)
	}
	p.NotifySuccess(0)
	if got := p.ConsecutiveErrors(0); got != 0 {
		t.Fatalf("ConsecutiveErrors after success = %d, want 0", got)
	}
}

func TestFallbackClearsAfterK(t *testing.T) {
	p := New(2, Config{RecoverySuccesses: 10})
	p.EnterFallback(1)
	if !p.FallbackActive(1) {
		t.Fatal("fallback not active after EnterFallback")
	}
	for i := 0; i < 9; i++ {
		p.NotifySuccess(1)
		if !p.FallbackActive(1) {
			t.Fatalf("fallback cleared after %d successes", i+1)
		}
	}
	p.NotifySuccess(1)
	if p.FallbackActive(1) {
		t.Fatal("fallback still active after 10 successes")
	}
}

func TestFallbackStreakResetByError(t *testing.T) {
	p := New(1, Config{RecoverySuccesses: 3})
	p.EnterFallback(0)
	p.NotifySuccess(0)
	p.NotifySuccess(0)
	p.HandleError(i2cx.Nak, 0, 0)
	p.NotifySuccess(0)
	p.NotifySuccess(0)
	if p.FallbackActive(0) == false {
		t.Fatal("fallback cleared before a full streak")
	}
	p.NotifySuccess(0)
	if p.FallbackActive(0) {
		t.Fatal("fallback still active after full streak")
	}
}

func TestNotifyResetKeepsFallback(t *testing.T) {
	p := New(1, Config{})
	for i := 0; i < 12; i++ {
		p.HandleError(i2cx.BusError, 0, 1)
	}
	if !p.ShouldReset(0) {
		t.Fatal("ShouldReset = false after threshold crossed")
	}
	p.NotifyReset(0)
	if got := p.ConsecutiveErrors(0); got != 0 {
		t.Fatalf("ConsecutiveErrors after reset = %d", got)
	}
	if !p.FallbackActive(0) {
		t.Fatal("fallback not held after reset")
	}
	if got := p.Statistics().PeripheralResets; got != 1 {
		t.Fatalf("PeripheralResets = %d", got)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	base := time.Millisecond
	max := 100 * time.Millisecond
	p := New(1, Config{RetryBase: base, RetryMax: max})
	for retry := 0; retry < 12; retry++ {
		d := p.RetryDelay(0, retry)
		exp := base << uint(retry)
		if exp > max {
			exp = max
		}
		lo := exp - exp/10
		hi := max + max/10
		if d < lo-time.Millisecond || d > hi {
			t.Errorf("RetryDelay(retry=%d) = %v, want within [%v, %v]", retry, d, lo, hi)
		}
	}
}

func TestEventLogWraps(t *testing.T) {
	p := New(1, Config{})
	for i := 0; i < LogSize+8; i++ {
		p.HandleError(i2cx.Nak, 0, i)
	}
	evs := p.Events()
	if len(evs) != LogSize {
		t.Fatalf("len(Events) = %d, want %d", len(evs), LogSize)
	}
	// Oldest retained entry is number 8; newest is number LogSize+7.
	if evs[0].Retry != 8 {
		t.Errorf("oldest retained retry = %d, want 8", evs[0].Retry)
	}
	if evs[len(evs)-1].Retry != LogSize+7 {
		t.Errorf("newest retained retry = %d, want %d", evs[len(evs)-1].Retry, LogSize+7)
	}
}

func TestStatsAndHealth(t *testing.T) {
	p := New(1, Config{ErrorRatePercent: 5})
	for i := 0; i < 100; i++ {
		p.CountOperation()
	}
	p.HandleError(i2cx.Timeout, 0, 0)
	p.HandleError(i2cx.Nak, 0, 0)
	st := p.Statistics()
	if st.TotalErrors != 2 || st.TimeoutErrors != 1 || st.NakErrors != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if st.ErrorRatePercent != 2.0 {
		t.Fatalf("ErrorRatePercent = %v, want 2.0", st.ErrorRatePercent)
	}
	if !p.Healthy() {
		t.Fatal("Healthy = false at 2%")
	}
	for i := 0; i < 4; i++ {
		p.HandleError(i2cx.BusError, 0, 0)
	}
	if p.Healthy() {
		t.Fatal("Healthy = true at 6%")
	}
}
