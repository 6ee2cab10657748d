package taskpump

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aeternusdb/aeternusdb/internal/logging"
)

func TestPumpRunsSubmittedTasks(t *testing.T) {
	p := New(2, logging.Discard)
	p.Start()
	defer p.Stop()

	var n int32
	for i := 0; i < 20; i++ {
		p.SubmitFlush(func() { atomic.AddInt32(&n, 1) })
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&n) == 20
	}, time.Second, time.Millisecond)
}

func TestPumpRunsBothTaskKinds(t *testing.T) {
	p := New(2, logging.Discard)
	p.Start()
	defer p.Stop()

	var flushes, compacts int32
	p.SubmitFlush(func() { atomic.AddInt32(&flushes, 1) })
	p.SubmitMaybeCompact(func() { atomic.AddInt32(&compacts, 1) })

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&flushes) == 1 && atomic.LoadInt32(&compacts) == 1
	}, time.Second, time.Millisecond)
}

func TestStopWaitsForInFlightTasksToDrain(t *testing.T) {
	p := New(1, logging.Discard)
	p.Start()

	var ran int32
	for i := 0; i < 5; i++ {
		p.Submit(Task{Kind: KindFlush, Run: func() {
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&ran, 1)
		}})
	}

	p.Stop()
	require.EqualValues(t, 5, ran)
}

func TestSubmitAfterStopIsDropped(t *testing.T) {
	p := New(1, logging.Discard)
	p.Start()
	p.Stop()

	var ran int32
	p.SubmitFlush(func() { atomic.AddInt32(&ran, 1) })

	time.Sleep(10 * time.Millisecond)
	require.EqualValues(t, 0, ran)
}

func TestPanickingTaskDoesNotKillWorker(t *testing.T) {
	p := New(1, logging.Discard)
	p.Start()
	defer p.Stop()

	p.Submit(Task{Kind: KindMaybeCompact, Run: func() { panic("boom") }})

	var ran int32
	p.SubmitFlush(func() { atomic.AddInt32(&ran, 1) })

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&ran) == 1
	}, time.Second, time.Millisecond)
}

func TestKindString(t *testing.T) {
	require.Equal(t, "flush", KindFlush.String())
	require.Equal(t, "maybe_compact", KindMaybeCompact.String())
	require.Equal(t, "unknown", Kind(99).String())
}
