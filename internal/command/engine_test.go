package command

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/theorlangur/zbpresence/internal/alarm"
	"github.com/theorlangur/zbpresence/internal/zb"
)

func newTestCommand(t *testing.T, stack *zb.SimStack) (*Command, *alarm.Pool) {
	t.Helper()
	pool := alarm.New(func() {}, zerolog.Nop())
	dst := zb.Address{Short: 0x1234, IEEE: 0xAABBCCDD}
	cmd := New(stack, pool, dst, 1, zb.ClusterOnOff, zb.CmdOn, func() []byte { return nil }, zerolog.Nop())
	return cmd, pool
}

func TestCommand_SendSuccessOnFirstTry(t *testing.T) {
	stack := zb.NewSimStack(0xDEADBEEF)
	cmd, _ := newTestCommand(t, stack)

	var wg sync.WaitGroup
	wg.Add(1)
	var succeeded, failed bool
	cmd.Send(Callbacks{
		OnSuccess:   func() { succeeded = true; wg.Done() },
		OnTotalFail: func() { failed = true; wg.Done() },
	})

	seq := stack.Sent[len(stack.Sent)-1].Seq
	stack.FireSendStatus(seq, true)
	stack.FireResponse(zb.ClusterOnOff, zb.CmdOn, zb.Address{Short: 0x1234, IEEE: 0x1111}, []byte{0x00})

	wg.Wait()
	if !succeeded || failed {
		t.Fatalf("want success, got succeeded=%v failed=%v", succeeded, failed)
	}
}

func TestCommand_RetriesThenTotalFail(t *testing.T) {
	stack := zb.NewSimStack(0xDEADBEEF)
	cmd, _ := newTestCommand(t, stack)
	cmd.retryBudget = 2
	cmd.perTryTimeout = 50 * time.Millisecond

	var wg sync.WaitGroup
	wg.Add(1)
	attempts := 0
	cmd.Send(Callbacks{
		OnTotalFail: func() { wg.Done() },
	})

	// fail every attempt via send-status.
	for i := 0; i < 3; i++ {
		attempts++
		seq := stack.Sent[len(stack.Sent)-1].Seq
		stack.FireSendStatus(seq, false)
	}

	wg.Wait()
	if len(stack.Sent) != 3 {
		t.Fatalf("want 3 attempts (1 + 2 retries), got %d", len(stack.Sent))
	}
}

func TestCommand_SendWhileInFlightIsIntermediateFail(t *testing.T) {
	stack := zb.NewSimStack(0xDEADBEEF)
	cmd, _ := newTestCommand(t, stack)

	cmd.Send(Callbacks{})

	intermediate := false
	cmd.Send(Callbacks{OnIntermediateFail: func() { intermediate = true }})

	if !intermediate {
		t.Fatal("expected second concurrent Send to report OnIntermediateFail")
	}
	if len(stack.Sent) != 1 {
		t.Fatalf("want exactly 1 wire send, got %d", len(stack.Sent))
	}
}

func TestCommand_CoordinatorResponseIgnored(t *testing.T) {
	stack := zb.NewSimStack(0xDEADBEEF)
	cmd, _ := newTestCommand(t, stack)

	cmd.Send(Callbacks{})
	// a response claiming to be from the coordinator (short addr 0) must
	// not be treated as the real device's answer.
	stack.FireResponse(zb.ClusterOnOff, zb.CmdOn, zb.Address{Short: 0, IEEE: 0x9999}, []byte{0x00})

	if !cmd.InFlight() {
		t.Fatal("coordinator-sourced response must not resolve the in-flight command")
	}
}

func TestCommand_DeadlineTriggersRetry(t *testing.T) {
	stack := zb.NewSimStack(0xDEADBEEF)
	cmd, _ := newTestCommand(t, stack)
	cmd.perTryTimeout = 20 * time.Millisecond
	cmd.retryBudget = 1

	var wg sync.WaitGroup
	wg.Add(1)
	cmd.Send(Callbacks{OnTotalFail: func() { wg.Done() }})

	wg.Wait()
	if len(stack.Sent) != 2 {
		t.Fatalf("want initial attempt + 1 retry after deadlines, got %d", len(stack.Sent))
	}
}
