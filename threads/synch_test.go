package threads

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/sisoputnfrba/gokernel/utils"
)

func TestSemaphoreUpDown(t *testing.T) {
	s := Boot(Config{})
	sema := NewSemaphore(s, 0)

	sema.Up()
	sema.Down()
	if sema.Value() != 0 {
		t.Fatalf("value = %d, want 0", sema.Value())
	}
	if sema.TryDown() {
		t.Fatal("TryDown succeeded on zero semaphore")
	}
	sema.Up()
	if !sema.TryDown() {
		t.Fatal("TryDown failed on positive semaphore")
	}
}

func TestSemaphorePingPong(t *testing.T) {
	s := Boot(Config{})
	ping, pong := NewSemaphore(s, 0), NewSemaphore(s, 0)
	var trace []int

	s.Create("pong", PriDefault, func() {
		for i := 0; i < 5; i++ {
			ping.Down()
			trace = append(trace, -i)
			pong.Up()
		}
	})
	for i := 0; i < 5; i++ {
		trace = append(trace, i)
		ping.Up()
		pong.Down()
	}

	want := []int{0, 0, 1, -1, 2, -2, 3, -3, 4, -4}
	if !reflect.DeepEqual(trace, want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
}

// Los waiters se despiertan en orden de prioridad, no de llegada
func TestSemaphoreWakesHighestPriority(t *testing.T) {
	s := Boot(Config{})
	sema := NewSemaphore(s, 0)
	var woken []int

	s.SetPriority(PriMin)
	for i := 0; i < 10; i++ {
		p := PriDefault - 10 + (i*7)%10
		s.Create("w", p, func() {
			sema.Down()
			woken = append(woken, s.Priority())
		})
	}
	for i := 0; i < 10; i++ {
		sema.Up()
	}

	want := []int{30, 29, 28, 27, 26, 25, 24, 23, 22, 21}
	if !reflect.DeepEqual(woken, want) {
		t.Fatalf("woken = %v, want %v", woken, want)
	}
}

func TestLockMutualExclusion(t *testing.T) {
	s := Boot(Config{TimeSlice: 2})
	l := NewLock(s)
	done := NewSemaphore(s, 0)
	inside := 0
	maxInside := 0

	for i := 0; i < 4; i++ {
		s.Create("w", PriDefault, func() {
			for j := 0; j < 3; j++ {
				l.Acquire()
				inside++
				maxInside = max(maxInside, inside)
				s.Work(3)
				inside--
				l.Release()
			}
			done.Up()
		})
	}
	for i := 0; i < 4; i++ {
		done.Down()
	}
	if maxInside != 1 {
		t.Fatalf("max threads inside critical section = %d", maxInside)
	}
}

func TestTryAcquire(t *testing.T) {
	s := Boot(Config{})
	l := NewLock(s)

	if !l.TryAcquire() {
		t.Fatal("TryAcquire failed on free lock")
	}
	if !l.HeldByCurrent() || l.Holder() != s.Current() {
		t.Fatal("holder not recorded")
	}

	var got bool
	done := NewSemaphore(s, 0)
	s.Create("otro", PriDefault+1, func() {
		got = l.TryAcquire()
		done.Up()
	})
	done.Down()
	if got {
		t.Fatal("TryAcquire succeeded on held lock")
	}
	l.Release()
	if l.Holder() != nil {
		t.Fatal("lock still held after release")
	}
}

func TestLockUsageErrors(t *testing.T) {
	s := Boot(Config{})
	l := NewLock(s)

	mustPanic(t, "release free lock", func() { l.Release() })
	l.Acquire()
	mustPanic(t, "recursive acquire", func() { l.Acquire() })
	mustPanic(t, "recursive try acquire", func() { l.TryAcquire() })

	var recovered any
	done := NewSemaphore(s, 0)
	s.Create("ajeno", PriDefault+1, func() {
		func() {
			defer func() { recovered = recover() }()
			l.Release()
		}()
		done.Up()
	})
	done.Down()
	if recovered == nil {
		t.Fatal("release by non-holder did not panic")
	}
	l.Release()
}

// A(10) tiene L1; B(20) tiene L2 y espera L1; C(30) espera L2
func TestNestedDonation(t *testing.T) {
	s := Boot(Config{})
	l1, l2 := NewLock(s), NewLock(s)
	var events []string
	var bWithL1 int

	s.SetPriority(10)
	l1.Acquire()

	bTID, _ := s.Create("b", 20, func() {
		l2.Acquire()
		l1.Acquire()
		bWithL1 = s.Priority()
		l1.Release()
		events = append(events, "b-l1")
		l2.Release()
		events = append(events, "b-fin")
	})
	if s.Priority() != 20 {
		t.Fatalf("after b: main priority = %d, want 20", s.Priority())
	}
	if donors := s.Current().Donors(); !reflect.DeepEqual(donors, []TID{bTID}) {
		t.Fatalf("donors = %v, want [%d]", donors, bTID)
	}

	s.Create("c", 30, func() {
		l2.Acquire()
		events = append(events, "c")
		l2.Release()
	})
	if s.Priority() != 30 {
		t.Fatalf("after c: main priority = %d, want 30", s.Priority())
	}
	b := s.Thread(bTID)
	if b.Priority() != 30 || b.BasePriority() != 20 || b.WaitingOn() != l1 {
		t.Fatalf("b = %v base=%d", b, b.BasePriority())
	}

	l1.Release()

	if s.Priority() != 10 {
		t.Fatalf("after release: main priority = %d, want 10", s.Priority())
	}
	if bWithL1 != 30 {
		t.Fatalf("b priority holding l1 = %d, want 30", bWithL1)
	}
	if want := []string{"b-l1", "c", "b-fin"}; !reflect.DeepEqual(events, want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
}

// Cada thread i tiene locks[i] y espera locks[i-1], que main tiene en la
// base. La donación recorre a lo sumo MaxDonationDepth holders.
func TestDonationDepthBound(t *testing.T) {
	s := Boot(Config{})
	const base = 40
	hops := MaxDonationDepth + 2
	locks := make([]*Lock, hops+1)
	for i := range locks {
		locks[i] = NewLock(s)
	}
	done := NewSemaphore(s, 0)

	locks[0].Acquire()
	tids := make([]TID, hops+1)
	for i := 1; i <= hops; i++ {
		i := i
		tids[i], _ = s.Create("eslabon", base+i, func() {
			locks[i].Acquire()
			locks[i-1].Acquire()
			locks[i-1].Release()
			locks[i].Release()
			done.Up()
		})
	}

	if got, want := s.Priority(), base+MaxDonationDepth; got != want {
		t.Fatalf("main priority = %d, want %d", got, want)
	}
	if got, want := s.Thread(tids[1]).Priority(), base+MaxDonationDepth+1; got != want {
		t.Fatalf("first link priority = %d, want %d", got, want)
	}
	if got, want := s.Thread(tids[2]).Priority(), base+hops; got != want {
		t.Fatalf("second link priority = %d, want %d", got, want)
	}

	locks[0].Release()
	for i := 0; i < hops; i++ {
		done.Down()
	}
	if s.Priority() != PriDefault {
		t.Fatalf("main priority after release = %d, want %d", s.Priority(), PriDefault)
	}
}

// a tiene l1 y espera l2; b tiene l2 y espera l1. La donación corta en el
// ciclo y main sigue corriendo.
func TestDonationCycleTerminates(t *testing.T) {
	var logs bytes.Buffer
	prevInfo, prevErr := utils.InfoLog, utils.ErrorLog
	utils.InicializarLoggerEn(&logs, "error", "threads")
	defer func() { utils.InfoLog, utils.ErrorLog = prevInfo, prevErr }()

	s := Boot(Config{})
	l1, l2 := NewLock(s), NewLock(s)
	gate := NewSemaphore(s, 0)

	aTID, _ := s.Create("a", 40, func() {
		l1.Acquire()
		gate.Down()
		l2.Acquire()
	})
	bTID, _ := s.Create("b", 41, func() {
		l2.Acquire()
		gate.Up()
		l1.Acquire()
	})

	if s.Current().Name() != "main" {
		t.Fatalf("current = %v, want main", s.Current())
	}
	a, b := s.Thread(aTID), s.Thread(bTID)
	if a.WaitingOn() != l2 || b.WaitingOn() != l1 {
		t.Fatalf("a waits %p, b waits %p", a.WaitingOn(), b.WaitingOn())
	}
	if a.Priority() != 41 || b.Priority() != 41 {
		t.Fatalf("priorities a=%d b=%d, want 41", a.Priority(), b.Priority())
	}
	if !strings.Contains(logs.String(), "Ciclo de espera entre locks") {
		t.Fatalf("cycle not detected, logs:\n%s", logs.String())
	}
}

// Al liberar un lock solo se pierden las donaciones recibidas por ese lock
func TestMultipleDonation(t *testing.T) {
	s := Boot(Config{})
	a, b := NewLock(s), NewLock(s)
	var finished []string

	a.Acquire()
	b.Acquire()

	s.Create("x", PriDefault+1, func() {
		a.Acquire()
		finished = append(finished, "x")
		a.Release()
	})
	s.Create("y", PriDefault+2, func() {
		b.Acquire()
		finished = append(finished, "y")
		b.Release()
	})
	if s.Priority() != PriDefault+2 {
		t.Fatalf("priority = %d, want %d", s.Priority(), PriDefault+2)
	}

	b.Release()
	if s.Priority() != PriDefault+1 {
		t.Fatalf("after releasing b: priority = %d, want %d", s.Priority(), PriDefault+1)
	}
	a.Release()
	if s.Priority() != PriDefault {
		t.Fatalf("after releasing a: priority = %d, want %d", s.Priority(), PriDefault)
	}
	if want := []string{"y", "x"}; !reflect.DeepEqual(finished, want) {
		t.Fatalf("finished = %v, want %v", finished, want)
	}
}

// Bajar la prioridad base no quita lo donado
func TestSetPriorityKeepsDonation(t *testing.T) {
	s := Boot(Config{})
	l := NewLock(s)
	l.Acquire()

	s.Create("alta", PriDefault+10, func() {
		l.Acquire()
		l.Release()
	})
	s.SetPriority(PriMin + 5)
	if s.Priority() != PriDefault+10 || s.Current().BasePriority() != PriMin+5 {
		t.Fatalf("priority = %d base = %d", s.Priority(), s.Current().BasePriority())
	}
	l.Release()
	if s.Priority() != PriMin+5 {
		t.Fatalf("after release priority = %d, want %d", s.Priority(), PriMin+5)
	}
}

// Cuando el lock cambia de dueño los que siguen esperando donan al nuevo
func TestDonationMovesToNextHolder(t *testing.T) {
	s := Boot(Config{})
	l := NewLock(s)
	var seen []int

	s.SetPriority(PriMin + 1)
	l.Acquire()
	s.Create("medio", 20, func() {
		l.Acquire()
		seen = append(seen, s.Priority())
		l.Release()
	})
	s.Create("alto", 40, func() {
		l.Acquire()
		seen = append(seen, s.Priority())
		l.Release()
	})
	l.Release()

	// alto toma el lock primero; medio lo toma después sin donantes
	if want := []int{40, 20}; !reflect.DeepEqual(seen, want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
}

func TestConditionSignalsHighestPriority(t *testing.T) {
	s := Boot(Config{})
	l := NewLock(s)
	cond := NewCondition(s)
	var woken []int

	s.SetPriority(PriMin)
	for i := 0; i < 10; i++ {
		p := PriDefault - 10 + (i*7)%10
		s.Create("w", p, func() {
			l.Acquire()
			cond.Wait(l)
			woken = append(woken, s.Current().BasePriority())
			l.Release()
		})
	}
	for i := 0; i < 10; i++ {
		l.Acquire()
		cond.Signal(l)
		l.Release()
	}

	want := []int{30, 29, 28, 27, 26, 25, 24, 23, 22, 21}
	if !reflect.DeepEqual(woken, want) {
		t.Fatalf("woken = %v, want %v", woken, want)
	}
}

func TestConditionBroadcast(t *testing.T) {
	s := Boot(Config{})
	l := NewLock(s)
	cond := NewCondition(s)
	done := NewSemaphore(s, 0)
	ready := false
	woken := 0

	for i := 0; i < 3; i++ {
		s.Create("w", PriDefault+1, func() {
			l.Acquire()
			for !ready {
				cond.Wait(l)
			}
			woken++
			l.Release()
			done.Up()
		})
	}

	l.Acquire()
	ready = true
	cond.Broadcast(l)
	l.Release()
	for i := 0; i < 3; i++ {
		done.Down()
	}
	if woken != 3 {
		t.Fatalf("woken = %d, want 3", woken)
	}

	mustPanic(t, "signal without lock", func() { cond.Signal(l) })
}
