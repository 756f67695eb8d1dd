package threads

import (
	"errors"
	"reflect"
	"testing"
)

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("%s: expected panic", name)
		}
	}()
	fn()
}

func TestBoot(t *testing.T) {
	s := Boot(Config{})

	main := s.Current()
	if main.Name() != "main" || main.Status() != Running {
		t.Fatalf("current = %v", main)
	}
	if s.Priority() != PriDefault {
		t.Fatalf("priority = %d, want %d", s.Priority(), PriDefault)
	}
	if s.Idle() == nil || s.Idle().Priority() != PriMin {
		t.Fatalf("idle = %v", s.Idle())
	}
	if s.IntrGetLevel() != IntrOn {
		t.Fatal("interrupts should be enabled after boot")
	}
	if got := s.FreeKernelPages(); got != DefaultKernelPages-1 {
		t.Fatalf("free kernel pages = %d, want %d", got, DefaultKernelPages-1)
	}
}

func TestCreatePreemptsLowerPriority(t *testing.T) {
	s := Boot(Config{})
	var order []string

	s.Create("alta", PriDefault+1, func() { order = append(order, "alta") })
	order = append(order, "main")
	s.Create("baja", PriDefault-1, func() { order = append(order, "baja") })
	order = append(order, "main")

	// baja solo corre cuando main se bloquea
	done := NewSemaphore(s, 0)
	s.Create("fin", PriMin+1, func() { done.Up() })
	done.Down()

	want := []string{"alta", "main", "main", "baja"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestRoundRobinTimeSlice(t *testing.T) {
	s := Boot(Config{TimeSlice: 4})
	done := NewSemaphore(s, 0)
	var order []string

	worker := func(name string) func() {
		return func() {
			for i := 0; i < 3; i++ {
				order = append(order, name)
				s.Work(4)
			}
			done.Up()
		}
	}
	s.Create("x", PriDefault, worker("x"))
	s.Create("y", PriDefault, worker("y"))
	done.Down()
	done.Down()

	want := []string{"x", "y", "x", "y", "x", "y"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	if st := s.Stats(); st.KernelTicks != 24 {
		t.Fatalf("kernel ticks = %d, want 24", st.KernelTicks)
	}
}

func TestSleepWakeOrder(t *testing.T) {
	s := Boot(Config{})
	done := NewSemaphore(s, 0)

	type wake struct {
		name string
		tick int64
	}
	var wakes []wake

	for _, c := range []struct {
		name  string
		ticks int64
	}{
		{"t30", 30},
		{"t10", 10},
		{"t20", 20},
	} {
		c := c
		s.Create(c.name, PriDefault, func() {
			start := s.Ticks()
			s.Sleep(c.ticks)
			if s.Ticks()-start < c.ticks {
				t.Errorf("%s woke after %d ticks", c.name, s.Ticks()-start)
			}
			wakes = append(wakes, wake{c.name, s.Ticks()})
			done.Up()
		})
	}
	for i := 0; i < 3; i++ {
		done.Down()
	}

	var names []string
	for _, w := range wakes {
		names = append(names, w.name)
	}
	if want := []string{"t10", "t20", "t30"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("wake order = %v, want %v", names, want)
	}
	if st := s.Stats(); st.IdleTicks == 0 {
		t.Fatal("idle thread never ran the clock")
	}
}

func TestSleepNonPositive(t *testing.T) {
	s := Boot(Config{})
	before := s.Ticks()
	s.Sleep(0)
	s.Sleep(-5)
	if s.Ticks() != before {
		t.Fatalf("ticks advanced from %d to %d", before, s.Ticks())
	}
}

func TestCreateOutOfMemory(t *testing.T) {
	// una página para idle y otra para un único thread
	s := Boot(Config{KernelPages: 2})
	done := NewSemaphore(s, 0)

	tid, err := s.Create("a", PriDefault, func() { done.Up() })
	if err != nil {
		t.Fatal(err)
	}
	bad, err := s.Create("b", PriDefault, func() {})
	if !errors.Is(err, ErrNoMemory) || bad != TIDError {
		t.Fatalf("Create = (%d, %v), want (%d, ErrNoMemory)", bad, err, TIDError)
	}

	done.Down()
	s.Yield()

	// "a" terminó; su bloque se libera en el cambio de contexto siguiente
	if s.Thread(tid) != nil {
		t.Fatalf("thread %d still registered after reclaim", tid)
	}
	if s.FreeKernelPages() != 1 {
		t.Fatalf("free kernel pages = %d, want 1", s.FreeKernelPages())
	}
	if _, err := s.Create("c", PriDefault, func() {}); err != nil {
		t.Fatalf("Create after reclaim: %v", err)
	}
}

func TestDeferredDestruction(t *testing.T) {
	s := Boot(Config{})
	done := NewSemaphore(s, 0)
	tid, _ := s.Create("a", PriDefault, func() { done.Up() })

	done.Down()
	th := s.Thread(tid)
	if th == nil || th.Status() != Dying {
		t.Fatalf("thread = %v, want dying and registered", th)
	}
	s.Yield()
	if s.Thread(tid) != nil {
		t.Fatal("dying thread not reclaimed")
	}
}

// Un bloqueo también es un cambio de contexto: libera a los terminados
func TestBlockReclaimsDyingThreads(t *testing.T) {
	s := Boot(Config{})
	done := NewSemaphore(s, 0)
	gate := NewSemaphore(s, 0)
	tid, _ := s.Create("a", PriDefault, func() { done.Up() })
	done.Down()

	reclaimed := false
	s.Create("b", PriDefault, func() {
		reclaimed = s.Thread(tid) == nil
		gate.Up()
	})
	gate.Down()

	if !reclaimed {
		t.Fatal("dying thread still registered after a block-only switch")
	}
	if got := s.FreeKernelPages(); got != DefaultKernelPages-2 {
		t.Fatalf("free kernel pages = %d, want %d", got, DefaultKernelPages-2)
	}
}

type fakeSpace struct{ destroyed bool }

func (f *fakeSpace) Destroy() { f.destroyed = true }

func TestExitDestroysAddressSpace(t *testing.T) {
	s := Boot(Config{})
	done := NewSemaphore(s, 0)
	space := &fakeSpace{}

	s.Create("proc", PriDefault, func() {
		s.Current().SetAddressSpace(space)
		s.Work(2)
		done.Up()
	})
	done.Down()
	s.Yield()

	if !space.destroyed {
		t.Fatal("address space not destroyed on exit")
	}
	if st := s.Stats(); st.UserTicks != 2 {
		t.Fatalf("user ticks = %d, want 2", st.UserTicks)
	}
}

func TestSnapshot(t *testing.T) {
	s := Boot(Config{})
	infos := s.Snapshot()
	if len(infos) != 2 {
		t.Fatalf("snapshot = %+v", infos)
	}
	if infos[0].Name != "main" || infos[0].Status != "RUNNING" {
		t.Fatalf("main info = %+v", infos[0])
	}
	if infos[1].Name != "idle" || infos[1].Priority != PriMin {
		t.Fatalf("idle info = %+v", infos[1])
	}
}

func TestSchedulerUsageErrors(t *testing.T) {
	s := Boot(Config{})

	mustPanic(t, "priority out of range", func() { s.SetPriority(PriMax + 1) })
	mustPanic(t, "nice out of range", func() { s.SetNice(NiceMax + 1) })
	mustPanic(t, "exit initial thread", func() { s.Exit() })
	mustPanic(t, "unblock running thread", func() { s.Unblock(s.Current()) })
	mustPanic(t, "block with interrupts on", func() { s.Block() })
	mustPanic(t, "create without function", func() { s.Create("x", PriDefault, nil) })

	if s.IntrGetLevel() != IntrOn {
		t.Fatal("interrupt level changed by a rejected call")
	}
}

func TestIntrLevels(t *testing.T) {
	s := Boot(Config{})

	old := s.IntrDisable()
	if old != IntrOn || s.IntrGetLevel() != IntrOff {
		t.Fatalf("disable: old=%v now=%v", old, s.IntrGetLevel())
	}
	if prev := s.IntrSetLevel(old); prev != IntrOff {
		t.Fatalf("set level returned %v", prev)
	}
	if s.IntrGetLevel() != IntrOn {
		t.Fatal("interrupts not restored")
	}
	if s.InInterrupt() {
		t.Fatal("unexpected interrupt context")
	}
}
