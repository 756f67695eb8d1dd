package threads

import "testing"

func TestLoadAvgFirstSecond(t *testing.T) {
	s := Boot(Config{MLFQS: true})
	s.Work(DefaultTimerFreq)

	// un solo thread listo durante el primer segundo
	if got := s.LoadAvg(); got != 2 {
		t.Fatalf("load avg = %d, want 2", got)
	}
	if rc := s.RecentCPU(); rc <= 0 || rc >= 100*100 {
		t.Fatalf("recent cpu = %d after decay", rc)
	}
}

func TestLoadAvgIdleStaysZero(t *testing.T) {
	s := Boot(Config{MLFQS: true})
	s.Sleep(2 * DefaultTimerFreq)
	if got := s.LoadAvg(); got != 0 {
		t.Fatalf("load avg = %d, want 0", got)
	}
}

func TestMLFQSNicePriority(t *testing.T) {
	s := Boot(Config{MLFQS: true})

	s.SetNice(5)
	if s.Nice() != 5 {
		t.Fatalf("nice = %d", s.Nice())
	}
	if got, want := s.Priority(), PriMax-10; got != want {
		t.Fatalf("priority = %d, want %d", got, want)
	}

	s.SetNice(NiceMin)
	if s.Priority() != PriMax {
		t.Fatalf("priority = %d, want clamp to %d", s.Priority(), PriMax)
	}
}

func TestMLFQSIgnoresSetPriority(t *testing.T) {
	s := Boot(Config{MLFQS: true})
	before := s.Priority()
	s.SetPriority(PriMin)
	if s.Priority() != before {
		t.Fatalf("priority changed to %d in mlfqs mode", s.Priority())
	}
}

func TestMLFQSRecentCPULowersPriority(t *testing.T) {
	s := Boot(Config{MLFQS: true})
	s.SetNice(0)
	s.Work(40)

	// 40 ticks de CPU: 63 - 40/4
	if got := s.Priority(); got != PriMax-10 {
		t.Fatalf("priority = %d, want %d", got, PriMax-10)
	}
	if got := s.RecentCPU(); got != 4000 {
		t.Fatalf("recent cpu = %d, want 4000", got)
	}
}

func TestMLFQSNiceGetsLessCPU(t *testing.T) {
	s := Boot(Config{MLFQS: true})
	done := NewSemaphore(s, 0)
	counts := map[int]int{}

	for _, nice := range []int{0, 10} {
		nice := nice
		s.Create("carga", PriDefault, func() {
			s.SetNice(nice)
			for s.Ticks() < 4*DefaultTimerFreq {
				s.Work(1)
				counts[nice]++
			}
			done.Up()
		})
	}
	done.Down()
	done.Down()

	if counts[0] <= counts[10] {
		t.Fatalf("nice 0 got %d ticks, nice 10 got %d", counts[0], counts[10])
	}
}

func TestMLFQSNoDonation(t *testing.T) {
	s := Boot(Config{MLFQS: true})
	l := NewLock(s)
	done := NewSemaphore(s, 0)
	l.Acquire()

	s.Create("espera", PriDefault, func() {
		l.Acquire()
		l.Release()
		done.Up()
	})
	// el hijo hereda recent_cpu 0 y nice 0: prioridad 63, expropia y se bloquea
	if len(s.Current().Donors()) != 0 {
		t.Fatalf("donors = %v in mlfqs mode", s.Current().Donors())
	}
	l.Release()
	done.Down()
}
