package threads

import "github.com/sisoputnfrba/gokernel/fixedpoint"

// Cada cuántos ticks se recalculan las prioridades en modo MLFQS
const priorityRecalcTicks = 4

var (
	loadDecay  = fixedpoint.FromInt(59).Div(fixedpoint.FromInt(60))
	loadWeight = fixedpoint.FromInt(1).Div(fixedpoint.FromInt(60))
)

func (s *Scheduler) mlfqsTick() {
	if s.current != s.idle {
		s.current.recentCPU = s.current.recentCPU.AddInt(1)
	}

	if s.ticks%int64(s.cfg.TimerFreq) == 0 {
		s.updateLoadAvg()
		for _, t := range s.all {
			s.updateRecentCPU(t)
		}
	}

	if s.ticks%priorityRecalcTicks == 0 {
		for _, t := range s.all {
			s.mlfqsPriority(t)
		}
		s.sortReady()
		s.checkPreempt()
	}
}

// load_avg = 59/60 * load_avg + 1/60 * ready_threads
func (s *Scheduler) updateLoadAvg() {
	readyThreads := len(s.ready)
	if s.current != s.idle {
		readyThreads++
	}
	s.loadAvg = loadDecay.Mul(s.loadAvg).Add(loadWeight.MulInt(readyThreads))
}

// recent_cpu = (2*load_avg)/(2*load_avg + 1) * recent_cpu + nice
func (s *Scheduler) updateRecentCPU(t *Thread) {
	if t == s.idle {
		return
	}
	twice := s.loadAvg.MulInt(2)
	coef := twice.Div(twice.AddInt(1))
	t.recentCPU = coef.Mul(t.recentCPU).AddInt(t.nice)
}

// priority = PRI_MAX - recent_cpu/4 - nice*2, acotada a [PRI_MIN, PRI_MAX]
func (s *Scheduler) mlfqsPriority(t *Thread) {
	if t == s.idle {
		return
	}
	p := fixedpoint.FromInt(PriMax).Sub(t.recentCPU.DivInt(4)).SubInt(t.nice * 2).Trunc()
	p = min(max(p, PriMin), PriMax)
	t.priority = p
	t.basePriority = p
}

// SetPriority fija la prioridad base del thread actual. En modo MLFQS se
// ignora.
func (s *Scheduler) SetPriority(priority int) {
	s.assert(priority >= PriMin && priority <= PriMax, "prioridad fuera de rango")
	if s.mlfqs {
		return
	}
	old := s.IntrDisable()
	s.current.basePriority = priority
	s.refreshPriority(s.current)
	s.IntrSetLevel(old)
	s.checkPreempt()
}

// Priority devuelve la prioridad efectiva del thread actual
func (s *Scheduler) Priority() int {
	return s.current.priority
}

// SetNice fija el nice del thread actual y recalcula su prioridad
func (s *Scheduler) SetNice(nice int) {
	s.assert(nice >= NiceMin && nice <= NiceMax, "nice fuera de rango")
	old := s.IntrDisable()
	s.current.nice = nice
	if s.mlfqs {
		s.mlfqsPriority(s.current)
	}
	s.IntrSetLevel(old)
	s.checkPreempt()
}

func (s *Scheduler) Nice() int {
	return s.current.nice
}

// LoadAvg devuelve 100 veces el load average, redondeado
func (s *Scheduler) LoadAvg() int {
	return s.loadAvg.MulInt(100).Round()
}

// RecentCPU devuelve 100 veces el recent_cpu del thread actual, redondeado
func (s *Scheduler) RecentCPU() int {
	return s.current.recentCPU.MulInt(100).Round()
}
