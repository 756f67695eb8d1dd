package threads

// IntrLevel indica si las interrupciones están habilitadas
type IntrLevel int

const (
	IntrOff IntrLevel = iota
	IntrOn
)

func (l IntrLevel) String() string {
	if l == IntrOn {
		return "on"
	}
	return "off"
}

func (s *Scheduler) IntrGetLevel() IntrLevel {
	if s.intrOff {
		return IntrOff
	}
	return IntrOn
}

// IntrSetLevel fija el nivel y devuelve el anterior
func (s *Scheduler) IntrSetLevel(level IntrLevel) IntrLevel {
	if level == IntrOn {
		return s.IntrEnable()
	}
	return s.IntrDisable()
}

func (s *Scheduler) IntrEnable() IntrLevel {
	old := s.IntrGetLevel()
	s.assert(!s.inIntr, "habilitar interrupciones dentro de un handler")
	s.intrOff = false
	return old
}

func (s *Scheduler) IntrDisable() IntrLevel {
	old := s.IntrGetLevel()
	s.intrOff = true
	return old
}

// InInterrupt informa si se está atendiendo una interrupción externa
func (s *Scheduler) InInterrupt() bool {
	return s.inIntr
}

// Tick simula una interrupción del timer sobre el thread actual. Si al salir
// quedó pendiente ceder la CPU, el thread cede antes de volver.
func (s *Scheduler) Tick() {
	s.assert(!s.intrOff, "interrupción de timer con interrupciones deshabilitadas")
	s.IntrDisable()
	s.inIntr = true

	s.ticks++
	s.threadTick()
	s.wakeSleepers()

	s.inIntr = false
	s.IntrEnable()

	if s.yieldOnReturn {
		s.yieldOnReturn = false
		s.Yield()
	}
}

// Work consume n ticks de CPU en el thread actual
func (s *Scheduler) Work(n int) {
	for i := 0; i < n; i++ {
		s.Tick()
	}
}

func (s *Scheduler) threadTick() {
	curr := s.current
	switch {
	case curr == s.idle:
		s.stats.IdleTicks++
	case curr.space != nil:
		s.stats.UserTicks++
	default:
		s.stats.KernelTicks++
	}

	if s.mlfqs {
		s.mlfqsTick()
	}

	s.sliceTicks++
	if s.sliceTicks >= s.cfg.TimeSlice {
		s.yieldOnReturn = true
	}
}

// Sleep duerme al thread actual al menos ticks ticks
func (s *Scheduler) Sleep(ticks int64) {
	if ticks <= 0 {
		return
	}
	s.assert(!s.inIntr, "Sleep dentro de una interrupción")
	old := s.IntrDisable()
	curr := s.current
	if curr != s.idle {
		curr.wakeTick = s.ticks + ticks
		curr.queue = queueSleep
		s.sleepers = append(s.sleepers, curr)
		s.Block()
	}
	s.IntrSetLevel(old)
}

func (s *Scheduler) wakeSleepers() {
	kept := s.sleepers[:0]
	var woken []*Thread
	for _, t := range s.sleepers {
		if t.wakeTick <= s.ticks {
			woken = append(woken, t)
			continue
		}
		kept = append(kept, t)
	}
	clear(s.sleepers[len(kept):])
	s.sleepers = kept

	for _, t := range woken {
		t.queue = queueNone
		s.Unblock(t)
	}
	if len(woken) > 0 {
		s.checkPreempt()
	}
}
