package threads

import (
	"sort"

	"github.com/sisoputnfrba/gokernel/utils"
)

// MaxDonationDepth acota cuántos holders recorre una donación anidada
const MaxDonationDepth = 8

// Semaphore es un contador no negativo con dos operaciones atómicas: Down
// espera a que sea positivo y lo decrementa, Up lo incrementa y despierta al
// waiter de mayor prioridad.
type Semaphore struct {
	sched   *Scheduler
	value   uint
	waiters []*Thread
}

func NewSemaphore(s *Scheduler, value uint) *Semaphore {
	return &Semaphore{sched: s, value: value}
}

func (sema *Semaphore) Value() uint {
	return sema.value
}

// Down puede bloquear, así que no se llama desde un handler de interrupción
func (sema *Semaphore) Down() {
	s := sema.sched
	s.assert(!s.inIntr, "Down dentro de una interrupción")
	old := s.IntrDisable()
	for sema.value == 0 {
		sema.wait()
	}
	sema.value--
	s.IntrSetLevel(old)
}

// TryDown decrementa solo si no hace falta esperar
func (sema *Semaphore) TryDown() bool {
	s := sema.sched
	old := s.IntrDisable()
	defer s.IntrSetLevel(old)
	if sema.value == 0 {
		return false
	}
	sema.value--
	return true
}

// Up puede llamarse desde un handler de interrupción
func (sema *Semaphore) Up() {
	s := sema.sched
	old := s.IntrDisable()
	if len(sema.waiters) > 0 {
		sema.sortWaiters()
		t := sema.waiters[0]
		sema.waiters[0] = nil
		sema.waiters = sema.waiters[1:]
		t.queue = queueNone
		s.Unblock(t)
	}
	sema.value++
	s.checkPreempt()
	s.IntrSetLevel(old)
}

func (sema *Semaphore) wait() {
	curr := sema.sched.current
	curr.queue = queueSema
	sema.waiters = append(sema.waiters, curr)
	sema.sortWaiters()
	sema.sched.Block()
}

// Las prioridades pueden cambiar mientras se espera por donaciones, así que
// se reordena antes de elegir.
func (sema *Semaphore) sortWaiters() {
	sort.SliceStable(sema.waiters, func(i, j int) bool {
		return sema.waiters[i].priority > sema.waiters[j].priority
	})
}

// Lock es un semáforo binario con dueño. Solo el holder puede liberarlo y no
// es recursivo. Fuera de MLFQS el holder hereda la prioridad de quienes
// esperan.
type Lock struct {
	sched  *Scheduler
	holder *Thread
	sema   *Semaphore
}

func NewLock(s *Scheduler) *Lock {
	return &Lock{sched: s, sema: NewSemaphore(s, 1)}
}

// Holder devuelve el thread que tiene el lock, o nil
func (l *Lock) Holder() *Thread {
	return l.holder
}

func (l *Lock) HeldByCurrent() bool {
	return l.holder != nil && l.holder == l.sched.current
}

// Acquire toma el lock, durmiendo hasta que esté libre. Mientras espera
// dona su prioridad a la cadena de holders.
func (l *Lock) Acquire() {
	s := l.sched
	s.assert(!s.inIntr, "Acquire dentro de una interrupción")
	s.assert(!l.HeldByCurrent(), "lock ya tomado por el thread actual")

	old := s.IntrDisable()
	curr := s.current
	for l.sema.value == 0 {
		if !s.mlfqs {
			curr.waitingOn = l
			l.holder.addDonor(curr)
			s.donate(curr)
		}
		l.sema.wait()
	}
	l.sema.value--
	l.take(curr)
	s.IntrSetLevel(old)
}

// TryAcquire toma el lock solo si está libre
func (l *Lock) TryAcquire() bool {
	s := l.sched
	s.assert(!l.HeldByCurrent(), "lock ya tomado por el thread actual")
	old := s.IntrDisable()
	defer s.IntrSetLevel(old)
	if !l.sema.TryDown() {
		return false
	}
	l.take(s.current)
	return true
}

// take registra al nuevo holder. Los que siguen esperando pasan a donarle.
func (l *Lock) take(curr *Thread) {
	s := l.sched
	curr.waitingOn = nil
	l.holder = curr
	if s.mlfqs || len(l.sema.waiters) == 0 {
		return
	}
	for _, w := range l.sema.waiters {
		curr.addDonor(w)
	}
	s.refreshPriority(curr)
}

// Release libera el lock. El holder descarta las donaciones recibidas por
// este lock y vuelve a su prioridad base o a la mayor donación restante.
func (l *Lock) Release() {
	s := l.sched
	s.assert(l.HeldByCurrent(), "Release de un lock que no es del thread actual")

	old := s.IntrDisable()
	curr := s.current
	if !s.mlfqs {
		curr.removeDonorsFor(l)
		s.refreshPriority(curr)
	}
	l.holder = nil
	l.sema.Up()
	s.IntrSetLevel(old)
}

// donate propaga la prioridad de t por la cadena de holders
func (s *Scheduler) donate(t *Thread) {
	origin := t
	for depth := 0; depth < MaxDonationDepth; depth++ {
		l := t.waitingOn
		if l == nil || l.holder == nil {
			return
		}
		holder := l.holder
		if holder == origin {
			utils.ErrorLog.Error("Ciclo de espera entre locks", "tid", origin.tid)
			return
		}
		s.refreshPriority(holder)
		t = holder
	}
}

// refreshPriority recalcula la prioridad efectiva como el máximo entre la
// base y la de sus donantes
func (s *Scheduler) refreshPriority(t *Thread) {
	sort.SliceStable(t.donors, func(i, j int) bool {
		return t.donors[i].priority > t.donors[j].priority
	})
	p := t.basePriority
	if len(t.donors) > 0 && t.donors[0].priority > p {
		p = t.donors[0].priority
	}
	t.priority = p
	if t.queue == queueReady {
		s.sortReady()
	}
}

// Condition permite esperar una condición asociada a un lock. Signal
// despierta al waiter de mayor prioridad.
type Condition struct {
	sched   *Scheduler
	waiters []*condWaiter
}

type condWaiter struct {
	thread *Thread
	sema   *Semaphore
}

func NewCondition(s *Scheduler) *Condition {
	return &Condition{sched: s}
}

// Wait libera l, espera una señal y vuelve a tomar l antes de volver
func (c *Condition) Wait(l *Lock) {
	s := c.sched
	s.assert(!s.inIntr, "Wait dentro de una interrupción")
	s.assert(l.HeldByCurrent(), "Wait sin tener el lock")

	w := &condWaiter{thread: s.current, sema: NewSemaphore(s, 0)}
	c.waiters = append(c.waiters, w)
	l.Release()
	w.sema.Down()
	l.Acquire()
}

func (c *Condition) Signal(l *Lock) {
	s := c.sched
	s.assert(!s.inIntr, "Signal dentro de una interrupción")
	s.assert(l.HeldByCurrent(), "Signal sin tener el lock")
	if len(c.waiters) == 0 {
		return
	}
	sort.SliceStable(c.waiters, func(i, j int) bool {
		return c.waiters[i].thread.priority > c.waiters[j].thread.priority
	})
	w := c.waiters[0]
	c.waiters[0] = nil
	c.waiters = c.waiters[1:]
	w.sema.Up()
}

func (c *Condition) Broadcast(l *Lock) {
	for len(c.waiters) > 0 {
		c.Signal(l)
	}
}
