package threads

import (
	"errors"
	"fmt"
	"runtime"
	"sort"

	"github.com/sisoputnfrba/gokernel/fixedpoint"
	"github.com/sisoputnfrba/gokernel/palloc"
	"github.com/sisoputnfrba/gokernel/utils"
)

// ErrNoMemory se devuelve cuando no hay páginas para un bloque de control
var ErrNoMemory = errors.New("threads: sin memoria para el bloque de control")

const (
	DefaultTimeSlice   = 4
	DefaultTimerFreq   = 100
	DefaultKernelPages = 64
)

// Config son los parámetros de arranque del planificador
type Config struct {
	MLFQS       bool
	TimeSlice   int
	TimerFreq   int
	KernelPages int
}

func (c Config) withDefaults() Config {
	if c.TimeSlice <= 0 {
		c.TimeSlice = DefaultTimeSlice
	}
	if c.TimerFreq <= 0 {
		c.TimerFreq = DefaultTimerFreq
	}
	if c.KernelPages <= 0 {
		c.KernelPages = DefaultKernelPages
	}
	return c
}

// Stats son los contadores de ticks por tipo de thread
type Stats struct {
	Ticks       int64 `json:"ticks"`
	IdleTicks   int64 `json:"ticks_idle"`
	KernelTicks int64 `json:"ticks_kernel"`
	UserTicks   int64 `json:"ticks_usuario"`
}

// Scheduler es una CPU simulada. Cada thread del kernel corre en su propia
// goroutine pero solo avanza la que tiene el testigo: el cambio de contexto
// despierta al siguiente thread y bloquea al actual en su canal.
type Scheduler struct {
	cfg   Config
	mlfqs bool

	ready          []*Thread
	sleepers       []*Thread
	all            map[TID]*Thread
	destructionReq []*Thread

	current *Thread
	initial *Thread
	idle    *Thread

	intrOff       bool
	inIntr        bool
	yieldOnReturn bool

	ticks      int64
	sliceTicks int
	stats      Stats
	loadAvg    fixedpoint.Real

	nextTID TID
	tidLock *Lock
	pool    *palloc.Pool
}

// Boot convierte a la goroutine que lo llama en el thread inicial "main",
// crea el thread idle y habilita las interrupciones.
func Boot(cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		cfg:     cfg,
		mlfqs:   cfg.MLFQS,
		all:     make(map[TID]*Thread),
		intrOff: true,
		nextTID: 1,
		pool:    palloc.NewPool("kernel", cfg.KernelPages),
	}

	main := newThread("main", PriDefault)
	main.status = Running
	s.initial = main
	s.current = main

	s.tidLock = NewLock(s)
	main.tid = s.allocateTID()
	s.all[main.tid] = main

	// sin bloque para idle el kernel no puede arrancar
	started := NewSemaphore(s, 0)
	s.create("idle", PriMin, func() { s.idleLoop(started) }, palloc.Zero|palloc.Assert)

	s.IntrEnable()
	started.Down()

	utils.InfoLog.Info("Planificador iniciado",
		"mlfqs", cfg.MLFQS,
		"time_slice", cfg.TimeSlice,
		"timer_freq", cfg.TimerFreq,
		"paginas_kernel", cfg.KernelPages)
	return s
}

// Create crea un thread listo para correr fn. Si su prioridad supera a la del
// thread actual, éste cede la CPU antes de volver.
func (s *Scheduler) Create(name string, priority int, fn func()) (TID, error) {
	return s.create(name, priority, fn, palloc.Zero)
}

func (s *Scheduler) create(name string, priority int, fn func(), flags palloc.Flags) (TID, error) {
	s.assert(fn != nil, "Create sin función")
	s.assert(priority >= PriMin && priority <= PriMax, "prioridad fuera de rango")

	kva := s.pool.GetPage(flags)
	if kva == palloc.NoPage {
		utils.InfoLog.Warn("No se pudo crear el thread", "nombre", name, "error", ErrNoMemory)
		return TIDError, ErrNoMemory
	}

	t := newThread(name, priority)
	t.page = kva
	t.fn = fn
	t.tid = s.allocateTID()
	if s.mlfqs && s.idle != nil {
		// hereda nice y recent_cpu del padre
		t.nice = s.current.nice
		t.recentCPU = s.current.recentCPU
		s.mlfqsPriority(t)
	}

	old := s.IntrDisable()
	s.all[t.tid] = t
	s.IntrSetLevel(old)

	go s.kernelThread(t)
	s.Unblock(t)

	utils.InfoLog.Debug("Thread creado", "tid", t.tid, "nombre", name, "prioridad", priority)
	s.checkPreempt()
	return t.tid, nil
}

// kernelThread es el punto de entrada de la goroutine de cada thread
func (s *Scheduler) kernelThread(t *Thread) {
	<-t.wake
	s.assert(s.current == t, "thread despertado sin tener la CPU")
	s.IntrEnable()
	t.fn()
	s.Exit()
}

func (s *Scheduler) idleLoop(started *Semaphore) {
	s.idle = s.current
	started.Up()

	for {
		s.IntrDisable()
		s.Block()
		s.IntrEnable()
		s.halt()
	}
}

// halt espera la próxima interrupción. Solo el timer puede despertar a
// alguien, así que sin threads dormidos la CPU quedaría detenida para siempre.
func (s *Scheduler) halt() {
	if len(s.sleepers) == 0 {
		utils.ErrorLog.Error("CPU detenida: ningún thread puede volver a correr",
			"tick", s.ticks,
			"threads", len(s.all))
		panic("threads: deadlock, no hay threads listos ni dormidos")
	}
	s.Tick()
}

// Block duerme al thread actual hasta que alguien lo despierte con Unblock.
// Debe llamarse con las interrupciones deshabilitadas.
func (s *Scheduler) Block() {
	s.assert(!s.inIntr, "Block dentro de una interrupción")
	s.assert(s.intrOff, "Block con interrupciones habilitadas")
	s.current.status = Blocked
	s.schedule()
}

// Unblock pasa un thread bloqueado a ready. No expropia al thread actual.
func (s *Scheduler) Unblock(t *Thread) {
	s.assert(t.status == Blocked, fmt.Sprintf("Unblock de un thread %s", t.status))
	old := s.IntrDisable()
	s.pushReady(t)
	t.status = Ready
	s.IntrSetLevel(old)
}

// Yield cede la CPU; el thread actual queda ready detrás de los de igual
// prioridad.
func (s *Scheduler) Yield() {
	s.assert(!s.inIntr, "Yield dentro de una interrupción")
	old := s.IntrDisable()
	if s.current != s.idle {
		s.pushReady(s.current)
	}
	s.doSchedule(Ready)
	s.IntrSetLevel(old)
}

// Exit termina el thread actual. Su bloque de control se libera en el
// próximo cambio de contexto.
func (s *Scheduler) Exit() {
	s.assert(!s.inIntr, "Exit dentro de una interrupción")
	curr := s.current
	s.assert(curr != s.initial, "el thread inicial no puede terminar")

	if space := curr.space; space != nil {
		curr.space = nil
		space.Destroy()
	}

	utils.InfoLog.Debug("Thread finalizado", "tid", curr.tid, "nombre", curr.name)
	s.IntrDisable()
	s.doSchedule(Dying)
	panic("threads: un thread terminado volvió a correr")
}

func (s *Scheduler) doSchedule(status Status) {
	s.assert(s.intrOff, "doSchedule con interrupciones habilitadas")
	s.assert(s.current.status == Running, "doSchedule desde un thread que no corre")
	s.current.status = status
	s.schedule()
}

// schedule libera los threads terminados en cambios anteriores y elige al
// siguiente. Lo usan tanto Block como Yield y Exit.
func (s *Scheduler) schedule() {
	for _, victim := range s.destructionReq {
		s.reclaim(victim)
	}
	s.destructionReq = nil

	curr := s.current
	next := s.nextThreadToRun()

	s.assert(s.intrOff, "schedule con interrupciones habilitadas")
	s.assert(curr.status != Running, "schedule desde un thread que sigue corriendo")

	next.status = Running
	s.sliceTicks = 0

	if curr == next {
		return
	}
	if curr.status == Dying && curr != s.initial {
		s.destructionReq = append(s.destructionReq, curr)
	}
	s.current = next
	s.switchTo(curr, next)
}

// switchTo pasa el testigo de curr a next. El estado de curr se lee antes de
// soltar la CPU: después ya no le pertenece.
func (s *Scheduler) switchTo(curr, next *Thread) {
	dying := curr.status == Dying
	next.wake <- struct{}{}
	if dying {
		runtime.Goexit()
	}
	<-curr.wake
}

func (s *Scheduler) nextThreadToRun() *Thread {
	if len(s.ready) == 0 {
		s.assert(s.idle != nil, "no hay thread idle")
		return s.idle
	}
	next := s.ready[0]
	s.ready[0] = nil
	s.ready = s.ready[1:]
	next.queue = queueNone
	return next
}

func (s *Scheduler) reclaim(t *Thread) {
	delete(s.all, t.tid)
	if t.page != palloc.NoPage {
		s.pool.FreePage(t.page)
		t.page = palloc.NoPage
	}
	utils.InfoLog.Debug("Bloque de control liberado", "tid", t.tid)
}

// pushReady inserta t en la lista de ready manteniéndola ordenada por
// prioridad descendente y FIFO entre iguales
func (s *Scheduler) pushReady(t *Thread) {
	s.assert(t.queue == queueNone, "el thread ya está encolado")
	t.queue = queueReady
	s.ready = append(s.ready, t)
	s.sortReady()
}

func (s *Scheduler) sortReady() {
	sort.SliceStable(s.ready, func(i, j int) bool {
		return s.ready[i].priority > s.ready[j].priority
	})
}

// checkPreempt cede la CPU si hay un thread ready con más prioridad que el
// actual. Dentro de una interrupción lo difiere hasta el retorno.
func (s *Scheduler) checkPreempt() {
	if len(s.ready) == 0 || s.ready[0].priority <= s.current.priority {
		return
	}
	if s.inIntr {
		s.yieldOnReturn = true
		return
	}
	if s.current == s.idle {
		return
	}
	s.Yield()
}

func (s *Scheduler) allocateTID() TID {
	s.tidLock.Acquire()
	tid := s.nextTID
	s.nextTID++
	s.tidLock.Release()
	return tid
}

// Current devuelve el thread que tiene la CPU
func (s *Scheduler) Current() *Thread {
	return s.current
}

// Idle devuelve el thread idle
func (s *Scheduler) Idle() *Thread {
	return s.idle
}

// Thread busca un thread vivo por TID
func (s *Scheduler) Thread(tid TID) *Thread {
	return s.all[tid]
}

// ReadyLen devuelve cuántos threads esperan la CPU
func (s *Scheduler) ReadyLen() int {
	return len(s.ready)
}

func (s *Scheduler) MLFQS() bool {
	return s.mlfqs
}

func (s *Scheduler) Ticks() int64 {
	return s.ticks
}

func (s *Scheduler) Stats() Stats {
	st := s.stats
	st.Ticks = s.ticks
	return st
}

// FreeKernelPages devuelve cuántos bloques de control quedan disponibles
func (s *Scheduler) FreeKernelPages() int {
	return s.pool.Free()
}

// ThreadInfo es una foto del estado de un thread
type ThreadInfo struct {
	TID          TID    `json:"tid"`
	Name         string `json:"nombre"`
	Status       string `json:"estado"`
	Priority     int    `json:"prioridad"`
	BasePriority int    `json:"prioridad_base"`
	Nice         int    `json:"nice"`
	RecentCPU    int    `json:"recent_cpu"`
	Donors       []TID  `json:"donantes,omitempty"`
}

// Snapshot devuelve el estado de todos los threads vivos ordenados por TID
func (s *Scheduler) Snapshot() []ThreadInfo {
	old := s.IntrDisable()
	defer s.IntrSetLevel(old)

	infos := make([]ThreadInfo, 0, len(s.all))
	for _, t := range s.all {
		if t.status == Dying {
			continue
		}
		infos = append(infos, ThreadInfo{
			TID:          t.tid,
			Name:         t.name,
			Status:       t.status.String(),
			Priority:     t.priority,
			BasePriority: t.basePriority,
			Nice:         t.nice,
			RecentCPU:    t.recentCPU.MulInt(100).Round(),
			Donors:       t.Donors(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].TID < infos[j].TID })
	return infos
}

// assert corta la ejecución ante un error de uso del kernel
func (s *Scheduler) assert(cond bool, msg string) {
	if cond {
		return
	}
	var tid TID = TIDError
	if s.current != nil {
		tid = s.current.tid
	}
	utils.ErrorLog.Error("Violación de contrato del kernel", "detalle", msg, "tid", tid)
	panic("threads: " + msg)
}
