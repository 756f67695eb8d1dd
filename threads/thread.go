// Package threads implementa los threads del kernel, su planificador y las
// primitivas de sincronización con donación de prioridad.
package threads

import (
	"fmt"

	"github.com/sisoputnfrba/gokernel/fixedpoint"
	"github.com/sisoputnfrba/gokernel/palloc"
)

// Status es el estado de un thread en el planificador
type Status int

const (
	Running Status = iota
	Ready
	Blocked
	Dying
)

func (s Status) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Ready:
		return "READY"
	case Blocked:
		return "BLOCKED"
	case Dying:
		return "DYING"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Prioridades y valores de nice
const (
	PriMin     = 0
	PriDefault = 31
	PriMax     = 63

	NiceMin     = -20
	NiceDefault = 0
	NiceMax     = 20
)

// TID identifica un thread
type TID int

// TIDError es el valor que devuelve Create cuando no pudo crear el thread
const TIDError TID = -1

// queue indica en qué colección está encolado un thread. Un thread está en
// a lo sumo una: la lista de ready, la lista de dormidos o los waiters de
// un único semáforo.
type queue int

const (
	queueNone queue = iota
	queueReady
	queueSleep
	queueSema
)

// AddressSpace es el espacio de direcciones de usuario que posee un thread.
// El planificador lo destruye cuando el thread termina.
type AddressSpace interface {
	Destroy()
}

// Thread es el bloque de control de un thread del kernel.
//
// Los campos solo los lee y modifica el thread que tiene la CPU, así que los
// getters deben llamarse desde código que corre dentro del kernel simulado.
type Thread struct {
	tid    TID
	name   string
	status Status

	priority     int // efectiva
	basePriority int
	nice         int
	recentCPU    fixedpoint.Real
	wakeTick     int64

	// donors son los threads esperando un lock que este thread tiene.
	// Ordenados por prioridad descendente.
	donors    []*Thread
	waitingOn *Lock

	space AddressSpace
	queue queue
	page  palloc.KVA

	fn   func()
	wake chan struct{}
}

func newThread(name string, priority int) *Thread {
	return &Thread{
		name:         name,
		status:       Blocked,
		priority:     priority,
		basePriority: priority,
		nice:         NiceDefault,
		page:         palloc.NoPage,
		wake:         make(chan struct{}, 1),
	}
}

func (t *Thread) TID() TID {
	return t.tid
}

func (t *Thread) Name() string {
	return t.name
}

func (t *Thread) Status() Status {
	return t.status
}

// Priority devuelve la prioridad efectiva
func (t *Thread) Priority() int {
	return t.priority
}

func (t *Thread) BasePriority() int {
	return t.basePriority
}

func (t *Thread) Nice() int {
	return t.nice
}

// WaitingOn devuelve el lock por el que está bloqueado, o nil
func (t *Thread) WaitingOn() *Lock {
	return t.waitingOn
}

// Donors devuelve los TIDs de los donantes en orden de prioridad
func (t *Thread) Donors() []TID {
	tids := make([]TID, len(t.donors))
	for i, d := range t.donors {
		tids[i] = d.tid
	}
	return tids
}

func (t *Thread) AddressSpace() AddressSpace {
	return t.space
}

// SetAddressSpace asocia un espacio de direcciones al thread
func (t *Thread) SetAddressSpace(as AddressSpace) {
	t.space = as
}

func (t *Thread) String() string {
	return fmt.Sprintf("Thread{TID: %d, Nombre: %s, Estado: %s, Prioridad: %d}",
		t.tid, t.name, t.status, t.priority)
}

// addDonor registra d como donante si no lo estaba
func (t *Thread) addDonor(d *Thread) {
	for _, x := range t.donors {
		if x == d {
			return
		}
	}
	t.donors = append(t.donors, d)
}

// removeDonorsFor saca a los donantes que esperaban el lock l
func (t *Thread) removeDonorsFor(l *Lock) {
	kept := t.donors[:0]
	for _, d := range t.donors {
		if d.waitingOn != l {
			kept = append(kept, d)
		}
	}
	clear(t.donors[len(kept):])
	t.donors = kept
}
