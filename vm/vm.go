// Package vm implementa la memoria virtual del kernel: tabla de páginas
// suplementaria por proceso, tabla de marcos con reemplazo por reloj, swap
// para páginas anónimas, archivos mapeados en memoria y crecimiento de pila.
package vm

import (
	"errors"

	"github.com/sisoputnfrba/gokernel/devices"
	"github.com/sisoputnfrba/gokernel/palloc"
	"github.com/sisoputnfrba/gokernel/threads"
	"github.com/sisoputnfrba/gokernel/utils"
)

// Distribución del espacio de direcciones de usuario
const (
	PGSIZE    = palloc.PGSIZE
	UserStack = uint64(0x47480000)
	KernBase  = uint64(0x8004000000)
	MaxStack  = uint64(1 << 20)
)

const sectorsPerPage = PGSIZE / devices.SectorSize

var (
	ErrNoFrame        = errors.New("vm: no hay marcos disponibles")
	ErrSwapFull       = errors.New("vm: swap lleno")
	ErrUnhandledFault = errors.New("vm: fallo de página no resuelto")
	ErrInvalidAddress = errors.New("vm: dirección inválida")
	ErrWriteProtected = errors.New("vm: escritura sobre página de solo lectura")
	ErrShortRead      = errors.New("vm: lectura incompleta del archivo")
	ErrNotSwapped     = errors.New("vm: la página no está en swap")
	ErrPageExists     = errors.New("vm: la página ya existe")
	ErrBadMapping     = errors.New("vm: mapeo inválido")
)

// Config son los recursos de memoria del kernel. SwapDisk puede ser nil: en
// ese caso ninguna página anónima puede desalojarse.
type Config struct {
	UserPages int
	SwapDisk  devices.Disk
}

// Stats cuenta los eventos de memoria virtual
type Stats struct {
	Faults       int `json:"fallos"`
	Evictions    int `json:"desalojos"`
	SwapIns      int `json:"swap_ins"`
	SwapOuts     int `json:"swap_outs"`
	Writebacks   int `json:"escrituras_archivo"`
	StackGrowths int `json:"crecimientos_pila"`
}

// VM es el estado global de memoria: el pool de usuario, la tabla de marcos
// y el área de swap. Se comparte entre todos los espacios de direcciones.
type VM struct {
	sched *threads.Scheduler
	pool  *palloc.Pool
	swap  *swapTable

	frames    []*Frame
	hand      int
	frameLock *threads.Lock

	nextSpace int
	stats     Stats
}

// New inicializa la memoria virtual. Debe llamarse desde un thread del kernel.
func New(sched *threads.Scheduler, cfg Config) *VM {
	v := &VM{
		sched:     sched,
		pool:      palloc.NewPool("usuario", cfg.UserPages),
		swap:      newSwapTable(sched, cfg.SwapDisk),
		frameLock: threads.NewLock(sched),
		nextSpace: 1,
	}
	utils.InfoLog.Info("Memoria virtual inicializada",
		"paginas_usuario", cfg.UserPages,
		"slots_swap", v.swap.size())
	return v
}

func (v *VM) Stats() Stats {
	return v.stats
}

// FreeUserPages devuelve cuántas páginas de usuario no tienen marco
func (v *VM) FreeUserPages() int {
	return v.pool.Free()
}

// SwapSlots devuelve los slots usados y el total
func (v *VM) SwapSlots() (used, total int) {
	return v.swap.used(), v.swap.size()
}
