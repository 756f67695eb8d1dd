package main

import (
	"bytes"
	"fmt"

	"github.com/sisoputnfrba/gokernel/filesys"
	"github.com/sisoputnfrba/gokernel/threads"
	"github.com/sisoputnfrba/gokernel/utils"
	"github.com/sisoputnfrba/gokernel/vm"
)

// Un escenario corre en el thread inicial del kernel y vuelve cuando todos
// los threads que creó terminaron
type escenario func(k *kernel) error

var escenarios = map[string]escenario{
	"donacion": escenarioDonacion,
	"alarma":   escenarioAlarma,
	"mlfqs":    escenarioMLFQS,
	"memoria":  escenarioMemoria,
}

func correrEscenario(k *kernel, nombre string) error {
	esc, ok := escenarios[nombre]
	if !ok {
		return fmt.Errorf("escenario desconocido %q", nombre)
	}
	reporte.iniciar(nombre)
	utils.InfoLog.Info("Iniciando escenario", "escenario", nombre)

	err := esc(k)

	reporte.capturarScheduler(k)
	reporte.capturarMemoria(k)
	reporte.finalizar()
	utils.InfoLog.Info("Escenario finalizado", "escenario", nombre, "ticks", k.sched.Ticks())
	return err
}

// escenarioDonacion arma una donación anidada: main tiene a, medio tiene b y
// espera a, alto espera b
func escenarioDonacion(k *kernel) error {
	s := k.sched
	a, b := threads.NewLock(s), threads.NewLock(s)
	hecho := threads.NewSemaphore(s, 0)

	a.Acquire()
	_, err := s.Create("medio", threads.PriDefault+1, func() {
		b.Acquire()
		a.Acquire()
		reporte.registrarEvento("medio obtuvo a con prioridad %d", s.Priority())
		a.Release()
		b.Release()
		reporte.registrarEvento("medio terminó con prioridad %d", s.Priority())
		hecho.Up()
	})
	if err != nil {
		a.Release()
		return err
	}
	_, err = s.Create("alto", threads.PriDefault+2, func() {
		b.Acquire()
		reporte.registrarEvento("alto obtuvo b")
		b.Release()
		hecho.Up()
	})
	if err != nil {
		a.Release()
		hecho.Down()
		return err
	}

	reporte.registrarEvento("main tiene prioridad %d por donación", s.Priority())
	a.Release()

	hecho.Down()
	hecho.Down()
	reporte.registrarEvento("main volvió a prioridad %d", s.Priority())
	return nil
}

// escenarioAlarma duerme threads por distinta cantidad de ticks y registra
// el orden en que despiertan
func escenarioAlarma(k *kernel) error {
	s := k.sched
	hecho := threads.NewSemaphore(s, 0)
	esperas := []int64{30, 10, 20}

	for i, ticks := range esperas {
		ticks := ticks
		_, err := s.Create(fmt.Sprintf("dormilon-%d", i), threads.PriDefault, func() {
			s.Sleep(ticks)
			reporte.registrarEvento("%s despertó en el tick %d", s.Current().Name(), s.Ticks())
			hecho.Up()
		})
		if err != nil {
			return err
		}
	}
	for range esperas {
		hecho.Down()
	}
	return nil
}

const ticksMLFQS = 300

// escenarioMLFQS pone a trabajar threads con distinto nice
func escenarioMLFQS(k *kernel) error {
	s := k.sched
	if !s.MLFQS() {
		return fmt.Errorf("el escenario mlfqs requiere MLFQS habilitado")
	}
	hecho := threads.NewSemaphore(s, 0)
	nices := []int{0, 5, 10}

	for _, nice := range nices {
		nice := nice
		_, err := s.Create(fmt.Sprintf("nice-%d", nice), threads.PriDefault, func() {
			s.SetNice(nice)
			s.Work(ticksMLFQS)
			reporte.registrarEvento("%s terminó en el tick %d: recent_cpu=%d prioridad=%d",
				s.Current().Name(), s.Ticks(), s.RecentCPU(), s.Priority())
			hecho.Up()
		})
		if err != nil {
			return err
		}
	}
	for range nices {
		hecho.Down()
	}
	reporte.registrarEvento("load_avg=%d", s.LoadAvg())
	return nil
}

// Distribución de los procesos de prueba
const (
	baseCodigo = uint64(0x400000)
	baseHeap   = uint64(0x10000000)
	baseMmap   = uint64(0x20000000)
)

func prepararArchivos(fs *filesys.FileSys) error {
	programa := make([]byte, vm.PGSIZE+vm.PGSIZE/2)
	for i := range programa {
		programa[i] = byte(i % 251)
	}
	archivos := map[string][]byte{
		"programa": programa,
		"datos":    bytes.Repeat([]byte("datos mapeados "), 500),
	}
	for nombre, contenido := range archivos {
		if err := fs.Create(nombre, 0); err != nil {
			return err
		}
		f, err := fs.Open(nombre)
		if err != nil {
			return err
		}
		f.WriteAt(contenido, 0)
		f.Close()
	}
	return nil
}

// escenarioMemoria corre un proceso con más heap que memoria de usuario, un
// archivo mapeado y pila que crece, y lo forkea
func escenarioMemoria(k *kernel) error {
	if err := prepararArchivos(k.fs); err != nil {
		return err
	}
	hecho := threads.NewSemaphore(k.sched, 0)
	paginasHeap := k.config.UserPages + 2

	padre := NuevoPCB("proceso", 0, nil)
	if err := padre.Lanzar(k, threads.PriDefault, cuerpoPadre(k, paginasHeap), hecho); err != nil {
		return err
	}
	hecho.Down()
	return nil
}

func heapVA(i int) uint64 {
	return baseHeap + uint64(i)*vm.PGSIZE
}

func contenidoHeap(pid, i int) string {
	return fmt.Sprintf("heap %d del proceso %d", i, pid)
}

func verificarHeap(as *vm.AddressSpace, pid, paginas int) error {
	for i := 0; i < paginas; i++ {
		esperado := contenidoHeap(pid, i)
		buf := make([]byte, len(esperado))
		if err := as.ReadUser(heapVA(i), buf); err != nil {
			return err
		}
		if string(buf) != esperado {
			return fmt.Errorf("página %#x: %q, esperado %q", heapVA(i), buf, esperado)
		}
	}
	return nil
}

func cuerpoPadre(k *kernel, paginasHeap int) func(*PCB) error {
	return func(pcb *PCB) error {
		as := pcb.espacio

		exe, err := k.fs.Open("programa")
		if err != nil {
			return err
		}
		defer exe.Close()
		exe.DenyWrite()
		largo := exe.Length()
		paginas := (largo + vm.PGSIZE - 1) / vm.PGSIZE
		if err := as.LoadSegment(exe, 0, baseCodigo, largo, paginas*vm.PGSIZE-largo, false); err != nil {
			return err
		}
		// el código se lee entero antes de que se cierre el ejecutable
		codigo := make([]byte, largo)
		if err := as.ReadUser(baseCodigo, codigo); err != nil {
			return err
		}

		rsp, err := as.SetupStack()
		if err != nil {
			return err
		}
		arg := []byte(pcb.Nombre + "\x00")
		rsp -= uint64(len(arg))
		if err := as.WriteUser(rsp, arg); err != nil {
			return err
		}
		as.SetUserRSP(rsp)

		for i := 0; i < paginasHeap; i++ {
			if err := as.AllocPage(heapVA(i), true, nil); err != nil {
				return err
			}
			if err := as.WriteUser(heapVA(i), []byte(contenidoHeap(pcb.PID, i))); err != nil {
				return err
			}
		}
		reporte.registrarEvento("(%d) heap de %d páginas escrito, %d desalojos", pcb.PID, paginasHeap, k.vm.Stats().Evictions)

		datos, err := k.fs.Open("datos")
		if err != nil {
			return err
		}
		defer datos.Close()
		if _, err := as.Mmap(baseMmap, datos.Length(), true, datos, 0); err != nil {
			return err
		}
		if err := as.WriteUser(baseMmap, []byte("MODIFICADO")); err != nil {
			return err
		}

		// una variable local grande baja la pila varias páginas
		profundo := rsp - 3*vm.PGSIZE
		as.SetUserRSP(profundo)
		if err := as.WriteUser(profundo, []byte{0xAA}); err != nil {
			return err
		}
		reporte.registrarEvento("(%d) pila extendida hasta %#x", pcb.PID, as.StackBottom())

		espacioHijo, err := as.Fork()
		if err != nil {
			return err
		}
		hijoHecho := threads.NewSemaphore(k.sched, 0)
		hijo := NuevoPCB(pcb.Nombre+"-hijo", pcb.PID, espacioHijo)
		if err := hijo.Lanzar(k, threads.PriDefault, cuerpoHijo(paginasHeap), hijoHecho); err != nil {
			espacioHijo.Destroy()
			return err
		}

		if err := verificarHeap(as, pcb.PID, paginasHeap); err != nil {
			return err
		}
		reporte.capturarMemoria(k)
		if _, err := reporte.volcarSwap(k); err != nil {
			return err
		}

		if err := as.Munmap(baseMmap); err != nil {
			return err
		}
		buf := make([]byte, len("MODIFICADO"))
		datos.ReadAt(buf, 0)
		reporte.registrarEvento("(%d) munmap escribió %q al archivo", pcb.PID, buf)

		hijoHecho.Down()
		reporte.registrarEvento("(%d) el hijo %d terminó", pcb.PID, hijo.PID)
		return nil
	}
}

func cuerpoHijo(paginasHeap int) func(*PCB) error {
	return func(pcb *PCB) error {
		as := pcb.espacio
		if err := verificarHeap(as, pcb.Padre, paginasHeap); err != nil {
			return err
		}
		codigo := make([]byte, 1)
		if err := as.ReadUser(baseCodigo+1000, codigo); err != nil {
			return err
		}
		if codigo[0] != byte(1000%251) {
			return fmt.Errorf("código leído %#x, esperado %#x", codigo[0], 1000%251)
		}
		reporte.registrarEvento("(%d) hijo verificó heap y código heredados", pcb.PID)
		return nil
	}
}
