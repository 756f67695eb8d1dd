package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sisoputnfrba/gokernel/threads"
	"github.com/sisoputnfrba/gokernel/utils"
	"github.com/sisoputnfrba/gokernel/vm"
)

// Reporte es lo que el kernel deja visible para la consola. Lo escriben los
// threads del kernel simulado y lo leen los handlers HTTP.
type Reporte struct {
	mu sync.RWMutex

	escenario string
	eventos   []string
	terminado bool

	threads []threads.ThreadInfo
	ticks   threads.Stats
	loadAvg int

	marcos        []vm.FrameInfo
	memoria       vm.Stats
	libresUsuario int
	swapUsados    int
	swapTotal     int
	volcado       string
}

func (r *Reporte) iniciar(escenario string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escenario = escenario
	r.eventos = nil
	r.terminado = false
}

func (r *Reporte) registrarEvento(formato string, args ...interface{}) {
	ev := fmt.Sprintf(formato, args...)
	utils.InfoLog.Info("## " + ev)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.eventos = append(r.eventos, ev)
}

func (r *Reporte) Eventos() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.eventos...)
}

// capturarScheduler guarda una foto del planificador. Debe llamarse desde un
// thread del kernel.
func (r *Reporte) capturarScheduler(k *kernel) {
	infos := k.sched.Snapshot()
	stats := k.sched.Stats()
	load := k.sched.LoadAvg()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads = infos
	r.ticks = stats
	r.loadAvg = load
}

// capturarMemoria guarda la tabla de marcos y el uso de swap
func (r *Reporte) capturarMemoria(k *kernel) {
	marcos := k.vm.Frames()
	stats := k.vm.Stats()
	libres := k.vm.FreeUserPages()
	usados, total := k.vm.SwapSlots()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.marcos = marcos
	r.memoria = stats
	r.libresUsuario = libres
	r.swapUsados = usados
	r.swapTotal = total
}

func (r *Reporte) finalizar() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminado = true
}

// volcarSwap escribe los slots de swap en uso a un archivo con timestamp en
// DUMP_PATH y devuelve su ruta
func (r *Reporte) volcarSwap(k *kernel) (string, error) {
	timestamp := time.Now().Format("20060102-150405")
	nombreArchivo := fmt.Sprintf("swap-%s.dmp", timestamp)
	rutaCompleta := filepath.Join(k.config.DumpPath, nombreArchivo)

	if err := os.MkdirAll(k.config.DumpPath, 0755); err != nil {
		utils.ErrorLog.Error("Error creando directorio dump", "error", err)
		return "", fmt.Errorf("error al crear directorio para dumps: %w", err)
	}

	dumpFile, err := os.Create(rutaCompleta)
	if err != nil {
		utils.ErrorLog.Error("Error creando archivo dump", "archivo", rutaCompleta, "error", err)
		return "", fmt.Errorf("error al crear archivo de dump: %w", err)
	}
	defer dumpFile.Close()

	if err := k.vm.DumpSwap(dumpFile); err != nil {
		utils.ErrorLog.Error("Error escribiendo dump", "archivo", rutaCompleta, "error", err)
		return "", err
	}

	r.mu.Lock()
	r.volcado = rutaCompleta
	r.mu.Unlock()

	utils.InfoLog.Info("Volcado de swap generado", "archivo", rutaCompleta)
	return rutaCompleta, nil
}
