package main

import (
	"fmt"

	"github.com/sisoputnfrba/gokernel/devices"
	"github.com/sisoputnfrba/gokernel/filesys"
	"github.com/sisoputnfrba/gokernel/threads"
	"github.com/sisoputnfrba/gokernel/utils"
	"github.com/sisoputnfrba/gokernel/vm"
)

// KernelConfig define la configuración del kernel simulado
type KernelConfig struct {
	IPKernel     string `json:"IP_KERNEL"`
	PortKernel   int    `json:"PUERTO_KERNEL"`
	LogLevel     string `json:"LOG_LEVEL"`
	MLFQS        bool   `json:"MLFQS"`
	TimeSlice    int    `json:"TIME_SLICE"`
	TimerFreq    int    `json:"TIMER_FREQ"`
	KernelPages  int    `json:"KERNEL_PAGES"`
	UserPages    int    `json:"USER_PAGES"`
	SwapSectors  int    `json:"SWAP_SECTORS"`
	SwapfilePath string `json:"SWAPFILE_PATH"`
	DumpPath     string `json:"DUMP_PATH"`
	Escenario    string `json:"ESCENARIO"`
}

var (
	kernelModulo *utils.Modulo
	kernelConfig *KernelConfig
	reporte      = &Reporte{}
)

// kernel agrupa los subsistemas arrancados. Solo se usa desde threads del
// kernel simulado.
type kernel struct {
	config *KernelConfig
	sched  *threads.Scheduler
	vm     *vm.VM
	fs     *filesys.FileSys
	swap   *devices.FileDisk
}

func validarConfig(cfg *KernelConfig) error {
	switch {
	case cfg.UserPages <= 0:
		return fmt.Errorf("USER_PAGES debe ser positivo: %d", cfg.UserPages)
	case cfg.SwapSectors < 0:
		return fmt.Errorf("SWAP_SECTORS no puede ser negativo: %d", cfg.SwapSectors)
	case cfg.SwapSectors > 0 && cfg.SwapfilePath == "":
		return fmt.Errorf("SWAPFILE_PATH es obligatorio con swap")
	}
	if _, ok := escenarios[cfg.Escenario]; !ok {
		return fmt.Errorf("escenario desconocido %q", cfg.Escenario)
	}
	return nil
}

// inicializarKernel arranca el planificador sobre el goroutine que llama, el
// disco de swap y la memoria virtual
func inicializarKernel(cfg *KernelConfig) (*kernel, error) {
	if err := validarConfig(cfg); err != nil {
		utils.ErrorLog.Error("Configuración inválida", "error", err)
		return nil, err
	}

	k := &kernel{config: cfg, fs: filesys.New()}
	k.sched = threads.Boot(threads.Config{
		MLFQS:       cfg.MLFQS,
		TimeSlice:   cfg.TimeSlice,
		TimerFreq:   cfg.TimerFreq,
		KernelPages: cfg.KernelPages,
	})

	vmCfg := vm.Config{UserPages: cfg.UserPages}
	if cfg.SwapSectors > 0 {
		disk, err := devices.OpenFileDisk(cfg.SwapfilePath, cfg.SwapSectors)
		if err != nil {
			utils.ErrorLog.Error("No se pudo abrir el archivo de swap", "ruta", cfg.SwapfilePath, "error", err)
			return nil, err
		}
		k.swap = disk
		vmCfg.SwapDisk = disk
	}
	k.vm = vm.New(k.sched, vmCfg)

	utils.InfoLog.Info("Kernel inicializado",
		"mlfqs", cfg.MLFQS,
		"paginas_usuario", cfg.UserPages,
		"sectores_swap", cfg.SwapSectors,
		"escenario", cfg.Escenario)
	return k, nil
}

func (k *kernel) apagar() {
	if k.swap == nil {
		return
	}
	if err := k.swap.Close(); err != nil {
		utils.ErrorLog.Error("Error cerrando el swap", "error", err)
	}
}

// registrarHandlers registra los mensajes que atiende el kernel
func registrarHandlers(m *utils.Modulo) {
	m.RegistrarHandler(utils.MensajeHandshake, "default", HandlerHandshake)
	m.RegistrarHandler(utils.MensajeEstadoScheduler, "default", HandlerEstadoScheduler)
	m.RegistrarHandler(utils.MensajeEstadoMemoria, "default", HandlerEstadoMemoria)
	m.RegistrarHandler(utils.MensajeEstadoMemoria, "marcos", HandlerMarcos)
	m.RegistrarHandler(utils.MensajeVolcadoSwap, "default", HandlerVolcadoSwap)

	utils.InfoLog.Info("Handlers registrados correctamente")
}

func iniciarServidor(cfg *KernelConfig) (*utils.HTTPServer, <-chan error, error) {
	kernelModulo = utils.NuevoModulo("Kernel")
	registrarHandlers(kernelModulo)
	errCh, err := kernelModulo.IniciarServidor(cfg.IPKernel, cfg.PortKernel)
	if err != nil {
		return nil, nil, err
	}
	return kernelModulo.Server, errCh, nil
}
