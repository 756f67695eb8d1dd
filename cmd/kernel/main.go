package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sisoputnfrba/gokernel/utils"
)

func main() {
	utils.InicializarLogger("INFO", "kernel")

	utils.InfoLog.Info("Kernel iniciando", "args", os.Args)

	// Verificar argumentos mínimos
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Uso: %s <archivo_configuracion>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Ejemplo: %s configs/kernel-donacion.json\n", os.Args[0])
		os.Exit(1)
	}
	configPath := os.Args[1]

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		utils.ErrorLog.Error("El archivo de configuración no existe", "archivo", configPath)
		os.Exit(1)
	}

	cfg, err := utils.CargarConfiguracion[KernelConfig](configPath)
	if err != nil {
		os.Exit(1)
	}
	kernelConfig = cfg
	utils.InicializarLogger(cfg.LogLevel, "kernel")

	// El goroutine de main pasa a ser el thread inicial del kernel
	k, err := inicializarKernel(cfg)
	if err != nil {
		utils.ErrorLog.Error("Error durante la inicialización del Kernel", "error", err)
		os.Exit(1)
	}
	defer k.apagar()

	if err := correrEscenario(k, cfg.Escenario); err != nil {
		utils.ErrorLog.Error("El escenario terminó con error", "escenario", cfg.Escenario, "error", err)
	}

	server, errCh, err := iniciarServidor(cfg)
	if err != nil {
		utils.ErrorLog.Error("No se pudo iniciar el servidor", "error", err)
		k.apagar()
		os.Exit(1)
	}
	utils.InfoLog.Info("Kernel listo y esperando consultas", "ip", cfg.IPKernel, "puerto", cfg.PortKernel)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		utils.InfoLog.Info("Señal recibida. Finalizando Kernel")
	case err := <-errCh:
		utils.ErrorLog.Error("El servidor HTTP terminó", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Detener(ctx); err != nil {
		utils.ErrorLog.Error("Error al detener el servidor", "error", err)
	}
	fmt.Println("\nKernel finalizando...")
}
