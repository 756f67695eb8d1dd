package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sisoputnfrba/gokernel/utils"
)

// ConsolaConfig define a qué kernel se conecta la consola
type ConsolaConfig struct {
	IPKernel   string `json:"IP_KERNEL"`
	PortKernel int    `json:"PUERTO_KERNEL"`
	LogLevel   string `json:"LOG_LEVEL"`
	Reintentos int    `json:"REINTENTOS"`
}

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Uso: ./consola <ruta_configuracion> <comando> [argumento]")
		fmt.Println("Comandos: handshake, scheduler, memoria, marcos [espacio], volcado [bytes]")
		fmt.Println("Ejemplo: ./consola configs/consola.json marcos 1")
		os.Exit(1)
	}
	rutaConfig := os.Args[1]
	comando := os.Args[2]

	if _, err := os.Stat(rutaConfig); os.IsNotExist(err) {
		fmt.Printf("Error: El archivo de configuración '%s' no existe\n", rutaConfig)
		os.Exit(1)
	}

	utils.InicializarLogger("INFO", "consola")
	config, err := utils.CargarConfiguracion[ConsolaConfig](rutaConfig)
	if err != nil {
		os.Exit(1)
	}
	utils.InicializarLogger(config.LogLevel, "consola")

	argumento := -1
	if len(os.Args) >= 4 {
		argumento, err = strconv.Atoi(os.Args[3])
		if err != nil {
			fmt.Printf("Error: el argumento debe ser un entero: %q\n", os.Args[3])
			os.Exit(1)
		}
	}

	kernelClient := utils.NewHTTPClient(config.IPKernel, config.PortKernel, "Consola")
	if err := conectarConReintentos(kernelClient, max(config.Reintentos, 1)); err != nil {
		utils.ErrorLog.Error("No se pudo conectar con el Kernel", "error", err)
		os.Exit(1)
	}

	if err := ejecutarComando(kernelClient, os.Stdout, comando, argumento); err != nil {
		utils.ErrorLog.Error("Error ejecutando comando", "comando", comando, "error", err)
		os.Exit(1)
	}
}
