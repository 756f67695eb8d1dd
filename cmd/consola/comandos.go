package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/sisoputnfrba/gokernel/utils"
)

var esperaReintento = 2 * time.Second

// conectarConReintentos espera a que el kernel responda el healthcheck
func conectarConReintentos(c *utils.HTTPClient, intentos int) error {
	utils.InfoLog.Info("Iniciando conexión", "destino", c.BaseURL)

	var err error
	for i := 1; i <= intentos; i++ {
		if err = c.VerificarConexion(); err == nil {
			utils.InfoLog.Info("Conexión establecida", "destino", c.BaseURL)
			return nil
		}
		if i < intentos {
			utils.InfoLog.Warn("Reintentando conexión",
				"destino", c.BaseURL,
				"intento", i,
				"próximo_en", esperaReintento.String())
			time.Sleep(esperaReintento)
		}
	}
	return fmt.Errorf("no se pudo establecer conexión después de %d intentos: %w", intentos, err)
}

type comando struct {
	tipo      int
	operacion string
	// clave con la que viaja el argumento opcional
	clave string
}

var comandos = map[string]comando{
	"handshake": {tipo: utils.MensajeHandshake, operacion: "handshake"},
	"scheduler": {tipo: utils.MensajeEstadoScheduler},
	"memoria":   {tipo: utils.MensajeEstadoMemoria},
	"marcos":    {tipo: utils.MensajeEstadoMemoria, operacion: "marcos", clave: "espacio"},
	"volcado":   {tipo: utils.MensajeVolcadoSwap, clave: "bytes"},
}

// ejecutarComando envía el mensaje del comando e imprime la respuesta como
// JSON indentado. Un argumento negativo no se envía.
func ejecutarComando(c *utils.HTTPClient, w io.Writer, nombre string, argumento int) error {
	cmd, ok := comandos[nombre]
	if !ok {
		return fmt.Errorf("comando desconocido %q", nombre)
	}

	var datos map[string]int
	if cmd.clave != "" && argumento >= 0 {
		datos = map[string]int{cmd.clave: argumento}
	}

	var respuesta interface{}
	if err := c.EnviarHTTPMensaje(cmd.tipo, cmd.operacion, datos, &respuesta); err != nil {
		return err
	}

	salida, err := json.MarshalIndent(respuesta, "", "  ")
	if err != nil {
		return fmt.Errorf("error al formatear respuesta: %w", err)
	}
	_, err = fmt.Fprintln(w, string(salida))
	return err
}
