package main

import (
	"fmt"
	"os"

	"github.com/sisoputnfrba/gokernel/threads"
	"github.com/sisoputnfrba/gokernel/utils"
	"github.com/sisoputnfrba/gokernel/vm"
)

func HandlerHandshake(msg *utils.Mensaje) (interface{}, error) {
	utils.InfoLog.Info("Handshake recibido", "origen", msg.Origen)

	reporte.mu.RLock()
	defer reporte.mu.RUnlock()
	return map[string]interface{}{
		"status":    "OK",
		"message":   "Handshake recibido",
		"escenario": reporte.escenario,
		"terminado": reporte.terminado,
	}, nil
}

// HandlerEstadoScheduler devuelve los threads, los ticks y los eventos del
// escenario
func HandlerEstadoScheduler(msg *utils.Mensaje) (interface{}, error) {
	reporte.mu.RLock()
	defer reporte.mu.RUnlock()

	utils.InfoLog.Debug("Estado del scheduler solicitado", "origen", msg.Origen)
	return map[string]interface{}{
		"escenario": reporte.escenario,
		"threads":   append([]threads.ThreadInfo(nil), reporte.threads...),
		"ticks":     reporte.ticks,
		"load_avg":  reporte.loadAvg,
		"eventos":   append([]string(nil), reporte.eventos...),
	}, nil
}

func HandlerEstadoMemoria(msg *utils.Mensaje) (interface{}, error) {
	reporte.mu.RLock()
	defer reporte.mu.RUnlock()

	utils.InfoLog.Debug("Estado de memoria solicitado", "origen", msg.Origen)
	return map[string]interface{}{
		"estadisticas":   reporte.memoria,
		"marcos_libres":  reporte.libresUsuario,
		"marcos_usados":  len(reporte.marcos),
		"swap_usados":    reporte.swapUsados,
		"swap_total":     reporte.swapTotal,
		"ultimo_volcado": reporte.volcado,
	}, nil
}

// HandlerMarcos devuelve la tabla de marcos. Con "espacio" en los datos
// filtra por espacio de direcciones.
func HandlerMarcos(msg *utils.Mensaje) (interface{}, error) {
	espacio := utils.DatoEntero(msg, "espacio", 0)

	reporte.mu.RLock()
	defer reporte.mu.RUnlock()

	marcos := make([]vm.FrameInfo, 0, len(reporte.marcos))
	for _, m := range reporte.marcos {
		if espacio == 0 || m.Space == espacio {
			marcos = append(marcos, m)
		}
	}
	return marcos, nil
}

// HandlerVolcadoSwap lee el último volcado de swap y devuelve qué slots
// tiene y el comienzo de cada página
func HandlerVolcadoSwap(msg *utils.Mensaje) (interface{}, error) {
	reporte.mu.RLock()
	ruta := reporte.volcado
	reporte.mu.RUnlock()

	if ruta == "" {
		return map[string]interface{}{"status": "ERROR", "mensaje": "no hay volcados"}, nil
	}

	f, err := os.Open(ruta)
	if err != nil {
		utils.ErrorLog.Error("No se pudo abrir el volcado", "archivo", ruta, "error", err)
		return nil, fmt.Errorf("error abriendo volcado: %w", err)
	}
	defer f.Close()

	hdr, paginas, err := vm.ReadDump(f)
	if err != nil {
		utils.ErrorLog.Error("Volcado corrupto", "archivo", ruta, "error", err)
		return nil, err
	}

	largo := max(utils.DatoEntero(msg, "bytes", 16), 0)
	slots := make(map[string]string, len(paginas))
	for slot, pagina := range paginas {
		slots[fmt.Sprintf("%d", slot)] = fmt.Sprintf("%q", pagina[:min(largo, len(pagina))])
	}

	utils.InfoLog.Info("Volcado de swap consultado", "origen", msg.Origen, "archivo", ruta, "slots_usados", hdr.Used)
	return map[string]interface{}{
		"status":     "OK",
		"archivo":    ruta,
		"slots":      hdr.Slots,
		"usados":     hdr.Used,
		"tam_pagina": hdr.PageSize,
		"contenido":  slots,
	}, nil
}
