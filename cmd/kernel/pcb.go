package main

import (
	"fmt"

	"github.com/sisoputnfrba/gokernel/threads"
	"github.com/sisoputnfrba/gokernel/utils"
	"github.com/sisoputnfrba/gokernel/vm"
)

const (
	EstadoNew  = "NEW"
	EstadoExec = "EXEC"
	EstadoExit = "EXIT"
)

// PCB es un proceso de usuario: un thread del kernel con su espacio de
// direcciones
type PCB struct {
	PID    int
	Nombre string
	Estado string
	Padre  int

	tid     threads.TID
	espacio *vm.AddressSpace
}

var proximoPID = 1

// NuevoPCB crea el proceso en NEW. Si espacio es nil el proceso arma uno
// vacío al empezar a ejecutar.
func NuevoPCB(nombre string, padre int, espacio *vm.AddressSpace) *PCB {
	pcb := &PCB{
		PID:     proximoPID,
		Nombre:  nombre,
		Estado:  EstadoNew,
		Padre:   padre,
		espacio: espacio,
	}
	proximoPID++

	utils.InfoLog.Info(fmt.Sprintf("(%d) - Se crea el proceso - Estado: %s", pcb.PID, pcb.Estado))
	return pcb
}

func (pcb *PCB) CambiarEstado(nuevoEstado string) {
	if pcb.Estado == nuevoEstado {
		return
	}
	utils.InfoLog.Info(fmt.Sprintf("(%d) Pasa del estado %s al estado %s", pcb.PID, pcb.Estado, nuevoEstado))
	pcb.Estado = nuevoEstado
}

// Lanzar crea el thread del proceso. cuerpo corre con el espacio de
// direcciones ya instalado; al volver, el thread termina y el espacio se
// destruye.
func (pcb *PCB) Lanzar(k *kernel, prioridad int, cuerpo func(pcb *PCB) error, hecho *threads.Semaphore) error {
	tid, err := k.sched.Create(pcb.Nombre, prioridad, func() {
		if pcb.espacio == nil {
			pcb.espacio = k.vm.NewAddressSpace()
		}
		k.sched.Current().SetAddressSpace(pcb.espacio)
		pcb.CambiarEstado(EstadoExec)

		if err := cuerpo(pcb); err != nil {
			reporte.registrarEvento("(%d) %s terminó con error: %v", pcb.PID, pcb.Nombre, err)
		}
		pcb.CambiarEstado(EstadoExit)
		hecho.Up()
	})
	if err != nil {
		utils.ErrorLog.Error("No se pudo crear el thread del proceso", "pid", pcb.PID, "error", err)
		return err
	}
	pcb.tid = tid
	return nil
}
