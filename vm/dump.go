package vm

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sisoputnfrba/gokernel/utils"
)

// DumpMagic encabeza los volcados de swap
const DumpMagic = "SWAP"

// DumpHeader es el encabezado de un volcado de swap. Le siguen, por cada
// slot en uso, su índice como uint32 y la página completa.
type DumpHeader struct {
	Magic    [4]byte
	PageSize uint32
	Slots    uint32
	Used     uint32
}

// DumpSwap escribe en w los slots de swap en uso, en little endian
func (v *VM) DumpSwap(w io.Writer) error {
	st := v.swap
	st.lock.Acquire()
	defer st.lock.Release()

	hdr := DumpHeader{
		PageSize: PGSIZE,
		Slots:    uint32(st.size()),
		Used:     uint32(st.used()),
	}
	copy(hdr.Magic[:], DumpMagic)
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("error al escribir el encabezado del volcado: %w", err)
	}

	buf := make([]byte, PGSIZE)
	for slot := 0; slot < st.size(); slot++ {
		if !st.slots.Test(uint(slot)) {
			continue
		}
		if err := st.readRaw(slot, buf); err != nil {
			utils.ErrorLog.Error("Error leyendo slot para el volcado", "slot", slot, "error", err)
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(slot)); err != nil {
			return err
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	utils.InfoLog.Info("Volcado de swap completado", "slots_usados", hdr.Used)
	return nil
}

// ReadDump lee un volcado y devuelve el contenido por slot
func ReadDump(r io.Reader) (DumpHeader, map[int][]byte, error) {
	var hdr DumpHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return hdr, nil, fmt.Errorf("error al leer el encabezado del volcado: %w", err)
	}
	if string(hdr.Magic[:]) != DumpMagic {
		return hdr, nil, fmt.Errorf("volcado inválido: magic %q", hdr.Magic[:])
	}
	if hdr.PageSize != PGSIZE {
		return hdr, nil, fmt.Errorf("volcado inválido: páginas de %d bytes", hdr.PageSize)
	}
	if hdr.Used > hdr.Slots {
		return hdr, nil, fmt.Errorf("volcado inválido: %d slots usados de %d", hdr.Used, hdr.Slots)
	}
	pages := make(map[int][]byte)
	for i := uint32(0); i < hdr.Used; i++ {
		var slot uint32
		if err := binary.Read(r, binary.LittleEndian, &slot); err != nil {
			return hdr, nil, err
		}
		if slot >= hdr.Slots {
			return hdr, nil, fmt.Errorf("volcado inválido: slot %d de %d", slot, hdr.Slots)
		}
		page := make([]byte, hdr.PageSize)
		if _, err := io.ReadFull(r, page); err != nil {
			return hdr, nil, err
		}
		pages[int(slot)] = page
	}
	return hdr, pages, nil
}
