package vm

import (
	"fmt"

	"github.com/sisoputnfrba/gokernel/bitmap"
	"github.com/sisoputnfrba/gokernel/devices"
	"github.com/sisoputnfrba/gokernel/threads"
	"github.com/sisoputnfrba/gokernel/utils"
)

// NoSlot indica que una página anónima no tiene contenido en swap
const NoSlot = -1

// swapTable reparte el disco de swap en slots de una página
type swapTable struct {
	disk  devices.Disk
	slots *bitmap.Bitmap
	lock  *threads.Lock
}

func newSwapTable(sched *threads.Scheduler, disk devices.Disk) *swapTable {
	n := 0
	if disk != nil {
		n = disk.Size() / sectorsPerPage
	}
	return &swapTable{
		disk:  disk,
		slots: bitmap.New(uint(n)),
		lock:  threads.NewLock(sched),
	}
}

func (st *swapTable) size() int {
	return int(st.slots.Size())
}

func (st *swapTable) used() int {
	return int(st.slots.Count())
}

func (st *swapTable) inUse(slot int) bool {
	return slot >= 0 && slot < st.size() && st.slots.Test(uint(slot))
}

// store guarda buf en el primer slot libre y devuelve su índice
func (st *swapTable) store(buf []byte) (int, error) {
	st.lock.Acquire()
	defer st.lock.Release()

	idx := st.slots.ScanAndFlip(0, 1, false)
	if idx == bitmap.Error {
		return NoSlot, ErrSwapFull
	}
	slot := int(idx)
	if err := st.writeSlot(slot, buf); err != nil {
		st.slots.Set(idx, false)
		return NoSlot, err
	}
	return slot, nil
}

// load lee el slot en buf. Si release es true el slot queda libre.
func (st *swapTable) load(slot int, buf []byte, release bool) error {
	st.lock.Acquire()
	defer st.lock.Release()

	if !st.inUse(slot) {
		return fmt.Errorf("%w: slot %d", ErrNotSwapped, slot)
	}
	for i := 0; i < sectorsPerPage; i++ {
		sector := buf[i*devices.SectorSize : (i+1)*devices.SectorSize]
		if err := st.disk.Read(slot*sectorsPerPage+i, sector); err != nil {
			utils.ErrorLog.Error("Error leyendo de swap", "slot", slot, "error", err)
			return err
		}
	}
	if release {
		st.slots.Set(uint(slot), false)
	}
	return nil
}

// duplicate copia el contenido de slot a un slot nuevo
func (st *swapTable) duplicate(slot int) (int, error) {
	buf := make([]byte, PGSIZE)
	if err := st.load(slot, buf, false); err != nil {
		return NoSlot, err
	}
	return st.store(buf)
}

func (st *swapTable) release(slot int) {
	st.lock.Acquire()
	defer st.lock.Release()
	if st.inUse(slot) {
		st.slots.Set(uint(slot), false)
	}
}

func (st *swapTable) writeSlot(slot int, buf []byte) error {
	for i := 0; i < sectorsPerPage; i++ {
		sector := buf[i*devices.SectorSize : (i+1)*devices.SectorSize]
		if err := st.disk.Write(slot*sectorsPerPage+i, sector); err != nil {
			utils.ErrorLog.Error("Error escribiendo en swap", "slot", slot, "error", err)
			return err
		}
	}
	return nil
}

// readRaw lee un slot sin validar su uso. Se usa para volcados.
func (st *swapTable) readRaw(slot int, buf []byte) error {
	for i := 0; i < sectorsPerPage; i++ {
		if err := st.disk.Read(slot*sectorsPerPage+i, buf[i*devices.SectorSize:(i+1)*devices.SectorSize]); err != nil {
			return err
		}
	}
	return nil
}
