package vm

import (
	"fmt"

	"github.com/sisoputnfrba/gokernel/filesys"
	"github.com/sisoputnfrba/gokernel/mmu"
	"github.com/sisoputnfrba/gokernel/utils"
)

// AddressSpace es la memoria de usuario de un proceso: su tabla
// suplementaria, su tabla de páginas y sus mapeos de archivos.
type AddressSpace struct {
	id  int
	vm  *VM
	spt *SupplementalPageTable
	pt  *mmu.PageTable

	stackBottom uint64
	userRSP     uint64
	mmaps       map[uint64]*mapping
}

// NewAddressSpace crea un espacio vacío con la pila sin páginas
func (v *VM) NewAddressSpace() *AddressSpace {
	as := &AddressSpace{
		id:          v.nextSpace,
		vm:          v,
		pt:          mmu.NewPageTable(),
		stackBottom: UserStack,
		userRSP:     UserStack,
		mmaps:       make(map[uint64]*mapping),
	}
	as.spt = newSupplementalPageTable(as)
	v.nextSpace++
	return as
}

func (as *AddressSpace) ID() int {
	return as.id
}

func (as *AddressSpace) SPT() *SupplementalPageTable {
	return as.spt
}

func (as *AddressSpace) PageTable() *mmu.PageTable {
	return as.pt
}

// StackBottom devuelve la dirección más baja de la pila ya reservada
func (as *AddressSpace) StackBottom() uint64 {
	return as.stackBottom
}

// SetUserRSP guarda el puntero de pila de usuario. Se usa para decidir el
// crecimiento de pila en fallos ocurridos dentro del kernel.
func (as *AddressSpace) SetUserRSP(rsp uint64) {
	as.userRSP = rsp
}

// Mappings devuelve la cantidad de archivos mapeados
func (as *AddressSpace) Mappings() int {
	return len(as.mmaps)
}

func isUserAddr(va uint64) bool {
	return va != 0 && va < KernBase
}

// AllocPage declara una página anónima en va. El contenido se crea al primer
// acceso con init, o en cero si init es nil.
func (as *AddressSpace) AllocPage(va uint64, writable bool, init Initializer) error {
	return as.allocPage(va, writable, newAnonPage(), init)
}

func (as *AddressSpace) allocPage(va uint64, writable bool, target operations, init Initializer, markers ...Marker) error {
	if !isUserAddr(va) || mmu.PageOffset(va) != 0 {
		return fmt.Errorf("%w: %#x", ErrInvalidAddress, va)
	}
	if init == nil && target.kind() == KindAnon {
		init = zeroPage
	}
	p := &Page{
		VA:       va,
		Writable: writable,
		space:    as,
		ops:      &uninitPage{target: target, init: init},
	}
	for _, m := range markers {
		p.Markers |= m
	}
	return as.spt.Insert(p)
}

// ClaimPage materializa ya la página que contiene va
func (as *AddressSpace) ClaimPage(va uint64) error {
	p := as.spt.Find(va)
	if p == nil {
		return fmt.Errorf("%w: %#x sin página", ErrUnhandledFault, va)
	}
	return as.claim(p)
}

func (as *AddressSpace) claim(p *Page) error {
	return as.claimWith(p, p.ops.swapIn)
}

// claimWith consigue un marco, lo llena con fill y recién entonces instala
// el mapeo
func (as *AddressSpace) claimWith(p *Page, fill Initializer) error {
	if p.frame != nil {
		return nil
	}
	v := as.vm
	f, err := v.getFrame()
	if err != nil {
		return err
	}
	f.page = p
	p.frame = f

	if err := fill(p, v.pool.Bytes(f.kva)); err != nil {
		p.frame = nil
		v.freeFrame(f)
		utils.InfoLog.Warn("No se pudo cargar la página", "espacio", as.id, "va", fmt.Sprintf("%#x", p.VA), "error", err)
		return err
	}
	if err := as.pt.SetPage(p.VA, f.kva, p.Writable); err != nil {
		p.frame = nil
		v.freeFrame(f)
		return err
	}
	f.pinned = false
	return nil
}

// Fault describe un fallo de página
type Fault struct {
	Addr       uint64
	User       bool
	Write      bool
	NotPresent bool
	// RSP es el puntero de pila al momento del fallo si ocurrió en modo
	// usuario
	RSP uint64
}

// TryHandleFault resuelve un fallo de página. Un error significa que el
// proceso accedió a memoria inválida y debe terminar.
func (as *AddressSpace) TryHandleFault(f Fault) error {
	as.vm.stats.Faults++
	if !isUserAddr(f.Addr) {
		return fmt.Errorf("%w: %#x", ErrInvalidAddress, f.Addr)
	}
	if !f.NotPresent {
		return as.handleWriteProtect(f)
	}

	rsp := as.userRSP
	if f.User {
		rsp = f.RSP
	}

	p := as.spt.Find(f.Addr)
	if p == nil {
		if as.isStackAccess(f.Addr, rsp) {
			return as.growStack()
		}
		return fmt.Errorf("%w: %#x", ErrUnhandledFault, f.Addr)
	}
	if f.Write && !p.Writable {
		return fmt.Errorf("%w: %#x", ErrWriteProtected, f.Addr)
	}
	return as.claim(p)
}

// handleWriteProtect atiende una escritura sobre una página presente. Solo
// se permite si la página es escribible; en ese caso se reinstala el mapeo.
func (as *AddressSpace) handleWriteProtect(f Fault) error {
	p := as.spt.Find(f.Addr)
	if p == nil || p.frame == nil || !f.Write || !p.Writable {
		return fmt.Errorf("%w: %#x", ErrWriteProtected, f.Addr)
	}
	accessed := as.pt.IsAccessed(p.VA)
	dirty := as.pt.IsDirty(p.VA)
	if err := as.pt.SetPage(p.VA, p.frame.kva, true); err != nil {
		return err
	}
	as.pt.SetAccessed(p.VA, accessed)
	as.pt.SetDirty(p.VA, dirty)
	return nil
}

func (as *AddressSpace) isStackAccess(addr, rsp uint64) bool {
	return addr < UserStack && addr >= UserStack-MaxStack && addr+8 >= rsp
}

// growStack agrega una página debajo de la pila actual
func (as *AddressSpace) growStack() error {
	va := as.stackBottom - PGSIZE
	if va < UserStack-MaxStack {
		return fmt.Errorf("%w: pila llena en %#x", ErrUnhandledFault, va)
	}
	if err := as.allocPage(va, true, newAnonPage(), nil, MarkerStack); err != nil {
		return err
	}
	p := as.spt.Find(va)
	if err := as.claim(p); err != nil {
		as.spt.Remove(p)
		return err
	}
	as.stackBottom = va
	as.vm.stats.StackGrowths++
	utils.InfoLog.Debug("Pila extendida", "espacio", as.id, "fondo", fmt.Sprintf("%#x", va))
	return nil
}

// SetupStack reserva la primera página de pila y devuelve el rsp inicial
func (as *AddressSpace) SetupStack() (uint64, error) {
	if as.stackBottom != UserStack {
		return 0, fmt.Errorf("%w: la pila ya existe", ErrPageExists)
	}
	as.userRSP = UserStack
	if err := as.growStack(); err != nil {
		return 0, err
	}
	return UserStack, nil
}

// LoadSegment declara las páginas de un segmento de ejecutable: readBytes
// bytes de file desde offset y zeroBytes en cero a partir de upage. Cada
// página se lee del archivo en su primer acceso.
func (as *AddressSpace) LoadSegment(file *filesys.File, offset int, upage uint64, readBytes, zeroBytes int, writable bool) error {
	if (readBytes+zeroBytes)%PGSIZE != 0 || mmu.PageOffset(upage) != 0 || offset%PGSIZE != 0 {
		return fmt.Errorf("%w: segmento desalineado", ErrInvalidAddress)
	}
	for readBytes > 0 || zeroBytes > 0 {
		pageRead := min(readBytes, PGSIZE)
		seg := segment{file: file, offset: offset, readBytes: pageRead, zeroBytes: PGSIZE - pageRead}
		init := func(_ *Page, buf []byte) error { return seg.load(buf) }
		if err := as.allocPage(upage, writable, newAnonPage(), init); err != nil {
			return err
		}
		readBytes -= pageRead
		zeroBytes -= PGSIZE - pageRead
		upage += PGSIZE
		offset += pageRead
	}
	return nil
}

// maxFaultRetries alcanza para hacer crecer la pila entera de a una página
const maxFaultRetries = int(MaxStack/PGSIZE) + 1

// ReadUser copia a buf la memoria de usuario desde va, resolviendo los
// fallos como lo haría la CPU
func (as *AddressSpace) ReadUser(va uint64, buf []byte) error {
	return as.access(va, len(buf), false, func(mem []byte, done int) {
		copy(buf[done:], mem)
	})
}

// WriteUser copia data a la memoria de usuario desde va
func (as *AddressSpace) WriteUser(va uint64, data []byte) error {
	return as.access(va, len(data), true, func(mem []byte, done int) {
		copy(mem, data[done:])
	})
}

func (as *AddressSpace) access(va uint64, n int, write bool, fn func(mem []byte, done int)) error {
	for done := 0; done < n; {
		cur := va + uint64(done)
		if err := as.touch(cur, write); err != nil {
			return err
		}
		kva, _ := as.pt.Lookup(cur)
		off := int(mmu.PageOffset(cur))
		chunk := min(n-done, PGSIZE-off)
		fn(as.vm.pool.Bytes(kva)[off:off+chunk], done)
		done += chunk
	}
	return nil
}

// touch simula el acceso del hardware a va hasta que no falle
func (as *AddressSpace) touch(va uint64, write bool) error {
	for i := 0; !as.pt.Touch(va, write); i++ {
		if i >= maxFaultRetries {
			return fmt.Errorf("%w: %#x", ErrUnhandledFault, va)
		}
		err := as.TryHandleFault(Fault{
			Addr:       va,
			User:       true,
			Write:      write,
			NotPresent: !as.pt.IsPresent(va),
			RSP:        as.userRSP,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Destroy libera toda la memoria del proceso. Los mapeos escriben al archivo
// sus páginas modificadas antes de cerrarse.
func (as *AddressSpace) Destroy() {
	for addr, m := range as.mmaps {
		as.unmapPages(m)
		m.file.Close()
		delete(as.mmaps, addr)
	}
	for _, p := range as.spt.Pages() {
		as.spt.Remove(p)
	}
	as.pt.Destroy()
	utils.InfoLog.Debug("Espacio de direcciones destruido", "espacio", as.id)
}
