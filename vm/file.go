package vm

import (
	"fmt"

	"github.com/sisoputnfrba/gokernel/filesys"
	"github.com/sisoputnfrba/gokernel/utils"
)

// segment describe qué parte de un archivo respalda una página
type segment struct {
	file      *filesys.File
	offset    int
	readBytes int
	zeroBytes int
}

// load lee el segmento en buf y completa con ceros
func (s segment) load(buf []byte) error {
	s.file.Seek(s.offset)
	if n := s.file.Read(buf[:s.readBytes]); n != s.readBytes {
		return fmt.Errorf("%w: %d de %d bytes en offset %d", ErrShortRead, n, s.readBytes, s.offset)
	}
	clear(buf[s.readBytes:])
	return nil
}

// mapping es una región creada por Mmap. Todas sus páginas comparten la
// reapertura del archivo.
type mapping struct {
	addr  uint64
	pages int
	file  *filesys.File
}

// filePage es una página de un archivo mapeado. El archivo es su respaldo,
// no usa swap.
type filePage struct {
	segment
	mapping *mapping
}

func (f *filePage) kind() Kind {
	return KindFile
}

func (f *filePage) swapIn(p *Page, buf []byte) error {
	return f.load(buf)
}

// swapOut escribe la página al archivo solo si fue modificada
func (f *filePage) swapOut(p *Page) error {
	f.writeBack(p)
	p.unmap()
	return nil
}

// destroy guarda los cambios de una página residente
func (f *filePage) destroy(p *Page) {
	if p.frame != nil {
		f.writeBack(p)
	}
}

func (f *filePage) writeBack(p *Page) {
	pt := p.space.pt
	if !pt.IsDirty(p.VA) {
		return
	}
	n := f.file.WriteAt(p.bytes()[:f.readBytes], f.offset)
	if n != f.readBytes {
		utils.ErrorLog.Error("Escritura incompleta al archivo mapeado",
			"va", fmt.Sprintf("%#x", p.VA), "escritos", n, "esperados", f.readBytes)
	}
	pt.SetDirty(p.VA, false)
	p.space.vm.stats.Writebacks++
	utils.InfoLog.Debug("Página escrita al archivo", "va", fmt.Sprintf("%#x", p.VA), "offset", f.offset, "bytes", n)
}

// mappingOf devuelve el mapeo al que pertenece p, materializada o no
func mappingOf(p *Page) *mapping {
	switch ops := p.ops.(type) {
	case *filePage:
		return ops.mapping
	case *uninitPage:
		if fp, ok := ops.target.(*filePage); ok {
			return fp.mapping
		}
	}
	return nil
}

// Mmap mapea length bytes de file desde offset en addr. Las páginas se
// cargan recién al primer acceso. Devuelve addr.
func (as *AddressSpace) Mmap(addr uint64, length int, writable bool, file *filesys.File, offset int) (uint64, error) {
	if err := as.checkMapping(addr, length, file, offset); err != nil {
		utils.InfoLog.Warn("Mmap rechazado", "espacio", as.id, "addr", fmt.Sprintf("%#x", addr), "error", err)
		return 0, err
	}

	reopened, err := file.Reopen()
	if err != nil {
		return 0, fmt.Errorf("mmap: %w", err)
	}
	if fl := reopened.Length(); length > fl-offset {
		length = fl - offset
	}

	m := &mapping{addr: addr, file: reopened}
	va := addr
	for remaining := length; remaining > 0; remaining -= PGSIZE {
		readBytes := min(remaining, PGSIZE)
		fp := &filePage{
			segment: segment{
				file:      reopened,
				offset:    offset,
				readBytes: readBytes,
				zeroBytes: PGSIZE - readBytes,
			},
			mapping: m,
		}
		if err := as.allocPage(va, writable, fp, nil); err != nil {
			as.unmapPages(m)
			reopened.Close()
			utils.ErrorLog.Error("Mmap abortado", "espacio", as.id, "va", fmt.Sprintf("%#x", va), "error", err)
			return 0, fmt.Errorf("mmap en %#x: %w", va, err)
		}
		m.pages++
		va += PGSIZE
		offset += PGSIZE
	}

	as.mmaps[addr] = m
	utils.InfoLog.Info("Archivo mapeado", "espacio", as.id, "addr", fmt.Sprintf("%#x", addr), "inode", reopened.Inode().Number(), "paginas", m.pages, "bytes", length)
	return addr, nil
}

func (as *AddressSpace) checkMapping(addr uint64, length int, file *filesys.File, offset int) error {
	switch {
	case file == nil:
		return fmt.Errorf("%w: sin archivo", ErrBadMapping)
	case addr == 0 || addr%PGSIZE != 0:
		return fmt.Errorf("%w: dirección %#x", ErrBadMapping, addr)
	case length <= 0:
		return fmt.Errorf("%w: longitud %d", ErrBadMapping, length)
	case offset < 0 || offset%PGSIZE != 0:
		return fmt.Errorf("%w: offset %d", ErrBadMapping, offset)
	case file.Length() <= offset:
		return fmt.Errorf("%w: archivo de %d bytes", ErrBadMapping, file.Length())
	}
	pages := (min(length, file.Length()-offset) + PGSIZE - 1) / PGSIZE
	end := addr + uint64(pages)*PGSIZE
	if end > KernBase || end < addr {
		return fmt.Errorf("%w: rango %#x-%#x fuera de usuario", ErrBadMapping, addr, end)
	}
	for va := addr; va < end; va += PGSIZE {
		if as.spt.Find(va) != nil {
			return fmt.Errorf("%w: %#x ocupada", ErrPageExists, va)
		}
	}
	return nil
}

// Munmap deshace el mapeo que empieza en addr. Las páginas modificadas se
// escriben al archivo.
func (as *AddressSpace) Munmap(addr uint64) error {
	m, ok := as.mmaps[addr]
	if !ok {
		return fmt.Errorf("%w: no hay mapeo en %#x", ErrBadMapping, addr)
	}
	as.unmapPages(m)
	delete(as.mmaps, addr)
	m.file.Close()
	utils.InfoLog.Info("Mapeo eliminado", "espacio", as.id, "addr", fmt.Sprintf("%#x", addr))
	return nil
}

// unmapPages recorre página por página desde el inicio del mapeo hasta el
// primer hueco o página ajena
func (as *AddressSpace) unmapPages(m *mapping) {
	for va := m.addr; ; va += PGSIZE {
		p := as.spt.Find(va)
		if p == nil || mappingOf(p) != m {
			return
		}
		as.spt.Remove(p)
	}
}
