// Package mmu simula la tabla de páginas de hardware de un proceso: traduce
// páginas virtuales a marcos y lleva los bits de acceso y modificación.
package mmu

import (
	"fmt"

	"github.com/sisoputnfrba/gokernel/palloc"
)

// PGSIZE es el tamaño de página
const PGSIZE = palloc.PGSIZE

// PageRoundDown alinea va al comienzo de su página
func PageRoundDown(va uint64) uint64 {
	return va &^ (PGSIZE - 1)
}

// PageOffset devuelve el desplazamiento dentro de la página
func PageOffset(va uint64) uint64 {
	return va & (PGSIZE - 1)
}

type pte struct {
	kva      palloc.KVA
	writable bool
	accessed bool
	dirty    bool
}

// PageTable mapea páginas virtuales de usuario a marcos de memoria
type PageTable struct {
	entries map[uint64]*pte
}

func NewPageTable() *PageTable {
	return &PageTable{entries: make(map[uint64]*pte)}
}

// SetPage instala el mapeo de la página de upage al marco kva. Los bits de
// acceso y modificación arrancan limpios.
func (pt *PageTable) SetPage(upage uint64, kva palloc.KVA, writable bool) error {
	if PageOffset(upage) != 0 {
		return fmt.Errorf("mmu: dirección %#x no alineada", upage)
	}
	if kva == palloc.NoPage {
		return fmt.Errorf("mmu: marco inválido para %#x", upage)
	}
	pt.entries[upage] = &pte{kva: kva, writable: writable}
	return nil
}

// ClearPage marca la página como no presente. El próximo acceso falla.
func (pt *PageTable) ClearPage(upage uint64) {
	delete(pt.entries, PageRoundDown(upage))
}

// Lookup traduce va al marco que la contiene
func (pt *PageTable) Lookup(va uint64) (palloc.KVA, bool) {
	e, ok := pt.entries[PageRoundDown(va)]
	if !ok {
		return palloc.NoPage, false
	}
	return e.kva, true
}

func (pt *PageTable) IsPresent(va uint64) bool {
	_, ok := pt.entries[PageRoundDown(va)]
	return ok
}

func (pt *PageTable) IsWritable(va uint64) bool {
	e, ok := pt.entries[PageRoundDown(va)]
	return ok && e.writable
}

func (pt *PageTable) IsDirty(va uint64) bool {
	e, ok := pt.entries[PageRoundDown(va)]
	return ok && e.dirty
}

func (pt *PageTable) SetDirty(va uint64, dirty bool) {
	if e, ok := pt.entries[PageRoundDown(va)]; ok {
		e.dirty = dirty
	}
}

func (pt *PageTable) IsAccessed(va uint64) bool {
	e, ok := pt.entries[PageRoundDown(va)]
	return ok && e.accessed
}

func (pt *PageTable) SetAccessed(va uint64, accessed bool) {
	if e, ok := pt.entries[PageRoundDown(va)]; ok {
		e.accessed = accessed
	}
}

// Touch hace lo que el hardware en cada acceso: prende el bit de acceso y,
// si es una escritura, el de modificación. Devuelve false si el acceso
// fallaría (página ausente o escritura sobre una página de solo lectura).
func (pt *PageTable) Touch(va uint64, write bool) bool {
	e, ok := pt.entries[PageRoundDown(va)]
	if !ok || (write && !e.writable) {
		return false
	}
	e.accessed = true
	if write {
		e.dirty = true
	}
	return true
}

// Len devuelve cuántas páginas están presentes
func (pt *PageTable) Len() int {
	return len(pt.entries)
}

// Destroy quita todos los mapeos
func (pt *PageTable) Destroy() {
	clear(pt.entries)
}
