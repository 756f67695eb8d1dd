package vm

import (
	"fmt"
	"sort"

	"github.com/sisoputnfrba/gokernel/mmu"
)

// SupplementalPageTable guarda, por página virtual, de dónde sale su
// contenido. Es exclusiva de un espacio de direcciones.
type SupplementalPageTable struct {
	space *AddressSpace
	pages map[uint64]*Page
}

func newSupplementalPageTable(as *AddressSpace) *SupplementalPageTable {
	return &SupplementalPageTable{space: as, pages: make(map[uint64]*Page)}
}

// Find devuelve la página que contiene va, o nil
func (spt *SupplementalPageTable) Find(va uint64) *Page {
	return spt.pages[mmu.PageRoundDown(va)]
}

// Insert agrega p. Si ya hay una página en esa dirección falla y deja la
// existente intacta.
func (spt *SupplementalPageTable) Insert(p *Page) error {
	if _, ok := spt.pages[p.VA]; ok {
		return fmt.Errorf("%w: %#x", ErrPageExists, p.VA)
	}
	spt.pages[p.VA] = p
	return nil
}

// Remove saca p, libera lo que use y devuelve su marco al pool
func (spt *SupplementalPageTable) Remove(p *Page) {
	if spt.pages[p.VA] != p {
		return
	}
	delete(spt.pages, p.VA)
	p.ops.destroy(p)
	if f := p.frame; f != nil {
		p.unmap()
		spt.space.vm.freeFrame(f)
	}
}

func (spt *SupplementalPageTable) Len() int {
	return len(spt.pages)
}

// Pages devuelve las páginas ordenadas por dirección
func (spt *SupplementalPageTable) Pages() []*Page {
	pages := make([]*Page, 0, len(spt.pages))
	for _, p := range spt.pages {
		pages = append(pages, p)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].VA < pages[j].VA })
	return pages
}
