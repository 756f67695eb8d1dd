package vm

import (
	"fmt"

	"github.com/sisoputnfrba/gokernel/utils"
)

// Fork crea un espacio nuevo con una copia completa de éste
func (as *AddressSpace) Fork() (*AddressSpace, error) {
	child := as.vm.NewAddressSpace()
	if err := child.spt.Copy(as.spt); err != nil {
		child.Destroy()
		utils.ErrorLog.Error("Fork de memoria fallido", "espacio", as.id, "error", err)
		return nil, err
	}
	child.stackBottom = as.stackBottom
	child.userRSP = as.userRSP
	utils.InfoLog.Debug("Espacio de direcciones copiado", "padre", as.id, "hijo", child.id, "paginas", child.spt.Len())
	return child, nil
}

// Copy copia todas las entradas de src en spt, con su contenido. Las
// residentes se copian marco a marco, las que están en swap a un slot nuevo
// y las de archivo usan una reapertura propia por mapeo.
func (spt *SupplementalPageTable) Copy(src *SupplementalPageTable) error {
	c := &copier{dst: spt.space, mappings: make(map[*mapping]*mapping)}
	for _, p := range src.Pages() {
		if err := c.copyPage(p); err != nil {
			return fmt.Errorf("copia de %#x: %w", p.VA, err)
		}
	}
	return nil
}

type copier struct {
	dst      *AddressSpace
	mappings map[*mapping]*mapping
}

func (c *copier) copyPage(p *Page) error {
	switch ops := p.ops.(type) {
	case *uninitPage:
		target, err := c.cloneTarget(ops.target)
		if err != nil {
			return err
		}
		return c.dst.allocPage(p.VA, p.Writable, target, ops.init, p.Markers)

	case *anonPage:
		child := newAnonPage()
		if p.frame == nil && ops.slot != NoSlot {
			slot, err := c.dst.vm.swap.duplicate(ops.slot)
			if err != nil {
				return err
			}
			child.slot = slot
		}
		return c.insertCopy(p, child, false)

	case *filePage:
		target, err := c.cloneTarget(ops)
		if err != nil {
			return err
		}
		return c.insertCopy(p, target, p.space.pt.IsDirty(p.VA))
	}
	return fmt.Errorf("tipo de página desconocido %T", p.ops)
}

// insertCopy registra la copia y, si el original está residente, la
// materializa con su contenido. El marco del original queda fijado mientras
// tanto para que no lo elija el reloj.
func (c *copier) insertCopy(p *Page, ops operations, dirty bool) error {
	cp := &Page{VA: p.VA, Writable: p.Writable, Markers: p.Markers, space: c.dst, ops: ops}
	if err := c.dst.spt.Insert(cp); err != nil {
		return err
	}
	if p.frame == nil {
		return nil
	}

	p.frame.pinned = true
	defer func() { p.frame.pinned = false }()

	err := c.dst.claimWith(cp, func(_ *Page, buf []byte) error {
		copy(buf, p.bytes())
		return nil
	})
	if err != nil {
		c.dst.spt.Remove(cp)
		return err
	}
	if dirty {
		c.dst.pt.SetDirty(cp.VA, true)
	}
	return nil
}

func (c *copier) cloneTarget(ops operations) (operations, error) {
	fp, ok := ops.(*filePage)
	if !ok {
		return newAnonPage(), nil
	}
	m, err := c.cloneMapping(fp.mapping)
	if err != nil {
		return nil, err
	}
	clone := *fp
	clone.file = m.file
	clone.mapping = m
	return &clone, nil
}

// cloneMapping reabre el archivo una vez por mapeo del padre
func (c *copier) cloneMapping(m *mapping) (*mapping, error) {
	if cm, ok := c.mappings[m]; ok {
		return cm, nil
	}
	file, err := m.file.Reopen()
	if err != nil {
		return nil, err
	}
	cm := &mapping{addr: m.addr, pages: m.pages, file: file}
	c.mappings[m] = cm
	c.dst.mmaps[cm.addr] = cm
	return cm, nil
}
