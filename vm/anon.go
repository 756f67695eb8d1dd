package vm

import (
	"fmt"

	"github.com/sisoputnfrba/gokernel/utils"
)

// anonPage es una página sin archivo de respaldo. Cuando se desaloja su
// contenido va a un slot de swap.
type anonPage struct {
	slot int
}

func newAnonPage() *anonPage {
	return &anonPage{slot: NoSlot}
}

func (a *anonPage) kind() Kind {
	return KindAnon
}

func zeroPage(_ *Page, buf []byte) error {
	clear(buf)
	return nil
}

// swapIn trae el contenido desde swap y libera el slot
func (a *anonPage) swapIn(p *Page, buf []byte) error {
	if a.slot == NoSlot {
		return fmt.Errorf("%w: %#x", ErrNotSwapped, p.VA)
	}
	v := p.space.vm
	if err := v.swap.load(a.slot, buf, true); err != nil {
		return err
	}
	utils.InfoLog.Debug("Página traída de swap", "va", fmt.Sprintf("%#x", p.VA), "slot", a.slot)
	a.slot = NoSlot
	v.stats.SwapIns++
	return nil
}

// swapOut escribe el marco en un slot libre y desmapea la página
func (a *anonPage) swapOut(p *Page) error {
	v := p.space.vm
	slot, err := v.swap.store(p.bytes())
	if err != nil {
		return err
	}
	a.slot = slot
	p.unmap()
	v.stats.SwapOuts++
	utils.InfoLog.Debug("Página enviada a swap", "va", fmt.Sprintf("%#x", p.VA), "slot", slot)
	return nil
}

func (a *anonPage) destroy(p *Page) {
	if a.slot != NoSlot {
		p.space.vm.swap.release(a.slot)
		a.slot = NoSlot
	}
}

// Slot devuelve el slot de swap de una página anónima desalojada
func (p *Page) Slot() int {
	if a, ok := p.ops.(*anonPage); ok {
		return a.slot
	}
	return NoSlot
}
