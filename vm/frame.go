package vm

import (
	"fmt"

	"github.com/sisoputnfrba/gokernel/palloc"
	"github.com/sisoputnfrba/gokernel/utils"
)

// Frame es una página física del pool de usuario y la página virtual que la
// ocupa. Un marco fijado no se elige como víctima.
type Frame struct {
	kva    palloc.KVA
	page   *Page
	pinned bool
}

func (f *Frame) KVA() palloc.KVA {
	return f.kva
}

func (f *Frame) Page() *Page {
	return f.page
}

// getFrame devuelve un marco libre y fijado. Si el pool está vacío desaloja
// una víctima elegida por el reloj.
func (v *VM) getFrame() (*Frame, error) {
	v.frameLock.Acquire()
	defer v.frameLock.Release()

	if kva := v.pool.GetPage(0); kva != palloc.NoPage {
		f := &Frame{kva: kva, pinned: true}
		v.frames = append(v.frames, f)
		return f, nil
	}

	victim := v.pickVictim()
	if victim == nil {
		utils.ErrorLog.Error("Sin marcos desalojables", "marcos", len(v.frames))
		return nil, ErrNoFrame
	}
	victim.pinned = true

	if p := victim.page; p != nil {
		utils.InfoLog.Debug("Desalojando página", "va", fmt.Sprintf("%#x", p.VA), "tipo", p.Kind(), "kva", victim.kva)
		if err := p.ops.swapOut(p); err != nil {
			victim.pinned = false
			utils.ErrorLog.Error("No se pudo desalojar la página", "va", fmt.Sprintf("%#x", p.VA), "error", err)
			return nil, fmt.Errorf("desalojo de %#x: %w", p.VA, err)
		}
		v.stats.Evictions++
	}
	return victim, nil
}

// pickVictim recorre los marcos desde la aguja dando una segunda oportunidad
// a los accedidos. Si todos tenían el bit prendido, tras una vuelta completa
// la víctima es el marco donde quedó la aguja.
func (v *VM) pickVictim() *Frame {
	n := len(v.frames)
	if n == 0 {
		return nil
	}
	if v.hand >= n {
		v.hand = 0
	}

	for i := 0; i < n; i++ {
		f := v.frames[v.hand]
		if f.pinned {
			v.advanceHand()
			continue
		}
		if f.page == nil {
			v.advanceHand()
			return f
		}
		pt := f.page.space.pt
		if pt.IsAccessed(f.page.VA) {
			pt.SetAccessed(f.page.VA, false)
			v.advanceHand()
			continue
		}
		v.advanceHand()
		return f
	}

	for i := 0; i < n; i++ {
		f := v.frames[v.hand]
		v.advanceHand()
		if !f.pinned {
			return f
		}
	}
	return nil
}

func (v *VM) advanceHand() {
	v.hand = (v.hand + 1) % len(v.frames)
}

// freeFrame saca el marco de la tabla y devuelve su página al pool
func (v *VM) freeFrame(f *Frame) {
	v.frameLock.Acquire()
	defer v.frameLock.Release()

	for i, x := range v.frames {
		if x != f {
			continue
		}
		v.frames = append(v.frames[:i], v.frames[i+1:]...)
		if i < v.hand {
			v.hand--
		}
		if v.hand >= len(v.frames) {
			v.hand = 0
		}
		break
	}
	f.page = nil
	f.pinned = false
	v.pool.FreePage(f.kva)
}

// FrameInfo describe un marco de la tabla
type FrameInfo struct {
	KVA      int    `json:"marco"`
	Space    int    `json:"espacio"`
	VA       string `json:"va"`
	Kind     string `json:"tipo"`
	Accessed bool   `json:"accedida"`
	Dirty    bool   `json:"modificada"`
	Pinned   bool   `json:"fijado"`
}

// Frames devuelve el contenido de la tabla de marcos en orden de reloj
func (v *VM) Frames() []FrameInfo {
	infos := make([]FrameInfo, 0, len(v.frames))
	for _, f := range v.frames {
		info := FrameInfo{KVA: int(f.kva), Pinned: f.pinned}
		if p := f.page; p != nil {
			info.Space = p.space.id
			info.VA = fmt.Sprintf("%#x", p.VA)
			info.Kind = p.Kind().String()
			info.Accessed = p.space.pt.IsAccessed(p.VA)
			info.Dirty = p.space.pt.IsDirty(p.VA)
		}
		infos = append(infos, info)
	}
	return infos
}

// Hand devuelve la posición de la aguja del reloj
func (v *VM) Hand() int {
	return v.hand
}
