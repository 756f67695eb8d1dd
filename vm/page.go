package vm

import "fmt"

// Kind es el tipo de respaldo de una página
type Kind int

const (
	KindUninit Kind = iota
	KindAnon
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindUninit:
		return "uninit"
	case KindAnon:
		return "anon"
	case KindFile:
		return "file"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Marker etiqueta páginas con usos especiales
type Marker uint8

const (
	MarkerStack Marker = 1 << iota
)

// Initializer completa el contenido de una página la primera vez que se
// materializa. buf es el marco recién obtenido.
type Initializer func(p *Page, buf []byte) error

// operations es el comportamiento propio de cada tipo de página
type operations interface {
	kind() Kind
	swapIn(p *Page, buf []byte) error
	swapOut(p *Page) error
	destroy(p *Page)
}

// Page es una entrada de la tabla de páginas suplementaria. Está residente
// sii tiene marco, y eso vale sii la tabla de páginas la tiene presente.
type Page struct {
	VA       uint64
	Writable bool
	Markers  Marker

	space *AddressSpace
	frame *Frame
	ops   operations
}

// Kind devuelve el tipo actual; una página sin inicializar reporta uninit
func (p *Page) Kind() Kind {
	return p.ops.kind()
}

// TargetKind devuelve el tipo que tendrá la página al materializarse
func (p *Page) TargetKind() Kind {
	if u, ok := p.ops.(*uninitPage); ok {
		return u.target.kind()
	}
	return p.ops.kind()
}

func (p *Page) Resident() bool {
	return p.frame != nil
}

func (p *Page) Frame() *Frame {
	return p.frame
}

func (p *Page) IsStack() bool {
	return p.Markers&MarkerStack != 0
}

// bytes devuelve el contenido del marco de una página residente
func (p *Page) bytes() []byte {
	return p.space.vm.pool.Bytes(p.frame.kva)
}

// unmap corta el vínculo con el marco y quita el mapeo del hardware
func (p *Page) unmap() {
	p.space.pt.ClearPage(p.VA)
	if p.frame != nil {
		p.frame.page = nil
		p.frame = nil
	}
}

func (p *Page) String() string {
	return fmt.Sprintf("Page{VA: %#x, Tipo: %s, Escritura: %t, Residente: %t}",
		p.VA, p.Kind(), p.Writable, p.Resident())
}

// uninitPage es una página declarada que todavía no tiene contenido. En el
// primer swap-in se convierte en target y corre el inicializador.
type uninitPage struct {
	target operations
	init   Initializer
}

func (u *uninitPage) kind() Kind {
	return KindUninit
}

// Si la carga falla la página sigue sin inicializar
func (u *uninitPage) swapIn(p *Page, buf []byte) error {
	var err error
	if u.init != nil {
		err = u.init(p, buf)
	} else {
		err = u.target.swapIn(p, buf)
	}
	if err != nil {
		return err
	}
	p.ops = u.target
	return nil
}

// Una página sin materializar nunca tiene marco
func (u *uninitPage) swapOut(p *Page) error {
	return fmt.Errorf("%w: página %#x sin inicializar", ErrNotSwapped, p.VA)
}

func (u *uninitPage) destroy(p *Page) {
	u.target.destroy(p)
}
