// Package palloc reparte paginas de memoria fisica simulada. El kernel usa dos
// pools: uno para datos del kernel (bloques de control de threads) y otro para
// las paginas de usuario que respaldan los marcos de memoria virtual.
package palloc

import (
	"github.com/sisoputnfrba/gokernel/bitmap"
	"github.com/sisoputnfrba/gokernel/utils"
)

// PGSIZE es el tamaño de pagina en bytes.
const PGSIZE = 4096

// KVA identifica una pagina dentro de un pool. Cumple el rol de la direccion
// virtual de kernel de la pagina fisica.
type KVA int

// NoPage indica que el pool no tiene paginas libres.
const NoPage KVA = -1

// Flags modifican el comportamiento de GetPage.
type Flags uint

const (
	// Zero llena la pagina con ceros.
	Zero Flags = 1 << iota
	// Assert hace panic en lugar de devolver NoPage.
	Assert
)

// Pool es un conjunto fijo de paginas con su mapa de uso.
type Pool struct {
	name   string
	memory []byte
	used   *bitmap.Bitmap
}

// NewPool crea un pool de n paginas.
func NewPool(name string, n int) *Pool {
	utils.InfoLog.Info("Inicializando pool de paginas", "pool", name, "paginas", n, "bytes", n*PGSIZE)
	return &Pool{
		name:   name,
		memory: make([]byte, n*PGSIZE),
		used:   bitmap.New(uint(n)),
	}
}

// GetPage obtiene una pagina libre, o NoPage si el pool esta lleno.
func (p *Pool) GetPage(flags Flags) KVA {
	idx := p.used.ScanAndFlip(0, 1, false)
	if idx == bitmap.Error {
		if flags&Assert != 0 {
			panic("palloc: out of pages in pool " + p.name)
		}
		utils.InfoLog.Debug("Pool sin paginas libres", "pool", p.name)
		return NoPage
	}

	kva := KVA(idx)
	if flags&Zero != 0 {
		clear(p.Bytes(kva))
	}
	return kva
}

// FreePage devuelve kva al pool. Liberar una pagina que no esta en uso es un
// error fatal.
func (p *Pool) FreePage(kva KVA) {
	if !p.owns(kva) || !p.used.Test(uint(kva)) {
		utils.ErrorLog.Error("Liberacion de pagina invalida", "pool", p.name, "kva", kva)
		panic("palloc: freeing page not in use")
	}
	p.used.Set(uint(kva), false)
}

// Bytes devuelve el contenido de kva. El slice apunta a la memoria del pool.
func (p *Pool) Bytes(kva KVA) []byte {
	if !p.owns(kva) {
		panic("palloc: page outside pool")
	}
	off := int(kva) * PGSIZE
	return p.memory[off : off+PGSIZE : off+PGSIZE]
}

// Free devuelve la cantidad de paginas libres.
func (p *Pool) Free() int {
	return int(p.used.Size() - p.used.Count())
}

// Size devuelve la cantidad total de paginas.
func (p *Pool) Size() int {
	return int(p.used.Size())
}

func (p *Pool) owns(kva KVA) bool {
	return kva >= 0 && int(kva) < int(p.used.Size())
}
