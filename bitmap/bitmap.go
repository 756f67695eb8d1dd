// Package bitmap implementa un arreglo de bits de tamaño fijo con busqueda
// first-fit. Lo usan los pools de paginas y la tabla de slots de swap.
package bitmap

import "math/bits"

// Error lo devuelve Scan cuando no encuentra un tramo libre.
const Error = ^uint(0)

// Bitmap guarda un bit por elemento. Bit en 1 = en uso.
type Bitmap struct {
	n     uint
	words []uint64
}

// New crea un bitmap de n bits, todos en 0.
func New(n uint) *Bitmap {
	return &Bitmap{
		n:     n,
		words: make([]uint64, (n+63)/64),
	}
}

// Size devuelve la cantidad de bits.
func (b *Bitmap) Size() uint {
	return b.n
}

// Test indica si el bit i esta en 1.
func (b *Bitmap) Test(i uint) bool {
	if i >= b.n {
		panic("bitmap: index out of range")
	}
	return (b.words[i/64]>>(i%64))&1 == 1
}

// Set pone el bit i en v.
func (b *Bitmap) Set(i uint, v bool) {
	if i >= b.n {
		panic("bitmap: index out of range")
	}
	if v {
		b.words[i/64] |= 1 << (i % 64)
	} else {
		b.words[i/64] &^= 1 << (i % 64)
	}
}

// SetRange pone los bits [start, start+cnt) en v.
func (b *Bitmap) SetRange(start, cnt uint, v bool) {
	for i := start; i < start+cnt; i++ {
		b.Set(i, v)
	}
}

// Count devuelve la cantidad de bits en 1.
func (b *Bitmap) Count() uint {
	var c int
	for _, w := range b.words {
		c += bits.OnesCount64(w)
	}
	return uint(c)
}

// contains indica si algun bit de [start, start+cnt) vale v.
func (b *Bitmap) contains(start, cnt uint, v bool) bool {
	for i := start; i < start+cnt; i++ {
		if b.Test(i) == v {
			return true
		}
	}
	return false
}

// Scan busca el primer tramo de cnt bits consecutivos con valor v a partir de
// start. Devuelve el indice o Error.
func (b *Bitmap) Scan(start, cnt uint, v bool) uint {
	if cnt == 0 || cnt > b.n {
		return Error
	}
	for i := start; i+cnt <= b.n; i++ {
		if !v && cnt == 1 && i%64 == 0 && b.words[i/64] == ^uint64(0) && i+64 <= b.n {
			// Palabra completa ocupada
			i += 63
			continue
		}
		if !b.contains(i, cnt, !v) {
			return i
		}
	}
	return Error
}

// ScanAndFlip busca como Scan y marca el tramo con !v.
func (b *Bitmap) ScanAndFlip(start, cnt uint, v bool) uint {
	idx := b.Scan(start, cnt, v)
	if idx != Error {
		b.SetRange(idx, cnt, !v)
	}
	return idx
}
