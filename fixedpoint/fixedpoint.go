// Package fixedpoint implementa los numeros de punto fijo 17.14 que usa el
// planificador MLFQS para load_avg y recent_cpu.
package fixedpoint

// F es el factor de escala, 2^14.
const F = 1 << 14

// Real es un valor en punto fijo 17.14.
type Real int32

// FromInt convierte n a punto fijo.
func FromInt(n int) Real {
	return Real(n * F)
}

// Trunc convierte x a entero truncando hacia cero.
func (x Real) Trunc() int {
	return int(x) / F
}

// Round convierte x al entero mas cercano.
func (x Real) Round() int {
	if x >= 0 {
		return (int(x) + F/2) / F
	}
	return (int(x) - F/2) / F
}

func (x Real) Add(y Real) Real {
	return x + y
}

func (x Real) Sub(y Real) Real {
	return x - y
}

func (x Real) AddInt(n int) Real {
	return x + Real(n*F)
}

func (x Real) SubInt(n int) Real {
	return x - Real(n*F)
}

// Mul multiplica dos valores en punto fijo. Se ensancha a 64 bits antes de
// reescalar.
func (x Real) Mul(y Real) Real {
	return Real(int64(x) * int64(y) / F)
}

func (x Real) MulInt(n int) Real {
	return x * Real(n)
}

// Div divide dos valores en punto fijo, ensanchando a 64 bits.
func (x Real) Div(y Real) Real {
	return Real(int64(x) * F / int64(y))
}

func (x Real) DivInt(n int) Real {
	return x / Real(n)
}
