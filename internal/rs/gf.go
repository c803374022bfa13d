package rs

// GF(2^8) arithmetic over the primitive polynomial
// 0x11D = x^8 + x^4 + x^3 + x^2 + 1, generator α = 2.

const fieldPoly = 0x11D

var (
	gfExp [512]byte // doubled so products index without a mod
	gfLog [256]byte
)

func init() {
	x := 1
	for i := 0; i < 255; i++ {
		gfExp[i] = byte(x)
		gfLog[x] = byte(i)
		x <<= 1
		if x&0x100 != 0 {
			x ^= fieldPoly
		}
	}
	for i := 255; i < 512; i++ {
		gfExp[i] = gfExp[i-255]
	}
}

func gfMul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return gfExp[int(gfLog[a])+int(gfLog[b])]
}

func gfDiv(a, b byte) byte {
	if a == 0 {
		return 0
	}
	return gfExp[int(gfLog[a])+255-int(gfLog[b])]
}

func gfInverse(a byte) byte {
	return gfExp[255-int(gfLog[a])]
}

func gfPow(a byte, n int) byte {
	if a == 0 {
		return 0
	}
	e := (int(gfLog[a]) * n) % 255
	if e < 0 {
		e += 255
	}
	return gfExp[e]
}

// Polynomials are stored with the highest-degree coefficient first.

func polyScale(p []byte, x byte) []byte {
	out := make([]byte, len(p))
	for i, c := range p {
		out[i] = gfMul(c, x)
	}
	return out
}

func polyAdd(p, q []byte) []byte {
	n := len(p)
	if len(q) > n {
		n = len(q)
	}
	out := make([]byte, n)
	copy(out[n-len(p):], p)
	for i, c := range q {
		out[i+n-len(q)] ^= c
	}
	return out
}

func polyMul(p, q []byte) []byte {
	out := make([]byte, len(p)+len(q)-1)
	for i, a := range p {
		if a == 0 {
			continue
		}
		for j, b := range q {
			out[i+j] ^= gfMul(a, b)
		}
	}
	return out
}

// polyDivRem returns the remainder of p divided by q (synthetic division,
// q monic in its leading coefficient).
func polyDivRem(p, q []byte) []byte {
	out := make([]byte, len(p))
	copy(out, p)
	for i := 0; i < len(p)-(len(q)-1); i++ {
		coef := out[i]
		if coef == 0 {
			continue
		}
		for j := 1; j < len(q); j++ {
			if q[j] != 0 {
				out[i+j] ^= gfMul(q[j], coef)
			}
		}
	}
	return out[len(p)-(len(q)-1):]
}

// polyEval evaluates p at x via Horner's scheme.
func polyEval(p []byte, x byte) byte {
	y := p[0]
	for i := 1; i < len(p); i++ {
		y = gfMul(y, x) ^ p[i]
	}
	return y
}
