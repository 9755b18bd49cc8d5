package codec

import "github.com/decentralis-net/decentralis-core/internal/errs"

// matrix is a row-major dense matrix over GF(2^8), used both to build the
// systematic Vandermonde generator and to invert a subset of its rows
// when reconstructing from an arbitrary surviving-shard set.
type matrix [][]byte

func newMatrix(rows, cols int) matrix {
	m := make(matrix, rows)
	for i := range m {
		m[i] = make([]byte, cols)
	}
	return m
}

// vandermondeGenerator builds a (k+m) x k systematic generator matrix:
// a (k+m) x k Vandermonde matrix over the distinct points 0..k+m-1,
// multiplied by the inverse of its own top k x k block. The top k rows
// become the identity (so the first k output shards are the untouched
// data shards), and any choice of k rows stays invertible.
func vandermondeGenerator(k, m int) matrix {
	v := newMatrix(k+m, k)
	for r := range v {
		p := byte(1)
		for j := 0; j < k; j++ {
			v[r][j] = p
			p = gfMul(p, byte(r))
		}
	}
	topInv, _ := v[:k].invert()
	g := newMatrix(k+m, k)
	for r := range g {
		for c := 0; c < k; c++ {
			for j := 0; j < k; j++ {
				g[r][c] ^= gfMul(v[r][j], topInv[j][c])
			}
		}
	}
	return g
}

// subMatrix returns the rows at the given indices as a new matrix.
func (m matrix) subMatrix(rows []int) matrix {
	out := make(matrix, len(rows))
	for i, r := range rows {
		out[i] = m[r]
	}
	return out
}

// invert computes the inverse of a square matrix over GF(2^8) via
// Gauss-Jordan elimination with an identity augmentation, failing if the
// matrix is singular (which should not happen for a Vandermonde
// submatrix chosen from distinct rows).
func (m matrix) invert() (matrix, error) {
	n := len(m)
	aug := newMatrix(n, 2*n)
	for i := 0; i < n; i++ {
		copy(aug[i][:n], m[i])
		aug[i][n+i] = 1
	}

	for col := 0; col < n; col++ {
		pivotRow := -1
		for r := col; r < n; r++ {
			if aug[r][col] != 0 {
				pivotRow = r
				break
			}
		}
		if pivotRow == -1 {
			return nil, errs.New(errs.InsufficientChunks, "codec.matrix.invert", "singular matrix: cannot reconstruct from the chosen shard set")
		}
		aug[col], aug[pivotRow] = aug[pivotRow], aug[col]

		inv := gfInv(aug[col][col])
		for c := 0; c < 2*n; c++ {
			aug[col][c] = gfMul(aug[col][c], inv)
		}

		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			factor := aug[r][col]
			if factor == 0 {
				continue
			}
			for c := 0; c < 2*n; c++ {
				aug[r][c] = gfAdd(aug[r][c], gfMul(factor, aug[col][c]))
			}
		}
	}

	out := newMatrix(n, n)
	for i := 0; i < n; i++ {
		copy(out[i], aug[i][n:])
	}
	return out, nil
}
