package network

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

const (
	clipMax   = 1.5
	orthMax   = 1.5
	orthMin   = 0.5
	regularEp = 1e-4
)

// Clip nudges every weight outside [-1.5, 1.5] back by 1e-4.
func Clip(ps *ParamSet) {
	for _, p := range ps.All() {
		d := p.Value.Data()
		for i, v := range d {
			if v > clipMax {
				d[i] = v - regularEp
			} else if v < -clipMax {
				d[i] = v + regularEp
			}
		}
	}
}

// Orth nudges the singular values of every weight of rank 2 or more toward
// [0.5, 1.5]. A weight is viewed as a matrix with its first axis as rows.
func Orth(ps *ParamSet) error {
	for _, p := range ps.All() {
		if p.Value.Rank() < 2 {
			continue
		}
		if err := orth(p); err != nil {
			return err
		}
	}
	return nil
}

func orth(p *Param) error {
	rows := p.Value.Dim(0)
	cols := p.Value.Len() / rows
	a := mat.NewDense(rows, cols, append([]float64(nil), p.Value.Data()...))

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return fmt.Errorf("network: svd of %q did not converge", p.Name)
	}

	s := svd.Values(nil)
	for i, v := range s {
		if v > orthMax {
			s[i] = v - regularEp
		} else if v < orthMin {
			s[i] = v + regularEp
		}
	}

	var u, v, us, w mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	us.Mul(&u, mat.NewDiagDense(len(s), s))
	w.Mul(&us, v.T())

	data := p.Value.Data()
	for r := 0; r < rows; r++ {
		copy(data[r*cols:(r+1)*cols], w.RawRowView(r))
	}
	return nil
}
