// Package geom implements the planar projective transforms used to map
// between tile space and source image pixel space.
package geom

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
	"golang.org/x/image/math/f64"
)

var ErrSingular = errors.New("rastertiles: singular transform")

// Matrix is a 3x3 projective transform in row-major order:
//
//	x' = (m[0]x + m[1]y + m[2]) / w
//	y' = (m[3]x + m[4]y + m[5]) / w
//	w  =  m[6]x + m[7]y + m[8]
type Matrix [9]float64

var Identity = Matrix{1, 0, 0, 0, 1, 0, 0, 0, 1}

// Translate returns a matrix translating by (tx, ty).
func Translate(tx, ty float64) Matrix {
	return Matrix{1, 0, tx, 0, 1, ty, 0, 0, 1}
}

// Scale returns a matrix scaling by (sx, sy).
func Scale(sx, sy float64) Matrix {
	return Matrix{sx, 0, 0, 0, sy, 0, 0, 0, 1}
}

func (m Matrix) Apply(p orb.Point) orb.Point {
	w := m[6]*p[0] + m[7]*p[1] + m[8]
	return orb.Point{
		(m[0]*p[0] + m[1]*p[1] + m[2]) / w,
		(m[3]*p[0] + m[4]*p[1] + m[5]) / w,
	}
}

// Mul returns the transform applying n first and then m.
func (m Matrix) Mul(n Matrix) Matrix {
	var r Matrix
	for i := range 3 {
		for j := range 3 {
			r[3*i+j] = m[3*i]*n[j] + m[3*i+1]*n[3+j] + m[3*i+2]*n[6+j]
		}
	}
	return r.normalized()
}

func (m Matrix) Det() float64 {
	return m[0]*(m[4]*m[8]-m[5]*m[7]) -
		m[1]*(m[3]*m[8]-m[5]*m[6]) +
		m[2]*(m[3]*m[7]-m[4]*m[6])
}

func (m Matrix) Invert() (Matrix, error) {
	det := m.Det()
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return Matrix{}, ErrSingular
	}
	inv := Matrix{
		(m[4]*m[8] - m[5]*m[7]) / det,
		(m[2]*m[7] - m[1]*m[8]) / det,
		(m[1]*m[5] - m[2]*m[4]) / det,
		(m[5]*m[6] - m[3]*m[8]) / det,
		(m[0]*m[8] - m[2]*m[6]) / det,
		(m[2]*m[3] - m[0]*m[5]) / det,
		(m[3]*m[7] - m[4]*m[6]) / det,
		(m[1]*m[6] - m[0]*m[7]) / det,
		(m[0]*m[4] - m[1]*m[3]) / det,
	}
	return inv.normalized(), nil
}

func (m Matrix) normalized() Matrix {
	if m[8] == 0 || m[8] == 1 {
		return m
	}
	for i := range m {
		m[i] /= m[8]
	}
	return m
}

// IsAffine reports whether m has no perspective component.
func (m Matrix) IsAffine() bool {
	m = m.normalized()
	return math.Abs(m[6]) < 1e-12 && math.Abs(m[7]) < 1e-12
}

// IsIdentity reports whether m is the identity within floating tolerance.
func (m Matrix) IsIdentity() bool {
	m = m.normalized()
	return m.IsAffine() &&
		math.Abs(m[0]-1) < 1e-9 && math.Abs(m[4]-1) < 1e-9 &&
		math.Abs(m[1]) < 1e-9 && math.Abs(m[3]) < 1e-9 &&
		math.Abs(m[2]) < 1e-6 && math.Abs(m[5]) < 1e-6
}

// Aff3 returns the affine part of m in the layout used by
// golang.org/x/image/draw. The perspective row is ignored.
func (m Matrix) Aff3() f64.Aff3 {
	m = m.normalized()
	return f64.Aff3{m[0], m[1], m[2], m[3], m[4], m[5]}
}

// PolyToPoly returns the transform mapping each src corner onto the
// corresponding dst corner. Corners are given in order around the quad.
func PolyToPoly(src, dst [4]orb.Point) (Matrix, error) {
	s, err := squareToQuad(src)
	if err != nil {
		return Matrix{}, err
	}
	d, err := squareToQuad(dst)
	if err != nil {
		return Matrix{}, err
	}
	sInv, err := s.Invert()
	if err != nil {
		return Matrix{}, err
	}
	return d.Mul(sInv), nil
}

// squareToQuad maps the unit square (0,0) (1,0) (1,1) (0,1) onto q.
func squareToQuad(q [4]orb.Point) (Matrix, error) {
	x0, y0 := q[0][0], q[0][1]
	x1, y1 := q[1][0], q[1][1]
	x2, y2 := q[2][0], q[2][1]
	x3, y3 := q[3][0], q[3][1]

	dx1, dy1 := x1-x2, y1-y2
	dx2, dy2 := x3-x2, y3-y2
	dx3, dy3 := x0-x1+x2-x3, y0-y1+y2-y3

	det := dx1*dy2 - dx2*dy1
	if det == 0 {
		return Matrix{}, ErrSingular
	}
	g := (dx3*dy2 - dx2*dy3) / det
	h := (dx1*dy3 - dx3*dy1) / det

	return Matrix{
		x1 - x0 + g*x1, x3 - x0 + h*x3, x0,
		y1 - y0 + g*y1, y3 - y0 + h*y3, y0,
		g, h, 1,
	}, nil
}
