package geom_test

import (
	"errors"
	"math"
	"testing"

	"github.com/eak1mov/go-rastertiles/geom"
	"github.com/paulmach/orb"
)

func near(a, b orb.Point) bool {
	return math.Abs(a[0]-b[0]) < 1e-6 && math.Abs(a[1]-b[1]) < 1e-6
}

func square(size float64) [4]orb.Point {
	return [4]orb.Point{{0, 0}, {size, 0}, {size, size}, {0, size}}
}

func TestPolyToPolyIdentity(t *testing.T) {
	m, err := geom.PolyToPoly(square(256), square(256))
	if err != nil {
		t.Fatalf("PolyToPoly failed: %v", err)
	}
	if !m.IsIdentity() {
		t.Errorf("IsIdentity() = false for %v", m)
	}
	if !geom.Identity.IsIdentity() {
		t.Errorf("Identity.IsIdentity() = false")
	}
}

func TestPolyToPolyAffine(t *testing.T) {
	dst := [4]orb.Point{{100, 50}, {120, 50}, {120, 70}, {100, 70}}
	m, err := geom.PolyToPoly(square(10), dst)
	if err != nil {
		t.Fatalf("PolyToPoly failed: %v", err)
	}
	if !m.IsAffine() || m.IsIdentity() {
		t.Errorf("IsAffine() = %v, IsIdentity() = %v, want true, false", m.IsAffine(), m.IsIdentity())
	}
	if got, want := m.Apply(orb.Point{5, 5}), (orb.Point{110, 60}); !near(got, want) {
		t.Errorf("Apply = %v, want %v", got, want)
	}
	aff := m.Aff3()
	if math.Abs(aff[0]-2) > 1e-9 || math.Abs(aff[2]-100) > 1e-9 || math.Abs(aff[5]-50) > 1e-9 {
		t.Errorf("Aff3() = %v", aff)
	}
}

func TestPolyToPolyPerspective(t *testing.T) {
	src := square(1)
	dst := [4]orb.Point{{0, 0}, {10, 0}, {8, 8}, {2, 8}}
	m, err := geom.PolyToPoly(src, dst)
	if err != nil {
		t.Fatalf("PolyToPoly failed: %v", err)
	}
	if m.IsAffine() {
		t.Errorf("IsAffine() = true for trapezoid")
	}
	for i := range src {
		if got := m.Apply(src[i]); !near(got, dst[i]) {
			t.Errorf("Apply(%v) = %v, want %v", src[i], got, dst[i])
		}
	}

	inv, err := m.Invert()
	if err != nil {
		t.Fatalf("Invert failed: %v", err)
	}
	for _, p := range []orb.Point{{0.25, 0.5}, {0.9, 0.1}, {0.5, 0.5}} {
		if got := inv.Apply(m.Apply(p)); !near(got, p) {
			t.Errorf("inv(m(%v)) = %v", p, got)
		}
	}
	if !inv.Mul(m).IsIdentity() {
		t.Errorf("inv*m = %v, want identity", inv.Mul(m))
	}
}

func TestPolyToPolySingular(t *testing.T) {
	line := [4]orb.Point{{0, 0}, {1, 0}, {2, 0}, {3, 0}}
	if _, err := geom.PolyToPoly(square(1), line); !errors.Is(err, geom.ErrSingular) {
		t.Errorf("PolyToPoly(line) error = %v, want %v", err, geom.ErrSingular)
	}
	if _, err := (geom.Matrix{}).Invert(); !errors.Is(err, geom.ErrSingular) {
		t.Errorf("Invert(zero) error = %v, want %v", err, geom.ErrSingular)
	}
}

func TestTranslateScale(t *testing.T) {
	m := geom.Translate(3, 4).Mul(geom.Scale(2, 2))
	if got, want := m.Apply(orb.Point{1, 1}), (orb.Point{5, 6}); !near(got, want) {
		t.Errorf("Apply = %v, want %v", got, want)
	}
}
