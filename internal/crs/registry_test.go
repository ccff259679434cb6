package crs

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func TestMercatorRoundTrip(t *testing.T) {
	r := NewRegistry()
	p := orb.Point{9.73, 52.37}
	merc := r.Project(Geographic, WebMercator, p)
	back := r.Project(WebMercator, Geographic, merc)
	if math.Abs(back[0]-p[0]) > 1e-6 || math.Abs(back[1]-p[1]) > 1e-6 {
		t.Errorf("round trip drifted: %v -> %v -> %v", p, merc, back)
	}
}

func TestSameCRSIsIdentity(t *testing.T) {
	r := NewRegistry()
	p := orb.Point{1234.5, -987.6}
	if got := r.Project(WebMercator, WebMercator, p); got != p {
		t.Errorf("same-CRS projection changed the point: %v", got)
	}
}

func TestUnregisteredCodePanics(t *testing.T) {
	r := NewRegistry()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unregistered code")
		}
	}()
	r.Project("EPSG:9999", Geographic, orb.Point{})
}

func TestCustomRegistration(t *testing.T) {
	r := NewRegistry()
	// A toy CRS offset 100 units east of geographic.
	r.Register("TEST:100", Projection{
		ToGeographic:   func(p orb.Point) orb.Point { return orb.Point{p[0] - 100, p[1]} },
		FromGeographic: func(p orb.Point) orb.Point { return orb.Point{p[0] + 100, p[1]} },
	})
	if !r.Registered("TEST:100") {
		t.Fatal("TEST:100 should be registered")
	}
	got := r.Project("TEST:100", Geographic, orb.Point{110, 5})
	if got != (orb.Point{10, 5}) {
		t.Errorf("Project = %v, want (10,5)", got)
	}
}

func TestProjectBoundOrdersCorners(t *testing.T) {
	r := NewRegistry()
	r.Register("TEST:FLIP", Projection{
		ToGeographic:   func(p orb.Point) orb.Point { return orb.Point{-p[0], -p[1]} },
		FromGeographic: func(p orb.Point) orb.Point { return orb.Point{-p[0], -p[1]} },
	})
	b := r.ProjectBound(Geographic, "TEST:FLIP", orb.Bound{Min: orb.Point{1, 2}, Max: orb.Point{3, 4}})
	if b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] {
		t.Errorf("bound corners not ordered: %+v", b)
	}
}
