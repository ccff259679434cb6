package cmd

import (
	"testing"

	"github.com/MeKo-Tech/tilescene/internal/source"
)

func TestParseExtent(t *testing.T) {
	e, err := parseExtent("0, 0, 1024,1024")
	if err != nil {
		t.Fatal(err)
	}
	if e.Width() != 1024 || e.Height() != 1024 {
		t.Errorf("extent = %+v", e)
	}

	if _, err := parseExtent("1,2,3"); err == nil {
		t.Error("expected error for short extent spec")
	}
	if _, err := parseExtent("a,b,c,d"); err == nil {
		t.Error("expected error for non-numeric extent")
	}
}

func TestPlaceholderDecoder(t *testing.T) {
	p, err := placeholderDecoder("cloud.pnts", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*source.PointBatch); !ok {
		t.Errorf("pnts decoded as %T", p)
	}

	p, err = placeholderDecoder("mesh.b3dm", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*source.MeshSurface); !ok {
		t.Errorf("b3dm decoded as %T", p)
	}
}
