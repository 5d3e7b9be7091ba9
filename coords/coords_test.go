package coords

import (
	"math"
	"testing"
)

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestSheetFlipsYAxis(t *testing.T) {
	s := NewSheet(11)
	top := s.Point(0, 0)
	if !almost(top.X, 0) || !almost(top.Y, 792) {
		t.Fatalf("top-left = %+v, want (0,792)", top)
	}
	bottom := s.Point(8.5, 11)
	if !almost(bottom.X, 612) || !almost(bottom.Y, 0) {
		t.Fatalf("bottom-right = %+v, want (612,0)", bottom)
	}
}

func TestSheetRect(t *testing.T) {
	s := NewSheet(10)
	x, y, w, h := s.Rect(1, 1, 2, 3)
	if !almost(x, 72) || !almost(y, 432) || !almost(w, 144) || !almost(h, 216) {
		t.Fatalf("rect = %v %v %v %v", x, y, w, h)
	}
}

func TestMatrixInverse(t *testing.T) {
	m := Scale(2, -2).Multiply(Translate(5, 7))
	inv, err := m.Inverse()
	if err != nil {
		t.Fatalf("inverse: %v", err)
	}
	p := inv.Transform(m.Transform(Point{X: 3, Y: 4}))
	if !almost(p.X, 3) || !almost(p.Y, 4) {
		t.Fatalf("round trip = %+v", p)
	}
	if _, err := Scale(0, 1).Inverse(); err == nil {
		t.Fatalf("expected singular matrix error")
	}
}
