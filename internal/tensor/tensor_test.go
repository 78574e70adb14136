package tensor

import "testing"

func TestRowsFlattensLeadingAxes(t *testing.T) {
	x := New(2, 3, 4)
	for i := range x.Data {
		x.Data[i] = float32(i)
	}
	m := x.Rows()
	if m.R != 6 || m.C != 4 {
		t.Fatalf("rows view %dx%d", m.R, m.C)
	}
	m.Row(5)[3] = -1
	if x.Data[23] != -1 {
		t.Fatalf("rows view does not share data")
	}
}

func TestFromDataLengthCheck(t *testing.T) {
	if _, err := FromData(make([]float32, 5), 2, 3); err == nil {
		t.Fatalf("expected length mismatch error")
	}
	x, err := FromData(make([]float32, 6), 2, 3)
	if err != nil {
		t.Fatalf("FromData: %v", err)
	}
	if x.Rank() != 2 || x.Dim(-1) != 3 {
		t.Fatalf("unexpected shape %v", x.Shape)
	}
}

func TestCloneIsDeep(t *testing.T) {
	x := New(2, 2)
	y := x.Clone()
	y.Data[0] = 1
	y.Shape[0] = 9
	if x.Data[0] != 0 || x.Shape[0] != 2 {
		t.Fatalf("clone aliases source")
	}
}
