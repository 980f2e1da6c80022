package value

import (
	"math"
	"testing"
)

func TestDoubleRenderParseRoundTrip(t *testing.T) {
	v := NewDouble("filter_sleep", "sleep time", math.NaN(), Writable())

	if err := v.Parse("2.5"); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rendered := v.Render()

	v2 := NewDouble("filter_sleep", "sleep time", math.NaN())
	if err := v2.Parse(rendered); err != nil {
		t.Fatalf("Parse round trip: %v", err)
	}
	if v2.Render() != rendered {
		t.Errorf("round trip mismatch: %q != %q", v2.Render(), rendered)
	}
}

func TestIntegerNullRendering(t *testing.T) {
	v := NewInteger("focstep", "focuser position", nil)
	if got := v.Render(); got != "" {
		t.Errorf("Render() of null integer = %q, want empty", got)
	}

	if err := v.Parse("3"); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := v.Render(); got != "3" {
		t.Errorf("Render() = %q, want %q", got, "3")
	}
}

func TestBoolParse(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"true", "true", false},
		{"On", "true", false},
		{"1", "true", false},
		{"false", "false", false},
		{"off", "false", false},
		{"0", "false", false},
		{"maybe", "", true},
	}

	for _, tt := range tests {
		v := NewBool("moving", "", nil)
		err := v.Parse(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && v.Render() != tt.want {
			t.Errorf("Parse(%q) rendered %q, want %q", tt.in, v.Render(), tt.want)
		}
	}
}

func TestSelectionParse(t *testing.T) {
	v := NewSelection("filter", "current filter", []string{"R", "G", "B"}, 0, Writable())

	if err := v.Parse("B"); err != nil {
		t.Fatalf("Parse(B): %v", err)
	}
	if v.Render() != "2" {
		t.Errorf("Render() = %q, want %q", v.Render(), "2")
	}
	if v.SelectionName() != "B" {
		t.Errorf("SelectionName() = %q, want B", v.SelectionName())
	}

	if err := v.Parse("1"); err != nil {
		t.Fatalf("Parse(1): %v", err)
	}
	if v.SelectionName() != "G" {
		t.Errorf("SelectionName() = %q, want G", v.SelectionName())
	}

	if err := v.Parse("nope"); err == nil {
		t.Error("Parse(nope) should fail: not a valid label or index")
	}
	if err := v.Parse("99"); err == nil {
		t.Error("Parse(99) should fail: index out of range")
	}
}

func TestRaDecRender(t *testing.T) {
	v := NewRaDec("pointing", "", 10.5, -5.25)
	rendered := v.Render()

	v2 := NewRaDec("pointing", "", math.NaN(), math.NaN())
	if err := v2.Parse(rendered); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if v2.coordX != 10.5 || v2.coordY != -5.25 {
		t.Errorf("coords = (%v,%v), want (10.5,-5.25)", v2.coordX, v2.coordY)
	}
}

func TestStatTracksStatistics(t *testing.T) {
	v := NewStat("ccd_temp", "", math.NaN())
	for _, sample := range []float64{1, 2, 3} {
		if err := v.Parse(fStr(sample)); err != nil {
			t.Fatalf("Parse: %v", err)
		}
	}
	stats := v.Stats()
	if stats.Count != 3 {
		t.Errorf("Count = %d, want 3", stats.Count)
	}
	if stats.Mean != 2 {
		t.Errorf("Mean = %v, want 2", stats.Mean)
	}
}

func fStr(f float64) string {
	v := NewDouble("tmp", "", f)
	return v.Render()
}

func TestMetaBitsCombinesTypeAndFlags(t *testing.T) {
	v := NewDouble("x", "", 0, Writable())
	bits := v.MetaBits()
	if Type(bits)&TypeBaseMask != TypeDouble {
		t.Errorf("type bits wrong: %x", bits)
	}
	if Flags(bits)&FlagWritable == 0 {
		t.Error("writable flag missing from MetaBits()")
	}
	if Flags(bits)&FlagFITS == 0 {
		t.Error("FITS flag should default on")
	}
}

func TestCatalogueRegisterDuplicate(t *testing.T) {
	c := NewCatalogue()
	if err := c.Register(NewString("name1", "", "")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := c.Register(NewString("name1", "", "")); err == nil {
		t.Error("Register duplicate name should fail")
	}
}

func TestCatalogueListOrder(t *testing.T) {
	c := NewCatalogue()
	c.Register(NewString("b", "", ""))
	c.Register(NewString("a", "", ""))

	list := c.List()
	if len(list) != 2 || list[0].Name != "b" || list[1].Name != "a" {
		t.Errorf("List() order = %v, want registration order [b a]", names(list))
	}
}

func names(vs []*Value) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Name
	}
	return out
}
