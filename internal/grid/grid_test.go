package grid

import "testing"

func TestCellOutOfBounds(t *testing.T) {
	g := New(4)
	cases := []Coord{
		{I: -1, J: 0},
		{I: 0, J: -1},
		{I: 4, J: 0},
		{I: 0, J: 4},
		{I: 100, J: -100},
	}
	for _, c := range cases {
		if cell := g.Cell(c); cell != nil {
			t.Errorf("Cell(%v) = %+v, want nil", c, cell)
		}
		if got := g.CellOrDefault(c); got.Type != Grass || got.Stage != 0 || got.Population != 0 {
			t.Errorf("CellOrDefault(%v) = %+v, want default grass", c, got)
		}
	}
}

func TestCellInBoundsIsShared(t *testing.T) {
	g := New(3)
	c := Coord{I: 2, J: 1}
	g.Cell(c).Type = House
	if g.Cell(Coord{I: 2, J: 1}).Type != House {
		t.Fatal("equal coords should address the same cell")
	}
	if g.CellOrDefault(c).Type != House {
		t.Fatal("CellOrDefault should copy the stored cell")
	}
}

func TestEachRowMajor(t *testing.T) {
	g := New(3)
	var seen []Coord
	g.Each(func(c Coord, cell *Cell) {
		seen = append(seen, c)
	})
	if len(seen) != 9 {
		t.Fatalf("visited %d cells, want 9", len(seen))
	}
	for n, c := range seen {
		if c.Key(3) != n {
			t.Errorf("cell %d has key %d", n, c.Key(3))
		}
	}
}

func TestParseCoord(t *testing.T) {
	tests := []struct {
		in      string
		want    Coord
		wantErr bool
	}{
		{"1,2", Coord{I: 1, J: 2}, false},
		{" 3 , -4 ", Coord{I: 3, J: -4}, false},
		{"12", Coord{}, true},
		{"a,2", Coord{}, true},
		{"1,b", Coord{}, true},
	}
	for _, tt := range tests {
		got, err := ParseCoord(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCoord(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCoord(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	c := Coord{I: 7, J: 9}
	back, err := ParseCoord(c.String())
	if err != nil || back != c {
		t.Fatalf("String/Parse mismatch: %v %v", back, err)
	}
}

func TestNeighborsAndManhattan(t *testing.T) {
	c := Coord{I: 5, J: 5}
	for _, n := range c.Neighbors() {
		if Manhattan(c, n) != 1 {
			t.Errorf("neighbor %v at distance %d", n, Manhattan(c, n))
		}
	}
	if d := Manhattan(Coord{I: 0, J: 0}, Coord{I: 3, J: -4}); d != 7 {
		t.Errorf("Manhattan = %d, want 7", d)
	}
}

func TestCapacityByType(t *testing.T) {
	tests := []struct {
		typ      CellType
		stage    int
		wantPop  int
		wantJobs int
	}{
		{Grass, 3, 0, 0},
		{House, 0, 0, 0},
		{House, 1, 4, 0},
		{House, MaxStage, 256, 0},
		{Office, 1, 0, 8},
		{Office, MaxStage, 0, 512},
		{Road, 2, 0, 0},
	}
	for _, tt := range tests {
		c := Cell{Type: tt.typ, Stage: tt.stage}
		if got := c.MaxPopulation(); got != tt.wantPop {
			t.Errorf("%v stage %d MaxPopulation = %d, want %d", tt.typ, tt.stage, got, tt.wantPop)
		}
		if got := c.MaxJobs(); got != tt.wantJobs {
			t.Errorf("%v stage %d MaxJobs = %d, want %d", tt.typ, tt.stage, got, tt.wantJobs)
		}
	}
}

func TestCellTypeText(t *testing.T) {
	for _, typ := range []CellType{Grass, House, Office, Road, Trees} {
		text, err := typ.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", typ, err)
		}
		var back CellType
		if err := back.UnmarshalText(text); err != nil || back != typ {
			t.Errorf("round trip %v -> %s -> %v (%v)", typ, text, back, err)
		}
	}
	if _, err := ParseCellType("castle"); err == nil {
		t.Error("ParseCellType accepted an unknown name")
	}
	if _, err := CellType(42).MarshalText(); err == nil {
		t.Error("MarshalText accepted an invalid type")
	}
	if Road.Symbol() != '#' || CellType(42).Symbol() != '?' {
		t.Errorf("symbols %c %c", Road.Symbol(), CellType(42).Symbol())
	}
}

func TestTravelTime(t *testing.T) {
	tr := DefaultTravel()
	grass := &Cell{Type: Grass}
	if got := tr.Time(grass); got != tr.WalkTime {
		t.Errorf("grass travel = %v, want %v", got, tr.WalkTime)
	}
	if got := tr.Time(nil); got != tr.WalkTime {
		t.Errorf("nil travel = %v, want %v", got, tr.WalkTime)
	}

	road := &Cell{Type: Road}
	empty := tr.Time(road)
	if empty != tr.RoadTime {
		t.Errorf("empty road = %v, want %v", empty, tr.RoadTime)
	}
	road.Traffic = tr.RoadCapacity / 4
	quarter := tr.Time(road)
	road.Traffic = tr.RoadCapacity * 10
	jammed := tr.Time(road)
	if !(empty < quarter && quarter < jammed) {
		t.Errorf("road times not increasing with load: %v %v %v", empty, quarter, jammed)
	}
	if jammed > tr.WalkTime || jammed < MinTravelTime {
		t.Errorf("jammed road %v outside [%v, %v]", jammed, MinTravelTime, tr.WalkTime)
	}

	cheap := Travel{WalkTime: 10, RoadTime: 0.1, RoadCapacity: 1}
	if got := cheap.Time(&Cell{Type: Road}); got != MinTravelTime {
		t.Errorf("road time below floor: %v", got)
	}
}

func TestSeedForests(t *testing.T) {
	g := New(32)
	g.Cell(Coord{I: 0, J: 0}).Type = House
	planted := SeedForests(g, 7, ForestConfig{Threshold: 0.5, Frequency: 0.2, Octaves: 2})
	if planted == 0 {
		t.Fatal("expected some trees at threshold 0.5")
	}
	if g.Cell(Coord{I: 0, J: 0}).Type != House {
		t.Error("forest seeding overwrote a built cell")
	}
	if g.Counts()[Trees] != planted {
		t.Errorf("counted %d trees, planted %d", g.Counts()[Trees], planted)
	}

	again := New(32)
	again.Cell(Coord{I: 0, J: 0}).Type = House
	if SeedForests(again, 7, ForestConfig{Threshold: 0.5, Frequency: 0.2, Octaves: 2}) != planted {
		t.Error("same seed should plant the same forest")
	}
	if SeedForests(New(8), 7, ForestConfig{}) != 0 {
		t.Error("zero threshold should disable seeding")
	}
}
