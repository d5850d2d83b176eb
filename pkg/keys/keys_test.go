package keys

import "testing"

func TestInt32KeyOrdering(t *testing.T) {
	cases := []struct {
		a, b Key
		want int
	}{
		{Int32Key(5), Int32Key(6), -1},
		{Int32Key(6), Int32Key(5), 1},
		{Int32Key(5), Int32Key(5), 0},
		{MinInt32, MaxInt32, -1},
	}
	for _, c := range cases {
		if got := c.a.CompareTo(c.b); got != c.want {
			t.Errorf("%v.CompareTo(%v) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestInt32BytesOrderMatchesLogicalOrder(t *testing.T) {
	vals := []Int32Key{MinInt32, -100, -1, 0, 1, 100, MaxInt32}
	for i := 0; i < len(vals)-1; i++ {
		lo, hi := vals[i], vals[i+1]
		if Compare(lo.Bytes(), hi.Bytes()) >= 0 {
			t.Errorf("byte order disagrees with logical order for %d < %d", lo, hi)
		}
	}
}

func TestInt32Next(t *testing.T) {
	if got := Int32Key(5).Next(); got.(Int32Key) != 6 {
		t.Errorf("Next(5) = %v, want 6", got)
	}
}

func TestInt32NextAtMaxPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic calling Next() on max sentinel")
		}
	}()
	MaxInt32.Next()
}

func TestGuidKeyOrderingAndNext(t *testing.T) {
	a := GuidKey{}
	b := a.Next().(GuidKey)
	if a.CompareTo(b) >= 0 {
		t.Errorf("expected a < a.Next()")
	}
	if Compare(a.Bytes(), b.Bytes()) >= 0 {
		t.Errorf("byte order disagrees with logical order for guid next")
	}
}

func TestGuidCarryOnNext(t *testing.T) {
	k := GuidKey{}
	k[15] = 0xff
	next := k.Next().(GuidKey)
	if next[15] != 0x00 || next[14] != 0x01 {
		t.Fatalf("expected last byte to wrap to 0x00 and carry into byte 14, got %v", next)
	}
}

func TestBinaryKeyOrdering(t *testing.T) {
	a := BinaryKey("abc")
	b := BinaryKey("abd")
	if a.CompareTo(b) >= 0 {
		t.Errorf("expected abc < abd")
	}
	next := a.Next().(BinaryKey)
	if len(next) != len(a)+1 {
		t.Errorf("Next should append a byte, got len %d", len(next))
	}
}

func TestDateTimeRoundTripAndOrder(t *testing.T) {
	k1 := DateTimeKey{Ticks: 100}
	k2 := DateTimeKey{Ticks: 200}
	if k1.CompareTo(k2) != -1 {
		t.Errorf("expected k1 < k2")
	}
	if Compare(k1.Bytes(), k2.Bytes()) != -1 {
		t.Errorf("byte order disagrees with logical order")
	}
}

func TestRangeContainsHalfOpen(t *testing.T) {
	r := NewRange(Int32Key(0).Bytes(), Int32Key(10).Bytes())
	if !r.Contains(Int32Key(0).Bytes()) {
		t.Errorf("expected low bound included")
	}
	if r.Contains(Int32Key(10).Bytes()) {
		t.Errorf("expected high bound excluded")
	}
	if !r.Contains(Int32Key(5).Bytes()) {
		t.Errorf("expected midpoint included")
	}
}

func TestRangeUnboundedHighContainsMax(t *testing.T) {
	r := NewRange(Int32Key(0).Bytes(), nil)
	if !r.Contains(Int32Key(2000000000).Bytes()) {
		t.Errorf("expected unbounded-high range to contain large values")
	}
}

func TestRangeIntersects(t *testing.T) {
	a := NewRange(Int64Key(0).Bytes(), Int64Key(100).Bytes())
	b := NewRange(Int64Key(50).Bytes(), Int64Key(150).Bytes())
	c := NewRange(Int64Key(100).Bytes(), Int64Key(200).Bytes())
	if !a.Intersects(b) {
		t.Errorf("expected overlapping ranges to intersect")
	}
	if a.Intersects(c) {
		t.Errorf("expected adjacent half-open ranges not to intersect")
	}
}

func TestRangeSplitAndMergeRoundTrip(t *testing.T) {
	orig := NewRange(GuidKey{}.Bytes(), GuidKey{9}.Bytes())
	mid := GuidKey{5}.Bytes()
	left, right := orig.Split(mid)
	if !left.AdjacentTo(right) {
		t.Fatalf("expected split halves to be adjacent")
	}
	merged := Merge(left, right)
	if Compare(merged.Low, orig.Low) != 0 || Compare(merged.High, orig.High) != 0 {
		t.Errorf("Split then Merge did not reconstruct original range: got [%v,%v) want [%v,%v)",
			merged.Low, merged.High, orig.Low, orig.High)
	}
}

func TestRangeSplitPointOutsideRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic for out-of-range split point")
		}
	}()
	r := NewRange(Int32Key(0).Bytes(), Int32Key(10).Bytes())
	r.Split(Int32Key(20).Bytes())
}

func TestMergeNonAdjacentPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic merging non-adjacent ranges")
		}
	}()
	a := NewRange(Int32Key(0).Bytes(), Int32Key(10).Bytes())
	b := NewRange(Int32Key(20).Bytes(), Int32Key(30).Bytes())
	Merge(a, b)
}

func TestRangeEmptyAtMaxSentinel(t *testing.T) {
	r := NewRange(MaxInt32.Bytes(), MaxInt32.Bytes())
	if !r.IsEmpty() {
		t.Errorf("range with low == high should be empty")
	}
}
