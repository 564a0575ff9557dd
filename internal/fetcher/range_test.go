package fetcher

import (
	"reflect"
	"testing"
)

func TestSplitRange(t *testing.T) {
	got, err := SplitRange(100, 105, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []BlockRange{
		{From: 100, To: 101},
		{From: 102, To: 103},
		{From: 104, To: 105},
	}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}
}

func TestSplitRangeResumeFromCheckpoint(t *testing.T) {
	// Resuming at 1501 with head 2600 and a 999-block provider ceiling.
	got, err := SplitRange(1501, 2600, 999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []BlockRange{
		{From: 1501, To: 2499},
		{From: 2500, To: 2600},
	}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}
}

func TestSplitRangeSingle(t *testing.T) {
	got, err := SplitRange(5, 5, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []BlockRange{{From: 5, To: 5}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}
}

func TestSplitRangeCoversExactly(t *testing.T) {
	ranges, err := SplitRange(1000, 4567, 999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// ceil(3568/999) sub-ranges, contiguous and non-overlapping.
	if len(ranges) != 4 {
		t.Fatalf("expected 4 ranges, got %d", len(ranges))
	}
	if ranges[0].From != 1000 {
		t.Fatalf("first range starts at %d", ranges[0].From)
	}
	if ranges[len(ranges)-1].To != 4567 {
		t.Fatalf("last range ends at %d", ranges[len(ranges)-1].To)
	}
	for i := 1; i < len(ranges); i++ {
		if ranges[i].From != ranges[i-1].To+1 {
			t.Fatalf("gap between ranges %d and %d: %+v", i-1, i, ranges)
		}
	}
}

func TestSplitRangeInvalid(t *testing.T) {
	if _, err := SplitRange(10, 9, 1); err == nil {
		t.Fatalf("expected error for invalid range")
	}
	if _, err := SplitRange(1, 10, 0); err == nil {
		t.Fatalf("expected error for zero chunk size")
	}
}
