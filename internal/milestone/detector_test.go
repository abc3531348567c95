package milestone

import (
	"reflect"
	"testing"

	decimal "github.com/shopspring/decimal"

	"github.com/rootedhq/rooted/backend/internal/config"
)

func testTable() *Table {
	return NewTable(config.MilestoneConfig{
		Version:    "test",
		Thresholds: []int{1, 5, 25, 100, 500, 1000},
	})
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCrossed(t *testing.T) {
	table := testTable()

	tests := []struct {
		name string
		prev string
		next string
		want []int
	}{
		{"first tree", "0.9", "1.1", []int{1}},
		{"no crossing below one", "0.2", "0.8", nil},
		{"same floor", "5.1", "5.9", nil},
		{"burst crosses two", "0.9", "6.2", []int{1, 5}},
		{"burst crosses three", "0.0", "30.0", []int{1, 5, 25}},
		{"exact threshold counts", "4.2", "5.0", []int{5}},
		{"between thresholds", "6.0", "24.9", nil},
		{"high threshold", "499.999999", "500.000001", []int{500}},
		{"already beyond table", "1000.5", "1200.0", nil},
		{"equal totals", "25.0", "25.0", nil},
		{"decrease yields nothing", "10.0", "4.0", nil},
	}

	for _, tt := range tests {
		got := table.Crossed(d(tt.prev), d(tt.next))
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: Crossed(%s, %s) = %v, want %v", tt.name, tt.prev, tt.next, got, tt.want)
		}
	}
}

func TestCrossedIffFloorProperty(t *testing.T) {
	table := testTable()

	// T is reported iff floor(prev) < T <= floor(next).
	for prev := int64(0); prev < 40; prev++ {
		for next := prev; next < 40; next++ {
			prevD := decimal.NewFromInt(prev).Add(d("0.5"))
			nextD := decimal.NewFromInt(next).Add(d("0.5"))
			got := table.Crossed(prevD, nextD)

			var want []int
			for _, threshold := range table.Thresholds() {
				if int64(threshold) > prev && int64(threshold) <= next {
					want = append(want, threshold)
				}
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("Crossed(%s, %s) = %v, want %v", prevD, nextD, got, want)
			}
		}
	}
}

func TestNext(t *testing.T) {
	table := testTable()

	tests := []struct {
		total  string
		want   int
		wantOK bool
	}{
		{"0", 1, true},
		{"0.999", 1, true},
		{"1.0", 5, true},
		{"26.4", 100, true},
		{"999.9", 1000, true},
		{"1000.0", 0, false},
	}
	for _, tt := range tests {
		got, ok := table.Next(d(tt.total))
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Next(%s) = (%d, %v), want (%d, %v)", tt.total, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestThresholdsReturnsCopy(t *testing.T) {
	table := testTable()
	thresholds := table.Thresholds()
	thresholds[0] = 999

	if table.Thresholds()[0] != 1 {
		t.Fatal("Thresholds must not expose internal state")
	}
}
