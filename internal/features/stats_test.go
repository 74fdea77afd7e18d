package features

import (
	"sync"
	"testing"

	"plasticatlas/pkg/domain"
	"plasticatlas/testutil"
)

func TestComputeStats(t *testing.T) {
	cases := []struct {
		name string
		in   domain.SequenceFeatureSet
		want domain.FormattedStats
	}{
		{
			name: "typical",
			in: domain.SequenceFeatureSet{
				Mass:           []float64{100, 200, 150},
				PI:             []float64{6, 7},
				Hydropathy:     []float64{0.3, 0.6, 0.8},
				SequenceLength: 3,
			},
			want: domain.FormattedStats{TotalMass: "450.00", AvgPI: "6.50", PercentHydrophobic: "66.7"},
		},
		{
			name: "empty",
			in:   domain.SequenceFeatureSet{},
			want: domain.FormattedStats{TotalMass: "0.00", AvgPI: "0.00", PercentHydrophobic: "0.0"},
		},
		{
			name: "threshold is exclusive",
			in:   domain.SequenceFeatureSet{Hydropathy: []float64{0.5, 0.5, 0.51, -1}, SequenceLength: 4},
			want: domain.FormattedStats{TotalMass: "0.00", AvgPI: "0.00", PercentHydrophobic: "25.0"},
		},
		{
			name: "zero length with hydropathy",
			in:   domain.SequenceFeatureSet{Hydropathy: []float64{0.9, 0.9}, SequenceLength: 0},
			want: domain.FormattedStats{TotalMass: "0.00", AvgPI: "0.00", PercentHydrophobic: "0.0"},
		},
		{
			name: "negative length",
			in:   domain.SequenceFeatureSet{Hydropathy: []float64{0.9}, SequenceLength: -2},
			want: domain.FormattedStats{TotalMass: "0.00", AvgPI: "0.00", PercentHydrophobic: "0.0"},
		},
		{
			name: "pI without mass",
			in:   domain.SequenceFeatureSet{PI: []float64{5.126}},
			want: domain.FormattedStats{TotalMass: "0.00", AvgPI: "5.13", PercentHydrophobic: "0.0"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeStats(tc.in).Format()
			if got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestComputeStatsKeepsFullPrecision(t *testing.T) {
	stats := ComputeStats(domain.SequenceFeatureSet{
		Hydropathy:     []float64{0.6, 0.1, 0.1},
		SequenceLength: 3,
	})
	if stats.PercentHydrophobic == 33.3 {
		t.Fatalf("computation rounded before formatting: %v", stats.PercentHydrophobic)
	}
	if stats.PercentHydrophobic < 33.33 || stats.PercentHydrophobic > 33.34 {
		t.Fatalf("unexpected percentage %v", stats.PercentHydrophobic)
	}
}

func TestComputeStatsConcurrent(t *testing.T) {
	in := domain.SequenceFeatureSet{Mass: []float64{1, 2}, PI: []float64{4}, Hydropathy: []float64{1}, SequenceLength: 1}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := ComputeStats(in); got.TotalMass != 3 || got.AvgPI != 4 || got.PercentHydrophobic != 100 {
				t.Errorf("unexpected stats %+v", got)
			}
		}()
	}
	wg.Wait()
}

func TestFeaturesStayFreeOfStorageAndTransport(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.StorageImportForbidden, "feature statistics are a pure computation")
	testutil.AssertNoDirectImports(t, ".", testutil.TransportImportForbidden, "formatting for transport happens in the HTTP adapter")
}
