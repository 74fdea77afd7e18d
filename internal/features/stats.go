// Package features reduces per-residue sequence features to summary
// statistics. It performs no I/O.
package features

import "plasticatlas/pkg/domain"

// HydrophobicThreshold is the hydropathy above which a residue counts as
// hydrophobic.
const HydrophobicThreshold = 0.5

// ComputeStats sums the residue masses, averages the pI values and reports
// the share of residues above HydrophobicThreshold relative to the sequence
// length. Empty inputs and a non-positive length yield zero values.
func ComputeStats(fs domain.SequenceFeatureSet) domain.SummaryStats {
	var stats domain.SummaryStats
	for _, m := range fs.Mass {
		stats.TotalMass += m
	}
	if n := len(fs.PI); n > 0 {
		var sum float64
		for _, p := range fs.PI {
			sum += p
		}
		stats.AvgPI = sum / float64(n)
	}
	if fs.SequenceLength > 0 {
		hydrophobic := 0
		for _, h := range fs.Hydropathy {
			if h > HydrophobicThreshold {
				hydrophobic++
			}
		}
		stats.PercentHydrophobic = float64(hydrophobic) / float64(fs.SequenceLength) * 100
	}
	return stats
}
