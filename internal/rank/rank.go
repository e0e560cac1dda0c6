// Package rank fuses full-text, trigram and vector similarity scores into a
// single ranked list. Weights come from configuration and are renormalized
// over the components that actually ran for a query, so a text-only search
// does not silently leak weight to an absent vector component.
package rank

import (
	"sort"

	"github.com/songdex/songdex/internal/config"
	"github.com/songdex/songdex/internal/model"
)

// Components flags which sub-scores were produced for the current query.
type Components struct {
	FTS     bool
	Trigram bool
	Vector  bool
}

type Fuser struct {
	weights config.RankingConfig
}

func NewFuser(weights config.RankingConfig) *Fuser {
	return &Fuser{weights: weights}
}

// Fuse normalizes each present component into [0,1], applies the renormalized
// weights and sorts descending. Ties break by song id ascending so repeated
// queries over the same data rank identically.
func (f *Fuser) Fuse(results []model.SearchResult, present Components) []model.SearchResult {
	if len(results) == 0 {
		return results
	}

	wFTS, wTri, wVec := f.normalizedWeights(present)
	ftsMin, ftsMax := ftsRange(results, present)

	fused := make([]model.SearchResult, len(results))
	copy(fused, results)
	for i := range fused {
		score := 0.0
		if present.FTS {
			fused[i].FTSScore = normalizeFTS(fused[i].FTSScore, ftsMin, ftsMax)
			score += wFTS * fused[i].FTSScore
		}
		if present.Trigram {
			score += wTri * clamp01(fused[i].TrigramScore)
		}
		if present.Vector {
			// Cosine similarity lives in [-1,1].
			score += wVec * clamp01((fused[i].VectorScore+1)/2)
		}
		fused[i].Score = score
	}

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].SongID < fused[j].SongID
	})
	return fused
}

func (f *Fuser) normalizedWeights(present Components) (wFTS, wTri, wVec float64) {
	total := 0.0
	if present.FTS {
		total += f.weights.FTSWeight
	}
	if present.Trigram {
		total += f.weights.TrigramWeight
	}
	if present.Vector {
		total += f.weights.VectorWeight
	}
	if total == 0 {
		return 0, 0, 0
	}
	if present.FTS {
		wFTS = f.weights.FTSWeight / total
	}
	if present.Trigram {
		wTri = f.weights.TrigramWeight / total
	}
	if present.Vector {
		wVec = f.weights.VectorWeight / total
	}
	return wFTS, wTri, wVec
}

// ftsRange finds the min/max raw rank for min-max normalization; FTS rank
// scales are corpus dependent, so they only make sense within one result set.
func ftsRange(results []model.SearchResult, present Components) (float64, float64) {
	if !present.FTS {
		return 0, 0
	}
	min, max := results[0].FTSScore, results[0].FTSScore
	for _, r := range results[1:] {
		if r.FTSScore < min {
			min = r.FTSScore
		}
		if r.FTSScore > max {
			max = r.FTSScore
		}
	}
	return min, max
}

func normalizeFTS(v, min, max float64) float64 {
	if max <= min {
		if max > 0 {
			return 1
		}
		return 0
	}
	return (v - min) / (max - min)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
