package gate

import (
	"github.com/sekailabs/sekai-memory/internal/eval"
)

// Collect flattens evaluation reports into gate metrics. Nil reports leave
// their section empty, which makes min gates on that section fail.
func Collect(r *eval.RetrievalReport, c *eval.ConsistencyReport, cov *eval.CoverageReport) Metrics {
	m := Metrics{}

	if r != nil {
		m["retrieval"] = map[string]float64{
			"precision": r.Overall.Precision,
			"recall":    r.Overall.Recall,
			"mrr":       r.Overall.MRR,
		}
	}

	if c != nil {
		m["consistency"] = map[string]float64{
			"time_overlap_conflicts": float64(c.Summary.TimeOverlapConflicts),
			"world_future_leaks":     float64(c.Summary.WorldFutureLeaks),
			"crosstalk_violations":   float64(c.Summary.CrosstalkViolations),
			"crosstalk_leaks":        float64(c.Summary.CrosstalkViolations),
			"symmetry_violations":    float64(c.Summary.SymmetryViolations),
			"total_conflicts":        float64(c.Summary.TotalConflicts),
		}
	}

	if cov != nil {
		section := map[string]float64{
			"overall": cov.Overall,
		}
		if len(cov.Chapters) > 0 {
			min, sum := cov.Chapters[0].Rate, 0.0
			for _, ch := range cov.Chapters {
				if ch.Rate < min {
					min = ch.Rate
				}
				sum += ch.Rate
			}
			section["per_chapter_min"] = min
			section["per_chapter_avg"] = sum / float64(len(cov.Chapters))
		}
		m["coverage"] = section
	}

	return m
}
