package dit

// RoutingStats describes how an expert-choice gate spread tokens over
// experts for one input.
type RoutingStats struct {
	Capacity int `json:"capacity"`
	Tokens   int `json:"tokens"`
	// ExpertSelections counts slots filled per expert across the batch.
	// Under expert choice every entry is B·L.
	ExpertSelections []int `json:"expert_selections"`
	// ExpertMeanWeight is the mean routing probability of each expert's
	// chosen tokens.
	ExpertMeanWeight []float64 `json:"expert_mean_weight"`
	// Coverage[k] counts tokens chosen by exactly k experts.
	Coverage        []int   `json:"coverage"`
	Unrouted        int     `json:"unrouted"`
	MaxMultiplicity int     `json:"max_multiplicity"`
	MeanWeight      float64 `json:"mean_weight"`
}

// Stats summarises the routing decisions.
func (r *Routing) Stats() RoutingStats {
	s := RoutingStats{
		Capacity:         r.L,
		Tokens:           r.B * r.T,
		ExpertSelections: make([]int, r.E),
		ExpertMeanWeight: make([]float64, r.E),
		Coverage:         make([]int, r.E+1),
	}
	hits := make([]int, r.B*r.T)
	var total float64
	for slot, tok := range r.Indices {
		row := slot / r.L
		bi, ei := row/r.E, row%r.E
		w := float64(r.Weights.Data[slot])
		hits[bi*r.T+tok]++
		s.ExpertSelections[ei]++
		s.ExpertMeanWeight[ei] += w
		total += w
	}
	for ei, n := range s.ExpertSelections {
		if n > 0 {
			s.ExpertMeanWeight[ei] /= float64(n)
		}
	}
	if len(r.Indices) > 0 {
		s.MeanWeight = total / float64(len(r.Indices))
	}
	for _, n := range hits {
		s.Coverage[n]++
		s.MaxMultiplicity = max(s.MaxMultiplicity, n)
	}
	s.Unrouted = s.Coverage[0]
	return s
}
