package prediction

// DefaultConfidence is used when the payload states no confidence at all.
const DefaultConfidence = 0.5

// ExtractConfidence picks the payload's confidence: overall_confidence,
// then confidence, then the mean of per-item confidences (the generic
// predictions list first, the variant's own list otherwise), then 0.5.
func ExtractConfidence(p Payload) float64 {
	s := p.Base()
	if s.OverallConfidence != nil {
		return Clamp(*s.OverallConfidence)
	}
	if s.Confidence != nil {
		return Clamp(*s.Confidence)
	}

	var values []float64
	for _, pick := range s.Predictions {
		if pick.Confidence != nil {
			values = append(values, *pick.Confidence)
		}
	}
	if len(values) == 0 {
		values = p.itemConfidences()
	}
	if len(values) == 0 {
		return DefaultConfidence
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	return Clamp(sum / float64(len(values)))
}

// ExtractReasoning returns race_analysis (or analysis), then reasoning,
// then the first item's reasoning, or "".
func ExtractReasoning(p Payload) string {
	s := p.Base()
	if s.RaceAnalysis != "" {
		return s.RaceAnalysis
	}
	if s.Reasoning != "" {
		return s.Reasoning
	}
	if len(s.Predictions) > 0 && s.Predictions[0].Reasoning != "" {
		return s.Predictions[0].Reasoning
	}
	return p.firstItemReasoning()
}
