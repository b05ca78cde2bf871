package prediction

// Payload is the validated body of a prediction. It is a closed union:
// *RankingPayload for win/place and *CombinationPayload for the
// multi-horse types.
type Payload interface {
	PredictionType() Type
	Base() *Summary
	// firstItemReasoning and itemConfidences expose the variant's own list
	// to the confidence/reasoning extractors.
	itemConfidences() []float64
	firstItemReasoning() string
}

// Summary holds the top-level fields every shape may carry.
type Summary struct {
	OverallConfidence *float64 `json:"overall_confidence,omitempty"`
	Confidence        *float64 `json:"confidence,omitempty"`
	RaceAnalysis      string   `json:"race_analysis,omitempty"`
	Reasoning         string   `json:"reasoning,omitempty"`
	BettingAdvice     string   `json:"betting_advice,omitempty"`
	RiskFactors       []string `json:"risk_factors,omitempty"`
	// Predictions is the generic pick list some responses use instead of
	// (or next to) the type-specific list.
	Predictions []Pick `json:"predictions,omitempty"`
}

// HorseRef identifies a runner the way the model echoes it back.
type HorseRef struct {
	HorseID   string `json:"horse_id,omitempty"`
	HorseName string `json:"horse_name,omitempty"`
	Gate      int    `json:"gate,omitempty"`
}

func (h HorseRef) empty() bool {
	return h.HorseID == "" && h.HorseName == "" && h.Gate == 0
}

func (h HorseRef) sameAs(o HorseRef) bool {
	switch {
	case h.Gate != 0 && o.Gate != 0:
		return h.Gate == o.Gate
	case h.HorseID != "" && o.HorseID != "":
		return h.HorseID == o.HorseID
	case h.HorseName != "" && o.HorseName != "":
		return h.HorseName == o.HorseName
	}
	return false
}

// Pick is one item of the generic "predictions" list.
type Pick struct {
	HorseRef
	Rank          int        `json:"rank,omitempty"`
	Horses        []HorseRef `json:"horses,omitempty"`
	Probability   *float64   `json:"probability,omitempty"`
	Odds          *float64   `json:"odds,omitempty"`
	ExpectedValue *float64   `json:"expected_value,omitempty"`
	Confidence    *float64   `json:"confidence,omitempty"`
	Reasoning     string     `json:"reasoning,omitempty"`
}

// RankedHorse is one row of predicted_ranking. Probability carries whatever
// per-type field the model used (win_prob, place_prob, top3_prob, ...).
type RankedHorse struct {
	HorseRef
	Rank          int      `json:"rank"`
	Probability   *float64 `json:"probability,omitempty"`
	Odds          *float64 `json:"odds,omitempty"`
	ExpectedValue *float64 `json:"expected_value,omitempty"`
	Confidence    *float64 `json:"confidence,omitempty"`
	Reasoning     string   `json:"reasoning,omitempty"`
}

// Contender is a short-listed runner for the combination types.
type Contender struct {
	HorseRef
	Probability *float64 `json:"probability,omitempty"`
	Role        string   `json:"role,omitempty"`
}

// Combination is a set of horses bet together. For ordered types the
// horses are in predicted finishing order.
type Combination struct {
	Horses        []HorseRef `json:"horses"`
	Probability   *float64   `json:"success_prob,omitempty"`
	Odds          *float64   `json:"odds,omitempty"`
	ExpectedValue *float64   `json:"expected_value,omitempty"`
	Confidence    *float64   `json:"confidence,omitempty"`
	Reasoning     string     `json:"reasoning,omitempty"`
	RaceScenario  string     `json:"race_scenario,omitempty"`
}

// Recommendation is a named suggested bet ("primary", "value_bet", ...).
type Recommendation struct {
	Display       string     `json:"display,omitempty"`
	Horses        []HorseRef `json:"horses"`
	Probability   *float64   `json:"probability,omitempty"`
	Odds          *float64   `json:"odds,omitempty"`
	ExpectedValue *float64   `json:"expected_value,omitempty"`
	Confidence    *float64   `json:"confidence,omitempty"`
	Reasoning     string     `json:"reasoning,omitempty"`
}

// RankingPayload is the win/place shape.
type RankingPayload struct {
	Summary
	Type            Type                      `json:"prediction_type"`
	Ranking         []RankedHorse             `json:"predicted_ranking"`
	Recommendations map[string]Recommendation `json:"recommendations,omitempty"`
}

func (p *RankingPayload) PredictionType() Type { return p.Type }
func (p *RankingPayload) Base() *Summary       { return &p.Summary }

func (p *RankingPayload) itemConfidences() []float64 {
	var out []float64
	for _, r := range p.Ranking {
		if r.Confidence != nil {
			out = append(out, *r.Confidence)
		}
	}
	return out
}

func (p *RankingPayload) firstItemReasoning() string {
	if len(p.Ranking) == 0 {
		return ""
	}
	return p.Ranking[0].Reasoning
}

// CombinationPayload is the shape for quinella, exacta, quinella_place,
// trio and trifecta.
type CombinationPayload struct {
	Summary
	Type            Type                      `json:"prediction_type"`
	Ranking         []RankedHorse             `json:"predicted_ranking,omitempty"`
	TopContenders   []Contender               `json:"top_contenders,omitempty"`
	Combinations    []Combination             `json:"combinations"`
	Recommendations map[string]Recommendation `json:"recommendations,omitempty"`
}

func (p *CombinationPayload) PredictionType() Type { return p.Type }
func (p *CombinationPayload) Base() *Summary       { return &p.Summary }

func (p *CombinationPayload) itemConfidences() []float64 {
	var out []float64
	for _, c := range p.Combinations {
		if c.Confidence != nil {
			out = append(out, *c.Confidence)
		}
	}
	return out
}

func (p *CombinationPayload) firstItemReasoning() string {
	if len(p.Combinations) == 0 {
		return ""
	}
	return p.Combinations[0].Reasoning
}

// ItemCount is the number of entries in the payload's primary list.
func ItemCount(p Payload) int {
	n := len(p.Base().Predictions)
	switch v := p.(type) {
	case *RankingPayload:
		n += len(v.Ranking)
	case *CombinationPayload:
		n += len(v.Combinations)
	}
	return n
}
