package prediction

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

var (
	probabilityKeys = []string{"probability", "success_prob", "win_prob", "place_prob", "top2_prob", "top3_prob", "second_prob", "third_prob"}
	oddsKeys        = []string{"odds", "win_odds", "place_odds", "quinella_odds", "exacta_odds", "qp_odds", "trio_odds", "trifecta_odds"}
	orderKeys       = []string{"first", "second", "third"}
)

// DecodeJSON is Decode over raw bytes.
func DecodeJSON(t Type, data []byte) (Payload, error) {
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return Decode(t, tree)
}

// Decode validates a parsed JSON tree against the shape for t.
//
// Probability-like fields are clamped to [0,1]. Combinations with the wrong
// number of horses are dropped. A payload with no usable items is a
// *ShapeError. A root-level array is read as the "predictions" list.
func Decode(t Type, tree any) (Payload, error) {
	info, ok := typeTable[t]
	if !ok {
		return nil, fmt.Errorf("unknown prediction type %q", t)
	}

	var root map[string]any
	switch v := tree.(type) {
	case map[string]any:
		root = v
	case []any:
		root = map[string]any{"predictions": v}
	default:
		return nil, &ShapeError{Type: t, Reason: fmt.Sprintf("expected an object, got %T", tree)}
	}

	summary := decodeSummary(root)
	recs := decodeRecommendations(root["recommendations"])
	ranking := decodeRanking(firstOf(root, "predicted_ranking", "ranking"))

	switch info.Shape {
	case ShapeRanking:
		if len(ranking) == 0 && len(summary.Predictions) == 0 {
			return nil, &ShapeError{Type: t, Reason: "no ranked horses"}
		}
		return &RankingPayload{
			Summary:         summary,
			Type:            t,
			Ranking:         ranking,
			Recommendations: recs,
		}, nil

	default:
		combos := decodeCombinations(root["combinations"], info)
		if len(combos) == 0 && len(summary.Predictions) == 0 {
			return nil, &ShapeError{Type: t, Reason: fmt.Sprintf("no valid %d-horse combinations", info.PickSize)}
		}
		return &CombinationPayload{
			Summary:         summary,
			Type:            t,
			Ranking:         ranking,
			TopContenders:   decodeContenders(root["top_contenders"]),
			Combinations:    combos,
			Recommendations: recs,
		}, nil
	}
}

func decodeSummary(root map[string]any) Summary {
	s := Summary{
		OverallConfidence: probability(root["overall_confidence"]),
		Confidence:        probability(root["confidence"]),
		RaceAnalysis:      text(firstOf(root, "race_analysis", "analysis")),
		Reasoning:         text(root["reasoning"]),
		BettingAdvice:     text(root["betting_advice"]),
	}
	for _, v := range list(root["risk_factors"]) {
		if str := text(v); str != "" {
			s.RiskFactors = append(s.RiskFactors, str)
		}
	}
	for _, v := range list(root["predictions"]) {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		p := Pick{
			HorseRef:   horseRef(m),
			Rank:       integer(m["rank"]),
			Horses:     horseList(m),
			Confidence: probability(m["confidence"]),
			Reasoning:  text(m["reasoning"]),
		}
		p.Probability, p.Odds, p.ExpectedValue = pricing(m)
		s.Predictions = append(s.Predictions, p)
	}
	return s
}

func decodeRanking(v any) []RankedHorse {
	var out []RankedHorse
	for _, item := range list(v) {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		r := RankedHorse{
			HorseRef:   horseRef(m),
			Rank:       integer(m["rank"]),
			Confidence: probability(m["confidence"]),
			Reasoning:  text(m["reasoning"]),
		}
		if r.HorseRef.empty() {
			continue
		}
		r.Probability, r.Odds, r.ExpectedValue = pricing(m)
		if r.Rank <= 0 {
			r.Rank = len(out) + 1
		}
		out = append(out, r)
	}
	return out
}

func decodeCombinations(v any, info TypeInfo) []Combination {
	var out []Combination
	for _, item := range list(v) {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		horses := horseList(m)
		if len(horses) != info.PickSize || hasDuplicate(horses) {
			continue
		}
		c := Combination{
			Horses:       horses,
			Confidence:   probability(m["confidence"]),
			Reasoning:    text(m["reasoning"]),
			RaceScenario: text(m["race_scenario"]),
		}
		c.Probability, c.Odds, c.ExpectedValue = pricing(m)
		out = append(out, c)
	}
	return out
}

func decodeContenders(v any) []Contender {
	var out []Contender
	for _, item := range list(v) {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		c := Contender{HorseRef: horseRef(m), Role: text(m["role"])}
		if c.HorseRef.empty() {
			continue
		}
		c.Probability, _, _ = pricing(m)
		out = append(out, c)
	}
	return out
}

func decodeRecommendations(v any) map[string]Recommendation {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	out := make(map[string]Recommendation, len(m))
	for name, raw := range m {
		rm, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		r := Recommendation{
			Display:    text(rm["display"]),
			Horses:     horseList(rm),
			Confidence: probability(rm["confidence"]),
			Reasoning:  text(rm["reasoning"]),
		}
		if len(r.Horses) == 0 {
			if ref := horseRef(rm); !ref.empty() {
				r.Horses = []HorseRef{ref}
			}
		}
		r.Probability, r.Odds, r.ExpectedValue = pricing(rm)
		out[name] = r
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// horseRef reads horse_id / horse_name / gate (or gate_number).
func horseRef(m map[string]any) HorseRef {
	return HorseRef{
		HorseID:   text(m["horse_id"]),
		HorseName: text(firstOf(m, "horse_name", "name")),
		Gate:      integer(firstOf(m, "gate", "gate_number")),
	}
}

// horseList reads a combination's horses from "horses" or from
// first/second/third, in that order of preference.
func horseList(m map[string]any) []HorseRef {
	var out []HorseRef
	for _, v := range list(m["horses"]) {
		switch h := v.(type) {
		case map[string]any:
			if ref := horseRef(h); !ref.empty() {
				out = append(out, ref)
			}
		default:
			if g := integer(h); g > 0 {
				out = append(out, HorseRef{Gate: g})
			} else if name := text(h); name != "" {
				out = append(out, HorseRef{HorseName: name})
			}
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, key := range orderKeys {
		var ref HorseRef
		switch h := m[key].(type) {
		case map[string]any:
			ref = horseRef(h)
		default:
			ref.Gate = integer(h)
		}
		if ref.empty() {
			break
		}
		out = append(out, ref)
	}
	return out
}

func hasDuplicate(horses []HorseRef) bool {
	for i := range horses {
		for j := i + 1; j < len(horses); j++ {
			if horses[i].sameAs(horses[j]) {
				return true
			}
		}
	}
	return false
}

// pricing finds the probability and odds under whichever key the model
// used and derives the expected value when it is missing.
func pricing(m map[string]any) (prob, odds, ev *float64) {
	prob = probability(keyed(m, probabilityKeys, "_prob"))
	if o, ok := number(keyed(m, oddsKeys, "_odds")); ok {
		odds = &o
	}
	if v, ok := number(m["expected_value"]); ok {
		ev = &v
	} else if prob != nil && odds != nil {
		v := round((*prob)*(*odds)-1, 4)
		ev = &v
	}
	return prob, odds, ev
}

// keyed returns the value under the first preferred key present, falling
// back to any key with the given suffix (sorted for stable results).
func keyed(m map[string]any, preferred []string, suffix string) any {
	for _, k := range preferred {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	var extra []string
	for k := range m {
		if strings.HasSuffix(k, suffix) {
			extra = append(extra, k)
		}
	}
	if len(extra) == 0 {
		return nil
	}
	sort.Strings(extra)
	return m[extra[0]]
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func list(v any) []any {
	l, _ := v.([]any)
	return l
}

// number accepts JSON numbers and numeric strings. "35%" reads as 0.35.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		s := strings.TrimSpace(n)
		percent := strings.HasSuffix(s, "%")
		s = strings.TrimSuffix(s, "%")
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		if percent {
			f /= 100
		}
		return f, true
	}
	return 0, false
}

// probability reads a number and clamps it to [0,1].
func probability(v any) *float64 {
	f, ok := number(v)
	if !ok {
		return nil
	}
	f = Clamp(f)
	return &f
}

func integer(v any) int {
	f, ok := number(v)
	if !ok {
		return 0
	}
	return int(math.Round(f))
}

func text(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	}
	return ""
}

// Clamp bounds v to [0,1].
func Clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
