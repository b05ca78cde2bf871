package prediction

import (
	"fmt"
	"strings"
)

// Prompt is the text sent to the model: a system preamble and the task.
type Prompt struct {
	System string
	User   string
}

// String joins both parts for providers that take a single message.
func (p Prompt) String() string {
	if p.System == "" {
		return p.User
	}
	return p.System + "\n\n" + p.User
}

const systemPrompt = `당신은 한국 경마 데이터 분석가입니다.
출전마, 기수, 조교사 기록과 현재 배당률을 근거로 실전 베팅에 쓸 수 있는 예측을 만듭니다.

분석할 것:
1. 예상 순위 (1위부터 마지막까지)
2. 배당률 대비 기댓값
3. 기수/조교사 최근 성적과 거리 적성
4. 말의 최근 성적, 휴식 기간, 체중 변화
5. 거리, 주로 상태, 게이트 위치

응답은 JSON 객체 하나만 출력합니다. 설명 문장이나 코드 블록 표시는 넣지 마세요.`

const rankingGuide = `순위와 기댓값:
- 모든 출전마에 예상 순위를 매기고 근거를 적습니다.
- 기댓값 = (예상 확률 × 배당률) - 1. 0보다 크면 가치 베팅입니다.
- 예: 확률 0.30, 배당 5.0 → 0.30 × 5.0 - 1 = 0.5
- 낮은 배당(1.5~3)은 인기마, 10 이상은 비인기마입니다. 실력 대비 배당이 높은 말을 찾으세요.
- 확률과 신뢰도는 0에서 1 사이 값으로 적습니다.`

type promptSpec struct {
	task         string
	requirements []string
	probKey      string
	oddsKey      string
}

var promptSpecs = map[Type]promptSpec{
	TypeWin: {
		task:         "단승: 1위로 들어올 말 예측",
		requirements: []string{"1위 후보 상위 3마리의 승리 확률", "기댓값이 가장 높은 단승 추천", "본명 추천과 이변 시 대안"},
		probKey:      "win_prob",
		oddsKey:      "odds",
	},
	TypePlace: {
		task:         "연승: 1~2위 안에 들 말 1마리 예측",
		requirements: []string{"각 말의 1~2위 진입 확률", "연승 배당 대비 기댓값", "가장 안정적인 후보와 가치 베팅 후보"},
		probKey:      "place_prob",
		oddsKey:      "place_odds",
	},
	TypeQuinella: {
		task:         "복승: 1~2위 2마리 예측 (순서 무관)",
		requirements: []string{"1~2위 확률이 높은 상위 4마리", "2마리 조합별 적중 확률과 기댓값", "본명 조합과 고배당 조합"},
		probKey:      "top2_prob",
		oddsKey:      "quinella_odds",
	},
	TypeExacta: {
		task:         "쌍승: 1위와 2위를 정확한 순서로 예측",
		requirements: []string{"1위 후보와 2위 후보를 따로 평가", "순서가 있는 조합별 적중 확률과 기댓값", "본명 조합과 순서를 바꾼 대안"},
		probKey:      "win_prob",
		oddsKey:      "exacta_odds",
	},
	TypeQuinellaPlace: {
		task:         "복연승: 1~3위 안에 들 2마리 예측 (순서 무관)",
		requirements: []string{"각 말의 3위 이내 진입 확률", "2마리 조합별 적중 확률과 기댓값", "안정 조합과 가치 조합"},
		probKey:      "top3_prob",
		oddsKey:      "qp_odds",
	},
	TypeTrio: {
		task:         "삼복승: 1~3위 3마리 예측 (순서 무관)",
		requirements: []string{"3위 이내 후보 5마리와 역할(본명, 준본명, 다크호스, 이변마)", "3마리 조합별 적중 확률과 기댓값", "본명 조합과 이변 조합"},
		probKey:      "top3_prob",
		oddsKey:      "trio_odds",
	},
	TypeTrifecta: {
		task:         "삼쌍승: 1위, 2위, 3위를 정확한 순서로 예측",
		requirements: []string{"순위별 후보를 따로 평가", "순서가 있는 3마리 조합별 적중 확률과 기댓값", "본명 조합과 고배당 조합"},
		probKey:      "win_prob",
		oddsKey:      "trifecta_odds",
	},
}

// BuildPrompt renders the prompt for t over an already formatted race
// context.
func BuildPrompt(t Type, raceContext string) (Prompt, error) {
	spec, ok := promptSpecs[t]
	if !ok {
		return Prompt{}, fmt.Errorf("unknown prediction type %q", t)
	}
	info := typeTable[t]

	var b strings.Builder
	b.WriteString(rankingGuide)
	fmt.Fprintf(&b, "\n\n과제: %s (%s)\n\n", spec.task, info.NameEn)
	b.WriteString("경주 정보:\n")
	b.WriteString(strings.TrimSpace(raceContext))
	b.WriteString("\n\n요구사항:\n")
	b.WriteString("1. 모든 출전마의 예상 순위\n")
	for i, req := range spec.requirements {
		fmt.Fprintf(&b, "%d. %s\n", i+2, req)
	}
	if info.Shape == ShapeCombination {
		if info.Ordered {
			fmt.Fprintf(&b, "\n각 조합의 horses 배열에는 정확히 %d마리를 예상 도착 순서대로 넣습니다.\n", info.PickSize)
		} else {
			fmt.Fprintf(&b, "\n각 조합의 horses 배열에는 서로 다른 말 정확히 %d마리를 넣습니다.\n", info.PickSize)
		}
	}
	b.WriteString("\n출력 형식 (JSON):\n")
	b.WriteString(skeleton(info, spec))

	return Prompt{System: systemPrompt, User: b.String()}, nil
}

func skeleton(info TypeInfo, spec promptSpec) string {
	horse := `"horse_id": "등록번호", "horse_name": "이름", "gate": 1`
	var b strings.Builder
	b.WriteString("{\n  \"predicted_ranking\": [\n")
	fmt.Fprintf(&b, "    {\"rank\": 1, %s, %q: 0.35, %q: 3.2, \"expected_value\": 0.12, \"reasoning\": \"근거\"},\n", horse, spec.probKey, spec.oddsKey)
	b.WriteString("    ...모든 출전마\n  ],\n")

	if info.Shape == ShapeRanking {
		b.WriteString("  \"recommendations\": {\n")
		fmt.Fprintf(&b, "    \"primary\": {%s, %q: 0.35, %q: 3.2, \"expected_value\": 0.12, \"reasoning\": \"추천 이유\", \"confidence\": 0.8},\n", horse, spec.probKey, spec.oddsKey)
		fmt.Fprintf(&b, "    \"value_bet\": {%s, %q: 0.15, %q: 12.0, \"expected_value\": 0.8, \"reasoning\": \"가치 베팅 이유\", \"confidence\": 0.5}\n", horse, spec.probKey, spec.oddsKey)
		b.WriteString("  },\n")
	} else {
		b.WriteString("  \"top_contenders\": [\n")
		fmt.Fprintf(&b, "    {%s, %q: 0.6, \"role\": \"본명\"}\n", horse, spec.probKey)
		b.WriteString("  ],\n  \"combinations\": [\n    {\n      \"horses\": [")
		for i := 0; i < info.PickSize; i++ {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, `{"horse_id": "등록번호", "horse_name": "이름", "gate": %d}`, i+1)
		}
		fmt.Fprintf(&b, "],\n      \"success_prob\": 0.2, %q: 8.5, \"expected_value\": 0.7,\n", spec.oddsKey)
		b.WriteString("      \"reasoning\": \"조합 분석\", \"confidence\": 0.7\n    }\n  ],\n")
		b.WriteString("  \"recommendations\": {\n")
		b.WriteString("    \"primary\": {\"display\": \"1-2\", \"horses\": [...], \"success_prob\": 0.2, \"odds\": 8.5, \"expected_value\": 0.7, \"reasoning\": \"추천 이유\"}\n")
		b.WriteString("  },\n")
	}

	b.WriteString("  \"betting_advice\": \"베팅 전략\",\n")
	b.WriteString("  \"overall_confidence\": 0.7,\n")
	b.WriteString("  \"race_analysis\": \"경주 전체 분석\",\n")
	b.WriteString("  \"risk_factors\": [\"리스크\"]\n}")
	return b.String()
}
