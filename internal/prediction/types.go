/**
 * @description
 * Prediction types and the fixed type -> output-shape table.
 * Korean racing bet structures:
 * - win (단승): the winner
 * - place (연승): one horse finishing 1st-2nd
 * - quinella (복승): 1st and 2nd in any order
 * - exacta (쌍승): 1st and 2nd in exact order
 * - quinella_place (복연승): two horses both in the top 3, any order
 * - trio (삼복승): top 3 in any order
 * - trifecta (삼쌍승): top 3 in exact order
 */

package prediction

import (
	"fmt"
	"strings"
)

// Type is one of the seven recognised prediction tags.
type Type string

const (
	TypeWin           Type = "win"
	TypePlace         Type = "place"
	TypeQuinella      Type = "quinella"
	TypeExacta        Type = "exacta"
	TypeQuinellaPlace Type = "quinella_place"
	TypeTrio          Type = "trio"
	TypeTrifecta      Type = "trifecta"
)

// Shape is the JSON layout the model must produce for a type.
type Shape string

const (
	ShapeRanking     Shape = "ranking"
	ShapeCombination Shape = "combination"
)

// TypeInfo describes a prediction type.
type TypeInfo struct {
	Name        string
	NameEn      string
	Description string
	Shape       Shape
	PickSize    int  // horses per combination; 1 for ranking types
	Ordered     bool // combination order matters
	MinRunners  int
}

var typeTable = map[Type]TypeInfo{
	TypeWin:           {Name: "단승", NameEn: "Win", Description: "1위 예측", Shape: ShapeRanking, PickSize: 1, MinRunners: 2},
	TypePlace:         {Name: "연승", NameEn: "Place", Description: "1~2위 안에 들 말 1마리", Shape: ShapeRanking, PickSize: 1, MinRunners: 2},
	TypeQuinella:      {Name: "복승", NameEn: "Quinella", Description: "1~2위 2마리 (순서 무관)", Shape: ShapeCombination, PickSize: 2, MinRunners: 2},
	TypeExacta:        {Name: "쌍승", NameEn: "Exacta", Description: "1~2위 2마리 (정확한 순서)", Shape: ShapeCombination, PickSize: 2, Ordered: true, MinRunners: 2},
	TypeQuinellaPlace: {Name: "복연승", NameEn: "Quinella Place", Description: "1~3위 안에 들 2마리 (순서 무관)", Shape: ShapeCombination, PickSize: 2, MinRunners: 3},
	TypeTrio:          {Name: "삼복승", NameEn: "Trio", Description: "1~3위 3마리 (순서 무관)", Shape: ShapeCombination, PickSize: 3, MinRunners: 3},
	TypeTrifecta:      {Name: "삼쌍승", NameEn: "Trifecta", Description: "1~3위 3마리 (정확한 순서)", Shape: ShapeCombination, PickSize: 3, Ordered: true, MinRunners: 3},
}

var orderedTypes = []Type{TypeWin, TypePlace, TypeQuinella, TypeExacta, TypeQuinellaPlace, TypeTrio, TypeTrifecta}

// AllTypes returns every type in display order.
func AllTypes() []Type {
	out := make([]Type, len(orderedTypes))
	copy(out, orderedTypes)
	return out
}

// ParseType accepts a tag case-insensitively; "-" is accepted for "_".
func ParseType(s string) (Type, error) {
	t := Type(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if _, ok := typeTable[t]; !ok {
		return "", fmt.Errorf("unknown prediction type %q", s)
	}
	return t, nil
}

// ParseTypes parses a list, failing on the first unknown tag.
func ParseTypes(tags []string) ([]Type, error) {
	out := make([]Type, 0, len(tags))
	for _, tag := range tags {
		t, err := ParseType(tag)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Valid reports whether t is one of the recognised tags.
func (t Type) Valid() bool {
	_, ok := typeTable[t]
	return ok
}

// Info returns the table row for t. Unknown types yield the zero value.
func (t Type) Info() TypeInfo {
	return typeTable[t]
}

func (t Type) String() string {
	return string(t)
}
