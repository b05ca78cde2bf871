package kra

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// envelope is the public-data-portal response wrapper.
type envelope[T any] struct {
	Response struct {
		Header struct {
			ResultCode string `json:"resultCode"`
			ResultMsg  string `json:"resultMsg"`
		} `json:"header"`
		Body struct {
			Items      itemList[T] `json:"items"`
			TotalCount Int         `json:"totalCount"`
			PageNo     Int         `json:"pageNo"`
			NumOfRows  Int         `json:"numOfRows"`
		} `json:"body"`
	} `json:"response"`
}

// itemList decodes body.items, which the portal sends as {"item": [...]},
// {"item": {...}} for a single row, or "" when empty.
type itemList[T any] struct {
	Item []T
}

func (l *itemList[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil
	}
	var wrapper struct {
		Item json.RawMessage `json:"item"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}
	raw := bytes.TrimSpace(wrapper.Item)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		return nil
	case raw[0] == '[':
		return json.Unmarshal(raw, &l.Item)
	default:
		var one T
		if err := json.Unmarshal(raw, &one); err != nil {
			return err
		}
		l.Item = []T{one}
		return nil
	}
}

// Int accepts 3, "3" and "" (zero).
type Int int

func (n *Int) UnmarshalJSON(data []byte) error {
	*n = Int(flexNumber(data))
	return nil
}

// Float accepts 3.5, "3.5", "3,500" and "" (zero).
type Float float64

func (n *Float) UnmarshalJSON(data []byte) error {
	*n = Float(flexNumber(data))
	return nil
}

// flexNumber never fails: placeholders such as "N/A" decode as zero so one
// odd cell does not drop the whole page.
func flexNumber(data []byte) float64 {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// String accepts JSON strings and numbers (registration numbers arrive as both).
type String string

func (s *String) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = String(strings.TrimSpace(v))
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	*s = String(data)
	return nil
}

type RaceInfo struct {
	RcDate    String `json:"rcDate"`
	RcNo      Int    `json:"rcNo"`
	Meet      String `json:"meet"`
	RcDist    Int    `json:"rcDist"`
	RcTime    String `json:"rcTime"`
	TrackStat String `json:"trackStat"`
	Weather   String `json:"weather"`
	RcName    String `json:"rcName"`
	DivSn     String `json:"divSn"`
	ChulNo    Int    `json:"chulNo"`
	Prize1    Float  `json:"prize1"`
}

type HorseEntry struct {
	RcDate  String `json:"rcDate"`
	RcNo    Int    `json:"rcNo"`
	Meet    String `json:"meet"`
	HrNo    String `json:"hrNo"`
	HrName  String `json:"hrName"`
	HrRegNo String `json:"hrRegNo"`
	Sex     String `json:"sex"`
	Age     Int    `json:"age"`
	Rating  Int    `json:"rating"`
	WgHr    Float  `json:"wgHr"`
	WgBudam Float  `json:"wgBudam"`
	JkName  String `json:"jkName"`
	JkNo    String `json:"jkNo"`
	TrName  String `json:"trName"`
	TrNo    String `json:"trNo"`
	Ord     Int    `json:"ord"`
	OrdNo   Int    `json:"ordNo"` // gate
	RcTime  String `json:"rcTime"`
	Odds    Float  `json:"odds"`
}

// Gate falls back to the horse number when the gate column is empty.
func (e HorseEntry) Gate() int {
	if e.OrdNo > 0 {
		return int(e.OrdNo)
	}
	n, _ := strconv.Atoi(string(e.HrNo))
	return n
}

// RegistrationNumber prefers hrRegNo; older rows only carry hrNo.
func (e HorseEntry) RegistrationNumber() string {
	if e.HrRegNo != "" {
		return string(e.HrRegNo)
	}
	return string(e.HrNo)
}

type HorseDetail struct {
	HrNo       String `json:"hrNo"`
	HrName     String `json:"hrName"`
	HrNameEn   String `json:"hrNameEn"`
	BirthDate  String `json:"birthDate"`
	Sex        String `json:"sex"`
	Rating     Int    `json:"rating"`
	TotRcCnt   Int    `json:"totRcCnt"`
	TotWinCnt  Int    `json:"totWinCnt"`
	TotPlcCnt  Int    `json:"totPlcCnt"`
	TotShowCnt Int    `json:"totShowCnt"`
	TotPrize   Float  `json:"totPrize"`
}

type JockeyInfo struct {
	JkNo      String `json:"jkNo"`
	JkName    String `json:"jkName"`
	JkNameEn  String `json:"jkNameEn"`
	DebDate   String `json:"debDate"`
	TotRcCnt  Int    `json:"totRcCnt"`
	TotWinCnt Int    `json:"totWinCnt"`
	Win1Rate  Float  `json:"win1Rate"`
	Plc2Rate  Float  `json:"plc2Rate"`
}

type TrainerInfo struct {
	TrNo      String `json:"trNo"`
	TrName    String `json:"trName"`
	TrNameEn  String `json:"trNameEn"`
	Stable    String `json:"stable"`
	DebDate   String `json:"debDate"`
	TotRcCnt  Int    `json:"totRcCnt"`
	TotWinCnt Int    `json:"totWinCnt"`
	WinRate   Float  `json:"winRate"`
}

type RaceResult struct {
	RcDate String `json:"rcDate"`
	RcNo   Int    `json:"rcNo"`
	Meet   String `json:"meet"`
	Ord    Int    `json:"ord"`
	HrNo   String `json:"hrNo"`
	HrName String `json:"hrName"`
	RcTime String `json:"rcTime"`
}
