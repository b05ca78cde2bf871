package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/racewise/backend/internal/logger"
	"go.uber.org/zap"
)

// ErrUnparseable is wrapped by every Parse failure.
var ErrUnparseable = errors.New("model output is not parseable JSON")

// Stage reports which step produced parseable text.
type Stage string

const (
	StageCleaned  Stage = "cleaned"
	StageRepaired Stage = "repaired"
)

// Result holds the decoded tree together with the exact bytes that parsed.
type Result struct {
	Value any
	JSON  []byte
	Stage Stage
}

// Parse runs Extract -> Clean -> decode and, if that fails, one Repair pass
// followed by a second decode.
func Parse(raw string) (*Result, error) {
	extracted := Extract(raw)
	cleaned := Clean(extracted)

	var value any
	firstErr := json.Unmarshal([]byte(cleaned), &value)
	if firstErr == nil {
		logParse(raw, extracted, StageCleaned)
		return &Result{Value: value, JSON: []byte(cleaned), Stage: StageCleaned}, nil
	}

	repaired := Repair(cleaned)
	if err := json.Unmarshal([]byte(repaired), &value); err != nil {
		logger.L().Debug("llm json unparseable",
			zap.Int("raw_len", len(raw)),
			zap.Int("extracted_len", len(extracted)),
			zap.NamedError("clean_error", firstErr),
			zap.NamedError("repair_error", err),
		)
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	logParse(raw, extracted, StageRepaired)
	return &Result{Value: value, JSON: []byte(repaired), Stage: StageRepaired}, nil
}

func logParse(raw, extracted string, stage Stage) {
	logger.L().Debug("llm json parsed",
		zap.Int("raw_len", len(raw)),
		zap.Int("extracted_len", len(extracted)),
		zap.String("stage", string(stage)),
	)
}
