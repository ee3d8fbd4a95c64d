package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// GoldenQuestion is one entry of the golden dataset: a question with its
// human-curated expected answer.
type GoldenQuestion struct {
	Question    string `json:"question"`
	GroundTruth string `json:"ground_truth"`
}

// LoadDataset reads a golden dataset from path. JSON files hold an array
// of {question, ground_truth} objects; XLSX files hold one row per
// question with the question in the first column and ground truth in the
// second (a header row is detected and skipped).
func LoadDataset(path string) ([]GoldenQuestion, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return loadJSONDataset(path)
	case ".xlsx":
		return loadXLSXDataset(path)
	default:
		return nil, fmt.Errorf("unsupported dataset format: %s", path)
	}
}

func loadJSONDataset(path string) ([]GoldenQuestion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}
	var questions []GoldenQuestion
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("parsing dataset %s: %w", path, err)
	}
	return validateDataset(questions, path)
}

func loadXLSXDataset(path string) ([]GoldenQuestion, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s: %w", sheet, err)
	}

	var questions []GoldenQuestion
	for i, row := range rows {
		if len(row) < 2 {
			continue
		}
		q := strings.TrimSpace(row[0])
		gt := strings.TrimSpace(row[1])
		if q == "" || gt == "" {
			continue
		}
		// Header row.
		if i == 0 && strings.EqualFold(q, "question") {
			continue
		}
		questions = append(questions, GoldenQuestion{Question: q, GroundTruth: gt})
	}
	return validateDataset(questions, path)
}

func validateDataset(questions []GoldenQuestion, path string) ([]GoldenQuestion, error) {
	var valid []GoldenQuestion
	for _, q := range questions {
		if strings.TrimSpace(q.Question) == "" || strings.TrimSpace(q.GroundTruth) == "" {
			continue
		}
		valid = append(valid, q)
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("dataset %s contains no usable questions", path)
	}
	return valid, nil
}
