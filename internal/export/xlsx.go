package export

import (
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/geonext/internal/evaluate"
	"github.com/sells-group/geonext/internal/model"
)

// Sheet names of the evaluation workbook.
const (
	SummarySheet = "summary"
	RecordsSheet = "records"
)

var recordHeader = []string{
	"document_id", "mention_index", "surface", "resolved",
	"gold_latitude", "gold_longitude", "predicted_latitude", "predicted_longitude", "distance_km",
}

// WriteEvaluationReport writes a workbook with a metrics summary sheet and
// one row per evaluation record.
func WriteEvaluationReport(w io.Writer, runID string, m evaluate.Metrics, records []model.EvaluationRecord) error {
	f := xlsx.NewFile()

	summary, err := f.AddSheet(SummarySheet)
	if err != nil {
		return eris.Wrap(err, "xlsx: add summary sheet")
	}
	for _, kv := range summaryRows(runID, m) {
		row := summary.AddRow()
		row.AddCell().SetString(kv.key)
		switch v := kv.value.(type) {
		case float64:
			row.AddCell().SetFloat(v)
		case int:
			row.AddCell().SetInt(v)
		default:
			row.AddCell().SetString(fmt.Sprint(v))
		}
	}

	sheet, err := f.AddSheet(RecordsSheet)
	if err != nil {
		return eris.Wrap(err, "xlsx: add records sheet")
	}
	header := sheet.AddRow()
	for _, h := range recordHeader {
		header.AddCell().SetString(h)
	}
	for _, r := range records {
		row := sheet.AddRow()
		row.AddCell().SetString(r.DocumentID)
		row.AddCell().SetInt(r.MentionIndex)
		row.AddCell().SetString(r.Surface)
		row.AddCell().SetBool(r.Resolved)
		row.AddCell().SetFloat(r.Gold.Latitude)
		row.AddCell().SetFloat(r.Gold.Longitude)
		if r.Predicted != nil {
			row.AddCell().SetFloat(r.Predicted.Latitude)
			row.AddCell().SetFloat(r.Predicted.Longitude)
		} else {
			row.AddCell().SetString("")
			row.AddCell().SetString("")
		}
		row.AddCell().SetFloat(r.DistanceKM)
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "xlsx: write workbook")
	}
	return nil
}

type summaryRow struct {
	key   string
	value any
}

func summaryRows(runID string, m evaluate.Metrics) []summaryRow {
	rows := []summaryRow{
		{"run_id", runID},
		{"records", m.Records},
		{"resolved", m.Resolved},
		{"coverage", m.Coverage},
		{"accuracy_at_161km", m.AccuracyAt161},
		{"accuracy_at_500m", m.AccuracyAt500m},
		{"mean_error_km", m.MeanKM},
		{"median_error_km", m.MedianKM},
		{"auc", m.AUC},
		{"unresolved_policy", string(m.Policy)},
	}
	if m.Policy == evaluate.PolicyPenalize {
		rows = append(rows, summaryRow{"penalty_km", m.PenaltyKM})
	}
	if e := m.Extraction; e != nil {
		rows = append(rows,
			summaryRow{"extraction_true_positives", e.TruePositives},
			summaryRow{"extraction_false_positives", e.FalsePositives},
			summaryRow{"extraction_false_negatives", e.FalseNegatives},
			summaryRow{"extraction_precision", e.Precision},
			summaryRow{"extraction_recall", e.Recall},
			summaryRow{"extraction_f1", e.F1},
		)
	}
	return rows
}

// ReadSheet returns the rows of the named sheet of an xlsx workbook as
// strings.
func ReadSheet(data []byte, name string) ([][]string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open workbook")
	}
	sheet, ok := f.Sheet[name]
	if !ok {
		return nil, eris.Errorf("xlsx: sheet %q not found", name)
	}
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
