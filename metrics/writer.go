package metrics

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

type PlayoutRecord struct {
	Index    int
	Length   int
	Terminal bool
	Stuck    bool
	Capped   bool
	Illegal  bool
	Unscored bool
	Class    string
}

type RefinementRecord struct {
	Candidate    int
	Iteration    int
	Edit         string
	Generalizing bool
	Before       int
	After        int
	Applied      bool
}

type Writer struct {
	baseDir string
}

// NewWriter creates a timestamped subdirectory of dir for one run.
func NewWriter(dir string) (*Writer, error) {
	timestamp := time.Now().UTC().Format("20060102T150405Z")
	baseDir := filepath.Join(dir, timestamp)
	err := os.MkdirAll(baseDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	return &Writer{
		baseDir: baseDir,
	}, nil
}

func (w *Writer) Dir() string {
	return w.baseDir
}

func (w *Writer) writeCSV(name string, header []string, rows [][]string) error {
	path := filepath.Join(w.baseDir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", name, err)
	}
	if err := writer.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write %s rows: %w", name, err)
	}
	return nil
}

func (w *Writer) WritePlayoutRecords(records []PlayoutRecord) error {
	header := []string{"index", "length", "terminal", "stuck", "capped", "illegal", "unscored", "class"}
	rows := make([][]string, 0, len(records))
	for _, record := range records {
		rows = append(rows, []string{
			strconv.Itoa(record.Index),
			strconv.Itoa(record.Length),
			strconv.FormatBool(record.Terminal),
			strconv.FormatBool(record.Stuck),
			strconv.FormatBool(record.Capped),
			strconv.FormatBool(record.Illegal),
			strconv.FormatBool(record.Unscored),
			record.Class,
		})
	}
	return w.writeCSV("playouts.csv", header, rows)
}

func (w *Writer) WriteRefinementRecords(records []RefinementRecord) error {
	header := []string{"candidate", "iteration", "edit", "generalizing", "before", "after", "applied"}
	rows := make([][]string, 0, len(records))
	for _, record := range records {
		rows = append(rows, []string{
			strconv.Itoa(record.Candidate),
			strconv.Itoa(record.Iteration),
			record.Edit,
			strconv.FormatBool(record.Generalizing),
			strconv.Itoa(record.Before),
			strconv.Itoa(record.After),
			strconv.FormatBool(record.Applied),
		})
	}
	return w.writeCSV("refinement.csv", header, rows)
}

func (w *Writer) WriteRunMetric(m RunMetric) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run metric: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.baseDir, "run.json"), data, 0644); err != nil {
		return fmt.Errorf("failed to write run metric: %w", err)
	}
	return nil
}

// WritePrometheus dumps the gathered metric families in text exposition
// format.
func (w *Writer) WritePrometheus(g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	f, err := os.Create(filepath.Join(w.baseDir, "metrics.prom"))
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %w", err)
	}
	defer f.Close()
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(f, mf); err != nil {
			return fmt.Errorf("failed to write metric family: %w", err)
		}
	}
	return nil
}
