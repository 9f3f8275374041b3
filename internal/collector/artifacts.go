package collector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wonny/kisradar/internal/marketcal"
	"github.com/wonny/kisradar/pkg/logger"
)

// ArtifactWriter persists run outputs as JSON files: a stable latest name
// plus a timestamped copy per artifact.
type ArtifactWriter struct {
	outputDir string
	logger    *logger.Logger
}

// NewArtifactWriter returns a writer rooted at outputDir.
func NewArtifactWriter(outputDir string, log *logger.Logger) *ArtifactWriter {
	return &ArtifactWriter{outputDir: outputDir, logger: log}
}

// writeJSON writes v as indented UTF-8 JSON. 한글이 그대로 보이도록 HTML
// 이스케이프는 끈다.
func (w *ArtifactWriter) writeJSON(filename string, v interface{}) error {
	if err := os.MkdirAll(w.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	path := filepath.Join(w.outputDir, filename)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	w.logger.WithField("path", path).Info("artifact written")
	return nil
}

// WriteRun persists every artifact of a run: the raw bundle, the normalized
// stocks and the criteria results.
func (w *ArtifactWriter) WriteRun(result *RunResult) error {
	stamp := result.Meta.CollectedAt.In(marketcal.KST).Format("20060102_150405")

	if err := w.writeJSON("kis_latest.json", result); err != nil {
		return err
	}
	if err := w.writeJSON(fmt.Sprintf("kis_data_%s.json", stamp), result); err != nil {
		return err
	}

	if result.Stocks != nil {
		if err := w.writeJSON("kis_stocks.json", result.Stocks); err != nil {
			return err
		}
		if err := w.writeJSON(fmt.Sprintf("kis_stocks_%s.json", stamp), result.Stocks); err != nil {
			return err
		}
	}

	if result.Criteria != nil {
		if err := w.writeJSON("criteria_data.json", result.Criteria); err != nil {
			return err
		}
	}

	return nil
}
