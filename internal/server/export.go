package server

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ArionMiles/obligations/pkg/api"
	"github.com/ArionMiles/obligations/pkg/writer"
	"github.com/ArionMiles/obligations/pkg/writer/csv"
	"github.com/ArionMiles/obligations/pkg/writer/json"
	"github.com/ArionMiles/obligations/pkg/writer/xlsx"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

// NewExporter returns the writer for format. An empty format means CSV.
func NewExporter(format string, localized bool, logger *slog.Logger) (writer.Writer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatCSV:
		return csv.New(csv.Config{Localized: localized}, logger), nil
	case FormatJSON:
		return json.New(json.Config{Indent: true}, logger), nil
	case FormatXLSX:
		return xlsx.New(xlsx.Config{}, logger), nil
	default:
		return nil, &api.ValidationError{Fields: map[string]string{
			"format": fmt.Sprintf("must be one of %s, %s, %s", FormatCSV, FormatJSON, FormatXLSX),
		}}
	}
}
