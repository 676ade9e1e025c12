package broker

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/sirupsen/logrus"
)

var (
	// ErrMalformedRow marks a row whose fields could not be converted.
	ErrMalformedRow = errors.New("malformed transaction row")
	// ErrNoHeader is returned when the export has no recognizable header line.
	ErrNoHeader = errors.New("transaction export has no header")
)

// CSVSource reads a brokerage CSV export from a file or reader.
type CSVSource struct {
	path   string
	reader io.Reader
	logger *logrus.Logger
}

// Ensure CSVSource implements TransactionSource at compile time.
var _ TransactionSource = (*CSVSource)(nil)

// NewCSVFile creates a source that reads the export at path.
func NewCSVFile(path string, logger *logrus.Logger) *CSVSource {
	return &CSVSource{path: path, logger: orDefault(logger)}
}

// NewCSVReader creates a source that reads an export from r.
func NewCSVReader(r io.Reader, logger *logrus.Logger) *CSVSource {
	return &CSVSource{reader: r, logger: orDefault(logger)}
}

func orDefault(logger *logrus.Logger) *logrus.Logger {
	if logger == nil {
		return logrus.StandardLogger()
	}
	return logger
}

// Transactions parses the whole export. Rows whose fields fail to convert are
// returned with Err set; only unreadable input fails the call.
func (s *CSVSource) Transactions(ctx context.Context) ([]Transaction, error) {
	data, err := s.read()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body, headerLine, err := trimPreamble(data)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(body))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var rows []Row
	if err := gocsv.UnmarshalCSV(reader, &rows); err != nil {
		return nil, fmt.Errorf("decoding transaction export: %w", err)
	}

	txs := make([]Transaction, 0, len(rows))
	for i, row := range rows {
		line := headerLine + i + 1
		if isTotalRow(row) {
			s.logger.WithField("line", line).Debug("Skipping export total row")
			continue
		}
		tx := row.toTransaction(line)
		if tx.Err != nil && tx.Action.Relevant() {
			s.logger.WithFields(logrus.Fields{
				"line":   line,
				"action": tx.Action,
				"symbol": tx.Symbol,
			}).Warnf("Transaction row has bad fields: %v", tx.Err)
		}
		txs = append(txs, tx)
	}

	s.logger.WithFields(logrus.Fields{
		"rows":   len(txs),
		"source": s.name(),
	}).Debug("Loaded transaction export")
	return txs, nil
}

func (s *CSVSource) read() ([]byte, error) {
	if s.reader != nil {
		data, err := io.ReadAll(s.reader)
		if err != nil {
			return nil, fmt.Errorf("reading transaction export: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading transaction export %s: %w", s.path, err)
	}
	return data, nil
}

func (s *CSVSource) name() string {
	if s.path != "" {
		return s.path
	}
	return "reader"
}

// trimPreamble drops any title lines before the header and returns the
// remaining bytes with the header's 1-based line number.
func trimPreamble(data []byte) ([]byte, int, error) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))

	offset := 0
	for i, line := range bytes.SplitAfter(data, []byte("\n")) {
		text := strings.TrimSpace(string(line))
		if strings.HasPrefix(strings.TrimLeft(text, "\""), "Date") && strings.Contains(text, "Action") {
			return data[offset:], i + 1, nil
		}
		offset += len(line)
	}
	return nil, 0, ErrNoHeader
}

func isTotalRow(r Row) bool {
	return strings.HasPrefix(strings.TrimSpace(r.Date), "Transactions Total")
}
