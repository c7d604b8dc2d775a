package caselist

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pitabwire/vetdesk/internal/observability"
	"github.com/pitabwire/vetdesk/model"
)

// utf8BOM prefixes every export so spreadsheet tools detect the encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var csvHeader = []string{"id", "patient_name", "species", "chief_complaint", "has_analysis"}

// exportTimestamp is the layout used in export file names.
const exportTimestamp = "20060102-150405"

// Export is a finished CSV file.
type Export struct {
	Filename string
	Data     []byte
	Rows     int
	Batches  int
}

// ExportPage serializes the displayed rows.
func (c *Controller) ExportPage() (Export, error) {
	c.mu.Lock()
	items := append([]model.Case(nil), c.items...)
	page := c.query.Page
	c.mu.Unlock()

	if len(items) == 0 {
		c.opts.Metrics.RecordExport("page", "empty", 0)
		return Export{}, model.NewPanelError(model.ErrNothingToExport, "nothing to export")
	}

	data, err := encodeCSV(items)
	if err != nil {
		c.opts.Metrics.RecordExport("page", "failed", 0)
		return Export{}, err
	}
	c.opts.Metrics.RecordExport("page", "ok", len(items))
	return Export{
		Filename: fmt.Sprintf("cases_page%d_%s.csv", page, c.opts.Now().Format(exportTimestamp)),
		Data:     data,
		Rows:     len(items),
	}, nil
}

// ExportAll pages through every case matching the displayed search filter
// in batches of ExportBatchSize, pausing ExportBatchDelay between batches.
// It stops at the first short batch or once an authoritative total has been
// collected. Reaching ExportMaxBatches first fails with EXPORT_TRUNCATED and
// produces no file.
func (c *Controller) ExportAll(ctx context.Context) (exp Export, err error) {
	c.mu.Lock()
	search := c.query.Search
	c.mu.Unlock()

	size := c.opts.ExportBatchSize
	limit := rate.Inf
	if c.opts.ExportBatchDelay > 0 {
		limit = rate.Every(c.opts.ExportBatchDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	ctx, span := observability.StartSpan(ctx, "caselist.export_all",
		observability.AttrPageSize.Int(size),
	)
	defer func() {
		span.SetAttributes(observability.AttrRows.Int(exp.Rows))
		observability.EndSpanWithError(span, err)
	}()

	var (
		rows     []model.Case
		batches  int
		complete bool
	)
	for batch := 1; batch <= c.opts.ExportMaxBatches; batch++ {
		if err := limiter.Wait(ctx); err != nil {
			c.opts.Metrics.RecordExport("all", "failed", 0)
			return Export{}, fmt.Errorf("caselist: export paused: %w", err)
		}

		page, err := c.api.ListCases(ctx, model.ListQuery{Search: search, Page: batch, PageSize: size})
		if err != nil {
			c.opts.Metrics.RecordExport("all", "failed", 0)
			return Export{}, err
		}
		batches++
		rows = append(rows, page.Items...)

		if len(page.Items) < size || (page.TotalAuthoritative() && len(rows) >= page.Total) {
			complete = true
			break
		}
	}

	if !complete {
		c.opts.Metrics.RecordExport("all", "truncated", len(rows))
		observability.RequestLogger(ctx, c.log).Error("export stopped at batch ceiling",
			zap.Int("batches", batches),
			zap.Int("rows", len(rows)),
		)
		return Export{}, model.NewPanelError(model.ErrExportTruncated,
			fmt.Sprintf("export stopped after %d batches (%d rows) before the end of the result set", batches, len(rows)))
	}
	if len(rows) == 0 {
		c.opts.Metrics.RecordExport("all", "empty", 0)
		return Export{}, model.NewPanelError(model.ErrNothingToExport, "no cases match the current filter")
	}

	data, err := encodeCSV(rows)
	if err != nil {
		c.opts.Metrics.RecordExport("all", "failed", 0)
		return Export{}, err
	}
	c.opts.Metrics.RecordExport("all", "ok", len(rows))
	return Export{
		Filename: fmt.Sprintf("cases_full_%s.csv", c.opts.Now().Format(exportTimestamp)),
		Data:     data,
		Rows:     len(rows),
		Batches:  batches,
	}, nil
}

// encodeCSV writes the BOM, the header and one record per case. Fields with
// commas, quotes or line breaks are quoted with inner quotes doubled.
func encodeCSV(items []model.Case) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(utf8BOM)

	w := csv.NewWriter(&buf)
	w.UseCRLF = true
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("caselist: write csv header: %w", err)
	}
	for _, it := range items {
		record := []string{
			strconv.FormatInt(it.ID, 10),
			it.PatientName,
			string(it.Species),
			it.ChiefComplaint,
			strconv.FormatBool(it.HasAnalysis()),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("caselist: write csv row %d: %w", it.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("caselist: flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
