package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"quickpe/pkg/wallet"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

// MaxExportRows caps one export.
const MaxExportRows = 1000

// parseHistoryQuery reads page, limit, type, from, to and search.
func parseHistoryQuery(v url.Values) (wallet.HistoryQuery, error) {
	var q wallet.HistoryQuery
	var err error

	if q.Page, err = intParam(v, "page"); err != nil {
		return q, err
	}
	if q.PageSize, err = intParam(v, "limit"); err != nil {
		return q, err
	}
	if q.PageSize > wallet.MaxPageSize {
		return q, badRequest("limit must be at most %d", wallet.MaxPageSize)
	}
	if q.Type, err = wallet.ParseEntryType(v.Get("type")); err != nil {
		return q, badRequest("type must be credit or debit")
	}
	if q.Since, err = timeParam(v, "from", false); err != nil {
		return q, err
	}
	if q.Until, err = timeParam(v, "to", true); err != nil {
		return q, err
	}
	q.Search = v.Get("search")

	return q, nil
}

func intParam(v url.Values, key string) (int, error) {
	s := v.Get(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, badRequest("%s must be a positive integer", key)
	}
	return n, nil
}

// timeParam accepts RFC 3339 or a plain date. A plain date used as an upper
// bound covers the whole day.
func timeParam(v url.Values, key string, endOfDay bool) (time.Time, error) {
	s := v.Get(key)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, badRequest("%s must be a date (YYYY-MM-DD) or RFC 3339 time", key)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

type historyResponse struct {
	Success bool `json:"success"`
	wallet.HistoryPage
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q, err := parseHistoryQuery(r.URL.Query())
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}

	page, err := s.wallet.History(r.Context(), accountID(r.Context()), q)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{Success: true, HistoryPage: page})
}

type summaryResponse struct {
	Success bool `json:"success"`
	Days    int  `json:"days"`
	wallet.Summary
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r.URL.Query(), "days")
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	if days == 0 {
		days = wallet.DefaultSummaryDays
	}

	sum, err := s.wallet.Summary(r.Context(), accountID(r.Context()), days)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, summaryResponse{Success: true, Days: days, Summary: sum})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "xlsx" {
		s.fail(ctx, w, badRequest("format must be csv or xlsx"))
		return
	}

	q, err := parseHistoryQuery(r.URL.Query())
	if err != nil {
		s.fail(ctx, w, err)
		return
	}

	entries, err := s.collect(ctx, accountID(ctx), q)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}

	var (
		buf         bytes.Buffer
		contentType string
	)
	switch format {
	case "csv":
		contentType = "text/csv"
		err = writeCSV(&buf, entries)
	case "xlsx":
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		err = writeXLSX(&buf, entries)
	}
	if err != nil {
		s.fail(ctx, w, fmt.Errorf("api: render %s export: %w", format, err))
		return
	}

	fileName := fmt.Sprintf("quickpe_transactions_%s.%s", time.Now().UTC().Format("20060102_150405"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+fileName)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

// collect pages through the history with the filters of q, newest first,
// up to MaxExportRows entries.
func (s *Server) collect(ctx context.Context, id uuid.UUID, q wallet.HistoryQuery) ([]wallet.Entry, error) {
	q.PageSize = wallet.MaxPageSize
	q.Page = 1

	var out []wallet.Entry
	for len(out) < MaxExportRows {
		page, err := s.wallet.History(ctx, id, q)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Entries...)
		if q.Page >= page.TotalPages {
			break
		}
		q.Page++
	}
	if len(out) > MaxExportRows {
		out = out[:MaxExportRows]
	}
	return out, nil
}

var exportHeader = []string{"Transaction ID", "Date", "Type", "Kind", "Amount", "Other Party", "Description"}

func exportRow(e wallet.Entry) []string {
	other := ""
	if e.OtherParty != uuid.Nil {
		other = e.OtherParty.String()
	}
	return []string{
		e.TransactionID,
		e.CreatedAt.UTC().Format(time.RFC3339),
		string(e.Type),
		string(e.Kind),
		e.Amount.String(),
		other,
		e.Description,
	}
}

func writeCSV(buf *bytes.Buffer, entries []wallet.Entry) error {
	cw := csv.NewWriter(buf)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write(exportRow(e)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX(buf *bytes.Buffer, entries []wallet.Entry) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheetName = "Transactions"
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	for i, header := range exportHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, header)
	}

	for i, e := range entries {
		row := exportRow(e)
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		// keep amounts numeric so spreadsheets can sum them
		values[4] = e.Amount.Decimal().InexactFloat64()
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return err
		}
	}

	_, err := f.WriteTo(buf)
	return err
}
