package sheets

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"

	"github.com/partnerdesk/backend/internal/faults"
)

// API is the narrow vendor surface the gateway drives. All calls are
// blocking; the gateway ships them to the worker pool. Implementations
// classify nothing; raw vendor errors come back and the gateway maps them
// through the taxonomy.
type API interface {
	GetRange(ctx context.Context, spreadsheetID, a1 string) ([][]string, error)
	UpdateRange(ctx context.Context, spreadsheetID, a1 string, values [][]string) error
	BatchUpdateRanges(ctx context.Context, spreadsheetID string, data map[string][][]string) error
	AppendRow(ctx context.Context, spreadsheetID, sheetName string, row []string) error
	SetBackground(ctx context.Context, spreadsheetID, sheetName string, rowIdx, colIdx int, color Color) error

	// Invalidate drops the cached client and spreadsheet handles so the next
	// call rebuilds them. Used on authentication errors and by the health
	// monitor after repeated contour failures.
	Invalidate()
}

// GoogleAPI implements API over the Sheets v4 client. The authorized service
// and the sheet-title→grid-id lookups are cached until Invalidate.
type GoogleAPI struct {
	credentialsJSON []byte
	credentialsFile string

	mu   sync.Mutex
	svc  *sheetsv4.Service
	gids map[string]int64 // "spreadsheetID/title" -> sheetId
}

// NewGoogleAPI builds the adapter from service-account credentials; exactly
// one of credentialsJSON / credentialsFile must be set.
func NewGoogleAPI(credentialsJSON []byte, credentialsFile string) *GoogleAPI {
	return &GoogleAPI{
		credentialsJSON: credentialsJSON,
		credentialsFile: credentialsFile,
		gids:            make(map[string]int64),
	}
}

func (g *GoogleAPI) service(ctx context.Context) (*sheetsv4.Service, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.svc != nil {
		return g.svc, nil
	}
	opts := []option.ClientOption{option.WithScopes(sheetsv4.SpreadsheetsScope)}
	if g.credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(g.credentialsFile))
	} else {
		opts = append(opts, option.WithCredentialsJSON(g.credentialsJSON))
	}
	svc, err := sheetsv4.NewService(ctx, opts...)
	if err != nil {
		return nil, faults.Wrap(faults.KindPermanent, err, "build sheets client")
	}
	g.svc = svc
	return svc, nil
}

func (g *GoogleAPI) Invalidate() {
	g.mu.Lock()
	g.svc = nil
	g.gids = make(map[string]int64)
	g.mu.Unlock()
}

func (g *GoogleAPI) GetRange(ctx context.Context, spreadsheetID, a1 string) ([][]string, error) {
	svc, err := g.service(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Spreadsheets.Values.Get(spreadsheetID, a1).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	rows := make([][]string, len(resp.Values))
	for i, raw := range resp.Values {
		row := make([]string, len(raw))
		for j, cell := range raw {
			row[j] = fmt.Sprint(cell)
		}
		rows[i] = row
	}
	return rows, nil
}

func (g *GoogleAPI) UpdateRange(ctx context.Context, spreadsheetID, a1 string, values [][]string) error {
	svc, err := g.service(ctx)
	if err != nil {
		return err
	}
	_, err = svc.Spreadsheets.Values.Update(spreadsheetID, a1, toValueRange(a1, values)).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}

func (g *GoogleAPI) BatchUpdateRanges(ctx context.Context, spreadsheetID string, data map[string][][]string) error {
	svc, err := g.service(ctx)
	if err != nil {
		return err
	}
	req := &sheetsv4.BatchUpdateValuesRequest{ValueInputOption: "RAW"}
	for a1, values := range data {
		req.Data = append(req.Data, toValueRange(a1, values))
	}
	_, err = svc.Spreadsheets.Values.BatchUpdate(spreadsheetID, req).Context(ctx).Do()
	return err
}

func (g *GoogleAPI) AppendRow(ctx context.Context, spreadsheetID, sheetName string, row []string) error {
	svc, err := g.service(ctx)
	if err != nil {
		return err
	}
	cells := make([]interface{}, len(row))
	for i, v := range row {
		cells[i] = v
	}
	vr := &sheetsv4.ValueRange{Values: [][]interface{}{cells}}
	_, err = svc.Spreadsheets.Values.Append(spreadsheetID, SheetA1(sheetName), vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

func (g *GoogleAPI) SetBackground(ctx context.Context, spreadsheetID, sheetName string, rowIdx, colIdx int, color Color) error {
	svc, err := g.service(ctx)
	if err != nil {
		return err
	}
	gid, err := g.gridID(ctx, svc, spreadsheetID, sheetName)
	if err != nil {
		return err
	}
	req := &sheetsv4.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsv4.Request{{
			RepeatCell: &sheetsv4.RepeatCellRequest{
				Range: &sheetsv4.GridRange{
					SheetId:          gid,
					StartRowIndex:    int64(rowIdx - 1),
					EndRowIndex:      int64(rowIdx),
					StartColumnIndex: int64(colIdx - 1),
					EndColumnIndex:   int64(colIdx),
				},
				Cell: &sheetsv4.CellData{
					UserEnteredFormat: &sheetsv4.CellFormat{
						BackgroundColor: &sheetsv4.Color{
							Red:   color.Red,
							Green: color.Green,
							Blue:  color.Blue,
						},
					},
				},
				Fields: "userEnteredFormat.backgroundColor",
			},
		}},
	}
	_, err = svc.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do()
	return err
}

// gridID resolves a sheet title to its numeric grid id, caching the answer.
func (g *GoogleAPI) gridID(ctx context.Context, svc *sheetsv4.Service, spreadsheetID, title string) (int64, error) {
	key := spreadsheetID + "/" + title
	g.mu.Lock()
	gid, ok := g.gids[key]
	g.mu.Unlock()
	if ok {
		return gid, nil
	}

	meta, err := svc.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	for _, sh := range meta.Sheets {
		if sh.Properties != nil && sh.Properties.Title == title {
			g.mu.Lock()
			g.gids[key] = sh.Properties.SheetId
			g.mu.Unlock()
			return sh.Properties.SheetId, nil
		}
	}
	return 0, faults.NotFound("sheet %q not present in spreadsheet", title)
}

func toValueRange(a1 string, values [][]string) *sheetsv4.ValueRange {
	out := make([][]interface{}, len(values))
	for i, row := range values {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		out[i] = cells
	}
	return &sheetsv4.ValueRange{Range: a1, Values: out}
}
