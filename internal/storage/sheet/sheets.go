package sheet

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Sheets — лист Google Sheets, доступный через Values API.
type Sheets struct {
	values        *sheets.SpreadsheetsValuesService
	spreadsheetID string
	sheetName     string
}

// NewSheets авторизуется сервисным аккаунтом и открывает лист sheetName таблицы spreadsheetID.
func NewSheets(ctx context.Context, credentialsJSON []byte, spreadsheetID, sheetName string) (*Sheets, error) {
	const op = "sheet.NewSheets"
	svc, err := sheets.NewService(ctx,
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Sheets{
		values:        svc.Spreadsheets.Values,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}, nil
}

// Header читает первую строку листа.
func (s *Sheets) Header(ctx context.Context) ([]string, error) {
	const op = "sheet.Sheets.Header"
	resp, err := s.values.Get(s.spreadsheetID, s.a1("1:1")).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(resp.Values) == 0 {
		return nil, nil
	}
	return toStrings(resp.Values[0]), nil
}

// SetHeader записывает заголовок начиная с A1.
func (s *Sheets) SetHeader(ctx context.Context, header []string) error {
	const op = "sheet.Sheets.SetHeader"
	_, err := s.values.Update(s.spreadsheetID, s.a1("A1"), valueRange(header)).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Rows читает все строки после заголовка. Хвостовые пустые ячейки Google не возвращает,
// поэтому строки могут быть короче заголовка.
func (s *Sheets) Rows(ctx context.Context) ([][]string, error) {
	const op = "sheet.Sheets.Rows"
	resp, err := s.values.Get(s.spreadsheetID, s.a1("A2:ZZ")).
		ValueRenderOption("FORMATTED_VALUE").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([][]string, len(resp.Values))
	for i, r := range resp.Values {
		out[i] = toStrings(r)
	}
	return out, nil
}

// AppendRow добавляет строку после последней заполненной.
func (s *Sheets) AppendRow(ctx context.Context, row []string) error {
	const op = "sheet.Sheets.AppendRow"
	_, err := s.values.Append(s.spreadsheetID, s.a1("A1"), valueRange(row)).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UpdateRow перезаписывает строку данных с индексом index.
func (s *Sheets) UpdateRow(ctx context.Context, index int, row []string) error {
	const op = "sheet.Sheets.UpdateRow"
	// +1 за заголовок, +1 за нумерацию строк с единицы
	cell := fmt.Sprintf("A%d", index+2)
	_, err := s.values.Update(s.spreadsheetID, s.a1(cell), valueRange(row)).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Sheets) a1(cells string) string {
	return quoteSheetName(s.sheetName) + "!" + cells
}

func quoteSheetName(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func valueRange(row []string) *sheets.ValueRange {
	cells := make([]interface{}, len(row))
	for i, v := range row {
		cells[i] = v
	}
	return &sheets.ValueRange{Values: [][]interface{}{cells}}
}

func toStrings(cells []interface{}) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		if c == nil {
			continue
		}
		out[i] = fmt.Sprint(c)
	}
	return out
}
