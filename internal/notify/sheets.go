package notify

import (
	"context"
	"fmt"
	"os"
	"time"

	"petboarding/internal/config"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const defaultSheetName = "Events"

// SheetsNotifier appends one row per event to the reservation log spreadsheet.
type SheetsNotifier struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	now           func() time.Time
}

func NewSheetsNotifier(ctx context.Context, cfg config.GoogleConfig) (*SheetsNotifier, error) {
	// Читаем файл учетных данных сервисного аккаунта
	credentialsJSON, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}
	jwt, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}
	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	return NewSheetsNotifierWithService(srv, cfg.SpreadsheetID, cfg.SheetName), nil
}

func NewSheetsNotifierWithService(srv *sheets.Service, spreadsheetID, sheetName string) *SheetsNotifier {
	if sheetName == "" {
		sheetName = defaultSheetName
	}
	return &SheetsNotifier{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		now:           time.Now,
	}
}

func (n *SheetsNotifier) Name() string { return "sheets" }

// TestConnection проверяет подключение к таблице
func (n *SheetsNotifier) TestConnection(ctx context.Context) error {
	_, err := n.service.Spreadsheets.Values.Get(n.spreadsheetID, n.sheetName+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

func (n *SheetsNotifier) Notify(ctx context.Context, eventType string, payload []byte) error {
	e, err := decode(payload)
	if err != nil {
		return err
	}
	subject := e.ReservationID
	if subject == "" {
		subject = e.PaymentID
	}
	if subject == "" {
		subject = e.BasketID
	}
	amount := e.Amount
	if amount == "" && !e.TotalPrice.IsZero() {
		amount = e.TotalPrice.StringFixed(2)
	}

	row := []interface{}{
		n.now().UTC().Format("2006-01-02 15:04:05"),
		eventType,
		subject,
		e.UserID,
		e.Status,
		e.StartDate,
		e.EndDate,
		amount,
		e.Reason + e.FailureReason,
	}
	_, err = n.service.Spreadsheets.Values.
		Append(n.spreadsheetID, n.sheetName+"!A:I", &sheets.ValueRange{Values: [][]interface{}{row}}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	return nil
}
