// Package appeals owns the appeal rows of the support sheet: message
// accumulation with bounded retention, status transitions with their cell
// colors, and specialist-reply extraction.
package appeals

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/partnerdesk/backend/internal/auth"
	"github.com/partnerdesk/backend/internal/faults"
	"github.com/partnerdesk/backend/internal/logging"
	"github.com/partnerdesk/backend/internal/sheets"
)

// Appeals sheet columns (1-based): A=partner_code, B=phone, C=name,
// D=user_id, E=accumulated_messages, F=status, G=specialist_reply,
// H=updated_at.
const (
	colPartnerCode = 1
	colPhone       = 2
	colName        = 3
	colUserID      = 4
	colMessages    = 5
	colStatus      = 6
	colReply       = 7
	colUpdatedAt   = 8
)

// Status of an appeal. The cell color is part of the observable contract:
// specialists read state off the sheet itself.
type Status string

const (
	StatusNew      Status = "new"
	StatusInWork   Status = "in_work"
	StatusResolved Status = "resolved"
)

func (s Status) color() sheets.Color {
	switch s {
	case StatusInWork:
		return sheets.ColorInWork
	case StatusResolved:
		return sheets.ColorResolved
	default:
		return sheets.ColorNone
	}
}

// aiMarker and specialistMarker tag non-user entries in the message log.
const (
	aiMarker         = "[AI] "
	specialistMarker = "[specialist] "
)

// Reply is one pending specialist answer found by the scan.
type Reply struct {
	UserID int64
	Text   string
	Row    int // 1-based sheet row, used to clear the cell afterwards
}

// SheetOps is the slice of the gateway the appeals service drives.
// *sheets.Gateway satisfies it.
type SheetOps interface {
	ListRows(ctx context.Context, ep sheets.Endpoint) ([][]string, error)
	BatchWrite(ctx context.Context, ep sheets.Endpoint, updates []sheets.CellUpdate) error
	AppendRow(ctx context.Context, ep sheets.Endpoint, row []string) error
	WriteCell(ctx context.Context, ep sheets.Endpoint, row, col int, value string) error
	FormatCell(ctx context.Context, ep sheets.Endpoint, row, col int, color sheets.Color) error
}

// Service implements the appeal operations. Mutations are serialized by a
// service-level mutex: the gateway's write lock only covers the final RPC,
// while message accumulation is a read-modify-write cycle that must not
// interleave with itself.
type Service struct {
	gw  SheetOps
	log *slog.Logger
	now func() time.Time

	mu sync.Mutex
}

// NewService builds the appeals service.
func NewService(gw SheetOps, log *slog.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{gw: gw, log: log, now: now}
}

// AppendUserMessage prepends the user's text to the appeal's message log,
// creating the row if absent. Status is not touched.
func (s *Service) AppendUserMessage(ctx context.Context, identity *auth.Identity, text string) error {
	return s.appendEntry(ctx, identity, text)
}

// AppendAIReply records the assistant's reply in the message log.
func (s *Service) AppendAIReply(ctx context.Context, identity *auth.Identity, text string) error {
	return s.appendEntry(ctx, identity, aiMarker+text)
}

// AppendSpecialistNote records that a specialist replied. The monitor calls
// this before clearing the reply cell; duplicates are harmless, the log
// simply accumulates two entries if a delivery is retried.
func (s *Service) AppendSpecialistNote(ctx context.Context, identity *auth.Identity, text string) error {
	return s.appendEntry(ctx, identity, specialistMarker+text)
}

func (s *Service) appendEntry(ctx context.Context, identity *auth.Identity, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := FormatEntry(now, text)
	stamp := now.Format(time.RFC3339)

	rowNum, row, err := s.findRow(ctx, identity.UserID)
	if err != nil && !faults.IsNotFound(err) {
		return err
	}
	if rowNum == 0 {
		return s.gw.AppendRow(ctx, sheets.EndpointAppeals, []string{
			identity.PartnerCode,
			identity.Phone,
			identity.Name,
			strconv.FormatInt(identity.UserID, 10),
			entry,
			string(StatusNew),
			"",
			stamp,
		})
	}

	accumulated := entry
	if prev := Prune(cell(row, colMessages), now); prev != "" {
		accumulated = entry + "\n" + prev
	}
	return s.gw.BatchWrite(ctx, sheets.EndpointAppeals, []sheets.CellUpdate{
		{Row: rowNum, Col: colMessages, Value: accumulated},
		{Row: rowNum, Col: colUpdatedAt, Value: stamp},
	})
}

// SetStatus writes the status cell and paints its contract color.
func (s *Service) SetStatus(ctx context.Context, userID int64, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rowNum, _, err := s.findRow(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.gw.WriteCell(ctx, sheets.EndpointAppeals, rowNum, colStatus, string(status)); err != nil {
		return err
	}
	if err := s.gw.FormatCell(ctx, sheets.EndpointAppeals, rowNum, colStatus, status.color()); err != nil {
		return err
	}
	s.log.Info("appeal status changed",
		slog.String("user_id", logging.MaskUserID(strconv.FormatInt(userID, 10))),
		slog.String("status", string(status)))
	return nil
}

// ScanSpecialistReplies returns every row whose specialist_reply cell is
// non-empty.
func (s *Service) ScanSpecialistReplies(ctx context.Context) ([]Reply, error) {
	rows, err := s.gw.ListRows(ctx, sheets.EndpointAppeals)
	if err != nil {
		return nil, err
	}
	var out []Reply
	for i, row := range rows {
		reply := cell(row, colReply)
		if reply == "" {
			continue
		}
		uid, err := strconv.ParseInt(cell(row, colUserID), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Reply{UserID: uid, Text: reply, Row: i + 1})
	}
	return out, nil
}

// ClearSpecialistReply empties the reply cell of the given row.
func (s *Service) ClearSpecialistReply(ctx context.Context, rowNum int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gw.WriteCell(ctx, sheets.EndpointAppeals, rowNum, colReply, "")
}

// HasRecords is the cheap existence check the response monitor uses to
// short-circuit an idle tick.
func (s *Service) HasRecords(ctx context.Context) (bool, error) {
	rows, err := s.gw.ListRows(ctx, sheets.EndpointAppeals)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// Identity returns the identity columns of the appeal row, for callers that
// need them without a second auth-sheet fetch.
func (s *Service) Identity(ctx context.Context, userID int64) (*auth.Identity, error) {
	_, row, err := s.findRow(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &auth.Identity{
		PartnerCode: cell(row, colPartnerCode),
		Phone:       cell(row, colPhone),
		Name:        cell(row, colName),
		UserID:      userID,
	}, nil
}

// findRow locates the appeal row for a user. Returns (0, nil, NotFound) when
// absent.
func (s *Service) findRow(ctx context.Context, userID int64) (int, []string, error) {
	rows, err := s.gw.ListRows(ctx, sheets.EndpointAppeals)
	if err != nil {
		return 0, nil, err
	}
	want := strconv.FormatInt(userID, 10)
	for i, row := range rows {
		if cell(row, colUserID) == want {
			return i + 1, row, nil
		}
	}
	return 0, nil, faults.NotFound("no appeal row for user")
}

func cell(row []string, col int) string {
	if col-1 < len(row) {
		return row[col-1]
	}
	return ""
}
