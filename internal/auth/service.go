// Package auth owns partner identities and the time-bounded authorization
// cache. Identities are created on web-form submission and mutated by nothing
// else in the process.
package auth

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/partnerdesk/backend/internal/faults"
	"github.com/partnerdesk/backend/internal/logging"
	"github.com/partnerdesk/backend/internal/sheets"
)

// Auth sheet columns (1-based): A=partner_code, B=phone, C=name, D=user_id,
// E=authorization flag, F=ISO timestamp.
const (
	colPartnerCode = 1
	colPhone       = 2
	colName        = 3
	colUserID      = 4
	colFlag        = 5
	colBoundAt     = 6

	flagAuthorized    = "authorized"
	flagNotAuthorized = "not authorized"
)

// CacheTTL bounds how long a cached verdict is trusted.
const CacheTTL = 24 * time.Hour

// Identity is one partner row.
type Identity struct {
	PartnerCode string
	Phone       string
	Name        string
	UserID      int64
}

// SheetOps is the slice of the gateway the auth service drives.
// *sheets.Gateway satisfies it.
type SheetOps interface {
	ListRows(ctx context.Context, ep sheets.Endpoint) ([][]string, error)
	BatchWrite(ctx context.Context, ep sheets.Endpoint, updates []sheets.CellUpdate) error
}

// Service answers authorization questions and performs web-form binding.
type Service struct {
	gw    SheetOps
	cache *cache
	log   *slog.Logger
	now   func() time.Time
}

// NewService builds the auth service; cachePath is the on-disk cache file.
func NewService(gw SheetOps, cachePath string, log *slog.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		gw:    gw,
		cache: newCache(cachePath, CacheTTL, now, log),
		log:   log,
		now:   now,
	}
}

// IsAuthorized consults the cache first; a missing or stale entry triggers a
// reload from the auth sheet and a cache refresh. Cache-file trouble never
// affects the returned verdict.
func (s *Service) IsAuthorized(ctx context.Context, userID int64) (bool, error) {
	if verdict, fresh := s.cache.get(userID); fresh {
		return verdict, nil
	}

	rows, err := s.gw.ListRows(ctx, sheets.EndpointAuth)
	if err != nil {
		return false, err
	}
	authorized := false
	for _, row := range rows {
		if cell(row, colUserID) == strconv.FormatInt(userID, 10) {
			authorized = cell(row, colFlag) == flagAuthorized
			break
		}
	}
	s.cache.put(userID, authorized)
	return authorized, nil
}

// Identity returns the partner row bound to userID.
func (s *Service) Identity(ctx context.Context, userID int64) (*Identity, error) {
	rows, err := s.gw.ListRows(ctx, sheets.EndpointAuth)
	if err != nil {
		return nil, err
	}
	want := strconv.FormatInt(userID, 10)
	for _, row := range rows {
		if cell(row, colUserID) == want {
			return &Identity{
				PartnerCode: cell(row, colPartnerCode),
				Phone:       cell(row, colPhone),
				Name:        cell(row, colName),
				UserID:      userID,
			}, nil
		}
	}
	return nil, faults.New(faults.KindUnauthorized, "no identity bound to user")
}

// AuthorizedUsers resolves the current authorized audience.
func (s *Service) AuthorizedUsers(ctx context.Context) ([]int64, error) {
	rows, err := s.gw.ListRows(ctx, sheets.EndpointAuth)
	if err != nil {
		return nil, err
	}
	var users []int64
	for _, row := range rows {
		if cell(row, colFlag) != flagAuthorized {
			continue
		}
		id, err := strconv.ParseInt(cell(row, colUserID), 10, 64)
		if err != nil || id == 0 {
			continue
		}
		users = append(users, id)
	}
	return users, nil
}

// Bind matches the web-form submission against the auth sheet and claims the
// row for userID. Idempotent: re-binding the same user to the same partner
// changes nothing. A miss returns NotFound.
func (s *Service) Bind(ctx context.Context, partnerCode, phone string, userID int64) error {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return err
	}

	rows, err := s.gw.ListRows(ctx, sheets.EndpointAuth)
	if err != nil {
		return err
	}

	for i, row := range rows {
		if cell(row, colPartnerCode) != partnerCode {
			continue
		}
		rowPhone, err := NormalizePhone(cell(row, colPhone))
		if err != nil || rowPhone != normalized {
			continue
		}

		rowNum := i + 1
		uid := strconv.FormatInt(userID, 10)
		if cell(row, colUserID) == uid && cell(row, colFlag) == flagAuthorized {
			// Already bound to this user: no-op, but make sure the cache agrees.
			s.cache.put(userID, true)
			return nil
		}

		err = s.gw.BatchWrite(ctx, sheets.EndpointAuth, []sheets.CellUpdate{
			{Row: rowNum, Col: colUserID, Value: uid},
			{Row: rowNum, Col: colFlag, Value: flagAuthorized},
			{Row: rowNum, Col: colBoundAt, Value: s.now().Format(time.RFC3339)},
		})
		if err != nil {
			return err
		}
		s.cache.put(userID, true)
		s.log.Info("partner bound",
			slog.String("partner_code", partnerCode),
			slog.String("phone", logging.MaskPhone(normalized)),
			slog.String("user_id", logging.MaskUserID(uid)))
		return nil
	}

	return faults.NotFound("no partner row matches code and phone")
}

func cell(row []string, col int) string {
	if col-1 < len(row) {
		return row[col-1]
	}
	return ""
}
