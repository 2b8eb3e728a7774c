// Package promo broadcasts newly activated promotions to the authorized
// audience. Correctness rests on the SENT ledger: at most one delivery per
// (promotion, user), across restarts.
package promo

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/partnerdesk/backend/internal/faults"
)

// Promotions sheet columns (1-based): A=release_date, B=title,
// C=description, D=status, E=start_date, F=end_date, G=content_url,
// H=deep_link.
const (
	colReleaseDate = 1
	colTitle       = 2
	colDescription = 3
	colStatus      = 4
	colStartDate   = 5
	colEndDate     = 6
	colContentURL  = 7
	colDeepLink    = 8
)

// Status of a promotion row.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// Promotion is the in-memory snapshot of one sheet row.
type Promotion struct {
	ID          string
	ReleaseDate string
	Title       string
	Description string
	Status      Status
	StartDate   string
	EndDate     string
	ContentURL  string
	DeepLink    string
}

// ParseRow builds a promotion from a sheet row. The ID is a content hash:
// editing the title or dates republishes the promotion, touching anything
// else does not.
func ParseRow(row []string) (Promotion, error) {
	p := Promotion{
		ReleaseDate: cell(row, colReleaseDate),
		Title:       strings.TrimSpace(cell(row, colTitle)),
		Description: strings.TrimSpace(cell(row, colDescription)),
		Status:      Status(strings.ToLower(strings.TrimSpace(cell(row, colStatus)))),
		StartDate:   cell(row, colStartDate),
		EndDate:     cell(row, colEndDate),
		ContentURL:  strings.TrimSpace(cell(row, colContentURL)),
		DeepLink:    strings.TrimSpace(cell(row, colDeepLink)),
	}
	if p.Title == "" {
		return Promotion{}, faults.Validation("promotion row has no title")
	}
	switch p.Status {
	case StatusPending, StatusActive, StatusFinished:
	default:
		return Promotion{}, faults.Validation("promotion %q has unknown status %q", p.Title, p.Status)
	}
	p.ID = contentID(p)
	return p, nil
}

// Text renders the outbound message body.
func (p Promotion) Text() string {
	if p.Description == "" {
		return p.Title
	}
	return p.Title + "\n\n" + p.Description
}

func contentID(p Promotion) string {
	h := sha256.New()
	for _, part := range []string{p.Title, p.Description, p.StartDate, p.EndDate} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func cell(row []string, col int) string {
	if col-1 < len(row) {
		return row[col-1]
	}
	return ""
}
