package main

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/partnerdesk/backend/internal/ai"
	"github.com/partnerdesk/backend/internal/auth"
	"github.com/partnerdesk/backend/internal/faults"
	"github.com/partnerdesk/backend/internal/knowledge"
	"github.com/partnerdesk/backend/internal/promo"
	"github.com/partnerdesk/backend/internal/sheets"
)

// registerTools wires the assistant's tool surface. kb may be nil when the
// knowledge folder is not configured.
func registerTools(reg *ai.Registry, gw *sheets.Gateway, kb *knowledge.Base) {
	reg.Register("get_active_promotions", activePromotionsTool(gw))
	reg.Register("lookup_partner", lookupPartnerTool(gw))
	if kb != nil {
		reg.Register("search_knowledge_base", kb.Tool())
	}
}

// activePromotionsTool lists the currently active promotions.
func activePromotionsTool(gw *sheets.Gateway) ai.ToolFunc {
	type item struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		StartDate   string `json:"start_date"`
		EndDate     string `json:"end_date"`
		Link        string `json:"link,omitempty"`
	}
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		rows, err := gw.ListRows(ctx, sheets.EndpointPromotions)
		if err != nil {
			return nil, err
		}
		var out []item
		for _, row := range rows {
			p, err := promo.ParseRow(row)
			if err != nil || p.Status != promo.StatusActive {
				continue
			}
			out = append(out, item{
				Title:       p.Title,
				Description: p.Description,
				StartDate:   p.StartDate,
				EndDate:     p.EndDate,
				Link:        p.DeepLink,
			})
		}
		if len(out) == 0 {
			return map[string]string{"result": "no active promotions"}, nil
		}
		return out, nil
	}
}

// lookupPartnerTool finds a partner row by code or phone.
func lookupPartnerTool(gw *sheets.Gateway) ai.ToolFunc {
	type result struct {
		PartnerCode string `json:"partner_code"`
		Name        string `json:"name"`
		Authorized  bool   `json:"authorized"`
	}
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var req struct {
			PartnerCode string `json:"partner_code"`
			Phone       string `json:"phone"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, faults.Validation("lookup_partner: bad arguments: %v", err)
		}
		if req.PartnerCode == "" && req.Phone == "" {
			return nil, faults.Validation("lookup_partner: partner_code or phone is required")
		}
		var phone string
		if req.Phone != "" {
			normalized, err := auth.NormalizePhone(req.Phone)
			if err != nil {
				return nil, err
			}
			phone = normalized
		}

		rows, err := gw.ListRows(ctx, sheets.EndpointAuth)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			code := cell(row, 1)
			if req.PartnerCode != "" && !strings.EqualFold(code, req.PartnerCode) {
				continue
			}
			if phone != "" {
				rowPhone, err := auth.NormalizePhone(cell(row, 2))
				if err != nil || rowPhone != phone {
					continue
				}
			}
			return result{
				PartnerCode: code,
				Name:        cell(row, 3),
				Authorized:  cell(row, 5) == "authorized",
			}, nil
		}
		return map[string]string{"result": "partner not found"}, nil
	}
}

func cell(row []string, col int) string {
	if col-1 < len(row) {
		return row[col-1]
	}
	return ""
}
