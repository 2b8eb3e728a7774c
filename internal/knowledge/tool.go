package knowledge

import (
	"context"
	"encoding/json"

	"github.com/partnerdesk/backend/internal/faults"
)

// Tool adapts the base to the assistant tool signature.
func (b *Base) Tool() func(ctx context.Context, args json.RawMessage) (any, error) {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var req struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, faults.Validation("search_knowledge_base: bad arguments: %v", err)
		}
		if req.Query == "" {
			return nil, faults.Validation("search_knowledge_base: empty query")
		}
		snippets, err := b.Search(ctx, req.Query, defaultLimit)
		if err != nil {
			return nil, err
		}
		if len(snippets) == 0 {
			return map[string]string{"result": "no matching documents"}, nil
		}
		return snippets, nil
	}
}
