package pgstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"campusrag/internal/domain"
)

// whereClause renders filter as SQL conditions whose placeholders start at
// $next. Equality conditions become one jsonb containment test so the gin
// index applies; ranges compare numeric values only.
func whereClause(filter *domain.Filter, next int) (string, []any, error) {
	if filter.IsEmpty() {
		return "", nil, nil
	}

	var conds []string
	var args []any

	if len(filter.Equals) > 0 {
		data, err := json.Marshal(filter.Equals)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode filter: %w", err)
		}
		conds = append(conds, fmt.Sprintf("metadata @> $%d::jsonb", next))
		args = append(args, string(data))
		next++
	}

	ranges := append([]domain.Range(nil), filter.Ranges...)
	sort.SliceStable(ranges, func(i, j int) bool { return ranges[i].Key < ranges[j].Key })
	for _, r := range ranges {
		keyArg := next
		args = append(args, r.Key)
		next++
		value := fmt.Sprintf("(CASE WHEN jsonb_typeof(metadata->$%d::text) = 'number' THEN (metadata->>$%d::text)::numeric END)", keyArg, keyArg)
		if r.Min == nil && r.Max == nil {
			conds = append(conds, value+" IS NOT NULL")
			continue
		}
		if r.Min != nil {
			conds = append(conds, fmt.Sprintf("%s >= $%d::numeric", value, next))
			args = append(args, *r.Min)
			next++
		}
		if r.Max != nil {
			conds = append(conds, fmt.Sprintf("%s <= $%d::numeric", value, next))
			args = append(args, *r.Max)
			next++
		}
	}

	return strings.Join(conds, " AND "), args, nil
}
