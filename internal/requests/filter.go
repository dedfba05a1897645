package requests

import (
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aldoetobex/weka-backend/pkg/models"
	"github.com/aldoetobex/weka-backend/pkg/utils"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// Filter selects service requests for a listing. Caller is the resolved
// identity, nil for anonymous visitors.
type Filter struct {
	Status   *models.RequestStatus
	Category string
	Location string
	Caller   *uuid.UUID
	Limit    int
	Offset   int
}

// Condition is one WHERE fragment with its bind args.
type Condition struct {
	SQL  string
	Args []any
}

// Normalize clamps paging and trims text filters.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Category = strings.TrimSpace(f.Category)
	f.Location = strings.TrimSpace(f.Location)
	return f
}

// Conditions returns the WHERE fragments for f, visibility rules included:
//   - no status, anonymous: open only
//   - no status, caller: open, or matched to the caller
//   - status matched/completed: only rows matched to the caller
func (f Filter) Conditions() []Condition {
	var out []Condition

	switch {
	case f.Status == nil && f.Caller == nil:
		out = append(out, Condition{SQL: "status = ?", Args: []any{models.RequestOpen}})
	case f.Status == nil:
		out = append(out, Condition{
			SQL:  "(status = ? OR matched_provider_id = ?)",
			Args: []any{models.RequestOpen, *f.Caller},
		})
	case *f.Status == models.RequestMatched || *f.Status == models.RequestCompleted:
		if f.Caller == nil {
			out = append(out, Condition{SQL: "1 = 0"})
			break
		}
		out = append(out, Condition{
			SQL:  "status = ? AND matched_provider_id = ?",
			Args: []any{*f.Status, *f.Caller},
		})
	default:
		out = append(out, Condition{SQL: "status = ?", Args: []any{*f.Status}})
	}

	if f.Category != "" {
		out = append(out, Condition{SQL: "service_category = ?", Args: []any{f.Category}})
	}
	if f.Location != "" {
		out = append(out, Condition{
			SQL:  "LOWER(customer_location) LIKE ?" + utils.LikeEscape,
			Args: []any{utils.ContainsPattern(f.Location)},
		})
	}
	return out
}

// Apply adds f's conditions, ordering and paging to q.
func (f Filter) Apply(q *gorm.DB) *gorm.DB {
	for _, c := range f.Conditions() {
		q = q.Where(c.SQL, c.Args...)
	}
	return q.Order("created_at DESC").Limit(f.Limit).Offset(f.Offset)
}
