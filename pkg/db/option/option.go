package option

import (
	"fmt"
	"strings"

	"smallbiznis-payout/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QueryOption func(*gorm.DB) *gorm.DB

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// WithSortBy orders by an allow-listed column, falling back to created_at.
func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		column := "created_at"
		if s.SortBy != "" && s.Allow[s.SortBy] {
			column = s.SortBy
		}

		return db.Order(clause.OrderByColumn{
			Column: clause.Column{Name: column},
			Desc:   strings.EqualFold(s.OrderBy, "desc"),
		})
	}
}

type Operator string

const (
	EQ    Operator = "="
	NEQ   Operator = "<>"
	GT    Operator = ">"
	GTE   Operator = ">="
	LT    Operator = "<"
	LTE   Operator = "<="
	IN    Operator = "IN"
	NotIn Operator = "NOT IN"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

func (c Condition) expression() clause.Expression {
	col := clause.Column{Name: c.Field}
	switch c.Operator {
	case NEQ:
		return clause.Neq{Column: col, Value: c.Value}
	case GT:
		return clause.Gt{Column: col, Value: c.Value}
	case GTE:
		return clause.Gte{Column: col, Value: c.Value}
	case LT:
		return clause.Lt{Column: col, Value: c.Value}
	case LTE:
		return clause.Lte{Column: col, Value: c.Value}
	case IN:
		return clause.IN{Column: col, Values: toValues(c.Value)}
	case NotIn:
		return clause.Not(clause.IN{Column: col, Values: toValues(c.Value)})
	default:
		return clause.Eq{Column: col, Value: c.Value}
	}
}

func ApplyOperator(conds ...Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, c := range conds {
			db = db.Where(c.expression())
		}
		return db
	}
}

func WithLimit(n int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if n <= 0 {
			return db
		}
		return db.Limit(n)
	}
}

func WithIn(field string, values any) QueryOption {
	return ApplyOperator(Condition{Field: field, Operator: IN, Value: values})
}

// WithLockingUpdate adds SELECT ... FOR UPDATE. Dialects without row locks ignore it.
func WithLockingUpdate() QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if db.Dialector != nil && db.Dialector.Name() == "sqlite" {
			return db
		}
		return db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	}
}

// ApplyPagination applies id-keyset paging, fetching one row past the limit
// so callers can detect a following page.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}}).Limit(p.Size() + 1)
		if p.Cursor == "" {
			return db
		}

		cursor, err := pagination.DecodeCursor(p.Cursor)
		if err != nil {
			_ = db.AddError(fmt.Errorf("invalid cursor: %w", err))
			return db
		}

		return db.Where(clause.Gt{Column: clause.Column{Name: "id"}, Value: cursor.ID})
	}
}

func toValues(v any) []any {
	switch vs := v.(type) {
	case []string:
		out := make([]any, 0, len(vs))
		for _, s := range vs {
			out = append(out, s)
		}
		return out
	case []any:
		return vs
	default:
		return []any{v}
	}
}
