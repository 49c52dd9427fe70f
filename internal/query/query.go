// Package query turns listing filters into a single SQL predicate shared by
// the budget list, summary and export paths.
//
// Criteria is parsed once at the HTTP boundary. Every field is optional and
// independent: a malformed value drops only its own criterion, never the
// whole query. Present criteria combine with AND; the free-text search is an
// OR across title, client and description (plus identifier equality when the
// text is an integer). Text terms are folded with domain.Fold and matched
// against the folded columns the budget model maintains.
package query

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-budget-backend/internal/domain"
)

// Criteria is the normalized filter set for budgets. Nil pointers and empty
// strings impose no constraint.
type Criteria struct {
	// Text is the case-folded free-text search term.
	Text string
	// Identifier is set when Text parses fully as an integer.
	Identifier *int64
	Status     *domain.Status
	// Client is a case-folded substring matched against client only.
	Client    string
	MinAmount *float64
	MaxAmount *float64
	// From and To bound created_at inclusively; To is already end-of-day.
	From *time.Time
	To   *time.Time
}

// Predicate is a parameterized SQL boolean expression. An empty SQL matches
// every row.
type Predicate struct {
	SQL  string
	Args []any
}

// Aggregation pairs a predicate with the per-status grouping used by the
// summary endpoint.
type Aggregation struct {
	Where   Predicate
	Select  string
	GroupBy string
}

// statusAliases accepts the Spanish status names used by older clients.
var statusAliases = map[string]domain.Status{
	"pending":   domain.StatusPending,
	"approved":  domain.StatusApproved,
	"rejected":  domain.StatusRejected,
	"pendiente": domain.StatusPending,
	"aprobado":  domain.StatusApproved,
	"rechazado": domain.StatusRejected,
}

// Parse builds Criteria from query-string values. Both the English names
// (q, status, client, minAmount, maxAmount, fromDate, toDate) and the legacy
// Spanish ones (estado, cliente, minImporte, maxImporte, fechaDesde,
// fechaHasta) are understood.
func Parse(v url.Values) Criteria {
	var c Criteria

	if q := strings.TrimSpace(v.Get("q")); q != "" {
		c.Text = domain.Fold(q)
		if n, err := strconv.ParseInt(q, 10, 64); err == nil {
			c.Identifier = &n
		}
	}
	if s, ok := statusAliases[strings.ToLower(strings.TrimSpace(first(v, "status", "estado")))]; ok {
		c.Status = &s
	}
	if cl := strings.TrimSpace(first(v, "client", "cliente")); cl != "" {
		c.Client = domain.Fold(cl)
	}
	c.MinAmount = parseAmount(first(v, "minAmount", "minImporte"))
	c.MaxAmount = parseAmount(first(v, "maxAmount", "maxImporte"))
	if t, ok := parseDate(first(v, "fromDate", "fechaDesde")); ok {
		c.From = &t
	}
	if t, ok := parseDate(first(v, "toDate", "fechaHasta")); ok {
		t = EndOfDay(t)
		c.To = &t
	}
	return c
}

// Empty reports whether no criterion is set.
func (c Criteria) Empty() bool { return c.Where().SQL == "" }

// Where returns the AND of all present criteria as one predicate.
func (c Criteria) Where() Predicate {
	var (
		parts []string
		args  []any
	)
	if c.Text != "" {
		or := []string{`search_fold LIKE ? ESCAPE '\'`}
		args = append(args, "%"+escapeLike(c.Text)+"%")
		if c.Identifier != nil {
			or = append(or, "identifier = ?")
			args = append(args, *c.Identifier)
		}
		parts = append(parts, "("+strings.Join(or, " OR ")+")")
	}
	if c.Status != nil {
		parts = append(parts, "status = ?")
		args = append(args, string(*c.Status))
	}
	if c.Client != "" {
		parts = append(parts, `client_fold LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(c.Client)+"%")
	}
	if c.MinAmount != nil {
		parts = append(parts, "amount >= ?")
		args = append(args, *c.MinAmount)
	}
	if c.MaxAmount != nil {
		parts = append(parts, "amount <= ?")
		args = append(args, *c.MaxAmount)
	}
	if c.From != nil {
		parts = append(parts, "created_at >= ?")
		args = append(args, c.From.UTC())
	}
	if c.To != nil {
		parts = append(parts, "created_at <= ?")
		args = append(args, c.To.UTC())
	}
	return Predicate{SQL: strings.Join(parts, " AND "), Args: args}
}

// Scope applies the predicate to a GORM query, for use with db.Scopes.
func (c Criteria) Scope() func(*gorm.DB) *gorm.DB {
	p := c.Where()
	return func(db *gorm.DB) *gorm.DB {
		if p.SQL == "" {
			return db
		}
		return db.Where(p.SQL, p.Args...)
	}
}

// Summary returns the aggregation request paired with this filter: one row
// per status present, with its count and summed amount.
func (c Criteria) Summary() Aggregation {
	return Aggregation{
		Where:   c.Where(),
		Select:  "status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total_amount",
		GroupBy: "status",
	}
}

// EndOfDay moves t to 23:59:59.999 of the same calendar day.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}

func first(v url.Values, keys ...string) string {
	for _, k := range keys {
		if s := v.Get(k); s != "" {
			return s
		}
	}
	return ""
}

func parseAmount(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != f || f > 1e308 || f < -1e308 {
		return nil
	}
	return &f
}

// parseDate accepts a calendar date (2006-01-02, read as UTC) or a full
// RFC 3339 timestamp.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
