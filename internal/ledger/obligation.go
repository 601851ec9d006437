package ledger

import (
	"fmt"
	"slices"

	"github.com/kuitang/uifixture/internal/db"
	"github.com/kuitang/uifixture/internal/errs"
)

// Via narrows an obligation through a subquery: delete rows of the
// obligation's table whose Column is in (SELECT Select FROM Table WHERE
// Where = value).
type Via struct {
	Table  string
	Select string
	Where  string
}

// Obligation is a recorded intent to delete backing-store rows. Two
// obligations with the same fields are the same obligation.
type Obligation struct {
	Table  string
	Column string
	Value  any
	Via    *Via
}

func (o Obligation) key() string {
	if o.Via == nil {
		return fmt.Sprintf("%s|%s|%v", o.Table, o.Column, o.Value)
	}
	return fmt.Sprintf("%s|%s|%v|%s.%s.%s", o.Table, o.Column, o.Value, o.Via.Table, o.Via.Select, o.Via.Where)
}

func (o Obligation) String() string {
	if o.Via == nil {
		return fmt.Sprintf("%s where %s = %v", o.Table, o.Column, o.Value)
	}
	return fmt.Sprintf("%s where %s in %s.%s by %s = %v", o.Table, o.Column, o.Via.Table, o.Via.Select, o.Via.Where, o.Value)
}

func (o Obligation) validate() error {
	names := []string{o.Table, o.Column}
	if o.Via != nil {
		names = append(names, o.Via.Table, o.Via.Select, o.Via.Where)
	}
	for _, n := range names {
		if !db.ValidIdentifier(n) {
			return errs.New(errs.InvalidArgument, fmt.Sprintf("obligation %s: invalid identifier %q", o, n))
		}
	}
	return nil
}

func (o Obligation) statement() string {
	if o.Via == nil {
		return fmt.Sprintf("DELETE FROM %s WHERE %s = ?", o.Table, o.Column)
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s IN (SELECT %s FROM %s WHERE %s = ?)",
		o.Table, o.Column, o.Via.Select, o.Via.Table, o.Via.Where)
}

// parents lists, for each table fixtures write to, the tables its rows
// reference. A child's rows must be deleted before or with its parents'.
var parents = map[string][]string{
	"person_name":        {"person"},
	"person_address":     {"person"},
	"person_attribute":   {"person"},
	"name_phonetics":     {"person_name"},
	"provider":           {"person", "providermanagement_provider_role"},
	"users":              {"person"},
	"user_role":          {"users", "role"},
	"user_property":      {"users"},
	"patient":            {"person"},
	"patient_identifier": {"patient", "patient_identifier_type"},
	"encounter":          {"patient", "encounter_type"},
}

// depth is the length of the longest parent chain above table. Tables
// outside the graph have depth 0.
func depth(table string) int {
	d := 0
	for _, p := range parents[table] {
		if pd := depth(p) + 1; pd > d {
			d = pd
		}
	}
	return d
}

// ordered returns obligations with every child table before its parents,
// keeping record order among tables of equal depth.
func ordered(list []Obligation) []Obligation {
	out := slices.Clone(list)
	slices.SortStableFunc(out, func(a, b Obligation) int {
		return depth(b.Table) - depth(a.Table)
	})
	return out
}
