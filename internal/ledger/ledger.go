// Package ledger records which backing-store rows a test created and deletes
// them as one batch when asked. A Ledger belongs to one test; it is never
// shared between tests.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/kuitang/uifixture/internal/db"
	"github.com/kuitang/uifixture/internal/errs"
	"github.com/kuitang/uifixture/internal/fixtures"
	"github.com/kuitang/uifixture/internal/obs"
)

// Mode selects what Flush executes.
type Mode int

const (
	// ModeDelete executes recorded deletion obligations.
	ModeDelete Mode = iota
	// ModeRefresh upserts pending seed rows.
	ModeRefresh
)

func (m Mode) String() string {
	switch m {
	case ModeDelete:
		return "delete"
	case ModeRefresh:
		return "refresh"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Row is a seed row for ModeRefresh. Key names the columns that identify
// the row; Values holds every column including the keys.
type Row struct {
	Table  string
	Key    []string
	Values map[string]any
}

// Ledger accumulates obligations for one test scope.
type Ledger struct {
	store *db.Store

	mu          sync.Mutex
	obligations []Obligation
	seeds       []Row
}

// New returns an empty ledger that flushes into store.
func New(store *db.Store) *Ledger {
	return &Ledger{store: store}
}

// Record appends o unless an identical obligation is already recorded.
func (l *Ledger) Record(o Obligation) error {
	if err := o.validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	k := o.key()
	if lo.ContainsBy(l.obligations, func(x Obligation) bool { return x.key() == k }) {
		return nil
	}
	l.obligations = append(l.obligations, o)
	return nil
}

// RecordDeletion records "delete from table where column = value".
func (l *Ledger) RecordDeletion(table, column string, value any) error {
	return l.Record(Obligation{Table: table, Column: column, Value: value})
}

// RecordSeed queues a row for the next ModeRefresh flush.
func (l *Ledger) RecordSeed(r Row) error {
	names := append([]string{r.Table}, lo.Keys(r.Values)...)
	for _, n := range names {
		if !db.ValidIdentifier(n) {
			return errs.New(errs.InvalidArgument, fmt.Sprintf("seed row: invalid identifier %q", n))
		}
	}
	if len(r.Key) == 0 {
		return errs.New(errs.InvalidArgument, "seed row for "+r.Table+" has no key columns")
	}
	for _, k := range r.Key {
		if _, ok := r.Values[k]; !ok {
			return errs.New(errs.InvalidArgument, fmt.Sprintf("seed row for %s: key column %q has no value", r.Table, k))
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seeds = append(l.seeds, r)
	return nil
}

// Pending returns the obligations not yet flushed, in record order.
func (l *Ledger) Pending() []Obligation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.obligations)
}

// Flush executes everything recorded for mode in one batch, then forgets it.
// On failure nothing is forgotten and the error has code errs.Teardown.
func (l *Ledger) Flush(ctx context.Context, mode Mode) error {
	switch mode {
	case ModeDelete:
		l.mu.Lock()
		pending := slices.Clone(l.obligations)
		l.mu.Unlock()
		if err := l.execute(ctx, pending); err != nil {
			return err
		}
		l.mu.Lock()
		l.obligations = l.obligations[len(pending):]
		l.mu.Unlock()
		return nil
	case ModeRefresh:
		l.mu.Lock()
		pending := slices.Clone(l.seeds)
		l.mu.Unlock()
		if err := l.refresh(ctx, pending); err != nil {
			return err
		}
		l.mu.Lock()
		l.seeds = l.seeds[len(pending):]
		l.mu.Unlock()
		return nil
	default:
		return errs.New(errs.InvalidArgument, "unknown flush mode "+mode.String())
	}
}

func (l *Ledger) execute(ctx context.Context, list []Obligation) error {
	if len(list) == 0 {
		return nil
	}
	logger := obs.From(ctx).With("pkg", "ledger")
	plan := ordered(list)
	var deleted int64
	err := l.store.Batch(ctx, func(tx *db.Tx) error {
		for _, o := range plan {
			n, err := tx.Exec(ctx, o.statement(), o.Value)
			if err != nil {
				return fmt.Errorf("delete %s: %w", o, err)
			}
			deleted += n
		}
		return nil
	})
	if err != nil {
		obs.FlushFailures.Inc()
		logger.Error("cleanup flush failed", "obligations", len(plan), "error", err.Error())
		return errs.Wrap(errs.Teardown, "flush cleanup ledger", err)
	}
	for _, o := range plan {
		obs.ObligationsExecuted.WithLabelValues(o.Table).Inc()
	}
	logger.Info("cleanup flushed", "obligations", len(plan), "rows_deleted", deleted)
	return nil
}

func (l *Ledger) refresh(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	err := l.store.Batch(ctx, func(tx *db.Tx) error {
		for _, r := range rows {
			if err := upsert(ctx, tx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		obs.FlushFailures.Inc()
		return errs.Wrap(errs.Teardown, "refresh seed rows", err)
	}
	obs.From(ctx).Info("seed rows refreshed", "pkg", "ledger", "rows", len(rows))
	return nil
}

// upsert updates r by key and inserts it when no row matched.
func upsert(ctx context.Context, tx *db.Tx, r Row) error {
	cols := lo.Keys(r.Values)
	sort.Strings(cols)
	nonKey := lo.Without(cols, r.Key...)

	var where []string
	var keyArgs []any
	for _, k := range r.Key {
		where = append(where, k+" = ?")
		keyArgs = append(keyArgs, r.Values[k])
	}

	if len(nonKey) > 0 {
		var set []string
		var args []any
		for _, c := range nonKey {
			set = append(set, c+" = ?")
			args = append(args, r.Values[c])
		}
		n, err := tx.Exec(ctx, fmt.Sprintf("UPDATE %s SET %s WHERE %s",
			r.Table, strings.Join(set, ", "), strings.Join(where, " AND ")), append(args, keyArgs...)...)
		if err != nil {
			return fmt.Errorf("update %s: %w", r.Table, err)
		}
		if n > 0 {
			return nil
		}
	} else {
		var one int
		err := tx.QueryRow(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE %s", r.Table, strings.Join(where, " AND ")), keyArgs...).Scan(&one)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lookup %s: %w", r.Table, err)
		}
	}

	args := lo.Map(cols, func(c string, _ int) any { return r.Values[c] })
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	if _, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		r.Table, strings.Join(cols, ", "), marks), args...); err != nil {
		return fmt.Errorf("insert %s: %w", r.Table, err)
	}
	return nil
}

// UserObligations returns every row a created user occupies: the person
// with its names, phonetics, addresses and attributes, a linked provider,
// and the account with its roles and properties.
func UserObligations(u fixtures.UserInfo) ([]Obligation, error) {
	if u.PersonID == 0 || u.UserID == 0 {
		return nil, errs.New(errs.InvalidArgument, "user "+u.Username+" has no backing-store ids")
	}
	p, uid := u.PersonID, u.UserID
	return []Obligation{
		{Table: "person", Column: "person_id", Value: p},
		{Table: "provider", Column: "person_id", Value: p},
		{Table: "person_name", Column: "person_id", Value: p},
		{Table: "person_address", Column: "person_id", Value: p},
		{Table: "name_phonetics", Column: "person_name_id", Value: p,
			Via: &Via{Table: "person_name", Select: "person_name_id", Where: "person_id"}},
		{Table: "person_attribute", Column: "person_id", Value: p},
		{Table: "users", Column: "user_id", Value: uid},
		{Table: "user_role", Column: "user_id", Value: uid},
		{Table: "user_property", Column: "user_id", Value: uid},
	}, nil
}

// RoleObligations returns the role row, or nothing when the role existed
// before this run.
func RoleObligations(r fixtures.RoleInfo) []Obligation {
	if !r.Created || r.UUID == "" {
		return nil
	}
	return []Obligation{{Table: "role", Column: "uuid", Value: r.UUID}}
}

// FlushForUser deletes a user's rows now, independent of anything recorded.
// Running it again for the same user deletes nothing and succeeds.
func (l *Ledger) FlushForUser(ctx context.Context, u fixtures.UserInfo) error {
	list, err := UserObligations(u)
	if err != nil {
		return err
	}
	return l.execute(ctx, list)
}

// FlushForRole deletes a role created by this run. Pre-existing roles are
// left alone.
func (l *Ledger) FlushForRole(ctx context.Context, r fixtures.RoleInfo) error {
	return l.execute(ctx, RoleObligations(r))
}

// PatchProviderRole sets a provider's provider role directly in the backing
// store. The REST API cannot link a provider to a provider role; this is the
// only fixture write that bypasses the API, and should go once the API
// supports it.
func (l *Ledger) PatchProviderRole(ctx context.Context, providerUUID, providerRoleName string) error {
	return l.store.Batch(ctx, func(tx *db.Tx) error {
		var roleID int64
		err := tx.QueryRow(ctx, "SELECT provider_role_id FROM providermanagement_provider_role WHERE name = ?", providerRoleName).Scan(&roleID)
		if errors.Is(err, sql.ErrNoRows) {
			return errs.New(errs.NotFound, "provider role "+providerRoleName)
		}
		if err != nil {
			return fmt.Errorf("lookup provider role %s: %w", providerRoleName, err)
		}
		n, err := tx.Exec(ctx, "UPDATE provider SET provider_role_id = ? WHERE uuid = ?", roleID, providerUUID)
		if err != nil {
			return fmt.Errorf("patch provider %s: %w", providerUUID, err)
		}
		if n == 0 {
			return errs.New(errs.NotFound, "provider "+providerUUID)
		}
		obs.From(ctx).Info("provider role patched directly in backing store",
			"pkg", "ledger", "provider", providerUUID, "provider_role", providerRoleName)
		return nil
	})
}
