package ledger

import (
	"context"
	"testing"

	"pgregory.net/rapid"

	"github.com/kuitang/uifixture/internal/db"
	dbtestutil "github.com/kuitang/uifixture/internal/db/testutil"
	"github.com/kuitang/uifixture/internal/errs"
	"github.com/kuitang/uifixture/internal/fixtures"
)

func openStore(t testing.TB) *db.Store {
	t.Helper()
	s := dbtestutil.OpenStore(t, db.Options{})
	mustExec(t, s, `INSERT INTO role (role, description, uuid) VALUES ('Nurse', '', 'role-nurse')`)
	mustExec(t, s, `INSERT INTO providermanagement_provider_role (name, uuid) VALUES ('Clinical Doctor', 'pr-1')`)
	return s
}

func mustExec(t testing.TB, s *db.Store, query string, args ...any) int64 {
	t.Helper()
	res, err := s.DB().Exec(query, args...)
	if err != nil {
		t.Fatalf("exec %s: %v", query, err)
	}
	id, _ := res.LastInsertId()
	return id
}

func rows(t testing.TB, s *db.Store, table string) int {
	t.Helper()
	var n int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

var userTables = []string{"person", "person_name", "name_phonetics", "person_address", "person_attribute", "users", "user_role", "user_property", "provider"}

// seedUser writes the full row graph the server creates for a user with a
// provider, and returns the user with its backing-store ids filled in.
func seedUser(t testing.TB, s *db.Store, username string) fixtures.UserInfo {
	t.Helper()
	pid := mustExec(t, s, `INSERT INTO person (uuid, gender) VALUES (uuid(), 'M')`)
	nameID := mustExec(t, s, `INSERT INTO person_name (person_id, given_name, family_name, uuid) VALUES (?, 'Kofi', 'Test', uuid())`, pid)
	mustExec(t, s, `INSERT INTO name_phonetics (person_name_id, field, renderered_string) VALUES (?, 1, 'KF')`, nameID)
	mustExec(t, s, `INSERT INTO person_address (person_id, address1, uuid) VALUES (?, '1 Test Street', uuid())`, pid)
	mustExec(t, s, `INSERT INTO person_attribute (person_id, value, uuid) VALUES (?, 'x', uuid())`, pid)
	uid := mustExec(t, s, `INSERT INTO users (person_id, username, password, uuid) VALUES (?, ?, 'x', uuid())`, pid, username)
	mustExec(t, s, `INSERT INTO user_role (user_id, role) VALUES (?, 'Nurse')`, uid)
	mustExec(t, s, `INSERT INTO user_property (user_id, property, property_value) VALUES (?, 'defaultLocale', 'en')`, uid)
	mustExec(t, s, `INSERT INTO provider (person_id, identifier, uuid) VALUES (?, 'Kofi', ?)`, pid, "prov-"+username)
	return fixtures.UserInfo{Username: username, PersonID: pid, UserID: uid}
}

func TestFlushForUser_RemovesEveryRowAndIsIdempotent(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	l := New(s)
	ctx := context.Background()

	seedUser(t, s, "other")
	u := seedUser(t, s, "nurse1")

	if err := l.FlushForUser(ctx, u); err != nil {
		t.Fatalf("flush: %v", err)
	}
	for _, table := range userTables {
		if n := rows(t, s, table); n != 1 {
			t.Errorf("%s: %d rows left, want only the other user's", table, n)
		}
	}
	if err := l.FlushForUser(ctx, u); err != nil {
		t.Fatalf("second flush should be a no-op, got %v", err)
	}
	for _, table := range userTables {
		if n := rows(t, s, table); n != 1 {
			t.Errorf("%s: second flush mutated rows (%d)", table, n)
		}
	}
	if len(l.Pending()) != 0 {
		t.Fatal("user flush must not touch the general ledger")
	}
}

func TestFlushForUser_RequiresIDs(t *testing.T) {
	t.Parallel()
	l := New(openStore(t))
	err := l.FlushForUser(context.Background(), fixtures.UserInfo{Username: "ghost"})
	if errs.CodeOf(err) != errs.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

// Obligations recorded in any order flush cleanly against a store that
// enforces foreign keys.
func TestFlush_OrdersChildrenBeforeParents(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(rt *rapid.T) {
		s := openStore(t)
		u := seedUser(t, s, "u")
		list, err := UserObligations(u)
		if err != nil {
			rt.Fatalf("obligations: %v", err)
		}
		perm := rapid.Permutation(list).Draw(rt, "order")

		l := New(s)
		for _, o := range perm {
			if err := l.Record(o); err != nil {
				rt.Fatalf("record: %v", err)
			}
		}
		if err := l.Flush(context.Background(), ModeDelete); err != nil {
			rt.Fatalf("flush %v: %v", perm, err)
		}
		for _, table := range userTables {
			if n := rows(t, s, table); n != 0 {
				rt.Fatalf("%s: %d rows left", table, n)
			}
		}
		if len(l.Pending()) != 0 {
			rt.Fatal("ledger not cleared after successful flush")
		}
	})
}

func TestFlush_FailureKeepsLedgerIntact(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	l := New(s)
	ctx := context.Background()
	u := seedUser(t, s, "u")

	// Deleting only the person row leaves children behind, which the
	// foreign keys reject.
	if err := l.RecordDeletion("person", "person_id", u.PersonID); err != nil {
		t.Fatal(err)
	}
	if err := l.RecordDeletion("users", "user_id", u.UserID); err != nil {
		t.Fatal(err)
	}
	err := l.Flush(ctx, ModeDelete)
	if !errs.Is(err, errs.Teardown) {
		t.Fatalf("expected teardown failure, got %v", err)
	}
	if len(l.Pending()) != 2 {
		t.Fatalf("pending = %v", l.Pending())
	}
	if rows(t, s, "users") != 1 {
		t.Fatal("failed batch must roll back")
	}

	list, _ := UserObligations(u)
	for _, o := range list {
		if err := l.Record(o); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Flush(ctx, ModeDelete); err != nil {
		t.Fatalf("complete flush: %v", err)
	}
	if rows(t, s, "person") != 0 {
		t.Fatal("person not deleted")
	}
}

func TestRecord_DeduplicatesAndValidates(t *testing.T) {
	t.Parallel()
	l := New(openStore(t))

	for i := 0; i < 3; i++ {
		if err := l.RecordDeletion("role", "uuid", "r-1"); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.RecordDeletion("role", "uuid", "r-2"); err != nil {
		t.Fatal(err)
	}
	if n := len(l.Pending()); n != 2 {
		t.Fatalf("pending = %d, want 2", n)
	}

	bad := []Obligation{
		{Table: "role; DROP TABLE users", Column: "uuid", Value: "x"},
		{Table: "role", Column: "uuid = uuid OR 1", Value: "x"},
		{Table: "name_phonetics", Column: "person_name_id", Value: 1, Via: &Via{Table: "person_name", Select: "*", Where: "person_id"}},
	}
	for _, o := range bad {
		if err := l.Record(o); errs.CodeOf(err) != errs.InvalidArgument {
			t.Errorf("%v: expected invalid argument, got %v", o, err)
		}
	}
}

func TestFlushForRole_OnlyDeletesCreatedRoles(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	l := New(s)
	ctx := context.Background()
	mustExec(t, s, `INSERT INTO role (role, description, uuid) VALUES ('Provider', '', 'role-provider')`)

	if err := l.FlushForRole(ctx, fixtures.RoleInfo{Name: "Nurse", UUID: "role-nurse", Created: false}); err != nil {
		t.Fatalf("pre-existing role: %v", err)
	}
	if rows(t, s, "role") != 2 {
		t.Fatal("pre-existing role must not be deleted")
	}

	created := fixtures.RoleInfo{Name: "Provider", UUID: "role-provider", Created: true}
	for i := 0; i < 2; i++ {
		if err := l.FlushForRole(ctx, created); err != nil {
			t.Fatalf("flush %d: %v", i, err)
		}
	}
	if rows(t, s, "role") != 1 {
		t.Fatal("created role should be gone")
	}
}

func TestPatchProviderRole(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	l := New(s)
	ctx := context.Background()
	seedUser(t, s, "doc")

	if err := l.PatchProviderRole(ctx, "prov-doc", "Clinical Doctor"); err != nil {
		t.Fatalf("patch: %v", err)
	}
	var roleID int64
	if err := s.DB().QueryRow(`SELECT provider_role_id FROM provider WHERE uuid = 'prov-doc'`).Scan(&roleID); err != nil || roleID == 0 {
		t.Fatalf("provider_role_id = %d, %v", roleID, err)
	}

	if err := l.PatchProviderRole(ctx, "prov-doc", "Unknown Role"); errs.CodeOf(err) != errs.NotFound {
		t.Fatalf("unknown role: expected not found, got %v", err)
	}
	if err := l.PatchProviderRole(ctx, "prov-missing", "Clinical Doctor"); errs.CodeOf(err) != errs.NotFound {
		t.Fatalf("unknown provider: expected not found, got %v", err)
	}
}

func TestFlushRefresh_UpsertsSeedRows(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	l := New(s)
	ctx := context.Background()

	seed := []Row{
		{Table: "role", Key: []string{"role"}, Values: map[string]any{"role": "Nurse", "description": "updated", "uuid": "role-nurse"}},
		{Table: "role", Key: []string{"role"}, Values: map[string]any{"role": "Clerk", "description": "new", "uuid": "role-clerk"}},
		{Table: "encounter_type", Key: []string{"name"}, Values: map[string]any{"name": "Vitals", "uuid": "et-1"}},
	}
	for _, r := range seed {
		if err := l.RecordSeed(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Flush(ctx, ModeRefresh); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := l.Flush(ctx, ModeRefresh); err != nil {
		t.Fatalf("empty refresh: %v", err)
	}

	var desc string
	if err := s.DB().QueryRow(`SELECT description FROM role WHERE role = 'Nurse'`).Scan(&desc); err != nil || desc != "updated" {
		t.Fatalf("nurse description = %q, %v", desc, err)
	}
	if rows(t, s, "role") != 2 || rows(t, s, "encounter_type") != 1 {
		t.Fatal("expected inserted rows")
	}

	if err := l.RecordSeed(Row{Table: "role", Values: map[string]any{"role": "x"}}); errs.CodeOf(err) != errs.InvalidArgument {
		t.Fatalf("missing key: expected invalid argument, got %v", err)
	}
}

func TestOrdered_StableWithinDepth(t *testing.T) {
	t.Parallel()
	in := []Obligation{
		{Table: "person", Column: "person_id", Value: 1},
		{Table: "role", Column: "uuid", Value: "a"},
		{Table: "user_role", Column: "user_id", Value: 1},
		{Table: "users", Column: "user_id", Value: 1},
		{Table: "name_phonetics", Column: "person_name_id", Value: 1},
		{Table: "person_name", Column: "person_id", Value: 1},
	}
	var got []string
	for _, o := range ordered(in) {
		got = append(got, o.Table)
	}
	want := []string{"user_role", "name_phonetics", "users", "person_name", "person", "role"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
