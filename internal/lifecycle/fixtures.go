package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/kuitang/uifixture/internal/fixtures"
	"github.com/kuitang/uifixture/internal/ledger"
	"github.com/kuitang/uifixture/internal/obs"
	"github.com/kuitang/uifixture/internal/waitfor"
)

// CreateTestPatient creates a random person, asks idgen for an identifier
// from source and enrolls the person as a patient. Patients are deleted
// through the API with DeletePatient; nothing is recorded in the ledger.
// On failure the partially built patient is returned so callers can clean
// up what was created.
func (o *Orchestrator) CreateTestPatient(ctx context.Context, identifierType, source string) (fixtures.PatientInfo, error) {
	p := fixtures.RandomPatient(identifierType)
	if err := o.enter("create test patient"); err != nil {
		return p, err
	}
	ctx = o.Context(ctx)

	if err := fixtures.CreatePerson(ctx, o.api, &p.PersonInfo); err != nil {
		return p, fmt.Errorf("create patient person: %w", err)
	}
	typeUUID, err := fixtures.IdentifierTypeUUID(ctx, o.api, identifierType)
	if err != nil {
		return p, fmt.Errorf("create patient: %w", err)
	}
	identifier, err := o.api.GenerateIdentifier(ctx, source)
	if err != nil {
		return p, fmt.Errorf("create patient: %w", err)
	}
	id, err := fixtures.CreatePatient(ctx, o.api, p.UUID, identifier, typeUUID)
	if err != nil {
		return p, fmt.Errorf("create patient: %w", err)
	}
	p.PatientUUID = id
	p.Identifier = identifier
	return p, nil
}

// CreateDefaultTestPatient creates a patient with the default identifier
// type and source.
func (o *Orchestrator) CreateDefaultTestPatient(ctx context.Context) (fixtures.PatientInfo, error) {
	return o.CreateTestPatient(ctx, fixtures.OpenMRSIdentifierType, fixtures.DefaultIdentifierSource)
}

// DeletePatient deletes a patient through the API.
func (o *Orchestrator) DeletePatient(ctx context.Context, uuid string) error {
	return o.api.Delete(o.Context(ctx), "patient/"+uuid)
}

type userOptions struct {
	providerRole string
	locale       string
}

// UserOption adjusts CreateUser.
type UserOption func(*userOptions)

// WithProviderRole also creates a provider for the user and links it to the
// named provider role.
func WithProviderRole(name string) UserOption {
	return func(o *userOptions) { o.providerRole = name }
}

// WithLocale sets the user's default locale property.
func WithLocale(locale string) UserOption {
	return func(o *userOptions) { o.locale = locale }
}

// CreateUser creates a random person and a user account for it with role
// and DefaultRole, then reads back the backing-store ids DeleteUser needs.
// Nothing is recorded in the ledger; the test must call DeleteUser.
func (o *Orchestrator) CreateUser(ctx context.Context, username string, role fixtures.RoleInfo, opts ...UserOption) (fixtures.UserInfo, error) {
	var uo userOptions
	for _, opt := range opts {
		opt(&uo)
	}
	u := fixtures.RandomUser(username)
	u.Locale = uo.locale
	if err := o.enter("create user " + username); err != nil {
		return u, err
	}
	ctx = o.Context(ctx)

	if err := fixtures.CreatePerson(ctx, o.api, &u.PersonInfo); err != nil {
		return u, fmt.Errorf("create user %s: %w", username, err)
	}
	u.AddRole(role)
	u.AddRole(fixtures.RoleInfo{Name: fixtures.DefaultRole})
	if _, err := fixtures.CreateUser(ctx, o.api, &u); err != nil {
		return u, fmt.Errorf("create user %s: %w", username, err)
	}

	var err error
	if u.UserID, err = o.store.LookupID(ctx, "users", "user_id", "uuid", u.UserUUID); err != nil {
		return u, fmt.Errorf("create user %s: %w", username, err)
	}
	if u.PersonID, err = o.store.LookupID(ctx, "person", "person_id", "uuid", u.UUID); err != nil {
		return u, fmt.Errorf("create user %s: %w", username, err)
	}

	if uo.providerRole != "" {
		prov := &fixtures.ProviderInfo{PersonUUID: u.UUID, Identifier: u.GivenName, Role: uo.providerRole}
		if err := fixtures.CreateProvider(ctx, o.api, prov); err != nil {
			return u, fmt.Errorf("create provider for %s: %w", username, err)
		}
		u.Provider = prov
		if err := o.ledger.PatchProviderRole(ctx, prov.UUID, prov.Role); err != nil {
			return u, fmt.Errorf("create provider for %s: %w", username, err)
		}
	}
	obs.From(ctx).Info("test user created", "pkg", "lifecycle",
		"username", username, "user_uuid", u.UserUUID, "provider", u.Provider != nil)
	return u, nil
}

// DeleteUser deletes every row the user occupies in the backing store.
func (o *Orchestrator) DeleteUser(ctx context.Context, u fixtures.UserInfo) error {
	return o.ledger.FlushForUser(o.Context(ctx), u)
}

// DeleteRole deletes a role this run created. Pre-existing roles are kept.
func (o *Orchestrator) DeleteRole(ctx context.Context, r fixtures.RoleInfo) error {
	return o.ledger.FlushForRole(o.Context(ctx), r)
}

// FindOrCreateRole returns the role called name, creating it when it does
// not exist. Created is true only in the latter case.
func (o *Orchestrator) FindOrCreateRole(ctx context.Context, name string) (fixtures.RoleInfo, error) {
	r := fixtures.RoleInfo{Name: name}
	if err := o.enter("find or create role " + name); err != nil {
		return r, err
	}
	ctx = o.Context(ctx)
	id, err := fixtures.RoleUUID(ctx, o.api, name)
	if err != nil {
		return r, fmt.Errorf("find role %s: %w", name, err)
	}
	if id != "" {
		r.UUID = id
		return r, nil
	}
	if err := fixtures.CreateRole(ctx, o.api, &r); err != nil {
		return r, fmt.Errorf("create role %s: %w", name, err)
	}
	r.Created = true
	return r, nil
}

// CreateTestEncounter records an encounter of the named type for patient.
func (o *Orchestrator) CreateTestEncounter(ctx context.Context, encounterType string, patient *fixtures.PatientInfo) (fixtures.EncounterInfo, error) {
	e := fixtures.EncounterInfo{Datetime: fixtures.DefaultEncounterDatetime, Patient: patient}
	if err := o.enter("create test encounter"); err != nil {
		return e, err
	}
	ctx = o.Context(ctx)
	typeUUID, err := fixtures.EncounterTypeUUID(ctx, o.api, encounterType)
	if err != nil {
		return e, fmt.Errorf("create encounter: %w", err)
	}
	e.TypeUUID = typeUUID
	if err := fixtures.CreateEncounter(ctx, o.api, &e); err != nil {
		return e, fmt.Errorf("create encounter: %w", err)
	}
	return e, nil
}

// WaitForDeletion polls resource/uuid until the API reports it absent. A
// zero timeout uses the configured deletion timeout. Read failures count as
// "not yet" and are reported with the timeout.
func (o *Orchestrator) WaitForDeletion(ctx context.Context, resource, uuid string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = o.opts.DeletionTimeout
	}
	target := resource + "/" + uuid
	return waitfor.UntilWithClock(o.Context(ctx), o.opts.Clock, waitfor.Condition{
		Description: "deletion of " + target,
		Timeout:     timeout,
		Interval:    o.opts.PollInterval,
		Check: func(ctx context.Context) (bool, error) {
			return fixtures.Absent(o.api.Get(ctx, target))
		},
	})
}

// WaitForPatientDeletion waits for a patient to disappear.
func (o *Orchestrator) WaitForPatientDeletion(ctx context.Context, uuid string) error {
	return o.WaitForDeletion(ctx, "patient", uuid, 0)
}

// Seed upserts reference rows into the backing store before a test runs.
func (o *Orchestrator) Seed(ctx context.Context, rows ...ledger.Row) error {
	for _, r := range rows {
		if err := o.ledger.RecordSeed(r); err != nil {
			return err
		}
	}
	return o.ledger.Flush(o.Context(ctx), ledger.ModeRefresh)
}
