package fixtures

import (
	"context"
	"net/url"

	"github.com/kuitang/uifixture/internal/apiclient"
	"github.com/kuitang/uifixture/internal/errs"
	"github.com/kuitang/uifixture/internal/obs"
)

// API is the part of apiclient.Client the helpers need.
type API interface {
	Get(ctx context.Context, path string) (apiclient.Document, error)
	Post(ctx context.Context, path string, payload any) (apiclient.Document, error)
}

var _ API = (*apiclient.Client)(nil)

func create(ctx context.Context, api API, kind, resource string, payload any) (string, error) {
	doc, err := api.Post(ctx, resource, payload)
	if err != nil {
		return "", err
	}
	id := doc.Get("uuid").String()
	if id == "" {
		return "", errs.New(errs.API, "create "+kind+": response has no uuid")
	}
	obs.FixturesCreated.WithLabelValues(kind).Inc()
	obs.From(ctx).Info("fixture created", "pkg", "fixtures", "kind", kind, "uuid", id)
	return id, nil
}

// CreatePerson creates p and stores the assigned uuid in it.
func CreatePerson(ctx context.Context, api API, p *PersonInfo) error {
	id, err := create(ctx, api, "person", "person", p.payload())
	if err != nil {
		return err
	}
	p.UUID = id
	return nil
}

// CreatePatient enrolls an existing person with identifier and returns the
// patient uuid.
func CreatePatient(ctx context.Context, api API, personUUID, identifier, identifierTypeUUID string) (string, error) {
	return create(ctx, api, "patient", "patient", patientPayload(personUUID, identifier, identifierTypeUUID))
}

// CreateUser creates an account for the person already stored in u and
// records the account uuid in u.UserUUID.
func CreateUser(ctx context.Context, api API, u *UserInfo) (string, error) {
	if u.UUID == "" {
		return "", errs.New(errs.InvalidArgument, "create user "+u.Username+": person has no uuid")
	}
	id, err := create(ctx, api, "user", "user", u.payload())
	if err != nil {
		return "", err
	}
	u.UserUUID = id
	return id, nil
}

// CreateRole creates r and stores the assigned uuid in it.
func CreateRole(ctx context.Context, api API, r *RoleInfo) error {
	id, err := create(ctx, api, "role", "role", r.payload())
	if err != nil {
		return err
	}
	r.UUID = id
	return nil
}

// CreateProvider creates p and stores the assigned uuid in it.
func CreateProvider(ctx context.Context, api API, p *ProviderInfo) error {
	id, err := create(ctx, api, "provider", "provider", p.payload())
	if err != nil {
		return err
	}
	p.UUID = id
	return nil
}

// CreateEncounter creates e and stores the assigned uuid in it.
func CreateEncounter(ctx context.Context, api API, e *EncounterInfo) error {
	if e.Patient == nil || e.Patient.PatientUUID == "" {
		return errs.New(errs.InvalidArgument, "create encounter: patient has no uuid")
	}
	id, err := create(ctx, api, "encounter", "encounter", e.payload())
	if err != nil {
		return err
	}
	e.UUID = id
	return nil
}

// lookupByName searches resource for an exact name match and returns its
// uuid, or "" when nothing matches.
func lookupByName(ctx context.Context, api API, resource, name string) (string, error) {
	doc, err := api.Get(ctx, resource+"?q="+url.QueryEscape(name))
	if err != nil {
		if errs.CodeOf(err) == errs.NotFound {
			return "", nil
		}
		return "", err
	}
	for _, r := range doc.Get("results").Array() {
		if r.Get("name").String() == name || r.Get("display").String() == name {
			return r.Get("uuid").String(), nil
		}
	}
	return "", nil
}

// RoleUUID returns the uuid of the role called name, or "" if none exists.
func RoleUUID(ctx context.Context, api API, name string) (string, error) {
	return lookupByName(ctx, api, "role", name)
}

// IdentifierTypeUUID returns the uuid of a patient identifier type.
func IdentifierTypeUUID(ctx context.Context, api API, name string) (string, error) {
	id, err := lookupByName(ctx, api, "patientidentifiertype", name)
	if err == nil && id == "" {
		err = errs.New(errs.NotFound, "patient identifier type "+name)
	}
	return id, err
}

// EncounterTypeUUID returns the uuid of an encounter type.
func EncounterTypeUUID(ctx context.Context, api API, name string) (string, error) {
	id, err := lookupByName(ctx, api, "encountertype", name)
	if err == nil && id == "" {
		err = errs.New(errs.NotFound, "encounter type "+name)
	}
	return id, err
}

// Absent reports whether a Get result shows the entity gone: not found, or
// returned but voided or retired. An empty 2xx body is not proof of
// deletion and reports false. Other failures are returned unchanged.
func Absent(doc apiclient.Document, err error) (bool, error) {
	if err != nil {
		if errs.CodeOf(err) == errs.NotFound {
			return true, nil
		}
		return false, err
	}
	return doc.Get("voided").Bool() || doc.Get("retired").Bool(), nil
}

// PatientExists reports whether the patient is still retrievable.
func PatientExists(ctx context.Context, api API, uuid string) (bool, error) {
	gone, err := Absent(api.Get(ctx, "patient/"+uuid))
	if err != nil {
		return false, err
	}
	return !gone, nil
}
