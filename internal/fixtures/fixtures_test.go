package fixtures

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"unicode"

	"github.com/tidwall/gjson"
	"pgregory.net/rapid"

	"github.com/kuitang/uifixture/internal/apiclient"
	"github.com/kuitang/uifixture/internal/errs"
)

type fakeAPI struct {
	posts map[string][]map[string]any
	gets  map[string]string
	err   error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{posts: map[string][]map[string]any{}, gets: map[string]string{}}
}

func (f *fakeAPI) Get(_ context.Context, path string) (apiclient.Document, error) {
	if f.err != nil {
		return apiclient.Document{}, f.err
	}
	raw, ok := f.gets[path]
	if !ok {
		return apiclient.Document{}, errs.New(errs.NotFound, path)
	}
	return gjson.Parse(raw), nil
}

func (f *fakeAPI) Post(_ context.Context, path string, payload any) (apiclient.Document, error) {
	if f.err != nil {
		return apiclient.Document{}, f.err
	}
	b, _ := json.Marshal(payload)
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	f.posts[path] = append(f.posts[path], m)
	return gjson.Parse(`{"uuid":"` + path + `-uuid"}`), nil
}

func TestRandomPerson_NamesAreUniqueAndDigitFree(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 40).Draw(t, "n")
		seen := map[string]bool{}
		for i := 0; i < n; i++ {
			p := RandomPerson()
			for _, r := range p.GivenName + p.FamilyName {
				if unicode.IsDigit(r) {
					t.Fatalf("digit in name %q %q", p.GivenName, p.FamilyName)
				}
			}
			if seen[p.FamilyName] {
				t.Fatalf("duplicate family name %q", p.FamilyName)
			}
			seen[p.FamilyName] = true
			if p.Gender != "M" && p.Gender != "F" {
				t.Fatalf("gender %q", p.Gender)
			}
			if len(p.Birthdate) != len("2006-01-02") {
				t.Fatalf("birthdate %q", p.Birthdate)
			}
		}
	})
}

func TestCreatePerson_StoresUUIDAndSendsDemographics(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	p := RandomPerson()
	if err := CreatePerson(context.Background(), api, &p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.UUID != "person-uuid" {
		t.Fatalf("uuid = %q", p.UUID)
	}
	sent := api.posts["person"][0]
	names := sent["names"].([]any)[0].(map[string]any)
	if names["familyName"] != p.FamilyName || sent["gender"] != p.Gender {
		t.Fatalf("payload = %v", sent)
	}
}

func TestCreateUser_RolesAndLocale(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	u := RandomUser("nurse1")
	u.UUID = "person-1"
	u.Locale = "fr"
	u.AddRole(RoleInfo{Name: "Nurse", UUID: "role-nurse"})
	u.AddRole(RoleInfo{Name: DefaultRole})
	u.AddRole(RoleInfo{Name: "Nurse", UUID: "role-nurse"})

	id, err := CreateUser(context.Background(), api, &u)
	if err != nil || id != "user-uuid" || u.UserUUID != id {
		t.Fatalf("create: %q %v (stored %q)", id, err, u.UserUUID)
	}
	sent := api.posts["user"][0]
	roles := sent["roles"].([]any)
	if len(roles) != 2 || roles[0] != "role-nurse" || roles[1] != DefaultRole {
		t.Fatalf("roles = %v", roles)
	}
	if sent["userProperties"].(map[string]any)["defaultLocale"] != "fr" {
		t.Fatalf("locale missing: %v", sent)
	}
	if sent["person"] != "person-1" || sent["password"] != DefaultUserPassword {
		t.Fatalf("payload = %v", sent)
	}
}

func TestCreateUser_RequiresPerson(t *testing.T) {
	t.Parallel()
	u := RandomUser("x")
	if _, err := CreateUser(context.Background(), newFakeAPI(), &u); errs.CodeOf(err) != errs.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestCreate_MissingUUIDIsAPIFailure(t *testing.T) {
	t.Parallel()

	api := &noUUIDAPI{}
	r := RoleInfo{Name: "Nurse"}
	if err := CreateRole(context.Background(), api, &r); errs.CodeOf(err) != errs.API {
		t.Fatalf("expected api failure, got %v", err)
	}
}

type noUUIDAPI struct{}

func (noUUIDAPI) Get(context.Context, string) (apiclient.Document, error) {
	return apiclient.Document{}, nil
}

func (noUUIDAPI) Post(context.Context, string, any) (apiclient.Document, error) {
	return gjson.Parse(`{"display":"x"}`), nil
}

func TestLookups_ExactNameMatch(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.gets["role?q=Nurse"] = `{"results":[
		{"uuid":"r-2","name":"Nurse Manager","display":"Nurse Manager"},
		{"uuid":"r-1","name":"Nurse","display":"Nurse"}]}`
	api.gets["patientidentifiertype?q=OpenMRS+Identification+Number"] = `{"results":[{"uuid":"it-1","display":"OpenMRS Identification Number"}]}`

	ctx := context.Background()
	if id, err := RoleUUID(ctx, api, "Nurse"); err != nil || id != "r-1" {
		t.Fatalf("role = %q %v", id, err)
	}
	if id, err := RoleUUID(ctx, api, "Provider"); err != nil || id != "" {
		t.Fatalf("missing role should be empty, got %q %v", id, err)
	}
	if id, err := IdentifierTypeUUID(ctx, api, OpenMRSIdentifierType); err != nil || id != "it-1" {
		t.Fatalf("identifier type = %q %v", id, err)
	}
	if _, err := EncounterTypeUUID(ctx, api, "Vitals"); errs.CodeOf(err) != errs.NotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAbsent(t *testing.T) {
	t.Parallel()

	boom := errs.New(errs.API, "boom")
	tests := []struct {
		name    string
		doc     string
		err     error
		want    bool
		wantErr bool
	}{
		{"not found", "", errs.New(errs.NotFound, "x"), true, false},
		{"api failure", "", boom, false, true},
		{"present", `{"uuid":"a"}`, nil, false, false},
		{"voided", `{"uuid":"a","voided":true}`, nil, true, false},
		{"retired", `{"uuid":"a","retired":true}`, nil, true, false},
		{"empty body", "", nil, false, false},
		{"not voided", `{"uuid":"a","voided":false,"retired":false}`, nil, false, false},
	}
	for _, tc := range tests {
		var doc apiclient.Document
		if tc.doc != "" {
			doc = gjson.Parse(tc.doc)
		}
		got, err := Absent(doc, tc.err)
		if got != tc.want || (err != nil) != tc.wantErr {
			t.Errorf("%s: got (%v, %v)", tc.name, got, err)
		}
	}
}

func TestPatientExists(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.gets["patient/p-1"] = `{"uuid":"p-1","voided":false}`
	ctx := context.Background()
	if ok, err := PatientExists(ctx, api, "p-1"); err != nil || !ok {
		t.Fatalf("p-1: %v %v", ok, err)
	}
	if ok, err := PatientExists(ctx, api, "p-2"); err != nil || ok {
		t.Fatalf("p-2: %v %v", ok, err)
	}
	api.err = errs.New(errs.API, "down")
	if _, err := PatientExists(ctx, api, "p-1"); !strings.Contains(err.Error(), "down") {
		t.Fatalf("expected api error, got %v", err)
	}
}
