// Package fixtures defines the test entities created through the REST API
// and the payloads that create them.
package fixtures

// Well-known names in the reference application's metadata.
const (
	// OpenMRSIdentifierType is the default patient identifier type.
	OpenMRSIdentifierType = "OpenMRS Identification Number"
	// DefaultIdentifierSource is the idgen source for OpenMRSIdentifierType.
	DefaultIdentifierSource = "1"
	// DefaultRole is attached to every user created for a test.
	DefaultRole = "Privilege Level: Full"
	// DefaultUserPassword satisfies the default password policy.
	DefaultUserPassword = "Passw0rd1"
	// DefaultEncounterDatetime is an arbitrary date in the past.
	DefaultEncounterDatetime = "2012-01-04"
)

// PersonInfo is a demographic record.
type PersonInfo struct {
	UUID       string
	GivenName  string
	FamilyName string
	Gender     string
	Birthdate  string // YYYY-MM-DD
	Address1   string
	City       string
	Country    string
	PostalCode string
}

// PatientInfo is a person enrolled as a patient.
type PatientInfo struct {
	PersonInfo
	PatientUUID    string
	Identifier     string
	IdentifierType string // identifier type name
}

// RoleInfo is a user role. Created is true only when this run created it,
// which is the only case where cleanup may delete it.
type RoleInfo struct {
	Name    string
	UUID    string
	Created bool
}

// ProviderInfo is a provider linked to a person.
type ProviderInfo struct {
	UUID       string
	PersonUUID string
	Identifier string
	Role       string // provider role name, applied by direct patch
}

// UserInfo is a login account with its person record. PersonInfo.UUID is
// the person; UserUUID is the account. UserID and PersonID are
// backing-store keys used only for direct cleanup.
type UserInfo struct {
	PersonInfo
	UserUUID string
	Username string
	Password string
	Locale   string
	Roles    []RoleInfo
	Provider *ProviderInfo

	UserID   int64
	PersonID int64
}

// AddRole appends role unless a role with the same name is already present.
func (u *UserInfo) AddRole(role RoleInfo) {
	for _, r := range u.Roles {
		if r.Name == role.Name {
			return
		}
	}
	u.Roles = append(u.Roles, role)
}

// EncounterInfo is a clinical encounter for a patient.
type EncounterInfo struct {
	UUID     string
	Datetime string
	TypeUUID string
	Patient  *PatientInfo
}

func (p PersonInfo) payload() map[string]any {
	return map[string]any{
		"names": []map[string]any{{
			"givenName":  p.GivenName,
			"familyName": p.FamilyName,
			"preferred":  true,
		}},
		"gender":    p.Gender,
		"birthdate": p.Birthdate,
		"addresses": []map[string]any{{
			"address1":    p.Address1,
			"cityVillage": p.City,
			"country":     p.Country,
			"postalCode":  p.PostalCode,
			"preferred":   true,
		}},
	}
}

func patientPayload(personUUID, identifier, identifierTypeUUID string) map[string]any {
	return map[string]any{
		"person": personUUID,
		"identifiers": []map[string]any{{
			"identifier":     identifier,
			"identifierType": identifierTypeUUID,
			"preferred":      true,
		}},
	}
}

func (u UserInfo) payload() map[string]any {
	roles := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		if r.UUID != "" {
			roles = append(roles, r.UUID)
		} else {
			roles = append(roles, r.Name)
		}
	}
	body := map[string]any{
		"person":   u.UUID,
		"username": u.Username,
		"password": u.Password,
		"roles":    roles,
	}
	if u.Locale != "" {
		body["userProperties"] = map[string]string{"defaultLocale": u.Locale}
	}
	return body
}

func (r RoleInfo) payload() map[string]any {
	return map[string]any{
		"name":        r.Name,
		"description": "Created for an end-to-end test",
	}
}

func (p ProviderInfo) payload() map[string]any {
	return map[string]any{
		"person":     p.PersonUUID,
		"identifier": p.Identifier,
	}
}

func (e EncounterInfo) payload() map[string]any {
	return map[string]any{
		"encounterDatetime": e.Datetime,
		"patient":           e.Patient.PatientUUID,
		"encounterType":     e.TypeUUID,
	}
}
