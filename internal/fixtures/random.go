package fixtures

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

var (
	givenNames  = []string{"Amani", "Bongani", "Chidi", "Dalia", "Esi", "Farid", "Grace", "Hana", "Imani", "Jomo", "Kofi", "Lina"}
	familyNames = []string{"Okafor", "Mensah", "Banda", "Haddad", "Mwangi", "Ndlovu", "Osei", "Tembo", "Wanjiru", "Yusuf"}
	cities      = []string{"Kigali", "Lilongwe", "Kampala", "Accra", "Nairobi"}
)

// uniqueLetters turns the hex digits of a fresh UUID into letters. The
// default name validator rejects digits in person names.
func uniqueLetters(n int) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
	var b strings.Builder
	for _, r := range hex {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune('a' + (r - '0'))
		default:
			b.WriteRune('k' + (r - 'a'))
		}
	}
	return b.String()
}

// RandomPerson returns demographics whose family name is unique per call.
func RandomPerson() PersonInfo {
	suffix := uniqueLetters(8)
	birth := time.Date(1930+rand.IntN(70), time.Month(1+rand.IntN(12)), 1+rand.IntN(28), 0, 0, 0, 0, time.UTC)
	return PersonInfo{
		GivenName:  lo.Sample(givenNames),
		FamilyName: lo.Sample(familyNames) + strings.ToUpper(suffix[:1]) + suffix[1:],
		Gender:     lo.Sample([]string{"M", "F"}),
		Birthdate:  birth.Format("2006-01-02"),
		Address1:   fmt.Sprintf("%d Test Street", 1+rand.IntN(999)),
		City:       lo.Sample(cities),
		Country:    "Testland",
		PostalCode: fmt.Sprintf("%05d", rand.IntN(100000)),
	}
}

// RandomPatient returns a person to be enrolled with identifierType.
func RandomPatient(identifierType string) PatientInfo {
	return PatientInfo{PersonInfo: RandomPerson(), IdentifierType: identifierType}
}

// RandomUser returns a user shell for username with random demographics.
func RandomUser(username string) UserInfo {
	return UserInfo{
		PersonInfo: RandomPerson(),
		Username:   username,
		Password:   DefaultUserPassword,
	}
}
