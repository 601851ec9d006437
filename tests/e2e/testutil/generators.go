package testutil

import "pgregory.net/rapid"

// =============================================================================
// Account Generators
// =============================================================================

// UsernameGenerator generates usernames the fake application accepts.
func UsernameGenerator() *rapid.Generator[string] {
	return rapid.StringMatching(`[a-z][a-z0-9]{4,12}`)
}

// PasswordGenerator generates passwords that satisfy the account policy
// (8+ chars with an upper-case letter and a digit).
func PasswordGenerator() *rapid.Generator[string] {
	return rapid.StringMatching(`[A-Z][a-z]{6,12}[0-9]{1,3}`)
}

// WeakPasswordGenerator generates passwords shorter than the policy allows.
func WeakPasswordGenerator() *rapid.Generator[string] {
	return rapid.StringMatching(`[a-z]{1,7}`)
}

// =============================================================================
// Metadata Generators
// =============================================================================

// RoleNameGenerator generates role names that do not collide with the
// seeded roles.
func RoleNameGenerator() *rapid.Generator[string] {
	return rapid.StringMatching(`Test Role [A-Z][a-z]{3,10}`)
}

// SeededRoleGenerator picks one of the roles every App starts with.
func SeededRoleGenerator() *rapid.Generator[string] {
	return rapid.SampledFrom(SeededRoles)
}

// =============================================================================
// Cleanup Constants
// =============================================================================

// UserTables lists every table a created user occupies. A flushed user
// leaves no rows behind in any of them.
var UserTables = []string{
	"person",
	"person_name",
	"name_phonetics",
	"person_address",
	"person_attribute",
	"provider",
	"users",
	"user_role",
	"user_property",
}
