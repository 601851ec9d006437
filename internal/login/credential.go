package login

import "github.com/kuitang/uifixture/internal/config"

// Credential is a username/password pair plus the session location to pick.
type Credential struct {
	Username string
	Password string
	Location int
}

// Demo-data accounts shipped with the reference application.
var (
	Clerk    = Credential{Username: "clerk", Password: "Clerk123"}
	Nurse    = Credential{Username: "nurse", Password: "Nurse123"}
	Doctor   = Credential{Username: "doctor", Password: "Doctor123"}
	Sysadmin = Credential{Username: "sysadmin", Password: "Sysadmin123"}
)

// AdminCredential returns the configured admin account.
func AdminCredential(cfg *config.Config) Credential {
	return Credential{
		Username: cfg.Username,
		Password: cfg.Password,
		Location: cfg.DefaultLocation,
	}
}
