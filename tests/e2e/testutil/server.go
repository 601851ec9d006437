// Package testutil provides an in-process fake of the reference application
// for e2e tests: the login screens, the REST resources fixtures use, and the
// idgen endpoint, all backed by a SQLite file the cleanup ledger can flush.
package testutil

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kuitang/uifixture/internal/db"
	dbtestutil "github.com/kuitang/uifixture/internal/db/testutil"
	"github.com/kuitang/uifixture/internal/errs"
	"github.com/kuitang/uifixture/internal/obs"
)

// Fixed names seeded into every App.
const (
	AppRoot          = "/openmrs"
	AdminUsername    = "admin"
	AdminPassword    = "Admin123"
	IdentifierType   = "OpenMRS Identification Number"
	IdentifierSource = "1"
	EncounterType    = "Vitals"
	ProviderRole     = "Clinical Doctor"
)

// SeededRoles exist before any test runs.
var SeededRoles = []string{"Privilege Level: Full", "Nurse", "Clerk", "Doctor", "System Developer"}

const restPrefix = AppRoot + "/ws/rest/v1/"

// Options configures NewApp.
type Options struct {
	// DeleteDelay is how long a patient DELETE takes to become visible.
	DeleteDelay time.Duration
	// LockPath enables the store's cross-process cleanup lock.
	LockPath string
}

// App is a running fake application.
type App struct {
	Server *httptest.Server
	Store  *db.Store
	// URL is the application root, e.g. http://127.0.0.1:port/openmrs.
	URL string

	opts     Options
	mu       sync.Mutex
	sessions map[string]string
	nextID   int
	timers   sync.WaitGroup
}

// NewApp starts an App on a fresh SQLite file. Everything is released when
// the test completes.
func NewApp(t testing.TB, opts Options) *App {
	t.Helper()
	ctx := context.Background()
	store, err := db.Open(ctx, db.DriverSQLite, filepath.Join(t.TempDir(), "openmrs.db"), db.Options{LockPath: opts.LockPath})
	if err != nil {
		t.Fatalf("open app store: %v", err)
	}
	if err := dbtestutil.ApplySQLiteSchema(store); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	a := &App{Store: store, opts: opts, sessions: map[string]string{}, nextID: 100000}
	if err := a.seed(ctx); err != nil {
		t.Fatalf("seed app: %v", err)
	}
	a.Server = httptest.NewServer(a.routes())
	a.URL = a.Server.URL + AppRoot
	t.Cleanup(func() {
		a.Server.Close()
		a.timers.Wait()
		store.Close()
	})
	return a
}

func (a *App) seed(ctx context.Context) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(AdminPassword), bcrypt.MinCost)
	if err != nil {
		return err
	}
	return a.Store.Batch(ctx, func(tx *db.Tx) error {
		stmts := []struct {
			q    string
			args []any
		}{
			{`INSERT INTO person (uuid, gender) VALUES (uuid(), 'M')`, nil},
			{`INSERT INTO users (person_id, username, password, uuid) VALUES (last_insert_rowid(), ?, ?, uuid())`, []any{AdminUsername, string(hash)}},
			{`INSERT INTO patient_identifier_type (name, uuid) VALUES (?, uuid())`, []any{IdentifierType}},
			{`INSERT INTO encounter_type (name, uuid) VALUES (?, uuid())`, []any{EncounterType}},
			{`INSERT INTO providermanagement_provider_role (name, uuid) VALUES (?, uuid())`, []any{ProviderRole}},
		}
		for _, r := range SeededRoles {
			stmts = append(stmts, struct {
				q    string
				args []any
			}{`INSERT INTO role (role, description, uuid) VALUES (?, '', uuid())`, []any{r}})
		}
		for _, s := range stmts {
			if _, err := tx.Exec(ctx, s.q, s.args...); err != nil {
				return fmt.Errorf("seed %q: %w", s.q, err)
			}
		}
		return nil
	})
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+AppRoot+"/login.htm", a.handleLoginPage)
	mux.HandleFunc("POST "+AppRoot+"/login.htm", a.handleLogin)
	mux.HandleFunc("GET "+AppRoot+"/referenceapplication/home.page", a.handleHome)
	mux.HandleFunc("GET "+AppRoot+"/logout", a.handleLogout)
	mux.HandleFunc("GET "+AppRoot+"/module/idgen/generateIdentifier.form", a.handleGenerateIdentifier)

	mux.HandleFunc("POST "+restPrefix+"{resource}", a.basicAuth(a.handleCreate))
	mux.HandleFunc("GET "+restPrefix+"{resource}", a.basicAuth(a.handleSearch))
	mux.HandleFunc("GET "+restPrefix+"{resource}/{uuid}", a.basicAuth(a.handleGet))
	mux.HandleFunc("DELETE "+restPrefix+"{resource}/{uuid}", a.basicAuth(a.handleDelete))
	return mux
}

// =============================================================================
// Browser screens
// =============================================================================

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html><head><title>Login</title></head>
<body>
{{if .Error}}<div id="error-message">Invalid username/password. Please try again.</div>{{end}}
<form id="login-form" method="post" action="{{.Root}}/login.htm">
  <input id="username" name="username" type="text">
  <input id="password" name="password" type="password">
  <input id="sessionLocationInput" name="sessionLocation" type="hidden" value="">
  <ul id="sessionLocation">
    <li value="1" onclick="document.getElementById('sessionLocationInput').value='1'">Inpatient Ward</li>
    <li value="2" onclick="document.getElementById('sessionLocationInput').value='2'">Outpatient Clinic</li>
  </ul>
  <input id="loginButton" type="submit" value="Log In">
</form>
</body></html>`))

var homeTemplate = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html><head><title>Home</title></head>
<body>
<header>Logged in as <span id="user">{{.User}}</span> at location {{.Location}} <a href="{{.Root}}/logout">Logout</a></header>
<div id="content"><h1>Welcome</h1></div>
</body></html>`))

const sessionCookie = "JSESSIONID"

func (a *App) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = loginTemplate.Execute(w, map[string]any{"Root": AppRoot, "Error": r.URL.Query().Get("error") != ""})
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	username := r.PostForm.Get("username")
	location := r.PostForm.Get("sessionLocation")
	if !a.checkPassword(r.Context(), username, r.PostForm.Get("password")) || location == "" {
		obs.Pkg("fakeapp").Info("login rejected", "username", username, "location", location)
		http.Redirect(w, r, AppRoot+"/login.htm?error=1", http.StatusFound)
		return
	}
	token := uuid.NewString()
	a.mu.Lock()
	a.sessions[token] = username + "|" + location
	a.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: token, Path: AppRoot, HttpOnly: true})
	http.Redirect(w, r, AppRoot+"/referenceapplication/home.page", http.StatusFound)
}

func (a *App) handleHome(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(sessionCookie)
	a.mu.Lock()
	session, ok := "", false
	if err == nil {
		session, ok = a.sessions[c.Value]
	}
	a.mu.Unlock()
	if !ok {
		http.Redirect(w, r, AppRoot+"/login.htm", http.StatusFound)
		return
	}
	user, location, _ := strings.Cut(session, "|")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = homeTemplate.Execute(w, map[string]any{"Root": AppRoot, "User": user, "Location": location})
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		a.mu.Lock()
		delete(a.sessions, c.Value)
		a.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: AppRoot, MaxAge: -1})
	http.Redirect(w, r, AppRoot+"/login.htm", http.StatusFound)
}

func (a *App) checkPassword(ctx context.Context, username, password string) bool {
	var hash string
	err := a.Store.DB().QueryRowContext(ctx, `SELECT password FROM users WHERE username = ? AND retired = 0`, username).Scan(&hash)
	if err != nil {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// =============================================================================
// idgen
// =============================================================================

func (a *App) handleGenerateIdentifier(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !a.checkPassword(r.Context(), q.Get("username"), q.Get("password")) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "authentication required"})
		return
	}
	if q.Get("source") != IdentifierSource {
		writeJSON(w, http.StatusOK, map[string]any{"identifiers": []string{}})
		return
	}
	a.mu.Lock()
	a.nextID++
	n := a.nextID
	a.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"identifiers": []string{strconv.Itoa(n) + luhnCheckLetter(n)}})
}

// luhnCheckLetter appends a check character so identifiers look like the
// reference application's.
func luhnCheckLetter(n int) string {
	sum := 0
	for i, d := range strconv.Itoa(n) {
		v := int(d - '0')
		if i%2 == 0 {
			v *= 2
			if v > 9 {
				v -= 9
			}
		}
		sum += v
	}
	return string(rune('A' + sum%26))
}

// =============================================================================
// REST
// =============================================================================

func (a *App) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !a.checkPassword(r.Context(), user, pass) {
			writeError(w, http.StatusUnauthorized, "User is not logged in")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"message": message}})
}

type restError struct {
	status  int
	message string
}

func (e *restError) Error() string { return e.message }

func badRequest(format string, args ...any) error {
	return &restError{status: http.StatusBadRequest, message: fmt.Sprintf(format, args...)}
}

var errNotFound = &restError{status: http.StatusNotFound, message: "Object with given uuid doesn't exist"}

func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var re *restError
	if errors.As(err, &re) {
		writeError(w, re.status, re.message)
		return
	}
	obs.Pkg("fakeapp").Error("rest handler failed", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (a *App) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resource := r.PathValue("resource")
	ctx := r.Context()
	var (
		id  string
		err error
	)
	switch resource {
	case "person":
		id, err = a.createPerson(ctx, body)
	case "patient":
		id, err = a.createPatient(ctx, body)
	case "user":
		id, err = a.createUser(ctx, body)
	case "role":
		id, err = a.createRole(ctx, body)
	case "provider":
		id, err = a.createProvider(ctx, body)
	case "encounter":
		id, err = a.createEncounter(ctx, body)
	default:
		writeError(w, http.StatusNotFound, "unknown resource "+resource)
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	doc, err := a.read(ctx, resource, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (a *App) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := a.read(r.Context(), r.PathValue("resource"), r.PathValue("uuid"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *App) handleSearch(w http.ResponseWriter, r *http.Request) {
	tables := map[string]struct{ table, name string }{
		"role":                  {"role", "role"},
		"patientidentifiertype": {"patient_identifier_type", "name"},
		"encountertype":         {"encounter_type", "name"},
	}
	search, ok := tables[r.PathValue("resource")]
	if !ok {
		writeError(w, http.StatusBadRequest, "search is not supported on "+r.PathValue("resource"))
		return
	}
	q := r.URL.Query().Get("q")
	rows, err := a.Store.DB().QueryContext(r.Context(),
		fmt.Sprintf(`SELECT %s, uuid FROM %s WHERE %s LIKE ? ORDER BY %s`, search.name, search.table, search.name, search.name), "%"+q+"%")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	defer rows.Close()
	results := []map[string]any{}
	for rows.Next() {
		var name, id string
		if err := rows.Scan(&name, &id); err != nil {
			a.fail(w, r, err)
			return
		}
		results = append(results, map[string]any{"uuid": id, "display": name, "name": name})
	}
	if err := rows.Err(); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// handleDelete voids a patient after DeleteDelay, or removes its rows at
// once when purge=true. Other resources are not deletable here.
func (a *App) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("resource") != "patient" {
		writeError(w, http.StatusBadRequest, "delete is only supported for patients")
		return
	}
	id := r.PathValue("uuid")
	personID, err := a.idFor(r.Context(), "person", "person_id", id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if r.URL.Query().Get("purge") == "true" {
		if err := a.purgePatient(r.Context(), personID); err != nil {
			a.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	a.timers.Add(1)
	time.AfterFunc(a.opts.DeleteDelay, func() {
		defer a.timers.Done()
		if _, err := a.Store.DB().Exec(`UPDATE patient SET voided = 1 WHERE patient_id = ?`, personID); err != nil {
			obs.Pkg("fakeapp").Error("void patient", "patient_id", personID, "error", err.Error())
		}
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) purgePatient(ctx context.Context, personID int64) error {
	return a.Store.Batch(ctx, func(tx *db.Tx) error {
		for _, q := range []string{
			`DELETE FROM encounter WHERE patient_id = ?`,
			`DELETE FROM patient_identifier WHERE patient_id = ?`,
			`DELETE FROM patient WHERE patient_id = ?`,
		} {
			if _, err := tx.Exec(ctx, q, personID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (a *App) idFor(ctx context.Context, table, idColumn, id string) (int64, error) {
	n, err := a.Store.LookupID(ctx, table, idColumn, "uuid", id)
	if errs.CodeOf(err) == errs.NotFound {
		return 0, errNotFound
	}
	return n, err
}

func str(body map[string]any, key string) string {
	s, _ := body[key].(string)
	return s
}

func first(body map[string]any, key string) map[string]any {
	list, _ := body[key].([]any)
	if len(list) == 0 {
		return map[string]any{}
	}
	m, _ := list[0].(map[string]any)
	if m == nil {
		return map[string]any{}
	}
	return m
}

func (a *App) createPerson(ctx context.Context, body map[string]any) (string, error) {
	name := first(body, "names")
	addr := first(body, "addresses")
	if str(name, "givenName") == "" || str(name, "familyName") == "" {
		return "", badRequest("names: givenName and familyName are required")
	}
	id := uuid.NewString()
	err := a.Store.Batch(ctx, func(tx *db.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO person (uuid, gender, birthdate) VALUES (?, ?, ?)`,
			id, str(body, "gender"), str(body, "birthdate")); err != nil {
			return err
		}
		var personID int64
		if err := tx.QueryRow(ctx, `SELECT person_id FROM person WHERE uuid = ?`, id).Scan(&personID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO person_name (person_id, given_name, family_name, uuid) VALUES (?, ?, ?, uuid())`,
			personID, str(name, "givenName"), str(name, "familyName")); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO name_phonetics (person_name_id, field, renderered_string)
			SELECT person_name_id, 1, upper(substr(given_name, 1, 3)) FROM person_name WHERE person_id = ?`, personID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO person_address (person_id, address1, city_village, country, postal_code, uuid) VALUES (?, ?, ?, ?, ?, uuid())`,
			personID, str(addr, "address1"), str(addr, "cityVillage"), str(addr, "country"), str(addr, "postalCode"))
		return err
	})
	return id, err
}

func (a *App) createPatient(ctx context.Context, body map[string]any) (string, error) {
	personUUID := str(body, "person")
	ident := first(body, "identifiers")
	if str(ident, "identifier") == "" {
		return "", badRequest("identifiers: identifier is required")
	}
	err := a.Store.Batch(ctx, func(tx *db.Tx) error {
		var personID, typeID int64
		if err := tx.QueryRow(ctx, `SELECT person_id FROM person WHERE uuid = ?`, personUUID).Scan(&personID); err != nil {
			return badRequest("person %s does not exist", personUUID)
		}
		if err := tx.QueryRow(ctx, `SELECT patient_identifier_type_id FROM patient_identifier_type WHERE uuid = ?`,
			str(ident, "identifierType")).Scan(&typeID); err != nil {
			return badRequest("identifier type %s does not exist", str(ident, "identifierType"))
		}
		if _, err := tx.Exec(ctx, `INSERT INTO patient (patient_id) VALUES (?)`, personID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO patient_identifier (patient_id, identifier, identifier_type, preferred, uuid) VALUES (?, ?, ?, 1, uuid())`,
			personID, str(ident, "identifier"), typeID)
		return err
	})
	return personUUID, err
}

func (a *App) createUser(ctx context.Context, body map[string]any) (string, error) {
	username, password := str(body, "username"), str(body, "password")
	if username == "" || len(password) < 8 {
		return "", badRequest("username and a password of at least 8 characters are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return "", err
	}
	roles, _ := body["roles"].([]any)
	props, _ := body["userProperties"].(map[string]any)
	id := uuid.NewString()
	err = a.Store.Batch(ctx, func(tx *db.Tx) error {
		var personID int64
		if err := tx.QueryRow(ctx, `SELECT person_id FROM person WHERE uuid = ?`, str(body, "person")).Scan(&personID); err != nil {
			return badRequest("person %s does not exist", str(body, "person"))
		}
		if _, err := tx.Exec(ctx, `INSERT INTO users (person_id, username, password, uuid) VALUES (?, ?, ?, ?)`,
			personID, username, string(hash), id); err != nil {
			return badRequest("user %s: %v", username, err)
		}
		var userID int64
		if err := tx.QueryRow(ctx, `SELECT user_id FROM users WHERE uuid = ?`, id).Scan(&userID); err != nil {
			return err
		}
		for _, ref := range roles {
			var role string
			if err := tx.QueryRow(ctx, `SELECT role FROM role WHERE uuid = ? OR role = ?`, ref, ref).Scan(&role); err != nil {
				return badRequest("role %v does not exist", ref)
			}
			if _, err := tx.Exec(ctx, `INSERT OR IGNORE INTO user_role (user_id, role) VALUES (?, ?)`, userID, role); err != nil {
				return err
			}
		}
		for k, v := range props {
			if _, err := tx.Exec(ctx, `INSERT INTO user_property (user_id, property, property_value) VALUES (?, ?, ?)`, userID, k, fmt.Sprint(v)); err != nil {
				return err
			}
		}
		return nil
	})
	return id, err
}

func (a *App) createRole(ctx context.Context, body map[string]any) (string, error) {
	name := str(body, "name")
	if name == "" {
		return "", badRequest("name is required")
	}
	id := uuid.NewString()
	if _, err := a.Store.DB().ExecContext(ctx, `INSERT INTO role (role, description, uuid) VALUES (?, ?, ?)`, name, str(body, "description"), id); err != nil {
		return "", badRequest("role %s: %v", name, err)
	}
	return id, nil
}

func (a *App) createProvider(ctx context.Context, body map[string]any) (string, error) {
	id := uuid.NewString()
	res, err := a.Store.DB().ExecContext(ctx, `INSERT INTO provider (person_id, identifier, uuid)
		SELECT person_id, ?, ? FROM person WHERE uuid = ?`, str(body, "identifier"), id, str(body, "person"))
	if err != nil {
		return "", err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", badRequest("person %s does not exist", str(body, "person"))
	}
	return id, nil
}

func (a *App) createEncounter(ctx context.Context, body map[string]any) (string, error) {
	id := uuid.NewString()
	res, err := a.Store.DB().ExecContext(ctx, `INSERT INTO encounter (encounter_type, patient_id, encounter_datetime, uuid)
		SELECT et.encounter_type_id, p.person_id, ?, ?
		FROM encounter_type et, person p JOIN patient pt ON pt.patient_id = p.person_id
		WHERE et.uuid = ? AND p.uuid = ?`, str(body, "encounterDatetime"), id, str(body, "encounterType"), str(body, "patient"))
	if err != nil {
		return "", err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", badRequest("unknown patient or encounter type")
	}
	return id, nil
}

// read renders the full representation of one resource.
func (a *App) read(ctx context.Context, resource, id string) (map[string]any, error) {
	conn := a.Store.DB()
	notFound := func(err error) error {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound
		}
		return err
	}
	switch resource {
	case "person":
		var gender, given, family string
		var voided bool
		err := conn.QueryRowContext(ctx, `SELECT p.gender, p.voided, n.given_name, n.family_name
			FROM person p JOIN person_name n ON n.person_id = p.person_id WHERE p.uuid = ?`, id).Scan(&gender, &voided, &given, &family)
		if err != nil {
			return nil, notFound(err)
		}
		return map[string]any{"uuid": id, "display": given + " " + family, "gender": gender, "voided": voided}, nil
	case "patient":
		var identifier, typeUUID, typeName string
		var voided bool
		err := conn.QueryRowContext(ctx, `SELECT pt.voided, pi.identifier, t.uuid, t.name
			FROM person p
			JOIN patient pt ON pt.patient_id = p.person_id
			JOIN patient_identifier pi ON pi.patient_id = pt.patient_id
			JOIN patient_identifier_type t ON t.patient_identifier_type_id = pi.identifier_type
			WHERE p.uuid = ?`, id).Scan(&voided, &identifier, &typeUUID, &typeName)
		if err != nil {
			return nil, notFound(err)
		}
		return map[string]any{
			"uuid":    id,
			"display": identifier,
			"voided":  voided,
			"person":  map[string]any{"uuid": id},
			"identifiers": []map[string]any{{
				"identifier":     identifier,
				"identifierType": map[string]any{"uuid": typeUUID, "display": typeName},
				"preferred":      true,
			}},
		}, nil
	case "user":
		var username, personUUID string
		var retired bool
		err := conn.QueryRowContext(ctx, `SELECT u.username, u.retired, p.uuid FROM users u JOIN person p ON p.person_id = u.person_id
			WHERE u.uuid = ?`, id).Scan(&username, &retired, &personUUID)
		if err != nil {
			return nil, notFound(err)
		}
		roles, err := a.userRoles(ctx, id)
		if err != nil {
			return nil, err
		}
		return map[string]any{"uuid": id, "display": username, "username": username, "retired": retired,
			"person": map[string]any{"uuid": personUUID}, "roles": roles}, nil
	case "role":
		var name string
		if err := conn.QueryRowContext(ctx, `SELECT role FROM role WHERE uuid = ?`, id).Scan(&name); err != nil {
			return nil, notFound(err)
		}
		return map[string]any{"uuid": id, "display": name, "name": name}, nil
	case "provider":
		var identifier string
		var roleName sql.NullString
		err := conn.QueryRowContext(ctx, `SELECT p.identifier, r.name FROM provider p
			LEFT JOIN providermanagement_provider_role r ON r.provider_role_id = p.provider_role_id WHERE p.uuid = ?`, id).Scan(&identifier, &roleName)
		if err != nil {
			return nil, notFound(err)
		}
		doc := map[string]any{"uuid": id, "display": identifier, "identifier": identifier}
		if roleName.Valid {
			doc["providerRole"] = map[string]any{"display": roleName.String}
		}
		return doc, nil
	case "encounter":
		var datetime, typeUUID string
		err := conn.QueryRowContext(ctx, `SELECT e.encounter_datetime, t.uuid FROM encounter e
			JOIN encounter_type t ON t.encounter_type_id = e.encounter_type WHERE e.uuid = ?`, id).Scan(&datetime, &typeUUID)
		if err != nil {
			return nil, notFound(err)
		}
		return map[string]any{"uuid": id, "encounterDatetime": datetime, "encounterType": map[string]any{"uuid": typeUUID}}, nil
	}
	return nil, &restError{status: http.StatusNotFound, message: "unknown resource " + resource}
}

func (a *App) userRoles(ctx context.Context, userUUID string) ([]map[string]any, error) {
	rows, err := a.Store.DB().QueryContext(ctx, `SELECT r.role, r.uuid FROM user_role ur
		JOIN users u ON u.user_id = ur.user_id JOIN role r ON r.role = ur.role
		WHERE u.uuid = ? ORDER BY r.role`, userUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	roles := []map[string]any{}
	for rows.Next() {
		var name, id string
		if err := rows.Scan(&name, &id); err != nil {
			return nil, err
		}
		roles = append(roles, map[string]any{"uuid": id, "display": name})
	}
	return roles, rows.Err()
}

// Count returns the number of rows in table, for assertions on cleanup.
func (a *App) Count(t testing.TB, table string) int {
	t.Helper()
	if !db.ValidIdentifier(table) {
		t.Fatalf("invalid table %q", table)
	}
	var n int
	if err := a.Store.DB().QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
