package e2e

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/uifixture/internal/fixtures"
	"github.com/kuitang/uifixture/internal/obs"
	"github.com/kuitang/uifixture/tests/e2e/testutil"
)

// API calls made through an orchestrator carry the test's correlation
// fields, and credentials never reach the log.
func TestE2E_APILogsCarryCorrelationAndRedactPasswords(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutputForTests(&buf)
	defer restore()

	e := newEnv(t, testutil.Options{})
	o := e.suite.New(t)
	u, err := o.CreateUser(context.Background(), "logged1", fixtures.RoleInfo{Name: "Clerk"})
	require.NoError(t, err)
	require.NoError(t, o.DeleteUser(context.Background(), u))

	out := buf.String()
	require.Contains(t, out, `"run_id":"e2e"`)
	require.Contains(t, out, `"test":"`+t.Name()+`"`)
	require.Contains(t, out, `"msg":"api call"`)
	require.False(t, strings.Contains(out, u.Password), "user password leaked into logs")
	require.False(t, strings.Contains(out, testutil.AdminPassword), "admin password leaked into logs")
}
