package e2e

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/uifixture/internal/errs"
	"github.com/kuitang/uifixture/internal/fixtures"
	"github.com/kuitang/uifixture/internal/waitfor"
	"github.com/kuitang/uifixture/tests/e2e/testutil"
)

func TestE2E_WaitForPatientDeletion_ObservesAsyncVoid(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testutil.Options{DeleteDelay: 150 * time.Millisecond})
	o := e.suite.New(t)
	ctx := context.Background()

	p, err := o.CreateDefaultTestPatient(ctx)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, o.DeletePatient(ctx, p.PatientUUID))
	exists, err := fixtures.PatientExists(ctx, e.api, p.PatientUUID)
	require.NoError(t, err)
	assert.True(t, exists, "the delete has not landed yet")

	require.NoError(t, o.WaitForPatientDeletion(ctx, p.PatientUUID))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)

	exists, err = fixtures.PatientExists(ctx, e.api, p.PatientUUID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestE2E_WaitForDeletion_TimesOut(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testutil.Options{})
	o := e.suite.New(t)
	ctx := context.Background()

	p, err := o.CreateDefaultTestPatient(ctx)
	require.NoError(t, err)

	const budget = 200 * time.Millisecond
	start := time.Now()
	err = o.WaitForDeletion(ctx, "patient", p.PatientUUID, budget)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Timeout))
	var te *waitfor.TimeoutError
	require.True(t, errors.As(err, &te))
	assert.GreaterOrEqual(t, te.Elapsed, budget)
	assert.Less(t, elapsed, budget+2*time.Second, "the wait must not run far past its budget")
}

func TestE2E_WaitForDeletion_MissingEntityIsImmediate(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testutil.Options{})
	o := e.suite.New(t)

	require.NoError(t, o.WaitForDeletion(context.Background(), "patient", "no-such-uuid", time.Second))
}
