package artifacts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/uifixture/internal/config"
	"github.com/kuitang/uifixture/internal/errs"
	"github.com/kuitang/uifixture/internal/page/pagetest"
)

func TestPutGet(t *testing.T) {
	t.Parallel()
	s := TestStore(t, "artifacts")
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "run/a.txt", "text/plain", []byte("hello")))
	got, err := s.Get(ctx, "run/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	_, err = s.Get(ctx, "run/missing.txt")
	assert.Equal(t, errs.NotFound, errs.CodeOf(err))
}

func TestCapture_UploadsScreenshotAndHTML(t *testing.T) {
	t.Parallel()
	s := TestStore(t, "artifacts")
	ctx := context.Background()
	d := pagetest.New("http://localhost:8080/openmrs/referenceapplication/home.page")

	keys, err := s.Capture(ctx, d, "/run-1/TestHome/")
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1/TestHome/screenshot.png", "run-1/TestHome/page.html"}, keys)

	html, err := s.Get(ctx, "run-1/TestHome/page.html")
	require.NoError(t, err)
	assert.Contains(t, string(html), "home.page")
}

func TestCapture_KeepsWhatItCouldCollect(t *testing.T) {
	t.Parallel()
	s := TestStore(t, "artifacts")
	d := pagetest.New("http://localhost/openmrs/login.htm")
	d.FailScreenshots(errors.New("target closed"))

	keys, err := s.Capture(context.Background(), d, "run-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target closed")
	assert.Equal(t, []string{"run-2/page.html"}, keys)
}

func TestNew_RequiresBucket(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), Options{Region: "us-east-1"})
	assert.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
}

func TestOptionsFrom(t *testing.T) {
	t.Parallel()
	opts := OptionsFrom(&config.Config{
		ArtifactBucket: "b",
		AWSEndpointS3:  "http://minio:9000",
		AWSRegion:      "auto",
	})
	assert.True(t, opts.UsePathStyle)
	assert.Equal(t, "b", opts.Bucket)

	assert.False(t, OptionsFrom(&config.Config{ArtifactBucket: "b"}).UsePathStyle)
}
