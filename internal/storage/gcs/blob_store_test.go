package gcs

import (
	"bytes"
	"errors"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "pages"})
	require.ErrorContains(t, err, "storage client is required")

	_, err = New(&storage.Client{}, Config{})
	require.ErrorContains(t, err, "bucket name is required")
}

func TestObjectURI(t *testing.T) {
	t.Parallel()

	require.Equal(t, "gs://pages/a/b.html", ObjectURI("pages", "a/b.html"))
	require.Equal(t, "gs://pages/a/b.html", ObjectURI("pages", "/a/b.html"))
}

type fakeWriter struct {
	buf      bytes.Buffer
	writeErr error
	closeErr error
	closed   bool
}

func (f *fakeWriter) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.buf.Write(p)
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return f.closeErr
}

func TestUpload(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	require.NoError(t, upload(w, []byte("<html></html>")))
	require.True(t, w.closed)
	require.Equal(t, "<html></html>", w.buf.String())

	w = &fakeWriter{writeErr: errors.New("broken pipe"), closeErr: errors.New("closed")}
	err := upload(w, []byte("x"))
	require.ErrorContains(t, err, "copy object")
	require.ErrorContains(t, err, "close writer")

	w = &fakeWriter{closeErr: errors.New("quota")}
	require.ErrorContains(t, upload(w, []byte("x")), "close writer: quota")
}
