package archiveorg_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdatalab/gr-archiver/internal/archiveorg"
	"github.com/civicdatalab/gr-archiver/internal/stage"
)

const identifier = "in.gov.maharashtra.gr.202406011234567890"

func newClient(t *testing.T, srv *httptest.Server) *archiveorg.Client {
	t.Helper()
	return archiveorg.New(archiveorg.Config{
		UploadURL: srv.URL,
		AccessKey: "ak",
		SecretKey: "sk",
		Timeout:   5 * time.Second,
	}, nil)
}

func documentFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "202406011234567890.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 body"), 0o600))
	return path
}

func TestClientUpload(t *testing.T) {
	t.Run("DocumentUpload", func(t *testing.T) {
		var gotPath string
		var gotHeader http.Header
		var gotBody []byte
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPut, r.Method)
			gotPath = r.URL.Path
			gotHeader = r.Header.Clone()
			var err error
			gotBody, err = io.ReadAll(r.Body)
			require.NoError(t, err)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		item, err := newClient(t, srv).Upload(context.Background(), stage.UploadRequest{
			Identifier: identifier,
			LocalPath:  documentFile(t),
			Metadata: map[string]string{
				"collection":  "maharashtragr",
				"mediatype":   "texts",
				"unique_code": "202406011234567890",
			},
			WaybackURL: "https://web.archive.org/web/20240601000000/https://example.com/doc.pdf",
		})
		require.NoError(t, err)

		assert.Equal(t, identifier, item.Identifier)
		assert.Equal(t, "https://archive.org/details/"+identifier, item.URL)

		assert.Equal(t, "/"+identifier+"/202406011234567890.pdf", gotPath)
		assert.Equal(t, []byte("%PDF-1.4 body"), gotBody)
		assert.Equal(t, "LOW ak:sk", gotHeader.Get("Authorization"))
		assert.Equal(t, "application/pdf", gotHeader.Get("Content-Type"))
		assert.Equal(t, "1", gotHeader.Get("x-archive-auto-make-bucket"))
		assert.Equal(t, "1", gotHeader.Get("x-archive-keep-old-version"))
		assert.Equal(t, "maharashtragr", gotHeader.Get("x-archive-meta-collection"))
		assert.Equal(t, "texts", gotHeader.Get("x-archive-meta-mediatype"))
		assert.Equal(t, "202406011234567890", gotHeader.Get("x-archive-meta-unique_code"))
	})

	t.Run("MetadataOnlyPutsBucketPath", func(t *testing.T) {
		var gotPath string
		var gotLength int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotLength = r.ContentLength
			w.WriteHeader(http.StatusCreated)
		}))
		defer srv.Close()

		item, err := newClient(t, srv).Upload(context.Background(), stage.UploadRequest{
			Identifier: identifier,
			Metadata:   map[string]string{"collection": "maharashtragr"},
		})
		require.NoError(t, err)
		assert.Equal(t, identifier, item.Identifier)
		assert.Equal(t, "/"+identifier, gotPath, "no filename segment without a document")
		assert.Zero(t, gotLength)
	})

	t.Run("EmptyIdentifierIsRejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			t.Error("no request expected")
		}))
		defer srv.Close()

		_, err := newClient(t, srv).Upload(context.Background(), stage.UploadRequest{})
		var rejected *stage.RejectedError
		require.ErrorAs(t, err, &rejected)
		assert.Equal(t, "empty identifier", rejected.Reason)
	})

	t.Run("MissingDocumentIsRejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			t.Error("no request expected")
		}))
		defer srv.Close()

		_, err := newClient(t, srv).Upload(context.Background(), stage.UploadRequest{
			Identifier: identifier,
			LocalPath:  filepath.Join(t.TempDir(), "gone.pdf"),
		})
		var rejected *stage.RejectedError
		require.ErrorAs(t, err, &rejected)
		assert.Contains(t, rejected.Reason, "open document")
	})

	t.Run("ServerErrorIsServiceError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := newClient(t, srv).Upload(context.Background(), stage.UploadRequest{Identifier: identifier})
		assert.True(t, stage.IsServiceError(err))
		assert.Contains(t, err.Error(), "http_503")
	})

	t.Run("ForbiddenIsRejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		_, err := newClient(t, srv).Upload(context.Background(), stage.UploadRequest{Identifier: identifier})
		var rejected *stage.RejectedError
		require.ErrorAs(t, err, &rejected)
		assert.Contains(t, rejected.Reason, "http_403")
	})
}
