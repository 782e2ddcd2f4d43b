package d4sign

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"apolice-backend/internal/pkg/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(srv *httptest.Server) *Client {
	return &Client{
		BaseURL:    srv.URL,
		TokenAPI:   "live_token",
		CryptKey:   "live_crypt",
		SafeUUID:   "safe-1",
		FolderUUID: "folder-1",
		HTTP:       srv.Client(),
	}
}

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/documents/safe-1/upload", r.URL.Path)
		assert.Equal(t, "live_token", r.URL.Query().Get("tokenAPI"))
		assert.Equal(t, "live_crypt", r.URL.Query().Get("cryptKey"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "folder-1", r.FormValue("uuid_folder"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "Apolice-FIN-000001.pdf", hdr.Filename)
		b, _ := io.ReadAll(f)
		assert.Equal(t, "%PDF-1.4", string(b))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"uuid":"doc-123"}`))
	}))
	defer srv.Close()

	id, err := newClient(srv).Upload(context.Background(), "Apolice-FIN-000001", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "doc-123", id)
}

func TestUpload_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid safe"}`))
	}))
	defer srv.Close()

	_, err := newClient(srv).Upload(context.Background(), "x", []byte("pdf"))
	require.Error(t, err)
	assert.True(t, apperrors.IsExternalService(err))
}

func TestRegisterSignersAndFields(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		var body map[string][]map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch r.URL.Path {
		case "/documents/doc-1/createlist":
			require.Len(t, body["signers"], 2)
			assert.Equal(t, "g@x.com", body["signers"][0]["email"])
			assert.Equal(t, "1", body["signers"][1]["certified"])
		case "/documents/doc-1/addField":
			require.Len(t, body["fields"], 1)
			assert.Equal(t, "initials", body["fields"][0]["type"])
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newClient(srv)
	require.NoError(t, c.RegisterSigners(context.Background(), "doc-1", []Signer{
		{Email: "g@x.com", Act: ActSign, Foreign: "1"},
		{Email: "finance@x.com", Act: ActSign, Foreign: "1", Certified: "1"},
	}))
	require.NoError(t, c.AddFields(context.Background(), "doc-1", []Field{
		{Page: 1, X: 100, Y: 180, Width: 100, Height: 20, Type: "initials", KeySigner: "g@x.com"},
	}))
	assert.Equal(t, []string{"/documents/doc-1/createlist", "/documents/doc-1/addField"}, paths)
}

func TestAutoSignAndSendToSigner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch r.URL.Path {
		case "/documents/doc-1/sign":
			assert.Equal(t, "1", body["certificadoicpbr"])
		case "/documents/doc-1/sendtosigner":
			assert.Equal(t, "0", body["workflow"])
			assert.Equal(t, "0", body["skip_email"])
			assert.Equal(t, "Please sign", body["message"])
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newClient(srv)
	require.NoError(t, c.AutoSign(context.Background(), "doc-1"))
	require.NoError(t, c.SendToSigner(context.Background(), "doc-1", "Please sign", false))
}

func TestDownload_ViaURL(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/documents/doc-1/download":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"url":"` + srv.URL + `/files/doc-1.pdf"}`))
		case "/files/doc-1.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-signed"))
		}
	}))
	defer srv.Close()

	pdf, err := newClient(srv).Download(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-signed", string(pdf))
}

func TestDownload_RawBytesWithRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-raw"))
	}))
	defer srv.Close()

	c := newClient(srv)
	c.DownloadRetries = 2
	pdf, err := c.Download(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-raw", string(pdf))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
