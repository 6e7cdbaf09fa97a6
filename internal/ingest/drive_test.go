package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"talent-search/internal/apperr"
	"talent-search/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type driveFake struct {
	mu      sync.Mutex
	queries []string
	auth    []string
}

func (f *driveFake) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.queries = append(f.queries, r.URL.Query().Get("q"))
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("pageToken") {
		case "":
			_, _ = w.Write([]byte(`{"nextPageToken":"p2","files":[{"id":"f1","name":"Dana Doe.pdf","mimeType":"application/pdf","webViewLink":"https://drive/f1"}]}`))
		case "p2":
			_, _ = w.Write([]byte(`{"files":[{"id":"f2","name":"Eve.pdf","mimeType":"application/pdf","webViewLink":"https://drive/f2"}]}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/files/f1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "media", r.URL.Query().Get("alt"))
		_, _ = w.Write([]byte("%PDF-1.4 fake"))
	})
	mux.HandleFunc("/files/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	return mux
}

func TestDriveSource_ListPaginates(t *testing.T) {
	fake := &driveFake{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	d := NewDriveSource(WithDriveBaseURL(srv.URL), WithDriveHTTPClient(srv.Client()))
	docs, err := d.List(context.Background(), "folder-1", &types.ExternalAuthToken{AccessToken: "tok"})
	require.NoError(t, err)

	require.Len(t, docs, 2)
	assert.Equal(t, Document{ID: "f1", Name: "Dana Doe.pdf", MimeType: MimePDF, WebLink: "https://drive/f1"}, docs[0])
	assert.Equal(t, "f2", docs[1].ID)

	require.Len(t, fake.queries, 2)
	assert.Equal(t, "'folder-1' in parents and mimeType='application/pdf' and trashed=false", fake.queries[0])
	assert.Equal(t, "Bearer tok", fake.auth[0])
}

func TestDriveSource_Fetch(t *testing.T) {
	srv := httptest.NewServer((&driveFake{}).handler(t))
	defer srv.Close()

	d := NewDriveSource(WithDriveBaseURL(srv.URL))
	token := &types.ExternalAuthToken{AccessToken: "tok"}

	data, err := d.Fetch(context.Background(), Document{ID: "f1"}, token)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF"))

	_, err = d.Fetch(context.Background(), Document{ID: "missing"}, token)
	require.Error(t, err)
	assert.Equal(t, apperr.KindExternalSourceUnavailable, apperr.KindOf(err))
}

func TestDriveSource_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"insufficient permissions"}`))
	}))
	defer srv.Close()

	d := NewDriveSource(WithDriveBaseURL(srv.URL))
	_, err := d.List(context.Background(), "folder", &types.ExternalAuthToken{AccessToken: "tok"})
	assert.Equal(t, apperr.KindExternalSourceUnavailable, apperr.KindOf(err))

	_, err = d.List(context.Background(), "folder", &types.ExternalAuthToken{})
	assert.Equal(t, apperr.KindMissingCredential, apperr.KindOf(err))
}

func TestBuildRecordAndIsPDF(t *testing.T) {
	text := "Dana Doe\nSenior Engineer\nContact: dana.doe@mail.example.org, +1 (415) 555-0199\n"
	rec := BuildRecord(Document{ID: "f1", Name: "Dana Doe.pdf", WebLink: "https://drive/f1"}, text, "alice")

	assert.Equal(t, "f1", rec.ID)
	assert.Equal(t, "Dana Doe", rec.Name)
	assert.Equal(t, "dana.doe@mail.example.org", rec.Contact.Email)
	assert.Equal(t, "+1 (415) 555-0199", rec.Contact.Phone)
	assert.Equal(t, "https://drive/f1", rec.ResumeURL)
	assert.Equal(t, "alice", rec.UserID)

	assert.True(t, IsPDF(Document{Name: "x.PDF"}))
	assert.True(t, IsPDF(Document{Name: "x", MimeType: MimePDF}))
	assert.False(t, IsPDF(Document{Name: "x.docx", MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document"}))
}

func TestDriveSource_ListStopsOnRepeatedToken(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		id := fmt.Sprintf("f%d", calls)
		_, _ = fmt.Fprintf(w, `{"nextPageToken":"same","files":[{"id":%q,"name":"%s.pdf","mimeType":"application/pdf"}]}`, id, id)
	}))
	defer srv.Close()

	d := NewDriveSource(WithDriveBaseURL(srv.URL))
	docs, err := d.List(context.Background(), "loop", &types.ExternalAuthToken{AccessToken: "tok"})
	require.NoError(t, err)
	// 第一页拿到 same，第二页再次返回 same 后停止
	assert.Equal(t, 2, calls)
	assert.Len(t, docs, 2)
}

func TestDriveSource_ListPageCap(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = fmt.Fprintf(w, `{"nextPageToken":"p%d","files":[]}`, calls)
	}))
	defer srv.Close()

	d := NewDriveSource(WithDriveBaseURL(srv.URL))
	docs, err := d.List(context.Background(), "endless", &types.ExternalAuthToken{AccessToken: "tok"})
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Equal(t, maxDrivePages, calls)
}

func TestDriveSource_ListMaxDocs(t *testing.T) {
	var sizes []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sizes = append(sizes, r.URL.Query().Get("pageSize"))
		_, _ = w.Write([]byte(`{"nextPageToken":"more","files":[` +
			`{"id":"a","name":"a.pdf","mimeType":"application/pdf"},` +
			`{"id":"b","name":"b.pdf","mimeType":"application/pdf"},` +
			`{"id":"c","name":"c.pdf","mimeType":"application/pdf"}]}`))
	}))
	defer srv.Close()

	d := NewDriveSource(WithDriveBaseURL(srv.URL), WithDriveMaxDocs(2))
	docs, err := d.List(context.Background(), "big", &types.ExternalAuthToken{AccessToken: "tok"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[1].ID)
	assert.Equal(t, []string{"2"}, sizes, "达到上限后不再翻页")
}
