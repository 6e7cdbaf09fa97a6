package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"talent-search/internal/apperr"
	"talent-search/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	objs       []storage.ObjectInfo
	files      map[string][]byte
	listErr    error
	presignErr error
	lastPrefix string
	lastLimit  int
}

func (f *fakeObjects) ListPDFs(_ context.Context, prefix string, limit int) ([]storage.ObjectInfo, error) {
	f.lastPrefix, f.lastLimit = prefix, limit
	return f.objs, f.listErr
}

func (f *fakeObjects) DownloadFile(_ context.Context, name string) ([]byte, error) {
	data, ok := f.files[name]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return data, nil
}

func (f *fakeObjects) GetPresignedURL(_ context.Context, name string, _ time.Duration) (string, error) {
	if f.presignErr != nil {
		return "", f.presignErr
	}
	return "https://minio.local/" + name + "?sig=1", nil
}

func TestObjectStoreSource(t *testing.T) {
	objects := &fakeObjects{
		objs:  []storage.ObjectInfo{{Key: "alice/resumes/a.pdf"}, {Key: "alice/resumes/b.pdf"}},
		files: map[string][]byte{"alice/resumes/a.pdf": []byte("%PDF a")},
	}
	src := NewObjectStoreSource(objects, 50, 0)
	ctx := context.Background()

	_, err := src.List(ctx, "alice/resumes/", nil)
	assert.Equal(t, apperr.KindMissingCredential, apperr.KindOf(err))

	docs, err := src.List(ctx, "alice/resumes/", testToken)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "alice/resumes/", objects.lastPrefix)
	assert.Equal(t, 50, objects.lastLimit)
	assert.Equal(t, "a.pdf", docs[0].Name)
	assert.True(t, IsPDF(docs[0]))
	assert.Contains(t, docs[0].WebLink, "sig=1")

	data, err := src.Fetch(ctx, docs[0], testToken)
	require.NoError(t, err)
	assert.Equal(t, "%PDF a", string(data))

	_, err = src.Fetch(ctx, docs[1], testToken)
	assert.Equal(t, apperr.KindExternalSourceUnavailable, apperr.KindOf(err))
}

func TestObjectStoreSourceErrors(t *testing.T) {
	objects := &fakeObjects{listErr: errors.New("connection refused")}
	_, err := NewObjectStoreSource(objects, 0, time.Hour).List(context.Background(), "x/", testToken)
	assert.ErrorIs(t, err, apperr.ErrExternalSourceUnavailable)

	// 预签名失败不影响列表
	objects = &fakeObjects{objs: []storage.ObjectInfo{{Key: "x/c.pdf"}}, presignErr: errors.New("no creds")}
	docs, err := NewObjectStoreSource(objects, 0, time.Hour).List(context.Background(), "x/", testToken)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Empty(t, docs[0].WebLink)
}
