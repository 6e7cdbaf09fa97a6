package ingest

import (
	"context"
	"path"
	"time"

	"talent-search/internal/apperr"
	"talent-search/internal/storage"
	"talent-search/internal/types"
)

// ObjectStoreSource 对象存储中的简历。location id 是对象前缀，id 是对象 key
type ObjectStoreSource struct {
	objects   storage.ObjectStorage
	maxObjs   int
	urlExpiry time.Duration
}

// NewObjectStoreSource maxObjs<=0 表示不限制
func NewObjectStoreSource(objects storage.ObjectStorage, maxObjs int, urlExpiry time.Duration) *ObjectStoreSource {
	if urlExpiry <= 0 {
		urlExpiry = 24 * time.Hour
	}
	return &ObjectStoreSource{objects: objects, maxObjs: maxObjs, urlExpiry: urlExpiry}
}

var _ DocumentSource = (*ObjectStoreSource)(nil)

// List 列出前缀下的 PDF。仍要求请求携带凭据，与 Drive 保持一致
func (s *ObjectStoreSource) List(ctx context.Context, prefix string, token *types.ExternalAuthToken) ([]Document, error) {
	if token.Empty() {
		return nil, apperr.New(apperr.KindMissingCredential, "object_list", "access token is required")
	}
	objs, err := s.objects.ListPDFs(ctx, prefix, s.maxObjs)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExternalSourceUnavailable, "object_list", err)
	}
	docs := make([]Document, 0, len(objs))
	for _, o := range objs {
		link, err := s.objects.GetPresignedURL(ctx, o.Key, s.urlExpiry)
		if err != nil {
			link = ""
		}
		docs = append(docs, Document{ID: o.Key, Name: path.Base(o.Key), MimeType: MimePDF, WebLink: link})
	}
	return docs, nil
}

// Fetch 下载对象
func (s *ObjectStoreSource) Fetch(ctx context.Context, doc Document, _ *types.ExternalAuthToken) ([]byte, error) {
	data, err := s.objects.DownloadFile(ctx, doc.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExternalSourceUnavailable, "object_fetch", err)
	}
	return data, nil
}
