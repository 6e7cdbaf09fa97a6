// Package ingest 把用户外部文件库中的 PDF 简历导入外部分区，并对其做一次分析
package ingest

import (
	"context"
	"path"
	"regexp"
	"strings"

	"talent-search/internal/types"
)

// MimePDF PDF 的 MIME 类型
const MimePDF = "application/pdf"

// Document 外部文件库中的一个文档
type Document struct {
	ID       string // 文件库内的原生 ID，也是记录 ID
	Name     string
	MimeType string
	WebLink  string
}

// DocumentSource 外部文件库：按位置列出文档、下载文档内容
type DocumentSource interface {
	List(ctx context.Context, locationID string, token *types.ExternalAuthToken) ([]Document, error)
	Fetch(ctx context.Context, doc Document, token *types.ExternalAuthToken) ([]byte, error)
}

// IsPDF MIME 为 application/pdf 或文件名以 .pdf 结尾
func IsPDF(doc Document) bool {
	if strings.EqualFold(doc.MimeType, MimePDF) {
		return true
	}
	return strings.EqualFold(path.Ext(doc.Name), ".pdf")
}

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`(?:\+?\d{1,3}[\s.\-]?)?(?:\(\d{3}\)|\d{3})[\s.\-]?\d{3}[\s.\-]?\d{4}`)
)

// BuildRecord 由文档和提取出的文本生成外部分区记录
func BuildRecord(doc Document, text, userID string) types.ResumeRecord {
	name := doc.Name
	if ext := path.Ext(name); ext != "" {
		name = strings.TrimSuffix(name, ext)
	}
	return types.ResumeRecord{
		ID:   doc.ID,
		Name: strings.TrimSpace(name),
		Contact: types.Contact{
			Email: emailPattern.FindString(text),
			Phone: strings.TrimSpace(phonePattern.FindString(text)),
		},
		ResumeURL: doc.WebLink,
		RawText:   text,
		UserID:    userID,
	}
}
