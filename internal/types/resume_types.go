package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Partition 表示向量库中的分区（Qdrant collection）
type Partition string

const (
	// PartitionPrimary 公共简历库
	PartitionPrimary Partition = "primary"
	// PartitionExternal 用户私有的外部文档库，查询时必须带 user_id 过滤
	PartitionExternal Partition = "external"
)

// Contact 候选人联系方式
type Contact struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// ResumeRecord 简历记录。向量只在写入时由 RawText 生成一次，之后不再变更。
type ResumeRecord struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Contact   Contact  `json:"contact"`
	JobTitle  string   `json:"job_title"`
	Industry  string   `json:"industry"`
	Level     string   `json:"level"`
	Skills    []string `json:"skills"`
	ResumeURL string   `json:"resume_url"`
	RawText   string   `json:"raw_text"`
	UserID    string   `json:"user_id,omitempty"` // 仅外部分区
}

// ScoredRecord 带相似度分数的检索结果
type ScoredRecord struct {
	Record    ResumeRecord
	Score     float32
	Partition Partition
}

// CandidateSummary 提供给 LLM 的候选人摘要
type CandidateSummary struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	Phone      string  `json:"phone"`
	JobTitle   string  `json:"job_title"`
	Level      string  `json:"level"`
	Industry   string  `json:"industry"`
	Skills     string  `json:"skills"`
	ResumeURL  string  `json:"resume_url"`
	Score      float32 `json:"similarity_score"`
	ResumeText string  `json:"resume_text"`
}

// Source 检索来源，封闭枚举
type Source string

const (
	SourcePrimary  Source = "PrimaryStore"
	SourceExternal Source = "ExternalStore"
	SourceBoth     Source = "Both"
)

// ParseSource 解析来源选择器，兼容旧接口的别名（proprietary / google_drive / both）
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primarystore", "primary", "proprietary", "":
		return SourcePrimary, nil
	case "externalstore", "external", "google_drive", "drive":
		return SourceExternal, nil
	case "both":
		return SourceBoth, nil
	}
	return "", fmt.Errorf("unknown source selector %q", s)
}

// ExternalAuthToken 外部文件库的 OAuth 凭据
type ExternalAuthToken struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Expiry       string `json:"expiry,omitempty"`
}

// Empty 凭据是否缺失
func (t *ExternalAuthToken) Empty() bool {
	return t == nil || strings.TrimSpace(t.AccessToken) == ""
}

// SearchRequest 调用方的检索请求。UserID 由认证信息推导，不从请求体读取。
type SearchRequest struct {
	Query               string             `json:"query"`
	Source              string             `json:"source"`
	ResultLimit         int                `json:"result_limit"`
	ExternalLocationIDs []string           `json:"external_location_ids,omitempty"`
	ExternalAuthToken   *ExternalAuthToken `json:"external_auth_token,omitempty"`
	UserID              string             `json:"-"`
}

// ContactInformation LLM 输出中的联系方式
type ContactInformation struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// AnalyzedCandidate LLM 排序后的候选人
type AnalyzedCandidate struct {
	Name               string             `json:"name"`
	ContactInformation ContactInformation `json:"contact_information"`
	Summary            string             `json:"summary"`
	ResumePDFURL       string             `json:"resume_pdf_url"`
}

// AnalysisResult 最终分析结果，Candidates 的顺序即 LLM 给出的排名
type AnalysisResult struct {
	OverallSummary        string              `json:"overall_summary"`
	Candidates            []AnalyzedCandidate `json:"candidates"`
	OverallRecommendation string              `json:"overall_recommendation"`
}

// MarshalJSON 保证 candidates 序列化为数组而不是 null
func (r AnalysisResult) MarshalJSON() ([]byte, error) {
	type alias AnalysisResult
	if r.Candidates == nil {
		r.Candidates = []AnalyzedCandidate{}
	}
	return json.Marshal(alias(r))
}

// Normalize 把 nil 候选人列表替换为空列表
func (r *AnalysisResult) Normalize() {
	if r.Candidates == nil {
		r.Candidates = []AnalyzedCandidate{}
	}
}

// TokenUsage 一次请求内所有模型调用的 token 累计
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add 累加
func (u *TokenUsage) Add(in, out int) {
	u.InputTokens += in
	u.OutputTokens += out
}

// SearchOutcome 路由层内部结果
type SearchOutcome struct {
	Result     AnalysisResult
	Usage      TokenUsage
	FinalState string
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// SearchResponse 统一的对外响应
type SearchResponse struct {
	Status       string          `json:"status"`
	AnalysisData *AnalysisResult `json:"analysis_data,omitempty"`
	Usage        *TokenUsage     `json:"usage,omitempty"`
	Kind         string          `json:"kind,omitempty"`
	Message      string          `json:"message,omitempty"`
	RawOutput    string          `json:"raw_output,omitempty"`
}

// ExternalQuery 外部文件库路径的输入
type ExternalQuery struct {
	Query       string
	Limit       int
	LocationIDs []string
	UserID      string
	Token       *ExternalAuthToken
}

// IngestReport 一次导入的统计
type IngestReport struct {
	Listed        int  `json:"listed"`
	Indexed       int  `json:"indexed"`
	SkippedExists int  `json:"skipped_exists"`
	SkippedFailed int  `json:"skipped_failed"`
	LockSkipped   bool `json:"lock_skipped"` // 其他导入持有锁，本次未导入
}
