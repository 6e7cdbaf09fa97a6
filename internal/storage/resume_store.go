package storage

import (
	"context"
	"fmt"
	"strings"

	"talent-search/internal/apperr"
	"talent-search/internal/logger"
	"talent-search/internal/types"

	"github.com/rs/zerolog"
)

// payload 字段名
const (
	FieldResumeID  = "resume_id"
	FieldName      = "name"
	FieldEmail     = "email"
	FieldPhone     = "phone"
	FieldJobTitle  = "job_title"
	FieldIndustry  = "industry"
	FieldLevel     = "level"
	FieldSkills    = "skills"
	FieldResumeURL = "resume_url"
	FieldRawText   = "raw_text"
	FieldUserID    = "user_id"
)

// FilterableFields 需要建立 keyword 索引的字段
var FilterableFields = []string{FieldLevel, FieldIndustry, FieldUserID}

// VectorIndex 单个分区背后的向量集合，由 *Qdrant 实现
type VectorIndex interface {
	UpsertPoint(ctx context.Context, pointID string, vector []float64, payload map[string]interface{}) error
	RetrievePoints(ctx context.Context, pointIDs []string) ([]SearchResult, error)
	Search(ctx context.Context, queryVector []float64, limit int, must []FieldMatch) ([]SearchResult, error)
	CountPoints(ctx context.Context) (int64, error)
	Collection() string
}

var _ VectorIndex = (*Qdrant)(nil)

// TextEmbedder 文本向量化
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Filter 检索过滤条件，空字段表示不过滤；外部分区必须提供 UserID
type Filter struct {
	Level    string
	Industry string
	UserID   string
}

// ResumeStore 按分区管理简历记录
type ResumeStore struct {
	partitions map[types.Partition]VectorIndex
	logger     *zerolog.Logger
}

// NewResumeStore 创建简历库；external 可为 nil（未启用外部文档时）
func NewResumeStore(primary, external VectorIndex) *ResumeStore {
	partitions := map[types.Partition]VectorIndex{}
	if primary != nil {
		partitions[types.PartitionPrimary] = primary
	}
	if external != nil {
		partitions[types.PartitionExternal] = external
	}
	return &ResumeStore{partitions: partitions, logger: logger.Component("resume_store")}
}

func (s *ResumeStore) index(partition types.Partition) (VectorIndex, error) {
	idx, ok := s.partitions[partition]
	if !ok {
		return nil, apperr.New(apperr.KindStoreUnavailable, "resolve_partition", fmt.Sprintf("partition %s is not configured", partition))
	}
	return idx, nil
}

// RecordPointID 记录在分区中的 point ID；外部分区按用户隔离
func RecordPointID(partition types.Partition, userID, recordID string) string {
	if partition == types.PartitionExternal {
		return PointID(userID + "/" + recordID)
	}
	return PointID(recordID)
}

// Exists 记录是否已在分区中
func (s *ResumeStore) Exists(ctx context.Context, partition types.Partition, userID, recordID string) (bool, error) {
	idx, err := s.index(partition)
	if err != nil {
		return false, err
	}
	if partition == types.PartitionExternal && userID == "" {
		return false, apperr.New(apperr.KindInternal, "exists", "user_id is required for the external partition")
	}
	points, err := idx.RetrievePoints(ctx, []string{RecordPointID(partition, userID, recordID)})
	if err != nil {
		return false, apperr.Wrap(apperr.KindStoreUnavailable, "exists", err)
	}
	return len(points) > 0, nil
}

// Upsert 写入记录；已存在时不做任何修改并返回 false
func (s *ResumeStore) Upsert(ctx context.Context, partition types.Partition, record types.ResumeRecord, vector []float64) (bool, error) {
	if err := validateRecord(partition, record); err != nil {
		return false, err
	}
	exists, err := s.Exists(ctx, partition, record.UserID, record.ID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	return true, s.write(ctx, partition, record, vector)
}

// IndexRecord 检查、向量化、写入。记录已存在时不会调用 embedder。
func (s *ResumeStore) IndexRecord(ctx context.Context, partition types.Partition, record types.ResumeRecord, embedder TextEmbedder) (bool, error) {
	if err := validateRecord(partition, record); err != nil {
		return false, err
	}
	exists, err := s.Exists(ctx, partition, record.UserID, record.ID)
	if err != nil {
		return false, err
	}
	if exists {
		s.logger.Debug().Str("partition", string(partition)).Str("resume_id", record.ID).Msg("记录已存在，跳过")
		return false, nil
	}

	vector, err := embedder.Embed(ctx, record.RawText)
	if err != nil {
		return false, err
	}
	return true, s.write(ctx, partition, record, vector)
}

func (s *ResumeStore) write(ctx context.Context, partition types.Partition, record types.ResumeRecord, vector []float64) error {
	idx, err := s.index(partition)
	if err != nil {
		return err
	}
	pointID := RecordPointID(partition, record.UserID, record.ID)
	if err := idx.UpsertPoint(ctx, pointID, vector, RecordToPayload(partition, record)); err != nil {
		return apperr.Wrap(apperr.KindStoreUnavailable, "upsert", err)
	}
	return nil
}

func validateRecord(partition types.Partition, record types.ResumeRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return apperr.New(apperr.KindInternal, "validate_record", "record id is empty")
	}
	if partition == types.PartitionExternal && record.UserID == "" {
		return apperr.New(apperr.KindInternal, "validate_record", "user_id is required for the external partition")
	}
	return nil
}

// Query 相似度检索。外部分区强制带 user_id 过滤，并丢弃不属于该用户的结果。
// 同分结果的顺序由底层存储决定，不保证稳定。
func (s *ResumeStore) Query(ctx context.Context, partition types.Partition, vector []float64, k int, filter Filter) ([]types.ScoredRecord, error) {
	idx, err := s.index(partition)
	if err != nil {
		return nil, err
	}
	if partition == types.PartitionExternal && filter.UserID == "" {
		return nil, apperr.New(apperr.KindInternal, "query", "user_id is required for the external partition")
	}

	var must []FieldMatch
	if filter.Level != "" {
		must = append(must, FieldMatch{Key: FieldLevel, Value: filter.Level})
	}
	if filter.Industry != "" {
		must = append(must, FieldMatch{Key: FieldIndustry, Value: filter.Industry})
	}
	if partition == types.PartitionExternal {
		must = append(must, FieldMatch{Key: FieldUserID, Value: filter.UserID})
	}

	results, err := idx.Search(ctx, vector, k, must)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "query", err)
	}

	out := make([]types.ScoredRecord, 0, len(results))
	for _, r := range results {
		record := PayloadToRecord(r.Payload)
		if partition == types.PartitionExternal && record.UserID != filter.UserID {
			s.logger.Warn().Str("collection", idx.Collection()).Str("point_id", r.ID).Msg("丢弃不属于当前用户的检索结果")
			continue
		}
		out = append(out, types.ScoredRecord{Record: record, Score: r.Score, Partition: partition})
	}
	return out, nil
}

// Count 分区内的记录数
func (s *ResumeStore) Count(ctx context.Context, partition types.Partition) (int64, error) {
	idx, err := s.index(partition)
	if err != nil {
		return 0, err
	}
	n, err := idx.CountPoints(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStoreUnavailable, "count", err)
	}
	return n, nil
}

// HasPartition 分区是否已配置
func (s *ResumeStore) HasPartition(partition types.Partition) bool {
	_, ok := s.partitions[partition]
	return ok
}

// RecordToPayload 记录转为扁平的字符串 payload，技能以逗号拼接
func RecordToPayload(partition types.Partition, r types.ResumeRecord) map[string]interface{} {
	payload := map[string]interface{}{
		FieldResumeID:  r.ID,
		FieldName:      r.Name,
		FieldEmail:     r.Contact.Email,
		FieldPhone:     r.Contact.Phone,
		FieldJobTitle:  r.JobTitle,
		FieldIndustry:  r.Industry,
		FieldLevel:     r.Level,
		FieldSkills:    strings.Join(r.Skills, ", "),
		FieldResumeURL: r.ResumeURL,
		FieldRawText:   r.RawText,
	}
	if partition == types.PartitionExternal {
		payload[FieldUserID] = r.UserID
	}
	return payload
}

// PayloadToRecord payload 还原为记录
func PayloadToRecord(payload map[string]interface{}) types.ResumeRecord {
	str := func(key string) string {
		if v, ok := payload[key]; ok && v != nil {
			if s, ok := v.(string); ok {
				return s
			}
			return fmt.Sprint(v)
		}
		return ""
	}

	var skills []string
	for _, s := range strings.Split(str(FieldSkills), ",") {
		if s = strings.TrimSpace(s); s != "" {
			skills = append(skills, s)
		}
	}

	return types.ResumeRecord{
		ID:        str(FieldResumeID),
		Name:      str(FieldName),
		Contact:   types.Contact{Email: str(FieldEmail), Phone: str(FieldPhone)},
		JobTitle:  str(FieldJobTitle),
		Industry:  str(FieldIndustry),
		Level:     str(FieldLevel),
		Skills:    skills,
		ResumeURL: str(FieldResumeURL),
		RawText:   str(FieldRawText),
		UserID:    str(FieldUserID),
	}
}
