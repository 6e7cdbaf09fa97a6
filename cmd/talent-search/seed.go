package main

import (
	"context"
	"fmt"

	"talent-search/internal/fixtures"
	"talent-search/internal/logger"
	"talent-search/internal/storage"
	"talent-search/internal/types"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type seedOptions struct {
	count int
	seed  int64
}

func (o *seedOptions) bind(fs *pflag.FlagSet) {
	fs.IntVar(&o.count, "count", 100, "number of synthetic resumes to generate")
	fs.Int64Var(&o.seed, "seed", 42, "random seed; the same seed yields the same resume ids")
}

func newSeedCmd() *cobra.Command {
	opts := &seedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "向主分区写入示例简历（可重复执行）",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd.Context(), opts)
		},
	}
	opts.bind(cmd.Flags())
	return cmd
}

// recordIndexer 由 *storage.ResumeStore 实现
type recordIndexer interface {
	IndexRecord(ctx context.Context, partition types.Partition, record types.ResumeRecord, embedder storage.TextEmbedder) (bool, error)
	Count(ctx context.Context, partition types.Partition) (int64, error)
}

func runSeed(ctx context.Context, opts *seedOptions) error {
	cfg, logCloser, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("初始化存储失败: %w", err)
	}
	defer st.Close()

	embedder, err := newEmbedder(cfg, st)
	if err != nil {
		return fmt.Errorf("初始化 embedder 失败: %w", err)
	}

	records := append(fixtures.Canonical(), fixtures.Generate(opts.count, opts.seed)...)
	inserted, skipped, err := seedRecords(ctx, st.Resumes, embedder, records)
	if err != nil {
		return err
	}
	total, _ := st.Resumes.Count(ctx, types.PartitionPrimary)
	logger.Info().Int("inserted", inserted).Int("skipped", skipped).Int64("total", total).Msg("示例数据写入完成")
	return nil
}

// seedRecords 逐条写入主分区，已存在的记录不会重复向量化
func seedRecords(ctx context.Context, store recordIndexer, embedder storage.TextEmbedder, records []types.ResumeRecord) (inserted, skipped int, err error) {
	for _, r := range records {
		ok, err := store.IndexRecord(ctx, types.PartitionPrimary, r, embedder)
		if err != nil {
			return inserted, skipped, fmt.Errorf("写入 %s 失败: %w", r.ID, err)
		}
		if ok {
			inserted++
		} else {
			skipped++
		}
	}
	return inserted, skipped, nil
}
