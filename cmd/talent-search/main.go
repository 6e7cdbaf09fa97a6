package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version     = "1.0.0"         //nolint:gochecknoglobals
	serviceName = "talent-search" //nolint:gochecknoglobals
	configPath  string            //nolint:gochecknoglobals
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          serviceName,
		Short:        "基于向量检索与 LLM 的候选人搜索服务",
		Version:      version,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.AddCommand(newServeCmd(), newSeedCmd(), newSearchCmd())
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
