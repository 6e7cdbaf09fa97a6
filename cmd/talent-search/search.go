package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"talent-search/internal/api/handler"
	"talent-search/internal/types"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type searchOptions struct {
	query       string
	source      string
	limit       int
	principal   string
	locationIDs []string
	token       string
}

func (o *searchOptions) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.query, "query", "q", "", "natural-language search query")
	fs.StringVar(&o.source, "source", string(types.SourcePrimary), "PrimaryStore | ExternalStore | Both")
	fs.IntVarP(&o.limit, "limit", "n", 0, "result limit (0 uses the configured default)")
	fs.StringVar(&o.principal, "principal", "cli", "caller identity, scopes the external partition")
	fs.StringSliceVar(&o.locationIDs, "location", nil, "external folder/prefix ids (repeatable)")
	fs.StringVar(&o.token, "token", os.Getenv("EXTERNAL_ACCESS_TOKEN"), "external source access token")
}

func (o *searchOptions) request() types.SearchRequest {
	req := types.SearchRequest{
		Query:               o.query,
		Source:              o.source,
		ResultLimit:         o.limit,
		ExternalLocationIDs: o.locationIDs,
	}
	if strings.TrimSpace(o.token) != "" {
		req.ExternalAuthToken = &types.ExternalAuthToken{AccessToken: o.token}
	}
	return req
}

func newSearchCmd() *cobra.Command {
	opts := &searchOptions{}
	cmd := &cobra.Command{
		Use:   "search",
		Short: "在终端执行一次检索并输出 JSON 响应",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSearch(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	opts.bind(cmd.Flags())
	return cmd
}

func runSearch(ctx context.Context, out io.Writer, opts *searchOptions) error {
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

	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close(context.Background())

	resp := c.router.Handle(ctx, opts.request(), opts.principal)
	if err := writeEnvelope(out, resp); err != nil {
		return err
	}
	if resp.Status != types.StatusSuccess {
		return fmt.Errorf("search failed: %s (http %d)", resp.Kind, handler.StatusFor(resp))
	}
	return nil
}

func writeEnvelope(out io.Writer, resp types.SearchResponse) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(resp)
}
