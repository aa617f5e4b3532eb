package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	serrors "github.com/storefind/storefind/internal/errors"
	"github.com/storefind/storefind/internal/lifecycle"
	"github.com/storefind/storefind/internal/search"
)

func newSearchCmd() *cobra.Command {
	var (
		storeID    string
		page       int
		pageSize   int
		minPrice   float64
		maxPrice   float64
		inStock    bool
		searchType string
		imageURL   string
		threshold  float64
		attrs      []string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Run one search against the local catalog",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()

			app, err := lifecycle.New(cmd.Context(), cfg, logger, lifecycle.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			if imageURL != "" && searchType == "" {
				searchType = search.SearchTypeImage
			}
			req := search.Request{
				Query:               strings.Join(args, " "),
				SearchType:          searchType,
				ImageURL:            imageURL,
				StoreID:             storeID,
				Page:                page,
				PageSize:            pageSize,
				InStockOnly:         inStock,
				SimilarityThreshold: threshold,
			}
			if cmd.Flags().Changed("min-price") {
				req.MinPrice = &minPrice
			}
			if cmd.Flags().Changed("max-price") {
				req.MaxPrice = &maxPrice
			}
			if len(attrs) > 0 {
				req.Attributes = make(map[string]string, len(attrs))
				for _, a := range attrs {
					k, v, ok := strings.Cut(a, "=")
					if !ok {
						return serrors.InvalidInput("attribute must be key=value, got " + a)
					}
					req.Attributes[k] = v
				}
			}

			resp, err := app.Service.Search(cmd.Context(), req)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			printResults(cmd, resp)
			return nil
		},
	}

	cmd.Flags().StringVar(&storeID, "store", "", "Store scope (empty searches the global catalog)")
	cmd.Flags().IntVar(&page, "page", 1, "Result page, 1-based")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Results per page (0 uses the configured default)")
	cmd.Flags().Float64Var(&minPrice, "min-price", 0, "Minimum price filter")
	cmd.Flags().Float64Var(&maxPrice, "max-price", 0, "Maximum price filter")
	cmd.Flags().BoolVar(&inStock, "in-stock", false, "Only in-stock products")
	cmd.Flags().StringVar(&searchType, "type", "", "Search type: semantic, fuzzy, or image (default semantic)")
	cmd.Flags().StringVar(&imageURL, "image", "", "Image URL to search by (implies --type image)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Similarity threshold override in (0,1]")
	cmd.Flags().StringSliceVar(&attrs, "attr", nil, "Attribute filter key=value (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full response as JSON")

	return cmd
}

func printResults(cmd *cobra.Command, resp *search.Response) {
	out := cmd.OutOrStdout()
	if len(resp.Results) == 0 {
		fmt.Fprintln(out, "no results")
		return
	}
	for i, r := range resp.Results {
		fmt.Fprintf(out, "%2d. %-40s  %8.2f  %.3f  %s\n",
			(resp.Pagination.Page-1)*resp.Pagination.PageSize+i+1,
			r.Title, r.Price, r.Similarity, r.ExternalID)
	}
	fmt.Fprintf(out, "\n%d results (page %d/%d)",
		resp.Pagination.TotalResults, resp.Pagination.Page, resp.Pagination.TotalPages)
	if resp.Metadata.FallbackUsed {
		fmt.Fprint(out, "  [fuzzy fallback]")
	}
	if len(resp.Metadata.Strategies) > 0 {
		fmt.Fprintf(out, "  [rescued: %s]", strings.Join(resp.Metadata.Strategies, ", "))
	}
	fmt.Fprintf(out, "  %s\n", resp.Metadata.Duration.Round(time.Millisecond))
}
