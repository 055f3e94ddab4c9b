package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var (
	searchQuery string
	searchTopK  int
	searchJSON  bool
	searchBest  bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search the corpus for a quote",
	Long: `Search for a quote using exact, fuzzy, and semantic matching.

Examples:
  evidence search -q "RNA-seq has become the gold standard"
  evidence search -q "gold standard" --top-k 10 --json
  evidence search -q "gold standard" --best`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVarP(&searchQuery, "query", "q", "", "quote or phrase to find (required)")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "number of results (default from config)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output as JSON")
	searchCmd.Flags().BoolVar(&searchBest, "best", false, "return only the single best match")
	searchCmd.MarkFlagRequired("query")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	eng, err := newEngine(GetRootDir(), cfg, false)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if _, err := eng.indexer.EnsureIndexed(ctx, nil); err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	if searchBest {
		best, err := eng.retriever.FindBestMatch(ctx, searchQuery)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if best == nil {
			fmt.Println("No match found.")
			return nil
		}
		if searchJSON {
			out, _ := json.MarshalIndent(best, "", "  ")
			fmt.Println(string(out))
			return nil
		}
		fmt.Printf("%s:%d-%d (%s, %.2f)\n  %s\n",
			best.SourceFile, best.StartLine, best.EndLine, best.Method, best.Similarity, best.MatchedText)
		return nil
	}

	topK := cfg.Verify.TopK
	if searchTopK > 0 {
		topK = searchTopK
	}

	results, err := eng.retriever.Search(ctx, searchQuery, topK)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		out, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	fmt.Printf("Found %d results for: %s\n\n", len(results), searchQuery)
	for i, r := range results {
		fmt.Printf("%d. %s:%d-%d (%s, %.2f)\n", i+1, r.SourceFile, r.StartLine, r.EndLine, r.Method, r.Similarity)
		fmt.Printf("   %s\n\n", truncateText(r.MatchedText, 200))
	}
	return nil
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
