package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"evidence/internal/domain"
)

var (
	verifyClaim string
	verifyJSON  bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Find and verify supporting evidence for a claim",
	Long: `Run the search-verify-refine loop for a claim: retrieve candidate
snippets, ask the reasoning provider whether each one supports the claim,
refine the query between rounds, and fall back to external web search when
the corpus has nothing.

Examples:
  evidence verify -c "RNA-seq has become the gold standard for transcriptomics"
  evidence verify -c "method X improves accuracy" --json`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringVarP(&verifyClaim, "claim", "c", "", "claim text (required)")
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "output as JSON")
	verifyCmd.MarkFlagRequired("claim")
}

// progressPrinter streams round progress to the terminal.
type progressPrinter struct{}

func (progressPrinter) OnCandidates(round int, query string, candidates []domain.QuoteSearchResult) {
	fmt.Printf("Round %d: %d candidates for %q\n", round, len(candidates), query)
}

func (progressPrinter) OnVerification(round int, result domain.SnippetVerification) {
	mark := "✗"
	if result.Supports {
		mark = "✓"
	}
	cached := ""
	if result.FromCache {
		cached = " (cached)"
	}
	fmt.Printf("  %s %s (confidence %.2f)%s\n", mark, result.Snippet.SourceFile, result.Confidence, cached)
}

func (progressPrinter) OnRoundComplete(round domain.VerificationRound) {
	if round.WebFallback {
		fmt.Printf("Web fallback: %d results\n", len(round.WebResults))
		return
	}
	fmt.Printf("Round %d complete: %d supporting\n\n", round.Round, len(round.Supporting))
}

func runVerify(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(GetRootDir(), GetConfig(), true)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var observer progressPrinter
	rounds, err := eng.verifier.FindSupportingEvidence(ctx, verifyClaim, observer)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("verification cancelled")
		}
		return fmt.Errorf("verification failed: %w", err)
	}

	if verifyJSON {
		out, _ := json.MarshalIndent(rounds, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	for _, round := range rounds {
		if len(round.Supporting) > 0 {
			if round.WebFallback {
				fmt.Printf("No corpus evidence found; %d external results may help.\n", len(round.WebResults))
			} else {
				fmt.Printf("Supported by %d snippet(s) in round %d.\n", len(round.Supporting), round.Round)
				for _, s := range round.Supporting {
					fmt.Printf("  %s:%d-%d\n    %s\n", s.SourceFile, s.StartLine, s.EndLine, truncateText(s.MatchedText, 200))
				}
			}
			return nil
		}
	}
	fmt.Println("No supporting evidence found.")
	return nil
}
