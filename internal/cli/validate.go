package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"evidence/internal/domain"
	"evidence/internal/usecase"
)

var (
	validateClaim  string
	validateQuote  string
	validateSource string
	validateBatch  string
	validateWeak   bool
	validateJSON   bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate that a quote supports a claim",
	Long: `Check an existing (claim, quote, source) triple by semantic similarity.
Weak matches come back with suggested replacement sentences from the source
document.

Examples:
  evidence validate -c "claim text" -q "quoted passage" -s Smith2023.txt
  evidence validate --batch triples.json --weak-only`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVarP(&validateClaim, "claim", "c", "", "claim text")
	validateCmd.Flags().StringVarP(&validateQuote, "quote", "q", "", "quote text")
	validateCmd.Flags().StringVarP(&validateSource, "source", "s", "", "source document file name")
	validateCmd.Flags().StringVar(&validateBatch, "batch", "", "JSON file with an array of {claim, quote, source} triples")
	validateCmd.Flags().BoolVar(&validateWeak, "weak-only", false, "report only weakly supported triples")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "output as JSON")
}

func runValidate(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(GetRootDir(), GetConfig(), false)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if _, err := eng.indexer.EnsureIndexed(ctx, nil); err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	var reqs []usecase.ValidationRequest
	if validateBatch != "" {
		data, err := os.ReadFile(validateBatch)
		if err != nil {
			return fmt.Errorf("failed to read batch file: %w", err)
		}
		if err := json.Unmarshal(data, &reqs); err != nil {
			return fmt.Errorf("failed to parse batch file: %w", err)
		}
	} else {
		if validateClaim == "" || validateQuote == "" {
			return fmt.Errorf("either --batch or both --claim and --quote are required")
		}
		reqs = []usecase.ValidationRequest{{
			Claim:  validateClaim,
			Quote:  validateQuote,
			Source: validateSource,
		}}
	}

	var results []domain.ValidationResult
	if validateWeak {
		results, err = eng.verifier.FlagWeakSupport(ctx, reqs)
	} else {
		results, err = eng.verifier.BatchValidate(ctx, reqs)
	}
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if validateJSON {
		out, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	for _, r := range results {
		status := "WEAK"
		if r.Supported {
			status = "OK"
		}
		fmt.Printf("[%s] similarity %.2f  %s\n", status, r.Similarity, truncateText(r.Claim, 80))
		for _, s := range r.Suggestions {
			fmt.Printf("    suggestion: %s\n", truncateText(s, 120))
		}
	}
	return nil
}
