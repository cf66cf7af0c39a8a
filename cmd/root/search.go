package root

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notabene-ai/notabene/pkg/search"
	"github.com/notabene-ai/notabene/pkg/search/rerank"
	"github.com/notabene-ai/notabene/pkg/search/scope"
)

func newSearchCmd(flags *rootFlags) *cobra.Command {
	var folder, file, anchor string
	var limit int
	var useLLMRerank bool

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Run a hybrid search over the corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(flags)
			if err != nil {
				return err
			}
			defer eng.Close()

			sc := scope.Vault()
			switch {
			case file != "":
				sc = scope.InFile(file)
			case folder != "":
				sc = scope.InFolder(folder)
			}

			results, err := eng.Search.Search(cmd.Context(), args[0], sc, search.Options{Limit: limit})
			if err != nil {
				return err
			}

			results, err = eng.Reranker.Rerank(cmd.Context(), results, args[0], rerank.Options{
				AnchorPath: anchor,
				EnableLLM:  useLLMRerank,
			})
			if err != nil {
				return err
			}

			for _, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%.4f  %-8s  %s\n", r.FinalScore, r.Source, r.Path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "restrict to a folder")
	cmd.Flags().StringVar(&file, "file", "", "restrict to a single file")
	cmd.Flags().StringVar(&anchor, "anchor", "", "boost documents related to this file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum results")
	cmd.Flags().BoolVar(&useLLMRerank, "rerank", false, "enable the LLM reranking pass")
	return cmd
}
