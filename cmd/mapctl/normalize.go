package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"lessonmap-backend/application/normalizer"
)

type normalizeResult struct {
	Tier     normalizer.Tier `json:"tier"`
	Document any             `json:"document"`
}

func newNormalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize",
		Short: "Decode a raw model reply read from stdin",
		Long: "Extracts the first ```json block (or the whole input), decodes it strictly " +
			"and falls back to the lenient decoder. Prints the accepted tier and the document.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runNormalize(cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runNormalize(in io.Reader, out io.Writer) error {
	raw, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	var doc any
	tier, err := normalizer.NormalizeAndDecode(string(raw), &doc)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(normalizeResult{Tier: tier, Document: doc})
}
