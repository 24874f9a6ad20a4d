package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"msgfilter/internal/config"
	"msgfilter/internal/pattern"

	"github.com/spf13/cobra"
)

func patternsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patterns",
		Short: "List the configured templates and their compiled expressions",
		Long:  "Compiles FILTER_PATTERNS (and FILTER_PATTERNS_FILE) without connecting to Telegram.",
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := config.LoadPatterns(os.LookupEnv)
			if err != nil {
				return err
			}
			printPatterns(cmd.OutOrStdout(), set)
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [text...]",
		Short: "Dry run: report which pattern matches a text",
		Long: `Tests a message text against the configured patterns, exactly as the relay
would, without forwarding anything. Reads the text from stdin when no
arguments are given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := config.LoadPatterns(os.LookupEnv)
			if err != nil {
				return err
			}

			text := strings.Join(args, " ")
			if len(args) == 0 {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(data)
			}

			printCheck(cmd.OutOrStdout(), set, text)
			return nil
		},
	}
}

func printPatterns(w io.Writer, set pattern.Set) {
	if len(set) == 0 {
		fmt.Fprintln(w, "No filter patterns configured. No messages will be forwarded.")
		return
	}
	fmt.Fprintf(w, "Loaded %d filter patterns:\n", len(set))
	for i, p := range set {
		fmt.Fprintf(w, "  Pattern %d: '%s' -> regex: %s\n", i+1, p.Template, p.Expr)
	}
}

func printCheck(w io.Writer, set pattern.Set, text string) {
	idx, ok := set.Match(text)
	if !ok {
		fmt.Fprintln(w, "no match: message would not be forwarded")
		return
	}
	fmt.Fprintf(w, "match: pattern %d '%s' -> message would be forwarded\n", idx+1, set[idx].Template)
}
