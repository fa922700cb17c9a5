// -- cmd/analyze.go --
package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bugreel/api/schemas"
	"github.com/xkilldash9x/bugreel/internal/llmclient"
	"github.com/xkilldash9x/bugreel/internal/observability"
	"github.com/xkilldash9x/bugreel/internal/session"
)

var (
	analyzeCodeFile    string
	analyzeVideoFile   string
	analyzeVideoMIME   string
	analyzeModel       string
	analyzeOutFile     string
	analyzeInteractive bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a code snippet, optionally with a screen recording of the bug.",
	Long: `Analyze sends the code (and, when supplied, a screen recording) to the
inference service and prints the structured bug report it returns. With
--interactive, each subsequent line read from stdin is treated as feedback
for a refinement turn until EOF or "quit".`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeCodeFile, "code-file", "", "path to the code snippet to analyze (required)")
	analyzeCmd.Flags().StringVar(&analyzeVideoFile, "video", "", "path to a screen recording of the bug")
	analyzeCmd.Flags().StringVar(&analyzeVideoMIME, "video-mime", "", "MIME type of the recording (default: derived from extension, then video/mp4)")
	analyzeCmd.Flags().StringVar(&analyzeModel, "model", "", "model identifier to use (default: the configured premium model)")
	analyzeCmd.Flags().StringVar(&analyzeOutFile, "out", "", "write the final report JSON to this file")
	analyzeCmd.Flags().BoolVar(&analyzeInteractive, "interactive", false, "read refinement feedback from stdin after the first report")
	_ = analyzeCmd.MarkFlagRequired("code-file")

	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	logger := observability.GetLogger()
	ctx := cmd.Context()

	code, err := os.ReadFile(analyzeCodeFile)
	if err != nil {
		return fmt.Errorf("failed to read code file: %w", err)
	}

	client, err := llmclient.New(cfg.LLM, logger)
	if err != nil {
		return err
	}

	sess := session.New(logger, client, cfg.LLM, string(code), analyzeModel)
	if analyzeVideoFile != "" {
		if err := sess.AttachRecording(analyzeVideoFile, analyzeVideoMIME); err != nil {
			return err
		}
	}

	rpt, err := sess.Analyze(ctx)
	if err != nil {
		return err
	}
	printReport(cmd, rpt)

	if analyzeInteractive {
		rpt, err = refineLoop(cmd, sess, rpt)
		if err != nil {
			return err
		}
	}

	if analyzeOutFile != "" {
		if err := writeReport(analyzeOutFile, rpt); err != nil {
			return err
		}
		logger.Info("Report written", zap.String("path", analyzeOutFile))
	}
	return nil
}

// refineLoop reads feedback lines from stdin and runs a refinement turn
// for each. A failed turn is reported but does not end the loop; the
// operator may retry or abandon it.
func refineLoop(cmd *cobra.Command, sess *session.Session, last *schemas.BugReport) (*schemas.BugReport, error) {
	logger := observability.GetLogger()
	scanner := bufio.NewScanner(cmd.InOrStdin())

	fmt.Fprintln(cmd.OutOrStdout(), `Enter feedback to refine the report ("quit" to finish):`)
	for scanner.Scan() {
		feedback := strings.TrimSpace(scanner.Text())
		if feedback == "" {
			continue
		}
		if feedback == "quit" || feedback == "exit" {
			break
		}

		rpt, err := sess.Refine(cmd.Context(), feedback)
		if err != nil {
			logger.Error("Refinement failed", zap.Error(err))
			fmt.Fprintf(cmd.ErrOrStderr(), "analysis did not complete: %v\n", err)
			continue
		}
		last = rpt
		printReport(cmd, rpt)
	}
	if err := scanner.Err(); err != nil {
		return last, fmt.Errorf("failed to read feedback: %w", err)
	}
	return last, nil
}

func printReport(cmd *cobra.Command, rpt *schemas.BugReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nBug:        %s\n", rpt.BugSummary)
	fmt.Fprintf(out, "Sentiment:  %s\n", rpt.UserSentiment)
	fmt.Fprintf(out, "File:       %s\n", rpt.FileToEdit)
	fmt.Fprintf(out, "Fix:        %s\n\n", rpt.Explanation)
	fmt.Fprintf(out, "%s\n", rpt.CodePatch)
}

func writeReport(path string, rpt *schemas.BugReport) error {
	data, err := json.MarshalIndent(rpt, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
