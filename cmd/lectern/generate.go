package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teilomillet/lectern/pipeline"
	"github.com/teilomillet/lectern/server"
)

var (
	genTemplate string
	genSystem   string
	genUserID   string
	genChildID  string
	genContext  string
	genShowRaw  bool

	chatSystem string
	chatList   bool
	chatJSON   bool
)

var generateCmd = &cobra.Command{
	Use:   "generate [schema] [instruction...]",
	Short: "Generate one structured record and print it as JSON",
	Long: `Runs a single request through the pipeline and prints the reconciled
record. Run "lectern generate --help" for flags.

Example:
  lectern generate verse_of_day "A verse about courage for a ten year old"`,
	Args: cobra.MinimumNArgs(2),
	RunE: runGenerate,
}

var chatCmd = &cobra.Command{
	Use:   "chat [prompt...]",
	Short: "Ask a free-form question and print the cleaned answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChat,
}

func init() {
	generateCmd.Flags().StringVar(&genTemplate, "template", "", "Literal JSON template the answer must follow")
	generateCmd.Flags().StringVar(&genSystem, "system", "", "Override the configured system prompt")
	generateCmd.Flags().StringVar(&genUserID, "user", "", "User id recorded in the audit")
	generateCmd.Flags().StringVar(&genChildID, "child", "", "Child profile id recorded in the audit")
	generateCmd.Flags().StringVar(&genContext, "context", "", "Context tag recorded in the audit")
	generateCmd.Flags().BoolVar(&genShowRaw, "raw", false, "Also print the raw completion text")

	chatCmd.Flags().StringVar(&chatSystem, "system", "", "Override the configured system prompt")
	chatCmd.Flags().BoolVar(&chatList, "list", false, "Expect a bulleted answer")
	chatCmd.Flags().BoolVar(&chatJSON, "json", false, "Print the response as JSON")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	app, err := server.NewApp(cfg, logger, appOptions...)
	if err != nil {
		return err
	}
	defer closeApp(app)

	job := pipeline.Job{
		RequestID:   uuid.NewString(),
		Schema:      args[0],
		Instruction: strings.Join(args[1:], " "),
		Template:    genTemplate,
		System:      genSystem,
		UserID:      genUserID,
		ChildID:     genChildID,
		Context:     genContext,
	}
	out, err := app.Generator.Generate(cmd.Context(), job)
	if err != nil {
		return err
	}

	resp := server.GenerateResponse{
		RequestID:  job.RequestID,
		Schema:     job.Schema,
		Calls:      out.Calls,
		StopReason: string(out.Stop),
		AuditID:    out.AuditID,
	}
	if rec := out.Record; rec != nil {
		resp.Version = rec.Version
		resp.Strategy = rec.Strategy
		resp.Default = rec.Default
		resp.Fields = rec.Fields
	} else {
		resp.Fields = map[string]any{"text": out.Text}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	if genShowRaw {
		fmt.Fprintf(cmd.OutOrStdout(), "\n--- raw (%d calls) ---\n%s\n", out.Calls, out.Raw)
	}
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	app, err := server.NewApp(cfg, logger, appOptions...)
	if err != nil {
		return err
	}
	defer closeApp(app)

	job := pipeline.Job{
		RequestID:   uuid.NewString(),
		Instruction: strings.Join(args, " "),
		System:      chatSystem,
		ExpectList:  chatList,
	}
	out, err := app.Generator.Chat(cmd.Context(), job)
	if err != nil {
		return err
	}

	if chatJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(server.ChatResponse{
			RequestID:  job.RequestID,
			Text:       out.Text,
			Calls:      out.Calls,
			StopReason: string(out.Stop),
			AuditID:    out.AuditID,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), out.Text)
	return nil
}

func closeApp(app *server.App) {
	if err := app.Close(); err != nil {
		logger.Warn("Failed to flush audit sink", zap.Error(err))
	}
}
