package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/xhad/brief/internal/app"
	"github.com/xhad/brief/internal/types"
	"github.com/xhad/brief/pkg/orchestrator"
	"github.com/xhad/brief/pkg/processor"
	"github.com/xhad/brief/pkg/prompt"
	"github.com/xhad/brief/server"
)

type summarizeFlags struct {
	text     string
	file     string
	words    int
	features string
	chat     bool
	archive  bool
}

func newSummarizeCmd(root *rootFlags) *cobra.Command {
	flags := &summarizeFlags{}

	cmd := &cobra.Command{
		Use:   "summarize [url]",
		Short: "Summarize a web page, a file or pasted text",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var url string
			if len(args) == 1 {
				url = args[0]
			}
			return runSummarize(cmd, root, flags, url)
		},
	}

	cmd.Flags().StringVar(&flags.text, "text", "", "Text to summarize instead of a URL")
	cmd.Flags().StringVar(&flags.file, "file", "", "Read the text to summarize from a file ('-' for stdin)")
	cmd.Flags().IntVar(&flags.words, "words", 0, "Target summary length in words")
	cmd.Flags().StringVar(&flags.features, "features", "", "Extra sections: key_points,statistics,trends")
	cmd.Flags().BoolVar(&flags.chat, "chat", false, "Ask follow-up questions after the summary")
	cmd.Flags().BoolVar(&flags.archive, "archive", false, "Store the summary in the configured database")
	return cmd
}

func newServeCmd(root *rootFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(root)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if addr != "" {
				cfg.Server.Addr = addr
			}

			a, err := app.New(cmd.Context(), cfg, logger, app.Options{Archive: true, Sessions: true})
			if err != nil {
				return err
			}
			defer a.Close()

			return server.NewWSServer(a.Orchestrator, a.Sessions, a.Library(), logger.Named("server")).Run(cmd.Context(), cfg.Server.Addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8080)")
	return cmd
}

func newSimilarCmd(root *rootFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "similar <text>",
		Short: "List archived summaries closest to the given text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(cmd, root, func(library types.SummaryLibrary) error {
				found, err := library.Similar(cmd.Context(), strings.Join(args, " "), limit)
				if err != nil {
					return err
				}
				if len(found) == 0 {
					color.Yellow("No archived summaries yet.")
					return nil
				}
				for _, summary := range found {
					color.Cyan("%s  %s", summary.ID, summary.SourceRef)
					fmt.Printf("  %s\n", preview(summary.Text, 160))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results (default from the archive)")
	return cmd
}

func newShowCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print an archived summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(cmd, root, func(library types.SummaryLibrary) error {
				summary, err := library.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				color.Cyan("%s from %s (%s, %s)", summary.ID, summary.SourceRef, summary.ModelID, summary.CreatedAt.Format(time.RFC3339))
				fmt.Printf("\n%s\n", summary.Text)
				return nil
			})
		},
	}
}

func newModelsCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models in the capability table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(root)
			if err != nil {
				return err
			}
			defer logger.Sync()

			registry := app.Registry(cfg)
			for _, id := range registry.IDs() {
				spec, err := registry.Resolve(id)
				if err != nil {
					return err
				}
				line := fmt.Sprintf("%-24s %-8s", spec.ID, spec.Provider)
				if spec.MaxOutputTokens > 0 {
					line += fmt.Sprintf(" max_output_tokens=%d", spec.MaxOutputTokens)
				}
				if id == cfg.LLM.Model {
					color.Green("%s (summary)", line)
					continue
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

// withArchive connects the configured archive and passes it to fn.
func withArchive(cmd *cobra.Command, root *rootFlags, fn func(types.SummaryLibrary) error) error {
	cfg, logger, err := load(root)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(cmd.Context(), cfg, logger, app.Options{Archive: true})
	if err != nil {
		return err
	}
	defer a.Close()

	library := a.Library()
	if library == nil {
		return errors.New("no summary archive configured (set database.url or DATABASE_URL)")
	}
	return fn(library)
}

func preview(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if trimmed, cut := processor.Trim(text, limit); cut {
		return trimmed + "..."
	}
	return text
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)
}

func readInput(flags *summarizeFlags, url string) (orchestrator.Input, error) {
	sources := 0
	for _, set := range []bool{url != "", flags.text != "", flags.file != ""} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return orchestrator.Input{}, errors.New("give exactly one of a URL, --text or --file")
	}

	switch {
	case url != "":
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			url = "https://" + url
		}
		return orchestrator.Input{URL: url}, nil
	case flags.text != "":
		return orchestrator.Input{Text: flags.text}, nil
	}

	var data []byte
	var err error
	if flags.file == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(flags.file)
	}
	if err != nil {
		return orchestrator.Input{}, fmt.Errorf("failed to read %s: %w", flags.file, err)
	}
	return orchestrator.Input{Text: string(data)}, nil
}

func runSummarize(cmd *cobra.Command, root *rootFlags, flags *summarizeFlags, url string) error {
	input, err := readInput(flags, url)
	if err != nil {
		return err
	}

	opts := orchestrator.Options{WordTarget: flags.words}
	if flags.features != "" {
		features, err := prompt.ParseFeatures(flags.features)
		if err != nil {
			return err
		}
		opts.Features = &features
	}

	cfg, logger, err := load(root)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, logger, app.Options{Archive: flags.archive})
	if err != nil {
		return err
	}
	defer a.Close()

	orch := a.Orchestrator
	session := orch.NewSession("")

	source := input.URL
	if source == "" {
		source = "text"
	}
	color.Blue("\nSummarizing %s with %s\n", source, cfg.LLM.Model)

	spinner := getSpinner(" Generating summary...")
	result, err := orch.Summarize(ctx, session, input, opts)
	spinner.Finish()
	if err != nil {
		return err
	}

	for _, w := range result.Warnings {
		switch {
		case errors.Is(w, processor.ErrContentTooShort):
			color.Yellow("! The source is short; the summary elaborates on its subject.")
		case errors.Is(w, processor.ErrBudgetExceeded):
			color.Yellow("! The source was too long and only its beginning was summarized.")
		}
	}

	fmt.Printf("\n%s\n", result.Summary.Text)
	color.Green("\n✓ %d words from %s\n", len(strings.Fields(result.Summary.Text)), result.Summary.ModelID)

	if !flags.chat {
		return nil
	}
	return chat(cmd, orch, session)
}

func chat(cmd *cobra.Command, orch *orchestrator.Orchestrator, session *orchestrator.Session) error {
	color.Cyan("\nAsk about the summary (type 'exit' to quit)")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	var last string
	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		question := strings.TrimSpace(scanner.Text())
		if strings.ToLower(question) == "exit" {
			break
		}
		// Ignore empty lines and an accidental resend of the same question.
		if question == "" || question == last {
			continue
		}
		last = question

		responseSpinner := getSpinner(" Thinking...")
		reply, err := orch.Ask(cmd.Context(), session, question)
		responseSpinner.Finish()

		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}
		assistantPrompt("\nAssistant: %s\n", reply.Content)
	}

	return scanner.Err()
}
