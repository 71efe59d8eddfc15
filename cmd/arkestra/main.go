// Command arkestra runs the conversation pipeline from the terminal: an
// interactive chat REPL, a one-shot consolidation batch, or a long-running
// consolidation scheduler.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/arkestra-ai/arkestra"
	"github.com/arkestra-ai/arkestra/core"
	"github.com/arkestra-ai/arkestra/logging"
	"github.com/arkestra-ai/arkestra/model"
	anthropicmodel "github.com/arkestra-ai/arkestra/model/anthropic"
	openaimodel "github.com/arkestra-ai/arkestra/model/openai"
	"github.com/arkestra-ai/arkestra/mood"
	"github.com/arkestra-ai/arkestra/store"
	"github.com/arkestra-ai/arkestra/store/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "arkestra",
		Short:        "Two-tier conversational pipeline with mood, retrieval and tools",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "arkestra.yaml", "config file path")

	root.AddCommand(newChatCmd(&configPath))
	root.AddCommand(newConsolidateCmd(&configPath))
	root.AddCommand(newServeSleepCmd(&configPath))
	return root
}

func newChatCmd(configPath *string) *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return err
			}
			if session != "" {
				cfg.Session = session
			}
			app, closeFn, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			if err := app.Warm(ctx); err != nil {
				return err
			}
			return runREPL(ctx, app, cfg.Session, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "", "session id (overrides config)")
	return cmd
}

func newConsolidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate",
		Short: "Run one sleep-consolidation batch and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return err
			}
			app, closeFn, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			batch, err := app.Sleep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "batch %s: %s, %d messages\n", batch.ID, batch.Status, batch.Processed)
			return nil
		},
	}
}

func newServeSleepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve-sleep",
		Short: "Run sleep consolidation on a cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return err
			}
			app, closeFn, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c := cron.New()
			_, err = c.AddFunc(cfg.SleepCron, func() {
				batch, err := app.Sleep(ctx)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "sleep batch failed: %v\n", err)
					return
				}
				fmt.Fprintf(cmd.OutOrStdout(), "batch %s: %s, %d messages\n", batch.ID, batch.Status, batch.Processed)
			})
			if err != nil {
				return fmt.Errorf("bad cron expression %q: %w", cfg.SleepCron, err)
			}
			c.Start()
			defer c.Stop()

			fmt.Fprintf(cmd.OutOrStdout(), "sleep scheduler running (%s), ctrl-c to stop\n", cfg.SleepCron)
			<-ctx.Done()
			return nil
		},
	}
}

// runREPL reads lines until EOF. /up and /down react to the last assistant
// message; /sleep triggers a consolidation batch.
func runREPL(ctx context.Context, app *arkestra.Arkestra, session string, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "arkestra chat. /up /down rate the last reply, /sleep consolidates, ctrl-d quits.")
	scanner := bufio.NewScanner(in)
	var lastMsgID int64

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/sleep":
			batch, err := app.Sleep(ctx)
			if err != nil {
				fmt.Fprintf(out, "sleep failed: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "slept: %d messages consolidated\n", batch.Processed)
			continue
		case line == "/up" || line == "/down":
			if lastMsgID == 0 {
				fmt.Fprintln(out, "nothing to rate yet")
				continue
			}
			if err := app.Feedback(ctx, core.Feedback{MessageID: lastMsgID, Kind: line[1:]}); err != nil {
				fmt.Fprintf(out, "feedback failed: %v\n", err)
			}
			continue
		}

		resp, err := app.Chat(ctx, session, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, resp.Text)
		for _, r := range resp.ToolResults {
			status := "ok"
			if !r.Success {
				status = r.ErrorKind
			}
			fmt.Fprintf(out, "  [tool %s: %s]\n", r.Name, status)
		}
		lastMsgID = latestAssistantID(ctx, app, session)
	}
}

func latestAssistantID(ctx context.Context, app *arkestra.Arkestra, session string) int64 {
	msgs, err := app.Store().GetRecentMessages(ctx, session, 1)
	if err != nil || len(msgs) == 0 {
		return 0
	}
	return msgs[len(msgs)-1].ID
}

// buildApp assembles the façade from config. The returned func closes the
// store.
func buildApp(cfg Config) (*arkestra.Arkestra, func(), error) {
	var (
		st      core.ConsolidationStore
		closeFn = func() {}
	)
	if cfg.DBPath != "" {
		db, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		st = db
		closeFn = func() { _ = db.Close() }
	} else {
		st = store.NewInMemory()
	}

	persona := mood.DefaultProfile()
	if cfg.PersonaPath != "" {
		p, err := mood.LoadPersona(cfg.PersonaPath)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		persona = p
	}

	junior, senior, err := buildBackends(cfg)
	if err != nil {
		closeFn()
		return nil, nil, err
	}

	logger := logging.NewPipelineLogger(logging.LoggerConfig{
		Level:  logging.LogLevelInfo,
		Format: "text",
	})

	app := arkestra.New(junior, senior, func(o *arkestra.Options) {
		o.Store = st
		o.Persona = persona
		o.Logger = logger
	})
	return app, closeFn, nil
}

func buildBackends(cfg Config) (core.ModelBackend, core.ModelBackend, error) {
	switch cfg.Provider {
	case "openai":
		junior := openaimodel.New(func(o *openaimodel.Options) { o.Model = cfg.JuniorModel })
		senior := openaimodel.New(func(o *openaimodel.Options) { o.Model = cfg.SeniorModel })
		return junior, senior, nil
	case "anthropic":
		junior := anthropicmodel.New(func(o *anthropicmodel.Options) { o.Model = anthropic.Model(cfg.JuniorModel) })
		senior := anthropicmodel.New(func(o *anthropicmodel.Options) { o.Model = anthropic.Model(cfg.SeniorModel) })
		return junior, senior, nil
	case "mock":
		// Scripted backends for offline smoke tests.
		junior := model.NewMockBackend(model.MockReply{Text: `{"intent": "chat"}`})
		senior := model.NewMockBackend(model.MockReply{Text: `{"text": "mock reply"}`})
		return junior, senior, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
