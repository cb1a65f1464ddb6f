package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vellum-dev/vellum/internal/agent"
	"github.com/vellum-dev/vellum/internal/config"
	"github.com/vellum-dev/vellum/internal/evidence"
	"github.com/vellum-dev/vellum/internal/permissions"
	"github.com/vellum-dev/vellum/pkg/models"
)

func buildChatCmd(configPath *string) *cobra.Command {
	var sessionID string
	var system string
	var evidenceLog string
	var yes bool

	cmd := &cobra.Command{
		Use:   "chat <prompt>",
		Short: "Run one agent turn against the configured provider",
		Long: `Send a prompt through the agent loop. The model may call the built-in
read_file, write_file, and shell_execute tools; calls that need approval
are prompted on the terminal unless --yes is given.`,
		Example: `  vellum chat "summarize the failing test output"
  vellum chat --session 7f3a... "continue where we left off"`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(*configPath)
			if err != nil {
				return err
			}
			return runChat(cmd.Context(), cmd, cfg, chatOptions{
				prompt:      args[0],
				sessionID:   sessionID,
				system:      system,
				evidenceLog: evidenceLog,
				autoYes:     yes,
			})
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Resume an existing session")
	cmd.Flags().StringVar(&system, "system", "", "System prompt override")
	cmd.Flags().StringVar(&evidenceLog, "evidence", "", "Failure log to mine for code context")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Approve every tool call without prompting")
	return cmd
}

type chatOptions struct {
	prompt      string
	sessionID   string
	system      string
	evidenceLog string
	autoYes     bool
}

func runChat(ctx context.Context, cmd *cobra.Command, cfg *config.Config, opts chatOptions) error {
	logger := buildLogger(cfg)
	out := cmd.OutOrStdout()

	provider, err := buildProvider(cfg.LLM.Provider, cfg)
	if err != nil {
		return err
	}
	store, err := openSessionStore(cfg)
	if err != nil {
		return err
	}

	sessionID := opts.sessionID
	if sessionID == "" {
		session := &models.Session{Metadata: models.SessionMetadata{
			Provider: cfg.LLM.Provider,
			Model:    cfg.LLM.Model,
		}}
		if err := store.Create(ctx, session); err != nil {
			return err
		}
		sessionID = session.Metadata.ID
		fmt.Fprintln(out, "session:", sessionID)
	}

	var responder permissions.Responder
	if opts.autoYes {
		responder = permissions.ResponderFunc(func(context.Context, *permissions.Request) (*permissions.Response, error) {
			return &permissions.Response{Approved: true}, nil
		})
	} else {
		responder = &terminalResponder{in: os.Stdin, out: cmd.ErrOrStderr()}
	}
	engine := buildPermissionEngine(cfg, sessionID, responder)

	registry := agent.NewRegistry()
	if err := agent.RegisterBuiltinTools(registry, engine, workspaceRoot(cfg)); err != nil {
		return err
	}

	manager, err := buildContextManager(cfg, logger)
	if err != nil {
		return err
	}

	rc := &agent.RuntimeContext{
		Logger:      logger,
		Sessions:    store,
		Permissions: engine,
		Context:     manager,
		Metrics:     agent.NewMetrics(prometheus.DefaultRegisterer),
	}
	lc := loopConfig(cfg, provider)
	lc.System = opts.system
	if opts.evidenceLog != "" {
		block, err := evidencePrompt(workspaceRoot(cfg), opts.evidenceLog)
		if err != nil {
			return err
		}
		if block != "" {
			if lc.System != "" {
				lc.System += "\n\n"
			}
			lc.System += block
		}
	}

	loop := agent.NewLoop(rc, provider, registry, nil, lc)
	events, err := loop.Run(ctx, sessionID, &models.Message{
		Role:    models.RoleUser,
		Content: opts.prompt,
	})
	if err != nil {
		return err
	}
	return renderEvents(out, events)
}

// renderEvents prints the lifecycle stream and returns an error when the
// run ended abnormally.
func renderEvents(out io.Writer, events <-chan agent.Event) error {
	var runErr error
	for ev := range events {
		switch ev.Type {
		case agent.EventText:
			fmt.Fprint(out, ev.Content)
		case agent.EventReasoning:
			// Reasoning is streamed dimly to stderr territory; keep it
			// off the main transcript.
		case agent.EventWarning:
			fmt.Fprintf(out, "\n[warning] %s\n", ev.Content)
		case agent.EventToolStart:
			fmt.Fprintf(out, "\n[tool] %s running...\n", ev.ToolName)
		case agent.EventToolEnd:
			status := "ok"
			if ev.Result != nil && ev.Result.IsError {
				status = "failed"
			}
			fmt.Fprintf(out, "[tool] %s %s\n", ev.ToolName, status)
		case agent.EventPermissionDenied:
			fmt.Fprintf(out, "[permission] %s denied\n", ev.ToolName)
		case agent.EventComplete:
			fmt.Fprintln(out)
			switch ev.Reason {
			case agent.CompleteEndTurn:
			case agent.CompleteCanceled:
				runErr = context.Canceled
			case agent.CompleteError:
				runErr = ev.Err
			default:
				fmt.Fprintf(out, "[stopped: %s]\n", ev.Reason)
			}
		}
	}
	return runErr
}

// terminalResponder prompts on the terminal for permission decisions.
type terminalResponder struct {
	in  io.Reader
	out io.Writer
}

func (r *terminalResponder) Respond(ctx context.Context, req *permissions.Request) (*permissions.Response, error) {
	fmt.Fprintf(r.out, "\nallow %s (risk %s)? args: %s\n[y]es / [n]o / [a]lways: ",
		req.ToolName, req.Risk, truncateArgs(string(req.Arguments)))

	type answer struct {
		text string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		reader := bufio.NewReader(r.in)
		line, err := reader.ReadString('\n')
		ch <- answer{text: strings.ToLower(strings.TrimSpace(line)), err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case a := <-ch:
		if a.err != nil {
			return &permissions.Response{Approved: false}, nil
		}
		switch a.text {
		case "y", "yes":
			return &permissions.Response{Approved: true}, nil
		case "a", "always":
			return &permissions.Response{Approved: true, AlwaysAllow: true}, nil
		default:
			return &permissions.Response{Approved: false}, nil
		}
	}
}

// evidenceBudget caps the token estimate of injected code context.
const evidenceBudget = 4000

// evidencePrompt mines a failure log for signals, pulls the workspace
// files those signals name, and renders the ranked pack for the system
// prompt.
func evidencePrompt(root, logPath string) (string, error) {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return "", err
	}
	signals := evidence.ExtractSignals(string(data), logPath)

	var candidates []models.Evidence
	for _, sig := range signals {
		if sig.Type != models.SignalPath {
			continue
		}
		content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(sig.Value)))
		if err != nil {
			continue
		}
		candidates = append(candidates, models.Evidence{
			Provider:  "workspace",
			Path:      sig.Value,
			Range:     models.Range{StartLine: 1, EndLine: strings.Count(string(content), "\n") + 1},
			Content:   string(content),
			Tokens:    len(content) / 4,
			BaseScore: 1.0,
		})
	}
	return evidence.Assemble(candidates, signals, evidenceBudget).Render(), nil
}

func truncateArgs(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
