package repl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nevindra/nuagent"
)

const helpText = `Commands:
  /help                               show this help
  /exit                               end the session
  /reset                              archive the conversation and start a new one
  /clear                              clear the screen
  /debug on|off                       toggle debug logging
  /verbosity <n>                      set output verbosity (0 quiet, 2 verbose)
  /redaction on|off                   toggle redaction of working records
  /spellcheck on|off                  toggle input spellchecking
  /model [role] <name>                set the model for orchestrator|spellchecker|summarizer
  /models                             show configured models
  /tools                              list available tools
  /info                               session and worker status
  /worker <name> [start|stop|on|off|status|verbosity <n>]
                                      manage a background worker
  /rag <query>                        search stored memories
  /migrate-exchanges                  delete corrupted tool-call messages
  /backup                             copy the database file aside`

// dispatch handles one slash command. Returns true when the session
// should end.
func (r *REPL) dispatch(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	r.Logger.Debug("repl: command", "command", cmd)

	switch cmd {
	case "/help":
		fmt.Fprintln(r.Out, helpText)
	case "/exit":
		return true
	case "/reset":
		r.cmdReset(ctx)
	case "/clear":
		if r.Interactive {
			fmt.Fprint(r.Out, "\033[2J\033[H")
		}
	case "/debug":
		r.cmdDebug(args)
	case "/verbosity":
		r.cmdVerbosity(ctx, args)
	case "/redaction":
		r.cmdToggleConfig(ctx, nuagent.ConfigRedactionEnabled, args)
	case "/spellcheck":
		r.cmdSpellcheck(args)
	case "/model":
		r.cmdModel(ctx, args)
	case "/models":
		r.cmdModels(ctx)
	case "/tools":
		r.cmdTools()
	case "/info":
		r.cmdInfo(ctx)
	case "/worker":
		r.cmdWorker(ctx, args)
	case "/rag":
		r.cmdRAG(ctx, args)
	case "/migrate-exchanges":
		r.cmdMigrateExchanges(ctx)
	case "/backup":
		r.cmdBackup()
	default:
		fmt.Fprintf(r.Out, "Unknown command: %s\n", cmd)
	}
	return false
}

func (r *REPL) cmdReset(ctx context.Context) {
	id, err := r.App.Reset(ctx)
	if err != nil {
		errStyle.Fprintf(r.Out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(r.Out, "Started conversation %d\n", id)
}

func (r *REPL) cmdDebug(args []string) {
	if r.LogLevel == nil {
		fmt.Fprintln(r.Out, "Log level is fixed for this session.")
		return
	}
	switch onOff(args) {
	case "on":
		r.LogLevel.Set(slog.LevelDebug)
		fmt.Fprintln(r.Out, "Debug logging on.")
	case "off":
		r.LogLevel.Set(slog.LevelInfo)
		fmt.Fprintln(r.Out, "Debug logging off.")
	default:
		fmt.Fprintln(r.Out, "Usage: /debug on|off")
	}
}

func (r *REPL) cmdVerbosity(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.Out, "Usage: /verbosity <n>")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		fmt.Fprintf(r.Out, "Not a verbosity level: %s\n", args[0])
		return
	}
	if err := r.App.Store.SetConfig(ctx, nuagent.ConfigVerbosity, strconv.Itoa(n)); err != nil {
		errStyle.Fprintf(r.Out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(r.Out, "Verbosity set to %d\n", n)
}

func (r *REPL) cmdToggleConfig(ctx context.Context, key string, args []string) {
	v := onOff(args)
	if v == "" {
		fmt.Fprintf(r.Out, "Usage: /%s on|off\n", strings.TrimSuffix(key, "_enabled"))
		return
	}
	if err := r.App.Store.SetConfig(ctx, key, strconv.FormatBool(v == "on")); err != nil {
		errStyle.Fprintf(r.Out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(r.Out, "%s %s\n", key, v)
}

func (r *REPL) cmdSpellcheck(args []string) {
	switch onOff(args) {
	case "on":
		r.mu.Lock()
		if r.Orch.SpellCheck == nil && r.spellSaved != nil {
			r.Orch.SpellCheck = r.spellSaved
		}
		enabled := r.Orch.SpellCheck != nil
		r.mu.Unlock()
		if enabled {
			fmt.Fprintln(r.Out, "Spellcheck on.")
		} else {
			fmt.Fprintln(r.Out, "No spellchecker configured.")
		}
	case "off":
		r.mu.Lock()
		if r.Orch.SpellCheck != nil {
			r.spellSaved = r.Orch.SpellCheck
			r.Orch.SpellCheck = nil
		}
		r.mu.Unlock()
		fmt.Fprintln(r.Out, "Spellcheck off.")
	default:
		fmt.Fprintln(r.Out, "Usage: /spellcheck on|off")
	}
}

var modelRoles = map[string]bool{"orchestrator": true, "spellchecker": true, "summarizer": true}

func (r *REPL) cmdModel(ctx context.Context, args []string) {
	role := "orchestrator"
	var name string
	switch len(args) {
	case 1:
		name = args[0]
	case 2:
		role, name = args[0], args[1]
	default:
		fmt.Fprintln(r.Out, "Usage: /model [orchestrator|spellchecker|summarizer] <name>")
		return
	}
	if !modelRoles[role] {
		fmt.Fprintf(r.Out, "Unknown role: %s\n", role)
		return
	}
	if err := r.App.Store.SetConfig(ctx, role+"_model", name); err != nil {
		errStyle.Fprintf(r.Out, "Error: %v\n", err)
		return
	}
	switch role {
	case "summarizer":
		fmt.Fprintf(r.Out, "%s model set to %s (picked up before the next summarization run)\n", role, name)
	default:
		fmt.Fprintf(r.Out, "%s model set to %s (takes effect on restart)\n", role, name)
	}
}

func (r *REPL) cmdModels(ctx context.Context) {
	fmt.Fprintf(r.Out, "orchestrator: %s (%s, active)\n", r.Orch.Provider.Model(), r.Orch.Provider.Name())
	for _, role := range []string{"orchestrator", "spellchecker", "summarizer"} {
		v, err := r.App.Store.GetConfig(ctx, role+"_model")
		if err != nil || v == "" {
			continue
		}
		fmt.Fprintf(r.Out, "%s: %s (configured)\n", role, v)
	}
}

func (r *REPL) cmdTools() {
	defs := r.Registry.Definitions()
	if len(defs) == 0 {
		fmt.Fprintln(r.Out, "No tools available.")
		return
	}
	for _, d := range defs {
		fmt.Fprintf(r.Out, "%-16s %s/%s  %s\n", d.Name, d.OperationType, d.Scope, d.Description)
	}
}

func (r *REPL) cmdInfo(ctx context.Context) {
	convID := r.App.Conversation()
	since := r.App.SessionStart()
	fmt.Fprintf(r.Out, "conversation: %d\n", convID)
	fmt.Fprintf(r.Out, "session started: %s\n", time.Unix(since, 0).Format(time.RFC3339))

	if tokens, err := r.App.Store.SessionTokens(ctx, convID, since); err == nil {
		fmt.Fprintf(r.Out, "tokens: %d in / %d out, $%.4f\n", tokens.Input, tokens.Output, tokens.Spend)
	}
	if idle, err := r.App.Store.WorkersIdle(ctx); err == nil {
		fmt.Fprintf(r.Out, "workers idle: %v\n", idle)
	}
	r.printWorkerStatuses()
}

func (r *REPL) printWorkerStatuses() {
	if r.Supervisor == nil {
		return
	}
	statuses := r.Supervisor.Statuses()
	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := statuses[name]
		state := "stopped"
		if st.Running {
			state = "running"
			if st.Paused {
				state = "paused"
			}
		}
		fmt.Fprintf(r.Out, "worker %-12s %-8s %d done, %d failed, $%.4f\n",
			name, state, st.Completed, st.Failed, st.Spend)
	}
}

func (r *REPL) cmdWorker(ctx context.Context, args []string) {
	if r.Supervisor == nil {
		fmt.Fprintln(r.Out, "No workers in this session.")
		return
	}
	if len(args) == 0 {
		r.printWorkerStatuses()
		return
	}
	name := args[0]
	action := "status"
	if len(args) > 1 {
		action = args[1]
	}

	switch action {
	case "status":
		st, ok := r.Supervisor.Statuses()[name]
		if !ok {
			fmt.Fprintf(r.Out, "Unknown worker: %s\n", name)
			return
		}
		fmt.Fprintf(r.Out, "running=%v paused=%v total=%d completed=%d failed=%d spend=$%.4f\n",
			st.Running, st.Paused, st.Total, st.Completed, st.Failed, st.Spend)
	case "start":
		if r.Supervisor.Start(ctx, name) {
			fmt.Fprintf(r.Out, "Worker %s started.\n", name)
		} else {
			fmt.Fprintf(r.Out, "Worker %s not started (unknown or already running).\n", name)
		}
	case "stop":
		if r.Supervisor.Stop(name) {
			fmt.Fprintf(r.Out, "Worker %s stopped.\n", name)
		} else {
			fmt.Fprintf(r.Out, "Worker %s not stopped (unknown or not running).\n", name)
		}
	case "on", "off":
		// Persist the enable flag so the next session honors it too.
		if err := r.App.Store.SetConfig(ctx, name+"_enabled", strconv.FormatBool(action == "on")); err != nil {
			errStyle.Fprintf(r.Out, "Error: %v\n", err)
			return
		}
		if action == "on" {
			r.Supervisor.Start(ctx, name)
		} else {
			r.Supervisor.Stop(name)
		}
		fmt.Fprintf(r.Out, "Worker %s %s.\n", name, action)
	case "verbosity":
		if len(args) != 3 {
			fmt.Fprintln(r.Out, "Usage: /worker <name> verbosity <n>")
			return
		}
		if _, err := strconv.Atoi(args[2]); err != nil {
			fmt.Fprintf(r.Out, "Not a verbosity level: %s\n", args[2])
			return
		}
		if err := r.App.Store.SetConfig(ctx, name+"_verbosity", args[2]); err != nil {
			errStyle.Fprintf(r.Out, "Error: %v\n", err)
			return
		}
		fmt.Fprintf(r.Out, "Worker %s verbosity set to %s\n", name, args[2])
	default:
		fmt.Fprintf(r.Out, "Unknown worker action: %s\n", action)
	}
}

func (r *REPL) cmdRAG(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(r.Out, "Usage: /rag <query>")
		return
	}
	query := strings.Join(args, " ")
	payload := fmt.Sprintf(`{"query":%s}`, strconv.Quote(query))
	result, err := r.Registry.Execute(ctx, "recall_memory", []byte(payload))
	if err != nil {
		errStyle.Fprintf(r.Out, "Error: %v\n", err)
		return
	}
	if result.Error != "" {
		errStyle.Fprintf(r.Out, "Error: %s\n", result.Error)
		return
	}
	fmt.Fprintln(r.Out, result.Content)
}

func (r *REPL) cmdMigrateExchanges(ctx context.Context) {
	corrupted, err := r.App.Store.FindCorruptedMessages(ctx)
	if err != nil {
		errStyle.Fprintf(r.Out, "Error: %v\n", err)
		return
	}
	if len(corrupted) == 0 {
		fmt.Fprintln(r.Out, "No corrupted messages found.")
		return
	}
	n, err := r.App.Store.DeleteCorruptedMessages(ctx)
	if err != nil {
		errStyle.Fprintf(r.Out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(r.Out, "Deleted %d corrupted messages.\n", n)
}

// cmdBackup copies the database file while workers are parked, so no
// background write lands mid-copy.
func (r *REPL) cmdBackup() {
	if r.DBPath == "" {
		fmt.Fprintln(r.Out, "No database file to back up.")
		return
	}
	if r.Supervisor != nil {
		r.Supervisor.PauseAll(5 * time.Second)
		defer r.Supervisor.ResumeAll()
	}
	dst := fmt.Sprintf("%s.backup-%s", r.DBPath, time.Now().Format("20060102-150405"))
	if err := copyFile(r.DBPath, dst); err != nil {
		errStyle.Fprintf(r.Out, "Backup failed: %v\n", err)
		return
	}
	fmt.Fprintf(r.Out, "Backed up to %s\n", dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// onOff normalizes a single on/off argument. Empty string means the
// argument was missing or unrecognized.
func onOff(args []string) string {
	if len(args) != 1 {
		return ""
	}
	switch strings.ToLower(args[0]) {
	case "on", "true":
		return "on"
	case "off", "false":
		return "off"
	}
	return ""
}
