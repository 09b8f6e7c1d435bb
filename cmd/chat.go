package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"portfolio-agent/tui"
	"portfolio-agent/widget"
)

var (
	apiURL    string
	plainMode bool

	userLabel  = color.New(color.FgCyan, color.Bold).SprintFunc()
	agentLabel = color.New(color.FgGreen, color.Bold).SprintFunc()
	actionLine = color.New(color.FgYellow).SprintFunc()
	errorLine  = color.New(color.FgRed).SprintFunc()
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the chat widget against a running server",
	Long: `Open the chat widget against a running server.

In a terminal this starts the full-screen widget with voice recording
(requires sox's rec). When output is not a terminal, or with --plain, it
reads one message per line from stdin.

Commands in plain mode:
  /reset    Close the conversation and start over
  /quit     Exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		width := 0
		if term.IsTerminal(int(os.Stdout.Fd())) {
			if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
				width = w
			}
		}
		ctrl := widget.NewController(
			widget.NewClient(apiURL),
			widget.NewCommandRecorder(),
			widget.Options{Width: width},
		)
		defer ctrl.Close()

		if !plainMode && term.IsTerminal(int(os.Stdout.Fd())) {
			return tui.Run(cmd.Context(), ctrl)
		}
		return repl(cmd.Context(), ctrl, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	chatCmd.Flags().StringVar(&apiURL, "api", "http://localhost:3001", "base URL of the chat server")
	chatCmd.Flags().BoolVar(&plainMode, "plain", false, "line mode without the full-screen widget")
}

// repl is the line-oriented widget used when there is no terminal
func repl(ctx context.Context, ctrl *widget.Controller, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			if err := ctrl.ClosePanel(ctx); err != nil {
				fmt.Fprintln(out, errorLine("reset failed: "+err.Error()))
				continue
			}
			fmt.Fprintln(out, "Conversation reset.")
			continue
		}

		ctrl.SetInput(line)
		sent, err := ctrl.SubmitText(ctx)
		if !sent {
			continue
		}
		fmt.Fprintf(out, "%s %s\n", userLabel("you:"), line)
		if err != nil {
			fmt.Fprintln(out, errorLine(err.Error()))
			continue
		}

		msgs := ctrl.Snapshot().Messages
		last := msgs[len(msgs)-1]
		fmt.Fprintf(out, "%s %s\n", agentLabel("agent:"), last.Content)
		for i, a := range last.Actions {
			fmt.Fprintln(out, actionLine(fmt.Sprintf("  [%d] %s %s", i+1, a.Label, a.URL)))
		}
	}
	return scanner.Err()
}
