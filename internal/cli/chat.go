package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/vecmem/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with memory-augmented context",
		Long: `Read lines from stdin, send each with its assembled context to the
configured transport and print the reply. Commands:
  /pin <id>  /unpin <id>  /mode <name>  /health  /stats  /reset  /quit`,
		Run: runChat,
	}

	cmd.Flags().Bool("show-context", false, "Print the context block before each reply")

	RootCmd.AddCommand(cmd)
}

func runChat(cmd *cobra.Command, args []string) {
	showContext, _ := cmd.Flags().GetBool("show-context")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a := mustOpenApp(ctx)
	defer a.Close()

	go a.health.Run(ctx, a.cfg.Health.Interval, nil)

	s := &chatSession{app: a, out: cmd.OutOrStdout(), showContext: showContext}
	if err := s.loop(ctx, os.Stdin); err != nil {
		exitErr("chat", err)
	}
}

type chatSession struct {
	*app
	out         io.Writer
	showContext bool
}

func (s *chatSession) loop(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	fmt.Fprintf(s.out, "vecmem chat (%s). /quit to exit.\n", s.mode)

	for {
		fmt.Fprint(s.out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(s.out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := s.command(ctx, line); quit {
				return nil
			}
			continue
		}

		reply, p, err := s.engine.Exchange(ctx, s.responder, line, s.mode)
		if s.showContext && p.Result.Block != "" {
			fmt.Fprintf(s.out, "--- context (%d/%d tokens) ---\n%s\n---\n", p.Result.Used, p.Result.Ceiling, p.Result.Block)
		}
		if err != nil {
			s.log.Warn().Err(err).Msg("no reply")
			fmt.Fprintf(s.out, "[error] %v\n", err)
			continue
		}
		fmt.Fprintln(s.out, reply)
	}
}

// command handles a slash command and reports whether to quit.
func (s *chatSession) command(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	name, arg := fields[0], ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch name {
	case "/quit", "/exit":
		return true
	case "/pin", "/unpin":
		var err error
		if name == "/pin" {
			err = s.engine.Pin(ctx, arg)
		} else {
			err = s.engine.Unpin(ctx, arg)
		}
		if err != nil {
			fmt.Fprintf(s.out, "[error] %v\n", err)
			return false
		}
		fmt.Fprintf(s.out, "%s %s\n", strings.TrimPrefix(name, "/")+"ned", arg)
	case "/mode":
		s.mode = model.ParseMode(arg)
		fmt.Fprintf(s.out, "mode %s (ceiling %d)\n", s.mode, s.mode.Ceiling())
	case "/health":
		st := s.health.Check(ctx)
		fmt.Fprintf(s.out, "embedding=%s store=%s transport=%s\n", st.Embedding.State, st.Store.State, st.Transport.State)
	case "/stats":
		cs := s.gateway.Stats()
		fmt.Fprintf(s.out, "memories=%d turns=%d cache_hits=%d cache_misses=%d\n",
			len(s.engine.Memories()), len(s.engine.Conversation()), cs.Hits, cs.Misses)
	case "/reset":
		if err := s.engine.Reset(ctx); err != nil {
			fmt.Fprintf(s.out, "[error] %v\n", err)
			return false
		}
		fmt.Fprintln(s.out, "conversation cleared")
	default:
		fmt.Fprintf(s.out, "unknown command %s\n", name)
	}
	return false
}
