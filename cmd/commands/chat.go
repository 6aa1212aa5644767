package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/cadre/internal/delegation"
	"github.com/dohr-michael/cadre/internal/engine"
	"github.com/dohr-michael/cadre/internal/repository"
)

// NewChatCommand returns the chat subcommand.
func NewChatCommand() *cli.Command {
	return &cli.Command{
		Name:      "chat",
		Usage:     "Talk to a persona; coordination tags in replies queue tasks",
		ArgsUsage: "<persona> [message]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-stream",
				Usage: "Print the reply once complete instead of streaming it",
			},
		},
		Action: runChat,
	}
}

type chatSession struct {
	a         *app
	coord     *delegation.Coordinator
	persona   *repository.Persona
	directory []engine.DirectoryEntry
	history   []*schema.Message
	stream    bool
}

func runChat(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("usage: cadre chat <persona> [message]")
	}

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	a.startEngine(ctx)

	s := &chatSession{
		a:      a,
		coord:  a.queueCoordinator(),
		stream: !cmd.Bool("no-stream") && isTerminal(),
	}
	if s.persona, err = s.coord.ResolvePersona(ctx, name); err != nil {
		return err
	}
	roster, err := a.repo.ListPersonas(ctx)
	if err != nil {
		return err
	}
	for _, p := range roster {
		s.directory = append(s.directory, engine.DirectoryEntry{
			Name:       p.Name,
			Role:       p.Role,
			JobTitle:   p.JobTitle,
			Department: p.Department,
			Level:      p.Level,
		})
	}

	if cmd.Args().Len() > 1 {
		return s.send(ctx, strings.Join(cmd.Args().Slice()[1:], " "))
	}

	heading.Printf("Chatting with %s", s.persona.Name)
	muted.Println("  (empty line or Ctrl-D to quit)")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return nil
		}
		if err := s.send(ctx, line); err != nil {
			failure.Printf("error: %v\n", err)
		}
	}
}

// send delivers one message, prints the reply and applies its tags.
func (s *chatSession) send(ctx context.Context, message string) error {
	req := engine.ChatRequest{
		Persona:   s.persona,
		History:   s.history,
		Message:   message,
		Directory: s.directory,
	}
	if s.stream {
		req.OnChunk = func(chunk string) { fmt.Print(chunk) }
	}

	reply, err := s.a.exec.Chat(ctx, req)
	if err != nil {
		return err
	}
	s.history = append(s.history, schema.UserMessage(message), schema.AssistantMessage(reply, nil))

	if s.stream {
		fmt.Println()
	} else if text := delegation.StripDirectives(reply); text != "" {
		fmt.Println(renderMarkdown(text))
	}

	rep, err := s.coord.Process(ctx, s.persona.Name, reply)
	for _, p := range rep.Plans {
		success.Printf("Project created: %s (%s)\n", p.Title, p.Ref)
	}
	for _, t := range rep.Tasks {
		success.Printf("Queued %s for %s: %s\n", t.ID, t.Persona, t.Title)
	}
	if rep.Logged > 0 {
		muted.Printf("Logged %d note(s) to the activity log\n", rep.Logged)
	}
	if err != nil {
		warning.Printf("%v\n", err)
	}
	return nil
}
