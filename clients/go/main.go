// AgentDeck CLI - command line and terminal chat client for AgentDeck
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	flag "github.com/spf13/pflag"

	"github.com/eldtechnologies/agentdeck/clients/go/agentdeck"
	"github.com/eldtechnologies/agentdeck/clients/go/tui"
)

func main() {
	var (
		serverURL string
		timeout   time.Duration
		style     string
		file      string
		plan      string
		agentID   string
		showHelp  bool
	)

	flags := flag.NewFlagSet("agentdeck", flag.ContinueOnError)
	flags.StringVar(&serverURL, "url", os.Getenv("AGENTDECK_URL"), "server URL (default "+agentdeck.DefaultURL+")")
	flags.DurationVar(&timeout, "timeout", 90*time.Second, "request timeout")
	flags.StringVar(&style, "style", "", "markdown style for the chat screen (dark, light, notty)")
	flags.StringVarP(&file, "file", "f", "", "image to attach when sending")
	flags.StringVar(&plan, "plan", "basic", "deployment plan (basic, pro, enterprise)")
	flags.StringVar(&agentID, "agent", "", "agent to deploy")
	flags.BoolVarP(&showHelp, "help", "h", false, "show help")
	flags.Usage = usage

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	args := flags.Args()
	if showHelp || len(args) == 0 {
		usage()
		if len(args) == 0 && !showHelp {
			os.Exit(1)
		}
		return
	}

	client := agentdeck.NewClient(serverURL)
	client.HTTPClient.Timeout = timeout
	ctx := context.Background()

	switch cmd := args[0]; cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "login":
		need(args, 2, "agentdeck login <access-token>")
		resp, err := client.Login(ctx, args[1])
		exitOnError(err)
		fmt.Printf("Signed in as %s\n", resp.Email)

	case "logout":
		exitOnError(client.Logout(ctx))
		fmt.Println("Signed out")

	case "session":
		resp, err := client.Session(ctx)
		exitOnError(err)
		printJSON(resp)

	case "agents":
		query := strings.Join(args[1:], " ")
		resp, err := client.ListAgents(ctx, query)
		exitOnError(err)
		if resp.Total == 0 {
			fmt.Println("No agents found")
		}
		for _, a := range resp.Agents {
			typing := ""
			if a.Typing {
				typing = " (typing)"
			}
			fmt.Printf("  %s  %s%s\n", a.ID, a.Name, typing)
		}

	case "agent":
		need(args, 2, "agentdeck agent <agent_id>")
		resp, err := client.GetAgent(ctx, args[1])
		exitOnError(err)
		printJSON(resp)

	case "read":
		need(args, 2, "agentdeck read <agent_id>")
		resp, err := client.Messages(ctx, args[1])
		exitOnError(err)
		printConversation(resp.Messages)

	case "send":
		need(args, 3, "agentdeck send <agent_id> <message> [-f image]")
		text := strings.Join(args[2:], " ")
		var (
			resp *agentdeck.Conversation
			err  error
		)
		if file != "" {
			resp, err = client.SendFile(ctx, args[1], text, file)
		} else {
			resp, err = client.Send(ctx, args[1], text)
		}
		exitOnError(err)
		printConversation(resp.Replies)

	case "retry":
		need(args, 2, "agentdeck retry <agent_id>")
		resp, err := client.Retry(ctx, args[1])
		exitOnError(err)
		printConversation(resp.Replies)

	case "speak":
		need(args, 4, "agentdeck speak <agent_id> <out.mp3> <text>")
		audio, err := client.Speak(ctx, args[1], strings.Join(args[3:], " "))
		exitOnError(err)
		exitOnError(os.WriteFile(args[2], audio, 0644))
		fmt.Printf("Wrote %d bytes to %s\n", len(audio), args[2])

	case "mine":
		resp, err := client.ListMyAgents(ctx)
		exitOnError(err)
		fmt.Printf("%d of %d agents\n", len(resp.Agents), resp.MaxAgents)
		for _, a := range resp.Agents {
			fmt.Printf("  %s  %s [%s]\n", a.ID, a.Name, strings.Join(a.Tags, ", "))
		}

	case "create":
		need(args, 2, "agentdeck create <name> [tags]")
		form := agentdeck.AgentForm{Name: args[1]}
		if len(args) > 2 {
			form.Tags = strings.Join(args[2:], ",")
		}
		resp, err := client.CreateAgent(ctx, form)
		exitOnError(err)
		fmt.Printf("Created: %s\n", resp.ID)

	case "delete":
		need(args, 2, "agentdeck delete <id>")
		exitOnError(client.DeleteAgent(ctx, args[1]))
		fmt.Println("Deleted")

	case "deployments":
		resp, err := client.ListDeployments(ctx)
		exitOnError(err)
		for _, d := range resp {
			fmt.Printf("  %s  %s  %s  %s\n", d.ID, d.Name, d.PlanType, d.Status)
		}

	case "deploy":
		need(args, 2, "agentdeck deploy <name> [--plan basic] [--agent id]")
		d, err := client.CreateDeployment(ctx, args[1], plan, agentID)
		exitOnError(err)
		d, err = client.Deploy(ctx, d.ID)
		exitOnError(err)
		fmt.Printf("%s: %s\n", d.Status, d.Message)

	case "dashboard":
		resp, err := client.Dashboard(ctx)
		exitOnError(err)
		printJSON(resp)

	case "chat":
		p := tea.NewProgram(tui.New(client, tui.Options{Style: style, Timeout: timeout}), tea.WithAltScreen())
		_, err := p.Run()
		exitOnError(err)

	case "help":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`AgentDeck CLI - create, deploy and chat with AI agents

Usage: agentdeck [flags] <command> [args]

Commands:
  login <token>             Start a session with an access token
  logout                    End the session
  session                   Show the session state
  agents [query]            List agents, optionally filtered
  agent <id>                Show an agent's character
  chat                      Open the terminal chat
  read <id>                 Show the conversation with an agent
  send <id> <message>       Send a message (-f to attach an image)
  retry <id>                Retry the last failed message
  speak <id> <out> <text>   Synthesize speech to a file
  mine                      List your agents
  create <name> [tags]      Create an agent
  delete <id>               Delete one of your agents
  deployments               List deployments
  deploy <name>             Create and start a deployment
  dashboard                 Show the dashboard summary
  health                    Check server health

Environment:
  AGENTDECK_URL      Server URL (default: http://localhost:8080)
  AGENTDECK_TOKEN    Access token (overrides the stored one)
  AGENTDECK_CONFIG   Config directory (default: ~/.agentdeck)`)
}

func need(args []string, n int, use string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, "Usage:", use)
		os.Exit(1)
	}
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printConversation(msgs []agentdeck.Message) {
	for _, msg := range msgs {
		ts := time.UnixMilli(msg.CreatedAt).Format("2006-01-02 15:04:05")
		text := msg.Text
		if msg.Error != "" {
			text = "[failed] " + msg.Error
		}
		fmt.Printf("[%s] %s: %s\n", ts, msg.User, text)
	}
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
