package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/matheus3301/crmsync/internal/api"
	"github.com/matheus3301/crmsync/internal/chatstore"
	"github.com/matheus3301/crmsync/internal/ctl"
	"github.com/matheus3301/crmsync/internal/domain"
	"github.com/matheus3301/crmsync/internal/lock"
	"github.com/matheus3301/crmsync/internal/profile"
)

func main() {
	profileFlag := pflag.StringP("profile", "p", "", "profile name (overrides config default)")
	socketFlag := pflag.String("socket", "", "daemon socket path (overrides profile setting)")
	jsonFlag := pflag.Bool("json", false, "output in JSON format")
	pflag.CommandLine.SetInterspersed(false)
	pflag.Usage = printUsage
	pflag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fail(err)
	}

	args := pflag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	socketPath := *socketFlag
	if socketPath == "" {
		socketPath = socketFor(profileName)
	}
	c := ctl.New(socketPath)
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		cmdWatch(c, args[1:], *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	out := printer{json: *jsonFlag}
	switch args[0] {
	case "status":
		cs, err := c.Connection(ctx)
		if err != nil {
			explainUnreachable(profileName, err)
		}
		out.connection(cs)
	case "connect":
		cs, err := c.Initialize(ctx)
		check(err)
		out.connection(cs)
	case "snapshot":
		snap, err := c.Snapshot(ctx)
		check(err)
		out.snapshot(snap)
	case "resync":
		snap, err := c.Resync(ctx)
		check(err)
		out.snapshot(snap)
	case "tab":
		need(args, 2, "tab <OPEN|PENDING|SOLD|LOSS>")
		tab, err := domain.ParseTicketStatus(args[1])
		check(err)
		snap, err := c.SetTab(ctx, tab)
		check(err)
		out.snapshot(snap)
	case "fetch":
		snap, err := c.FetchTickets(ctx, parseFetch(args[1:]))
		check(err)
		out.snapshot(snap)
	case "more":
		snap, err := c.FetchMoreTickets(ctx)
		check(err)
		out.snapshot(snap)
	case "filters":
		snap, err := c.SetFilters(ctx, parseFilters("filters", args[1:]))
		check(err)
		out.snapshot(snap)
	case "select":
		need(args, 2, "select <ticket-id>")
		snap, err := c.SelectTicket(ctx, parseID(args[1]))
		check(err)
		out.snapshot(snap)
	case "accept":
		need(args, 2, "accept <ticket-id>")
		snap, err := c.AcceptTicket(ctx, parseID(args[1]))
		check(err)
		out.snapshot(snap)
	case "remove":
		need(args, 2, "remove <ticket-id>")
		check(c.RemoveTicket(ctx, parseID(args[1])))
		if !out.json {
			fmt.Println("Removed.")
		}
	case "send":
		need(args, 2, "send <text>")
		msg, err := c.SendMessage(ctx, strings.Join(args[1:], " "))
		check(err)
		if out.json {
			outputJSON(msg)
			return
		}
		fmt.Printf("Sent %s (%s)\n", msg.ID, msg.Delivery)
	case "older":
		snap, err := c.FetchMoreMessages(ctx)
		check(err)
		out.snapshot(snap)
	case "retry":
		need(args, 2, "retry <message-id>")
		snap, err := c.RetryMessage(ctx, args[1])
		check(err)
		out.snapshot(snap)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: crmctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                 Show live channel status")
	fmt.Fprintln(os.Stderr, "  connect                Open the live channel now")
	fmt.Fprintln(os.Stderr, "  snapshot               Show tickets, selection and messages")
	fmt.Fprintln(os.Stderr, "  tab <status>           Switch to OPEN, PENDING, SOLD or LOSS")
	fmt.Fprintln(os.Stderr, "  fetch [flags]          Load the first ticket page (--status, --cursor, filters)")
	fmt.Fprintln(os.Stderr, "  more                   Load the next ticket page")
	fmt.Fprintln(os.Stderr, "  filters [flags]        Set --kanban-step, --responsible, --only-active")
	fmt.Fprintln(os.Stderr, "  select <id>            Select a ticket and load its messages")
	fmt.Fprintln(os.Stderr, "  accept <id>            Accept a pending ticket")
	fmt.Fprintln(os.Stderr, "  remove <id>            Drop a ticket from the list")
	fmt.Fprintln(os.Stderr, "  send <text>            Send a text on the selected ticket")
	fmt.Fprintln(os.Stderr, "  older                  Load older messages")
	fmt.Fprintln(os.Stderr, "  retry <message-id>     Re-send a failed message")
	fmt.Fprintln(os.Stderr, "  resync                 Reload tickets, messages and counters")
	fmt.Fprintln(os.Stderr, "  watch [namespace]      Stream daemon events")
}

// explainUnreachable reports whether a daemon holds the profile even though
// its socket did not answer.
func explainUnreachable(profileName string, err error) {
	var apiErr *ctl.APIError
	if !errors.As(err, &apiErr) {
		if pid, lockErr := lock.Holder(profile.Dir(profileName)); lockErr == nil && pid > 0 {
			fmt.Fprintf(os.Stderr, "daemon for profile %q (PID %d) is not answering\n", profileName, pid)
		} else {
			fmt.Fprintf(os.Stderr, "no daemon running for profile %q; start crmsyncd\n", profileName)
		}
	}
	fail(err)
}

func socketFor(name string) string {
	if p, err := profile.Load(name); err == nil && p.API.SocketPath != "" {
		return p.API.SocketPath
	}
	return profile.SocketPath(name)
}

func parseFetch(args []string) api.FetchTicketsRequest {
	fs := pflag.NewFlagSet("fetch", pflag.ExitOnError)
	st := fs.String("status", "", "ticket status (default: active tab)")
	cursor := fs.String("cursor", "", "continuation cursor")
	f := filterFlags(fs)
	_ = fs.Parse(args)
	return api.FetchTicketsRequest{Status: *st, Cursor: *cursor, Filters: f()}
}

func parseFilters(name string, args []string) chatstore.Filters {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	f := filterFlags(fs)
	_ = fs.Parse(args)
	return f()
}

func filterFlags(fs *pflag.FlagSet) func() chatstore.Filters {
	step := fs.Int64("kanban-step", 0, "only tickets in this kanban step")
	responsible := fs.Int64("responsible", 0, "only tickets assigned to this user")
	onlyActive := fs.Bool("only-active", false, "only active tickets")
	return func() chatstore.Filters {
		f := chatstore.Filters{OnlyActive: *onlyActive}
		if fs.Changed("kanban-step") {
			f.KanbanStepID = step
		}
		if fs.Changed("responsible") {
			f.ResponsibleID = responsible
		}
		return f
	}
}

func cmdWatch(c *ctl.Client, args []string, jsonOut bool) {
	ns := ""
	if len(args) > 0 {
		ns = args[0]
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := c.Watch(ctx, ns, func(f api.EventFrame) error {
		if jsonOut {
			outputJSON(f)
			return nil
		}
		payload, _ := json.Marshal(f.Payload)
		fmt.Printf("%s %-28s %s\n", f.Timestamp.Format("15:04:05.000"), f.Kind, payload)
		return nil
	})
	check(err)
}

type printer struct {
	json bool
}

func (p printer) connection(cs *api.ConnectionStatus) {
	if p.json {
		outputJSON(cs)
		return
	}
	fmt.Printf("Profile:   %s\n", cs.Profile)
	fmt.Printf("State:     %s (since %s)\n", cs.State, cs.Since.Format(time.RFC3339))
	fmt.Printf("Connected: %v\n", cs.Connected)
	fmt.Printf("Uptime:    %dms\n", cs.UptimeMs)
}

func (p printer) snapshot(s *chatstore.Snapshot) {
	if p.json {
		outputJSON(s)
		return
	}
	tab := string(s.Tab)
	if tab == "" {
		tab = "-"
	}
	fmt.Printf("Tab: %s  tickets: %d  more: %v  connected: %v\n", tab, len(s.Tickets), s.HasMoreTickets, s.Connected)
	fmt.Printf("Counters: pending=%d unread=%d\n", s.Counters.Pending, s.Counters.Unread)
	if s.Notice != "" {
		fmt.Printf("Notice: %s\n", s.Notice)
	}
	for _, t := range s.Tickets {
		marker := " "
		if s.Selected != nil && s.Selected.ID == t.ID {
			marker = "*"
		}
		preview := ""
		if t.LastMessage != nil {
			preview = t.LastMessage.Content
		}
		fmt.Printf("%s %-8d %-24s %s\n", marker, t.ID, t.Contact.Name, preview)
	}
	if s.Selected == nil {
		return
	}
	fmt.Printf("\nConversation %d (page %d, older: %v)\n", s.Selected.ID, s.MessagePage, s.HasMoreMessages)
	for _, m := range s.Messages {
		who := "them"
		if m.FromMe {
			who = "me"
		}
		body := m.Content
		if body == "" {
			body = "[" + string(m.Kind) + "] " + m.ContentURL
		}
		ts := time.UnixMilli(m.Timestamp).Format("01-02 15:04")
		fmt.Printf("  %s %-4s %-9s %s\n", ts, who, m.Delivery, body)
	}
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: crmctl %s\n", usage)
		os.Exit(1)
	}
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fail(fmt.Errorf("invalid id %q", s))
	}
	return id
}

func check(err error) {
	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
