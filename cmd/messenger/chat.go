package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/messenger/internal/logger"
	"github.com/zhouzirui/z-tavern/messenger/internal/model/chat"
	"github.com/zhouzirui/z-tavern/messenger/internal/service/realtime"
	"github.com/zhouzirui/z-tavern/messenger/internal/service/synchronizer"
	"github.com/zhouzirui/z-tavern/messenger/internal/storage"
)

func (a *app) chatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List conversations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.requireUser(); err != nil {
				return err
			}
			users, err := a.conversations.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(users) == 0 {
				cmd.Println("no conversations yet")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CONVERSATION\tNAME\tUSER")
			for _, u := range users {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", u.ConversationID, u.Participant.FullName, u.Participant.Receiver)
			}
			return tw.Flush()
		},
	}
}

func (a *app) messagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "messages <conversation>",
		Short: "Show the messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.synchronizer(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printMessages(cmd.OutOrStdout(), s.Messages())
			return nil
		},
	}
}

func (a *app) sendCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation> <text>...",
		Short: "Send a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			receiver, err := a.conversations.Receiver(ctx, args[0])
			if err != nil {
				return err
			}
			s, err := a.synchronizer(ctx, args[0])
			if err != nil {
				return err
			}
			if err := s.Send(ctx, strings.Join(args[1:], " "), receiver); err != nil {
				return err
			}
			printMessages(cmd.OutOrStdout(), s.Messages())
			return nil
		},
	}
}

func (a *app) editCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <conversation> <message> <text>...",
		Short: "Edit one of your messages",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.synchronizer(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := s.Edit(cmd.Context(), args[1], strings.Join(args[2:], " ")); err != nil {
				return err
			}
			printMessages(cmd.OutOrStdout(), s.Messages())
			return nil
		},
	}
}

func (a *app) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation> <message>",
		Short: "Delete one of your messages",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.synchronizer(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := s.Delete(cmd.Context(), args[1]); err != nil {
				return err
			}
			printMessages(cmd.OutOrStdout(), s.Messages())
			return nil
		},
	}
}

func (a *app) watchCommand() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch <conversation>",
		Short: "Follow a conversation live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conversationID := args[0]
			if _, err := a.requireUser(); err != nil {
				return err
			}

			sweeper, err := storage.NewSweeper(a.shadows, a.cfg.Shadow.SweepCron, a.cfg.Shadow.MaxAge)
			if err != nil {
				return err
			}
			go sweeper.Run(ctx)
			if metricsAddr != "" {
				go serveMetrics(ctx, metricsAddr)
			}

			s := synchronizer.New(a.client, a.session, a.shadows)
			diff := newDiffPrinter(cmd.OutOrStdout())
			unsubscribe := s.Subscribe(diff.show)
			defer unsubscribe()

			if err := s.Bind(conversationID); err != nil {
				return err
			}
			if err := s.Fetch(ctx); err != nil {
				cmd.PrintErrf("initial fetch failed: %v\n", err)
			}

			wsURL := a.cfg.Realtime.URL
			if wsURL == "" {
				if wsURL, err = realtime.WebsocketURL(a.cfg.API.BaseURL); err != nil {
					return err
				}
			}
			sub := realtime.NewSubscriber(wsURL, a.session, s.Fetch)
			if err := sub.Run(ctx, conversationID); err != nil {
				logger.Log.Warn("realtime_unavailable_polling", zap.Error(err), zap.Duration("interval", a.cfg.Realtime.PollInterval))
			}
			if ctx.Err() != nil {
				return nil
			}
			return realtime.NewPoller(a.cfg.Realtime.PollInterval, s.Fetch).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

func printMessages(w io.Writer, msgs []chat.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "no messages")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, m := range msgs {
		fmt.Fprintln(tw, formatMessage(m))
	}
	_ = tw.Flush()
}

func formatMessage(m chat.Message) string {
	who := m.Sender.String()
	if m.IsOwn {
		who = "you"
	}
	line := fmt.Sprintf("%s\t%s\t%s\t%s", m.CreatedAt.Local().Format("01-02 15:04"), m.ID, who, m.Text)
	if m.Edited() {
		line += "\t(edited)"
	}
	return line
}

// diffPrinter prints only what changed between two snapshots.
type diffPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	version uint64
	seen    map[string]string
	lastErr string
}

func newDiffPrinter(w io.Writer) *diffPrinter {
	return &diffPrinter{w: w, seen: make(map[string]string)}
}

func (d *diffPrinter) show(snap synchronizer.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if snap.Version <= d.version || snap.Loading {
		return
	}
	d.version = snap.Version

	if snap.Err != nil {
		if msg := snap.Err.Error(); msg != d.lastErr {
			fmt.Fprintf(d.w, "! %s\n", msg)
			d.lastErr = msg
		}
		return
	}
	d.lastErr = ""

	current := make(map[string]string, len(snap.Messages))
	for _, m := range snap.Messages {
		current[m.ID] = m.Text
		prev, ok := d.seen[m.ID]
		switch {
		case !ok:
			fmt.Fprintf(d.w, "+ %s\n", strings.ReplaceAll(formatMessage(m), "\t", "  "))
		case prev != m.Text:
			fmt.Fprintf(d.w, "~ %s\n", strings.ReplaceAll(formatMessage(m), "\t", "  "))
		}
	}
	for id := range d.seen {
		if _, ok := current[id]; !ok {
			fmt.Fprintf(d.w, "- %s\n", id)
		}
	}
	d.seen = current
}
