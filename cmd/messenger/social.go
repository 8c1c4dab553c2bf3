package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-tavern/messenger/internal/model/social"
	"github.com/zhouzirui/z-tavern/messenger/internal/service/status"
)

var errBackendDisabled = errors.New("status, calls and new chats need MESSENGER_BACKEND_URL and MESSENGER_BACKEND_ANON_KEY")

func (a *app) statusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Status updates that disappear after a day",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Show current status updates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := a.socialUser()
			if err != nil {
				return err
			}
			feed, err := a.status.List(cmd.Context(), userID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Mine:")
			printStatuses(out, feed.Mine)
			fmt.Fprintln(out, "Recent:")
			printStatuses(out, feed.Others)
			return nil
		},
	}

	var caption, file, mimeType string
	post := &cobra.Command{
		Use:   "post",
		Short: "Post a text status or upload an image or video",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := a.socialUser()
			if err != nil {
				return err
			}
			draft := status.Draft{Caption: caption, MimeType: mimeType}
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				draft.Media = f
				draft.FileName = filepath.Base(file)
			}
			created, err := a.status.Post(cmd.Context(), userID, draft)
			if err != nil {
				return err
			}
			cmd.Printf("posted %s, visible until %s\n", created.ID, created.ExpiresAt.Local().Format(time.DateTime))
			return nil
		},
	}
	post.Flags().StringVar(&caption, "caption", "", "status text")
	post.Flags().StringVar(&file, "file", "", "image or video to upload")
	post.Flags().StringVar(&mimeType, "mime", "", "media type, guessed from the file name when empty")

	view := &cobra.Command{
		Use:   "view <status>",
		Short: "Mark a status update as seen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := a.socialUser()
			if err != nil {
				return err
			}
			return a.status.MarkViewed(cmd.Context(), args[0], userID)
		},
	}

	remove := &cobra.Command{
		Use:   "remove <status>",
		Short: "Delete a status update",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.socialUser(); err != nil {
				return err
			}
			return a.status.Remove(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(list, post, view, remove)
	return cmd
}

func (a *app) callsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calls",
		Short: "Voice and video call log",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Show call history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := a.socialUser()
			if err != nil {
				return err
			}
			calls, err := a.calls.History(cmd.Context(), userID)
			if err != nil {
				return err
			}
			printCalls(cmd.OutOrStdout(), userID, calls)
			return nil
		},
	}

	var video bool
	start := &cobra.Command{
		Use:   "start <conversation>",
		Short: "Log a call in a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := a.socialUser()
			if err != nil {
				return err
			}
			callType := social.CallVoice
			if video {
				callType = social.CallVideo
			}
			c, err := a.calls.Start(cmd.Context(), args[0], userID, callType)
			if err != nil {
				return err
			}
			cmd.Printf("%s call %s started\n", c.CallType, c.ID)
			return nil
		},
	}
	start.Flags().BoolVar(&video, "video", false, "video instead of voice")

	cmd.AddCommand(list, start)
	return cmd
}

func (a *app) usersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List people you can start a chat with",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := a.socialUser()
			if err != nil {
				return err
			}
			users, err := a.directory.Users(cmd.Context(), userID)
			if err != nil {
				return err
			}
			if len(users) == 0 {
				cmd.Println("no other users")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "USER\tNAME\tSTATUS")
			for _, u := range users {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", u.ID, displayName(u.FullName, u.Username), u.StatusText)
			}
			return tw.Flush()
		},
	}
}

func (a *app) newChatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "new-chat <user>",
		Short: "Open a one-to-one conversation, reusing an existing one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := a.socialUser()
			if err != nil {
				return err
			}
			conversationID, created, err := a.directory.Start(cmd.Context(), userID, args[0])
			if err != nil {
				return err
			}
			if created {
				cmd.Printf("started conversation %s\n", conversationID)
			} else {
				cmd.Printf("conversation %s already exists\n", conversationID)
			}
			return nil
		},
	}
}

func (a *app) socialUser() (string, error) {
	if a.status == nil || a.calls == nil || a.directory == nil {
		return "", errBackendDisabled
	}
	return a.requireUser()
}

func printStatuses(w io.Writer, updates []social.StatusUpdate) {
	if len(updates) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, u := range updates {
		author := u.UserID
		if u.Author != nil {
			author = displayName(u.Author.FullName, u.Author.Username)
		}
		body := ""
		if u.Caption != nil {
			body = *u.Caption
		}
		if u.ContentURL != nil {
			body += " [" + u.ContentType + " " + *u.ContentURL + "]"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", u.ID, author, body)
	}
	_ = tw.Flush()
}

func printCalls(w io.Writer, userID string, calls []social.Call) {
	if len(calls) == 0 {
		fmt.Fprintln(w, "no calls")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tDIRECTION\tWITH\tTYPE\tSTATUS")
	for _, c := range calls {
		when := ""
		if c.CreatedAt != nil {
			when = c.CreatedAt.Local().Format("01-02 15:04")
		}
		direction := "incoming"
		if c.CallerID == userID {
			direction = "outgoing"
		}
		with := ""
		if c.OtherUser != nil {
			with = displayName(c.OtherUser.FullName, c.OtherUser.Username)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", when, direction, with, c.CallType, c.Status)
	}
	_ = tw.Flush()
}
