package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
)

var inboxQuery string

func init() {
	rootCmd.AddCommand(inboxCmd)
	inboxCmd.Flags().StringVarP(&inboxQuery, "query", "q", "", "filter by customer name")
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List customer conversations (agents only)",
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		if err := a.restore(cmd.Context()); err != nil {
			return err
		}
		if a.session.Role() != chat.SenderAgent {
			return errors.New("the inbox is only available to support agents")
		}
		convs, err := a.client().Inbox(cmd.Context(), inboxQuery)
		if err != nil {
			return err
		}
		printInbox(cmd.OutOrStdout(), convs)
		return nil
	}),
}

func printInbox(out io.Writer, convs []chat.Conversation) {
	if len(convs) == 0 {
		fmt.Fprintln(out, "No conversations.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UNREAD\tCUSTOMER\tEMAIL\tTIME\tLAST MESSAGE")
	for _, c := range convs {
		mark := ""
		if c.Unread > 0 {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", mark, c.Name, c.Key, c.Time, truncate(c.LastMessage, 48))
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
