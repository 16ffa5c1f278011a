package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/DoyleJ11/share-board/internal/api"
	"github.com/DoyleJ11/share-board/internal/config"
	"github.com/DoyleJ11/share-board/internal/conn"
	"github.com/DoyleJ11/share-board/internal/logging"
	"github.com/DoyleJ11/share-board/internal/session"
)

func createCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a room and print its code",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClient(*envFile)
			if err != nil {
				return err
			}
			snap, err := api.New(cfg.APIURL, cfg.Token).CreateRoom(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), snap.Code)
			return nil
		},
	}
}

func listCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the rooms you host or have joined",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClient(*envFile)
			if err != nil {
				return err
			}
			rooms, err := api.New(cfg.APIURL, cfg.Token).Rooms(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tHOST\tACTIVE\tUPDATED")
			for _, r := range rooms {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", r.Code, r.Host, r.Active, r.UpdatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func whoCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "who <code>",
		Short: "Show who joined a room and who is connected",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClient(*envFile)
			if err != nil {
				return err
			}
			p, err := api.New(cfg.APIURL, cfg.Token).Participants(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "members: %s\n", strings.Join(p.Members, ", "))
			fmt.Fprintf(out, "online:  %s\n", strings.Join(p.Online, ", "))
			return nil
		},
	}
}

func leaveCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "leave <code>",
		Short: "Leave a room; the host leaving closes it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClient(*envFile)
			if err != nil {
				return err
			}
			closed, err := api.New(cfg.APIURL, cfg.Token).LeaveRoom(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if closed {
				fmt.Fprintf(cmd.OutOrStdout(), "closed %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "left %s\n", args[0])
			}
			return nil
		},
	}
}

func joinCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "join <code>",
		Short: "Join a room and chat, edit and save from stdin",
		Long: `Join a room. Plain lines are sent as chat messages; commands start
with a slash (type /help). Ctrl-C with unsaved edits asks for a
second Ctrl-C before quitting.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClient(*envFile)
			if err != nil {
				return err
			}
			log, err := logging.NewConsole(cfg.Log.Level)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			client := api.New(cfg.APIURL, cfg.Token)
			sess := session.New(ctx, session.Deps{
				Rooms:        client,
				Issuer:       client,
				Dialer:       conn.WSDialer{BaseURL: cfg.WSURL},
				Log:          log,
				AwaitSaveAck: cfg.SaveAck,
				Conn:         conn.Options{AttemptTimeout: cfg.ConnectTimeout},
			})
			defer sess.Close()

			out := cmd.OutOrStdout()
			r := newREPL(sess, out)
			if err := sess.Enter(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(out, "joined %s, type /help for commands\n", args[0])

			lines := make(chan string)
			go func() {
				defer close(lines)
				sc := bufio.NewScanner(cmd.InOrStdin())
				sc.Buffer(make([]byte, 64<<10), 4<<20)
				for sc.Scan() {
					select {
					case lines <- sc.Text():
					case <-ctx.Done():
						return
					}
				}
			}()

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt)
			defer signal.Stop(sigs)

			for {
				select {
				case ev, ok := <-sess.Events():
					if !ok || r.event(ev) {
						return nil
					}
				case line, ok := <-lines:
					if !ok || r.line(ctx, line) {
						return nil
					}
				case <-sigs:
					if r.interrupt() {
						return nil
					}
				}
			}
		},
	}
}
