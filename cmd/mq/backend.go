package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/medqueue/internal/conn"
)

func newHealthCmd(configPath *string) *cobra.Command {
	var probeSocket bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the queue backend is reachable",
		Long:  "Calls the backend health endpoint and, unless --socket=false, opens the event channel once.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, *configPath)
			if err != nil {
				return err
			}
			defer a.close()
			out := cmd.OutOrStdout()

			body, err := a.api.Health(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %s\n", a.api.BaseURL(), strings.TrimSpace(body))

			if !probeSocket {
				return nil
			}
			mgr := a.newManager()
			defer mgr.Disconnect()
			if err := probe(mgr, a.cfg.Socket.Timeout); err != nil {
				return fmt.Errorf("event channel %s: %w", a.cfg.Backend.SocketURL, err)
			}
			fmt.Fprintf(out, "%s: event channel connected\n", a.cfg.Backend.SocketURL)
			return nil
		},
	}

	cmd.Flags().BoolVar(&probeSocket, "socket", true, "also probe the event channel")
	return cmd
}

// probe connects mgr and waits for the first connect, for reconnection to
// give up, or for timeout.
func probe(mgr *conn.Manager, timeout time.Duration) error {
	result := make(chan error, 1)
	off := mgr.Subscribe(func(s conn.State) {
		switch {
		case s.Connected:
			select {
			case result <- nil:
			default:
			}
		case s.Failed:
			select {
			case result <- fmt.Errorf("reconnection failed"):
			default:
			}
		}
	})
	defer off()

	mgr.Connect()
	select {
	case err := <-result:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("no connection after %s", timeout)
	}
}

func newDoctorsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctors",
		Short: "List doctors and their availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			doctors, err := a.api.ListDoctors(context.Background())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(doctors) == 0 {
				fmt.Fprintln(out, "No doctors found.")
				return nil
			}
			fmt.Fprintf(out, "%-24s %-24s %-20s %-10s %s\n", "ID", "NAME", "SPECIALIZATION", "AVAILABLE", "WAITING")
			for _, d := range doctors {
				avail := "no"
				if d.IsAvailable {
					avail = "yes"
				}
				fmt.Fprintf(out, "%-24s %-24s %-20s %-10s %d\n",
					truncate(d.ID, 24), truncate(d.Name, 24), truncate(d.Specialization, 20), avail, d.WaitingPatientCount)
			}
			return nil
		},
	}
}
