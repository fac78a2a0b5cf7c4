package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/zulandar/medqueue/internal/models"
	"github.com/zulandar/medqueue/internal/session"
)

const consoleHelp = `Commands:
  list                     show the queue
  start <patient-id>       start a consultation
  complete <patient-id>    complete a consultation
  status <patient-id> <waiting|consulting|completed|late>
                           set a patient's status
  remove <patient-id> [reason...]
                           remove a patient from the queue
  available on|off         set your availability
  refresh                  re-fetch the queue
  help                     show this help
  quit                     leave the console`

func newDashboardCmd(configPath *string) *cobra.Command {
	var doctorID string

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Run the doctor's queue console",
		Long:  "Joins the doctor room, keeps the queue live and reads queue commands from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(cmd, *configPath, doctorID)
		},
	}

	cmd.Flags().StringVar(&doctorID, "doctor", "", "doctor id (required)")
	cmd.MarkFlagRequired("doctor")
	return cmd
}

func runDashboard(cmd *cobra.Command, configPath, doctorID string) error {
	a, err := loadApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	mgr := a.newManager()
	defer mgr.Disconnect()

	doc, err := session.NewDoctor(session.DoctorOpts{
		Manager:       mgr,
		API:           a.api,
		Notifier:      a.notifier,
		Metrics:       a.metrics,
		DoctorID:      doctorID,
		RemoveTimeout: a.cfg.Commands.RemoveTimeout,
	})
	if err != nil {
		return err
	}
	defer doc.Close()

	ctx, cancel := signalContext(out)
	defer cancel()

	var (
		mu   sync.Mutex
		last string
	)
	off := doc.OnChange(func() {
		line := formatQueueSummary(doc.View())
		mu.Lock()
		defer mu.Unlock()
		if line != last {
			last = line
			fmt.Fprintln(out, line)
		}
	})
	defer off()

	a.serveStatus(ctx, doc, out)
	if err := doc.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "Doctor console for %s. Type \"help\" for commands.\n", doctorID)

	c := &console{doc: doc, out: out, prompt: isTerminal(cmd.InOrStdin())}
	return c.run(ctx, cmd.InOrStdin())
}

// doctorOps is the part of a doctor session the console drives.
type doctorOps interface {
	StartConsultation(patientID string) error
	CompleteConsultation(patientID string) error
	UpdatePatientStatus(patientID string, status models.Status) error
	RemovePatient(ctx context.Context, patientID, reason string) error
	SetAvailability(available bool) error
	Refresh(ctx context.Context) error
	View() session.DoctorSnapshot
}

var errQuit = errors.New("quit")

type console struct {
	doc    doctorOps
	out    io.Writer
	prompt bool
}

// run reads commands from in until quit, EOF or ctx ends.
func (c *console) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		if c.prompt {
			fmt.Fprint(c.out, "> ")
		}
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := c.exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// exec runs one console command.
func (c *console) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	verb, args := strings.ToLower(fields[0]), fields[1:]

	needID := func() (string, error) {
		if len(args) == 0 {
			return "", fmt.Errorf("%s needs a patient id", verb)
		}
		return args[0], nil
	}

	switch verb {
	case "help", "?":
		fmt.Fprintln(c.out, consoleHelp)
	case "quit", "exit":
		return errQuit
	case "list", "ls":
		printQueue(c.out, c.doc.View())
	case "start":
		id, err := needID()
		if err != nil {
			return err
		}
		if err := c.doc.StartConsultation(id); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Starting consultation with %s.\n", id)
	case "complete":
		id, err := needID()
		if err != nil {
			return err
		}
		if err := c.doc.CompleteConsultation(id); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Completing consultation with %s.\n", id)
	case "status":
		if len(args) != 2 {
			return fmt.Errorf("usage: status <patient-id> <waiting|consulting|completed|late>")
		}
		status := models.Status(strings.ToLower(args[1]))
		if err := c.doc.UpdatePatientStatus(args[0], status); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Marked %s %s.\n", args[0], status)
	case "remove", "rm":
		id, err := needID()
		if err != nil {
			return err
		}
		reason := strings.Join(args[1:], " ")
		fmt.Fprintf(c.out, "Removing %s...\n", id)
		if err := c.doc.RemovePatient(ctx, id, reason); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Removed %s.\n", id)
	case "available":
		if len(args) != 1 {
			return fmt.Errorf("usage: available on|off")
		}
		var on bool
		switch strings.ToLower(args[0]) {
		case "on", "yes", "true":
			on = true
		case "off", "no", "false":
		default:
			return fmt.Errorf("usage: available on|off")
		}
		if err := c.doc.SetAvailability(on); err != nil {
			return err
		}
	case "refresh":
		if err := c.doc.Refresh(ctx); err != nil {
			return err
		}
		printQueue(c.out, c.doc.View())
	default:
		return fmt.Errorf("unknown command %q (try \"help\")", verb)
	}
	return nil
}
