package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/zulandar/medqueue/internal/db"
	"github.com/zulandar/medqueue/internal/models"
	"github.com/zulandar/medqueue/internal/session"
)

func newBookCmd(configPath *string) *cobra.Command {
	var (
		name     string
		doctorID string
		watch    bool
	)

	cmd := &cobra.Command{
		Use:   "book",
		Short: "Join a doctor's queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBook(cmd, *configPath, name, doctorID, watch)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "patient name (required)")
	cmd.Flags().StringVar(&doctorID, "doctor", "", "doctor id (required)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "follow the queue after booking")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("doctor")
	return cmd
}

func runBook(cmd *cobra.Command, configPath, name, doctorID string, watch bool) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("--name must not be blank")
	}
	a, err := loadApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer a.close()
	bookings, closeDB, err := openJournal(a.cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	res, err := a.api.AddPatient(context.Background(), name, doctorID)
	if err != nil {
		return err
	}
	b := &models.Booking{
		PatientID:     res.Patient.ID,
		Name:          res.Patient.Name,
		DoctorID:      res.Patient.DoctorID,
		DoctorName:    res.Patient.DoctorName,
		Position:      res.Patient.Position,
		EstimatedWait: res.EstimatedWaitTime,
		Status:        string(models.StatusWaiting),
	}
	if err := bookings.Record(b); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Booked %s (patient id %s)\n", b.Name, b.PatientID)
	if b.Position > 0 {
		fmt.Fprintf(out, "  Position:       %d\n", b.Position)
	}
	fmt.Fprintf(out, "  Estimated wait: %s\n", formatMinutes(b.EstimatedWait))

	if !watch {
		return nil
	}
	return watchBooking(cmd, a, bookings, b)
}

func newWatchCmd(configPath *string) *cobra.Command {
	var patientID, doctorID string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow your place in line live",
		Long:  "Follows a booking's position, estimated wait and status until the consultation ends. Defaults to the most recent open booking.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, *configPath)
			if err != nil {
				return err
			}
			defer a.close()
			bookings, closeDB, err := openJournal(a.cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			b, err := resolveBooking(bookings, patientID, doctorID)
			if err != nil {
				return err
			}
			return watchBooking(cmd, a, bookings, b)
		},
	}

	cmd.Flags().StringVar(&patientID, "patient", "", "patient id (defaults to the latest open booking)")
	cmd.Flags().StringVar(&doctorID, "doctor", "", "doctor id")
	return cmd
}

// resolveBooking picks the booking to follow: the journalled one for
// patientID, an ad-hoc one from the flags, or the latest open booking.
func resolveBooking(bookings *db.Bookings, patientID, doctorID string) (*models.Booking, error) {
	if patientID == "" {
		b, err := bookings.Latest()
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("no open booking; pass --patient and --doctor")
		}
		return b, err
	}

	b, err := bookings.Get(patientID)
	switch {
	case err == nil:
		if doctorID != "" {
			b.DoctorID = doctorID
		}
		return b, nil
	case !errors.Is(err, db.ErrNotFound):
		return nil, err
	case doctorID == "":
		return nil, fmt.Errorf("patient %s is not in the journal; pass --doctor", patientID)
	}
	return &models.Booking{PatientID: patientID, DoctorID: doctorID, Status: string(models.StatusWaiting)}, nil
}

// watchBooking runs a patient session for b until the patient leaves the
// queue or the user interrupts.
func watchBooking(cmd *cobra.Command, a *app, bookings *db.Bookings, b *models.Booking) error {
	out := cmd.OutOrStdout()
	mgr := a.newManager()
	defer mgr.Disconnect()

	p, err := session.NewPatient(session.PatientOpts{
		Manager:         mgr,
		API:             a.api,
		Bookings:        bookings,
		Notifier:        a.notifier,
		PatientID:       b.PatientID,
		PatientName:     b.Name,
		DoctorID:        b.DoctorID,
		DoctorName:      b.DoctorName,
		Position:        b.Position,
		EstimatedWait:   b.EstimatedWait,
		Tick:            a.cfg.WaitTimer.Tick,
		RefreshSchedule: a.cfg.WaitTimer.RefreshSchedule,
	})
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := signalContext(out)
	defer cancel()

	var (
		mu   sync.Mutex
		last string
	)
	render := func() {
		line := formatPatientLine(p.View())
		mu.Lock()
		defer mu.Unlock()
		if line != last {
			last = line
			fmt.Fprintln(out, line)
		}
	}
	off := p.OnChange(render)
	defer off()

	fmt.Fprintf(out, "Following patient %s in doctor %s's queue... (Ctrl+C to stop)\n", b.PatientID, b.DoctorID)
	a.serveStatus(ctx, p, out)
	if err := p.Start(ctx); err != nil {
		return err
	}
	render()

	select {
	case <-p.Done():
		fmt.Fprintln(out, "You have left the queue.")
	case <-ctx.Done():
	}
	return nil
}

func newLeaveCmd(configPath *string) *cobra.Command {
	var patientID, reason string

	cmd := &cobra.Command{
		Use:   "leave",
		Short: "Leave the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, *configPath)
			if err != nil {
				return err
			}
			defer a.close()
			bookings, closeDB, err := openJournal(a.cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			if patientID == "" {
				b, err := bookings.Latest()
				if errors.Is(err, db.ErrNotFound) {
					return fmt.Errorf("no open booking; pass --patient")
				}
				if err != nil {
					return err
				}
				patientID = b.PatientID
			}

			if err := a.api.RemovePatient(context.Background(), patientID, reason); err != nil {
				return err
			}
			if err := bookings.MarkClosed(patientID, models.StatusRemoved, reason); err != nil && !errors.Is(err, db.ErrNotFound) {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Patient %s left the queue.\n", patientID)
			return nil
		},
	}

	cmd.Flags().StringVar(&patientID, "patient", "", "patient id (defaults to the latest open booking)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason for leaving")
	return cmd
}
