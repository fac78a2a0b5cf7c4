package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHistoryCmd(configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show bookings made from this machine",
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

			list, err := bookings.List(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No bookings yet.")
				return nil
			}
			fmt.Fprintf(out, "%-24s %-20s %-20s %-10s %s\n", "PATIENT ID", "NAME", "DOCTOR", "STATUS", "BOOKED")
			for _, b := range list {
				doctor := b.DoctorName
				if doctor == "" {
					doctor = b.DoctorID
				}
				fmt.Fprintf(out, "%-24s %-20s %-20s %-10s %s\n",
					truncate(b.PatientID, 24), truncate(b.Name, 20), truncate(doctor, 20), b.Status,
					b.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of bookings to show")
	return cmd
}
