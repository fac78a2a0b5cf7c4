package db

import (
	"errors"
	"strings"
	"testing"

	"github.com/zulandar/medqueue/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Connect(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func TestMySQLDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{
			name: "adds parseTime",
			dsn:  "root@tcp(127.0.0.1:3306)/medqueue",
			want: "parseTime=true",
		},
		{
			name: "keeps parseTime",
			dsn:  "user:pw@tcp(db.internal:3307)/medqueue?parseTime=true",
			want: "db.internal:3307",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MySQLDSN(tt.dsn)
			if err != nil {
				t.Fatalf("MySQLDSN: %v", err)
			}
			if !strings.Contains(got, tt.want) || !strings.Contains(got, "parseTime=true") {
				t.Errorf("MySQLDSN(%q) = %q", tt.dsn, got)
			}
		})
	}
}

func TestMySQLDSN_Invalid(t *testing.T) {
	if _, err := MySQLDSN("not a dsn"); err == nil {
		t.Error("expected error for invalid dsn")
	}
}

func TestConnect_UnknownDriver(t *testing.T) {
	_, err := Connect("postgres", "x")
	if err == nil || !strings.Contains(err.Error(), "unknown driver") {
		t.Errorf("err = %v", err)
	}
}

func TestAllModels(t *testing.T) {
	if got := len(AllModels()); got != 1 {
		t.Errorf("AllModels() = %d models, want 1", got)
	}
}

func TestBookings_RecordAndGet(t *testing.T) {
	s := NewBookings(openTestDB(t))
	b := &models.Booking{PatientID: "p1", Name: "Ann", DoctorID: "d1", DoctorName: "House", Position: 3, EstimatedWait: 45}
	if err := s.Record(b); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, err := s.Get("p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Ann" || got.Status != "waiting" || got.Position != 3 || got.ClosedAt != nil {
		t.Errorf("booking = %+v", got)
	}

	// Recording the same patient again refreshes the row.
	if err := s.Record(&models.Booking{PatientID: "p1", Name: "Ann", DoctorID: "d1", Position: 2}); err != nil {
		t.Fatalf("Record again: %v", err)
	}
	all, _ := s.List(0)
	if len(all) != 1 || all[0].Position != 2 {
		t.Errorf("bookings = %+v", all)
	}

	if _, err := s.Get("nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get unknown: %v", err)
	}
	if err := s.Record(&models.Booking{}); err == nil {
		t.Error("Record without patient id should fail")
	}
}

func TestBookings_LatestSkipsClosed(t *testing.T) {
	s := NewBookings(openTestDB(t))
	if _, err := s.Latest(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Latest on empty journal: %v", err)
	}
	s.Record(&models.Booking{PatientID: "p1", Name: "Ann", DoctorID: "d1"})
	s.Record(&models.Booking{PatientID: "p2", Name: "Bob", DoctorID: "d1"})

	got, err := s.Latest()
	if err != nil || got.PatientID != "p2" {
		t.Fatalf("Latest = %+v, %v", got, err)
	}

	if err := s.MarkClosed("p2", models.StatusCompleted, ""); err != nil {
		t.Fatalf("MarkClosed: %v", err)
	}
	got, err = s.Latest()
	if err != nil || got.PatientID != "p1" {
		t.Errorf("Latest after close = %+v, %v", got, err)
	}
}

func TestBookings_MarkClosed(t *testing.T) {
	s := NewBookings(openTestDB(t))
	s.Record(&models.Booking{PatientID: "p1", Name: "Ann", DoctorID: "d1"})

	if err := s.MarkClosed("p1", models.StatusRemoved, "no show"); err != nil {
		t.Fatalf("MarkClosed: %v", err)
	}
	got, _ := s.Get("p1")
	if got.Status != "removed" || got.Reason != "no show" || got.ClosedAt == nil {
		t.Errorf("booking = %+v", got)
	}
	if err := s.MarkClosed("p1", models.StatusCompleted, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("closing twice: %v", err)
	}

	// Progress on a closed booking is ignored.
	if err := s.UpdateProgress("p1", 1, 5); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	got, _ = s.Get("p1")
	if got.Position == 1 {
		t.Error("closed booking should not be updated")
	}
}

func TestBookings_UpdateProgressAndList(t *testing.T) {
	s := NewBookings(openTestDB(t))
	for _, id := range []string{"p1", "p2", "p3"} {
		s.Record(&models.Booking{PatientID: id, Name: id, DoctorID: "d1"})
	}
	if err := s.UpdateProgress("p2", 1, 12.5); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	got, _ := s.Get("p2")
	if got.Position != 1 || got.EstimatedWait != 12.5 {
		t.Errorf("booking = %+v", got)
	}

	list, err := s.List(2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].PatientID != "p3" {
		t.Errorf("List(2) = %+v", list)
	}
}
