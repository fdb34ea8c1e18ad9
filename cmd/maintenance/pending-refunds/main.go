package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/railconnect/booking-backend/internal/config"
	"github.com/railconnect/booking-backend/internal/database"
	"github.com/railconnect/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// pending-refunds lists charges that were captured for bookings that never
// committed, so an operator can refund them at the gateway
func main() {
	var (
		dbURLFlag string
		since     time.Duration
		limit     int
	)
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.DurationVar(&since, "since", 7*24*time.Hour, "how far back to look")
	flag.IntVar(&limit, "limit", 200, "maximum rows to print")
	flag.Parse()

	_ = godotenv.Load()

	dbURL := dbURLFlag
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := database.NewConnection(ctx, config.DatabaseConfig{
		URL:                dbURL,
		Driver:             os.Getenv("DATABASE_DRIVER"),
		MaxConnections:     1,
		MaxIdleConnections: 1,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	audits, err := database.NewPaymentAuditRepository(db, logger).
		GetRecentByEventType(ctx, models.PaymentEventRefundRequired, time.Now().Add(-since), limit)
	if err != nil {
		log.Fatalf("failed to list refunds: %v", err)
	}

	if len(audits) == 0 {
		fmt.Println("No refunds pending.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tPNR\tUSER\tGATEWAY\tREFERENCE\tAMOUNT\tREASON")
	for _, a := range audits {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.CreatedAt.Format(time.RFC3339), a.ReservationCode, a.UserID, a.Gateway,
			deref(a.GatewayReference), a.Amount.StringFixed(2), deref(a.ErrorMessage))
	}
	w.Flush()
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
