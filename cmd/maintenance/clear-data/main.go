package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/railconnect/booking-backend/internal/config"
	"github.com/railconnect/booking-backend/internal/database"
	"github.com/railconnect/booking-backend/internal/models"
	"github.com/redis/go-redis/v9"
)

// clear-data removes bookings from the canonical store and the mirror and
// restores seats to capacity, for one schedule or all of them. Meant for staging.
func main() {
	var (
		dbURLFlag    string
		redisURLFlag string
		prefix       string
		trainID      int64
		travelDate   string
		confirm      bool
	)
	flag.Int64Var(&trainID, "train-id", 0, "only clear this train (requires -travel-date)")
	flag.StringVar(&travelDate, "travel-date", "", "only clear this date, YYYY-MM-DD (requires -train-id)")
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.StringVar(&redisURLFlag, "redis-url", "", "Redis connection string (overrides REDIS_URL)")
	flag.StringVar(&prefix, "prefix", "", "mirror key prefix (overrides MIRROR_KEY_PREFIX)")
	flag.BoolVar(&confirm, "confirm", false, "required; without it nothing is deleted")
	flag.Parse()

	_ = godotenv.Load()

	if !confirm {
		log.Fatal("refusing to clear data without -confirm")
	}
	if (trainID == 0) != (travelDate == "") {
		log.Fatal("-train-id and -travel-date must be given together")
	}
	if travelDate != "" {
		if _, err := time.Parse(models.TravelDateLayout, travelDate); err != nil {
			log.Fatalf("invalid -travel-date: %v", err)
		}
	}

	dbURL := firstNonEmpty(dbURLFlag, os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}
	redisURL := firstNonEmpty(redisURLFlag, os.Getenv("REDIS_URL"))
	if redisURL == "" {
		log.Fatal("REDIS_URL is not set and -redis-url was not provided")
	}
	prefix = firstNonEmpty(prefix, os.Getenv("MIRROR_KEY_PREFIX"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := database.NewConnection(ctx, config.DatabaseConfig{
		URL:                dbURL,
		Driver:             firstNonEmpty(os.Getenv("DATABASE_DRIVER"), "postgres"),
		MaxConnections:     2,
		MaxIdleConnections: 1,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	rdb, err := database.NewRedisClient(ctx, config.RedisConfig{URL: redisURL, PoolSize: 2})
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer rdb.Close()
	mirror := database.NewBookingMirrorRepository(rdb, prefix, 0)

	if trainID != 0 {
		key := models.ScheduleKey{TrainID: trainID, TravelDate: travelDate}
		clearSchedule(ctx, db, mirror, key)
		return
	}

	fmt.Println("Connected. Clearing canonical bookings...")

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		log.Fatalf("failed to begin transaction: %v", err)
	}
	deleted, err := tx.ExecContext(ctx, `DELETE FROM bookings`)
	if err != nil {
		tx.Rollback()
		log.Fatalf("failed to delete bookings: %v", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE train_schedules SET available_seats = capacity`); err != nil {
		tx.Rollback()
		log.Fatalf("failed to reset inventory: %v", err)
	}
	if err := tx.Commit(); err != nil {
		log.Fatalf("failed to commit: %v", err)
	}
	rows, _ := deleted.RowsAffected()
	fmt.Printf("  bookings deleted: %d\n", rows)

	// Mirror last: a crash in between leaves stale mirror records, which
	// cancel and get already treat as a mirror that is behind.
	fmt.Println("Clearing mirror...")
	for _, pattern := range mirror.KeyPatterns() {
		n, err := deleteMatching(ctx, rdb, pattern)
		if err != nil {
			log.Fatalf("failed to clear %s: %v", pattern, err)
		}
		fmt.Printf("  %s: %d keys\n", pattern, n)
	}

	fmt.Println("All booking data cleared.")
}

type clearedBooking struct {
	PNR    string `db:"pnr"`
	UserID string `db:"user_id"`
}

func clearSchedule(ctx context.Context, db *database.PostgresDB, mirror *database.BookingMirrorRepository, key models.ScheduleKey) {
	fmt.Printf("Connected. Clearing bookings for %s...\n", key)

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		log.Fatalf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	// same lock order as the booking paths: inventory row first
	var capacity int
	err = tx.GetContext(ctx, &capacity, `
		SELECT capacity FROM train_schedules
		WHERE train_id = $1 AND travel_date = $2::date
		FOR UPDATE`, key.TrainID, key.TravelDate)
	if err != nil {
		log.Fatalf("failed to lock schedule %s: %v", key, err)
	}

	var cleared []clearedBooking
	err = tx.SelectContext(ctx, &cleared, `
		DELETE FROM bookings
		WHERE train_id = $1 AND travel_date = $2::date
		RETURNING pnr, user_id`, key.TrainID, key.TravelDate)
	if err != nil {
		log.Fatalf("failed to delete bookings: %v", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE train_schedules SET available_seats = capacity
		WHERE train_id = $1 AND travel_date = $2::date`, key.TrainID, key.TravelDate); err != nil {
		log.Fatalf("failed to reset inventory: %v", err)
	}
	if err := tx.Commit(); err != nil {
		log.Fatalf("failed to commit: %v", err)
	}
	fmt.Printf("  bookings deleted: %d, seats reset to %d\n", len(cleared), capacity)

	for _, b := range cleared {
		if err := mirror.Remove(ctx, b.PNR, b.UserID); err != nil {
			log.Fatalf("failed to clear mirror: %v", err)
		}
	}
	fmt.Printf("  mirror records removed: %d\n", len(cleared))
}

func deleteMatching(ctx context.Context, rdb *redis.Client, pattern string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := rdb.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			if err := rdb.Del(ctx, keys...).Err(); err != nil {
				return deleted, err
			}
			deleted += len(keys)
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
