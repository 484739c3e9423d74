package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-booking/internal/auth"
	"github.com/noah-isme/backend-booking/internal/money"
)

// Seeds pending bookings for local testing and prints a bearer token per user
// so the payment endpoints can be called with curl.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	tokens, err := auth.NewService(auth.Config{Secret: secret, AccessTokenTTL: 24 * time.Hour})
	if err != nil {
		log.Fatalf("Failed to init token issuer: %v", err)
	}

	prices, err := parsePrices(valueOrDefault(os.Getenv("SEED_PRICES"), "350,500,799.5"))
	if err != nil {
		log.Fatalf("Invalid SEED_PRICES: %v", err)
	}
	users := []string{uuid.NewString(), uuid.NewString()}
	courts := make([]string, len(prices))
	for i := range courts {
		courts[i] = uuid.NewString()
	}

	fmt.Println("Seeding Bookings...")
	start := time.Now().Add(72 * time.Hour).Truncate(time.Hour)
	for i, userID := range users {
		for j, courtID := range courts {
			begins := start.Add(time.Duration(i*len(courts)+j) * time.Hour)
			var id string
			err := pool.QueryRow(ctx, `
				INSERT INTO bookings (user_id, court_id, start_time, end_time, price, status)
				VALUES ($1, $2, $3, $4, $5::numeric, 'PENDING')
				RETURNING id::text;
			`, userID, courtID, begins, begins.Add(time.Hour), prices[j].StringFixed(2)).Scan(&id)
			if err != nil {
				log.Printf("Failed to seed booking for user %s: %v", userID, err)
				continue
			}
			fmt.Printf("  booking %s user=%s price=%s starts=%s\n", id, userID, prices[j].StringFixed(2), begins.Format(time.RFC3339))
		}
	}

	fmt.Println("Access tokens:")
	for _, userID := range users {
		token, expires, err := tokens.IssueAccessToken(userID)
		if err != nil {
			log.Printf("Failed to issue token for %s: %v", userID, err)
			continue
		}
		fmt.Printf("  %s (expires %s)\n  %s\n", userID, expires.Format(time.RFC3339), token)
	}

	log.Println("Seeding completed successfully!")
}

// parsePrices reads a comma separated list of court prices, one court per
// entry.
func parsePrices(raw string) ([]decimal.Decimal, error) {
	var out []decimal.Decimal
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", part, err)
		}
		price, err := money.FromFloat(f)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", part, err)
		}
		minor, err := money.ToMinorUnits(price)
		if err != nil || minor == 0 {
			return nil, fmt.Errorf("price %q must be a positive amount", part)
		}
		out = append(out, money.ToMajorUnits(minor))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no prices given")
	}
	return out, nil
}

func valueOrDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
