package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/treasurehub/treasurehub-api/internal/auth"
	"github.com/treasurehub/treasurehub-api/internal/common"
	"github.com/treasurehub/treasurehub-api/internal/pricing"
)

type listingSeed struct {
	Title    string
	Slug     string
	Price    string
	Reserve  string
	Schedule string
	Category string
	AgeDays  int
}

var listings = []listingSeed{
	{"Mid-century oak dresser", "mid-century-oak-dresser", "420.00", "180.00", pricing.ScheduleTurbo30, "BULK", 9},
	{"Brass floor lamp", "brass-floor-lamp", "85.00", "", pricing.ScheduleClassic60, "NORMAL", 20},
	{"Velvet wingback chair", "velvet-wingback-chair", "260.00", "150.00", pricing.ScheduleClassic60, "BULK", 45},
	{"Ceramic table vase", "ceramic-table-vase", "32.50", "", "", "NORMAL", 3},
	{"Walnut bookshelf", "walnut-bookshelf", "310.00", "", pricing.ScheduleTurbo30, "BULK", 31},
	{"Hand-woven wool rug", "hand-woven-wool-rug", "140.00", "90.00", pricing.ScheduleTurbo30, "NORMAL", 15},
	{"Art deco wall mirror", "art-deco-wall-mirror", "120.00", "", "", "NORMAL", 1},
}

type promoSeed struct {
	Code  string
	Type  string
	Value string
	Limit *int
	Days  int
}

func limit(n int) *int { return &n }

var promos = []promoSeed{
	{"WELCOME10", "percentage", "10", nil, 90},
	{"TAKE20", "fixed_amount", "20", limit(100), 30},
	{"FREESHIP", "free_shipping", "0", limit(50), 14},
	{"ONEOFF", "fixed_amount", "50", limit(1), 7},
}

func main() {
	printToken := flag.Bool("token", false, "print a signed admin token for local testing")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on environment variables")
	}
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	now := time.Now().UTC()
	if err := seedListings(db, now); err != nil {
		log.Fatalf("seed listings: %v", err)
	}
	if err := seedPromos(db, now); err != nil {
		log.Fatalf("seed promos: %v", err)
	}
	log.Println("seeding completed")

	if *printToken {
		if err := devToken(); err != nil {
			log.Fatalf("sign token: %v", err)
		}
	}
}

func seedListings(db *sql.DB, now time.Time) error {
	fmt.Println("seeding listings...")
	for _, s := range listings {
		price := decimal.RequireFromString(s.Price)
		createdAt := now.AddDate(0, 0, -s.AgeDays)
		l := pricing.Listing{ListPrice: price, Schedule: s.Schedule, CreatedAt: createdAt}
		var reserve sql.NullInt64
		if s.Reserve != "" {
			r := decimal.RequireFromString(s.Reserve)
			l.ReservePrice = &r
			reserve = sql.NullInt64{Int64: pricing.ToCents(r), Valid: true}
		}
		var schedule sql.NullString
		if s.Schedule != "" {
			schedule = sql.NullString{String: s.Schedule, Valid: true}
		}
		current := pricing.EffectivePrice(l, now)

		_, err := db.Exec(`
			INSERT INTO listings (title, slug, price_cents, reserve_price_cents, discount_schedule,
				delivery_category, current_price_cents, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
			ON CONFLICT (slug) DO NOTHING`,
			s.Title, s.Slug, pricing.ToCents(price), reserve, schedule,
			s.Category, pricing.ToCents(current), createdAt)
		if err != nil {
			return fmt.Errorf("%s: %w", s.Slug, err)
		}
		fmt.Printf("  %-28s list %8s  now %8s\n", s.Slug, price.StringFixed(2), current.StringFixed(2))
	}
	return nil
}

func seedPromos(db *sql.DB, now time.Time) error {
	fmt.Println("seeding promo codes...")
	for _, p := range promos {
		var usageLimit sql.NullInt64
		if p.Limit != nil {
			usageLimit = sql.NullInt64{Int64: int64(*p.Limit), Valid: true}
		}
		_, err := db.Exec(`
			INSERT INTO promo_codes (code, type, value, start_date, end_date, usage_limit)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (code) DO NOTHING`,
			p.Code, p.Type, p.Value, now.AddDate(0, 0, -1), now.AddDate(0, 0, p.Days), usageLimit)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) {
				return fmt.Errorf("%s: %s (%s)", p.Code, pqErr.Message, pqErr.Code.Name())
			}
			return fmt.Errorf("%s: %w", p.Code, err)
		}
	}
	return nil
}

func devToken() error {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	v, err := auth.NewVerifier(context.Background(), auth.Config{
		Secret:   secret,
		Issuer:   os.Getenv("JWT_ISSUER"),
		Audience: os.Getenv("JWT_AUDIENCE"),
	})
	if err != nil {
		return err
	}
	token, err := v.Sign(uuid.NewString(), []string{common.RoleAdmin}, 24*time.Hour)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
