package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"taskflow/internal/auth"
	"taskflow/internal/config"
	"taskflow/internal/db"
	"taskflow/internal/errors"
	"taskflow/internal/logger"
	"taskflow/internal/model"
	"taskflow/internal/repository"
	"taskflow/internal/service"
)

//go:embed seed.json
var seedFile []byte

// SeedUserData represents a seeded account.
type SeedUserData struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// SeedCampaignData represents a seeded campaign, published on creation.
type SeedCampaignData struct {
	Employer       string `json:"employer"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Instructions   string `json:"instructions"`
	Category       string `json:"category"`
	Difficulty     string `json:"difficulty"`
	PaymentPerSlot string `json:"payment_per_slot"`
	TotalSlots     int    `json:"total_slots"`
	AllowedMinutes int    `json:"allowed_minutes"`
	AutoApprove    bool   `json:"auto_approve"`
}

// SeedData is the layout of seed.json.
type SeedData struct {
	Users     []SeedUserData     `json:"users"`
	Campaigns []SeedCampaignData `json:"campaigns"`
}

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("Starting seed script...")

	// Connect to database
	gormDB, err := db.NewMySQL(cfg.MySQLDSN, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	// Run migrations to ensure schema is up to date
	if err := db.Migrate(gormDB, false, log); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	var data SeedData
	if err := json.Unmarshal(seedFile, &data); err != nil {
		log.Fatal("Failed to parse seed data", zap.Error(err))
	}

	store := repository.NewStore(gormDB)
	authService := service.NewAuthService(store.Users(), auth.NewJWTService(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL), auth.NewTokenStore(nil))
	deps := service.Dependencies{
		Store:  store,
		Logger: log,
		Policy: service.PolicyFromConfig(cfg),
		Now:    time.Now,
		Locks:  &service.KeyedMutex{},
	}
	campaignService := service.NewCampaignService(deps)
	ledgerService := service.NewLedgerService(deps)
	ctx := context.Background()

	created, fresh, err := seedUsers(ctx, authService, store.Users(), data.Users)
	if err != nil {
		log.Fatal("Failed to seed users", zap.Error(err))
	}

	campaigns, err := seedCampaigns(ctx, campaignService, ledgerService, fresh, data.Campaigns)
	if err != nil {
		log.Fatal("Failed to seed campaigns", zap.Error(err))
	}

	log.Info("Seed completed successfully!",
		zap.Int("users_created", created),
		zap.Int("users_existing", len(data.Users)-created),
		zap.Int("campaigns_published", campaigns))
}

// seedUsers registers each user, skipping emails that already exist. It returns
// the newly created users keyed by email.
func seedUsers(ctx context.Context, authService service.AuthService, users repository.UserRepository, data []SeedUserData) (int, map[string]*model.User, error) {
	fresh := make(map[string]*model.User)
	for _, item := range data {
		role, ok := model.ParseRole(item.Role)
		if !ok {
			return len(fresh), fresh, fmt.Errorf("user %s: %w", item.Email, errors.ErrInvalidRole)
		}
		user, err := authService.Register(ctx, item.Email, item.Password, item.DisplayName, role)
		if err == errors.ErrDuplicateEmail {
			if _, err := users.FindByEmail(ctx, item.Email); err != nil {
				return len(fresh), fresh, fmt.Errorf("error checking user %s: %w", item.Email, err)
			}
			continue
		}
		if err != nil {
			return len(fresh), fresh, fmt.Errorf("error creating user %s: %w", item.Email, err)
		}
		fresh[user.Email] = user
	}
	return len(fresh), fresh, nil
}

// seedCampaigns posts, funds and publishes campaigns for employers created in
// this run, so rerunning the seed does not duplicate listings.
func seedCampaigns(ctx context.Context, campaigns service.CampaignService, ledger service.LedgerService, employers map[string]*model.User, data []SeedCampaignData) (int, error) {
	published := 0
	for _, item := range data {
		employer, ok := employers[item.Employer]
		if !ok {
			continue
		}
		pay, err := decimal.NewFromString(item.PaymentPerSlot)
		if err != nil {
			return published, fmt.Errorf("campaign %q: invalid payment: %w", item.Title, err)
		}

		campaign, err := campaigns.Create(ctx, employer.ID, service.CampaignSpec{
			Title:          item.Title,
			Description:    item.Description,
			Instructions:   item.Instructions,
			Category:       item.Category,
			Difficulty:     model.Difficulty(item.Difficulty),
			PaymentPerSlot: pay,
			TotalSlots:     item.TotalSlots,
			AllowedMinutes: item.AllowedMinutes,
			AutoApprove:    item.AutoApprove,
		})
		if err != nil {
			return published, fmt.Errorf("error creating campaign %q: %w", item.Title, err)
		}
		if _, err := ledger.Deposit(ctx, employer.ID, campaign.BudgetTotal.Add(campaign.PlatformFee), "seed:"+campaign.ID.String()); err != nil {
			return published, fmt.Errorf("error funding campaign %q: %w", item.Title, err)
		}
		if _, err := campaigns.Publish(ctx, auth.System, campaign.ID); err != nil {
			return published, fmt.Errorf("error publishing campaign %q: %w", item.Title, err)
		}
		published++
	}
	return published, nil
}
