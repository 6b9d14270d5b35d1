package storage

import (
	"context"
	"fmt"

	"github.com/C4T-BuT-S4D/cfwatch/internal/models"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type Storage struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Storage {
	return &Storage{db: db}
}

// Open connects to the database selected by driver: postgres, mysql or sqlite.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres", "":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	return db, nil
}

func (s *Storage) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&models.Binding{}, &models.Submission{}); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

func (s *Storage) ListTrackedAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	if err := s.db.
		WithContext(ctx).
		Model(&models.Binding{}).
		Distinct().
		Order("account_id").
		Pluck("account_id", &accounts).
		Error; err != nil {
		return nil, fmt.Errorf("listing tracked accounts: %w", err)
	}
	return accounts, nil
}

func (s *Storage) ListChannelsForAccount(ctx context.Context, account string) ([]string, error) {
	var channels []string
	if err := s.db.
		WithContext(ctx).
		Model(&models.Binding{}).
		Where("account_id = ?", models.CanonicalAccount(account)).
		Distinct().
		Order("channel_id").
		Pluck("channel_id", &channels).
		Error; err != nil {
		return nil, fmt.Errorf("listing channels for %s: %w", account, err)
	}
	return channels, nil
}

// RemoveBinding drops every binding of account in channel, regardless of who requested it.
func (s *Storage) RemoveBinding(ctx context.Context, channelID, account string) (bool, error) {
	res := s.db.
		WithContext(ctx).
		Where("channel_id = ? AND account_id = ?", channelID, models.CanonicalAccount(account)).
		Delete(&models.Binding{})
	if res.Error != nil {
		return false, fmt.Errorf("removing binding %s/%s: %w", channelID, account, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Storage) HasSolved(ctx context.Context, problemID, account string) (bool, error) {
	var count int64
	if err := s.db.
		WithContext(ctx).
		Model(&models.Submission{}).
		Where("problem_id = ? AND account_id = ?", problemID, models.CanonicalAccount(account)).
		Count(&count).
		Error; err != nil {
		return false, fmt.Errorf("checking solved %s for %s: %w", problemID, account, err)
	}
	return count > 0, nil
}

// RecordSubmission inserts sub unless the account already has a record for the problem.
// It reports whether a row was written.
func (s *Storage) RecordSubmission(ctx context.Context, sub *models.Submission) (bool, error) {
	res := s.db.
		WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "account_id"},
				{Name: "problem_id"},
			},
			DoNothing: true,
		}).
		Create(sub)
	if res.Error != nil {
		return false, fmt.Errorf("recording %v: %w", sub, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Storage) AddBinding(ctx context.Context, binding *models.Binding) (bool, error) {
	res := s.db.
		WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "channel_id"},
				{Name: "requester_id"},
				{Name: "account_id"},
			},
			DoNothing: true,
		}).
		Create(binding)
	if res.Error != nil {
		return false, fmt.Errorf("adding %v: %w", binding, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// AccountBound reports whether anyone in channel already tracks account.
func (s *Storage) AccountBound(ctx context.Context, channelID, account string) (bool, error) {
	var count int64
	if err := s.db.
		WithContext(ctx).
		Model(&models.Binding{}).
		Where("channel_id = ? AND account_id = ?", channelID, models.CanonicalAccount(account)).
		Count(&count).
		Error; err != nil {
		return false, fmt.Errorf("checking binding %s/%s: %w", channelID, account, err)
	}
	return count > 0, nil
}

func (s *Storage) RemoveRequesterBinding(ctx context.Context, channelID, requesterID, account string) (bool, error) {
	res := s.db.
		WithContext(ctx).
		Where(
			"channel_id = ? AND requester_id = ? AND account_id = ?",
			channelID,
			requesterID,
			models.CanonicalAccount(account),
		).
		Delete(&models.Binding{})
	if res.Error != nil {
		return false, fmt.Errorf("removing binding %s/%s/%s: %w", channelID, requesterID, account, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListChannelBindings groups the accounts tracked in channel by requester.
func (s *Storage) ListChannelBindings(ctx context.Context, channelID string) (map[string][]string, error) {
	var bindings []*models.Binding
	if err := s.db.
		WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("requester_id, account_id").
		Find(&bindings).
		Error; err != nil {
		return nil, fmt.Errorf("listing bindings of %s: %w", channelID, err)
	}

	result := make(map[string][]string)
	for _, b := range bindings {
		result[b.RequesterID] = append(result[b.RequesterID], b.AccountID)
	}
	return result, nil
}

func (s *Storage) ListRequesterAccounts(ctx context.Context, channelID, requesterID string) ([]string, error) {
	var accounts []string
	if err := s.db.
		WithContext(ctx).
		Model(&models.Binding{}).
		Where("channel_id = ? AND requester_id = ?", channelID, requesterID).
		Order("account_id").
		Pluck("account_id", &accounts).
		Error; err != nil {
		return nil, fmt.Errorf("listing accounts of %s in %s: %w", requesterID, channelID, err)
	}
	return accounts, nil
}
