package store

import (
	"context"

	"github.com/draftforge/draftforge/internal/store/model"
	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Job() Job
	Output() Output
	Organization() Organization
	Project() Project
	Usage() Usage
	Purchase() Purchase
	GenerationLock() GenerationLock
	InitialMigration() error
	Close() error
}

type DataStore struct {
	db           *gorm.DB
	job          Job
	output       Output
	organization Organization
	project      Project
	usage        Usage
	purchase     Purchase
	lock         GenerationLock
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		db:           db,
		job:          NewJobStore(db),
		output:       NewOutputStore(db),
		organization: NewOrganizationStore(db),
		project:      NewProjectStore(db),
		usage:        NewUsageStore(db),
		purchase:     NewPurchaseStore(db),
		lock:         NewGenerationLock(db),
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) Output() Output {
	return s.output
}

func (s *DataStore) Organization() Organization {
	return s.organization
}

func (s *DataStore) Project() Project {
	return s.project
}

func (s *DataStore) Usage() Usage {
	return s.usage
}

func (s *DataStore) Purchase() Purchase {
	return s.purchase
}

func (s *DataStore) GenerationLock() GenerationLock {
	return s.lock
}

func (s *DataStore) InitialMigration() error {
	return s.db.AutoMigrate(
		&model.Organization{},
		&model.Project{},
		&model.Job{},
		&model.Output{},
		&model.OutputVersion{},
		&model.UsageRecord{},
		&model.TokenPurchase{},
	)
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
