package service_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/draftforge/draftforge/internal/config"
	"github.com/draftforge/draftforge/internal/service"
	"github.com/draftforge/draftforge/internal/store"
	"github.com/draftforge/draftforge/internal/store/model"
)

var _ = Describe("usage service", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
		srv    *service.UsageService
	)

	BeforeAll(func() {
		db, err := store.InitDB(config.NewDefault())
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration()).To(BeNil())
	})

	BeforeEach(func() {
		srv = service.NewUsageService(s)

		tx := gormdb.Exec(fmt.Sprintf(insertOrganizationStm, "org-1", "org-1", 1000))
		Expect(tx.Error).To(BeNil())
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM usage_records;")
		gormdb.Exec("DELETE FROM token_purchases;")
		gormdb.Exec("DELETE FROM organizations;")
	})

	AfterAll(func() {
		s.Close()
	})

	Context("budget", func() {
		It("allows spending inside the budget", func() {
			remaining, err := srv.CheckBudget(context.TODO(), "org-1", 500)
			Expect(err).To(BeNil())
			Expect(remaining).To(Equal(int64(1000)))
		})

		It("rejects an estimate over the remaining budget", func() {
			_, err := srv.CheckBudget(context.TODO(), "org-1", 1500)

			var budgetErr *service.ErrBudgetExceeded
			Expect(errors.As(err, &budgetErr)).To(BeTrue())
			Expect(budgetErr.Remaining).To(Equal(int64(1000)))
			Expect(budgetErr.Estimated).To(Equal(int64(1500)))
		})

		It("bonus tokens extend the headroom", func() {
			Expect(s.Organization().AddBonusTokens(context.TODO(), "org-1", 1000)).To(BeNil())

			remaining, err := srv.CheckBudget(context.TODO(), "org-1", 1500)
			Expect(err).To(BeNil())
			Expect(remaining).To(Equal(int64(2000)))
		})
	})

	Context("record usage", func() {
		It("writes the ledger and the counter together", func() {
			record, err := srv.RecordUsage(context.TODO(), "org-1", service.UsageEvent{
				Stage:     "outline",
				Provider:  "openai",
				Model:     "gpt-4o-mini",
				TokensIn:  100,
				TokensOut: 200,
				Preset:    "quality",
			})
			Expect(err).To(BeNil())
			// 300 raw at the 2.0 quality multiplier
			Expect(record.BilledTokens).To(Equal(int64(600)))

			org, err := s.Organization().Get(context.TODO(), "org-1")
			Expect(err).To(BeNil())
			Expect(org.MonthlyTokensUsed).To(Equal(int64(600)))
		})

		It("joins the caller's transaction and leaves the commit to it", func() {
			ctx, err := s.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			_, err = srv.RecordUsage(ctx, "org-1", service.UsageEvent{
				TokensIn:  50,
				TokensOut: 50,
				Preset:    "balanced",
			})
			Expect(err).To(BeNil())

			_, err = store.Rollback(ctx)
			Expect(err).To(BeNil())

			count := 0
			err = gormdb.Raw("SELECT COUNT(*) FROM usage_records;").Scan(&count).Error
			Expect(err).To(BeNil())
			Expect(count).To(Equal(0))

			org, err := s.Organization().Get(context.TODO(), "org-1")
			Expect(err).To(BeNil())
			Expect(org.MonthlyTokensUsed).To(Equal(int64(0)))
		})

		It("the fast preset bills half the raw tokens", func() {
			record, err := srv.RecordUsage(context.TODO(), "org-1", service.UsageEvent{
				TokensIn:  50,
				TokensOut: 51,
				Preset:    "fast",
			})
			Expect(err).To(BeNil())
			// 101 raw at 0.5 rounds up
			Expect(record.BilledTokens).To(Equal(int64(51)))
		})
	})

	Context("purchases", func() {
		It("repeating the intent returns the first purchase", func() {
			first, err := srv.CreatePurchaseIntent(context.TODO(), "org-1", "key-1", 5000)
			Expect(err).To(BeNil())

			second, err := srv.CreatePurchaseIntent(context.TODO(), "org-1", "key-1", 5000)
			Expect(err).To(BeNil())
			Expect(second.ID).To(Equal(first.ID))
		})

		It("a key used by another org is rejected", func() {
			tx := gormdb.Exec(fmt.Sprintf(insertOrganizationStm, "org-2", "org-2", 1000))
			Expect(tx.Error).To(BeNil())

			_, err := srv.CreatePurchaseIntent(context.TODO(), "org-1", "key-1", 5000)
			Expect(err).To(BeNil())

			_, err = srv.CreatePurchaseIntent(context.TODO(), "org-2", "key-1", 5000)

			var validationErr *service.ErrValidation
			Expect(errors.As(err, &validationErr)).To(BeTrue())
		})

		It("confirmation credits the bonus pool exactly once", func() {
			purchase, err := srv.CreatePurchaseIntent(context.TODO(), "org-1", "key-1", 5000)
			Expect(err).To(BeNil())

			confirmed, err := srv.ConfirmPurchase(context.TODO(), "org-1", purchase.ID)
			Expect(err).To(BeNil())
			Expect(confirmed.Status).To(Equal(model.PurchaseStatusCompleted))

			confirmed, err = srv.ConfirmPurchase(context.TODO(), "org-1", purchase.ID)
			Expect(err).To(BeNil())
			Expect(confirmed.Status).To(Equal(model.PurchaseStatusCompleted))

			org, err := s.Organization().Get(context.TODO(), "org-1")
			Expect(err).To(BeNil())
			Expect(org.BonusTokens).To(Equal(int64(5000)))
		})

		It("confirming an unknown purchase -- not found", func() {
			_, err := srv.ConfirmPurchase(context.TODO(), "org-1", uuid.New())

			var notFoundErr *service.ErrResourceNotFound
			Expect(errors.As(err, &notFoundErr)).To(BeTrue())
		})
	})
})
