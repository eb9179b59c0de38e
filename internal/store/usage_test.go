package store_test

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/draftforge/draftforge/internal/config"
	"github.com/draftforge/draftforge/internal/store"
	"github.com/draftforge/draftforge/internal/store/model"
)

var _ = Describe("usage store", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
	)

	BeforeAll(func() {
		cfg := config.NewDefault()
		db, err := store.InitDB(cfg)
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration()).To(BeNil())
	})

	BeforeEach(func() {
		tx := gormdb.Exec(fmt.Sprintf(insertOrganizationStm, "org-1", "org-1", 100000))
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

	Context("ledger", func() {
		It("appends records and sums the billed tokens", func() {
			for _, billed := range []int64{100, 250} {
				_, err := s.Usage().Create(context.TODO(), model.UsageRecord{
					OrgID:        "org-1",
					Stage:        "outline",
					Provider:     "openai",
					TokensIn:     50,
					TokensOut:    billed - 50,
					TokensTotal:  billed,
					Preset:       "balanced",
					Multiplier:   1.0,
					BilledTokens: billed,
				})
				Expect(err).To(BeNil())
			}

			total, err := s.Usage().SumBilledSince(context.TODO(), "org-1", time.Now().Add(-time.Hour))
			Expect(err).To(BeNil())
			Expect(total).To(Equal(int64(350)))

			records, err := s.Usage().List(context.TODO(), store.NewUsageQueryFilter().ByOrgID("org-1"))
			Expect(err).To(BeNil())
			Expect(records).To(HaveLen(2))
		})

		It("sums only the caller's org", func() {
			tx := gormdb.Exec(fmt.Sprintf(insertOrganizationStm, "org-2", "org-2", 100000))
			Expect(tx.Error).To(BeNil())

			_, err := s.Usage().Create(context.TODO(), model.UsageRecord{OrgID: "org-1", BilledTokens: 100})
			Expect(err).To(BeNil())
			_, err = s.Usage().Create(context.TODO(), model.UsageRecord{OrgID: "org-2", BilledTokens: 900})
			Expect(err).To(BeNil())

			total, err := s.Usage().SumBilledSince(context.TODO(), "org-1", time.Now().Add(-time.Hour))
			Expect(err).To(BeNil())
			Expect(total).To(Equal(int64(100)))
		})
	})

	Context("organization counters", func() {
		It("consume tokens only grows inside a cycle", func() {
			Expect(s.Organization().ConsumeTokens(context.TODO(), "org-1", 150)).To(BeNil())
			Expect(s.Organization().ConsumeTokens(context.TODO(), "org-1", 50)).To(BeNil())

			org, err := s.Organization().Get(context.TODO(), "org-1")
			Expect(err).To(BeNil())
			Expect(org.MonthlyTokensUsed).To(Equal(int64(200)))
		})

		It("reset billing cycle zeroes the counter", func() {
			Expect(s.Organization().ConsumeTokens(context.TODO(), "org-1", 150)).To(BeNil())

			cycleStart := time.Now()
			Expect(s.Organization().ResetBillingCycle(context.TODO(), "org-1", cycleStart)).To(BeNil())

			org, err := s.Organization().Get(context.TODO(), "org-1")
			Expect(err).To(BeNil())
			Expect(org.MonthlyTokensUsed).To(Equal(int64(0)))
		})

		It("consume tokens for an unknown org -- not found", func() {
			err := s.Organization().ConsumeTokens(context.TODO(), "missing", 10)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("purchases", func() {
		It("the idempotency key is unique", func() {
			_, err := s.Purchase().Create(context.TODO(), model.TokenPurchase{
				OrgID:          "org-1",
				IdempotencyKey: "key-1",
				Tokens:         5000,
				Status:         model.PurchaseStatusPending,
			})
			Expect(err).To(BeNil())

			_, err = s.Purchase().Create(context.TODO(), model.TokenPurchase{
				OrgID:          "org-1",
				IdempotencyKey: "key-1",
				Tokens:         5000,
				Status:         model.PurchaseStatusPending,
			})
			Expect(err).To(MatchError(store.ErrDuplicateKey))

			existing, err := s.Purchase().GetByIdempotencyKey(context.TODO(), "key-1")
			Expect(err).To(BeNil())
			Expect(existing.Tokens).To(Equal(int64(5000)))
		})

		It("complete transitions pending to completed exactly once", func() {
			purchase, err := s.Purchase().Create(context.TODO(), model.TokenPurchase{
				ID:             uuid.New(),
				OrgID:          "org-1",
				IdempotencyKey: "key-1",
				Tokens:         5000,
				Status:         model.PurchaseStatusPending,
			})
			Expect(err).To(BeNil())

			Expect(s.Purchase().Complete(context.TODO(), purchase.ID)).To(BeNil())

			completed, err := s.Purchase().Get(context.TODO(), purchase.ID)
			Expect(err).To(BeNil())
			Expect(completed.Status).To(Equal(model.PurchaseStatusCompleted))
			Expect(completed.CompletedAt).ToNot(BeNil())

			err = s.Purchase().Complete(context.TODO(), purchase.ID)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})
})
