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

const (
	insertOrganizationStm = "INSERT INTO organizations (id, name, tier, monthly_token_limit) VALUES ('%s', '%s', 'free', %d);"
	insertProjectStm      = "INSERT INTO projects (id, name, org_id) VALUES ('%s', '%s', '%s');"
)

var _ = Describe("job store", Ordered, func() {
	var (
		s         store.Store
		gormdb    *gorm.DB
		projectID uuid.UUID
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
		projectID = uuid.New()
		tx = gormdb.Exec(fmt.Sprintf(insertProjectStm, projectID, "project-1", "org-1"))
		Expect(tx.Error).To(BeNil())
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM jobs;")
		gormdb.Exec("DELETE FROM projects;")
		gormdb.Exec("DELETE FROM organizations;")
	})

	AfterAll(func() {
		s.Close()
	})

	newJob := func(jobType string) model.Job {
		return model.Job{
			ID:        uuid.New(),
			OrgID:     "org-1",
			ProjectID: &projectID,
			Type:      jobType,
			Status:    model.JobStatusQueued,
			Payload:   []byte(`{"version":1}`),
		}
	}

	Context("create and get", func() {
		It("successfully creates a job", func() {
			job, err := s.Job().Create(context.TODO(), newJob(model.JobTypeStageGenerate))
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusQueued))
			Expect(job.Attempts).To(Equal(0))

			found, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(found.ID).To(Equal(job.ID))
		})

		It("get an unknown job -- not found", func() {
			_, err := s.Job().Get(context.TODO(), uuid.New())
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("claim", func() {
		It("transitions queued to processing and stamps the claim", func() {
			job, err := s.Job().Create(context.TODO(), newJob(model.JobTypeStageGenerate))
			Expect(err).To(BeNil())

			claimed, err := s.Job().Claim(context.TODO(), job.ID, "worker-1")
			Expect(err).To(BeNil())
			Expect(claimed.Status).To(Equal(model.JobStatusProcessing))
			Expect(claimed.Attempts).To(Equal(1))
			Expect(claimed.StartedAt).ToNot(BeNil())
			Expect(claimed.LockedAt).ToNot(BeNil())
			Expect(*claimed.LockedBy).To(Equal("worker-1"))
		})

		It("a second claimant loses the race", func() {
			job, err := s.Job().Create(context.TODO(), newJob(model.JobTypeStageGenerate))
			Expect(err).To(BeNil())

			_, err = s.Job().Claim(context.TODO(), job.ID, "worker-1")
			Expect(err).To(BeNil())

			_, err = s.Job().Claim(context.TODO(), job.ID, "worker-2")
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("progress and completion", func() {
		It("updates progress and result only while processing", func() {
			job, err := s.Job().Create(context.TODO(), newJob(model.JobTypeStageGenerate))
			Expect(err).To(BeNil())

			err = s.Job().UpdateProgress(context.TODO(), job.ID, 20, []byte(`{"message":"working"}`))
			Expect(err).To(MatchError(store.ErrRecordNotFound))

			_, err = s.Job().Claim(context.TODO(), job.ID, "worker-1")
			Expect(err).To(BeNil())

			err = s.Job().UpdateProgress(context.TODO(), job.ID, 20, []byte(`{"message":"working"}`))
			Expect(err).To(BeNil())

			found, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(found.Progress).To(Equal(20))
			Expect(found.Result).ToNot(BeEmpty())
		})

		It("complete finishes the job at 100 percent", func() {
			job, err := s.Job().Create(context.TODO(), newJob(model.JobTypeStageGenerate))
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), job.ID, "worker-1")
			Expect(err).To(BeNil())

			err = s.Job().Complete(context.TODO(), job.ID, []byte(`{"message":"done"}`))
			Expect(err).To(BeNil())

			found, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(found.Status).To(Equal(model.JobStatusDone))
			Expect(found.Progress).To(Equal(100))
			Expect(found.Error).To(BeNil())
			Expect(found.CompletedAt).ToNot(BeNil())
		})

		It("fail records the error message", func() {
			job, err := s.Job().Create(context.TODO(), newJob(model.JobTypeStageGenerate))
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), job.ID, "worker-1")
			Expect(err).To(BeNil())

			err = s.Job().Fail(context.TODO(), job.ID, "provider exploded")
			Expect(err).To(BeNil())

			found, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(found.Status).To(Equal(model.JobStatusFailed))
			Expect(*found.Error).To(Equal("provider exploded"))
		})

		It("a done job cannot be failed", func() {
			job, err := s.Job().Create(context.TODO(), newJob(model.JobTypeStageGenerate))
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), job.ID, "worker-1")
			Expect(err).To(BeNil())
			Expect(s.Job().Complete(context.TODO(), job.ID, nil)).To(BeNil())

			err = s.Job().Fail(context.TODO(), job.ID, "too late")
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("retry", func() {
		It("resets a failed job back to queued", func() {
			job, err := s.Job().Create(context.TODO(), newJob(model.JobTypeStageGenerate))
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), job.ID, "worker-1")
			Expect(err).To(BeNil())
			Expect(s.Job().Fail(context.TODO(), job.ID, "provider exploded")).To(BeNil())

			retried, err := s.Job().Retry(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(retried.Status).To(Equal(model.JobStatusQueued))
			Expect(retried.Attempts).To(Equal(0))
			Expect(retried.Progress).To(Equal(0))
			Expect(retried.Error).To(BeNil())
			Expect(retried.StartedAt).To(BeNil())
			Expect(retried.LockedAt).To(BeNil())
			Expect(retried.LockedBy).To(BeNil())
		})

		It("only failed jobs are eligible", func() {
			job, err := s.Job().Create(context.TODO(), newJob(model.JobTypeStageGenerate))
			Expect(err).To(BeNil())

			_, err = s.Job().Retry(context.TODO(), job.ID)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("queue scan", func() {
		It("next queued returns the oldest queued job", func() {
			first, err := s.Job().Create(context.TODO(), newJob(model.JobTypeStageGenerate))
			Expect(err).To(BeNil())
			_, err = s.Job().Create(context.TODO(), newJob(model.JobTypeDocumentGenerate))
			Expect(err).To(BeNil())

			gormdb.Exec("UPDATE jobs SET created_at = created_at - interval '1 hour' WHERE id = ?", first.ID)

			next, err := s.Job().NextQueued(context.TODO())
			Expect(err).To(BeNil())
			Expect(next.ID).To(Equal(first.ID))
		})

		It("first active finds queued and processing jobs only", func() {
			job, err := s.Job().Create(context.TODO(), newJob(model.JobTypeDocumentGenerate))
			Expect(err).To(BeNil())

			active, err := s.Job().FirstActive(context.TODO(), "org-1", projectID, model.JobTypeDocumentGenerate)
			Expect(err).To(BeNil())
			Expect(active.ID).To(Equal(job.ID))

			_, err = s.Job().Claim(context.TODO(), job.ID, "worker-1")
			Expect(err).To(BeNil())
			Expect(s.Job().Complete(context.TODO(), job.ID, nil)).To(BeNil())

			_, err = s.Job().FirstActive(context.TODO(), "org-1", projectID, model.JobTypeDocumentGenerate)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("rate window", func() {
		It("counts finished jobs inside the window", func() {
			for i := 0; i < 2; i++ {
				job, err := s.Job().Create(context.TODO(), newJob(model.JobTypeDocumentGenerate))
				Expect(err).To(BeNil())
				_, err = s.Job().Claim(context.TODO(), job.ID, "worker-1")
				Expect(err).To(BeNil())
				Expect(s.Job().Complete(context.TODO(), job.ID, nil)).To(BeNil())
			}

			failed, err := s.Job().Create(context.TODO(), newJob(model.JobTypeDocumentGenerate))
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), failed.ID, "worker-1")
			Expect(err).To(BeNil())
			Expect(s.Job().Fail(context.TODO(), failed.ID, "boom")).To(BeNil())

			count, err := s.Job().CountFinishedSince(context.TODO(), "org-1", projectID, model.JobTypeDocumentGenerate, time.Now().Add(-time.Hour))
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(3)))
		})

		It("jobs created before the cutoff are not counted", func() {
			job, err := s.Job().Create(context.TODO(), newJob(model.JobTypeDocumentGenerate))
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), job.ID, "worker-1")
			Expect(err).To(BeNil())
			Expect(s.Job().Complete(context.TODO(), job.ID, nil)).To(BeNil())

			gormdb.Exec("UPDATE jobs SET created_at = created_at - interval '2 hours' WHERE id = ?", job.ID)

			count, err := s.Job().CountFinishedSince(context.TODO(), "org-1", projectID, model.JobTypeDocumentGenerate, time.Now().Add(-time.Hour))
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(0)))
		})

		It("queued jobs do not count against the window", func() {
			_, err := s.Job().Create(context.TODO(), newJob(model.JobTypeDocumentGenerate))
			Expect(err).To(BeNil())

			count, err := s.Job().CountFinishedSince(context.TODO(), "org-1", projectID, model.JobTypeDocumentGenerate, time.Now().Add(-time.Hour))
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(0)))
		})
	})

	Context("list", func() {
		It("filters by status", func() {
			_, err := s.Job().Create(context.TODO(), newJob(model.JobTypeStageGenerate))
			Expect(err).To(BeNil())
			job, err := s.Job().Create(context.TODO(), newJob(model.JobTypeStageGenerate))
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), job.ID, "worker-1")
			Expect(err).To(BeNil())

			jobs, err := s.Job().List(context.TODO(), store.NewJobQueryFilter().ByOrgID("org-1").ByStatus(model.JobStatusQueued))
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(1))
		})
	})
})
