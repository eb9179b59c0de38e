package service_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/draftforge/draftforge/internal/config"
	"github.com/draftforge/draftforge/internal/jobs"
	"github.com/draftforge/draftforge/internal/service"
	"github.com/draftforge/draftforge/internal/store"
	"github.com/draftforge/draftforge/internal/store/model"
)

const (
	insertOrganizationStm = "INSERT INTO organizations (id, name, tier, monthly_token_limit) VALUES ('%s', '%s', 'free', %d);"
	insertProjectStm      = "INSERT INTO projects (id, name, org_id) VALUES ('%s', '%s', '%s');"
)

var _ = Describe("job service", Ordered, func() {
	var (
		s         store.Store
		gormdb    *gorm.DB
		srv       *service.JobService
		projectID uuid.UUID
	)

	BeforeAll(func() {
		db, err := store.InitDB(config.NewDefault())
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration()).To(BeNil())
	})

	BeforeEach(func() {
		srv = service.NewJobService(s)

		tx := gormdb.Exec(fmt.Sprintf(insertOrganizationStm, "org-1", "org-1", 100000))
		Expect(tx.Error).To(BeNil())
		projectID = uuid.New()
		tx = gormdb.Exec(fmt.Sprintf(insertProjectStm, projectID, "project-1", "org-1"))
		Expect(tx.Error).To(BeNil())
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM jobs;")
		gormdb.Exec("DELETE FROM output_versions;")
		gormdb.Exec("DELETE FROM outputs;")
		gormdb.Exec("DELETE FROM projects;")
		gormdb.Exec("DELETE FROM organizations;")
	})

	AfterAll(func() {
		s.Close()
	})

	Context("stage enqueue", func() {
		It("successfully enqueues a stage generation", func() {
			job, err := srv.Enqueue(context.TODO(), "org-1", projectID, jobs.StageGeneratePayload{
				Stage:  "outline",
				Preset: "balanced",
			})
			Expect(err).To(BeNil())
			Expect(job.Type).To(Equal(model.JobTypeStageGenerate))
			Expect(job.Status).To(Equal(model.JobStatusQueued))
		})

		It("counts admitted jobs", func() {
			before := jobsQueuedCount(model.JobTypeStageGenerate)

			_, err := srv.Enqueue(context.TODO(), "org-1", projectID, jobs.StageGeneratePayload{
				Stage:  "outline",
				Preset: "balanced",
			})
			Expect(err).To(BeNil())
			Expect(jobsQueuedCount(model.JobTypeStageGenerate)).To(Equal(before + 1))
		})

		It("is idempotent while a job is active", func() {
			first, err := srv.Enqueue(context.TODO(), "org-1", projectID, jobs.StageGeneratePayload{
				Stage:  "outline",
				Preset: "balanced",
			})
			Expect(err).To(BeNil())

			second, err := srv.Enqueue(context.TODO(), "org-1", projectID, jobs.StageGeneratePayload{
				Stage:  "outline",
				Preset: "balanced",
			})
			Expect(err).To(BeNil())
			Expect(second.ID).To(Equal(first.ID))

			count := 0
			err = gormdb.Raw("SELECT COUNT(*) FROM jobs;").Scan(&count).Error
			Expect(err).To(BeNil())
			Expect(count).To(Equal(1))
		})

		It("becomes a regeneration once the stage has a version", func() {
			output, err := s.Output().Create(context.TODO(), model.Output{
				ID:        uuid.New(),
				ProjectID: projectID,
				Stage:     "outline",
			})
			Expect(err).To(BeNil())
			_, err = s.Output().AddVersion(context.TODO(), output.ID, model.OutputVersion{
				Content: []byte(`{}`),
				Type:    model.VersionTypeGenerated,
				Status:  model.VersionStatusGenerated,
			})
			Expect(err).To(BeNil())

			job, err := srv.Enqueue(context.TODO(), "org-1", projectID, jobs.StageGeneratePayload{
				Stage:  "outline",
				Preset: "balanced",
			})
			Expect(err).To(BeNil())
			Expect(job.Type).To(Equal(model.JobTypeStageRegenerate))
		})

		It("rejects an unknown preset", func() {
			_, err := srv.Enqueue(context.TODO(), "org-1", projectID, jobs.StageGeneratePayload{
				Stage:  "outline",
				Preset: "turbo",
			})

			var validationErr *service.ErrValidation
			Expect(errors.As(err, &validationErr)).To(BeTrue())
		})

		It("a project of another org is reported as not found", func() {
			_, err := srv.Enqueue(context.TODO(), "org-2", projectID, jobs.StageGeneratePayload{
				Stage:  "outline",
				Preset: "balanced",
			})

			var notFoundErr *service.ErrResourceNotFound
			Expect(errors.As(err, &notFoundErr)).To(BeTrue())
		})
	})

	Context("document enqueue", func() {
		It("successfully enqueues a document generation", func() {
			job, err := srv.EnqueueDocument(context.TODO(), "org-1", projectID, jobs.DocumentGeneratePayload{
				Preset: "quality",
			})
			Expect(err).To(BeNil())
			Expect(job.Type).To(Equal(model.JobTypeDocumentGenerate))
		})

		It("an active document job blocks a second enqueue", func() {
			_, err := srv.EnqueueDocument(context.TODO(), "org-1", projectID, jobs.DocumentGeneratePayload{
				Preset: "balanced",
			})
			Expect(err).To(BeNil())

			_, err = srv.EnqueueDocument(context.TODO(), "org-1", projectID, jobs.DocumentGeneratePayload{
				Preset: "balanced",
			})

			var inProgressErr *service.ErrGenerationInProgress
			Expect(errors.As(err, &inProgressErr)).To(BeTrue())
		})

		It("the rolling window rejects the fourth generation", func() {
			for i := 0; i < 3; i++ {
				job, err := srv.EnqueueDocument(context.TODO(), "org-1", projectID, jobs.DocumentGeneratePayload{
					Preset: "balanced",
				})
				Expect(err).To(BeNil())
				_, err = s.Job().Claim(context.TODO(), job.ID, "worker-1")
				Expect(err).To(BeNil())
				Expect(s.Job().Complete(context.TODO(), job.ID, nil)).To(BeNil())
			}

			_, err := srv.EnqueueDocument(context.TODO(), "org-1", projectID, jobs.DocumentGeneratePayload{
				Preset: "balanced",
			})

			var rateErr *service.ErrRateLimited
			Expect(errors.As(err, &rateErr)).To(BeTrue())
			Expect(rateErr.RetryAfter).To(Equal(service.DefaultRateWindow))
		})

		It("old generations roll out of the window", func() {
			srv = service.NewJobService(s, service.WithRateLimit(1, time.Hour))

			job, err := srv.EnqueueDocument(context.TODO(), "org-1", projectID, jobs.DocumentGeneratePayload{
				Preset: "balanced",
			})
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), job.ID, "worker-1")
			Expect(err).To(BeNil())
			Expect(s.Job().Complete(context.TODO(), job.ID, nil)).To(BeNil())

			gormdb.Exec("UPDATE jobs SET created_at = created_at - interval '2 hours' WHERE id = ?", job.ID)

			_, err = srv.EnqueueDocument(context.TODO(), "org-1", projectID, jobs.DocumentGeneratePayload{
				Preset: "balanced",
			})
			Expect(err).To(BeNil())
		})

		It("failed generations count against the window", func() {
			srv = service.NewJobService(s, service.WithRateLimit(1, time.Hour))

			job, err := srv.EnqueueDocument(context.TODO(), "org-1", projectID, jobs.DocumentGeneratePayload{
				Preset: "balanced",
			})
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), job.ID, "worker-1")
			Expect(err).To(BeNil())
			Expect(s.Job().Fail(context.TODO(), job.ID, "boom")).To(BeNil())

			_, err = srv.EnqueueDocument(context.TODO(), "org-1", projectID, jobs.DocumentGeneratePayload{
				Preset: "balanced",
			})

			var rateErr *service.ErrRateLimited
			Expect(errors.As(err, &rateErr)).To(BeTrue())
		})
	})

	Context("status", func() {
		It("reports status, progress and message from one snapshot", func() {
			job, err := srv.Enqueue(context.TODO(), "org-1", projectID, jobs.StageGeneratePayload{
				Stage:  "outline",
				Preset: "balanced",
			})
			Expect(err).To(BeNil())

			_, err = s.Job().Claim(context.TODO(), job.ID, "worker-1")
			Expect(err).To(BeNil())
			err = s.Job().UpdateProgress(context.TODO(), job.ID, 46, []byte(`{"message":"Generating methodology (3/8)"}`))
			Expect(err).To(BeNil())

			status, err := srv.GetStatus(context.TODO(), "org-1", job.ID)
			Expect(err).To(BeNil())
			Expect(status.Status).To(Equal(model.JobStatusProcessing))
			Expect(status.Progress).To(Equal(46))
			Expect(status.Message).To(Equal("Generating methodology (3/8)"))
		})

		It("a job of another org is reported as not found", func() {
			job, err := srv.Enqueue(context.TODO(), "org-1", projectID, jobs.StageGeneratePayload{
				Stage:  "outline",
				Preset: "balanced",
			})
			Expect(err).To(BeNil())

			_, err = srv.GetStatus(context.TODO(), "org-2", job.ID)

			var notFoundErr *service.ErrResourceNotFound
			Expect(errors.As(err, &notFoundErr)).To(BeTrue())
		})
	})

	Context("retry and force fail", func() {
		It("retry requeues a failed job", func() {
			job, err := srv.Enqueue(context.TODO(), "org-1", projectID, jobs.StageGeneratePayload{
				Stage:  "outline",
				Preset: "balanced",
			})
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), job.ID, "worker-1")
			Expect(err).To(BeNil())
			Expect(s.Job().Fail(context.TODO(), job.ID, "boom")).To(BeNil())

			retried, err := srv.Retry(context.TODO(), "org-1", job.ID)
			Expect(err).To(BeNil())
			Expect(retried.Status).To(Equal(model.JobStatusQueued))
			Expect(retried.Error).To(BeNil())
		})

		It("retry of a queued job is an invalid transition", func() {
			job, err := srv.Enqueue(context.TODO(), "org-1", projectID, jobs.StageGeneratePayload{
				Stage:  "outline",
				Preset: "balanced",
			})
			Expect(err).To(BeNil())

			_, err = srv.Retry(context.TODO(), "org-1", job.ID)

			var transitionErr *service.ErrInvalidJobTransition
			Expect(errors.As(err, &transitionErr)).To(BeTrue())
		})

		It("force fail never touches a done job", func() {
			job, err := srv.Enqueue(context.TODO(), "org-1", projectID, jobs.StageGeneratePayload{
				Stage:  "outline",
				Preset: "balanced",
			})
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), job.ID, "worker-1")
			Expect(err).To(BeNil())
			Expect(s.Job().Complete(context.TODO(), job.ID, nil)).To(BeNil())

			_, err = srv.ForceFail(context.TODO(), "org-1", job.ID)

			var transitionErr *service.ErrInvalidJobTransition
			Expect(errors.As(err, &transitionErr)).To(BeTrue())
		})
	})
})

func jobsQueuedCount(jobType string) float64 {
	families, err := prometheus.DefaultGatherer.Gather()
	Expect(err).To(BeNil())
	for _, family := range families {
		if family.GetName() != "draftforge_jobs_queued_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "type" && label.GetValue() == jobType {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
