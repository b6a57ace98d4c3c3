package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/k11v/forge/internal/build")

// Service decides whether a requested build reuses an equivalent build
// and tracks every record to completion.
// It is the only writer of Record.Build.
type Service struct {
	Config   *Config          // required
	DB       Database         // required
	Storage  Storage          // required by infra file methods
	Executor Executor         // required
	Notifier Notifier         // required
	Log      *slog.Logger     // default: slog.Default()
	Now      func() time.Time // default: time.Now
}

func (s *Service) log() *slog.Logger {
	l := s.Log
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", "build")
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) config() *Config {
	if s.Config == nil {
		return &Config{}
	}
	return s.Config
}

type CreateRecordParams struct {
	Owner           string
	InfraFileSetID  uuid.UUID
	AppCodeVersions []AppCodeVersion
	Advanced        *bool
}

func (s *Service) CreateRecord(ctx context.Context, params *CreateRecordParams) (*Record, error) {
	if params.Owner == "" {
		return nil, fmt.Errorf("build.Service: empty owner: %w", ErrInvalid)
	}
	if err := validateAppCodeVersions(params.AppCodeVersions); err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}

	set, err := s.DB.GetInfraFileSet(ctx, &DatabaseGetInfraFileSetParams{ID: params.InfraFileSetID})
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}
	if set.Owner != params.Owner {
		return nil, fmt.Errorf("build.Service: infra file set: %w", ErrAccessDenied)
	}

	acvs := params.AppCodeVersions
	if acvs == nil {
		acvs = []AppCodeVersion{}
	}
	r, err := s.DB.CreateRecord(ctx, &DatabaseCreateRecordParams{
		Owner:           params.Owner,
		InfraFileSetID:  params.InfraFileSetID,
		AppCodeVersions: acvs,
		Advanced:        params.Advanced,
	})
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}

	return r, nil
}

type GetRecordParams struct {
	ID uuid.UUID
}

func (s *Service) GetRecord(ctx context.Context, params *GetRecordParams) (*Record, error) {
	r, err := s.DB.GetRecord(ctx, &DatabaseGetRecordParams{ID: params.ID})
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}
	return r, nil
}

type RequestBuildParams struct {
	RecordID    uuid.UUID
	TriggeredBy string
	Message     string
	NoCache     bool // skips deduplication, the hash is still recorded
}

type RequestBuildResult struct {
	Record    *Record
	Duplicate *Record // nil when Record drives its own physical build
}

// RequestBuild collapses the record's infra, claims the build and either
// reuses an equivalent build or submits a new one to the executor.
func (s *Service) RequestBuild(ctx context.Context, params *RequestBuildParams) (result *RequestBuildResult, err error) {
	ctx, span := tracer.Start(ctx, "build.Service.RequestBuild", trace.WithAttributes(
		attribute.String("record_id", params.RecordID.String()),
		attribute.Bool("no_cache", params.NoCache),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := s.log().With("record_id", params.RecordID)
	log.Info("requesting build", "no_cache", params.NoCache)

	r, err := s.DB.GetRecord(ctx, &DatabaseGetRecordParams{ID: params.RecordID})
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}
	if r.Started() {
		return nil, fmt.Errorf("build.Service: %w", ErrAlreadyStarted)
	}

	r, err = s.collapseInfra(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}

	r, err = s.ReportBuildStarted(ctx, &ReportBuildStartedParams{
		RecordID:    r.ID,
		TriggeredBy: params.TriggeredBy,
		Message:     params.Message,
	})
	if err != nil {
		return nil, err
	}

	var dupe *Record
	if params.NoCache {
		r = s.hash(ctx, r)
	} else {
		r, dupe = s.match(ctx, r)
	}

	if dupe != nil {
		span.SetAttributes(attribute.String("duplicate_id", dupe.ID.String()), attribute.Bool("duplicate_completed", dupe.Completed()))
		log.Info("deduplicated build", "duplicate_id", dupe.ID, "duplicate_completed", dupe.Completed())

		deduped, err := s.copyAndReconcile(ctx, r, dupe)
		if err != nil {
			return nil, fmt.Errorf("build.Service: %w", err)
		}
		return &RequestBuildResult{Record: deduped, Duplicate: dupe}, nil
	}

	span.SetAttributes(attribute.String("build_id", r.Build.ID.String()))
	log.Info("submitting build", "build_id", r.Build.ID)

	err = s.Executor.SubmitBuild(ctx, &Job{
		BuildID:         r.Build.ID,
		RecordID:        r.ID,
		Owner:           r.Owner,
		InfraFileSetID:  r.InfraFileSetID,
		Hash:            r.Build.Hash,
		AppCodeVersions: r.AppCodeVersions,
		NoCache:         params.NoCache,
	})
	if err != nil {
		// Nothing will ever complete this build, so fail it for the record and its waiters.
		submitErr := err
		_, err = s.completeBuild(ctx, &DatabaseCompleteBuildParams{
			BuildID:     r.Build.ID,
			CompletedAt: s.now(),
			Failed:      true,
			Error:       &BuildError{Message: fmt.Sprintf("submit build: %v", submitErr)},
		})
		return nil, fmt.Errorf("build.Service: %w", errors.Join(submitErr, err))
	}

	return &RequestBuildResult{Record: r}, nil
}

// notify delivers an event. Delivery failures don't undo state transitions.
func (s *Service) notify(ctx context.Context, typ EventType, r *Record) {
	err := s.Notifier.Notify(ctx, &Event{Type: typ, Record: r})
	if err != nil {
		s.log().Error("didn't notify", "event", typ, "record_id", r.ID, "error", err)
	}
}
