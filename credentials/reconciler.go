package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-auth-lifecycle/internal/errors"
	"github.com/jrsteele09/go-auth-lifecycle/internal/metrics"
	"github.com/jrsteele09/go-auth-lifecycle/internal/utils"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultUpsertTimeout = 10 * time.Second

// SyncAction is the outcome of syncing one descriptor.
type SyncAction string

const (
	ActionCreated SyncAction = "created"
	ActionUpdated SyncAction = "updated"
	ActionFailed  SyncAction = "failed"
)

// SyncOutcome reports what happened to one descriptor during Sync.
type SyncOutcome struct {
	ExternalID string     `json:"external_id"`
	Action     SyncAction `json:"action"`
	Err        error      `json:"-"`
}

// Reconciler matches raw credential values against the issuer's descriptors and
// keeps the local mirror up to date.
type Reconciler struct {
	repo          Repo
	sealer        Sealer
	upsertTimeout time.Duration
	nowTime       func() time.Time
	logger        zerolog.Logger
	metrics       *metrics.Metrics
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		r.nowTime = nowFunc
	}
}

// WithUpsertTimeout bounds the best-effort mirror write done by Verify.
func WithUpsertTimeout(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		r.upsertTimeout = d
	}
}

func WithLogger(l zerolog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		r.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) ReconcilerOption {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// NewReconciler creates a Reconciler over the mirror repo. Raw values are sealed
// with sealer before they are stored.
func NewReconciler(repo Repo, sealer Sealer, options ...ReconcilerOption) (*Reconciler, error) {
	if repo == nil {
		return nil, errors.New("[NewReconciler] repo is required")
	}
	if sealer == nil {
		return nil, errors.New("[NewReconciler] sealer is required")
	}
	r := &Reconciler{
		repo:          repo,
		sealer:        sealer,
		upsertTimeout: DefaultUpsertTimeout,
		nowTime:       time.Now,
		logger:        log.Logger,
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// Verify identifies the credential raw belongs to, first among the remote descriptors
// and then in the local mirror. On a match the mirror is updated on a best-effort
// basis; that write never fails Verify.
func (r *Reconciler) Verify(ctx context.Context, raw string, remote []Descriptor) (*Record, error) {
	var (
		rec  *Record
		kind MatchKind
	)

	if d, k, ok := MatchRemote(raw, remote); ok {
		rec, kind = recordFromDescriptor(d), k
		existing, err := r.repo.Get(ctx, d.ExternalID)
		if err != nil {
			r.logger.Warn().Err(err).Str("external_id", d.ExternalID).Msg("mirror record unavailable; answering from the descriptor")
		} else if existing != nil {
			rec = merge(existing, rec)
		}
	} else {
		local, err := r.repo.List(ctx)
		if err != nil {
			r.logger.Warn().Err(err).Msg("local credential mirror unavailable; treating as no match")
		}
		if l, k, ok := MatchLocal(raw, local, r.sealer.Unseal); ok {
			cp := *l
			rec, kind = &cp, k
		}
	}

	if rec == nil {
		r.metrics.CredentialVerified(string(MatchNone))
		r.logger.Info().Str("hint", utils.Redact(raw, hintSuffixLen)).Int("remote_candidates", len(remote)).Msg("no matching credential")
		return nil, fmt.Errorf("[Reconciler.Verify] %w", errors.ErrNoMatchingCredential)
	}
	r.metrics.CredentialVerified(string(kind))

	rec.LastUsedAt = utils.TimePtrUTC(r.nowTime())
	if kind != MatchLocalExact {
		sealed, err := r.sealer.Seal(raw)
		if err != nil {
			r.logger.Warn().Err(err).Str("external_id", rec.ExternalID).Msg("could not seal credential value")
		} else {
			rec.SealedValue = sealed
		}
	}

	r.logger.Info().Str("external_id", rec.ExternalID).Str("match", string(kind)).Msg("credential verified")
	r.upsertBestEffort(ctx, rec)
	return rec, nil
}

// VerifyWith fetches the descriptors from lister and verifies raw against them.
// A listing failure degrades to a local-only lookup.
func (r *Reconciler) VerifyWith(ctx context.Context, raw string, lister Lister) (*Record, error) {
	descriptors, err := lister.List(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("remote credential listing failed; using local mirror only")
		descriptors = nil
	}
	return r.Verify(ctx, raw, descriptors)
}

// Sync mirrors every descriptor. Each item succeeds or fails on its own; the report
// lists one outcome per descriptor in input order.
func (r *Reconciler) Sync(ctx context.Context, descriptors []Descriptor) []SyncOutcome {
	outcomes := make([]SyncOutcome, 0, len(descriptors))
	now := r.nowTime()

	for _, d := range descriptors {
		outcome := SyncOutcome{ExternalID: d.ExternalID}

		if d.ExternalID == "" {
			outcome.Action = ActionFailed
			outcome.Err = errors.New("descriptor has no id")
		} else {
			rec := recordFromDescriptor(d)
			rec.LastSyncedAt = utils.TimePtrUTC(now)

			itemCtx, cancel := context.WithTimeout(ctx, r.upsertTimeout)
			created, err := r.upsert(itemCtx, rec)
			cancel()

			switch {
			case err != nil:
				outcome.Action = ActionFailed
				outcome.Err = err
				r.logger.Err(err).Str("external_id", d.ExternalID).Msg("credential sync item failed")
			case created:
				outcome.Action = ActionCreated
			default:
				outcome.Action = ActionUpdated
			}
		}

		r.metrics.CredentialSynced(string(outcome.Action))
		outcomes = append(outcomes, outcome)
	}

	r.logger.Info().Int("items", len(outcomes)).Msg("credential sync complete")
	return outcomes
}

// SyncFrom fetches the descriptors from lister and syncs them.
func (r *Reconciler) SyncFrom(ctx context.Context, lister Lister) ([]SyncOutcome, error) {
	descriptors, err := lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("[Reconciler.SyncFrom] list: %w", err)
	}
	return r.Sync(ctx, descriptors), nil
}

// Reveal returns the raw value of a mirrored credential.
func (r *Reconciler) Reveal(ctx context.Context, externalID string) (string, error) {
	rec, err := r.repo.Get(ctx, externalID)
	if err != nil {
		return "", errors.Mark(errors.ErrStorage, fmt.Errorf("[Reconciler.Reveal] get: %w", err))
	}
	if rec == nil || !rec.HasValue() {
		return "", fmt.Errorf("[Reconciler.Reveal] %s has no stored value: %w", externalID, errors.ErrNoMatchingCredential)
	}
	value, err := r.sealer.Unseal(rec.SealedValue)
	if err != nil {
		return "", fmt.Errorf("[Reconciler.Reveal] %w", err)
	}
	return value, nil
}

// Records lists the mirror.
func (r *Reconciler) Records(ctx context.Context) ([]*Record, error) {
	recs, err := r.repo.List(ctx)
	if err != nil {
		return nil, errors.Mark(errors.ErrStorage, fmt.Errorf("[Reconciler.Records] list: %w", err))
	}
	return recs, nil
}

// upsertBestEffort races the mirror write against the upsert timeout. The write is
// abandoned, not cancelled, when the timer or the caller wins.
func (r *Reconciler) upsertBestEffort(ctx context.Context, rec *Record) {
	cp := *rec
	done := make(chan error, 1)
	go func() {
		_, err := r.upsert(context.WithoutCancel(ctx), &cp)
		done <- err
	}()

	timer := time.NewTimer(r.upsertTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			r.metrics.MirrorWriteFailed()
			r.logger.Warn().Err(err).Str("external_id", rec.ExternalID).Msg("credential mirror update failed")
		}
	case <-timer.C:
		r.metrics.MirrorWriteFailed()
		r.logger.Warn().Str("external_id", rec.ExternalID).Dur("timeout", r.upsertTimeout).Msg("credential mirror update timed out")
	case <-ctx.Done():
		r.logger.Debug().Str("external_id", rec.ExternalID).Msg("caller gone; credential mirror update continues in background")
	}
}

func (r *Reconciler) upsert(ctx context.Context, rec *Record) (bool, error) {
	created, err := r.repo.Upsert(ctx, rec, merge)
	if err != nil {
		return false, errors.Mark(errors.ErrStorage, fmt.Errorf("[Reconciler.upsert] %w", err))
	}
	return created, nil
}
