// Package session keeps one claim controller per browser session, caches
// live controllers in memory and writes every committed snapshot through to
// the claim and image stores so a session survives process restarts.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fpang/vehicle-claim-estimator/internal/claim"
	"github.com/fpang/vehicle-claim-estimator/internal/events"
	"github.com/fpang/vehicle-claim-estimator/internal/filehandler"
	"github.com/fpang/vehicle-claim-estimator/internal/metrics"
	"github.com/fpang/vehicle-claim-estimator/internal/store"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotFound is returned for unknown or expired sessions.
	ErrNotFound = errors.New("claim session not found")
	// ErrInvalidID is returned for session IDs that are not UUIDs.
	ErrInvalidID = errors.New("invalid claim session id")
)

// persistTimeout bounds one write-through to the stores.
const persistTimeout = 10 * time.Second

// Options configures a Manager. Analyzer is required; everything else has a
// working default.
type Options struct {
	Analyzer claim.Analyzer
	Decoder  claim.Decoder

	Claims    store.ClaimStore
	Images    store.ImageStore
	Publisher events.Publisher

	TTL             time.Duration
	MaxSessions     int
	AnalysisTimeout time.Duration
	CompletedDelay  time.Duration
}

// Manager owns every live claim session.
type Manager struct {
	opts  Options
	cache *expirable.LRU[string, *entry]

	// restoreMu serializes cache misses so a session is restored once.
	restoreMu sync.Mutex
}

type entry struct {
	id        string
	ctrl      *claim.Controller
	createdAt int64

	mu       sync.Mutex
	imageKey string
	image    *filehandler.Payload
}

// NewManager creates a Manager. Missing stores default to in-memory ones.
func NewManager(opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = store.SessionTTL
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 1000
	}
	if opts.Claims == nil {
		opts.Claims = store.NewMemoryStore(opts.TTL)
	}
	if opts.Images == nil {
		opts.Images = store.NewMemoryImageStore()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.LogPublisher{}
	}

	m := &Manager{opts: opts}
	m.cache = expirable.NewLRU[string, *entry](opts.MaxSessions, func(id string, e *entry) {
		e.ctrl.Close()
		log.Debug().Str("claim", id).Msg("Claim session evicted from cache")
	}, opts.TTL)
	return m
}

// Create starts a new claim session in the initial idle state.
func (m *Manager) Create(ctx context.Context) (string, claim.State, error) {
	id := uuid.NewString()
	e := m.newEntry(id, time.Now().Unix(), nil)

	s := e.ctrl.State()
	if err := m.persist(ctx, e, s, e.ctrl.Generation()); err != nil {
		return "", claim.State{}, err
	}
	m.cache.Add(id, e)

	metrics.Claims().Dimension("Operation", "create").Count("SessionCount").Flush()
	log.Info().Str("claim", id).Msg("Claim session created")
	return id, s, nil
}

// Get returns the current snapshot of a session.
func (m *Manager) Get(ctx context.Context, id string) (claim.State, error) {
	e, err := m.lookup(ctx, id)
	if err != nil {
		return claim.State{}, err
	}
	return e.ctrl.State(), nil
}

// SelectImage decodes r and makes it the session's photo.
func (m *Manager) SelectImage(ctx context.Context, id, filename string, r io.Reader) (claim.State, error) {
	e, err := m.lookup(ctx, id)
	if err != nil {
		return claim.State{}, err
	}
	return e.ctrl.SelectImage(ctx, filename, r), nil
}

// StartAnalysis starts the analysis in the background and returns the
// analyzing snapshot, or the unchanged snapshot if analysis cannot start.
func (m *Manager) StartAnalysis(ctx context.Context, id string) (claim.State, error) {
	e, err := m.lookup(ctx, id)
	if err != nil {
		return claim.State{}, err
	}
	return e.ctrl.StartAnalysisAsync(ctx), nil
}

// Analyze runs the analysis and waits for its outcome.
func (m *Manager) Analyze(ctx context.Context, id string) (claim.State, error) {
	e, err := m.lookup(ctx, id)
	if err != nil {
		return claim.State{}, err
	}
	return e.ctrl.StartAnalysis(ctx), nil
}

// Reset returns the session to the initial idle state.
func (m *Manager) Reset(ctx context.Context, id string) (claim.State, error) {
	e, err := m.lookup(ctx, id)
	if err != nil {
		return claim.State{}, err
	}
	return e.ctrl.Reset(), nil
}

// Image returns the session's photo.
func (m *Manager) Image(ctx context.Context, id string) (*filehandler.Payload, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Image == nil {
		return nil, fmt.Errorf("%w: no photo selected", ErrNotFound)
	}
	return s.Image, nil
}

// Delete discards a session, its record and its photo.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := uuid.Validate(id); err != nil {
		return ErrInvalidID
	}

	var imageKey string
	if e, ok := m.cache.Peek(id); ok {
		e.ctrl.Reset()
		e.mu.Lock()
		imageKey = e.imageKey
		e.mu.Unlock()
		m.cache.Remove(id)
	} else if rec, err := m.opts.Claims.GetClaim(ctx, id); err != nil {
		return fmt.Errorf("load claim %s: %w", id, err)
	} else if rec == nil {
		return ErrNotFound
	} else if rec.Image != nil {
		imageKey = rec.Image.Key
	}

	if imageKey != "" {
		if err := m.opts.Images.DeleteImage(ctx, imageKey); err != nil {
			log.Warn().Err(err).Str("claim", id).Str("key", imageKey).Msg("Failed to delete claim image")
		}
	}
	if err := m.opts.Claims.DeleteClaim(ctx, id); err != nil {
		return fmt.Errorf("delete claim %s: %w", id, err)
	}
	log.Info().Str("claim", id).Msg("Claim session deleted")
	return nil
}

// Len returns the number of cached sessions.
func (m *Manager) Len() int {
	return m.cache.Len()
}

// Close cancels in-flight work of every cached session.
func (m *Manager) Close() {
	m.cache.Purge()
}

func (m *Manager) lookup(ctx context.Context, id string) (*entry, error) {
	if err := uuid.Validate(id); err != nil {
		return nil, ErrInvalidID
	}
	if e, ok := m.cache.Get(id); ok {
		return e, nil
	}

	m.restoreMu.Lock()
	defer m.restoreMu.Unlock()
	if e, ok := m.cache.Get(id); ok {
		return e, nil
	}
	return m.restore(ctx, id)
}

// restore rebuilds a controller from the stores. A snapshot persisted
// mid-analysis comes back as an error the user can retry from.
func (m *Manager) restore(ctx context.Context, id string) (*entry, error) {
	rec, err := m.opts.Claims.GetClaim(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load claim %s: %w", id, err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}

	s := claim.State{
		Status: claim.Status(rec.Status),
		Report: rec.Report,
		Error:  rec.Error,
	}
	var imageKey string
	if rec.Image != nil {
		data, err := m.opts.Images.GetImage(ctx, rec.Image.Key)
		switch {
		case err == nil:
			s.Image = rec.Image.Payload(data)
			imageKey = rec.Image.Key
		case errors.Is(err, store.ErrImageNotFound):
			log.Warn().Str("claim", id).Str("key", rec.Image.Key).Msg("Claim image missing; restoring without photo")
			s = claim.State{Status: claim.StatusError, Error: "The claim photo has expired. Please select it again."}
		default:
			return nil, fmt.Errorf("load claim image %s: %w", id, err)
		}
	}

	e := m.newEntry(id, rec.CreatedAt, &s)
	e.imageKey = imageKey
	e.image = s.Image

	restored := e.ctrl.State()
	if restored.Status != s.Status || restored.Error != s.Error {
		if err := m.persist(ctx, e, restored, e.ctrl.Generation()); err != nil {
			log.Warn().Err(err).Str("claim", id).Msg("Failed to persist restored claim")
		}
	}

	m.cache.Add(id, e)
	log.Info().Str("claim", id).Str("status", string(restored.Status)).Msg("Claim session restored")
	return e, nil
}

func (m *Manager) newEntry(id string, createdAt int64, seed *claim.State) *entry {
	e := &entry{id: id, createdAt: createdAt}
	opts := claim.Options{
		Analyzer:        m.opts.Analyzer,
		Decoder:         m.opts.Decoder,
		AnalysisTimeout: m.opts.AnalysisTimeout,
		CompletedDelay:  m.opts.CompletedDelay,
		Name:            id,
		Observer: func(s claim.State, gen uint64) {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()
			if err := m.persist(ctx, e, s, gen); err != nil {
				log.Error().Err(err).Str("claim", id).Str("status", string(s.Status)).Msg("Failed to persist claim")
				metrics.Claims().Dimension("Operation", "persist").Count("PersistErrors").Flush()
			}
		},
		OnCompleted: func(s claim.State) {
			m.publish(id, s)
		},
	}
	if seed != nil {
		e.ctrl = claim.Restore(opts, *seed)
	} else {
		e.ctrl = claim.NewController(opts)
	}
	return e
}

// persist writes s, committed under gen, through to the stores. The photo is
// uploaded only when it changed and deleted when the snapshot no longer has
// one. It runs on the controller's observer path and must not call into the
// controller.
func (m *Manager) persist(ctx context.Context, e *entry, s claim.State, gen uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := &store.ClaimRecord{
		ID:         e.id,
		Status:     string(s.Status),
		Report:     s.Report,
		Error:      s.Error,
		Generation: gen,
		CreatedAt:  e.createdAt,
		UpdatedAt:  time.Now().Unix(),
	}

	switch {
	case s.Image == nil && e.imageKey != "":
		if err := m.opts.Images.DeleteImage(ctx, e.imageKey); err != nil {
			log.Warn().Err(err).Str("claim", e.id).Msg("Failed to delete superseded claim image")
		}
		e.imageKey, e.image = "", nil
	case s.Image != nil && s.Image != e.image:
		key, err := m.opts.Images.PutImage(ctx, e.id, s.Image.MIMEType, s.Image.Data)
		if err != nil {
			return fmt.Errorf("store image: %w", err)
		}
		if e.imageKey != "" && e.imageKey != key {
			_ = m.opts.Images.DeleteImage(ctx, e.imageKey)
		}
		e.imageKey, e.image = key, s.Image
	}
	if s.Image != nil {
		rec.Image = store.NewImageInfo(e.imageKey, s.Image)
	}

	return m.opts.Claims.PutClaim(ctx, rec)
}

func (m *Manager) publish(id string, s claim.State) {
	if s.Report == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.opts.Publisher.PublishClaimAssessed(ctx, events.NewClaimAssessed(id, s.Report, time.Now())); err != nil {
		log.Warn().Err(err).Str("claim", id).Msg("Failed to publish ClaimAssessed event")
	}
}
