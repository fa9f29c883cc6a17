package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fpang/vehicle-claim-estimator/internal/claim"
	"github.com/fpang/vehicle-claim-estimator/internal/events"
	"github.com/fpang/vehicle-claim-estimator/internal/filehandler"
	"github.com/fpang/vehicle-claim-estimator/internal/report"
	"github.com/fpang/vehicle-claim-estimator/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bytesDecoder struct{}

func (bytesDecoder) Decode(_ context.Context, filename string, r io.Reader) (*filehandler.Payload, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &filehandler.DecodeError{Message: "the selected file is empty"}
	}
	return &filehandler.Payload{Filename: filename, MIMEType: "image/jpeg", Data: data}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ClaimAssessed
	got    chan struct{}
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{got: make(chan struct{}, 4)}
}

func (p *recordingPublisher) PublishClaimAssessed(_ context.Context, e events.ClaimAssessed) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	select {
	case p.got <- struct{}{}:
	default:
	}
	return nil
}

func sampleReport() *report.DamageReport {
	return &report.DamageReport{
		VehicleType:        "Toyota Corolla",
		TotalEstimatedCost: 250000,
		Currency:           "NGN",
		Parts: []report.PartEstimation{
			{PartName: "Front bumper", DamageType: report.DamageDent, Severity: 5, Action: report.ActionRepair, EstimatedCost: 250000, LaborHours: 3},
		},
		Summary:           "Dented front bumper.",
		ConfidenceScore:   0.8,
		PayoutEligibility: report.PayoutEligible,
	}
}

type fixture struct {
	mgr    *Manager
	claims *store.MemoryStore
	images *store.MemoryImageStore
	pub    *recordingPublisher
}

func newFixture(t *testing.T, a claim.Analyzer) *fixture {
	t.Helper()
	f := &fixture{
		claims: store.NewMemoryStore(time.Hour),
		images: store.NewMemoryImageStore(),
		pub:    newRecordingPublisher(),
	}
	f.mgr = NewManager(Options{
		Analyzer:  a,
		Decoder:   bytesDecoder{},
		Claims:    f.claims,
		Images:    f.images,
		Publisher: f.pub,
		TTL:       time.Hour,
	})
	t.Cleanup(f.mgr.Close)
	return f
}

func okAnalyzer(r *report.DamageReport) claim.Analyzer {
	return claim.AnalyzerFunc(func(context.Context, *filehandler.Payload) (*report.DamageReport, error) {
		return r, nil
	})
}

func TestCreateAndGet(t *testing.T) {
	f := newFixture(t, okAnalyzer(sampleReport()))
	ctx := context.Background()

	id, s, err := f.mgr.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, uuid.Validate(id))
	assert.Equal(t, claim.StatusIdle, s.Status)

	rec, err := f.claims.GetClaim(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec, "new claim should be written through")
	assert.Equal(t, "idle", rec.Status)

	got, err := f.mgr.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, claim.StatusIdle, got.Status)
}

func TestGetUnknownAndInvalid(t *testing.T) {
	f := newFixture(t, okAnalyzer(sampleReport()))
	ctx := context.Background()

	_, err := f.mgr.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.mgr.Get(ctx, "../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestAnalyzePersistsReportAndPublishes(t *testing.T) {
	f := newFixture(t, okAnalyzer(sampleReport()))
	ctx := context.Background()

	id, _, err := f.mgr.Create(ctx)
	require.NoError(t, err)

	s, err := f.mgr.SelectImage(ctx, id, "car.jpg", strings.NewReader("photo"))
	require.NoError(t, err)
	require.True(t, s.HasImage())

	s, err = f.mgr.Analyze(ctx, id)
	require.NoError(t, err)
	require.Equal(t, claim.StatusCompleted, s.Status)

	rec, err := f.claims.GetClaim(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "completed", rec.Status)
	require.NotNil(t, rec.Report)
	assert.Equal(t, "Toyota Corolla", rec.Report.VehicleType)
	require.NotNil(t, rec.Image)

	data, err := f.images.GetImage(ctx, rec.Image.Key)
	require.NoError(t, err)
	assert.Equal(t, "photo", string(data))

	select {
	case <-f.pub.got:
	case <-time.After(2 * time.Second):
		t.Fatal("ClaimAssessed was not published")
	}
	f.pub.mu.Lock()
	defer f.pub.mu.Unlock()
	require.Len(t, f.pub.events, 1)
	assert.Equal(t, id, f.pub.events[0].ClaimID)
	assert.Equal(t, 250000.0, f.pub.events[0].TotalEstimatedCost)
}

func TestStartAnalysisRunsInBackground(t *testing.T) {
	release := make(chan struct{})
	a := claim.AnalyzerFunc(func(ctx context.Context, _ *filehandler.Payload) (*report.DamageReport, error) {
		<-release
		return sampleReport(), nil
	})
	f := newFixture(t, a)
	ctx := context.Background()

	id, _, err := f.mgr.Create(ctx)
	require.NoError(t, err)
	_, err = f.mgr.SelectImage(ctx, id, "car.jpg", strings.NewReader("photo"))
	require.NoError(t, err)

	s, err := f.mgr.StartAnalysis(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, claim.StatusAnalyzing, s.Status)

	close(release)
	require.Eventually(t, func() bool {
		s, err := f.mgr.Get(ctx, id)
		return err == nil && s.Status == claim.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRestoreFromStore(t *testing.T) {
	ctx := context.Background()
	claims := store.NewMemoryStore(time.Hour)
	images := store.NewMemoryImageStore()

	first := NewManager(Options{Analyzer: okAnalyzer(sampleReport()), Decoder: bytesDecoder{}, Claims: claims, Images: images})
	id, _, err := first.Create(ctx)
	require.NoError(t, err)
	_, err = first.SelectImage(ctx, id, "car.jpg", strings.NewReader("photo"))
	require.NoError(t, err)
	_, err = first.Analyze(ctx, id)
	require.NoError(t, err)
	first.Close()

	second := NewManager(Options{Analyzer: okAnalyzer(sampleReport()), Decoder: bytesDecoder{}, Claims: claims, Images: images})
	defer second.Close()

	s, err := second.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, claim.StatusCompleted, s.Status)
	require.NotNil(t, s.Report)
	require.NotNil(t, s.Image)
	assert.Equal(t, "photo", string(s.Image.Data))
	assert.Equal(t, "car.jpg", s.Image.Filename)
}

func TestRestoreInterruptedAnalysis(t *testing.T) {
	ctx := context.Background()
	claims := store.NewMemoryStore(time.Hour)
	images := store.NewMemoryImageStore()

	id := uuid.NewString()
	key, err := images.PutImage(ctx, id, "image/jpeg", []byte("photo"))
	require.NoError(t, err)
	require.NoError(t, claims.PutClaim(ctx, &store.ClaimRecord{
		ID:     id,
		Status: "analyzing",
		Image:  &store.ImageInfo{Key: key, MIMEType: "image/jpeg"},
	}))

	m := NewManager(Options{Analyzer: okAnalyzer(sampleReport()), Claims: claims, Images: images})
	defer m.Close()

	s, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, claim.StatusError, s.Status)
	assert.NotEmpty(t, s.Error)
	assert.True(t, s.HasImage(), "photo survives so the user can retry")

	rec, err := claims.GetClaim(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "error", rec.Status, "restored error should be written back")
}

func TestRestoreWithMissingImage(t *testing.T) {
	ctx := context.Background()
	claims := store.NewMemoryStore(time.Hour)
	id := uuid.NewString()
	require.NoError(t, claims.PutClaim(ctx, &store.ClaimRecord{
		ID:     id,
		Status: "idle",
		Image:  &store.ImageInfo{Key: store.ImageKey(id, ".jpg"), MIMEType: "image/jpeg"},
	}))

	m := NewManager(Options{Analyzer: okAnalyzer(sampleReport()), Claims: claims})
	defer m.Close()

	s, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, claim.StatusError, s.Status)
	assert.False(t, s.HasImage())
}

func TestResetDeletesStoredImage(t *testing.T) {
	f := newFixture(t, okAnalyzer(sampleReport()))
	ctx := context.Background()

	id, _, err := f.mgr.Create(ctx)
	require.NoError(t, err)
	_, err = f.mgr.SelectImage(ctx, id, "car.jpg", strings.NewReader("photo"))
	require.NoError(t, err)

	rec, err := f.claims.GetClaim(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec.Image)
	key := rec.Image.Key

	s, err := f.mgr.Reset(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, claim.StatusIdle, s.Status)
	assert.False(t, s.HasImage())

	_, err = f.images.GetImage(ctx, key)
	assert.ErrorIs(t, err, store.ErrImageNotFound)

	rec, err = f.claims.GetClaim(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, rec.Image)
}

func TestImage(t *testing.T) {
	f := newFixture(t, okAnalyzer(sampleReport()))
	ctx := context.Background()

	id, _, err := f.mgr.Create(ctx)
	require.NoError(t, err)

	_, err = f.mgr.Image(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.mgr.SelectImage(ctx, id, "car.jpg", strings.NewReader("photo"))
	require.NoError(t, err)
	p, err := f.mgr.Image(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "photo", string(p.Data))
}

func TestDelete(t *testing.T) {
	f := newFixture(t, okAnalyzer(sampleReport()))
	ctx := context.Background()

	id, _, err := f.mgr.Create(ctx)
	require.NoError(t, err)
	_, err = f.mgr.SelectImage(ctx, id, "car.jpg", strings.NewReader("photo"))
	require.NoError(t, err)

	require.NoError(t, f.mgr.Delete(ctx, id))
	assert.Equal(t, 0, f.mgr.Len())

	rec, err := f.claims.GetClaim(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, err = f.mgr.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, f.mgr.Delete(ctx, id), ErrNotFound)
}

func TestDeleteDuringAnalysisDropsResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	a := claim.AnalyzerFunc(func(ctx context.Context, _ *filehandler.Payload) (*report.DamageReport, error) {
		close(started)
		<-release
		return sampleReport(), nil
	})
	f := newFixture(t, a)
	ctx := context.Background()

	id, _, err := f.mgr.Create(ctx)
	require.NoError(t, err)
	_, err = f.mgr.SelectImage(ctx, id, "car.jpg", strings.NewReader("photo"))
	require.NoError(t, err)
	_, err = f.mgr.StartAnalysis(ctx, id)
	require.NoError(t, err)
	<-started

	require.NoError(t, f.mgr.Delete(ctx, id))
	close(release)

	time.Sleep(50 * time.Millisecond)
	rec, err := f.claims.GetClaim(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, rec, "late analysis result must not resurrect a deleted claim")
	select {
	case <-f.pub.got:
		t.Fatal("no event should be published for a deleted claim")
	default:
	}
}

type failingClaims struct{ store.ClaimStore }

func (failingClaims) PutClaim(context.Context, *store.ClaimRecord) error {
	return errors.New("table unavailable")
}

func TestCreateFailsWhenStoreFails(t *testing.T) {
	m := NewManager(Options{Analyzer: okAnalyzer(sampleReport()), Claims: failingClaims{store.NewMemoryStore(0)}})
	defer m.Close()

	_, _, err := m.Create(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestMaxSessionsEvictsOldest(t *testing.T) {
	ctx := context.Background()
	m := NewManager(Options{Analyzer: okAnalyzer(sampleReport()), MaxSessions: 2})
	defer m.Close()

	first, _, err := m.Create(ctx)
	require.NoError(t, err)
	for range 2 {
		_, _, err := m.Create(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, m.Len())

	// Evicted sessions are restored from the store.
	s, err := m.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, claim.StatusIdle, s.Status)
}

func TestConcurrentActionsOnOneSession(t *testing.T) {
	a := claim.AnalyzerFunc(func(ctx context.Context, _ *filehandler.Payload) (*report.DamageReport, error) {
		select {
		case <-time.After(50 * time.Microsecond):
			return sampleReport(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	f := newFixture(t, a)
	ctx := context.Background()

	id, _, err := f.mgr.Create(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				var err error
				switch i % 3 {
				case 0:
					_, err = f.mgr.SelectImage(ctx, id, "door.jpg", strings.NewReader("photo"))
				case 1:
					_, err = f.mgr.StartAnalysis(ctx, id)
				case 2:
					_, err = f.mgr.Reset(ctx, id)
				}
				if err != nil {
					t.Errorf("action %d: %v", i, err)
					return
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(20 * time.Second):
		t.Fatal("concurrent session actions did not finish")
	}

	require.Eventually(t, func() bool {
		s, err := f.mgr.Get(ctx, id)
		if err != nil || s.Status == claim.StatusAnalyzing {
			return false
		}
		rec, err := f.claims.GetClaim(ctx, id)
		return err == nil && rec != nil && rec.Status == string(s.Status)
	}, 2*time.Second, time.Millisecond, "stored record should settle on the last committed snapshot")

	s, err := f.mgr.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, s.Status == claim.StatusCompleted, s.Report != nil)
	assert.Equal(t, s.Status == claim.StatusError, s.Error != "")

	rec, err := f.claims.GetClaim(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rec.Status == "completed", rec.Report != nil)
}
