package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/and161185/appstore/internal/errs"
	"github.com/and161185/appstore/internal/metrics"
	"github.com/and161185/appstore/internal/model"
	"github.com/and161185/appstore/internal/repository"
	"github.com/and161185/appstore/internal/signer"
	"github.com/and161185/appstore/internal/storage/localfs"
)

// DownloadExt is the extension of every issued download.
const DownloadExt = ".appkg"

// DistributionService issues, serves and reclaims device-bound downloads.
type DistributionService interface {
	// Purchase produces a signed, time-limited copy of an entry for a user's device.
	Purchase(ctx context.Context, appID, userID uuid.UUID, deviceID string) (*model.Ticket, error)
	// Fetch opens a live download by its public file name.
	Fetch(ctx context.Context, fileName string) (*os.File, error)
	// Reap removes downloads that expired at or before now and returns how many files went.
	Reap(ctx context.Context, now time.Time) (int, error)
}

// DistributionConfig tunes issuance.
type DistributionConfig struct {
	BaseURL      string        // public prefix of download URLs
	TTL          time.Duration // lifetime of an issued download
	BindToDevice bool          // require and sign a device id
	NoSecurity   bool          // copy packages instead of signing them
	FetchOnce    bool          // a download can be fetched once
}

// DistributionServiceImpl is the default DistributionService.
type DistributionServiceImpl struct {
	apps      repository.AppRepository
	downloads repository.DownloadRepository
	packages  *localfs.Store
	out       *localfs.Store
	signer    *signer.Signer
	cfg       DistributionConfig
	now       func() time.Time
	log       *zap.Logger
	metrics   *metrics.Metrics
}

// DefaultDownloadTTL applies when no expiry is configured.
const DefaultDownloadTTL = 60 * time.Minute

// NewDistributionService wires download issuance. now defaults to time.Now.
func NewDistributionService(
	apps repository.AppRepository, downloads repository.DownloadRepository,
	packages, out *localfs.Store, sg *signer.Signer, cfg DistributionConfig,
	now func() time.Time, log *zap.Logger, m *metrics.Metrics,
) *DistributionServiceImpl {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultDownloadTTL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DistributionServiceImpl{
		apps: apps, downloads: downloads, packages: packages, out: out, signer: sg,
		cfg: cfg, now: now, log: log, metrics: m,
	}
}

// DownloadFileName derives the public, opaque name of the download of entry appID for
// (userID, deviceID). Re-purchases map to the same name.
func DownloadFileName(appID, userID uuid.UUID, deviceID string) string {
	h := blake3.New()
	_, _ = h.Write(appID.Bytes())
	_, _ = h.Write(userID.Bytes())
	_, _ = h.Write([]byte(deviceID))
	return hex.EncodeToString(h.Sum(nil))[:32] + DownloadExt
}

// Purchase implements the issuance sequence. With device binding on, an empty deviceID
// fails before any lookup or file work; with it off the device id is ignored.
func (s *DistributionServiceImpl) Purchase(ctx context.Context, appID, userID uuid.UUID, deviceID string) (t *model.Ticket, err error) {
	defer func() { s.metrics.Purchase(metrics.Result(err)) }()

	if s.cfg.BindToDevice && deviceID == "" {
		return nil, errs.ErrDeviceIDRequired
	}
	if !s.cfg.BindToDevice {
		deviceID = ""
	}
	if userID == uuid.Nil {
		return nil, errors.New("validation: empty userID")
	}

	app, err := s.apps.Get(ctx, appID)
	if err != nil {
		return nil, err
	}

	name := DownloadFileName(app.ID, userID, deviceID)
	gen, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	genPath := strings.TrimSuffix(name, DownloadExt) + "." + gen.String() + DownloadExt

	if err := s.out.EnsureDir(); err != nil {
		s.log.Error("downloads dir", zap.Error(err))
		return nil, err
	}
	if err := s.materialize(app, genPath, deviceID); err != nil {
		s.log.Error("issue download",
			zap.String("appId", app.AppID), zap.String("file", genPath), zap.Error(err))
		return nil, err
	}

	now := s.now()
	d := &model.Download{
		FileName:  name,
		FilePath:  genPath,
		AppID:     app.ID,
		UserID:    userID,
		DeviceID:  deviceID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	prev, err := s.downloads.Upsert(ctx, d)
	if err != nil {
		_ = s.out.Remove(genPath)
		return nil, err
	}
	if prev != "" {
		if err := s.out.Remove(prev); err != nil {
			s.log.Warn("remove superseded download", zap.String("file", prev), zap.Error(err))
		}
	}

	return &model.Ticket{
		URL:       s.cfg.BaseURL + "/app/download/" + name,
		FileName:  name,
		ExpiresIn: int64(s.cfg.TTL / time.Second),
		ExpiresAt: d.ExpiresAt,
	}, nil
}

func (s *DistributionServiceImpl) materialize(app *model.App, genPath, deviceID string) error {
	src := s.packages.Path(app.PackageFile)
	if s.cfg.NoSecurity {
		f, err := os.Open(src)
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrSourceUnreadable, err)
		}
		defer f.Close()
		if _, err := s.out.WriteAtomic(genPath, f); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrDestinationUnwritable, err)
		}
		return nil
	}
	start := time.Now()
	err := s.signer.Sign(src, s.out.Path(genPath), app.Digest, deviceID)
	s.metrics.ObserveSign(time.Since(start))
	return err
}

// Fetch returns the current generation of a live download. Unknown, expired and already
// reclaimed downloads are indistinguishable: all yield ErrNotFound.
func (s *DistributionServiceImpl) Fetch(ctx context.Context, fileName string) (*os.File, error) {
	if !localfs.ValidName(fileName) || !strings.HasSuffix(fileName, DownloadExt) {
		return nil, errs.ErrNotFound
	}
	now := s.now()

	var (
		d   *model.Download
		err error
	)
	if s.cfg.FetchOnce {
		d, err = s.downloads.Take(ctx, fileName, now)
	} else {
		d, err = s.downloads.Get(ctx, fileName)
		if err == nil && !d.ExpiresAt.After(now) {
			err = errs.ErrNotFound
		}
	}
	if err != nil {
		return nil, err
	}

	f, err := s.out.Open(d.FilePath)
	if err != nil {
		return nil, err
	}
	if s.cfg.FetchOnce {
		// the open handle keeps the content readable
		if err := s.out.Remove(d.FilePath); err != nil {
			s.log.Warn("unlink fetched download", zap.String("file", d.FilePath), zap.Error(err))
		}
	}
	return f, nil
}

// Reap deletes expired rows and their files, then sweeps generation files no row references
// and temporaries, both once they are older than the download lifetime.
func (s *DistributionServiceImpl) Reap(ctx context.Context, now time.Time) (int, error) {
	paths, err := s.downloads.DeleteExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range paths {
		if err := s.out.Remove(p); err != nil {
			s.log.Warn("reap download", zap.String("file", p), zap.Error(err))
			continue
		}
		n++
	}

	swept, err := s.sweepOrphans(ctx, now)
	n += swept
	if err == nil {
		var temps int
		temps, err = s.out.SweepTemps(now.Add(-s.cfg.TTL))
		n += temps
		swept += temps
	}
	s.metrics.Reaped(n)
	if err != nil {
		return n, err
	}
	if n > 0 {
		s.log.Info("downloads reaped", zap.Int("expired", len(paths)), zap.Int("orphans", swept))
	}
	return n, nil
}

func (s *DistributionServiceImpl) sweepOrphans(ctx context.Context, now time.Time) (int, error) {
	live, err := s.downloads.Paths(ctx)
	if err != nil {
		return 0, err
	}
	referenced := make(map[string]struct{}, len(live))
	for _, p := range live {
		referenced[p] = struct{}{}
	}
	entries, err := s.out.List()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if _, ok := referenced[e.Name]; ok || now.Sub(e.ModTime) <= s.cfg.TTL {
			continue
		}
		if err := s.out.Remove(e.Name); err != nil {
			s.log.Warn("sweep orphan download", zap.String("file", e.Name), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}
