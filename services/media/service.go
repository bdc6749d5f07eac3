package media

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"appraisal-fulfillment/pkg/config"
	"appraisal-fulfillment/pkg/ffmpeg"
	"appraisal-fulfillment/pkg/metrics"
	"appraisal-fulfillment/pkg/minio"
	"appraisal-fulfillment/services/content"

	"github.com/gosimple/slug"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrMissingMain = errors.New("media: main image is required")

// Uploader stores normalized bytes in the CMS media library.
type Uploader interface {
	UploadMedia(ctx context.Context, filename, contentType string, data []byte) (content.MediaRef, error)
}

// BackupStore keeps the raw bytes as received.
type BackupStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	URL(key string) string
}

type Pipeline struct {
	normalizer *Normalizer
	uploader   Uploader
	backup     BackupStore
	prefix     string
	metrics    *metrics.Metrics
}

type Params struct {
	fx.In
	Config   *config.Config
	Uploader *content.Repository
	Backup   *minio.Bucket
	Metrics  *metrics.Metrics
}

func NewService(p Params) *Pipeline {
	n := NewNormalizer(ffmpeg.New(p.Config.Media.FFmpegPath), p.Config.Media.MaxDimension, p.Config.Media.Quality)
	return NewPipeline(n, p.Uploader, p.Backup, p.Config.Media.BackupPrefix, p.Metrics)
}

func NewPipeline(n *Normalizer, u Uploader, b BackupStore, prefix string, m *metrics.Metrics) *Pipeline {
	return &Pipeline{normalizer: n, uploader: u, backup: b, prefix: prefix, metrics: m}
}

// Validate rejects file sets without a main image or with unknown keys.
func Validate(files map[AssetKey]File) error {
	if f, ok := files[AssetMain]; !ok || len(f.Data) == 0 {
		return ErrMissingMain
	}
	for k := range files {
		if !k.Valid() {
			return fmt.Errorf("media: unknown asset key %q", k)
		}
	}
	return nil
}

// Process normalizes, uploads and backs up every present asset in parallel
// and joins them all. Only keys present in files appear in the result.
func (p *Pipeline) Process(ctx context.Context, sessionID string, files map[AssetKey]File) (map[AssetKey]*Asset, error) {
	if err := Validate(files); err != nil {
		return nil, err
	}

	backup := p.StartBackup(ctx, sessionID, files)
	assets := p.Upload(ctx, sessionID, files)
	backup.Apply(assets)
	return assets, nil
}

// Upload normalizes and pushes each asset to the CMS. A failure is recorded
// on that asset only.
func (p *Pipeline) Upload(ctx context.Context, sessionID string, files map[AssetKey]File) map[AssetKey]*Asset {
	assets := make(map[AssetKey]*Asset, len(files))
	for k, f := range files {
		assets[k] = &Asset{Key: k, Raw: f.Data}
	}

	wp := pool.New().WithMaxGoroutines(len(AssetKeys))
	for _, a := range assets {
		wp.Go(func() {
			p.uploadOne(ctx, sessionID, a)
		})
	}
	wp.Wait()
	return assets
}

func (p *Pipeline) uploadOne(ctx context.Context, sessionID string, a *Asset) {
	zapLog := zap.L().With(
		zap.String("session_id", sessionID),
		zap.String("asset", string(a.Key)),
		zap.String("stage", "media_upload"),
	)

	normalized, err := p.normalizer.Normalize(ctx, a.Raw)
	if err != nil {
		a.Err = fmt.Errorf("normalize %s: %w", a.Key, err)
		zapLog.Error("normalize failed", zap.Error(err))
		p.count(a.Key, "normalize_failed")
		return
	}
	a.Normalized = normalized

	ref, err := p.uploader.UploadMedia(ctx, Filename(sessionID, a.Key), "image/jpeg", normalized)
	if err != nil {
		a.Err = fmt.Errorf("upload %s: %w", a.Key, err)
		zapLog.Error("cms upload failed", zap.Error(err))
		p.count(a.Key, "upload_failed")
		return
	}
	a.CMSID, a.CMSURL = ref.ID, ref.URL
	p.count(a.Key, "uploaded")
}

// Filename is the CMS attachment name for an asset.
func Filename(sessionID string, key AssetKey) string {
	return slug.Make(sessionID+" "+string(key)) + ".jpg"
}

// BackupKey is the object key for an asset's raw bytes.
func (p *Pipeline) BackupKey(sessionID string, key AssetKey, raw []byte) string {
	return path.Join(p.prefix, sessionID, string(key)+Extension(raw))
}

// BackupFolder is the object prefix holding a session's backups.
func (p *Pipeline) BackupFolder(sessionID string) string {
	return p.backup.URL(path.Join(p.prefix, sessionID) + "/")
}

func (p *Pipeline) count(key AssetKey, outcome string) {
	if p.metrics != nil {
		p.metrics.AssetsProcessed.WithLabelValues(string(key), outcome).Inc()
	}
}

// BackupResult is one asset's backup outcome.
type BackupResult struct {
	URL string
	Err error
}

// BackupHandle is a running backup of a session's raw files.
type BackupHandle struct {
	done    chan struct{}
	results map[AssetKey]BackupResult
	folder  string
}

// StartBackup writes every raw file to the backup store in the background.
// Each asset is independent; a failure is logged as a Warning and leaves
// that asset's URL empty. The work ignores ctx cancellation.
func (p *Pipeline) StartBackup(ctx context.Context, sessionID string, files map[AssetKey]File) *BackupHandle {
	h := &BackupHandle{
		done:    make(chan struct{}),
		results: make(map[AssetKey]BackupResult, len(files)),
	}
	if p.backup == nil {
		close(h.done)
		return h
	}
	h.folder = p.BackupFolder(sessionID)

	ctx = context.WithoutCancel(ctx)
	type item struct {
		key AssetKey
		res BackupResult
	}

	go func() {
		defer close(h.done)
		started := time.Now()

		wp := pool.NewWithResults[item]()
		for k, f := range files {
			wp.Go(func() item {
				key := p.BackupKey(sessionID, k, f.Data)
				u, err := p.backup.Put(ctx, key, ContentTypeFor(Extension(f.Data)), f.Data)
				if err != nil {
					zap.L().Warn("backup failed",
						zap.String("session_id", sessionID),
						zap.String("asset", string(k)),
						zap.String("stage", "backup"),
						zap.String("object", key),
						zap.Error(err),
					)
					if p.metrics != nil {
						p.metrics.StageFailures.WithLabelValues("backup").Inc()
					}
					return item{key: k, res: BackupResult{Err: err}}
				}
				return item{key: k, res: BackupResult{URL: u}}
			})
		}
		for _, it := range wp.Wait() {
			h.results[it.key] = it.res
		}
		zap.L().Debug("backup finished", zap.String("session_id", sessionID), zap.Duration("took", time.Since(started)))
	}()
	return h
}

// Wait blocks until every backup has finished.
func (h *BackupHandle) Wait() map[AssetKey]BackupResult {
	<-h.done
	return h.results
}

// Finished reports whether the backup has completed, without blocking.
func (h *BackupHandle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Apply joins the backup and copies its outcomes onto assets.
func (h *BackupHandle) Apply(assets map[AssetKey]*Asset) {
	for k, res := range h.Wait() {
		if a, ok := assets[k]; ok {
			a.BackupURL, a.BackupErr = res.URL, res.Err
		}
	}
}

// FolderURL returns the session's backup location when at least one
// asset was stored, and "" otherwise. It blocks until the backup finishes.
func (h *BackupHandle) FolderURL() string {
	for _, res := range h.Wait() {
		if res.Err == nil && res.URL != "" {
			return h.folder
		}
	}
	return ""
}
