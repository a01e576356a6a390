package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"asset-pipeline/internal/media"
	"asset-pipeline/internal/models"
	"asset-pipeline/internal/objstore"
)

// Rendition is one rung of the transcode ladder.
type Rendition struct {
	Label   string
	Width   int
	Height  int
	Bitrate string
}

// DefaultRenditions is the full ladder. Rungs taller than the source are
// skipped so a video is never upscaled.
var DefaultRenditions = []Rendition{
	{Label: "1080p", Width: 1920, Height: 1080, Bitrate: "5000k"},
	{Label: "720p", Width: 1280, Height: 720, Bitrate: "2500k"},
	{Label: "480p", Width: 854, Height: 480, Bitrate: "1000k"},
}

const (
	frameThumbMaxWidth  = 640
	frameThumbMaxHeight = 360
)

// renditionsFor filters the ladder against the source height. A source
// shorter than every rung produces no renditions at all; the midpoint
// thumbnail alone is a valid outcome, and the original stays servable as-is.
func renditionsFor(sourceHeight int, ladder []Rendition) []Rendition {
	out := make([]Rendition, 0, len(ladder))
	for _, r := range ladder {
		if r.Height <= sourceHeight {
			out = append(out, r)
		}
	}
	return out
}

// VideoPipeline transcodes a source video into the rendition ladder and
// extracts a midpoint frame as the asset thumbnail. Sources are staged in a
// per-job temp directory because ffmpeg works on files.
type VideoPipeline struct {
	store   objstore.Store
	ffmpeg  *media.FFmpeg
	ladder  []Rendition
	tempDir string
	logger  *slog.Logger
}

func NewVideoPipeline(store objstore.Store, ffmpeg *media.FFmpeg, tempDir string, logger *slog.Logger) *VideoPipeline {
	return &VideoPipeline{
		store:   store,
		ffmpeg:  ffmpeg,
		ladder:  DefaultRenditions,
		tempDir: tempDir,
		logger:  logger,
	}
}

func (p *VideoPipeline) Process(ctx context.Context, job models.Job, progress ProgressFunc) (models.CompletionUpdate, error) {
	pl := job.Payload

	workDir, err := os.MkdirTemp(p.tempDir, "video-"+pl.AssetID+"-")
	if err != nil {
		return models.CompletionUpdate{}, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	srcPath := filepath.Join(workDir, "source"+filepath.Ext(pl.ObjectName))
	progress(5)
	if err := p.store.DownloadFile(ctx, pl.BucketName, pl.ObjectName, srcPath); err != nil {
		return models.CompletionUpdate{}, fmt.Errorf("download source: %w", err)
	}
	progress(10)

	info, err := p.ffmpeg.Probe(ctx, srcPath)
	if err != nil {
		return models.CompletionUpdate{}, err
	}
	progress(15)

	thumbLocal := filepath.Join(workDir, "thumbnail.jpg")
	if err := p.ffmpeg.ExtractFrame(ctx, srcPath, thumbLocal, math.Floor(info.Duration/2), frameThumbMaxWidth, frameThumbMaxHeight); err != nil {
		return models.CompletionUpdate{}, fmt.Errorf("extract thumbnail: %w", err)
	}
	thumbKey := fmt.Sprintf("thumbnails/%s-thumbnail.jpg", pl.AssetID)
	thumbInfo, err := p.store.UploadFile(ctx, pl.BucketName, thumbKey, thumbLocal, "image/jpeg")
	if err != nil {
		return models.CompletionUpdate{}, fmt.Errorf("upload thumbnail: %w", err)
	}
	progress(30)

	targets := renditionsFor(info.Height, p.ladder)
	transcodedPaths := make(map[string]string, len(targets))
	renditionMeta := make([]map[string]any, 0, len(targets))

	for i, r := range targets {
		outPath := filepath.Join(workDir, fmt.Sprintf("%s-%s.mp4", pl.AssetID, r.Label))
		err := p.ffmpeg.Transcode(ctx, srcPath, outPath, media.TranscodeOpts{
			Width:        r.Width,
			Height:       r.Height,
			VideoBitrate: r.Bitrate,
		})
		if err != nil {
			return models.CompletionUpdate{}, fmt.Errorf("transcode %s: %w", r.Label, err)
		}

		key := fmt.Sprintf("videos/%s-%s.mp4", pl.AssetID, r.Label)
		objInfo, err := p.store.UploadFile(ctx, pl.BucketName, key, outPath, "video/mp4")
		if err != nil {
			return models.CompletionUpdate{}, fmt.Errorf("upload %s: %w", key, err)
		}
		// free disk before the next rung
		os.Remove(outPath)

		transcodedPaths[r.Label] = objInfo.Location()
		renditionMeta = append(renditionMeta, map[string]any{
			"resolution": r.Label,
			"objectName": key,
			"width":      r.Width,
			"height":     r.Height,
			"bitrate":    r.Bitrate,
			"fileSize":   objInfo.Size,
		})
		progress(30 + (i+1)*60/len(targets))
	}

	p.logger.Info("video processed",
		"asset_id", pl.AssetID,
		"duration", info.Duration,
		"dimensions", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"renditions", len(targets),
	)

	return models.CompletionUpdate{
		ThumbnailPath:   thumbInfo.Location(),
		TranscodedPaths: transcodedPaths,
		Metadata: map[string]any{
			"dimensions": map[string]any{"width": info.Width, "height": info.Height},
			"duration":   info.Duration,
			"format":     info.Format,
			"bitrate":    info.BitRate,
			"codec":      info.Codec,
			"thumbnails": []map[string]any{
				{"objectName": thumbKey, "fileSize": thumbInfo.Size},
			},
			"transcodedVersions": renditionMeta,
		},
	}, nil
}
