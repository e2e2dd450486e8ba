package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"atelier/internal/domain"
	"atelier/internal/events"
	"atelier/internal/providers/compose"
	"atelier/internal/providers/image"
	"atelier/internal/providers/video"
)

// Stage progress figures. Production advances toward its ceiling on a timer
// while the external call is outstanding.
const (
	progressComposeStart = 15
	progressComposeDone  = 30
	progressGateDone     = 40
	progressProduceCeil  = 90
)

// process drives one job through compose, gate, produce and persist. Any
// stage error aborts the remainder; the caller records it on the node.
func (e *Engine) process(job *domain.Job) error {
	ctx := e.runCtx

	sess := e.store.Get(job.SessionID)
	if sess == nil {
		return fmt.Errorf("%w: session %s", domain.ErrNotFound, job.SessionID)
	}
	dir := sess.Direction(job.DirectionID)
	if dir == nil {
		return fmt.Errorf("%w: direction %s", domain.ErrNotFound, job.DirectionID)
	}
	if sess.SalienceProfile == nil {
		return fmt.Errorf("%w: session has no salience profile", domain.ErrValidation)
	}
	var parent *domain.GenerationNode
	if job.ParentNodeID != "" {
		parent = sess.Node(job.ParentNodeID)
	}

	// Stage 1: compose.
	if _, err := e.store.UpdateNode(job.SessionID, job.NodeID, func(n *domain.GenerationNode) {
		n.Status = domain.NodeGenerating
	}); err != nil {
		return err
	}
	e.publishProgress(job, "compose", progressComposeStart)

	pkg, err := e.composer.Compose(ctx, compose.ContextPack{
		Mode:          sess.Mode,
		MediaType:     job.MediaType,
		Depth:         job.Depth,
		MaxDepth:      e.maxDepth,
		Direction:     *dir,
		Profile:       *sess.SalienceProfile,
		Parent:        parent,
		Preferences:   sess.Preferences,
		PinnedPrompts: pinnedPrompts(dir),
	})
	if err != nil {
		var revision *domain.RevisionError
		if errors.As(err, &revision) {
			return fmt.Errorf("%w: %s", domain.ErrCompositionFailed, strings.Join(revision.Issues, "; "))
		}
		return fmt.Errorf("%w: %v", domain.ErrCompositionFailed, err)
	}
	e.publishProgress(job, "compose", progressComposeDone)

	// Stage 2: gate.
	verdict, err := e.gate.Validate(ctx, pkg)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPromptRejected, err)
	}
	if !verdict.Approved {
		return fmt.Errorf("%w: %s", domain.ErrPromptRejected, strings.Join(verdict.Issues, "; "))
	}
	pkg = verdict.Package
	if len(verdict.Issues) > 0 {
		e.logger.Debug().
			Str("node_id", job.NodeID).
			Strs("issues", verdict.Issues).
			Msg("engine: gate revised package")
	}

	// The approved prompt and parameters go onto the node before production.
	meta := pkg.Meta
	if _, err := e.store.UpdateNode(job.SessionID, job.NodeID, func(n *domain.GenerationNode) {
		n.Prompt = pkg.Prompt
		n.PromptMeta = &meta
		n.Negative = append([]string{}, pkg.Negative...)
		n.Explanation = pkg.Explanation
		n.SalienceDelta = append([]domain.SalienceDelta{}, pkg.SalienceDelta...)
	}); err != nil {
		return err
	}
	e.publishProgress(job, "gate", progressGateDone)

	// Stage 3: produce, with simulated progress while the call is out.
	stop := e.startProgressTicker(job, progressGateDone, progressProduceCeil)
	data, format, produceErr := e.produce(ctx, job, pkg)
	stop()
	if produceErr != nil {
		return produceErr
	}

	// Stage 4: persist.
	e.publishProgress(job, "persist", progressProduceCeil)
	return e.persist(ctx, job, data, format, pkg.Explanation)
}

func (e *Engine) produce(ctx context.Context, job *domain.Job, pkg *compose.Package) ([]byte, string, error) {
	switch job.MediaType {
	case domain.MediaImage:
		asset, err := e.images.Generate(ctx, image.GenerateRequest{
			Prompt:      pkg.Prompt,
			Negative:    pkg.Negative,
			AspectRatio: pkg.Meta.AspectRatio,
			Seed:        pkg.Meta.Seed,
			Guidance:    pkg.Meta.Guidance,
			RequestID:   job.NodeID,
		})
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", domain.ErrProductionFailed, err)
		}
		if len(asset.Data) == 0 {
			return nil, "", fmt.Errorf("%w: provider returned no image bytes", domain.ErrProductionFailed)
		}
		return asset.Data, asset.Format, nil

	case domain.MediaVideo:
		handle, err := e.videos.Submit(ctx, video.SubmitRequest{
			Prompt:          pkg.Prompt,
			Negative:        pkg.Negative,
			AspectRatio:     pkg.Meta.AspectRatio,
			DurationSeconds: pkg.Meta.DurationSeconds,
			FPS:             pkg.Meta.FPS,
			RequestID:       job.NodeID,
		})
		if err != nil {
			return nil, "", fmt.Errorf("%w: submit video job: %v", domain.ErrProductionFailed, err)
		}
		asset, err := e.awaitVideo(ctx, handle)
		if err != nil {
			return nil, "", err
		}
		return asset.Data, asset.Format, nil

	default:
		return nil, "", fmt.Errorf("%w: unsupported media type %q", domain.ErrValidation, job.MediaType)
	}
}

// awaitVideo polls the asynchronous video job at a fixed interval up to a
// bounded number of attempts.
func (e *Engine) awaitVideo(ctx context.Context, handle video.Job) (*video.Asset, error) {
	for attempt := 1; attempt <= e.pollMax; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.pollInterval):
		}
		result, err := e.videos.Poll(ctx, handle)
		if err != nil {
			return nil, fmt.Errorf("%w: poll video job: %v", domain.ErrProductionFailed, err)
		}
		if result.Done {
			if result.Asset == nil || len(result.Asset.Data) == 0 {
				return nil, fmt.Errorf("%w: video job finished without asset", domain.ErrProductionFailed)
			}
			return result.Asset, nil
		}
	}
	return nil, fmt.Errorf("%w: video production timed out after %d polls", domain.ErrProductionFailed, e.pollMax)
}

func (e *Engine) persist(ctx context.Context, job *domain.Job, data []byte, format, explanation string) error {
	ext := extensionForMIME(format)
	if ext == "" {
		if job.MediaType == domain.MediaVideo {
			ext = ".mp4"
		} else {
			ext = ".png"
		}
	}
	outputKey := fmt.Sprintf("generated/%s/%s/output%s", job.SessionID, job.NodeID, ext)
	savedKey, err := e.assets.Write(ctx, outputKey, data)
	if err != nil {
		return fmt.Errorf("%w: store asset: %v", domain.ErrPersistenceFailed, err)
	}
	outputURL := e.assetURL(savedKey)

	thumbnailURL := ""
	if job.MediaType == domain.MediaImage {
		if thumbKey, err := e.writeThumbnail(ctx, job, data); err != nil {
			e.logger.Warn().Err(err).Str("node_id", job.NodeID).Msg("engine: thumbnail generation failed")
		} else {
			thumbnailURL = e.assetURL(thumbKey)
		}
	}

	completedAt := time.Now().UTC()
	if _, err := e.store.UpdateNode(job.SessionID, job.NodeID, func(n *domain.GenerationNode) {
		n.Status = domain.NodeComplete
		n.Progress = 100
		n.OutputURL = outputURL
		n.ThumbnailURL = thumbnailURL
		n.CompletedAt = &completedAt
	}); err != nil {
		return err
	}

	e.events.Publish(job.SessionID, events.GenerationProgress{
		SessionID:   job.SessionID,
		DirectionID: job.DirectionID,
		NodeID:      job.NodeID,
		Stage:       "persist",
		Progress:    100,
	})
	e.events.Publish(job.SessionID, events.GenerationComplete{
		SessionID:    job.SessionID,
		DirectionID:  job.DirectionID,
		NodeID:       job.NodeID,
		OutputURL:    outputURL,
		ThumbnailURL: thumbnailURL,
		Explanation:  explanation,
	})
	return nil
}

const thumbnailWidth = 320

func (e *Engine) writeThumbnail(ctx context.Context, job *domain.Job, data []byte) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	thumb := imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(82)); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	key := fmt.Sprintf("generated/%s/%s/thumb.jpg", job.SessionID, job.NodeID)
	return e.assets.Write(ctx, key, buf.Bytes())
}

// startProgressTicker advances the node's progress linearly from the stage
// floor toward its ceiling on a fixed interval, so observers see continuous
// motion while the external call is outstanding. The returned stop function
// cancels the ticker and waits for it to exit, so no late write can land
// after a stage completes or fails.
func (e *Engine) startProgressTicker(job *domain.Job, from, ceil int) (stop func()) {
	ctx, cancel := context.WithCancel(e.runCtx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(e.progressTick)
		defer ticker.Stop()
		current := from
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if current < ceil-1 {
					current += 2
					if current > ceil-1 {
						current = ceil - 1
					}
				}
				e.publishProgress(job, "produce", current)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// publishProgress raises the node's progress (never lowers it) and emits a
// progress event carrying the stage tag.
func (e *Engine) publishProgress(job *domain.Job, stage string, progress int) {
	applied := progress
	if _, err := e.store.UpdateNode(job.SessionID, job.NodeID, func(n *domain.GenerationNode) {
		if progress > n.Progress {
			n.Progress = progress
		}
		applied = n.Progress
	}); err != nil {
		return
	}
	e.events.Publish(job.SessionID, events.GenerationProgress{
		SessionID:   job.SessionID,
		DirectionID: job.DirectionID,
		NodeID:      job.NodeID,
		Stage:       stage,
		Progress:    applied,
	})
}

func pinnedPrompts(dir *domain.Direction) []string {
	var out []string
	for _, n := range dir.Nodes {
		if n.IsPinned && n.Prompt != "" {
			out = append(out, n.Prompt)
		}
	}
	if len(out) > 3 {
		out = out[len(out)-3:]
	}
	return out
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	default:
		return ""
	}
}

func (e *Engine) assetURL(key string) string {
	base := strings.TrimRight(e.assetBaseURL, "/")
	if base == "" {
		return key
	}
	return base + "/" + key
}
