// Package imagecleaner removes the images of deleted stories in the
// background. Removal is advisory: failures are reported through the
// error listener and never reach the request that deleted the story.
package imagecleaner

import (
	"context"
	"fmt"
	"time"

	"github.com/patric-chuzhbe/wandernotes/internal/logger"
	"github.com/patric-chuzhbe/wandernotes/internal/metrics"
	"github.com/patric-chuzhbe/wandernotes/internal/models"
)

type imageRemover interface {
	Delete(ctx context.Context, name string) (bool, error)
}

// ImageCleaner batches cleanup jobs and flushes them periodically.
type ImageCleaner struct {
	queue         chan *models.ImageCleanupJob
	images        imageRemover
	flushInterval time.Duration
	errorChannel  chan error
	done          chan struct{}
}

// New creates a cleaner with a queue of the given capacity.
func New(
	images imageRemover,
	channelCapacity int,
	flushInterval time.Duration,
) *ImageCleaner {
	return &ImageCleaner{
		images:        images,
		queue:         make(chan *models.ImageCleanupJob, channelCapacity),
		flushInterval: flushInterval,
		errorChannel:  make(chan error, channelCapacity),
		done:          make(chan struct{}),
	}
}

// ListenErrors calls callback for every failed removal. The returned
// channel is closed once the worker stopped and every error was delivered.
func (c *ImageCleaner) ListenErrors(callback func(error)) <-chan struct{} {
	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		for err := range c.errorChannel {
			callback(err)
		}
	}()
	return listenerDone
}

// Run starts the worker. When ctx is cancelled the queued jobs are flushed
// once more, the error channel is closed and Done is closed.
func (c *ImageCleaner) Run(ctx context.Context) {
	go func() {
		// reportError is only called from this goroutine. Done is closed
		// before the error channel.
		defer close(c.errorChannel)
		defer close(c.done)

		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()

		var jobs []*models.ImageCleanupJob

		for {
			select {
			case job := <-c.queue:
				jobs = append(jobs, job)
			case <-ticker.C:
				jobs = c.flush(ctx, jobs)
			case <-ctx.Done():
				jobs = c.drain(jobs)
				c.flush(context.Background(), jobs)
				return
			}
		}
	}()
}

// Done is closed after the worker stopped.
func (c *ImageCleaner) Done() <-chan struct{} {
	return c.done
}

// EnqueueJob never blocks: when the queue is full the image is left in place.
func (c *ImageCleaner) EnqueueJob(job *models.ImageCleanupJob) {
	select {
	case c.queue <- job:
	default:
		metrics.ImageCleanups.WithLabelValues("dropped").Inc()
		logger.Log.Warnw("image cleanup queue is full, image left in place",
			"image", job.ImageName,
			"story", job.StoryID,
		)
	}
}

func (c *ImageCleaner) drain(jobs []*models.ImageCleanupJob) []*models.ImageCleanupJob {
	for {
		select {
		case job := <-c.queue:
			jobs = append(jobs, job)
		default:
			return jobs
		}
	}
}

func (c *ImageCleaner) flush(ctx context.Context, jobs []*models.ImageCleanupJob) []*models.ImageCleanupJob {
	if len(jobs) == 0 {
		return jobs
	}

	removed := 0
	for _, job := range jobs {
		existed, err := c.images.Delete(ctx, job.ImageName)
		if err != nil {
			metrics.ImageCleanups.WithLabelValues("failed").Inc()
			c.reportError(fmt.Errorf("unable to remove image %q of story %s: %w", job.ImageName, job.StoryID, err))
			continue
		}
		if existed {
			removed++
			metrics.ImageCleanups.WithLabelValues("removed").Inc()
		} else {
			metrics.ImageCleanups.WithLabelValues("absent").Inc()
		}
	}
	logger.Log.Infof("processed cleanup of %d images, %d removed", len(jobs), removed)

	return jobs[:0]
}

func (c *ImageCleaner) reportError(err error) {
	select {
	case c.errorChannel <- err:
	default:
		logger.Log.Errorw("image cleanup error dropped", "err", err)
	}
}
