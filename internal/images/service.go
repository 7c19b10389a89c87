// Package images validates client-uploaded images and ships them to
// object storage through a bounded in-process worker pool.
package images

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/ajeer/ajeer-backend/internal/apperr"
	"github.com/ajeer/ajeer-backend/internal/objectstore"
)

// ErrQueueFull is returned when the upload queue cannot accept more jobs.
var ErrQueueFull = errors.New("image upload queue is full")

var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Validate checks image bytes and MIME type against the upload rules.
func Validate(data []byte, mimeType string, maxSize int, locale string) error {
	if len(data) == 0 {
		return apperr.Validation(apperr.CodeFieldRequired, map[string]interface{}{"locale": locale})
	}
	if !allowedTypes[mimeType] {
		return apperr.Validation(apperr.CodeUnsupportedImage, map[string]interface{}{
			"locale":       locale,
			"providedType": mimeType,
		})
	}
	if maxSize > 0 && len(data) > maxSize {
		return apperr.Validation(apperr.CodeImageTooLarge, map[string]interface{}{
			"locale": locale,
			"max":    maxSize,
		})
	}
	return nil
}

type job struct {
	id       string
	data     []byte
	filename string
	mimeType string
}

// Service runs the background upload workers.
type Service struct {
	uploader objectstore.Uploader
	logger   *logrus.Logger
	maxSize  int

	jobs chan job
	wg   sync.WaitGroup

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewService starts concurrency upload workers.
func NewService(uploader objectstore.Uploader, logger *logrus.Logger, maxSize, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = 5
	}
	s := &Service{
		uploader: uploader,
		logger:   logger,
		maxSize:  maxSize,
		jobs:     make(chan job, concurrency*4),
	}
	for i := 0; i < concurrency; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Enqueue validates the image and queues it for background upload,
// returning a job id for tracking.
func (s *Service) Enqueue(data []byte, filename, mimeType, locale string) (string, error) {
	if err := Validate(data, mimeType, s.maxSize, locale); err != nil {
		s.logger.WithFields(logrus.Fields{
			"filename": filename,
			"mimeType": mimeType,
			"size":     len(data),
			"error":    err.Error(),
		}).Error("Image validation failed")
		return "", err
	}

	j := job{
		id:       "img-" + uuid.NewString(),
		data:     data,
		filename: filename,
		mimeType: mimeType,
	}

	// Requests can race shutdown; a closed pool refuses instead of
	// sending on a closed channel.
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return "", apperr.Processing(apperr.CodeUploadFailed,
			map[string]interface{}{"locale": locale}).WithCause(ErrQueueFull)
	}
	select {
	case s.jobs <- j:
		s.mu.RUnlock()
	default:
		s.mu.RUnlock()
		return "", apperr.Processing(apperr.CodeUploadFailed,
			map[string]interface{}{"locale": locale}).WithCause(ErrQueueFull)
	}

	s.logger.WithFields(logrus.Fields{
		"jobId":    j.id,
		"filename": filename,
		"size":     len(data),
	}).Info("Image enqueued for upload")
	return j.id, nil
}

func (s *Service) worker() {
	defer s.wg.Done()
	for j := range s.jobs {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		result, err := s.uploader.Upload(ctx, j.data, j.mimeType)
		cancel()

		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"jobId":    j.id,
				"filename": j.filename,
				"error":    err.Error(),
			}).Error("Image upload failed")
			continue
		}

		s.logger.WithFields(logrus.Fields{
			"jobId":    j.id,
			"filename": j.filename,
			"url":      result.URL,
			"key":      result.Key,
			"duration": time.Since(start).String(),
		}).Info("Image upload succeeded")
	}
}

// Close stops accepting jobs and waits for in-flight uploads to finish.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.jobs)
	})
	s.wg.Wait()
}
