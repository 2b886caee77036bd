package bgsync

import (
	"context"

	"github.com/sirupsen/logrus"
)

// ReviewsTag is the tag the web app registers for queued review submissions.
const ReviewsTag = "sync-reviews"

func init() {
	MustRegister(ReviewsTag, SyncReviews)
}

// SyncReviews is the review-submission flush. Reviews are not queued offline
// yet, so the handler only records that connectivity came back.
func SyncReviews(_ context.Context, event Event) error {
	logger := event.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithFields(logrus.Fields{
		"action": "background_sync",
		"site":   event.Site,
		"tag":    event.Tag,
	}).Info("sync_reviews_pending")
	return nil
}
