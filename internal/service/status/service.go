// Package status manages status updates: short-lived text, image or video
// posts stored in the hosted backend.
package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/messenger/internal/backend"
	"github.com/zhouzirui/z-tavern/messenger/internal/logger"
	"github.com/zhouzirui/z-tavern/messenger/internal/model/social"
)

const (
	tableStatus   = "status_updates"
	tableViews    = "status_views"
	tableProfiles = "profiles"
	bucket        = "status"

	// Lifetime is how long a status stays visible.
	Lifetime = 24 * time.Hour
)

var (
	ErrUserRequired  = errors.New("user id is required")
	ErrEmptyStatus   = errors.New("status needs a caption or media")
	ErrIDRequired    = errors.New("status id is required")
	ErrNotInsertable = errors.New("backend returned no inserted status")
)

// Service reads and writes status updates.
type Service struct {
	db  *backend.Client
	now func() time.Time
}

// NewService creates a status service.
func NewService(db *backend.Client) *Service {
	return &Service{db: db, now: time.Now}
}

// Feed is the visible status updates split by author.
type Feed struct {
	Others []social.StatusUpdate
	Mine   []social.StatusUpdate
}

// List returns the unexpired status updates, newest first, with their
// author profiles attached.
func (s *Service) List(ctx context.Context, viewerID string) (Feed, error) {
	var rows []social.StatusUpdate
	q := backend.From("*").
		Gt("expires_at", s.now().UTC().Format(time.RFC3339Nano)).
		Order("created_at", false)
	if err := s.db.Select(ctx, tableStatus, q, &rows); err != nil {
		return Feed{}, fmt.Errorf("list status updates: %w", err)
	}

	profiles := make(map[string]*social.Profile)
	feed := Feed{}
	for _, row := range rows {
		author, ok := profiles[row.UserID]
		if !ok {
			author = s.profile(ctx, row.UserID)
			profiles[row.UserID] = author
		}
		row.Author = author
		if row.UserID == viewerID {
			feed.Mine = append(feed.Mine, row)
		} else {
			feed.Others = append(feed.Others, row)
		}
	}
	return feed, nil
}

// Draft is a new status update. Media, when set, is uploaded first.
type Draft struct {
	Caption  string
	Media    io.Reader
	FileName string
	MimeType string
}

// Post stores a status update for userID that expires after Lifetime.
func (s *Service) Post(ctx context.Context, userID string, p Draft) (social.StatusUpdate, error) {
	if userID == "" {
		return social.StatusUpdate{}, ErrUserRequired
	}
	caption := strings.TrimSpace(p.Caption)
	if caption == "" && p.Media == nil {
		return social.StatusUpdate{}, ErrEmptyStatus
	}

	row := social.StatusUpdate{
		UserID:      userID,
		ContentType: social.ContentText,
		ExpiresAt:   s.now().UTC().Add(Lifetime),
	}
	if caption != "" {
		row.Caption = &caption
	}

	if p.Media != nil {
		mimeType := p.MimeType
		if mimeType == "" {
			mimeType = mime.TypeByExtension(path.Ext(p.FileName))
		}
		objectPath := userID + "/" + uuid.NewString() + path.Ext(p.FileName)
		if err := s.db.Upload(ctx, bucket, objectPath, p.Media, mimeType); err != nil {
			return social.StatusUpdate{}, fmt.Errorf("upload status media: %w", err)
		}
		url := s.db.PublicURL(bucket, objectPath)
		row.ContentURL = &url
		row.ContentType = contentType(mimeType)
	}

	var created []social.StatusUpdate
	if err := s.db.Insert(ctx, tableStatus, row, &created); err != nil {
		return social.StatusUpdate{}, fmt.Errorf("insert status update: %w", err)
	}
	if len(created) == 0 {
		return social.StatusUpdate{}, ErrNotInsertable
	}
	logger.Log.Info("status_published", zap.String("user", userID), zap.String("status", created[0].ID))
	return created[0], nil
}

// MarkViewed records that viewerID opened the status update.
func (s *Service) MarkViewed(ctx context.Context, statusID, viewerID string) error {
	if statusID == "" {
		return ErrIDRequired
	}
	if viewerID == "" {
		return ErrUserRequired
	}
	if err := s.db.Insert(ctx, tableViews, social.StatusView{StatusID: statusID, ViewerID: viewerID}, nil); err != nil {
		return fmt.Errorf("record status view: %w", err)
	}
	return nil
}

// Remove deletes a status update.
func (s *Service) Remove(ctx context.Context, statusID string) error {
	if statusID == "" {
		return ErrIDRequired
	}
	if err := s.db.Delete(ctx, tableStatus, backend.From("").Eq("id", statusID)); err != nil {
		return fmt.Errorf("delete status update: %w", err)
	}
	return nil
}

// profile looks up a user profile; a missing or failing lookup yields nil.
func (s *Service) profile(ctx context.Context, userID string) *social.Profile {
	var rows []social.Profile
	if err := s.db.Select(ctx, tableProfiles, backend.From("*").Eq("id", userID).Limit(1), &rows); err != nil {
		logger.Log.Warn("profile_lookup_failed", zap.String("user", userID), zap.Error(err))
		return nil
	}
	if len(rows) == 0 {
		return nil
	}
	return &rows[0]
}

func contentType(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return social.ContentImage
	case strings.HasPrefix(mimeType, "video/"):
		return social.ContentVideo
	default:
		return social.ContentText
	}
}
