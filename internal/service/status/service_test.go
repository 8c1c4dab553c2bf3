package status

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zhouzirui/z-tavern/messenger/internal/backend"
	"github.com/zhouzirui/z-tavern/messenger/internal/backend/backendtest"
	"github.com/zhouzirui/z-tavern/messenger/internal/model/social"
)

func setup(t *testing.T) (*Service, *backendtest.Server) {
	t.Helper()
	srv := backendtest.NewServer("anon")
	t.Cleanup(srv.Close)
	return NewService(backend.New(srv.URL, "anon", srv.Client())), srv
}

func TestListSplitsAndSkipsExpired(t *testing.T) {
	svc, srv := setup(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	srv.Seed("profiles",
		backendtest.Row{"id": "me", "username": "me", "full_name": "Me"},
		backendtest.Row{"id": "ann", "username": "ann", "full_name": "Ann"},
	)
	srv.Seed("status_updates",
		backendtest.Row{"id": "s1", "user_id": "ann", "content_type": "text", "caption": "old",
			"expires_at": now.Add(-time.Minute).Format(time.RFC3339Nano), "created_at": now.Add(-25 * time.Hour).Format(time.RFC3339Nano)},
		backendtest.Row{"id": "s2", "user_id": "ann", "content_type": "text", "caption": "first",
			"expires_at": now.Add(time.Hour).Format(time.RFC3339Nano), "created_at": now.Add(-23 * time.Hour).Format(time.RFC3339Nano)},
		backendtest.Row{"id": "s3", "user_id": "ann", "content_type": "text", "caption": "second",
			"expires_at": now.Add(2 * time.Hour).Format(time.RFC3339Nano), "created_at": now.Add(-22 * time.Hour).Format(time.RFC3339Nano)},
		backendtest.Row{"id": "s4", "user_id": "me", "content_type": "text", "caption": "mine",
			"expires_at": now.Add(3 * time.Hour).Format(time.RFC3339Nano), "created_at": now.Add(-time.Hour).Format(time.RFC3339Nano)},
	)

	feed, err := svc.List(context.Background(), "me")
	if err != nil {
		t.Fatalf("List err: %v", err)
	}
	if len(feed.Mine) != 1 || feed.Mine[0].ID != "s4" {
		t.Fatalf("unexpected own statuses: %+v", feed.Mine)
	}
	if len(feed.Others) != 2 || feed.Others[0].ID != "s3" || feed.Others[1].ID != "s2" {
		t.Fatalf("unexpected other statuses: %+v", feed.Others)
	}
	if feed.Others[0].Author == nil || feed.Others[0].Author.FullName != "Ann" {
		t.Fatalf("expected author profile attached, got %+v", feed.Others[0].Author)
	}
	if feed.Others[0].Author != feed.Others[1].Author {
		t.Fatalf("expected one profile lookup per author")
	}
}

func TestPostText(t *testing.T) {
	svc, srv := setup(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	created, err := svc.Post(context.Background(), "me", Draft{Caption: "  hello  "})
	if err != nil {
		t.Fatalf("Post err: %v", err)
	}
	if created.ID == "" || created.ContentType != social.ContentText {
		t.Fatalf("unexpected status: %+v", created)
	}
	if created.Caption == nil || *created.Caption != "hello" {
		t.Fatalf("expected trimmed caption, got %v", created.Caption)
	}
	if !created.ExpiresAt.Equal(now.Add(Lifetime)) {
		t.Fatalf("expected expiry %v, got %v", now.Add(Lifetime), created.ExpiresAt)
	}
	if rows := srv.Rows("status_updates"); len(rows) != 1 {
		t.Fatalf("expected one stored row, got %d", len(rows))
	}
}

func TestPostMediaUploadsFirst(t *testing.T) {
	svc, srv := setup(t)

	created, err := svc.Post(context.Background(), "me", Draft{
		Media:    strings.NewReader("png-bytes"),
		FileName: "beach.png",
	})
	if err != nil {
		t.Fatalf("Post err: %v", err)
	}
	if created.ContentType != social.ContentImage {
		t.Fatalf("expected image content, got %q", created.ContentType)
	}
	if created.ContentURL == nil {
		t.Fatalf("expected content url")
	}
	prefix := srv.URL + "/storage/v1/object/public/status/me/"
	if !strings.HasPrefix(*created.ContentURL, prefix) || !strings.HasSuffix(*created.ContentURL, ".png") {
		t.Fatalf("unexpected content url %q", *created.ContentURL)
	}
	objectPath := strings.TrimPrefix(*created.ContentURL, srv.URL+"/storage/v1/object/public/status/")
	data, ok := srv.Object("status", objectPath)
	if !ok || string(data) != "png-bytes" {
		t.Fatalf("expected uploaded media at %q", objectPath)
	}
}

func TestPostVideoByMimeType(t *testing.T) {
	svc, _ := setup(t)
	created, err := svc.Post(context.Background(), "me", Draft{
		Media:    strings.NewReader("mp4"),
		FileName: "clip.bin",
		MimeType: "video/mp4",
	})
	if err != nil {
		t.Fatalf("Post err: %v", err)
	}
	if created.ContentType != social.ContentVideo {
		t.Fatalf("expected video content, got %q", created.ContentType)
	}
}

func TestPostValidation(t *testing.T) {
	svc, srv := setup(t)
	if _, err := svc.Post(context.Background(), "", Draft{Caption: "x"}); !errors.Is(err, ErrUserRequired) {
		t.Fatalf("expected ErrUserRequired, got %v", err)
	}
	if _, err := svc.Post(context.Background(), "me", Draft{Caption: "   "}); !errors.Is(err, ErrEmptyStatus) {
		t.Fatalf("expected ErrEmptyStatus, got %v", err)
	}
	if rows := srv.Rows("status_updates"); len(rows) != 0 {
		t.Fatalf("expected nothing stored, got %d rows", len(rows))
	}
}

func TestMarkViewedAndRemove(t *testing.T) {
	svc, srv := setup(t)
	srv.Seed("status_updates",
		backendtest.Row{"id": "s1", "user_id": "ann"},
		backendtest.Row{"id": "s2", "user_id": "ann"},
	)

	if err := svc.MarkViewed(context.Background(), "s1", "me"); err != nil {
		t.Fatalf("MarkViewed err: %v", err)
	}
	views := srv.Rows("status_views")
	if len(views) != 1 || views[0]["status_id"] != "s1" || views[0]["viewer_id"] != "me" {
		t.Fatalf("unexpected views: %+v", views)
	}

	if err := svc.Remove(context.Background(), "s1"); err != nil {
		t.Fatalf("Remove err: %v", err)
	}
	rows := srv.Rows("status_updates")
	if len(rows) != 1 || rows[0]["id"] != "s2" {
		t.Fatalf("unexpected rows after remove: %+v", rows)
	}

	if err := svc.Remove(context.Background(), ""); !errors.Is(err, ErrIDRequired) {
		t.Fatalf("expected ErrIDRequired, got %v", err)
	}
}
