package storage

import (
	"bytes"
	"context"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fathima-sithara/sortie-chat/internal/apperr"
	"github.com/fathima-sithara/sortie-chat/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Uploaded describes a stored attachment, ready to be sent as a media message.
type Uploaded struct {
	URL          string             `json:"url"`
	ThumbnailURL string             `json:"thumbnailUrl,omitempty"`
	Key          string             `json:"key"`
	FileName     string             `json:"fileName"`
	ContentType  string             `json:"contentType"`
	Size         int64              `json:"size"`
	Type         models.MessageType `json:"type"`
}

// MediaUploader puts chat attachments into a blob store and adds a JPEG
// thumbnail for images.
type MediaUploader struct {
	blobs      BlobStore
	thumbWidth int
	maxBytes   int64
	log        *zap.SugaredLogger
}

func NewMediaUploader(blobs BlobStore, thumbWidth int, maxBytes int64, log *zap.SugaredLogger) *MediaUploader {
	if thumbWidth <= 0 {
		thumbWidth = 320
	}
	return &MediaUploader{blobs: blobs, thumbWidth: thumbWidth, maxBytes: maxBytes, log: log}
}

func mediaType(contentType string) models.MessageType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return models.MessageImage
	case strings.HasPrefix(contentType, "video/"):
		return models.MessageVideo
	case strings.HasPrefix(contentType, "audio/"):
		return models.MessageAudio
	}
	return models.MessageFile
}

func cleanName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '?' || r == '#' || r == '%' {
			return '_'
		}
		return r
	}, name)
}

func (u *MediaUploader) Upload(ctx context.Context, userID, filename, contentType string, data []byte) (*Uploaded, error) {
	if len(data) == 0 {
		return nil, apperr.Validation("file is empty")
	}
	if u.maxBytes > 0 && int64(len(data)) > u.maxBytes {
		return nil, apperr.Validation("file exceeds %d bytes", u.maxBytes)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	name := cleanName(filename)
	key := userID + "/" + uuid.NewString() + "_" + name

	url, err := u.blobs.Upload(ctx, key, contentType, data)
	if err != nil {
		return nil, apperr.Transient(err, "media upload")
	}
	out := &Uploaded{
		URL:         url,
		Key:         key,
		FileName:    name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Type:        mediaType(contentType),
	}

	if out.Type == models.MessageImage {
		thumb, err := u.thumbnail(data)
		if err != nil {
			u.log.Warnw("thumbnail failed", "key", key, "err", err)
			return out, nil
		}
		turl, err := u.blobs.Upload(ctx, key+"_thumb.jpg", "image/jpeg", thumb)
		if err != nil {
			u.log.Warnw("thumbnail upload failed", "key", key, "err", err)
			return out, nil
		}
		out.ThumbnailURL = turl
	}
	return out, nil
}

func (u *MediaUploader) thumbnail(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	if img.Bounds().Dx() > u.thumbWidth {
		img = imaging.Resize(img, u.thumbWidth, 0, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
