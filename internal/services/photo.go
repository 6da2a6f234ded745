package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	AvatarSize        = 512
	// MaxSourcePixels bounds what is decoded; compressed size says nothing
	// about the decoded bitmap.
	MaxSourcePixels   = 4096 * 4096
	avatarJPEGQuality = 80
	avatarKeyPrefix   = "profile_photos/"
)

var (
	ErrUnsupportedImage     = errors.New("image must be a JPEG, PNG or WebP file")
	ErrImageTooLarge        = errors.New("image is too large")
	ErrStorageNotConfigured = errors.New("photo storage is not configured")
	ErrStorageUnavailable   = errors.New("photo storage is unavailable")
)

// ObjectStore writes public objects and returns their URL.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// PhotoService normalizes uploaded avatars and stores them. It never touches
// the profile: the client saves the returned URL with a profile update.
type PhotoService struct {
	store    ObjectStore
	maxBytes int64
	now      func() time.Time
}

func NewPhotoService(store ObjectStore, maxBytes int64) *PhotoService {
	return &PhotoService{store: store, maxBytes: maxBytes, now: time.Now}
}

func (s *PhotoService) UploadProfilePhoto(ctx context.Context, userID uuid.UUID, data []byte) (string, error) {
	if s.store == nil {
		return "", ErrStorageNotConfigured
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return "", ErrImageTooLarge
	}

	avatar, err := RenderAvatarJPEG(data)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s%s_%d.jpg", avatarKeyPrefix, userID, s.now().UnixNano())
	url, err := s.store.Put(ctx, key, avatar, "image/jpeg")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return url, nil
}

// RenderAvatarJPEG center-crops an image to a square and scales it to
// AvatarSize x AvatarSize.
func RenderAvatarJPEG(data []byte) ([]byte, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, ErrUnsupportedImage
	}
	switch format {
	case "jpeg", "png", "webp":
	default:
		return nil, ErrUnsupportedImage
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, ErrUnsupportedImage
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxSourcePixels {
		return nil, ErrImageTooLarge
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, ErrUnsupportedImage
	}

	crop := centerSquare(src.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, AvatarSize, AvatarSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: avatarJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func centerSquare(b image.Rectangle) image.Rectangle {
	side := b.Dx()
	if b.Dy() < side {
		side = b.Dy()
	}
	x := b.Min.X + (b.Dx()-side)/2
	y := b.Min.Y + (b.Dy()-side)/2
	return image.Rect(x, y, x+side, y+side)
}
