package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nagarsathi/civic-issues-api/config"
)

// Uploader pushes issue and resolution photos to the media CDN
type Uploader struct {
	cld *cloudinary.Cloudinary
}

// NewUploader builds an uploader from the configured Cloudinary account.
// With no account configured the uploader is inert and multipart uploads
// are rejected.
func NewUploader(conf *config.Config) *Uploader {
	if conf.CloudinaryCloudName == "" {
		zap.S().Warn("no cloudinary account configured, image uploads disabled")
		return &Uploader{}
	}
	cld, err := cloudinary.NewFromParams(conf.CloudinaryCloudName, conf.CloudinaryAPIKey, conf.CloudinaryAPISecret)
	if err != nil {
		zap.S().With(err).Error("failed to initialize cloudinary, image uploads disabled")
		return &Uploader{}
	}
	return &Uploader{cld: cld}
}

// UploadFormImages uploads every file under the given multipart field and
// returns their hosted URLs. The form must already be parsed.
func (u *Uploader) UploadFormImages(ctx context.Context, r *http.Request, field string, max int, folder string) ([]string, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > max {
		return nil, fmt.Errorf("at most %d images may be attached", max)
	}
	if u.cld == nil {
		return nil, fmt.Errorf("image uploads are not configured")
	}

	urls := make([]string, 0, len(files))
	for _, header := range files {
		file, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open uploaded file %q: %w", header.Filename, err)
		}
		resp, err := u.cld.Upload.Upload(ctx, file, uploader.UploadParams{
			PublicID: uuid.New().String(),
			Folder:   folder,
		})
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to upload %q: %w", header.Filename, err)
		}
		urls = append(urls, resp.SecureURL)
	}
	return urls, nil
}
