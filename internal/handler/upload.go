package handler

import (
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gofiber/fiber/v2"

	"github.com/sonicgenius/api/internal/analysis"
	"github.com/sonicgenius/api/internal/model"
	"github.com/sonicgenius/api/pkg/response"
)

const formFileField = "file"

// upload is an audio or video file accepted for analysis
type upload struct {
	Data      []byte
	MediaType string
}

// readUpload reads the multipart file of an audio analysis. It writes the
// error response itself and returns ok=false when the upload is rejected.
func readUpload(c *fiber.Ctx, maxBytes int64) (*upload, bool, error) {
	file, err := c.FormFile(formFileField)
	if err != nil {
		return nil, false, response.ValidationError(c, "File is required", nil)
	}

	if maxBytes > 0 && file.Size > maxBytes {
		return nil, false, response.ValidationError(c, fmt.Sprintf("File size exceeds %dMB limit", maxBytes/(1024*1024)), fiber.Map{
			"maxSize":  maxBytes,
			"fileSize": file.Size,
		})
	}

	f, err := file.Open()
	if err != nil {
		return nil, false, response.AnalysisError(c, analysis.InputReadError(err), model.ModeAudio)
	}
	defer f.Close()

	var r io.Reader = f
	if maxBytes > 0 {
		r = io.LimitReader(f, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, response.AnalysisError(c, analysis.InputReadError(err), model.ModeAudio)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, false, response.ValidationError(c, fmt.Sprintf("File size exceeds %dMB limit", maxBytes/(1024*1024)), nil)
	}

	mediaType := resolveMediaType(file.Header.Get(fiber.HeaderContentType), data)
	if !acceptedMediaType(mediaType) {
		return nil, false, response.ValidationError(c, "Invalid file type. Supported: audio and video files", fiber.Map{
			"contentType": mediaType,
		})
	}

	return &upload{Data: data, MediaType: mediaType}, true, nil
}

// resolveMediaType trusts a declared type unless it is missing or generic,
// then sniffs the content. Unknown content is treated as mp3.
func resolveMediaType(declared string, data []byte) string {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}

	detected := mimetype.Detect(data)
	if detected.Is("application/octet-stream") {
		return analysis.DefaultAudioMediaType
	}
	mt, _, err := mime.ParseMediaType(detected.String())
	if err != nil {
		return analysis.DefaultAudioMediaType
	}
	return mt
}

func acceptedMediaType(mt string) bool {
	return strings.HasPrefix(mt, "audio/") || strings.HasPrefix(mt, "video/")
}
