package extractor

import (
	"context"
	"encoding/json"
	"fmt"
)

// Metadata is the subset of the extractor's JSON dump that the catalog
// layer consumes.
type Metadata struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Uploader   string   `json:"uploader,omitempty"`
	Duration   float64  `json:"duration,omitempty"`
	WebpageURL string   `json:"webpage_url,omitempty"`
	Thumbnail  string   `json:"thumbnail,omitempty"`
	IsLive     bool     `json:"is_live,omitempty"`
	Formats    []Format `json:"formats,omitempty"`
}

// Format describes one available rendition.
type Format struct {
	FormatID   string  `json:"format_id"`
	Ext        string  `json:"ext,omitempty"`
	Resolution string  `json:"resolution,omitempty"`
	Height     int     `json:"height,omitempty"`
	FPS        float64 `json:"fps,omitempty"`
	VCodec     string  `json:"vcodec,omitempty"`
	ACodec     string  `json:"acodec,omitempty"`
}

// Premerged reports whether this rendition carries both audio and video in
// a single file. The extractor reports "none" for an absent track.
func (f Format) Premerged() bool {
	return f.VCodec != "" && f.VCodec != "none" && f.ACodec != "" && f.ACodec != "none"
}

// FetchMetadata runs the metadata dump invocation for a source and parses
// the result.
func FetchMetadata(ctx context.Context, binary string, inv Invocation, sourceRef string) (*Metadata, error) {
	out, _, err := runCapture(ctx, binary, inv, sourceRef)
	if err != nil {
		return nil, err
	}

	var md Metadata
	if err := json.Unmarshal(out, &md); err != nil {
		return nil, fmt.Errorf("parsing extractor metadata: %w", err)
	}
	return &md, nil
}
