package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"vodarr/internal/extractor"
)

// MetadataHandler serves extracted source metadata.
type MetadataHandler struct {
	invocations *extractor.InvocationSet
	binary      string
}

// NewMetadataHandler creates a metadata handler.
func NewMetadataHandler(invocations *extractor.InvocationSet, binary string) *MetadataHandler {
	return &MetadataHandler{invocations: invocations, binary: binary}
}

// MetadataInput identifies a source to inspect.
type MetadataInput struct {
	Source string `path:"source" doc:"Source URL, URL-safe base64 or percent-encoded"`
}

// MetadataOutput is the metadata payload.
type MetadataOutput struct {
	Body extractor.Metadata
}

// Register registers the metadata route with the API.
func (h *MetadataHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getMetadata",
		Method:      "GET",
		Path:        "/api/v1/metadata/{source}",
		Summary:     "Inspect a source",
		Description: "Runs a metadata-only extraction and returns title, duration, and formats",
		Tags:        []string{"Sources"},
	}, h.GetMetadata)
}

// GetMetadata runs a metadata-only extraction for the source.
func (h *MetadataHandler) GetMetadata(ctx context.Context, input *MetadataInput) (*MetadataOutput, error) {
	sourceRef, err := decodeSourceRef(input.Source)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	md, err := extractor.FetchMetadata(ctx, h.binary, h.invocations.Metadata(), sourceRef)
	if err != nil {
		var extErr *extractor.ExtractionError
		switch {
		case errors.Is(err, extractor.ErrStartupTimeout):
			return nil, huma.Error504GatewayTimeout("metadata extraction timed out")
		case errors.As(err, &extErr):
			return nil, huma.Error502BadGateway("metadata extraction failed: " + string(extErr.Reason))
		default:
			return nil, huma.Error500InternalServerError("metadata extraction failed")
		}
	}
	return &MetadataOutput{Body: *md}, nil
}
