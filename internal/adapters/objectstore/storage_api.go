package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pantrykeep/mealimages/internal/constants"
	"github.com/pantrykeep/mealimages/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const listLimit = 100

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type storageAPIMetricsCollection struct {
	requestCount metric.Int64Counter
}

type storageAPI struct {
	httpClient HttpClient
	baseURL    string
	publicURL  string
	bucket     string
	serviceKey string
	timeout    time.Duration

	metrics storageAPIMetricsCollection
	tracer  trace.Tracer
}

// NewStorageAPI returns a store backed by the storage REST API at baseURL.
// Public URLs are built as {publicURL}/{bucket}/{filename}.
func NewStorageAPI(
	httpClient HttpClient,
	baseURL string,
	publicURL string,
	bucket string,
	serviceKey string,
	timeout time.Duration,
) (*storageAPI, error) {
	const name = "mealimages/objectstore/storageapi"

	meter := otel.Meter(name)
	tracer := otel.Tracer(name)

	requestCount, err := meter.Int64Counter("objectstore/storageapi/request_count")
	if err != nil {
		return nil, fmt.Errorf("failed to create request count metric: %w", err)
	}

	return &storageAPI{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		publicURL:  strings.TrimRight(publicURL, "/"),
		bucket:     bucket,
		serviceKey: serviceKey,
		timeout:    timeout,

		metrics: storageAPIMetricsCollection{
			requestCount: requestCount,
		},
		tracer: tracer,
	}, nil
}

type listRequest struct {
	Prefix string `json:"prefix"`
	Search string `json:"search"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

type listedObject struct {
	Name string `json:"name"`
}

// NOTE: Callers are expected to handle their own error reporting
func (s *storageAPI) List(ctx context.Context, pattern string) ([]domain.StoredObject, error) {
	ctx, span := s.tracer.Start(ctx, "StorageAPI.List")
	defer span.End()

	body, err := json.Marshal(listRequest{
		Prefix: "",
		Search: pattern,
		Limit:  listLimit,
		Offset: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal list request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/object/list/%s", s.baseURL, url.PathEscape(s.bucket))
	statusCode, data, err := s.do(ctx, "list", endpoint, bytes.NewReader(body), "application/json", nil)
	if err != nil {
		return nil, err
	}

	if err := errorFromStorageResponse(statusCode, data); err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}

	var listed []listedObject
	if err := json.Unmarshal(data, &listed); err != nil {
		return nil, fmt.Errorf("failed to parse list response: %w", err)
	}

	objects := make([]domain.StoredObject, 0, len(listed))
	for _, object := range listed {
		objects = append(objects, domain.StoredObject{Name: object.Name})
	}
	return objects, nil
}

// NOTE: Callers are expected to handle their own error reporting
func (s *storageAPI) Upload(ctx context.Context, filename string, data []byte, contentType string) error {
	ctx, span := s.tracer.Start(ctx, "StorageAPI.Upload")
	defer span.End()

	endpoint := fmt.Sprintf("%s/object/%s/%s", s.baseURL, url.PathEscape(s.bucket), url.PathEscape(filename))
	statusCode, respData, err := s.do(ctx, "upload", endpoint, bytes.NewReader(data), contentType, map[string]string{
		"x-upsert":      "true",
		"Cache-Control": "max-age=31536000",
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUploadFailed, err)
	}

	if err := errorFromStorageResponse(statusCode, respData); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUploadFailed, err)
	}

	return nil
}

func (s *storageAPI) PublicURL(filename string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicURL, s.bucket, filename)
}

func (s *storageAPI) do(ctx context.Context, operation string, endpoint string, body io.Reader, contentType string, headers map[string]string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", constants.USER_AGENT)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)
	for header, value := range headers {
		req.Header.Set(header, value)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	s.metrics.requestCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status_code", strconv.Itoa(resp.StatusCode)),
	))

	return resp.StatusCode, data, nil
}

type storageErrorResponse struct {
	StatusCode string `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// The storage API sometimes reports authorization failures as 400 with the real status in the body
func errorFromStorageResponse(statusCode int, data []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var response storageErrorResponse
	_ = json.Unmarshal(data, &response)

	switch {
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden,
		response.StatusCode == "401",
		response.StatusCode == "403":
		return fmt.Errorf("%w: status %d: %s %s", domain.ErrStoragePermissionDenied, statusCode, response.Error, response.Message)
	}

	return fmt.Errorf("storage API returned status %d: %s %s", statusCode, response.Error, response.Message)
}
