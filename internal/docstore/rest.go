package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/eternisai/content-planner-proxy/internal/logger"
	"golang.org/x/oauth2"
)

// TokenProvider supplies bearer tokens for the Firestore REST API.
// googleauth.TokenSource implements it.
type TokenProvider interface {
	TokenContext(ctx context.Context) (*oauth2.Token, error)
	Invalidate()
}

// Value is a Firestore REST typed value. Exactly one field is set.
type Value struct {
	StringValue    *string `json:"stringValue,omitempty"`
	BooleanValue   *bool   `json:"booleanValue,omitempty"`
	TimestampValue *string `json:"timestampValue,omitempty"`
}

func StringValue(s string) Value { return Value{StringValue: &s} }

func BoolValue(b bool) Value { return Value{BooleanValue: &b} }

func TimestampValue(t time.Time) Value {
	s := t.UTC().Format(time.RFC3339Nano)
	return Value{TimestampValue: &s}
}

// Document is a Firestore REST document.
type Document struct {
	Name   string           `json:"name,omitempty"`
	Fields map[string]Value `json:"fields"`
}

// StatusError is a non-2xx Firestore response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("firestore returned %d: %s", e.Status, e.Message)
}

// RESTStore talks to the Firestore REST API v1.
type RESTStore struct {
	baseURL    string
	projectID  string
	tokens     TokenProvider
	httpClient *http.Client
	logger     *logger.Logger
}

var _ Store = (*RESTStore)(nil)

// NewRESTStore creates a REST-backed store. baseURL is e.g. https://firestore.googleapis.com/v1.
func NewRESTStore(baseURL, projectID string, tokens TokenProvider, httpClient *http.Client, log *logger.Logger) *RESTStore {
	return &RESTStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		projectID:  projectID,
		tokens:     tokens,
		httpClient: httpClient,
		logger:     log.WithComponent("docstore"),
	}
}

func (s *RESTStore) documentURL(collection, id string, mask []string) string {
	u := fmt.Sprintf("%s/projects/%s/databases/(default)/documents/%s/%s",
		s.baseURL, url.PathEscape(s.projectID), collection, url.PathEscape(id))

	if len(mask) > 0 {
		q := url.Values{}
		for _, field := range mask {
			q.Add("updateMask.fieldPaths", field)
		}
		u += "?" + q.Encode()
	}
	return u
}

func (s *RESTStore) GetUserAPIKey(ctx context.Context, uid string) (string, error) {
	if err := validateID(uid); err != nil {
		return "", err
	}

	var doc Document
	if err := s.do(ctx, http.MethodGet, s.documentURL(UserAPIKeysCollection, uid, nil), nil, &doc); err != nil {
		return "", err
	}

	v, ok := doc.Fields[FieldGeminiAPIKey]
	if !ok || v.StringValue == nil || *v.StringValue == "" {
		return "", ErrNotFound
	}

	return *v.StringValue, nil
}

func (s *RESTStore) SaveUserAPIKey(ctx context.Context, uid, apiKey string, at time.Time) error {
	if err := validateID(uid); err != nil {
		return err
	}

	fields := map[string]Value{
		FieldGeminiAPIKey: StringValue(apiKey),
		FieldUpdatedAt:    TimestampValue(at),
	}
	return s.patch(ctx, UserAPIKeysCollection, uid, fields)
}

func (s *RESTStore) MarkPremium(ctx context.Context, uid string, at time.Time, source string) error {
	if err := validateID(uid); err != nil {
		return err
	}

	fields := map[string]Value{
		FieldIsPremium:          BoolValue(true),
		FieldPremiumActivatedAt: TimestampValue(at),
		FieldPremiumSource:      StringValue(source),
	}
	return s.patch(ctx, UsersCollection, uid, fields)
}

// patch writes fields with an update mask so the rest of the document is kept.
func (s *RESTStore) patch(ctx context.Context, collection, id string, fields map[string]Value) error {
	mask := make([]string, 0, len(fields))
	for name := range fields {
		mask = append(mask, name)
	}
	sort.Strings(mask)

	body, err := json.Marshal(Document{Fields: fields})
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	return s.do(ctx, http.MethodPatch, s.documentURL(collection, id, mask), body, nil)
}

// do sends an authorized request. A 401 means the cached token went bad: it is dropped
// and the request is retried once with a fresh one.
func (s *RESTStore) do(ctx context.Context, method, u string, body []byte, out any) error {
	err := s.doOnce(ctx, method, u, body, out)

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Status == http.StatusUnauthorized {
		s.logger.WithContext(ctx).Warn("firestore rejected access token, retrying with a fresh one",
			slog.String("method", method))
		s.tokens.Invalidate()
		err = s.doOnce(ctx, method, u, body, out)
	}

	return err
}

func (s *RESTStore) doOnce(ctx context.Context, method, u string, body []byte, out any) error {
	token, err := s.tokens.TokenContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create firestore request: %w", err)
	}
	token.SetAuthHeader(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("firestore request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read firestore response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

		var env struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &env) == nil && env.Error.Message != "" {
			statusErr.Message = env.Error.Message
		}
		return statusErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode firestore response: %w", err)
		}
	}

	return nil
}
