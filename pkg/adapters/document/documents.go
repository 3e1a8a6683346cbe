package document

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/histograph/histograph-sink/pkg/apperrors"
	"github.com/histograph/histograph-sink/pkg/tokens"
)

// Errors identifying which half of UpdateDocument failed.
var (
	// ErrUpdateDeletePhase means the old document is unchanged.
	ErrUpdateDeletePhase = errors.New("update failed while deleting the old document")
	// ErrUpdateAddPhase means the old document is gone and the new one was
	// not stored. Repeating the update is safe.
	ErrUpdateAddPhase = errors.New("update failed while adding the new document")
)

// UpdateState is the progress of an UpdateDocument call.
type UpdateState string

const (
	UpdateStart   UpdateState = "start"
	UpdateDeleted UpdateState = "deleted"
	UpdateAdded   UpdateState = "added"
	UpdateFailed  UpdateState = "failed"
)

// UpdateResult carries both sub-responses of UpdateDocument. State is
// UpdateAdded on success, UpdateDeleted when the add failed after a
// successful delete, and UpdateFailed when nothing was changed.
type UpdateResult struct {
	State  UpdateState
	Delete *Response
	Add    *Response
}

// BuildDocument projects fields onto the stored document: hgid, source
// (from sourceid), name and type when present, geometry as a nested JSON value
// when present, and uri, hasBeginning and hasEnd when present. Nothing else is
// copied; in particular the raw data payload never is.
func BuildDocument(fields map[string]string) (map[string]any, error) {
	doc := make(map[string]any, 8)

	copyIfPresent(doc, fields, tokens.HGID, tokens.HGID)
	if _, ok := fields[tokens.SourceID]; ok {
		copyIfPresent(doc, fields, tokens.SourceID, tokens.Source)
	} else {
		copyIfPresent(doc, fields, tokens.Source, tokens.Source)
	}
	copyIfPresent(doc, fields, tokens.PITName, tokens.PITName)
	copyIfPresent(doc, fields, tokens.PITType, tokens.PITType)

	if raw, ok := fields[tokens.PITGeometry]; ok {
		var geometry any
		if err := json.Unmarshal([]byte(raw), &geometry); err != nil {
			return nil, fmt.Errorf("%w: geometry of %q is not valid JSON: %w", apperrors.ErrValidation, fields[tokens.HGID], err)
		}
		doc[tokens.PITGeometry] = geometry
	}

	copyIfPresent(doc, fields, tokens.PITURI, tokens.PITURI)
	copyIfPresent(doc, fields, tokens.PITHasBeginning, tokens.PITHasBeginning)
	copyIfPresent(doc, fields, tokens.PITHasEnd, tokens.PITHasEnd)

	return doc, nil
}

func copyIfPresent(doc map[string]any, fields map[string]string, from, to string) {
	if v, ok := fields[from]; ok {
		doc[to] = v
	}
}

// AddDocument stores the projection of fields under the record's hgid,
// replacing any document with that id. The caller's map is not modified. The
// backend reply is returned even when it reports an error.
func (s *Store) AddDocument(ctx context.Context, fields map[string]string) (*Response, error) {
	doc, err := s.prepare(fields)
	if err != nil {
		return nil, err
	}
	return s.index(ctx, fields[tokens.HGID], doc)
}

// DeleteDocument removes the document with the record's hgid. A missing
// document is not an error: the 404 reply is returned with a nil error.
func (s *Store) DeleteDocument(ctx context.Context, fields map[string]string) (*Response, error) {
	hgid, err := requireHGID(fields)
	if err != nil {
		return nil, err
	}

	opts := []func(*esapi.DeleteRequest){s.client.Delete.WithContext(ctx)}
	if s.opts.Refresh != "" {
		opts = append(opts, s.client.Delete.WithRefresh(s.opts.Refresh))
	}

	res, err := s.client.Delete(s.opts.Index, documentID(hgid), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: delete %q at %s: %w", apperrors.ErrConnectivity, hgid, s.opts.Address(), err)
	}
	resp, err := readResponse(res)
	if err != nil {
		return nil, err
	}

	if resp.NotFound() {
		s.logger.Debug("Document to delete did not exist", zap.String("hgid", hgid))
		return resp, nil
	}
	if res.IsError() {
		return resp, fmt.Errorf("%w: delete %q returned %d: %s", apperrors.ErrPersistence, hgid, resp.StatusCode, resp.Body)
	}

	return resp, nil
}

// UpdateDocument replaces the document for the record's hgid by deleting it
// and adding the new projection. The two steps are not atomic. Input is
// validated before the delete so a malformed record never removes a document.
//
// On delete failure the error wraps ErrUpdateDeletePhase and State is
// UpdateFailed. On add failure the error wraps ErrUpdateAddPhase and State is
// UpdateDeleted: the document is absent until the update is repeated.
func (s *Store) UpdateDocument(ctx context.Context, fields map[string]string) (*UpdateResult, error) {
	result := &UpdateResult{State: UpdateStart}

	doc, err := s.prepare(fields)
	if err != nil {
		result.State = UpdateFailed
		return result, fmt.Errorf("%w: %w", ErrUpdateDeletePhase, err)
	}
	hgid := fields[tokens.HGID]

	result.Delete, err = s.DeleteDocument(ctx, fields)
	if err != nil {
		result.State = UpdateFailed
		return result, fmt.Errorf("%w: %w", ErrUpdateDeletePhase, err)
	}
	result.State = UpdateDeleted

	result.Add, err = s.index(ctx, hgid, doc)
	if err != nil {
		s.logger.Warn("Document removed but not re-added",
			zap.String("hgid", hgid),
			zap.Error(err))
		return result, fmt.Errorf("%w: %w", ErrUpdateAddPhase, err)
	}
	result.State = UpdateAdded

	return result, nil
}

// GetDocument fetches the stored document for hgid. found is false when the
// backend reports the document missing.
func (s *Store) GetDocument(ctx context.Context, hgid string) (*Response, bool, error) {
	res, err := s.client.Get(s.opts.Index, documentID(hgid), s.client.Get.WithContext(ctx))
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %q at %s: %w", apperrors.ErrConnectivity, hgid, s.opts.Address(), err)
	}
	resp, err := readResponse(res)
	if err != nil {
		return nil, false, err
	}

	if resp.NotFound() {
		return resp, false, nil
	}
	if res.IsError() {
		return resp, false, fmt.Errorf("%w: get %q returned %d: %s", apperrors.ErrPersistence, hgid, resp.StatusCode, resp.Body)
	}

	return resp, true, nil
}

// prepare validates fields and builds the stored document.
func (s *Store) prepare(fields map[string]string) (map[string]any, error) {
	if _, err := requireHGID(fields); err != nil {
		return nil, err
	}
	return BuildDocument(fields)
}

func (s *Store) index(ctx context.Context, hgid string, doc map[string]any) (*Response, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document %q: %w", hgid, err)
	}

	opts := []func(*esapi.IndexRequest){
		s.client.Index.WithDocumentID(documentID(hgid)),
		s.client.Index.WithContext(ctx),
	}
	if s.opts.Refresh != "" {
		opts = append(opts, s.client.Index.WithRefresh(s.opts.Refresh))
	}

	res, err := s.client.Index(s.opts.Index, bytes.NewReader(body), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: index %q at %s: %w", apperrors.ErrConnectivity, hgid, s.opts.Address(), err)
	}
	resp, err := readResponse(res)
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return resp, fmt.Errorf("%w: index %q returned %d: %s", apperrors.ErrPersistence, hgid, resp.StatusCode, resp.Body)
	}

	s.logger.Debug("Indexed document",
		zap.String("hgid", hgid),
		zap.String("result", resp.Result()))

	return resp, nil
}

// documentID escapes hgid for use as a URL path segment. hgids such as
// "pit/42" contain slashes.
func documentID(hgid string) string {
	return url.PathEscape(hgid)
}

func requireHGID(fields map[string]string) (string, error) {
	hgid := fields[tokens.HGID]
	if hgid == "" {
		return "", fmt.Errorf("%w: record has no %s", apperrors.ErrValidation, tokens.HGID)
	}
	return hgid, nil
}
