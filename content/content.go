// Package content stores the site content documents and raw uploads that
// admins edit through the API.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jmcleod/showcase/internal/uuid"
	"github.com/jmcleod/showcase/storage"
)

const (
	documentTable = "site_content"
	uploadTable   = "uploads"
)

var (
	ErrNotFound        = errors.New("content not found")
	ErrInvalidKey      = errors.New("invalid content key")
	ErrInvalidDocument = errors.New("content value must be a JSON object or array")
	ErrEmptyUpload     = errors.New("upload is empty")
)

var keyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,127}$`)

// ValidKey reports whether key may name a document.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// Document is one site content entry, e.g. the hero text or the about page.
type Document struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedBy string          `json:"updatedBy"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Version   uint64          `json:"version"`
}

// Upload is a stored file. Data is omitted from listings.
type Upload struct {
	ID          string    `json:"id"`
	Size        int       `json:"size"`
	ContentType string    `json:"contentType"`
	UploadedBy  string    `json:"uploadedBy"`
	CreatedAt   time.Time `json:"createdAt"`
	Data        []byte    `json:"data,omitempty"`
}

// Store keeps documents and uploads in a storage.Repository.
type Store struct {
	repo storage.Repository
	now  func() time.Time
}

func NewStore(repo storage.Repository) *Store {
	return &Store{repo: repo, now: time.Now}
}

// Get returns the document stored under key.
func (s *Store) Get(ctx context.Context, key string) (Document, error) {
	if !ValidKey(key) {
		return Document{}, ErrInvalidKey
	}
	env, err := s.repo.Get(ctx, documentTable, key)
	if errors.Is(err, storage.ErrNotFound) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("loading content %s: %w", key, err)
	}
	var doc Document
	if err := storage.UnmarshalRecord(env, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Put creates or replaces the document under key. Concurrent writers are
// serialised by a version check; the later one wins.
func (s *Store) Put(ctx context.Context, key string, value json.RawMessage, subjectID string) (Document, error) {
	if !ValidKey(key) {
		return Document{}, ErrInvalidKey
	}
	if !json.Valid(value) || (len(value) > 0 && value[0] != '{' && value[0] != '[') {
		return Document{}, ErrInvalidDocument
	}

	var out Document
	err := s.repo.Batch(ctx, func(tx storage.BatchTx) error {
		var prev uint64
		env, err := tx.Get(documentTable, key)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return err
		default:
			var cur Document
			if err := storage.UnmarshalRecord(env, &cur); err != nil {
				return err
			}
			prev = cur.Version
		}
		out = Document{
			Key:       key,
			Value:     value,
			UpdatedBy: subjectID,
			UpdatedAt: s.now().UTC(),
			Version:   prev + 1,
		}
		row, err := storage.MarshalRecord(out, out.Version)
		if err != nil {
			return err
		}
		return tx.PutCAS(documentTable, key, prev, row)
	})
	if err != nil {
		return Document{}, fmt.Errorf("storing content %s: %w", key, err)
	}
	return out, nil
}

// Delete removes the document under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if !ValidKey(key) {
		return ErrInvalidKey
	}
	err := s.repo.Batch(ctx, func(tx storage.BatchTx) error {
		if _, err := tx.Get(documentTable, key); err != nil {
			return err
		}
		return tx.Delete(documentTable, key)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting content %s: %w", key, err)
	}
	return nil
}

// SaveUpload stores data and returns its metadata.
func (s *Store) SaveUpload(ctx context.Context, data []byte, contentType, subjectID string) (Upload, error) {
	if len(data) == 0 {
		return Upload{}, ErrEmptyUpload
	}
	up := Upload{
		ID:          uuid.NewOrdered(),
		Size:        len(data),
		ContentType: contentType,
		UploadedBy:  subjectID,
		CreatedAt:   s.now().UTC(),
		Data:        data,
	}
	row, err := storage.MarshalRecord(up, 1)
	if err != nil {
		return Upload{}, err
	}
	if err := s.repo.PutCAS(ctx, uploadTable, up.ID, 0, row); err != nil {
		return Upload{}, fmt.Errorf("storing upload: %w", err)
	}
	up.Data = nil
	return up, nil
}

// GetUpload returns the upload with its data.
func (s *Store) GetUpload(ctx context.Context, id string) (Upload, error) {
	env, err := s.repo.Get(ctx, uploadTable, id)
	if errors.Is(err, storage.ErrNotFound) {
		return Upload{}, ErrNotFound
	}
	if err != nil {
		return Upload{}, fmt.Errorf("loading upload %s: %w", id, err)
	}
	var up Upload
	if err := storage.UnmarshalRecord(env, &up); err != nil {
		return Upload{}, err
	}
	return up, nil
}
