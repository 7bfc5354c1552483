// Package models holds the documents persisted in MongoDB. Field names in
// bson tags are the collection layout; json tags are the API shape.
package models

import (
	"lazone/api/internal/utils"
)

// Base carries the SixID primary key shared by every document.
type Base struct {
	ID utils.SixID `bson:"_id,omitempty" json:"id,omitempty"`
}

// NewBase returns a Base with a fresh id.
func NewBase() Base {
	return Base{ID: utils.NewSixID()}
}

// GenID assigns a fresh id, replacing any previous one. Inserts call it
// again after a duplicate key error.
func (m *Base) GenID() {
	m.ID = utils.NewSixID()
}

// GenIDIfEmpty assigns an id to a document that has none yet.
func (m *Base) GenIDIfEmpty() {
	if m.ID.IsZero() {
		m.GenID()
	}
}
