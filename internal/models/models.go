// package models defines the records kept by the development import server
package models

import (
	"time"
)

// Model is a record with an identity and timestamps that can check its own fields.
type Model interface {
	ID() string
	CreatedAt() time.Time
	UpdatedAt() time.Time
	Validate() error
}

var _ Model = (*Job)(nil)

// Repository is CRUD plus criteria listing for one record type. Criteria keys are
// repository-specific; unknown keys are ignored.
type Repository[T Model] interface {
	Create(model T) error
	Get(id string) (T, error)
	Update(model T) error
	Delete(id string) error
	List(criteria map[string]any) ([]T, error)
}
