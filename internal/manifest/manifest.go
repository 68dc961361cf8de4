package manifest

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Manifest is the persisted description of one index.
type Manifest struct {
	// ID identifies this index instance.
	ID string `msgpack:"id"`

	CreatedAt time.Time `msgpack:"created_at"`
	UpdatedAt time.Time `msgpack:"updated_at"`

	// Prefix is the key namespace the index lives under.
	Prefix string `msgpack:"prefix"`

	Dim    int    `msgpack:"dim"`
	Metric string `msgpack:"metric"`

	// Threshold is the similarity threshold the parameters were tuned for.
	Threshold float64 `msgpack:"threshold"`

	NumBands    int `msgpack:"num_bands"`
	RowsPerBand int `msgpack:"rows_per_band"`

	// MaxHyperplanes is the budget the parameters were tuned under.
	MaxHyperplanes int `msgpack:"max_hyperplanes,omitempty"`

	Seed uint64 `msgpack:"seed"`

	// Planes holds NumBands*RowsPerBand unit vectors of length Dim, row-major.
	Planes []float32 `msgpack:"planes"`
}

// New creates a manifest with a fresh ID and timestamps.
func New() *Manifest {
	now := time.Now().UTC()
	return &Manifest{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks internal consistency.
func (m *Manifest) Validate() error {
	if m.Dim <= 0 {
		return fmt.Errorf("manifest: invalid dimension %d", m.Dim)
	}
	if m.NumBands <= 0 || m.RowsPerBand <= 0 {
		return fmt.Errorf("manifest: invalid parameters b=%d r=%d", m.NumBands, m.RowsPerBand)
	}
	if m.MaxHyperplanes > 0 && m.NumBands*m.RowsPerBand > m.MaxHyperplanes {
		return fmt.Errorf("manifest: %d hyperplanes exceed budget %d", m.NumBands*m.RowsPerBand, m.MaxHyperplanes)
	}
	if want := m.NumBands * m.RowsPerBand * m.Dim; len(m.Planes) != want {
		return fmt.Errorf("manifest: projection bank has %d values, want %d", len(m.Planes), want)
	}
	if _, err := uuid.Parse(m.ID); err != nil {
		return fmt.Errorf("manifest: invalid id %q: %w", m.ID, err)
	}
	return nil
}
