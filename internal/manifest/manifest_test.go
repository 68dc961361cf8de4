package manifest

import (
	"bytes"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(planes []float32) *Manifest {
	m := New()
	m.Prefix = "lsh"
	m.Dim = 4
	m.Metric = "cosine"
	m.Threshold = 0.7
	m.NumBands = 2
	m.RowsPerBand = 3
	m.MaxHyperplanes = 4096
	m.Seed = 42
	m.Planes = planes
	return m
}

func constantPlanes(n int) []float32 {
	p := make([]float32, n)
	for i := range p {
		p[i] = 0.5
	}
	return p
}

func randomPlanes(n int) []float32 {
	r := rand.New(rand.NewPCG(1, 2))
	p := make([]float32, n)
	for i := range p {
		p[i] = float32(r.NormFloat64())
	}
	return p
}

func TestRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			m := sample(randomPlanes(24))

			data, err := Marshal(m, c)
			require.NoError(t, err)

			got, err := Unmarshal(data)
			require.NoError(t, err)
			require.NoError(t, got.Validate())

			assert.Equal(t, m.ID, got.ID)
			assert.Equal(t, m.Prefix, got.Prefix)
			assert.Equal(t, m.Dim, got.Dim)
			assert.Equal(t, m.Metric, got.Metric)
			assert.InDelta(t, m.Threshold, got.Threshold, 1e-12)
			assert.Equal(t, m.NumBands, got.NumBands)
			assert.Equal(t, m.RowsPerBand, got.RowsPerBand)
			assert.Equal(t, m.MaxHyperplanes, got.MaxHyperplanes)
			assert.Equal(t, m.Seed, got.Seed)
			assert.Equal(t, m.Planes, got.Planes)
			assert.True(t, m.CreatedAt.Equal(got.CreatedAt))
		})
	}
}

func TestCompressionApplied(t *testing.T) {
	m := sample(constantPlanes(24))
	m.Dim = 400
	m.Planes = constantPlanes(2 * 3 * 400)

	plain, err := Marshal(m, CompressionNone)
	require.NoError(t, err)

	for _, c := range []Compression{CompressionLZ4, CompressionZSTD} {
		packed, err := Marshal(m, c)
		require.NoError(t, err)
		assert.Less(t, len(packed), len(plain), c.String())
		assert.Equal(t, byte(c), packed[6])

		got, err := Unmarshal(packed)
		require.NoError(t, err)
		assert.Equal(t, m.Planes, got.Planes)
	}
}

func TestChecksumMismatch(t *testing.T) {
	data, err := Marshal(sample(randomPlanes(24)), CompressionNone)
	require.NoError(t, err)

	data[len(data)-1] ^= 0xFF
	_, err = Unmarshal(data)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestInvalidMagic(t *testing.T) {
	data, err := Marshal(sample(randomPlanes(24)), CompressionNone)
	require.NoError(t, err)

	data[0] = 'X'
	_, err = Unmarshal(data)
	require.ErrorIs(t, err, ErrInvalidMagic)
}

func TestTruncated(t *testing.T) {
	data, err := Marshal(sample(randomPlanes(24)), CompressionZSTD)
	require.NoError(t, err)

	_, err = ReadBinary(bytes.NewReader(data[:headerSize+2]))
	require.Error(t, err)
	_, err = ReadBinary(bytes.NewReader(data[:4]))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Manifest)
	}{
		{"zero dim", func(m *Manifest) { m.Dim = 0 }},
		{"zero bands", func(m *Manifest) { m.NumBands = 0 }},
		{"short bank", func(m *Manifest) { m.Planes = m.Planes[:10] }},
		{"bad id", func(m *Manifest) { m.ID = "nope" }},
		{"over budget", func(m *Manifest) { m.MaxHyperplanes = 4 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := sample(randomPlanes(24))
			tt.mutate(m)
			assert.Error(t, m.Validate())
		})
	}

	assert.NoError(t, sample(randomPlanes(24)).Validate())

	m := sample(randomPlanes(24))
	m.MaxHyperplanes = 6
	assert.NoError(t, m.Validate())
}

func TestNewSetsTimestamps(t *testing.T) {
	before := time.Now().Add(-time.Second)
	m := New()
	assert.True(t, m.CreatedAt.After(before))
	assert.Equal(t, m.CreatedAt, m.UpdatedAt)
	assert.NotEmpty(t, m.ID)
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in   string
		want Compression
		err  bool
	}{
		{"", CompressionZSTD, false},
		{"zstd", CompressionZSTD, false},
		{"LZ4", CompressionLZ4, false},
		{"none", CompressionNone, false},
		{"gzip", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCompression(tt.in)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
