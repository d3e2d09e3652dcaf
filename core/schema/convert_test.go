package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pressing struct {
	ID     string       `json:"id"`
	Title  string       `json:"title"`
	Specs  pressingSpec `json:"specs"`
	Tags   []string     `json:"tags,omitempty"`
	Copies int          `json:"copies"`
}

type pressingSpec struct {
	RPM    int  `json:"rpm"`
	Stereo bool `json:"stereo"`
}

func TestToDocumentRoundTrip(t *testing.T) {
	doc, err := ToDocument(pressing{
		ID:     "pr-1",
		Title:  "Blue Train",
		Specs:  pressingSpec{RPM: 33, Stereo: true},
		Tags:   []string{"jazz"},
		Copies: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, "pr-1", doc["id"])
	assert.Equal(t, "Blue Train", doc["title"])
	assert.Equal(t, float64(3), doc["copies"])

	specs, ok := doc["specs"].(map[string]any)
	require.True(t, ok, "nested struct should become a nested map")
	assert.Equal(t, float64(33), specs["rpm"])
	assert.Equal(t, true, specs["stereo"])
}

func TestToDocumentAcceptsPointers(t *testing.T) {
	doc, err := ToDocument(&pressing{ID: "pr-2", Title: "Nude"})
	require.NoError(t, err)
	assert.Equal(t, "pr-2", doc["id"])
}

func TestToDocumentRejectsNonStructs(t *testing.T) {
	_, err := ToDocument(42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be a struct")

	var nilPressing *pressing
	_, err = ToDocument(nilPressing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil pointer")
}

func TestFromDocumentRoundTrip(t *testing.T) {
	original := pressing{
		ID:     "pr-3",
		Title:  "So What",
		Specs:  pressingSpec{RPM: 45},
		Copies: 7,
	}
	doc, err := ToDocument(original)
	require.NoError(t, err)

	back, err := FromDocument[pressing](doc)
	require.NoError(t, err)
	assert.Equal(t, original, back)
}

func TestFromDocumentIntoPointer(t *testing.T) {
	back, err := FromDocument[*pressing](Document{"id": "pr-4", "copies": 2})
	require.NoError(t, err)
	require.NotNil(t, back)
	assert.Equal(t, "pr-4", back.ID)
	assert.Equal(t, 2, back.Copies)
}

func TestFromDocumentRejectsNonStructTargets(t *testing.T) {
	_, err := FromDocument[int](Document{"id": "pr-5"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be a struct type")

	_, err = FromDocument[pressing](nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document cannot be nil")
}
