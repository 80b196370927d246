package source

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_Validate(t *testing.T) {
	tests := []struct {
		name    string
		doc     Document
		wantErr bool
	}{
		{"valid", Document{ID: "fam-3044", Content: "A presumption..."}, false},
		{"title may be empty", Document{ID: "x", Content: "body", Title: ""}, false},
		{"missing id", Document{Content: "body"}, true},
		{"blank content", Document{ID: "x", Content: "  \n"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.doc.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedRecord))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDocument_EmbeddingText(t *testing.T) {
	doc := Document{Title: "Custody", Section: "3044", Content: "Upon a finding..."}

	assert.Equal(t, "Custody | 3044 | Upon a finding...",
		doc.EmbeddingText([]string{"title", "section", "content"}, " | "))

	doc.Title = ""
	assert.Equal(t, "3044 | Upon a finding...",
		doc.EmbeddingText([]string{"title", "section", "content"}, " | "), "empty fields are skipped")
}

func TestDocument_ChecksumIgnoresUpdatedAt(t *testing.T) {
	a := Document{ID: "1", Content: "text", UpdatedAt: time.Unix(100, 0)}
	b := a
	b.UpdatedAt = time.Unix(200, 0)
	assert.Equal(t, a.Checksum(), b.Checksum())

	b.Content = "text changed"
	assert.NotEqual(t, a.Checksum(), b.Checksum())

	// field boundaries matter
	c := Document{ID: "1", Title: "ab", Section: "c", Content: "x"}
	d := Document{ID: "1", Title: "a", Section: "bc", Content: "x"}
	assert.NotEqual(t, c.Checksum(), d.Checksum())
}

func TestCursor_Admits(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Second)

	atT0b := &Document{ID: "b", UpdatedAt: t0}
	atT0c := &Document{ID: "c", UpdatedAt: t0}
	atT1a := &Document{ID: "a", UpdatedAt: t1}

	zero := Cursor{}
	assert.True(t, zero.Admits(atT0b))

	since := Since(t0)
	assert.False(t, since.Admits(atT0b), "Since is strictly after")
	assert.True(t, since.Admits(atT1a))

	keyset := CursorAt(atT0b)
	assert.False(t, keyset.Admits(atT0b))
	assert.True(t, keyset.Admits(atT0c), "same timestamp, later id")
	assert.True(t, keyset.Admits(atT1a))
}

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)
	for _, s := range []string{
		"2024-03-05T10:30:00Z",
		"2024-03-05T12:30:00+02:00",
		"2024-03-05 10:30:00",
		"2024-03-05T10:30:00",
	} {
		got, err := ParseTime(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), s)
	}

	_, err := ParseTime("last tuesday")
	assert.Error(t, err)
}
