package match

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/desertthunder/kindlesync/internal/models"
	"github.com/desertthunder/kindlesync/internal/shared"
)

// libraryPayload is the only accepted shape of a pre-fetched library.
type libraryPayload struct {
	Ebooks *[]models.RemoteItem `json:"ebooks"`
	PDocs  *[]models.RemoteItem `json:"pdocs"`
}

// DecodeLibrary parses a saved library dump of the form {"ebooks": [...], "pdocs": [...]}.
//
// Ordered pairs, other key names and unknown fields are rejected with [shared.ErrInvalidInput].
func DecodeLibrary(data []byte) (models.Library, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return models.Library{}, fmt.Errorf("%w: library payload must be an object with ebooks and pdocs", shared.ErrInvalidInput)
	}

	var payload libraryPayload
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return models.Library{}, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	if payload.Ebooks == nil || payload.PDocs == nil {
		return models.Library{}, fmt.Errorf("%w: library payload needs both ebooks and pdocs", shared.ErrInvalidInput)
	}

	lib := models.Library{Ebooks: *payload.Ebooks, PDocs: *payload.PDocs}
	tag(lib.Ebooks, models.ContentEbook)
	tag(lib.PDocs, models.ContentPDoc)
	return lib, nil
}

func tag(items []models.RemoteItem, c models.ContentType) {
	for i := range items {
		if items[i].Category == "" {
			items[i].Category = c
		}
	}
}
