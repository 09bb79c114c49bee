package fusionbase

import (
	"context"
	"fmt"
)

// LocalizedText holds language-tagged values, for example {"en": "..."}.
type LocalizedText map[string]string

// En returns the English value, falling back to any available language.
func (t LocalizedText) En() string {
	if v, ok := t["en"]; ok {
		return v
	}
	for _, v := range t {
		return v
	}
	return ""
}

// StreamStats summarizes a data stream's size.
type StreamStats struct {
	EntryCount        int `json:"entry_count"`
	MainPropertyCount int `json:"main_property_count"`
}

// StreamSource attributes a data stream to its origin.
type StreamSource struct {
	Key   string `json:"_key"`
	Label string `json:"label"`
}

// ItemCollection describes one column of a data stream.
type ItemCollection struct {
	Key           string `json:"_key"`
	Name          string `json:"name"`
	BasicDataType string `json:"basic_data_type"`
	Definition    any    `json:"definition"`
}

// StreamMetadata is the typed metadata document for a data stream.
type StreamMetadata struct {
	Key                 string           `json:"_key"`
	UniqueLabel         string           `json:"unique_label"`
	Name                LocalizedText    `json:"name"`
	Description         LocalizedText    `json:"description"`
	Meta                StreamStats      `json:"meta"`
	Source              StreamSource     `json:"source"`
	DataItemCollections []ItemCollection `json:"data_item_collections"`
	StoreVersion        string           `json:"store_version"`
	DataVersion         string           `json:"data_version"`
	DataUpdatedAt       string           `json:"data_updated_at"`
	CreatedAt           string           `json:"created_at"`
	UpdatedAt           string           `json:"updated_at"`
}

// StreamMetadata retrieves the metadata document for the stream key.
func (c *Client) StreamMetadata(ctx context.Context, key string) (*StreamMetadata, error) {
	var meta StreamMetadata
	url := fmt.Sprintf("%s/data-stream/get/%s/meta", c.baseURI, key)
	if err := c.getJSON(ctx, url, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// StreamMetadataByLabel resolves a unique label to its stream key and
// retrieves the metadata document.
func (c *Client) StreamMetadataByLabel(ctx context.Context, label string) (*StreamMetadata, error) {
	var resolved struct {
		Key string `json:"_key"`
	}
	url := fmt.Sprintf("%s/data-stream/get/label/%s", c.baseURI, label)
	if err := c.getJSON(ctx, url, &resolved); err != nil {
		return nil, err
	}
	if resolved.Key == "" {
		return nil, fmt.Errorf("%w: label %q", ErrStreamNotFound, label)
	}
	return c.StreamMetadata(ctx, resolved.Key)
}
