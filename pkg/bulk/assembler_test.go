package bulk

import (
	"io"
	"strings"
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func streamOf(t *testing.T, registry Registry, lines ...string) *RecordStream {
	t.Helper()
	body := io.NopCloser(strings.NewReader(strings.Join(lines, "\n")))
	return newRecordStream(body, registry, zap.NewNop())
}

func drain(t *testing.T, s *RecordStream) []interface{} {
	t.Helper()
	var records []interface{}
	for s.Next() {
		records = append(records, s.Record())
	}
	require.NoError(t, s.Err())
	require.NoError(t, s.Close())
	return records
}

func productRegistry() Registry {
	return Registry{
		"Product": {
			Connections: map[string]string{
				"ProductVariant": "variants",
				"Metafield":      "metafields",
			},
		},
	}
}

func TestAssemblerNestsChildrenUnderParent(t *testing.T) {
	stream := streamOf(t, productRegistry(),
		`{"__typename":"Product","id":"gid://shopify/Product/1","title":"Shirt"}`,
		`{"__typename":"ProductVariant","id":"gid://shopify/ProductVariant/11","sku":"S","__parentId":"gid://shopify/Product/1"}`,
		`{"__typename":"ProductVariant","id":"gid://shopify/ProductVariant/12","sku":"M","__parentId":"gid://shopify/Product/1"}`,
	)

	records := drain(t, stream)
	require.Len(t, records, 1)

	product, ok := records[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Shirt", product["title"])

	variants := product["variants"].(map[string]interface{})
	edges := variants["edges"].([]interface{})
	require.Len(t, edges, 2)

	first := edges[0].(map[string]interface{})["node"].(map[string]interface{})
	assert.Equal(t, "S", first["sku"])
	assert.NotContains(t, first, "__parentId")

	// Declared connections with no children still decode as empty.
	metafields := product["metafields"].(map[string]interface{})
	assert.Empty(t, metafields["edges"])
}

func TestAssemblerEmitsParentsInOrder(t *testing.T) {
	stream := streamOf(t, productRegistry(),
		`{"__typename":"Product","id":"gid://shopify/Product/1","title":"First"}`,
		`{"__typename":"ProductVariant","id":"gid://shopify/ProductVariant/11","__parentId":"gid://shopify/Product/1"}`,
		`{"__typename":"Product","id":"gid://shopify/Product/2","title":"Second"}`,
	)

	records := drain(t, stream)
	require.Len(t, records, 2)
	assert.Equal(t, "First", records[0].(map[string]interface{})["title"])
	assert.Equal(t, "Second", records[1].(map[string]interface{})["title"])

	second := records[1].(map[string]interface{})
	assert.Empty(t, second["variants"].(map[string]interface{})["edges"])
}

func TestAssemblerDropsOrphans(t *testing.T) {
	stream := streamOf(t, productRegistry(),
		`{"__typename":"ProductVariant","id":"gid://shopify/ProductVariant/9","__parentId":"gid://shopify/Product/404"}`,
		`{"__typename":"Product","id":"gid://shopify/Product/1","title":"Kept"}`,
		`{"__typename":"ProductVariant","id":"gid://shopify/ProductVariant/10","__parentId":"gid://shopify/Product/999"}`,
	)

	records := drain(t, stream)
	require.Len(t, records, 1)
	product := records[0].(map[string]interface{})
	assert.Equal(t, "Kept", product["title"])
	assert.Empty(t, product["variants"].(map[string]interface{})["edges"])
}

func TestAssemblerBuildsTypedRecords(t *testing.T) {
	type variant struct {
		SKU string `json:"sku"`
	}
	type product struct {
		Title    string `json:"title"`
		Variants struct {
			Edges []struct {
				Node variant `json:"node"`
			} `json:"edges"`
		} `json:"variants"`
	}

	registry := Registry{
		"Product": {
			Connections: map[string]string{"ProductVariant": "variants"},
			Build: func(raw []byte) (interface{}, error) {
				var p product
				if err := gojson.Unmarshal(raw, &p); err != nil {
					return nil, err
				}
				return &p, nil
			},
		},
	}

	stream := streamOf(t, registry,
		`{"__typename":"Product","id":"gid://shopify/Product/1","title":"Shirt"}`,
		`{"__typename":"ProductVariant","sku":"XL","__parentId":"gid://shopify/Product/1"}`,
	)

	records := drain(t, stream)
	require.Len(t, records, 1)

	p, ok := records[0].(*product)
	require.True(t, ok)
	assert.Equal(t, "Shirt", p.Title)
	require.Len(t, p.Variants.Edges, 1)
	assert.Equal(t, "XL", p.Variants.Edges[0].Node.SKU)
}

func TestAssemblerSkipsBlankLines(t *testing.T) {
	stream := streamOf(t, productRegistry(),
		`{"__typename":"Product","id":"gid://shopify/Product/1","title":"Only"}`,
		``,
		`   `,
	)

	records := drain(t, stream)
	require.Len(t, records, 1)
}

func TestAssemblerFailsOnMalformedLine(t *testing.T) {
	stream := streamOf(t, productRegistry(),
		`{"__typename":"Product","id":"gid://shopify/Product/1"}`,
		`not json`,
	)

	for stream.Next() {
	}
	assert.Error(t, stream.Err())
}

func TestEmptyStream(t *testing.T) {
	stream := newEmptyStream()
	assert.False(t, stream.Next())
	assert.NoError(t, stream.Err())
	assert.NoError(t, stream.Close())
}
