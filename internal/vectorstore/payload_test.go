package vectorstore

import (
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointUUIDStable(t *testing.T) {
	first := pointUUID("doc-1_chunk_0")
	second := pointUUID("doc-1_chunk_0")
	other := pointUUID("doc-1_chunk_1")

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
	assert.Len(t, first, 36)
}

func TestPayloadRoundTrip(t *testing.T) {
	payload := payloadFromMetadata(map[string]interface{}{
		"chunk_id":    "doc-1_chunk_0",
		"chunk_text":  "hello world",
		"document_id": "doc-1",
		"chunk_index": 0,
		"page":        int64(3),
		"score_bias":  0.5,
		"ocr_used":    true,
		"skipped":     []string{"unsupported"},
	})

	// Unsupported slice value is dropped, everything else survives.
	require.Len(t, payload, 7)

	text, metadata := metadataFromPayload(payload)
	assert.Equal(t, "hello world", text)
	assert.NotContains(t, metadata, "chunk_text")
	assert.Equal(t, "doc-1", metadata["document_id"])
	assert.Equal(t, int64(0), metadata["chunk_index"])
	assert.Equal(t, int64(3), metadata["page"])
	assert.Equal(t, 0.5, metadata["score_bias"])
	assert.Equal(t, true, metadata["ocr_used"])

	assert.Equal(t, "doc-1_chunk_0", chunkIDFromPayload(payload))
}

func TestChunkIDFromPayloadMissing(t *testing.T) {
	assert.Equal(t, "", chunkIDFromPayload(map[string]*pb.Value{}))
	assert.Equal(t, "", chunkIDFromPayload(map[string]*pb.Value{
		"chunk_id": {Kind: &pb.Value_IntegerValue{IntegerValue: 7}},
	}))
}

func TestFilterFromWhere(t *testing.T) {
	assert.Nil(t, filterFromWhere(nil))
	assert.Nil(t, filterFromWhere(map[string]string{}))

	filter := filterFromWhere(map[string]string{"document_id": "doc-1"})
	require.NotNil(t, filter)
	require.Len(t, filter.Must, 1)
	field := filter.Must[0].GetField()
	require.NotNil(t, field)
	assert.Equal(t, "document_id", field.Key)
	assert.Equal(t, "doc-1", field.Match.GetKeyword())
}

func TestCollectionNames(t *testing.T) {
	assert.Equal(t, "context_default", CollectionName("default"))
	assert.Equal(t, "aws", contextFromCollection("context_aws"))
	assert.Equal(t, "", contextFromCollection("unrelated"))
}
