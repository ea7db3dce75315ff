package vectorstore

import (
	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
)

// pointUUID derives a stable qdrant point id from a logical chunk id.
// Qdrant only accepts integers or UUIDs as point ids.
func pointUUID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

// payloadFromMetadata converts an open metadata map into a qdrant payload.
// Unsupported value types are skipped.
func payloadFromMetadata(metadata map[string]interface{}) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(metadata)+2)
	for key, value := range metadata {
		switch v := value.(type) {
		case string:
			payload[key] = stringValue(v)
		case bool:
			payload[key] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: v}}
		case int:
			payload[key] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(v)}}
		case int64:
			payload[key] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: v}}
		case float64:
			payload[key] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: v}}
		}
	}
	return payload
}

// metadataFromPayload is the inverse conversion. The chunk_text payload
// field is split out as the record text; chunk_id stays in the payload for
// chunkIDFromPayload.
func metadataFromPayload(payload map[string]*pb.Value) (string, map[string]interface{}) {
	metadata := make(map[string]interface{}, len(payload))
	text := ""
	for key, value := range payload {
		var converted interface{}
		switch kind := value.Kind.(type) {
		case *pb.Value_StringValue:
			converted = kind.StringValue
		case *pb.Value_BoolValue:
			converted = kind.BoolValue
		case *pb.Value_IntegerValue:
			converted = kind.IntegerValue
		case *pb.Value_DoubleValue:
			converted = kind.DoubleValue
		default:
			continue
		}
		if key == "chunk_text" {
			text, _ = converted.(string)
			continue
		}
		metadata[key] = converted
	}
	return text, metadata
}

func chunkIDFromPayload(payload map[string]*pb.Value) string {
	if value, ok := payload["chunk_id"]; ok {
		if kind, ok := value.Kind.(*pb.Value_StringValue); ok {
			return kind.StringValue
		}
	}
	return ""
}

// filterFromWhere builds a must-match-all filter from string equality pairs.
// A nil or empty map yields no filter.
func filterFromWhere(where map[string]string) *pb.Filter {
	if len(where) == 0 {
		return nil
	}
	conditions := make([]*pb.Condition, 0, len(where))
	for key, value := range where {
		conditions = append(conditions, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key: key,
					Match: &pb.Match{
						MatchValue: &pb.Match_Keyword{Keyword: value},
					},
				},
			},
		})
	}
	return &pb.Filter{Must: conditions}
}
