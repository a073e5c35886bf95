package vectorstore

import (
	"github.com/qdrant/go-client/qdrant"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

// encodePayload lays a payload out as content, source_file, header_path
// and the flattened header_N keys used for filtering.
func encodePayload(p rag.Payload) map[string]*qdrant.Value {
	out := make(map[string]*qdrant.Value, 3+len(p.Metadata.HeaderPath))
	for k, v := range p.Fields() {
		out[k] = stringValue(v)
	}

	path := make([]*qdrant.Value, len(p.Metadata.HeaderPath))
	for i, h := range p.Metadata.HeaderPath {
		path[i] = stringValue(h)
	}
	out[rag.PayloadHeaderPath] = &qdrant.Value{
		Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: path}},
	}
	return out
}

func decodePayload(values map[string]*qdrant.Value) rag.Payload {
	fields := make(map[string]string, len(values))
	var headerPath []string
	for k, v := range values {
		switch kind := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			fields[k] = kind.StringValue
		case *qdrant.Value_ListValue:
			if k != rag.PayloadHeaderPath {
				continue
			}
			headerPath = make([]string, 0, len(kind.ListValue.GetValues()))
			for _, item := range kind.ListValue.GetValues() {
				headerPath = append(headerPath, item.GetStringValue())
			}
		}
	}
	p := rag.PayloadFromFields(fields, headerPath)
	if len(p.Metadata.HeaderPath) == 0 {
		p.Metadata.HeaderPath = nil
	}
	return p
}

// buildFilter turns a rag.Filter into should-conditions, one keyword match
// per key. A filter without keys yields nil. A blank value still yields
// conditions, which match nothing since stored headers are never blank.
func buildFilter(f rag.Filter) *qdrant.Filter {
	if f.IsEmpty() {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(f.Keys))
	for _, key := range f.Keys {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: f.Value},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Should: conditions}
}
