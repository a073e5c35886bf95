package embeddings

// localModel is a model FastEmbed can run, keyed by its FastEmbed name.
type localModel struct {
	hub       string
	dimension int
}

var localModels = map[string]localModel{
	"fast-bge-small-en-v1.5": {hub: "BAAI/bge-small-en-v1.5", dimension: 384},
	"fast-bge-small-en":      {hub: "BAAI/bge-small-en", dimension: 384},
	"fast-bge-base-en-v1.5":  {hub: "BAAI/bge-base-en-v1.5", dimension: 768},
	"fast-bge-base-en":       {hub: "BAAI/bge-base-en", dimension: 768},
	"fast-bge-small-zh-v1.5": {hub: "BAAI/bge-small-zh-v1.5", dimension: 512},
	"fast-all-MiniLM-L6-v2":  {hub: "sentence-transformers/all-MiniLM-L6-v2", dimension: 384},
}

// resolveLocalModel accepts either the hub name or the FastEmbed name and
// returns the FastEmbed name with the output dimension.
func resolveLocalModel(name string) (string, int, bool) {
	if m, ok := localModels[name]; ok {
		return name, m.dimension, true
	}
	for fast, m := range localModels {
		if m.hub == name {
			return fast, m.dimension, true
		}
	}
	return "", 0, false
}

func fastEmbedModelDimension(model string) (int, bool) {
	_, dim, ok := resolveLocalModel(model)
	return dim, ok
}
