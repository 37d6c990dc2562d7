package synth

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/sells-group/annotate-cli/internal/model"
)

// PlatformOptions name the labeling-config controls a prediction targets.
type PlatformOptions struct {
	FromName string `mapstructure:"from_name"`
	ToName   string `mapstructure:"to_name"`
	Type     string `mapstructure:"type"`
}

// DefaultPlatformOptions matches the stock Label Studio NER config.
func DefaultPlatformOptions() PlatformOptions {
	return PlatformOptions{FromName: "label", ToName: "text", Type: "labels"}
}

// Prediction is a Label Studio prediction.
type Prediction struct {
	ModelVersion string           `json:"model_version"`
	Score        float64          `json:"score"`
	Result       []PredictionItem `json:"result"`
}

// PredictionItem is one labeled region.
type PredictionItem struct {
	ID       string          `json:"id"`
	FromName string          `json:"from_name"`
	ToName   string          `json:"to_name"`
	Type     string          `json:"type"`
	Value    PredictionValue `json:"value"`
	Score    float64         `json:"score"`
}

// PredictionValue holds the span of a region.
type PredictionValue struct {
	Start  int      `json:"start"`
	End    int      `json:"end"`
	Text   string   `json:"text"`
	Labels []string `json:"labels"`
}

// predictionNamespace seeds deterministic region ids.
var predictionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("annotate-cli/prediction"))

// Render converts a result to the platform's prediction schema. Region ids
// are stable for a given span and label.
func Render(result *model.AnnotationResult, opts PlatformOptions) Prediction {
	def := DefaultPlatformOptions()
	if opts.FromName == "" {
		opts.FromName = def.FromName
	}
	if opts.ToName == "" {
		opts.ToName = def.ToName
	}
	if opts.Type == "" {
		opts.Type = def.Type
	}

	entities := result.Entities()
	p := Prediction{
		ModelVersion: result.ModelVersion(),
		Score:        result.Score(),
		Result:       make([]PredictionItem, 0, len(entities)),
	}
	for _, e := range entities {
		p.Result = append(p.Result, PredictionItem{
			ID:       RegionID(e),
			FromName: opts.FromName,
			ToName:   opts.ToName,
			Type:     opts.Type,
			Value: PredictionValue{
				Start:  e.Start,
				End:    e.End,
				Text:   e.Text,
				Labels: []string{e.Label},
			},
			Score: e.Score,
		})
	}
	return p
}

// RegionID returns the deterministic id of an entity region.
func RegionID(e model.ResolvedEntity) string {
	name := fmt.Sprintf("%d:%d:%s", e.Start, e.End, e.Label)
	return uuid.NewSHA1(predictionNamespace, []byte(name)).String()
}
