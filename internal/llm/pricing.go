package llm

// Pricing converts token counts into an estimated USD cost.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPricing matches the published rates of the default model.
var DefaultPricing = Pricing{InputPerMillion: 0.05, OutputPerMillion: 0.40}

func (p Pricing) Cost(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1_000_000*p.InputPerMillion +
		float64(outputTokens)/1_000_000*p.OutputPerMillion
}
