package transcript

import "strings"

// Pricing is dollars per million tokens. Cache creation is billed at 1.25x
// the input rate, cache reads at 0.10x.
type Pricing struct {
	Input  float64
	Output float64
}

const (
	cacheCreationFactor = 1.25
	cacheReadFactor     = 0.10
)

// exactPricing lists known model identifiers.
var exactPricing = map[string]Pricing{
	"claude-opus-4-6":          {Input: 15, Output: 75},
	"claude-opus-4-5":          {Input: 15, Output: 75},
	"claude-sonnet-4-5":        {Input: 3, Output: 15},
	"claude-haiku-4-5":         {Input: 0.80, Output: 4},
	"claude-3-5-haiku-latest":  {Input: 0.80, Output: 4},
	"claude-3-7-sonnet-latest": {Input: 3, Output: 15},
}

// familyPricing matches by family keyword when no exact entry exists,
// checked in order.
var familyPricing = []struct {
	keyword string
	p       Pricing
}{
	{"opus", Pricing{Input: 15, Output: 75}},
	{"sonnet", Pricing{Input: 3, Output: 15}},
	{"haiku", Pricing{Input: 0.80, Output: 4}},
}

// defaultPricing is the highest-priced entry: unknown models are assumed
// expensive so local cost never underestimates.
var defaultPricing = Pricing{Input: 15, Output: 75}

// PriceFor resolves the pricing entry for a model identifier: exact match,
// then family keyword substring, then the default.
func PriceFor(model string) Pricing {
	if p, ok := exactPricing[model]; ok {
		return p
	}
	lower := strings.ToLower(model)
	for _, fp := range familyPricing {
		if strings.Contains(lower, fp.keyword) {
			return fp.p
		}
	}
	return defaultPricing
}

// MessageCost prices one usage block. Negative counts clamp to zero.
func MessageCost(model string, input, output, cacheCreation, cacheRead int64) float64 {
	p := PriceFor(model)
	in := clampTokens(input)
	out := clampTokens(output)
	cc := clampTokens(cacheCreation)
	cr := clampTokens(cacheRead)

	const mtok = 1e6
	return float64(in)*p.Input/mtok +
		float64(out)*p.Output/mtok +
		float64(cc)*p.Input*cacheCreationFactor/mtok +
		float64(cr)*p.Input*cacheReadFactor/mtok
}

func clampTokens(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
