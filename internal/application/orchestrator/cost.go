package orchestrator

// CostModel prices one run.
type CostModel struct {
	PerRun      float64
	Per1KTokens float64
}

// EstimateTokens approximates the token count of a run at four characters
// per token.
func EstimateTokens(input, output string) int {
	return (len(input) + len(output)) / 4
}

// Estimate returns the spend recorded for a run with input and output.
func (c CostModel) Estimate(input, output string) float64 {
	return c.PerRun + float64(EstimateTokens(input, output))/1000*c.Per1KTokens
}
