package types

import "fmt"

// StepAdds is the record type used for unit substitutions and moves.
const StepAdds = "adds"

// Canonical step keys as written in the ledger.
const (
	StepMade     = "made"
	StepPrep     = "prep"
	StepOhms     = "ohms"
	StepCO2      = "C-O2"
	StepInflate  = "infl"
	StepLeak     = "leak"
	StepLaserCut = "lasr"
	StepLength   = "leng"
	StepSilver   = "silv"
)

// Step pairs a ledger key with the name shown to operators.
type Step struct {
	Key  string `json:"key" yaml:"key"`
	Name string `json:"name" yaml:"name"`
}

// StepSequence is the ordered list of every known manufacturing step.
var StepSequence = []Step{
	{StepMade, "Straw Made"},
	{StepPrep, "Straw Prep"},
	{StepOhms, "Resistance Test"},
	{StepCO2, "CO2 End Piece Epoxy"},
	{StepInflate, "Inflation"},
	{StepLeak, "Leak Test"},
	{StepLaserCut, "Laser Cut"},
	{StepLength, "Length Measurement"},
	{StepSilver, "Silver Epoxy"},
}

// FullSequence lists the steps a straw must pass to count as fully passed.
var FullSequence = []string{StepPrep, StepOhms, StepCO2, StepLeak, StepLaserCut, StepLength, StepSilver}

// LookupStep returns the step registered under key.
func LookupStep(key string) (Step, bool) {
	for _, s := range StepSequence {
		if s.Key == key {
			return s, true
		}
	}
	return Step{}, false
}

// DisplayName returns the operator-facing name for key, or key itself when unknown.
func DisplayName(key string) string {
	if s, ok := LookupStep(key); ok {
		return s.Name
	}
	return key
}

// ValidateSteps rejects keys that are not part of StepSequence.
func ValidateSteps(keys []string) error {
	for _, k := range keys {
		if _, ok := LookupStep(k); !ok {
			return fmt.Errorf("unknown step %q", k)
		}
	}
	return nil
}
