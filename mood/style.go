package mood

// StyleParams is the read-only projection of a mood profile into generation
// controls. Recomputed after every mood mutation; owned transiently by the
// orchestrator for one pipeline run.
type StyleParams struct {
	Temperature     float64 `json:"temperature"`
	MaxTokens       int     `json:"max_tokens"`
	StructureBias   float64 `json:"structure_bias"`
	AskClarifyBias  float64 `json:"ask_clarify_bias"`
	HumorBias       float64 `json:"humor_bias"`
	Politeness      float64 `json:"politeness"`
	Energy          float64 `json:"energy"`
	Assertiveness   float64 `json:"assertiveness"`
	WePronouns      float64 `json:"we_pronouns"`
	MemoryWriteBias float64 `json:"memory_write_bias"`
}

// BiasToStyle derives StyleParams from a profile. Pure and deterministic:
// the same profile always yields the same StyleParams.
//
// Each control blends a small set of mediators via norm, which maps a level
// onto [0, 1] within its own bounds, so the formulas hold for any persona
// ranges.
func BiasToStyle(p Profile) StyleParams {
	n := func(name string) float64 {
		lv, ok := p[name]
		if !ok || lv.Max <= lv.Min {
			return 0.5
		}
		return (lv.Current - lv.Min) / (lv.Max - lv.Min)
	}

	dop := n(Dopamine)
	ser := n(Serotonin)
	nor := n(Norepinephrine)
	ace := n(Acetylcholine)
	gab := n(GABA)
	glu := n(Glutamate)
	end := n(Endorphins)
	oxy := n(Oxytocin)
	vas := n(Vasopressin)
	his := n(Histamine)

	return StyleParams{
		Temperature:     round2(0.3 + 0.5*dop + 0.2*glu - 0.2*gab),
		MaxTokens:       128 + int(896*(0.4*glu+0.3*dop+0.3*his)),
		StructureBias:   round2(0.6*ace + 0.4*gab),
		AskClarifyBias:  round2(0.7*ace + 0.3*nor),
		HumorBias:       round2(0.6*end + 0.4*dop),
		Politeness:      round2(0.5*ser + 0.5*oxy),
		Energy:          round2(0.5*nor + 0.3*dop + 0.2*his),
		Assertiveness:   round2(0.6*vas + 0.4*nor),
		WePronouns:      round2(0.8*oxy + 0.2*ser),
		MemoryWriteBias: round2(0.6*ace + 0.4*vas),
	}
}

func round2(v float64) float64 {
	if v < 0 {
		v = 0
	}
	if v > 1.5 {
		v = 1.5
	}
	return float64(int(v*100+0.5)) / 100
}
