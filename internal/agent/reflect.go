package agent

type GoalEvaluation struct {
	ConfidenceMet   bool `json:"confidence_met"`
	CompletenessMet bool `json:"completeness_met"`
	GoalsMet        bool `json:"goals_met"`
	ShouldRetry     bool `json:"should_retry"`
}

// EvaluateGoals applies the goal thresholds to a state. A retry is only
// worth it when the evidence is at least minimally trustworthy.
func EvaluateGoals(state State, goals Goals, maxIterations int) GoalEvaluation {
	eval := GoalEvaluation{
		ConfidenceMet:   state.Confidence >= goals.ConfidenceTarget,
		CompletenessMet: state.Completeness >= goals.CompletenessTarget,
	}
	eval.GoalsMet = eval.ConfidenceMet && eval.CompletenessMet
	eval.ShouldRetry = !eval.GoalsMet &&
		state.Iteration < maxIterations &&
		state.Confidence >= goals.MinAcceptableConfidence
	return eval
}

// Decision is the typed transition input produced by reflection.
type Decision struct {
	Continue    bool           `json:"continue"`
	Adaptations AdaptationSet  `json:"adaptations"`
	Evaluation  GoalEvaluation `json:"evaluation"`
	Weak        []string       `json:"weak_categories,omitempty"`
}

// Reflect decides whether another pass is warranted and which adaptations
// the next perception pass should apply. Categories without a result count
// as weak.
func Reflect(state State, goals Goals, categories []Category, results map[string]CostCategoryResult) Decision {
	eval := EvaluateGoals(state, goals, MaxIterations)
	decision := Decision{Evaluation: eval}
	if eval.GoalsMet || !eval.ShouldRetry {
		return decision
	}

	decision.Weak = weakCategories(categories, results)
	if len(decision.Weak) > 2 {
		decision.Adaptations = decision.Adaptations.With(AdaptExpandSearchTerms)
	}
	if len(decision.Weak) > 0 {
		decision.Adaptations = decision.Adaptations.
			With(AdaptAlternativeCategoryApproach).
			With(AdaptTryLocalSources)
	}
	decision.Continue = true
	return decision
}

func weakCategories(categories []Category, results map[string]CostCategoryResult) []string {
	weak := []string{}
	for _, category := range categories {
		result, ok := results[category.Name]
		if !ok || result.Confidence < LowConfidenceThreshold {
			weak = append(weak, category.Name)
		}
	}
	return weak
}
