package agent

// SelectStrategy picks the next strategy for a category. The result depends
// only on memory and the iteration number.
//
//  1. eligible = catalog minus the category's failed set; empty -> fallback
//  2. first eligible strategy with recorded success for the category
//  3. iteration 0 without history -> fallback
//  4. first eligible in priority order, else first eligible in catalog order
func SelectStrategy(memory *Memory, category string, iteration int) Strategy {
	eligible := make([]Strategy, 0, len(catalog))
	for _, strategy := range catalog {
		if !memory.HasFailed(category, strategy.Name) {
			eligible = append(eligible, strategy)
		}
	}
	if len(eligible) == 0 {
		return FallbackStrategy()
	}

	for _, strategy := range eligible {
		if memory.HasSucceeded(category, strategy.Name) {
			return strategy
		}
	}

	if iteration == 0 {
		return FallbackStrategy()
	}

	for _, name := range priorityOrder {
		for _, strategy := range eligible {
			if strategy.Name == name {
				return strategy
			}
		}
	}
	return eligible[0]
}
