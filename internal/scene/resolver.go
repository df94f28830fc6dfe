package scene

import "github.com/graystone-av/dsp-core/internal/processor"

// NewManagerResolver adapts the processor manager to the TargetResolver
// interface.
func NewManagerResolver(m *processor.Manager) TargetResolver {
	return managerResolver{m: m}
}

type managerResolver struct {
	m *processor.Manager
}

func (r managerResolver) Target(processorID string) (Target, error) {
	u, err := r.m.Unit(processorID)
	if err != nil {
		return nil, err
	}
	return u, nil
}
