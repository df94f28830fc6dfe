package scene

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/graystone-av/dsp-core/internal/processor"
)

// Target is the slice of a processor unit the engine drives.
// *processor.Unit satisfies it.
type Target interface {
	SetParameter(ctx context.Context, name string, value float64, source string) (map[string]float64, error)
	ConfirmedParameters() map[string]float64
	UnconfirmedParameters() []string
}

// TargetResolver looks up the running unit for a processor.
type TargetResolver interface {
	Target(processorID string) (Target, error)
}

// Logger is the minimal logging interface this package needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Events receives recall outcomes for fan-out. Implementations must not
// block.
type Events interface {
	SceneRecalled(result RecallResult)
}

type noopEvents struct{}

func (noopEvents) SceneRecalled(RecallResult) {}

// Engine captures and recalls scenes.
type Engine struct {
	repo     Repository
	resolver TargetResolver
	events   Events
	logger   Logger

	// stagger is the pause between consecutive parameter writes during a
	// recall. Spreading the writes keeps a large scene from monopolising
	// the half-duplex control channel in one burst.
	stagger time.Duration

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewEngine creates a scene engine.
func NewEngine(repo Repository, resolver TargetResolver, stagger time.Duration,
	events Events, logger Logger) *Engine {
	if events == nil {
		events = noopEvents{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		repo:     repo,
		resolver: resolver,
		events:   events,
		logger:   logger,
		stagger:  stagger,
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
			}
		},
	}
}

// Capture snapshots the named parameters (or every confirmed parameter
// when names is empty) into a new scene. Any requested parameter that is
// not device-confirmed fails the whole capture: a scene must never contain
// values the hardware did not vouch for. recallTime is the advisory window
// (seconds) recalls of this scene spread their writes across; zero uses the
// engine default.
func (e *Engine) Capture(ctx context.Context, processorID, name, description string, names []string, recallTime int) (*Scene, error) {
	target, err := e.resolver.Target(processorID)
	if err != nil {
		return nil, err
	}

	confirmed := target.ConfirmedParameters()

	var snapshot map[string]float64
	if len(names) == 0 {
		snapshot = confirmed
	} else {
		snapshot = make(map[string]float64, len(names))
		var missing []string
		for _, n := range names {
			v, ok := confirmed[n]
			if !ok {
				missing = append(missing, n)
				continue
			}
			snapshot[n] = v
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return nil, fmt.Errorf("%w: %s", ErrUnconfirmedCapture, strings.Join(missing, ", "))
		}
	}
	if len(snapshot) == 0 {
		return nil, ErrEmptyScene
	}

	if recallTime < 0 {
		recallTime = 0
	}
	s := &Scene{
		ID:          uuid.NewString(),
		ProcessorID: processorID,
		Name:        name,
		Description: description,
		Parameters:  snapshot,
		RecallTime:  recallTime,
	}
	if err := e.repo.Create(ctx, s); err != nil {
		return nil, err
	}
	e.logger.Info("scene captured", "scene", s.ID, "name", name,
		"processor", processorID, "params", len(snapshot))
	return s, nil
}

// Recall applies a scene's snapshot to its processor. Writes are spread
// evenly across the scene's recall window (or spaced by the engine default
// when the scene has none) and applied in parameter-name order so repeat
// recalls behave identically. Individual failures do not stop the recall;
// every parameter is attempted and accounted for in the result.
func (e *Engine) Recall(ctx context.Context, sceneID string) (*RecallResult, error) {
	s, err := e.repo.Get(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	target, err := e.resolver.Target(s.ProcessorID)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(s.Parameters))
	for n := range s.Parameters {
		names = append(names, n)
	}
	sort.Strings(names)

	start := time.Now()
	result := &RecallResult{
		SceneID:     s.ID,
		SceneName:   s.Name,
		ProcessorID: s.ProcessorID,
	}

	// Even spacing across the recall window: first write at t=0, last at
	// t=recall_time.
	gap := e.stagger
	if s.RecallTime > 0 && len(names) > 1 {
		gap = time.Duration(s.RecallTime) * time.Second / time.Duration(len(names)-1)
	}

	for i, n := range names {
		if i > 0 && gap > 0 {
			e.sleep(ctx, gap)
		}
		if ctx.Err() != nil {
			result.Failed = append(result.Failed, FailedParam{Name: n, Error: ctx.Err().Error()})
			continue
		}
		if _, err := target.SetParameter(ctx, n, s.Parameters[n], processor.SourceScene); err != nil {
			result.Failed = append(result.Failed, FailedParam{Name: n, Error: err.Error()})
			continue
		}
		result.Applied = append(result.Applied, n)
	}

	result.Duration = time.Since(start)
	switch {
	case len(result.Failed) == 0:
		result.Status = StatusRecalled
	case len(result.Applied) == 0:
		result.Status = StatusFailed
	default:
		result.Status = StatusPartial
	}

	e.logger.Info("scene recall finished", "scene", s.ID, "status", result.Status,
		"applied", len(result.Applied), "failed", len(result.Failed))
	e.events.SceneRecalled(*result)
	return result, nil
}

// Get fetches one scene.
func (e *Engine) Get(ctx context.Context, id string) (*Scene, error) {
	return e.repo.Get(ctx, id)
}

// List returns a processor's scenes.
func (e *Engine) List(ctx context.Context, processorID string) ([]*Scene, error) {
	return e.repo.List(ctx, processorID)
}

// Rename updates a scene's name and description without touching the
// snapshot.
func (e *Engine) Rename(ctx context.Context, id, name, description string) (*Scene, error) {
	s, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Name = name
	s.Description = description
	if err := e.repo.Update(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Delete removes a scene.
func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.repo.Delete(ctx, id)
}
