package domain

import (
	"context"
	"fmt"
	"slices"
)

// Transition: ребро конечного автомата: событие Event переводит объект из From в To,
// если Guard (при наличии) разрешает переход. After выполняются после смены состояния.
type Transition[S ~string, E ~string, T any] struct {
	Event E
	From  []S
	To    S
	Guard func(T) bool
	After []func(ctx context.Context, subject T) error
}

// StateMachine: явная таблица переходов (state, event) -> (state, guard, hooks).
// Кандидаты для одного события проверяются в порядке объявления.
type StateMachine[S ~string, E ~string, T any] struct {
	name     string
	get      func(T) S
	set      func(T, S)
	edges    map[E][]Transition[S, E, T]
	observer func(ctx context.Context, subject T, event E, from, to S) error
}

// NewStateMachine собирает автомат и проверяет таблицу: все состояния из переходов
// должны входить в states, у каждого перехода есть событие и исходные состояния.
func NewStateMachine[S ~string, E ~string, T any](
	name string,
	states []S,
	get func(T) S,
	set func(T, S),
	transitions ...Transition[S, E, T],
) (*StateMachine[S, E, T], error) {
	if get == nil || set == nil {
		return nil, fmt.Errorf("state machine %s: state accessors are required", name)
	}

	edges := make(map[E][]Transition[S, E, T], len(transitions))
	for _, t := range transitions {
		if t.Event == "" {
			return nil, fmt.Errorf("state machine %s: transition without event", name)
		}
		if !slices.Contains(states, t.To) {
			return nil, fmt.Errorf("state machine %s: event %s targets unknown state %q", name, t.Event, t.To)
		}
		if len(t.From) == 0 {
			return nil, fmt.Errorf("state machine %s: event %s has no source states", name, t.Event)
		}
		for _, from := range t.From {
			if !slices.Contains(states, from) {
				return nil, fmt.Errorf("state machine %s: event %s starts from unknown state %q", name, t.Event, from)
			}
		}
		edges[t.Event] = append(edges[t.Event], t)
	}

	return &StateMachine[S, E, T]{
		name:  name,
		get:   get,
		set:   set,
		edges: edges,
	}, nil
}

// MustStateMachine: как NewStateMachine, но паникует на некорректной таблице.
// Используется для автоматов, объявленных при инициализации пакета.
func MustStateMachine[S ~string, E ~string, T any](
	name string,
	states []S,
	get func(T) S,
	set func(T, S),
	transitions ...Transition[S, E, T],
) *StateMachine[S, E, T] {
	m, err := NewStateMachine(name, states, get, set, transitions...)
	if err != nil {
		panic(err)
	}
	return m
}

// OnTransition регистрирует наблюдателя, вызываемого после каждого успешного перехода.
func (m *StateMachine[S, E, T]) OnTransition(fn func(ctx context.Context, subject T, event E, from, to S) error) *StateMachine[S, E, T] {
	m.observer = fn
	return m
}

// Can сообщает, допустимо ли событие для объекта в его текущем состоянии.
func (m *StateMachine[S, E, T]) Can(subject T, event E) bool {
	_, ok := m.find(subject, event)
	return ok
}

// Fire выполняет переход. Недопустимое событие возвращает *TransitionError без изменений.
func (m *StateMachine[S, E, T]) Fire(ctx context.Context, subject T, event E) (S, error) {
	from := m.get(subject)
	t, ok := m.find(subject, event)
	if !ok {
		return from, &TransitionError{Machine: m.name, Event: string(event), From: string(from)}
	}

	m.set(subject, t.To)
	for _, hook := range t.After {
		if err := hook(ctx, subject); err != nil {
			return t.To, fmt.Errorf("%s %s: %w", m.name, event, err)
		}
	}
	if m.observer != nil {
		if err := m.observer(ctx, subject, event, from, t.To); err != nil {
			return t.To, fmt.Errorf("%s %s: %w", m.name, event, err)
		}
	}
	return t.To, nil
}

func (m *StateMachine[S, E, T]) find(subject T, event E) (Transition[S, E, T], bool) {
	current := m.get(subject)
	for _, t := range m.edges[event] {
		if !slices.Contains(t.From, current) {
			continue
		}
		if t.Guard != nil && !t.Guard(subject) {
			continue
		}
		return t, true
	}
	return Transition[S, E, T]{}, false
}
