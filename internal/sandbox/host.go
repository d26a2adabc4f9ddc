package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

var ErrUnknownRunner = errors.New("no runner registered for label")

// Factory creates a fresh runner instance.
type Factory func() *Runner

type hostedRunner struct {
	runner      *Runner
	invocations int
}

// Host owns runner instances by label. It creates them lazily and may
// replace them at any time, as a platform scheduler would.
type Host struct {
	recycleAfter int

	mu        sync.Mutex
	factories map[string]Factory
	instances map[string]*hostedRunner
	eager     map[string]bool
}

// NewHost returns a host that replaces an instance after recycleAfter
// invocations; zero keeps instances until Recycle is called.
func NewHost(recycleAfter int) *Host {
	return &Host{
		recycleAfter: recycleAfter,
		factories:    make(map[string]Factory),
		instances:    make(map[string]*hostedRunner),
		eager:        make(map[string]bool),
	}
}

func (h *Host) Register(label string, f Factory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.factories[label] = f
	h.drop(label)
	delete(h.eager, label)
}

// Preload creates the instance for label now and keeps one alive from then
// on: a recycled instance is replaced immediately instead of on next dispatch.
func (h *Host) Preload(label string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.factories[label]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRunner, label)
	}
	h.eager[label] = true
	if h.instances[label] == nil {
		h.create(label)
	}
	return nil
}

// Close stops every live instance.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for label := range h.instances {
		h.drop(label)
	}
	h.eager = make(map[string]bool)
}

// Labels lists the registered runner labels.
func (h *Host) Labels() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	labels := make([]string, 0, len(h.factories))
	for l := range h.factories {
		labels = append(labels, l)
	}
	return labels
}

// Recycle closes the current instance for label; the next dispatch gets a
// new one, or a preloaded label gets one right away.
func (h *Host) Recycle(label string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(label)
	if h.eager[label] {
		h.create(label)
	}
}

// Dispatch delivers event to the runner registered under label.
func (h *Host) Dispatch(ctx context.Context, label, event string, details map[string]any) (Response, error) {
	r, err := h.instance(label)
	if err != nil {
		return Response{}, err
	}
	return r.Invoke(ctx, event, details)
}

func (h *Host) instance(label string) (*Runner, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.factories[label]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRunner, label)
	}
	hr := h.instances[label]
	if hr != nil && h.recycleAfter > 0 && hr.invocations >= h.recycleAfter {
		h.drop(label)
		hr = nil
	}
	if hr == nil {
		hr = h.create(label)
	}
	hr.invocations++
	return hr.runner, nil
}

// create and drop expect h.mu to be held.
func (h *Host) create(label string) *hostedRunner {
	hr := &hostedRunner{runner: h.factories[label]()}
	h.instances[label] = hr
	log.Printf("runner %s: new instance", label)
	return hr
}

func (h *Host) drop(label string) {
	if hr := h.instances[label]; hr != nil {
		hr.runner.Close()
		delete(h.instances, label)
	}
}
