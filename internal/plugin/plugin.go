// Package plugin holds the plugin capability record and registry (C4):
// codec plugins are capability records -- CreateCapture, Rank,
// ParseOptions, VideoCodecType -- not an inheritance hierarchy (spec §9).
// Selection picks the highest-ranked plugin whose codec the remote
// client accepts, falling back to the next rank if CreateCapture
// declines.
package plugin

import (
	"sort"
	"sync"

	"github.com/spice-space/spice-streaming-agent/internal/agenterr"
)

// FrameInfo is the producer-to-pipeline hand-off from a capture provider
// (spec §3).
type FrameInfo struct {
	Buffer      []byte
	Width       uint32
	Height      uint32
	StreamStart bool
}

// Capture is an active capture provider: a realized FrameCapture (spec
// §3, §9).
type Capture interface {
	CaptureFrame() (FrameInfo, error)
	VideoCodecType() uint8
	Close() error
}

// Plugin is the capability record every codec plugin implements.
type Plugin interface {
	// CreateCapture realizes a Capture, or returns (nil, nil) if this
	// plugin declines to run right now (spec §4.4 step 3).
	CreateCapture() (Capture, error)
	Rank() uint
	ParseOptions(options map[string]string) error
	VideoCodecType() uint8
	Name() string
}

// Registry holds registered plugins in registration order and selects
// among them (spec §4.4).
type Registry struct {
	mu      sync.Mutex
	plugins []Plugin
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a plugin. Built-ins are registered first, so ties in
// rank resolve in their favor per the first-registered-wins rule.
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = append(r.plugins, p)
}

// ApplyOptions feeds the operator's -c key=value options to every
// registered plugin; unknown keys are the plugin's own business to
// ignore (spec §4.4).
func (r *Registry) ApplyOptions(options map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.plugins {
		if err := p.ParseOptions(options); err != nil {
			return agenterr.NewConfigError("plugin "+p.Name()+" rejected options", err)
		}
	}
	return nil
}

// candidates returns the plugins whose VideoCodecType is in accepted,
// ordered by descending rank, ties broken by registration order.
func (r *Registry) candidates(accepted map[uint8]struct{}) []Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []Plugin
	for _, p := range r.plugins {
		if _, ok := accepted[p.VideoCodecType()]; ok {
			matched = append(matched, p)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Rank() > matched[j].Rank()
	})
	return matched
}

// Select picks the highest-ranked plugin whose codec is in accepted and
// whose CreateCapture succeeds, trying the next rank down on decline.
// Returns NoCaptureAvailableError if nothing yields a capture.
func (r *Registry) Select(accepted []uint8) (Capture, error) {
	set := make(map[uint8]struct{}, len(accepted))
	for _, c := range accepted {
		set[c] = struct{}{}
	}

	for _, p := range r.candidates(set) {
		cap, err := p.CreateCapture()
		if err != nil {
			return nil, agenterr.NewCaptureError(err)
		}
		if cap != nil {
			return cap, nil
		}
	}
	return nil, &agenterr.NoCaptureAvailableError{Codecs: accepted}
}
