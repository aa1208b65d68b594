// Package hooks dispatches inbound chat messages to the handlers registered
// by the application, in priority order.
package hooks

import (
	"fmt"
	"log"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/mbasaglia/Melanobot-v2-sub002/network"
)

// Handler reacts to an inbound message, returning an error if it fails
type Handler func(msg network.Message) error

// HandlerInfo describes a registered handler
type HandlerInfo struct {
	Name     string          // Name of the handler function
	Handler  Handler         // The handler itself
	Priority int64           // Lower values run first, like Unix nice
	Verbs    map[string]bool // Verbs the handler receives, empty for all of them
}

func (h HandlerInfo) accepts(verb string) bool {
	return len(h.Verbs) == 0 || h.Verbs[verb]
}

// Registry holds the message handlers of an application
type Registry struct {
	mu       sync.RWMutex
	handlers []HandlerInfo
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make([]HandlerInfo, 0),
	}
}

// Handle registers a handler with default priority (0).
// When verbs are given the handler only receives messages with those verbs.
func (r *Registry) Handle(handler Handler, verbs ...string) {
	r.HandleWithPriority(handler, 0, verbs...)
}

// HandleWithPriority registers a handler, lower priority values run first
func (r *Registry) HandleWithPriority(handler Handler, priority int64, verbs ...string) {
	info := HandlerInfo{
		Name:     runtime.FuncForPC(reflect.ValueOf(handler).Pointer()).Name(),
		Handler:  handler,
		Priority: priority,
	}
	if len(verbs) > 0 {
		info.Verbs = make(map[string]bool, len(verbs))
		for _, verb := range verbs {
			info.Verbs[strings.ToUpper(verb)] = true
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers = append(r.handlers, info)
	sort.SliceStable(r.handlers, func(i, j int) bool {
		return r.handlers[i].Priority < r.handlers[j].Priority
	})
}

// Dispatch runs every handler accepting msg.
// It returns a map of handler names to errors for the handlers that failed.
func (r *Registry) Dispatch(msg network.Message) map[string]error {
	r.mu.RLock()
	handlers := make([]HandlerInfo, len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.RUnlock()

	var failed map[string]error
	for _, info := range handlers {
		if !info.accepts(msg.Verb) {
			continue
		}
		if err := run(info, msg); err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[info.Name] = err
		}
	}
	return failed
}

// Deliver dispatches msg discarding the errors, which are logged.
// It fits network.Deps.Handler.
func (r *Registry) Deliver(msg network.Message) {
	r.Dispatch(msg)
}

func run(info HandlerInfo, msg network.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC in handler %s: %v", info.Name, r)
			err = fmt.Errorf("panic in handler %s: %v", info.Name, r)
		}
	}()

	if err = info.Handler(msg); err != nil {
		log.Printf("ERROR in handler %s: %v", info.Name, err)
	}
	return err
}

// Clear removes all handlers
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers = make([]HandlerInfo, 0)
}

// Count returns the number of registered handlers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.handlers)
}
