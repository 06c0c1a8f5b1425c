// Package main runs simboard, a simulated LED backend: it serves the
// SSE event stream and the command endpoints the strip board expects,
// and animates test colors so the UI can be exercised without hardware.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/glowdeck/stripsync/pkg/ledwire"
)

type stripConfig struct {
	ID        string          `json:"id,omitempty"`
	Index     int             `json:"index"`
	DisplayID uint32          `json:"display_id"`
	Border    string          `json:"border"`
	Len       int             `json:"len"`
	LedType   ledwire.LedType `json:"led_type"`
}

type sseEvent struct {
	name string
	data []byte
}

// board holds the simulated backend state: the strip configuration,
// the active data send mode, and the current wire-order color buffer.
type board struct {
	mu       sync.Mutex
	strips   []stripConfig
	reversed map[string]bool
	mode     string
	colors   []byte
	phase    float64

	nextSub int
	subs    map[int]chan sseEvent
}

func newBoard() *board {
	return &board{
		strips: []stripConfig{
			{Index: 0, DisplayID: 1, Border: "Top", Len: 38, LedType: ledwire.TypeRGB},
			{Index: 1, DisplayID: 1, Border: "Right", Len: 22, LedType: ledwire.TypeRGB},
			{Index: 2, DisplayID: 1, Border: "Bottom", Len: 38, LedType: ledwire.TypeRGB},
			{Index: 3, DisplayID: 1, Border: "Left", Len: 22, LedType: ledwire.TypeRGB},
		},
		reversed: map[string]bool{},
		mode:     "AmbientLight",
		subs:     map[int]chan sseEvent{},
	}
}

func stripKey(s stripConfig) string {
	return fmt.Sprintf("%d:%s", s.DisplayID, s.Border)
}

func (b *board) subscribe() (int, chan sseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	ch := make(chan sseEvent, 64)
	b.subs[id] = ch
	return id, ch
}

func (b *board) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// broadcast fans an event out to all streams; slow clients drop events
// rather than stalling the animator.
func (b *board) broadcast(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("marshal %s: %v", name, err)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- sseEvent{name: name, data: data}:
		default:
		}
	}
}

func (b *board) configPayload() map[string]any {
	strips := make([]stripConfig, len(b.strips))
	copy(strips, b.strips)
	return map[string]any{"strips": strips}
}

func (b *board) announceConfig() {
	b.mu.Lock()
	payload := b.configPayload()
	b.mu.Unlock()
	b.broadcast("ConfigChanged", payload)
}

// animate drives the color effects: a flowing rainbow in ambient mode,
// a breathing pulse in test effect mode. Colors are kept in wire order
// and published as per-strip fragments with cumulative LED offsets.
func (b *board) animate(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		b.mu.Lock()
		b.phase += 0.08
		mode := b.mode
		if mode == "None" {
			b.mu.Unlock()
			continue
		}

		type fragment struct {
			offset int
			colors []byte
			mode   string
		}
		var fragments []fragment
		var full []byte
		ledOffset := 0
		for _, s := range b.strips {
			colors := make([]ledwire.Color, s.Len)
			for i := range colors {
				pos := i
				if b.reversed[stripKey(s)] {
					pos = s.Len - 1 - i
				}
				colors[i] = b.colorAt(mode, ledOffset+pos)
			}
			wire := ledwire.ToWire(colors, s.LedType)
			fragments = append(fragments, fragment{offset: ledOffset, colors: wire, mode: mode})
			full = append(full, wire...)
			ledOffset += s.Len
		}
		b.colors = full
		b.mu.Unlock()

		timestamp := time.Now().UnixMilli()
		for _, f := range fragments {
			b.broadcast("LedSortedColorsChanged", map[string]any{
				"sorted_colors": f.colors,
				"mode":          f.mode,
				"led_offset":    f.offset,
				"timestamp":     timestamp,
			})
		}
	}
}

func (b *board) colorAt(mode string, led int) ledwire.Color {
	switch mode {
	case "TestEffect":
		// Breathing white pulse.
		level := uint8((math.Sin(b.phase) + 1) / 2 * 255)
		return ledwire.Color{R: level, G: level, B: level}
	default:
		// Flowing rainbow along the chain.
		angle := b.phase + float64(led)*0.12
		return ledwire.Color{
			R: wave(angle),
			G: wave(angle + 2*math.Pi/3),
			B: wave(angle + 4*math.Pi/3),
		}
	}
}

func wave(angle float64) uint8 {
	return uint8((math.Sin(angle) + 1) / 2 * 255)
}

// sseWrite sends a single SSE event with the given name and data, followed by a flush.
func sseWrite(w http.ResponseWriter, flusher http.Flusher, event string, data []byte) error {
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	// data lines must not contain raw newlines; split and prefix each line.
	for _, line := range strings.Split(string(data), "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(w, "\n"); err != nil { // end of event
		return err
	}
	flusher.Flush()
	return nil
}

func (b *board) streamHandler(w http.ResponseWriter, r *http.Request) {
	// Basic SSE headers and anti-buffering flags
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	// Disable proxy buffering (nginx, etc.)
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id, ch := b.subscribe()
	defer b.unsubscribe(id)

	// Initial comment to open the stream for some clients.
	if _, err := fmt.Fprint(w, ": connected\n\n"); err == nil {
		flusher.Flush()
	}

	// Every new stream starts from the authoritative configuration.
	b.mu.Lock()
	snapshot, _ := json.Marshal(b.configPayload())
	b.mu.Unlock()
	if err := sseWrite(w, flusher, "ConfigChanged", snapshot); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-ch:
			if err := sseWrite(w, flusher, evt.name, evt.data); err != nil {
				return
			}
		}
	}
}

func (b *board) invokeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	command := strings.TrimPrefix(r.URL.Path, "/api/v1/invoke/")
	var args json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		args = nil
	}

	response, status, err := b.dispatch(command, args)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if response == nil {
		response = json.RawMessage(`{}`)
	}
	w.Write(response)
}

type placementArgs struct {
	DisplayID uint32 `json:"display_id"`
	Border    string `json:"border"`
}

func (b *board) dispatch(command string, args json.RawMessage) (json.RawMessage, int, error) {
	switch command {
	case "read_led_strip_configs":
		b.mu.Lock()
		defer b.mu.Unlock()
		data, _ := json.Marshal(b.configPayload())
		return data, 0, nil

	case "write_led_strip_configs":
		var payload struct {
			Strips []stripConfig `json:"strips"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, http.StatusBadRequest, err
		}
		b.mu.Lock()
		b.strips = payload.Strips
		b.reindexLocked()
		b.mu.Unlock()
		b.announceConfig()
		return nil, 0, nil

	case "read_led_colors":
		b.mu.Lock()
		defer b.mu.Unlock()
		data, _ := json.Marshal(map[string]any{"colors": b.colors})
		return data, 0, nil

	case "set_data_send_mode":
		var payload struct {
			Mode string `json:"mode"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, http.StatusBadRequest, err
		}
		b.mu.Lock()
		b.mode = payload.Mode
		b.mu.Unlock()
		return nil, 0, nil

	case "move_strip_part":
		return b.moveStripPart(args)

	case "reverse_led_strip_part":
		var payload placementArgs
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, http.StatusBadRequest, err
		}
		b.mu.Lock()
		found := false
		for _, s := range b.strips {
			if s.DisplayID == payload.DisplayID && s.Border == payload.Border {
				key := stripKey(s)
				b.reversed[key] = !b.reversed[key]
				found = true
				break
			}
		}
		b.mu.Unlock()
		if !found {
			return nil, http.StatusNotFound, fmt.Errorf("no strip at %d:%s", payload.DisplayID, payload.Border)
		}
		b.announceConfig()
		return nil, 0, nil

	case "patch_led_strip_len":
		var payload struct {
			placementArgs
			DeltaLen int `json:"delta_len"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, http.StatusBadRequest, err
		}
		b.mu.Lock()
		found := false
		for i, s := range b.strips {
			if s.DisplayID == payload.DisplayID && s.Border == payload.Border {
				next := s.Len + payload.DeltaLen
				// Lengths stay in [0, 1000]; out-of-range deltas clamp.
				if next < 0 {
					next = 0
				}
				if next > 1000 {
					next = 1000
				}
				b.strips[i].Len = next
				found = true
				break
			}
		}
		b.mu.Unlock()
		if !found {
			return nil, http.StatusNotFound, fmt.Errorf("no strip at %d:%s", payload.DisplayID, payload.Border)
		}
		b.announceConfig()
		return nil, 0, nil

	case "patch_led_strip_type":
		var payload struct {
			placementArgs
			LedType ledwire.LedType `json:"led_type"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, http.StatusBadRequest, err
		}
		if payload.LedType != ledwire.TypeRGB && payload.LedType != ledwire.TypeRGBW {
			return nil, http.StatusBadRequest, fmt.Errorf("unknown led type %q", payload.LedType)
		}
		b.mu.Lock()
		found := false
		for i, s := range b.strips {
			if s.DisplayID == payload.DisplayID && s.Border == payload.Border {
				b.strips[i].LedType = payload.LedType
				found = true
				break
			}
		}
		b.mu.Unlock()
		if !found {
			return nil, http.StatusNotFound, fmt.Errorf("no strip at %d:%s", payload.DisplayID, payload.Border)
		}
		b.announceConfig()
		return nil, 0, nil

	default:
		return nil, http.StatusNotFound, fmt.Errorf("unknown command: %s", command)
	}
}

// moveStripPart reorders a strip so its cumulative LED offset matches
// the requested target. A stale current_start is rejected so two
// clients cannot apply moves computed against different orderings.
func (b *board) moveStripPart(args json.RawMessage) (json.RawMessage, int, error) {
	var payload struct {
		placementArgs
		CurrentStart int `json:"current_start"`
		TargetStart  int `json:"target_start"`
	}
	if err := json.Unmarshal(args, &payload); err != nil {
		return nil, http.StatusBadRequest, err
	}

	b.mu.Lock()
	from := -1
	offset := 0
	for i, s := range b.strips {
		if s.DisplayID == payload.DisplayID && s.Border == payload.Border {
			from = i
			break
		}
		offset += s.Len
	}
	if from == -1 {
		b.mu.Unlock()
		return nil, http.StatusNotFound, fmt.Errorf("no strip at %d:%s", payload.DisplayID, payload.Border)
	}
	if offset != payload.CurrentStart {
		b.mu.Unlock()
		return nil, http.StatusConflict, fmt.Errorf("stale move: strip starts at %d, not %d", offset, payload.CurrentStart)
	}

	moved := b.strips[from]
	rest := append(append([]stripConfig{}, b.strips[:from]...), b.strips[from+1:]...)

	// Insert at the boundary closest to the target, so a small drag
	// swaps at most the neighbors it actually crossed.
	insert := 0
	best := payload.TargetStart
	if best < 0 {
		best = -best
	}
	cumulative := 0
	for i, s := range rest {
		cumulative += s.Len
		dist := cumulative - payload.TargetStart
		if dist < 0 {
			dist = -dist
		}
		if dist < best {
			best = dist
			insert = i + 1
		}
	}

	b.strips = append(append(append([]stripConfig{}, rest[:insert]...), moved), rest[insert:]...)
	b.reindexLocked()
	b.mu.Unlock()

	b.announceConfig()
	return nil, 0, nil
}

func (b *board) reindexLocked() {
	for i := range b.strips {
		b.strips[i].Index = i
	}
}

func (b *board) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (b *board) infoHandler(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	ledCount := 0
	for _, s := range b.strips {
		ledCount += s.Len
	}
	payload, _ := json.Marshal(map[string]any{
		"name":        "simboard",
		"version":     "0.3.0",
		"strip_count": len(b.strips),
		"led_count":   ledCount,
		"mode":        b.mode,
	})
	b.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

func main() {
	addr := flag.String("addr", ":24680", "listen address")
	interval := flag.Duration("interval", 50*time.Millisecond, "animation tick interval")
	flag.Parse()

	b := newBoard()
	go b.animate(*interval)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/events", b.streamHandler)
	mux.HandleFunc("/api/v1/invoke/", b.invokeHandler)
	mux.HandleFunc("/api/v1/health", b.healthHandler)
	mux.HandleFunc("/api/v1/info", b.infoHandler)

	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	log.Printf("simboard listening on %s (GET /api/v1/events)", *addr)
	log.Fatal(srv.ListenAndServe())
}
