package streamapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/r3e-network/reactive-streams/internal/resource"
)

// sseEnvelope mirrors the event shapes from spec §4.7: init is an array of
// [key, value] pairs; update is an array of [key, [new_value]-or-[]] pairs
// where an empty inner array denotes deletion; close is {"reason": ...}.
func sseEnvelope(ev resource.Event) (any, error) {
	switch ev.Type {
	case resource.EventInit:
		pairs := make([][2]any, len(ev.Init))
		for i, kv := range ev.Init {
			pairs[i] = [2]any{kv.Key, kv.Value}
		}
		return pairs, nil
	case resource.EventUpdate:
		pairs := make([]any, len(ev.Update))
		for i, c := range ev.Update {
			if c.Deleted {
				pairs[i] = [2]any{c.Key, []any{}}
			} else {
				pairs[i] = [2]any{c.Key, []any{c.Value}}
			}
		}
		return pairs, nil
	case resource.EventClose:
		return map[string]string{"reason": ev.Reason}, nil
	default:
		return nil, fmt.Errorf("streamapi: unknown event type %q", ev.Type)
	}
}

// writeSSEFrame serializes one event as zero or more `id:`/`event:` lines,
// one or more `data:` lines (multi-line payloads split on \n), terminated
// by a blank line (spec §6 "SSE framing").
func writeSSEFrame(w http.ResponseWriter, seq int64, ev resource.Event) error {
	payload, err := sseEnvelope(ev)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("id: ")
	b.WriteString(strconv.FormatInt(seq, 10))
	b.WriteByte('\n')
	b.WriteString("event: ")
	b.WriteString(string(ev.Type))
	b.WriteByte('\n')
	for _, line := range strings.Split(string(encoded), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	_, err = w.Write([]byte(b.String()))
	return err
}

// streamSSE drains sub's queue to w as a long-lived text/event-stream
// response until the client disconnects, the subscriber is evicted, or the
// queue delivers a close event (spec §4.8 "open stream").
func streamSSE(ctx context.Context, w http.ResponseWriter, sub *resource.Subscriber) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, canFlush := w.(http.Flusher)
	w.WriteHeader(http.StatusOK)
	if canFlush {
		flusher.Flush()
	}

	var seq int64
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			seq++
			if err := writeSSEFrame(w, seq, ev); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
			if ev.Type == resource.EventClose {
				return
			}
			if sub.Evicted() && len(sub.Events()) == 0 {
				return
			}
		}
	}
}
