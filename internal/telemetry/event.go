package telemetry

import (
	"hash/fnv"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBufferThreshold   = 10
	DefaultMaxBufferedEvents = 1000
	DefaultFlushTimeout      = 3 * time.Second

	// Info strings longer than this are not worth a row; matches the cap
	// the operator tooling expects.
	infoValueMaxLen = 100
)

type MetricType string

const (
	MetricTypeLoss         MetricType = "loss"
	MetricTypeLearningRate MetricType = "learning_rate"
	MetricTypeSystem       MetricType = "system"
	MetricTypeInfo         MetricType = "info"
)

// Event is one scalar observation from a training step. Text carries the
// verbatim payload for info events; Value then holds a derived numeric
// surrogate so the main table stays uniformly REAL-valued.
type Event struct {
	ID        string
	JobID     string
	Step      int64
	Timestamp string
	Type      MetricType
	Name      string
	Value     float64
	Text      string
}

// eventID is deterministic per (job, step, type, name) so a re-reported
// tuple upserts over the previous row instead of duplicating it.
func eventID(jobID string, step int64, suffix string) string {
	return jobID + "_" + strconv.FormatInt(step, 10) + "_" + suffix
}

var keySanitizer = strings.NewReplacer("/", "_", " ", "_", "-", "_")

func safeKey(key string) string {
	return keySanitizer.Replace(key)
}

// infoSurrogate hashes an info string into [0, 1e6). FNV-1a keeps the value
// stable across processes, which the upsert key invariant requires.
func infoSurrogate(s string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return float64(h.Sum32() % 1_000_000)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, finite(n)
	case float32:
		return float64(n), finite(float64(n))
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// buildStepEvents converts one reporting call into events. Values that are
// not finite numbers (or, for extras, short strings) are skipped, never an
// error: a bad metric must not abort a training iteration. The returned
// skipped count covers every input that produced no event.
func buildStepEvents(jobID string, step int64, now time.Time, losses map[string]float64, lr float64, extras map[string]any) (events []Event, skipped int) {
	ts := now.Format("2006-01-02T15:04:05.000000")

	for _, key := range sortedKeys(losses) {
		value := losses[key]
		if !finite(value) {
			skipped++
			continue
		}
		events = append(events, Event{
			ID:        eventID(jobID, step, "loss_"+safeKey(key)),
			JobID:     jobID,
			Step:      step,
			Timestamp: ts,
			Type:      MetricTypeLoss,
			Name:      key,
			Value:     value,
		})
	}

	if finite(lr) {
		events = append(events, Event{
			ID:        eventID(jobID, step, "lr"),
			JobID:     jobID,
			Step:      step,
			Timestamp: ts,
			Type:      MetricTypeLearningRate,
			Name:      "lr",
			Value:     lr,
		})
	} else {
		skipped++
	}

	for _, key := range sortedKeys(extras) {
		value := extras[key]
		if value == nil {
			skipped++
			continue
		}
		if num, ok := asFloat(value); ok {
			events = append(events, Event{
				ID:        eventID(jobID, step, "system_"+safeKey(key)),
				JobID:     jobID,
				Step:      step,
				Timestamp: ts,
				Type:      MetricTypeSystem,
				Name:      key,
				Value:     num,
			})
			continue
		}
		if text, ok := value.(string); ok && len(text) > 0 && len(text) < infoValueMaxLen {
			events = append(events, Event{
				ID:        eventID(jobID, step, "info_"+safeKey(key)),
				JobID:     jobID,
				Step:      step,
				Timestamp: ts,
				Type:      MetricTypeInfo,
				Name:      key,
				Value:     infoSurrogate(text),
				Text:      text,
			})
			continue
		}
		skipped++
	}

	return events, skipped
}

// sortedKeys keeps event order deterministic within a reporting call.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
