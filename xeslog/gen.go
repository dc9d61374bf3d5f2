package xeslog

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-faker/faker/v4"
)

// GenTestLog produces a synthetic log of nTraces traces with 1..maxLen
// steps each, drawn from a vocabulary of nActivities fake activity names.
// Useful for demos and benchmarks when no real log is at hand.
func GenTestLog(nTraces, nActivities, maxLen int) *Log {
	vocab := make([]string, 0, nActivities)
	seen := make(map[string]bool, nActivities)
	for len(vocab) < nActivities {
		w := faker.Word()
		if seen[w] {
			w = fmt.Sprintf("%s_%d", w, len(vocab))
		}
		seen[w] = true
		vocab = append(vocab, w)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	log := &Log{Traces: make([]Trace, nTraces)}
	for i := range log.Traces {
		events := make([]Event, 1+rand.IntN(maxLen))
		for j := range events {
			events[j] = Event{
				Activity:  vocab[rand.IntN(len(vocab))],
				Timestamp: start.Add(time.Duration(i*maxLen+j) * time.Minute),
			}
		}
		log.Traces[i] = Trace{ID: fmt.Sprintf("case-%d", i+1), Events: events}
	}
	return log
}
