package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/park285/deck-orchestrator-go/internal/deck"
	"github.com/park285/deck-orchestrator-go/internal/llm"
)

// QueuedItem 은 큐가 소유하는 요청 1건이다. 결과는 done 으로 정확히 한 번 전달된다.
type QueuedItem struct {
	ID         string
	Request    llm.Request
	Key        string
	EnqueuedAt time.Time
	Retries    int

	done chan outcome
	once sync.Once
}

type outcome struct {
	doc deck.Document
	err error
}

func newItem(req llm.Request, key string, now time.Time) *QueuedItem {
	return &QueuedItem{
		ID:         uuid.NewString(),
		Request:    req,
		Key:        key,
		EnqueuedAt: now,
		done:       make(chan outcome, 1),
	}
}

// resolve 는 결과를 전달한다. 두 번째 호출부터는 무시하고 false 를 반환한다.
func (i *QueuedItem) resolve(doc deck.Document, err error) bool {
	resolved := false
	i.once.Do(func() {
		i.done <- outcome{doc: doc, err: err}
		resolved = true
	})
	return resolved
}
