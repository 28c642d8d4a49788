package infra

import "sync/atomic"

// waitQueue limita quantos chamadores esperam por um handle ao mesmo tempo.
//
// Semáforo baseado em channel com capacidade `max`; max <= 0 não limita.
type waitQueue struct {
	sem chan struct{}
	n   atomic.Int64
}

func newWaitQueue(max int) *waitQueue {
	q := &waitQueue{}
	if max > 0 {
		q.sem = make(chan struct{}, max)
	}
	return q
}

// TryEnter ocupa uma vaga sem bloquear. Ao adquirir, retorna uma função de
// saída que deve ser chamada exatamente uma vez.
func (q *waitQueue) TryEnter() (func(), bool) {
	if q.sem == nil {
		q.n.Add(1)
		return func() { q.n.Add(-1) }, true
	}
	select {
	case q.sem <- struct{}{}:
		q.n.Add(1)
		return func() {
			q.n.Add(-1)
			<-q.sem
		}, true
	default:
		return nil, false
	}
}

func (q *waitQueue) Len() int { return int(q.n.Load()) }
