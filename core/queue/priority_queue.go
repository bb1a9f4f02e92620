// priority_queue.go - Priority queue.
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package queue implements a priority queue.
package queue

import "container/heap"

// Entry is a PriorityQueue entry.
type Entry struct {
	Value    interface{}
	Priority uint64

	seq uint64
}

// PriorityQueue is a min-heap keyed on Priority.  Entries that share a
// Priority are dequeued in insertion order.
type PriorityQueue struct {
	heap    []*Entry
	nextSeq uint64
}

// Less implements sort.Interface Less method
func (q PriorityQueue) Less(i, j int) bool {
	if q.heap[i].Priority == q.heap[j].Priority {
		return q.heap[i].seq < q.heap[j].seq
	}
	return q.heap[i].Priority < q.heap[j].Priority
}

// Swap implements sort.Interface Swap method
func (q PriorityQueue) Swap(i, j int) {
	if i < 0 || j < 0 {
		return
	}
	q.heap[i], q.heap[j] = q.heap[j], q.heap[i]
}

// Push implements heap.Interface Push method
func (q *PriorityQueue) Push(x interface{}) {
	entry := x.(*Entry)
	q.heap = append(q.heap, entry)
}

// Pop implements heap.Interface Pop method.  Callers wanting the lowest
// priority entry MUST use Dequeue instead.
func (q *PriorityQueue) Pop() interface{} {
	if q.Len() <= 0 {
		return nil
	}
	n := len(q.heap)
	e := q.heap[n-1]
	q.heap[n-1] = nil
	q.heap = q.heap[:n-1]
	return e
}

// Peek returns the 0th entry (lowest priority) if any, leaving the
// PriorityQueue unaltered.  Callers MUST NOT alter the Priority of the
// returned entry.
func (q *PriorityQueue) Peek() *Entry {
	if q.Len() <= 0 {
		return nil
	}
	return q.heap[0]
}

// Dequeue removes and returns the lowest priority entry if any.
func (q *PriorityQueue) Dequeue() *Entry {
	if q.Len() <= 0 {
		return nil
	}
	return heap.Pop(q).(*Entry)
}

// DequeueIndex removes the specified entry from the queue.
func (q *PriorityQueue) DequeueIndex(index int) *Entry {
	if index < 0 || index >= q.Len() {
		return nil
	}
	return heap.Remove(q, index).(*Entry)
}

// Enqueue inserts the provided value, into the queue with the specified
// priority.
func (q *PriorityQueue) Enqueue(priority uint64, value interface{}) {
	ent := &Entry{
		Value:    value,
		Priority: priority,
		seq:      q.nextSeq,
	}
	q.nextSeq++
	heap.Push(q, ent)
}

// Len returns the current length of the priority queue.
func (q *PriorityQueue) Len() int {
	return len(q.heap)
}

// New creates a new PriorityQueue.
func New() *PriorityQueue {
	q := &PriorityQueue{
		heap: make([]*Entry, 0),
	}
	heap.Init(q)
	return q
}
