package main

import (
	"sync"
)

type Queue struct {
	clips []Clip
	hub   *Hub
	lock  sync.Mutex
}

func NewQueue(clips []Clip, hub *Hub) *Queue {
	return &Queue{
		clips: clips,
		hub:   hub,
	}
}

func (q *Queue) GetClips() []Clip {
	q.lock.Lock()
	defer q.lock.Unlock()

	clips := make([]Clip, len(q.clips))
	copy(clips, q.clips)
	return clips
}

func (q *Queue) Enqueue(item Clip) {
	q.lock.Lock()
	defer q.lock.Unlock()

	q.clips = append(q.clips, item)
	q.sendUpdate()
}

func (q *Queue) Dequeue() (Clip, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if len(q.clips) == 0 {
		return Clip{}, false
	}

	clip := q.clips[0]
	q.clips = q.clips[1:]
	q.sendUpdate()
	return clip, true
}

func (q *Queue) RemoveByID(id int64) (Clip, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	index := q.indexOf(id)
	if index == -1 {
		return Clip{}, false
	}

	clip := q.clips[index]
	q.clips = append(q.clips[:index], q.clips[index+1:]...)
	q.sendUpdate()
	return clip, true
}

func (q *Queue) indexOf(id int64) int {
	for i, item := range q.clips {
		if item.ID == id {
			return i
		}
	}

	return -1
}

func (q *Queue) sendUpdate() {
	if q.hub == nil {
		return
	}

	clips := make([]Clip, len(q.clips))
	copy(clips, q.clips)
	q.hub.BroadcastMessage(WsQueueUpdate{
		WsBaseMessage: WsBaseMessage{Type: "queue_update"},
		Clips:         clips,
	})
}
