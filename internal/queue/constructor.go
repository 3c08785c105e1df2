package queue

import (
	"strings"

	"github.com/maheshrc27/crosspost/internal/service"
)

// Class names a kind of due item. It is also the asynq task type and, with
// colons swapped for dots, the kafka topic.
type Class string

const (
	ClassPost       Class = "post:publish"
	ClassCredential Class = "credential:refresh"
)

const (
	TaskTypeRefreshBatch = "credential:refresh:batch"

	QueuePosts       = "posts"
	QueueCredentials = "credentials"

	refreshGroup = "refresh"
	topicPrefix  = "crosspost."
)

func (c Class) Valid() bool {
	return c == ClassPost || c == ClassCredential
}

func (c Class) queue() string {
	if c == ClassCredential {
		return QueueCredentials
	}
	return QueuePosts
}

func (c Class) Topic() string {
	return topicPrefix + strings.ReplaceAll(string(c), ":", ".")
}

func classOfTopic(topic string) (Class, bool) {
	for _, c := range []Class{ClassPost, ClassCredential} {
		if c.Topic() == topic {
			return c, true
		}
	}
	return "", false
}

// Queue holds the services that consume dispatched ids, whichever backend
// delivers them.
type Queue struct {
	publish service.PublishService
	refresh service.RefreshService
}

func NewQueue(publish service.PublishService, refresh service.RefreshService) *Queue {
	return &Queue{
		publish: publish,
		refresh: refresh,
	}
}
