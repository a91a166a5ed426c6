package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionStartKey returns the cache key holding a session's start time (unix seconds)
func (r *CacheKeyStruct) SessionStartKey(sessionID string) string {
	return fmt.Sprintf("session:%s:started_at", sessionID)
}

// SessionProgressKey returns the cache key for a session's latest progress snapshot
func (r *CacheKeyStruct) SessionProgressKey(sessionID string) string {
	return fmt.Sprintf("session:%s:progress", sessionID)
}

// SessionQuestionsKey returns the cache key for a session's ordered questions
func (r *CacheKeyStruct) SessionQuestionsKey(sessionID string) string {
	return fmt.Sprintf("session:%s:questions", sessionID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
