package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionMetaKey holds a running session's mode, start instant and cursor.
func (r *CacheKeyStruct) SessionMetaKey(examID string, userID int) string {
	return fmt.Sprintf("user:%d:exam:%s:session", userID, examID)
}

// SessionAnswersKey holds a running session's answers as a question_id -> label hash.
func (r *CacheKeyStruct) SessionAnswersKey(examID string, userID int) string {
	return fmt.Sprintf("user:%d:exam:%s:answers", userID, examID)
}

// UserActiveSessionKey points at the session id a user is currently running.
func (r *CacheKeyStruct) UserActiveSessionKey(userID int) string {
	return fmt.Sprintf("user:%d:active_session", userID)
}

var CacheKey = NewCacheKeyStruct()
