package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// TestPayloadKey returns the cache key for a test's student-facing payload.
func (r *CacheKeyStruct) TestPayloadKey(testID string) string {
	return fmt.Sprintf("test:%s:payload", testID)
}

// TestAnswerKey returns the cache key for a test's answer key hash.
func (r *CacheKeyStruct) TestAnswerKey(testID string) string {
	return fmt.Sprintf("test:%s:key", testID)
}

// IdempotencyKey scopes a client-supplied idempotency token to one user and test.
func (r *CacheKeyStruct) IdempotencyKey(userID int, testID, token string) string {
	return fmt.Sprintf("user:%d:test:%s:idem:%s", userID, testID, token)
}

// SubmissionAutosaveKey returns the hash holding answers streamed over the
// WebSocket for a submission that has not been persisted yet.
func (r *CacheKeyStruct) SubmissionAutosaveKey(submissionID string) string {
	return fmt.Sprintf("submission:%s:autosave", submissionID)
}

var CacheKey = NewCacheKeyStruct()
