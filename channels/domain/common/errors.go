package common

import "errors"

var (
	ErrInstanceNotFound     = errors.New("channel instance not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrDuplicateInstance    = errors.New("channel instance already exists")
)
