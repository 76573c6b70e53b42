package utils

import "github.com/google/uuid"

// GenItemID returns a new server-side feed item id.
func GenItemID() string { return "item-" + uuid.NewString() }

// GenConversationID returns a new conversation id.
func GenConversationID() string { return "conv-" + uuid.NewString() }

// GenClientToken returns a fresh idempotency token for a locally-created
// item, matched against the authoritative copy once it round-trips.
func GenClientToken() string { return "tok-" + uuid.NewString() }
