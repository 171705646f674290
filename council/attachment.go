package council

import "sync"

// Attachment is an uploaded file waiting to be sent with the next message.
type Attachment struct {
	Filename string
	// Payload is the base64 encoding returned by the upload endpoint.
	Payload string
	Size    int64
}

// AttachmentCache holds at most one pending attachment. Staging a new one
// replaces the previous one.
type AttachmentCache struct {
	mu      sync.Mutex
	pending *Attachment
}

func (c *AttachmentCache) Set(filename, payload string) {
	c.SetAttachment(Attachment{Filename: filename, Payload: payload})
}

func (c *AttachmentCache) SetAttachment(a Attachment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = &a
}

func (c *AttachmentCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
}

// ClearSent drops the pending attachment if it is still the one that was
// sent. An attachment staged after sent went out is kept.
func (c *AttachmentCache) ClearSent(sent *Attachment) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sent == nil || c.pending == nil || *c.pending != *sent {
		return false
	}
	c.pending = nil
	return true
}

// Current returns a copy of the pending attachment, or nil.
func (c *AttachmentCache) Current() *Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	a := *c.pending
	return &a
}
