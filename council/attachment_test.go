package council

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachmentCache(t *testing.T) {
	var c AttachmentCache
	assert.Nil(t, c.Current())

	c.Set("a.pdf", "QQ==")
	c.Set("b.pdf", "Qg==")
	got := c.Current()
	require.NotNil(t, got)
	assert.Equal(t, "b.pdf", got.Filename)

	got.Filename = "changed.pdf"
	assert.Equal(t, "b.pdf", c.Current().Filename)

	c.Clear()
	assert.Nil(t, c.Current())
}

func TestAttachmentCacheClearSent(t *testing.T) {
	var c AttachmentCache
	assert.False(t, c.ClearSent(nil))

	c.Set("a.pdf", "QQ==")
	sent := c.Current()
	c.Set("b.pdf", "Qg==")
	assert.False(t, c.ClearSent(sent), "a newer attachment survives")
	assert.Equal(t, "b.pdf", c.Current().Filename)

	assert.True(t, c.ClearSent(c.Current()))
	assert.Nil(t, c.Current())
	assert.False(t, c.ClearSent(sent))
}

func TestAttachmentCacheConcurrent(t *testing.T) {
	var c AttachmentCache
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				c.SetAttachment(Attachment{Filename: "x.pdf", Payload: "eA==", Size: 1})
			} else {
				c.Clear()
			}
			_ = c.Current()
		}(i)
	}
	wg.Wait()
}
