package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSortMessages(t *testing.T) {
	t1 := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	msgs := []Message{
		{ID: 5, Timestamp: t2},
		{ID: 3, Timestamp: t1},
	}
	SortMessages(msgs)
	assert.Equal(t, int64(3), msgs[0].ID)
	assert.Equal(t, int64(5), msgs[1].ID)

	// Equal timestamps fall back to id ascending.
	msgs = []Message{
		{ID: 9, Timestamp: t1},
		{ID: 2, Timestamp: t1},
		{ID: 4, Timestamp: t1},
	}
	SortMessages(msgs)
	assert.Equal(t, []int64{2, 4, 9}, []int64{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestMessageBetween(t *testing.T) {
	m := Message{SenderID: 1, RecipientID: 2}
	assert.True(t, m.Between(1, 2))
	assert.True(t, m.Between(2, 1))
	assert.False(t, m.Between(1, 3))
	assert.False(t, m.Between(3, 2))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", FriendEdge{Name: "Ada", Lastname: "Lovelace"}.DisplayName())
	assert.Equal(t, "Ada", FriendEdge{Name: "Ada"}.DisplayName())
}
