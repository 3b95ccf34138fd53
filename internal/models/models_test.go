package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestEntityStateSurvivesJSON(t *testing.T) {
	for _, st := range []State{StatePending, StateConfirmed, StateFailed, StateTombstoned} {
		in := Entity{ID: "c-1", Kind: KindComment, PostID: "p1", AuthorID: "u1", Text: "hi", State: st, CreatedAt: time.Unix(10, 0).UTC()}
		data, err := json.Marshal(in)
		assert.Equal(t, nil, err)

		var out Entity
		assert.Equal(t, nil, json.Unmarshal(data, &out))
		assert.Equal(t, st, out.State)
		assert.Equal(t, in.ID, out.ID)
	}
}

func TestUnknownStateIsRejected(t *testing.T) {
	var e Entity
	err := json.Unmarshal([]byte(`{"id":"c-1","state":"limbo"}`), &e)
	assert.NotEqual(t, nil, err)

	var s State
	assert.NotEqual(t, nil, s.UnmarshalText([]byte("")))
	assert.Equal(t, nil, s.UnmarshalText([]byte("failed")))
	assert.Equal(t, StateFailed, s)
}
