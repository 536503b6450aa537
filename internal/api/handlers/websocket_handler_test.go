package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querylift/backend/internal/domain"
	"github.com/querylift/backend/internal/query"
)

func TestSearchEventsOrder(t *testing.T) {
	res := query.SearchResult{
		Processed: domain.ProcessedQuery{Metadata: domain.QueryMetadata{QueryID: "q-9"}},
		Candidates: []domain.Candidate{
			{ID: "a"}, {ID: "b"}, {ID: "c"},
		},
		Context: []domain.Candidate{{ID: "a"}, {ID: "b"}},
	}

	events := searchEvents(res)
	require.Len(t, events, 4)
	assert.Equal(t, "processed", events[0]["type"])
	assert.Equal(t, "candidate", events[1]["type"])
	assert.Equal(t, 0, events[1]["rank"])
	assert.Equal(t, "b", events[2]["candidate"].(domain.Candidate).ID)
	assert.Equal(t, "complete", events[3]["type"])
	assert.Equal(t, "q-9", events[3]["query_id"])
	assert.Equal(t, 3, events[3]["candidates"])
}

func TestSearchEventsEmptyContext(t *testing.T) {
	events := searchEvents(query.SearchResult{})
	require.Len(t, events, 2)
	assert.Equal(t, "complete", events[1]["type"])
}
