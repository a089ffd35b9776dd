package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsight/agentsight-go/internal/model"
)

func TestGetOrCreateIsWriteOnce(t *testing.T) {
	r := NewRegistry(0)

	first, created := r.GetOrCreate("conv_a", model.ConversationPayload{
		CustomerID:  "cust-1",
		Environment: model.EnvProduction,
	})
	require.True(t, created)
	assert.Equal(t, "conv_a", first.Params.ConversationID)

	// Later params are silently ignored.
	second, created := r.GetOrCreate("conv_a", model.ConversationPayload{
		CustomerID:  "cust-OTHER",
		Environment: model.EnvDevelopment,
	})
	assert.False(t, created)
	assert.Same(t, first, second)
	assert.Equal(t, "cust-1", second.Params.CustomerID)
	assert.Equal(t, model.EnvProduction, second.Params.Environment)
}

func TestConversationsDoNotShareBuffers(t *testing.T) {
	r := NewRegistry(0)
	a, _ := r.GetOrCreate("conv_a", model.ConversationPayload{})
	b, _ := r.GetOrCreate("conv_b", model.ConversationPayload{})

	_, err := a.Buffer.Append(model.ItemQuestion, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, a.Buffer.Len())
	assert.Equal(t, 0, b.Buffer.Len())
	assert.Equal(t, 1, r.BufferedItems())
}

func TestActivePointer(t *testing.T) {
	r := NewRegistry(0)
	assert.Equal(t, "", r.Active())

	r.SetActive("conv_a")
	assert.Equal(t, "conv_a", r.Active())

	r.SetActive("conv_b")
	assert.Equal(t, "conv_b", r.Active())
}

func TestListSortsAllByID(t *testing.T) {
	r := NewRegistry(0)
	r.GetOrCreate("conv_c", model.ConversationPayload{})
	r.GetOrCreate("conv_a", model.ConversationPayload{})
	r.GetOrCreate("conv_b", model.ConversationPayload{})

	all := r.List()
	require.Len(t, all, 3)
	assert.Equal(t, "conv_a", all[0].ID)
	assert.Equal(t, "conv_b", all[1].ID)
	assert.Equal(t, "conv_c", all[2].ID)

	some := r.List("conv_b", "missing", "conv_a")
	require.Len(t, some, 2)
	assert.Equal(t, "conv_b", some[0].ID)
	assert.Equal(t, "conv_a", some[1].ID)
}
