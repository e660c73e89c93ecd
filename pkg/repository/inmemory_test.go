package repository_test

import (
	"context"
	"testing"

	"github.com/illmade-knight/go-redelivery/pkg/repository"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type parcel struct {
	Address string `json:"address"`
	Weight  int    `json:"weight"`
}

func TestInMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewInMemoryRepository[parcel](zerolog.Nop())
	defer repo.Close()

	t.Run("Get missing key", func(t *testing.T) {
		_, err := repo.Get(ctx, "absent")
		require.ErrorIs(t, err, repository.ErrNotFound)
		var nf repository.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "absent", nf.Key)
	})

	t.Run("Save and overwrite", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, "b", parcel{Address: "2 Main St", Weight: 1}))
		require.NoError(t, repo.Save(ctx, "a", parcel{Address: "1 Main St", Weight: 3}))
		require.NoError(t, repo.Save(ctx, "b", parcel{Address: "2 Main St", Weight: 2}))

		got, err := repo.Get(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, 2, got.Weight)

		keys, err := repo.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, keys)

		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("Cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		require.ErrorIs(t, repo.Save(cctx, "c", parcel{}), context.Canceled)
		_, err := repo.Keys(cctx)
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Clear", func(t *testing.T) {
		repo.Clear()
		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
